// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package orchestrator_api

import (
	"github.com/gin-gonic/gin"

	internal_call "github.com/rapidaai/orchestrator/api/orchestrator-api/internal/call"
	internal_outbound "github.com/rapidaai/orchestrator/api/orchestrator-api/internal/outbound"
	"github.com/rapidaai/orchestrator/config"
	"github.com/rapidaai/orchestrator/pkg/commons"
)

type CallApi struct {
	cfg      *config.AppConfig
	logger   commons.Logger
	calls    internal_call.Store
	outbound *internal_outbound.Controller
}

func NewCallApi(cfg *config.AppConfig, logger commons.Logger,
	calls internal_call.Store, outbound *internal_outbound.Controller) *CallApi {
	return &CallApi{cfg: cfg, logger: logger, calls: calls, outbound: outbound}
}

type createCallRequest struct {
	AgentID       uint64 `json:"agentId" binding:"required"`
	FromNumber    string `json:"fromNumber" binding:"required"`
	ToNumber      string `json:"toNumber" binding:"required"`
	CorrelationID string `json:"correlationId"`
}

// CreateOutboundCall places an outbound call immediately.
//
// @Router /v1/calls/outbound [post]
func (api *CallApi) CreateOutboundCall(c *gin.Context) {
	uid, err := userID(c)
	if err != nil {
		Error(c, err)
		return
	}

	var req createCallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, commons.WrapError(commons.KindValidation, "invalid request body", err))
		return
	}

	call, err := api.outbound.Dial(c.Request.Context(), internal_outbound.Request{
		UserId:        uid,
		AgentID:       req.AgentID,
		FromNumber:    req.FromNumber,
		ToNumber:      req.ToNumber,
		CorrelationID: req.CorrelationID,
	})
	if err != nil {
		Error(c, err)
		return
	}
	Created(c, call)
}

// GetCall returns a call with its transcript.
//
// @Router /v1/calls/:callId [get]
func (api *CallApi) GetCall(c *gin.Context) {
	uid, err := userID(c)
	if err != nil {
		Error(c, err)
		return
	}

	call, err := api.calls.Get(c.Request.Context(), c.Param("callId"))
	if err != nil {
		Error(c, err)
		return
	}
	if call.UserId != uid {
		Error(c, commons.NewErrorf(commons.KindNotFound, "call %s not found", c.Param("callId")))
		return
	}
	Success(c, call)
}

// CancelCall stops an in-flight call.
//
// @Router /v1/calls/:callId/cancel [post]
func (api *CallApi) CancelCall(c *gin.Context) {
	uid, err := userID(c)
	if err != nil {
		Error(c, err)
		return
	}

	callID := c.Param("callId")
	call, err := api.calls.Get(c.Request.Context(), callID)
	if err != nil {
		Error(c, err)
		return
	}
	if call.UserId != uid {
		Error(c, commons.NewErrorf(commons.KindNotFound, "call %s not found", callID))
		return
	}

	if err := api.outbound.Cancel(c.Request.Context(), callID); err != nil {
		Error(c, err)
		return
	}
	Success(c, gin.H{"callId": callID, "status": internal_call.StatusCanceled})
}
