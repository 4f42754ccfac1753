// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package orchestrator_api

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	internal_agent "github.com/rapidaai/orchestrator/api/orchestrator-api/internal/agent"
	internal_call "github.com/rapidaai/orchestrator/api/orchestrator-api/internal/call"
	internal_phone "github.com/rapidaai/orchestrator/api/orchestrator-api/internal/phone"
	internal_schedule "github.com/rapidaai/orchestrator/api/orchestrator-api/internal/schedule"
	internal_scheduler "github.com/rapidaai/orchestrator/api/orchestrator-api/internal/scheduler"
	internal_session "github.com/rapidaai/orchestrator/api/orchestrator-api/internal/session"
	internal_twilio "github.com/rapidaai/orchestrator/api/orchestrator-api/internal/telephony/twilio"
	"github.com/rapidaai/orchestrator/config"
	"github.com/rapidaai/orchestrator/pkg/commons"
)

var mediaUpgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// SessionFactory builds a ready-to-run session for an accepted media
// websocket. Wired in main with the provider factories.
type SessionFactory func(ctx context.Context, callID string,
	agent *internal_agent.Agent, conn internal_session.MediaConn) *internal_session.Session

type TelephonyApi struct {
	cfg        *config.AppConfig
	logger     commons.Logger
	calls      internal_call.Store
	phones     internal_phone.Store
	agents     internal_agent.Store
	scheduler  *internal_scheduler.Scheduler
	newSession SessionFactory
}

func NewTelephonyApi(cfg *config.AppConfig, logger commons.Logger,
	calls internal_call.Store, phones internal_phone.Store,
	agents internal_agent.Store, scheduler *internal_scheduler.Scheduler,
	newSession SessionFactory) *TelephonyApi {
	return &TelephonyApi{
		cfg:        cfg,
		logger:     logger,
		calls:      calls,
		phones:     phones,
		agents:     agents,
		scheduler:  scheduler,
		newSession: newSession,
	}
}

// Answer returns the TwiML that connects the answered call to the media
// websocket. Outbound calls arrive with their callId in the query;
// provider-initiated inbound calls carry no callId and get a fresh Call
// record keyed by the dialed number.
//
// @Router /v1/telephony/answer [post]
func (api *TelephonyApi) Answer(c *gin.Context) {
	callID := c.Query("callId")
	if callID == "" {
		api.answerInbound(c)
		return
	}
	if _, err := api.calls.Get(c.Request.Context(), callID); err != nil {
		Error(c, err)
		return
	}
	api.respondTwiML(c, callID)
}

// answerInbound admits a call the provider initiated toward one of our
// numbers: the dialed number selects the agent, and a new inbound Call row
// backs the media session.
func (api *TelephonyApi) answerInbound(c *gin.Context) {
	callSid := c.PostForm("CallSid")
	from := c.PostForm("From")
	to := c.PostForm("To")
	if callSid == "" || to == "" {
		Error(c, commons.NewError(commons.KindValidation, "missing CallSid or To"))
		return
	}

	ctx := c.Request.Context()
	phone, err := api.phones.GetByNumber(ctx, to)
	if err != nil {
		api.logger.Warnw("inbound call to unprovisioned number", "to", to, "callSid", callSid)
		Error(c, err)
		return
	}
	if phone.AgentID == 0 {
		Error(c, commons.NewErrorf(commons.KindNotFound, "no agent answers %s", to))
		return
	}
	agent, err := api.agents.GetForUser(ctx, phone.AgentID, phone.UserId)
	if err != nil {
		Error(c, err)
		return
	}
	snapshot, err := agent.Snapshot()
	if err != nil {
		Error(c, commons.WrapError(commons.KindInternal, "agent snapshot failed", err))
		return
	}

	call := &internal_call.Call{
		UserId:          phone.UserId,
		Direction:       internal_call.DirectionInbound,
		FromNumber:      from,
		ToNumber:        to,
		AgentID:         agent.Id,
		ProviderCallSid: callSid,
		Status:          internal_call.StatusRinging,
		AgentSnapshot:   snapshot,
	}
	callID, err := api.calls.Save(ctx, call)
	if err != nil {
		Error(c, err)
		return
	}

	api.logger.Infow("inbound call accepted",
		"callId", callID, "callSid", callSid, "from", from, "to", to, "agentId", agent.Id)
	api.respondTwiML(c, callID)
}

func (api *TelephonyApi) respondTwiML(c *gin.Context, callID string) {
	base := strings.Replace(api.cfg.PublicBaseURL, "https://", "wss://", 1)
	base = strings.Replace(base, "http://", "ws://", 1)
	mediaURL := base + "/v1/telephony/media/" + callID

	c.Header("Content-Type", "text/xml")
	c.String(http.StatusOK, internal_twilio.AnswerTwiML(mediaURL, callID))
}

// Status receives provider call-status callbacks. The body is
// authenticated with an HMAC signature; a mismatch is a 401. Callbacks can
// arrive after the media stream ended, and terminal statuses feed the
// retry engine.
//
// @Router /v1/telephony/status [post]
func (api *TelephonyApi) Status(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		Error(c, commons.WrapError(commons.KindValidation, "unreadable body", err))
		return
	}

	signature := c.GetHeader("X-Webhook-Signature")
	if err := internal_twilio.VerifySignature(api.cfg.Secret, body, signature); err != nil {
		api.logger.Warnw("rejected status webhook with bad signature", "remote", c.ClientIP())
		c.JSON(http.StatusUnauthorized, envelope{
			Success: false,
			Error:   &apiError{Code: "unauthorized", Message: "invalid webhook signature"},
		})
		return
	}

	form, err := url.ParseQuery(string(body))
	if err != nil {
		Error(c, commons.WrapError(commons.KindValidation, "invalid form body", err))
		return
	}

	callSid := form.Get("CallSid")
	callStatus := form.Get("CallStatus")
	errorCode := form.Get("ErrorCode")
	answeredBy := form.Get("AnsweredBy")
	if callSid == "" || callStatus == "" {
		Error(c, commons.NewError(commons.KindValidation, "missing CallSid or CallStatus"))
		return
	}

	call, err := api.calls.GetByProviderSid(c.Request.Context(), callSid)
	if err != nil {
		// Unknown sid: acknowledge so the provider stops retrying.
		api.logger.Warnw("status webhook for unknown call", "callSid", callSid, "status", callStatus)
		Success(c, gin.H{"handled": false})
		return
	}

	api.applyStatus(c.Request.Context(), call, callStatus, errorCode, answeredBy)
	Success(c, gin.H{"handled": true})
}

// applyStatus maps a provider status onto the call row and, for terminal
// failures of outbound calls, schedules ladder retries.
func (api *TelephonyApi) applyStatus(ctx context.Context, call *internal_call.Call, callStatus, errorCode, answeredBy string) {
	switch callStatus {
	case "ringing":
		if err := api.calls.Transition(ctx, call.CallID,
			[]string{internal_call.StatusQueued, internal_call.StatusInitiated},
			internal_call.StatusRinging); err != nil && !commons.IsKind(err, commons.KindConflict) {
			api.logger.Warnw("ringing transition failed", "callId", call.CallID, "error", err)
		}
	case "in-progress", "answered":
		// The media stream start frame owns the in_progress transition.
	case "completed":
		// Provider answering-machine detection: a machine or fax pickup
		// counts as voicemail and goes through the retry ladder.
		if strings.HasPrefix(answeredBy, "machine") || answeredBy == "fax" {
			api.finishWithRetry(ctx, call, internal_call.StatusVoicemail, internal_schedule.FailureVoicemail)
			return
		}
		if err := api.calls.Finish(ctx, call.CallID, internal_call.StatusCompleted, ""); err != nil {
			api.logger.Warnw("completed finish failed", "callId", call.CallID, "error", err)
		}
	case "busy":
		api.finishWithRetry(ctx, call, internal_call.StatusBusy, internal_schedule.FailureBusy)
	case "no-answer":
		api.finishWithRetry(ctx, call, internal_call.StatusNoAnswer, internal_schedule.FailureNoAnswer)
	case "failed":
		class := internal_schedule.FailureNetworkError
		// Provider codes for unroutable or malformed numbers never retry.
		switch errorCode {
		case "13224", "21211", "21217":
			class = internal_schedule.FailureInvalidNumber
		}
		api.finishWithRetry(ctx, call, internal_call.StatusFailed, class)
	case "canceled":
		if err := api.calls.Finish(ctx, call.CallID, internal_call.StatusCanceled, ""); err != nil {
			api.logger.Warnw("canceled finish failed", "callId", call.CallID, "error", err)
		}
	default:
		api.logger.Debugw("ignoring provider status", "callId", call.CallID, "status", callStatus)
	}
}

func (api *TelephonyApi) finishWithRetry(ctx context.Context, call *internal_call.Call, status, failureClass string) {
	if err := api.calls.Finish(ctx, call.CallID, status, failureClass); err != nil {
		api.logger.Warnw("terminal finish failed", "callId", call.CallID, "error", err)
	}
	if call.Direction != internal_call.DirectionOutbound || api.scheduler == nil {
		return
	}
	if err := api.scheduler.HandleCallOutcome(ctx, call, failureClass); err != nil {
		api.logger.Warnw("failed to process call outcome",
			"callId", call.CallID, "class", failureClass, "error", err)
	}
}

// Media upgrades to the provider media websocket and runs the voice
// session to completion.
//
// @Router /v1/telephony/media/:callId [get]
func (api *TelephonyApi) Media(c *gin.Context) {
	callID := c.Param("callId")
	call, err := api.calls.Get(c.Request.Context(), callID)
	if err != nil {
		Error(c, err)
		return
	}
	if call.IsTerminal() {
		Error(c, commons.NewErrorf(commons.KindConflict, "call %s already %s", callID, call.Status))
		return
	}

	agent, err := internal_agent.FromSnapshot(call.AgentSnapshot)
	if err != nil {
		Error(c, commons.WrapError(commons.KindInternal, "corrupt agent snapshot", err))
		return
	}

	conn, err := mediaUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		api.logger.Errorw("media websocket upgrade failed", "callId", callID, "error", err)
		return
	}

	session := api.newSession(c.Request.Context(), callID, agent, conn)
	if err := session.Run(); err != nil {
		api.logger.Warnw("session ended with error", "callId", callID, "error", err)
	}
}
