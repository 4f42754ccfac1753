// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package orchestrator_api exposes the REST and websocket surface: call
// placement, scheduling, stats and the telephony provider callbacks.
package orchestrator_api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/rapidaai/orchestrator/pkg/commons"
)

// envelope is the uniform JSON response shape.
type envelope struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *apiError   `json:"error,omitempty"`
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Success writes a 200 envelope.
func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, envelope{Success: true, Data: data})
}

// Created writes a 201 envelope.
func Created(c *gin.Context, data interface{}) {
	c.JSON(http.StatusCreated, envelope{Success: true, Data: data})
}

// Error maps a kinded error onto its HTTP status.
func Error(c *gin.Context, err error) {
	c.JSON(commons.HTTPStatus(err), envelope{
		Success: false,
		Error: &apiError{
			Code:    string(commons.KindOf(err)),
			Message: err.Error(),
		},
	})
}

// userID resolves the calling user from the X-User-Id header.
func userID(c *gin.Context) (uint64, error) {
	raw := c.GetHeader("X-User-Id")
	if raw == "" {
		return 0, commons.NewError(commons.KindValidation, "missing X-User-Id header")
	}
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || id == 0 {
		return 0, commons.NewErrorf(commons.KindValidation, "invalid X-User-Id %q", raw)
	}
	return id, nil
}
