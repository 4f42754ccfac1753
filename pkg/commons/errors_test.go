// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package commons

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	err := NewError(KindResourceExhausted, "pool full")
	assert.Equal(t, KindResourceExhausted, KindOf(err))

	wrapped := fmt.Errorf("acquire: %w", err)
	assert.Equal(t, KindResourceExhausted, KindOf(wrapped), "kind should survive %%w wrapping")

	assert.Equal(t, KindInternal, KindOf(errors.New("plain")), "unkinded errors are internal")
	assert.Equal(t, Kind(""), KindOf(nil))
}

func TestWrapError_PreservesCause(t *testing.T) {
	cause := errors.New("socket reset")
	err := WrapError(KindUpstreamTransient, "stt stream failed", cause)

	assert.True(t, errors.Is(err, cause))
	assert.Equal(t, KindUpstreamTransient, KindOf(err))
	assert.Contains(t, err.Error(), "socket reset")
}

func TestRetryable(t *testing.T) {
	assert.True(t, Retryable(NewError(KindUpstreamTransient, "timeout")))
	assert.False(t, Retryable(NewError(KindUpstreamFatal, "bad credentials")))
	assert.False(t, Retryable(NewError(KindValidation, "bad phone")))
	assert.False(t, Retryable(nil))
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		kind     Kind
		expected int
	}{
		{KindValidation, http.StatusBadRequest},
		{KindNotFound, http.StatusNotFound},
		{KindConflict, http.StatusConflict},
		{KindResourceExhausted, http.StatusTooManyRequests},
		{KindAcquireTimeout, http.StatusServiceUnavailable},
		{KindUpstreamTransient, http.StatusBadGateway},
		{KindPolicyRejected, http.StatusForbidden},
		{KindShuttingDown, http.StatusServiceUnavailable},
		{KindInternal, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			assert.Equal(t, tt.expected, HTTPStatus(NewError(tt.kind, "x")))
		})
	}
}
