// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package internal_scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	internal_schedule "github.com/rapidaai/orchestrator/api/orchestrator-api/internal/schedule"
)

// ===== retry ladders =====

func TestRetryDelay_NoAnswerLadder(t *testing.T) {
	expected := []time.Duration{5 * time.Minute, 15 * time.Minute, 30 * time.Minute}
	for i, want := range expected {
		got, ok := RetryDelay(internal_schedule.FailureNoAnswer, i+1)
		assert.True(t, ok)
		assert.Equal(t, want, got)
	}

	_, ok := RetryDelay(internal_schedule.FailureNoAnswer, 4)
	assert.False(t, ok)
}

func TestRetryDelay_BusyMatchesNoAnswer(t *testing.T) {
	for n := 1; n <= 3; n++ {
		busy, okB := RetryDelay(internal_schedule.FailureBusy, n)
		noAnswer, okN := RetryDelay(internal_schedule.FailureNoAnswer, n)
		assert.True(t, okB)
		assert.True(t, okN)
		assert.Equal(t, noAnswer, busy)
	}
}

func TestRetryDelay_VoicemailRetriesLikeNoAnswer(t *testing.T) {
	for n := 1; n <= 3; n++ {
		vm, okV := RetryDelay(internal_schedule.FailureVoicemail, n)
		noAnswer, okN := RetryDelay(internal_schedule.FailureNoAnswer, n)
		assert.True(t, okV)
		assert.True(t, okN)
		assert.Equal(t, noAnswer, vm)
	}
	assert.Equal(t, 3, MaxRetries(internal_schedule.FailureVoicemail))

	_, ok := RetryDelay(internal_schedule.FailureVoicemail, 4)
	assert.False(t, ok)
}

func TestRetryDelay_NetworkErrorDoubles(t *testing.T) {
	expected := []time.Duration{
		1 * time.Minute, 2 * time.Minute, 4 * time.Minute,
		8 * time.Minute, 16 * time.Minute,
	}
	for i, want := range expected {
		got, ok := RetryDelay(internal_schedule.FailureNetworkError, i+1)
		assert.True(t, ok)
		assert.Equal(t, want, got)
	}

	_, ok := RetryDelay(internal_schedule.FailureNetworkError, 6)
	assert.False(t, ok)
}

func TestRetryDelay_PermanentClassesNeverRetry(t *testing.T) {
	for _, class := range []string{
		internal_schedule.FailureInvalidNumber,
		internal_schedule.FailureUpstreamFatal,
		"unknown_class",
	} {
		_, ok := RetryDelay(class, 1)
		assert.False(t, ok, "class %s", class)
		assert.Zero(t, MaxRetries(class))
	}
}

func TestRetryDelay_RejectsNonPositiveAttempt(t *testing.T) {
	_, ok := RetryDelay(internal_schedule.FailureBusy, 0)
	assert.False(t, ok)
	_, ok = RetryDelay(internal_schedule.FailureBusy, -1)
	assert.False(t, ok)
}
