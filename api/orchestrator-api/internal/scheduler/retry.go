// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package internal_scheduler

import (
	"time"

	internal_schedule "github.com/rapidaai/orchestrator/api/orchestrator-api/internal/schedule"
)

// retryLadders maps a failure class to its re-dial delays. The ladder
// length is the attempt budget; classes absent from the map never retry.
var retryLadders = map[string][]time.Duration{
	internal_schedule.FailureNoAnswer: {
		5 * time.Minute, 15 * time.Minute, 30 * time.Minute,
	},
	internal_schedule.FailureBusy: {
		5 * time.Minute, 15 * time.Minute, 30 * time.Minute,
	},
	// A machine pickup is retried like an unanswered call; the next
	// attempt may reach the human.
	internal_schedule.FailureVoicemail: {
		5 * time.Minute, 15 * time.Minute, 30 * time.Minute,
	},
	internal_schedule.FailureNetworkError: {
		1 * time.Minute, 2 * time.Minute, 4 * time.Minute,
		8 * time.Minute, 16 * time.Minute,
	},
}

// RetryDelay returns the delay before retry attempt n (1-based) for a
// failure class. ok is false when the class never retries or the budget is
// exhausted.
func RetryDelay(failureClass string, attempt int) (time.Duration, bool) {
	ladder, ok := retryLadders[failureClass]
	if !ok || attempt < 1 || attempt > len(ladder) {
		return 0, false
	}
	return ladder[attempt-1], true
}

// MaxRetries returns the attempt budget for a failure class.
func MaxRetries(failureClass string) int {
	return len(retryLadders[failureClass])
}
