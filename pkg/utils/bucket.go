// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package utils

import "hash/fnv"

// RolloutBucket maps an identifier deterministically into [0, 100). The same
// id always lands in the same bucket, so staged rollouts are stable across
// process restarts.
func RolloutBucket(id string) int {
	h := fnv.New32a()
	h.Write([]byte(id))
	return int(h.Sum32() % 100)
}

// InRollout reports whether id is inside a percentage-based rollout gate.
// percentage is clamped to [0, 100].
func InRollout(id string, percentage int) bool {
	if percentage >= 100 {
		return true
	}
	if percentage <= 0 {
		return false
	}
	return RolloutBucket(id) < percentage
}
