// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package utils

import "testing"

func TestRolloutBucket_Deterministic(t *testing.T) {
	first := RolloutBucket("user-42")
	for i := 0; i < 10; i++ {
		if got := RolloutBucket("user-42"); got != first {
			t.Fatalf("bucket changed between calls: %d != %d", got, first)
		}
	}
	if first < 0 || first >= 100 {
		t.Fatalf("bucket out of range: %d", first)
	}
}

func TestInRollout_Bounds(t *testing.T) {
	if !InRollout("anyone", 100) {
		t.Error("100%% rollout must include everyone")
	}
	if InRollout("anyone", 0) {
		t.Error("0%% rollout must exclude everyone")
	}
	if !InRollout("anyone", 150) {
		t.Error("over-100 percentages clamp to full rollout")
	}
	if InRollout("anyone", -5) {
		t.Error("negative percentages clamp to no rollout")
	}
}

func TestInRollout_ConsistentMembership(t *testing.T) {
	id := "user-7"
	member := InRollout(id, 50)
	for i := 0; i < 10; i++ {
		if InRollout(id, 50) != member {
			t.Fatal("membership flapped for the same id and percentage")
		}
	}
}
