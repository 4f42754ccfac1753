// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package utils

import "testing"

func TestIsE164(t *testing.T) {
	tests := []struct {
		input    string
		expected bool
	}{
		{"+14155550100", true},
		{"+919876543210", true},
		{"+6596522466", true},
		{"+1", false},           // too short
		{"14155550100", false},  // missing plus
		{"+04155550100", false}, // leading zero country code
		{"+1415555010012345", false}, // too long
		{"+1 415 555 0100", false},
		{"", false},
		{"agent", false},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			result := IsE164(tt.input)
			if result != tt.expected {
				t.Errorf("expected %t, got %t", tt.expected, result)
			}
		})
	}
}
