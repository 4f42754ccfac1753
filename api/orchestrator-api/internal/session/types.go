// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package internal_session

import (
	"strings"
	"time"
)

// State is the voice session lifecycle position. Transitions are owned by
// the session's run loop; other goroutines only push events.
type State string

const (
	StateConnecting State = "connecting"
	StateGreeting   State = "greeting"
	StateIdle       State = "idle"
	StateListening  State = "listening"
	StateThinking   State = "thinking"
	StateSpeaking   State = "speaking"
	StateEnding     State = "ending"
	StateEnded      State = "ended"
)

// Config carries the session-level tunables, resolved once at startup.
type Config struct {
	SilenceThreshold     time.Duration // streaming STT fallback
	BatchSilence         time.Duration // batch STT fallback
	LlmFirstTokenTimeout time.Duration
	LlmMidStreamTimeout  time.Duration
	TtsSentenceTimeout   time.Duration
	GraceWindow          time.Duration
	HoldingAudioAfter    time.Duration
}

// DefaultConfig mirrors the process-wide defaults.
func DefaultConfig() Config {
	return Config{
		SilenceThreshold:     150 * time.Millisecond,
		BatchSilence:         1500 * time.Millisecond,
		LlmFirstTokenTimeout: 4 * time.Second,
		LlmMidStreamTimeout:  2 * time.Second,
		TtsSentenceTimeout:   10 * time.Second,
		GraceWindow:          30 * time.Second,
		HoldingAudioAfter:    2 * time.Second,
	}
}

// builtinFarewell is spoken when an end-call phrase matches and the agent
// has no configured farewell.
const builtinFarewell = "Thank you. Goodbye."

// apologyPhrase is spoken when STT reconnection fails inside a call.
const apologyPhrase = "I'm sorry, I'm having trouble hearing you. Please call back."

// fallbackPhrase is the short retry text for a failed first TTS request.
const fallbackPhrase = "Sorry, I didn't catch that."

// holdingPhrase covers model latency past the comfort threshold so the
// caller does not hear dead air.
const holdingPhrase = "One moment."

// ContainsEndPhrase reports whether a final transcript matches any
// configured end-call phrase. Matching is case-insensitive, ignores
// punctuation and matches on word boundaries, so "Okay, goodbye." matches
// the phrase "goodbye".
func ContainsEndPhrase(transcript string, phrases []string) bool {
	words := normalizeWords(transcript)
	if len(words) == 0 {
		return false
	}
	for _, phrase := range phrases {
		pw := normalizeWords(phrase)
		if len(pw) == 0 {
			continue
		}
		if containsSequence(words, pw) {
			return true
		}
	}
	return false
}

func normalizeWords(s string) []string {
	fields := strings.Fields(strings.ToLower(s))
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.Trim(f, ".,!?;:'\"")
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}

func containsSequence(haystack, needle []string) bool {
	if len(needle) > len(haystack) {
		return false
	}
	for i := 0; i+len(needle) <= len(haystack); i++ {
		match := true
		for j := range needle {
			if haystack[i+j] != needle[j] {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}
