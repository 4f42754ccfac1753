// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package internal_sentence_assembler

import (
	"strings"
	"unicode"
)

// SentenceAssembler turns an LLM token-delta stream into speakable
// sentences for incremental TTS. A sentence closes on a terminator
// (./!/?) followed by whitespace, or once the buffer exceeds maxLen runes
// so long clauses without punctuation still flush.
type SentenceAssembler struct {
	buffer strings.Builder
	maxLen int
}

// NewSentenceAssembler creates an assembler; maxLen <= 0 selects the
// default of 60 runes.
func NewSentenceAssembler(maxLen int) *SentenceAssembler {
	if maxLen <= 0 {
		maxLen = 60
	}
	return &SentenceAssembler{maxLen: maxLen}
}

// Push appends a delta and returns any completed sentences, trimmed.
// Deltas may split sentences at arbitrary byte positions.
func (sa *SentenceAssembler) Push(delta string) []string {
	var out []string
	for _, r := range delta {
		sa.buffer.WriteRune(r)

		if unicode.IsSpace(r) {
			s := sa.buffer.String()
			trimmed := strings.TrimRightFunc(s, unicode.IsSpace)
			if isTerminator(lastRune(trimmed)) {
				if sentence := strings.TrimSpace(s); sentence != "" {
					out = append(out, sentence)
				}
				sa.buffer.Reset()
				continue
			}
		}

		if sa.runeLen() >= sa.maxLen && unicode.IsSpace(r) {
			if sentence := strings.TrimSpace(sa.buffer.String()); sentence != "" {
				out = append(out, sentence)
			}
			sa.buffer.Reset()
		}
	}
	return out
}

// Flush returns whatever is buffered as a final sentence, if anything.
func (sa *SentenceAssembler) Flush() (string, bool) {
	sentence := strings.TrimSpace(sa.buffer.String())
	sa.buffer.Reset()
	if sentence == "" {
		return "", false
	}
	return sentence, true
}

func (sa *SentenceAssembler) runeLen() int {
	return len([]rune(sa.buffer.String()))
}

func isTerminator(r rune) bool {
	return r == '.' || r == '!' || r == '?'
}

func lastRune(s string) rune {
	var last rune
	for _, r := range s {
		last = r
	}
	return last
}
