// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package internal_prompt assembles LLM message lists for voice turns. The
// builder is pure: same inputs, same bytes.
package internal_prompt

import (
	"fmt"
	"strings"

	"github.com/pkoukk/tiktoken-go"

	internal_knowledge "github.com/rapidaai/orchestrator/api/orchestrator-api/internal/knowledge"
	internal_transformer "github.com/rapidaai/orchestrator/api/orchestrator-api/internal/transformer"
)

// phoneRules constrains the model to speakable output. Prepended to every
// system message ahead of the agent persona.
const phoneRules = "You are on a live phone call. Reply in 2-3 short sentences, " +
	"conversational and natural. Never use lists, markdown, emoji or speaker labels. " +
	"Spell out numbers the way a person would say them."

// perMessageOverhead approximates the chat-format framing tokens per
// message (role markers and separators).
const perMessageOverhead = 4

// Builder renders the system message and windows the rolling history to a
// token budget using the cl100k_base encoding.
type Builder struct {
	encoder     *tiktoken.Tiktoken
	tokenBudget int
}

// NewBuilder creates a prompt builder with the given history token budget.
func NewBuilder(tokenBudget int) (*Builder, error) {
	if tokenBudget <= 0 {
		tokenBudget = 2000
	}
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return nil, fmt.Errorf("failed to load tokenizer: %w", err)
	}
	return &Builder{encoder: enc, tokenBudget: tokenBudget}, nil
}

// System renders the three-section system message: phone rules, agent
// persona, retrieved context. The retrieval section is bare numbered
// lines, one per chunk, and is omitted entirely when there are no hits.
func (b *Builder) System(persona string, hits []internal_knowledge.ScoredChunk) string {
	var sections []string
	sections = append(sections, phoneRules)
	if persona = strings.TrimSpace(persona); persona != "" {
		sections = append(sections, persona)
	}
	if len(hits) > 0 {
		lines := make([]string, 0, len(hits))
		for i, hit := range hits {
			lines = append(lines, fmt.Sprintf("[%d] %s", i+1, strings.TrimSpace(hit.Chunk.Content)))
		}
		sections = append(sections, strings.Join(lines, "\n"))
	}
	return strings.Join(sections, "\n\n")
}

// Messages produces [system] + windowed history + [user: currentTurn].
// History is never mutated; when over budget the oldest turns are dropped
// pairwise so the window always starts on a user turn.
func (b *Builder) Messages(persona string, hits []internal_knowledge.ScoredChunk,
	history []internal_transformer.ChatMessage, currentTurn string) []internal_transformer.ChatMessage {

	windowed := b.window(history)

	out := make([]internal_transformer.ChatMessage, 0, len(windowed)+2)
	out = append(out, internal_transformer.ChatMessage{
		Role:    "system",
		Content: b.System(persona, hits),
	})
	out = append(out, windowed...)
	out = append(out, internal_transformer.ChatMessage{
		Role:    "user",
		Content: currentTurn,
	})
	return out
}

// CountTokens measures one message against the budget.
func (b *Builder) CountTokens(content string) int {
	return len(b.encoder.Encode(content, nil, nil)) + perMessageOverhead
}

// window drops the oldest user+assistant pairs until the history fits the
// token budget.
func (b *Builder) window(history []internal_transformer.ChatMessage) []internal_transformer.ChatMessage {
	start := 0
	for start < len(history) {
		total := 0
		for _, m := range history[start:] {
			total += b.CountTokens(m.Content)
		}
		if total <= b.tokenBudget {
			break
		}
		// Drop pairwise; a lone leading turn drops alone.
		if start+1 < len(history) &&
			history[start].Role == "user" && history[start+1].Role == "assistant" {
			start += 2
		} else {
			start++
		}
	}
	return history[start:]
}
