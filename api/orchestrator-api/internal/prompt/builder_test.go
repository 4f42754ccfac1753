// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package internal_prompt

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	internal_knowledge "github.com/rapidaai/orchestrator/api/orchestrator-api/internal/knowledge"
	internal_transformer "github.com/rapidaai/orchestrator/api/orchestrator-api/internal/transformer"
)

func newTestBuilder(t *testing.T, budget int) *Builder {
	t.Helper()
	b, err := NewBuilder(budget)
	require.NoError(t, err)
	return b
}

func TestBuilder_SystemSectionsOrdered(t *testing.T) {
	b := newTestBuilder(t, 2000)

	hits := []internal_knowledge.ScoredChunk{
		{Chunk: internal_knowledge.KnowledgeChunk{Content: "We open at nine."}, Score: 0.95},
		{Chunk: internal_knowledge.KnowledgeChunk{Content: "We close at six."}, Score: 0.80},
	}
	system := b.System("You are Pat.", hits)

	sections := strings.Split(system, "\n\n")
	require.Len(t, sections, 3)
	assert.Contains(t, sections[0], "live phone call")
	assert.Equal(t, "You are Pat.", sections[1])
	// The retrieval section is bare numbered lines, nothing else.
	assert.Equal(t, "[1] We open at nine.\n[2] We close at six.", sections[2])
}

func TestBuilder_SystemOmitsEmptyRetrievalBlock(t *testing.T) {
	b := newTestBuilder(t, 2000)
	system := b.System("You are Pat.", nil)
	assert.NotContains(t, system, "[1]")
	assert.NotContains(t, system, "Relevant information")
}

func TestBuilder_MessagesShape(t *testing.T) {
	b := newTestBuilder(t, 2000)

	history := []internal_transformer.ChatMessage{
		{Role: "user", Content: "hi"},
		{Role: "assistant", Content: "hello"},
	}
	msgs := b.Messages("You are Pat.", nil, history, "what time do you open")

	require.Len(t, msgs, 4)
	assert.Equal(t, "system", msgs[0].Role)
	assert.Equal(t, "user", msgs[1].Role)
	assert.Equal(t, "assistant", msgs[2].Role)
	assert.Equal(t, "user", msgs[3].Role)
	assert.Equal(t, "what time do you open", msgs[3].Content)
}

func TestBuilder_Idempotent(t *testing.T) {
	b := newTestBuilder(t, 2000)

	hits := []internal_knowledge.ScoredChunk{
		{Chunk: internal_knowledge.KnowledgeChunk{Content: "Fact."}, Score: 0.9},
	}
	history := []internal_transformer.ChatMessage{
		{Role: "user", Content: "question"},
		{Role: "assistant", Content: "answer"},
	}

	first := b.Messages("Persona.", hits, history, "turn")
	second := b.Messages("Persona.", hits, history, "turn")
	assert.Equal(t, first, second)

	// Input history is untouched.
	assert.Equal(t, "question", history[0].Content)
	assert.Len(t, history, 2)
}

func TestBuilder_WindowDropsOldestPairs(t *testing.T) {
	// Budget small enough that only the newest exchange fits.
	b := newTestBuilder(t, 40)

	long := strings.Repeat("filler words that cost tokens ", 10)
	history := []internal_transformer.ChatMessage{
		{Role: "user", Content: long},
		{Role: "assistant", Content: long},
		{Role: "user", Content: "recent question"},
		{Role: "assistant", Content: "recent answer"},
	}

	msgs := b.Messages("P", nil, history, "now")
	// system + surviving history + current turn; the long pair is gone.
	for _, m := range msgs {
		assert.NotEqual(t, long, m.Content)
	}
	assert.Equal(t, "recent question", msgs[1].Content)
	assert.Equal(t, "recent answer", msgs[2].Content)
}
