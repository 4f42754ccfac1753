// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package internal_knowledge

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	internal_transformer "github.com/rapidaai/orchestrator/api/orchestrator-api/internal/transformer"
	"github.com/rapidaai/orchestrator/pkg/commons"
)

func TestRelevant(t *testing.T) {
	tests := []struct {
		utterance string
		expected  bool
	}{
		{"what are your opening hours today", true},
		{"how much does the premium plan cost", true},
		{"tell me about your refund policy", true},
		{"I need information about pricing", true},
		{"okay", false},
		{"yes please", false},
		{"sounds good to me thanks", false},
		{"", false},
		{"Where is your office located exactly?", true},
	}

	for _, tt := range tests {
		t.Run(tt.utterance, func(t *testing.T) {
			assert.Equal(t, tt.expected, Relevant(tt.utterance))
		})
	}
}

type fakeLLM struct {
	embedCalls int
	embedding  []float32
	err        error
}

func (f *fakeLLM) Name() string { return "fake-llm" }

func (f *fakeLLM) StreamChat(ctx context.Context, messages []internal_transformer.ChatMessage,
	opts internal_transformer.ChatOptions, onDelta func(string)) (string, error) {
	return "", nil
}

func (f *fakeLLM) Embedding(ctx context.Context, text string) ([]float32, error) {
	f.embedCalls++
	return f.embedding, f.err
}

type fakeStore struct {
	hits []ScoredChunk
}

func (f *fakeStore) SaveDoc(ctx context.Context, doc *KnowledgeDoc) error         { return nil }
func (f *fakeStore) SaveChunks(ctx context.Context, chunks []KnowledgeChunk) error { return nil }
func (f *fakeStore) Search(ctx context.Context, agentID uint64, query []float32, topK int, minScore float64) ([]ScoredChunk, error) {
	return f.hits, nil
}

func TestRetriever_IrrelevantUtteranceSkipsEmbedding(t *testing.T) {
	llm := &fakeLLM{embedding: make([]float32, 1536)}
	r := NewRetriever(commons.NewNopLogger(), &fakeStore{}, llm, 5, 0.7)

	hits, err := r.Retrieve(context.Background(), 1, "okay")
	require.NoError(t, err)
	assert.Empty(t, hits)
	assert.Zero(t, llm.embedCalls)
}

func TestRetriever_RelevantUtteranceSearches(t *testing.T) {
	llm := &fakeLLM{embedding: make([]float32, 1536)}
	store := &fakeStore{hits: []ScoredChunk{
		{Chunk: KnowledgeChunk{Content: "We open at nine."}, Score: 0.91},
	}}
	r := NewRetriever(commons.NewNopLogger(), store, llm, 5, 0.7)

	hits, err := r.Retrieve(context.Background(), 1, "what are your opening hours today")
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, 1, llm.embedCalls)
	assert.Equal(t, "We open at nine.", hits[0].Chunk.Content)
}
