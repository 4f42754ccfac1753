// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package internal_knowledge

import (
	"context"
	"strings"

	internal_transformer "github.com/rapidaai/orchestrator/api/orchestrator-api/internal/transformer"
	"github.com/rapidaai/orchestrator/pkg/commons"
)

// interrogatives and knowledgeCues mark utterances that plausibly ask for
// stored knowledge. Short acknowledgements ("okay", "yes please") skip the
// embedding round trip entirely.
var interrogatives = []string{
	"what", "who", "where", "when", "why", "how", "which", "can", "could",
	"would", "do", "does", "did", "is", "are", "tell",
}

var knowledgeCues = []string{
	"price", "cost", "plan", "policy", "hours", "open", "close", "address",
	"location", "product", "service", "support", "refund", "order", "detail",
	"explain", "about", "information",
}

// Retriever answers "what do we know about X" for a session turn: embed
// the utterance, vector-search the agent's chunks, keep only confident
// hits.
type Retriever struct {
	logger commons.Logger
	store  Store
	llm    internal_transformer.LargeLanguageTransformer

	topK     int
	minScore float64
}

// NewRetriever wires the embedding client and the chunk store.
func NewRetriever(logger commons.Logger, store Store, llm internal_transformer.LargeLanguageTransformer, topK int, minScore float64) *Retriever {
	if topK <= 0 {
		topK = 5
	}
	if minScore <= 0 {
		minScore = 0.70
	}
	return &Retriever{
		logger:   logger,
		store:    store,
		llm:      llm,
		topK:     topK,
		minScore: minScore,
	}
}

// Relevant reports whether an utterance is worth a retrieval round trip:
// at least four words, and either an interrogative lead-in or a knowledge
// keyword anywhere.
func Relevant(utterance string) bool {
	normalized := strings.ToLower(strings.TrimSpace(utterance))
	words := strings.Fields(normalized)
	if len(words) < 4 {
		return false
	}

	first := strings.Trim(words[0], ".,!?")
	for _, q := range interrogatives {
		if first == q {
			return true
		}
	}
	for _, w := range words {
		w = strings.Trim(w, ".,!?")
		for _, cue := range knowledgeCues {
			if w == cue || strings.HasPrefix(w, cue) {
				return true
			}
		}
	}
	return false
}

// Retrieve embeds the utterance and returns confident chunks, best first.
// An empty result means the prompt builder must omit the retrieval block.
// Irrelevant utterances short-circuit to empty without embedding.
func (r *Retriever) Retrieve(ctx context.Context, agentID uint64, utterance string) ([]ScoredChunk, error) {
	if !Relevant(utterance) {
		return nil, nil
	}

	embedding, err := r.llm.Embedding(ctx, utterance)
	if err != nil {
		// Retrieval is best-effort inside a live call: log and answer
		// without knowledge rather than stalling the turn.
		r.logger.Warnw("knowledge retrieval embedding failed", "agentId", agentID, "error", err)
		return nil, err
	}

	hits, err := r.store.Search(ctx, agentID, embedding, r.topK, r.minScore)
	if err != nil {
		return nil, err
	}
	r.logger.Debugw("knowledge retrieval", "agentId", agentID, "hits", len(hits))
	return hits, nil
}
