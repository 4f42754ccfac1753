// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package internal_knowledge

import (
	"context"

	"github.com/pgvector/pgvector-go"

	"github.com/rapidaai/orchestrator/pkg/commons"
	"github.com/rapidaai/orchestrator/pkg/connectors"
)

// Store provides vector search over an agent's knowledge chunks.
type Store interface {
	// SaveDoc stores a document row.
	SaveDoc(ctx context.Context, doc *KnowledgeDoc) error

	// SaveChunks stores embedded chunks for a document.
	SaveChunks(ctx context.Context, chunks []KnowledgeChunk) error

	// Search returns the topK chunks for an agent ranked by cosine
	// similarity to the query embedding, keeping only scores >= minScore.
	Search(ctx context.Context, agentID uint64, query []float32, topK int, minScore float64) ([]ScoredChunk, error)
}

type postgresStore struct {
	postgres connectors.PostgresConnector
	logger   commons.Logger
}

// NewStore creates a new knowledge store backed by Postgres with pgvector.
func NewStore(postgres connectors.PostgresConnector, logger commons.Logger) Store {
	return &postgresStore{
		postgres: postgres,
		logger:   logger,
	}
}

func (s *postgresStore) SaveDoc(ctx context.Context, doc *KnowledgeDoc) error {
	db := s.postgres.DB(ctx)
	if err := db.Create(doc).Error; err != nil {
		return commons.WrapError(commons.KindInternal, "failed to save knowledge doc", err)
	}
	return nil
}

func (s *postgresStore) SaveChunks(ctx context.Context, chunks []KnowledgeChunk) error {
	if len(chunks) == 0 {
		return nil
	}
	db := s.postgres.DB(ctx)
	if err := db.CreateInBatches(chunks, 100).Error; err != nil {
		return commons.WrapError(commons.KindInternal, "failed to save knowledge chunks", err)
	}
	s.logger.Debugf("saved %d knowledge chunks for agent %d", len(chunks), chunks[0].AgentID)
	return nil
}

// Search orders by pgvector cosine distance (<=>); similarity is
// 1 - distance. The minScore cut happens in SQL so the index does the work.
func (s *postgresStore) Search(ctx context.Context, agentID uint64, query []float32, topK int, minScore float64) ([]ScoredChunk, error) {
	db := s.postgres.DB(ctx)
	vec := pgvector.NewVector(query)

	type row struct {
		KnowledgeChunk
		Score float64 `gorm:"column:score"`
	}
	var rows []row
	err := db.Raw(`
		SELECT *, 1 - (embedding <=> ?) AS score
		FROM knowledge_chunks
		WHERE agent_id = ? AND 1 - (embedding <=> ?) >= ?
		ORDER BY embedding <=> ?
		LIMIT ?`,
		vec, agentID, vec, minScore, vec, topK,
	).Scan(&rows).Error
	if err != nil {
		return nil, commons.WrapError(commons.KindInternal, "knowledge search failed", err)
	}

	out := make([]ScoredChunk, 0, len(rows))
	for _, r := range rows {
		out = append(out, ScoredChunk{Chunk: r.KnowledgeChunk, Score: r.Score})
	}
	return out, nil
}
