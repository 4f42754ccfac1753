// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package internal_knowledge

import (
	"time"

	"github.com/pgvector/pgvector-go"
	"gorm.io/gorm"

	"github.com/rapidaai/orchestrator/pkg/commons"
)

// KnowledgeDoc groups chunks ingested from one source document.
type KnowledgeDoc struct {
	Id      uint64 `json:"id" gorm:"type:bigint;primaryKey;<-:create"`
	AgentID uint64 `json:"agentId" gorm:"column:agent_id;type:bigint;not null;index"`
	Title   string `json:"title" gorm:"column:title;type:varchar(500);not null"`
	Source  string `json:"source" gorm:"column:source;type:varchar(500);not null;default:''"`

	CreatedDate time.Time `json:"createdDate" gorm:"type:timestamp;not null;default:NOW();<-:create"`
}

func (KnowledgeDoc) TableName() string {
	return "knowledge_docs"
}

func (d *KnowledgeDoc) BeforeCreate(tx *gorm.DB) (err error) {
	if d.Id <= 0 {
		d.Id = commons.ID()
	}
	if d.CreatedDate.IsZero() {
		d.CreatedDate = time.Now()
	}
	return nil
}

// KnowledgeChunk is one embeddable unit of agent knowledge. The embedding
// column carries a pgvector value sized to the configured embedding model
// (1536 dims for text-embedding-3-small).
type KnowledgeChunk struct {
	Id      uint64 `json:"id" gorm:"type:bigint;primaryKey;<-:create"`
	DocID   uint64 `json:"docId" gorm:"column:doc_id;type:bigint;not null;index"`
	AgentID uint64 `json:"agentId" gorm:"column:agent_id;type:bigint;not null;index"`

	Content   string          `json:"content" gorm:"column:content;type:text;not null"`
	Embedding pgvector.Vector `json:"-" gorm:"column:embedding;type:vector(1536)"`

	CreatedDate time.Time `json:"createdDate" gorm:"type:timestamp;not null;default:NOW();<-:create"`
}

func (KnowledgeChunk) TableName() string {
	return "knowledge_chunks"
}

func (c *KnowledgeChunk) BeforeCreate(tx *gorm.DB) (err error) {
	if c.Id <= 0 {
		c.Id = commons.ID()
	}
	if c.CreatedDate.IsZero() {
		c.CreatedDate = time.Now()
	}
	return nil
}

// ScoredChunk is a retrieval hit: the chunk plus its cosine similarity to
// the query, in [0, 1] for unit-normalized embeddings.
type ScoredChunk struct {
	Chunk KnowledgeChunk
	Score float64
}
