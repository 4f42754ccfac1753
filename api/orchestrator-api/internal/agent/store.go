// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package internal_agent

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/rapidaai/orchestrator/pkg/commons"
	"github.com/rapidaai/orchestrator/pkg/connectors"
)

// Store provides read and write access to agents.
type Store interface {
	// Get retrieves an agent by id.
	Get(ctx context.Context, id uint64) (*Agent, error)

	// GetForUser retrieves an agent and verifies ownership.
	GetForUser(ctx context.Context, id, userId uint64) (*Agent, error)

	// Save creates or updates an agent row.
	Save(ctx context.Context, agent *Agent) error
}

type postgresStore struct {
	postgres connectors.PostgresConnector
	logger   commons.Logger
}

// NewStore creates a new agent store backed by Postgres.
func NewStore(postgres connectors.PostgresConnector, logger commons.Logger) Store {
	return &postgresStore{
		postgres: postgres,
		logger:   logger,
	}
}

func (s *postgresStore) Get(ctx context.Context, id uint64) (*Agent, error) {
	db := s.postgres.DB(ctx)
	var agent Agent
	if err := db.Where("id = ?", id).First(&agent).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, commons.NewErrorf(commons.KindNotFound, "agent %d not found", id)
		}
		return nil, commons.WrapError(commons.KindInternal, "failed to load agent", err)
	}
	return &agent, nil
}

func (s *postgresStore) GetForUser(ctx context.Context, id, userId uint64) (*Agent, error) {
	agent, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if agent.UserId != userId {
		return nil, commons.NewErrorf(commons.KindNotFound, "agent %d not found", id)
	}
	return agent, nil
}

func (s *postgresStore) Save(ctx context.Context, agent *Agent) error {
	db := s.postgres.DB(ctx)
	agent.UpdatedDate = time.Now()
	if err := db.Save(agent).Error; err != nil {
		return commons.WrapError(commons.KindInternal, "failed to save agent", err)
	}
	s.logger.Debugf("saved agent: id=%d, name=%s", agent.Id, agent.Name)
	return nil
}
