// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package orchestrator_api

import (
	"github.com/gin-gonic/gin"

	internal_pool "github.com/rapidaai/orchestrator/api/orchestrator-api/internal/pool"
	internal_session "github.com/rapidaai/orchestrator/api/orchestrator-api/internal/session"
	"github.com/rapidaai/orchestrator/config"
	"github.com/rapidaai/orchestrator/pkg/commons"
)

type StatsApi struct {
	cfg      *config.AppConfig
	logger   commons.Logger
	pool     *internal_pool.Pool
	registry *internal_session.Registry
}

func NewStatsApi(cfg *config.AppConfig, logger commons.Logger,
	pool *internal_pool.Pool, registry *internal_session.Registry) *StatsApi {
	return &StatsApi{cfg: cfg, logger: logger, pool: pool, registry: registry}
}

// Stats reports live process counters.
//
// @Router /v1/stats [get]
func (api *StatsApi) Stats(c *gin.Context) {
	Success(c, gin.H{
		"activeSessions": api.registry.Count(),
		"pool":           api.pool.Stats(),
		"version":        api.cfg.Version,
	})
}

// PoolStats reports the transcription lease pool alone.
//
// @Router /v1/stats/pool [get]
func (api *StatsApi) PoolStats(c *gin.Context) {
	Success(c, api.pool.Stats())
}
