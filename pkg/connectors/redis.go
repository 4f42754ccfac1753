// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package connectors

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rapidaai/orchestrator/pkg/commons"
)

// RedisConnector exposes the shared redis client used for the delayed job
// queue and the outbound idempotency table.
type RedisConnector interface {
	Client() *redis.Client
	Close() error
}

type redisConnector struct {
	client *redis.Client
	logger commons.Logger
}

// NewRedisConnector connects and pings the configured redis instance.
func NewRedisConnector(addr, password string, db int, logger commons.Logger) (RedisConnector, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}

	logger.Infow("connected to redis", "addr", addr, "db", db)
	return &redisConnector{client: client, logger: logger}, nil
}

func (c *redisConnector) Client() *redis.Client {
	return c.client
}

func (c *redisConnector) Close() error {
	return c.client.Close()
}
