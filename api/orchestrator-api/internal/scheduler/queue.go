// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package internal_scheduler

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rapidaai/orchestrator/pkg/commons"
	"github.com/rapidaai/orchestrator/pkg/connectors"
)

// DelayedQueue holds schedule ids until their instant arrives.
type DelayedQueue interface {
	// Enqueue adds or moves an id to fire at the given instant.
	Enqueue(ctx context.Context, id string, at time.Time) error

	// PopDue atomically removes and returns up to limit ids due at now.
	// Concurrent pollers never see the same id.
	PopDue(ctx context.Context, now time.Time, limit int) ([]string, error)

	// Remove drops an id, for cancellations.
	Remove(ctx context.Context, id string) error
}

const queueKey = "scheduler:due"

// popDueScript removes and returns due members in one round trip so two
// pollers cannot claim the same job.
var popDueScript = redis.NewScript(`
local due = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, ARGV[2])
if #due > 0 then
  redis.call('ZREM', KEYS[1], unpack(due))
end
return due
`)

type redisQueue struct {
	redis  connectors.RedisConnector
	logger commons.Logger
}

// NewRedisQueue creates the sorted-set backed delayed queue.
func NewRedisQueue(redis connectors.RedisConnector, logger commons.Logger) DelayedQueue {
	return &redisQueue{redis: redis, logger: logger}
}

func (q *redisQueue) Enqueue(ctx context.Context, id string, at time.Time) error {
	err := q.redis.Client().ZAdd(ctx, queueKey, redis.Z{
		Score:  float64(at.Unix()),
		Member: id,
	}).Err()
	if err != nil {
		return commons.WrapError(commons.KindInternal, "failed to enqueue scheduled call", err)
	}
	q.logger.Debugf("enqueued scheduled call: id=%s, at=%s", id, at.Format(time.RFC3339))
	return nil
}

func (q *redisQueue) PopDue(ctx context.Context, now time.Time, limit int) ([]string, error) {
	raw, err := popDueScript.Run(ctx, q.redis.Client(),
		[]string{queueKey}, now.Unix(), limit).Result()
	if err != nil {
		return nil, commons.WrapError(commons.KindInternal, "failed to pop due scheduled calls", err)
	}

	items, ok := raw.([]interface{})
	if !ok {
		return nil, nil
	}
	ids := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok {
			ids = append(ids, s)
		}
	}
	return ids, nil
}

func (q *redisQueue) Remove(ctx context.Context, id string) error {
	if err := q.redis.Client().ZRem(ctx, queueKey, id).Err(); err != nil {
		return commons.WrapError(commons.KindInternal, "failed to remove scheduled call", err)
	}
	return nil
}
