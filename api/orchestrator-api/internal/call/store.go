// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package internal_call

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/rapidaai/orchestrator/pkg/commons"
	"github.com/rapidaai/orchestrator/pkg/connectors"
)

// Store provides operations to save and retrieve calls from Postgres.
//
// Telephony status callbacks arrive asynchronously and can land after the
// media stream disconnected, so call rows are never deleted during the
// lifecycle; they only transition through statuses. Status transitions are
// atomic UPDATE ... WHERE status IN (...) so concurrent writers (the
// session, the status webhook, a cancel request) cannot clobber a terminal
// state.
type Store interface {
	// Save stores a call with a generated callId (UUID). Returns the callId.
	Save(ctx context.Context, call *Call) (string, error)

	// Get retrieves a call with its transcript turns.
	Get(ctx context.Context, callID string) (*Call, error)

	// GetByProviderSid resolves a call from the telephony provider call
	// identifier carried on webhooks.
	GetByProviderSid(ctx context.Context, sid string) (*Call, error)

	// GetByCorrelation finds an existing call for an idempotency key, if any.
	GetByCorrelation(ctx context.Context, correlationID string) (*Call, error)

	// Transition atomically moves a call from one of the given statuses to
	// the next status. Returns Conflict if the call is not in a from status.
	Transition(ctx context.Context, callID string, from []string, to string) error

	// MarkStarted records media connection: sets stream sid, started-at and
	// status in_progress in one update.
	MarkStarted(ctx context.Context, callID, streamSid string) error

	// Finish sets a terminal status, the end timestamp, duration and the
	// failure reason (empty for completed). No-ops if already terminal.
	Finish(ctx context.Context, callID, status, failureReason string) error

	// SetProviderSid patches the provider call identifier after the
	// create-call request returns it.
	SetProviderSid(ctx context.Context, callID, sid string) error

	// AppendTurn appends one transcript turn.
	AppendTurn(ctx context.Context, callID string, turn *TranscriptTurn) error

	// AddCost increments one of the per-call cost accumulators.
	AddCost(ctx context.Context, callID, component string, amount float64) error

	// CountActive counts all outbound calls in a non-terminal status, for
	// the controller-wide concurrency cap.
	CountActive(ctx context.Context) (int64, error)
}

type postgresStore struct {
	postgres connectors.PostgresConnector
	logger   commons.Logger
}

// NewStore creates a new call store backed by Postgres.
func NewStore(postgres connectors.PostgresConnector, logger commons.Logger) Store {
	return &postgresStore{
		postgres: postgres,
		logger:   logger,
	}
}

func (s *postgresStore) Save(ctx context.Context, call *Call) (string, error) {
	if call.CallID == "" {
		call.CallID = uuid.New().String()
	}
	if call.Status == "" {
		call.Status = StatusQueued
	}

	db := s.postgres.DB(ctx)
	if err := db.Create(call).Error; err != nil {
		return "", commons.WrapError(commons.KindInternal, "failed to save call", err)
	}

	s.logger.Infof("saved call: callId=%s, direction=%s, to=%s, agent=%d",
		call.CallID, call.Direction, call.ToNumber, call.AgentID)
	return call.CallID, nil
}

func (s *postgresStore) Get(ctx context.Context, callID string) (*Call, error) {
	db := s.postgres.DB(ctx)
	var call Call
	err := db.Preload("Turns", func(db *gorm.DB) *gorm.DB {
		return db.Order("seq ASC")
	}).Where("call_id = ?", callID).First(&call).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, commons.NewErrorf(commons.KindNotFound, "call %s not found", callID)
		}
		return nil, commons.WrapError(commons.KindInternal, "failed to load call", err)
	}
	return &call, nil
}

func (s *postgresStore) GetByProviderSid(ctx context.Context, sid string) (*Call, error) {
	db := s.postgres.DB(ctx)
	var call Call
	if err := db.Where("provider_call_sid = ?", sid).First(&call).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, commons.NewErrorf(commons.KindNotFound, "call with provider sid %s not found", sid)
		}
		return nil, commons.WrapError(commons.KindInternal, "failed to load call", err)
	}
	return &call, nil
}

func (s *postgresStore) GetByCorrelation(ctx context.Context, correlationID string) (*Call, error) {
	db := s.postgres.DB(ctx)
	var call Call
	err := db.Where("correlation_id = ? AND created_date > ?", correlationID, time.Now().Add(-24*time.Hour)).
		Order("created_date DESC").First(&call).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, commons.NewErrorf(commons.KindNotFound, "no call for correlation %s", correlationID)
		}
		return nil, commons.WrapError(commons.KindInternal, "failed to load call", err)
	}
	return &call, nil
}

// Transition performs an atomic UPDATE ... WHERE status IN (from). Only one
// concurrent writer can win; losers get a Conflict.
func (s *postgresStore) Transition(ctx context.Context, callID string, from []string, to string) error {
	db := s.postgres.DB(ctx)
	result := db.Model(&Call{}).
		Where("call_id = ? AND status IN ?", callID, from).
		Updates(map[string]interface{}{
			"status":       to,
			"updated_date": time.Now(),
		})
	if result.Error != nil {
		return commons.WrapError(commons.KindInternal, "failed to transition call", result.Error)
	}
	if result.RowsAffected == 0 {
		return commons.NewErrorf(commons.KindConflict, "call %s not in a valid state for %s", callID, to)
	}
	s.logger.Debugf("call transition: callId=%s, to=%s", callID, to)
	return nil
}

func (s *postgresStore) MarkStarted(ctx context.Context, callID, streamSid string) error {
	db := s.postgres.DB(ctx)
	now := time.Now()
	result := db.Model(&Call{}).
		Where("call_id = ? AND status IN ?", callID, NonTerminalStatuses).
		Updates(map[string]interface{}{
			"status":       StatusInProgress,
			"stream_sid":   streamSid,
			"started_at":   now,
			"updated_date": now,
		})
	if result.Error != nil {
		return commons.WrapError(commons.KindInternal, "failed to mark call started", result.Error)
	}
	if result.RowsAffected == 0 {
		return commons.NewErrorf(commons.KindConflict, "call %s already terminal", callID)
	}
	return nil
}

func (s *postgresStore) Finish(ctx context.Context, callID, status, failureReason string) error {
	db := s.postgres.DB(ctx)
	now := time.Now()

	var call Call
	if err := db.Where("call_id = ?", callID).First(&call).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return commons.NewErrorf(commons.KindNotFound, "call %s not found", callID)
		}
		return commons.WrapError(commons.KindInternal, "failed to load call", err)
	}

	duration := 0
	if call.StartedAt != nil {
		duration = int(now.Sub(*call.StartedAt).Seconds())
	}

	result := db.Model(&Call{}).
		Where("call_id = ? AND status IN ?", callID, NonTerminalStatuses).
		Updates(map[string]interface{}{
			"status":           status,
			"failure_reason":   failureReason,
			"ended_at":         now,
			"duration_seconds": duration,
			"updated_date":     now,
		})
	if result.Error != nil {
		return commons.WrapError(commons.KindInternal, "failed to finish call", result.Error)
	}
	if result.RowsAffected == 0 {
		// Already terminal: a late webhook or a second finisher. Not an error.
		s.logger.Debugf("finish skipped, call already terminal: callId=%s", callID)
		return nil
	}

	s.logger.Infof("finished call: callId=%s, status=%s, duration=%ds", callID, status, duration)
	return nil
}

func (s *postgresStore) SetProviderSid(ctx context.Context, callID, sid string) error {
	db := s.postgres.DB(ctx)
	result := db.Model(&Call{}).
		Where("call_id = ?", callID).
		Updates(map[string]interface{}{
			"provider_call_sid": sid,
			"updated_date":      time.Now(),
		})
	if result.Error != nil {
		return commons.WrapError(commons.KindInternal, "failed to set provider sid", result.Error)
	}
	return nil
}

func (s *postgresStore) AppendTurn(ctx context.Context, callID string, turn *TranscriptTurn) error {
	db := s.postgres.DB(ctx)
	var call Call
	if err := db.Select("id").Where("call_id = ?", callID).First(&call).Error; err != nil {
		return commons.NewErrorf(commons.KindNotFound, "call %s not found", callID)
	}
	turn.CallRef = call.Id
	if err := db.Create(turn).Error; err != nil {
		return commons.WrapError(commons.KindInternal, "failed to append transcript turn", err)
	}
	return nil
}

func (s *postgresStore) AddCost(ctx context.Context, callID, component string, amount float64) error {
	column := ""
	switch component {
	case "stt":
		column = "stt_cost"
	case "llm":
		column = "llm_cost"
	case "tts":
		column = "tts_cost"
	case "telephony":
		column = "telephony_cost"
	default:
		return commons.NewErrorf(commons.KindValidation, "unknown cost component %s", component)
	}

	db := s.postgres.DB(ctx)
	result := db.Model(&Call{}).
		Where("call_id = ?", callID).
		Update(column, gorm.Expr(column+" + ?", amount))
	if result.Error != nil {
		return commons.WrapError(commons.KindInternal, "failed to add cost", result.Error)
	}
	return nil
}

func (s *postgresStore) CountActive(ctx context.Context) (int64, error) {
	db := s.postgres.DB(ctx)
	var count int64
	err := db.Model(&Call{}).
		Where("direction = ? AND status IN ?", "outbound", NonTerminalStatuses).
		Count(&count).Error
	if err != nil {
		return 0, commons.WrapError(commons.KindInternal, "failed to count active calls", err)
	}
	return count, nil
}
