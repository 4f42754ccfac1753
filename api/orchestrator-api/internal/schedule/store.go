// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package internal_schedule

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/rapidaai/orchestrator/pkg/commons"
	"github.com/rapidaai/orchestrator/pkg/connectors"
)

// ListFilter narrows a scheduled-call listing.
type ListFilter struct {
	UserId  uint64
	AgentID uint64
	Status  string
	From    *time.Time
	To      *time.Time
	Limit   int
}

// Store provides operations to save and retrieve scheduled calls and retry
// attempts. Status transitions are atomic UPDATE ... WHERE status IN (...)
// so a cancel racing a dispatch resolves to exactly one winner.
type Store interface {
	// Save stores a scheduled call with a generated scheduleId (UUID).
	// Returns the scheduleId.
	Save(ctx context.Context, sc *ScheduledCall) (string, error)

	// Get retrieves a scheduled call by scheduleId.
	Get(ctx context.Context, scheduleID string) (*ScheduledCall, error)

	// List returns scheduled calls matching the filter, newest first.
	List(ctx context.Context, filter ListFilter) ([]ScheduledCall, error)

	// Claim atomically transitions pending → claimed. Only one worker wins.
	Claim(ctx context.Context, scheduleID string) (*ScheduledCall, error)

	// MarkDispatched records the produced call and moves claimed → dispatched.
	MarkDispatched(ctx context.Context, scheduleID, callID string) error

	// Cancel transitions pending → canceled. Conflict once claimed.
	Cancel(ctx context.Context, scheduleID string) error

	// Reschedule moves a pending job to a new instant.
	Reschedule(ctx context.Context, scheduleID string, at time.Time) error

	// Finish sets a terminal status on a dispatched job.
	Finish(ctx context.Context, scheduleID, status, lastError string) error

	// RecordFailure increments the attempt counter and resets the job to
	// pending for another dispatch round.
	RecordFailure(ctx context.Context, scheduleID, lastError string) error

	// SaveRetry stores a retry attempt row.
	SaveRetry(ctx context.Context, ra *RetryAttempt) error

	// CountRetries counts prior attempts for a parent call and failure class.
	CountRetries(ctx context.Context, parentCallID, failureClass string) (int64, error)
}

type postgresStore struct {
	postgres connectors.PostgresConnector
	logger   commons.Logger
}

// NewStore creates a new schedule store backed by Postgres.
func NewStore(postgres connectors.PostgresConnector, logger commons.Logger) Store {
	return &postgresStore{
		postgres: postgres,
		logger:   logger,
	}
}

func (s *postgresStore) Save(ctx context.Context, sc *ScheduledCall) (string, error) {
	if sc.ScheduleID == "" {
		sc.ScheduleID = uuid.New().String()
	}
	if sc.Status == "" {
		sc.Status = StatusPending
	}

	db := s.postgres.DB(ctx)
	if err := db.Create(sc).Error; err != nil {
		return "", commons.WrapError(commons.KindInternal, "failed to save scheduled call", err)
	}

	s.logger.Infof("saved scheduled call: scheduleId=%s, to=%s, at=%s",
		sc.ScheduleID, sc.PhoneNumber, sc.ScheduledFor.Format(time.RFC3339))
	return sc.ScheduleID, nil
}

func (s *postgresStore) Get(ctx context.Context, scheduleID string) (*ScheduledCall, error) {
	db := s.postgres.DB(ctx)
	var sc ScheduledCall
	if err := db.Where("schedule_id = ?", scheduleID).First(&sc).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, commons.NewErrorf(commons.KindNotFound, "scheduled call %s not found", scheduleID)
		}
		return nil, commons.WrapError(commons.KindInternal, "failed to load scheduled call", err)
	}
	return &sc, nil
}

func (s *postgresStore) List(ctx context.Context, filter ListFilter) ([]ScheduledCall, error) {
	db := s.postgres.DB(ctx).Model(&ScheduledCall{})
	if filter.UserId != 0 {
		db = db.Where("user_id = ?", filter.UserId)
	}
	if filter.AgentID != 0 {
		db = db.Where("agent_id = ?", filter.AgentID)
	}
	if filter.Status != "" {
		db = db.Where("status = ?", filter.Status)
	}
	if filter.From != nil {
		db = db.Where("scheduled_for >= ?", *filter.From)
	}
	if filter.To != nil {
		db = db.Where("scheduled_for < ?", *filter.To)
	}
	limit := filter.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	var out []ScheduledCall
	if err := db.Order("scheduled_for DESC").Limit(limit).Find(&out).Error; err != nil {
		return nil, commons.WrapError(commons.KindInternal, "failed to list scheduled calls", err)
	}
	return out, nil
}

func (s *postgresStore) Claim(ctx context.Context, scheduleID string) (*ScheduledCall, error) {
	db := s.postgres.DB(ctx)
	result := db.Model(&ScheduledCall{}).
		Where("schedule_id = ? AND status = ?", scheduleID, StatusPending).
		Updates(map[string]interface{}{
			"status":       StatusClaimed,
			"updated_date": time.Now(),
		})
	if result.Error != nil {
		return nil, commons.WrapError(commons.KindInternal, "failed to claim scheduled call", result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, commons.NewErrorf(commons.KindConflict, "scheduled call %s not claimable", scheduleID)
	}

	var sc ScheduledCall
	if err := db.Where("schedule_id = ?", scheduleID).First(&sc).Error; err != nil {
		return nil, commons.WrapError(commons.KindInternal, "failed to fetch claimed scheduled call", err)
	}
	s.logger.Debugf("claimed scheduled call: scheduleId=%s", scheduleID)
	return &sc, nil
}

func (s *postgresStore) MarkDispatched(ctx context.Context, scheduleID, callID string) error {
	db := s.postgres.DB(ctx)
	result := db.Model(&ScheduledCall{}).
		Where("schedule_id = ? AND status = ?", scheduleID, StatusClaimed).
		Updates(map[string]interface{}{
			"status":       StatusDispatched,
			"call_id":      callID,
			"updated_date": time.Now(),
		})
	if result.Error != nil {
		return commons.WrapError(commons.KindInternal, "failed to mark scheduled call dispatched", result.Error)
	}
	if result.RowsAffected == 0 {
		return commons.NewErrorf(commons.KindConflict, "scheduled call %s not claimed", scheduleID)
	}
	return nil
}

func (s *postgresStore) Cancel(ctx context.Context, scheduleID string) error {
	db := s.postgres.DB(ctx)
	result := db.Model(&ScheduledCall{}).
		Where("schedule_id = ? AND status = ?", scheduleID, StatusPending).
		Updates(map[string]interface{}{
			"status":       StatusCanceled,
			"updated_date": time.Now(),
		})
	if result.Error != nil {
		return commons.WrapError(commons.KindInternal, "failed to cancel scheduled call", result.Error)
	}
	if result.RowsAffected == 0 {
		return commons.NewErrorf(commons.KindConflict, "scheduled call %s is not pending", scheduleID)
	}
	s.logger.Infof("canceled scheduled call: scheduleId=%s", scheduleID)
	return nil
}

func (s *postgresStore) Reschedule(ctx context.Context, scheduleID string, at time.Time) error {
	db := s.postgres.DB(ctx)
	result := db.Model(&ScheduledCall{}).
		Where("schedule_id = ? AND status = ?", scheduleID, StatusPending).
		Updates(map[string]interface{}{
			"scheduled_for": at,
			"updated_date":  time.Now(),
		})
	if result.Error != nil {
		return commons.WrapError(commons.KindInternal, "failed to reschedule", result.Error)
	}
	if result.RowsAffected == 0 {
		return commons.NewErrorf(commons.KindConflict, "scheduled call %s is not pending", scheduleID)
	}
	return nil
}

func (s *postgresStore) Finish(ctx context.Context, scheduleID, status, lastError string) error {
	db := s.postgres.DB(ctx)
	result := db.Model(&ScheduledCall{}).
		Where("schedule_id = ? AND status IN ?", scheduleID, []string{StatusClaimed, StatusDispatched}).
		Updates(map[string]interface{}{
			"status":       status,
			"last_error":   lastError,
			"updated_date": time.Now(),
		})
	if result.Error != nil {
		return commons.WrapError(commons.KindInternal, "failed to finish scheduled call", result.Error)
	}
	return nil
}

func (s *postgresStore) RecordFailure(ctx context.Context, scheduleID, lastError string) error {
	db := s.postgres.DB(ctx)
	result := db.Model(&ScheduledCall{}).
		Where("schedule_id = ?", scheduleID).
		Updates(map[string]interface{}{
			"status":       StatusPending,
			"attempts":     gorm.Expr("attempts + 1"),
			"last_error":   lastError,
			"updated_date": time.Now(),
		})
	if result.Error != nil {
		return commons.WrapError(commons.KindInternal, "failed to record scheduled call failure", result.Error)
	}
	return nil
}

func (s *postgresStore) SaveRetry(ctx context.Context, ra *RetryAttempt) error {
	db := s.postgres.DB(ctx)
	if ra.Status == "" {
		ra.Status = StatusPending
	}
	if err := db.Create(ra).Error; err != nil {
		return commons.WrapError(commons.KindInternal, "failed to save retry attempt", err)
	}
	s.logger.Debugf("saved retry attempt: parent=%s, class=%s, attempt=%d",
		ra.ParentCallID, ra.FailureClass, ra.AttemptNumber)
	return nil
}

func (s *postgresStore) CountRetries(ctx context.Context, parentCallID, failureClass string) (int64, error) {
	db := s.postgres.DB(ctx)
	var count int64
	err := db.Model(&RetryAttempt{}).
		Where("parent_call_id = ? AND failure_class = ?", parentCallID, failureClass).
		Count(&count).Error
	if err != nil {
		return 0, commons.WrapError(commons.KindInternal, "failed to count retries", err)
	}
	return count, nil
}
