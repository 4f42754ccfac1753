// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package internal_scheduler

import (
	"context"
	"fmt"
	"strings"
	"time"

	internal_call "github.com/rapidaai/orchestrator/api/orchestrator-api/internal/call"
	internal_outbound "github.com/rapidaai/orchestrator/api/orchestrator-api/internal/outbound"
	internal_schedule "github.com/rapidaai/orchestrator/api/orchestrator-api/internal/schedule"
	"github.com/rapidaai/orchestrator/config"
	"github.com/rapidaai/orchestrator/pkg/commons"
	"github.com/rapidaai/orchestrator/pkg/utils"
)

// CallPlacer is the slice of the outbound controller the scheduler uses.
type CallPlacer interface {
	Dial(ctx context.Context, req internal_outbound.Request) (*internal_call.Call, error)
}

// ScheduleRequest is one schedule submission.
type ScheduleRequest struct {
	UserId      uint64
	AgentID     uint64
	PhoneNumber string
	FromNumber  string

	ScheduledFor time.Time
	Timezone     string

	RespectBusinessHours bool
	BusinessHoursStart   string
	BusinessHoursEnd     string
	BusinessDays         []int
	AllowFlex            bool

	Recurrence     string
	MaxOccurrences int
	EndDate        *time.Time
}

// Scheduler owns scheduled-call intake and the dispatch loop.
type Scheduler struct {
	logger commons.Logger
	cfg    config.SchedulerConfig
	qcfg   config.QueueConfig

	store  internal_schedule.Store
	queue  DelayedQueue
	placer CallPlacer

	now func() time.Time
}

// NewScheduler wires the scheduling engine.
func NewScheduler(
	logger commons.Logger,
	cfg config.SchedulerConfig,
	qcfg config.QueueConfig,
	store internal_schedule.Store,
	queue DelayedQueue,
	placer CallPlacer,
) *Scheduler {
	return &Scheduler{
		logger: logger,
		cfg:    cfg,
		qcfg:   qcfg,
		store:  store,
		queue:  queue,
		placer: placer,
		now:    time.Now,
	}
}

// Schedule validates and stores a future call, projected into its
// business-hours window, and enqueues it for dispatch.
func (s *Scheduler) Schedule(ctx context.Context, req ScheduleRequest) (*internal_schedule.ScheduledCall, error) {
	if !utils.IsE164(req.PhoneNumber) {
		return nil, commons.NewErrorf(commons.KindValidation, "phone number %q is not E.164", req.PhoneNumber)
	}
	if req.FromNumber != "" && !utils.IsE164(req.FromNumber) {
		return nil, commons.NewErrorf(commons.KindValidation, "from number %q is not E.164", req.FromNumber)
	}
	switch req.Recurrence {
	case "", internal_schedule.RecurrenceNone, internal_schedule.RecurrenceDaily,
		internal_schedule.RecurrenceWeekly, internal_schedule.RecurrenceMonthly:
	default:
		return nil, commons.NewErrorf(commons.KindValidation, "unknown recurrence %q", req.Recurrence)
	}

	tz := req.Timezone
	if tz == "" {
		tz = s.cfg.DefaultTimezone
	}
	loc, err := LoadLocation(tz)
	if err != nil {
		return nil, err
	}

	now := s.now()
	if !req.ScheduledFor.After(now) {
		return nil, commons.NewError(commons.KindValidation, "scheduled time must be in the future")
	}

	sc := &internal_schedule.ScheduledCall{
		UserId:               req.UserId,
		AgentID:              req.AgentID,
		PhoneNumber:          req.PhoneNumber,
		FromNumber:           req.FromNumber,
		ScheduledFor:         req.ScheduledFor,
		Timezone:             tz,
		RespectBusinessHours: req.RespectBusinessHours,
		BusinessHoursStart:   orDefault(req.BusinessHoursStart, s.cfg.BusinessHoursStart),
		BusinessHoursEnd:     orDefault(req.BusinessHoursEnd, s.cfg.BusinessHoursEnd),
		BusinessDays:         joinDays(req.BusinessDays, s.cfg.BusinessDays),
		AllowFlex:            req.AllowFlex,
		Recurrence:           orDefault(req.Recurrence, internal_schedule.RecurrenceNone),
		MaxOccurrences:       req.MaxOccurrences,
		EndDate:              req.EndDate,
	}

	if sc.RespectBusinessHours {
		projected, err := Project(sc.ScheduledFor, loc, s.window(sc))
		if err != nil {
			return nil, err
		}
		if !projected.Equal(sc.ScheduledFor) && !sc.AllowFlex {
			return nil, commons.NewErrorf(commons.KindPolicyRejected,
				"requested time is outside business hours; next window opens %s",
				projected.Format(time.RFC3339))
		}
		sc.ScheduledFor = projected
	}

	scheduleID, err := s.store.Save(ctx, sc)
	if err != nil {
		return nil, err
	}
	if err := s.queue.Enqueue(ctx, scheduleID, sc.ScheduledFor); err != nil {
		return nil, err
	}
	return sc, nil
}

// Cancel withdraws a pending scheduled call.
func (s *Scheduler) Cancel(ctx context.Context, scheduleID string) error {
	if err := s.store.Cancel(ctx, scheduleID); err != nil {
		return err
	}
	if err := s.queue.Remove(ctx, scheduleID); err != nil {
		s.logger.Warnw("failed to dequeue canceled scheduled call",
			"scheduleId", scheduleID, "error", err)
	}
	return nil
}

// Reschedule moves a pending scheduled call to a new future instant,
// re-projected into its window.
func (s *Scheduler) Reschedule(ctx context.Context, scheduleID string, at time.Time) (*internal_schedule.ScheduledCall, error) {
	if !at.After(s.now()) {
		return nil, commons.NewError(commons.KindValidation, "scheduled time must be in the future")
	}

	sc, err := s.store.Get(ctx, scheduleID)
	if err != nil {
		return nil, err
	}
	loc, err := LoadLocation(sc.Timezone)
	if err != nil {
		return nil, err
	}

	if sc.RespectBusinessHours {
		projected, err := Project(at, loc, s.window(sc))
		if err != nil {
			return nil, err
		}
		if !projected.Equal(at) && !sc.AllowFlex {
			return nil, commons.NewErrorf(commons.KindPolicyRejected,
				"requested time is outside business hours; next window opens %s",
				projected.Format(time.RFC3339))
		}
		at = projected
	}

	if err := s.store.Reschedule(ctx, scheduleID, at); err != nil {
		return nil, err
	}
	if err := s.queue.Enqueue(ctx, scheduleID, at); err != nil {
		return nil, err
	}
	sc.ScheduledFor = at
	return sc, nil
}

// Run polls the delayed queue until ctx is canceled.
func (s *Scheduler) Run(ctx context.Context) error {
	interval := time.Duration(s.cfg.PollIntervalMs) * time.Millisecond
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Infow("scheduler started", "pollInterval", interval)
	for {
		select {
		case <-ctx.Done():
			s.logger.Infow("scheduler stopped")
			return nil
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	ids, err := s.queue.PopDue(ctx, s.now(), 50)
	if err != nil {
		s.logger.Warnw("failed to pop due scheduled calls", "error", err)
		return
	}
	for _, id := range ids {
		s.dispatch(ctx, id)
	}
}

// dispatch claims one due job and hands it to the outbound controller.
// A Conflict on claim means cancel or a concurrent worker won; both are
// fine.
func (s *Scheduler) dispatch(ctx context.Context, scheduleID string) {
	sc, err := s.store.Claim(ctx, scheduleID)
	if err != nil {
		if !commons.IsKind(err, commons.KindConflict) {
			s.logger.Warnw("failed to claim scheduled call", "scheduleId", scheduleID, "error", err)
		}
		return
	}

	correlation := fmt.Sprintf("schedule:%s:%d:%d", sc.ScheduleID, sc.Occurrence, sc.Attempts)
	if sc.RetryOf != "" {
		// Ladder re-dials carry the root call id so later outcomes keep
		// counting against the same budget.
		correlation = fmt.Sprintf("retry:%s:%s", sc.RetryOf, sc.ScheduleID)
	}

	call, err := s.placer.Dial(ctx, internal_outbound.Request{
		UserId:        sc.UserId,
		AgentID:       sc.AgentID,
		FromNumber:    sc.FromNumber,
		ToNumber:      sc.PhoneNumber,
		CorrelationID: correlation,
	})
	if err != nil {
		s.onDispatchFailure(ctx, sc, err)
		return
	}

	if err := s.store.MarkDispatched(ctx, scheduleID, call.CallID); err != nil {
		s.logger.Warnw("failed to mark scheduled call dispatched",
			"scheduleId", scheduleID, "error", err)
	}
	s.logger.Infow("scheduled call dispatched",
		"scheduleId", scheduleID, "callId", call.CallID, "occurrence", sc.Occurrence)

	s.spawnSuccessor(ctx, sc)
}

// onDispatchFailure retries transient dial failures with queue backoff and
// fails the job once the budget is spent or the error is permanent.
func (s *Scheduler) onDispatchFailure(ctx context.Context, sc *internal_schedule.ScheduledCall, dialErr error) {
	if !commons.Retryable(dialErr) {
		s.logger.Warnw("scheduled call dial failed permanently",
			"scheduleId", sc.ScheduleID, "error", dialErr)
		if err := s.store.Finish(ctx, sc.ScheduleID, internal_schedule.StatusFailed, dialErr.Error()); err != nil {
			s.logger.Warnw("failed to fail scheduled call", "scheduleId", sc.ScheduleID, "error", err)
		}
		s.spawnSuccessor(ctx, sc)
		return
	}

	if sc.Attempts+1 >= s.qcfg.RetryAttempts {
		s.logger.Warnw("scheduled call dial retries exhausted",
			"scheduleId", sc.ScheduleID, "attempts", sc.Attempts+1, "error", dialErr)
		if err := s.store.Finish(ctx, sc.ScheduleID, internal_schedule.StatusFailed, dialErr.Error()); err != nil {
			s.logger.Warnw("failed to fail scheduled call", "scheduleId", sc.ScheduleID, "error", err)
		}
		s.spawnSuccessor(ctx, sc)
		return
	}

	if err := s.store.RecordFailure(ctx, sc.ScheduleID, dialErr.Error()); err != nil {
		s.logger.Warnw("failed to record dispatch failure", "scheduleId", sc.ScheduleID, "error", err)
		return
	}
	backoff := time.Duration(s.qcfg.RetryBackoffMs) * time.Millisecond << uint(sc.Attempts)
	if err := s.queue.Enqueue(ctx, sc.ScheduleID, s.now().Add(backoff)); err != nil {
		s.logger.Warnw("failed to requeue scheduled call", "scheduleId", sc.ScheduleID, "error", err)
	}
}

// HandleCallOutcome feeds a terminal outbound call result back into the
// retry engine. Retryable failure classes get a ladder re-dial; budget
// exhaustion and permanent classes end the chain.
func (s *Scheduler) HandleCallOutcome(ctx context.Context, call *internal_call.Call, failureClass string) error {
	parentCallID, _ := rootOfRetryChain(call)

	attempts, err := s.store.CountRetries(ctx, parentCallID, failureClass)
	if err != nil {
		return err
	}
	next := int(attempts) + 1

	delay, ok := RetryDelay(failureClass, next)
	if !ok {
		s.logger.Infow("no retry for call outcome",
			"callId", call.CallID, "class", failureClass, "attempt", next)
		return nil
	}

	at := s.now().Add(delay)
	sc := &internal_schedule.ScheduledCall{
		UserId:      call.UserId,
		AgentID:     call.AgentID,
		PhoneNumber: call.ToNumber,
		FromNumber:  call.FromNumber,
		Timezone:    s.cfg.DefaultTimezone,
		AllowFlex:   true,
		Recurrence:  internal_schedule.RecurrenceNone,
		RetryOf:     parentCallID,
	}

	// A re-dial inherits the originating schedule's business-hours window;
	// a delay that lands outside it is pushed to the next window opening.
	if originID := originScheduleID(call.CorrelationID); originID != "" {
		if origin, gerr := s.store.Get(ctx, originID); gerr == nil && origin.RespectBusinessHours {
			sc.RespectBusinessHours = true
			sc.BusinessHoursStart = origin.BusinessHoursStart
			sc.BusinessHoursEnd = origin.BusinessHoursEnd
			sc.BusinessDays = origin.BusinessDays
			sc.Timezone = origin.Timezone
			if loc, lerr := LoadLocation(origin.Timezone); lerr == nil {
				if projected, perr := Project(at, loc, s.window(sc)); perr == nil {
					at = projected
				}
			}
		}
	}
	sc.ScheduledFor = at

	scheduleID, err := s.store.Save(ctx, sc)
	if err != nil {
		return err
	}
	if err := s.store.SaveRetry(ctx, &internal_schedule.RetryAttempt{
		ParentCallID:  parentCallID,
		AttemptNumber: next,
		FailureClass:  failureClass,
		ScheduledFor:  at,
	}); err != nil {
		return err
	}
	if err := s.queue.Enqueue(ctx, scheduleID, at); err != nil {
		return err
	}

	s.logger.Infow("retry scheduled",
		"parentCallId", parentCallID, "class", failureClass, "attempt", next,
		"at", at.Format(time.RFC3339))
	return nil
}

// spawnSuccessor creates the next occurrence of a recurring schedule.
func (s *Scheduler) spawnSuccessor(ctx context.Context, sc *internal_schedule.ScheduledCall) {
	if sc.Recurrence == "" || sc.Recurrence == internal_schedule.RecurrenceNone {
		return
	}
	if sc.MaxOccurrences > 0 && sc.Occurrence+1 > sc.MaxOccurrences {
		return
	}

	loc, err := LoadLocation(sc.Timezone)
	if err != nil {
		s.logger.Warnw("recurring schedule has invalid timezone",
			"scheduleId", sc.ScheduleID, "timezone", sc.Timezone)
		return
	}

	next := nextOccurrence(sc.ScheduledFor.In(loc), sc.Recurrence)
	if sc.EndDate != nil && next.After(*sc.EndDate) {
		return
	}

	successor := &internal_schedule.ScheduledCall{
		UserId:               sc.UserId,
		AgentID:              sc.AgentID,
		PhoneNumber:          sc.PhoneNumber,
		FromNumber:           sc.FromNumber,
		ScheduledFor:         next,
		Timezone:             sc.Timezone,
		RespectBusinessHours: sc.RespectBusinessHours,
		BusinessHoursStart:   sc.BusinessHoursStart,
		BusinessHoursEnd:     sc.BusinessHoursEnd,
		BusinessDays:         sc.BusinessDays,
		AllowFlex:            sc.AllowFlex,
		Recurrence:           sc.Recurrence,
		Occurrence:           sc.Occurrence + 1,
		MaxOccurrences:       sc.MaxOccurrences,
		EndDate:              sc.EndDate,
	}

	if successor.RespectBusinessHours {
		projected, err := Project(successor.ScheduledFor, loc, s.window(successor))
		if err == nil {
			successor.ScheduledFor = projected
		}
	}

	scheduleID, err := s.store.Save(ctx, successor)
	if err != nil {
		s.logger.Warnw("failed to save recurrence successor",
			"scheduleId", sc.ScheduleID, "error", err)
		return
	}
	if err := s.queue.Enqueue(ctx, scheduleID, successor.ScheduledFor); err != nil {
		s.logger.Warnw("failed to enqueue recurrence successor",
			"scheduleId", scheduleID, "error", err)
		return
	}
	s.logger.Infow("recurrence successor created",
		"parent", sc.ScheduleID, "scheduleId", scheduleID,
		"occurrence", successor.Occurrence,
		"at", successor.ScheduledFor.Format(time.RFC3339))
}

func (s *Scheduler) window(sc *internal_schedule.ScheduledCall) Window {
	return Window{
		Start: sc.BusinessHoursStart,
		End:   sc.BusinessHoursEnd,
		Days:  sc.Days(),
	}
}

// nextOccurrence advances by calendar arithmetic so a 09:00 daily call
// stays at 09:00 local across DST shifts.
func nextOccurrence(t time.Time, recurrence string) time.Time {
	switch recurrence {
	case internal_schedule.RecurrenceDaily:
		return t.AddDate(0, 0, 1)
	case internal_schedule.RecurrenceWeekly:
		return t.AddDate(0, 0, 7)
	case internal_schedule.RecurrenceMonthly:
		return addMonthClamped(t)
	}
	return t
}

// addMonthClamped preserves the day-of-month across the month boundary,
// clamping to the last day of shorter months. AddDate would normalize
// Jan 31 + 1 month into Mar 3.
func addMonthClamped(t time.Time) time.Time {
	year, month, day := t.Date()
	if last := daysInMonth(year, month+1); day > last {
		day = last
	}
	return time.Date(year, month+1, day,
		t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
}

func daysInMonth(year int, month time.Month) int {
	// Day zero of the following month is this month's last day.
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// rootOfRetryChain resolves the original call id a retry chain hangs off.
// Retry dials carry a correlation of the form retry:<rootCallId>:<scheduleId>.
func rootOfRetryChain(call *internal_call.Call) (string, bool) {
	if strings.HasPrefix(call.CorrelationID, "retry:") {
		parts := strings.Split(call.CorrelationID, ":")
		if len(parts) == 3 && parts[1] != "" {
			return parts[1], true
		}
	}
	return call.CallID, false
}

// originScheduleID extracts the scheduled-call id a dispatch correlation
// was minted from. Ad-hoc API dials have no schedule and yield "".
func originScheduleID(correlationID string) string {
	parts := strings.Split(correlationID, ":")
	switch {
	case strings.HasPrefix(correlationID, "schedule:") && len(parts) == 4:
		return parts[1]
	case strings.HasPrefix(correlationID, "retry:") && len(parts) == 3:
		return parts[2]
	}
	return ""
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func joinDays(days, def []int) string {
	if len(days) == 0 {
		days = def
	}
	parts := make([]string, 0, len(days))
	for _, d := range days {
		parts = append(parts, fmt.Sprintf("%d", d))
	}
	return strings.Join(parts, ",")
}
