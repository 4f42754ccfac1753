// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package internal_outbound places outbound calls: rollout gating,
// idempotency, the per-user concurrency cap, dial pacing and the provider
// circuit breaker all live here, in front of the telephony client.
package internal_outbound

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	internal_agent "github.com/rapidaai/orchestrator/api/orchestrator-api/internal/agent"
	internal_call "github.com/rapidaai/orchestrator/api/orchestrator-api/internal/call"
	internal_phone "github.com/rapidaai/orchestrator/api/orchestrator-api/internal/phone"
	internal_session "github.com/rapidaai/orchestrator/api/orchestrator-api/internal/session"
	internal_twilio "github.com/rapidaai/orchestrator/api/orchestrator-api/internal/telephony/twilio"
	"github.com/rapidaai/orchestrator/config"
	"github.com/rapidaai/orchestrator/pkg/commons"
	"github.com/rapidaai/orchestrator/pkg/connectors"
	"github.com/rapidaai/orchestrator/pkg/utils"
)

const correlationTTL = 24 * time.Hour

// Dialer is the slice of the telephony client the controller needs.
// *internal_twilio.Telephony satisfies it; tests substitute a fake.
type Dialer interface {
	CreateCall(from, to, answerURL, statusURL string) (string, error)
	Hangup(callSid string) error
}

// DialerFactory builds a provider client from decrypted credentials.
type DialerFactory func(accountSid, authToken string) (Dialer, error)

// DefaultDialerFactory builds the Twilio-backed dialer.
func DefaultDialerFactory(logger commons.Logger) DialerFactory {
	return func(accountSid, authToken string) (Dialer, error) {
		return internal_twilio.NewTelephony(logger, accountSid, authToken)
	}
}

// Request is one outbound call submission.
type Request struct {
	UserId        uint64
	AgentID       uint64
	FromNumber    string
	ToNumber      string
	CorrelationID string
}

// Controller owns outbound call placement.
type Controller struct {
	logger        commons.Logger
	cfg           config.OutboundConfig
	rolloutPct    int
	publicBaseURL string

	calls    internal_call.Store
	agents   internal_agent.Store
	phones   internal_phone.Store
	redis    connectors.RedisConnector
	registry *internal_session.Registry

	newDialer DialerFactory

	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker[string]

	dialMu   sync.Mutex
	lastDial time.Time
}

// NewController wires the outbound call path.
func NewController(
	logger commons.Logger,
	cfg config.OutboundConfig,
	rolloutPct int,
	publicBaseURL string,
	calls internal_call.Store,
	agents internal_agent.Store,
	phones internal_phone.Store,
	redis connectors.RedisConnector,
	registry *internal_session.Registry,
	newDialer DialerFactory,
) *Controller {
	breaker := gobreaker.NewCircuitBreaker[string](gobreaker.Settings{
		Name:        "telephony",
		MaxRequests: 1, // one probe while half-open
		Timeout:     time.Duration(cfg.BreakerOpenMs) * time.Millisecond,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(cfg.BreakerThreshold)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warnw("telephony breaker state change",
				"breaker", name, "from", from.String(), "to", to.String())
		},
	})

	return &Controller{
		logger:        logger,
		cfg:           cfg,
		rolloutPct:    rolloutPct,
		publicBaseURL: publicBaseURL,
		calls:         calls,
		agents:        agents,
		phones:        phones,
		redis:         redis,
		registry:      registry,
		newDialer:     newDialer,
		limiter:       rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec),
		breaker:       breaker,
	}
}

// Dial validates and places one outbound call. On an idempotency hit the
// existing call is returned with no new dial.
func (c *Controller) Dial(ctx context.Context, req Request) (*internal_call.Call, error) {
	if !utils.InRollout(fmt.Sprintf("%d", req.UserId), c.rolloutPct) {
		return nil, commons.NewError(commons.KindPolicyRejected, "outbound calling is not enabled for this account")
	}
	if !utils.IsE164(req.ToNumber) {
		return nil, commons.NewErrorf(commons.KindValidation, "to number %q is not E.164", req.ToNumber)
	}
	if !utils.IsE164(req.FromNumber) {
		return nil, commons.NewErrorf(commons.KindValidation, "from number %q is not E.164", req.FromNumber)
	}

	if req.CorrelationID != "" {
		if existing, done, err := c.claimCorrelation(ctx, req.CorrelationID); done {
			return existing, err
		}
	}

	// The cap is controller-wide: every non-terminal outbound call counts,
	// regardless of which user placed it.
	active, err := c.calls.CountActive(ctx)
	if err != nil {
		return nil, err
	}
	if active >= int64(c.cfg.MaxConcurrent) {
		return nil, commons.NewErrorf(commons.KindResourceExhausted,
			"active outbound call limit of %d reached", c.cfg.MaxConcurrent)
	}

	agent, err := c.agents.GetForUser(ctx, req.AgentID, req.UserId)
	if err != nil {
		return nil, err
	}
	snapshot, err := agent.Snapshot()
	if err != nil {
		return nil, commons.WrapError(commons.KindInternal, "failed to snapshot agent", err)
	}

	phone, err := c.phones.GetByNumber(ctx, req.FromNumber)
	if err != nil {
		return nil, err
	}
	creds, err := c.phones.Credentials(phone)
	if err != nil {
		return nil, err
	}
	dialer, err := c.newDialer(creds.AccountSid, creds.AuthToken)
	if err != nil {
		return nil, err
	}

	call := &internal_call.Call{
		UserId:        req.UserId,
		Direction:     internal_call.DirectionOutbound,
		FromNumber:    req.FromNumber,
		ToNumber:      req.ToNumber,
		AgentID:       agent.Id,
		CorrelationID: req.CorrelationID,
		AgentSnapshot: snapshot,
	}
	callID, err := c.calls.Save(ctx, call)
	if err != nil {
		return nil, err
	}

	if err := c.pace(ctx); err != nil {
		c.finishFailed(callID, "canceled_before_dial")
		return nil, err
	}

	sid, err := c.breaker.Execute(func() (string, error) {
		return dialer.CreateCall(req.FromNumber, req.ToNumber,
			c.answerURL(callID), c.statusURL())
	})
	if err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			c.finishFailed(callID, "provider_circuit_open")
			return nil, commons.NewError(commons.KindAcquireTimeout, "telephony provider temporarily unavailable")
		}
		c.finishFailed(callID, string(commons.KindOf(err)))
		return nil, err
	}

	if err := c.calls.SetProviderSid(ctx, callID, sid); err != nil {
		c.logger.Warnw("failed to record provider sid", "callId", callID, "error", err)
	}
	if err := c.calls.Transition(ctx, callID,
		[]string{internal_call.StatusQueued}, internal_call.StatusInitiated); err != nil {
		c.logger.Warnw("queued to initiated transition failed", "callId", callID, "error", err)
	}

	c.logger.Infow("outbound call placed",
		"callId", callID, "to", req.ToNumber, "providerSid", sid)
	return c.calls.Get(ctx, callID)
}

// Cancel stops a call. A live session winds down cooperatively; a call
// that has not connected yet is hung up at the provider and marked
// canceled. Terminal calls return Conflict.
func (c *Controller) Cancel(ctx context.Context, callID string) error {
	call, err := c.calls.Get(ctx, callID)
	if err != nil {
		return err
	}
	if call.IsTerminal() {
		return commons.NewErrorf(commons.KindConflict, "call %s already %s", callID, call.Status)
	}

	if s, ok := c.registry.Get(callID); ok {
		s.RequestEnd("canceled")
		return nil
	}

	if call.ProviderCallSid != "" {
		phone, err := c.phones.GetByNumber(ctx, call.FromNumber)
		if err == nil {
			if creds, err := c.phones.Credentials(phone); err == nil {
				if dialer, err := c.newDialer(creds.AccountSid, creds.AuthToken); err == nil {
					if err := dialer.Hangup(call.ProviderCallSid); err != nil {
						c.logger.Warnw("provider hangup failed on cancel",
							"callId", callID, "error", err)
					}
				}
			}
		}
	}

	return c.calls.Transition(ctx, callID,
		internal_call.NonTerminalStatuses, internal_call.StatusCanceled)
}

// claimCorrelation implements 24 h submission idempotency. The first
// caller claims the key in Redis and proceeds; later callers get the
// original call back, or Conflict while the original is still being set
// up.
func (c *Controller) claimCorrelation(ctx context.Context, correlationID string) (*internal_call.Call, bool, error) {
	key := "outbound:corr:" + correlationID

	claimed := true
	if c.redis != nil {
		var err error
		claimed, err = c.redis.Client().SetNX(ctx, key, "1", correlationTTL).Result()
		if err != nil {
			// Redis down degrades to database-only dedupe.
			c.logger.Warnw("correlation claim failed, falling back to database", "error", err)
			claimed = true
		}
	}
	if claimed {
		// Belt and braces: a prior claim may have expired in Redis while
		// the call row is still inside the window.
		if existing, err := c.calls.GetByCorrelation(ctx, correlationID); err == nil {
			return existing, true, nil
		}
		return nil, false, nil
	}

	existing, err := c.calls.GetByCorrelation(ctx, correlationID)
	if err != nil {
		if commons.IsKind(err, commons.KindNotFound) {
			return nil, true, commons.NewErrorf(commons.KindConflict,
				"submission %s is already in progress", correlationID)
		}
		return nil, true, err
	}
	return existing, true, nil
}

// pace enforces the global dial rate and the minimum spacing between
// consecutive dials.
func (c *Controller) pace(ctx context.Context) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return commons.WrapError(commons.KindShuttingDown, "dial canceled while pacing", err)
	}

	spacing := time.Duration(c.cfg.MinSpacingMs) * time.Millisecond
	c.dialMu.Lock()
	wait := spacing - time.Since(c.lastDial)
	if wait > 0 {
		c.lastDial = c.lastDial.Add(spacing)
	} else {
		c.lastDial = time.Now()
		wait = 0
	}
	c.dialMu.Unlock()

	if wait > 0 {
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return commons.WrapError(commons.KindShuttingDown, "dial canceled while pacing", ctx.Err())
		}
	}
	return nil
}

func (c *Controller) finishFailed(callID, reason string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.calls.Finish(ctx, callID, internal_call.StatusFailed, reason); err != nil {
		c.logger.Warnw("failed to mark call failed", "callId", callID, "error", err)
	}
}

func (c *Controller) answerURL(callID string) string {
	return fmt.Sprintf("%s/v1/telephony/answer?callId=%s", c.publicBaseURL, callID)
}

func (c *Controller) statusURL() string {
	return fmt.Sprintf("%s/v1/telephony/status", c.publicBaseURL)
}
