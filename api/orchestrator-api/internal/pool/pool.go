// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package internal_pool

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/rapidaai/orchestrator/pkg/commons"
)

// Pool bounds the number of concurrent upstream streaming connections
// (one lease per live STT stream). Callers beyond the limit wait in a
// bounded FIFO queue; when the queue itself is full, acquisition fails
// immediately instead of waiting.
//
// The pool is process-wide and immutable after construction. Leases are
// owner-tagged: one owner (session) may hold at most one lease, so a
// session bug cannot drain the pool.
type Pool struct {
	logger commons.Logger

	maxConnections int
	maxQueueSize   int
	acquireTimeout time.Duration

	mu       sync.Mutex
	inUse    map[string]*Lease // owner -> lease
	waiters  *list.List        // of *waiter, FIFO
	closed   bool
	acquired uint64 // lifetime counters for the stats surface
	timedOut uint64
	rejected uint64
}

type waiter struct {
	owner string
	ready chan *Lease
}

// Lease is one held pool slot. Release returns the slot; it is idempotent.
type Lease struct {
	pool     *Pool
	owner    string
	issuedAt time.Time

	releaseOnce sync.Once
}

// Stats is a point-in-time snapshot of the pool's observable state.
type Stats struct {
	MaxConnections int    `json:"maxConnections"`
	InUse          int    `json:"inUse"`
	Waiting        int    `json:"waiting"`
	MaxQueueSize   int    `json:"maxQueueSize"`
	TotalAcquired  uint64 `json:"totalAcquired"`
	TotalTimedOut  uint64 `json:"totalTimedOut"`
	TotalRejected  uint64 `json:"totalRejected"`
}

// Option configures a Pool.
type Option func(*Pool)

// WithMaxConnections sets the lease limit.
func WithMaxConnections(n int) Option {
	return func(p *Pool) { p.maxConnections = n }
}

// WithMaxQueueSize sets the waiter queue bound.
func WithMaxQueueSize(n int) Option {
	return func(p *Pool) { p.maxQueueSize = n }
}

// WithAcquireTimeout sets how long a queued caller waits before giving up.
func WithAcquireTimeout(d time.Duration) Option {
	return func(p *Pool) { p.acquireTimeout = d }
}

// NewPool creates a connection pool with the given limits.
func NewPool(logger commons.Logger, opts ...Option) *Pool {
	p := &Pool{
		logger:         logger,
		maxConnections: 20,
		maxQueueSize:   50,
		acquireTimeout: 30 * time.Second,
		inUse:          make(map[string]*Lease),
		waiters:        list.New(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Acquire obtains a lease for owner, waiting in FIFO order behind earlier
// callers when the pool is saturated. Fails with:
//   - Conflict if owner already holds a lease,
//   - ResourceExhausted if the waiter queue is full,
//   - AcquireTimeout when the wait exceeds the configured timeout,
//   - ShuttingDown once Shutdown has begun.
//
// ctx cancellation is honored while waiting.
func (p *Pool) Acquire(ctx context.Context, owner string) (*Lease, error) {
	p.mu.Lock()

	if p.closed {
		p.mu.Unlock()
		return nil, commons.NewError(commons.KindShuttingDown, "pool is shutting down")
	}
	if _, held := p.inUse[owner]; held {
		p.mu.Unlock()
		return nil, commons.NewErrorf(commons.KindConflict, "owner %s already holds a lease", owner)
	}

	// Fast path: capacity available and nobody queued ahead.
	if len(p.inUse) < p.maxConnections && p.waiters.Len() == 0 {
		lease := p.grantLocked(owner)
		p.mu.Unlock()
		return lease, nil
	}

	if p.waiters.Len() >= p.maxQueueSize {
		p.rejected++
		p.mu.Unlock()
		p.logger.Warnw("pool queue full, rejecting acquire", "owner", owner)
		return nil, commons.NewError(commons.KindResourceExhausted, "connection pool and queue are full")
	}

	w := &waiter{owner: owner, ready: make(chan *Lease, 1)}
	elem := p.waiters.PushBack(w)
	p.mu.Unlock()

	timer := time.NewTimer(p.acquireTimeout)
	defer timer.Stop()

	select {
	case lease := <-w.ready:
		if lease == nil {
			return nil, commons.NewError(commons.KindShuttingDown, "pool is shutting down")
		}
		return lease, nil
	case <-timer.C:
		if lease := p.abandonWaiter(elem, w); lease != nil {
			// Grant raced the timeout; keep the lease rather than leak it.
			return lease, nil
		}
		p.mu.Lock()
		p.timedOut++
		p.mu.Unlock()
		return nil, commons.NewErrorf(commons.KindAcquireTimeout, "no connection available within %s", p.acquireTimeout)
	case <-ctx.Done():
		if lease := p.abandonWaiter(elem, w); lease != nil {
			return lease, nil
		}
		return nil, commons.WrapError(commons.KindAcquireTimeout, "acquire canceled", ctx.Err())
	}
}

// abandonWaiter removes a waiter from the queue. If a grant already raced
// in, the granted lease is returned so the caller can use or release it.
func (p *Pool) abandonWaiter(elem *list.Element, w *waiter) *Lease {
	p.mu.Lock()
	defer p.mu.Unlock()
	select {
	case lease := <-w.ready:
		return lease
	default:
	}
	p.waiters.Remove(elem)
	return nil
}

// grantLocked issues a lease to owner. Caller holds p.mu.
func (p *Pool) grantLocked(owner string) *Lease {
	lease := &Lease{pool: p, owner: owner, issuedAt: time.Now()}
	p.inUse[owner] = lease
	p.acquired++
	p.logger.Debugw("pool lease granted", "owner", owner, "inUse", len(p.inUse))
	return lease
}

// Release returns the slot and hands it to the oldest waiter, if any.
func (l *Lease) Release() {
	l.releaseOnce.Do(func() {
		p := l.pool
		p.mu.Lock()
		defer p.mu.Unlock()

		delete(p.inUse, l.owner)
		p.logger.Debugw("pool lease released", "owner", l.owner, "heldFor", time.Since(l.issuedAt).String())

		for p.waiters.Len() > 0 && len(p.inUse) < p.maxConnections {
			elem := p.waiters.Front()
			w := elem.Value.(*waiter)
			p.waiters.Remove(elem)
			if _, held := p.inUse[w.owner]; held {
				// Should not happen; double-acquire is rejected up front.
				continue
			}
			w.ready <- p.grantLocked(w.owner)
		}
	})
}

// Owner returns the lease holder's identifier.
func (l *Lease) Owner() string {
	return l.owner
}

// Stats snapshots the pool counters.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{
		MaxConnections: p.maxConnections,
		InUse:          len(p.inUse),
		Waiting:        p.waiters.Len(),
		MaxQueueSize:   p.maxQueueSize,
		TotalAcquired:  p.acquired,
		TotalTimedOut:  p.timedOut,
		TotalRejected:  p.rejected,
	}
}

// Shutdown stops new acquisitions, fails all queued waiters and waits for
// held leases to drain or ctx to expire, whichever is first.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	p.closed = true
	for p.waiters.Len() > 0 {
		elem := p.waiters.Front()
		w := elem.Value.(*waiter)
		p.waiters.Remove(elem)
		w.ready <- nil
	}
	p.mu.Unlock()

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		p.mu.Lock()
		remaining := len(p.inUse)
		p.mu.Unlock()
		if remaining == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			p.logger.Warnw("pool shutdown with leases still held", "remaining", remaining)
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
