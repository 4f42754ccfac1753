// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package internal_session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	internal_agent "github.com/rapidaai/orchestrator/api/orchestrator-api/internal/agent"
	"github.com/rapidaai/orchestrator/pkg/commons"
)

func testSession(callID string) *Session {
	deps := Dependencies{Logger: commons.NewNopLogger()}
	return NewSession(context.Background(), deps, DefaultConfig(),
		callID, &internal_agent.Agent{}, newFakeConn())
}

// ===== registry =====

func TestRegistry_RegisterLookupRemove(t *testing.T) {
	r := NewRegistry()
	s := testSession("call-1")

	r.Register(s)
	assert.Equal(t, 1, r.Count())

	got, ok := r.Get("call-1")
	require.True(t, ok)
	assert.Same(t, s, got)

	r.Remove("call-1")
	assert.Equal(t, 0, r.Count())
	_, ok = r.Get("call-1")
	assert.False(t, ok)
}

func TestRegistry_RemoveUnknownIsNoop(t *testing.T) {
	r := NewRegistry()
	r.Remove("nope")
	assert.Equal(t, 0, r.Count())
}

func TestRegistry_CancelAllRequestsEnd(t *testing.T) {
	r := NewRegistry()
	a := testSession("call-a")
	b := testSession("call-b")
	r.Register(a)
	r.Register(b)

	r.CancelAll()

	// RequestEnd is delivered through each session's event channel.
	for _, s := range []*Session{a, b} {
		select {
		case ev := <-s.eventCh:
			assert.Equal(t, evEndRequested, ev.kind)
			assert.Equal(t, "shutdown", ev.reason)
		case <-time.After(time.Second):
			t.Fatalf("no end event for %s", s.CallID())
		}
	}
}
