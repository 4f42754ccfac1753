// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package internal_session

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	internal_audio "github.com/rapidaai/orchestrator/api/orchestrator-api/internal/audio"
	"github.com/rapidaai/orchestrator/pkg/commons"
)

// fakeConn records every websocket write; failAfter >= 0 makes the nth
// write fail.
type fakeConn struct {
	mu        sync.Mutex
	writes    [][]byte
	failAfter int
	closed    bool
}

func newFakeConn() *fakeConn {
	return &fakeConn{failAfter: -1}
}

func (f *fakeConn) ReadMessage() (int, []byte, error) {
	return 0, nil, errors.New("not implemented")
}

func (f *fakeConn) WriteMessage(messageType int, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAfter >= 0 && len(f.writes) >= f.failAfter {
		return errors.New("connection reset")
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	f.writes = append(f.writes, buf)
	return nil
}

func (f *fakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

type mediaEnvelope struct {
	Event          string `json:"event"`
	StreamSid      string `json:"streamSid"`
	SequenceNumber string `json:"sequenceNumber"`
	Media          struct {
		Track     string `json:"track"`
		Chunk     string `json:"chunk"`
		Timestamp string `json:"timestamp"`
		Payload   string `json:"payload"`
	} `json:"media"`
}

// ===== speech bursts =====

func TestWriter_WriteSpeechFrameInvariants(t *testing.T) {
	conn := newFakeConn()
	w := NewWriter(commons.NewNopLogger(), conn)
	w.SetStreamSid("MZtest")

	// 1001 samples: not frame aligned, forces padding on the tail.
	pcm := make([]byte, 1001*2)
	frames, err := w.WriteSpeech(pcm)
	require.NoError(t, err)
	assert.Equal(t, len(conn.writes), frames)
	assert.Equal(t, uint64(frames), w.Sequence())

	lastSeq := uint64(0)
	sentMs := uint64(0)
	for _, raw := range conn.writes {
		var env mediaEnvelope
		require.NoError(t, json.Unmarshal(raw, &env))
		assert.Equal(t, "media", env.Event)
		assert.Equal(t, "MZtest", env.StreamSid)
		assert.Equal(t, "outbound", env.Media.Track)
		assert.Equal(t, env.SequenceNumber, env.Media.Chunk)

		seq, err := strconv.ParseUint(env.SequenceNumber, 10, 64)
		require.NoError(t, err)
		assert.Greater(t, seq, lastSeq)
		lastSeq = seq

		ts, err := strconv.ParseUint(env.Media.Timestamp, 10, 64)
		require.NoError(t, err)
		assert.Equal(t, sentMs, ts)

		// Payload stays linear PCM 8 kHz 16-bit: a positive multiple of
		// the 20 ms frame size, never compressed.
		payload, err := base64.StdEncoding.DecodeString(env.Media.Payload)
		require.NoError(t, err)
		assert.Zero(t, len(payload)%internal_audio.FrameBytes)
		assert.NotZero(t, len(payload))
		assert.LessOrEqual(t, len(payload), internal_audio.MaxFrameBytes)
		sentMs += uint64(len(payload)) / pcm8kBytesPerMs
	}
}

func TestWriter_SequenceMonotonic(t *testing.T) {
	conn := newFakeConn()
	w := NewWriter(commons.NewNopLogger(), conn)
	w.SetStreamSid("MZtest")

	pcm := make([]byte, internal_audio.FrameBytes)
	for i := 0; i < 5; i++ {
		_, err := w.WriteSpeech(pcm)
		require.NoError(t, err)
	}
	assert.Equal(t, uint64(5), w.Sequence())
}

func TestWriter_MidBurstFailureReportsShortfall(t *testing.T) {
	conn := newFakeConn()
	conn.failAfter = 2
	w := NewWriter(commons.NewNopLogger(), conn)
	w.SetStreamSid("MZtest")

	// Enough audio for several max-size frames.
	pcm := make([]byte, internal_audio.MaxFrameBytes*3)
	sent, err := w.WriteSpeech(pcm)
	require.Error(t, err)
	assert.True(t, commons.IsKind(err, commons.KindUpstreamTransient))
	assert.Equal(t, 2, sent)

	// Socket is now flagged dead; later writes fail fast.
	_, err = w.WriteSpeech(make([]byte, internal_audio.FrameBytes))
	assert.Error(t, err)
	assert.Equal(t, 2, len(conn.writes))
}

func TestWriter_MarkClosedStopsWrites(t *testing.T) {
	conn := newFakeConn()
	w := NewWriter(commons.NewNopLogger(), conn)
	w.SetStreamSid("MZtest")

	w.MarkClosed()
	_, err := w.WriteSpeech(make([]byte, internal_audio.FrameBytes))
	assert.Error(t, err)
	assert.Error(t, w.WriteMark("m-1"))
	assert.Error(t, w.WriteClear())
	assert.Empty(t, conn.writes)
}

// ===== control frames =====

func TestWriter_MarkAndClear(t *testing.T) {
	conn := newFakeConn()
	w := NewWriter(commons.NewNopLogger(), conn)
	w.SetStreamSid("MZtest")

	require.NoError(t, w.WriteMark("sentence-0"))
	require.NoError(t, w.WriteClear())
	require.Len(t, conn.writes, 2)

	var mark map[string]interface{}
	require.NoError(t, json.Unmarshal(conn.writes[0], &mark))
	assert.Equal(t, "mark", mark["event"])

	var clear map[string]interface{}
	require.NoError(t, json.Unmarshal(conn.writes[1], &clear))
	assert.Equal(t, "clear", clear["event"])
}

func TestWriter_NextMarkNameUnique(t *testing.T) {
	conn := newFakeConn()
	w := NewWriter(commons.NewNopLogger(), conn)
	w.SetStreamSid("MZtest")

	first := w.NextMarkName("sentence")
	_, err := w.WriteSpeech(make([]byte, internal_audio.FrameBytes))
	require.NoError(t, err)
	second := w.NextMarkName("sentence")
	assert.NotEqual(t, first, second)
}
