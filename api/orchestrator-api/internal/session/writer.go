// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package internal_session

import (
	"fmt"
	"sync"

	"github.com/gorilla/websocket"

	internal_audio "github.com/rapidaai/orchestrator/api/orchestrator-api/internal/audio"
	internal_twilio "github.com/rapidaai/orchestrator/api/orchestrator-api/internal/telephony/twilio"
	"github.com/rapidaai/orchestrator/pkg/commons"
)

// MediaConn is the subset of the websocket connection the session uses.
// *websocket.Conn satisfies it; tests substitute a fake.
type MediaConn interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Writer serializes all outbound media websocket writes for one session.
// Frames go out in a tight burst with no artificial inter-frame sleeps;
// websocket back-pressure is the only throttle. Every frame carries a
// per-session monotonically increasing sequence number.
type Writer struct {
	logger commons.Logger

	mu        sync.Mutex
	conn      MediaConn
	streamSid string
	seq       uint64
	sentMs    uint64
	closed    bool
}

// 8 kHz PCM16 mono: 16 bytes of payload per millisecond of audio.
const pcm8kBytesPerMs = internal_audio.TelephonyRate * 2 / 1000

// NewWriter wraps a live media websocket.
func NewWriter(logger commons.Logger, conn MediaConn) *Writer {
	return &Writer{logger: logger, conn: conn}
}

// SetStreamSid latches the provider stream id from the start frame.
func (w *Writer) SetStreamSid(sid string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.streamSid = sid
}

// Sequence returns the number of media frames written so far.
func (w *Writer) Sequence() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.seq
}

// WriteSpeech frames 8 kHz PCM16 and bursts the frames onto the websocket.
// The wire payload stays linear PCM little-endian, a positive multiple of
// 320 bytes per frame; each frame carries the next sequence number and the
// cumulative play-out timestamp. Returns frames written; if the socket dies
// mid-burst the shortfall is logged and the remainder dropped.
func (w *Writer) WriteSpeech(pcm8k []byte) (int, error) {
	frames, err := internal_audio.FrameForProvider(pcm8k)
	if err != nil {
		return 0, err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	for i, frame := range frames {
		if w.closed {
			w.logger.Warnw("media websocket closed mid-burst",
				"sent", i, "total", len(frames), "seq", w.seq)
			return i, commons.NewError(commons.KindUpstreamTransient, "media websocket closed")
		}
		payload, err := internal_twilio.BuildMediaFrame(w.streamSid, w.seq+1, w.sentMs, frame)
		if err != nil {
			return i, err
		}
		if err := w.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			w.closed = true
			w.logger.Warnw("media websocket write failed mid-burst",
				"sent", i, "total", len(frames), "seq", w.seq, "error", err)
			return i, commons.WrapError(commons.KindUpstreamTransient, "media write failed", err)
		}
		w.seq++
		w.sentMs += uint64(len(frame)) / pcm8kBytesPerMs
	}
	return len(frames), nil
}

// WriteMark asks the provider to echo a playback marker after the audio
// queued so far.
func (w *Writer) WriteMark(name string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return commons.NewError(commons.KindUpstreamTransient, "media websocket closed")
	}
	payload, err := internal_twilio.BuildMarkFrame(w.streamSid, name)
	if err != nil {
		return err
	}
	if err := w.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		w.closed = true
		return commons.WrapError(commons.KindUpstreamTransient, "mark write failed", err)
	}
	return nil
}

// WriteClear flushes provider-side buffered audio. Used on barge-in so the
// caller stops hearing the half-spoken reply immediately.
func (w *Writer) WriteClear() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return commons.NewError(commons.KindUpstreamTransient, "media websocket closed")
	}
	payload, err := internal_twilio.BuildClearFrame(w.streamSid)
	if err != nil {
		return err
	}
	if err := w.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		w.closed = true
		return commons.WrapError(commons.KindUpstreamTransient, "clear write failed", err)
	}
	return nil
}

// MarkClosed flags the socket dead so later writes fail fast.
func (w *Writer) MarkClosed() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
}

// NextMarkName generates a unique marker name from the frame sequence.
func (w *Writer) NextMarkName(prefix string) string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return fmt.Sprintf("%s-%d", prefix, w.seq)
}
