// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package internal_session runs one live voice call: the media websocket,
// the STT/LLM/TTS pipelines and the conversation state machine. Each
// session is an actor; its run loop owns all state transitions and other
// goroutines communicate through the event channel only.
package internal_session

import (
	"context"
	"math"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	internal_agent "github.com/rapidaai/orchestrator/api/orchestrator-api/internal/agent"
	internal_sentence_assembler "github.com/rapidaai/orchestrator/api/orchestrator-api/internal/assembler/text"
	internal_audio "github.com/rapidaai/orchestrator/api/orchestrator-api/internal/audio"
	internal_call "github.com/rapidaai/orchestrator/api/orchestrator-api/internal/call"
	internal_knowledge "github.com/rapidaai/orchestrator/api/orchestrator-api/internal/knowledge"
	internal_pool "github.com/rapidaai/orchestrator/api/orchestrator-api/internal/pool"
	internal_prompt "github.com/rapidaai/orchestrator/api/orchestrator-api/internal/prompt"
	internal_twilio "github.com/rapidaai/orchestrator/api/orchestrator-api/internal/telephony/twilio"
	internal_transformer "github.com/rapidaai/orchestrator/api/orchestrator-api/internal/transformer"
	"github.com/rapidaai/orchestrator/pkg/commons"
)

type eventKind int

const (
	evStart eventKind = iota
	evSpeechStarted
	evTranscript
	evUtteranceEnd
	evSilence
	evTurnDone
	evWsClosed
	evEndRequested
)

type event struct {
	kind    eventKind
	text    string
	isFinal bool
	reason  string
	start   *internal_twilio.StartPayload
}

// STTFactory creates a live transcription stream for one session.
type STTFactory func(ctx context.Context, opts *internal_transformer.SpeechToTextInitializeOptions) (internal_transformer.SpeechToTextTransformer, error)

// TTSFactory creates a live synthesis stream for one session.
type TTSFactory func(ctx context.Context, opts *internal_transformer.TextToSpeechInitializeOptions) (internal_transformer.TextToSpeechTransformer, error)

// Dependencies wires the session to the rest of the process. Per-session
// STT/TTS clients come from factories; the LLM client is stateless and
// shared.
type Dependencies struct {
	Logger    commons.Logger
	Pool      *internal_pool.Pool
	Calls     internal_call.Store
	Registry  *Registry
	Retriever *internal_knowledge.Retriever
	Prompt    *internal_prompt.Builder
	LLM       internal_transformer.LargeLanguageTransformer
	NewSTT    STTFactory
	NewTTS    TTSFactory

	// Hangup requests provider-side call termination.
	Hangup func(callSid string) error
}

// Session is one live voice call.
type Session struct {
	deps   Dependencies
	cfg    Config
	logger commons.Logger

	callID string
	agent  *internal_agent.Agent

	conn   MediaConn
	writer *Writer

	ctx    context.Context
	cancel context.CancelFunc

	eventCh chan event

	// Run-loop-owned state. Only the run loop reads or writes these.
	state             State
	streamSid         string
	providerCallSid   string
	currentTranscript strings.Builder
	history           []internal_transformer.ChatMessage
	turnSeq           int
	isProcessing      bool
	endReason         string
	failureReason     string
	producedAudio     bool

	stt internal_transformer.SpeechToTextTransformer
	tts internal_transformer.TextToSpeechTransformer

	silenceMu    sync.Mutex
	silenceTimer *time.Timer

	turnMu     sync.Mutex
	turnCancel context.CancelFunc

	// speechGate admits synthesis audio onto the wire. Synthesis chunks
	// arrive on the TTS reader goroutine after Transform returns, so a
	// barge-in closes the gate to stop the tail of the canceled reply.
	speechGate atomic.Bool

	endOnce sync.Once
}

// NewSession prepares a session for an accepted media websocket. agent is
// the call's frozen configuration snapshot.
func NewSession(parent context.Context, deps Dependencies, cfg Config,
	callID string, agent *internal_agent.Agent, conn MediaConn) *Session {

	ctx, cancel := context.WithCancel(parent)
	return &Session{
		deps:    deps,
		cfg:     cfg,
		logger:  deps.Logger,
		callID:  callID,
		agent:   agent,
		conn:    conn,
		writer:  NewWriter(deps.Logger, conn),
		ctx:     ctx,
		cancel:  cancel,
		eventCh: make(chan event, 64),
		state:   StateConnecting,
	}
}

// CallID returns the session's call identifier.
func (s *Session) CallID() string { return s.callID }

// State returns the current lifecycle position. Racy by nature; intended
// for the stats surface only.
func (s *Session) State() State { return s.state }

// RequestEnd asks the session to wind down cooperatively.
func (s *Session) RequestEnd(reason string) {
	s.push(event{kind: evEndRequested, reason: reason})
}

// push delivers an event without blocking; the run loop consumes fast, so
// a full channel means the session is already wedged and dropping is safer
// than deadlocking a provider callback.
func (s *Session) push(ev event) {
	select {
	case s.eventCh <- ev:
	default:
		s.logger.Warnw("session event channel full, dropping event",
			"callId", s.callID, "kind", ev.kind)
	}
}

// Run drives the session to completion. It returns after cleanup.
func (s *Session) Run() error {
	defer s.cleanup()

	// Connecting: one STT lease per session for the life of the call.
	lease, err := s.deps.Pool.Acquire(s.ctx, s.callID)
	if err != nil {
		s.logger.Warnw("session could not acquire stt lease", "callId", s.callID, "error", err)
		s.failureReason = string(commons.KindOf(err))
		s.state = StateEnded
		return err
	}
	defer lease.Release()

	s.deps.Registry.Register(s)

	go s.readLoop()

	// The provider's start frame carries the stream identifiers; nothing
	// can be spoken before it arrives.
	if err := s.awaitStart(); err != nil {
		s.failureReason = string(commons.KindOf(err))
		s.state = StateEnded
		return err
	}

	if err := s.initPipelines(); err != nil {
		s.failureReason = string(commons.KindOf(err))
		s.state = StateEnded
		return err
	}

	if err := s.deps.Calls.MarkStarted(s.ctx, s.callID, s.streamSid); err != nil {
		s.logger.Warnw("failed to mark call started", "callId", s.callID, "error", err)
	}

	// Greeting: the agent speaks first in both directions.
	s.state = StateGreeting
	if greeting := strings.TrimSpace(s.agent.Greeting); greeting != "" {
		s.speak(s.ctx, greeting)
		s.appendTurn(internal_call.RoleAssistant, greeting)
	}
	s.state = StateIdle

	s.loop()
	return nil
}

// awaitStart blocks until the provider start frame, the websocket closing,
// or a 10 s cap.
func (s *Session) awaitStart() error {
	timer := time.NewTimer(10 * time.Second)
	defer timer.Stop()
	for {
		select {
		case ev := <-s.eventCh:
			switch ev.kind {
			case evStart:
				s.streamSid = ev.start.StreamSid
				s.providerCallSid = ev.start.CallSid
				s.writer.SetStreamSid(s.streamSid)
				s.logger.Infow("media stream started",
					"callId", s.callID, "streamSid", s.streamSid, "callSid", s.providerCallSid)
				return nil
			case evWsClosed:
				return commons.NewError(commons.KindUpstreamTransient, "websocket closed before start frame")
			}
		case <-timer.C:
			return commons.NewError(commons.KindUpstreamTransient, "no start frame within 10s")
		case <-s.ctx.Done():
			return commons.WrapError(commons.KindShuttingDown, "session canceled", s.ctx.Err())
		}
	}
}

// initPipelines opens the per-session STT and TTS streams. A transient STT
// failure gets one reconnect attempt after 500 ms.
func (s *Session) initPipelines() error {
	sttOpts := &internal_transformer.SpeechToTextInitializeOptions{
		AudioConfig: internal_transformer.AudioConfig{
			SampleRate: internal_audio.CanonicalRate,
			Encoding:   "linear16",
			Channels:   1,
			Language:   s.agent.Language,
		},
		ModelOptions: map[string]interface{}{"model": s.agent.SttModel},
		OnTranscript: func(text string, confidence float64, language string, isFinal bool) {
			s.push(event{kind: evTranscript, text: text, isFinal: isFinal})
		},
		OnSpeechStarted: func() {
			s.push(event{kind: evSpeechStarted})
		},
		OnUtteranceEnd: func() {
			s.push(event{kind: evUtteranceEnd})
		},
		OnClose: func(err error) {
			if err != nil {
				s.logger.Warnw("stt stream closed with error", "callId", s.callID, "error", err)
			}
		},
	}

	stt, err := s.deps.NewSTT(s.ctx, sttOpts)
	if err != nil {
		return err
	}
	if err := stt.Initialize(); err != nil {
		if !commons.Retryable(err) {
			return err
		}
		time.Sleep(500 * time.Millisecond)
		if err := stt.Initialize(); err != nil {
			s.speakApology()
			return err
		}
	}
	s.stt = stt

	ttsOpts := &internal_transformer.TextToSpeechInitializeOptions{
		AudioConfig: internal_transformer.AudioConfig{
			SampleRate: internal_audio.CanonicalRate,
			Encoding:   "linear16",
			Channels:   1,
		},
		Voice: s.agent.TtsVoiceId,
		OnAudio: func(chunk []byte) {
			s.onSynthesizedAudio(chunk)
		},
	}
	tts, err := s.deps.NewTTS(s.ctx, ttsOpts)
	if err != nil {
		return err
	}
	if err := tts.Initialize(); err != nil {
		return err
	}
	s.tts = tts
	return nil
}

// readLoop pumps the media websocket into STT and the event channel.
func (s *Session) readLoop() {
	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			s.writer.MarkClosed()
			s.push(event{kind: evWsClosed})
			return
		}

		frame, err := internal_twilio.ParseInboundFrame(raw)
		if err != nil {
			s.logger.Debugw("dropping malformed media frame", "callId", s.callID, "error", err)
			continue
		}

		switch frame.Event {
		case internal_twilio.EventStart:
			if frame.Start != nil {
				s.push(event{kind: evStart, start: frame.Start})
			}
		case internal_twilio.EventMedia:
			mulaw, err := frame.Audio()
			if err != nil {
				continue
			}
			pcm16k, err := internal_audio.DecodeMulaw8k(mulaw)
			if err != nil {
				continue
			}
			if s.stt != nil {
				if err := s.stt.Transform(s.ctx, pcm16k); err != nil {
					s.logger.Debugw("stt push failed", "callId", s.callID, "error", err)
				}
			}
			s.resetSilenceTimer()
		case internal_twilio.EventDTMF:
			if frame.DTMF != nil {
				s.logger.Infow("dtmf digit received", "callId", s.callID, "digit", frame.DTMF.Digit)
			}
		case internal_twilio.EventStop:
			s.push(event{kind: evWsClosed})
			return
		}
	}
}

// loop is the state machine proper.
func (s *Session) loop() {
	for {
		select {
		case ev := <-s.eventCh:
			switch ev.kind {
			case evSpeechStarted:
				s.onSpeechStarted()
			case evTranscript:
				if ev.isFinal {
					if s.currentTranscript.Len() > 0 {
						s.currentTranscript.WriteString(" ")
					}
					s.currentTranscript.WriteString(strings.TrimSpace(ev.text))
					if s.state == StateIdle {
						s.state = StateListening
					}
				}
			case evUtteranceEnd, evSilence:
				s.maybeStartTurn()
			case evTurnDone:
				if s.state == StateThinking || s.state == StateSpeaking {
					s.state = StateIdle
				}
				s.isProcessing = false
				// Speech that accumulated while the turn ran.
				s.maybeStartTurn()
			case evEndRequested:
				s.endReason = ev.reason
				s.doEnding()
				return
			case evWsClosed:
				s.state = StateEnded
				return
			}
		case <-s.ctx.Done():
			s.state = StateEnded
			return
		}
	}
}

// onSpeechStarted handles barge-in: a caller talking over the agent
// cancels synthesis, flushes provider-side audio and returns to listening.
func (s *Session) onSpeechStarted() {
	if s.state == StateSpeaking {
		s.logger.Infow("barge-in detected, canceling current reply", "callId", s.callID)
		s.speechGate.Store(false)
		s.cancelTurn()
		if err := s.writer.WriteClear(); err != nil {
			s.logger.Debugw("clear frame failed", "callId", s.callID, "error", err)
		}
	}
	if s.state == StateIdle || s.state == StateSpeaking {
		s.state = StateListening
	}
}

// maybeStartTurn moves Listening → Thinking when there is a transcript and
// no turn already running.
func (s *Session) maybeStartTurn() {
	if s.isProcessing {
		return
	}
	turn := strings.TrimSpace(s.currentTranscript.String())
	if turn == "" {
		return
	}
	s.currentTranscript.Reset()
	s.isProcessing = true
	s.state = StateThinking

	turnCtx, cancel := context.WithCancel(s.ctx)
	s.turnMu.Lock()
	s.turnCancel = cancel
	s.turnMu.Unlock()

	go func() {
		defer s.push(event{kind: evTurnDone})
		s.runTurn(turnCtx, turn)
	}()
}

func (s *Session) cancelTurn() {
	s.turnMu.Lock()
	if s.turnCancel != nil {
		s.turnCancel()
		s.turnCancel = nil
	}
	s.turnMu.Unlock()
}

// runTurn executes one Thinking/Speaking cycle for a finished utterance.
func (s *Session) runTurn(ctx context.Context, turn string) {
	s.appendTurn(internal_call.RoleUser, turn)

	// End-call detection runs before any model work.
	if ContainsEndPhrase(turn, s.agent.Phrases()) {
		s.logger.Infow("end-call phrase detected", "callId", s.callID)
		s.RequestEnd("caller_goodbye")
		return
	}

	// Knowledge retrieval is best-effort; an error degrades to no context.
	var hits []internal_knowledge.ScoredChunk
	if s.agent.KnowledgeEnabled && s.deps.Retriever != nil {
		if found, err := s.deps.Retriever.Retrieve(ctx, s.agent.Id, turn); err == nil {
			hits = found
		}
	}

	messages := s.deps.Prompt.Messages(s.agent.Persona, hits, s.history, turn)

	reply, err := s.streamReply(ctx, messages, s.agent.Temperature)
	if err != nil && commons.Retryable(err) && ctx.Err() == nil {
		// One retry at a cooler temperature.
		retryTemp := math.Min(s.agent.Temperature, 0.5)
		s.logger.Warnw("llm stream failed, retrying", "callId", s.callID, "error", err)
		reply, err = s.streamReply(ctx, messages, retryTemp)
	}
	if err != nil {
		if ctx.Err() != nil {
			return // barge-in or shutdown, not a failure
		}
		s.logger.Errorw("llm turn failed", "callId", s.callID, "error", err)
		s.speak(ctx, fallbackPhrase)
		return
	}
	if reply != "" {
		s.appendTurn(internal_call.RoleAssistant, reply)
	}
}

// streamReply runs one LLM streaming completion, speaking sentences as
// they assemble. First-token and mid-stream watchdogs cancel stalled
// generations.
func (s *Session) streamReply(ctx context.Context, messages []internal_transformer.ChatMessage, temperature float64) (string, error) {
	llmCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	watchdog := time.AfterFunc(s.cfg.LlmFirstTokenTimeout, cancel)
	defer watchdog.Stop()

	// Dead air past the comfort threshold gets a short filler.
	holding := time.AfterFunc(s.cfg.HoldingAudioAfter, func() {
		s.speak(ctx, holdingPhrase)
	})
	defer holding.Stop()

	assembler := internal_sentence_assembler.NewSentenceAssembler(0)
	s.state = StateSpeaking

	reply, err := s.deps.LLM.StreamChat(llmCtx, messages, internal_transformer.ChatOptions{
		Model:       s.agent.LlmModel,
		Temperature: temperature,
	}, func(delta string) {
		holding.Stop()
		watchdog.Reset(s.cfg.LlmMidStreamTimeout)
		for _, sentence := range assembler.Push(delta) {
			s.speak(ctx, sentence)
		}
	})
	if err != nil {
		if ctx.Err() == nil && llmCtx.Err() != nil {
			// The watchdog fired, not the caller.
			return reply, commons.NewError(commons.KindUpstreamTransient, "llm stream stalled")
		}
		return reply, err
	}
	if sentence, ok := assembler.Flush(); ok {
		s.speak(ctx, sentence)
	}
	return reply, nil
}

// speak streams one sentence into the synthesis socket under the
// per-sentence deadline; the audio itself arrives asynchronously through
// onSynthesizedAudio and goes out only while the speech gate is open. A
// transient failure on the first attempt is retried once with a shorter
// fallback.
func (s *Session) speak(ctx context.Context, sentence string) {
	if s.tts == nil || ctx.Err() != nil {
		return
	}
	s.speechGate.Store(true)
	deadline, cancel := context.WithTimeout(ctx, s.cfg.TtsSentenceTimeout)
	defer cancel()

	if err := s.tts.Transform(deadline, sentence); err != nil {
		if !commons.Retryable(err) {
			s.logger.Warnw("tts synthesis failed", "callId", s.callID, "error", err)
			return
		}
		if err := s.tts.Transform(deadline, fallbackPhrase); err != nil {
			s.logger.Warnw("tts fallback failed, skipping sentence", "callId", s.callID, "error", err)
			return
		}
	}
	if err := s.writer.WriteMark(s.writer.NextMarkName("sentence")); err != nil {
		s.logger.Debugw("mark write failed", "callId", s.callID, "error", err)
	}
}

// onSynthesizedAudio converts canonical TTS audio to the wire rate and
// bursts it out. Chunks landing after a barge-in closed the gate belong to
// a reply the caller already talked over and are dropped.
func (s *Session) onSynthesizedAudio(pcm16k []byte) {
	if !s.speechGate.Load() {
		s.logger.Debugw("dropping synthesis audio, speech gate closed", "callId", s.callID)
		return
	}
	pcm8k, err := internal_audio.Downsample16kTo8k(pcm16k)
	if err != nil {
		s.logger.Debugw("tts chunk resample failed", "callId", s.callID, "error", err)
		return
	}
	if _, err := s.writer.WriteSpeech(pcm8k); err == nil {
		s.producedAudio = true
	}
}

func (s *Session) speakApology() {
	if s.tts == nil {
		return
	}
	s.speechGate.Store(true)
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.TtsSentenceTimeout)
	defer cancel()
	_ = s.tts.Transform(ctx, apologyPhrase)
}

// doEnding speaks the farewell, asks the provider to hang up and waits for
// the websocket to close, capped at 3 s.
func (s *Session) doEnding() {
	s.state = StateEnding
	s.cancelTurn()

	farewell := strings.TrimSpace(s.agent.Farewell)
	if farewell == "" {
		farewell = builtinFarewell
	}
	if s.endReason != "shutdown" {
		s.speak(s.ctx, farewell)
		s.appendTurn(internal_call.RoleAssistant, farewell)
	}

	if s.deps.Hangup != nil && s.providerCallSid != "" {
		if err := s.deps.Hangup(s.providerCallSid); err != nil {
			s.logger.Warnw("provider hangup failed", "callId", s.callID, "error", err)
		}
	}

	cap := time.NewTimer(3 * time.Second)
	defer cap.Stop()
	for {
		select {
		case ev := <-s.eventCh:
			if ev.kind == evWsClosed {
				s.state = StateEnded
				return
			}
		case <-cap.C:
			s.state = StateEnded
			return
		case <-s.ctx.Done():
			s.state = StateEnded
			return
		}
	}
}

// appendTurn records one transcript turn in memory and durably.
func (s *Session) appendTurn(role, text string) {
	s.turnSeq++
	s.history = append(s.history, internal_transformer.ChatMessage{Role: role, Content: text})

	turn := &internal_call.TranscriptTurn{Seq: s.turnSeq, Role: role, Text: text}
	if err := s.deps.Calls.AppendTurn(s.ctx, s.callID, turn); err != nil {
		s.logger.Warnw("failed to persist transcript turn", "callId", s.callID, "error", err)
	}
}

// resetSilenceTimer arms the time-based utterance fallback. Only used when
// the STT provider cannot signal utterance end itself.
func (s *Session) resetSilenceTimer() {
	if s.stt != nil && s.stt.SupportsEndpointing() {
		return
	}
	threshold := s.cfg.BatchSilence
	s.silenceMu.Lock()
	defer s.silenceMu.Unlock()
	if s.silenceTimer != nil {
		s.silenceTimer.Stop()
	}
	s.silenceTimer = time.AfterFunc(threshold, func() {
		s.push(event{kind: evSilence})
	})
}

// cleanup tears the session down inside the grace window: cancel work,
// close pipelines, persist the final call state, deregister.
func (s *Session) cleanup() {
	s.endOnce.Do(func() {
		graceCtx, cancel := context.WithTimeout(context.Background(), s.cfg.GraceWindow)
		defer cancel()

		s.speechGate.Store(false)
		s.cancelTurn()
		s.cancel()

		if s.stt != nil {
			_ = s.stt.Close(graceCtx)
		}
		if s.tts != nil {
			_ = s.tts.Close(graceCtx)
		}
		_ = s.conn.Close()

		// A call that produced audio always completes; failures before
		// audio carry the failure class.
		status := internal_call.StatusCompleted
		reason := ""
		if !s.producedAudio && s.failureReason != "" {
			status = internal_call.StatusFailed
			reason = s.failureReason
		}
		if err := s.deps.Calls.Finish(graceCtx, s.callID, status, reason); err != nil {
			s.logger.Warnw("failed to finish call record", "callId", s.callID, "error", err)
		}

		s.silenceMu.Lock()
		if s.silenceTimer != nil {
			s.silenceTimer.Stop()
		}
		s.silenceMu.Unlock()

		s.deps.Registry.Remove(s.callID)
		s.logger.Infow("session ended",
			"callId", s.callID, "reason", s.endReason, "framesSent", s.writer.Sequence())
	})
}

