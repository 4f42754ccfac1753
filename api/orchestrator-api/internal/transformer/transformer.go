// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package internal_transformer defines the provider-neutral streaming
// interfaces for speech-to-text, text-to-speech and language models.
// Implementations live in per-provider subpackages and are selected at
// runtime from the agent configuration snapshot.
package internal_transformer

import (
	"context"
)

// AudioConfig describes the raw audio a transformer consumes or produces.
type AudioConfig struct {
	SampleRate int    // samples per second
	Encoding   string // "linear16" or "mulaw"
	Channels   int
	Language   string
}

// SpeechToTextInitializeOptions wires event callbacks into a streaming STT
// connection. Callbacks fire on the provider's reader goroutine and must
// not block.
type SpeechToTextInitializeOptions struct {
	AudioConfig AudioConfig

	// Model options, provider-specific (model name, endpointing ms, ...).
	ModelOptions map[string]interface{}

	// OnTranscript receives partial and final transcripts.
	OnTranscript func(text string, confidence float64, language string, isFinal bool)

	// OnSpeechStarted fires when the provider detects voice activity.
	OnSpeechStarted func()

	// OnUtteranceEnd fires when the provider's endpointing decides the
	// caller stopped talking. Only fired when SupportsEndpointing.
	OnUtteranceEnd func()

	// OnClose fires when the upstream connection closes, clean or not.
	OnClose func(err error)
}

// SpeechToTextTransformer is a live transcription stream. Transform pushes
// raw audio; results come back through the initialize-time callbacks.
type SpeechToTextTransformer interface {
	Name() string
	Initialize() error
	Transform(ctx context.Context, audio []byte) error
	// SupportsEndpointing reports whether OnUtteranceEnd will ever fire;
	// callers fall back to timer-based silence detection when it is false.
	SupportsEndpointing() bool
	Close(ctx context.Context) error
}

// TextToSpeechInitializeOptions wires audio-chunk callbacks into a
// streaming TTS connection.
type TextToSpeechInitializeOptions struct {
	AudioConfig AudioConfig

	Voice        string
	ModelOptions map[string]interface{}

	// OnAudio receives raw synthesized audio chunks in AudioConfig format.
	OnAudio func(chunk []byte)

	// OnComplete fires once per Transform when the provider flushed all
	// audio for that text.
	OnComplete func()

	// OnClose fires when the upstream connection closes, clean or not.
	OnClose func(err error)
}

// TextToSpeechTransformer is a live synthesis stream. Transform pushes a
// sentence; audio comes back through the initialize-time callbacks.
// SynthesizeBatch is the non-streaming fallback used for pre-cached
// phrases.
type TextToSpeechTransformer interface {
	Name() string
	Initialize() error
	Transform(ctx context.Context, text string) error
	SynthesizeBatch(ctx context.Context, text string) ([]byte, error)
	Close(ctx context.Context) error
}

// ChatMessage is one turn handed to the language model.
type ChatMessage struct {
	Role    string // "system", "user" or "assistant"
	Content string
}

// ChatOptions tune a single completion request.
type ChatOptions struct {
	Model       string
	Temperature float64
	MaxTokens   int
}

// LargeLanguageTransformer streams completions. StreamChat invokes onDelta
// for every token group and returns the full assembled text. Cancellation
// flows through ctx.
type LargeLanguageTransformer interface {
	Name() string
	StreamChat(ctx context.Context, messages []ChatMessage, opts ChatOptions, onDelta func(delta string)) (string, error)
	Embedding(ctx context.Context, text string) ([]float32, error)
}
