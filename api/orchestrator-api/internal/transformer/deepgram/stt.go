// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package internal_transformer_deepgram

import (
	"context"
	"sync"

	msginterfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket/interfaces"
	interfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"
	listen "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/listen"

	internal_transformer "github.com/rapidaai/orchestrator/api/orchestrator-api/internal/transformer"
	"github.com/rapidaai/orchestrator/pkg/commons"
	"github.com/rapidaai/orchestrator/pkg/utils"
)

type deepgramSpeechToText struct {
	mu                 sync.Mutex
	logger             commons.Logger
	ctx                context.Context
	apiKey             string
	client             *listen.WSCallback
	transformerOptions *internal_transformer.SpeechToTextInitializeOptions
	closed             bool
}

// Name implements internal_transformer.SpeechToTextTransformer.
func (*deepgramSpeechToText) Name() string {
	return "deepgram-speech-to-text"
}

// SupportsEndpointing: deepgram fires UtteranceEnd from server-side VAD, so
// sessions rely on it instead of timer-based silence detection.
func (*deepgramSpeechToText) SupportsEndpointing() bool {
	return true
}

func NewDeepgramSpeechToText(ctx context.Context,
	logger commons.Logger,
	apiKey string,
	transformerOptions *internal_transformer.SpeechToTextInitializeOptions,
) (internal_transformer.SpeechToTextTransformer, error) {
	if apiKey == "" {
		return nil, commons.NewError(commons.KindUpstreamFatal, "deepgram-stt: missing api key")
	}
	return &deepgramSpeechToText{
		ctx:                ctx,
		logger:             logger,
		apiKey:             apiKey,
		transformerOptions: transformerOptions,
	}, nil
}

// liveOptions maps the neutral options onto deepgram live transcription
// options. Interim results and VAD events are always on; the session needs
// partials for barge-in and speech-started for cancellation.
func (dst *deepgramSpeechToText) liveOptions() *interfaces.LiveTranscriptionOptions {
	modelOpts := utils.Option(dst.transformerOptions.ModelOptions)
	audio := dst.transformerOptions.AudioConfig

	language := audio.Language
	if language == "" {
		language = "en-US"
	}
	channels := audio.Channels
	if channels == 0 {
		channels = 1
	}
	model := "nova-2"
	if m, ok := modelOpts.GetString("model"); ok {
		model = m
	}
	endpointing := "300"
	if e, ok := modelOpts.GetString("endpointing"); ok {
		endpointing = e
	}

	return &interfaces.LiveTranscriptionOptions{
		Model:          model,
		Language:       language,
		Channels:       channels,
		SmartFormat:    true,
		InterimResults: true,
		FillerWords:    true,
		VadEvents:      true,
		Endpointing:    endpointing,
		Punctuate:      true,
		NoDelay:        true,
		Encoding:       audio.Encoding,
		SampleRate:     audio.SampleRate,
	}
}

func (dst *deepgramSpeechToText) Initialize() error {
	dst.mu.Lock()
	defer dst.mu.Unlock()

	callback := &deepgramCallback{parent: dst}
	client, err := listen.NewWSUsingCallback(
		dst.ctx, dst.apiKey, &interfaces.ClientOptions{}, dst.liveOptions(), callback)
	if err != nil {
		return commons.WrapError(commons.KindUpstreamTransient, "deepgram-stt: failed to create client", err)
	}
	if !client.Connect() {
		return commons.NewError(commons.KindUpstreamTransient, "deepgram-stt: failed to connect")
	}

	dst.client = client
	dst.logger.Infow("deepgram-stt: live transcription connected",
		"sampleRate", dst.transformerOptions.AudioConfig.SampleRate)
	return nil
}

func (dst *deepgramSpeechToText) Transform(ctx context.Context, audio []byte) error {
	dst.mu.Lock()
	defer dst.mu.Unlock()

	if dst.client == nil || dst.closed {
		return commons.NewError(commons.KindUpstreamTransient, "deepgram-stt: connection is not initialized")
	}
	if err := dst.client.WriteBinary(audio); err != nil {
		return commons.WrapError(commons.KindUpstreamTransient, "deepgram-stt: failed to send audio", err)
	}
	return nil
}

func (dst *deepgramSpeechToText) Close(ctx context.Context) error {
	dst.mu.Lock()
	defer dst.mu.Unlock()

	if dst.closed {
		return nil
	}
	dst.closed = true
	if dst.client != nil {
		dst.client.Stop()
	}
	dst.logger.Info("deepgram-stt: connection closed")
	return nil
}

// deepgramCallback adapts SDK events onto the neutral callbacks.
type deepgramCallback struct {
	parent *deepgramSpeechToText
}

func (c *deepgramCallback) Open(or *msginterfaces.OpenResponse) error {
	c.parent.logger.Debug("deepgram-stt: websocket open")
	return nil
}

func (c *deepgramCallback) Message(mr *msginterfaces.MessageResponse) error {
	if len(mr.Channel.Alternatives) == 0 {
		return nil
	}
	alt := mr.Channel.Alternatives[0]
	if alt.Transcript == "" {
		return nil
	}
	if c.parent.transformerOptions.OnTranscript != nil {
		c.parent.transformerOptions.OnTranscript(
			alt.Transcript,
			alt.Confidence,
			c.parent.transformerOptions.AudioConfig.Language,
			mr.IsFinal,
		)
	}
	return nil
}

func (c *deepgramCallback) Metadata(md *msginterfaces.MetadataResponse) error {
	return nil
}

func (c *deepgramCallback) SpeechStarted(ssr *msginterfaces.SpeechStartedResponse) error {
	if c.parent.transformerOptions.OnSpeechStarted != nil {
		c.parent.transformerOptions.OnSpeechStarted()
	}
	return nil
}

func (c *deepgramCallback) UtteranceEnd(ur *msginterfaces.UtteranceEndResponse) error {
	if c.parent.transformerOptions.OnUtteranceEnd != nil {
		c.parent.transformerOptions.OnUtteranceEnd()
	}
	return nil
}

func (c *deepgramCallback) Close(cr *msginterfaces.CloseResponse) error {
	if c.parent.transformerOptions.OnClose != nil {
		c.parent.transformerOptions.OnClose(nil)
	}
	return nil
}

func (c *deepgramCallback) Error(er *msginterfaces.ErrorResponse) error {
	c.parent.logger.Errorw("deepgram-stt: upstream error", "error", er.ErrMsg)
	if c.parent.transformerOptions.OnClose != nil {
		c.parent.transformerOptions.OnClose(
			commons.NewErrorf(commons.KindUpstreamTransient, "deepgram-stt: %s", er.ErrMsg))
	}
	return nil
}

func (c *deepgramCallback) UnhandledEvent(byData []byte) error {
	return nil
}
