// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package internal_transformer_elevenlabs

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/go-resty/resty/v2"
	"github.com/gorilla/websocket"

	internal_transformer "github.com/rapidaai/orchestrator/api/orchestrator-api/internal/transformer"
	"github.com/rapidaai/orchestrator/pkg/commons"
)

const (
	streamInputURL = "wss://api.elevenlabs.io/v1/text-to-speech/%s/stream-input?model_id=%s&output_format=pcm_16000"
	batchURL       = "https://api.elevenlabs.io/v1/text-to-speech/%s?output_format=pcm_16000"
)

type elevenlabsTextToSpeech struct {
	ctx context.Context
	mu  sync.Mutex

	logger     commons.Logger
	apiKey     string
	modelId    string
	connection *websocket.Conn
	rest       *resty.Client
	options    *internal_transformer.TextToSpeechInitializeOptions
	closed     bool
}

// streamRequest is the stream-input message shape. An empty text with
// flush forces the provider to emit remaining audio for the context.
type streamRequest struct {
	Text          string         `json:"text"`
	VoiceSettings *voiceSettings `json:"voice_settings,omitempty"`
	Flush         bool           `json:"flush,omitempty"`
	XiApiKey      string         `json:"xi_api_key,omitempty"`
}

type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
}

type streamResponse struct {
	Audio   string `json:"audio"`
	IsFinal bool   `json:"isFinal"`
	Error   string `json:"error,omitempty"`
}

func NewElevenLabsTextToSpeech(
	ctx context.Context,
	logger commons.Logger,
	apiKey, modelId string,
	opts *internal_transformer.TextToSpeechInitializeOptions) (internal_transformer.TextToSpeechTransformer, error) {
	if apiKey == "" {
		return nil, commons.NewError(commons.KindUpstreamFatal, "elevenlabs-tts: missing api key")
	}
	if opts.Voice == "" {
		return nil, commons.NewError(commons.KindUpstreamFatal, "elevenlabs-tts: missing voice id")
	}
	if modelId == "" {
		modelId = "eleven_turbo_v2"
	}
	return &elevenlabsTextToSpeech{
		ctx:     ctx,
		logger:  logger,
		apiKey:  apiKey,
		modelId: modelId,
		rest:    resty.New(),
		options: opts,
	}, nil
}

// Name implements internal_transformer.TextToSpeechTransformer.
func (*elevenlabsTextToSpeech) Name() string {
	return "elevenlabs-text-to-speech"
}

// Initialize implements internal_transformer.TextToSpeechTransformer.
func (et *elevenlabsTextToSpeech) Initialize() error {
	et.mu.Lock()
	defer et.mu.Unlock()

	url := fmt.Sprintf(streamInputURL, et.options.Voice, et.modelId)
	headers := map[string][]string{
		"xi-api-key": {et.apiKey},
	}
	conn, _, err := websocket.DefaultDialer.Dial(url, headers)
	if err != nil {
		et.logger.Errorf("elevenlabs-tts: unable to connect to websocket err: %v", err)
		return commons.WrapError(commons.KindUpstreamTransient, "elevenlabs-tts: connect failed", err)
	}
	et.connection = conn

	// The first message opens the synthesis context.
	if err := conn.WriteJSON(streamRequest{
		Text:          " ",
		VoiceSettings: &voiceSettings{Stability: 0.5, SimilarityBoost: 0.8},
	}); err != nil {
		conn.Close()
		return commons.WrapError(commons.KindUpstreamTransient, "elevenlabs-tts: handshake failed", err)
	}

	go et.textToSpeechCallback(et.ctx)
	return nil
}

func (et *elevenlabsTextToSpeech) textToSpeechCallback(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			et.logger.Infof("elevenlabs-tts: context cancelled, stopping response listener")
			return
		default:
			_, message, err := et.connection.ReadMessage()
			if err != nil {
				et.mu.Lock()
				closed := et.closed
				et.mu.Unlock()
				if !closed {
					et.logger.Errorf("elevenlabs-tts: error reading from websocket: %v", err)
					if et.options.OnClose != nil {
						et.options.OnClose(commons.WrapError(commons.KindUpstreamTransient, "elevenlabs-tts: stream read failed", err))
					}
				}
				return
			}

			var resp streamResponse
			if err := json.Unmarshal(message, &resp); err != nil {
				et.logger.Errorf("elevenlabs-tts: error parsing audio chunk: %v", err)
				continue
			}
			if resp.Error != "" {
				et.logger.Errorf("elevenlabs-tts: upstream error: %s", resp.Error)
				continue
			}
			if resp.Audio != "" {
				rawAudioData, err := base64.StdEncoding.DecodeString(resp.Audio)
				if err != nil {
					et.logger.Errorf("elevenlabs-tts: error decoding base64 audio: %v", err)
					continue
				}
				if et.options.OnAudio != nil {
					et.options.OnAudio(rawAudioData)
				}
			}
			if resp.IsFinal {
				if et.options.OnComplete != nil {
					et.options.OnComplete()
				}
			}
		}
	}
}

// Transform implements internal_transformer.TextToSpeechTransformer.
// Sends a sentence followed by a flush so audio for it is emitted without
// waiting for more text.
func (et *elevenlabsTextToSpeech) Transform(ctx context.Context, text string) error {
	et.mu.Lock()
	defer et.mu.Unlock()

	if et.connection == nil || et.closed {
		return commons.NewError(commons.KindUpstreamTransient, "elevenlabs-tts: websocket connection is not initialized")
	}
	if err := et.connection.WriteJSON(streamRequest{Text: text + " "}); err != nil {
		et.logger.Errorf("elevenlabs-tts: error while writing request to websocket %v", err)
		return commons.WrapError(commons.KindUpstreamTransient, "elevenlabs-tts: write failed", err)
	}
	if err := et.connection.WriteJSON(streamRequest{Text: "", Flush: true}); err != nil {
		return commons.WrapError(commons.KindUpstreamTransient, "elevenlabs-tts: flush failed", err)
	}
	return nil
}

// SynthesizeBatch implements internal_transformer.TextToSpeechTransformer.
// One-shot HTTP synthesis, used for pre-cached fallback phrases.
func (et *elevenlabsTextToSpeech) SynthesizeBatch(ctx context.Context, text string) ([]byte, error) {
	resp, err := et.rest.R().
		SetContext(ctx).
		SetHeader("xi-api-key", et.apiKey).
		SetHeader("Content-Type", "application/json").
		SetBody(map[string]interface{}{
			"text":     text,
			"model_id": et.modelId,
		}).
		Post(fmt.Sprintf(batchURL, et.options.Voice))
	if err != nil {
		return nil, commons.WrapError(commons.KindUpstreamTransient, "elevenlabs-tts: batch request failed", err)
	}
	if resp.StatusCode() >= 500 || resp.StatusCode() == 429 {
		return nil, commons.NewErrorf(commons.KindUpstreamTransient, "elevenlabs-tts: batch synthesis status %d", resp.StatusCode())
	}
	if resp.StatusCode() >= 400 {
		return nil, commons.NewErrorf(commons.KindUpstreamFatal, "elevenlabs-tts: batch synthesis status %d", resp.StatusCode())
	}
	return resp.Body(), nil
}

// Close implements internal_transformer.TextToSpeechTransformer.
func (et *elevenlabsTextToSpeech) Close(ctx context.Context) error {
	et.mu.Lock()
	defer et.mu.Unlock()

	if et.closed {
		return nil
	}
	et.closed = true
	if et.connection != nil {
		// Empty text tells the provider to close the synthesis context.
		_ = et.connection.WriteJSON(streamRequest{Text: ""})
		et.connection.Close()
	}
	et.logger.Info("elevenlabs-tts: connection closed")
	return nil
}
