// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package internal_transformer_openai

import (
	"context"
	"errors"
	"net/http"
	"strings"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"

	internal_transformer "github.com/rapidaai/orchestrator/api/orchestrator-api/internal/transformer"
	"github.com/rapidaai/orchestrator/pkg/commons"
)

type openaiTransformer struct {
	logger         commons.Logger
	client         oai.Client
	embeddingModel string
}

// Name implements internal_transformer.LargeLanguageTransformer.
func (*openaiTransformer) Name() string {
	return "openai-llm"
}

// NewOpenAITransformer creates a streaming chat + embeddings client.
func NewOpenAITransformer(logger commons.Logger, apiKey, embeddingModel string) (internal_transformer.LargeLanguageTransformer, error) {
	if apiKey == "" {
		return nil, commons.NewError(commons.KindUpstreamFatal, "openai-llm: missing api key")
	}
	if embeddingModel == "" {
		embeddingModel = "text-embedding-3-small"
	}
	client := oai.NewClient(option.WithAPIKey(apiKey))
	return &openaiTransformer{
		logger:         logger,
		client:         client,
		embeddingModel: embeddingModel,
	}, nil
}

func (ot *openaiTransformer) StreamChat(ctx context.Context, messages []internal_transformer.ChatMessage,
	opts internal_transformer.ChatOptions, onDelta func(delta string)) (string, error) {

	var oaiMessages []oai.ChatCompletionMessageParamUnion
	for _, m := range messages {
		switch m.Role {
		case "system":
			oaiMessages = append(oaiMessages, oai.SystemMessage(m.Content))
		case "assistant":
			asst := oai.ChatCompletionAssistantMessageParam{}
			asst.Content.OfString = oai.String(m.Content)
			oaiMessages = append(oaiMessages, oai.ChatCompletionMessageParamUnion{OfAssistant: &asst})
		default:
			oaiMessages = append(oaiMessages, oai.UserMessage(m.Content))
		}
	}

	params := oai.ChatCompletionNewParams{
		Model:    shared.ChatModel(opts.Model),
		Messages: oaiMessages,
	}
	if opts.Temperature != 0 {
		params.Temperature = param.NewOpt(opts.Temperature)
	}
	if opts.MaxTokens > 0 {
		params.MaxCompletionTokens = param.NewOpt(int64(opts.MaxTokens))
	}

	stream := ot.client.Chat.Completions.NewStreaming(ctx, params)
	defer stream.Close()

	var full strings.Builder
	for stream.Next() {
		chunk := stream.Current()
		if len(chunk.Choices) == 0 {
			continue
		}
		delta := chunk.Choices[0].Delta.Content
		if delta == "" {
			continue
		}
		full.WriteString(delta)
		if onDelta != nil {
			onDelta(delta)
		}
	}
	if err := stream.Err(); err != nil {
		return full.String(), classify("openai-llm: stream failed", err)
	}
	return full.String(), nil
}

func (ot *openaiTransformer) Embedding(ctx context.Context, text string) ([]float32, error) {
	resp, err := ot.client.Embeddings.New(ctx, oai.EmbeddingNewParams{
		Model: ot.embeddingModel,
		Input: oai.EmbeddingNewParamsInputUnion{
			OfString: param.NewOpt(text),
		},
	})
	if err != nil {
		return nil, classify("openai-llm: embedding failed", err)
	}
	if len(resp.Data) == 0 {
		return nil, commons.NewError(commons.KindUpstreamTransient, "openai-llm: empty embedding response")
	}

	embedding := resp.Data[0].Embedding
	out := make([]float32, len(embedding))
	for i, v := range embedding {
		out[i] = float32(v)
	}
	return out, nil
}

// classify maps an SDK error onto the retryability taxonomy: 5xx, 429 and
// transport faults are transient; other 4xx are fatal.
func classify(msg string, err error) error {
	var apiErr *oai.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == http.StatusTooManyRequests:
			return commons.WrapError(commons.KindUpstreamTransient, msg, err)
		case apiErr.StatusCode >= 500:
			return commons.WrapError(commons.KindUpstreamTransient, msg, err)
		default:
			return commons.WrapError(commons.KindUpstreamFatal, msg, err)
		}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return commons.WrapError(commons.KindUpstreamTransient, msg, err)
	}
	return commons.WrapError(commons.KindUpstreamTransient, msg, err)
}
