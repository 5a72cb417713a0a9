package provider

import (
	"context"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAI implements Chat and Embedder against the OpenAI API.
type OpenAI struct {
	client     openai.Client
	embedModel string
	dims       int
}

// OpenAIOption customizes the underlying client, mainly for tests.
type OpenAIOption = option.RequestOption

// NewOpenAI creates a client. Returns ErrNoAPIKey when apiKey is empty
// so callers can degrade instead of failing at request time.
func NewOpenAI(apiKey, embeddingModel string, embeddingDims int, opts ...OpenAIOption) (*OpenAI, error) {
	if apiKey == "" {
		return nil, ErrNoAPIKey
	}
	if embeddingModel == "" {
		embeddingModel = string(openai.EmbeddingModelTextEmbedding3Small)
	}
	all := append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	return &OpenAI{
		client:     openai.NewClient(all...),
		embedModel: embeddingModel,
		dims:       embeddingDims,
	}, nil
}

// Complete runs a single-turn chat completion and returns the message
// content.
func (o *OpenAI) Complete(ctx context.Context, req Request) (string, error) {
	resp, err := o.client.Chat.Completions.New(ctx, chatParams(req))
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return "", ErrEmptyResponse
	}
	return resp.Choices[0].Message.Content, nil
}

// Embed returns the embedding vector for text.
func (o *OpenAI) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := o.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Model:      openai.EmbeddingModel(o.embedModel),
		Input:      openai.EmbeddingNewParamsInputUnion{OfString: openai.String(text)},
		Dimensions: openai.Int(int64(o.dims)),
	})
	if err != nil {
		return nil, fmt.Errorf("create embedding: %w", err)
	}
	if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
		return nil, ErrEmptyResponse
	}

	vec := make([]float32, len(resp.Data[0].Embedding))
	for i, v := range resp.Data[0].Embedding {
		vec[i] = float32(v)
	}
	return vec, nil
}

// chatParams maps a Request onto the wire params shared by OpenAI and
// Perplexity.
func chatParams(req Request) openai.ChatCompletionNewParams {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, 2)
	if req.System != "" {
		messages = append(messages, openai.SystemMessage(req.System))
	}
	messages = append(messages, openai.UserMessage(req.User))

	params := openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(req.Model),
		Messages:    messages,
		Temperature: openai.Float(req.Temperature),
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.MaxTokens))
	}
	if req.JSONMode {
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &openai.ResponseFormatJSONObjectParam{},
		}
	}
	return params
}
