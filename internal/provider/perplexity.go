package provider

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

const perplexityBaseURL = "https://api.perplexity.ai"

// Perplexity implements Search. Perplexity is wire-compatible with the
// OpenAI chat API but adds a top-level citations array, which the typed
// response drops, so citations are re-read from the raw body.
type Perplexity struct {
	client openai.Client
}

// NewPerplexity creates a client. Returns ErrNoAPIKey when apiKey is
// empty.
func NewPerplexity(apiKey string, opts ...OpenAIOption) (*Perplexity, error) {
	if apiKey == "" {
		return nil, ErrNoAPIKey
	}
	all := append([]option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithBaseURL(perplexityBaseURL),
	}, opts...)
	return &Perplexity{client: openai.NewClient(all...)}, nil
}

// Research runs a web-grounded completion and extracts cited URLs.
func (p *Perplexity) Research(ctx context.Context, req Request) (SearchResult, error) {
	resp, err := p.client.Chat.Completions.New(ctx, chatParams(req))
	if err != nil {
		return SearchResult{}, fmt.Errorf("perplexity completion: %w", err)
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return SearchResult{}, ErrEmptyResponse
	}

	return SearchResult{
		Content:   resp.Choices[0].Message.Content,
		Citations: parseCitations(resp.RawJSON()),
	}, nil
}

func parseCitations(raw string) []string {
	var envelope struct {
		Citations []string `json:"citations"`
	}
	if err := json.Unmarshal([]byte(raw), &envelope); err != nil {
		return nil
	}
	return envelope.Citations
}
