// Package provider wraps the AI provider APIs behind small interfaces.
//
// Three capabilities are used by the pipeline: chat completion
// (structuring, translation, guide generation), web-grounded search
// (Perplexity) and text embeddings. Perplexity speaks the OpenAI wire
// protocol, so a single client library covers all three.
package provider

import (
	"context"
	"errors"
)

// ErrNoAPIKey is returned by constructors when the provider credential
// is missing. Callers short-circuit to their fallback tier on it.
var ErrNoAPIKey = errors.New("provider API key not configured")

// ErrEmptyResponse is returned when a provider answers 2xx but with no
// usable content.
var ErrEmptyResponse = errors.New("provider returned empty response")

// Request is a single-turn completion request.
type Request struct {
	Model       string
	System      string
	User        string
	Temperature float64
	// JSONMode asks the provider to emit a JSON object.
	JSONMode  bool
	MaxTokens int
}

// SearchResult is a web-grounded completion plus the source URLs the
// provider cited.
type SearchResult struct {
	Content   string
	Citations []string
}

// Chat produces plain completions.
type Chat interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// Search produces web-grounded completions with citations.
type Search interface {
	Research(ctx context.Context, req Request) (SearchResult, error)
}

// Embedder produces embedding vectors for knowledge-base text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}
