package testutil

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/fixwise/fixwise/internal/provider"
)

type chatRule struct {
	pattern  string
	response string
	err      error
}

// MockChat is a pattern-matching provider.Chat. Rules are checked in
// registration order against the user prompt; the first substring match
// wins. Without a match the Default response (or Err) is returned.
type MockChat struct {
	mu      sync.Mutex
	rules   []chatRule
	calls   []provider.Request
	Default string
	Err     error
	// Delay is applied before answering, for tests that assert
	// non-blocking behavior.
	Delay time.Duration
}

// AddResponse registers a canned response for prompts containing pattern.
func (m *MockChat) AddResponse(pattern, response string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rules = append(m.rules, chatRule{pattern: pattern, response: response})
}

// AddError registers an error for prompts containing pattern.
func (m *MockChat) AddError(pattern string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rules = append(m.rules, chatRule{pattern: pattern, err: err})
}

// Complete implements provider.Chat.
func (m *MockChat) Complete(ctx context.Context, req provider.Request) (string, error) {
	if m.Delay > 0 {
		select {
		case <-time.After(m.Delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, req)

	for _, r := range m.rules {
		if strings.Contains(req.User, r.pattern) || strings.Contains(req.System, r.pattern) {
			if r.err != nil {
				return "", r.err
			}
			return r.response, nil
		}
	}
	if m.Err != nil {
		return "", m.Err
	}
	return m.Default, nil
}

// Calls returns a copy of all recorded requests.
func (m *MockChat) Calls() []provider.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]provider.Request(nil), m.calls...)
}

// CallCount returns how many completions were requested.
func (m *MockChat) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// MockSearch is a pattern-matching provider.Search.
type MockSearch struct {
	mu        sync.Mutex
	rules     []chatRule
	calls     []provider.Request
	Citations []string
	Default   string
	Err       error
	Delay     time.Duration
}

// AddResponse registers a canned response for prompts containing pattern.
func (m *MockSearch) AddResponse(pattern, response string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rules = append(m.rules, chatRule{pattern: pattern, response: response})
}

// AddError registers an error for prompts containing pattern.
func (m *MockSearch) AddError(pattern string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rules = append(m.rules, chatRule{pattern: pattern, err: err})
}

// Research implements provider.Search.
func (m *MockSearch) Research(ctx context.Context, req provider.Request) (provider.SearchResult, error) {
	if m.Delay > 0 {
		select {
		case <-time.After(m.Delay):
		case <-ctx.Done():
			return provider.SearchResult{}, ctx.Err()
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, req)

	for _, r := range m.rules {
		if strings.Contains(req.User, r.pattern) || strings.Contains(req.System, r.pattern) {
			if r.err != nil {
				return provider.SearchResult{}, r.err
			}
			return provider.SearchResult{Content: r.response, Citations: m.Citations}, nil
		}
	}
	if m.Err != nil {
		return provider.SearchResult{}, m.Err
	}
	return provider.SearchResult{Content: m.Default, Citations: m.Citations}, nil
}

// CallCount returns how many research calls were made.
func (m *MockSearch) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// MockEmbedder returns a deterministic vector derived from the input
// text, so equal texts embed equally.
type MockEmbedder struct {
	mu    sync.Mutex
	calls []string
	Dims  int
	Err   error
}

// Embed implements provider.Embedder.
func (m *MockEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	m.mu.Lock()
	m.calls = append(m.calls, text)
	m.mu.Unlock()

	if m.Err != nil {
		return nil, m.Err
	}

	dims := m.Dims
	if dims == 0 {
		dims = 1536
	}
	vec := make([]float32, dims)
	var seed float32
	for _, r := range text {
		seed += float32(r)
	}
	for i := range vec {
		vec[i] = (seed + float32(i)) / (seed + float32(dims))
	}
	return vec, nil
}

// CallCount returns how many embeddings were requested.
func (m *MockEmbedder) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}
