package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/fixwise/fixwise/internal/config"
	"github.com/fixwise/fixwise/internal/knowledge"
	"github.com/fixwise/fixwise/internal/log"
	"github.com/fixwise/fixwise/internal/provider"
)

const chatTopK = 5

// Retriever finds knowledge entries near an embedding.
type Retriever interface {
	SearchSimilar(ctx context.Context, lang string, embedding []float32, topK int) ([]knowledge.SearchHit, error)
}

// chatHandler answers free-form questions grounded in the knowledge
// base. Retrieval is best effort: without an embedder or retriever the
// model answers from its own knowledge.
type chatHandler struct {
	chat      provider.Chat
	embedder  provider.Embedder
	retriever Retriever
	models    config.Providers
	logger    log.Logger
}

type chatRequest struct {
	Message        string `json:"message"`
	Language       string `json:"language,omitempty"`
	VehicleContext string `json:"vehicleContext,omitempty"`
}

type chatResponse struct {
	Answer  string   `json:"answer"`
	Sources []string `json:"sources,omitempty"`
}

func (c *chatHandler) send(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if !decodeBody(w, r, &req) || strings.TrimSpace(req.Message) == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "message is required", c.logger)
		return
	}
	lang := req.Language
	if lang == "" {
		lang = "de"
	}
	if !config.ValidLanguage(lang) {
		writeError(w, http.StatusBadRequest, "bad_request", "unsupported language", c.logger)
		return
	}

	hits := c.retrieve(r.Context(), req.Message, lang)

	answer, err := c.chat.Complete(r.Context(), provider.Request{
		Model:       c.models.FallbackModel,
		System:      chatSystemPrompt(lang, req.VehicleContext, hits),
		User:        req.Message,
		Temperature: 0.3,
	})
	if err != nil {
		status, code := mapError(err)
		writeError(w, status, code, err.Error(), c.logger)
		return
	}

	resp := chatResponse{Answer: answer}
	for _, hit := range hits {
		resp.Sources = append(resp.Sources, hit.Topic)
	}
	writeJSON(w, http.StatusOK, resp, c.logger)
}

func (c *chatHandler) retrieve(ctx context.Context, message, lang string) []knowledge.SearchHit {
	if c.embedder == nil || c.retriever == nil {
		return nil
	}
	vec, err := c.embedder.Embed(ctx, message)
	if err != nil {
		c.logger.Warn("chat query embedding failed", "error", err)
		return nil
	}
	hits, err := c.retriever.SearchSimilar(ctx, lang, vec, chatTopK)
	if err != nil {
		c.logger.Warn("chat retrieval failed", "error", err)
		return nil
	}
	return hits
}

var chatLanguageNames = map[string]string{
	"de": "German",
	"en": "English",
	"fr": "French",
	"es": "Spanish",
}

func chatSystemPrompt(lang, vehicleContext string, hits []knowledge.SearchHit) string {
	var b strings.Builder
	fmt.Fprintf(&b, `You are an experienced automotive assistant for DIY mechanics.
Answer in %s. Be concrete and practical. Recommend a workshop when a
repair exceeds DIY level.`, chatLanguageNames[lang])

	if vehicleContext != "" {
		fmt.Fprintf(&b, "\n\nThe user's vehicle: %s", vehicleContext)
	}
	if len(hits) > 0 {
		b.WriteString("\n\nKnowledge base excerpts, use them when relevant:")
		for _, h := range hits {
			fmt.Fprintf(&b, "\n\n## %s\n%s", h.Title, h.Content)
		}
	}
	return b.String()
}
