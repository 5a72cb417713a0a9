// Package api exposes the fixwise pipeline as a JSON HTTP API.
package api

import (
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fixwise/fixwise/internal/config"
	"github.com/fixwise/fixwise/internal/enrich"
	"github.com/fixwise/fixwise/internal/guides"
	"github.com/fixwise/fixwise/internal/harvest"
	"github.com/fixwise/fixwise/internal/log"
	"github.com/fixwise/fixwise/internal/provider"
)

// ServerConfig carries the dependencies of the API server.
type ServerConfig struct {
	Logger    log.Logger
	Pipeline  *enrich.Pipeline    // Required
	Generator *guides.Generator   // Required
	Harvester *harvest.Harvester  // Optional: nil disables /harvest/run
	Chat      provider.Chat       // Optional: nil disables /chat
	Embedder  provider.Embedder   // Optional: used by /chat retrieval
	Retriever Retriever           // Optional: used by /chat retrieval
	Pool      *pgxpool.Pool       // Optional: nil disables pool ping in /ready
	Server    config.Server
	Models    config.Providers
}

// Server is the JSON API HTTP server.
type Server struct {
	handler http.Handler
}

// NewServer wires routes and the middleware stack. Stack order,
// outermost first: recovery, requestID, logging, CORS, rate limit,
// auth. Health probes bypass the stack.
func NewServer(cfg ServerConfig) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = log.NewNop()
	}

	h := &handlers{
		pipeline:  cfg.Pipeline,
		generator: cfg.Generator,
		harvester: cfg.Harvester,
		logger:    logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/analyze", h.analyze)
	mux.HandleFunc("POST /api/v1/enrich", h.enrich)
	mux.HandleFunc("POST /api/v1/guides", h.guide)
	mux.HandleFunc("POST /api/v1/guides/fill", h.guidesFill)
	mux.HandleFunc("POST /api/v1/guides/translate", h.guidesTranslate)

	if cfg.Harvester != nil {
		mux.HandleFunc("POST /api/v1/harvest/run", h.harvestRun)
	}

	if cfg.Chat != nil {
		ch := &chatHandler{
			chat:      cfg.Chat,
			embedder:  cfg.Embedder,
			retriever: cfg.Retriever,
			models:    cfg.Models,
			logger:    logger,
		}
		mux.HandleFunc("POST /api/v1/chat", ch.send)
	}

	perSecond := cfg.Server.RateLimitPerSecond
	if perSecond <= 0 {
		perSecond = 5
	}
	burst := cfg.Server.RateLimitBurst
	if burst <= 0 {
		burst = 10
	}
	rl := newRateLimiter(perSecond, burst)

	var handler http.Handler = mux
	handler = authMiddleware(cfg.Server.APIToken, logger)(handler)
	handler = rateLimitMiddleware(rl, logger)(handler)
	handler = corsMiddleware(cfg.Server.AllowedOrigins)(handler)
	handler = loggingMiddleware(logger)(handler)
	handler = requestIDMiddleware()(handler)
	handler = recoveryMiddleware(logger)(handler)

	top := http.NewServeMux()
	top.HandleFunc("GET /health", health)
	top.Handle("GET /ready", readiness(cfg.Pool))
	top.Handle("/", handler)

	return &Server{handler: top}
}

// Handler returns the root handler, suitable for http.Server and tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}
