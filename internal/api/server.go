// Package api exposes the HTTP surface: chat submission with streamed or
// buffered delivery, conversation management, and health probes.
package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/costera/costera/internal/auth"
	"github.com/costera/costera/internal/chat"
	"github.com/costera/costera/internal/conversation"
)

// ServerConfig contains configuration for creating the API server.
type ServerConfig struct {
	Logger        *slog.Logger
	Controller    *chat.Controller    // Required
	Conversations *conversation.Store // Required
	Resolver      *auth.Resolver      // Required
	Pool          *pgxpool.Pool       // Optional: nil disables the database check in /ready
	CORSOrigins   []string            // Allowed origins for CORS
	IsDev         bool                // Disables HSTS
	TrustProxy    bool                // Trust X-Real-IP/X-Forwarded-For headers
	RateBurst     int                 // Rate limiter burst size per IP (0 = default 60)
}

// Server is the JSON API HTTP server.
type Server struct {
	mux *http.ServeMux
}

// NewServer creates the API server with all routes configured.
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Controller == nil {
		return nil, errors.New("chat controller is required")
	}
	if cfg.Conversations == nil {
		return nil, errors.New("conversation store is required")
	}
	if cfg.Resolver == nil {
		return nil, errors.New("credential resolver is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	ch := &chatHandler{
		controller: cfg.Controller,
		resolver:   cfg.Resolver,
		logger:     logger,
	}
	cv := &conversationHandler{
		store:    cfg.Conversations,
		resolver: cfg.Resolver,
		logger:   logger,
	}

	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/v1/chat", ch.send)
	mux.HandleFunc("POST /api/v1/mobile/chat", ch.sendMobile)

	mux.HandleFunc("GET /api/v1/conversations", cv.list)
	mux.HandleFunc("DELETE /api/v1/conversations", cv.delete)
	mux.HandleFunc("GET /api/v1/conversations/{id}/turns", cv.turns)

	burst := cfg.RateBurst
	if burst <= 0 {
		burst = 60
	}
	rl := newRateLimiter(1.0, burst)

	// Middleware stack (outermost first):
	//   Recovery -> Logging -> CORS -> RateLimit -> Routes
	// CORS sits above RateLimit so preflight OPTIONS gets proper headers.
	var handler http.Handler = mux
	handler = rateLimitMiddleware(rl, cfg.TrustProxy, logger)(handler)
	handler = corsMiddleware(cfg.CORSOrigins)(handler)
	handler = loggingMiddleware(logger)(handler)
	handler = recoveryMiddleware(logger)(handler)

	isDev := cfg.IsDev
	final := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		setSecurityHeaders(w, isDev)
		handler.ServeHTTP(w, r)
	})

	// Health probes bypass the middleware stack.
	topMux := http.NewServeMux()
	topMux.HandleFunc("GET /health", health(logger))
	topMux.HandleFunc("GET /ready", readiness(cfg.Pool, logger))
	topMux.Handle("/", final)

	return &Server{mux: topMux}, nil
}

// Handler returns the server as an http.Handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}
