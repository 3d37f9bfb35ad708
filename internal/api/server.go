// Package api is the JSON-over-HTTP surface for the browser frontend:
// session CRUD, an SSE chat stream, settings and usage endpoints.
package api

import (
	"errors"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rexproai/rexpro/internal/app"
	"github.com/rexproai/rexpro/internal/log"
)

// ServerConfig contains configuration for creating the API server.
type ServerConfig struct {
	Logger      log.Logger
	App         *app.App      // Required
	Pool        *pgxpool.Pool // Optional: nil disables pool stats in /ready
	CORSOrigins []string      // Allowed origins for CORS
	TrustProxy  bool          // Trust X-Real-IP/X-Forwarded-For headers (behind reverse proxy)
	RateBurst   int           // Rate limiter burst size per IP (0 = default 60)
}

// Server is the JSON API HTTP server.
type Server struct {
	mux *http.ServeMux
}

// NewServer creates a new API server with all routes configured.
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.App == nil {
		return nil, errors.New("app is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = log.NewNop()
	}

	sh := &sessionHandler{app: cfg.App, logger: logger}
	ch := &chatHandler{app: cfg.App, logger: logger}
	st := &settingsHandler{app: cfg.App, logger: logger}

	mux := http.NewServeMux()

	// User lifecycle
	mux.HandleFunc("POST /api/v1/users/init", sh.initUser)
	mux.HandleFunc("POST /api/v1/users/signout", sh.signOut)

	// Session CRUD
	mux.HandleFunc("GET /api/v1/sessions", sh.listSessions)
	mux.HandleFunc("POST /api/v1/sessions", sh.createSession)
	mux.HandleFunc("DELETE /api/v1/sessions", sh.clearSessions)
	mux.HandleFunc("GET /api/v1/sessions/active", sh.getActiveSession)
	mux.HandleFunc("GET /api/v1/sessions/export", sh.exportSessions)
	mux.HandleFunc("POST /api/v1/sessions/{id}/select", sh.selectSession)
	mux.HandleFunc("PATCH /api/v1/sessions/{id}", sh.renameSession)
	mux.HandleFunc("DELETE /api/v1/sessions/{id}", sh.deleteSession)
	mux.HandleFunc("DELETE /api/v1/messages/{index}/attachments/{attachment}", sh.deleteAttachment)

	// Chat
	mux.HandleFunc("POST /api/v1/chat", ch.send)
	mux.HandleFunc("POST /api/v1/chat/stop", ch.stop)
	mux.HandleFunc("POST /api/v1/transcribe", ch.transcribe)
	mux.HandleFunc("POST /api/v1/extract-text", ch.extractText)

	// Options, usage, preferences
	mux.HandleFunc("GET /api/v1/options", st.getOptions)
	mux.HandleFunc("PUT /api/v1/options", st.putOptions)
	mux.HandleFunc("GET /api/v1/usage", st.getUsage)
	mux.HandleFunc("DELETE /api/v1/usage", st.resetUsage)
	mux.HandleFunc("GET /api/v1/settings/theme", st.getTheme)
	mux.HandleFunc("PUT /api/v1/settings/theme", st.putTheme)
	mux.HandleFunc("PUT /api/v1/settings/api-key", st.putAPIKey)

	// Per-IP token bucket, 1 token/sec refill.
	burst := cfg.RateBurst
	if burst <= 0 {
		burst = 60
	}
	rl := newRateLimiter(1.0, burst)

	// Middleware stack (outermost first):
	//   Recovery → RequestID → Logging → CORS → RateLimit → Routes
	// RequestID runs before Logging so request_id is available in log
	// attributes. CORS runs before RateLimit so preflight OPTIONS gets
	// proper CORS headers.
	var handler http.Handler = mux
	handler = rateLimitMiddleware(rl, cfg.TrustProxy, logger)(handler)
	handler = corsMiddleware(cfg.CORSOrigins)(handler)
	handler = loggingMiddleware(logger)(handler)
	handler = requestIDMiddleware()(handler)
	handler = recoveryMiddleware(logger)(handler)

	// Health probes bypass the middleware stack.
	topMux := http.NewServeMux()
	topMux.HandleFunc("GET /health", health(logger))
	topMux.Handle("GET /ready", readiness(cfg.Pool, logger))
	topMux.Handle("/", handler)

	return &Server{mux: topMux}, nil
}

// Handler returns the server as an http.Handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}
