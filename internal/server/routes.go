package server

import (
	"log/slog"
	"net/http"
)

// Config contains server configuration options.
type Config struct {
	// AllowedOrigins is the list of allowed CORS origins.
	AllowedOrigins []string
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() Config {
	return Config{
		AllowedOrigins: []string{"*"},
	}
}

// NewRouter creates a new HTTP router with all routes configured.
// It uses Go 1.22+ ServeMux with method-based routing.
func NewRouter(h *Handlers, logger *slog.Logger, cfg Config) http.Handler {
	mux := http.NewServeMux()

	// Register routes with method-based patterns (Go 1.22+)
	mux.HandleFunc("GET /health", h.Health)
	mux.HandleFunc("POST /sessions", h.CreateSession)
	mux.HandleFunc("GET /sessions", h.ListSessions)
	mux.HandleFunc("GET /sessions/{id}", h.GetSession)
	mux.HandleFunc("DELETE /sessions/{id}", h.DeleteSession)
	mux.HandleFunc("PUT /sessions/{id}/fit", h.SetFit)
	mux.HandleFunc("POST /sessions/{id}/media", h.UploadMedia)
	mux.HandleFunc("GET /sessions/{id}/preview.png", h.Preview)
	mux.HandleFunc("POST /sessions/{id}/exports", h.CreateExport)
	mux.HandleFunc("GET /sessions/{id}/exports", h.ListExports)
	mux.HandleFunc("GET /sessions/{id}/exports/{jobID}", h.GetExport)
	mux.HandleFunc("GET /sessions/{id}/exports/{jobID}/artifact", h.GetArtifact)

	// Apply middleware chain
	chain := ChainMiddleware(
		RecoveryMiddleware(logger),
		LoggingMiddleware(logger),
		CORSMiddleware(cfg.AllowedOrigins),
	)

	return chain(mux)
}
