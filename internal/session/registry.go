package session

import (
	"errors"
	"log/slog"
	"sort"
	"sync"

	"github.com/maauso/clipopera/internal/export"
)

// ErrSessionNotFound is returned when a session ID is unknown.
var ErrSessionNotFound = errors.New("session not found")

// Registry keeps the live sessions of the process in memory.
type Registry struct {
	deps     Deps
	defaults Config
	logger   *slog.Logger

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewRegistry creates a registry whose sessions share deps.
func NewRegistry(defaults Config, deps Deps) *Registry {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Registry{
		deps:     deps,
		defaults: defaults,
		logger:   deps.Logger,
		sessions: make(map[string]*Session),
	}
}

// Defaults returns the configuration used for zero-valued Create fields.
func (r *Registry) Defaults() Config {
	return r.defaults
}

// Create starts a new session. Zero fields of cfg take the registry defaults.
func (r *Registry) Create(cfg Config) (*Session, error) {
	if cfg.Width == 0 {
		cfg.Width = r.defaults.Width
	}
	if cfg.Height == 0 {
		cfg.Height = r.defaults.Height
	}
	if cfg.FitMode == "" {
		cfg.FitMode = r.defaults.FitMode
	}
	if cfg.Scaler == "" {
		cfg.Scaler = r.defaults.Scaler
	}
	if cfg.Policy == (export.Policy{}) {
		cfg.Policy = r.defaults.Policy
	}
	if cfg.LoadTimeout == 0 {
		cfg.LoadTimeout = r.defaults.LoadTimeout
	}
	if cfg.PreviewInterval == 0 {
		cfg.PreviewInterval = r.defaults.PreviewInterval
	}
	if cfg.MaxSourcePixels == 0 {
		cfg.MaxSourcePixels = r.defaults.MaxSourcePixels
	}
	if cfg.JobRetention == 0 {
		cfg.JobRetention = r.defaults.JobRetention
	}

	s, err := New(cfg, r.deps)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.sessions[s.ID] = s
	r.mu.Unlock()
	return s, nil
}

// Get returns a live session.
func (r *Registry) Get(sessionID string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// List returns all live sessions, oldest first.
func (r *Registry) List() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		result = append(result, s)
	}
	sort.Slice(result, func(a, b int) bool {
		return result[a].CreatedAt.Before(result[b].CreatedAt)
	})
	return result
}

// Delete closes and forgets a session.
func (r *Registry) Delete(sessionID string) error {
	r.mu.Lock()
	s, ok := r.sessions[sessionID]
	delete(r.sessions, sessionID)
	r.mu.Unlock()

	if !ok {
		return ErrSessionNotFound
	}
	s.Close()
	return nil
}

// Close closes every session.
func (r *Registry) Close() {
	r.mu.Lock()
	sessions := r.sessions
	r.sessions = make(map[string]*Session)
	r.mu.Unlock()

	for _, s := range sessions {
		s.Close()
	}
	r.logger.Info("all sessions closed", slog.Int("count", len(sessions)))
}
