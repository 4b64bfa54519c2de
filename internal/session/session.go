// Package session binds one output surface, one media source manager and one
// export pipeline into an independent editing session.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/maauso/clipopera/internal/encoder"
	"github.com/maauso/clipopera/internal/export"
	"github.com/maauso/clipopera/internal/id"
	"github.com/maauso/clipopera/internal/media"
	"github.com/maauso/clipopera/internal/render"
	"github.com/maauso/clipopera/internal/source"
	"github.com/maauso/clipopera/internal/storage"
)

// ErrClosed is returned when a closed session is used.
var ErrClosed = errors.New("session closed")

// Config describes the surface and timing of a new session.
type Config struct {
	Width           int
	Height          int
	FitMode         render.FitMode
	Scaler          render.Scaler
	Policy          export.Policy
	LoadTimeout     time.Duration
	PreviewInterval time.Duration
	// MaxSourcePixels caps the declared width*height of loaded media.
	MaxSourcePixels int64
	// JobRetention is how many finished export jobs, with their
	// artifacts, the session keeps.
	JobRetention int
}

// DefaultConfig returns a 300x480 contain surface with the default policy.
func DefaultConfig() Config {
	return Config{
		Width:           300,
		Height:          480,
		FitMode:         render.Contain,
		Scaler:          render.ScalerBilinear,
		Policy:          export.DefaultPolicy(),
		LoadTimeout:     source.DefaultLoadTimeout,
		PreviewInterval: time.Second,
		MaxSourcePixels: source.DefaultMaxPixels,
		JobRetention:    export.DefaultJobRetention,
	}
}

// Deps are the collaborators shared by all sessions.
type Deps struct {
	Storage   storage.Storage
	Prober    media.Prober
	Player    media.Player
	Encoders  export.EncoderFactory
	Publisher export.Publisher
	Logger    *slog.Logger
}

// Session is one surface with its media and export state.
type Session struct {
	ID        string
	CreatedAt time.Time

	renderer *render.Renderer
	sources  *source.Manager
	pipeline *export.Pipeline
	logger   *slog.Logger

	loadMu sync.Mutex

	stopPreview context.CancelFunc
	previewDone chan struct{}
	closeOnce   sync.Once
	closed      chan struct{}
}

// New creates a session and starts its idle preview loop.
func New(cfg Config, deps Deps) (*Session, error) {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	sessionID := id.Session()
	logger = logger.With(slog.String("session_id", sessionID))

	renderer, err := render.NewRenderer(cfg.Width, cfg.Height, cfg.FitMode, cfg.Scaler)
	if err != nil {
		return nil, fmt.Errorf("create surface: %w", err)
	}

	sources := source.NewManager(deps.Storage, deps.Prober, deps.Player, cfg.LoadTimeout, logger,
		source.WithMaxPixels(cfg.MaxSourcePixels),
	)

	jobs := export.NewMemoryRepository(export.WithRetention(cfg.JobRetention))
	pipeline, err := export.NewPipeline(renderer, sources, deps.Encoders, jobs, deps.Publisher, cfg.Policy, logger)
	if err != nil {
		return nil, fmt.Errorf("create pipeline: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		ID:          sessionID,
		CreatedAt:   time.Now(),
		renderer:    renderer,
		sources:     sources,
		pipeline:    pipeline,
		logger:      logger,
		stopPreview: cancel,
		previewDone: make(chan struct{}),
		closed:      make(chan struct{}),
	}
	go s.previewLoop(ctx, cfg.PreviewInterval)

	logger.Info("session created",
		slog.Int("width", cfg.Width),
		slog.Int("height", cfg.Height),
		slog.String("fit_mode", string(cfg.FitMode)),
	)
	return s, nil
}

// LoadMedia replaces the session's media. It is rejected while an export
// is capturing or encoding, including one that starts while the new media
// is still decoding; the previous media then stays current.
func (s *Session) LoadMedia(ctx context.Context, f source.File) (source.Handle, error) {
	if s.isClosed() {
		return nil, ErrClosed
	}

	s.loadMu.Lock()
	defer s.loadMu.Unlock()

	if s.pipeline.Busy() {
		return nil, export.ErrExportInProgress
	}

	h, err := s.sources.Stage(ctx, f)
	if err != nil {
		return nil, err
	}

	// Install only if no export started during staging.
	err = s.pipeline.WhenIdle(func() error {
		return s.sources.Install(h)
	})
	if err != nil {
		if errors.Is(err, export.ErrExportInProgress) {
			h.Release()
			s.logger.Info("media load discarded: export started",
				slog.String("name", h.Name()),
			)
		}
		return nil, err
	}
	s.repaint(h)
	return h, nil
}

// SetFitMode changes how media is fitted and repaints the surface.
func (s *Session) SetFitMode(mode render.FitMode) error {
	if s.isClosed() {
		return ErrClosed
	}
	if err := s.renderer.SetMode(mode); err != nil {
		return err
	}
	if h := s.sources.Current(); h != nil {
		s.repaint(h)
	}
	return nil
}

// FitMode returns the current fit mode.
func (s *Session) FitMode() render.FitMode {
	return s.renderer.Mode()
}

// Size returns the fixed surface dimensions.
func (s *Session) Size() (width, height int) {
	return s.renderer.Size()
}

// Media returns the current media handle, or nil.
func (s *Session) Media() source.Handle {
	return s.sources.Current()
}

// Preview writes the current surface as PNG, refreshing it first when idle.
func (s *Session) Preview(w io.Writer) error {
	if s.isClosed() {
		return ErrClosed
	}
	if h := s.sources.Current(); h != nil {
		s.repaint(h)
	}
	return s.renderer.EncodePNG(w)
}

// StartExport begins an export in the background.
func (s *Session) StartExport(ctx context.Context, format encoder.Format, opts export.Options) (*export.Job, <-chan *export.Job, error) {
	if s.isClosed() {
		return nil, nil, ErrClosed
	}
	return s.pipeline.Start(ctx, format, opts)
}

// Export runs an export to completion.
func (s *Session) Export(ctx context.Context, format encoder.Format, opts export.Options) (*export.Job, error) {
	if s.isClosed() {
		return nil, ErrClosed
	}
	return s.pipeline.Export(ctx, format, opts)
}

// ExportState returns the pipeline state.
func (s *Session) ExportState() export.Status {
	return s.pipeline.State()
}

// Job returns an export job of this session.
func (s *Session) Job(ctx context.Context, jobID string) (*export.Job, error) {
	return s.pipeline.Job(ctx, jobID)
}

// Jobs returns all export jobs of this session, oldest first.
func (s *Session) Jobs(ctx context.Context) ([]*export.Job, error) {
	return s.pipeline.Jobs(ctx)
}

// Close aborts any running export, stops the preview loop and releases
// the media. It is idempotent.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		close(s.closed)
		s.pipeline.Cancel()
		s.stopPreview()
		<-s.previewDone
		s.sources.Close()
		s.logger.Info("session closed")
	})
}

func (s *Session) isClosed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

// repaint renders h unless an export currently owns the surface.
func (s *Session) repaint(h source.Handle) {
	if s.pipeline.Busy() {
		return
	}
	if _, err := s.renderer.Render(h); err != nil && !errors.Is(err, render.ErrNoFrame) {
		s.logger.Debug("preview render failed", slog.String("error", err.Error()))
	}
}

// previewLoop keeps the surface following a playing video.
func (s *Session) previewLoop(ctx context.Context, interval time.Duration) {
	defer close(s.previewDone)
	if interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if h := s.sources.Current(); h != nil && !h.Still() && h.Playing() {
				s.repaint(h)
			}
		}
	}
}
