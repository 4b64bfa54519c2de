package source

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"strings"
	"sync"
	"time"

	"github.com/gabriel-vasile/mimetype"

	"github.com/maauso/clipopera/internal/media"
	"github.com/maauso/clipopera/internal/storage"
)

// Static errors for media loading.
var (
	// ErrUnsupportedType is returned for files that are neither image/* nor video/*.
	ErrUnsupportedType = errors.New("unsupported media type")
	// ErrLoadTimeout is returned when a source does not become ready in time,
	// including sources that fail to decode.
	ErrLoadTimeout = errors.New("media load timed out")
	// ErrManagerClosed is returned by Load after Close.
	ErrManagerClosed = errors.New("source manager closed")
	// ErrSourceTooLarge is returned for sources whose declared dimensions
	// exceed the pixel budget. It is reported through ErrLoadTimeout.
	ErrSourceTooLarge = errors.New("media dimensions exceed pixel budget")
)

const (
	// DefaultLoadTimeout bounds the wait for a source to become ready.
	DefaultLoadTimeout = 10 * time.Second
	// DefaultMaxPixels is the default per-source pixel budget (about 8K x 6K).
	DefaultMaxPixels int64 = 50_000_000
)

// sniffLen is how much of the body is read to detect its type.
const sniffLen = 3072

// File is a user-supplied upload.
type File struct {
	// Name is the client file name, used as a temp file hint.
	Name string
	// ContentType is the declared MIME type. Empty or
	// application/octet-stream triggers content sniffing.
	ContentType string
	// Body is the file content.
	Body io.Reader
}

// Manager owns the single live Handle of a session.
type Manager struct {
	storage     storage.Storage
	prober      media.Prober
	player      media.Player
	loadTimeout time.Duration
	maxPixels   int64
	logger      *slog.Logger

	mu      sync.Mutex
	current Handle
	closed  bool
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithMaxPixels sets the largest width*height a source may declare.
// Non-positive values keep DefaultMaxPixels.
func WithMaxPixels(n int64) ManagerOption {
	return func(m *Manager) {
		if n > 0 {
			m.maxPixels = n
		}
	}
}

// NewManager creates a source manager. A non-positive loadTimeout uses
// DefaultLoadTimeout.
func NewManager(store storage.Storage, prober media.Prober, player media.Player, loadTimeout time.Duration, logger *slog.Logger, opts ...ManagerOption) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if loadTimeout <= 0 {
		loadTimeout = DefaultLoadTimeout
	}
	m := &Manager{
		storage:     store,
		prober:      prober,
		player:      player,
		loadTimeout: loadTimeout,
		maxPixels:   DefaultMaxPixels,
		logger:      logger,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Load stores f, waits for it to become ready and installs it as the
// current handle, releasing the previous one. On failure the previous
// handle stays installed.
func (m *Manager) Load(ctx context.Context, f File) (Handle, error) {
	h, err := m.Stage(ctx, f)
	if err != nil {
		return nil, err
	}
	if err := m.Install(h); err != nil {
		return nil, err
	}
	return h, nil
}

// Stage stores f and waits for it to become ready without touching the
// current handle. The caller owns the returned handle until it is passed
// to Install or released.
func (m *Manager) Stage(ctx context.Context, f File) (Handle, error) {
	if m.isClosed() {
		return nil, ErrManagerClosed
	}

	kind, body, err := classify(f)
	if err != nil {
		return nil, err
	}

	path, err := m.storage.SaveTemp(ctx, f.Name, body)
	if err != nil {
		return nil, fmt.Errorf("save media: %w", err)
	}

	// Decoding outlives the request that uploaded the file.
	bg := context.WithoutCancel(ctx)
	var h Handle
	switch kind {
	case KindImage:
		h = startImage(bg, f.Name, path, m.storage, m.maxPixels, m.logger)
	default:
		h = startVideo(bg, f.Name, path, m.storage, m.prober, m.player, m.maxPixels, m.logger)
	}

	if err := m.awaitReady(ctx, h); err != nil {
		h.Release()
		m.logger.Warn("media load failed",
			slog.String("name", f.Name),
			slog.String("kind", string(kind)),
			slog.String("error", err.Error()),
		)
		return nil, err
	}
	return h, nil
}

// Install makes a staged handle current and releases the previous one.
// After Close the handle is released and ErrManagerClosed returned.
func (m *Manager) Install(h Handle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		h.Release()
		return ErrManagerClosed
	}
	if m.current != nil {
		m.current.Release()
		m.current = nil
	}
	m.current = h

	w, ht := h.Size()
	m.logger.Info("media loaded",
		slog.String("name", h.Name()),
		slog.String("kind", string(h.Kind())),
		slog.Int("width", w),
		slog.Int("height", ht),
	)
	return nil
}

// checkPixels rejects dimensions whose area exceeds maxPixels.
func checkPixels(w, h int, maxPixels int64) error {
	if maxPixels > 0 && int64(w)*int64(h) > maxPixels {
		return fmt.Errorf("%w: %dx%d exceeds %d pixels", ErrSourceTooLarge, w, h, maxPixels)
	}
	return nil
}

func (m *Manager) awaitReady(ctx context.Context, h Handle) error {
	timer := time.NewTimer(m.loadTimeout)
	defer timer.Stop()

	select {
	case <-h.Ready():
		if err := h.Err(); err != nil {
			return fmt.Errorf("%w: %w", ErrLoadTimeout, err)
		}
		return nil
	case <-timer.C:
		return fmt.Errorf("%w after %s", ErrLoadTimeout, m.loadTimeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Current returns the live handle, or nil when nothing is loaded.
func (m *Manager) Current() Handle {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Close releases the current handle. Later loads fail with ErrManagerClosed.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	if m.current != nil {
		m.current.Release()
		m.current = nil
	}
}

func (m *Manager) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// classify resolves the media kind of f. The returned reader replays any
// bytes consumed while sniffing.
func classify(f File) (Kind, io.Reader, error) {
	if f.Body == nil {
		return "", nil, fmt.Errorf("%w: empty body", ErrUnsupportedType)
	}

	declared := baseType(f.ContentType)
	if declared != "" && declared != "application/octet-stream" {
		kind, ok := kindOf(declared)
		if !ok {
			return "", nil, fmt.Errorf("%w: %s", ErrUnsupportedType, declared)
		}
		return kind, f.Body, nil
	}

	head := make([]byte, sniffLen)
	n, err := io.ReadFull(f.Body, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return "", nil, fmt.Errorf("read media: %w", err)
	}
	head = head[:n]

	detected := baseType(mimetype.Detect(head).String())
	kind, ok := kindOf(detected)
	if !ok {
		return "", nil, fmt.Errorf("%w: detected %s", ErrUnsupportedType, detected)
	}
	return kind, io.MultiReader(bytes.NewReader(head), f.Body), nil
}

func baseType(contentType string) string {
	if contentType == "" {
		return ""
	}
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(contentType))
	}
	return mt
}

func kindOf(mediaType string) (Kind, bool) {
	switch {
	case strings.HasPrefix(mediaType, "image/"):
		return KindImage, true
	case strings.HasPrefix(mediaType, "video/"):
		return KindVideo, true
	default:
		return "", false
	}
}
