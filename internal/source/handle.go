// Package source owns the lifecycle of the media a session renders from.
// A Manager holds exactly one live Handle at a time; loading a new file
// releases the previous handle and its temporary file.
package source

import (
	"context"
	"image"
	"log/slog"
	"sync"

	"github.com/maauso/clipopera/internal/render"
	"github.com/maauso/clipopera/internal/storage"
)

// Kind tags a Handle as a still image or a video.
type Kind string

const (
	// KindImage is a decoded still image.
	KindImage Kind = "image"
	// KindVideo is a video playing in real time.
	KindVideo Kind = "video"
)

// Handle is a loaded media source.
// Size is zero and Frame is nil until Ready is closed.
type Handle interface {
	render.Source

	// Kind reports whether the handle is an image or a video.
	Kind() Kind
	// Name is the original file name.
	Name() string
	// Ready is closed once the first frame is available or loading failed.
	Ready() <-chan struct{}
	// Err returns the load error, if any, after Ready is closed.
	Err() error
	// Playing reports whether the source is still advancing.
	Playing() bool
	// Release stops decoding and removes the temporary file. It is idempotent.
	Release()
}

// handle carries the readiness and ownership state shared by both kinds.
type handle struct {
	kind   Kind
	name   string
	path   string
	store  storage.Storage
	logger *slog.Logger
	cancel context.CancelFunc
	done   chan struct{}

	ready     chan struct{}
	readyOnce sync.Once
	err       error

	releaseOnce sync.Once
}

func newHandle(kind Kind, name, path string, store storage.Storage, cancel context.CancelFunc, logger *slog.Logger) handle {
	return handle{
		kind:   kind,
		name:   name,
		path:   path,
		store:  store,
		logger: logger,
		cancel: cancel,
		done:   make(chan struct{}),
		ready:  make(chan struct{}),
	}
}

func (h *handle) Kind() Kind { return h.kind }

func (h *handle) Name() string { return h.name }

func (h *handle) Ready() <-chan struct{} { return h.ready }

func (h *handle) Err() error {
	select {
	case <-h.ready:
		return h.err
	default:
		return nil
	}
}

// markReady closes Ready once. Later calls are ignored.
func (h *handle) markReady(err error) {
	h.readyOnce.Do(func() {
		h.err = err
		close(h.ready)
	})
}

func (h *handle) Release() {
	h.releaseOnce.Do(func() {
		h.cancel()
		<-h.done

		if err := h.store.CleanupTemp(context.Background(), []string{h.path}); err != nil {
			h.logger.Warn("failed to remove media temp file",
				slog.String("path", h.path),
				slog.String("error", err.Error()),
			)
			return
		}
		h.logger.Debug("media released",
			slog.String("kind", string(h.kind)),
			slog.String("name", h.name),
		)
	})
}

// copyRGBA copies src into dst, allocating dst when its bounds differ.
func copyRGBA(dst *image.RGBA, src *image.RGBA) *image.RGBA {
	if dst == nil || dst.Bounds() != src.Bounds() {
		dst = image.NewRGBA(src.Bounds())
	}
	copy(dst.Pix, src.Pix)
	return dst
}
