package source

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"sync"

	"github.com/maauso/clipopera/internal/media"
	"github.com/maauso/clipopera/internal/storage"
)

// ErrNoVideoFrames is returned when a video ends before producing a frame.
var ErrNoVideoFrames = errors.New("video produced no frames")

// maxDecodeEdge caps the decoded frame size. Intrinsic dimensions are still
// reported by Size so fit geometry uses the true aspect ratio.
const maxDecodeEdge = 1280

var _ Handle = (*videoHandle)(nil)

// videoHandle plays a video in real time and keeps its latest frame.
type videoHandle struct {
	handle

	prober media.Prober
	player media.Player

	mu      sync.RWMutex
	width   int
	height  int
	latest  *image.RGBA
	playing bool
}

func startVideo(ctx context.Context, name, path string, store storage.Storage, prober media.Prober, player media.Player, maxPixels int64, logger *slog.Logger) *videoHandle {
	ctx, cancel := context.WithCancel(ctx)
	h := &videoHandle{
		handle: newHandle(KindVideo, name, path, store, cancel, logger),
		prober: prober,
		player: player,
	}
	go h.play(ctx, maxPixels)
	return h
}

func (h *videoHandle) play(ctx context.Context, maxPixels int64) {
	defer close(h.done)

	info, err := h.prober.Probe(ctx, h.path)
	if err != nil {
		h.markReady(fmt.Errorf("probe video: %w", err))
		return
	}
	if err := checkPixels(info.Width, info.Height, maxPixels); err != nil {
		h.markReady(err)
		return
	}

	h.mu.Lock()
	h.width, h.height = info.Width, info.Height
	h.playing = true
	h.mu.Unlock()

	dw, dh := decodeSize(info.Width, info.Height, maxDecodeEdge)
	h.logger.Debug("video playback started",
		slog.String("name", h.name),
		slog.Int("width", info.Width),
		slog.Int("height", info.Height),
		slog.Duration("duration", info.Duration),
	)

	err = h.player.Play(ctx, h.path, dw, dh, h.onFrame)

	h.mu.Lock()
	h.playing = false
	h.mu.Unlock()

	switch {
	case err != nil && ctx.Err() != nil:
		h.markReady(ctx.Err())
	case err != nil:
		h.logger.Warn("video playback failed",
			slog.String("name", h.name),
			slog.String("error", err.Error()),
		)
		h.markReady(fmt.Errorf("play video: %w", err))
	default:
		// No-op when a frame already made the handle ready.
		h.markReady(ErrNoVideoFrames)
	}
}

func (h *videoHandle) onFrame(frame *image.RGBA) {
	h.mu.Lock()
	h.latest = copyRGBA(h.latest, frame)
	h.mu.Unlock()
	h.markReady(nil)
}

func (h *videoHandle) Size() (int, int) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.latest == nil {
		return 0, 0
	}
	return h.width, h.height
}

// Frame returns a copy of the most recently decoded frame.
func (h *videoHandle) Frame() image.Image {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.latest == nil {
		return nil
	}
	return copyRGBA(nil, h.latest)
}

func (h *videoHandle) Still() bool { return false }

func (h *videoHandle) Playing() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.playing
}

// decodeSize scales w x h down so neither edge exceeds maxEdge.
// Dimensions are kept even for the rawvideo scaler.
func decodeSize(w, h, maxEdge int) (int, int) {
	if w <= maxEdge && h <= maxEdge {
		return w, h
	}
	if w >= h {
		h = h * maxEdge / w
		w = maxEdge
	} else {
		w = w * maxEdge / h
		h = maxEdge
	}
	w, h = max(w&^1, 2), max(h&^1, 2)
	return w, h
}
