package source

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"sync"

	// Registered decoders for still images.
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/maauso/clipopera/internal/storage"
)

var _ Handle = (*imageHandle)(nil)

// imageHandle is a still image decoded once in the background.
type imageHandle struct {
	handle

	mu  sync.RWMutex
	img image.Image
}

func startImage(ctx context.Context, name, path string, store storage.Storage, maxPixels int64, logger *slog.Logger) *imageHandle {
	ctx, cancel := context.WithCancel(ctx)
	h := &imageHandle{handle: newHandle(KindImage, name, path, store, cancel, logger)}
	go h.decode(ctx, maxPixels)
	return h
}

func (h *imageHandle) decode(ctx context.Context, maxPixels int64) {
	defer close(h.done)

	// The header is checked first: decoding allocates the full pixel
	// buffer the file declares.
	cfg, format, err := h.decodeConfig(ctx)
	if err != nil {
		h.markReady(fmt.Errorf("decode image header: %w", err))
		return
	}
	if err := checkPixels(cfg.Width, cfg.Height, maxPixels); err != nil {
		h.markReady(err)
		return
	}

	rc, err := h.store.LoadTemp(ctx, h.path)
	if err != nil {
		h.markReady(fmt.Errorf("open image: %w", err))
		return
	}
	defer func() { _ = rc.Close() }()

	img, _, err := image.Decode(rc)
	if err != nil {
		h.markReady(fmt.Errorf("decode image: %w", err))
		return
	}

	h.mu.Lock()
	h.img = img
	h.mu.Unlock()

	b := img.Bounds()
	h.logger.Debug("image decoded",
		slog.String("name", h.name),
		slog.String("format", format),
		slog.Int("width", b.Dx()),
		slog.Int("height", b.Dy()),
	)
	h.markReady(nil)
}

func (h *imageHandle) decodeConfig(ctx context.Context) (image.Config, string, error) {
	rc, err := h.store.LoadTemp(ctx, h.path)
	if err != nil {
		return image.Config{}, "", err
	}
	defer func() { _ = rc.Close() }()
	return image.DecodeConfig(rc)
}

func (h *imageHandle) Size() (int, int) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.img == nil {
		return 0, 0
	}
	b := h.img.Bounds()
	return b.Dx(), b.Dy()
}

func (h *imageHandle) Frame() image.Image {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.img
}

func (h *imageHandle) Still() bool { return true }

func (h *imageHandle) Playing() bool { return false }
