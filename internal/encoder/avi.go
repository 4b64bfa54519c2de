package encoder

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"log/slog"
	"sync"
	"time"

	"github.com/icza/mjpeg"

	"github.com/maauso/clipopera/internal/storage"
)

const (
	aviOutput = "output.avi"
	maxAVIFPS = 30
)

var _ Encoder = (*aviEncoder)(nil)

// aviEncoder streams JPEG frames into a Motion JPEG AVI. The frame rate is
// fixed by the delay of the first submitted frame.
type aviEncoder struct {
	settings  Settings
	workspace *storage.Workspace
	logger    *slog.Logger

	mu     sync.Mutex
	writer mjpeg.AviWriter
	fps    int
	frames int
	closed bool
}

func newAVIEncoder(ctx context.Context, s Settings, store storage.Storage, logger *slog.Logger) (*aviEncoder, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: no storage configured", ErrEngineUnavailable)
	}
	ws, err := store.NewWorkspace(ctx, "avi")
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEngineUnavailable, err)
	}
	return &aviEncoder{settings: s, workspace: ws, logger: logger}, nil
}

// framesPerSecond converts a per-frame delay into a whole AVI frame rate.
func framesPerSecond(delay time.Duration) int {
	if delay <= 0 {
		return 1
	}
	fps := int((time.Second + delay/2) / delay)
	return min(max(fps, 1), maxAVIFPS)
}

func (e *aviEncoder) SubmitFrame(ctx context.Context, frame image.Image, delay time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := checkFrame(frame, e.settings); err != nil {
		return err
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, frame, &jpeg.Options{Quality: e.settings.JPEGQuality}); err != nil {
		return fmt.Errorf("encode frame jpeg: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}

	if e.writer == nil {
		fps := framesPerSecond(delay)
		// #nosec G115 - dimensions and fps are validated and small
		w, err := mjpeg.New(e.workspace.Path(aviOutput), int32(e.settings.Width), int32(e.settings.Height), int32(fps))
		if err != nil {
			return fmt.Errorf("%w: %w", ErrEngineUnavailable, err)
		}
		e.writer, e.fps = w, fps
	}

	if err := e.writer.AddFrame(buf.Bytes()); err != nil {
		return fmt.Errorf("add frame %d: %w", e.frames, err)
	}
	e.frames++
	return nil
}

func (e *aviEncoder) Finalize(_ context.Context) (*Blob, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, ErrClosed
	}
	e.closed = true
	defer e.removeWorkspace()

	if e.frames == 0 {
		return nil, ErrNoFrames
	}

	if err := e.writer.Close(); err != nil {
		return nil, fmt.Errorf("close avi: %w", err)
	}
	e.writer = nil

	data, err := e.workspace.ReadFile(aviOutput)
	if err != nil {
		return nil, fmt.Errorf("read avi: %w", err)
	}

	e.logger.Debug("avi encoded",
		slog.Int("frames", e.frames),
		slog.Int("fps", e.fps),
		slog.Int("bytes", len(data)),
	)

	return &Blob{
		Name:        FormatAVI.ArtifactName(),
		ContentType: FormatAVI.ContentType(),
		Data:        data,
		Frames:      e.frames,
		Duration:    time.Duration(e.frames) * time.Second / time.Duration(e.fps),
	}, nil
}

func (e *aviEncoder) Abort() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.writer != nil {
		_ = e.writer.Close()
		e.writer = nil
	}
	e.closed = true
	e.removeWorkspace()
}

func (e *aviEncoder) removeWorkspace() {
	if err := e.workspace.Remove(); err != nil {
		e.logger.Warn("failed to remove frame workspace",
			slog.String("dir", e.workspace.Dir()),
			slog.String("error", err.Error()),
		)
	}
}
