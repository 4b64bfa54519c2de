package encoder

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"log/slog"
	"sync"
	"time"

	"github.com/maauso/clipopera/internal/media"
	"github.com/maauso/clipopera/internal/storage"
)

const (
	// framePattern names materialized frames frame0.png, frame1.png, ...
	framePattern = "frame%d.png"
	mp4Output    = "output.mp4"
)

var _ Encoder = (*mp4Encoder)(nil)

// mp4Encoder writes each frame as PNG into a private workspace and runs the
// transcoder once over the whole sequence on Finalize.
type mp4Encoder struct {
	settings   Settings
	transcoder media.Transcoder
	workspace  *storage.Workspace
	logger     *slog.Logger

	mu     sync.Mutex
	frames int
	closed bool
}

func newMP4Encoder(ctx context.Context, s Settings, store storage.Storage, transcoder media.Transcoder, logger *slog.Logger) (*mp4Encoder, error) {
	if transcoder == nil {
		return nil, fmt.Errorf("%w: no transcoder configured", ErrEngineUnavailable)
	}
	if err := transcoder.Available(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEngineUnavailable, err)
	}
	if store == nil {
		return nil, fmt.Errorf("%w: no storage configured", ErrEngineUnavailable)
	}

	ws, err := store.NewWorkspace(ctx, "mp4")
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEngineUnavailable, err)
	}

	return &mp4Encoder{
		settings:   s,
		transcoder: transcoder,
		workspace:  ws,
		logger:     logger,
	}, nil
}

func (e *mp4Encoder) SubmitFrame(ctx context.Context, frame image.Image, _ time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := checkFrame(frame, e.settings); err != nil {
		return err
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, frame); err != nil {
		return fmt.Errorf("encode frame png: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}

	name := fmt.Sprintf(framePattern, e.frames)
	if err := e.workspace.WriteFile(name, &buf); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	e.frames++
	return nil
}

func (e *mp4Encoder) Finalize(ctx context.Context) (*Blob, error) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil, ErrClosed
	}
	e.closed = true
	frames := e.frames
	e.mu.Unlock()

	defer e.removeWorkspace()

	if frames == 0 {
		return nil, ErrNoFrames
	}

	start := time.Now()
	opts := media.DefaultSequenceOpts()
	opts.FrameRate = e.settings.FrameRate

	if err := e.transcoder.EncodeSequence(ctx, e.workspace.Path(framePattern), e.workspace.Path(mp4Output), opts); err != nil {
		return nil, fmt.Errorf("transcode sequence: %w", err)
	}

	data, err := e.workspace.ReadFile(mp4Output)
	if err != nil {
		return nil, fmt.Errorf("read transcoder output: %w", err)
	}

	e.logger.Debug("mp4 encoded",
		slog.Int("frames", frames),
		slog.Int("frame_rate", opts.FrameRate),
		slog.Int("bytes", len(data)),
		slog.Duration("elapsed", time.Since(start)),
	)

	return &Blob{
		Name:        FormatMP4.ArtifactName(),
		ContentType: FormatMP4.ContentType(),
		Data:        data,
		Frames:      frames,
		Duration:    time.Duration(frames) * time.Second / time.Duration(opts.FrameRate),
	}, nil
}

func (e *mp4Encoder) Abort() {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
	e.removeWorkspace()
}

func (e *mp4Encoder) removeWorkspace() {
	if err := e.workspace.Remove(); err != nil {
		e.logger.Warn("failed to remove frame workspace",
			slog.String("dir", e.workspace.Dir()),
			slog.String("error", err.Error()),
		)
	}
}
