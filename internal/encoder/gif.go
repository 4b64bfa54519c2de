package encoder

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/gif"
	"log/slog"
	"sync"
	"time"

	quantizer "github.com/ericpauley/go-quantize/quantize"
	"golang.org/x/sync/errgroup"
)

// maxPaletteColors is the GIF palette limit.
const maxPaletteColors = 256

var _ Encoder = (*gifEncoder)(nil)

// gifEncoder buffers frames and quantizes them concurrently on Finalize.
type gifEncoder struct {
	settings Settings
	logger   *slog.Logger

	mu     sync.Mutex
	frames []image.Image
	delays []time.Duration
	closed bool
}

func newGIFEncoder(s Settings, logger *slog.Logger) *gifEncoder {
	return &gifEncoder{settings: s, logger: logger}
}

func (e *gifEncoder) SubmitFrame(ctx context.Context, frame image.Image, delay time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := checkFrame(frame, e.settings); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}
	e.frames = append(e.frames, frame)
	e.delays = append(e.delays, delay)
	return nil
}

func (e *gifEncoder) Finalize(ctx context.Context) (*Blob, error) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil, ErrClosed
	}
	e.closed = true
	frames, delays := e.frames, e.delays
	e.frames, e.delays = nil, nil
	e.mu.Unlock()

	if len(frames) == 0 {
		return nil, ErrNoFrames
	}

	start := time.Now()
	paletted := make([]*image.Paletted, len(frames))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.settings.Workers)
	for i, frame := range frames {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			paletted[i] = quantize(frame, e.settings.Quality)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("quantize frames: %w", err)
	}

	anim := &gif.GIF{
		Image:     paletted,
		Delay:     make([]int, len(delays)),
		LoopCount: 0,
		Config: image.Config{
			Width:  e.settings.Width,
			Height: e.settings.Height,
		},
	}
	var total time.Duration
	for i, d := range delays {
		anim.Delay[i] = centiseconds(d)
		total += time.Duration(anim.Delay[i]) * 10 * time.Millisecond
	}

	var buf bytes.Buffer
	if err := gif.EncodeAll(&buf, anim); err != nil {
		return nil, fmt.Errorf("encode gif: %w", err)
	}

	e.logger.Debug("gif encoded",
		slog.Int("frames", len(paletted)),
		slog.Int("bytes", buf.Len()),
		slog.Duration("elapsed", time.Since(start)),
	)

	return &Blob{
		Name:        FormatGIF.ArtifactName(),
		ContentType: FormatGIF.ContentType(),
		Data:        buf.Bytes(),
		Frames:      len(paletted),
		Duration:    total,
	}, nil
}

func (e *gifEncoder) Abort() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	e.frames, e.delays = nil, nil
}

// centiseconds converts a frame delay to GIF delay units, at least 1.
func centiseconds(d time.Duration) int {
	cs := int((d + 5*time.Millisecond) / (10 * time.Millisecond))
	return max(cs, 1)
}

// quantize maps frame onto its own median-cut palette with Floyd-Steinberg
// error diffusion. A transparent entry is added only when frame has
// transparent pixels.
func quantize(frame image.Image, stride int) *image.Paletted {
	q := quantizer.MedianCutQuantizer{
		Aggregation:    quantizer.Mean,
		Weighting:      sampleEvery(stride),
		AddTransparent: !isOpaque(frame),
	}
	b := frame.Bounds()
	dst := image.NewPaletted(b, q.Quantize(make(color.Palette, 0, maxPaletteColors), frame))
	draw.FloydSteinberg.Draw(dst, b, frame, b.Min)
	return dst
}

// sampleEvery weights one pixel in every stride, in row-major order, and
// skips the rest. The first pixel is always sampled.
func sampleEvery(stride int) func(image.Image, int, int) uint32 {
	if stride <= 1 {
		return nil
	}
	return func(img image.Image, x, y int) uint32 {
		b := img.Bounds()
		if ((y-b.Min.Y)*b.Dx()+(x-b.Min.X))%stride != 0 {
			return 0
		}
		return 1
	}
}

func isOpaque(img image.Image) bool {
	if o, ok := img.(interface{ Opaque() bool }); ok {
		return o.Opaque()
	}
	return false
}
