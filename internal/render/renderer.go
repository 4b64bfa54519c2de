package render

import (
	"errors"
	"fmt"
	"image"
	"image/draw"
	"image/png"
	"io"
	"sync"

	xdraw "golang.org/x/image/draw"
)

var (
	// ErrInvalidSurface is returned when a surface has non-positive dimensions.
	ErrInvalidSurface = errors.New("invalid surface dimensions")
	// ErrNoSource is returned when Render is called without a source.
	ErrNoSource = errors.New("no source to render")
	// ErrNoFrame is returned when a source has no decoded frame yet.
	ErrNoFrame = errors.New("source has no frame")
)

// Source is anything that can be painted onto the surface.
type Source interface {
	// Size returns the intrinsic width and height of the source.
	Size() (width, height int)
	// Frame returns what the source currently displays.
	Frame() image.Image
	// Still reports whether the content never changes between calls.
	Still() bool
}

// Renderer owns a fixed-size output surface and paints sources onto it.
// All surface writes go through Render and are serialised by the renderer.
type Renderer struct {
	mu      sync.Mutex
	surface *image.RGBA
	mode    FitMode
	scaler  Scaler

	// last still-image paint, reused while inputs are unchanged
	last     paintKey
	lastRect DrawRect
	painted  bool
}

type paintKey struct {
	src  Source
	w, h int
	mode FitMode
}

// NewRenderer creates a renderer with a width x height surface.
func NewRenderer(width, height int, mode FitMode, scaler Scaler) (*Renderer, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("%w: width=%d, height=%d", ErrInvalidSurface, width, height)
	}
	if !mode.IsValid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownFitMode, mode)
	}
	if scaler == "" {
		scaler = ScalerBilinear
	}
	return &Renderer{
		surface: image.NewRGBA(image.Rect(0, 0, width, height)),
		mode:    mode,
		scaler:  scaler,
	}, nil
}

// Size returns the surface dimensions. They never change.
func (r *Renderer) Size() (width, height int) {
	b := r.surface.Bounds()
	return b.Dx(), b.Dy()
}

// Mode returns the current fit mode.
func (r *Renderer) Mode() FitMode {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.mode
}

// SetMode changes the fit mode used by subsequent renders.
func (r *Renderer) SetMode(mode FitMode) error {
	if !mode.IsValid() {
		return fmt.Errorf("%w: %q", ErrUnknownFitMode, mode)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mode = mode
	return nil
}

// Render clears the surface and paints src under the current fit mode.
// Still sources are not repainted while source, size and mode are unchanged.
func (r *Renderer) Render(src Source) (DrawRect, error) {
	if src == nil {
		return DrawRect{}, ErrNoSource
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	return r.render(src)
}

// Capture renders src and returns a copy of the resulting surface. No other
// paint can land between the two steps.
func (r *Renderer) Capture(src Source) (*image.RGBA, DrawRect, error) {
	if src == nil {
		return nil, DrawRect{}, ErrNoSource
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	rect, err := r.render(src)
	if err != nil {
		return nil, DrawRect{}, err
	}
	return r.snapshot(), rect, nil
}

func (r *Renderer) render(src Source) (DrawRect, error) {
	w, h := src.Size()
	key := paintKey{src: src, w: w, h: h, mode: r.mode}
	if src.Still() && r.painted && r.last == key {
		return r.lastRect, nil
	}

	frame := src.Frame()
	if frame == nil {
		return DrawRect{}, ErrNoFrame
	}

	sb := r.surface.Bounds()
	rect := Fit(sb.Dx(), sb.Dy(), w, h, r.mode)

	r.clear()
	r.scaler.interpolator().Scale(r.surface, rect.Bounds(), frame, frame.Bounds(), xdraw.Over, nil)

	r.last = key
	r.lastRect = rect
	r.painted = true
	return rect, nil
}

// Clear blanks the surface and forgets the last paint.
func (r *Renderer) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clear()
	r.painted = false
	r.last = paintKey{}
}

func (r *Renderer) clear() {
	draw.Draw(r.surface, r.surface.Bounds(), image.Transparent, image.Point{}, draw.Src)
}

// Snapshot returns a copy of the current surface contents.
func (r *Renderer) Snapshot() *image.RGBA {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshot()
}

func (r *Renderer) snapshot() *image.RGBA {
	cp := image.NewRGBA(r.surface.Bounds())
	copy(cp.Pix, r.surface.Pix)
	return cp
}

// EncodePNG writes the current surface as PNG.
func (r *Renderer) EncodePNG(w io.Writer) error {
	return png.Encode(w, r.Snapshot())
}
