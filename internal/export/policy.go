package export

import (
	"errors"
	"fmt"
	"time"

	"github.com/maauso/clipopera/internal/encoder"
)

// ErrInvalidPolicy is returned when a capture policy is out of range.
var ErrInvalidPolicy = errors.New("invalid export policy")

// Policy controls how many frames an export samples and how they are encoded.
type Policy struct {
	// CaptureTicks is the number of frames sampled per export.
	CaptureTicks int
	// TickInterval is the nominal wait between ticks. Zero captures
	// back to back.
	TickInterval time.Duration
	// FrameDelay is how long each frame is displayed.
	FrameDelay time.Duration
	// MP4FrameRate is the constant muxing rate of MP4 exports.
	MP4FrameRate int
	// GIFQuality is the GIF palette sampling stride; 1 is best.
	GIFQuality int
	// GIFWorkers bounds concurrent GIF frame quantization.
	GIFWorkers int
}

// DefaultPolicy returns 10 ticks 100ms apart, each shown for 100ms.
func DefaultPolicy() Policy {
	return Policy{
		CaptureTicks: 10,
		TickInterval: 100 * time.Millisecond,
		FrameDelay:   100 * time.Millisecond,
		MP4FrameRate: 1,
		GIFQuality:   10,
		GIFWorkers:   2,
	}
}

// Validate checks that every field is in range.
func (p Policy) Validate() error {
	switch {
	case p.CaptureTicks < 1:
		return fmt.Errorf("%w: capture ticks must be at least 1, got %d", ErrInvalidPolicy, p.CaptureTicks)
	case p.TickInterval < 0:
		return fmt.Errorf("%w: negative tick interval %s", ErrInvalidPolicy, p.TickInterval)
	case p.FrameDelay <= 0:
		return fmt.Errorf("%w: frame delay must be positive, got %s", ErrInvalidPolicy, p.FrameDelay)
	case p.MP4FrameRate < 1:
		return fmt.Errorf("%w: mp4 frame rate must be at least 1, got %d", ErrInvalidPolicy, p.MP4FrameRate)
	case p.GIFQuality < 1:
		return fmt.Errorf("%w: gif quality must be at least 1, got %d", ErrInvalidPolicy, p.GIFQuality)
	case p.GIFWorkers < 1:
		return fmt.Errorf("%w: gif workers must be at least 1, got %d", ErrInvalidPolicy, p.GIFWorkers)
	}
	return nil
}

// encoderSettings returns the encoder configuration for a width x height surface.
func (p Policy) encoderSettings(width, height int) encoder.Settings {
	s := encoder.DefaultSettings(width, height)
	s.Quality = p.GIFQuality
	s.Workers = p.GIFWorkers
	s.FrameRate = p.MP4FrameRate
	return s
}
