package export

import (
	"image"
	"time"
)

// Frame is one captured surface snapshot.
type Frame struct {
	Image *image.RGBA
	Delay time.Duration
}

// FrameBuffer is the ordered, append-only set of frames captured for one
// job. It is consumed once by the encoder and then reset.
type FrameBuffer struct {
	frames []Frame
}

// NewFrameBuffer creates a buffer sized for n frames.
func NewFrameBuffer(n int) *FrameBuffer {
	return &FrameBuffer{frames: make([]Frame, 0, max(n, 0))}
}

// Append adds a frame at the end.
func (b *FrameBuffer) Append(img *image.RGBA, delay time.Duration) {
	b.frames = append(b.frames, Frame{Image: img, Delay: delay})
}

// Len returns the number of captured frames.
func (b *FrameBuffer) Len() int {
	return len(b.frames)
}

// Frames returns the frames in capture order.
func (b *FrameBuffer) Frames() []Frame {
	return b.frames
}

// Duration returns the sum of all frame delays.
func (b *FrameBuffer) Duration() time.Duration {
	var d time.Duration
	for _, f := range b.frames {
		d += f.Delay
	}
	return d
}

// Reset drops all frames.
func (b *FrameBuffer) Reset() {
	clear(b.frames)
	b.frames = b.frames[:0]
}
