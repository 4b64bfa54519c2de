package export

import (
	"image"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDefaultPolicy(t *testing.T) {
	p := DefaultPolicy()
	assert.NoError(t, p.Validate())
	assert.Equal(t, 10, p.CaptureTicks)
	assert.Equal(t, 100*time.Millisecond, p.FrameDelay)
	assert.Equal(t, 100*time.Millisecond, p.TickInterval)
	assert.Equal(t, 1, p.MP4FrameRate)
}

func TestPolicy_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Policy)
	}{
		{"no ticks", func(p *Policy) { p.CaptureTicks = 0 }},
		{"negative interval", func(p *Policy) { p.TickInterval = -time.Millisecond }},
		{"zero delay", func(p *Policy) { p.FrameDelay = 0 }},
		{"zero frame rate", func(p *Policy) { p.MP4FrameRate = 0 }},
		{"zero quality", func(p *Policy) { p.GIFQuality = 0 }},
		{"zero workers", func(p *Policy) { p.GIFWorkers = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := DefaultPolicy()
			tt.mutate(&p)
			assert.ErrorIs(t, p.Validate(), ErrInvalidPolicy)
		})
	}

	t.Run("zero interval is allowed", func(t *testing.T) {
		p := DefaultPolicy()
		p.TickInterval = 0
		assert.NoError(t, p.Validate())
	})
}

func TestPolicy_EncoderSettings(t *testing.T) {
	p := Policy{CaptureTicks: 1, FrameDelay: time.Millisecond, MP4FrameRate: 24, GIFQuality: 3, GIFWorkers: 4}
	s := p.encoderSettings(300, 480)

	assert.Equal(t, 300, s.Width)
	assert.Equal(t, 480, s.Height)
	assert.Equal(t, 24, s.FrameRate)
	assert.Equal(t, 3, s.Quality)
	assert.Equal(t, 4, s.Workers)
}

func TestFrameBuffer(t *testing.T) {
	b := NewFrameBuffer(3)
	assert.Equal(t, 0, b.Len())

	first := image.NewRGBA(image.Rect(0, 0, 1, 1))
	second := image.NewRGBA(image.Rect(0, 0, 1, 1))
	b.Append(first, 100*time.Millisecond)
	b.Append(second, 50*time.Millisecond)

	assert.Equal(t, 2, b.Len())
	assert.Equal(t, 150*time.Millisecond, b.Duration())
	assert.Same(t, first, b.Frames()[0].Image)
	assert.Same(t, second, b.Frames()[1].Image)

	b.Reset()
	assert.Equal(t, 0, b.Len())
	assert.Zero(t, b.Duration())
}
