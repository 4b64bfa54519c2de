// Package media provides the ffmpeg-backed collaborators of the export core:
// probing source dimensions, real-time video playback and image-sequence
// transcoding.
package media

import (
	"context"
	"image"
	"time"
)

// Info describes the first video stream of a media file.
type Info struct {
	Width    int
	Height   int
	Duration time.Duration
}

// Prober reads intrinsic dimensions from a media file.
type Prober interface {
	Probe(ctx context.Context, path string) (Info, error)
}

// FrameSink receives decoded frames in presentation order. The frame buffer
// is reused after the sink returns; implementations must copy what they keep.
type FrameSink func(frame *image.RGBA)

// Player decodes a video at its natural playback rate.
type Player interface {
	// Play decodes path in real time and calls sink for every frame, scaled
	// to width x height. It blocks until the stream ends (nil error) or ctx
	// is cancelled.
	Play(ctx context.Context, path string, width, height int, sink FrameSink) error
}

// SequenceOpts are the fixed transcoding parameters for an image sequence.
type SequenceOpts struct {
	// FrameRate is the constant input/output frame rate.
	FrameRate int
	// Codec is the ffmpeg video encoder name, e.g. "libx264".
	Codec string
	// PixelFormat is the output pixel format, e.g. "yuv420p".
	PixelFormat string
}

// DefaultSequenceOpts returns H.264 / yuv420p at 1 fps.
func DefaultSequenceOpts() SequenceOpts {
	return SequenceOpts{
		FrameRate:   1,
		Codec:       "libx264",
		PixelFormat: "yuv420p",
	}
}

// Transcoder turns a numbered still-image sequence into one muxed video file.
type Transcoder interface {
	// Available reports whether the transcoding engine can be started.
	Available() error
	// EncodeSequence reads inputPattern (e.g. ".../frame%d.png") and writes output.
	EncodeSequence(ctx context.Context, inputPattern, output string, opts SequenceOpts) error
}
