// Package encoder turns captured surface frames into a downloadable artifact.
// GIF frames are quantized and written directly; MP4 frames are materialized
// as a PNG sequence and transcoded once by ffmpeg; AVI frames are written as
// Motion JPEG.
package encoder

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"strings"
	"time"

	"github.com/maauso/clipopera/internal/media"
	"github.com/maauso/clipopera/internal/storage"
)

// Static errors for encoders.
var (
	// ErrEngineUnavailable is returned when an encoding engine cannot be initialized.
	ErrEngineUnavailable = errors.New("encoding engine unavailable")
	// ErrUnknownFormat is returned for an unsupported export format.
	ErrUnknownFormat = errors.New("unknown export format")
	// ErrInvalidSettings is returned when encoder settings are out of range.
	ErrInvalidSettings = errors.New("invalid encoder settings")
	// ErrNoFrames is returned by Finalize when no frame was submitted.
	ErrNoFrames = errors.New("no frames submitted")
	// ErrFrameSize is returned when a frame does not match the encoder size.
	ErrFrameSize = errors.New("frame size does not match encoder")
	// ErrClosed is returned when an encoder is used after Finalize or Abort.
	ErrClosed = errors.New("encoder closed")
)

// ArtifactBaseName is the file name stem of every exported artifact.
const ArtifactBaseName = "clipopera"

// Format is an export target format.
type Format string

const (
	// FormatGIF is an animated GIF.
	FormatGIF Format = "gif"
	// FormatMP4 is H.264 video in an MP4 container.
	FormatMP4 Format = "mp4"
	// FormatAVI is Motion JPEG video in an AVI container.
	FormatAVI Format = "avi"
)

// ParseFormat converts a case-insensitive name into a Format.
func ParseFormat(s string) (Format, error) {
	f := Format(strings.ToLower(strings.TrimSpace(s)))
	if !f.IsValid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownFormat, s)
	}
	return f, nil
}

// IsValid returns true if the format is supported.
func (f Format) IsValid() bool {
	return f == FormatGIF || f == FormatMP4 || f == FormatAVI
}

// ContentType returns the MIME type of artifacts in this format.
func (f Format) ContentType() string {
	switch f {
	case FormatGIF:
		return "image/gif"
	case FormatMP4:
		return "video/mp4"
	case FormatAVI:
		return "video/x-msvideo"
	default:
		return "application/octet-stream"
	}
}

// ArtifactName returns the download file name, e.g. "clipopera.gif".
func (f Format) ArtifactName() string {
	return ArtifactBaseName + "." + string(f)
}

// Blob is a complete encoded artifact.
type Blob struct {
	Name        string
	ContentType string
	Data        []byte
	// Frames is the number of frames encoded.
	Frames int
	// Duration is the nominal playback length.
	Duration time.Duration
}

// Size returns the artifact size in bytes.
func (b *Blob) Size() int {
	return len(b.Data)
}

// Encoder accepts frames in presentation order and produces one Blob.
// An encoder is single-use: after Finalize or Abort every call fails with
// ErrClosed. Submitted frames are retained and must not be modified.
type Encoder interface {
	// SubmitFrame appends a frame shown for delay.
	SubmitFrame(ctx context.Context, frame image.Image, delay time.Duration) error
	// Finalize encodes all submitted frames and returns the artifact.
	Finalize(ctx context.Context) (*Blob, error)
	// Abort discards all submitted frames and intermediate files.
	Abort()
}

// Settings configure a new encoder.
type Settings struct {
	// Width and Height are the fixed frame dimensions.
	Width  int
	Height int
	// Quality is the GIF palette sampling stride; 1 samples every pixel.
	Quality int
	// Workers bounds concurrent GIF frame quantization.
	Workers int
	// FrameRate is the constant MP4 muxing rate.
	FrameRate int
	// JPEGQuality is the AVI Motion JPEG quality (1-100).
	JPEGQuality int
}

// DefaultSettings returns the settings used when a field is left zero.
func DefaultSettings(width, height int) Settings {
	return Settings{
		Width:       width,
		Height:      height,
		Quality:     10,
		Workers:     2,
		FrameRate:   1,
		JPEGQuality: 90,
	}
}

func (s Settings) withDefaults() Settings {
	def := DefaultSettings(s.Width, s.Height)
	if s.Quality <= 0 {
		s.Quality = def.Quality
	}
	if s.Workers <= 0 {
		s.Workers = def.Workers
	}
	if s.FrameRate <= 0 {
		s.FrameRate = def.FrameRate
	}
	if s.JPEGQuality <= 0 || s.JPEGQuality > 100 {
		s.JPEGQuality = def.JPEGQuality
	}
	return s
}

func (s Settings) validate() error {
	if s.Width <= 0 || s.Height <= 0 {
		return fmt.Errorf("%w: width=%d, height=%d", ErrInvalidSettings, s.Width, s.Height)
	}
	return nil
}

// Factory creates encoders for every supported format.
type Factory struct {
	storage    storage.Storage
	transcoder media.Transcoder
	logger     *slog.Logger
}

// NewFactory creates an encoder factory. The transcoder backs MP4 exports;
// storage provides their frame workspaces.
func NewFactory(store storage.Storage, transcoder media.Transcoder, logger *slog.Logger) *Factory {
	if logger == nil {
		logger = slog.Default()
	}
	return &Factory{storage: store, transcoder: transcoder, logger: logger}
}

// New creates an encoder for format. Engine start-up failures wrap
// ErrEngineUnavailable.
func (f *Factory) New(ctx context.Context, format Format, s Settings) (Encoder, error) {
	s = s.withDefaults()
	if err := s.validate(); err != nil {
		return nil, err
	}

	switch format {
	case FormatGIF:
		return newGIFEncoder(s, f.logger), nil
	case FormatMP4:
		return newMP4Encoder(ctx, s, f.storage, f.transcoder, f.logger)
	case FormatAVI:
		return newAVIEncoder(ctx, s, f.storage, f.logger)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
}

// checkFrame verifies frame matches the configured dimensions.
func checkFrame(frame image.Image, s Settings) error {
	if frame == nil {
		return fmt.Errorf("%w: nil frame", ErrFrameSize)
	}
	b := frame.Bounds()
	if b.Dx() != s.Width || b.Dy() != s.Height {
		return fmt.Errorf("%w: got %dx%d, want %dx%d", ErrFrameSize, b.Dx(), b.Dy(), s.Width, s.Height)
	}
	return nil
}
