// Package config provides configuration loading from environment variables.
package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/sethvargo/go-envconfig"

	"github.com/maauso/clipopera/internal/export"
	"github.com/maauso/clipopera/internal/render"
)

// ErrInvalidConfig is returned when a loaded value is out of range.
var ErrInvalidConfig = errors.New("config: invalid configuration")

// Config holds all configuration for the application.
type Config struct {
	// Server settings
	Port            int `env:"PORT, default=8080" json:"port" validate:"min=1,max=65535"`
	MaxUploadSizeMB int `env:"MAX_UPLOAD_SIZE_MB, default=200" json:"max_upload_size_mb" validate:"min=1"`

	// Storage settings
	TempDir string `env:"TEMP_DIR, default=/tmp/clipopera" json:"temp_dir" validate:"required"`

	// Output surface
	SurfaceWidth  int    `env:"SURFACE_WIDTH, default=300" json:"surface_width" validate:"min=2,max=4096"`
	SurfaceHeight int    `env:"SURFACE_HEIGHT, default=480" json:"surface_height" validate:"min=2,max=4096"`
	Scaler        string `env:"SCALER, default=bilinear" json:"scaler" validate:"oneof=nearest bilinear catmullrom"`

	// Capture and encoding policy
	CaptureTicks    int           `env:"CAPTURE_TICKS, default=10" json:"capture_ticks" validate:"min=1,max=1000"`
	TickInterval    time.Duration `env:"TICK_INTERVAL, default=100ms" json:"tick_interval" validate:"min=0"`
	FrameDelay      time.Duration `env:"FRAME_DELAY, default=100ms" json:"frame_delay" validate:"min=10ms"`
	MP4FrameRate    int           `env:"MP4_FRAME_RATE, default=1" json:"mp4_frame_rate" validate:"min=1,max=60"`
	GIFQuality      int           `env:"GIF_QUALITY, default=10" json:"gif_quality" validate:"min=1,max=30"`
	GIFWorkers      int           `env:"GIF_WORKERS, default=2" json:"gif_workers" validate:"min=1,max=64"`
	LoadTimeout     time.Duration `env:"LOAD_TIMEOUT, default=10s" json:"load_timeout" validate:"min=1ms"`
	PreviewInterval time.Duration `env:"PREVIEW_INTERVAL, default=1s" json:"preview_interval" validate:"min=0"`
	MaxSourcePixels int64         `env:"MAX_SOURCE_PIXELS, default=50000000" json:"max_source_pixels" validate:"min=1"`
	JobRetention    int           `env:"JOB_RETENTION, default=10" json:"job_retention" validate:"min=1,max=1000"`

	// External binaries
	FFmpegPath  string `env:"FFMPEG_PATH, default=ffmpeg" json:"ffmpeg_path"`
	FFprobePath string `env:"FFPROBE_PATH, default=ffprobe" json:"ffprobe_path"`

	// Optional S3 settings for publishing artifacts
	S3Bucket           string `env:"S3_BUCKET" json:"s3_bucket,omitempty"`
	S3Region           string `env:"S3_REGION" json:"s3_region,omitempty"`
	S3Endpoint         string `env:"S3_ENDPOINT" json:"s3_endpoint,omitempty"`
	AWSAccessKeyID     string `env:"AWS_ACCESS_KEY_ID" json:"-"`     // Masked in JSON
	AWSSecretAccessKey string `env:"AWS_SECRET_ACCESS_KEY" json:"-"` // Masked in JSON

	// Logging settings
	LogFormat string `env:"LOG_FORMAT, default=text" json:"log_format"` // "json" or "text"
	LogLevel  string `env:"LOG_LEVEL, default=info" json:"log_level"`   // "debug", "info", "warn", "error"
}

// S3Enabled returns true if S3 configuration is provided.
func (c *Config) S3Enabled() bool {
	return c.S3Bucket != "" && c.S3Region != ""
}

// Load reads configuration from environment variables using go-envconfig
// and validates the result.
func Load() (*Config, error) {
	cfg := &Config{}

	if err := envconfig.Process(context.Background(), cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks value ranges using the struct's validate tags.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}

// Policy returns the capture and encoding policy for export pipelines.
func (c *Config) Policy() export.Policy {
	return export.Policy{
		CaptureTicks: c.CaptureTicks,
		TickInterval: c.TickInterval,
		FrameDelay:   c.FrameDelay,
		MP4FrameRate: c.MP4FrameRate,
		GIFQuality:   c.GIFQuality,
		GIFWorkers:   c.GIFWorkers,
	}
}

// RenderScaler returns the interpolation used when painting sources.
func (c *Config) RenderScaler() render.Scaler {
	s, err := render.ParseScaler(c.Scaler)
	if err != nil {
		return render.ScalerBilinear
	}
	return s
}

// NewLogger creates a structured logger based on the configuration.
// When LogFormat is "json", it outputs JSON logs suitable for production.
// Otherwise, it outputs human-readable text logs.
func (c *Config) NewLogger() *slog.Logger {
	level := parseLogLevel(c.LogLevel)

	var handler slog.Handler
	if strings.ToLower(c.LogFormat) == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: level,
		})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: level,
		})
	}

	return slog.New(handler)
}

// String returns a string representation of the config with sensitive values masked.
func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{Port: %d, TempDir: %s, Surface: %dx%d, Scaler: %s, CaptureTicks: %d, TickInterval: %s, FrameDelay: %s, MP4FrameRate: %d, GIFQuality: %d, GIFWorkers: %d, LoadTimeout: %s, S3Bucket: %s, S3Region: %s, LogFormat: %s, LogLevel: %s}",
		c.Port,
		c.TempDir,
		c.SurfaceWidth,
		c.SurfaceHeight,
		c.Scaler,
		c.CaptureTicks,
		c.TickInterval,
		c.FrameDelay,
		c.MP4FrameRate,
		c.GIFQuality,
		c.GIFWorkers,
		c.LoadTimeout,
		c.S3Bucket,
		c.S3Region,
		c.LogFormat,
		c.LogLevel,
	)
}

// parseLogLevel converts a string log level to slog.Level.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
