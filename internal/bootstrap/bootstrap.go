// Package bootstrap provides dependency initialization for the clipopera API.
package bootstrap

import (
	"fmt"
	"log/slog"

	"github.com/maauso/clipopera/internal/config"
	"github.com/maauso/clipopera/internal/encoder"
	"github.com/maauso/clipopera/internal/export"
	"github.com/maauso/clipopera/internal/media"
	"github.com/maauso/clipopera/internal/render"
	"github.com/maauso/clipopera/internal/session"
	"github.com/maauso/clipopera/internal/storage"
)

// Dependencies holds all initialized dependencies for the HTTP server.
type Dependencies struct {
	Registry *session.Registry
	Storage  storage.Storage
}

// NewDependencies creates and initializes all dependencies for the application.
func NewDependencies(cfg *config.Config, logger *slog.Logger) (*Dependencies, error) {
	// Initialize storage
	store, err := initStorage(cfg, logger)
	if err != nil {
		return nil, err
	}

	// ffmpeg backs video decoding and MP4 encoding. Its absence only
	// disables those paths.
	processor := media.NewFFmpegProcessor(cfg.FFmpegPath, cfg.FFprobePath)
	if err := processor.Available(); err != nil {
		logger.Warn("ffmpeg not available: video sources and mp4 exports will fail",
			slog.String("error", err.Error()),
		)
	}

	deps := session.Deps{
		Storage:  store,
		Prober:   processor,
		Player:   processor,
		Encoders: encoder.NewFactory(store, processor, logger),
		Logger:   logger,
	}
	// Leave Publisher a nil interface when S3 is off.
	if cfg.S3Enabled() {
		deps.Publisher = export.Publisher(store)
	}

	defaults := session.Config{
		Width:           cfg.SurfaceWidth,
		Height:          cfg.SurfaceHeight,
		FitMode:         render.Contain,
		Scaler:          cfg.RenderScaler(),
		Policy:          cfg.Policy(),
		LoadTimeout:     cfg.LoadTimeout,
		PreviewInterval: cfg.PreviewInterval,
		MaxSourcePixels: cfg.MaxSourcePixels,
		JobRetention:    cfg.JobRetention,
	}

	return &Dependencies{
		Registry: session.NewRegistry(defaults, deps),
		Storage:  store,
	}, nil
}

// initStorage creates the appropriate storage backend based on configuration.
func initStorage(cfg *config.Config, logger *slog.Logger) (storage.Storage, error) {
	if cfg.S3Enabled() {
		s3Cfg := storage.S3Config{
			Bucket:          cfg.S3Bucket,
			Region:          cfg.S3Region,
			Endpoint:        cfg.S3Endpoint,
			AccessKeyID:     cfg.AWSAccessKeyID,
			SecretAccessKey: cfg.AWSSecretAccessKey,
		}
		s3Store, err := storage.NewS3Storage(cfg.TempDir, s3Cfg)
		if err != nil {
			return nil, fmt.Errorf("create S3 storage: %w", err)
		}
		logger.Info("S3 storage configured",
			slog.String("bucket", cfg.S3Bucket),
			slog.String("region", cfg.S3Region),
		)
		return s3Store, nil
	}

	localStore, err := storage.NewLocalStorage(cfg.TempDir)
	if err != nil {
		return nil, fmt.Errorf("create local storage: %w", err)
	}
	logger.Info("local storage configured",
		slog.String("temp_dir", cfg.TempDir),
	)
	return localStore, nil
}
