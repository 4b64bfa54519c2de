// Package storage provides temporary resources, ephemeral frame workspaces and
// optional artifact publishing. It defines the Storage interface (port) and
// implementations for local disk and S3.
package storage

import (
	"context"
	"io"
)

// Storage defines the interface for transient media resources.
// Uploaded media is held in temporary files for as long as the owning media
// handle is live; export encoders get a private workspace per job.
type Storage interface {
	// SaveTemp saves data to a temporary file and returns the file path.
	// The name parameter is used as a hint for the filename.
	SaveTemp(ctx context.Context, name string, data io.Reader) (path string, err error)

	// LoadTemp reads a temporary file and returns a reader.
	// The caller is responsible for closing the returned ReadCloser.
	LoadTemp(ctx context.Context, path string) (io.ReadCloser, error)

	// CleanupTemp removes the specified temporary files.
	// It continues cleanup even if some files fail to delete.
	CleanupTemp(ctx context.Context, paths []string) error

	// NewWorkspace creates an empty private directory for one export job.
	// The caller must Remove it when done.
	NewWorkspace(ctx context.Context, prefix string) (*Workspace, error)

	// UploadToS3 uploads data to S3 and returns the public URL.
	// Returns ErrS3NotConfigured if S3 is not configured.
	UploadToS3(ctx context.Context, key, contentType string, data io.Reader) (url string, err error)
}
