// Package server provides the HTTP server for the clipopera API.
// It includes handlers, middleware, routes, and DTOs separated from domain types.
package server

import "time"

// CreateSessionRequest is the HTTP request body for creating a session.
// Zero values take the server defaults.
type CreateSessionRequest struct {
	// Width is the output surface width.
	Width int `json:"width" validate:"omitempty,min=2,max=4096"`
	// Height is the output surface height.
	Height int `json:"height" validate:"omitempty,min=2,max=4096"`
	// FitMode is "contain" or "cover".
	FitMode string `json:"fit_mode" validate:"omitempty,oneof=contain cover"`
}

// FitRequest is the HTTP request body for changing the fit mode.
type FitRequest struct {
	// Mode is "contain" or "cover".
	Mode string `json:"mode" validate:"required,oneof=contain cover"`
}

// CreateExportRequest is the HTTP request body for starting an export.
type CreateExportRequest struct {
	// Format is the artifact format.
	Format string `json:"format" validate:"required,oneof=gif mp4 avi"`
	// PushToS3 indicates whether to publish the artifact to S3.
	PushToS3 bool `json:"push_to_s3"`
}

// MediaResponse describes the media loaded into a session.
type MediaResponse struct {
	Kind    string `json:"kind"`
	Name    string `json:"name"`
	Width   int    `json:"width"`
	Height  int    `json:"height"`
	Playing bool   `json:"playing"`
}

// SessionResponse is the HTTP response for session details.
type SessionResponse struct {
	// ID is the unique identifier for the session.
	ID string `json:"id"`
	// Width and Height are the fixed surface dimensions.
	Width  int `json:"width"`
	Height int `json:"height"`
	// FitMode is the current fit mode.
	FitMode string `json:"fit_mode"`
	// ExportState is the pipeline state: IDLE, CAPTURING or ENCODING.
	ExportState string `json:"export_state"`
	// Media is the loaded media, if any.
	Media *MediaResponse `json:"media,omitempty"`
	// CreatedAt is when the session was created.
	CreatedAt time.Time `json:"created_at"`
}

// SessionListResponse is the HTTP response for listing sessions.
type SessionListResponse struct {
	Sessions []SessionResponse `json:"sessions"`
}

// CreateExportResponse is the HTTP response after starting an export.
type CreateExportResponse struct {
	// ID is the unique identifier for the created job.
	ID string `json:"id"`
	// Status is the initial job status.
	Status string `json:"status"`
}

// JobResponse is the HTTP response for getting export job details.
type JobResponse struct {
	// ID is the unique identifier for the job.
	ID string `json:"id"`
	// Format is the artifact format.
	Format string `json:"format"`
	// Status is the current job status.
	Status string `json:"status"`
	// Progress is the percentage of completion (0-100).
	Progress int `json:"progress"`
	// FramesCaptured counts frames sampled so far.
	FramesCaptured int `json:"frames_captured"`
	// Reason is the failure reason if the job failed.
	Reason string `json:"reason,omitempty"`
	// Error contains any error message if the job failed or publishing failed.
	Error string `json:"error,omitempty"`
	// ArtifactName is the download file name once the job is done.
	ArtifactName string `json:"artifact_name,omitempty"`
	// ArtifactSize is the artifact size in bytes once the job is done.
	ArtifactSize int `json:"artifact_size,omitempty"`
	// ArtifactURL is the S3 URL of the artifact (if push_to_s3=true and done).
	ArtifactURL string `json:"artifact_url,omitempty"`
}

// JobListResponse is the HTTP response for listing export jobs.
type JobListResponse struct {
	Jobs []JobResponse `json:"jobs"`
}

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	// Error is the human-readable error message.
	Error string `json:"error"`
	// Code is the error code for programmatic handling.
	Code string `json:"code"`
}

// HealthResponse is the HTTP response for the health check endpoint.
type HealthResponse struct {
	// Status is the health status of the service.
	Status string `json:"status"`
}
