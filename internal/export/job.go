// Package export provides the export job aggregate and the frame-sampling
// pipeline that drives it. A job moves IDLE -> CAPTURING -> ENCODING and ends
// DONE or FAILED; the pipeline runs at most one job at a time.
package export

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/maauso/clipopera/internal/encoder"
	"github.com/maauso/clipopera/internal/id"
)

// Status represents the current state of a Job.
type Status string

const (
	// StatusIdle indicates the job is created but capture has not begun.
	StatusIdle Status = "IDLE"
	// StatusCapturing indicates frames are being sampled from the source.
	StatusCapturing Status = "CAPTURING"
	// StatusEncoding indicates captured frames are being encoded.
	StatusEncoding Status = "ENCODING"
	// StatusDone indicates the artifact is available.
	StatusDone Status = "DONE"
	// StatusFailed indicates the export ended without an artifact.
	StatusFailed Status = "FAILED"
)

// FailureReason classifies why a job failed.
type FailureReason string

const (
	// ReasonNoMediaLoaded means there was nothing ready to capture.
	ReasonNoMediaLoaded FailureReason = "NO_MEDIA_LOADED"
	// ReasonEncoderInitFailed means the encoding engine could not start.
	ReasonEncoderInitFailed FailureReason = "ENCODER_INIT_FAILED"
	// ReasonEncodeAborted means capture or encoding stopped mid-job.
	ReasonEncodeAborted FailureReason = "ENCODE_ABORTED"
)

// Static errors for export jobs.
var (
	// ErrInvalidTransition is returned when an invalid state transition is attempted.
	ErrInvalidTransition = errors.New("invalid state transition")
	// ErrNoMediaLoaded is returned when an export is requested with no ready media.
	ErrNoMediaLoaded = errors.New("no media loaded")
	// ErrEncoderInitFailed is returned when the encoder for a job cannot start.
	ErrEncoderInitFailed = errors.New("encoder init failed")
	// ErrEncodeAborted is returned when a job stops before producing an artifact.
	ErrEncodeAborted = errors.New("encode aborted")
)

// Err returns the sentinel error for the reason.
func (r FailureReason) Err() error {
	switch r {
	case ReasonNoMediaLoaded:
		return ErrNoMediaLoaded
	case ReasonEncoderInitFailed:
		return ErrEncoderInitFailed
	default:
		return ErrEncodeAborted
	}
}

// validTransitions defines which state transitions are allowed.
var validTransitions = map[Status][]Status{
	StatusIdle:      {StatusCapturing, StatusFailed},
	StatusCapturing: {StatusEncoding, StatusFailed},
	StatusEncoding:  {StatusDone, StatusFailed},
	StatusDone:      {},
	StatusFailed:    {},
}

// canTransition checks if a transition from one status to another is valid.
func canTransition(from, to Status) bool {
	allowed, ok := validTransitions[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

// Job is one export request and, once DONE, its artifact.
type Job struct {
	mu sync.RWMutex

	// ID is the unique identifier for this job.
	ID string
	// Format is the target artifact format.
	Format encoder.Format
	// Status is the current job state.
	Status Status
	// Reason is set when Status is FAILED.
	Reason FailureReason
	// Error contains the failure message, or a publish warning on a DONE job.
	Error string
	// Width and Height are the surface dimensions frames are captured at.
	Width  int
	Height int
	// Ticks is the number of capture ticks planned.
	Ticks int
	// FramesCaptured counts frames sampled so far.
	FramesCaptured int
	// PushToS3 indicates whether to publish the artifact.
	PushToS3 bool
	// ArtifactURL is the published location if PushToS3 succeeded.
	ArtifactURL string
	// Artifact is the encoded result. It is never set on a failed job.
	Artifact *encoder.Blob
	// CreatedAt is when the job was created.
	CreatedAt time.Time
	// UpdatedAt is when the job was last updated.
	UpdatedAt time.Time
	// StartedAt is when capture started.
	StartedAt time.Time
	// CompletedAt is when the job reached a terminal state.
	CompletedAt time.Time
}

// NewJob creates an IDLE job with a generated ID.
func NewJob(format encoder.Format) *Job {
	return NewJobWithID(id.Export(), format)
}

// NewJobWithID creates an IDLE job with the specified ID.
func NewJobWithID(jobID string, format encoder.Format) *Job {
	now := time.Now()
	return &Job{
		ID:        jobID,
		Format:    format,
		Status:    StatusIdle,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// TransitionTo attempts to change the job status to the specified state.
// Returns ErrInvalidTransition if the transition is not allowed.
func (j *Job) TransitionTo(status Status) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.transitionLocked(status)
}

func (j *Job) transitionLocked(status Status) error {
	if !canTransition(j.Status, status) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, j.Status, status)
	}

	j.Status = status
	j.UpdatedAt = time.Now()

	switch status {
	case StatusCapturing:
		j.StartedAt = j.UpdatedAt
	case StatusDone, StatusFailed:
		j.CompletedAt = j.UpdatedAt
	}
	return nil
}

// Complete stores the artifact and transitions the job to DONE.
func (j *Job) Complete(blob *encoder.Blob) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if err := j.transitionLocked(StatusDone); err != nil {
		return err
	}
	j.Artifact = blob
	return nil
}

// Fail transitions the job to FAILED with a reason and message.
func (j *Job) Fail(reason FailureReason, msg string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if err := j.transitionLocked(StatusFailed); err != nil {
		return err
	}
	j.Reason = reason
	j.Error = msg
	j.Artifact = nil
	return nil
}

// Err returns the failure as an error wrapping the reason's sentinel, or nil.
func (j *Job) Err() error {
	j.mu.RLock()
	defer j.mu.RUnlock()
	if j.Status != StatusFailed {
		return nil
	}
	if j.Error == "" {
		return j.Reason.Err()
	}
	return fmt.Errorf("%w: %s", j.Reason.Err(), j.Error)
}

// SetFramesCaptured records capture progress.
func (j *Job) SetFramesCaptured(n int) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.FramesCaptured = n
	j.UpdatedAt = time.Now()
}

// SetPublished records where the artifact was published, or why it was not.
func (j *Job) SetPublished(url, errMsg string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.ArtifactURL = url
	j.Error = errMsg
	j.UpdatedAt = time.Now()
}

// GetStatus returns the current job status (thread-safe).
func (j *Job) GetStatus() Status {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.Status
}

// IsTerminal returns true if the job is DONE or FAILED.
func (j *Job) IsTerminal() bool {
	s := j.GetStatus()
	return s == StatusDone || s == StatusFailed
}

// Progress returns capture progress as a percentage (0-100).
func (j *Job) Progress() int {
	j.mu.RLock()
	defer j.mu.RUnlock()
	switch {
	case j.Status == StatusDone:
		return 100
	case j.Ticks <= 0:
		return 0
	default:
		// capture is the first 90%, encoding the rest
		return min(j.FramesCaptured*90/j.Ticks, 90)
	}
}

// Clone creates a copy of the job for safe reads. The artifact blob is
// shared; it is never modified after the job completes.
func (j *Job) Clone() *Job {
	j.mu.RLock()
	defer j.mu.RUnlock()

	return &Job{
		ID:             j.ID,
		Format:         j.Format,
		Status:         j.Status,
		Reason:         j.Reason,
		Error:          j.Error,
		Width:          j.Width,
		Height:         j.Height,
		Ticks:          j.Ticks,
		FramesCaptured: j.FramesCaptured,
		PushToS3:       j.PushToS3,
		ArtifactURL:    j.ArtifactURL,
		Artifact:       j.Artifact,
		CreatedAt:      j.CreatedAt,
		UpdatedAt:      j.UpdatedAt,
		StartedAt:      j.StartedAt,
		CompletedAt:    j.CompletedAt,
	}
}
