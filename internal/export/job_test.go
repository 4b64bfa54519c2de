package export

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/maauso/clipopera/internal/encoder"
)

func TestNewJob(t *testing.T) {
	job := NewJob(encoder.FormatGIF)

	if !strings.HasPrefix(job.ID, "exp-") {
		t.Errorf("expected export ID, got %s", job.ID)
	}
	if job.Status != StatusIdle {
		t.Errorf("expected status %s, got %s", StatusIdle, job.Status)
	}
	if job.Format != encoder.FormatGIF {
		t.Errorf("expected format gif, got %s", job.Format)
	}
	if job.CreatedAt.IsZero() || job.UpdatedAt.IsZero() {
		t.Error("expected timestamps to be set")
	}
}

func TestJob_ValidTransitions(t *testing.T) {
	tests := []struct {
		name    string
		from    Status
		to      Status
		wantErr bool
	}{
		{"IDLE to CAPTURING", StatusIdle, StatusCapturing, false},
		{"IDLE to FAILED", StatusIdle, StatusFailed, false},
		{"CAPTURING to ENCODING", StatusCapturing, StatusEncoding, false},
		{"CAPTURING to FAILED", StatusCapturing, StatusFailed, false},
		{"ENCODING to DONE", StatusEncoding, StatusDone, false},
		{"ENCODING to FAILED", StatusEncoding, StatusFailed, false},
		// Invalid transitions
		{"IDLE to ENCODING", StatusIdle, StatusEncoding, true},
		{"IDLE to DONE", StatusIdle, StatusDone, true},
		{"CAPTURING to DONE", StatusCapturing, StatusDone, true},
		{"ENCODING to CAPTURING", StatusEncoding, StatusCapturing, true},
		{"DONE to IDLE", StatusDone, StatusIdle, true},
		{"FAILED to CAPTURING", StatusFailed, StatusCapturing, true},
		{"unknown state", Status("PAUSED"), StatusDone, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			job := NewJobWithID("test", encoder.FormatGIF)
			job.Status = tt.from

			err := job.TransitionTo(tt.to)

			if tt.wantErr && !errors.Is(err, ErrInvalidTransition) {
				t.Errorf("expected ErrInvalidTransition for %s -> %s, got %v", tt.from, tt.to, err)
			}
			if !tt.wantErr && err != nil {
				t.Errorf("unexpected error for transition %s -> %s: %v", tt.from, tt.to, err)
			}
		})
	}
}

func TestJob_Timestamps(t *testing.T) {
	job := NewJob(encoder.FormatMP4)
	before := time.Now()

	if err := job.TransitionTo(StatusCapturing); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if job.StartedAt.Before(before) {
		t.Error("expected StartedAt to be set on capture")
	}
	if !job.CompletedAt.IsZero() {
		t.Error("expected CompletedAt to be unset while capturing")
	}

	_ = job.TransitionTo(StatusEncoding)
	_ = job.Complete(&encoder.Blob{Name: "clipopera.mp4"})
	if job.CompletedAt.IsZero() {
		t.Error("expected CompletedAt to be set")
	}
}

func TestJob_Complete(t *testing.T) {
	job := NewJob(encoder.FormatGIF)
	blob := &encoder.Blob{Name: "clipopera.gif", Data: []byte("GIF89a")}

	if err := job.Complete(blob); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected completing an idle job to fail, got %v", err)
	}
	if job.Artifact != nil {
		t.Error("artifact must not be set on a rejected completion")
	}

	_ = job.TransitionTo(StatusCapturing)
	_ = job.TransitionTo(StatusEncoding)
	if err := job.Complete(blob); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if job.Status != StatusDone {
		t.Errorf("expected status %s, got %s", StatusDone, job.Status)
	}
	if job.Artifact != blob {
		t.Error("expected artifact to be stored")
	}
	if job.Err() != nil {
		t.Errorf("expected no error on a done job, got %v", job.Err())
	}
}

func TestJob_Fail(t *testing.T) {
	tests := []struct {
		reason FailureReason
		want   error
	}{
		{ReasonNoMediaLoaded, ErrNoMediaLoaded},
		{ReasonEncoderInitFailed, ErrEncoderInitFailed},
		{ReasonEncodeAborted, ErrEncodeAborted},
	}

	for _, tt := range tests {
		t.Run(string(tt.reason), func(t *testing.T) {
			job := NewJob(encoder.FormatGIF)
			_ = job.TransitionTo(StatusCapturing)

			if err := job.Fail(tt.reason, "something went wrong"); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if job.Status != StatusFailed {
				t.Errorf("expected status %s, got %s", StatusFailed, job.Status)
			}
			if job.Reason != tt.reason {
				t.Errorf("expected reason %s, got %s", tt.reason, job.Reason)
			}
			if !errors.Is(job.Err(), tt.want) {
				t.Errorf("expected Err() to wrap %v, got %v", tt.want, job.Err())
			}
			if !strings.Contains(job.Err().Error(), "something went wrong") {
				t.Errorf("expected message in error, got %v", job.Err())
			}
		})
	}
}

func TestJob_FailTwice(t *testing.T) {
	job := NewJob(encoder.FormatGIF)
	_ = job.Fail(ReasonEncodeAborted, "first")

	if err := job.Fail(ReasonEncoderInitFailed, "second"); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition, got %v", err)
	}
	if job.Reason != ReasonEncodeAborted || job.Error != "first" {
		t.Error("a terminal job must keep its first failure")
	}
}

func TestJob_IsTerminal(t *testing.T) {
	tests := []struct {
		status   Status
		terminal bool
	}{
		{StatusIdle, false},
		{StatusCapturing, false},
		{StatusEncoding, false},
		{StatusDone, true},
		{StatusFailed, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			job := NewJobWithID("test", encoder.FormatGIF)
			job.Status = tt.status

			if got := job.IsTerminal(); got != tt.terminal {
				t.Errorf("IsTerminal() = %v, want %v", got, tt.terminal)
			}
		})
	}
}

func TestJob_Progress(t *testing.T) {
	job := NewJob(encoder.FormatGIF)
	if job.Progress() != 0 {
		t.Errorf("expected 0 without planned ticks, got %d", job.Progress())
	}

	job.Ticks = 10
	job.SetFramesCaptured(5)
	if job.Progress() != 45 {
		t.Errorf("expected 45, got %d", job.Progress())
	}

	job.SetFramesCaptured(10)
	if job.Progress() != 90 {
		t.Errorf("expected 90 after capture, got %d", job.Progress())
	}

	job.Status = StatusDone
	if job.Progress() != 100 {
		t.Errorf("expected 100 when done, got %d", job.Progress())
	}
}

func TestJob_SetPublished(t *testing.T) {
	job := NewJob(encoder.FormatMP4)
	job.SetPublished("https://bucket.s3.eu-west-1.amazonaws.com/exports/clipopera.mp4", "")

	if job.ArtifactURL != "https://bucket.s3.eu-west-1.amazonaws.com/exports/clipopera.mp4" {
		t.Errorf("unexpected ArtifactURL %s", job.ArtifactURL)
	}
}

func TestJob_Clone(t *testing.T) {
	job := NewJob(encoder.FormatGIF)
	job.Status = StatusCapturing
	job.Ticks = 10
	job.FramesCaptured = 3

	clone := job.Clone()

	if clone.ID != job.ID || clone.Status != job.Status || clone.FramesCaptured != 3 || clone.Ticks != 10 {
		t.Errorf("clone differs from original: %+v", clone)
	}

	// Verify clone is independent
	clone.Status = StatusDone
	clone.FramesCaptured = 9
	if job.Status == StatusDone || job.FramesCaptured == 9 {
		t.Error("modifying clone should not affect original")
	}
}

func TestJob_GetStatus_ThreadSafe(t *testing.T) {
	job := NewJob(encoder.FormatGIF)

	done := make(chan bool)
	go func() {
		for i := 0; i < 100; i++ {
			_ = job.GetStatus()
			_ = job.Progress()
		}
		done <- true
	}()

	go func() {
		for i := 0; i < 100; i++ {
			_ = job.TransitionTo(StatusCapturing)
			job.SetFramesCaptured(i)
		}
		done <- true
	}()

	<-done
	<-done

	if job.GetStatus() != StatusCapturing {
		t.Errorf("expected status %s, got %s", StatusCapturing, job.GetStatus())
	}
}
