package export

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"path"
	"sync"
	"time"

	"github.com/maauso/clipopera/internal/encoder"
	"github.com/maauso/clipopera/internal/render"
	"github.com/maauso/clipopera/internal/source"
)

// ErrExportInProgress is returned when an export is requested while another
// one is capturing or encoding.
var ErrExportInProgress = errors.New("export already in progress")

// Surface is the output surface frames are captured from.
type Surface interface {
	// Size returns the fixed surface dimensions.
	Size() (width, height int)
	// Capture paints src and returns a copy of the surface.
	Capture(src render.Source) (*image.RGBA, render.DrawRect, error)
}

// Sources provides the currently loaded media.
type Sources interface {
	Current() source.Handle
}

// EncoderFactory creates an encoder for a format.
type EncoderFactory interface {
	New(ctx context.Context, format encoder.Format, s encoder.Settings) (encoder.Encoder, error)
}

// Publisher uploads finished artifacts. storage.Storage satisfies it.
type Publisher interface {
	UploadToS3(ctx context.Context, key, contentType string, data io.Reader) (url string, err error)
}

// Options are per-export settings.
type Options struct {
	// PushToS3 publishes the artifact when a Publisher is configured.
	PushToS3 bool
}

// Pipeline samples frames from the current source and encodes them. It runs
// one job at a time; a second Start while a job is active is rejected.
type Pipeline struct {
	surface   Surface
	sources   Sources
	encoders  EncoderFactory
	repo      Repository
	publisher Publisher
	policy    Policy
	logger    *slog.Logger

	mu     sync.Mutex
	active *Job
	cancel context.CancelFunc
	done   chan struct{}
}

// NewPipeline creates a pipeline. publisher may be nil.
func NewPipeline(surface Surface, sources Sources, encoders EncoderFactory, repo Repository, publisher Publisher, policy Policy, logger *slog.Logger) (*Pipeline, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	if repo == nil {
		repo = NewMemoryRepository()
	}
	return &Pipeline{
		surface:   surface,
		sources:   sources,
		encoders:  encoders,
		repo:      repo,
		publisher: publisher,
		policy:    policy,
		logger:    logger,
	}, nil
}

// Policy returns the capture policy.
func (p *Pipeline) Policy() Policy {
	return p.policy
}

// State returns the status of the active job, or IDLE.
func (p *Pipeline) State() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.active == nil {
		return StatusIdle
	}
	return p.active.GetStatus()
}

// Busy reports whether a job is capturing or encoding.
func (p *Pipeline) Busy() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active != nil
}

// WhenIdle runs fn while holding off Start, provided no job is active.
// Otherwise it returns ErrExportInProgress without calling fn. fn must not
// call back into the pipeline.
func (p *Pipeline) WhenIdle(fn func() error) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.active != nil {
		return ErrExportInProgress
	}
	return fn()
}

// Job returns a job record by ID.
func (p *Pipeline) Job(ctx context.Context, jobID string) (*Job, error) {
	return p.repo.FindByID(ctx, jobID)
}

// Jobs returns all job records, oldest first.
func (p *Pipeline) Jobs(ctx context.Context) ([]*Job, error) {
	return p.repo.List(ctx)
}

// Start begins an export and returns immediately. The channel receives the
// terminal job once and is then closed; by then the pipeline is idle again.
//
// With no ready media Start returns ErrNoMediaLoaded and creates no job.
// If the encoder cannot start, the job is recorded FAILED and the error
// wraps ErrEncoderInitFailed.
func (p *Pipeline) Start(ctx context.Context, format encoder.Format, opts Options) (*Job, <-chan *Job, error) {
	if !format.IsValid() {
		return nil, nil, fmt.Errorf("%w: %q", encoder.ErrUnknownFormat, format)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.active != nil {
		return nil, nil, ErrExportInProgress
	}

	src := p.sources.Current()
	if !isReady(src) {
		p.logger.Info("export skipped: no media loaded", slog.String("format", string(format)))
		return nil, nil, ErrNoMediaLoaded
	}

	w, h := p.surface.Size()
	job := NewJob(format)
	job.Width, job.Height = w, h
	job.Ticks = p.policy.CaptureTicks
	job.PushToS3 = opts.PushToS3

	logger := p.logger.With(
		slog.String("job_id", job.ID),
		slog.String("format", string(format)),
	)

	enc, err := p.encoders.New(ctx, format, p.policy.encoderSettings(w, h))
	if err != nil {
		_ = job.Fail(ReasonEncoderInitFailed, err.Error())
		p.save(ctx, job, logger)
		logger.Error("encoder init failed", slog.String("error", err.Error()))
		return job.Clone(), nil, fmt.Errorf("%w: %w", ErrEncoderInitFailed, err)
	}

	p.save(ctx, job, logger)

	// The job outlives the request that started it.
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	p.active = job
	p.cancel = cancel
	p.done = make(chan struct{})

	updates := make(chan *Job, 1)
	go p.run(runCtx, job, src, enc, opts, updates, p.done, logger)

	logger.Info("export started",
		slog.Int("ticks", p.policy.CaptureTicks),
		slog.Duration("tick_interval", p.policy.TickInterval),
		slog.Int("width", w),
		slog.Int("height", h),
	)
	return job.Clone(), updates, nil
}

// Export runs an export to completion. A failed job is returned together
// with an error wrapping its reason. Cancelling ctx aborts the job.
func (p *Pipeline) Export(ctx context.Context, format encoder.Format, opts Options) (*Job, error) {
	job, updates, err := p.Start(ctx, format, opts)
	if err != nil {
		return job, err
	}

	select {
	case final := <-updates:
		return final, final.Err()
	case <-ctx.Done():
		p.cancelJob(job.ID)
		final := <-updates
		if final.GetStatus() == StatusDone {
			return final, nil
		}
		return final, fmt.Errorf("%w: %w", ErrEncodeAborted, ctx.Err())
	}
}

// Cancel aborts the active job, if any, and waits until the pipeline is idle.
// The job ends FAILED with reason ENCODE_ABORTED.
func (p *Pipeline) Cancel() {
	p.cancelJob("")
}

// cancelJob cancels the active job when it matches jobID, or any active
// job when jobID is empty.
func (p *Pipeline) cancelJob(jobID string) {
	p.mu.Lock()
	if p.active == nil || (jobID != "" && p.active.ID != jobID) {
		p.mu.Unlock()
		return
	}
	cancel, done := p.cancel, p.done
	p.mu.Unlock()

	cancel()
	<-done
}

func (p *Pipeline) run(ctx context.Context, job *Job, src render.Source, enc encoder.Encoder, opts Options, updates chan<- *Job, done chan struct{}, logger *slog.Logger) {
	frames := NewFrameBuffer(p.policy.CaptureTicks)

	defer func() {
		frames.Reset()

		p.mu.Lock()
		p.active = nil
		p.cancel()
		p.cancel = nil
		p.done = nil
		p.mu.Unlock()

		updates <- job.Clone()
		close(updates)
		close(done)
	}()

	fail := func(reason FailureReason, err error) {
		enc.Abort()
		_ = job.Fail(reason, err.Error())
		p.save(ctx, job, logger)
		logger.Warn("export failed",
			slog.String("reason", string(reason)),
			slog.String("error", err.Error()),
		)
	}

	if err := job.TransitionTo(StatusCapturing); err != nil {
		fail(ReasonEncodeAborted, err)
		return
	}
	p.save(ctx, job, logger)

	if err := p.capture(ctx, job, src, frames, logger); err != nil {
		fail(ReasonEncodeAborted, err)
		return
	}

	if err := job.TransitionTo(StatusEncoding); err != nil {
		fail(ReasonEncodeAborted, err)
		return
	}
	p.save(ctx, job, logger)

	start := time.Now()
	for i, f := range frames.Frames() {
		if err := enc.SubmitFrame(ctx, f.Image, f.Delay); err != nil {
			fail(ReasonEncodeAborted, fmt.Errorf("submit frame %d: %w", i, err))
			return
		}
	}
	blob, err := enc.Finalize(ctx)
	if err == nil && ctx.Err() != nil {
		err = ctx.Err()
	}
	if err != nil {
		fail(ReasonEncodeAborted, fmt.Errorf("finalize: %w", err))
		return
	}

	if opts.PushToS3 {
		p.publish(ctx, job, blob, logger)
	}

	if err := job.Complete(blob); err != nil {
		fail(ReasonEncodeAborted, err)
		return
	}
	p.save(ctx, job, logger)

	logger.Info("export completed",
		slog.Int("frames", blob.Frames),
		slog.Int("bytes", blob.Size()),
		slog.Duration("duration", blob.Duration),
		slog.Duration("encode_time", time.Since(start)),
	)
}

// capture samples policy.CaptureTicks frames. Ticks are nominally
// TickInterval apart; the first is taken immediately.
func (p *Pipeline) capture(ctx context.Context, job *Job, src render.Source, frames *FrameBuffer, logger *slog.Logger) error {
	var ticker *time.Ticker
	if p.policy.TickInterval > 0 {
		ticker = time.NewTicker(p.policy.TickInterval)
		defer ticker.Stop()
	}

	for i := 0; i < p.policy.CaptureTicks; i++ {
		if i > 0 && ticker != nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
			}
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		img, _, err := p.surface.Capture(src)
		if err != nil {
			return fmt.Errorf("capture tick %d: %w", i, err)
		}
		frames.Append(img, p.policy.FrameDelay)
		job.SetFramesCaptured(frames.Len())
		p.save(ctx, job, logger)
	}

	logger.Debug("capture finished",
		slog.Int("frames", frames.Len()),
		slog.Duration("display_duration", frames.Duration()),
	)
	return nil
}

func (p *Pipeline) publish(ctx context.Context, job *Job, blob *encoder.Blob, logger *slog.Logger) {
	if p.publisher == nil {
		job.SetPublished("", "publish skipped: no publisher configured")
		return
	}

	key := path.Join("exports", job.ID, blob.Name)
	url, err := p.publisher.UploadToS3(ctx, key, blob.ContentType, bytes.NewReader(blob.Data))
	if err != nil {
		logger.Warn("artifact publish failed", slog.String("error", err.Error()))
		job.SetPublished("", "publish failed: "+err.Error())
		return
	}
	job.SetPublished(url, "")
	logger.Info("artifact published", slog.String("url", url))
}

func (p *Pipeline) save(ctx context.Context, job *Job, logger *slog.Logger) {
	if err := p.repo.Save(context.WithoutCancel(ctx), job); err != nil {
		logger.Error("failed to save job", slog.String("error", err.Error()))
	}
}

// isReady reports whether src has produced its first frame without error.
func isReady(src source.Handle) bool {
	if src == nil {
		return false
	}
	select {
	case <-src.Ready():
		return src.Err() == nil
	default:
		return false
	}
}
