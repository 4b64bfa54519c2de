package media

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// Static errors for media operations.
var (
	// ErrInvalidDimensions is returned when the provided dimensions are not positive.
	ErrInvalidDimensions = errors.New("invalid dimensions: width and height must be positive")
	// ErrInvalidFrameRate is returned when the sequence frame rate is not positive.
	ErrInvalidFrameRate = errors.New("invalid frame rate: must be positive")
	// ErrFFprobeExecution is returned when ffprobe command fails.
	ErrFFprobeExecution = errors.New("ffprobe execution failed")
	// ErrNoVideoStream is returned when a file has no video stream.
	ErrNoVideoStream = errors.New("no video stream found")
	// ErrFFmpegNotFound is returned when the ffmpeg binary cannot be located.
	ErrFFmpegNotFound = errors.New("ffmpeg binary not found")
)

// Compile-time checks that FFmpegProcessor implements the media ports.
var (
	_ Prober     = (*FFmpegProcessor)(nil)
	_ Player     = (*FFmpegProcessor)(nil)
	_ Transcoder = (*FFmpegProcessor)(nil)
)

// FFmpegProcessor implements Prober, Player and Transcoder using the
// ffmpeg and ffprobe CLIs.
type FFmpegProcessor struct {
	// ffmpegPath is the path to the ffmpeg binary. Defaults to "ffmpeg".
	ffmpegPath string
	// ffprobePath is the path to the ffprobe binary. Defaults to "ffprobe".
	ffprobePath string
}

// NewFFmpegProcessor creates a new FFmpegProcessor.
// Empty paths default to "ffmpeg" and "ffprobe" (found via PATH).
func NewFFmpegProcessor(ffmpegPath, ffprobePath string) *FFmpegProcessor {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	return &FFmpegProcessor{ffmpegPath: ffmpegPath, ffprobePath: ffprobePath}
}

// Available reports whether the ffmpeg binary can be found.
func (p *FFmpegProcessor) Available() error {
	if _, err := exec.LookPath(p.ffmpegPath); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrFFmpegNotFound, p.ffmpegPath, err)
	}
	return nil
}

// Probe returns the dimensions and duration of the first video stream.
func (p *FFmpegProcessor) Probe(ctx context.Context, path string) (Info, error) {
	// #nosec G204 - ffprobePath is set by the application, not user input
	cmd := exec.CommandContext(ctx, p.ffprobePath,
		"-v", "error",
		"-select_streams", "v:0",
		"-show_entries", "stream=width,height:format=duration",
		"-of", "json",
		path,
	)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return Info{}, fmt.Errorf("ffprobe cancelled: %w", ctx.Err())
		}
		return Info{}, fmt.Errorf("%w: %w, stderr: %s", ErrFFprobeExecution, err, strings.TrimSpace(stderr.String()))
	}

	return parseProbeOutput(stdout.Bytes())
}

// parseProbeOutput extracts Info from ffprobe JSON output.
func parseProbeOutput(data []byte) (Info, error) {
	var probe struct {
		Streams []struct {
			Width  int `json:"width"`
			Height int `json:"height"`
		} `json:"streams"`
		Format struct {
			Duration string `json:"duration"`
		} `json:"format"`
	}

	if err := json.Unmarshal(data, &probe); err != nil {
		return Info{}, fmt.Errorf("parse ffprobe output: %w", err)
	}

	for _, s := range probe.Streams {
		if s.Width > 0 && s.Height > 0 {
			info := Info{Width: s.Width, Height: s.Height}
			if secs, err := strconv.ParseFloat(probe.Format.Duration, 64); err == nil {
				info.Duration = time.Duration(secs * float64(time.Second))
			}
			return info, nil
		}
	}

	return Info{}, ErrNoVideoStream
}

// Play decodes path at its native rate ("-re") to raw RGBA frames on stdout.
func (p *FFmpegProcessor) Play(ctx context.Context, path string, width, height int, sink FrameSink) error {
	if width <= 0 || height <= 0 {
		return fmt.Errorf("%w: width=%d, height=%d", ErrInvalidDimensions, width, height)
	}

	args := []string{
		"-v", "error",
		// Read input at native frame rate so playback advances in real time
		"-re",
		"-i", path,
		"-an",
		"-f", "rawvideo",
		"-pix_fmt", "rgba",
		"-s", fmt.Sprintf("%dx%d", width, height),
		"pipe:1",
	}

	// #nosec G204 - ffmpegPath is set by the application, not user input
	cmd := exec.CommandContext(ctx, p.ffmpegPath, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("ffmpeg stdout: %w", err)
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start ffmpeg: %w", err)
	}

	frame := image.NewRGBA(image.Rect(0, 0, width, height))
	readErr := readFrames(stdout, frame, sink)
	if readErr != nil {
		// stop ffmpeg blocking on a pipe nobody drains
		_ = cmd.Process.Kill()
	}

	waitErr := cmd.Wait()
	if ctx.Err() != nil {
		return fmt.Errorf("ffmpeg cancelled: %w", ctx.Err())
	}
	if readErr != nil {
		return readErr
	}
	if waitErr != nil {
		return &FFmpegError{Args: args, Stderr: stderr.String(), Err: waitErr}
	}
	return nil
}

// readFrames fills frame from r one full frame at a time until EOF.
func readFrames(r io.Reader, frame *image.RGBA, sink FrameSink) error {
	for {
		_, err := io.ReadFull(r, frame.Pix)
		switch {
		case err == nil:
			sink(frame)
		case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
			// a trailing partial frame is dropped
			return nil
		default:
			return fmt.Errorf("read frame: %w", err)
		}
	}
}

// EncodeSequence transcodes a numbered image sequence into a single video.
func (p *FFmpegProcessor) EncodeSequence(ctx context.Context, inputPattern, output string, opts SequenceOpts) error {
	if opts.FrameRate <= 0 {
		return fmt.Errorf("%w: got %d", ErrInvalidFrameRate, opts.FrameRate)
	}
	def := DefaultSequenceOpts()
	if opts.Codec == "" {
		opts.Codec = def.Codec
	}
	if opts.PixelFormat == "" {
		opts.PixelFormat = def.PixelFormat
	}

	return p.runFFmpeg(ctx, sequenceArgs(inputPattern, output, opts))
}

// evenPad rounds odd frame sizes up to even ones, which yuv420p requires.
// Even sizes pass through unchanged.
const evenPad = "pad=ceil(iw/2)*2:ceil(ih/2)*2"

func sequenceArgs(inputPattern, output string, opts SequenceOpts) []string {
	return []string{
		"-y",
		"-framerate", strconv.Itoa(opts.FrameRate),
		"-i", inputPattern,
		"-vf", evenPad,
		"-c:v", opts.Codec,
		"-pix_fmt", opts.PixelFormat,
		output,
	}
}

// runFFmpeg executes ffmpeg with the given arguments and returns an error
// containing stderr output if the command fails.
func (p *FFmpegProcessor) runFFmpeg(ctx context.Context, args []string) error {
	// #nosec G204 - ffmpegPath is set by the application, not user input
	cmd := exec.CommandContext(ctx, p.ffmpegPath, args...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err != nil {
		// Check if context was cancelled
		if ctx.Err() != nil {
			return fmt.Errorf("ffmpeg cancelled: %w", ctx.Err())
		}
		return &FFmpegError{
			Args:   args,
			Stderr: stderr.String(),
			Err:    err,
		}
	}

	return nil
}

// FFmpegError represents an error from running ffmpeg, including the stderr output.
type FFmpegError struct {
	Args   []string
	Stderr string
	Err    error
}

func (e *FFmpegError) Error() string {
	return fmt.Sprintf("ffmpeg error: %v\nargs: %v\nstderr: %s", e.Err, e.Args, e.Stderr)
}

func (e *FFmpegError) Unwrap() error {
	return e.Err
}
