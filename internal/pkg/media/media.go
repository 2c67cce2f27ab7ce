// Package media demuxes uploaded videos with ffmpeg: one audio track for
// transcription and a sampled frame sequence for the visual classifiers.
package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/go-kratos/kratos/v2/log"
)

var (
	// ErrNoAudio means no audio track could be extracted. Callers treat it as an empty transcript.
	ErrNoAudio = errors.New("media: no audio track")
	// ErrFFmpegNotFound means the ffmpeg binary could not be resolved.
	ErrFFmpegNotFound = errors.New("media: ffmpeg not found")
)

// Error is a transcoding failure.
type Error struct {
	Op     string
	Path   string
	Stderr string
	Err    error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("media: %s %s: %v", e.Op, e.Path, e.Err)
	if e.Stderr != "" {
		msg += ": " + e.Stderr
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Config holds configuration for media preparation.
type Config struct {
	FFmpegPath    string        // binary name or absolute path
	WorkDir       string        // parent of per-request workspaces
	FrameInterval int           // keep every Nth decoded frame
	Timeout       time.Duration // per ffmpeg invocation
}

// DefaultConfig returns default configuration.
func DefaultConfig() Config {
	return Config{
		FFmpegPath:    "ffmpeg",
		WorkDir:       filepath.Join(os.TempDir(), "reelguard"),
		FrameInterval: 1,
		Timeout:       5 * time.Minute,
	}
}

// Frame is one sampled frame on disk. Index is the position of the frame in
// the decoded source stream.
type Frame struct {
	Index int
	Path  string
}

// Read loads the JPEG bytes of the frame.
func (f Frame) Read() ([]byte, error) {
	return os.ReadFile(f.Path)
}

// Workspace is the scratch directory owned by one request.
type Workspace struct {
	Dir       string
	FramesDir string
}

// Remove deletes the workspace and everything in it.
func (w *Workspace) Remove() error {
	if w == nil {
		return nil
	}
	return os.RemoveAll(w.Dir)
}

// Preparer runs ffmpeg.
type Preparer struct {
	config Config
	ffmpeg string
	log    *log.Helper
}

// NewPreparer resolves the ffmpeg binary and creates the work directory.
func NewPreparer(config Config, logger log.Logger) (*Preparer, error) {
	if config.FrameInterval <= 0 {
		config.FrameInterval = 1
	}
	ffmpeg, err := exec.LookPath(config.FFmpegPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrFFmpegNotFound, config.FFmpegPath, err)
	}
	if err := os.MkdirAll(config.WorkDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create work directory: %w", err)
	}
	return &Preparer{
		config: config,
		ffmpeg: ffmpeg,
		log:    log.NewHelper(logger),
	}, nil
}

// FrameInterval returns the sampling interval used by SampleFrames.
func (p *Preparer) FrameInterval() int {
	return p.config.FrameInterval
}

// NewWorkspace creates a fresh directory for one request.
func (p *Preparer) NewWorkspace(requestID string) (*Workspace, error) {
	dir, err := os.MkdirTemp(p.config.WorkDir, requestID+"-")
	if err != nil {
		return nil, fmt.Errorf("failed to create workspace: %w", err)
	}
	return &Workspace{
		Dir:       dir,
		FramesDir: filepath.Join(dir, "frames"),
	}, nil
}

// ExtractAudio demuxes the best audio stream of video to an mp3 inside ws.
// Any failure removes the partial output and wraps ErrNoAudio.
func (p *Preparer) ExtractAudio(ctx context.Context, video string, ws *Workspace) (string, error) {
	out := filepath.Join(ws.Dir, "audio.mp3")
	err := p.run(ctx, "-i", video, "-q:a", "0", "-map", "a", out, "-y")
	if err != nil {
		if rmErr := os.Remove(out); rmErr != nil && !os.IsNotExist(rmErr) {
			p.log.Warnf("failed to remove partial audio %s: %v", out, rmErr)
		}
		return "", &Error{Op: "extract audio", Path: video, Stderr: stderrOf(err), Err: errors.Join(ErrNoAudio, err)}
	}
	return out, nil
}

// SampleFrames decodes video and keeps every FrameInterval-th frame as a JPEG
// in ws.FramesDir, which is wiped first. The result is in stream order; a
// video without decodable frames yields an empty slice.
func (p *Preparer) SampleFrames(ctx context.Context, video string, ws *Workspace) ([]Frame, error) {
	if err := os.RemoveAll(ws.FramesDir); err != nil {
		return nil, fmt.Errorf("failed to clear frame directory: %w", err)
	}
	if err := os.MkdirAll(ws.FramesDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create frame directory: %w", err)
	}

	interval := p.config.FrameInterval
	args := []string{"-i", video}
	if interval > 1 {
		args = append(args, "-vf", fmt.Sprintf("select=not(mod(n\\,%d))", interval))
	}
	args = append(args, "-vsync", "vfr", "-q:v", "2", filepath.Join(ws.FramesDir, "frame_%06d.jpg"))

	if err := p.run(ctx, args...); err != nil {
		return nil, &Error{Op: "sample frames", Path: video, Stderr: stderrOf(err), Err: err}
	}

	paths, err := filepath.Glob(filepath.Join(ws.FramesDir, "frame_*.jpg"))
	if err != nil {
		return nil, fmt.Errorf("failed to list frames: %w", err)
	}
	sort.Strings(paths)

	frames := make([]Frame, len(paths))
	for i, path := range paths {
		frames[i] = Frame{Index: i * interval, Path: path}
	}
	return frames, nil
}

type runError struct {
	err    error
	stderr string
}

func (e *runError) Error() string { return e.err.Error() }

func (e *runError) Unwrap() error { return e.err }

func stderrOf(err error) string {
	var re *runError
	if errors.As(err, &re) {
		return re.stderr
	}
	return ""
}

func (p *Preparer) run(ctx context.Context, args ...string) error {
	if p.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.config.Timeout)
		defer cancel()
	}

	args = append([]string{"-hide_banner", "-loglevel", "error", "-nostdin"}, args...)
	cmd := exec.CommandContext(ctx, p.ffmpeg, args...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	p.log.Debugf("running ffmpeg %v", args)
	if err := cmd.Run(); err != nil {
		return &runError{err: err, stderr: strings.TrimSpace(stderr.String())}
	}
	return nil
}
