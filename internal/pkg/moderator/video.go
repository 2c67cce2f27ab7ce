package moderator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-kratos/kratos/v2/log"
	"golang.org/x/sync/errgroup"

	"reelguard/internal/pkg/media"
	"reelguard/internal/pkg/violence"
)

// ViolenceClassifier labels a frame window Violence or NonViolence.
type ViolenceClassifier interface {
	Classify(ctx context.Context, frames []violence.Frame) (string, error)
}

// Releaser frees model memory a runner holds between videos.
type Releaser interface {
	Release(ctx context.Context) error
}

// VideoModeratorConfig holds configuration for the visual stage.
type VideoModeratorConfig struct {
	WindowFrames   int
	WindowStride   int
	Timeout        time.Duration // per visual task
	ReleaseTimeout time.Duration
}

// DefaultVideoModeratorConfig returns default configuration.
func DefaultVideoModeratorConfig() VideoModeratorConfig {
	return VideoModeratorConfig{
		WindowFrames:   30,
		WindowStride:   15,
		Timeout:        5 * time.Minute,
		ReleaseTimeout: 10 * time.Second,
	}
}

// VisualVerdict holds the labels of the requested visual tasks. A task that
// was not requested has an empty label; a failed one has LabelError and its
// error set.
type VisualVerdict struct {
	NSFW        string
	NSFWErr     error
	Violence    string
	ViolenceErr error
}

// VideoModerator runs the visual tasks over one sampled frame set.
type VideoModerator struct {
	config    VideoModeratorConfig
	nsfw      *NSFWEnsemble
	violence  ViolenceClassifier
	releasers []Releaser
	log       *log.Helper
}

// NewVideoModerator creates a new VideoModerator. A nil nsfw or violence
// makes that task fail with ErrUnavailable.
func NewVideoModerator(config VideoModeratorConfig, nsfw *NSFWEnsemble, violence ViolenceClassifier, releasers []Releaser, logger log.Logger) *VideoModerator {
	def := DefaultVideoModeratorConfig()
	if config.WindowFrames <= 0 {
		config.WindowFrames = def.WindowFrames
	}
	if config.WindowStride <= 0 {
		config.WindowStride = def.WindowStride
	}
	if config.ReleaseTimeout <= 0 {
		config.ReleaseTimeout = def.ReleaseTimeout
	}
	return &VideoModerator{
		config:    config,
		nsfw:      nsfw,
		violence:  violence,
		releasers: releasers,
		log:       log.NewHelper(logger),
	}
}

// Moderate runs the requested tasks concurrently and waits for all of them.
// Task errors are recorded in the verdict, never returned.
func (m *VideoModerator) Moderate(ctx context.Context, frames []media.Frame, wantNSFW, wantViolence bool) *VisualVerdict {
	verdict := &VisualVerdict{}

	var tasks []func(context.Context)
	if wantNSFW {
		tasks = append(tasks, func(ctx context.Context) {
			verdict.NSFW, verdict.NSFWErr = m.detectNSFW(ctx, frames)
		})
	}
	if wantViolence {
		tasks = append(tasks, func(ctx context.Context) {
			verdict.Violence, verdict.ViolenceErr = m.detectViolence(ctx, frames)
		})
	}
	if len(tasks) == 0 {
		return verdict
	}

	var g errgroup.Group
	g.SetLimit(len(tasks))
	for _, task := range tasks {
		g.Go(func() error {
			tctx := ctx
			if m.config.Timeout > 0 {
				var cancel context.CancelFunc
				tctx, cancel = context.WithTimeout(ctx, m.config.Timeout)
				defer cancel()
			}
			task(tctx)
			return nil
		})
	}
	g.Wait()

	if verdict.NSFWErr != nil {
		m.log.Warnf("nsfw detection failed: %v", verdict.NSFWErr)
	}
	if verdict.ViolenceErr != nil {
		m.log.Warnf("violence detection failed: %v", verdict.ViolenceErr)
	}

	m.release(ctx)
	return verdict
}

func (m *VideoModerator) detectNSFW(ctx context.Context, frames []media.Frame) (string, error) {
	if m.nsfw == nil {
		return LabelError, ErrUnavailable
	}
	label, err := m.nsfw.Detect(ctx, frames)
	if err != nil {
		return LabelError, err
	}
	return label, nil
}

func (m *VideoModerator) detectViolence(ctx context.Context, frames []media.Frame) (string, error) {
	if m.violence == nil {
		return LabelError, ErrUnavailable
	}
	if len(frames) == 0 {
		return LabelError, ErrNoFrames
	}

	candidates := make([]violence.Frame, len(frames))
	byIndex := make(map[int]media.Frame, len(frames))
	for i, f := range frames {
		candidates[i] = violence.Frame{Index: f.Index}
		byIndex[f.Index] = f
	}
	window, _ := violence.SelectWindow(candidates, m.config.WindowFrames, m.config.WindowStride)
	if len(window) == 0 {
		return LabelError, ErrNoFrames
	}

	for i := range window {
		data, err := byIndex[window[i].Index].Read()
		if err != nil {
			return LabelError, fmt.Errorf("failed to read frame %d: %w", window[i].Index, err)
		}
		window[i].Image = data
	}

	label, err := m.violence.Classify(ctx, window)
	if err != nil {
		return LabelError, err
	}
	return label, nil
}

// release frees runner memory after every video. Failures are only logged.
func (m *VideoModerator) release(ctx context.Context) {
	if len(m.releasers) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.config.ReleaseTimeout)
	defer cancel()

	var errs []error
	for _, r := range m.releasers {
		if err := r.Release(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		m.log.Warnf("failed to release runner memory: %v", err)
	}
}
