package moderator

import (
	"context"
	"fmt"
	"sync"

	"github.com/go-kratos/kratos/v2/log"

	"reelguard/internal/pkg/hash"
	"reelguard/internal/pkg/media"
)

// FrameClassifier is one member of the NSFW ensemble.
type FrameClassifier interface {
	Name() string
	ClassifyFrames(ctx context.Context, images [][]byte) ([]bool, error)
}

// FrameLabelCache remembers per-member frame verdicts by frame key.
type FrameLabelCache interface {
	Lookup(ctx context.Context, member string, key hash.FrameKey) (unsafe, found bool, err error)
	Store(ctx context.Context, member string, key hash.FrameKey, unsafe bool) error
}

// NSFWConfig holds configuration for the NSFW ensemble.
type NSFWConfig struct {
	Threshold float64 // minimum unsafe frame fraction, inclusive
	Workers   int     // frame loading and hashing
}

// DefaultNSFWConfig returns default configuration.
func DefaultNSFWConfig() NSFWConfig {
	return NSFWConfig{
		Threshold: 0.05,
		Workers:   4,
	}
}

// NSFWEnsemble flags a frame when any member flags it and flags the video
// when the unsafe fraction reaches the threshold.
type NSFWEnsemble struct {
	config  NSFWConfig
	members []FrameClassifier
	cache   FrameLabelCache
	log     *log.Helper
}

// NewNSFWEnsemble creates a new NSFWEnsemble. cache may be nil.
func NewNSFWEnsemble(config NSFWConfig, members []FrameClassifier, cache FrameLabelCache, logger log.Logger) *NSFWEnsemble {
	if config.Workers <= 0 {
		config.Workers = 4
	}
	return &NSFWEnsemble{
		config:  config,
		members: members,
		cache:   cache,
		log:     log.NewHelper(logger),
	}
}

type frameInput struct {
	image  []byte
	key    hash.FrameKey
	hashed bool
}

// Detect returns LabelNSFW or LabelSFW. Any member failure fails the whole
// detection, since a missing vote could hide an unsafe frame.
func (e *NSFWEnsemble) Detect(ctx context.Context, frames []media.Frame) (string, error) {
	if len(e.members) == 0 {
		return "", ErrUnavailable
	}
	if len(frames) == 0 {
		return "", ErrNoFrames
	}

	inputs, err := e.loadFrames(ctx, frames)
	if err != nil {
		return "", err
	}

	unsafe := make([]bool, len(inputs))
	// members run one after another to keep a single model resident on the runner host
	for _, member := range e.members {
		votes, err := e.classify(ctx, member, inputs)
		if err != nil {
			return "", fmt.Errorf("nsfw member %s: %w", member.Name(), err)
		}
		for i, v := range votes {
			unsafe[i] = unsafe[i] || v
		}
	}

	count := 0
	for _, u := range unsafe {
		if u {
			count++
		}
	}
	e.log.Infof("nsfw frames: %d/%d", count, len(unsafe))
	return nsfwLabel(count, len(unsafe), e.config.Threshold), nil
}

func nsfwLabel(unsafe, total int, threshold float64) string {
	if float64(unsafe)/float64(total) >= threshold {
		return LabelNSFW
	}
	return LabelSFW
}

// classify answers cached frames from the cache and sends the rest to member.
func (e *NSFWEnsemble) classify(ctx context.Context, member FrameClassifier, inputs []frameInput) ([]bool, error) {
	votes := make([]bool, len(inputs))
	var missIdx []int
	var missImages [][]byte

	for i, in := range inputs {
		if e.cache != nil && in.hashed {
			v, found, err := e.cache.Lookup(ctx, member.Name(), in.key)
			if err != nil {
				e.log.Warnf("frame cache lookup failed: %v", err)
			} else if found {
				votes[i] = v
				continue
			}
		}
		missIdx = append(missIdx, i)
		missImages = append(missImages, in.image)
	}

	if len(missImages) == 0 {
		return votes, nil
	}
	e.log.Debugf("%s: %d cached, %d to classify", member.Name(), len(inputs)-len(missIdx), len(missIdx))

	fresh, err := member.ClassifyFrames(ctx, missImages)
	if err != nil {
		return nil, err
	}
	if len(fresh) != len(missImages) {
		return nil, fmt.Errorf("got %d verdicts for %d frames", len(fresh), len(missImages))
	}

	for j, i := range missIdx {
		votes[i] = fresh[j]
		if e.cache != nil && inputs[i].hashed {
			if err := e.cache.Store(ctx, member.Name(), inputs[i].key, fresh[j]); err != nil {
				e.log.Warnf("frame cache store failed: %v", err)
			}
		}
	}
	return votes, nil
}

// loadFrames reads every frame and, when a cache is configured, hashes it.
func (e *NSFWEnsemble) loadFrames(ctx context.Context, frames []media.Frame) ([]frameInput, error) {
	type job struct {
		index int
		frame media.Frame
	}
	jobs := make(chan job)
	inputs := make([]frameInput, len(frames))
	errs := make([]error, len(frames))

	var wg sync.WaitGroup
	worker := func() {
		defer wg.Done()
		for j := range jobs {
			data, err := j.frame.Read()
			if err != nil {
				errs[j.index] = fmt.Errorf("failed to read frame %s: %w", j.frame.Path, err)
				continue
			}
			in := frameInput{image: data}
			if e.cache != nil {
				if k, err := hash.NewFrameKey(data); err != nil {
					e.log.Debugf("frame %d not hashable: %v", j.frame.Index, err)
				} else {
					in.key, in.hashed = k, true
				}
			}
			inputs[j.index] = in
		}
	}

	workers := min(e.config.Workers, len(frames))
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go worker()
	}
	for i, f := range frames {
		select {
		case jobs <- job{index: i, frame: f}:
		case <-ctx.Done():
			close(jobs)
			wg.Wait()
			return nil, ctx.Err()
		}
	}
	close(jobs)
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}
	return inputs, nil
}
