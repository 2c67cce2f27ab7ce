// Package nsfw classifies frames with one member of the NSFW ensemble.
package nsfw

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-kratos/kratos/v2/log"
	"google.golang.org/protobuf/types/known/structpb"

	"reelguard/internal/pkg/runner"
)

const (
	classifyMethod = "/reelguard.vision.v1.FrameClassifier/Classify"
	releaseMethod  = "/reelguard.vision.v1.FrameClassifier/Release"
)

// Decision selects how a prediction becomes a per-frame verdict.
type Decision string

const (
	// DecisionLabel flags a frame whose top label is one of UnsafeLabels.
	DecisionLabel Decision = "label"
	// DecisionScore flags a frame whose summed UnsafeLabels scores exceed ScoreThreshold.
	DecisionScore Decision = "score"
)

// MemberConfig describes one ensemble member.
type MemberConfig struct {
	Name           string
	Model          string
	Decision       Decision
	UnsafeLabels   []string
	ScoreThreshold float64
	BatchSize      int
}

// DefaultMembers returns the two-model ensemble: a ViT argmax classifier and
// a score-summing pipeline classifier.
func DefaultMembers() []MemberConfig {
	return []MemberConfig{
		{
			Name:         "vit",
			Model:        "AdamCodd/vit-base-nsfw-detector",
			Decision:     DecisionLabel,
			UnsafeLabels: []string{"nsfw"},
			BatchSize:    512,
		},
		{
			Name:           "pipeline",
			Model:          "quentintaranpino/nsfw-image-classifier",
			Decision:       DecisionScore,
			UnsafeLabels:   []string{"UNSAFE", "QUESTIONABLE"},
			ScoreThreshold: 0.60,
			BatchSize:      512,
		},
	}
}

// Prediction is the runner output for one frame.
type Prediction struct {
	Index  int
	Label  string
	Scores map[string]float64
}

// ImageClient classifies frames through a FrameClassifier runner.
type ImageClient struct {
	member MemberConfig
	conn   *runner.Conn
	log    *log.Helper
}

// NewImageClient creates a client for member over conn. The connection is
// owned by the caller.
func NewImageClient(conn *runner.Conn, member MemberConfig, logger log.Logger) *ImageClient {
	if member.BatchSize <= 0 {
		member.BatchSize = 512
	}
	if member.Decision == "" {
		member.Decision = DecisionLabel
	}
	return &ImageClient{
		member: member,
		conn:   conn,
		log:    log.NewHelper(log.With(logger, "member", member.Name)),
	}
}

func (c *ImageClient) Name() string {
	return c.member.Name
}

// Predict sends images in batches of BatchSize and returns one prediction
// per image, in input order.
func (c *ImageClient) Predict(ctx context.Context, images [][]byte) ([]Prediction, error) {
	preds := make([]Prediction, 0, len(images))
	for start := 0; start < len(images); start += c.member.BatchSize {
		end := min(start+c.member.BatchSize, len(images))

		indices := make([]int, end-start)
		for i := range indices {
			indices[i] = start + i
		}
		resp, err := c.conn.Invoke(ctx, classifyMethod, map[string]any{
			"model":  c.member.Model,
			"frames": runner.EncodeImages(indices, images[start:end]),
		})
		if err != nil {
			return nil, fmt.Errorf("nsfw %s batch %d: %w", c.member.Name, start/c.member.BatchSize, err)
		}

		batch, err := decodePredictions(resp, start, end-start)
		if err != nil {
			return nil, fmt.Errorf("nsfw %s: %w", c.member.Name, err)
		}
		preds = append(preds, batch...)
		c.log.Debugf("classified batch of %d frames", end-start)
	}
	return preds, nil
}

// ClassifyFrames reports for each image whether this member considers it unsafe.
func (c *ImageClient) ClassifyFrames(ctx context.Context, images [][]byte) ([]bool, error) {
	preds, err := c.Predict(ctx, images)
	if err != nil {
		return nil, err
	}
	out := make([]bool, len(preds))
	for i, p := range preds {
		out[i] = c.Unsafe(p)
	}
	return out, nil
}

// Unsafe applies the member decision rule to one prediction.
func (c *ImageClient) Unsafe(p Prediction) bool {
	switch c.member.Decision {
	case DecisionScore:
		var score float64
		for _, l := range c.member.UnsafeLabels {
			score += p.Scores[l]
		}
		return score > c.member.ScoreThreshold
	default:
		for _, l := range c.member.UnsafeLabels {
			if strings.EqualFold(p.Label, l) {
				return true
			}
		}
		return false
	}
}

// Release asks the runner to free model memory held for the last video.
func (c *ImageClient) Release(ctx context.Context) error {
	_, err := c.conn.Invoke(ctx, releaseMethod, map[string]any{"model": c.member.Model})
	return err
}

// Ping checks if the runner is healthy.
func (c *ImageClient) Ping(ctx context.Context) error {
	return c.conn.Ping(ctx)
}

// decodePredictions places each prediction by its index so runners may
// answer out of order.
func decodePredictions(resp *structpb.Struct, offset, want int) ([]Prediction, error) {
	list := resp.GetFields()["predictions"].GetListValue().GetValues()
	if len(list) != want {
		return nil, fmt.Errorf("runner returned %d predictions for %d frames", len(list), want)
	}

	preds := make([]Prediction, want)
	seen := make([]bool, want)
	for _, v := range list {
		fields := v.GetStructValue().GetFields()
		idx := int(fields["index"].GetNumberValue()) - offset
		if idx < 0 || idx >= want || seen[idx] {
			return nil, fmt.Errorf("runner returned unexpected frame index %d", idx+offset)
		}
		seen[idx] = true

		p := Prediction{
			Index:  idx + offset,
			Label:  fields["label"].GetStringValue(),
			Scores: make(map[string]float64),
		}
		for k, s := range fields["scores"].GetStructValue().GetFields() {
			p.Scores[k] = s.GetNumberValue()
		}
		preds[idx] = p
	}
	return preds, nil
}
