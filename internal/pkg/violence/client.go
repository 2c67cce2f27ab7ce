// Package violence classifies a fixed-length frame window as Violence or
// NonViolence through a VideoClassifier runner.
package violence

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-kratos/kratos/v2/log"

	"reelguard/internal/pkg/runner"
)

const (
	classifyMethod = "/reelguard.vision.v1.VideoClassifier/Classify"
	releaseMethod  = "/reelguard.vision.v1.VideoClassifier/Release"
)

// Labels produced by the classifier.
const (
	LabelViolence    = "Violence"
	LabelNonViolence = "NonViolence"
)

// ErrNoFrames means the window would consist of padding only.
var ErrNoFrames = errors.New("violence: no frames to classify")

// Frame is a decoded frame and its position in the source stream.
type Frame struct {
	Index int
	Image []byte
}

// Config holds configuration for the violence classifier.
type Config struct {
	Model       string
	WeightsPath string
	Frames      int // window length
	Stride      int // source index step between window frames
}

// DefaultConfig returns the 30-frame, stride-15 window.
func DefaultConfig() Config {
	return Config{
		Model:  "efficientnet_b0",
		Frames: 30,
		Stride: 15,
	}
}

// SelectWindow keeps frames whose source index is divisible by stride, in
// order, up to n. padding is how many zero frames complete the window.
func SelectWindow(frames []Frame, n, stride int) (window []Frame, padding int) {
	if stride <= 0 {
		stride = 1
	}
	for _, f := range frames {
		if len(window) == n {
			break
		}
		if f.Index%stride == 0 {
			window = append(window, f)
		}
	}
	return window, n - len(window)
}

// Client classifies frame windows.
type Client struct {
	config Config
	conn   *runner.Conn
	log    *log.Helper
}

// NewClient creates a new violence Client over conn.
func NewClient(conn *runner.Conn, config Config, logger log.Logger) *Client {
	def := DefaultConfig()
	if config.Frames <= 0 {
		config.Frames = def.Frames
	}
	if config.Stride <= 0 {
		config.Stride = def.Stride
	}
	return &Client{
		config: config,
		conn:   conn,
		log:    log.NewHelper(logger),
	}
}

// Classify selects the window from frames and returns the runner label.
// Frames must be in stream order.
func (c *Client) Classify(ctx context.Context, frames []Frame) (string, error) {
	window, padding := SelectWindow(frames, c.config.Frames, c.config.Stride)
	if len(window) == 0 {
		return "", ErrNoFrames
	}

	indices := make([]int, len(window))
	images := make([][]byte, len(window))
	for i, f := range window {
		indices[i] = f.Index
		images[i] = f.Image
	}

	resp, err := c.conn.Invoke(ctx, classifyMethod, map[string]any{
		"model":        c.config.Model,
		"weights_path": c.config.WeightsPath,
		"frames":       runner.EncodeImages(indices, images),
		"padding":      padding,
	})
	if err != nil {
		return "", err
	}

	label := resp.GetFields()["label"].GetStringValue()
	switch label {
	case LabelViolence, LabelNonViolence:
	default:
		return "", fmt.Errorf("violence: unexpected label %q", label)
	}
	c.log.Debugf("classified window of %d frames (+%d padding): %s", len(window), padding, label)
	return label, nil
}

// Release asks the runner to free the loaded weights.
func (c *Client) Release(ctx context.Context) error {
	_, err := c.conn.Invoke(ctx, releaseMethod, map[string]any{"model": c.config.Model})
	return err
}

// Ping checks if the runner is healthy.
func (c *Client) Ping(ctx context.Context) error {
	return c.conn.Ping(ctx)
}
