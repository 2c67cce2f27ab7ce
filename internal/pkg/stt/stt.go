// Package stt turns extracted audio tracks into transcripts.
package stt

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-kratos/kratos/v2/log"
	openai "github.com/sashabaranov/go-openai"
)

// Transcriber converts an audio file into text in a fixed language.
type Transcriber interface {
	Transcribe(ctx context.Context, audioPath string) (string, error)
	Name() string
}

// WhisperConfig configures a Whisper-compatible /audio/transcriptions endpoint.
type WhisperConfig struct {
	BaseURL  string // e.g., "http://localhost:8000/v1"
	APIKey   string
	Model    string // e.g., "whisper-medium"
	Language string // ISO-639-1, "ur" for Urdu
	Timeout  time.Duration
}

// DefaultWhisperConfig returns defaults for a self-hosted Whisper server.
func DefaultWhisperConfig() WhisperConfig {
	return WhisperConfig{
		BaseURL:  "http://localhost:8000/v1",
		Model:    "whisper-medium",
		Language: "ur",
		Timeout:  5 * time.Minute,
	}
}

// WhisperClient transcribes through go-openai's CreateTranscription.
type WhisperClient struct {
	config WhisperConfig
	client *openai.Client
	log    *log.Helper
}

// NewWhisperClient creates a new WhisperClient.
func NewWhisperClient(config WhisperConfig, logger log.Logger) *WhisperClient {
	if config.Language == "" {
		config.Language = "ur"
	}
	// self-hosted servers ignore the key but go-openai always sends the header
	apiKey := config.APIKey
	if apiKey == "" {
		apiKey = "unused"
	}
	cfg := openai.DefaultConfig(apiKey)
	if config.BaseURL != "" {
		cfg.BaseURL = strings.TrimSuffix(config.BaseURL, "/")
	}
	cfg.HTTPClient = &http.Client{Timeout: config.Timeout}

	return &WhisperClient{
		config: config,
		client: openai.NewClientWithConfig(cfg),
		log:    log.NewHelper(logger),
	}
}

func (c *WhisperClient) Name() string {
	return "whisper:" + c.config.Model
}

// Transcribe uploads audioPath and returns the trimmed text. An empty
// audioPath means the video had no audio track and yields "".
func (c *WhisperClient) Transcribe(ctx context.Context, audioPath string) (string, error) {
	if audioPath == "" {
		return "", nil
	}

	resp, err := c.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    c.config.Model,
		FilePath: audioPath,
		Language: c.config.Language,
		Format:   openai.AudioResponseFormatJSON,
	})
	if err != nil {
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) {
			return "", fmt.Errorf("transcription service error (status %d): %s", apiErr.HTTPStatusCode, apiErr.Message)
		}
		return "", fmt.Errorf("failed to transcribe audio: %w", err)
	}

	text := strings.TrimSpace(resp.Text)
	c.log.Debugf("transcribed %s: %d bytes", audioPath, len(text))
	return text, nil
}
