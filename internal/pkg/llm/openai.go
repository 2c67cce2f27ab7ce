package llm

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIConfig contains configuration for an OpenAI-compatible endpoint.
type OpenAIConfig struct {
	BaseURL   string // e.g., "https://generativelanguage.googleapis.com/v1beta/openai"
	Model     string // e.g., "gemini-1.5-flash-002"
	APIKey    string // Fallback when the request carries no credential
	MaxTokens int
	Timeout   time.Duration
}

// DefaultOpenAIConfig returns defaults for Gemini's OpenAI-compatible API.
func DefaultOpenAIConfig() OpenAIConfig {
	return OpenAIConfig{
		BaseURL: "https://generativelanguage.googleapis.com/v1beta/openai",
		Model:   "gemini-1.5-flash-002",
		Timeout: 60 * time.Second,
	}
}

// go-openai omits a zero temperature from the request body, which leaves the
// server default in place. The smallest positive float32 is sent instead.
const greedyTemperature = math.SmallestNonzeroFloat32

// OpenAIClient calls a chat completion endpoint through go-openai. A client is
// built per call because the credential belongs to the request.
type OpenAIClient struct {
	config     OpenAIConfig
	httpClient *http.Client
}

// NewOpenAIClient creates a new OpenAIClient.
func NewOpenAIClient(config OpenAIConfig) *OpenAIClient {
	return &OpenAIClient{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
	}
}

func (c *OpenAIClient) Model() string {
	return c.config.Model
}

func (c *OpenAIClient) Complete(ctx context.Context, req *Request) (*Response, error) {
	apiKey := req.APIKey
	if apiKey == "" {
		apiKey = c.config.APIKey
	}
	if apiKey == "" {
		return nil, errors.New("missing API credential")
	}

	cfg := openai.DefaultConfig(apiKey)
	if c.config.BaseURL != "" {
		cfg.BaseURL = strings.TrimSuffix(c.config.BaseURL, "/")
	}
	cfg.HTTPClient = c.httpClient
	client := openai.NewClientWithConfig(cfg)

	resp, err := client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.config.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: req.System},
			{Role: openai.ChatMessageRoleUser, Content: req.Prompt},
		},
		Temperature: greedyTemperature,
		MaxTokens:   c.config.MaxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("no response choices from model")
	}

	model := resp.Model
	if model == "" {
		model = c.config.Model
	}
	return &Response{
		Content: resp.Choices[0].Message.Content,
		Model:   model,
		Usage: Usage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
		},
	}, nil
}
