package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// VLLMConfig contains configuration for vLLM server.
type VLLMConfig struct {
	BaseURL   string // e.g., "http://localhost:8000" (vLLM default)
	Model     string // e.g., "Qwen/Qwen2.5-7B-Instruct"
	APIKey    string // Optional API key
	MaxTokens int
	Timeout   time.Duration
}

// DefaultVLLMConfig returns default configuration for local vLLM.
func DefaultVLLMConfig() VLLMConfig {
	return VLLMConfig{
		BaseURL:   "http://localhost:8000",
		Model:     "Qwen/Qwen2.5-7B-Instruct",
		MaxTokens: 512,
		Timeout:   60 * time.Second,
	}
}

// VLLMClient is a client for vLLM server (OpenAI-compatible API).
type VLLMClient struct {
	config     VLLMConfig
	httpClient *http.Client
}

// NewVLLMClient creates a new vLLM client.
func NewVLLMClient(config VLLMConfig) *VLLMClient {
	return &VLLMClient{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
	}
}

// OpenAI-compatible request/response structures
type vllmChatRequest struct {
	Model          string              `json:"model"`
	Messages       []vllmMessage       `json:"messages"`
	MaxTokens      int                 `json:"max_tokens,omitempty"`
	Temperature    float64             `json:"temperature"`
	Stream         bool                `json:"stream"`
	ResponseFormat *vllmResponseFormat `json:"response_format,omitempty"`
}

type vllmMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type vllmResponseFormat struct {
	Type string `json:"type"`
}

type vllmChoice struct {
	Index        int         `json:"index"`
	Message      vllmMessage `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

type vllmUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type vllmError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

type vllmChatResponse struct {
	ID      string       `json:"id"`
	Model   string       `json:"model"`
	Choices []vllmChoice `json:"choices"`
	Usage   vllmUsage    `json:"usage"`
	Error   *vllmError   `json:"error,omitempty"`
}

func (c *VLLMClient) Model() string {
	return c.config.Model
}

// Complete sends a system + user chat with JSON output requested.
func (c *VLLMClient) Complete(ctx context.Context, req *Request) (*Response, error) {
	reqBody := vllmChatRequest{
		Model: c.config.Model,
		Messages: []vllmMessage{
			{Role: "system", Content: req.System},
			{Role: "user", Content: req.Prompt},
		},
		MaxTokens:      c.config.MaxTokens,
		Temperature:    0.0,
		Stream:         false,
		ResponseFormat: &vllmResponseFormat{Type: "json_object"},
	}

	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := strings.TrimSuffix(c.config.BaseURL, "/") + "/v1/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	apiKey := req.APIKey
	if apiKey == "" {
		apiKey = c.config.APIKey
	}
	if apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+apiKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to call vLLM API: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("vLLM API error (status %d): %s", resp.StatusCode, string(body))
	}

	var vllmResp vllmChatResponse
	if err := json.Unmarshal(body, &vllmResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	if vllmResp.Error != nil {
		return nil, fmt.Errorf("vLLM error: %s", vllmResp.Error.Message)
	}

	if len(vllmResp.Choices) == 0 {
		return nil, fmt.Errorf("no response choices from vLLM")
	}

	return &Response{
		Content: vllmResp.Choices[0].Message.Content,
		Model:   vllmResp.Model,
		Usage: Usage{
			InputTokens:  vllmResp.Usage.PromptTokens,
			OutputTokens: vllmResp.Usage.CompletionTokens,
		},
	}, nil
}

// Ping checks if vLLM server is running.
func (c *VLLMClient) Ping(ctx context.Context) error {
	url := strings.TrimSuffix(c.config.BaseURL, "/") + "/v1/models"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}

	if c.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("vLLM not reachable at %s: %w", c.config.BaseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("vLLM returned status %d", resp.StatusCode)
	}

	return nil
}
