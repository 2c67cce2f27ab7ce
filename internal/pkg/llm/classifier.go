package llm

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"time"
)

//go:embed prompts/*.txt
var promptFS embed.FS

const resultSchema = "Use this JSON schema: Result = { 'is_flagged': bool, 'tags': list[str], " +
	"'reasons': list[str], 'severity': str } Return: Result."

// BuildPrompt embeds the transcript verbatim in the classification prompt.
func BuildPrompt(transcript string) string {
	return "Analyze this Urdu transcript for harmful content: " + transcript +
		" Do not generate any additional content other than the JSON result. " + resultSchema
}

// SystemPrompt returns the instructions for a moderation category.
func SystemPrompt(category string) (string, error) {
	b, err := promptFS.ReadFile("prompts/" + category + ".txt")
	if err != nil {
		return "", fmt.Errorf("no system prompt for category %q", category)
	}
	return string(b), nil
}

// ClassifierConfig bounds a single classification call.
type ClassifierConfig struct {
	Timeout time.Duration
}

// DefaultClassifierConfig returns default configuration.
func DefaultClassifierConfig() ClassifierConfig {
	return ClassifierConfig{
		Timeout: 60 * time.Second,
	}
}

// Classifier sends category prompts to a Client.
type Classifier struct {
	client Client
	config ClassifierConfig
}

// NewClassifier creates a new Classifier.
func NewClassifier(client Client, config ClassifierConfig) *Classifier {
	return &Classifier{client: client, config: config}
}

// Model returns the backend model name.
func (c *Classifier) Model() string {
	return c.client.Model()
}

// Invoke classifies transcript for category. Every failure is a *ClassifierError.
func (c *Classifier) Invoke(ctx context.Context, category, transcript, credential string) (*Response, error) {
	system, err := SystemPrompt(category)
	if err != nil {
		return nil, &ClassifierError{Reason: err.Error(), Err: err}
	}

	if c.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.config.Timeout)
		defer cancel()
	}

	resp, err := c.client.Complete(ctx, &Request{
		System: system,
		Prompt: BuildPrompt(transcript),
		APIKey: credential,
	})
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, &ClassifierError{
				Reason: fmt.Sprintf("classification timed out after %s", c.config.Timeout),
				Err:    err,
			}
		}
		return nil, &ClassifierError{Reason: err.Error(), Err: err}
	}
	return resp, nil
}
