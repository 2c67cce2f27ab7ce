// Package llm talks to the remote text classifier and turns its reply into a
// structured verdict.
package llm

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"reelguard/internal/pkg/table"
)

// Request is one chat completion. Sampling is always deterministic.
type Request struct {
	System string
	Prompt string
	// APIKey is the caller's credential. Clients fall back to their configured key when empty.
	APIKey string
}

// Usage counts the tokens billed for a call.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// Response is the raw reply of a chat completion.
type Response struct {
	Content string
	Model   string
	Usage   Usage
}

// Client is an OpenAI-style chat completion backend.
type Client interface {
	Complete(ctx context.Context, req *Request) (*Response, error)
	Model() string
}

// ClassifierError is a transport, service or timeout failure of the remote classifier.
type ClassifierError struct {
	Reason string
	Err    error
}

func (e *ClassifierError) Error() string { return e.Reason }

func (e *ClassifierError) Unwrap() error { return e.Err }

// ParsingError means the classifier answered but the reply was not a JSON object.
type ParsingError struct {
	Content string
	Err     error
}

func (e *ParsingError) Error() string { return e.Err.Error() }

func (e *ParsingError) Unwrap() error { return e.Err }

var fencePattern = regexp.MustCompile("(?m)^```(?:json)?\\s*|```$")

// StripFence removes markdown code fences, optionally tagged json.
func StripFence(content string) string {
	content = strings.TrimSpace(content)
	return strings.TrimSpace(fencePattern.ReplaceAllString(content, ""))
}

// Parse strips fences from a reply and decodes it. The top-level value must be
// a JSON object; anything else is a *ParsingError.
func Parse(content string) (table.Value, error) {
	v, err := table.Decode([]byte(StripFence(content)))
	if err != nil {
		return table.Value{}, &ParsingError{Content: content, Err: err}
	}
	if v.Kind != table.KindMapping {
		return table.Value{}, &ParsingError{
			Content: content,
			Err:     fmt.Errorf("expected a JSON object, got %s", v.Kind),
		}
	}
	return v, nil
}
