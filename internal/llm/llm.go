// Package llm provides the model clients used by pipeline agents.
package llm

import (
	"context"
	"errors"
)

// Message is a single conversation turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is a completion request. RunID and Actor are only used for
// auditing and never sent to the provider.
type Request struct {
	System      string
	Messages    []Message
	Model       string
	MaxTokens   int
	Temperature float64
	RunID       string
	Actor       string
}

// User builds a single-turn request.
func User(system, content string) Request {
	return Request{System: system, Messages: []Message{{Role: "user", Content: content}}}
}

// Response is a completion result.
type Response struct {
	Text         string
	Model        string
	InputTokens  int
	OutputTokens int
	Attempts     int
}

// TotalTokens returns input plus output tokens.
func (r *Response) TotalTokens() int {
	return r.InputTokens + r.OutputTokens
}

// Client sends completion requests to a model provider.
type Client interface {
	Complete(ctx context.Context, req Request) (*Response, error)
}

// retryableError marks transient failures (rate limits, 5xx, network).
type retryableError struct {
	err error
}

func (e *retryableError) Error() string { return e.err.Error() }
func (e *retryableError) Unwrap() error { return e.err }

// IsRetryable reports whether err is a transient provider failure.
func IsRetryable(err error) bool {
	var re *retryableError
	return errors.As(err, &re)
}
