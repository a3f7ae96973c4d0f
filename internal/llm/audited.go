package llm

import (
	"context"
	"time"

	"github.com/Thinkelution/devlution/internal/audit"
	"github.com/Thinkelution/devlution/internal/metrics"
)

// Audited wraps a Client and records one llm_call audit entry per
// successful completion.
type Audited struct {
	next Client
	rec  audit.Recorder
}

// NewAudited decorates next with audit recording.
func NewAudited(next Client, rec audit.Recorder) *Audited {
	return &Audited{next: next, rec: rec}
}

// Complete implements Client.
func (a *Audited) Complete(ctx context.Context, req Request) (*Response, error) {
	start := time.Now()
	resp, err := a.next.Complete(ctx, req)
	if err != nil {
		return nil, err
	}

	model := resp.Model
	if model == "" {
		model = req.Model
	}
	metrics.LLMTokens.WithLabelValues(model, "input").Add(float64(resp.InputTokens))
	metrics.LLMTokens.WithLabelValues(model, "output").Add(float64(resp.OutputTokens))

	actor := req.Actor
	if actor == "" {
		actor = "llm"
	}
	if _, err := a.rec.Record(ctx, audit.Entry{
		RunID:      req.RunID,
		Actor:      actor,
		Action:     "llm_call",
		Details:    map[string]any{"model": model, "attempt": resp.Attempts},
		TokensUsed: audit.Int(resp.TotalTokens()),
		DurationMs: audit.Millis(time.Since(start)),
	}); err != nil {
		return nil, err
	}
	return resp, nil
}
