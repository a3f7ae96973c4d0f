// Package audit implements the append-only JSONL audit trail of pipeline runs.
package audit

import (
	"context"
	"time"
)

// Entry is one immutable record of an observable action.
type Entry struct {
	Timestamp  string         `json:"ts" yaml:"ts"`
	RunID      string         `json:"run_id" yaml:"run_id"`
	Actor      string         `json:"actor" yaml:"actor"`
	Action     string         `json:"action" yaml:"action"`
	Details    map[string]any `json:"details,omitempty" yaml:"details,omitempty"`
	TokensUsed *int           `json:"tokens_used,omitempty" yaml:"tokens_used,omitempty"`
	Confidence *float64       `json:"confidence,omitempty" yaml:"confidence,omitempty"`
	DurationMs *int64         `json:"duration_ms,omitempty" yaml:"duration_ms,omitempty"`
}

// Time parses the entry timestamp. It returns the zero time if unparsable.
func (e Entry) Time() time.Time {
	t, err := time.Parse(time.RFC3339Nano, e.Timestamp)
	if err != nil {
		return time.Time{}
	}
	return t
}

// Recorder is the write side of the audit trail, consumed by steps, the
// gate manager and the engine.
type Recorder interface {
	Record(ctx context.Context, e Entry) (Entry, error)
}

// Mirror receives every entry after it has been durably appended.
type Mirror interface {
	Mirror(ctx context.Context, e Entry) error
}

// Int returns a pointer for the optional TokensUsed field.
func Int(v int) *int { return &v }

// Float returns a pointer for the optional Confidence field.
func Float(v float64) *float64 { return &v }

// Millis returns a pointer to d in whole milliseconds for DurationMs.
func Millis(d time.Duration) *int64 {
	ms := d.Milliseconds()
	return &ms
}
