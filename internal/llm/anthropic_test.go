package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Thinkelution/devlution/internal/audit"
)

func newTestAnthropic(t *testing.T, url string) *Anthropic {
	t.Helper()
	c, err := NewAnthropic(AnthropicConfig{
		APIKey:      "test-key",
		BaseURL:     url,
		RateLimit:   1000,
		BaseBackoff: time.Millisecond,
	}, nil)
	require.NoError(t, err)
	c.sleep = func(context.Context, time.Duration) error { return nil }
	return c
}

func okHandler(t *testing.T, text string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("X-API-Key"))
		assert.Equal(t, "2023-06-01", r.Header.Get("Anthropic-Version"))

		var req anthropicRequest
		if !assert.NoError(t, json.NewDecoder(r.Body).Decode(&req)) {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		assert.NotEmpty(t, req.Model)
		assert.Greater(t, req.MaxTokens, 0)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"content":[{"type":"text","text":"` + text + `"}],"model":"` + req.Model + `","usage":{"input_tokens":10,"output_tokens":5}}`))
	}
}

func TestNewAnthropicRequiresKey(t *testing.T) {
	_, err := NewAnthropic(AnthropicConfig{}, nil)
	require.Error(t, err)
}

func TestCompleteSuccess(t *testing.T) {
	srv := httptest.NewServer(okHandler(t, "hello"))
	defer srv.Close()

	c := newTestAnthropic(t, srv.URL)
	resp, err := c.Complete(context.Background(), Request{
		System:   "be terse",
		Messages: []Message{{Role: "user", Content: "hi"}},
		Model:    "claude-haiku",
	})
	require.NoError(t, err)
	assert.Equal(t, "hello", resp.Text)
	assert.Equal(t, "claude-haiku", resp.Model)
	assert.Equal(t, 15, resp.TotalTokens())
	assert.Equal(t, 1, resp.Attempts)
}

func TestCompleteRetriesTransientFailures(t *testing.T) {
	var calls atomic.Int32
	ok := okHandler(t, "finally")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch calls.Add(1) {
		case 1:
			w.WriteHeader(http.StatusTooManyRequests)
		case 2:
			w.WriteHeader(http.StatusBadGateway)
		default:
			ok(w, r)
		}
	}))
	defer srv.Close()

	c := newTestAnthropic(t, srv.URL)
	var waits []time.Duration
	c.sleep = func(_ context.Context, d time.Duration) error {
		waits = append(waits, d)
		return nil
	}

	resp, err := c.Complete(context.Background(), User("", "hi"))
	require.NoError(t, err)
	assert.Equal(t, "finally", resp.Text)
	assert.Equal(t, 3, resp.Attempts)
	assert.Equal(t, []time.Duration{2 * time.Millisecond, 4 * time.Millisecond}, waits)
}

func TestCompleteGivesUpAfterMaxAttempts(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := newTestAnthropic(t, srv.URL)
	_, err := c.Complete(context.Background(), User("", "hi"))
	require.Error(t, err)
	assert.True(t, IsRetryable(err))
	assert.Equal(t, int32(3), calls.Load())
}

func TestCompleteDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"type":"invalid_request_error","message":"bad model"}}`))
	}))
	defer srv.Close()

	c := newTestAnthropic(t, srv.URL)
	_, err := c.Complete(context.Background(), User("", "hi"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad model")
	assert.False(t, IsRetryable(err))
	assert.Equal(t, int32(1), calls.Load())
}

func TestAuditedRecordsCall(t *testing.T) {
	srv := httptest.NewServer(okHandler(t, "ok"))
	defer srv.Close()

	log, err := audit.Open(filepath.Join(t.TempDir(), "audit.jsonl"))
	require.NoError(t, err)

	c := NewAudited(newTestAnthropic(t, srv.URL), log)
	req := User("", "hi")
	req.RunID = "run-1"
	req.Actor = "coder"
	_, err = c.Complete(context.Background(), req)
	require.NoError(t, err)

	entries, err := log.Read(audit.ReadOpts{RunID: "run-1"})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "coder", entries[0].Actor)
	assert.Equal(t, "llm_call", entries[0].Action)
	require.NotNil(t, entries[0].TokensUsed)
	assert.Equal(t, 15, *entries[0].TokensUsed)
	require.NotNil(t, entries[0].DurationMs)
}

func TestAuditedSkipsFailedCalls(t *testing.T) {
	log, err := audit.Open(filepath.Join(t.TempDir(), "audit.jsonl"))
	require.NoError(t, err)

	boom := errors.New("boom")
	c := NewAudited(NewScripted(Reply{Err: boom}), log)
	_, err = c.Complete(context.Background(), User("", "hi"))
	require.ErrorIs(t, err, boom)

	entries, err := log.Read(audit.ReadOpts{})
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestScriptedQueues(t *testing.T) {
	s := NewScripted(Reply{Text: "shared"}).For("planner", Reply{Text: "plan"})
	ctx := context.Background()

	r, err := s.Complete(ctx, Request{Actor: "planner"})
	require.NoError(t, err)
	assert.Equal(t, "plan", r.Text)

	r, err = s.Complete(ctx, Request{Actor: "planner"})
	require.NoError(t, err)
	assert.Equal(t, "shared", r.Text)

	_, err = s.Complete(ctx, Request{Actor: "planner"})
	require.Error(t, err)

	s.Default = Reply{Text: "fallback"}
	r, err = s.Complete(ctx, Request{Actor: "coder"})
	require.NoError(t, err)
	assert.Equal(t, "fallback", r.Text)
	assert.Equal(t, 3, s.Calls("planner"))
}
