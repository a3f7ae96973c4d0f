package audit

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/Thinkelution/devlution/internal/logging"
)

func newTestLog(t *testing.T, opts ...Option) *Log {
	t.Helper()
	l, err := Open(filepath.Join(t.TempDir(), ".devlution", "audit.jsonl"), opts...)
	require.NoError(t, err)
	return l
}

func TestRecordRoundTrip(t *testing.T) {
	l := newTestLog(t)
	ctx := context.Background()

	_, err := l.Record(ctx, Entry{
		RunID:      "p1",
		Actor:      "planner",
		Action:     "plan_complete",
		Details:    map[string]any{"task_count": 3},
		TokensUsed: Int(1200),
		Confidence: Float(0.91),
		DurationMs: Millis(1500 * time.Millisecond),
	})
	require.NoError(t, err)
	_, err = l.Record(ctx, Entry{RunID: "p1", Actor: "gate", Action: "approved"})
	require.NoError(t, err)

	entries, err := l.Read(ReadOpts{})
	require.NoError(t, err)
	require.Len(t, entries, 2)

	first := entries[0]
	assert.Equal(t, "p1", first.RunID)
	assert.Equal(t, "planner", first.Actor)
	assert.Equal(t, "plan_complete", first.Action)
	assert.Equal(t, float64(3), first.Details["task_count"])
	require.NotNil(t, first.TokensUsed)
	assert.Equal(t, 1200, *first.TokensUsed)
	require.NotNil(t, first.Confidence)
	assert.Equal(t, 0.91, *first.Confidence)
	require.NotNil(t, first.DurationMs)
	assert.Equal(t, int64(1500), *first.DurationMs)
	assert.False(t, first.Time().IsZero())

	second := entries[1]
	assert.Nil(t, second.TokensUsed)
	assert.Nil(t, second.Confidence)
	assert.Nil(t, second.DurationMs)
	assert.Nil(t, second.Details)
}

func TestRecordOmitsUnsetFieldsOnDisk(t *testing.T) {
	l := newTestLog(t)
	_, err := l.Record(context.Background(), Entry{RunID: "p1", Actor: "coder", Action: "code_complete"})
	require.NoError(t, err)

	data, err := os.ReadFile(l.Path())
	require.NoError(t, err)
	line := string(data)
	assert.NotContains(t, line, "tokens_used")
	assert.NotContains(t, line, "confidence")
	assert.NotContains(t, line, "duration_ms")
	assert.NotContains(t, line, "details")
	assert.Contains(t, line, `"ts":`)
}

func TestRecordRequiresActorAndAction(t *testing.T) {
	l := newTestLog(t)
	_, err := l.Record(context.Background(), Entry{RunID: "p1", Action: "x"})
	assert.Error(t, err)
	_, err = l.Record(context.Background(), Entry{RunID: "p1", Actor: "x"})
	assert.Error(t, err)
}

func TestReadLastN(t *testing.T) {
	l := newTestLog(t)
	for i := 0; i < 10; i++ {
		_, err := l.Record(context.Background(), Entry{RunID: "p1", Actor: "tester", Action: fmt.Sprintf("a%d", i)})
		require.NoError(t, err)
	}

	entries, err := l.Read(ReadOpts{LastN: 3})
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "a7", entries[0].Action)
	assert.Equal(t, "a8", entries[1].Action)
	assert.Equal(t, "a9", entries[2].Action)
}

func TestReadFiltersThenTruncates(t *testing.T) {
	l := newTestLog(t)
	ctx := context.Background()
	// p1 entries are interleaved early; the last 2 entries overall belong to p2.
	for i := 0; i < 4; i++ {
		_, _ = l.Record(ctx, Entry{RunID: "p1", Actor: "coder", Action: fmt.Sprintf("p1-%d", i)})
		_, _ = l.Record(ctx, Entry{RunID: "p2", Actor: "coder", Action: fmt.Sprintf("p2-%d", i)})
	}

	entries, err := l.Read(ReadOpts{RunID: "p1", LastN: 2})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "p1-2", entries[0].Action)
	assert.Equal(t, "p1-3", entries[1].Action)

	only, err := l.Read(ReadOpts{RunID: "p1"})
	require.NoError(t, err)
	assert.Len(t, only, 4)
	for _, e := range only {
		assert.Equal(t, "p1", e.RunID)
	}
}

func TestClear(t *testing.T) {
	l := newTestLog(t)
	_, _ = l.Record(context.Background(), Entry{RunID: "p1", Actor: "a", Action: "b"})
	require.NoError(t, l.Clear())

	entries, err := l.Read(ReadOpts{})
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestReadMissingFile(t *testing.T) {
	l := newTestLog(t)
	entries, err := l.Read(ReadOpts{})
	require.NoError(t, err)
	assert.Empty(t, entries)
	assert.NoError(t, l.Clear())
}

func TestReadToleratesBlankLines(t *testing.T) {
	l := newTestLog(t)
	content := "\n" +
		`{"ts":"2026-01-01T00:00:00Z","run_id":"p1","actor":"planner","action":"plan_complete"}` + "\n" +
		"   \n\n" +
		`{"ts":"2026-01-01T00:00:01Z","run_id":"p1","actor":"coder","action":"code_complete"}` + "\n"
	require.NoError(t, os.WriteFile(l.Path(), []byte(content), 0o644))

	entries, err := l.Read(ReadOpts{})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "coder", entries[1].Actor)
}

func TestReadReportsMalformedLine(t *testing.T) {
	l := newTestLog(t)
	require.NoError(t, os.WriteFile(l.Path(), []byte("{\"actor\":\"a\"}\nnot json\n"), 0o644))

	_, err := l.Read(ReadOpts{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 2")
}

func TestConcurrentRecords(t *testing.T) {
	l := newTestLog(t)
	const writers, perWriter = 20, 25

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				_, err := l.Record(context.Background(), Entry{
					RunID:   fmt.Sprintf("run-%d", w),
					Actor:   "tester",
					Action:  "test_complete",
					Details: map[string]any{"i": i, "padding": string(make([]byte, 512))},
				})
				assert.NoError(t, err)
			}
		}(w)
	}

	// Concurrent readers must always see a parseable prefix.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 20; i++ {
			_, err := l.Read(ReadOpts{})
			assert.NoError(t, err)
		}
	}()

	wg.Wait()
	<-done

	entries, err := l.Read(ReadOpts{})
	require.NoError(t, err)
	assert.Len(t, entries, writers*perWriter)

	mine, err := l.Read(ReadOpts{RunID: "run-3"})
	require.NoError(t, err)
	require.Len(t, mine, perWriter)
	for i, e := range mine {
		assert.Equal(t, float64(i), e.Details["i"], "per-writer order preserved")
	}
}

type recordingMirror struct {
	mu      sync.Mutex
	entries []Entry
	err     error
}

func (m *recordingMirror) Mirror(_ context.Context, e Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, e)
	return m.err
}

func TestMirrorsReceiveEntries(t *testing.T) {
	ok := &recordingMirror{}
	failing := &recordingMirror{err: errors.New("db down")}
	tl := logging.NewTestLogger()
	l := newTestLog(t, WithMirrors(ok, failing), WithLogger(tl.Logger))

	e, err := l.Record(context.Background(), Entry{RunID: "p1", Actor: "gate", Action: "approved"})
	require.NoError(t, err, "mirror failure must not fail Record")

	require.Len(t, ok.entries, 1)
	assert.Equal(t, e.Timestamp, ok.entries[0].Timestamp)
	assert.Len(t, failing.entries, 1)
	tl.AssertLogged(t, zapcore.WarnLevel, "audit mirror failed")

	entries, _ := l.Read(ReadOpts{})
	assert.Len(t, entries, 1)
}

func TestRecordUsesClock(t *testing.T) {
	fixed := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)
	l := newTestLog(t, WithClock(func() time.Time { return fixed }))

	e, err := l.Record(context.Background(), Entry{RunID: "p1", Actor: "a", Action: "b"})
	require.NoError(t, err)
	assert.Equal(t, "2026-03-04T05:06:07Z", e.Timestamp)
}

func TestSummarize(t *testing.T) {
	entries := []Entry{
		{Timestamp: "2026-01-01T00:00:00Z", RunID: "a", Actor: "planner", Action: "plan_complete", TokensUsed: Int(100)},
		{Timestamp: "2026-01-01T00:00:01Z", RunID: "b", Actor: "planner", Action: "plan_complete"},
		{Timestamp: "2026-01-01T00:00:02Z", RunID: "a", Actor: "coder", Action: "code_complete", TokensUsed: Int(50)},
		{Timestamp: "2026-01-01T00:00:03Z", RunID: "a", Actor: "planner", Action: "llm_call"},
	}
	sums := Summarize(entries)
	require.Len(t, sums, 2)

	assert.Equal(t, "a", sums[0].RunID)
	assert.Equal(t, 3, sums[0].Entries)
	assert.Equal(t, []string{"planner", "coder"}, sums[0].Actors)
	assert.Equal(t, "llm_call", sums[0].LastAction)
	assert.Equal(t, 150, sums[0].TokensUsed)
	assert.Equal(t, "2026-01-01T00:00:00Z", sums[0].FirstSeen)
	assert.Equal(t, "b", sums[1].RunID)
}

func TestSummarizeOrdersByParsedTime(t *testing.T) {
	// "00Z" sorts after "00.1Z" as text but is the earlier instant.
	entries := []Entry{
		{Timestamp: "2026-01-01T00:00:00.1Z", RunID: "late", Actor: "planner", Action: "plan_complete"},
		{Timestamp: "2026-01-01T00:00:00Z", RunID: "early", Actor: "planner", Action: "plan_complete"},
	}
	sums := Summarize(entries)
	require.Len(t, sums, 2)
	assert.Equal(t, "late", sums[0].RunID)
	assert.Equal(t, "early", sums[1].RunID)
}
