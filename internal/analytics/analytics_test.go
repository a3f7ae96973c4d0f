package analytics

import (
	"context"
	"testing"
	"time"

	"github.com/Thinkelution/devlution/internal/audit"
	"github.com/Thinkelution/devlution/internal/db"
)

func testDB(t *testing.T) *db.DB {
	t.Helper()
	d, err := db.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if err := d.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate test db: %v", err)
	}
	t.Cleanup(func() { d.Close() })
	return d
}

func insert(t *testing.T, d *db.DB, entries ...audit.Entry) {
	t.Helper()
	for _, e := range entries {
		if e.Timestamp == "" {
			e.Timestamp = "2026-06-01T10:00:00Z"
		}
		if err := d.InsertAudit(context.Background(), e); err != nil {
			t.Fatalf("insert %+v: %v", e, err)
		}
	}
}

func ms(v int64) *int64 { return &v }

func step(run, node, action string, seconds int64, conf float64) audit.Entry {
	return audit.Entry{
		RunID:      run,
		Actor:      node,
		Action:     action,
		Confidence: audit.Float(conf),
		DurationMs: ms(seconds * 1000),
	}
}

// --- QueryNodeStats ---

func TestQueryNodeStats(t *testing.T) {
	d := testDB(t)
	insert(t, d,
		step("r1", "coder", "step_complete", 10, 0.8),
		step("r2", "coder", "step_complete", 20, 0.6),
		step("r3", "coder", "step_failed", 30, 0.1),
		step("r1", "reviewer", "step_complete", 4, 0.9),
		audit.Entry{RunID: "r1", Actor: "engine", Action: "run_started"},
	)
	esc := step("r4", "reviewer", "step_complete", 6, 0.3)
	esc.Details = map[string]any{"escalate": true, "iteration": 1}
	insert(t, d, esc)

	results, err := QueryNodeStats(d, time.Time{})
	if err != nil {
		t.Fatalf("QueryNodeStats: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 nodes, got %d: %+v", len(results), results)
	}

	coder := results[0]
	if coder.Node != "coder" {
		t.Fatalf("first node = %q, want coder", coder.Node)
	}
	if coder.Count != 3 {
		t.Errorf("coder count = %d, want 3", coder.Count)
	}
	if coder.FailedPct != 33.3 {
		t.Errorf("coder failed = %v, want 33.3", coder.FailedPct)
	}
	if coder.Avg != 20.0 || coder.P50 != 20.0 {
		t.Errorf("coder avg/p50 = %v/%v, want 20/20", coder.Avg, coder.P50)
	}
	if coder.AvgConfidence != 0.5 {
		t.Errorf("coder confidence = %v, want 0.5", coder.AvgConfidence)
	}

	reviewer := results[1]
	if reviewer.EscalatedPct != 50.0 {
		t.Errorf("reviewer escalated = %v, want 50", reviewer.EscalatedPct)
	}
	if reviewer.FailedPct != 0 {
		t.Errorf("reviewer failed = %v, want 0", reviewer.FailedPct)
	}
}

func TestQueryNodeStats_Since(t *testing.T) {
	d := testDB(t)
	old := step("r1", "tester", "step_complete", 5, 1)
	old.Timestamp = "2026-01-01T00:00:00Z"
	recent := step("r2", "tester", "step_complete", 7, 1)
	recent.Timestamp = "2026-06-01T00:00:00.5Z"
	insert(t, d, old, recent)

	results, err := QueryNodeStats(d, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("QueryNodeStats: %v", err)
	}
	if len(results) != 1 || results[0].Count != 1 || results[0].Avg != 7.0 {
		t.Errorf("expected only the recent entry, got %+v", results)
	}
}

func TestQueryNodeStats_Empty(t *testing.T) {
	d := testDB(t)
	results, err := QueryNodeStats(d, time.Time{})
	if err != nil {
		t.Fatalf("QueryNodeStats: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("expected no results, got %d", len(results))
	}
}

// --- QueryTokenUsage ---

func TestQueryTokenUsage(t *testing.T) {
	d := testDB(t)
	insert(t, d,
		audit.Entry{RunID: "r1", Actor: "planner", Action: "llm_call", TokensUsed: audit.Int(100)},
		audit.Entry{RunID: "r1", Actor: "coder", Action: "llm_call", TokensUsed: audit.Int(900)},
		audit.Entry{RunID: "r2", Actor: "coder", Action: "llm_call", TokensUsed: audit.Int(600)},
		audit.Entry{RunID: "r2", Actor: "coder", Action: "step_complete", TokensUsed: audit.Int(5000)},
	)

	results, err := QueryTokenUsage(d, time.Time{})
	if err != nil {
		t.Fatalf("QueryTokenUsage: %v", err)
	}
	want := []TokenUsage{
		{Actor: "coder", Calls: 2, Tokens: 1500, Runs: 2},
		{Actor: "planner", Calls: 1, Tokens: 100, Runs: 1},
	}
	if len(results) != len(want) {
		t.Fatalf("got %+v, want %+v", results, want)
	}
	for i := range want {
		if results[i] != want[i] {
			t.Errorf("results[%d] = %+v, want %+v", i, results[i], want[i])
		}
	}
}

// --- QueryGateOutcomes ---

func TestQueryGateOutcomes(t *testing.T) {
	d := testDB(t)
	gate := func(run, id, decision string) audit.Entry {
		return audit.Entry{RunID: run, Actor: "gate", Action: decision, Details: map[string]any{"gate_id": id}}
	}
	insert(t, d,
		gate("r1", "pre_merge", "approved"),
		gate("r2", "pre_merge", "approved"),
		gate("r3", "pre_merge", "rejected"),
		gate("r4", "pre_merge", "timeout"),
		gate("r1", "security_review", "approved"),
		audit.Entry{RunID: "r5", Actor: "gate", Action: "gate_escalated", Details: map[string]any{"gate_id": "pre_merge"}},
	)

	results, err := QueryGateOutcomes(d, time.Time{})
	if err != nil {
		t.Fatalf("QueryGateOutcomes: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 gates, got %+v", results)
	}
	pm := results[0]
	if pm.GateID != "pre_merge" || pm.Approved != 2 || pm.Rejected != 1 || pm.Timeout != 1 {
		t.Errorf("pre_merge = %+v", pm)
	}
	if pm.ApprovedPct != 50.0 {
		t.Errorf("pre_merge approved = %v, want 50", pm.ApprovedPct)
	}
	if results[1].GateID != "security_review" || results[1].ApprovedPct != 100.0 {
		t.Errorf("security_review = %+v", results[1])
	}
}

func TestBuild(t *testing.T) {
	d := testDB(t)
	insert(t, d, step("r1", "planner", "step_complete", 3, 0.9))
	since := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	r, err := Build(d, since)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if r.Since != "2026-01-01T00:00:00Z" {
		t.Errorf("since = %q", r.Since)
	}
	if len(r.Nodes) != 1 || len(r.Tokens) != 0 || len(r.Gates) != 0 {
		t.Errorf("unexpected report: %+v", r)
	}
}

// --- helpers ---

func TestAvg(t *testing.T) {
	if v := avg([]float64{10, 20, 30}); v != 20.0 {
		t.Errorf("avg([10,20,30]) = %f, want 20.0", v)
	}
	if v := avg(nil); v != 0.0 {
		t.Errorf("avg(nil) = %f, want 0.0", v)
	}
}

func TestPercentile(t *testing.T) {
	values := []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	p50 := percentile(values, 50)
	if p50 < 5.0 || p50 > 6.0 {
		t.Errorf("p50 = %f, expected ~5.5", p50)
	}
	p95 := percentile(values, 95)
	if p95 < 9.0 || p95 > 10.0 {
		t.Errorf("p95 = %f, expected ~9.6", p95)
	}
	if v := percentile(nil, 50); v != 0.0 {
		t.Errorf("percentile(nil, 50) = %f, want 0.0", v)
	}
}

func TestPct(t *testing.T) {
	if v := pct(1, 4); v != 25.0 {
		t.Errorf("pct(1,4) = %f, want 25.0", v)
	}
	if v := pct(0, 0); v != 0.0 {
		t.Errorf("pct(0,0) = %f, want 0.0", v)
	}
}
