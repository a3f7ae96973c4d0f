// Package analytics reports agent, token and gate statistics from the
// SQLite audit index.
package analytics

import (
	"database/sql"
	"fmt"
	"math"
	"sort"
	"time"
)

// DB is the interface for database queries used by analytics.
type DB interface {
	Conn() *sql.DB
}

// NodeStat holds step outcome and duration stats for one pipeline node.
type NodeStat struct {
	Node          string  `json:"node" yaml:"node"`
	Count         int     `json:"count" yaml:"count"`
	FailedPct     float64 `json:"failed_pct" yaml:"failed_pct"`
	EscalatedPct  float64 `json:"escalated_pct" yaml:"escalated_pct"`
	AvgConfidence float64 `json:"avg_confidence" yaml:"avg_confidence"`
	Avg           float64 `json:"avg_seconds" yaml:"avg_seconds"`
	P50           float64 `json:"p50_seconds" yaml:"p50_seconds"`
	P95           float64 `json:"p95_seconds" yaml:"p95_seconds"`
}

// sinceClause appends a timestamp bound when since is set. Audit timestamps
// are RFC 3339 in UTC, so string comparison orders them.
func sinceClause(query string, args []any, since time.Time) (string, []any) {
	if since.IsZero() {
		return query, args
	}
	return query + ` AND ts >= ?`, append(args, since.UTC().Format(time.RFC3339))
}

// QueryNodeStats summarizes step_complete and step_failed entries per node.
func QueryNodeStats(database DB, since time.Time) ([]NodeStat, error) {
	query, args := sinceClause(`
		SELECT actor, action, duration_ms, confidence,
			COALESCE(json_extract(details, '$.escalate'), 0)
		FROM audit_entries
		WHERE action IN ('step_complete', 'step_failed')`, nil, since)

	rows, err := database.Conn().Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query node stats: %w", err)
	}
	defer rows.Close()

	type acc struct {
		count, failed, escalated int
		confSum                  float64
		durations                []float64
	}
	byNode := make(map[string]*acc)
	for rows.Next() {
		var (
			node, action string
			durationMs   sql.NullInt64
			confidence   sql.NullFloat64
			escalate     int
		)
		if err := rows.Scan(&node, &action, &durationMs, &confidence, &escalate); err != nil {
			return nil, fmt.Errorf("scan node stat: %w", err)
		}
		a := byNode[node]
		if a == nil {
			a = &acc{}
			byNode[node] = a
		}
		a.count++
		if action == "step_failed" {
			a.failed++
		}
		if escalate != 0 {
			a.escalated++
		}
		if confidence.Valid {
			a.confSum += confidence.Float64
		}
		if durationMs.Valid {
			a.durations = append(a.durations, float64(durationMs.Int64)/1000)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	results := make([]NodeStat, 0, len(byNode))
	for node, a := range byNode {
		sort.Float64s(a.durations)
		results = append(results, NodeStat{
			Node:          node,
			Count:         a.count,
			FailedPct:     pct(a.failed, a.count),
			EscalatedPct:  pct(a.escalated, a.count),
			AvgConfidence: math.Round(a.confSum/float64(a.count)*100) / 100,
			Avg:           avg(a.durations),
			P50:           percentile(a.durations, 50),
			P95:           percentile(a.durations, 95),
		})
	}
	sort.Slice(results, func(i, j int) bool {
		return results[i].Node < results[j].Node
	})
	return results, nil
}

// TokenUsage holds model token consumption for one actor.
type TokenUsage struct {
	Actor  string `json:"actor" yaml:"actor"`
	Calls  int    `json:"calls" yaml:"calls"`
	Tokens int    `json:"tokens" yaml:"tokens"`
	Runs   int    `json:"runs" yaml:"runs"`
}

// QueryTokenUsage totals tokens per actor, heaviest first.
func QueryTokenUsage(database DB, since time.Time) ([]TokenUsage, error) {
	query, args := sinceClause(`
		SELECT actor, COUNT(*), SUM(tokens_used), COUNT(DISTINCT run_id)
		FROM audit_entries
		WHERE action = 'llm_call' AND tokens_used IS NOT NULL`, nil, since)
	query += ` GROUP BY actor ORDER BY SUM(tokens_used) DESC, actor`

	rows, err := database.Conn().Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query token usage: %w", err)
	}
	defer rows.Close()

	var results []TokenUsage
	for rows.Next() {
		var u TokenUsage
		if err := rows.Scan(&u.Actor, &u.Calls, &u.Tokens, &u.Runs); err != nil {
			return nil, fmt.Errorf("scan token usage: %w", err)
		}
		results = append(results, u)
	}
	return results, rows.Err()
}

// GateOutcome counts decisions recorded for one gate.
type GateOutcome struct {
	GateID      string  `json:"gate_id" yaml:"gate_id"`
	Approved    int     `json:"approved" yaml:"approved"`
	Rejected    int     `json:"rejected" yaml:"rejected"`
	Timeout     int     `json:"timeout" yaml:"timeout"`
	ApprovedPct float64 `json:"approved_pct" yaml:"approved_pct"`
}

// QueryGateOutcomes counts approved, rejected and timed-out decisions per gate.
func QueryGateOutcomes(database DB, since time.Time) ([]GateOutcome, error) {
	query, args := sinceClause(`
		SELECT json_extract(details, '$.gate_id') AS gate_id,
			SUM(CASE WHEN action = 'approved' THEN 1 ELSE 0 END),
			SUM(CASE WHEN action = 'rejected' THEN 1 ELSE 0 END),
			SUM(CASE WHEN action = 'timeout' THEN 1 ELSE 0 END)
		FROM audit_entries
		WHERE actor = 'gate' AND action IN ('approved', 'rejected', 'timeout')`, nil, since)
	query += ` GROUP BY gate_id ORDER BY gate_id`

	rows, err := database.Conn().Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query gate outcomes: %w", err)
	}
	defer rows.Close()

	var results []GateOutcome
	for rows.Next() {
		var (
			g      GateOutcome
			gateID sql.NullString
		)
		if err := rows.Scan(&gateID, &g.Approved, &g.Rejected, &g.Timeout); err != nil {
			return nil, fmt.Errorf("scan gate outcome: %w", err)
		}
		g.GateID = gateID.String
		g.ApprovedPct = pct(g.Approved, g.Approved+g.Rejected+g.Timeout)
		results = append(results, g)
	}
	return results, rows.Err()
}

// Report bundles every query for one reporting window.
type Report struct {
	Since  string        `json:"since,omitempty" yaml:"since,omitempty"`
	Nodes  []NodeStat    `json:"nodes" yaml:"nodes"`
	Tokens []TokenUsage  `json:"tokens" yaml:"tokens"`
	Gates  []GateOutcome `json:"gates" yaml:"gates"`
}

// Build runs all queries.
func Build(database DB, since time.Time) (*Report, error) {
	r := &Report{}
	if !since.IsZero() {
		r.Since = since.UTC().Format(time.RFC3339)
	}
	var err error
	if r.Nodes, err = QueryNodeStats(database, since); err != nil {
		return nil, err
	}
	if r.Tokens, err = QueryTokenUsage(database, since); err != nil {
		return nil, err
	}
	if r.Gates, err = QueryGateOutcomes(database, since); err != nil {
		return nil, err
	}
	return r, nil
}

// --- helpers ---

func avg(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return math.Round(sum/float64(len(values))*10) / 10
}

func percentile(sorted []float64, p int) float64 {
	if len(sorted) == 0 {
		return 0
	}
	rank := float64(p) / 100.0 * float64(len(sorted)-1)
	lower := int(math.Floor(rank))
	upper := int(math.Ceil(rank))
	if lower == upper || upper >= len(sorted) {
		return math.Round(sorted[lower]*10) / 10
	}
	weight := rank - float64(lower)
	return math.Round((sorted[lower]*(1-weight)+sorted[upper]*weight)*10) / 10
}

func pct(n, total int) float64 {
	if total == 0 {
		return 0
	}
	return math.Round(float64(n)/float64(total)*1000) / 10
}
