package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/Thinkelution/devlution/internal/audit"
)

// RunSummary aggregates the indexed audit rows of one run.
type RunSummary struct {
	RunID      string `json:"run_id"`
	FirstSeen  string `json:"first_seen"`
	LastSeen   string `json:"last_seen"`
	Entries    int    `json:"entries"`
	TokensUsed int    `json:"tokens_used"`
	LastAction string `json:"last_action"`
}

func encodeDetails(details map[string]any) (sql.NullString, error) {
	if len(details) == 0 {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(details)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("encode details: %w", err)
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func decodeDetails(s sql.NullString) map[string]any {
	if !s.Valid || s.String == "" {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(s.String), &m); err != nil {
		return map[string]any{"raw": s.String}
	}
	return m
}

// InsertAudit indexes one audit entry.
func (d *DB) InsertAudit(ctx context.Context, e audit.Entry) error {
	details, err := encodeDetails(e.Details)
	if err != nil {
		return err
	}
	_, err = d.conn.ExecContext(ctx,
		`INSERT INTO audit_entries (ts, run_id, actor, action, details, tokens_used, confidence, duration_ms)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.Timestamp, e.RunID, e.Actor, e.Action, details, e.TokensUsed, e.Confidence, e.DurationMs,
	)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

// Mirror implements audit.Mirror.
func (d *DB) Mirror(ctx context.Context, e audit.Entry) error {
	return d.InsertAudit(ctx, e)
}

// QueryAudit returns indexed entries in insertion order. An empty runID
// matches every run; lastN > 0 keeps only the most recent lastN.
func (d *DB) QueryAudit(ctx context.Context, runID string, lastN int) ([]audit.Entry, error) {
	limit := -1
	if lastN > 0 {
		limit = lastN
	}
	rows, err := d.conn.QueryContext(ctx,
		`SELECT ts, run_id, actor, action, details, tokens_used, confidence, duration_ms FROM (
		     SELECT * FROM audit_entries WHERE (? = '' OR run_id = ?) ORDER BY id DESC LIMIT ?
		 ) ORDER BY id ASC`,
		runID, runID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query audit: %w", err)
	}
	defer rows.Close()

	var out []audit.Entry
	for rows.Next() {
		var (
			e          audit.Entry
			details    sql.NullString
			tokens     sql.NullInt64
			confidence sql.NullFloat64
			duration   sql.NullInt64
		)
		if err := rows.Scan(&e.Timestamp, &e.RunID, &e.Actor, &e.Action, &details, &tokens, &confidence, &duration); err != nil {
			return nil, fmt.Errorf("scan audit row: %w", err)
		}
		e.Details = decodeDetails(details)
		if tokens.Valid {
			e.TokensUsed = audit.Int(int(tokens.Int64))
		}
		if confidence.Valid {
			e.Confidence = audit.Float(confidence.Float64)
		}
		if duration.Valid {
			v := duration.Int64
			e.DurationMs = &v
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// RunSummaries aggregates indexed entries per run, most recent first.
func (d *DB) RunSummaries(ctx context.Context) ([]RunSummary, error) {
	rows, err := d.conn.QueryContext(ctx,
		`SELECT a.run_id,
		        (SELECT b.ts FROM audit_entries b WHERE b.run_id = a.run_id ORDER BY b.id ASC LIMIT 1),
		        (SELECT b.ts FROM audit_entries b WHERE b.run_id = a.run_id ORDER BY b.id DESC LIMIT 1),
		        COUNT(*), COALESCE(SUM(a.tokens_used), 0),
		        (SELECT b.action FROM audit_entries b WHERE b.run_id = a.run_id ORDER BY b.id DESC LIMIT 1)
		 FROM audit_entries a
		 GROUP BY a.run_id
		 ORDER BY MAX(a.id) DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("query run summaries: %w", err)
	}
	defer rows.Close()

	var out []RunSummary
	for rows.Next() {
		var s RunSummary
		if err := rows.Scan(&s.RunID, &s.FirstSeen, &s.LastSeen, &s.Entries, &s.TokensUsed, &s.LastAction); err != nil {
			return nil, fmt.Errorf("scan run summary: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
