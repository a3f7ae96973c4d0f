package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Thinkelution/devlution/internal/audit"
)

// Postgres is a shared audit sink for teams running several hosts.
type Postgres struct {
	pool *pgxpool.Pool
}

// OpenPostgres connects a pool. An empty dsn falls back to DATABASE_URL.
func OpenPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	if dsn == "" {
		dsn = os.Getenv("DATABASE_URL")
	}
	if dsn == "" {
		return nil, errors.New("postgres DSN or DATABASE_URL required")
	}
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	cfg.MaxConns = 4
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

// Close releases the pool.
func (p *Postgres) Close() {
	p.pool.Close()
}

const pgSchema = `
CREATE TABLE IF NOT EXISTS devlution_audit (
    id          BIGSERIAL PRIMARY KEY,
    ts          TIMESTAMPTZ NOT NULL,
    run_id      TEXT NOT NULL,
    actor       TEXT NOT NULL,
    action      TEXT NOT NULL,
    details     JSONB,
    tokens_used INTEGER,
    confidence  DOUBLE PRECISION,
    duration_ms BIGINT
);
CREATE INDEX IF NOT EXISTS idx_devlution_audit_run ON devlution_audit(run_id, id);
`

// Migrate creates the audit table.
func (p *Postgres) Migrate(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, pgSchema); err != nil {
		return fmt.Errorf("apply postgres schema: %w", err)
	}
	return nil
}

// InsertAudit writes one entry.
func (p *Postgres) InsertAudit(ctx context.Context, e audit.Entry) error {
	details, err := encodeDetails(e.Details)
	if err != nil {
		return err
	}
	var detailsArg any
	if details.Valid {
		detailsArg = details.String
	}
	_, err = p.pool.Exec(ctx,
		`INSERT INTO devlution_audit (ts, run_id, actor, action, details, tokens_used, confidence, duration_ms)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		e.Time(), e.RunID, e.Actor, e.Action, detailsArg, e.TokensUsed, e.Confidence, e.DurationMs,
	)
	if err != nil {
		return fmt.Errorf("insert postgres audit entry: %w", err)
	}
	return nil
}

// Mirror implements audit.Mirror.
func (p *Postgres) Mirror(ctx context.Context, e audit.Entry) error {
	return p.InsertAudit(ctx, e)
}

// QueryAudit mirrors DB.QueryAudit.
func (p *Postgres) QueryAudit(ctx context.Context, runID string, lastN int) ([]audit.Entry, error) {
	var limit any
	if lastN > 0 {
		limit = lastN
	}
	rows, err := p.pool.Query(ctx,
		`SELECT ts, run_id, actor, action, details::text, tokens_used, confidence, duration_ms FROM (
		     SELECT * FROM devlution_audit WHERE ($1::text = '' OR run_id = $1) ORDER BY id DESC LIMIT $2::bigint
		 ) recent ORDER BY id ASC`,
		runID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query postgres audit: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (audit.Entry, error) {
		var (
			e       audit.Entry
			ts      time.Time
			details *string
		)
		if err := row.Scan(&ts, &e.RunID, &e.Actor, &e.Action, &details, &e.TokensUsed, &e.Confidence, &e.DurationMs); err != nil {
			return e, err
		}
		e.Timestamp = ts.UTC().Format(time.RFC3339Nano)
		if details != nil {
			e.Details = decodeDetails(sql.NullString{String: *details, Valid: true})
		}
		return e, nil
	})
}
