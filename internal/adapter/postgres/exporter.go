// Package postgres exports committed snapshots to a PostgreSQL warehouse so
// downstream tools can query the series with SQL.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/couchcryptid/covid-state-etl/internal/domain"
)

// Exporter replaces the warehouse tables with each committed snapshot.
type Exporter struct {
	pool *pgxpool.Pool
}

// Open connects to PostgreSQL using dsn and verifies the connection.
func Open(ctx context.Context, dsn string) (*Exporter, error) {
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}

	poolCfg.MaxConns = 4
	poolCfg.MaxConnLifetime = time.Hour
	poolCfg.MaxConnIdleTime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &Exporter{pool: pool}, nil
}

// Close closes the connection pool.
func (e *Exporter) Close() {
	e.pool.Close()
}

func (e *Exporter) Name() string { return "postgres" }

// CreateSchema creates the warehouse tables.
func (e *Exporter) CreateSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS covid_snapshots (
		id          TEXT PRIMARY KEY,
		built_at    TIMESTAMPTZ NOT NULL,
		states      INTEGER NOT NULL,
		rejected    INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS covid_state_reference (
		code        TEXT PRIMARY KEY,
		name        TEXT NOT NULL,
		population  BIGINT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS covid_state_series (
		state       TEXT NOT NULL,
		metric      TEXT NOT NULL,
		day         DATE NOT NULL,
		value       DOUBLE PRECISION NOT NULL,
		PRIMARY KEY (state, metric, day)
	);

	CREATE INDEX IF NOT EXISTS idx_covid_state_series_metric ON covid_state_series(metric, day);
	`
	if _, err := e.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Write replaces the reference and series tables with snap in one transaction.
func (e *Exporter) Write(ctx context.Context, snap *domain.Snapshot) error {
	tx, err := e.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin export: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `TRUNCATE covid_state_series, covid_state_reference`); err != nil {
		return fmt.Errorf("truncate tables: %w", err)
	}

	if _, err := tx.CopyFrom(ctx,
		pgx.Identifier{"covid_state_reference"},
		[]string{"code", "name", "population"},
		pgx.CopyFromRows(referenceRows(snap)),
	); err != nil {
		return fmt.Errorf("copy reference: %w", err)
	}

	if _, err := tx.CopyFrom(ctx,
		pgx.Identifier{"covid_state_series"},
		[]string{"state", "metric", "day", "value"},
		pgx.CopyFromRows(seriesRows(snap)),
	); err != nil {
		return fmt.Errorf("copy series: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO covid_snapshots (id, built_at, states, rejected) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (id) DO NOTHING`,
		snap.ID, snap.BuiltAt, len(snap.States), snap.Rejections.Total,
	); err != nil {
		return fmt.Errorf("record snapshot: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit export: %w", err)
	}
	return nil
}

func referenceRows(snap *domain.Snapshot) [][]any {
	if snap.Reference == nil {
		return nil
	}
	refs := snap.Reference.Rows()
	rows := make([][]any, 0, len(refs))
	for _, r := range refs {
		rows = append(rows, []any{r.Code, r.Name, r.Population})
	}
	return rows
}

// seriesRows flattens the snapshot into (state, metric, day, value) rows in
// state, metric, day order.
func seriesRows(snap *domain.Snapshot) [][]any {
	var rows [][]any
	for _, code := range snap.StateCodes() {
		ts := snap.States[code]
		for _, m := range ts.Metrics {
			col := ts.Values[m]
			for i, d := range ts.Dates {
				rows = append(rows, []any{code, string(m), d, col[i]})
			}
		}
	}
	return rows
}
