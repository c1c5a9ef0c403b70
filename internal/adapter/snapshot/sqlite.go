package snapshot

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/couchcryptid/covid-state-etl/internal/domain"
)

const schema = `
CREATE TABLE meta (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);

CREATE TABLE reference (
	code       TEXT PRIMARY KEY,
	name       TEXT NOT NULL,
	population INTEGER NOT NULL
);

CREATE TABLE state_metrics (
	state   TEXT NOT NULL,
	metric  TEXT NOT NULL,
	ordinal INTEGER NOT NULL,
	PRIMARY KEY (state, metric)
);

CREATE TABLE series (
	state  TEXT NOT NULL,
	metric TEXT NOT NULL,
	date   TEXT NOT NULL,
	value  REAL NOT NULL,
	PRIMARY KEY (state, metric, date)
);
`

// SQLiteStore keeps the whole snapshot in a single SQLite file.
type SQLiteStore struct {
	path string
}

// NewSQLiteStore creates a store for the file at path.
func NewSQLiteStore(path string) *SQLiteStore {
	return &SQLiteStore{path: path}
}

func (s *SQLiteStore) Name() string { return "sqlite" }

// Write builds the snapshot into a fresh temporary database and renames it over
// the previous file, so readers only ever open a complete snapshot.
func (s *SQLiteStore) Write(ctx context.Context, snap *domain.Snapshot) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create snapshot dir: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.Remove(tmp); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove stale snapshot: %w", err)
	}

	if err := writeDB(ctx, tmp, snap); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("commit snapshot file: %w", err)
	}
	return nil
}

func writeDB(ctx context.Context, path string, snap *domain.Snapshot) error {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	rejections, err := json.Marshal(snap.Rejections)
	if err != nil {
		return fmt.Errorf("encode rejections: %w", err)
	}
	meta := map[string]string{
		"id":         snap.ID,
		"built_at":   snap.BuiltAt.UTC().Format(time.RFC3339Nano),
		"rejections": string(rejections),
	}
	for k, v := range meta {
		if _, err := tx.ExecContext(ctx, `INSERT INTO meta (key, value) VALUES (?, ?)`, k, v); err != nil {
			return fmt.Errorf("insert meta %s: %w", k, err)
		}
	}

	if snap.Reference != nil {
		for _, row := range snap.Reference.Rows() {
			if _, err := tx.ExecContext(ctx, `INSERT INTO reference (code, name, population) VALUES (?, ?, ?)`,
				row.Code, row.Name, row.Population); err != nil {
				return fmt.Errorf("insert reference %s: %w", row.Code, err)
			}
		}
	}

	metricStmt, err := tx.PrepareContext(ctx, `INSERT INTO state_metrics (state, metric, ordinal) VALUES (?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare state_metrics: %w", err)
	}
	defer metricStmt.Close()

	seriesStmt, err := tx.PrepareContext(ctx, `INSERT INTO series (state, metric, date, value) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare series: %w", err)
	}
	defer seriesStmt.Close()

	for _, code := range snap.StateCodes() {
		ts := snap.States[code]
		for ord, m := range ts.Metrics {
			if _, err := metricStmt.ExecContext(ctx, code, string(m), ord); err != nil {
				return fmt.Errorf("insert metric %s/%s: %w", code, m, err)
			}
			for i, d := range ts.Dates {
				if _, err := seriesStmt.ExecContext(ctx, code, string(m), d.Format(dateLayout), ts.Values[m][i]); err != nil {
					return fmt.Errorf("insert series %s/%s: %w", code, m, err)
				}
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Load reads a snapshot written by Write. It returns an error wrapping
// os.ErrNotExist when no snapshot file exists yet.
func (s *SQLiteStore) Load(ctx context.Context) (*domain.Snapshot, error) {
	if _, err := os.Stat(s.path); err != nil {
		return nil, fmt.Errorf("stat snapshot: %w", err)
	}
	db, err := sql.Open("sqlite", s.path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	snap := &domain.Snapshot{States: make(map[string]*domain.StateTimeSeries)}
	if err := loadMeta(ctx, db, snap); err != nil {
		return nil, err
	}
	if err := loadReference(ctx, db, snap); err != nil {
		return nil, err
	}
	if err := loadSeries(ctx, db, snap); err != nil {
		return nil, err
	}
	return snap, nil
}

func loadMeta(ctx context.Context, db *sql.DB, snap *domain.Snapshot) error {
	rows, err := db.QueryContext(ctx, `SELECT key, value FROM meta`)
	if err != nil {
		return fmt.Errorf("query meta: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return fmt.Errorf("scan meta: %w", err)
		}
		switch k {
		case "id":
			snap.ID = v
		case "built_at":
			t, err := time.Parse(time.RFC3339Nano, v)
			if err != nil {
				return fmt.Errorf("parse built_at: %w", err)
			}
			snap.BuiltAt = t
		case "rejections":
			if err := json.Unmarshal([]byte(v), &snap.Rejections); err != nil {
				return fmt.Errorf("decode rejections: %w", err)
			}
		}
	}
	return rows.Err()
}

func loadReference(ctx context.Context, db *sql.DB, snap *domain.Snapshot) error {
	rows, err := db.QueryContext(ctx, `SELECT code, name, population FROM reference ORDER BY code`)
	if err != nil {
		return fmt.Errorf("query reference: %w", err)
	}
	defer rows.Close()

	var ref []domain.ReferenceRow
	for rows.Next() {
		var r domain.ReferenceRow
		if err := rows.Scan(&r.Code, &r.Name, &r.Population); err != nil {
			return fmt.Errorf("scan reference: %w", err)
		}
		ref = append(ref, r)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	resolver, err := domain.NewResolver(ref)
	if err != nil {
		return fmt.Errorf("rebuild reference: %w", err)
	}
	snap.Reference = resolver
	return nil
}

func loadSeries(ctx context.Context, db *sql.DB, snap *domain.Snapshot) error {
	metricRows, err := db.QueryContext(ctx, `SELECT state, metric FROM state_metrics ORDER BY state, ordinal`)
	if err != nil {
		return fmt.Errorf("query state_metrics: %w", err)
	}
	for metricRows.Next() {
		var state, metric string
		if err := metricRows.Scan(&state, &metric); err != nil {
			metricRows.Close()
			return fmt.Errorf("scan state_metrics: %w", err)
		}
		ts, ok := snap.States[state]
		if !ok {
			ts = &domain.StateTimeSeries{State: state, Values: make(map[domain.Metric][]float64)}
			snap.States[state] = ts
		}
		ts.Metrics = append(ts.Metrics, domain.Metric(metric))
	}
	metricRows.Close()
	if err := metricRows.Err(); err != nil {
		return err
	}

	rows, err := db.QueryContext(ctx, `SELECT state, metric, date, value FROM series ORDER BY state, metric, date`)
	if err != nil {
		return fmt.Errorf("query series: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var state, metric, rawDate string
		var value float64
		if err := rows.Scan(&state, &metric, &rawDate, &value); err != nil {
			return fmt.Errorf("scan series: %w", err)
		}
		ts, ok := snap.States[state]
		if !ok {
			return fmt.Errorf("series row for unlisted state %s", state)
		}
		m := domain.Metric(metric)
		ts.Values[m] = append(ts.Values[m], value)
		if len(ts.Metrics) > 0 && m == ts.Metrics[0] {
			d, err := time.Parse(dateLayout, rawDate)
			if err != nil {
				return fmt.Errorf("parse date %q: %w", rawDate, err)
			}
			ts.Dates = append(ts.Dates, d)
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for code, ts := range snap.States {
		for _, m := range ts.Metrics {
			if len(ts.Values[m]) != len(ts.Dates) {
				return fmt.Errorf("state %s metric %s: %d values for %d dates", code, m, len(ts.Values[m]), len(ts.Dates))
			}
		}
	}
	return nil
}
