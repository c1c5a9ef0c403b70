// Package query answers state/metric selections against the committed snapshot.
package query

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/couchcryptid/covid-state-etl/internal/domain"
	"github.com/couchcryptid/covid-state-etl/internal/observability"
)

// PerCapitaSuffix marks a metric name as the per-capita variant of its base metric.
const PerCapitaSuffix = " Per Capita"

// ErrNoSnapshot is returned until the first refresh has been committed.
var ErrNoSnapshot = errors.New("no snapshot committed yet")

// Mode selects running totals or daily deltas.
type Mode int

const (
	Cumulative Mode = iota
	New
)

func (m Mode) String() string {
	if m == New {
		return "new"
	}
	return "cumulative"
}

// ParseMode reads "cumulative" (default) or "new".
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "cumulative":
		return Cumulative, nil
	case "new":
		return New, nil
	default:
		return 0, fmt.Errorf("%w: unknown mode %q", domain.ErrInvalidQuery, s)
	}
}

// Request selects states and metrics. Both lists are required.
type Request struct {
	States  []string
	Metrics []string
	Mode    Mode
}

// Row is one (date, state, metric) cell of the long-form result.
type Row struct {
	Date   time.Time `json:"date"`
	State  string    `json:"state"`
	Metric string    `json:"metric"`
	Label  string    `json:"label"`
	Value  float64   `json:"value"`
}

// Issue kinds.
const (
	IssueNotFound         = "not_found"
	IssueMissingReference = "missing_reference"
)

// Issue reports a selection that produced no data. It unwraps to
// domain.ErrNotFound or domain.ErrMissingReference.
type Issue struct {
	Kind    string `json:"kind"`
	State   string `json:"state,omitempty"`
	Metric  string `json:"metric,omitempty"`
	Message string `json:"message"`
}

func (i Issue) Error() string { return i.Message }

func (i Issue) Unwrap() error {
	if i.Kind == IssueMissingReference {
		return domain.ErrMissingReference
	}
	return domain.ErrNotFound
}

func newIssue(kind, state, metric string, err error) Issue {
	return Issue{Kind: kind, State: state, Metric: metric, Message: err.Error()}
}

// Result is the long-form table for a request, ordered by date, then state,
// then metric. Selections that could not be served are listed in Issues.
type Result struct {
	SnapshotID string  `json:"snapshot_id"`
	Mode       string  `json:"mode"`
	Rows       []Row   `json:"rows"`
	Issues     []Issue `json:"issues,omitempty"`
}

// SnapshotSource provides the committed snapshot.
type SnapshotSource interface {
	Current() *domain.Snapshot
}

// Cache stores results keyed by snapshot and selection.
type Cache interface {
	Get(ctx context.Context, key string) (*Result, bool)
	Set(ctx context.Context, key string, r *Result)
}

// Engine evaluates queries. It is safe for concurrent use.
type Engine struct {
	source  SnapshotSource
	cache   Cache
	metrics *observability.Metrics
	logger  *slog.Logger
}

// NewEngine creates an Engine. Pass a nil cache to disable result caching.
func NewEngine(source SnapshotSource, cache Cache, metrics *observability.Metrics, logger *slog.Logger) *Engine {
	return &Engine{source: source, cache: cache, metrics: metrics, logger: logger}
}

// Query returns the long-form table for req. Unknown states or metrics and
// per-capita requests without population data do not fail the query; they are
// reported in Result.Issues while valid selections still return rows.
func (e *Engine) Query(ctx context.Context, req Request) (*Result, error) {
	states := cleanList(req.States, strings.ToUpper)
	metrics := cleanList(req.Metrics, nil)
	if len(states) == 0 {
		e.metrics.Queries.WithLabelValues(req.Mode.String(), "error").Inc()
		return nil, fmt.Errorf("%w: no states selected", domain.ErrInvalidQuery)
	}
	if len(metrics) == 0 {
		e.metrics.Queries.WithLabelValues(req.Mode.String(), "error").Inc()
		return nil, fmt.Errorf("%w: no metrics selected", domain.ErrInvalidQuery)
	}

	snap := e.source.Current()
	if snap == nil {
		e.metrics.Queries.WithLabelValues(req.Mode.String(), "error").Inc()
		return nil, ErrNoSnapshot
	}

	key := cacheKey(snap.ID, req.Mode, states, metrics)
	if e.cache != nil {
		if r, ok := e.cache.Get(ctx, key); ok {
			e.metrics.QueryCache.WithLabelValues("hit").Inc()
			e.metrics.Queries.WithLabelValues(req.Mode.String(), outcome(r)).Inc()
			return r, nil
		}
		e.metrics.QueryCache.WithLabelValues("miss").Inc()
	}

	r := Evaluate(snap, states, metrics, req.Mode)
	if len(r.Issues) > 0 {
		e.logger.Debug("query selections unavailable", "issues", len(r.Issues), "snapshot_id", snap.ID)
	}
	e.metrics.Queries.WithLabelValues(req.Mode.String(), outcome(r)).Inc()

	if e.cache != nil {
		e.cache.Set(ctx, key, r)
	}
	return r, nil
}

// Evaluate computes a result directly against a snapshot without caching.
func Evaluate(snap *domain.Snapshot, states, metrics []string, mode Mode) *Result {
	r := &Result{SnapshotID: snap.ID, Mode: mode.String(), Rows: []Row{}}

	known := make(map[domain.Metric]bool)
	for _, m := range snap.MetricNames() {
		known[m] = true
	}
	for _, metric := range metrics {
		base, _ := strings.CutSuffix(metric, PerCapitaSuffix)
		if !known[domain.Metric(base)] {
			r.Issues = append(r.Issues, newIssue(IssueNotFound, "", metric, &domain.NotFoundError{Kind: "metric", Key: metric}))
		}
	}

	for _, code := range states {
		ts, ok := snap.States[code]
		if !ok {
			r.Issues = append(r.Issues, newIssue(IssueNotFound, code, "", &domain.NotFoundError{Kind: "state", Key: code}))
			continue
		}
		for _, metric := range metrics {
			base, perCapita := strings.CutSuffix(metric, PerCapitaSuffix)
			if !known[domain.Metric(base)] {
				continue
			}
			values, err := series(snap, ts, domain.Metric(base), perCapita, mode)
			if err != nil {
				kind := IssueNotFound
				if errors.Is(err, domain.ErrMissingReference) {
					kind = IssueMissingReference
				}
				r.Issues = append(r.Issues, newIssue(kind, code, metric, err))
				continue
			}
			label := code + " - " + metric
			for i, d := range ts.Dates {
				r.Rows = append(r.Rows, Row{Date: d, State: code, Metric: metric, Label: label, Value: values[i]})
			}
		}
	}

	slices.SortStableFunc(r.Rows, func(a, b Row) int {
		if c := a.Date.Compare(b.Date); c != 0 {
			return c
		}
		if c := strings.Compare(a.State, b.State); c != 0 {
			return c
		}
		return strings.Compare(a.Metric, b.Metric)
	})
	return r
}

// series returns one state's values for a metric in the requested mode. The
// stored column is never modified.
func series(snap *domain.Snapshot, ts *domain.StateTimeSeries, m domain.Metric, perCapita bool, mode Mode) ([]float64, error) {
	col, ok := ts.Column(m)
	if !ok {
		return nil, &domain.NotFoundError{Kind: "metric", Key: fmt.Sprintf("%s/%s", ts.State, m)}
	}

	var pop int64
	if perCapita {
		if snap.Reference == nil {
			return nil, &domain.MissingReferenceError{State: ts.State, Reason: "no reference table"}
		}
		var err error
		if pop, err = snap.Reference.Population(ts.State); err != nil {
			return nil, err
		}
	}

	var values []float64
	if mode == New {
		values = domain.Diff(col)
	} else {
		values = slices.Clone(col)
	}
	if perCapita {
		for i := range values {
			values[i] /= float64(pop)
		}
	}
	return values, nil
}

// cleanList trims, optionally transforms, drops empties, and de-duplicates.
func cleanList(in []string, transform func(string) string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]bool, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if transform != nil {
			s = transform(s)
		}
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

func cacheKey(snapshotID string, mode Mode, states, metrics []string) string {
	s := slices.Sorted(slices.Values(states))
	m := slices.Sorted(slices.Values(metrics))
	return fmt.Sprintf("%s|%s|%s|%s", snapshotID, mode, strings.Join(s, ","), strings.Join(m, ","))
}

func outcome(r *Result) string {
	switch {
	case len(r.Issues) == 0:
		return "success"
	case len(r.Rows) > 0:
		return "partial"
	default:
		return "empty"
	}
}
