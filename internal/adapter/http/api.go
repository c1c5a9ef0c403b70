package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"time"

	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/couchcryptid/covid-state-etl/internal/chart"
	"github.com/couchcryptid/covid-state-etl/internal/domain"
	"github.com/couchcryptid/covid-state-etl/internal/query"
)

// maxQueryBody bounds POST /query payloads.
const maxQueryBody = 1 << 20

// Querier answers state/metric selections.
type Querier interface {
	Query(ctx context.Context, req query.Request) (*query.Result, error)
}

// API serves the snapshot over REST.
type API struct {
	querier  Querier
	snapshot query.SnapshotSource
	logger   *slog.Logger
}

// NewAPI creates the /api/v1 handlers.
func NewAPI(q Querier, snapshot query.SnapshotSource, logger *slog.Logger) *API {
	return &API{querier: q, snapshot: snapshot, logger: logger}
}

// Routes returns the API router, to be mounted under /api/v1.
func (a *API) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Timeout(20 * time.Second))
	r.Get("/states", a.handleStates)
	r.Get("/metrics", a.handleMetrics)
	r.Get("/query", a.handleQueryGet)
	r.Post("/query", a.handleQueryPost)
	r.Get("/chart", a.handleChart)
	r.Get("/rejections", a.handleRejections)
	return r
}

type stateInfo struct {
	Code       string    `json:"code"`
	Name       string    `json:"name,omitempty"`
	Population int64     `json:"population"`
	Start      time.Time `json:"start"`
	End        time.Time `json:"end"`
	Days       int       `json:"days"`
	Metrics    []string  `json:"metrics"`
}

func (a *API) handleStates(w http.ResponseWriter, _ *http.Request) {
	snap, ok := a.current(w)
	if !ok {
		return
	}
	out := make([]stateInfo, 0, len(snap.States))
	for _, code := range snap.StateCodes() {
		ts := snap.States[code]
		info := stateInfo{Code: code, Start: ts.Start(), End: ts.End(), Days: ts.Len(), Metrics: make([]string, len(ts.Metrics))}
		for i, m := range ts.Metrics {
			info.Metrics[i] = string(m)
		}
		if snap.Reference != nil {
			if row, found := snap.Reference.Lookup(code); found {
				info.Name, info.Population = row.Name, row.Population
			}
		}
		out = append(out, info)
	}
	sharedobs.WriteJSON(w, http.StatusOK, map[string]any{"snapshot_id": snap.ID, "built_at": snap.BuiltAt, "states": out})
}

func (a *API) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	snap, ok := a.current(w)
	if !ok {
		return
	}
	names := snap.MetricNames()
	out := make([]string, 0, 2*len(names))
	for _, m := range names {
		out = append(out, string(m))
	}
	for _, m := range names {
		out = append(out, string(m)+query.PerCapitaSuffix)
	}
	sharedobs.WriteJSON(w, http.StatusOK, map[string]any{"metrics": out})
}

func (a *API) handleRejections(w http.ResponseWriter, _ *http.Request) {
	snap, ok := a.current(w)
	if !ok {
		return
	}
	sharedobs.WriteJSON(w, http.StatusOK, snap.Rejections)
}

func (a *API) handleQueryGet(w http.ResponseWriter, r *http.Request) {
	req, err := requestFromURL(r)
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.serveQuery(w, r, req)
}

// queryBody is the POST payload. States and metrics must be JSON arrays; a
// bare string is rejected by the decoder.
type queryBody struct {
	States  []string `json:"states"`
	Metrics []string `json:"metrics"`
	Mode    string   `json:"mode"`
}

func (a *API) handleQueryPost(w http.ResponseWriter, r *http.Request) {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxQueryBody))
	dec.DisallowUnknownFields()

	var body queryBody
	if err := dec.Decode(&body); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			err = fmt.Errorf("%w: field %q must be a %s", domain.ErrInvalidQuery, typeErr.Field, typeErr.Type)
		} else {
			err = fmt.Errorf("%w: decode body: %w", domain.ErrInvalidQuery, err)
		}
		a.writeError(w, err)
		return
	}

	mode, err := query.ParseMode(body.Mode)
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.serveQuery(w, r, query.Request{States: body.States, Metrics: body.Metrics, Mode: mode})
}

func (a *API) serveQuery(w http.ResponseWriter, r *http.Request, req query.Request) {
	res, err := a.querier.Query(r.Context(), req)
	if err != nil {
		a.writeError(w, err)
		return
	}
	sharedobs.WriteJSON(w, http.StatusOK, res)
}

type chartResponse struct {
	SnapshotID string        `json:"snapshot_id"`
	Figure     chart.Figure  `json:"figure"`
	Issues     []query.Issue `json:"issues,omitempty"`
}

func (a *API) handleChart(w http.ResponseWriter, r *http.Request) {
	req, err := requestFromURL(r)
	if err != nil {
		a.writeError(w, err)
		return
	}
	res, err := a.querier.Query(r.Context(), req)
	if err != nil {
		a.writeError(w, err)
		return
	}
	sharedobs.WriteJSON(w, http.StatusOK, chartResponse{
		SnapshotID: res.SnapshotID,
		Figure:     chart.Build(res),
		Issues:     res.Issues,
	})
}

// requestFromURL reads repeated or comma-separated states and metric
// parameters plus an optional mode.
func requestFromURL(r *http.Request) (query.Request, error) {
	q := r.URL.Query()
	mode, err := query.ParseMode(q.Get("mode"))
	if err != nil {
		return query.Request{}, err
	}
	return query.Request{
		States:  splitParams(q["states"]),
		Metrics: slices.Concat(q["metric"], q["metrics"]),
		Mode:    mode,
	}, nil
}

// splitParams expands comma-separated values. Only states are split; metric
// names are taken verbatim.
func splitParams(values []string) []string {
	var out []string
	for _, v := range values {
		out = append(out, strings.Split(v, ",")...)
	}
	return out
}

func (a *API) current(w http.ResponseWriter) (*domain.Snapshot, bool) {
	snap := a.snapshot.Current()
	if snap == nil {
		a.writeError(w, query.ErrNoSnapshot)
		return nil, false
	}
	return snap, true
}

func (a *API) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrInvalidQuery):
		status = http.StatusBadRequest
	case errors.Is(err, query.ErrNoSnapshot):
		status = http.StatusServiceUnavailable
	default:
		a.logger.Error("api request failed", "error", err)
	}
	sharedobs.WriteJSON(w, status, map[string]string{"error": err.Error()})
}
