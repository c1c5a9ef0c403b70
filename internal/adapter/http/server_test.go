package http_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	httpadapter "github.com/couchcryptid/covid-state-etl/internal/adapter/http"
	"github.com/couchcryptid/covid-state-etl/internal/domain"
	"github.com/couchcryptid/covid-state-etl/internal/observability"
	"github.com/couchcryptid/covid-state-etl/internal/query"
	"github.com/couchcryptid/covid-state-etl/internal/store"
)

type mockReadiness struct {
	err error
}

func (m *mockReadiness) CheckReadiness(_ context.Context) error { return m.err }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestServer(readyErr error) *httpadapter.Server {
	return httpadapter.NewServer(":0", &mockReadiness{err: readyErr}, nil, testLogger())
}

func testSnapshot(t *testing.T) *domain.Snapshot {
	t.Helper()
	ref, err := domain.NewResolver([]domain.ReferenceRow{
		{Name: "New York", Code: "NY", Population: 19450000},
		{Name: "California", Code: "CA", Population: 39510000},
		{Name: "Puerto Rico", Code: "PR"},
	})
	require.NoError(t, err)

	d1 := time.Date(2020, 3, 1, 0, 0, 0, 0, time.UTC)
	dates := []time.Time{d1, d1.AddDate(0, 0, 1), d1.AddDate(0, 0, 2)}
	return &domain.Snapshot{
		ID:      "snap-1",
		BuiltAt: time.Date(2020, 4, 1, 0, 0, 0, 0, time.UTC),
		States: map[string]*domain.StateTimeSeries{
			"NY": {State: "NY", Dates: dates, Metrics: []domain.Metric{domain.Confirmed},
				Values: map[domain.Metric][]float64{domain.Confirmed: {10, 15, 22}}},
			"CA": {State: "CA", Dates: dates, Metrics: []domain.Metric{domain.Confirmed},
				Values: map[domain.Metric][]float64{domain.Confirmed: {10, 15, 22}}},
			"PR": {State: "PR", Dates: dates[2:], Metrics: []domain.Metric{domain.Confirmed},
				Values: map[domain.Metric][]float64{domain.Confirmed: {4}}},
		},
		Reference: ref,
		Rejections: domain.NewRejectionReport([]domain.Rejection{
			{Source: "line_list", Region: "Italy", Province: "Lombardy", Reason: domain.ReasonForeignRegion},
		}),
	}
}

func newAPIServer(t *testing.T, snap *domain.Snapshot) *httpadapter.Server {
	t.Helper()
	st := store.New()
	if snap != nil {
		st.Swap(snap)
	}
	engine := query.NewEngine(st, query.NewLRUCache(16), observability.NewMetricsForTesting(), testLogger())
	api := httpadapter.NewAPI(engine, st, testLogger())
	return httpadapter.NewServer(":0", &mockReadiness{}, api, testLogger())
}

func do(srv http.Handler, method, target, body string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, r)
	srv.ServeHTTP(rec, req)
	return rec
}

// --- operational endpoints ---

func TestHealthzReturns200(t *testing.T) {
	srv := newTestServer(nil)
	rec := do(srv, http.MethodGet, "/healthz", "")

	assert.Equal(t, http.StatusOK, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
}

func TestReadyzReturns200WhenReady(t *testing.T) {
	srv := newTestServer(nil)
	rec := do(srv, http.MethodGet, "/readyz", "")

	assert.Equal(t, http.StatusOK, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ready", body["status"])
}

func TestReadyzReturns503WhenNotReady(t *testing.T) {
	srv := newTestServer(fmt.Errorf("not ready yet"))
	rec := do(srv, http.MethodGet, "/readyz", "")

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "not ready", body["status"])
	assert.Equal(t, "not ready yet", body["error"])
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newTestServer(nil)
	rec := do(srv, http.MethodGet, "/metrics", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestAPINotMountedWithoutHandlers(t *testing.T) {
	srv := newTestServer(nil)
	rec := do(srv, http.MethodGet, "/api/v1/states", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// --- API ---

func TestQueryGet_NewMode(t *testing.T) {
	srv := newAPIServer(t, testSnapshot(t))
	rec := do(srv, http.MethodGet, "/api/v1/query?states=NY&states=CA&metric=Confirmed&mode=new", "")

	require.Equal(t, http.StatusOK, rec.Code)

	var res query.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, "snap-1", res.SnapshotID)
	assert.Equal(t, "new", res.Mode)
	require.Len(t, res.Rows, 6)
	assert.Equal(t, "CA", res.Rows[0].State)
	assert.Equal(t, 0.0, res.Rows[0].Value)
	assert.Equal(t, "NY - Confirmed", res.Rows[5].Label)
	assert.Equal(t, 7.0, res.Rows[5].Value)
	assert.Empty(t, res.Issues)
}

func TestQueryGet_CommaSeparatedStates(t *testing.T) {
	srv := newAPIServer(t, testSnapshot(t))
	rec := do(srv, http.MethodGet, "/api/v1/query?states=ny,ca&metric=Confirmed", "")

	require.Equal(t, http.StatusOK, rec.Code)
	var res query.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Len(t, res.Rows, 6)
}

func TestQueryGet_UnknownStateIsReportedNotFailed(t *testing.T) {
	srv := newAPIServer(t, testSnapshot(t))
	rec := do(srv, http.MethodGet, "/api/v1/query?states=NY&states=ZZ&metric=Confirmed", "")

	require.Equal(t, http.StatusOK, rec.Code)
	var res query.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Len(t, res.Rows, 3)
	require.Len(t, res.Issues, 1)
	assert.Equal(t, query.IssueNotFound, res.Issues[0].Kind)
	assert.Equal(t, "ZZ", res.Issues[0].State)
}

func TestQueryGet_InvalidMode(t *testing.T) {
	srv := newAPIServer(t, testSnapshot(t))
	rec := do(srv, http.MethodGet, "/api/v1/query?states=NY&metric=Confirmed&mode=weekly", "")

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid query")
}

func TestQueryGet_MissingSelection(t *testing.T) {
	srv := newAPIServer(t, testSnapshot(t))
	rec := do(srv, http.MethodGet, "/api/v1/query?metric=Confirmed", "")

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestQueryPost_PerCapita(t *testing.T) {
	srv := newAPIServer(t, testSnapshot(t))
	rec := do(srv, http.MethodPost, "/api/v1/query",
		`{"states":["NY","PR"],"metrics":["Confirmed Per Capita"],"mode":"cumulative"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	var res query.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	require.Len(t, res.Rows, 3)
	assert.Equal(t, 10.0/19450000, res.Rows[0].Value)
	require.Len(t, res.Issues, 1)
	assert.Equal(t, query.IssueMissingReference, res.Issues[0].Kind)
	assert.Equal(t, "PR", res.Issues[0].State)
}

func TestQueryPost_ScalarStatesRejected(t *testing.T) {
	srv := newAPIServer(t, testSnapshot(t))
	rec := do(srv, http.MethodPost, "/api/v1/query", `{"states":"NY","metrics":["Confirmed"]}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Contains(t, body["error"], `field "states" must be a []string`)
}

func TestQueryPost_MalformedBody(t *testing.T) {
	srv := newAPIServer(t, testSnapshot(t))

	rec := do(srv, http.MethodPost, "/api/v1/query", `{"states":["NY"]`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(srv, http.MethodPost, "/api/v1/query", `{"states":["NY"],"metrics":["Confirmed"],"extra":1}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestQuery_NoSnapshotYet(t *testing.T) {
	srv := newAPIServer(t, nil)

	rec := do(srv, http.MethodGet, "/api/v1/query?states=NY&metric=Confirmed", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = do(srv, http.MethodGet, "/api/v1/states", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestStates(t *testing.T) {
	srv := newAPIServer(t, testSnapshot(t))
	rec := do(srv, http.MethodGet, "/api/v1/states", "")

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		SnapshotID string `json:"snapshot_id"`
		States     []struct {
			Code       string   `json:"code"`
			Name       string   `json:"name"`
			Population int64    `json:"population"`
			Days       int      `json:"days"`
			Metrics    []string `json:"metrics"`
		} `json:"states"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "snap-1", body.SnapshotID)
	require.Len(t, body.States, 3)
	assert.Equal(t, "CA", body.States[0].Code)
	assert.Equal(t, "New York", body.States[1].Name)
	assert.Equal(t, int64(19450000), body.States[1].Population)
	assert.Equal(t, 3, body.States[1].Days)
	assert.Equal(t, 1, body.States[2].Days)
	assert.Equal(t, []string{"Confirmed"}, body.States[2].Metrics)
}

func TestMetrics(t *testing.T) {
	srv := newAPIServer(t, testSnapshot(t))
	rec := do(srv, http.MethodGet, "/api/v1/metrics", "")

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string][]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, []string{"Confirmed", "Confirmed Per Capita"}, body["metrics"])
}

func TestChart(t *testing.T) {
	srv := newAPIServer(t, testSnapshot(t))
	rec := do(srv, http.MethodGet, "/api/v1/chart?states=NY&states=ZZ&metric=Confirmed&mode=new", "")

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Figure struct {
			Title  string `json:"title"`
			Series []struct {
				Name string    `json:"name"`
				X    []string  `json:"x"`
				Y    []float64 `json:"y"`
			} `json:"series"`
		} `json:"figure"`
		Issues []query.Issue `json:"issues"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "Coronavirus Cases by State - New Cases", body.Figure.Title)
	require.Len(t, body.Figure.Series, 1)
	assert.Equal(t, "NY - Confirmed", body.Figure.Series[0].Name)
	assert.Equal(t, []string{"2020-03-01", "2020-03-02", "2020-03-03"}, body.Figure.Series[0].X)
	assert.Equal(t, []float64{0, 5, 7}, body.Figure.Series[0].Y)
	assert.Len(t, body.Issues, 1)
}

func TestRejections(t *testing.T) {
	srv := newAPIServer(t, testSnapshot(t))
	rec := do(srv, http.MethodGet, "/api/v1/rejections", "")

	require.Equal(t, http.StatusOK, rec.Code)
	var report domain.RejectionReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, 1, report.Total)
	assert.Equal(t, 1, report.ByReason[domain.ReasonForeignRegion])
	require.Len(t, report.Samples, 1)
	assert.Equal(t, "Lombardy", report.Samples[0].Province)
}
