package source

import (
	"bytes"
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/covid-state-etl/internal/domain"
)

func fixture(t *testing.T, name string) []byte {
	t.Helper()
	data, err := os.ReadFile(filepath.Join("testdata", name))
	require.NoError(t, err)
	return data
}

func utc(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// fakeFetcher serves fixture bytes keyed by location.
type fakeFetcher struct {
	files map[string][]byte
	pages map[string][][]byte
	err   error
	calls []string
}

func (f *fakeFetcher) Fetch(_ context.Context, name, location string) ([]byte, error) {
	f.calls = append(f.calls, name)
	if f.err != nil {
		return nil, f.err
	}
	data, ok := f.files[location]
	if !ok {
		return nil, &domain.NotFoundError{Kind: "file", Key: location}
	}
	return data, nil
}

func (f *fakeFetcher) FetchPages(_ context.Context, name, location string, _ int) ([][]byte, error) {
	f.calls = append(f.calls, name)
	if f.err != nil {
		return nil, f.err
	}
	return f.pages[location], nil
}

func TestReadTable_SchemaMismatch(t *testing.T) {
	_, err := readTable("test", []byte("a,b\n1,2\n"), "a", "c", "d")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrSchemaMismatch)

	var sm *domain.SchemaMismatchError
	require.True(t, errors.As(err, &sm))
	assert.Equal(t, "test", sm.Source)
	assert.Equal(t, []string{"c", "d"}, sm.Missing)
}

func TestReadTable_EmptyInputIsMismatch(t *testing.T) {
	_, err := readTable("test", nil, "a")
	assert.ErrorIs(t, err, domain.ErrSchemaMismatch)
}

func TestReadTable_StripsBOMAndHeaderSpace(t *testing.T) {
	data := append([]byte{0xEF, 0xBB, 0xBF}, []byte("State , Abbreviation\nTexas,TX\n")...)
	tbl, err := readTable("test", data, "State", "Abbreviation")
	require.NoError(t, err)
	require.Len(t, tbl.rows, 1)
	assert.Equal(t, "TX", tbl.get(tbl.rows[0], "Abbreviation"))
}

func TestParseReference(t *testing.T) {
	abbrevs, err := ParseAbbreviations(fixture(t, "abbreviations.csv"))
	require.NoError(t, err)
	require.Len(t, abbrevs, 7)
	assert.Equal(t, domain.ReferenceRow{Name: "New York", Code: "NY"}, abbrevs[0])

	pop, err := ParsePopulation(fixture(t, "population.csv"))
	require.NoError(t, err)
	assert.NotContains(t, pop, "United States")
	assert.NotContains(t, pop, "Northeast Region")
	assert.Equal(t, int64(19453561), pop["New York"])

	merged := MergeReference(abbrevs, pop)
	require.Len(t, merged, 7)
	assert.Equal(t, int64(39512223), merged[1].Population)
	assert.Equal(t, "PR", merged[6].Code)
	assert.Zero(t, merged[6].Population, "no census row leaves population unset")
	assert.Zero(t, abbrevs[0].Population, "merge does not mutate its input")

	_, err = domain.NewResolver(merged)
	require.NoError(t, err)
}

func TestParsePopulation_BadNumber(t *testing.T) {
	_, err := ParsePopulation([]byte("STATE,NAME,POPESTIMATE2019\n36,New York,lots\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 2")
	assert.Contains(t, err.Error(), "POPESTIMATE2019")
}

func TestParseLineList(t *testing.T) {
	obs, err := ParseLineList(fixture(t, "line_list.csv"))
	require.NoError(t, err)
	require.Len(t, obs, 5)

	assert.Equal(t, domain.RawObservation{
		Region:   "US",
		Province: "New York",
		Date:     utc(2020, time.March, 1),
		Values:   map[domain.Metric]float64{domain.Confirmed: 10, domain.Deaths: 0, domain.Recovered: 0},
	}, obs[0])

	assert.Equal(t, "New York City,NY", obs[1].Province)
	assert.NotContains(t, obs[1].Values, domain.Recovered, "empty cell is omitted")
	assert.Equal(t, "Italy", obs[2].Region)
}

func TestParseLineList_DatesAreExplicit(t *testing.T) {
	// 03/04 is March 4, never April 3.
	data := []byte("ObservationDate,Province/State,Country/Region,Confirmed,Deaths,Recovered\n03/04/2020,Texas,US,1,0,0\n")
	obs, err := ParseLineList(data)
	require.NoError(t, err)
	assert.Equal(t, utc(2020, time.March, 4), obs[0].Date)

	_, err = ParseLineList([]byte("ObservationDate,Province/State,Country/Region,Confirmed,Deaths,Recovered\n2020-03-04,Texas,US,1,0,0\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ObservationDate")
}

func TestParseLineList_MissingColumns(t *testing.T) {
	_, err := ParseLineList([]byte("ObservationDate,Province/State,Country/Region,Confirmed\n"))
	var sm *domain.SchemaMismatchError
	require.True(t, errors.As(err, &sm))
	assert.Equal(t, []string{"Deaths", "Recovered"}, sm.Missing)
}

func TestParseWideTimeSeries(t *testing.T) {
	wt, err := ParseWideTimeSeries(NameCases, domain.Confirmed, fixture(t, "confirmed_wide.csv"))
	require.NoError(t, err)

	assert.Equal(t, domain.Confirmed, wt.Metric)
	assert.Equal(t, []time.Time{utc(2020, time.January, 22), utc(2020, time.January, 23), utc(2020, time.January, 24)}, wt.Dates)
	require.Len(t, wt.Rows, 3)
	assert.Equal(t, "New York", wt.Rows[1].Province)
	assert.Equal(t, "US", wt.Rows[1].Region)
	assert.Equal(t, 1.0, wt.Rows[1].Values[1])
	assert.True(t, math.IsNaN(wt.Rows[1].Values[2]))
}

func TestParseWideTimeSeries_NoDateColumns(t *testing.T) {
	_, err := ParseWideTimeSeries(NameDeaths, domain.Deaths, []byte("Province_State,Country_Region,Population\nTexas,US,1\n"))
	assert.ErrorIs(t, err, domain.ErrSchemaMismatch)
}

func TestParseIsIdempotent(t *testing.T) {
	data := fixture(t, "confirmed_wide.csv")
	first, err := ParseWideTimeSeries(NameCases, domain.Confirmed, data)
	require.NoError(t, err)
	second, err := ParseWideTimeSeries(NameCases, domain.Confirmed, data)
	require.NoError(t, err)

	if diff := cmp.Diff(first, second, cmpopts.EquateNaNs()); diff != "" {
		t.Errorf("reparse differs (-first +second):\n%s", diff)
	}
}

func TestParseHospitalPages(t *testing.T) {
	hc, err := ParseHospitalPages([][]byte{fixture(t, "hospital_page1.csv"), fixture(t, "hospital_page2.csv")})
	require.NoError(t, err)

	assert.Equal(t, []domain.Metric{
		"inpatient_beds_utilization",
		"inpatient_beds_utilization_coverage",
		"adult_icu_bed_utilization",
	}, hc.Metrics)

	require.Len(t, hc.Observations, 3, "duplicate (state, date) keeps the first row")
	assert.Equal(t, "NY", hc.Observations[0].Province)
	assert.Equal(t, 0.61, hc.Observations[0].Values["inpatient_beds_utilization"])
	assert.NotContains(t, hc.Observations[1].Values, domain.Metric("adult_icu_bed_utilization"))
	assert.Equal(t, utc(2020, time.July, 28), hc.Observations[2].Date)
	assert.NotContains(t, hc.Observations[0].Values, domain.Metric("total_staffed_adult_icu_beds"))
}

func TestParseHospitalPages_NoUtilizationColumns(t *testing.T) {
	_, err := ParseHospitalPages([][]byte{[]byte("state,date,total_beds\nNY,2020/07/26,10\n")})
	assert.ErrorIs(t, err, domain.ErrSchemaMismatch)
}

func TestReferenceLoader(t *testing.T) {
	f := &fakeFetcher{files: map[string][]byte{
		"abbrev.csv": fixture(t, "abbreviations.csv"),
		"pop.csv":    fixture(t, "population.csv"),
	}}

	rows, err := NewReferenceLoader(f, "abbrev.csv", "pop.csv").Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(705749), rows[4].Population)
	assert.Equal(t, []string{NameAbbreviations, NamePopulation}, f.calls)

	f.calls = nil
	rows, err = NewReferenceLoader(f, "abbrev.csv", "").Load(context.Background())
	require.NoError(t, err)
	assert.Zero(t, rows[0].Population)
	assert.Equal(t, []string{NameAbbreviations}, f.calls)
}

func TestLoaders_PropagateFetchErrors(t *testing.T) {
	netErr := errors.Join(domain.ErrNetworkFailure, errors.New("connection reset"))
	f := &fakeFetcher{err: netErr}
	ctx := context.Background()

	_, err := NewReferenceLoader(f, "a", "b").Load(ctx)
	assert.ErrorIs(t, err, domain.ErrNetworkFailure)

	loaders := []Loader{
		NewLineListLoader(f, "x", "covid_19_data.csv"),
		NewWideSeriesLoader(f, NameCases, domain.Confirmed, "x"),
		NewHospitalLoader(f, "x", 1000),
	}
	for _, l := range loaders {
		_, err := l.Load(ctx)
		assert.ErrorIs(t, err, domain.ErrNetworkFailure, l.Name())
	}
}

func TestWideSeriesLoader(t *testing.T) {
	f := &fakeFetcher{files: map[string][]byte{"deaths.csv": fixture(t, "confirmed_wide.csv")}}

	b, err := NewWideSeriesLoader(f, NameDeaths, domain.Deaths, "deaths.csv").Load(context.Background())
	require.NoError(t, err)

	assert.Equal(t, NameDeaths, b.Source)
	assert.Equal(t, domain.CumulativeSpecs(domain.Deaths), b.Specs)
	assert.Len(t, b.Observations, 8, "nine cells minus one empty")
	for _, o := range b.Observations {
		assert.Contains(t, o.Values, domain.Deaths)
	}
}

func TestHospitalLoader(t *testing.T) {
	f := &fakeFetcher{pages: map[string][][]byte{
		"hosp": {fixture(t, "hospital_page1.csv"), fixture(t, "hospital_page2.csv")},
	}}

	b, err := NewHospitalLoader(f, "hosp", 1000).Load(context.Background())
	require.NoError(t, err)

	assert.Equal(t, NameHospital, b.Source)
	require.Len(t, b.Specs, 3)
	for _, s := range b.Specs {
		assert.Equal(t, domain.FillLevel, s.Policy)
	}
	assert.Len(t, b.Observations, 3)
}

func TestLineListLoader_Zip(t *testing.T) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("novel-corona-virus-2019-dataset/covid_19_data.csv")
	require.NoError(t, err)
	_, err = w.Write(fixture(t, "line_list.csv"))
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	f := &fakeFetcher{files: map[string][]byte{
		"dataset.zip": buf.Bytes(),
		"plain.csv":   fixture(t, "line_list.csv"),
	}}

	zipped, err := NewLineListLoader(f, "dataset.zip", "covid_19_data.csv").Load(context.Background())
	require.NoError(t, err)
	plain, err := NewLineListLoader(f, "plain.csv", "covid_19_data.csv").Load(context.Background())
	require.NoError(t, err)

	assert.Equal(t, plain, zipped)
	assert.Len(t, zipped.Observations, 5)
	assert.Equal(t, domain.CumulativeSpecs(domain.Confirmed, domain.Deaths, domain.Recovered), zipped.Specs)

	_, err = NewLineListLoader(f, "dataset.zip", "other.csv").Load(context.Background())
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
