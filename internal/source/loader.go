package source

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"

	"github.com/klauspost/compress/zip"

	"github.com/couchcryptid/covid-state-etl/internal/domain"
)

// Source names used in logs, metrics, and rejection reports.
const (
	NameAbbreviations = "abbreviations"
	NamePopulation    = "population"
	NameLineList      = "line_list"
	NameCases         = "cases"
	NameDeaths        = "deaths"
	NameHospital      = "hospital"
)

// Fetcher retrieves the raw bytes of a feed from a URL or local path.
type Fetcher interface {
	Fetch(ctx context.Context, name, location string) ([]byte, error)
}

// PagedFetcher retrieves a feed published in fixed-size pages.
type PagedFetcher interface {
	FetchPages(ctx context.Context, name, location string, pageSize int) ([][]byte, error)
}

// Batch is one source's parsed observations plus the metrics it contributes.
type Batch struct {
	Source       string
	Observations []domain.RawObservation
	Specs        []domain.MetricSpec
}

// Loader produces one observation batch per refresh.
type Loader interface {
	Name() string
	Load(ctx context.Context) (Batch, error)
}

// ReferenceLoader fetches the abbreviation and population tables and merges them.
type ReferenceLoader struct {
	fetcher       Fetcher
	abbreviations string
	population    string
}

// NewReferenceLoader creates a ReferenceLoader. An empty population location
// leaves every population at zero.
func NewReferenceLoader(f Fetcher, abbreviations, population string) *ReferenceLoader {
	return &ReferenceLoader{fetcher: f, abbreviations: abbreviations, population: population}
}

// Load returns the merged reference rows.
func (l *ReferenceLoader) Load(ctx context.Context) ([]domain.ReferenceRow, error) {
	data, err := l.fetcher.Fetch(ctx, NameAbbreviations, l.abbreviations)
	if err != nil {
		return nil, err
	}
	rows, err := ParseAbbreviations(data)
	if err != nil {
		return nil, err
	}
	if l.population == "" {
		return rows, nil
	}

	data, err = l.fetcher.Fetch(ctx, NamePopulation, l.population)
	if err != nil {
		return nil, err
	}
	pop, err := ParsePopulation(data)
	if err != nil {
		return nil, err
	}
	return MergeReference(rows, pop), nil
}

// LineListLoader loads the global line list, either as a CSV or as a member of
// a zip archive.
type LineListLoader struct {
	fetcher  Fetcher
	location string
	member   string
}

// NewLineListLoader creates a LineListLoader. member names the CSV inside the
// archive when the feed is zipped.
func NewLineListLoader(f Fetcher, location, member string) *LineListLoader {
	return &LineListLoader{fetcher: f, location: location, member: member}
}

func (l *LineListLoader) Name() string { return NameLineList }

func (l *LineListLoader) Load(ctx context.Context) (Batch, error) {
	data, err := l.fetcher.Fetch(ctx, NameLineList, l.location)
	if err != nil {
		return Batch{}, err
	}
	if isZip(data) {
		data, err = zipMember(data, l.member)
		if err != nil {
			return Batch{}, fmt.Errorf("line list archive: %w", err)
		}
	}
	obs, err := ParseLineList(data)
	if err != nil {
		return Batch{}, err
	}
	return Batch{
		Source:       NameLineList,
		Observations: obs,
		Specs:        domain.CumulativeSpecs(lineListMetrics...),
	}, nil
}

// WideSeriesLoader loads one JHU CSSE wide time-series feed and melts it.
type WideSeriesLoader struct {
	name     string
	metric   domain.Metric
	fetcher  Fetcher
	location string
}

// NewWideSeriesLoader creates a loader for a single-metric wide feed.
func NewWideSeriesLoader(f Fetcher, name string, metric domain.Metric, location string) *WideSeriesLoader {
	return &WideSeriesLoader{name: name, metric: metric, fetcher: f, location: location}
}

func (l *WideSeriesLoader) Name() string { return l.name }

func (l *WideSeriesLoader) Load(ctx context.Context) (Batch, error) {
	data, err := l.fetcher.Fetch(ctx, l.name, l.location)
	if err != nil {
		return Batch{}, err
	}
	wt, err := ParseWideTimeSeries(l.name, l.metric, data)
	if err != nil {
		return Batch{}, err
	}
	return Batch{
		Source:       l.name,
		Observations: domain.Melt(wt),
		Specs:        domain.CumulativeSpecs(l.metric),
	}, nil
}

// HospitalLoader loads the paged hospital utilization feed.
type HospitalLoader struct {
	fetcher  PagedFetcher
	location string
	pageSize int
}

// NewHospitalLoader creates a HospitalLoader.
func NewHospitalLoader(f PagedFetcher, location string, pageSize int) *HospitalLoader {
	return &HospitalLoader{fetcher: f, location: location, pageSize: pageSize}
}

func (l *HospitalLoader) Name() string { return NameHospital }

func (l *HospitalLoader) Load(ctx context.Context) (Batch, error) {
	pages, err := l.fetcher.FetchPages(ctx, NameHospital, l.location, l.pageSize)
	if err != nil {
		return Batch{}, err
	}
	hc, err := ParseHospitalPages(pages)
	if err != nil {
		return Batch{}, err
	}
	specs := make([]domain.MetricSpec, len(hc.Metrics))
	for i, m := range hc.Metrics {
		specs[i] = domain.MetricSpec{Name: m, Policy: domain.FillLevel}
	}
	return Batch{Source: NameHospital, Observations: hc.Observations, Specs: specs}, nil
}

var zipMagic = []byte("PK\x03\x04")

func isZip(data []byte) bool { return bytes.HasPrefix(data, zipMagic) }

// zipMember returns the contents of the archive entry whose base name is member.
func zipMember(data []byte, member string) ([]byte, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("open zip: %w", err)
	}
	for _, f := range zr.File {
		if path.Base(f.Name) != member {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", f.Name, err)
		}
		defer rc.Close()
		return io.ReadAll(rc)
	}
	return nil, &domain.NotFoundError{Kind: "archive member", Key: member}
}
