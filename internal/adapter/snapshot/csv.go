// Package snapshot persists committed snapshots: one gzipped CSV per state and
// a single SQLite file that can be reloaded on startup.
package snapshot

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/couchcryptid/covid-state-etl/internal/domain"
)

const dateLayout = "2006-01-02"

// StateFileName returns the per-state artifact name, e.g. combined_data_NY.csv.gz.
func StateFileName(state string) string {
	return fmt.Sprintf("combined_data_%s.csv.gz", state)
}

// CSVWriter writes combined_data_<ST>.csv.gz files into a directory.
type CSVWriter struct {
	dir string
}

// NewCSVWriter creates a CSVWriter for dir.
func NewCSVWriter(dir string) *CSVWriter {
	return &CSVWriter{dir: dir}
}

func (w *CSVWriter) Name() string { return "state_csv" }

// Write emits one file per state. Each file is written to a temporary name and
// renamed into place.
func (w *CSVWriter) Write(ctx context.Context, snap *domain.Snapshot) error {
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	for _, code := range snap.StateCodes() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := writeStateFile(filepath.Join(w.dir, StateFileName(code)), snap.States[code]); err != nil {
			return fmt.Errorf("write %s: %w", code, err)
		}
	}
	return nil
}

func writeStateFile(path string, ts *domain.StateTimeSeries) (err error) {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			f.Close()
			os.Remove(tmp)
		}
	}()

	zw := gzip.NewWriter(f)
	if err = WriteStateCSV(zw, ts); err != nil {
		return err
	}
	if err = zw.Close(); err != nil {
		return fmt.Errorf("close gzip: %w", err)
	}
	if err = f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// WriteStateCSV writes a state's table as CSV: a date column followed by one
// column per metric in series order.
func WriteStateCSV(out io.Writer, ts *domain.StateTimeSeries) error {
	cw := csv.NewWriter(out)

	header := make([]string, 0, len(ts.Metrics)+1)
	header = append(header, "date")
	for _, m := range ts.Metrics {
		header = append(header, string(m))
	}
	if err := cw.Write(header); err != nil {
		return err
	}

	record := make([]string, len(header))
	for i, d := range ts.Dates {
		record[0] = d.Format(dateLayout)
		for j, m := range ts.Metrics {
			record[j+1] = strconv.FormatFloat(ts.Values[m][i], 'f', -1, 64)
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// ReadStateFile reads a gzipped per-state file written by CSVWriter.
func ReadStateFile(path, state string) (*domain.StateTimeSeries, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	zr, err := gzip.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("open gzip: %w", err)
	}
	defer zr.Close()
	return ReadStateCSV(zr, state)
}

// ReadStateCSV parses a table written by WriteStateCSV.
func ReadStateCSV(in io.Reader, state string) (*domain.StateTimeSeries, error) {
	cr := csv.NewReader(in)
	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	if len(header) == 0 || header[0] != "date" {
		return nil, fmt.Errorf("unexpected header %v", header)
	}

	ts := &domain.StateTimeSeries{
		State:  state,
		Values: make(map[domain.Metric][]float64, len(header)-1),
	}
	for _, h := range header[1:] {
		ts.Metrics = append(ts.Metrics, domain.Metric(h))
	}

	for line := 2; ; line++ {
		record, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		d, err := time.Parse(dateLayout, record[0])
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		ts.Dates = append(ts.Dates, d)
		for j, m := range ts.Metrics {
			v, err := strconv.ParseFloat(record[j+1], 64)
			if err != nil {
				return nil, fmt.Errorf("line %d column %s: %w", line, m, err)
			}
			ts.Values[m] = append(ts.Values[m], v)
		}
	}
	return ts, nil
}
