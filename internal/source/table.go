// Package source parses the upstream CSV feeds into domain observations.
// Parsing is pure and operates on bytes; fetching is delegated to a Fetcher so
// every parser can be exercised against fixture files.
package source

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/couchcryptid/covid-state-etl/internal/domain"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// table is a parsed CSV with fields addressable by header name.
type table struct {
	source string
	header []string
	colIdx map[string]int
	rows   [][]string
}

// readTable parses CSV bytes and checks that every required column is present.
func readTable(source string, data []byte, required ...string) (*table, error) {
	r := csv.NewReader(bytes.NewReader(bytes.TrimPrefix(data, utf8BOM)))
	r.FieldsPerRecord = -1

	all, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read %s csv: %w", source, err)
	}

	t := &table{source: source, colIdx: make(map[string]int)}
	if len(all) > 0 {
		t.header = all[0]
		t.rows = all[1:]
	}
	for i, h := range t.header {
		h = strings.TrimSpace(h)
		t.header[i] = h
		if _, dup := t.colIdx[h]; !dup {
			t.colIdx[h] = i
		}
	}

	var missing []string
	for _, col := range required {
		if _, ok := t.colIdx[col]; !ok {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		return nil, &domain.SchemaMismatchError{Source: source, Missing: missing}
	}
	return t, nil
}

// get returns the trimmed field for a column, or "" when the row is short.
func (t *table) get(row []string, col string) string {
	i, ok := t.colIdx[col]
	if !ok || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

// rowErr attributes a parse failure to a 1-based file line (header is line 1).
func (t *table) rowErr(rowIdx int, col, value string, err error) error {
	return fmt.Errorf("%s line %d: %s %q: %w", t.source, rowIdx+2, col, value, err)
}

// parseValue reads a numeric cell. Empty cells report ok=false.
func parseValue(s string) (v float64, ok bool, err error) {
	if s == "" {
		return math.NaN(), false, nil
	}
	v, err = strconv.ParseFloat(s, 64)
	if err != nil {
		return math.NaN(), false, err
	}
	return v, true, nil
}

// parseDate tries each layout in order and returns the UTC calendar day.
func parseDate(s string, layouts ...string) (time.Time, error) {
	for _, layout := range layouts {
		if t, err := time.Parse(layout, s); err == nil {
			return domain.Day(t), nil
		}
	}
	return time.Time{}, fmt.Errorf("date does not match layouts %v", layouts)
}
