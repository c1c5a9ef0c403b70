package domain

import (
	"fmt"
	"sort"
	"strings"
)

// nameOverrides maps irregular province labels to state codes. An override only
// resolves when its target code exists in the loaded reference table.
var nameOverrides = map[string]string{
	"chicago":                      "IL",
	"puerto rico":                  "PR",
	"virgin islands":               "VI",
	"united states virgin islands": "VI",
	"d.c.":                         "DC",
	"washington, d.c.":             "DC",
}

// codeOverrides corrects candidate codes produced by city-state extraction.
var codeOverrides = map[string]string{
	"D.C.": "DC",
}

// Resolver maps state names and abbreviations to canonical two-letter codes.
// It is built once per refresh and is read-only afterwards.
type Resolver struct {
	byName map[string]string
	byCode map[string]ReferenceRow
}

// NewResolver indexes the reference rows. Codes and names must be unique.
func NewResolver(rows []ReferenceRow) (*Resolver, error) {
	r := &Resolver{
		byName: make(map[string]string, len(rows)),
		byCode: make(map[string]ReferenceRow, len(rows)),
	}
	for _, row := range rows {
		code := strings.ToUpper(strings.TrimSpace(row.Code))
		name := strings.TrimSpace(row.Name)
		if len(code) != 2 {
			return nil, fmt.Errorf("reference row %q: abbreviation %q is not two letters", name, row.Code)
		}
		if name == "" {
			return nil, fmt.Errorf("reference row %q: empty state name", code)
		}
		if row.Population < 0 {
			return nil, fmt.Errorf("reference row %q: negative population %d", code, row.Population)
		}
		if _, dup := r.byCode[code]; dup {
			return nil, fmt.Errorf("reference table: duplicate abbreviation %q", code)
		}
		key := nameKey(name)
		if _, dup := r.byName[key]; dup {
			return nil, fmt.Errorf("reference table: duplicate state name %q", name)
		}
		row.Code, row.Name = code, name
		r.byCode[code] = row
		r.byName[key] = code
	}
	return r, nil
}

// Normalize resolves a full state name, a known irregular name, or an
// abbreviation to its canonical code. It returns a *NotFoundError otherwise.
func (r *Resolver) Normalize(nameOrAbbrev string) (string, error) {
	s := strings.TrimSpace(nameOrAbbrev)
	if code, ok := r.byName[nameKey(s)]; ok {
		return code, nil
	}
	if code, ok := nameOverrides[nameKey(s)]; ok {
		if _, known := r.byCode[code]; known {
			return code, nil
		}
	}
	if code, ok := r.knownCode(s); ok {
		return code, nil
	}
	return "", &NotFoundError{Kind: "reference", Key: s}
}

// knownCode accepts an abbreviation (after code overrides) present in the table.
func (r *Resolver) knownCode(s string) (string, bool) {
	code := strings.ToUpper(s)
	if fixed, ok := codeOverrides[code]; ok {
		code = fixed
	} else {
		code = strings.Trim(code, ".")
	}
	if _, ok := r.byCode[code]; ok {
		return code, true
	}
	return "", false
}

// Lookup returns the reference row for a code.
func (r *Resolver) Lookup(code string) (ReferenceRow, bool) {
	row, ok := r.byCode[strings.ToUpper(code)]
	return row, ok
}

// Name returns the full state name for a code.
func (r *Resolver) Name(code string) (string, error) {
	row, ok := r.Lookup(code)
	if !ok {
		return "", &NotFoundError{Kind: "state", Key: code}
	}
	return row.Name, nil
}

// Population returns the population estimate for a code. A state that is
// unknown or has no positive estimate yields a *MissingReferenceError.
func (r *Resolver) Population(code string) (int64, error) {
	row, ok := r.Lookup(code)
	if !ok {
		return 0, &MissingReferenceError{State: code, Reason: "state not in reference table"}
	}
	if row.Population <= 0 {
		return 0, &MissingReferenceError{State: code, Reason: "no population estimate"}
	}
	return row.Population, nil
}

// Rows returns all reference rows ordered by code.
func (r *Resolver) Rows() []ReferenceRow {
	rows := make([]ReferenceRow, 0, len(r.byCode))
	for _, row := range r.byCode {
		rows = append(rows, row)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Code < rows[j].Code })
	return rows
}

func nameKey(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}
