package source

import (
	"errors"
	"strconv"

	"github.com/couchcryptid/covid-state-etl/internal/domain"
)

// Reference table columns.
const (
	colState        = "State"
	colAbbreviation = "Abbreviation"

	colCensusState      = "STATE"
	colCensusName       = "NAME"
	colCensusPopulation = "POPESTIMATE2019"
)

// ParseAbbreviations reads the State/Abbreviation lookup table. Population is
// left at zero; see MergeReference.
func ParseAbbreviations(data []byte) ([]domain.ReferenceRow, error) {
	t, err := readTable("abbreviations", data, colState, colAbbreviation)
	if err != nil {
		return nil, err
	}
	rows := make([]domain.ReferenceRow, 0, len(t.rows))
	for _, row := range t.rows {
		name, code := t.get(row, colState), t.get(row, colAbbreviation)
		if name == "" && code == "" {
			continue
		}
		rows = append(rows, domain.ReferenceRow{Name: name, Code: code})
	}
	return rows, nil
}

// ParsePopulation reads the census estimates table and returns the 2019
// population per state name. Region and national rows (STATE == 0) are skipped.
func ParsePopulation(data []byte) (map[string]int64, error) {
	t, err := readTable("population", data, colCensusState, colCensusName, colCensusPopulation)
	if err != nil {
		return nil, err
	}
	pop := make(map[string]int64, len(t.rows))
	for i, row := range t.rows {
		rawState := t.get(row, colCensusState)
		stateFIPS, err := strconv.Atoi(rawState)
		if err != nil {
			return nil, t.rowErr(i, colCensusState, rawState, err)
		}
		if stateFIPS <= 0 {
			continue
		}
		rawPop := t.get(row, colCensusPopulation)
		n, err := strconv.ParseInt(rawPop, 10, 64)
		if err != nil {
			return nil, t.rowErr(i, colCensusPopulation, rawPop, err)
		}
		if n < 0 {
			return nil, t.rowErr(i, colCensusPopulation, rawPop, errors.New("negative population"))
		}
		name := t.get(row, colCensusName)
		if _, dup := pop[name]; dup {
			continue
		}
		pop[name] = n
	}
	return pop, nil
}

// MergeReference left-joins population estimates onto the abbreviation rows by
// exact state name. Rows without a census match keep population zero.
func MergeReference(abbrevs []domain.ReferenceRow, pop map[string]int64) []domain.ReferenceRow {
	out := make([]domain.ReferenceRow, len(abbrevs))
	for i, row := range abbrevs {
		row.Population = pop[row.Name]
		out[i] = row
	}
	return out
}
