package source

import (
	"github.com/couchcryptid/covid-state-etl/internal/domain"
)

const (
	colObservationDate = "ObservationDate"
	colProvinceState   = "Province/State"
	colCountryRegion   = "Country/Region"
)

// lineListDateLayout is MM/DD/YYYY as published by the global line list.
const lineListDateLayout = "01/02/2006"

var lineListMetrics = []domain.Metric{domain.Confirmed, domain.Deaths, domain.Recovered}

// ParseLineList reads the global case/death line list. Empty metric cells are
// omitted from the observation rather than read as zero.
func ParseLineList(data []byte) ([]domain.RawObservation, error) {
	required := []string{colObservationDate, colProvinceState, colCountryRegion}
	for _, m := range lineListMetrics {
		required = append(required, string(m))
	}
	t, err := readTable("line_list", data, required...)
	if err != nil {
		return nil, err
	}

	out := make([]domain.RawObservation, 0, len(t.rows))
	for i, row := range t.rows {
		rawDate := t.get(row, colObservationDate)
		date, err := parseDate(rawDate, lineListDateLayout)
		if err != nil {
			return nil, t.rowErr(i, colObservationDate, rawDate, err)
		}

		values := make(map[domain.Metric]float64, len(lineListMetrics))
		for _, m := range lineListMetrics {
			raw := t.get(row, string(m))
			v, ok, err := parseValue(raw)
			if err != nil {
				return nil, t.rowErr(i, string(m), raw, err)
			}
			if ok {
				values[m] = v
			}
		}

		out = append(out, domain.RawObservation{
			Region:   t.get(row, colCountryRegion),
			Province: t.get(row, colProvinceState),
			Date:     date,
			Values:   values,
		})
	}
	return out, nil
}
