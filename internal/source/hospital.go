package source

import (
	"strings"
	"time"

	"github.com/couchcryptid/covid-state-etl/internal/domain"
)

const (
	colHospitalState = "state"
	colHospitalDate  = "date"
)

// utilizationMarkers select the hospital columns kept as level metrics.
var utilizationMarkers = []string{"inpatient_beds_utilization", "adult_icu_bed_utilization"}

// hospitalDateLayouts covers the Socrata floating timestamp and the slash form
// used by older CSV exports.
var hospitalDateLayouts = []string{
	"2006-01-02T15:04:05.000",
	"2006-01-02T15:04:05",
	"2006/01/02",
	"2006-01-02",
}

// HospitalCapacity is the parsed hospital utilization feed.
type HospitalCapacity struct {
	Metrics      []domain.Metric
	Observations []domain.RawObservation
}

// ParseHospitalPages parses every page of the hospital feed and keeps the first
// row seen for each (state, date). Utilization columns are taken from the first
// page; later pages must carry the same required columns.
func ParseHospitalPages(pages [][]byte) (HospitalCapacity, error) {
	var hc HospitalCapacity
	type key struct {
		state string
		date  time.Time
	}
	seen := make(map[key]bool)

	for p, data := range pages {
		t, err := readTable("hospital", data, colHospitalState, colHospitalDate)
		if err != nil {
			return HospitalCapacity{}, err
		}
		if p == 0 {
			hc.Metrics = utilizationColumns(t.header)
			if len(hc.Metrics) == 0 {
				return HospitalCapacity{}, &domain.SchemaMismatchError{Source: "hospital", Missing: utilizationMarkers}
			}
		}

		for i, row := range t.rows {
			rawDate := t.get(row, colHospitalDate)
			date, err := parseDate(rawDate, hospitalDateLayouts...)
			if err != nil {
				return HospitalCapacity{}, t.rowErr(i, colHospitalDate, rawDate, err)
			}
			state := t.get(row, colHospitalState)
			k := key{state: strings.ToUpper(state), date: date}
			if seen[k] {
				continue
			}
			seen[k] = true

			values := make(map[domain.Metric]float64, len(hc.Metrics))
			for _, m := range hc.Metrics {
				raw := t.get(row, string(m))
				v, ok, err := parseValue(raw)
				if err != nil {
					return HospitalCapacity{}, t.rowErr(i, string(m), raw, err)
				}
				if ok {
					values[m] = v
				}
			}

			hc.Observations = append(hc.Observations, domain.RawObservation{
				Region:   "US",
				Province: state,
				Date:     date,
				Values:   values,
			})
		}
	}
	return hc, nil
}

func utilizationColumns(header []string) []domain.Metric {
	var out []domain.Metric
	for _, marker := range utilizationMarkers {
		for _, h := range header {
			if strings.Contains(h, marker) {
				out = append(out, domain.Metric(h))
			}
		}
	}
	return out
}
