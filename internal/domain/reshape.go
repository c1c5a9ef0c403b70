package domain

import (
	"math"
	"time"
)

// WideTable is a source table with one value column per date, as published by
// the JHU CSSE time-series feeds. All value columns carry the same metric.
type WideTable struct {
	Metric Metric
	Dates  []time.Time
	Rows   []WideRow
}

// WideRow is one sub-region row of a WideTable. Values aligns with WideTable.Dates;
// NaN marks an empty cell.
type WideRow struct {
	Region   string
	Province string
	Values   []float64
}

// Melt converts a wide table into one observation per (row, date). Empty cells
// produce no observation.
func Melt(t WideTable) []RawObservation {
	out := make([]RawObservation, 0, len(t.Rows)*len(t.Dates))
	for _, row := range t.Rows {
		for i, date := range t.Dates {
			if i >= len(row.Values) || math.IsNaN(row.Values[i]) {
				continue
			}
			out = append(out, RawObservation{
				Region:   row.Region,
				Province: row.Province,
				Date:     Day(date),
				Values:   map[Metric]float64{t.Metric: row.Values[i]},
			})
		}
	}
	return out
}

// Reshape groups normalized observations by state, sums duplicate
// (state, date, metric) cells, and resamples each state onto a contiguous daily
// calendar from its first to its last observed day. Only metrics named in specs
// are kept; each is gap-filled by its policy. A state's columns are the spec
// metrics it has at least one observation for, in spec order.
func Reshape(obs []NormalizedObservation, specs []MetricSpec) map[string]*StateTimeSeries {
	wanted := make(map[Metric]bool, len(specs))
	for _, s := range specs {
		wanted[s.Name] = true
	}

	type stateCells struct {
		first, last time.Time
		cells       map[Metric]map[time.Time]float64
	}
	byState := make(map[string]*stateCells)

	for _, o := range obs {
		if o.StateCode == "" {
			continue
		}
		day := Day(o.Date)
		for m, v := range o.Values {
			if !wanted[m] || math.IsNaN(v) {
				continue
			}
			sc, ok := byState[o.StateCode]
			if !ok {
				sc = &stateCells{first: day, last: day, cells: make(map[Metric]map[time.Time]float64)}
				byState[o.StateCode] = sc
			}
			if day.Before(sc.first) {
				sc.first = day
			}
			if day.After(sc.last) {
				sc.last = day
			}
			col, ok := sc.cells[m]
			if !ok {
				col = make(map[time.Time]float64)
				sc.cells[m] = col
			}
			col[day] += v
		}
	}

	out := make(map[string]*StateTimeSeries, len(byState))
	for state, sc := range byState {
		dates := calendar(sc.first, sc.last)
		ts := &StateTimeSeries{
			State:  state,
			Dates:  dates,
			Values: make(map[Metric][]float64),
		}
		for _, spec := range specs {
			cells, ok := sc.cells[spec.Name]
			if !ok {
				continue
			}
			if _, dup := ts.Values[spec.Name]; dup {
				continue
			}
			ts.Metrics = append(ts.Metrics, spec.Name)
			ts.Values[spec.Name] = fill(dates, cells, spec.Policy)
		}
		out[state] = ts
	}
	return out
}

// calendar returns every UTC day in [first, last].
func calendar(first, last time.Time) []time.Time {
	n := int(last.Sub(first).Hours()/24) + 1
	dates := make([]time.Time, 0, n)
	for d := first; !d.After(last); d = d.AddDate(0, 0, 1) {
		dates = append(dates, d)
	}
	return dates
}

// fill lays observed cells onto the calendar and completes the gaps.
func fill(dates []time.Time, cells map[time.Time]float64, policy FillPolicy) []float64 {
	col := make([]float64, len(dates))
	var last float64
	for i, d := range dates {
		if v, ok := cells[d]; ok {
			col[i] = v
			last = v
			continue
		}
		switch policy {
		case FillCumulative, FillLevel:
			col[i] = last
		default:
			col[i] = 0
		}
	}
	return col
}

// Diff returns the first-order difference of a series. The first element is
// zero so the result has the same length as the input.
func Diff(values []float64) []float64 {
	out := make([]float64, len(values))
	for i := 1; i < len(values); i++ {
		out[i] = values[i] - values[i-1]
	}
	return out
}
