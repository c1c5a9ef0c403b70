package domain

import (
	"sort"
	"time"
)

// Metric names a measured quantity, e.g. "Confirmed" or "inpatient_beds_utilization".
type Metric string

const (
	Confirmed Metric = "Confirmed"
	Deaths    Metric = "Deaths"
	Recovered Metric = "Recovered"
)

// FillPolicy controls how missing calendar days are completed during resampling.
type FillPolicy int

const (
	// FillCumulative carries the last running total forward; leading gaps are zero.
	FillCumulative FillPolicy = iota
	// FillLevel forward-fills a slowly-updated level such as a utilization ratio; leading gaps are zero.
	FillLevel
	// FillEvent treats a missing day as zero events.
	FillEvent
)

func (p FillPolicy) String() string {
	switch p {
	case FillCumulative:
		return "cumulative"
	case FillLevel:
		return "level"
	case FillEvent:
		return "event"
	default:
		return "unknown"
	}
}

// MetricSpec pairs a metric with its fill policy.
type MetricSpec struct {
	Name   Metric
	Policy FillPolicy
}

// CumulativeSpecs returns specs for running-total metrics.
func CumulativeSpecs(metrics ...Metric) []MetricSpec {
	specs := make([]MetricSpec, len(metrics))
	for i, m := range metrics {
		specs[i] = MetricSpec{Name: m, Policy: FillCumulative}
	}
	return specs
}

// ReferenceRow is one entry of the state lookup table.
type ReferenceRow struct {
	Name       string `json:"name"`
	Code       string `json:"code"`
	Population int64  `json:"population"` // 0 when no census row matched
}

// RawObservation is a parsed source row. Values holds every metric the row carries.
type RawObservation struct {
	Region   string
	Province string
	Date     time.Time
	Values   map[Metric]float64
}

// NormalizedObservation is a RawObservation resolved to a canonical state code.
type NormalizedObservation struct {
	RawObservation
	StateCode string
}

// Rejection records an observation the normalizer could not resolve.
type Rejection struct {
	Source   string    `json:"source"`
	Region   string    `json:"region"`
	Province string    `json:"province"`
	Date     time.Time `json:"date"`
	Reason   string    `json:"reason"`
}

// Rejection reasons.
const (
	ReasonForeignRegion = "foreign_region"
	ReasonEmptyProvince = "empty_province"
	ReasonUnknownState  = "unknown_state"
)

// RejectionReport summarises unresolved observations for manual review.
type RejectionReport struct {
	Total    int            `json:"total"`
	ByReason map[string]int `json:"by_reason"`
	Samples  []Rejection    `json:"samples"`
}

// maxRejectionSamples bounds the number of example rows kept per report.
const maxRejectionSamples = 100

// NewRejectionReport summarises rejections, keeping the first rows as samples.
func NewRejectionReport(rejected []Rejection) RejectionReport {
	report := RejectionReport{ByReason: make(map[string]int)}
	for _, r := range rejected {
		report.Total++
		report.ByReason[r.Reason]++
		if len(report.Samples) < maxRejectionSamples {
			report.Samples = append(report.Samples, r)
		}
	}
	return report
}

// StateTimeSeries is one state's daily table: a contiguous ascending calendar
// with one value column per metric.
type StateTimeSeries struct {
	State   string
	Dates   []time.Time
	Metrics []Metric
	Values  map[Metric][]float64
}

// Len returns the number of days in the series.
func (s *StateTimeSeries) Len() int { return len(s.Dates) }

// Column returns the values for a metric.
func (s *StateTimeSeries) Column(m Metric) ([]float64, bool) {
	v, ok := s.Values[m]
	return v, ok
}

// Start returns the first day, or the zero time for an empty series.
func (s *StateTimeSeries) Start() time.Time {
	if len(s.Dates) == 0 {
		return time.Time{}
	}
	return s.Dates[0]
}

// End returns the last day, or the zero time for an empty series.
func (s *StateTimeSeries) End() time.Time {
	if len(s.Dates) == 0 {
		return time.Time{}
	}
	return s.Dates[len(s.Dates)-1]
}

// Snapshot is an immutable result of one refresh cycle.
type Snapshot struct {
	ID         string
	BuiltAt    time.Time
	States     map[string]*StateTimeSeries
	Reference  *Resolver
	Rejections RejectionReport
}

// StateCodes returns the snapshot's state codes in ascending order.
func (s *Snapshot) StateCodes() []string {
	codes := make([]string, 0, len(s.States))
	for code := range s.States {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}

// MetricNames returns every metric present in any state, in ascending order.
func (s *Snapshot) MetricNames() []Metric {
	seen := make(map[Metric]struct{})
	for _, ts := range s.States {
		for _, m := range ts.Metrics {
			seen[m] = struct{}{}
		}
	}
	out := make([]Metric, 0, len(seen))
	for m := range seen {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Day truncates t to its UTC calendar date.
func Day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// NewSnapshot stamps a snapshot with the package clock.
func NewSnapshot(id string, states map[string]*StateTimeSeries, ref *Resolver, report RejectionReport) *Snapshot {
	return &Snapshot{
		ID:         id,
		BuiltAt:    clock.Now().UTC(),
		States:     states,
		Reference:  ref,
		Rejections: report,
	}
}
