// Package chart turns a query result into a plot-ready figure: one series per
// state and metric plus the axis, title, and range selector metadata a
// front end needs to draw it.
package chart

import (
	"strings"

	"gonum.org/v1/gonum/floats"

	"github.com/couchcryptid/covid-state-etl/internal/query"
)

const (
	titleCumulative = "Coronavirus Cases by State - Cumulative"
	titleNew        = "Coronavirus Cases by State - New Cases"
	axisCases       = "# of Cases"
	axisPerCapita   = "# of Cases - Per Capita"
	dateLayout      = "2006-01-02"
)

// Figure is a chart description independent of any plotting library.
type Figure struct {
	Title  string   `json:"title"`
	XAxis  XAxis    `json:"x_axis"`
	YAxis  YAxis    `json:"y_axis"`
	Series []Series `json:"series"`
}

// XAxis is the date axis with its range selector.
type XAxis struct {
	Title        string        `json:"title"`
	Type         string        `json:"type"`
	RangeSlider  bool          `json:"range_slider"`
	RangeButtons []RangeButton `json:"range_buttons"`
}

// YAxis holds the value axis label and the data extent.
type YAxis struct {
	Title string  `json:"title"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
}

// RangeButton selects a trailing window of Count Steps. Step "all" resets the view.
type RangeButton struct {
	Label    string `json:"label"`
	Count    int    `json:"count,omitempty"`
	Step     string `json:"step"`
	StepMode string `json:"step_mode,omitempty"`
}

// Series is one line, labelled "<ST> - <metric>".
type Series struct {
	Name   string    `json:"name"`
	State  string    `json:"state"`
	Metric string    `json:"metric"`
	X      []string  `json:"x"`
	Y      []float64 `json:"y"`
}

// RangeButtons returns the standard selector: 1week, 2weeks, 1m, 6m, all.
func RangeButtons() []RangeButton {
	return []RangeButton{
		{Label: "1week", Count: 7, Step: "day", StepMode: "backward"},
		{Label: "2weeks", Count: 14, Step: "day", StepMode: "backward"},
		{Label: "1m", Count: 1, Step: "month", StepMode: "backward"},
		{Label: "6m", Count: 6, Step: "month", StepMode: "backward"},
		{Label: "all", Step: "all"},
	}
}

// Build converts r into a Figure. Series appear in first-seen order of the
// result rows, so states and metrics stay in the result's sort order.
func Build(r *query.Result) Figure {
	fig := Figure{
		Title: titleCumulative,
		XAxis: XAxis{Title: "Date", Type: "date", RangeSlider: true, RangeButtons: RangeButtons()},
		YAxis: YAxis{Title: axisCases},
	}
	if r.Mode == query.New.String() {
		fig.Title = titleNew
	}

	index := make(map[string]int)
	var all []float64
	for _, row := range r.Rows {
		if strings.HasSuffix(row.Metric, query.PerCapitaSuffix) {
			fig.YAxis.Title = axisPerCapita
		}
		i, ok := index[row.Label]
		if !ok {
			i = len(fig.Series)
			index[row.Label] = i
			fig.Series = append(fig.Series, Series{Name: row.Label, State: row.State, Metric: row.Metric})
		}
		fig.Series[i].X = append(fig.Series[i].X, row.Date.Format(dateLayout))
		fig.Series[i].Y = append(fig.Series[i].Y, row.Value)
		all = append(all, row.Value)
	}

	if len(all) > 0 {
		fig.YAxis.Min = floats.Min(all)
		fig.YAxis.Max = floats.Max(all)
	}
	if fig.Series == nil {
		fig.Series = []Series{}
	}
	return fig
}
