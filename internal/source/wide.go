package source

import (
	"strings"
	"time"

	"github.com/couchcryptid/covid-state-etl/internal/domain"
)

const (
	colWideProvince = "Province_State"
	colWideCountry  = "Country_Region"
)

// wideDateLayout matches JHU CSSE date headers such as "1/22/20".
const wideDateLayout = "1/2/06"

// ParseWideTimeSeries reads a JHU CSSE time-series table: identifier columns
// followed by one column per date. Any header that parses as a date is a value
// column; all other non-identifier columns (UID, FIPS, Lat, Population...) are
// ignored.
func ParseWideTimeSeries(source string, metric domain.Metric, data []byte) (domain.WideTable, error) {
	t, err := readTable(source, data, colWideProvince, colWideCountry)
	if err != nil {
		return domain.WideTable{}, err
	}

	var dateCols []int
	wt := domain.WideTable{Metric: metric}
	for i, h := range t.header {
		d, err := time.Parse(wideDateLayout, h)
		if err != nil {
			continue
		}
		dateCols = append(dateCols, i)
		wt.Dates = append(wt.Dates, domain.Day(d))
	}
	if len(dateCols) == 0 {
		return domain.WideTable{}, &domain.SchemaMismatchError{Source: source, Missing: []string{"date columns (M/D/YY)"}}
	}

	wt.Rows = make([]domain.WideRow, 0, len(t.rows))
	for i, row := range t.rows {
		values := make([]float64, len(dateCols))
		for j, col := range dateCols {
			var raw string
			if col < len(row) {
				raw = strings.TrimSpace(row[col])
			}
			v, _, err := parseValue(raw)
			if err != nil {
				return domain.WideTable{}, t.rowErr(i, t.header[col], raw, err)
			}
			values[j] = v
		}
		wt.Rows = append(wt.Rows, domain.WideRow{
			Region:   t.get(row, colWideCountry),
			Province: t.get(row, colWideProvince),
			Values:   values,
		})
	}
	return wt, nil
}
