// Command validate checks a committed snapshot on disk: the SQLite snapshot
// and the per-state CSV files written beside it. It verifies calendar
// continuity, column alignment, reference integrity, and that every CSV file
// matches the SQLite copy of the same state.
//
// Usage:
//
//	go run ./cmd/validate \
//	  -data-dir data \
//	  -snapshot-db data/STATE_SNAPSHOT.db
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/go-cmp/cmp"

	"github.com/couchcryptid/covid-state-etl/internal/adapter/snapshot"
	"github.com/couchcryptid/covid-state-etl/internal/domain"
)

const dateLayout = "2006-01-02"

// cumulative lists the running-total metrics whose columns should never drop.
var cumulative = []domain.Metric{domain.Confirmed, domain.Deaths, domain.Recovered}

// phase tracks pass/fail for a validation phase. Warnings are reported but do
// not fail the phase.
type phase struct {
	name     string
	errors   []string
	warnings []string
}

func (p *phase) errorf(format string, args ...any) {
	p.errors = append(p.errors, fmt.Sprintf(format, args...))
}

func (p *phase) warnf(format string, args ...any) {
	p.warnings = append(p.warnings, fmt.Sprintf(format, args...))
}

func (p *phase) passed() bool { return len(p.errors) == 0 }

func main() {
	dataDir := flag.String("data-dir", "data", "directory containing combined_data_<ST>.csv.gz files")
	snapshotDB := flag.String("snapshot-db", "data/STATE_SNAPSHOT.db", "path to the SQLite snapshot")
	flag.Parse()

	if *dataDir == "" || *snapshotDB == "" {
		flag.Usage()
		os.Exit(1)
	}

	if code := run(*dataDir, *snapshotDB); code != 0 {
		os.Exit(code)
	}
}

func run(dataDir, snapshotDB string) int {
	fmt.Println("=== State Snapshot Validation ===")
	fmt.Println()

	snap, err := snapshot.NewSQLiteStore(snapshotDB).Load(context.Background())
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: load snapshot: %v\n", err)
		return 1
	}

	phases := []*phase{
		validateCalendar(snap),
		validateColumns(snap),
		validateCumulative(snap),
		validateReference(snap),
		validateRejections(snap),
		validateCSVParity(snap, dataDir),
	}

	fmt.Println()
	allPassed := true
	for _, p := range phases {
		status := "\033[32mPASS\033[0m"
		if !p.passed() {
			status = fmt.Sprintf("\033[31mFAIL (%d errors)\033[0m", len(p.errors))
			allPassed = false
		} else if len(p.warnings) > 0 {
			status = fmt.Sprintf("\033[33mPASS (%d warnings)\033[0m", len(p.warnings))
		}
		fmt.Printf("  %-42s %s\n", p.name, status)
	}

	fmt.Println()
	fmt.Printf("Snapshot %s built %s: %d states, %d metrics, %d rejected observations\n",
		snap.ID, snap.BuiltAt.Format("2006-01-02T15:04:05Z07:00"),
		len(snap.States), len(snap.MetricNames()), snap.Rejections.Total)

	for _, p := range phases {
		if len(p.errors) == 0 && len(p.warnings) == 0 {
			continue
		}
		fmt.Printf("\n--- %s ---\n", p.name)
		for i, e := range p.errors {
			fmt.Printf("  [%d] %s\n", i+1, e)
		}
		for _, w := range p.warnings {
			fmt.Printf("  [warn] %s\n", w)
		}
	}

	if allPassed {
		fmt.Println("\nAll validations passed.")
		return 0
	}
	fmt.Println("\nValidation FAILED.")
	return 1
}

// ── Phases ──

func validateCalendar(snap *domain.Snapshot) *phase {
	p := &phase{name: "Calendar: one row per day, ascending"}
	for _, code := range snap.StateCodes() {
		ts := snap.States[code]
		if ts.Len() == 0 {
			p.errorf("%s: empty series", code)
			continue
		}
		for i, d := range ts.Dates {
			if !d.Equal(domain.Day(d)) {
				p.errorf("%s: row %d: %s is not midnight UTC", code, i, d)
			}
			if i == 0 {
				continue
			}
			if want := ts.Dates[i-1].AddDate(0, 0, 1); !d.Equal(want) {
				p.errorf("%s: row %d: got %s, want %s", code, i, d.Format(dateLayout), want.Format(dateLayout))
				break
			}
		}
	}
	return p
}

func validateColumns(snap *domain.Snapshot) *phase {
	p := &phase{name: "Columns: aligned with calendar"}
	for _, code := range snap.StateCodes() {
		ts := snap.States[code]
		if len(ts.Metrics) == 0 {
			p.errorf("%s: no metric columns", code)
		}
		seen := make(map[domain.Metric]bool, len(ts.Metrics))
		for _, m := range ts.Metrics {
			if seen[m] {
				p.errorf("%s: duplicate column %s", code, m)
			}
			seen[m] = true
			col, ok := ts.Column(m)
			if !ok {
				p.errorf("%s: column %s listed but missing", code, m)
				continue
			}
			if len(col) != ts.Len() {
				p.errorf("%s: column %s has %d values for %d days", code, m, len(col), ts.Len())
			}
		}
	}
	return p
}

func validateCumulative(snap *domain.Snapshot) *phase {
	p := &phase{name: "Cumulative: running totals non-decreasing"}
	for _, code := range snap.StateCodes() {
		ts := snap.States[code]
		for _, m := range cumulative {
			col, ok := ts.Column(m)
			if !ok {
				continue
			}
			drops := 0
			first := -1
			for i := 1; i < len(col) && i < ts.Len(); i++ {
				if col[i] < col[i-1] {
					drops++
					if first < 0 {
						first = i
					}
				}
			}
			// Upstream revisions can lower a running total; report them only.
			if drops > 0 {
				p.warnf("%s: %s drops %d times, first on %s", code, m, drops, ts.Dates[first].Format(dateLayout))
			}
		}
	}
	return p
}

func validateReference(snap *domain.Snapshot) *phase {
	p := &phase{name: "Reference: unique codes and names"}
	if snap.Reference == nil {
		p.errorf("snapshot has no reference table")
		return p
	}
	codes := make(map[string]bool)
	names := make(map[string]bool)
	for _, r := range snap.Reference.Rows() {
		if len(r.Code) != 2 || strings.ToUpper(r.Code) != r.Code {
			p.errorf("code %q is not a two-letter uppercase code", r.Code)
		}
		if codes[r.Code] {
			p.errorf("duplicate code %s", r.Code)
		}
		codes[r.Code] = true
		key := strings.ToLower(r.Name)
		if names[key] {
			p.errorf("duplicate name %q", r.Name)
		}
		names[key] = true
		if r.Population <= 0 {
			p.warnf("%s: no population, per-capita metrics unavailable", r.Code)
		}
	}
	for _, code := range snap.StateCodes() {
		if !codes[code] {
			p.errorf("state %s has data but no reference row", code)
		}
	}
	return p
}

func validateRejections(snap *domain.Snapshot) *phase {
	p := &phase{name: "Rejections: report totals consistent"}
	sum := 0
	for reason, n := range snap.Rejections.ByReason {
		if n <= 0 {
			p.errorf("reason %s has count %d", reason, n)
		}
		sum += n
	}
	if sum != snap.Rejections.Total {
		p.errorf("by_reason sums to %d, total is %d", sum, snap.Rejections.Total)
	}
	if len(snap.Rejections.Samples) > snap.Rejections.Total {
		p.errorf("%d samples exceed total %d", len(snap.Rejections.Samples), snap.Rejections.Total)
	}
	return p
}

func validateCSVParity(snap *domain.Snapshot, dataDir string) *phase {
	p := &phase{name: "CSV files: match SQLite snapshot"}
	for _, code := range snap.StateCodes() {
		path := filepath.Join(dataDir, snapshot.StateFileName(code))
		got, err := snapshot.ReadStateFile(path, code)
		if err != nil {
			p.errorf("%s: %v", code, err)
			continue
		}
		if diff := cmp.Diff(snap.States[code], got); diff != "" {
			p.errorf("%s: CSV differs from snapshot (-sqlite +csv):\n%s", code, diff)
		}
	}

	files, err := filepath.Glob(filepath.Join(dataDir, snapshot.StateFileName("*")))
	if err != nil {
		p.errorf("list CSV files: %v", err)
		return p
	}
	if len(files) != len(snap.States) {
		p.warnf("%d CSV files on disk for %d states in snapshot", len(files), len(snap.States))
	}
	return p
}
