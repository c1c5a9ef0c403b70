// Package domain models US state-level epidemiological time series and the
// reconciliation rules that turn heterogeneous public feeds into them.
//
// # Data Sources
//
// Three feeds are reconciled against one reference table:
//
//	Line list (Kaggle "novel-corona-virus-2019-dataset", covid_19_data.csv):
//	  one row per (Province/State, Country/Region, ObservationDate) with running
//	  totals for Confirmed, Deaths and Recovered. Global; only "US" rows are kept.
//	JHU CSSE US time series (time_series_covid19_{confirmed,deaths}_US.csv):
//	  wide tables, one row per county (Admin2) with one column per date.
//	healthdata.gov hospital capacity (g62h-syeh):
//	  one row per (state code, date) with utilization ratios.
//
// # State Naming Conventions
//
// Province fields arrive in three shapes:
//
//	Full name:        "New York"          → direct lookup in the reference table.
//	Code:             "NY"                → accepted as-is when the code is known.
//	City, state:      "King County, WA"   → trailing uppercase token extracted.
//	                  "Washington, D.C."  → "D.C." corrected to "DC" by the override table.
//
// City-state extraction uses the pattern [A-Z.]{2,4} over the whole field, so a
// field can yield several candidates ("Omaha, NE (From Diamond Princess)" yields
// NE only because lowercase words never match). Each distinct known candidate
// produces its own normalized observation (fan-out). See [Normalize].
//
// Known irregular names are mapped by a fixed override table: Chicago → IL,
// Puerto Rico → PR, Virgin Islands → VI, United States Virgin Islands → VI.
//
// # Metric Policies
//
// Each metric declares how its daily calendar is completed (see [FillPolicy]):
//
//	Cumulative (Confirmed, Deaths, Recovered): duplicates summed, gaps carry the
//	  last running total forward, leading gaps are zero.
//	Level (hospital utilization ratios): duplicates summed, gaps forward-filled,
//	  leading gaps are zero.
//	Event (daily counts): duplicates summed, gaps are zero.
//
// Forward-filling a cumulative total means "no new events" on a missing day. The
// alternative reading ("no data") would leave holes that the daily difference
// cannot bridge.
//
// # Per-Capita Values
//
// Per-capita values divide a metric by the 2019 census population estimate
// (POPESTIMATE2019). A state with no population row has population 0, and any
// per-capita request for it fails with [ErrMissingReference] rather than
// returning zero.
package domain
