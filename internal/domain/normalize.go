package domain

import (
	"fmt"
	"regexp"
	"strings"
)

// cityStateRe matches candidate state tokens inside "city, state" strings,
// e.g. "King County, WA" -> "WA", "Washington, D.C." -> "D.C.".
var cityStateRe = regexp.MustCompile(`[A-Z.]{2,4}`)

// Precedence decides which codes win when a province yields both a direct
// name match and city-state candidates that differ from it.
type Precedence int

const (
	// PreferDirect keeps the full-name match.
	PreferDirect Precedence = iota
	// PreferCityState keeps the extracted candidates (legacy ordering).
	PreferCityState
)

// ParsePrecedence reads "direct" or "city_state".
func ParsePrecedence(s string) (Precedence, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "direct":
		return PreferDirect, nil
	case "city_state":
		return PreferCityState, nil
	default:
		return 0, fmt.Errorf("unknown normalize precedence %q", s)
	}
}

// Normalize resolves each observation of one source to canonical state codes.
// Every input ends up either in the normalized output (once per distinct code
// it resolves to) or in the rejections.
func Normalize(source string, obs []RawObservation, r *Resolver, p Precedence) ([]NormalizedObservation, []Rejection) {
	out := make([]NormalizedObservation, 0, len(obs))
	var rejected []Rejection

	for _, o := range obs {
		reason := ""
		var codes []string
		switch {
		case !isUSRegion(o.Region):
			reason = ReasonForeignRegion
		case strings.TrimSpace(o.Province) == "":
			reason = ReasonEmptyProvince
		default:
			codes = resolveProvince(o.Province, r, p)
			if len(codes) == 0 {
				reason = ReasonUnknownState
			}
		}

		if reason != "" {
			rejected = append(rejected, Rejection{
				Source:   source,
				Region:   o.Region,
				Province: o.Province,
				Date:     o.Date,
				Reason:   reason,
			})
			continue
		}
		for _, code := range codes {
			out = append(out, NormalizedObservation{RawObservation: o, StateCode: code})
		}
	}
	return out, rejected
}

// resolveProvince returns the distinct codes a province field maps to, or nil.
func resolveProvince(province string, r *Resolver, p Precedence) []string {
	direct, err := r.Normalize(province)
	if err != nil {
		direct = ""
	}

	var extracted []string
	if strings.Contains(province, ",") {
		extracted = extractCityStateCodes(province, r)
	}

	switch {
	case len(extracted) == 0 && direct == "":
		return nil
	case len(extracted) == 0:
		return []string{direct}
	case direct == "":
		return extracted
	case p == PreferCityState:
		return extracted
	default:
		return []string{direct}
	}
}

// extractCityStateCodes pulls uppercase tokens out of a "city, state" field,
// applies code overrides, and keeps the distinct ones the resolver knows.
func extractCityStateCodes(province string, r *Resolver) []string {
	var codes []string
	seen := make(map[string]bool)
	for _, tok := range cityStateRe.FindAllString(province, -1) {
		code, ok := r.knownCode(tok)
		if !ok || seen[code] {
			continue
		}
		seen[code] = true
		codes = append(codes, code)
	}
	return codes
}

func isUSRegion(region string) bool {
	region = strings.TrimSpace(region)
	return region == "" || strings.EqualFold(region, "US") || strings.EqualFold(region, "United States")
}
