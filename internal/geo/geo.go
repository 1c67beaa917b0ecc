// Package geo expands request geography into canonical county code sets
// and supplies census-tract boundary rings for the branch-map surface.
// County codes are five characters: two-digit state FIPS plus three-digit
// county FIPS, zero-padded.
package geo

import (
	"sort"
	"strings"

	"github.com/rotisserie/eris"
)

// NormalizeState pads a state FIPS code to two digits.
func NormalizeState(code string) (string, error) {
	code = strings.TrimSpace(code)
	if code == "" || len(code) > 2 || !allDigits(code) {
		return "", eris.Errorf("geo: invalid state code %q", code)
	}
	for len(code) < 2 {
		code = "0" + code
	}
	return code, nil
}

// NormalizeCounty pads a five-character county code to full width.
func NormalizeCounty(code string) (string, error) {
	code = strings.TrimSpace(code)
	if code == "" || len(code) > 5 || !allDigits(code) {
		return "", eris.Errorf("geo: invalid county code %q", code)
	}
	for len(code) < 5 {
		code = "0" + code
	}
	return code, nil
}

// Combine unions county code sets into one sorted, deduplicated slice.
func Combine(sets ...[]string) []string {
	seen := make(map[string]struct{})
	for _, set := range sets {
		for _, code := range set {
			seen[code] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for code := range seen {
		out = append(out, code)
	}
	sort.Strings(out)
	return out
}

func allDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
