// Package query builds parameterized warehouse SQL from a canonical
// FilterSet. Builders are pure: the same FilterSet always yields the same
// statement text and parameter list. Each builder returns a Projection
// naming the derived columns it emitted so the aggregation engine and the
// SQL text cannot drift apart.
package query

import (
	"strconv"
	"strings"

	"github.com/justdata-platform/justdata/internal/model"
)

// Canonical output column names shared by every builder.
const (
	ColYear           = "year"
	ColLender         = "lender_id"
	ColCounty         = "county_code"
	ColTract          = "tract_id"
	ColAmount         = "amount"
	ColRaceEthnicity  = "race_ethnicity"
	ColBorrowerBucket = "borrower_bucket"
	ColTractBucket    = "tract_bucket"
	ColMinorityPct    = "minority_pct"
	ColMMCT           = "is_mmct"
	ColLoanSize       = "loan_size"
	ColDedupKey       = "dedup_key"
	ColBranchID       = "branch_id"
	ColBranchName     = "branch_name"
	ColLatitude       = "latitude"
	ColLongitude      = "longitude"
)

// Projection describes the shape of a builder's SELECT list. The engine
// reads only columns the projection declares.
type Projection struct {
	Domain  model.DataDomain
	Table   string
	Columns []string

	HasRaceEthnicity  bool
	HasBorrowerBucket bool
	HasTractBucket    bool
	HasLoanSize       bool
	HasAmount         bool
	HasCoordinates    bool
	Deduplicated      bool
}

// argList accumulates positional parameters and hands out $n placeholders.
type argList struct {
	vals []any
}

func (a *argList) add(v any) string {
	a.vals = append(a.vals, v)
	return "$" + strconv.Itoa(len(a.vals))
}

func (a *argList) addInts(vs []int) string {
	ph := make([]string, len(vs))
	for i, v := range vs {
		ph[i] = a.add(v)
	}
	return strings.Join(ph, ", ")
}

func (a *argList) addStrings(vs []string) string {
	ph := make([]string, len(vs))
	for i, v := range vs {
		ph[i] = a.add(v)
	}
	return strings.Join(ph, ", ")
}

// padCounty left-pads a county FIPS code to the canonical five characters.
func padCounty(code string) string {
	for len(code) < 5 {
		code = "0" + code
	}
	return code
}

func padCounties(codes []string) []string {
	out := make([]string, len(codes))
	for i, c := range codes {
		out[i] = padCounty(c)
	}
	return out
}

// hispanicExpr is true when any of the five applicant ethnicity slots
// carries a Hispanic or Latino code.
func hispanicExpr() string {
	parts := make([]string, 0, 5)
	for i := 1; i <= 5; i++ {
		parts = append(parts, "applicant_ethnicity_"+strconv.Itoa(i)+" IN (1, 11, 12, 13, 14)")
	}
	return "(" + strings.Join(parts, " OR ") + ")"
}

// firstRaceExpr coalesces the five race slots in order, skipping the
// information-withheld sentinels 6 and 7.
func firstRaceExpr() string {
	slots := make([]string, 0, 5)
	for i := 1; i <= 5; i++ {
		slots = append(slots, "NULLIF(NULLIF(applicant_race_"+strconv.Itoa(i)+", 6), 7)")
	}
	return "COALESCE(" + strings.Join(slots, ", ") + ")"
}

// raceEthnicityCase classifies the derived is_hispanic/first_race pair into
// the combined tag. Emitted exactly once per statement.
func raceEthnicityCase() string {
	return `CASE
        WHEN t.is_hispanic THEN 'hispanic'
        WHEN t.first_race = 1 THEN 'native-american'
        WHEN t.first_race IN (2, 21, 22, 23, 24, 25, 26, 27) THEN 'asian'
        WHEN t.first_race = 3 THEN 'black'
        WHEN t.first_race IN (4, 41, 42, 43, 44) THEN 'hpi'
        WHEN t.first_race = 5 THEN 'white'
        ELSE 'no-data'
    END`
}

// incomeBucketCase buckets a percent-of-median expression: low ≤50,
// moderate ≤80, middle ≤120, upper above, unknown for NULL.
func incomeBucketCase(expr string) string {
	return `CASE
        WHEN ` + expr + ` IS NULL THEN 'unknown'
        WHEN ` + expr + ` <= 50 THEN 'low'
        WHEN ` + expr + ` <= 80 THEN 'moderate'
        WHEN ` + expr + ` <= 120 THEN 'middle'
        ELSE 'upper'
    END`
}
