package query

import (
	"fmt"
	"sort"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/justdata-platform/justdata/internal/model"
	"github.com/justdata-platform/justdata/internal/warehouse"
)

const mortgageTable = "hmda.lar"

// Warehouse codes for the mortgage enum filters.
var (
	purposeCodes = map[model.LoanPurpose][]int{
		model.PurposeHomePurchase:     {1},
		model.PurposeHomeImprovement:  {2},
		model.PurposeRefinance:        {31},
		model.PurposeCashOutRefinance: {32},
		model.PurposeOther:            {4, 5},
	}
	actionCodes = map[model.ActionTaken]int{
		model.ActionOriginated:          1,
		model.ActionApprovedNotAccepted: 2,
		model.ActionDenied:              3,
		model.ActionWithdrawn:           4,
		model.ActionIncomplete:          5,
		model.ActionPurchased:           6,
	}
	occupancyCodes = map[model.Occupancy]int{
		model.OccupancyOwner:    1,
		model.OccupancySecond:   2,
		model.OccupancyInvestor: 3,
	}
	constructionCodes = map[model.ConstructionMethod]int{
		model.ConstructionSiteBuilt:    1,
		model.ConstructionManufactured: 2,
	}
)

// BuildMortgage translates a mortgage FilterSet into one analytical
// statement over the loan/application register. Classification happens in
// SQL: the inner select derives the raw signals, the outer select buckets
// them so each rule is stated once.
func BuildMortgage(f model.FilterSet) (warehouse.Query, Projection, error) {
	if f.DataDomain != model.DomainMortgage {
		return warehouse.Query{}, Projection{}, eris.Errorf("query: mortgage builder got domain %q", f.DataDomain)
	}
	a := &argList{}
	where, err := commonPredicates(a, f)
	if err != nil {
		return warehouse.Query{}, Projection{}, err
	}

	if len(f.LoanPurposes) > 0 {
		codes := collectCodes(f.LoanPurposes, purposeCodes)
		where = append(where, fmt.Sprintf("loan_purpose IN (%s)", a.addInts(codes)))
	}
	if len(f.ActionsTaken) > 0 {
		codes := mapCodes(f.ActionsTaken, actionCodes)
		where = append(where, fmt.Sprintf("action_taken IN (%s)", a.addInts(codes)))
	}
	if len(f.Occupancy) > 0 {
		codes := mapCodes(f.Occupancy, occupancyCodes)
		where = append(where, fmt.Sprintf("occupancy_type IN (%s)", a.addInts(codes)))
	}
	if len(f.ConstructionMethods) > 0 {
		codes := mapCodes(f.ConstructionMethods, constructionCodes)
		where = append(where, fmt.Sprintf("construction_method IN (%s)", a.addInts(codes)))
	}
	if len(f.Units) > 0 {
		where = append(where, unitsPredicate(a, f.Units))
	}
	if f.ReverseMortgageExcluded() {
		// NULL reads as not-reverse; only the explicit yes sentinel drops.
		where = append(where, "(reverse_mortgage IS NULL OR reverse_mortgage <> 1)")
	}

	sql := fmt.Sprintf(`SELECT
    t.year,
    t.lender_id,
    t.county_code,
    t.tract_id,
    t.amount,
    %s AS race_ethnicity,
    %s AS borrower_bucket,
    %s AS tract_bucket,
    t.minority_pct,
    t.minority_pct >= 50 AS is_mmct,
    t.dedup_key
FROM (
    SELECT
        activity_year AS year,
        lei AS lender_id,
        county_code,
        census_tract AS tract_id,
        loan_amount AS amount,
        tract_minority_pct AS minority_pct,
        %s AS is_hispanic,
        %s AS first_race,
        applicant_income * 1000.0 * 100.0 / NULLIF(msa_median_family_income, 0) AS borrower_income_pct,
        tract_to_msa_income_pct AS tract_income_pct,
        CONCAT_WS('|', activity_year, lei, county_code, census_tract, loan_purpose, loan_amount, action_taken) AS dedup_key
    FROM %s
    WHERE %s
) t`,
		raceEthnicityCase(),
		incomeBucketCase("t.borrower_income_pct"),
		incomeBucketCase("t.tract_income_pct"),
		hispanicExpr(),
		firstRaceExpr(),
		mortgageTable,
		strings.Join(where, "\n      AND "),
	)

	proj := Projection{
		Domain: model.DomainMortgage,
		Table:  mortgageTable,
		Columns: []string{
			ColYear, ColLender, ColCounty, ColTract, ColAmount,
			ColRaceEthnicity, ColBorrowerBucket, ColTractBucket,
			ColMinorityPct, ColMMCT, ColDedupKey,
		},
		HasRaceEthnicity:  true,
		HasBorrowerBucket: true,
		HasTractBucket:    true,
		HasAmount:         true,
		Deduplicated:      true,
	}
	return warehouse.Query{SQL: sql, Params: a.vals}, proj, nil
}

// commonPredicates emits the year and county predicates every domain
// shares. Both lists are required; an empty geography would scan the nation.
func commonPredicates(a *argList, f model.FilterSet) ([]string, error) {
	if len(f.Years) == 0 {
		return nil, eris.New("query: empty year list")
	}
	if len(f.Geography) == 0 {
		return nil, eris.New("query: empty geography")
	}
	where := []string{
		fmt.Sprintf("activity_year IN (%s)", a.addInts(f.Years)),
		fmt.Sprintf("county_code IN (%s)", a.addStrings(padCounties(f.Geography))),
	}
	return where, nil
}

func unitsPredicate(a *argList, bands []model.UnitsBand) string {
	parts := make([]string, 0, len(bands))
	for _, b := range bands {
		if b == model.Units5Plus {
			parts = append(parts, fmt.Sprintf("total_units >= %s", a.add(5)))
			continue
		}
		n := int(b[0] - '0')
		parts = append(parts, fmt.Sprintf("total_units = %s", a.add(n)))
	}
	return "(" + strings.Join(parts, " OR ") + ")"
}

// collectCodes flattens a multi-code enum mapping, sorted for stable SQL.
func collectCodes[T comparable](keys []T, codes map[T][]int) []int {
	var out []int
	for _, k := range keys {
		out = append(out, codes[k]...)
	}
	sort.Ints(out)
	return out
}

// mapCodes resolves a single-code enum mapping, sorted for stable SQL.
func mapCodes[T comparable](keys []T, codes map[T]int) []int {
	out := make([]int, 0, len(keys))
	for _, k := range keys {
		out = append(out, codes[k])
	}
	sort.Ints(out)
	return out
}
