package query

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/justdata-platform/justdata/internal/model"
	"github.com/justdata-platform/justdata/internal/warehouse"
)

const smallBusinessTable = "sbl.loans"

// BuildSmallBusiness translates a small-business FilterSet. The register
// carries principal-owner demographics in the same slot layout as the
// mortgage register, so the classification CASE is shared. Loan size is the
// extra derived classification: amounts are thousands, categories at 100
// and 250.
func BuildSmallBusiness(f model.FilterSet) (warehouse.Query, Projection, error) {
	if f.DataDomain != model.DomainSmallBusiness {
		return warehouse.Query{}, Projection{}, eris.Errorf("query: small-business builder got domain %q", f.DataDomain)
	}
	a := &argList{}
	where, err := commonPredicates(a, f)
	if err != nil {
		return warehouse.Query{}, Projection{}, err
	}

	sql := fmt.Sprintf(`SELECT
    t.year,
    t.lender_id,
    t.county_code,
    t.tract_id,
    t.amount,
    %s AS race_ethnicity,
    %s AS tract_bucket,
    CASE
        WHEN t.amount <= 100 THEN 'le-100k'
        WHEN t.amount <= 250 THEN '100k-250k'
        ELSE '250k-1m'
    END AS loan_size,
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
        tract_to_msa_income_pct AS tract_income_pct,
        CONCAT_WS('|', activity_year, lei, county_code, census_tract, loan_amount) AS dedup_key
    FROM %s
    WHERE %s
) t`,
		raceEthnicityCase(),
		incomeBucketCase("t.tract_income_pct"),
		hispanicExpr(),
		firstRaceExpr(),
		smallBusinessTable,
		strings.Join(where, "\n      AND "),
	)

	proj := Projection{
		Domain: model.DomainSmallBusiness,
		Table:  smallBusinessTable,
		Columns: []string{
			ColYear, ColLender, ColCounty, ColTract, ColAmount,
			ColRaceEthnicity, ColTractBucket, ColLoanSize,
			ColMinorityPct, ColMMCT, ColDedupKey,
		},
		HasRaceEthnicity: true,
		HasTractBucket:   true,
		HasLoanSize:      true,
		HasAmount:        true,
		Deduplicated:     true,
	}
	return warehouse.Query{SQL: sql, Params: a.vals}, proj, nil
}
