package query

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/justdata-platform/justdata/internal/model"
	"github.com/justdata-platform/justdata/internal/warehouse"
)

const branchTable = "sod.branches"

// BuildBranch translates a branch FilterSet against the summary-of-deposits
// register. One row per branch per year; the amount column carries deposits
// in thousands. Coordinates ride along for the map surface.
func BuildBranch(f model.FilterSet) (warehouse.Query, Projection, error) {
	if f.DataDomain != model.DomainBranch {
		return warehouse.Query{}, Projection{}, eris.Errorf("query: branch builder got domain %q", f.DataDomain)
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
    t.branch_id,
    t.branch_name,
    t.latitude,
    t.longitude,
    %s AS tract_bucket,
    t.minority_pct,
    t.minority_pct >= 50 AS is_mmct,
    t.dedup_key
FROM (
    SELECT
        activity_year AS year,
        rssd_id AS lender_id,
        county_code,
        census_tract AS tract_id,
        deposits AS amount,
        branch_id,
        branch_name,
        latitude,
        longitude,
        tract_minority_pct AS minority_pct,
        tract_to_msa_income_pct AS tract_income_pct,
        CONCAT_WS('|', activity_year, rssd_id, branch_id) AS dedup_key
    FROM %s
    WHERE %s
) t`,
		incomeBucketCase("t.tract_income_pct"),
		branchTable,
		strings.Join(where, "\n      AND "),
	)

	proj := Projection{
		Domain: model.DomainBranch,
		Table:  branchTable,
		Columns: []string{
			ColYear, ColLender, ColCounty, ColTract, ColAmount,
			ColBranchID, ColBranchName, ColLatitude, ColLongitude,
			ColTractBucket, ColMinorityPct, ColMMCT, ColDedupKey,
		},
		HasTractBucket: true,
		HasAmount:      true,
		HasCoordinates: true,
		Deduplicated:   true,
	}
	return warehouse.Query{SQL: sql, Params: a.vals}, proj, nil
}

// ForDomain returns the builder for a domain.
func ForDomain(d model.DataDomain) (func(model.FilterSet) (warehouse.Query, Projection, error), error) {
	switch d {
	case model.DomainMortgage:
		return BuildMortgage, nil
	case model.DomainSmallBusiness:
		return BuildSmallBusiness, nil
	case model.DomainBranch:
		return BuildBranch, nil
	default:
		return nil, eris.Errorf("query: no builder for domain %q", d)
	}
}
