// Package aggregate turns one warehouse result table into the full set of
// report tables in a single pass. The engine is deterministic: identical
// input tables produce byte-identical output, with all orderings explicit.
package aggregate

import (
	"github.com/justdata-platform/justdata/internal/model"
	"github.com/justdata-platform/justdata/internal/query"
	"github.com/justdata-platform/justdata/internal/warehouse"
)

// Options tunes one engine run. Years must be the canonical ascending year
// list from the FilterSet; the engine emits zero-filled rows for years the
// result has no data for.
type Options struct {
	TopN               int
	ConcentrationBasis string // "amount" or "count"
	Denominator        model.Denominator
	Years              []int
	SubjectLenderID    string
	Band               model.PeerVolumeBand
	CollectBranches    bool
}

// TractActivity is the per (year, tract) volume retained for the census
// join: minority-quartile re-bucketing and census shares need tract-level
// counts after the engine pass is over.
type TractActivity struct {
	Year        int
	TractID     string
	MinorityPct *float64
	Count       int64
	Amount      float64
}

// Tables is everything the engine derives. The pipeline picks the subset a
// recipe surfaces; the engine always computes all of them.
type Tables struct {
	Summary              []model.SummaryRow
	ByDemographic        []model.DemographicRow
	ByIncomeNeighborhood model.IncomeNeighborhoodTable
	ByLender             model.LenderTable
	ByLenderByYear       []model.LenderYearRow
	Concentration        []model.ConcentrationRow
	Trends               []model.TrendRow
	PeerComparison       *model.PeerComparison
	Branches             []model.BranchRow
	TractActivity        []TractActivity
	Warnings             []model.Warning
}

// Run executes the one-pass aggregation.
func Run(table *warehouse.Table, proj query.Projection, opts Options) (*Tables, error) {
	e, err := newEngine(table, proj, opts)
	if err != nil {
		return nil, err
	}
	e.pass(table)
	return e.finalize(), nil
}
