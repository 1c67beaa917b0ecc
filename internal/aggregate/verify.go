package aggregate

import (
	"math"
	"sort"

	"github.com/rotisserie/eris"

	"github.com/justdata-platform/justdata/internal/demography"
	"github.com/justdata-platform/justdata/internal/model"
)

const shareEpsilon = 1e-6

// Verify checks the cross-table invariants the pipeline relies on before a
// report is finalized. A violation is an internal error: the engine, not
// the data, is wrong.
func (t *Tables) Verify() error {
	totalByYear := make(map[int]int64)
	var summaryTotal int64
	for _, s := range t.Summary {
		totalByYear[s.Year] += s.Total.Count
		summaryTotal += s.Total.Count

		if s.ByRace != nil {
			var classSum int64
			for _, m := range s.ByRace {
				classSum += m.Count
			}
			if classSum != s.Total.Count {
				return eris.Errorf("aggregate: summary (%s, %d) race classes sum %d, total %d",
					s.CountyCode, s.Year, classSum, s.Total.Count)
			}
		}
	}

	if len(t.ByDemographic) > 0 {
		demogByYear := make(map[int]int64)
		for _, d := range t.ByDemographic {
			demogByYear[d.Year] += d.Count
			if d.ShareOfTotal < -shareEpsilon || d.ShareOfTotal > 100+shareEpsilon {
				return eris.Errorf("aggregate: demographic share %f out of range", d.ShareOfTotal)
			}
		}
		for year, count := range demogByYear {
			if count != totalByYear[year] {
				return eris.Errorf("aggregate: demographic counts for %d sum %d, summary total %d",
					year, count, totalByYear[year])
			}
		}
	}

	var lenderTotal int64
	for _, l := range t.ByLender.All {
		lenderTotal += l.Total.Count
	}
	if lenderTotal != summaryTotal {
		return eris.Errorf("aggregate: lender totals sum %d, summary total %d", lenderTotal, summaryTotal)
	}

	for _, c := range t.Concentration {
		if c.HHI == nil {
			continue
		}
		if *c.HHI < -shareEpsilon || *c.HHI > 10000+shareEpsilon || math.IsNaN(*c.HHI) {
			return eris.Errorf("aggregate: HHI %f out of [0, 10000] for %d", *c.HHI, c.Year)
		}
	}

	for _, tr := range t.Trends {
		if tr.Count != totalByYear[tr.Year] {
			return eris.Errorf("aggregate: trend count for %d is %d, summary total %d",
				tr.Year, tr.Count, totalByYear[tr.Year])
		}
	}

	for _, r := range t.ByIncomeNeighborhood.Rows {
		if r.LendingShare < -shareEpsilon || r.LendingShare > 100+shareEpsilon {
			return eris.Errorf("aggregate: lending share %f out of range for %s/%s",
				r.LendingShare, r.Dimension, r.Bucket)
		}
	}
	return nil
}

// AttachQuartileRows appends minority-quartile rows computed by the census
// join: boundaries come from the census tract distribution; lending volume
// comes from the per-tract activity the engine retained. Rows carry the
// census-side household share for each quartile when provided.
func (t *Tables) AttachQuartileRows(b model.QuartileBoundaries, denominator model.Denominator, censusShares map[model.MinorityQuartile]float64) {
	type cell struct {
		count  int64
		amount float64
	}
	byYear := make(map[int]map[model.MinorityQuartile]*cell)
	yearTotals := make(map[int]int64)
	for _, ta := range t.TractActivity {
		yearTotals[ta.Year] += ta.Count
		if ta.MinorityPct == nil {
			continue
		}
		q := demography.QuartileFor(b, *ta.MinorityPct)
		cells := byYear[ta.Year]
		if cells == nil {
			cells = make(map[model.MinorityQuartile]*cell)
			byYear[ta.Year] = cells
		}
		c := cells[q]
		if c == nil {
			c = &cell{}
			cells[q] = c
		}
		c.count += ta.Count
		c.amount += ta.Amount
	}

	years := make([]int, 0, len(byYear))
	for y := range byYear {
		years = append(years, y)
	}
	sort.Ints(years)

	quartiles := model.AllMinorityQuartiles()
	for _, year := range years {
		cells := byYear[year]
		var groupSum int64
		for _, q := range quartiles {
			if c := cells[q]; c != nil {
				groupSum += c.count
			}
		}
		denom := float64(groupSum)
		if denominator == model.DenominatorYearTotal {
			denom = float64(yearTotals[year])
		}
		for _, q := range quartiles {
			row := model.IncomeNeighborhoodRow{
				Year:      year,
				Dimension: model.DimensionMinorityQuartile,
				Bucket:    string(q),
			}
			if c := cells[q]; c != nil {
				row.Count = c.count
				row.Amount = c.amount
			}
			row.LendingShare = share(row.Count, denom)
			if censusShares != nil {
				if cs, ok := censusShares[q]; ok {
					v := cs
					row.CensusShare = &v
				}
			}
			t.ByIncomeNeighborhood.Rows = append(t.ByIncomeNeighborhood.Rows, row)
		}
	}
	boundaries := b
	t.ByIncomeNeighborhood.MinorityQuartiles = &boundaries
}
