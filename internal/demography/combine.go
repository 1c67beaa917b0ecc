package demography

import "github.com/justdata-platform/justdata/internal/model"

// CountyPopulation is one county's population breakdown, the input to the
// multi-county combine.
type CountyPopulation struct {
	TotalPopulation int64
	Populations     map[string]int64
}

// WeightedShares combines county breakdowns into the context row for one
// vintage. Absolute counts sum; shares are recomputed from the summed
// counts, which is exactly the population-weighted average of the
// per-county percentages.
func WeightedShares(vintage model.Vintage, counties []CountyPopulation) model.ContextRow {
	row := model.ContextRow{
		Vintage:     vintage,
		Populations: make(map[string]int64),
		Shares:      make(map[string]float64),
	}
	for _, c := range counties {
		row.TotalPopulation += c.TotalPopulation
		for key, count := range c.Populations {
			row.Populations[key] += count
		}
	}
	if row.TotalPopulation > 0 {
		for key, count := range row.Populations {
			row.Shares[key] = float64(count) / float64(row.TotalPopulation) * 100
		}
	}
	return row
}
