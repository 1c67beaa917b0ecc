package demography

import (
	"math"

	"github.com/justdata-platform/justdata/internal/model"
)

// TractStat is the per-tract input to quartile computation.
type TractStat struct {
	TractID     string
	Households  int64
	MinorityPct float64
}

// QuartileBoundaries computes the minority-percent cut points for the
// report's tract set: household-weighted mean and standard deviation,
// boundaries mean−σ / mean / mean+σ clamped to [0,100]. Tracts with zero
// households weigh one household so an all-zero set still resolves.
// Returns false when no tracts are present.
func QuartileBoundaries(tracts []TractStat) (model.QuartileBoundaries, bool) {
	if len(tracts) == 0 {
		return model.QuartileBoundaries{}, false
	}

	var totalW, sum float64
	for _, t := range tracts {
		w := float64(t.Households)
		if w <= 0 {
			w = 1
		}
		totalW += w
		sum += w * t.MinorityPct
	}
	mean := sum / totalW

	var sumSq float64
	for _, t := range tracts {
		w := float64(t.Households)
		if w <= 0 {
			w = 1
		}
		d := t.MinorityPct - mean
		sumSq += w * d * d
	}
	sigma := math.Sqrt(sumSq / totalW)

	return model.QuartileBoundaries{
		Mean:   mean,
		StdDev: sigma,
		LowMax: clampPct(mean - sigma),
		ModMax: clampPct(mean),
		MidMax: clampPct(mean + sigma),
	}, true
}

// QuartileFor labels a tract's minority percent against the boundaries:
// low [0, mean−σ), moderate [mean−σ, mean), middle [mean, mean+σ),
// high [mean+σ, 100].
func QuartileFor(b model.QuartileBoundaries, minorityPct float64) model.MinorityQuartile {
	switch {
	case minorityPct < b.LowMax:
		return model.QuartileLow
	case minorityPct < b.ModMax:
		return model.QuartileModerate
	case minorityPct < b.MidMax:
		return model.QuartileMiddle
	default:
		return model.QuartileHigh
	}
}

func clampPct(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
