package demography

import (
	"reflect"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"

	"github.com/justdata-platform/justdata/internal/model"
)

func TestWeightedShares_CombinesCounties(t *testing.T) {
	row := WeightedShares(model.Vintage2020Decennial, []CountyPopulation{
		{TotalPopulation: 1000, Populations: map[string]int64{"white": 600, "black": 400}},
		{TotalPopulation: 3000, Populations: map[string]int64{"white": 900, "black": 2100}},
	})

	assert.Equal(t, model.Vintage2020Decennial, row.Vintage)
	assert.Equal(t, int64(4000), row.TotalPopulation)
	assert.Equal(t, int64(1500), row.Populations["white"])
	assert.Equal(t, int64(2500), row.Populations["black"])

	// 37.5 is also the population-weighted average of the per-county
	// white shares (60% at 1000 and 30% at 3000).
	assert.InDelta(t, 37.5, row.Shares["white"], 0.0001)
	assert.InDelta(t, 62.5, row.Shares["black"], 0.0001)
}

func TestWeightedShares_KeyUnion(t *testing.T) {
	row := WeightedShares(model.VintageLatestACS, []CountyPopulation{
		{TotalPopulation: 100, Populations: map[string]int64{"asian": 10}},
		{TotalPopulation: 100, Populations: map[string]int64{"hispanic": 30}},
	})

	assert.Equal(t, int64(10), row.Populations["asian"])
	assert.Equal(t, int64(30), row.Populations["hispanic"])
	assert.InDelta(t, 5.0, row.Shares["asian"], 0.0001)
	assert.InDelta(t, 15.0, row.Shares["hispanic"], 0.0001)
}

func TestWeightedShares_ZeroPopulation(t *testing.T) {
	row := WeightedShares(model.Vintage2010Decennial, []CountyPopulation{
		{TotalPopulation: 0, Populations: map[string]int64{"white": 0}},
	})

	assert.Zero(t, row.TotalPopulation)
	assert.Empty(t, row.Shares)
}

func TestWeightedShares_NoCounties(t *testing.T) {
	row := WeightedShares(model.VintageLatestACS, nil)

	assert.Zero(t, row.TotalPopulation)
	assert.Empty(t, row.Populations)
	assert.Empty(t, row.Shares)
}

type genCounty struct {
	Total    int64
	Minority int64
}

// toCounties caps each minority count at its county total so the shares
// behave like real population breakdowns.
func toCounties(gcs []genCounty) []CountyPopulation {
	out := make([]CountyPopulation, len(gcs))
	for i, gc := range gcs {
		minority := gc.Minority % (gc.Total + 1)
		out[i] = CountyPopulation{
			TotalPopulation: gc.Total,
			Populations:     map[string]int64{"minority": minority},
		}
	}
	return out
}

func TestWeightedShares_Properties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	countyGen := gen.SliceOf(gen.Struct(reflect.TypeOf(genCounty{}), map[string]gopter.Gen{
		"Total":    gen.Int64Range(1, 100000),
		"Minority": gen.Int64Range(0, 100000),
	})).SuchThat(func(gcs []genCounty) bool { return len(gcs) > 0 })

	properties.Property("combined share equals the weighted average", prop.ForAll(
		func(gcs []genCounty) bool {
			counties := toCounties(gcs)
			row := WeightedShares(model.VintageLatestACS, counties)

			var weighted, totalW float64
			for _, c := range counties {
				share := float64(c.Populations["minority"]) / float64(c.TotalPopulation) * 100
				weighted += float64(c.TotalPopulation) * share
				totalW += float64(c.TotalPopulation)
			}
			want := weighted / totalW

			return row.Shares["minority"] >= want-0.0001 && row.Shares["minority"] <= want+0.0001
		},
		countyGen,
	))

	properties.Property("shares stay within [0, 100]", prop.ForAll(
		func(gcs []genCounty) bool {
			row := WeightedShares(model.VintageLatestACS, toCounties(gcs))
			s := row.Shares["minority"]
			return s >= 0 && s <= 100.0001
		},
		countyGen,
	))

	properties.TestingRun(t)
}
