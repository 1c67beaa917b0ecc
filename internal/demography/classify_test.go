package demography

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"

	"github.com/justdata-platform/justdata/internal/model"
)

func TestCoalesceRaceEthnicity(t *testing.T) {
	tests := []struct {
		name        string
		ethnicities []int
		races       []int
		want        model.RaceEthnicity
	}{
		{"hispanic primary code", []int{1}, []int{5}, model.RaceHispanic},
		{"hispanic subcategory 11", []int{11}, []int{3}, model.RaceHispanic},
		{"hispanic subcategory 14", []int{0, 14}, []int{5}, model.RaceHispanic},
		{"hispanic beats every race slot", []int{2, 1}, []int{1, 2, 3}, model.RaceHispanic},
		{"native american", nil, []int{1}, model.RaceNativeAmerican},
		{"asian primary", nil, []int{2}, model.RaceAsian},
		{"asian subcategory 21", nil, []int{21}, model.RaceAsian},
		{"asian subcategory 27", nil, []int{27}, model.RaceAsian},
		{"black", nil, []int{3}, model.RaceBlack},
		{"hpi primary", nil, []int{4}, model.RaceHPI},
		{"hpi subcategory 44", nil, []int{44}, model.RaceHPI},
		{"white", nil, []int{5}, model.RaceWhite},
		{"first usable race slot wins", nil, []int{3, 5}, model.RaceBlack},
		{"empty slots skipped", nil, []int{0, 0, 5}, model.RaceWhite},
		{"withheld 6 skipped", nil, []int{6, 3}, model.RaceBlack},
		{"withheld 7 skipped", nil, []int{7, 0, 2}, model.RaceAsian},
		{"all withheld is no data", nil, []int{6, 7}, model.RaceNoData},
		{"no codes at all", nil, nil, model.RaceNoData},
		{"non-hispanic ethnicity alone", []int{2}, nil, model.RaceNoData},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CoalesceRaceEthnicity(tt.ethnicities, tt.races))
		})
	}
}

func TestIncomeBucketFromPct(t *testing.T) {
	tests := []struct {
		pct  float64
		want model.IncomeBucket
	}{
		{0, model.IncomeLow},
		{50, model.IncomeLow},
		{50.01, model.IncomeModerate},
		{80, model.IncomeModerate},
		{80.01, model.IncomeMiddle},
		{120, model.IncomeMiddle},
		{120.01, model.IncomeUpper},
		{300, model.IncomeUpper},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, IncomeBucketFromPct(tt.pct), "pct %v", tt.pct)
	}
}

func TestBorrowerIncomeBucket(t *testing.T) {
	income := func(v float64) *float64 { return &v }

	// $40k against an $80k median is exactly 50 percent.
	assert.Equal(t, model.IncomeLow, BorrowerIncomeBucket(income(40), income(80000)))
	assert.Equal(t, model.IncomeModerate, BorrowerIncomeBucket(income(64), income(80000)))
	assert.Equal(t, model.IncomeMiddle, BorrowerIncomeBucket(income(96), income(80000)))
	assert.Equal(t, model.IncomeUpper, BorrowerIncomeBucket(income(100), income(80000)))

	assert.Equal(t, model.IncomeUnknown, BorrowerIncomeBucket(nil, income(80000)))
	assert.Equal(t, model.IncomeUnknown, BorrowerIncomeBucket(income(40), nil))
	assert.Equal(t, model.IncomeUnknown, BorrowerIncomeBucket(income(40), income(0)))
	assert.Equal(t, model.IncomeUnknown, BorrowerIncomeBucket(income(40), income(-1)))
}

func TestTractIncomeBucket(t *testing.T) {
	pct := func(v float64) *float64 { return &v }

	assert.Equal(t, model.IncomeUnknown, TractIncomeBucket(nil))
	assert.Equal(t, model.IncomeLow, TractIncomeBucket(pct(42)))
	assert.Equal(t, model.IncomeModerate, TractIncomeBucket(pct(79.9)))
	assert.Equal(t, model.IncomeUpper, TractIncomeBucket(pct(150)))
}

func TestIsMMCT(t *testing.T) {
	pct := func(v float64) *float64 { return &v }

	assert.False(t, IsMMCT(nil))
	assert.False(t, IsMMCT(pct(49.99)))
	assert.True(t, IsMMCT(pct(50)))
	assert.True(t, IsMMCT(pct(98.6)))
}

func TestCoalesce_Properties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	codesGen := gen.SliceOfN(5, gen.IntRange(0, 50))

	properties.Property("always yields a canonical class", prop.ForAll(
		func(ethnicities, races []int) bool {
			got := CoalesceRaceEthnicity(ethnicities, races)
			for _, c := range model.AllRaceEthnicities() {
				if got == c {
					return true
				}
			}
			return false
		},
		codesGen, codesGen,
	))

	properties.Property("classification is stable", prop.ForAll(
		func(ethnicities, races []int) bool {
			return CoalesceRaceEthnicity(ethnicities, races) == CoalesceRaceEthnicity(ethnicities, races)
		},
		codesGen, codesGen,
	))

	properties.Property("any hispanic ethnicity code dominates", prop.ForAll(
		func(races []int) bool {
			return CoalesceRaceEthnicity([]int{13}, races) == model.RaceHispanic
		},
		codesGen,
	))

	properties.Property("buckets cover every finite percentage", prop.ForAll(
		func(pct float64) bool {
			b := IncomeBucketFromPct(pct)
			return b != model.IncomeUnknown
		},
		gen.Float64Range(-10, 1000),
	))

	properties.TestingRun(t)
}
