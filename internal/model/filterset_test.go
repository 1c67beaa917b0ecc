package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFilterSetCanonicalize_SortsAndDedupes(t *testing.T) {
	t.Parallel()

	f := FilterSet{
		DataDomain:   DomainMortgage,
		Geography:    []string{"06073", "06037", "06059", "06037"},
		Years:        []int{2022, 2020, 2021, 2020},
		LoanPurposes: []LoanPurpose{PurposeRefinance, PurposeHomePurchase, PurposeRefinance},
		ActionsTaken: []ActionTaken{ActionDenied, ActionOriginated},
	}
	f.Canonicalize()

	assert.Equal(t, []string{"06037", "06059", "06073"}, f.Geography)
	assert.Equal(t, []int{2020, 2021, 2022}, f.Years)
	assert.Equal(t, []LoanPurpose{PurposeHomePurchase, PurposeRefinance}, f.LoanPurposes)
	assert.Equal(t, []ActionTaken{ActionDenied, ActionOriginated}, f.ActionsTaken)
}

func TestFilterSetHash_OrderIndependent(t *testing.T) {
	t.Parallel()

	a := FilterSet{
		DataDomain: DomainMortgage,
		Geography:  []string{"06073", "06037"},
		Years:      []int{2022, 2021},
	}
	b := FilterSet{
		DataDomain: DomainMortgage,
		Geography:  []string{"06037", "06073"},
		Years:      []int{2021, 2022},
	}

	assert.Equal(t, a.Hash(), b.Hash())
	assert.NotEmpty(t, a.Hash())
}

func TestFilterSetHash_DistinguishesFilters(t *testing.T) {
	t.Parallel()

	a := FilterSet{DataDomain: DomainMortgage, Geography: []string{"05143"}, Years: []int{2022}}
	b := FilterSet{DataDomain: DomainMortgage, Geography: []string{"05143"}, Years: []int{2021}}

	assert.NotEqual(t, a.Hash(), b.Hash())
}

func TestFilterSetDefaults(t *testing.T) {
	t.Parallel()

	var f FilterSet
	assert.True(t, f.ReverseMortgageExcluded(), "reverse mortgage exclusion defaults on")
	assert.Equal(t, PeerVolumeBand{Low: 0.5, High: 2.0}, f.Band())

	off := false
	f.ExcludeReverseMortgage = &off
	assert.False(t, f.ReverseMortgageExcluded())

	f.PeerVolumeBand = &PeerVolumeBand{Low: 0.8, High: 1.25}
	assert.Equal(t, PeerVolumeBand{Low: 0.8, High: 1.25}, f.Band())
}

func TestFilterSetJSONRoundTrip(t *testing.T) {
	t.Parallel()

	on := true
	f := FilterSet{
		DataDomain:             DomainMortgage,
		Geography:              []string{"05143"},
		Years:                  []int{2022},
		LoanPurposes:           []LoanPurpose{PurposeHomePurchase},
		ActionsTaken:           []ActionTaken{ActionOriginated},
		Occupancy:              []Occupancy{OccupancyOwner},
		Units:                  []UnitsBand{Units1, Units2, Units3, Units4},
		ConstructionMethods:    []ConstructionMethod{ConstructionSiteBuilt},
		ExcludeReverseMortgage: &on,
		SubjectLenderID:        "L42",
		PeerVolumeBand:         &PeerVolumeBand{Low: 0.5, High: 2.0},
	}

	b, err := json.Marshal(f)
	require.NoError(t, err)

	var got FilterSet
	require.NoError(t, json.Unmarshal(b, &got))
	assert.Equal(t, f, got)
}
