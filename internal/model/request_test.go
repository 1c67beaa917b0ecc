package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validRequest() AnalysisRequest {
	return AnalysisRequest{
		App:       "mortgage",
		Geography: GeographySelector{Counties: []string{"05143"}},
		Years:     []int{2022},
	}
}

func TestAnalysisRequestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*AnalysisRequest)
		wantErr string
	}{
		{
			name:   "valid minimal",
			mutate: func(r *AnalysisRequest) {},
		},
		{
			name:    "missing app",
			mutate:  func(r *AnalysisRequest) { r.App = "" },
			wantErr: "App",
		},
		{
			name:    "empty geography",
			mutate:  func(r *AnalysisRequest) { r.Geography = GeographySelector{} },
			wantErr: "geography",
		},
		{
			name:    "no years",
			mutate:  func(r *AnalysisRequest) { r.Years = nil },
			wantErr: "Years",
		},
		{
			name:    "county code wrong length",
			mutate:  func(r *AnalysisRequest) { r.Geography.Counties = []string{"5143"} },
			wantErr: "Counties",
		},
		{
			name:    "unknown loan purpose",
			mutate:  func(r *AnalysisRequest) { r.LoanPurposes = []LoanPurpose{"helicopter"} },
			wantErr: "loanPurposes",
		},
		{
			name:    "unknown action",
			mutate:  func(r *AnalysisRequest) { r.ActionsTaken = []ActionTaken{"granted"} },
			wantErr: "actionsTaken",
		},
		{
			name:    "inverted peer band",
			mutate:  func(r *AnalysisRequest) { r.PeerVolumeBand = &PeerVolumeBand{Low: 2, High: 1} },
			wantErr: "peerVolumeBand",
		},
		{
			name:    "zero band edge",
			mutate:  func(r *AnalysisRequest) { r.PeerVolumeBand = &PeerVolumeBand{Low: 0, High: 2} },
			wantErr: "peerVolumeBand",
		},
		{
			name:    "unknown denominator",
			mutate:  func(r *AnalysisRequest) { r.Denominator = "median" },
			wantErr: "denominator",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			req := validRequest()
			tt.mutate(&req)

			err := req.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Contains(t, verr.Error(), tt.wantErr)
		})
	}
}

func TestAnalysisRequestValidateYears(t *testing.T) {
	t.Parallel()

	req := validRequest()
	req.Years = []int{2022}
	assert.NoError(t, req.ValidateYears(DomainMortgage))

	req.Years = []int{1999}
	err := req.ValidateYears(DomainMortgage)
	require.Error(t, err)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "years", verr.Field)
}

func TestAnalysisRequestFilterSet_MortgageFieldsOnlyForMortgage(t *testing.T) {
	t.Parallel()

	req := validRequest()
	req.LoanPurposes = []LoanPurpose{PurposeHomePurchase}
	req.Occupancy = []Occupancy{OccupancyOwner}

	fs := req.FilterSet(DomainMortgage, []string{"05143"})
	assert.Equal(t, DomainMortgage, fs.DataDomain)
	assert.Equal(t, []LoanPurpose{PurposeHomePurchase}, fs.LoanPurposes)

	fs = req.FilterSet(DomainSmallBusiness, []string{"05143"})
	assert.Equal(t, DomainSmallBusiness, fs.DataDomain)
	assert.Empty(t, fs.LoanPurposes, "mortgage filters dropped for other domains")
}

func TestAnalysisRequestFilterSet_Canonical(t *testing.T) {
	t.Parallel()

	req := validRequest()
	req.Years = []int{2022, 2020, 2021}

	fs := req.FilterSet(DomainMortgage, []string{"06073", "06037"})
	assert.Equal(t, []string{"06037", "06073"}, fs.Geography)
	assert.Equal(t, []int{2020, 2021, 2022}, fs.Years)
}
