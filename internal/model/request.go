package model

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// GeographySelector is the request-side geography choice. Counties are
// five-character codes; metros are CBSA codes expanded to their member
// counties at ingest; states are two-character state FIPS codes expanded
// to every county in the state. At least one field must be non-empty.
type GeographySelector struct {
	Counties []string `json:"counties,omitempty" validate:"omitempty,dive,len=5,numeric"`
	Metros   []string `json:"metros,omitempty" validate:"omitempty,dive,len=5,numeric"`
	States   []string `json:"states,omitempty" validate:"omitempty,dive,len=2,numeric"`
}

// Empty reports whether no geography was selected.
func (g GeographySelector) Empty() bool {
	return len(g.Counties) == 0 && len(g.Metros) == 0 && len(g.States) == 0
}

// AnalysisRequest is the body of POST /analyze. App names the recipe;
// the recipe fixes the data domain and the report surface. Mortgage-only
// filter fields are ignored for other domains.
type AnalysisRequest struct {
	App       string            `json:"app" validate:"required"`
	Geography GeographySelector `json:"geography"`
	Years     []int             `json:"years" validate:"required,min=1,dive,gte=1990,lte=2100"`

	LoanPurposes        []LoanPurpose        `json:"loanPurposes,omitempty"`
	ActionsTaken        []ActionTaken        `json:"actionsTaken,omitempty"`
	Occupancy           []Occupancy          `json:"occupancy,omitempty"`
	Units               []UnitsBand          `json:"units,omitempty"`
	ConstructionMethods []ConstructionMethod `json:"constructionMethods,omitempty"`

	ExcludeReverseMortgage *bool `json:"excludeReverseMortgage,omitempty"`

	SubjectLenderID string          `json:"subjectLenderId,omitempty"`
	PeerVolumeBand  *PeerVolumeBand `json:"peerVolumeBand,omitempty"`

	// Denominator overrides the recipe's percent-share denominator.
	Denominator Denominator `json:"denominator,omitempty"`

	// NarrativeSections overrides the recipe's narrative section list.
	// An explicit empty list disables narratives for the job.
	NarrativeSections []NarrativeSection `json:"narrativeSections,omitempty"`
}

// Validate checks the request shape and the cross-field rules that struct
// tags cannot express. It does not check years against the domain range;
// that needs the recipe's domain and happens at submit.
func (r *AnalysisRequest) Validate() error {
	if err := validate.Struct(r); err != nil {
		return &ValidationError{Field: firstFieldError(err), Reason: err.Error()}
	}
	if r.Geography.Empty() {
		return &ValidationError{Field: "geography", Reason: "at least one county, metro, or state is required"}
	}
	for _, p := range r.LoanPurposes {
		if !validPurpose(p) {
			return &ValidationError{Field: "loanPurposes", Reason: fmt.Sprintf("unknown loan purpose %q", p)}
		}
	}
	for _, a := range r.ActionsTaken {
		if !validAction(a) {
			return &ValidationError{Field: "actionsTaken", Reason: fmt.Sprintf("unknown action %q", a)}
		}
	}
	for _, o := range r.Occupancy {
		if !validOccupancy(o) {
			return &ValidationError{Field: "occupancy", Reason: fmt.Sprintf("unknown occupancy %q", o)}
		}
	}
	for _, u := range r.Units {
		if !validUnits(u) {
			return &ValidationError{Field: "units", Reason: fmt.Sprintf("unknown units band %q", u)}
		}
	}
	for _, c := range r.ConstructionMethods {
		if !validConstruction(c) {
			return &ValidationError{Field: "constructionMethods", Reason: fmt.Sprintf("unknown construction method %q", c)}
		}
	}
	if b := r.PeerVolumeBand; b != nil {
		if b.Low <= 0 || b.High <= 0 || b.Low >= b.High {
			return &ValidationError{Field: "peerVolumeBand", Reason: "band requires 0 < low < high"}
		}
	}
	if r.Denominator != "" && !r.Denominator.Valid() {
		return &ValidationError{Field: "denominator", Reason: fmt.Sprintf("unknown denominator %q", r.Denominator)}
	}
	return nil
}

// ValidateYears checks the request years against the domain's supported
// range. Split from Validate because the domain comes from the recipe.
func (r *AnalysisRequest) ValidateYears(domain DataDomain) error {
	lo, hi := domain.YearRange()
	for _, y := range r.Years {
		if y < lo || y > hi {
			return &ValidationError{
				Field:  "years",
				Reason: fmt.Sprintf("year %d outside the %s range %d..%d", y, domain, lo, hi),
			}
		}
	}
	return nil
}

// FilterSet resolves the request into the canonical FilterSet for the
// given domain and expanded county set.
func (r *AnalysisRequest) FilterSet(domain DataDomain, counties []string) FilterSet {
	f := FilterSet{
		DataDomain:      domain,
		Geography:       counties,
		Years:           r.Years,
		SubjectLenderID: r.SubjectLenderID,
		PeerVolumeBand:  r.PeerVolumeBand,
	}
	if domain == DomainMortgage {
		f.LoanPurposes = r.LoanPurposes
		f.ActionsTaken = r.ActionsTaken
		f.Occupancy = r.Occupancy
		f.Units = r.Units
		f.ConstructionMethods = r.ConstructionMethods
		f.ExcludeReverseMortgage = r.ExcludeReverseMortgage
	}
	f.Canonicalize()
	return f
}

func firstFieldError(err error) string {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		return verrs[0].Field()
	}
	return ""
}

func validPurpose(p LoanPurpose) bool {
	switch p {
	case PurposeHomePurchase, PurposeHomeImprovement, PurposeRefinance,
		PurposeCashOutRefinance, PurposeOther:
		return true
	}
	return false
}

func validAction(a ActionTaken) bool {
	switch a {
	case ActionOriginated, ActionApprovedNotAccepted, ActionDenied,
		ActionWithdrawn, ActionIncomplete, ActionPurchased:
		return true
	}
	return false
}

func validOccupancy(o Occupancy) bool {
	switch o {
	case OccupancyOwner, OccupancySecond, OccupancyInvestor:
		return true
	}
	return false
}

func validUnits(u UnitsBand) bool {
	switch u {
	case Units1, Units2, Units3, Units4, Units5Plus:
		return true
	}
	return false
}

func validConstruction(c ConstructionMethod) bool {
	switch c {
	case ConstructionSiteBuilt, ConstructionManufactured:
		return true
	}
	return false
}
