package model

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"slices"
)

// DefaultPeerBandLow and DefaultPeerBandHigh bound the peer volume band
// when a request does not override it.
const (
	DefaultPeerBandLow  = 0.5
	DefaultPeerBandHigh = 2.0
)

// PeerVolumeBand is a multiplicative window around the subject lender's
// latest-year volume that defines its peer set.
type PeerVolumeBand struct {
	Low  float64 `json:"low"`
	High float64 `json:"high"`
}

// FilterSet is the canonical, fully-resolved filter a job runs with.
// Geography holds five-character county codes only; metro and state
// selections are expanded before a FilterSet is constructed. The mortgage
// fields are nil/empty for other domains.
type FilterSet struct {
	DataDomain DataDomain `json:"dataDomain"`
	Geography  []string   `json:"geography"`
	Years      []int      `json:"years"`

	LoanPurposes        []LoanPurpose        `json:"loanPurposes,omitempty"`
	ActionsTaken        []ActionTaken        `json:"actionsTaken,omitempty"`
	Occupancy           []Occupancy          `json:"occupancy,omitempty"`
	Units               []UnitsBand          `json:"units,omitempty"`
	ConstructionMethods []ConstructionMethod `json:"constructionMethods,omitempty"`

	// ExcludeReverseMortgage defaults to true when nil.
	ExcludeReverseMortgage *bool `json:"excludeReverseMortgage,omitempty"`

	SubjectLenderID string          `json:"subjectLenderId,omitempty"`
	PeerVolumeBand  *PeerVolumeBand `json:"peerVolumeBand,omitempty"`
}

// ReverseMortgageExcluded resolves the ExcludeReverseMortgage default.
func (f *FilterSet) ReverseMortgageExcluded() bool {
	if f.ExcludeReverseMortgage == nil {
		return true
	}
	return *f.ExcludeReverseMortgage
}

// Band resolves the peer volume band default (0.5..2.0).
func (f *FilterSet) Band() PeerVolumeBand {
	if f.PeerVolumeBand == nil {
		return PeerVolumeBand{Low: DefaultPeerBandLow, High: DefaultPeerBandHigh}
	}
	return *f.PeerVolumeBand
}

// Canonicalize sorts and dedupes the geography, years, and enum sets so
// that equal filters compare and hash equal regardless of input order.
// The metadata echo in a report is always canonical.
func (f *FilterSet) Canonicalize() {
	f.Geography = sortedUnique(f.Geography)
	f.Years = sortedUniqueInts(f.Years)
	f.LoanPurposes = sortedUnique(f.LoanPurposes)
	f.ActionsTaken = sortedUnique(f.ActionsTaken)
	f.Occupancy = sortedUnique(f.Occupancy)
	f.Units = sortedUnique(f.Units)
	f.ConstructionMethods = sortedUnique(f.ConstructionMethods)
}

// Hash returns a stable hex SHA-256 of the canonical JSON encoding. Used
// as the warehouse query hash recorded in metadata and for resubmission
// equality checks.
func (f FilterSet) Hash() string {
	c := f
	c.Canonicalize()
	b, err := json.Marshal(c)
	if err != nil {
		// Marshal of a plain struct cannot fail; keep the signature simple.
		return ""
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func sortedUnique[T ~string](in []T) []T {
	if len(in) == 0 {
		return in
	}
	out := slices.Clone(in)
	slices.Sort(out)
	return slices.Compact(out)
}

func sortedUniqueInts(in []int) []int {
	if len(in) == 0 {
		return in
	}
	out := slices.Clone(in)
	slices.Sort(out)
	return slices.Compact(out)
}
