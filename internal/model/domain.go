// Package model defines the request, report, job, and progress types shared
// by the analysis engine, the HTTP surface, and the export writers.
package model

// DataDomain identifies which warehouse dataset an analysis runs against.
type DataDomain string

const (
	DomainMortgage      DataDomain = "mortgage"
	DomainSmallBusiness DataDomain = "smallBusiness"
	DomainBranch        DataDomain = "branch"
)

// Valid reports whether d is a known data domain.
func (d DataDomain) Valid() bool {
	switch d {
	case DomainMortgage, DomainSmallBusiness, DomainBranch:
		return true
	}
	return false
}

// YearRange returns the inclusive span of calendar years the domain's
// warehouse tables cover. Requests outside the range are rejected at
// validation.
func (d DataDomain) YearRange() (int, int) {
	switch d {
	case DomainMortgage:
		return 2018, 2023
	case DomainSmallBusiness:
		return 2018, 2023
	case DomainBranch:
		return 2018, 2024
	default:
		return 0, 0
	}
}

// Vintage identifies a census data edition.
type Vintage string

const (
	Vintage2010Decennial Vintage = "2010-decennial"
	Vintage2020Decennial Vintage = "2020-decennial"
	VintageLatestACS     Vintage = "latest-acs-5yr"
)

// Valid reports whether v is a known vintage.
func (v Vintage) Valid() bool {
	switch v {
	case Vintage2010Decennial, Vintage2020Decennial, VintageLatestACS:
		return true
	}
	return false
}

// AllVintages lists the supported vintages oldest first.
func AllVintages() []Vintage {
	return []Vintage{Vintage2010Decennial, Vintage2020Decennial, VintageLatestACS}
}

// RaceEthnicity is the combined race/ethnicity tag derived from the
// applicant's ethnicity and race codes. Hispanic ethnicity takes precedence
// over any race code; otherwise race slots 1..5 are coalesced in order.
type RaceEthnicity string

const (
	RaceHispanic       RaceEthnicity = "hispanic"
	RaceNativeAmerican RaceEthnicity = "native-american"
	RaceAsian          RaceEthnicity = "asian"
	RaceBlack          RaceEthnicity = "black"
	RaceHPI            RaceEthnicity = "hpi"
	RaceWhite          RaceEthnicity = "white"
	RaceNoData         RaceEthnicity = "no-data"
)

// AllRaceEthnicities lists every tag in canonical display order.
// RaceNoData is last; table code relies on that.
func AllRaceEthnicities() []RaceEthnicity {
	return []RaceEthnicity{
		RaceHispanic,
		RaceNativeAmerican,
		RaceAsian,
		RaceBlack,
		RaceHPI,
		RaceWhite,
		RaceNoData,
	}
}

// IncomeBucket classifies a borrower or tract income relative to the MSA
// median family income, in percent: low ≤50, moderate (50,80], middle
// (80,120], upper >120. Unknown marks rows with a missing or zero base
// that are excluded from bucket totals and share denominators.
type IncomeBucket string

const (
	IncomeLow      IncomeBucket = "low"
	IncomeModerate IncomeBucket = "moderate"
	IncomeMiddle   IncomeBucket = "middle"
	IncomeUpper    IncomeBucket = "upper"
	IncomeUnknown  IncomeBucket = "unknown"
)

// IsLMI reports whether the bucket counts as low-to-moderate income.
func (b IncomeBucket) IsLMI() bool {
	return b == IncomeLow || b == IncomeModerate
}

// KnownIncomeBuckets lists the four real buckets lowest first, without
// IncomeUnknown.
func KnownIncomeBuckets() []IncomeBucket {
	return []IncomeBucket{IncomeLow, IncomeModerate, IncomeMiddle, IncomeUpper}
}

// MinorityQuartile labels a tract's position relative to the geography's
// minority-percentage distribution (mean ± one standard deviation).
type MinorityQuartile string

const (
	QuartileLow      MinorityQuartile = "low"
	QuartileModerate MinorityQuartile = "moderate"
	QuartileMiddle   MinorityQuartile = "middle"
	QuartileHigh     MinorityQuartile = "high"
)

// AllMinorityQuartiles lists the quartile labels lowest first.
func AllMinorityQuartiles() []MinorityQuartile {
	return []MinorityQuartile{QuartileLow, QuartileModerate, QuartileMiddle, QuartileHigh}
}

// LoanPurpose enumerates mortgage loan purposes accepted in a FilterSet.
type LoanPurpose string

const (
	PurposeHomePurchase     LoanPurpose = "home-purchase"
	PurposeHomeImprovement  LoanPurpose = "home-improvement"
	PurposeRefinance        LoanPurpose = "refinance"
	PurposeCashOutRefinance LoanPurpose = "cash-out-refinance"
	PurposeOther            LoanPurpose = "other"
)

// ActionTaken enumerates mortgage application outcomes.
type ActionTaken string

const (
	ActionOriginated          ActionTaken = "originated"
	ActionApprovedNotAccepted ActionTaken = "approved-not-accepted"
	ActionDenied              ActionTaken = "denied"
	ActionWithdrawn           ActionTaken = "withdrawn"
	ActionIncomplete          ActionTaken = "incomplete"
	ActionPurchased           ActionTaken = "purchased"
)

// Occupancy enumerates occupancy types.
type Occupancy string

const (
	OccupancyOwner    Occupancy = "owner"
	OccupancySecond   Occupancy = "second"
	OccupancyInvestor Occupancy = "investor"
)

// UnitsBand enumerates dwelling unit counts; "5+" covers multifamily.
type UnitsBand string

const (
	Units1     UnitsBand = "1"
	Units2     UnitsBand = "2"
	Units3     UnitsBand = "3"
	Units4     UnitsBand = "4"
	Units5Plus UnitsBand = "5+"
)

// ConstructionMethod enumerates construction methods.
type ConstructionMethod string

const (
	ConstructionSiteBuilt    ConstructionMethod = "site-built"
	ConstructionManufactured ConstructionMethod = "manufactured"
)

// LoanSizeCategory buckets small-business loan amounts. Boundaries follow
// the reporting convention for loans under one million dollars; amounts are
// warehouse-native thousands.
type LoanSizeCategory string

const (
	LoanSizeLE100K   LoanSizeCategory = "le-100k"
	LoanSize100K250K LoanSizeCategory = "100k-250k"
	LoanSize250K1M   LoanSizeCategory = "250k-1m"
)

// AllLoanSizes lists the size categories smallest first.
func AllLoanSizes() []LoanSizeCategory {
	return []LoanSizeCategory{LoanSizeLE100K, LoanSize100K250K, LoanSize250K1M}
}

// Denominator names the reference value percent shares are computed
// against. The effective choice is recorded in report metadata.
type Denominator string

const (
	// DenominatorYearTotal divides by the total count for the row's year.
	DenominatorYearTotal Denominator = "year-total"
	// DenominatorGroupSum divides by the sum of counts within the row's
	// classification group.
	DenominatorGroupSum Denominator = "group-sum"
	// DenominatorLoanSizeSum divides by the sum of the three small-business
	// loan-size categories.
	DenominatorLoanSizeSum Denominator = "loan-size-sum"
)

// Valid reports whether d is a known denominator choice.
func (d Denominator) Valid() bool {
	switch d {
	case DenominatorYearTotal, DenominatorGroupSum, DenominatorLoanSizeSum:
		return true
	}
	return false
}

// ConcentrationCategory buckets an HHI value.
type ConcentrationCategory string

const (
	ConcentrationUnconcentrated ConcentrationCategory = "unconcentrated"
	ConcentrationModerate       ConcentrationCategory = "moderate"
	ConcentrationHigh           ConcentrationCategory = "high"
)

// CategorizeHHI maps an HHI value to its category: <1500 unconcentrated,
// 1500..2500 moderate, >2500 high.
func CategorizeHHI(hhi float64) ConcentrationCategory {
	switch {
	case hhi < 1500:
		return ConcentrationUnconcentrated
	case hhi <= 2500:
		return ConcentrationModerate
	default:
		return ConcentrationHigh
	}
}

// TrendDirection is the arrow shown for a year-over-year change.
type TrendDirection string

const (
	TrendUp   TrendDirection = "up"
	TrendDown TrendDirection = "down"
	TrendFlat TrendDirection = "flat"
)

// DirectionFor maps a percent-change delta to its arrow. Changes smaller
// than 0.05 percentage points in magnitude read as flat.
func DirectionFor(deltaPct float64) TrendDirection {
	switch {
	case deltaPct >= 0.05:
		return TrendUp
	case deltaPct <= -0.05:
		return TrendDown
	default:
		return TrendFlat
	}
}

// NarrativeSection names an AI-authored prose section of a report.
type NarrativeSection string

const (
	SectionExecutiveSummary NarrativeSection = "executive-summary"
	SectionKeyFindings      NarrativeSection = "key-findings"
	SectionTrends           NarrativeSection = "trends"
	SectionBankStrategies   NarrativeSection = "bank-strategies"
	SectionCommunityImpact  NarrativeSection = "community-impact"
)

// TableAnnotation returns the section name for a two-paragraph annotation
// of a named report table.
func TableAnnotation(table string) NarrativeSection {
	return NarrativeSection("table:" + table)
}
