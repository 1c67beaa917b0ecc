package model

import "time"

// ClassMetric is a count plus a summed loan amount. Amounts are
// warehouse-native thousands of dollars; presentation layers multiply by
// 1000 at the boundary.
type ClassMetric struct {
	Count  int64   `json:"count"`
	Amount float64 `json:"amount"`
}

// Add accumulates another metric into m.
func (m *ClassMetric) Add(count int64, amount float64) {
	m.Count += count
	m.Amount += amount
}

// SummaryRow is one (county, year) cell of the summary table.
type SummaryRow struct {
	CountyCode string `json:"countyCode"`
	Year       int    `json:"year"`

	Total            ClassMetric                      `json:"total"`
	ByRace           map[RaceEthnicity]ClassMetric    `json:"byRace,omitempty"`
	ByBorrowerIncome map[IncomeBucket]ClassMetric     `json:"byBorrowerIncome,omitempty"`
	ByTractIncome    map[IncomeBucket]ClassMetric     `json:"byTractIncome,omitempty"`
	ByLoanSize       map[LoanSizeCategory]ClassMetric `json:"byLoanSize,omitempty"`
	MMCT             ClassMetric                      `json:"mmct"`
	LMITract         ClassMetric                      `json:"lmiTract"`
	LMIBorrower      ClassMetric                      `json:"lmiBorrower"`
}

// DemographicRow is one (year, race/ethnicity) cell of byDemographic.
// PopulationShare is filled by the census join and stays nil when the
// demographic context is unavailable.
type DemographicRow struct {
	Year            int           `json:"year"`
	Class           RaceEthnicity `json:"class"`
	Count           int64         `json:"count"`
	Amount          float64       `json:"amount"`
	ShareOfTotal    float64       `json:"shareOfTotal"`
	PopulationShare *float64      `json:"populationShare,omitempty"`
}

// IncomeDimension distinguishes the row families of byIncomeNeighborhood.
// Loan-size rows appear only on small-business reports.
type IncomeDimension string

const (
	DimensionBorrowerIncome   IncomeDimension = "borrower-income"
	DimensionTractIncome      IncomeDimension = "tract-income"
	DimensionMinorityQuartile IncomeDimension = "minority-quartile"
	DimensionLoanSize         IncomeDimension = "loan-size"
)

// IncomeNeighborhoodRow is one (year, dimension, bucket) cell.
// CensusShare carries the census-side share for tract rows once the join
// has run.
type IncomeNeighborhoodRow struct {
	Year         int             `json:"year"`
	Dimension    IncomeDimension `json:"dimension"`
	Bucket       string          `json:"bucket"`
	Count        int64           `json:"count"`
	Amount       float64         `json:"amount"`
	LendingShare float64         `json:"lendingShare"`
	CensusShare  *float64        `json:"censusShare,omitempty"`
}

// QuartileBoundaries are the minority-percent cut points computed from
// the report's tract set (household-weighted mean ± one standard
// deviation, clamped to [0,100]).
type QuartileBoundaries struct {
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"stdDev"`
	LowMax float64 `json:"lowMax"` // upper edge of "low" (mean - stddev)
	ModMax float64 `json:"modMax"` // upper edge of "moderate" (mean)
	MidMax float64 `json:"midMax"` // upper edge of "middle" (mean + stddev)
}

// IncomeNeighborhoodTable groups the income/neighborhood rows with the
// quartile boundaries the frontend renders as ranges.
type IncomeNeighborhoodTable struct {
	Rows              []IncomeNeighborhoodRow `json:"rows"`
	MinorityQuartiles *QuartileBoundaries     `json:"minorityQuartiles,omitempty"`
}

// LenderRow is one lender's totals with demographic breakdowns.
type LenderRow struct {
	LenderID        string                        `json:"lenderId"`
	LatestYearCount int64                         `json:"latestYearCount"`
	Total           ClassMetric                   `json:"total"`
	ByRace          map[RaceEthnicity]ClassMetric `json:"byRace"`
	LMIBorrower     ClassMetric                   `json:"lmiBorrower"`
	LMITract        ClassMetric                   `json:"lmiTract"`
	MMCT            ClassMetric                   `json:"mmct"`
}

// LenderTable is byLender: rows ordered by latest-year count descending
// (ties by lender id ascending), truncated to TopN. All retains the full
// ordering for the "all lenders" expansion.
type LenderTable struct {
	Rows    []LenderRow `json:"rows"`
	All     []LenderRow `json:"all,omitempty"`
	TopN    int         `json:"topN"`
	HasMore bool        `json:"hasMore"`
}

// LenderYearRow is one (lender, year) cell of the byLenderByYear panel.
type LenderYearRow struct {
	LenderID string  `json:"lenderId"`
	Year     int     `json:"year"`
	Count    int64   `json:"count"`
	Amount   float64 `json:"amount"`
}

// ConcentrationRow is one year's Herfindahl–Hirschman value. HHI is nil
// when the year has no lenders.
type ConcentrationRow struct {
	Year     int                   `json:"year"`
	HHI      *float64              `json:"hhi"`
	Category ConcentrationCategory `json:"category,omitempty"`
	Basis    string                `json:"basis"` // "amount" or "count"
}

// TrendRow is one year of the trends table. Delta and percent-change
// fields are nil for the first year and for zero denominators.
type TrendRow struct {
	Year            int            `json:"year"`
	Count           int64          `json:"count"`
	Amount          float64        `json:"amount"`
	CountDelta      *int64         `json:"countDelta,omitempty"`
	AmountDelta     *float64       `json:"amountDelta,omitempty"`
	CountPctChange  *float64       `json:"countPctChange,omitempty"`
	AmountPctChange *float64       `json:"amountPctChange,omitempty"`
	Direction       TrendDirection `json:"direction,omitempty"`
}

// ContextRow is the demographic context for one vintage, combined across
// the geography (counts summed, shares population-weighted). Share keys
// are the RaceEthnicity tags plus "other" and "two-or-more".
type ContextRow struct {
	Vintage         Vintage            `json:"vintage"`
	TotalPopulation int64              `json:"totalPopulation"`
	Populations     map[string]int64   `json:"populations"`
	Shares          map[string]float64 `json:"shares"`
}

// DemographicContext holds one ContextRow per fetched vintage. Empty when
// the census join failed; the failure is recorded as a warning.
type DemographicContext struct {
	Rows []ContextRow `json:"rows"`
}

// Empty reports whether no census context was attached.
func (d DemographicContext) Empty() bool { return len(d.Rows) == 0 }

// PeerMeanRow is the arithmetic mean of the peer set's lender metrics.
type PeerMeanRow struct {
	LatestYearCount  float64                   `json:"latestYearCount"`
	TotalCount       float64                   `json:"totalCount"`
	TotalAmount      float64                   `json:"totalAmount"`
	ByRaceShare      map[RaceEthnicity]float64 `json:"byRaceShare"`
	LMIBorrowerShare float64                   `json:"lmiBorrowerShare"`
}

// PeerComparison pairs the subject lender's row with the mean of the
// peers inside the volume band. PeerMean is nil when the band matched no
// lenders; that case also records a warning.
type PeerComparison struct {
	SubjectID string         `json:"subjectId"`
	Subject   *LenderRow     `json:"subject,omitempty"`
	Band      PeerVolumeBand `json:"band"`
	PeerIDs   []string       `json:"peerIds"`
	PeerMean  *PeerMeanRow   `json:"peerMean,omitempty"`
}

// BranchRow is one physical branch location, kept on reports produced by
// the branch-map application.
type BranchRow struct {
	LenderID   string   `json:"lenderId"`
	BranchID   string   `json:"branchId"`
	Name       string   `json:"name,omitempty"`
	CountyCode string   `json:"countyCode"`
	TractID    string   `json:"tractId"`
	Year       int      `json:"year"`
	Deposits   float64  `json:"deposits"`
	Latitude   *float64 `json:"latitude,omitempty"`
	Longitude  *float64 `json:"longitude,omitempty"`
}

// TractBoundary is a GeoJSON-ready tract outline: one or more exterior
// rings of [longitude, latitude] pairs.
type TractBoundary struct {
	TractID string         `json:"tractId"`
	Rings   [][][2]float64 `json:"rings"`
}

// Warning is a non-fatal degradation recorded in metadata.
type Warning struct {
	Code   string `json:"code"`
	Detail string `json:"detail,omitempty"`
}

// Warning codes attached by the pipeline.
const (
	WarnCensusUnavailable = "census-unavailable"
	WarnNarrativeFailed   = "narrative-failed"
	WarnPeerSetEmpty      = "peer-set-empty"
)

// StageTiming records how long one pipeline stage took.
type StageTiming struct {
	Stage  string `json:"stage"`
	Millis int64  `json:"millis"`
}

// Metadata describes how a report was produced.
type Metadata struct {
	JobID              string        `json:"jobId"`
	DataDomain         DataDomain    `json:"dataDomain"`
	Recipe             string        `json:"recipe"`
	FilterSet          FilterSet     `json:"filterSet"`
	Vintages           []Vintage     `json:"vintages"`
	QueryHash          string        `json:"queryHash"`
	Denominator        Denominator   `json:"denominator"`
	ConcentrationBasis string        `json:"concentrationBasis"`
	TopLenderN         int           `json:"topLenderN"`
	CreatedAt          time.Time     `json:"createdAt"`
	Warnings           []Warning     `json:"warnings,omitempty"`
	Timings            []StageTiming `json:"timings,omitempty"`
	Version            string        `json:"version"`
}

// Report is the finalized analysis artifact. Immutable once stored; the
// JSON encoding round-trips losslessly and is the whole input to the
// export writers.
type Report struct {
	Metadata             Metadata                    `json:"metadata"`
	Summary              []SummaryRow                `json:"summary"`
	ByDemographic        []DemographicRow            `json:"byDemographic"`
	ByIncomeNeighborhood IncomeNeighborhoodTable     `json:"byIncomeNeighborhood"`
	ByLender             LenderTable                 `json:"byLender"`
	ByLenderByYear       []LenderYearRow             `json:"byLenderByYear"`
	Concentration        []ConcentrationRow          `json:"concentration"`
	Trends               []TrendRow                  `json:"trends"`
	DemographicContext   DemographicContext          `json:"demographicContext"`
	PeerComparison       *PeerComparison             `json:"peerComparison,omitempty"`
	Branches             []BranchRow                 `json:"branches,omitempty"`
	TractBoundaries      []TractBoundary             `json:"tractBoundaries,omitempty"`
	Narratives           map[NarrativeSection]string `json:"narratives"`
}

// AddWarning appends a warning to the report metadata.
func (r *Report) AddWarning(code, detail string) {
	r.Metadata.Warnings = append(r.Metadata.Warnings, Warning{Code: code, Detail: detail})
}
