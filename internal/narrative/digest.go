package narrative

import (
	"encoding/json"
	"math"
	"sort"

	"github.com/rotisserie/eris"

	"github.com/justdata-platform/justdata/internal/model"
	"github.com/justdata-platform/justdata/internal/recipe"
)

// maxDigestLenders caps the lender rows fed into a prompt.
const maxDigestLenders = 10

type metaDigest struct {
	App      string `json:"app"`
	Domain   string `json:"domain"`
	Counties int    `json:"counties"`
	Years    []int  `json:"years"`
}

type yearDigest struct {
	Year            int     `json:"year"`
	Count           int64   `json:"count"`
	AmountThousands string  `json:"amountThousands"`
	MMCTSharePct    float64 `json:"mmctSharePct"`
	LMIBorrowerPct  float64 `json:"lmiBorrowerSharePct"`
}

type trendDigest struct {
	Year            int      `json:"year"`
	Count           int64    `json:"count"`
	AmountThousands string   `json:"amountThousands"`
	CountPctChange  *float64 `json:"countPctChange,omitempty"`
	Direction       string   `json:"direction,omitempty"`
}

type concentrationDigest struct {
	Year     int      `json:"year"`
	HHI      *float64 `json:"hhi,omitempty"`
	Category string   `json:"category,omitempty"`
	Basis    string   `json:"basis"`
}

type demographicDigest struct {
	Year               int      `json:"year"`
	Class              string   `json:"class"`
	Count              int64    `json:"count"`
	SharePct           float64  `json:"sharePct"`
	PopulationSharePct *float64 `json:"populationSharePct,omitempty"`
}

type incomeDigest struct {
	Year            int      `json:"year"`
	Dimension       string   `json:"dimension"`
	Bucket          string   `json:"bucket"`
	Count           int64    `json:"count"`
	LendingSharePct float64  `json:"lendingSharePct"`
	CensusSharePct  *float64 `json:"censusSharePct,omitempty"`
}

type lenderDigest struct {
	LenderID        string  `json:"lenderId"`
	TotalCount      int64   `json:"totalCount"`
	AmountThousands string  `json:"amountThousands"`
	LatestYearCount int64   `json:"latestYearCount"`
	LMIBorrowerPct  float64 `json:"lmiBorrowerSharePct"`
}

type lenderYearDigest struct {
	LenderID        string `json:"lenderId"`
	Year            int    `json:"year"`
	Count           int64  `json:"count"`
	AmountThousands string `json:"amountThousands"`
}

type peerDigest struct {
	SubjectID      string   `json:"subjectId"`
	SubjectCount   int64    `json:"subjectCount"`
	Peers          int      `json:"peers"`
	PeerMeanCount  *float64 `json:"peerMeanCount,omitempty"`
	SubjectLMIPct  *float64 `json:"subjectLmiSharePct,omitempty"`
	PeerMeanLMIPct *float64 `json:"peerMeanLmiSharePct,omitempty"`
}

type contextDigest struct {
	Vintage         string             `json:"vintage"`
	TotalPopulation int64              `json:"totalPopulation"`
	SharesPct       map[string]float64 `json:"sharesPct"`
}

type quartileDigest struct {
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"stdDev"`
	LowMax float64 `json:"lowMax"`
	ModMax float64 `json:"modMax"`
	MidMax float64 `json:"midMax"`
}

type branchYearDigest struct {
	Year              int    `json:"year"`
	Branches          int    `json:"branches"`
	DepositsThousands string `json:"depositsThousands"`
}

type executiveSummaryDigest struct {
	Meta          metaDigest            `json:"meta"`
	Years         []yearDigest          `json:"years"`
	Trends        []trendDigest         `json:"trends,omitempty"`
	Concentration []concentrationDigest `json:"concentration,omitempty"`
}

type keyFindingsDigest struct {
	Demographic []demographicDigest `json:"byDemographic,omitempty"`
	Income      []incomeDigest      `json:"byIncomeNeighborhood,omitempty"`
	Census      []contextDigest     `json:"censusContext,omitempty"`
}

type trendsDigest struct {
	Years  []yearDigest  `json:"years"`
	Trends []trendDigest `json:"trends"`
}

type bankStrategiesDigest struct {
	TopLenders    []lenderDigest        `json:"topLenders"`
	Concentration []concentrationDigest `json:"concentration,omitempty"`
	Peer          *peerDigest           `json:"peerComparison,omitempty"`
}

type communityImpactDigest struct {
	Income    []incomeDigest     `json:"byIncomeNeighborhood,omitempty"`
	Quartiles *quartileDigest    `json:"minorityQuartiles,omitempty"`
	Census    []contextDigest    `json:"censusContext,omitempty"`
	Branches  []branchYearDigest `json:"branches,omitempty"`
}

func marshalDigest(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", eris.Wrap(err, "narrative: marshal digest")
	}
	return string(b), nil
}

// pct rounds a percentage to one decimal so digests stay compact.
func pct(v float64) float64 {
	return math.Round(v*10) / 10
}

// money renders an amount with grouping separators. Warehouse amounts are
// thousands of dollars; the style guide tells the model so.
func (a *Assembler) money(v float64) string {
	return a.printer.Sprintf("%.0f", v)
}

func (a *Assembler) metaDigest(r *model.Report) metaDigest {
	return metaDigest{
		App:      r.Metadata.Recipe,
		Domain:   string(r.Metadata.DataDomain),
		Counties: len(r.Metadata.FilterSet.Geography),
		Years:    r.Metadata.FilterSet.Years,
	}
}

func (a *Assembler) yearDigests(r *model.Report) []yearDigest {
	type acc struct {
		count, mmct, lmiB int64
		amount            float64
	}
	byYear := make(map[int]*acc)
	for _, row := range r.Summary {
		c := byYear[row.Year]
		if c == nil {
			c = &acc{}
			byYear[row.Year] = c
		}
		c.count += row.Total.Count
		c.amount += row.Total.Amount
		c.mmct += row.MMCT.Count
		c.lmiB += row.LMIBorrower.Count
	}

	years := make([]int, 0, len(byYear))
	for y := range byYear {
		years = append(years, y)
	}
	sort.Ints(years)

	out := make([]yearDigest, 0, len(years))
	for _, y := range years {
		c := byYear[y]
		d := yearDigest{Year: y, Count: c.count, AmountThousands: a.money(c.amount)}
		if c.count > 0 {
			d.MMCTSharePct = pct(float64(c.mmct) / float64(c.count) * 100)
			d.LMIBorrowerPct = pct(float64(c.lmiB) / float64(c.count) * 100)
		}
		out = append(out, d)
	}
	return out
}

func (a *Assembler) trendDigests(r *model.Report) []trendDigest {
	out := make([]trendDigest, 0, len(r.Trends))
	for _, t := range r.Trends {
		d := trendDigest{
			Year:            t.Year,
			Count:           t.Count,
			AmountThousands: a.money(t.Amount),
			Direction:       string(t.Direction),
		}
		if t.CountPctChange != nil {
			v := pct(*t.CountPctChange)
			d.CountPctChange = &v
		}
		out = append(out, d)
	}
	return out
}

func concentrationDigests(r *model.Report) []concentrationDigest {
	out := make([]concentrationDigest, 0, len(r.Concentration))
	for _, c := range r.Concentration {
		d := concentrationDigest{Year: c.Year, Category: string(c.Category), Basis: c.Basis}
		if c.HHI != nil {
			v := math.Round(*c.HHI)
			d.HHI = &v
		}
		out = append(out, d)
	}
	return out
}

func (a *Assembler) demographicDigests(r *model.Report) []demographicDigest {
	out := make([]demographicDigest, 0, len(r.ByDemographic))
	for _, row := range r.ByDemographic {
		d := demographicDigest{
			Year:     row.Year,
			Class:    string(row.Class),
			Count:    row.Count,
			SharePct: pct(row.ShareOfTotal),
		}
		if row.PopulationShare != nil {
			v := pct(*row.PopulationShare)
			d.PopulationSharePct = &v
		}
		out = append(out, d)
	}
	return out
}

func (a *Assembler) incomeDigests(r *model.Report) []incomeDigest {
	rows := r.ByIncomeNeighborhood.Rows
	out := make([]incomeDigest, 0, len(rows))
	for _, row := range rows {
		d := incomeDigest{
			Year:            row.Year,
			Dimension:       string(row.Dimension),
			Bucket:          row.Bucket,
			Count:           row.Count,
			LendingSharePct: pct(row.LendingShare),
		}
		if row.CensusShare != nil {
			v := pct(*row.CensusShare)
			d.CensusSharePct = &v
		}
		out = append(out, d)
	}
	return out
}

func (a *Assembler) lenderDigests(r *model.Report) []lenderDigest {
	rows := r.ByLender.Rows
	if len(rows) > maxDigestLenders {
		rows = rows[:maxDigestLenders]
	}
	out := make([]lenderDigest, 0, len(rows))
	for _, row := range rows {
		d := lenderDigest{
			LenderID:        row.LenderID,
			TotalCount:      row.Total.Count,
			AmountThousands: a.money(row.Total.Amount),
			LatestYearCount: row.LatestYearCount,
		}
		if row.Total.Count > 0 {
			d.LMIBorrowerPct = pct(float64(row.LMIBorrower.Count) / float64(row.Total.Count) * 100)
		}
		out = append(out, d)
	}
	return out
}

func (a *Assembler) lenderYearDigests(r *model.Report) []lenderYearDigest {
	rows := r.ByLenderByYear
	// Year rows arrive grouped per top lender, one row per requested year.
	if n := maxDigestLenders * len(r.Metadata.FilterSet.Years); n > 0 && len(rows) > n {
		rows = rows[:n]
	}
	out := make([]lenderYearDigest, 0, len(rows))
	for _, row := range rows {
		out = append(out, lenderYearDigest{
			LenderID:        row.LenderID,
			Year:            row.Year,
			Count:           row.Count,
			AmountThousands: a.money(row.Amount),
		})
	}
	return out
}

func peerDigestFor(r *model.Report) *peerDigest {
	p := r.PeerComparison
	if p == nil {
		return nil
	}
	d := &peerDigest{SubjectID: p.SubjectID, Peers: len(p.PeerIDs)}
	if p.Subject != nil {
		d.SubjectCount = p.Subject.Total.Count
		if p.Subject.Total.Count > 0 {
			v := pct(float64(p.Subject.LMIBorrower.Count) / float64(p.Subject.Total.Count) * 100)
			d.SubjectLMIPct = &v
		}
	}
	if p.PeerMean != nil {
		mean := math.Round(p.PeerMean.TotalCount)
		d.PeerMeanCount = &mean
		lmi := pct(p.PeerMean.LMIBorrowerShare)
		d.PeerMeanLMIPct = &lmi
	}
	return d
}

func contextDigests(r *model.Report) []contextDigest {
	out := make([]contextDigest, 0, len(r.DemographicContext.Rows))
	for _, row := range r.DemographicContext.Rows {
		shares := make(map[string]float64, len(row.Shares))
		for k, v := range row.Shares {
			shares[k] = pct(v)
		}
		out = append(out, contextDigest{
			Vintage:         string(row.Vintage),
			TotalPopulation: row.TotalPopulation,
			SharesPct:       shares,
		})
	}
	return out
}

func quartileDigestFor(r *model.Report) *quartileDigest {
	q := r.ByIncomeNeighborhood.MinorityQuartiles
	if q == nil {
		return nil
	}
	return &quartileDigest{
		Mean:   pct(q.Mean),
		StdDev: pct(q.StdDev),
		LowMax: pct(q.LowMax),
		ModMax: pct(q.ModMax),
		MidMax: pct(q.MidMax),
	}
}

func (a *Assembler) branchDigests(r *model.Report) []branchYearDigest {
	if len(r.Branches) == 0 {
		return nil
	}
	type acc struct {
		branches int
		deposits float64
	}
	byYear := make(map[int]*acc)
	for _, b := range r.Branches {
		c := byYear[b.Year]
		if c == nil {
			c = &acc{}
			byYear[b.Year] = c
		}
		c.branches++
		c.deposits += b.Deposits
	}

	years := make([]int, 0, len(byYear))
	for y := range byYear {
		years = append(years, y)
	}
	sort.Ints(years)

	out := make([]branchYearDigest, 0, len(years))
	for _, y := range years {
		out = append(out, branchYearDigest{
			Year:              y,
			Branches:          byYear[y].branches,
			DepositsThousands: a.money(byYear[y].deposits),
		})
	}
	return out
}

// tableDigest builds the single-table digest behind "table:<name>"
// annotation sections.
func (a *Assembler) tableDigest(table string, r *model.Report) (string, error) {
	switch table {
	case recipe.TableSummary:
		return marshalDigest(a.yearDigests(r))
	case recipe.TableDemographic:
		return marshalDigest(a.demographicDigests(r))
	case recipe.TableIncomeNeighborhood:
		return marshalDigest(communityImpactDigest{
			Income:    a.incomeDigests(r),
			Quartiles: quartileDigestFor(r),
		})
	case recipe.TableLenders:
		return marshalDigest(a.lenderDigests(r))
	case recipe.TableLendersByYear:
		return marshalDigest(a.lenderYearDigests(r))
	case recipe.TableConcentration:
		return marshalDigest(concentrationDigests(r))
	case recipe.TableTrends:
		return marshalDigest(a.trendDigests(r))
	case recipe.TablePeerComparison:
		return marshalDigest(peerDigestFor(r))
	case recipe.TableBranches:
		return marshalDigest(a.branchDigests(r))
	default:
		return "", eris.Errorf("narrative: unknown table %q", table)
	}
}
