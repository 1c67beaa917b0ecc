package aggregate

import (
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/justdata-platform/justdata/internal/model"
	"github.com/justdata-platform/justdata/internal/query"
	"github.com/justdata-platform/justdata/internal/warehouse"
)

type summaryKey struct {
	county string
	year   int
}

type raceYearKey struct {
	year int
	race model.RaceEthnicity
}

type bucketYearKey struct {
	year   int
	bucket model.IncomeBucket
}

type sizeYearKey struct {
	year int
	size model.LoanSizeCategory
}

type lenderYearKey struct {
	lender string
	year   int
}

type tractYearKey struct {
	year  int
	tract string
}

type summaryAcc struct {
	total       model.ClassMetric
	byRace      map[model.RaceEthnicity]*model.ClassMetric
	byBorrower  map[model.IncomeBucket]*model.ClassMetric
	byTract     map[model.IncomeBucket]*model.ClassMetric
	bySize      map[model.LoanSizeCategory]*model.ClassMetric
	mmct        model.ClassMetric
	lmiTract    model.ClassMetric
	lmiBorrower model.ClassMetric
}

type lenderAcc struct {
	total       model.ClassMetric
	latestYear  int64
	byRace      map[model.RaceEthnicity]*model.ClassMetric
	lmiBorrower model.ClassMetric
	lmiTract    model.ClassMetric
	mmct        model.ClassMetric
}

type tractAcc struct {
	count       int64
	amount      float64
	minorityPct *float64
}

// cols holds resolved column indexes; -1 marks a column the projection did
// not declare.
type cols struct {
	year, lender, county, tract       int
	amount, race                      int
	borrowerBucket, tractBucket, size int
	minorityPct, mmct, dedup          int
	branchID, branchName, lat, lon    int
}

type engine struct {
	proj       query.Projection
	opts       Options
	c          cols
	latestYear int

	seen       map[string]struct{}
	summary    map[summaryKey]*summaryAcc
	demog      map[raceYearKey]*model.ClassMetric
	borrower   map[bucketYearKey]*model.ClassMetric
	tractInc   map[bucketYearKey]*model.ClassMetric
	loanSize   map[sizeYearKey]*model.ClassMetric
	lenders    map[string]*lenderAcc
	lenderYear map[lenderYearKey]*model.ClassMetric
	years      map[int]*model.ClassMetric
	tracts     map[tractYearKey]*tractAcc
	branches   []model.BranchRow
}

func newEngine(table *warehouse.Table, proj query.Projection, opts Options) (*engine, error) {
	if len(opts.Years) == 0 {
		return nil, eris.New("aggregate: options carry no years")
	}
	if opts.TopN <= 0 {
		opts.TopN = 10
	}
	if opts.ConcentrationBasis == "" {
		opts.ConcentrationBasis = "amount"
	}
	c, err := resolveCols(table, proj)
	if err != nil {
		return nil, err
	}
	return &engine{
		proj:       proj,
		opts:       opts,
		c:          c,
		latestYear: opts.Years[len(opts.Years)-1],
		seen:       make(map[string]struct{}),
		summary:    make(map[summaryKey]*summaryAcc),
		demog:      make(map[raceYearKey]*model.ClassMetric),
		borrower:   make(map[bucketYearKey]*model.ClassMetric),
		tractInc:   make(map[bucketYearKey]*model.ClassMetric),
		loanSize:   make(map[sizeYearKey]*model.ClassMetric),
		lenders:    make(map[string]*lenderAcc),
		lenderYear: make(map[lenderYearKey]*model.ClassMetric),
		years:      make(map[int]*model.ClassMetric),
		tracts:     make(map[tractYearKey]*tractAcc),
	}, nil
}

func resolveCols(table *warehouse.Table, proj query.Projection) (cols, error) {
	c := cols{
		year: -1, lender: -1, county: -1, tract: -1,
		amount: -1, race: -1, borrowerBucket: -1, tractBucket: -1, size: -1,
		minorityPct: -1, mmct: -1, dedup: -1,
		branchID: -1, branchName: -1, lat: -1, lon: -1,
	}
	need := func(name string) (int, error) {
		idx, ok := table.Col(name)
		if !ok {
			return -1, eris.Errorf("aggregate: result missing column %q", name)
		}
		return idx, nil
	}
	var err error
	if c.year, err = need(query.ColYear); err != nil {
		return c, err
	}
	if c.lender, err = need(query.ColLender); err != nil {
		return c, err
	}
	if c.county, err = need(query.ColCounty); err != nil {
		return c, err
	}
	if c.tract, err = need(query.ColTract); err != nil {
		return c, err
	}
	if proj.HasAmount {
		if c.amount, err = need(query.ColAmount); err != nil {
			return c, err
		}
	}
	if proj.HasRaceEthnicity {
		if c.race, err = need(query.ColRaceEthnicity); err != nil {
			return c, err
		}
	}
	if proj.HasBorrowerBucket {
		if c.borrowerBucket, err = need(query.ColBorrowerBucket); err != nil {
			return c, err
		}
	}
	if proj.HasTractBucket {
		if c.tractBucket, err = need(query.ColTractBucket); err != nil {
			return c, err
		}
		if c.minorityPct, err = need(query.ColMinorityPct); err != nil {
			return c, err
		}
		if c.mmct, err = need(query.ColMMCT); err != nil {
			return c, err
		}
	}
	if proj.HasLoanSize {
		if c.size, err = need(query.ColLoanSize); err != nil {
			return c, err
		}
	}
	if proj.Deduplicated {
		if c.dedup, err = need(query.ColDedupKey); err != nil {
			return c, err
		}
	}
	if proj.HasCoordinates {
		if c.branchID, err = need(query.ColBranchID); err != nil {
			return c, err
		}
		if c.branchName, err = need(query.ColBranchName); err != nil {
			return c, err
		}
		if c.lat, err = need(query.ColLatitude); err != nil {
			return c, err
		}
		if c.lon, err = need(query.ColLongitude); err != nil {
			return c, err
		}
	}
	return c, nil
}

// pass walks the result once, feeding every accumulator.
func (e *engine) pass(table *warehouse.Table) {
	skipped := 0
	for it := table.Rows(); it.Next(); {
		row := it.Row()

		if e.c.dedup >= 0 {
			if key, ok := row.String(e.c.dedup); ok {
				if _, dup := e.seen[key]; dup {
					continue
				}
				e.seen[key] = struct{}{}
			}
		}

		year64, okYear := row.Int(e.c.year)
		lender, okLender := row.String(e.c.lender)
		county, okCounty := row.String(e.c.county)
		if !okYear || !okLender || !okCounty {
			skipped++
			continue
		}
		year := int(year64)
		tract, _ := row.String(e.c.tract)

		var amount float64
		if e.c.amount >= 0 {
			amount, _ = row.Float(e.c.amount)
		}

		s := e.summaryFor(county, year)
		s.total.Add(1, amount)
		addTo(e.years, year, amount)

		l := e.lenderFor(lender)
		l.total.Add(1, amount)
		if year == e.latestYear {
			l.latestYear++
		}
		addTo(e.lenderYear, lenderYearKey{lender: lender, year: year}, amount)

		if e.c.race >= 0 {
			race := model.RaceNoData
			if tag, ok := row.String(e.c.race); ok {
				race = model.RaceEthnicity(tag)
			}
			addTo(s.byRace, race, amount)
			addTo(l.byRace, race, amount)
			addTo(e.demog, raceYearKey{year: year, race: race}, amount)
		}

		if e.c.borrowerBucket >= 0 {
			bucket := model.IncomeUnknown
			if tag, ok := row.String(e.c.borrowerBucket); ok {
				bucket = model.IncomeBucket(tag)
			}
			if bucket != model.IncomeUnknown {
				addTo(s.byBorrower, bucket, amount)
				addTo(e.borrower, bucketYearKey{year: year, bucket: bucket}, amount)
				if bucket.IsLMI() {
					s.lmiBorrower.Add(1, amount)
					l.lmiBorrower.Add(1, amount)
				}
			}
		}

		if e.c.tractBucket >= 0 {
			bucket := model.IncomeUnknown
			if tag, ok := row.String(e.c.tractBucket); ok {
				bucket = model.IncomeBucket(tag)
			}
			if bucket != model.IncomeUnknown {
				addTo(s.byTract, bucket, amount)
				addTo(e.tractInc, bucketYearKey{year: year, bucket: bucket}, amount)
				if bucket.IsLMI() {
					s.lmiTract.Add(1, amount)
					l.lmiTract.Add(1, amount)
				}
			}
			if isMMCT, ok := row.Bool(e.c.mmct); ok && isMMCT {
				s.mmct.Add(1, amount)
				l.mmct.Add(1, amount)
			}
		}

		if e.c.size >= 0 {
			if tag, ok := row.String(e.c.size); ok {
				size := model.LoanSizeCategory(tag)
				addTo(s.bySize, size, amount)
				addTo(e.loanSize, sizeYearKey{year: year, size: size}, amount)
			}
		}

		if tract != "" {
			key := tractYearKey{year: year, tract: tract}
			ta := e.tracts[key]
			if ta == nil {
				ta = &tractAcc{}
				e.tracts[key] = ta
			}
			ta.count++
			ta.amount += amount
			if ta.minorityPct == nil && e.c.minorityPct >= 0 {
				if pct, ok := row.Float(e.c.minorityPct); ok {
					ta.minorityPct = &pct
				}
			}
		}

		if e.opts.CollectBranches && e.c.branchID >= 0 {
			e.collectBranch(row, lender, county, tract, year, amount)
		}
	}
	if skipped > 0 {
		zap.L().Warn("aggregate: rows skipped for missing identifiers",
			zap.Int("rows", skipped))
	}
}

func (e *engine) collectBranch(row warehouse.Row, lender, county, tract string, year int, deposits float64) {
	branchID, _ := row.String(e.c.branchID)
	name, _ := row.String(e.c.branchName)
	b := model.BranchRow{
		LenderID:   lender,
		BranchID:   branchID,
		Name:       name,
		CountyCode: county,
		TractID:    tract,
		Year:       year,
		Deposits:   deposits,
	}
	if lat, ok := row.Float(e.c.lat); ok {
		b.Latitude = &lat
	}
	if lon, ok := row.Float(e.c.lon); ok {
		b.Longitude = &lon
	}
	e.branches = append(e.branches, b)
}

func (e *engine) summaryFor(county string, year int) *summaryAcc {
	key := summaryKey{county: county, year: year}
	s := e.summary[key]
	if s == nil {
		s = &summaryAcc{
			byRace:     make(map[model.RaceEthnicity]*model.ClassMetric),
			byBorrower: make(map[model.IncomeBucket]*model.ClassMetric),
			byTract:    make(map[model.IncomeBucket]*model.ClassMetric),
			bySize:     make(map[model.LoanSizeCategory]*model.ClassMetric),
		}
		e.summary[key] = s
	}
	return s
}

func (e *engine) lenderFor(id string) *lenderAcc {
	l := e.lenders[id]
	if l == nil {
		l = &lenderAcc{byRace: make(map[model.RaceEthnicity]*model.ClassMetric)}
		e.lenders[id] = l
	}
	return l
}

func addTo[K comparable](m map[K]*model.ClassMetric, key K, amount float64) {
	metric := m[key]
	if metric == nil {
		metric = &model.ClassMetric{}
		m[key] = metric
	}
	metric.Add(1, amount)
}
