package aggregate

import (
	"sort"

	"github.com/justdata-platform/justdata/internal/model"
)

// finalize turns the accumulators into ordered tables. Dependency order
// matters: trends carry the year totals other shares divide by.
func (e *engine) finalize() *Tables {
	t := &Tables{}
	t.Trends = e.buildTrends()
	t.Summary = e.buildSummary()
	t.ByDemographic = e.buildDemographic()
	t.ByIncomeNeighborhood = e.buildIncomeNeighborhood()
	t.ByLender, t.ByLenderByYear = e.buildLenders()
	t.Concentration = e.buildConcentration()
	t.PeerComparison = e.buildPeerComparison(&t.Warnings)
	t.TractActivity = e.buildTractActivity()
	t.Branches = e.buildBranches()
	return t
}

func (e *engine) yearTotal(year int) model.ClassMetric {
	if m := e.years[year]; m != nil {
		return *m
	}
	return model.ClassMetric{}
}

// shareDenom resolves the denominator policy: year-total divides by the
// year's row count, everything else divides by the group's own sum.
func (e *engine) shareDenom(groupCount int64, year int) float64 {
	if e.opts.Denominator == model.DenominatorYearTotal {
		return float64(e.yearTotal(year).Count)
	}
	return float64(groupCount)
}

func share(count int64, denom float64) float64 {
	if denom <= 0 {
		return 0
	}
	return float64(count) / denom * 100
}

func (e *engine) buildTrends() []model.TrendRow {
	rows := make([]model.TrendRow, 0, len(e.opts.Years))
	var prev *model.TrendRow
	for _, year := range e.opts.Years {
		total := e.yearTotal(year)
		row := model.TrendRow{Year: year, Count: total.Count, Amount: total.Amount}
		if prev != nil {
			countDelta := row.Count - prev.Count
			amountDelta := row.Amount - prev.Amount
			row.CountDelta = &countDelta
			row.AmountDelta = &amountDelta
			if prev.Count != 0 {
				pct := float64(countDelta) / float64(prev.Count) * 100
				row.CountPctChange = &pct
				row.Direction = model.DirectionFor(pct)
			}
			if prev.Amount != 0 {
				pct := amountDelta / prev.Amount * 100
				row.AmountPctChange = &pct
				if row.CountPctChange == nil {
					row.Direction = model.DirectionFor(pct)
				}
			}
		}
		rows = append(rows, row)
		prev = &rows[len(rows)-1]
	}
	return rows
}

func (e *engine) buildSummary() []model.SummaryRow {
	keys := make([]summaryKey, 0, len(e.summary))
	for k := range e.summary {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].county != keys[j].county {
			return keys[i].county < keys[j].county
		}
		return keys[i].year < keys[j].year
	})

	rows := make([]model.SummaryRow, 0, len(keys))
	for _, k := range keys {
		acc := e.summary[k]
		row := model.SummaryRow{
			CountyCode:  k.county,
			Year:        k.year,
			Total:       acc.total,
			MMCT:        acc.mmct,
			LMITract:    acc.lmiTract,
			LMIBorrower: acc.lmiBorrower,
		}
		if e.c.race >= 0 {
			row.ByRace = zeroFilled(model.AllRaceEthnicities(), acc.byRace)
		}
		if e.c.borrowerBucket >= 0 {
			row.ByBorrowerIncome = zeroFilled(model.KnownIncomeBuckets(), acc.byBorrower)
		}
		if e.c.tractBucket >= 0 {
			row.ByTractIncome = zeroFilled(model.KnownIncomeBuckets(), acc.byTract)
		}
		if e.c.size >= 0 {
			row.ByLoanSize = zeroFilled(model.AllLoanSizes(), acc.bySize)
		}
		rows = append(rows, row)
	}
	return rows
}

func zeroFilled[K comparable](keys []K, src map[K]*model.ClassMetric) map[K]model.ClassMetric {
	out := make(map[K]model.ClassMetric, len(keys))
	for _, k := range keys {
		if m := src[k]; m != nil {
			out[k] = *m
		} else {
			out[k] = model.ClassMetric{}
		}
	}
	return out
}

func (e *engine) buildDemographic() []model.DemographicRow {
	if e.c.race < 0 {
		return nil
	}
	classes := model.AllRaceEthnicities()
	rows := make([]model.DemographicRow, 0, len(e.opts.Years)*len(classes))
	for _, year := range e.opts.Years {
		var groupSum int64
		for _, class := range classes {
			if m := e.demog[raceYearKey{year: year, race: class}]; m != nil {
				groupSum += m.Count
			}
		}
		denom := e.shareDenom(groupSum, year)
		for _, class := range classes {
			row := model.DemographicRow{Year: year, Class: class}
			if m := e.demog[raceYearKey{year: year, race: class}]; m != nil {
				row.Count = m.Count
				row.Amount = m.Amount
			}
			row.ShareOfTotal = share(row.Count, denom)
			rows = append(rows, row)
		}
	}
	return rows
}

func (e *engine) buildIncomeNeighborhood() model.IncomeNeighborhoodTable {
	var rows []model.IncomeNeighborhoodRow
	rows = append(rows, e.bucketRows(model.DimensionBorrowerIncome, e.borrower)...)
	rows = append(rows, e.bucketRows(model.DimensionTractIncome, e.tractInc)...)
	rows = append(rows, e.sizeRows()...)
	return model.IncomeNeighborhoodTable{Rows: rows}
}

func (e *engine) bucketRows(dim model.IncomeDimension, src map[bucketYearKey]*model.ClassMetric) []model.IncomeNeighborhoodRow {
	switch dim {
	case model.DimensionBorrowerIncome:
		if e.c.borrowerBucket < 0 {
			return nil
		}
	case model.DimensionTractIncome:
		if e.c.tractBucket < 0 {
			return nil
		}
	}
	buckets := model.KnownIncomeBuckets()
	rows := make([]model.IncomeNeighborhoodRow, 0, len(e.opts.Years)*len(buckets))
	for _, year := range e.opts.Years {
		var groupSum int64
		for _, b := range buckets {
			if m := src[bucketYearKey{year: year, bucket: b}]; m != nil {
				groupSum += m.Count
			}
		}
		denom := e.shareDenom(groupSum, year)
		for _, b := range buckets {
			row := model.IncomeNeighborhoodRow{Year: year, Dimension: dim, Bucket: string(b)}
			if m := src[bucketYearKey{year: year, bucket: b}]; m != nil {
				row.Count = m.Count
				row.Amount = m.Amount
			}
			row.LendingShare = share(row.Count, denom)
			rows = append(rows, row)
		}
	}
	return rows
}

func (e *engine) sizeRows() []model.IncomeNeighborhoodRow {
	if e.c.size < 0 {
		return nil
	}
	sizes := model.AllLoanSizes()
	rows := make([]model.IncomeNeighborhoodRow, 0, len(e.opts.Years)*len(sizes))
	for _, year := range e.opts.Years {
		var groupSum int64
		for _, s := range sizes {
			if m := e.loanSize[sizeYearKey{year: year, size: s}]; m != nil {
				groupSum += m.Count
			}
		}
		// Loan-size percents always divide by the three-category sum.
		denom := float64(groupSum)
		if e.opts.Denominator == model.DenominatorYearTotal {
			denom = float64(e.yearTotal(year).Count)
		}
		for _, s := range sizes {
			row := model.IncomeNeighborhoodRow{Year: year, Dimension: model.DimensionLoanSize, Bucket: string(s)}
			if m := e.loanSize[sizeYearKey{year: year, size: s}]; m != nil {
				row.Count = m.Count
				row.Amount = m.Amount
			}
			row.LendingShare = share(row.Count, denom)
			rows = append(rows, row)
		}
	}
	return rows
}

func (e *engine) buildLenders() (model.LenderTable, []model.LenderYearRow) {
	ids := make([]string, 0, len(e.lenders))
	for id := range e.lenders {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		a, b := e.lenders[ids[i]], e.lenders[ids[j]]
		if a.latestYear != b.latestYear {
			return a.latestYear > b.latestYear
		}
		return ids[i] < ids[j]
	})

	all := make([]model.LenderRow, 0, len(ids))
	for _, id := range ids {
		acc := e.lenders[id]
		row := model.LenderRow{
			LenderID:        id,
			LatestYearCount: acc.latestYear,
			Total:           acc.total,
			LMIBorrower:     acc.lmiBorrower,
			LMITract:        acc.lmiTract,
			MMCT:            acc.mmct,
		}
		if e.c.race >= 0 {
			row.ByRace = zeroFilled(model.AllRaceEthnicities(), acc.byRace)
		}
		all = append(all, row)
	}

	topN := e.opts.TopN
	table := model.LenderTable{TopN: topN, All: all}
	if len(all) > topN {
		table.Rows = all[:topN]
		table.HasMore = true
	} else {
		table.Rows = all
	}

	yearRows := make([]model.LenderYearRow, 0, len(table.Rows)*len(e.opts.Years))
	for _, lr := range table.Rows {
		for _, year := range e.opts.Years {
			row := model.LenderYearRow{LenderID: lr.LenderID, Year: year}
			if m := e.lenderYear[lenderYearKey{lender: lr.LenderID, year: year}]; m != nil {
				row.Count = m.Count
				row.Amount = m.Amount
			}
			yearRows = append(yearRows, row)
		}
	}
	return table, yearRows
}

func (e *engine) buildConcentration() []model.ConcentrationRow {
	useCount := e.opts.ConcentrationBasis == "count"

	// Sorted lender order keeps the floating-point sums reproducible.
	ids := make([]string, 0, len(e.lenders))
	for id := range e.lenders {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	rows := make([]model.ConcentrationRow, 0, len(e.opts.Years))
	for _, year := range e.opts.Years {
		var volumes []float64
		var total float64
		for _, id := range ids {
			m := e.lenderYear[lenderYearKey{lender: id, year: year}]
			if m == nil {
				continue
			}
			v := m.Amount
			if useCount {
				v = float64(m.Count)
			}
			if v > 0 {
				volumes = append(volumes, v)
				total += v
			}
		}
		row := model.ConcentrationRow{Year: year, Basis: e.opts.ConcentrationBasis}
		if total > 0 {
			var hhi float64
			for _, v := range volumes {
				s := v / total * 100
				hhi += s * s
			}
			row.HHI = &hhi
			row.Category = model.CategorizeHHI(hhi)
		}
		rows = append(rows, row)
	}
	return rows
}

func (e *engine) buildPeerComparison(warnings *[]model.Warning) *model.PeerComparison {
	subjectID := e.opts.SubjectLenderID
	if subjectID == "" {
		return nil
	}
	cmp := &model.PeerComparison{SubjectID: subjectID, Band: e.opts.Band}

	subject := e.lenders[subjectID]
	if subject == nil {
		*warnings = append(*warnings, model.Warning{
			Code:   model.WarnPeerSetEmpty,
			Detail: "subject lender absent from result",
		})
		return cmp
	}
	subjectRow := model.LenderRow{
		LenderID:        subjectID,
		LatestYearCount: subject.latestYear,
		Total:           subject.total,
		LMIBorrower:     subject.lmiBorrower,
		LMITract:        subject.lmiTract,
		MMCT:            subject.mmct,
	}
	if e.c.race >= 0 {
		subjectRow.ByRace = zeroFilled(model.AllRaceEthnicities(), subject.byRace)
	}
	cmp.Subject = &subjectRow

	low := e.opts.Band.Low * float64(subject.latestYear)
	high := e.opts.Band.High * float64(subject.latestYear)
	var peerIDs []string
	for id, acc := range e.lenders {
		if id == subjectID {
			continue
		}
		v := float64(acc.latestYear)
		if v >= low && v <= high {
			peerIDs = append(peerIDs, id)
		}
	}
	sort.Strings(peerIDs)
	cmp.PeerIDs = peerIDs

	if len(peerIDs) == 0 {
		*warnings = append(*warnings, model.Warning{
			Code:   model.WarnPeerSetEmpty,
			Detail: "no lenders inside the volume band",
		})
		return cmp
	}

	mean := model.PeerMeanRow{ByRaceShare: make(map[model.RaceEthnicity]float64)}
	n := float64(len(peerIDs))
	for _, id := range peerIDs {
		acc := e.lenders[id]
		mean.LatestYearCount += float64(acc.latestYear) / n
		mean.TotalCount += float64(acc.total.Count) / n
		mean.TotalAmount += acc.total.Amount / n
		if acc.total.Count > 0 {
			mean.LMIBorrowerShare += share(acc.lmiBorrower.Count, float64(acc.total.Count)) / n
			for _, class := range model.AllRaceEthnicities() {
				if m := acc.byRace[class]; m != nil {
					mean.ByRaceShare[class] += share(m.Count, float64(acc.total.Count)) / n
				}
			}
		}
	}
	cmp.PeerMean = &mean
	return cmp
}

func (e *engine) buildTractActivity() []TractActivity {
	keys := make([]tractYearKey, 0, len(e.tracts))
	for k := range e.tracts {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].year != keys[j].year {
			return keys[i].year < keys[j].year
		}
		return keys[i].tract < keys[j].tract
	})
	out := make([]TractActivity, 0, len(keys))
	for _, k := range keys {
		acc := e.tracts[k]
		out = append(out, TractActivity{
			Year:        k.year,
			TractID:     k.tract,
			MinorityPct: acc.minorityPct,
			Count:       acc.count,
			Amount:      acc.amount,
		})
	}
	return out
}

func (e *engine) buildBranches() []model.BranchRow {
	out := e.branches
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Year != b.Year {
			return a.Year < b.Year
		}
		if a.LenderID != b.LenderID {
			return a.LenderID < b.LenderID
		}
		return a.BranchID < b.BranchID
	})
	return out
}
