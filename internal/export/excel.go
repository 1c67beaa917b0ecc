package export

import (
	"io"
	"sort"
	"strconv"
	"time"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/justdata-platform/justdata/internal/model"
)

// ExcelWriter renders the workbook: one sheet per report table plus an
// overview sheet. Numeric cells stay numeric so formulas work on them.
type ExcelWriter struct{}

func (ExcelWriter) MIME() string {
	return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
}

func (ExcelWriter) Filename(jobID string) string { return "justdata-" + jobID + ".xlsx" }

func (ExcelWriter) Write(w io.Writer, r *model.Report) error {
	f := xlsx.NewFile()

	if err := overviewSheet(f, r); err != nil {
		return err
	}
	builders := []func(*xlsx.File, *model.Report) error{
		summarySheet,
		demographicSheet,
		incomeNeighborhoodSheet,
		lenderSheet,
		lenderYearSheet,
		concentrationSheet,
		trendsSheet,
		contextSheet,
		branchSheet,
		narrativeSheet,
	}
	for _, build := range builders {
		if err := build(f, r); err != nil {
			return err
		}
	}

	return eris.Wrap(f.Write(w), "export: write xlsx")
}

func addSheet(f *xlsx.File, name string, headers ...string) (*xlsx.Sheet, error) {
	sheet, err := f.AddSheet(name)
	if err != nil {
		return nil, eris.Wrapf(err, "export: add sheet %s", name)
	}
	row := sheet.AddRow()
	for _, h := range headers {
		row.AddCell().Value = h
	}
	return sheet, nil
}

func overviewSheet(f *xlsx.File, r *model.Report) error {
	sheet, err := f.AddSheet("Overview")
	if err != nil {
		return eris.Wrap(err, "export: add sheet Overview")
	}
	add := func(key, value string) {
		row := sheet.AddRow()
		row.AddCell().Value = key
		row.AddCell().Value = value
	}

	m := r.Metadata
	add("Job", m.JobID)
	add("Recipe", m.Recipe)
	add("Data domain", string(m.DataDomain))
	add("Years", yearsLabel(m.FilterSet.Years))
	add("Counties", strconv.Itoa(len(m.FilterSet.Geography)))
	add("Denominator", string(m.Denominator))
	add("Query hash", m.QueryHash)
	add("Created", m.CreatedAt.Format(time.RFC3339))
	add("Version", m.Version)
	for _, warn := range m.Warnings {
		add("Warning: "+warn.Code, warn.Detail)
	}
	return nil
}

func summarySheet(f *xlsx.File, r *model.Report) error {
	sheet, err := addSheet(f, "Summary",
		"County", "Year",
		"Total Count", "Total Amount",
		"MMCT Count", "MMCT Amount",
		"LMI Tract Count", "LMI Tract Amount",
		"LMI Borrower Count", "LMI Borrower Amount",
	)
	if err != nil {
		return err
	}
	for _, s := range r.Summary {
		row := sheet.AddRow()
		row.AddCell().Value = s.CountyCode
		row.AddCell().SetInt(s.Year)
		row.AddCell().SetInt64(s.Total.Count)
		row.AddCell().SetFloat(s.Total.Amount)
		row.AddCell().SetInt64(s.MMCT.Count)
		row.AddCell().SetFloat(s.MMCT.Amount)
		row.AddCell().SetInt64(s.LMITract.Count)
		row.AddCell().SetFloat(s.LMITract.Amount)
		row.AddCell().SetInt64(s.LMIBorrower.Count)
		row.AddCell().SetFloat(s.LMIBorrower.Amount)
	}
	return nil
}

func demographicSheet(f *xlsx.File, r *model.Report) error {
	sheet, err := addSheet(f, "By Demographic",
		"Year", "Class", "Count", "Amount", "Share of Total %", "Population Share %",
	)
	if err != nil {
		return err
	}
	for _, d := range r.ByDemographic {
		row := sheet.AddRow()
		row.AddCell().SetInt(d.Year)
		row.AddCell().Value = string(d.Class)
		row.AddCell().SetInt64(d.Count)
		row.AddCell().SetFloat(d.Amount)
		row.AddCell().SetFloat(d.ShareOfTotal)
		optFloatCell(row, d.PopulationShare)
	}
	return nil
}

func incomeNeighborhoodSheet(f *xlsx.File, r *model.Report) error {
	sheet, err := addSheet(f, "Income and Neighborhood",
		"Year", "Dimension", "Bucket", "Count", "Amount", "Lending Share %", "Census Share %",
	)
	if err != nil {
		return err
	}
	for _, n := range r.ByIncomeNeighborhood.Rows {
		row := sheet.AddRow()
		row.AddCell().SetInt(n.Year)
		row.AddCell().Value = string(n.Dimension)
		row.AddCell().Value = n.Bucket
		row.AddCell().SetInt64(n.Count)
		row.AddCell().SetFloat(n.Amount)
		row.AddCell().SetFloat(n.LendingShare)
		optFloatCell(row, n.CensusShare)
	}
	if q := r.ByIncomeNeighborhood.MinorityQuartiles; q != nil {
		sheet.AddRow()
		label := sheet.AddRow()
		label.AddCell().Value = "Minority quartile boundaries"
		for _, kv := range []struct {
			k string
			v float64
		}{
			{"Mean", q.Mean},
			{"Std dev", q.StdDev},
			{"Low max", q.LowMax},
			{"Moderate max", q.ModMax},
			{"Middle max", q.MidMax},
		} {
			row := sheet.AddRow()
			row.AddCell().Value = kv.k
			row.AddCell().SetFloat(kv.v)
		}
	}
	return nil
}

func lenderSheet(f *xlsx.File, r *model.Report) error {
	sheet, err := addSheet(f, "By Lender",
		"Lender", "Latest Year Count", "Total Count", "Total Amount",
		"LMI Borrower Count", "LMI Tract Count", "MMCT Count",
	)
	if err != nil {
		return err
	}
	rows := r.ByLender.All
	if len(rows) == 0 {
		rows = r.ByLender.Rows
	}
	for _, l := range rows {
		row := sheet.AddRow()
		row.AddCell().Value = l.LenderID
		row.AddCell().SetInt64(l.LatestYearCount)
		row.AddCell().SetInt64(l.Total.Count)
		row.AddCell().SetFloat(l.Total.Amount)
		row.AddCell().SetInt64(l.LMIBorrower.Count)
		row.AddCell().SetInt64(l.LMITract.Count)
		row.AddCell().SetInt64(l.MMCT.Count)
	}
	return nil
}

func lenderYearSheet(f *xlsx.File, r *model.Report) error {
	sheet, err := addSheet(f, "Lender by Year", "Lender", "Year", "Count", "Amount")
	if err != nil {
		return err
	}
	for _, l := range r.ByLenderByYear {
		row := sheet.AddRow()
		row.AddCell().Value = l.LenderID
		row.AddCell().SetInt(l.Year)
		row.AddCell().SetInt64(l.Count)
		row.AddCell().SetFloat(l.Amount)
	}
	return nil
}

func concentrationSheet(f *xlsx.File, r *model.Report) error {
	sheet, err := addSheet(f, "Concentration", "Year", "HHI", "Category", "Basis")
	if err != nil {
		return err
	}
	for _, c := range r.Concentration {
		row := sheet.AddRow()
		row.AddCell().SetInt(c.Year)
		optFloatCell(row, c.HHI)
		row.AddCell().Value = string(c.Category)
		row.AddCell().Value = c.Basis
	}
	return nil
}

func trendsSheet(f *xlsx.File, r *model.Report) error {
	sheet, err := addSheet(f, "Trends",
		"Year", "Count", "Amount", "Count Delta", "Amount Delta",
		"Count Change %", "Amount Change %", "Direction",
	)
	if err != nil {
		return err
	}
	for _, t := range r.Trends {
		row := sheet.AddRow()
		row.AddCell().SetInt(t.Year)
		row.AddCell().SetInt64(t.Count)
		row.AddCell().SetFloat(t.Amount)
		if t.CountDelta != nil {
			row.AddCell().SetInt64(*t.CountDelta)
		} else {
			row.AddCell()
		}
		optFloatCell(row, t.AmountDelta)
		optFloatCell(row, t.CountPctChange)
		optFloatCell(row, t.AmountPctChange)
		row.AddCell().Value = string(t.Direction)
	}
	return nil
}

func contextSheet(f *xlsx.File, r *model.Report) error {
	sheet, err := addSheet(f, "Demographic Context",
		"Vintage", "Class", "Population", "Share %",
	)
	if err != nil {
		return err
	}
	for _, c := range r.DemographicContext.Rows {
		total := sheet.AddRow()
		total.AddCell().Value = string(c.Vintage)
		total.AddCell().Value = "total"
		total.AddCell().SetInt64(c.TotalPopulation)
		total.AddCell()

		keys := make([]string, 0, len(c.Populations))
		for k := range c.Populations {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			row := sheet.AddRow()
			row.AddCell().Value = string(c.Vintage)
			row.AddCell().Value = k
			row.AddCell().SetInt64(c.Populations[k])
			if share, ok := c.Shares[k]; ok {
				row.AddCell().SetFloat(share)
			} else {
				row.AddCell()
			}
		}
	}
	return nil
}

func branchSheet(f *xlsx.File, r *model.Report) error {
	if len(r.Branches) == 0 {
		return nil
	}
	sheet, err := addSheet(f, "Branches",
		"Lender", "Branch", "Name", "County", "Tract", "Year",
		"Deposits", "Latitude", "Longitude",
	)
	if err != nil {
		return err
	}
	for _, b := range r.Branches {
		row := sheet.AddRow()
		row.AddCell().Value = b.LenderID
		row.AddCell().Value = b.BranchID
		row.AddCell().Value = b.Name
		row.AddCell().Value = b.CountyCode
		row.AddCell().Value = b.TractID
		row.AddCell().SetInt(b.Year)
		row.AddCell().SetFloat(b.Deposits)
		optFloatCell(row, b.Latitude)
		optFloatCell(row, b.Longitude)
	}
	return nil
}

func narrativeSheet(f *xlsx.File, r *model.Report) error {
	if len(r.Narratives) == 0 {
		return nil
	}
	sheet, err := addSheet(f, "Narratives", "Section", "Text")
	if err != nil {
		return err
	}
	for _, s := range orderedSections(r.Narratives) {
		row := sheet.AddRow()
		row.AddCell().Value = sectionTitle(s)
		row.AddCell().Value = r.Narratives[s]
	}
	return nil
}

func optFloatCell(row *xlsx.Row, v *float64) {
	cell := row.AddCell()
	if v != nil {
		cell.SetFloat(*v)
	}
}
