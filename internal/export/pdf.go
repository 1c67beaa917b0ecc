package export

import (
	"io"
	"strconv"
	"time"

	"github.com/go-pdf/fpdf"
	"github.com/rotisserie/eris"

	"github.com/justdata-platform/justdata/internal/model"
)

// PDFWriter renders a printable report: a title page, one section per
// table, and the narrative prose at the end.
type PDFWriter struct{}

func (PDFWriter) MIME() string { return "application/pdf" }

func (PDFWriter) Filename(jobID string) string { return "justdata-" + jobID + ".pdf" }

func (PDFWriter) Write(w io.Writer, r *model.Report) error {
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(15, 15, 15)
	pdf.SetAutoPageBreak(true, 15)

	titlePage(pdf, r)
	summaryPages(pdf, r)
	trendPages(pdf, r)
	concentrationPages(pdf, r)
	demographicPages(pdf, r)
	incomeNeighborhoodPages(pdf, r)
	lenderPages(pdf, r)
	contextPages(pdf, r)
	branchPages(pdf, r)
	narrativePages(pdf, r)

	return eris.Wrap(pdf.Output(w), "export: write pdf")
}

func titlePage(pdf *fpdf.Fpdf, r *model.Report) {
	pdf.AddPage()
	pdf.Ln(40)
	pdf.SetFont("Helvetica", "B", 22)
	pdf.CellFormat(0, 12, "JustData Analysis Report", "", 1, "C", false, 0, "")
	pdf.Ln(6)

	pdf.SetFont("Helvetica", "", 11)
	m := r.Metadata
	lines := []string{
		"Recipe: " + m.Recipe,
		"Years: " + yearsLabel(m.FilterSet.Years),
		"Counties: " + strconv.Itoa(len(m.FilterSet.Geography)),
		"Job: " + m.JobID,
		"Created: " + m.CreatedAt.Format(time.RFC1123),
	}
	for _, line := range lines {
		pdf.CellFormat(0, 7, line, "", 1, "C", false, 0, "")
	}

	if len(m.Warnings) > 0 {
		pdf.Ln(8)
		pdf.SetFont("Helvetica", "I", 9)
		for _, warn := range m.Warnings {
			text := warn.Code
			if warn.Detail != "" {
				text += ": " + warn.Detail
			}
			pdf.CellFormat(0, 5, text, "", 1, "C", false, 0, "")
		}
	}
}

// pdfTable draws a bordered grid. Column widths are millimeters; the
// usable A4 width inside the margins is 180.
func pdfTable(pdf *fpdf.Fpdf, title string, widths []float64, headers []string, rows [][]string) {
	if len(rows) == 0 {
		return
	}
	pdf.AddPage()
	pdf.SetFont("Helvetica", "B", 14)
	pdf.CellFormat(0, 9, title, "", 1, "L", false, 0, "")
	pdf.Ln(2)

	pdf.SetFont("Helvetica", "B", 8)
	for i, h := range headers {
		pdf.CellFormat(widths[i], 6, h, "1", 0, "C", false, 0, "")
	}
	pdf.Ln(-1)

	pdf.SetFont("Helvetica", "", 8)
	for _, row := range rows {
		for i, cell := range row {
			align := "R"
			if i == 0 {
				align = "L"
			}
			pdf.CellFormat(widths[i], 5.5, cell, "1", 0, align, false, 0, "")
		}
		pdf.Ln(-1)
	}
}

func summaryPages(pdf *fpdf.Fpdf, r *model.Report) {
	rows := make([][]string, 0, len(r.Summary))
	for _, s := range r.Summary {
		rows = append(rows, []string{
			s.CountyCode,
			strconv.Itoa(s.Year),
			formatCount(s.Total.Count),
			formatAmount(s.Total.Amount),
			formatCount(s.MMCT.Count),
			formatCount(s.LMITract.Count),
			formatCount(s.LMIBorrower.Count),
		})
	}
	pdfTable(pdf, "Summary",
		[]float64{25, 15, 28, 34, 26, 26, 26},
		[]string{"County", "Year", "Loans", "Amount ($000)", "MMCT", "LMI Tract", "LMI Borrower"},
		rows)
}

func trendPages(pdf *fpdf.Fpdf, r *model.Report) {
	rows := make([][]string, 0, len(r.Trends))
	for _, t := range r.Trends {
		rows = append(rows, []string{
			strconv.Itoa(t.Year),
			formatCount(t.Count),
			formatAmount(t.Amount),
			formatOptPct(t.CountPctChange),
			formatOptPct(t.AmountPctChange),
			string(t.Direction),
		})
	}
	pdfTable(pdf, "Trends",
		[]float64{20, 30, 36, 32, 32, 30},
		[]string{"Year", "Loans", "Amount ($000)", "Loan Change", "Amount Change", "Direction"},
		rows)
}

func concentrationPages(pdf *fpdf.Fpdf, r *model.Report) {
	rows := make([][]string, 0, len(r.Concentration))
	for _, c := range r.Concentration {
		rows = append(rows, []string{
			strconv.Itoa(c.Year),
			formatOptFloat(c.HHI),
			string(c.Category),
			c.Basis,
		})
	}
	pdfTable(pdf, "Market Concentration",
		[]float64{25, 40, 60, 30},
		[]string{"Year", "HHI", "Category", "Basis"},
		rows)
}

func demographicPages(pdf *fpdf.Fpdf, r *model.Report) {
	rows := make([][]string, 0, len(r.ByDemographic))
	for _, d := range r.ByDemographic {
		rows = append(rows, []string{
			string(d.Class),
			strconv.Itoa(d.Year),
			formatCount(d.Count),
			formatAmount(d.Amount),
			formatPct(d.ShareOfTotal),
			formatOptPct(d.PopulationShare),
		})
	}
	pdfTable(pdf, "Lending by Demographic",
		[]float64{40, 16, 28, 34, 30, 32},
		[]string{"Class", "Year", "Loans", "Amount ($000)", "Lending Share", "Population Share"},
		rows)
}

func incomeNeighborhoodPages(pdf *fpdf.Fpdf, r *model.Report) {
	rows := make([][]string, 0, len(r.ByIncomeNeighborhood.Rows))
	for _, n := range r.ByIncomeNeighborhood.Rows {
		rows = append(rows, []string{
			string(n.Dimension),
			n.Bucket,
			strconv.Itoa(n.Year),
			formatCount(n.Count),
			formatPct(n.LendingShare),
			formatOptPct(n.CensusShare),
		})
	}
	pdfTable(pdf, "Income and Neighborhood",
		[]float64{42, 28, 16, 28, 32, 32},
		[]string{"Dimension", "Bucket", "Year", "Loans", "Lending Share", "Census Share"},
		rows)
}

func lenderPages(pdf *fpdf.Fpdf, r *model.Report) {
	rows := make([][]string, 0, len(r.ByLender.Rows))
	for _, l := range r.ByLender.Rows {
		rows = append(rows, []string{
			l.LenderID,
			formatCount(l.LatestYearCount),
			formatCount(l.Total.Count),
			formatAmount(l.Total.Amount),
			formatCount(l.LMIBorrower.Count),
			formatCount(l.MMCT.Count),
		})
	}
	title := "Top Lenders"
	if r.ByLender.HasMore {
		title = "Top Lenders (of " + strconv.Itoa(len(r.ByLender.All)) + ")"
	}
	pdfTable(pdf, title,
		[]float64{50, 26, 26, 34, 24, 20},
		[]string{"Lender", "Latest Year", "Loans", "Amount ($000)", "LMI Borr", "MMCT"},
		rows)
}

func contextPages(pdf *fpdf.Fpdf, r *model.Report) {
	var rows [][]string
	for _, c := range r.DemographicContext.Rows {
		rows = append(rows, []string{
			string(c.Vintage),
			formatCount(c.TotalPopulation),
			formatPct(c.Shares[string(model.RaceWhite)]),
			formatPct(c.Shares[string(model.RaceBlack)]),
			formatPct(c.Shares[string(model.RaceHispanic)]),
			formatPct(c.Shares[string(model.RaceAsian)]),
		})
	}
	pdfTable(pdf, "Demographic Context",
		[]float64{30, 34, 29, 29, 29, 29},
		[]string{"Vintage", "Population", "White", "Black", "Hispanic", "Asian"},
		rows)
}

func branchPages(pdf *fpdf.Fpdf, r *model.Report) {
	rows := make([][]string, 0, len(r.Branches))
	for _, b := range r.Branches {
		name := b.Name
		if len(name) > 28 {
			name = name[:28]
		}
		rows = append(rows, []string{
			b.LenderID,
			name,
			b.CountyCode,
			b.TractID,
			strconv.Itoa(b.Year),
			formatAmount(b.Deposits),
		})
	}
	pdfTable(pdf, "Branch Locations",
		[]float64{34, 52, 22, 28, 16, 28},
		[]string{"Lender", "Name", "County", "Tract", "Year", "Deposits ($000)"},
		rows)
}

func narrativePages(pdf *fpdf.Fpdf, r *model.Report) {
	if len(r.Narratives) == 0 {
		return
	}
	pdf.AddPage()
	pdf.SetFont("Helvetica", "B", 16)
	pdf.CellFormat(0, 10, "Narrative", "", 1, "L", false, 0, "")
	pdf.Ln(2)

	for _, s := range orderedSections(r.Narratives) {
		pdf.SetFont("Helvetica", "B", 12)
		pdf.CellFormat(0, 8, sectionTitle(s), "", 1, "L", false, 0, "")
		pdf.SetFont("Helvetica", "", 10)
		pdf.MultiCell(0, 5.5, r.Narratives[s], "", "L", false)
		pdf.Ln(4)
	}
}
