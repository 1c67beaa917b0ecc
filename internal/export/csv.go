package export

import (
	"encoding/csv"
	"io"
	"strconv"

	"github.com/rotisserie/eris"

	"github.com/justdata-platform/justdata/internal/model"
)

// summaryColumns is the CSV column order. Downstream spreadsheets key on
// these names; do not reorder.
var summaryColumns = []string{
	"county_code",
	"year",
	"total_count",
	"total_amount",
	"mmct_count",
	"mmct_amount",
	"lmi_tract_count",
	"lmi_tract_amount",
	"lmi_borrower_count",
	"lmi_borrower_amount",
}

// CSVWriter renders the summary table. Amounts stay in warehouse-native
// thousands of dollars, unformatted, so the file parses cleanly.
type CSVWriter struct{}

func (CSVWriter) MIME() string { return "text/csv" }

func (CSVWriter) Filename(jobID string) string { return "justdata-" + jobID + ".csv" }

func (CSVWriter) Write(w io.Writer, r *model.Report) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(summaryColumns); err != nil {
		return eris.Wrap(err, "export: write csv header")
	}
	for _, row := range r.Summary {
		rec := []string{
			row.CountyCode,
			strconv.Itoa(row.Year),
			strconv.FormatInt(row.Total.Count, 10),
			rawAmount(row.Total.Amount),
			strconv.FormatInt(row.MMCT.Count, 10),
			rawAmount(row.MMCT.Amount),
			strconv.FormatInt(row.LMITract.Count, 10),
			rawAmount(row.LMITract.Amount),
			strconv.FormatInt(row.LMIBorrower.Count, 10),
			rawAmount(row.LMIBorrower.Amount),
		}
		if err := cw.Write(rec); err != nil {
			return eris.Wrap(err, "export: write csv row")
		}
	}
	cw.Flush()
	return eris.Wrap(cw.Error(), "export: flush csv")
}

func rawAmount(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
