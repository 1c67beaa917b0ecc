package export

import (
	"archive/zip"
	"encoding/json"
	"io"

	"github.com/rotisserie/eris"

	"github.com/justdata-platform/justdata/internal/model"
)

// ZipWriter bundles the report artifacts the way the store lays them
// out: report.json, metadata.json, and the derived tables under raw/.
type ZipWriter struct{}

func (ZipWriter) MIME() string { return "application/zip" }

func (ZipWriter) Filename(jobID string) string { return "justdata-" + jobID + ".zip" }

func (ZipWriter) Write(w io.Writer, r *model.Report) error {
	zw := zip.NewWriter(w)

	add := func(name string, v any) error {
		entry, err := zw.Create(name)
		if err != nil {
			return eris.Wrapf(err, "export: zip entry %s", name)
		}
		data, err := json.Marshal(v)
		if err != nil {
			return eris.Wrapf(err, "export: marshal %s", name)
		}
		_, err = entry.Write(data)
		return eris.Wrapf(err, "export: write %s", name)
	}

	if err := add("report.json", r); err != nil {
		return err
	}
	if err := add("metadata.json", r.Metadata); err != nil {
		return err
	}

	type entry struct {
		name string
		data any
	}
	tables := []entry{
		{"raw/summary.json", r.Summary},
		{"raw/by_demographic.json", r.ByDemographic},
		{"raw/by_income_neighborhood.json", r.ByIncomeNeighborhood},
		{"raw/by_lender.json", r.ByLender},
		{"raw/by_lender_by_year.json", r.ByLenderByYear},
		{"raw/concentration.json", r.Concentration},
		{"raw/trends.json", r.Trends},
		{"raw/demographic_context.json", r.DemographicContext},
	}
	if len(r.Branches) > 0 {
		tables = append(tables, entry{"raw/branches.json", r.Branches})
	}
	if len(r.TractBoundaries) > 0 {
		tables = append(tables, entry{"raw/tract_boundaries.json", r.TractBoundaries})
	}
	for _, t := range tables {
		if err := add(t.name, t.data); err != nil {
			return err
		}
	}

	return eris.Wrap(zw.Close(), "export: close zip")
}
