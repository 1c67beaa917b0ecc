package export

import (
	"encoding/json"
	"io"

	"github.com/rotisserie/eris"

	"github.com/justdata-platform/justdata/internal/model"
)

// JSONWriter streams the report in its canonical JSON shape, byte-for-byte
// the same document the report-data endpoint serves.
type JSONWriter struct{}

func (JSONWriter) MIME() string { return "application/json" }

func (JSONWriter) Filename(jobID string) string { return "justdata-" + jobID + ".json" }

func (JSONWriter) Write(w io.Writer, r *model.Report) error {
	return eris.Wrap(json.NewEncoder(w).Encode(r), "export: encode json")
}
