// Package export renders finalized reports into downloadable formats.
// Every writer consumes the report object only; none of them reach back
// into the store or the warehouse.
package export

import (
	"io"

	"github.com/rotisserie/eris"

	"github.com/justdata-platform/justdata/internal/model"
)

// Format names accepted by the download endpoint.
const (
	FormatExcel = "excel"
	FormatPDF   = "pdf"
	FormatCSV   = "csv"
	FormatJSON  = "json"
	FormatZip   = "zip"
)

// ErrUnsupportedFormat maps to 415 at the HTTP surface.
var ErrUnsupportedFormat = eris.New("export: unsupported format")

// Writer renders one download format.
type Writer interface {
	Write(w io.Writer, r *model.Report) error
	MIME() string
	Filename(jobID string) string
}

// ForFormat returns the writer for a format name. Unknown names,
// including the retired pptx renderer, return ErrUnsupportedFormat.
func ForFormat(format string) (Writer, error) {
	switch format {
	case FormatExcel:
		return ExcelWriter{}, nil
	case FormatPDF:
		return PDFWriter{}, nil
	case FormatCSV:
		return CSVWriter{}, nil
	case FormatJSON:
		return JSONWriter{}, nil
	case FormatZip:
		return ZipWriter{}, nil
	default:
		return nil, eris.Wrapf(ErrUnsupportedFormat, "format %q", format)
	}
}

// Formats lists the supported format names in presentation order.
func Formats() []string {
	return []string{FormatExcel, FormatPDF, FormatCSV, FormatJSON, FormatZip}
}
