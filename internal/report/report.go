// Package report turns run items into a tabular export.
package report

import (
	"bytes"
	"io"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/sells-group/form-detector/internal/model"
)

const (
	// SheetName is the single sheet of the export.
	SheetName = "PDF Analysis"
	// DefaultFilename is the export file name when none is given.
	DefaultFilename = "PDF_Analysis_Report.xlsx"
	// ContentType is the MIME type of the export.
	ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

// Columns is the fixed column order of the export.
var Columns = []string{"Filename", "URL", "Status", "Field Count", "Summary", "Error"}

// Row is one exported item.
type Row struct {
	Filename   string `json:"filename" yaml:"filename"`
	URL        string `json:"url" yaml:"url"`
	Status     string `json:"status" yaml:"status"`
	FieldCount int    `json:"field_count" yaml:"field_count"`
	Summary    string `json:"summary" yaml:"summary"`
	Error      string `json:"error" yaml:"error"`
}

var titler = cases.Title(language.English)

// StatusLabel renders an item's status for people: the verdict for
// completed items, the title-cased status otherwise.
func StatusLabel(it model.AnalysisItem) string {
	if it.Status == model.StatusCompleted {
		if it.IsFillable != nil && *it.IsFillable {
			return "Fillable Form"
		}
		return "Read-only"
	}
	return titler.String(string(it.Status))
}

// Rows builds one row per item, in item order. Absent fields become zero
// values.
func Rows(items []model.AnalysisItem) []Row {
	rows := make([]Row, len(items))
	for i, it := range items {
		r := Row{
			Filename: it.Filename,
			URL:      it.URL,
			Status:   StatusLabel(it),
		}
		if it.FieldCount != nil {
			r.FieldCount = *it.FieldCount
		}
		if it.Summary != nil {
			r.Summary = *it.Summary
		}
		if it.ErrorMessage != nil {
			r.Error = *it.ErrorMessage
		}
		rows[i] = r
	}
	return rows
}

// Build creates the workbook for items.
func Build(items []model.AnalysisItem) (*xlsx.File, error) {
	f := xlsx.NewFile()
	sheet, err := f.AddSheet(SheetName)
	if err != nil {
		return nil, eris.Wrap(err, "report: add sheet")
	}

	header := sheet.AddRow()
	for _, c := range Columns {
		header.AddCell().SetString(c)
	}

	for _, r := range Rows(items) {
		row := sheet.AddRow()
		row.AddCell().SetString(r.Filename)
		row.AddCell().SetString(r.URL)
		row.AddCell().SetString(r.Status)
		row.AddCell().SetInt(r.FieldCount)
		row.AddCell().SetString(r.Summary)
		row.AddCell().SetString(r.Error)
	}
	return f, nil
}

// WriteXLSX writes the workbook for items to w.
func WriteXLSX(w io.Writer, items []model.AnalysisItem) error {
	f, err := Build(items)
	if err != nil {
		return err
	}
	if err := f.Write(w); err != nil {
		return eris.Wrap(err, "report: write xlsx")
	}
	return nil
}

// Bytes renders the workbook in memory.
func Bytes(items []model.AnalysisItem) ([]byte, error) {
	var buf bytes.Buffer
	if err := WriteXLSX(&buf, items); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Export writes the report to path, or to DefaultFilename when path is
// empty. An empty item sequence writes nothing and returns "".
func Export(path string, items []model.AnalysisItem) (string, error) {
	if len(items) == 0 {
		return "", nil
	}
	if path == "" {
		path = DefaultFilename
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", eris.Wrapf(err, "report: create dir %s", dir)
		}
	}

	f, err := Build(items)
	if err != nil {
		return "", err
	}
	if err := f.Save(path); err != nil {
		return "", eris.Wrapf(err, "report: save %s", path)
	}
	return path, nil
}
