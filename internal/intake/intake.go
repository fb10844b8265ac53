// Package intake parses uploaded address files into validated batches.
package intake

import (
	"bytes"
	"encoding/csv"
	"io"
	"path/filepath"
	"strings"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"github.com/support934/smartgecode-saas/internal/model"
)

// ValidationError reports an upload that cannot be turned into a batch.
// Its message is safe to show to the submitter.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

func invalid(msg string) error {
	return &ValidationError{Message: msg}
}

// Batch is a validated upload.
type Batch struct {
	Columns   []string              `json:"columns"`
	Records   []model.AddressRecord `json:"records"`
	TotalRows int                   `json:"total_rows"`
}

// ParseFile dispatches on the file extension: .xlsx is read from its first
// sheet, everything else is treated as CSV.
func ParseFile(name string, data []byte) (*Batch, error) {
	if strings.EqualFold(filepath.Ext(name), ".xlsx") {
		rows, err := readXLSX(data)
		if err != nil {
			return nil, err
		}
		return fromRows(rows)
	}
	return Parse(data)
}

// Parse reads CSV bytes into a batch. Blank rows, rows whose first cell
// starts with '#', and rows of only whitespace are dropped. The first
// surviving row is the header.
func Parse(data []byte) (*Batch, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, invalid("uploaded file is empty")
	}

	r := csv.NewReader(transform.NewReader(bytes.NewReader(data), unicode.BOMOverride(transform.Nop)))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	var rows [][]string
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, &ValidationError{Message: "could not read CSV: " + err.Error()}
		}
		rows = append(rows, rec)
	}
	return fromRows(rows)
}

// RequireColumns checks that the header carries a primary search column.
func RequireColumns(columns []string) error {
	for _, c := range columns {
		if c == model.ColumnAddress || c == model.ColumnLandmark {
			return nil
		}
	}
	return invalid("CSV must contain an 'address' or 'landmark' column")
}

func fromRows(rows [][]string) (*Batch, error) {
	var header []string
	var records []model.AddressRecord

	for _, row := range rows {
		if discard(row) {
			continue
		}
		if header == nil {
			header = make([]string, len(row))
			for i, cell := range row {
				header[i] = strings.ToLower(strings.TrimSpace(cell))
			}
			if err := RequireColumns(header); err != nil {
				return nil, err
			}
			continue
		}
		records = append(records, zip(header, row))
	}

	if header == nil {
		return nil, invalid("no header row found")
	}
	if len(records) == 0 {
		return nil, invalid("CSV has a header but no data rows")
	}

	return &Batch{
		Columns:   header,
		Records:   records,
		TotalRows: len(records),
	}, nil
}

func discard(row []string) bool {
	if len(row) == 0 {
		return true
	}
	if strings.HasPrefix(strings.TrimSpace(row[0]), "#") {
		return true
	}
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}

// zip pairs header keys with cells. Short rows read as "" for the missing
// columns and extra cells are dropped.
func zip(header, row []string) model.AddressRecord {
	rec := make(model.AddressRecord, len(header))
	for i, key := range header {
		if key == "" {
			continue
		}
		var v string
		if i < len(row) {
			v = strings.TrimSpace(row[i])
		}
		rec[key] = v
	}
	return rec
}
