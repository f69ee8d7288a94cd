package gdrive

import (
	"bytes"
	"encoding/csv"
	"io"

	"github.com/xuri/excelize/v2"

	"github.com/ajitpratap0/tidemark/pkg/connector/core"
	"github.com/ajitpratap0/tidemark/pkg/errors"
)

// Supported MIME types.
const (
	MIMETypeCSV  = "text/csv"
	MIMETypeXLSX = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

// Format is a parseable file format.
type Format int

const (
	FormatUnknown Format = iota
	FormatCSV
	FormatXLSX
)

func (f Format) String() string {
	switch f {
	case FormatCSV:
		return "csv"
	case FormatXLSX:
		return "xlsx"
	default:
		return "unknown"
	}
}

// FormatFor maps a declared MIME type to its Format.
func FormatFor(mimeType string) (Format, error) {
	switch mimeType {
	case MIMETypeCSV:
		return FormatCSV, nil
	case MIMETypeXLSX:
		return FormatXLSX, nil
	default:
		return FormatUnknown, errors.Newf(errors.ErrorTypeCapability, "unsupported MIME type %q", mimeType)
	}
}

// Parse decodes content into rows keyed by the header row.
func Parse(format Format, content []byte) ([]core.Row, error) {
	switch format {
	case FormatCSV:
		return parseCSV(content)
	case FormatXLSX:
		return parseXLSX(content)
	default:
		return nil, errors.Newf(errors.ErrorTypeCapability, "unsupported MIME type for format %s", format)
	}
}

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

func parseCSV(content []byte) ([]core.Row, error) {
	r := csv.NewReader(bytes.NewReader(bytes.TrimPrefix(content, utf8BOM)))
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var rows []core.Row
	for {
		record, err := r.Read()
		if err == io.EOF {
			return rows, nil
		}
		if err != nil {
			return nil, err
		}
		rows = append(rows, zipRow(header, record))
	}
}

func parseXLSX(content []byte) ([]core.Row, error) {
	f, err := excelize.OpenReader(bytes.NewReader(content))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	sheet := f.GetSheetName(f.GetActiveSheetIndex())
	records, err := f.GetRows(sheet)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}

	rows := make([]core.Row, 0, len(records)-1)
	for _, record := range records[1:] {
		rows = append(rows, zipRow(records[0], record))
	}
	return rows, nil
}

// zipRow pairs header names with values. Missing trailing cells are nil;
// cells under an empty header are dropped.
func zipRow(header, record []string) core.Row {
	row := make(core.Row, len(header))
	for i, name := range header {
		if name == "" {
			continue
		}
		if i < len(record) {
			row[name] = record[i]
		} else {
			row[name] = nil
		}
	}
	return row
}
