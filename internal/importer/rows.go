// Package importer turns uploaded rosters into participant rows and runs
// them through the ledger as background jobs.
package importer

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"iter"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"

	"sevakpoints/internal/ledger"
)

// MaxRows bounds a single upload.
const MaxRows = 5000

// ReadRecords returns the raw cells of a .csv or .xlsx file. For workbooks
// only the first sheet is read.
func ReadRecords(filename string, data []byte) ([][]string, error) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".csv", ".txt":
		rd := csv.NewReader(bytes.NewReader(data))
		rd.FieldsPerRecord = -1
		rd.LazyQuotes = true
		rd.TrimLeadingSpace = true
		var out [][]string
		for {
			rec, err := rd.Read()
			if err == io.EOF {
				return out, nil
			}
			if err != nil {
				return nil, fmt.Errorf("read csv: %w", err)
			}
			out = append(out, rec)
		}
	case ".xlsx":
		f, err := excelize.OpenReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("open workbook: %w", err)
		}
		defer f.Close()
		sheets := f.GetSheetList()
		if len(sheets) == 0 {
			return nil, fmt.Errorf("workbook has no sheets")
		}
		rows, err := f.GetRows(sheets[0])
		if err != nil {
			return nil, fmt.Errorf("read sheet %s: %w", sheets[0], err)
		}
		return rows, nil
	}
	return nil, fmt.Errorf("unsupported file type %q, want .csv or .xlsx", filepath.Ext(filename))
}

// Rows maps raw records to import rows lazily. A first record mentioning
// name, sevak or gender is treated as a header. Without a header the first
// column is the name and the second the gender. Blank records are skipped.
func Rows(records [][]string) iter.Seq[ledger.ImportRow] {
	return func(yield func(ledger.ImportRow) bool) {
		nameCol, genderCol, start := 0, 1, 0
		if len(records) > 0 && isHeader(records[0]) {
			nameCol, genderCol = columns(records[0])
			start = 1
		}
		for i := start; i < len(records); i++ {
			rec := records[i]
			name := cell(rec, nameCol)
			if name == "" && cell(rec, genderCol) == "" {
				continue
			}
			row := ledger.ImportRow{Line: i + 1, Name: name, Gender: parseGender(cell(rec, genderCol))}
			if !yield(row) {
				return
			}
		}
	}
}

func isHeader(rec []string) bool {
	line := strings.ToLower(strings.Join(rec, ","))
	return strings.Contains(line, "name") || strings.Contains(line, "sevak") || strings.Contains(line, "gender")
}

func columns(header []string) (name, gender int) {
	name, gender = 0, 1
	foundName := false
	for i, h := range header {
		h = strings.ToLower(clean(h))
		switch {
		case strings.Contains(h, "gender") || h == "sex":
			gender = i
		case !foundName && strings.Contains(h, "name"):
			name, foundName = i, true
		}
	}
	if gender == name {
		gender = name + 1
	}
	return name, gender
}

func cell(rec []string, i int) string {
	if i < 0 || i >= len(rec) {
		return ""
	}
	return clean(rec[i])
}

func clean(s string) string {
	return strings.TrimSpace(strings.Trim(strings.TrimSpace(s), `"'`))
}

// parseGender is lenient: anything not recognisably female is male.
func parseGender(s string) ledger.Gender {
	switch strings.ToLower(s) {
	case "female", "f", "woman":
		return ledger.Female
	}
	return ledger.Male
}
