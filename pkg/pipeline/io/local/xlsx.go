package local

import (
	"io"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/xuri/excelize/v2"
)

// ReadEmailsXLSX reads the first sheet of a workbook. When the first row has an "email" header
// only that column is returned; otherwise every cell containing '@' is.
func ReadEmailsXLSX(r io.Reader) ([]string, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, eris.Wrap(err, "open workbook")
	}
	defer func() { _ = f.Close() }()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, eris.New("workbook has no sheets")
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, eris.Wrapf(err, "read sheet %q", sheets[0])
	}
	if len(rows) == 0 {
		return nil, nil
	}

	var out []string
	if idx := emailColumn(rows[0]); idx >= 0 {
		for _, row := range rows[1:] {
			if idx < len(row) && strings.TrimSpace(row[idx]) != "" {
				out = append(out, row[idx])
			}
		}
		return out, nil
	}
	for _, row := range rows {
		for _, cell := range row {
			if strings.Contains(cell, "@") {
				out = append(out, cell)
			}
		}
	}
	return out, nil
}

// WriteXLSX writes a single-sheet workbook with header in the first row.
func WriteXLSX(w io.Writer, sheet string, header []string, rows [][]string) error {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	if sheet == "" {
		sheet = "Results"
	}
	if err := f.SetSheetName(f.GetSheetName(0), sheet); err != nil {
		return eris.Wrap(err, "name sheet")
	}

	write := func(col, row int, v string) error {
		cell, err := excelize.CoordinatesToCellName(col, row)
		if err != nil {
			return err
		}
		return f.SetCellValue(sheet, cell, v)
	}
	for i, h := range header {
		if err := write(i+1, 1, h); err != nil {
			return eris.Wrap(err, "write header")
		}
	}
	for r, row := range rows {
		for c, v := range row {
			if err := write(c+1, r+2, v); err != nil {
				return eris.Wrapf(err, "write row %d", r+1)
			}
		}
	}
	_, err := f.WriteTo(w)
	return eris.Wrap(err, "write workbook")
}
