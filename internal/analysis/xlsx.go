package analysis

import (
	"fmt"
	"io"
	"strings"

	"github.com/xuri/excelize/v2"
)

// LoadXLSX reads one worksheet of an .xlsx workbook into a Table. The first
// row is the header. opt.Sheet picks the sheet by name (case-insensitive);
// when empty the first sheet is used.
func LoadXLSX(r io.Reader, name string, opt Options) (*Table, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("open xlsx: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return newTable(name, nil, nil, 0, opt), nil
	}
	target := sheets[0]
	if opt.Sheet != "" {
		target = ""
		for _, s := range sheets {
			if strings.EqualFold(s, opt.Sheet) {
				target = s
				break
			}
		}
		if target == "" {
			return nil, fmt.Errorf("sheet '%s' not found in workbook '%s'.\nAvailable sheets: %s",
				opt.Sheet, name, strings.Join(sheets, ", "))
		}
	}

	rows, err := f.GetRows(target)
	if err != nil {
		return nil, fmt.Errorf("read sheet %s: %w", target, err)
	}
	if len(rows) == 0 {
		return newTable(name, nil, nil, 0, opt), nil
	}
	header, body := rows[0], rows[1:]
	// GetRows keeps interior blank rows; drop fully empty trailing ones.
	for len(body) > 0 && blankRow(body[len(body)-1]) {
		body = body[:len(body)-1]
	}
	total := len(body)
	if opt.MaxRows > 0 && total > opt.MaxRows {
		body = body[:opt.MaxRows]
	}
	t := newTable(name, header, body, total, opt)
	if len(sheets) > 1 {
		t.Warnings = append(t.Warnings, fmt.Sprintf("workbook has %d sheets; loaded %q", len(sheets), target))
	}
	return t, nil
}

func blankRow(row []string) bool {
	for _, v := range row {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
