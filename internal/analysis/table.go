package analysis

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// ErrUnsupportedFormat is returned by Load for file extensions it cannot parse.
var ErrUnsupportedFormat = errors.New("unsupported table format")

// Options controls how an uploaded file is turned into a Table.
type Options struct {
	// MaxRows limits rows loaded; 0 means unlimited.
	MaxRows int
	// Delimiter for CSV. If 0, ',' is used (or '\t' for .tsv names).
	Delimiter rune
	// DecimalSeparator switches numeric parsing to a ',' decimal locale when set.
	// '.' thousands separators are stripped in that mode.
	DecimalSeparator rune
	// Sheet selects the XLSX worksheet by name; empty means the first sheet.
	Sheet string
}

// DefaultOptions returns the loader defaults.
func DefaultOptions() Options {
	return Options{}
}

// Kind is the inferred primitive type of a column.
type Kind string

const (
	KindNumeric Kind = "numeric"
	KindText    Kind = "text"
)

// Column is a named, typed sequence of values. Values keeps the trimmed raw
// cell text ("" when missing); Nums is populated for numeric columns only and
// holds NaN for missing cells.
type Column struct {
	Name    string
	Kind    Kind
	Values  []string
	Nums    []float64
	Missing int
}

// IsMissing reports whether row i has no value in this column.
func (c *Column) IsMissing(i int) bool {
	return c.Values[i] == ""
}

// Key returns the grouping key of row i. Numeric cells are canonicalised so
// that "1" and "1.0" fall into the same group.
func (c *Column) Key(i int) string {
	if c.Kind == KindNumeric {
		return strconv.FormatFloat(c.Nums[i], 'g', -1, 64)
	}
	return c.Values[i]
}

// Table is an immutable row/column dataset. All columns have the same length.
type Table struct {
	Name     string
	Cols     []*Column
	Warnings []string

	rows  int
	index map[string]int
}

// Rows returns the row count.
func (t *Table) Rows() int {
	if t == nil {
		return 0
	}
	return t.rows
}

// Columns returns the column names in source order.
func (t *Table) Columns() []string {
	if t == nil {
		return nil
	}
	out := make([]string, len(t.Cols))
	for i, c := range t.Cols {
		out[i] = c.Name
	}
	return out
}

// Column looks up a column by exact name.
func (t *Table) Column(name string) (*Column, bool) {
	if t == nil {
		return nil, false
	}
	i, ok := t.index[name]
	if !ok {
		return nil, false
	}
	return t.Cols[i], true
}

// Load parses r according to the extension of name.
func Load(r io.Reader, name string, opt Options) (*Table, error) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".csv", ".tsv", ".txt":
		return LoadCSV(r, name, opt)
	case ".xlsx":
		return LoadXLSX(r, name, opt)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, filepath.Ext(name))
	}
}

// LoadFile opens path and parses it with Load.
func LoadFile(path string, opt Options) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open table: %w", err)
	}
	defer f.Close()
	return Load(f, filepath.Base(path), opt)
}

// LoadCSV parses delimited text with a header row.
func LoadCSV(r io.Reader, name string, opt Options) (*Table, error) {
	delim := opt.Delimiter
	if delim == 0 {
		delim = sniffDelimiter(name)
	}
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	cr.Comma = delim

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return newTable(name, nil, nil, 0, opt), nil
		}
		return nil, fmt.Errorf("read header: %w", err)
	}
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
	}

	maxRows := opt.MaxRows
	if maxRows <= 0 {
		maxRows = math.MaxInt
	}
	var records [][]string
	total := 0
	for {
		rec, err := cr.Read()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("read row %d: %w", total+1, err)
		}
		total++
		if len(records) >= maxRows {
			continue
		}
		records = append(records, rec)
	}
	return newTable(name, header, records, total, opt), nil
}

// newTable builds typed columns from raw records. total is the number of data
// rows seen in the source, which may exceed len(records) when MaxRows applied.
func newTable(name string, header []string, records [][]string, total int, opt Options) *Table {
	t := &Table{Name: name, rows: len(records), index: make(map[string]int, len(header))}
	names := uniqueNames(header)
	for j, n := range names {
		c := &Column{Name: n, Values: make([]string, len(records))}
		for i, rec := range records {
			if j < len(rec) {
				c.Values[i] = normalizeCell(rec[j])
			}
		}
		inferKind(c, opt)
		t.Cols = append(t.Cols, c)
		t.index[n] = j
	}
	if total > len(records) {
		t.Warnings = append(t.Warnings, fmt.Sprintf("loaded only %d/%d rows due to MaxRows", len(records), total))
	}
	return t
}

// inferKind marks a column numeric when every non-missing cell parses as a
// number. A column without any values is numeric as well.
func inferKind(c *Column, opt Options) {
	nums := make([]float64, len(c.Values))
	numeric := true
	for i, v := range c.Values {
		if v == "" {
			c.Missing++
			nums[i] = math.NaN()
			continue
		}
		if !numeric {
			continue
		}
		x, ok := parseNumber(v, opt)
		if !ok {
			numeric = false
			continue
		}
		nums[i] = x
	}
	if numeric {
		c.Kind = KindNumeric
		c.Nums = nums
		return
	}
	c.Kind = KindText
}

var naTokens = map[string]struct{}{
	"NA": {}, "N/A": {}, "n/a": {}, "NaN": {}, "nan": {}, "-NaN": {}, "-nan": {},
	"null": {}, "NULL": {}, "None": {}, "#N/A": {}, "<NA>": {},
}

// normalizeCell trims a cell and maps NA tokens to "".
func normalizeCell(s string) string {
	s = strings.TrimSpace(strings.ReplaceAll(s, "\u00a0", " "))
	if _, ok := naTokens[s]; ok {
		return ""
	}
	return s
}

func parseNumber(s string, opt Options) (float64, bool) {
	raw := s
	if opt.DecimalSeparator == ',' {
		raw = strings.ReplaceAll(raw, ".", "")
		raw = strings.Replace(raw, ",", ".", 1)
	}
	// ParseFloat accepts hex and underscore forms that CSV producers never mean as numbers.
	if strings.ContainsAny(raw, "_xXpP") {
		return 0, false
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

func sniffDelimiter(name string) rune {
	if strings.HasSuffix(strings.ToLower(name), ".tsv") {
		return '\t'
	}
	return ','
}

// uniqueNames fills blank headers and suffixes duplicates (a, a.1, a.2).
func uniqueNames(header []string) []string {
	out := make([]string, len(header))
	seen := map[string]int{}
	for i, h := range header {
		n := strings.TrimSpace(h)
		if n == "" {
			n = fmt.Sprintf("Unnamed: %d", i)
		}
		base := n
		for {
			if _, dup := seen[n]; !dup {
				break
			}
			seen[base]++
			n = fmt.Sprintf("%s.%d", base, seen[base])
		}
		seen[n] = 0
		out[i] = n
	}
	return out
}
