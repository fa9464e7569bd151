package analysis

import (
	"strconv"
	"strings"
	"text/tabwriter"
)

// Head returns a table holding the first n rows of t.
func (t *Table) Head(n int) *Table {
	if t == nil {
		return &Table{index: map[string]int{}}
	}
	if n < 0 {
		n = 0
	}
	if n > t.rows {
		n = t.rows
	}
	out := &Table{Name: t.Name, rows: n, index: make(map[string]int, len(t.Cols))}
	for j, c := range t.Cols {
		hc := &Column{Name: c.Name, Kind: c.Kind, Values: c.Values[:n:n]}
		if c.Nums != nil {
			hc.Nums = c.Nums[:n:n]
		}
		for i := 0; i < n; i++ {
			if hc.IsMissing(i) {
				hc.Missing++
			}
		}
		out.Cols = append(out.Cols, hc)
		out.index[c.Name] = j
	}
	return out
}

// String renders the table as an aligned text grid with a leading row index,
// the way dataframe libraries print a head() sample. Missing cells print as NaN.
func (t *Table) String() string {
	if t == nil || len(t.Cols) == 0 || t.rows == 0 {
		return "Empty DataFrame\nColumns: [" + strings.Join(t.Columns(), ", ") + "]\nIndex: []"
	}
	var b strings.Builder
	tw := tabwriter.NewWriter(&b, 0, 0, 2, ' ', tabwriter.AlignRight)
	b.Grow(64 * (t.rows + 1))
	line := make([]string, 0, len(t.Cols)+1)
	line = append(line, "")
	line = append(line, t.Columns()...)
	writeCells(tw, line)
	for i := 0; i < t.rows; i++ {
		line = line[:0]
		line = append(line, strconv.Itoa(i))
		for _, c := range t.Cols {
			v := c.Values[i]
			if v == "" {
				v = "NaN"
			}
			line = append(line, oneLine(v))
		}
		writeCells(tw, line)
	}
	_ = tw.Flush()
	return strings.TrimRight(b.String(), "\n")
}

func writeCells(tw *tabwriter.Writer, cells []string) {
	for _, c := range cells {
		_, _ = tw.Write([]byte(c + "\t"))
	}
	_, _ = tw.Write([]byte("\n"))
}

func oneLine(s string) string {
	s = strings.ReplaceAll(s, "\t", " ")
	s = strings.ReplaceAll(s, "\n", " ")
	if r := []rune(s); len(r) > 50 {
		s = string(r[:47]) + "..."
	}
	return s
}
