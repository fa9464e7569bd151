package analysis

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/montanaflynn/stats"
)

// Report bundles everything the analyze command prints for one table.
type Report struct {
	Name      string          `json:"name"`
	Rows      int             `json:"rows"`
	Cols      []ColumnSummary `json:"columns"`
	Schema    Schema          `json:"schema"`
	Metric    string          `json:"metric"`
	Label     string          `json:"label"`
	Top       AggregatedView  `json:"top_factors"`
	Dist      Histogram       `json:"distribution"`
	Head      string          `json:"head"`
	Warnings  []string        `json:"warnings,omitempty"`
	sampleLen int
}

// ColumnSummary captures the kind and basic statistics of one column.
type ColumnSummary struct {
	Name    string `json:"name"`
	Kind    Kind   `json:"kind"`
	NonNull int    `json:"non_null"`
	Missing int    `json:"missing"`
	// Numeric stats; zero when the column has no values
	Min  float64 `json:"min,omitempty"`
	Max  float64 `json:"max,omitempty"`
	Mean float64 `json:"mean,omitempty"`
	Std  float64 `json:"std,omitempty"`
	// Text columns
	Unique    int             `json:"unique,omitempty"`
	TopValues []CategoryCount `json:"top_values,omitempty"`
}

type CategoryCount struct {
	Value string `json:"value"`
	Count int    `json:"count"`
}

// ReportOptions selects what BuildReport aggregates.
type ReportOptions struct {
	Metric     string
	Label      string
	Limit      int
	Bins       int
	SampleRows int
}

// BuildReport summarises t for the given metric/label selection.
func BuildReport(t *Table, opt ReportOptions) *Report {
	if opt.SampleRows <= 0 {
		opt.SampleRows = 5
	}
	r := &Report{
		Name:      t.Name,
		Rows:      t.Rows(),
		Schema:    Classify(t),
		Metric:    opt.Metric,
		Label:     opt.Label,
		Top:       TopFactors(t, opt.Metric, opt.Label, opt.Limit),
		Dist:      Distribution(t, opt.Metric, opt.Bins),
		Warnings:  append([]string(nil), t.Warnings...),
		sampleLen: opt.SampleRows,
	}
	r.Head = t.Head(opt.SampleRows).String()
	for _, c := range t.Cols {
		r.Cols = append(r.Cols, summarizeColumn(c))
	}
	return r
}

func summarizeColumn(c *Column) ColumnSummary {
	s := ColumnSummary{Name: c.Name, Kind: c.Kind, NonNull: len(c.Values) - c.Missing, Missing: c.Missing}
	if c.Kind == KindNumeric {
		vals := make([]float64, 0, s.NonNull)
		for _, v := range c.Nums {
			if !math.IsNaN(v) && !math.IsInf(v, 0) {
				vals = append(vals, v)
			}
		}
		if len(vals) == 0 {
			return s
		}
		s.Min, _ = stats.Min(vals)
		s.Max, _ = stats.Max(vals)
		s.Mean, _ = stats.Mean(vals)
		if len(vals) > 1 {
			s.Std, _ = stats.StandardDeviationSample(vals)
		}
		return s
	}
	counts := map[string]int{}
	for i, v := range c.Values {
		if !c.IsMissing(i) {
			counts[v]++
		}
	}
	tops := make([]CategoryCount, 0, len(counts))
	for k, v := range counts {
		tops = append(tops, CategoryCount{Value: k, Count: v})
	}
	sort.Slice(tops, func(i, j int) bool {
		if tops[i].Count == tops[j].Count {
			return tops[i].Value < tops[j].Value
		}
		return tops[i].Count > tops[j].Count
	})
	if len(tops) > 5 {
		tops = tops[:5]
	}
	s.Unique = len(counts)
	s.TopValues = tops
	return s
}

// Markdown renders the report for terminals and docs.
func (r *Report) Markdown() string {
	var b strings.Builder
	b.WriteString("[DATASET]\n")
	if r.Name != "" {
		b.WriteString(fmt.Sprintf("File: %s\n", r.Name))
	}
	b.WriteString(fmt.Sprintf("Rows: %d\n", r.Rows))
	b.WriteString(fmt.Sprintf("Columns: %d (numeric %d, non-numeric %d)\n\n", len(r.Cols), len(r.Schema.Numeric), len(r.Schema.NonNumeric)))

	b.WriteString("[SCHEMA]\n")
	for _, c := range r.Cols {
		total := c.NonNull + c.Missing
		missPct := 0.0
		if total > 0 {
			missPct = float64(c.Missing) * 100.0 / float64(total)
		}
		b.WriteString(fmt.Sprintf("- %s: %s (non-null %d, missing %.1f%%)", safeName(c.Name), c.Kind, c.NonNull, missPct))
		switch c.Kind {
		case KindNumeric:
			if c.NonNull > 0 {
				b.WriteString(fmt.Sprintf("; min %.4g, max %.4g, mean %.4g, std %.4g", c.Min, c.Max, c.Mean, c.Std))
			}
		case KindText:
			if len(c.TopValues) > 0 {
				b.WriteString("; top: ")
				for i, kv := range c.TopValues {
					if i > 0 {
						b.WriteString(", ")
					}
					b.WriteString(fmt.Sprintf("%s(%d)", safeVal(kv.Value), kv.Count))
				}
				if c.Unique > len(c.TopValues) {
					b.WriteString(fmt.Sprintf("; unique=%d", c.Unique))
				}
			}
		}
		b.WriteString("\n")
	}

	b.WriteString(fmt.Sprintf("\n[TOP FACTORS] average %s by %s\n", safeName(r.Metric), safeName(r.Label)))
	if len(r.Top.Rows) == 0 {
		b.WriteString("(no data)\n")
	}
	for i, row := range r.Top.Rows {
		mean := "n/a"
		if !math.IsNaN(row.Mean) {
			mean = fmt.Sprintf("%.4g", row.Mean)
		}
		b.WriteString(fmt.Sprintf("%d. %s: %s (n=%d)\n", i+1, safeVal(row.Label), mean, row.Count))
	}

	b.WriteString(fmt.Sprintf("\n[DISTRIBUTION] %s\n", safeName(r.Dist.Column)))
	if len(r.Dist.Buckets) == 0 {
		b.WriteString("(no data)\n")
	}
	for _, bk := range r.Dist.Buckets {
		b.WriteString(fmt.Sprintf("- %s: %d\n", safeVal(bk.Label), bk.Count))
	}

	if r.Head != "" {
		b.WriteString(fmt.Sprintf("\n[HEAD %d]\n", r.sampleLen))
		b.WriteString(r.Head)
		b.WriteString("\n")
	}
	if len(r.Warnings) > 0 {
		b.WriteString("\n[NOTES]\n")
		for _, w := range r.Warnings {
			b.WriteString("- ")
			b.WriteString(w)
			b.WriteString("\n")
		}
	}
	return b.String()
}

func safeName(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return "(unnamed)"
	}
	return s
}

func safeVal(s string) string { return strings.ReplaceAll(strings.ReplaceAll(s, "\n", " "), "|", "/") }
