// Package chart draws the distribution histogram and the top-factors bar
// chart as SVG or PNG.
package chart

import (
	"fmt"
	"io"
	"math"
	"sort"
	"strings"

	gochart "github.com/wcharczuk/go-chart/v2"
	"github.com/wcharczuk/go-chart/v2/drawing"

	"github.com/KaramelBytes/csvlens/internal/analysis"
)

// Format selects the output encoding.
type Format string

const (
	SVG Format = "svg"
	PNG Format = "png"
)

// ParseFormat maps a file extension or name ("svg", ".png") to a Format.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimPrefix(strings.TrimSpace(s), ".")) {
	case "svg":
		return SVG, nil
	case "png":
		return PNG, nil
	}
	return "", fmt.Errorf("unsupported chart format %q", s)
}

// ContentType is the MIME type of f.
func (f Format) ContentType() string {
	if f == PNG {
		return "image/png"
	}
	return "image/svg+xml"
}

var (
	histogramColor = drawing.ColorFromHex("00CC96")
	barColor       = drawing.ColorFromHex("636EFA")
)

const (
	barWidth   = 40
	barSpacing = 20
	minWidth   = 640
	height     = 420
	maxLabel   = 18
	// MaxBars is the most bars one chart draws; wider inputs are folded.
	MaxBars = 30
)

// RenderHistogram draws h as a bar per bucket titled "Distribution of <column>".
// More than MaxBars buckets are folded first: see foldBuckets.
func RenderHistogram(w io.Writer, h analysis.Histogram, f Format) error {
	buckets := foldBuckets(h)
	bars := make([]gochart.Value, 0, len(buckets))
	for _, b := range buckets {
		bars = append(bars, gochart.Value{
			Label: shorten(b.Label),
			Value: float64(b.Count),
			Style: gochart.Style{FillColor: histogramColor, StrokeColor: histogramColor},
		})
	}
	return render(w, fmt.Sprintf("Distribution of %s", h.Column), bars, f)
}

// RenderTopFactors draws v titled "Average <metric> by <label>". Groups
// without a mean are drawn at zero height. Only the first MaxBars rows are drawn.
func RenderTopFactors(w io.Writer, v analysis.AggregatedView, f Format) error {
	rows := v.Rows
	if len(rows) > MaxBars {
		rows = rows[:MaxBars]
	}
	bars := make([]gochart.Value, 0, len(rows))
	for _, r := range rows {
		mean := r.Mean
		if math.IsNaN(mean) || math.IsInf(mean, 0) {
			mean = 0
		}
		bars = append(bars, gochart.Value{
			Label: shorten(r.Label),
			Value: mean,
			Style: gochart.Style{FillColor: barColor, StrokeColor: barColor},
		})
	}
	return render(w, fmt.Sprintf("Average %s by %s", v.Metric, v.Label), bars, f)
}

// foldBuckets caps h at MaxBars buckets. Categorical histograms keep the
// most frequent values and sum the rest into one "other" bucket; numeric
// histograms merge runs of adjacent ranges. Counts are preserved.
func foldBuckets(h analysis.Histogram) []analysis.Bucket {
	if len(h.Buckets) <= MaxBars {
		return h.Buckets
	}
	if h.Categorical {
		sorted := append([]analysis.Bucket(nil), h.Buckets...)
		sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Count > sorted[j].Count })
		kept := sorted[:MaxBars-1]
		other := analysis.Bucket{Label: fmt.Sprintf("other (%d)", len(sorted)-len(kept))}
		for _, b := range sorted[len(kept):] {
			other.Count += b.Count
		}
		return append(kept, other)
	}
	step := (len(h.Buckets) + MaxBars - 1) / MaxBars
	out := make([]analysis.Bucket, 0, MaxBars)
	for i := 0; i < len(h.Buckets); i += step {
		run := h.Buckets[i:min(i+step, len(h.Buckets))]
		b := analysis.Bucket{Lower: run[0].Lower, Upper: run[len(run)-1].Upper}
		for _, r := range run {
			b.Count += r.Count
		}
		b.Label = fmt.Sprintf("%.4g–%.4g", b.Lower, b.Upper)
		out = append(out, b)
	}
	return out
}

func render(w io.Writer, title string, bars []gochart.Value, f Format) error {
	rp, err := provider(f)
	if err != nil {
		return err
	}
	if len(bars) == 0 {
		title += " (no data)"
		bars = []gochart.Value{{Label: "no data", Value: 0}}
	}
	lo, hi := valueRange(bars)
	bc := gochart.BarChart{
		Title:      title,
		TitleStyle: gochart.Style{FontSize: 14},
		Width:      max(minWidth, 120+len(bars)*(barWidth+barSpacing)),
		Height:     height,
		BarWidth:   barWidth,
		BarSpacing: barSpacing,
		Background: gochart.Style{Padding: gochart.Box{Top: 48, Left: 16, Right: 16, Bottom: 16}},
		XAxis:      gochart.Style{FontSize: 9},
		YAxis: gochart.YAxis{
			Style: gochart.Style{FontSize: 9},
			Range: &gochart.ContinuousRange{Min: lo, Max: hi},
		},
		Bars: bars,
	}
	if err := bc.Render(rp, w); err != nil {
		return fmt.Errorf("render %s chart: %w", f, err)
	}
	return nil
}

func provider(f Format) (gochart.RendererProvider, error) {
	switch f {
	case SVG:
		return gochart.SVG, nil
	case PNG:
		return gochart.PNG, nil
	}
	return nil, fmt.Errorf("unsupported chart format %q", f)
}

// valueRange spans zero and every bar. go-chart rejects a zero-width range,
// so an all-zero chart gets 0..1.
func valueRange(bars []gochart.Value) (float64, float64) {
	lo, hi := 0.0, 0.0
	for _, b := range bars {
		lo = math.Min(lo, b.Value)
		hi = math.Max(hi, b.Value)
	}
	if hi == lo {
		hi = lo + 1
	}
	pad := (hi - lo) * 0.05
	if lo < 0 {
		lo -= pad
	}
	return lo, hi + pad
}

func shorten(s string) string {
	if r := []rune(s); len(r) > maxLabel {
		return string(r[:maxLabel-1]) + "…"
	}
	return s
}
