package analysis

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Bucket is one bar of a histogram. Lower and Upper are zero for categorical buckets.
type Bucket struct {
	Label string  `json:"label"`
	Lower float64 `json:"lower"`
	Upper float64 `json:"upper"`
	Count int     `json:"count"`
}

// MaxBins is the most equal-width buckets Distribution will build.
const MaxBins = 1000

// Histogram is a count-per-bucket description of a single column.
type Histogram struct {
	Column      string   `json:"column"`
	Categorical bool     `json:"categorical"`
	Buckets     []Bucket `json:"buckets"`
}

// Total returns the number of values counted across all buckets.
func (h Histogram) Total() int {
	n := 0
	for _, b := range h.Buckets {
		n += b.Count
	}
	return n
}

// Distribution bins a numeric column into equal-width buckets (Sturges' rule
// when bins <= 0). A non-numeric column yields one bucket per distinct value
// in order of appearance. Missing values are not counted; an unknown or empty
// column yields no buckets. bins is clamped to the number of values and to
// MaxBins.
func Distribution(t *Table, column string, bins int) Histogram {
	h := Histogram{Column: column, Buckets: []Bucket{}}
	c, ok := t.Column(column)
	if !ok {
		return h
	}
	if c.Kind != KindNumeric {
		h.Categorical = true
		h.Buckets = categoricalBuckets(c)
		return h
	}

	xs := make([]float64, 0, len(c.Nums))
	for _, v := range c.Nums {
		// infinities cannot be placed in a finite bucket
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		xs = append(xs, v)
	}
	if len(xs) == 0 {
		return h
	}
	sort.Float64s(xs)
	lo, hi := xs[0], xs[len(xs)-1]
	if bins <= 0 {
		bins = sturges(len(xs))
	}
	bins = min(bins, len(xs), MaxBins)
	if lo == hi {
		bins = 1
	}
	dividers := make([]float64, bins+1)
	if bins == 1 {
		dividers[0] = lo
	} else {
		floats.Span(dividers, lo, hi)
	}
	// stat.Histogram needs the last divider strictly above the max value.
	dividers[bins] = math.Nextafter(hi, math.Inf(1))

	counts := stat.Histogram(nil, dividers, xs, nil)
	for i, n := range counts {
		upper := dividers[i+1]
		if i == len(counts)-1 {
			upper = hi
		}
		h.Buckets = append(h.Buckets, Bucket{
			Label: fmt.Sprintf("%.4g–%.4g", dividers[i], upper),
			Lower: dividers[i],
			Upper: upper,
			Count: int(n),
		})
	}
	return h
}

func categoricalBuckets(c *Column) []Bucket {
	out := []Bucket{}
	pos := map[string]int{}
	for i := range c.Values {
		if c.IsMissing(i) {
			continue
		}
		v := c.Values[i]
		j, ok := pos[v]
		if !ok {
			j = len(out)
			pos[v] = j
			out = append(out, Bucket{Label: v})
		}
		out[j].Count++
	}
	return out
}

func sturges(n int) int {
	if n <= 1 {
		return 1
	}
	return int(math.Ceil(math.Log2(float64(n)))) + 1
}
