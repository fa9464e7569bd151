package analysis

import (
	"encoding/json"
	"math"
	"sort"

	"github.com/montanaflynn/stats"
)

// DefaultTopN is the number of groups kept by TopFactors when no limit is given.
const DefaultTopN = 10

// FactorRow is one label group with the mean of the metric inside it.
// Mean is NaN when the group has no metric values.
type FactorRow struct {
	Label string
	Mean  float64
	Count int
}

// MarshalJSON encodes a NaN mean as null.
func (r FactorRow) MarshalJSON() ([]byte, error) {
	var mean *float64
	if !math.IsNaN(r.Mean) && !math.IsInf(r.Mean, 0) {
		m := r.Mean
		mean = &m
	}
	return json.Marshal(struct {
		Label string   `json:"label"`
		Mean  *float64 `json:"mean"`
		Count int      `json:"count"`
	}{r.Label, mean, r.Count})
}

// AggregatedView is the top-N label/mean list behind the bar chart.
type AggregatedView struct {
	Metric string      `json:"metric"`
	Label  string      `json:"label"`
	Rows   []FactorRow `json:"rows"`
}

// TopFactors groups rows by label, averages metric per group and returns the
// groups with the highest means first. Groups without metric values sort
// last; ties keep the order in which groups first appear. Rows with a missing
// label are dropped. A non-numeric or unknown metric, an unknown label, or an
// empty table yields an empty view.
func TopFactors(t *Table, metric, label string, limit int) AggregatedView {
	view := AggregatedView{Metric: metric, Label: label, Rows: []FactorRow{}}
	if t.Rows() == 0 {
		return view
	}
	mc, ok := t.Column(metric)
	if !ok || mc.Kind != KindNumeric {
		return view
	}
	lc, ok := t.Column(label)
	if !ok {
		return view
	}
	if limit <= 0 {
		limit = DefaultTopN
	}

	type group struct {
		key  string
		vals []float64
	}
	var order []*group
	byKey := map[string]*group{}
	for i := 0; i < t.Rows(); i++ {
		if lc.IsMissing(i) {
			continue
		}
		k := lc.Key(i)
		g := byKey[k]
		if g == nil {
			g = &group{key: k}
			byKey[k] = g
			order = append(order, g)
		}
		if !mc.IsMissing(i) {
			g.vals = append(g.vals, mc.Nums[i])
		}
	}

	rows := make([]FactorRow, 0, len(order))
	for _, g := range order {
		mean, err := stats.Mean(g.vals)
		if err != nil {
			mean = math.NaN()
		}
		rows = append(rows, FactorRow{Label: g.key, Mean: mean, Count: len(g.vals)})
	}
	sort.SliceStable(rows, func(i, j int) bool {
		a, b := rows[i].Mean, rows[j].Mean
		if math.IsNaN(a) {
			return false
		}
		if math.IsNaN(b) {
			return true
		}
		return a > b
	})
	if len(rows) > limit {
		rows = rows[:limit]
	}
	view.Rows = rows
	return view
}
