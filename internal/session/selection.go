package session

import (
	"fmt"

	"github.com/KaramelBytes/csvlens/internal/analysis"
	"github.com/KaramelBytes/csvlens/internal/insight"
)

// Selection is the metric/label pair a chart is drawn for. It is taken from
// each request and never stored on the session.
type Selection struct {
	Metric string `json:"metric"`
	Label  string `json:"label"`
}

// DefaultSelection picks a metric and label for schema. Validated roles are
// used as hints (RATING then METRIC for the metric, CATEGORY then MOTIVATOR
// for the label) when the hinted column is among the offered choices;
// otherwise the first offered choice wins.
func DefaultSelection(schema analysis.Schema, res insight.Resolution) Selection {
	return Selection{
		Metric: pick(schema.MetricChoices(), res, insight.RoleRating, insight.RoleMetric),
		Label:  pick(schema.LabelChoices(), res, insight.RoleCategory, insight.RoleMotivator),
	}
}

func pick(choices []string, res insight.Resolution, hints ...insight.Role) string {
	for _, r := range hints {
		if col, ok := res.Column(r); ok && contains(choices, col) {
			return col
		}
	}
	if len(choices) == 0 {
		return ""
	}
	return choices[0]
}

// WithDefaults fills empty fields of s from def.
func (s Selection) WithDefaults(def Selection) Selection {
	if s.Metric == "" {
		s.Metric = def.Metric
	}
	if s.Label == "" {
		s.Label = def.Label
	}
	return s
}

// Validate reports an error when either column is not in the table.
func (s Selection) Validate(schema analysis.Schema) error {
	if !schema.Has(s.Metric) {
		return fmt.Errorf("unknown metric column %q", s.Metric)
	}
	if !schema.Has(s.Label) {
		return fmt.Errorf("unknown label column %q", s.Label)
	}
	return nil
}

func contains(list []string, v string) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}
