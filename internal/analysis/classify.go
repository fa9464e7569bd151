package analysis

// Schema partitions a table's columns by inferred kind. Both lists keep the
// source column order; together they cover every column exactly once.
type Schema struct {
	Numeric    []string `json:"numeric"`
	NonNumeric []string `json:"non_numeric"`
	all        []string
}

// Classify splits the columns of t into numeric and non-numeric.
func Classify(t *Table) Schema {
	s := Schema{Numeric: []string{}, NonNumeric: []string{}}
	if t == nil {
		return s
	}
	for _, c := range t.Cols {
		if c.Kind == KindNumeric {
			s.Numeric = append(s.Numeric, c.Name)
		} else {
			s.NonNumeric = append(s.NonNumeric, c.Name)
		}
		s.all = append(s.all, c.Name)
	}
	return s
}

// All returns every column name in source order.
func (s Schema) All() []string {
	return append([]string(nil), s.all...)
}

// IsNumeric reports whether name is in the numeric partition.
func (s Schema) IsNumeric(name string) bool {
	return contains(s.Numeric, name)
}

// Has reports whether name is any column of the table.
func (s Schema) Has(name string) bool {
	return contains(s.all, name)
}

// MetricChoices lists the columns offered as the metric: numeric columns, or
// every column when the table has none.
func (s Schema) MetricChoices() []string {
	if len(s.Numeric) > 0 {
		return append([]string(nil), s.Numeric...)
	}
	return s.All()
}

// LabelChoices lists the columns offered as the label: non-numeric columns,
// or every column when the table has none.
func (s Schema) LabelChoices() []string {
	if len(s.NonNumeric) > 0 {
		return append([]string(nil), s.NonNumeric...)
	}
	return s.All()
}

func contains(list []string, v string) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}
