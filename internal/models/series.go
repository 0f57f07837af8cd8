// Package models defines the core domain entities: date-indexed series, scenarios, result tables, and runs.
package models

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// Canonical column names. Forecast band columns also accept the aliases listed in bandAliases.
const (
	ColumnReality = "reality"
	ColumnLow     = "low"
	ColumnMedian  = "median"
	ColumnHigh    = "high"
)

var ErrLengthMismatch = errors.New("column has a different length than the date index")

var bandAliases = map[string][]string{
	ColumnLow:    {"low", "min"},
	ColumnMedian: {"median", "med"},
	ColumnHigh:   {"high", "max"},
}

// CanonicalColumn maps a band alias ("min", "med", "max") to its canonical name.
// Names that are not band aliases are returned unchanged.
func CanonicalColumn(name string) string {
	for canonical, aliases := range bandAliases {
		for _, alias := range aliases {
			if alias == name {
				return canonical
			}
		}
	}
	return name
}

// Series is an ordered, date-indexed set of float64 columns.
// Missing values are stored as NaN.
type Series struct {
	Dates   []time.Time
	columns map[string][]float64
	order   []string
}

// NewSeries creates a series over the given date index with no columns.
func NewSeries(dates []time.Time) *Series {
	return &Series{
		Dates:   dates,
		columns: make(map[string][]float64),
	}
}

func (s *Series) Len() int {
	return len(s.Dates)
}

// Columns returns column names in insertion order.
func (s *Series) Columns() []string {
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

func (s *Series) Has(name string) bool {
	_, ok := s.columns[name]
	return ok
}

// Column returns the values of the named column, resolving band aliases.
func (s *Series) Column(name string) ([]float64, bool) {
	resolved, ok := s.Resolve(name)
	if !ok {
		return nil, false
	}
	return s.columns[resolved], true
}

// Resolve finds the stored column backing name. Band columns prefer the
// canonical name, then fall back to the aliases in declaration order.
func (s *Series) Resolve(name string) (string, bool) {
	if aliases, ok := bandAliases[CanonicalColumn(name)]; ok {
		if s.Has(name) {
			return name, true
		}
		for _, alias := range aliases {
			if s.Has(alias) {
				return alias, true
			}
		}
		return "", false
	}
	if s.Has(name) {
		return name, true
	}
	return "", false
}

// SetColumn adds or replaces a column. The values slice is stored as is.
func (s *Series) SetColumn(name string, values []float64) error {
	if len(values) != len(s.Dates) {
		return fmt.Errorf("column %q has %d values for %d dates: %w", name, len(values), len(s.Dates), ErrLengthMismatch)
	}
	if !s.Has(name) {
		s.order = append(s.order, name)
	}
	s.columns[name] = values
	return nil
}

// Filter returns a copy holding only the rows for which keep returns true.
func (s *Series) Filter(keep func(i int) bool) *Series {
	var idx []int
	for i := range s.Dates {
		if keep(i) {
			idx = append(idx, i)
		}
	}
	out := NewSeries(make([]time.Time, len(idx)))
	for j, i := range idx {
		out.Dates[j] = s.Dates[i]
	}
	for _, name := range s.order {
		src := s.columns[name]
		dst := make([]float64, len(idx))
		for j, i := range idx {
			dst[j] = src[i]
		}
		out.order = append(out.order, name)
		out.columns[name] = dst
	}
	return out
}

// Slice returns a copy of rows [from, to), clamped to the series bounds.
func (s *Series) Slice(from, to int) *Series {
	if from < 0 {
		from = 0
	}
	if to > s.Len() {
		to = s.Len()
	}
	return s.Filter(func(i int) bool { return i >= from && i < to })
}

// Head returns the first n rows, or the whole series when n exceeds its length.
func (s *Series) Head(n int) *Series {
	return s.Slice(0, n)
}

// Complete reports whether row i holds a value in every named column.
// A column that does not exist counts as missing.
func (s *Series) Complete(i int, names ...string) bool {
	for _, name := range names {
		col, ok := s.Column(name)
		if !ok || math.IsNaN(col[i]) {
			return false
		}
	}
	return true
}
