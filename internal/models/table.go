package models

import (
	"fmt"
	"math"
)

// Table is an ordered results table. Each row has one float per entry in
// Columns and one string per entry in TagColumns.
type Table struct {
	Columns    []string
	TagColumns []string
	Rows       []Row
}

type Row struct {
	Label  string
	Values []float64
	Tags   []string
}

func NewTable(columns, tagColumns []string) *Table {
	return &Table{Columns: columns, TagColumns: tagColumns}
}

// Append adds a row after checking it matches the table schema.
func (t *Table) Append(row Row) error {
	if len(row.Values) != len(t.Columns) {
		return fmt.Errorf("row %q has %d values for %d columns", row.Label, len(row.Values), len(t.Columns))
	}
	if len(row.Tags) != len(t.TagColumns) {
		return fmt.Errorf("row %q has %d tags for %d tag columns", row.Label, len(row.Tags), len(t.TagColumns))
	}
	t.Rows = append(t.Rows, row)
	return nil
}

func (t *Table) ColumnIndex(name string) int {
	for i, c := range t.Columns {
		if c == name {
			return i
		}
	}
	return -1
}

func (t *Table) TagIndex(name string) int {
	for i, c := range t.TagColumns {
		if c == name {
			return i
		}
	}
	return -1
}

// Value looks up a cell by row label and column name.
func (t *Table) Value(label, column string) (float64, bool) {
	j := t.ColumnIndex(column)
	if j < 0 {
		return 0, false
	}
	for _, row := range t.Rows {
		if row.Label == label {
			return row.Values[j], true
		}
	}
	return 0, false
}

// Labels returns row labels in order.
func (t *Table) Labels() []string {
	out := make([]string, len(t.Rows))
	for i, row := range t.Rows {
		out[i] = row.Label
	}
	return out
}

// Round rounds every value to the given number of decimals, half to even.
func (t *Table) Round(digits int) {
	for i := range t.Rows {
		for j, v := range t.Rows[i].Values {
			t.Rows[i].Values[j] = RoundHalfEven(v, digits)
		}
	}
}

func RoundHalfEven(v float64, digits int) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return v
	}
	p := math.Pow(10, float64(digits))
	return math.RoundToEven(v*p) / p
}
