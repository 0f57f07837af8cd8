package series

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

var ErrParse = errors.New("unparseable numeric cell")

// ParsePolicy decides what happens to a cell that is neither a number nor a
// missing-value marker.
type ParsePolicy int

const (
	// Lenient turns bad cells into missing values and reports them.
	Lenient ParsePolicy = iota
	// Strict aborts the read on the first bad cell.
	Strict
)

func (p ParsePolicy) String() string {
	if p == Strict {
		return "strict"
	}
	return "lenient"
}

func ParsePolicyFromString(s string) (ParsePolicy, error) {
	switch strings.ToLower(s) {
	case "", "lenient":
		return Lenient, nil
	case "strict":
		return Strict, nil
	default:
		return Lenient, fmt.Errorf("unknown parse policy %q", s)
	}
}

var missingMarkers = map[string]bool{
	"":     true,
	"na":   true,
	"nan":  true,
	"n/a":  true,
	"null": true,
	"none": true,
}

// Cell is the outcome of parsing one raw field.
type Cell struct {
	Raw     string
	Value   float64
	Missing bool
	Err     error
}

func (c Cell) OK() bool {
	return c.Err == nil
}

// ParseCell parses a numeric field that may use a comma as decimal separator.
// Missing-value markers yield a NaN value with Missing set.
func ParseCell(raw string) Cell {
	s := strings.TrimSpace(raw)
	if missingMarkers[strings.ToLower(s)] {
		return Cell{Raw: raw, Value: math.NaN(), Missing: true}
	}
	if v, err := strconv.ParseFloat(s, 64); err == nil {
		return Cell{Raw: raw, Value: v}
	}
	if v, err := strconv.ParseFloat(strings.ReplaceAll(s, ",", "."), 64); err == nil {
		return Cell{Raw: raw, Value: v}
	}
	return Cell{Raw: raw, Value: math.NaN(), Err: fmt.Errorf("%w: %q", ErrParse, raw)}
}

// CellError locates a cell that failed to parse. Row is 1-based and counts
// the header line.
type CellError struct {
	Row    int
	Column string
	Raw    string
	Err    error
}

func (e CellError) Error() string {
	return fmt.Sprintf("row %d column %q: %v", e.Row, e.Column, e.Err)
}

func (e CellError) Unwrap() error {
	return e.Err
}

// ParseColumn parses raw fields of one column. Under Strict the first bad
// cell aborts; under Lenient bad cells become NaN and are returned as
// CellErrors for the caller to report.
func ParseColumn(name string, raw []string, policy ParsePolicy) ([]float64, []CellError, error) {
	values := make([]float64, len(raw))
	var cellErrs []CellError
	for i, field := range raw {
		cell := ParseCell(field)
		values[i] = cell.Value
		if cell.OK() {
			continue
		}
		ce := CellError{Row: i + 2, Column: name, Raw: field, Err: cell.Err}
		if policy == Strict {
			return nil, nil, ce
		}
		cellErrs = append(cellErrs, ce)
	}
	return values, cellErrs, nil
}
