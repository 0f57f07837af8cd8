// Package baseline builds naive reference extrapolations of a smoothed
// signal: constant, first-order, and second-order Taylor expansions around
// the last fully smoothed point.
package baseline

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/stat"
)

// DefaultWindow is a weekly window, removing day-of-week effects.
const DefaultWindow = 7

// Column names of the generated baselines.
const (
	ColumnConstant    = "Constant"
	ColumnFirstOrder  = "1st order"
	ColumnSecondOrder = "2nd order"
)

var ErrInsufficientHistory = errors.New("insufficient history")

// Smooth returns the rectangular moving average of x. Only fully covered
// windows are emitted, so the output has len(x)-window+1 points and its
// last point is aligned with the last input point.
func Smooth(x []float64, window int) ([]float64, error) {
	if window < 1 {
		return nil, fmt.Errorf("smoothing window must be at least 1, got %d: %w", window, ErrInsufficientHistory)
	}
	if len(x) < window {
		return nil, fmt.Errorf("%d points for a smoothing window of %d: %w", len(x), window, ErrInsufficientHistory)
	}
	out := make([]float64, len(x)-window+1)
	for i := range out {
		out[i] = stat.Mean(x[i:i+window], nil)
	}
	return out, nil
}

// Gradient computes the discrete derivative of y with unit spacing: central
// differences inside, one-sided differences at both ends. A single point has
// zero gradient.
func Gradient(y []float64) []float64 {
	n := len(y)
	g := make([]float64, n)
	if n < 2 {
		return g
	}
	g[0] = y[1] - y[0]
	g[n-1] = y[n-1] - y[n-2]
	for i := 1; i < n-1; i++ {
		g[i] = (y[i+1] - y[i-1]) / 2
	}
	return g
}

// Trend is the local Taylor expansion of the smoothed history at its last point.
type Trend struct {
	Last      float64
	Slope     float64
	Curvature float64
}

// EstimateTrend smooths history, then differentiates the smoothed signal twice.
func EstimateTrend(history []float64, window int) (Trend, error) {
	smoothed, err := Smooth(history, window)
	if err != nil {
		return Trend{}, err
	}
	first := Gradient(smoothed)
	second := Gradient(first)
	last := len(smoothed) - 1
	return Trend{
		Last:      smoothed[last],
		Slope:     first[last],
		Curvature: second[last],
	}, nil
}

func (t Trend) Constant(step int) float64 {
	return t.Last
}

func (t Trend) FirstOrder(step int) float64 {
	i := float64(step)
	return t.Last + t.Slope*i
}

func (t Trend) SecondOrder(step int) float64 {
	i := float64(step)
	return t.Last + t.Slope*i + 0.5*t.Curvature*i*i
}

// Baselines holds the extrapolated tails, each horizon steps long.
type Baselines struct {
	Trend       Trend
	Constant    []float64
	FirstOrder  []float64
	SecondOrder []float64
}

// Extrapolate estimates the trend of history and projects it horizon steps
// forward. Step 0 is the first step after the history.
func Extrapolate(history []float64, horizon, window int) (Baselines, error) {
	if horizon < 0 {
		return Baselines{}, fmt.Errorf("horizon must not be negative, got %d", horizon)
	}
	trend, err := EstimateTrend(history, window)
	if err != nil {
		return Baselines{}, err
	}
	b := Baselines{
		Trend:       trend,
		Constant:    make([]float64, horizon),
		FirstOrder:  make([]float64, horizon),
		SecondOrder: make([]float64, horizon),
	}
	for i := 0; i < horizon; i++ {
		b.Constant[i] = trend.Constant(i)
		b.FirstOrder[i] = trend.FirstOrder(i)
		b.SecondOrder[i] = trend.SecondOrder(i)
	}
	return b, nil
}

// Column is a named full-length baseline column.
type Column struct {
	Name   string
	Values []float64
}

// Columns prepends the raw known history to each extrapolated tail, giving
// columns aligned with the raw, unsmoothed index.
func (b Baselines) Columns(known []float64) []Column {
	extend := func(tail []float64) []float64 {
		out := make([]float64, 0, len(known)+len(tail))
		out = append(out, known...)
		return append(out, tail...)
	}
	return []Column{
		{Name: ColumnConstant, Values: extend(b.Constant)},
		{Name: ColumnFirstOrder, Values: extend(b.FirstOrder)},
		{Name: ColumnSecondOrder, Values: extend(b.SecondOrder)},
	}
}
