package evaluator

import (
	"fmt"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/rewired-gh/retroeval/internal/metrics"
	"github.com/rewired-gh/retroeval/internal/models"
)

// BandStats summarizes one forecast band against reality over a window.
type BandStats struct {
	Samples int

	// Band width (high - low) divided by the normalization constant.
	AvgUncertainty float64
	MaxUncertainty float64
	// Percentage of rows with low <= reality <= high.
	Coverage float64

	// Errors of reality/normalization against band/normalization.
	MAEMedian float64
	MAELow    float64
	MAEHigh   float64

	MAPEMedian float64
	MAPELow    float64
	MAPEHigh   float64

	// Errors in the series' own units.
	RawMAEMedian float64
	RawMAELow    float64
	RawMAEHigh   float64
}

func bandColumns(s *models.Series) (reality, low, median, high []float64, err error) {
	cols := make([][]float64, 4)
	for i, name := range []string{models.ColumnReality, models.ColumnLow, models.ColumnMedian, models.ColumnHigh} {
		col, ok := s.Column(name)
		if !ok {
			return nil, nil, nil, nil, fmt.Errorf("missing column %q", name)
		}
		cols[i] = col
	}
	return cols[0], cols[1], cols[2], cols[3], nil
}

// Coverage is the percentage of rows where reality lies in [low, high].
// Band ordering is not checked: a row with low > high is simply not covered.
func Coverage(reality, low, high []float64) float64 {
	if len(reality) == 0 {
		return 0
	}
	inside := 0
	for i, r := range reality {
		if r >= low[i] && r <= high[i] {
			inside++
		}
	}
	return 100 * float64(inside) / float64(len(reality))
}

// ComputeBandStats scores the low/median/high band of s against reality.
// Both band edges are divided by normalization before taking the width.
func ComputeBandStats(s *models.Series, normalization float64) (BandStats, error) {
	if err := models.ValidateNormalization(normalization); err != nil {
		return BandStats{}, err
	}
	if s.Len() == 0 {
		return BandStats{}, ErrInsufficientData
	}
	reality, low, median, high, err := bandColumns(s)
	if err != nil {
		return BandStats{}, err
	}

	nReality := metrics.Normalize(reality, normalization)
	nLow := metrics.Normalize(low, normalization)
	nMedian := metrics.Normalize(median, normalization)
	nHigh := metrics.Normalize(high, normalization)

	width := make([]float64, len(nHigh))
	floats.SubTo(width, nHigh, nLow)

	return BandStats{
		Samples:        s.Len(),
		AvgUncertainty: stat.Mean(width, nil),
		MaxUncertainty: floats.Max(width),
		Coverage:       Coverage(reality, low, high),

		MAEMedian: metrics.MeanAbsoluteError(nReality, nMedian),
		MAELow:    metrics.MeanAbsoluteError(nReality, nLow),
		MAEHigh:   metrics.MeanAbsoluteError(nReality, nHigh),

		MAPEMedian: metrics.MeanAbsolutePercentageError(reality, median),
		MAPELow:    metrics.MeanAbsolutePercentageError(reality, low),
		MAPEHigh:   metrics.MeanAbsolutePercentageError(reality, high),

		RawMAEMedian: metrics.MeanAbsoluteError(reality, median),
		RawMAELow:    metrics.MeanAbsoluteError(reality, low),
		RawMAEHigh:   metrics.MeanAbsoluteError(reality, high),
	}, nil
}
