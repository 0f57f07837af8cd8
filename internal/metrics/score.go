package metrics

import (
	"errors"
	"fmt"

	"github.com/rewired-gh/retroeval/internal/models"
)

var ErrEmptySeries = errors.New("no rows to score")

// Result is one metric value for one scored column.
type Result struct {
	Label  string
	Metric string
	Value  float64
}

type Results []Result

func (rs Results) Values() []float64 {
	out := make([]float64, len(rs))
	for i, r := range rs {
		out[i] = r.Value
	}
	return out
}

// Label builds the composite label of a column/metric pair.
func Label(column, metric string) string {
	return fmt.Sprintf("Scenario_%s: %s", column, metric)
}

// Score applies every registered metric to reality and column, both divided
// by normalization. Absolute errors therefore come out as a fraction of the
// normalization constant.
func Score(s *models.Series, reg *Registry, column string, normalization float64) (Results, error) {
	if err := models.ValidateNormalization(normalization); err != nil {
		return nil, err
	}
	if s.Len() == 0 {
		return nil, ErrEmptySeries
	}
	reality, ok := s.Column(models.ColumnReality)
	if !ok {
		return nil, fmt.Errorf("missing column %q", models.ColumnReality)
	}
	forecast, ok := s.Column(column)
	if !ok {
		return nil, fmt.Errorf("missing column %q", column)
	}

	observed := Normalize(reality, normalization)
	predicted := Normalize(forecast, normalization)

	results := make(Results, 0, reg.Len())
	for _, m := range reg.Metrics() {
		results = append(results, Result{
			Label:  Label(column, m.Name),
			Metric: m.Name,
			Value:  m.Func(observed, predicted),
		})
	}
	return results, nil
}

// Normalize returns a copy of x divided by normalization.
func Normalize(x []float64, normalization float64) []float64 {
	out := make([]float64, len(x))
	for i, v := range x {
		out[i] = v / normalization
	}
	return out
}
