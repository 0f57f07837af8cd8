package metrics

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/rewired-gh/retroeval/internal/logger"
	"github.com/rewired-gh/retroeval/internal/models"
)

func TestBuiltins(t *testing.T) {
	observed := []float64{10, 20, 30}
	predicted := []float64{12, 18, 36}

	assert.InDelta(t, 10.0/3, MeanAbsoluteError(observed, predicted), 1e-12)
	assert.InDelta(t, 2.0, MeanError(observed, predicted), 1e-12)
	assert.InDelta(t, 6.0, MaxError(observed, predicted), 1e-12)
	assert.InDelta(t, 100*(0.2+0.1+0.2)/3, MeanAbsolutePercentageError(observed, predicted), 1e-9)
	assert.InDelta(t, math.Sqrt((4+4+36)/3.0), RootMeanSquaredError(observed, predicted), 1e-12)
}

func TestMeanError_Sign(t *testing.T) {
	// Under-forecasting yields a negative bias.
	assert.Equal(t, -5.0, MeanError([]float64{10, 10}, []float64{5, 5}))
}

func TestMAPE_SkipsZeroObservations(t *testing.T) {
	assert.InDelta(t, 50.0, MeanAbsolutePercentageError([]float64{0, 10}, []float64{3, 5}), 1e-12)
	assert.True(t, math.IsNaN(MeanAbsolutePercentageError([]float64{0}, []float64{1})))
}

func TestMaxError_Empty(t *testing.T) {
	assert.True(t, math.IsNaN(MaxError(nil, nil)))
}

func TestRegistry(t *testing.T) {
	r := DefaultRegistry()
	assert.Equal(t, []string{"MAE", "ME", "Max Error"}, r.Names())

	require.NoError(t, r.Register("RMSE", RootMeanSquaredError))
	assert.Error(t, r.Register("RMSE", RootMeanSquaredError), "duplicate")
	assert.Error(t, r.Register("", RootMeanSquaredError))
	assert.Error(t, r.Register("nil", nil))
	assert.Equal(t, 4, r.Len())

	fn, ok := r.Get("ME")
	require.True(t, ok)
	assert.Equal(t, 1.0, fn([]float64{1}, []float64{2}))
	_, ok = r.Get("missing")
	assert.False(t, ok)

	_, ok = Builtin("MAPE")
	assert.True(t, ok)
	_, ok = Builtin("R2")
	assert.False(t, ok)
}

func TestExpression(t *testing.T) {
	mae, err := Expression("abs(predicted - observed)", AggregateMean)
	require.NoError(t, err)
	observed := []float64{10, 20, 30}
	predicted := []float64{12, 18, 36}
	assert.InDelta(t, MeanAbsoluteError(observed, predicted), mae(observed, predicted), 1e-12)

	worst, err := Expression("abs(predicted - observed)", AggregateMax)
	require.NoError(t, err)
	assert.InDelta(t, 6.0, worst(observed, predicted), 1e-12)

	sq, err := Expression("pow(predicted - observed, 2)", AggregateSum)
	require.NoError(t, err)
	assert.InDelta(t, 44.0, sq(observed, predicted), 1e-12)

	assert.True(t, math.IsNaN(mae(nil, nil)))
}

func TestExpression_Invalid(t *testing.T) {
	_, err := Expression("abs(predicted - ", AggregateMean)
	assert.Error(t, err)

	_, err = Expression("unknown_var * 2", AggregateMean)
	assert.Error(t, err)

	_, err = Expression("predicted", "median")
	assert.Error(t, err)
}

func TestExpression_PointFailureIsLogged(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	logger.Use(zap.New(core))
	defer logger.Use(nil)

	// threshold is unbound, so only rows taking that branch fail.
	fn, err := Expression("observed > 5 ? threshold : predicted", AggregateMean)
	require.NoError(t, err)

	assert.Equal(t, 2.0, fn([]float64{1, 2}, []float64{1, 3}))
	assert.Zero(t, logs.Len())

	assert.True(t, math.IsNaN(fn([]float64{1, 10}, []float64{1, 3})))
	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, zap.WarnLevel, entries[0].Level)
	assert.Contains(t, entries[0].Message, "failed at row 1")
	assert.Contains(t, entries[0].Message, "unknown parameter threshold")
}

func twoRows(t *testing.T) *models.Series {
	t.Helper()
	d := time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC)
	s := models.NewSeries([]time.Time{d, d.AddDate(0, 0, 1)})
	require.NoError(t, s.SetColumn("reality", []float64{100, 200}))
	require.NoError(t, s.SetColumn("min", []float64{50, 150}))
	return s
}

func TestScore(t *testing.T) {
	results, err := Score(twoRows(t), DefaultRegistry(), "min", 10)
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.Equal(t, "Scenario_min: MAE", results[0].Label)
	assert.Equal(t, "MAE", results[0].Metric)
	assert.InDelta(t, 5.0, results[0].Value, 1e-12)
	assert.InDelta(t, -5.0, results[1].Value, 1e-12)
	assert.InDelta(t, 5.0, results[2].Value, 1e-12)
	assert.Len(t, results.Values(), 3)
}

func TestScore_RatioMetricsAreScaleInvariant(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(NameMAPE, MeanAbsolutePercentageError))

	a, err := Score(twoRows(t), r, "min", 1)
	require.NoError(t, err)
	b, err := Score(twoRows(t), r, "min", 70)
	require.NoError(t, err)
	assert.InDelta(t, a[0].Value, b[0].Value, 1e-9)
}

func TestScore_Errors(t *testing.T) {
	_, err := Score(twoRows(t), DefaultRegistry(), "min", 0)
	assert.True(t, errors.Is(err, models.ErrInvalidNormalization))

	_, err = Score(twoRows(t), DefaultRegistry(), "max", 1)
	assert.Error(t, err)

	empty := twoRows(t).Head(0)
	_, err = Score(empty, DefaultRegistry(), "min", 1)
	assert.True(t, errors.Is(err, ErrEmptySeries))
}
