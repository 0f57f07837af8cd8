// Package metrics holds the named error functions applied to every scenario
// and the per-scenario scoring of one forecast column against reality.
package metrics

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Func maps (observed, predicted) of equal length to a scalar.
type Func func(observed, predicted []float64) float64

type Metric struct {
	Name string
	Func Func
}

// Registry is an ordered set of uniquely named metrics.
type Registry struct {
	metrics []Metric
	index   map[string]int
}

func NewRegistry() *Registry {
	return &Registry{index: make(map[string]int)}
}

// Register appends a metric. Names must be unique and non-empty.
func (r *Registry) Register(name string, fn Func) error {
	if name == "" {
		return fmt.Errorf("metric name must not be empty")
	}
	if fn == nil {
		return fmt.Errorf("metric %q has no function", name)
	}
	if _, exists := r.index[name]; exists {
		return fmt.Errorf("metric %q already registered", name)
	}
	r.index[name] = len(r.metrics)
	r.metrics = append(r.metrics, Metric{Name: name, Func: fn})
	return nil
}

func (r *Registry) Len() int {
	return len(r.metrics)
}

// Names returns metric names in registration order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.metrics))
	for i, m := range r.metrics {
		out[i] = m.Name
	}
	return out
}

func (r *Registry) Metrics() []Metric {
	out := make([]Metric, len(r.metrics))
	copy(out, r.metrics)
	return out
}

func (r *Registry) Get(name string) (Func, bool) {
	i, ok := r.index[name]
	if !ok {
		return nil, false
	}
	return r.metrics[i].Func, true
}

// Builtin metric names.
const (
	NameMAE      = "MAE"
	NameME       = "ME"
	NameMaxError = "Max Error"
	NameMAPE     = "MAPE"
	NameRMSE     = "RMSE"
)

var builtins = map[string]Func{
	NameMAE:      MeanAbsoluteError,
	NameME:       MeanError,
	NameMaxError: MaxError,
	NameMAPE:     MeanAbsolutePercentageError,
	NameRMSE:     RootMeanSquaredError,
}

func Builtin(name string) (Func, bool) {
	fn, ok := builtins[name]
	return fn, ok
}

// DefaultRegistry holds MAE, ME and Max Error, in that order.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	for _, name := range []string{NameMAE, NameME, NameMaxError} {
		_ = r.Register(name, builtins[name])
	}
	return r
}

func absErrors(observed, predicted []float64) []float64 {
	d := make([]float64, len(observed))
	floats.SubTo(d, observed, predicted)
	for i, v := range d {
		d[i] = math.Abs(v)
	}
	return d
}

func MeanAbsoluteError(observed, predicted []float64) float64 {
	return stat.Mean(absErrors(observed, predicted), nil)
}

// MeanError is the mean signed error predicted - observed; positive means
// the forecast overshot.
func MeanError(observed, predicted []float64) float64 {
	d := make([]float64, len(observed))
	floats.SubTo(d, predicted, observed)
	return stat.Mean(d, nil)
}

func MaxError(observed, predicted []float64) float64 {
	if len(observed) == 0 {
		return math.NaN()
	}
	return floats.Max(absErrors(observed, predicted))
}

// MeanAbsolutePercentageError is expressed in percent. Rows with a zero
// observation are skipped; NaN when none remain.
func MeanAbsolutePercentageError(observed, predicted []float64) float64 {
	var sum float64
	var n int
	for i, o := range observed {
		if o == 0 {
			continue
		}
		sum += math.Abs(o-predicted[i]) / math.Abs(o)
		n++
	}
	if n == 0 {
		return math.NaN()
	}
	return 100 * sum / float64(n)
}

func RootMeanSquaredError(observed, predicted []float64) float64 {
	d := make([]float64, len(observed))
	floats.SubTo(d, observed, predicted)
	return math.Sqrt(floats.Dot(d, d) / float64(len(d)))
}
