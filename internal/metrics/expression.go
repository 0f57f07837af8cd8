package metrics

import (
	"context"
	"fmt"
	"math"

	"github.com/PaesslerAG/gval"
	"gonum.org/v1/gonum/floats"

	"github.com/rewired-gh/retroeval/internal/logger"
)

// Aggregations for expression metrics.
const (
	AggregateMean = "mean"
	AggregateMax  = "max"
	AggregateSum  = "sum"
)

func floatArgs(name string, n int, args []interface{}) ([]float64, error) {
	if len(args) != n {
		return nil, fmt.Errorf("%s expects %d arguments, got %d", name, n, len(args))
	}
	out := make([]float64, n)
	for i, a := range args {
		switch v := a.(type) {
		case float64:
			out[i] = v
		case int:
			out[i] = float64(v)
		default:
			return nil, fmt.Errorf("%s: argument %d is %T, not a number", name, i+1, a)
		}
	}
	return out, nil
}

var expressionLanguage = gval.Full(
	gval.Function("abs", func(args ...interface{}) (interface{}, error) {
		x, err := floatArgs("abs", 1, args)
		if err != nil {
			return nil, err
		}
		return math.Abs(x[0]), nil
	}),
	gval.Function("sqrt", func(args ...interface{}) (interface{}, error) {
		x, err := floatArgs("sqrt", 1, args)
		if err != nil {
			return nil, err
		}
		return math.Sqrt(x[0]), nil
	}),
	gval.Function("pow", func(args ...interface{}) (interface{}, error) {
		x, err := floatArgs("pow", 2, args)
		if err != nil {
			return nil, err
		}
		return math.Pow(x[0], x[1]), nil
	}),
)

// Expression compiles a per-row error expression over the variables
// `observed` and `predicted`, reduced across rows with aggregate. For example
// "abs(predicted - observed)" with "mean" is the MAE.
func Expression(expr, aggregate string) (Func, error) {
	eval, err := expressionLanguage.NewEvaluable(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid metric expression %q: %w", expr, err)
	}
	var reduce func([]float64) float64
	switch aggregate {
	case "", AggregateMean:
		reduce = func(x []float64) float64 { return floats.Sum(x) / float64(len(x)) }
	case AggregateMax:
		reduce = floats.Max
	case AggregateSum:
		reduce = floats.Sum
	default:
		return nil, fmt.Errorf("unknown aggregate %q", aggregate)
	}

	point := func(o, p float64) (float64, error) {
		return eval.EvalFloat64(context.Background(), map[string]interface{}{
			"observed":  o,
			"predicted": p,
		})
	}
	if _, err := point(1, 1); err != nil {
		return nil, fmt.Errorf("metric expression %q: %w", expr, err)
	}

	return func(observed, predicted []float64) float64 {
		if len(observed) == 0 {
			return math.NaN()
		}
		values := make([]float64, len(observed))
		for i := range observed {
			v, err := point(observed[i], predicted[i])
			if err != nil {
				logger.Warn("Metric expression %q failed at row %d (observed=%g, predicted=%g): %v",
					expr, i, observed[i], predicted[i], err)
				return math.NaN()
			}
			values[i] = v
		}
		return reduce(values)
	}, nil
}
