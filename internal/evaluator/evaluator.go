// Package evaluator scores a catalog of forecast scenarios against reality
// and assembles the results into comparable tables.
package evaluator

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rewired-gh/retroeval/internal/logger"
	"github.com/rewired-gh/retroeval/internal/metrics"
	"github.com/rewired-gh/retroeval/internal/models"
	"github.com/rewired-gh/retroeval/internal/series"
)

var ErrInsufficientData = errors.New("insufficient data")

// Column names shared by summary and binned tables.
const (
	ColAvgUncertainty = "Average uncertainty"
	ColMaxUncertainty = "Max uncertainty"
	ColCoverage       = "Global accuracy"
	ColMAEMedian      = "MAE median"
	ColMAELow         = "MAE low"
	ColMAEHigh        = "MAE high"
	ColMAPEMedian     = "MAPE median"
	ColMAPELow        = "MAPE low"
	ColMAPEHigh       = "MAPE high"
	ColRawMAEMedian   = "MAE median (beds)"
	ColRawMAELow      = "MAE low (beds)"
	ColRawMAEHigh     = "MAE high (beds)"
	ColHistoricalPeak = "Historical peak"
	ColBinStart       = "Bin start"
	ColBinEnd         = "Bin end"
	ColSamples        = "Samples"
	TagIncreasing     = "Increasing"
)

// ScenarioError is a failure scoped to one catalog entry.
type ScenarioError struct {
	Key string
	Err error
}

func (e *ScenarioError) Error() string {
	return fmt.Sprintf("scenario %s: %v", e.Key, e.Err)
}

func (e *ScenarioError) Unwrap() error {
	return e.Err
}

// SeriesLoader loads and prepares one scenario source.
type SeriesLoader interface {
	Load(ctx context.Context, locator string, opts series.LoadOptions) (*models.Series, error)
}

type Evaluator struct {
	loader   SeriesLoader
	registry *metrics.Registry
	config   Config
}

func New(loader SeriesLoader, registry *metrics.Registry, config Config) *Evaluator {
	if registry == nil {
		registry = metrics.DefaultRegistry()
	}
	return &Evaluator{
		loader:   loader,
		registry: registry,
		config:   config,
	}
}

// WithBand returns a registry-mode evaluator scoring another band.
func (e *Evaluator) WithBand(band string) *Evaluator {
	cfg := e.config
	cfg.Mode = ModeRegistry
	cfg.Band = band
	return New(e.loader, e.registry, cfg)
}

func (e *Evaluator) Config() Config {
	return e.config
}

func (e *Evaluator) statsColumns() []string {
	cols := []string{
		ColAvgUncertainty, ColMaxUncertainty, ColCoverage,
		ColMAEMedian, ColMAELow, ColMAEHigh,
		ColMAPEMedian, ColMAPELow, ColMAPEHigh,
	}
	if e.config.IncludeRawErrors {
		cols = append(cols, ColRawMAEMedian, ColRawMAELow, ColRawMAEHigh)
	}
	return cols
}

func (e *Evaluator) hasMAPEColumn() bool {
	if !e.config.IncludeMAPE {
		return false
	}
	_, registered := e.registry.Get(metrics.NameMAPE)
	return !registered
}

// Columns returns the numeric columns of the table produced by the configured mode.
func (e *Evaluator) Columns() []string {
	switch e.config.Mode {
	case ModeRegistry:
		cols := e.registry.Names()
		if e.hasMAPEColumn() {
			cols = append(cols, metrics.NameMAPE)
		}
		for _, name := range e.config.BedMetrics {
			cols = append(cols, e.bedColumn(name))
		}
		return cols
	case ModeBinned:
		cols := []string{ColBinStart, ColBinEnd, ColSamples}
		return append(cols, e.statsColumns()...)
	default:
		return append(e.statsColumns(), ColHistoricalPeak)
	}
}

func (e *Evaluator) bedColumn(metric string) string {
	if name, ok := e.config.BedColumnNames[metric]; ok {
		return name
	}
	return metric + " (beds)"
}

func (e *Evaluator) TagColumns() []string {
	return append([]string{TagIncreasing}, e.config.AnnotationColumns...)
}

func (e *Evaluator) tags(sc models.Scenario) []string {
	tags := []string{boolTag(sc.Increasing)}
	for _, name := range e.config.AnnotationColumns {
		value := ""
		for _, a := range sc.Annotations {
			if a.Name == name {
				value = a.Value
				break
			}
		}
		tags = append(tags, value)
	}
	return tags
}

func boolTag(b bool) string {
	if b {
		return "True"
	}
	return "False"
}

func (e *Evaluator) validate() error {
	if err := e.config.Validate(); err != nil {
		return err
	}
	for _, name := range e.config.BedMetrics {
		if _, ok := e.registry.Get(name); !ok {
			return fmt.Errorf("bed metric %q is not in the metric registry", name)
		}
	}
	for metric := range e.config.BedColumnNames {
		if !slices.Contains(e.config.BedMetrics, metric) {
			return fmt.Errorf("bed column name given for %q, which is not a bed metric", metric)
		}
	}
	return nil
}

// Evaluate scores every scenario of catalog and returns one table whose rows
// follow catalog order. Under FailSkip failed scenarios are left out of the
// table and returned as ScenarioErrors; under FailAbort the first failure is
// returned as the error. Once ctx is done the run ends with ctx.Err() under
// either policy.
func (e *Evaluator) Evaluate(ctx context.Context, catalog []models.Scenario) (*models.Table, []*ScenarioError, error) {
	if err := e.validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid evaluator config: %w", err)
	}
	startTime := time.Now()
	logger.Info("Evaluating %d scenarios (mode: %s, parallelism: %d)", len(catalog), e.config.Mode, e.config.Parallelism)

	rowsByScenario := make([][]models.Row, len(catalog))
	failures := make([]*ScenarioError, len(catalog))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.config.Parallelism)
	for i := range catalog {
		i := i
		sc := catalog[i]
		g.Go(func() error {
			rows, err := e.EvaluateScenario(gctx, sc)
			if err != nil {
				if ctxErr := ctx.Err(); ctxErr != nil {
					return ctxErr
				}
				serr := &ScenarioError{Key: sc.Key, Err: err}
				if e.config.FailurePolicy == FailAbort {
					return serr
				}
				logger.Warn("Skipping %v", serr)
				failures[i] = serr
				return nil
			}
			rowsByScenario[i] = rows
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	table := models.NewTable(e.Columns(), e.TagColumns())
	var failed []*ScenarioError
	for i := range catalog {
		if failures[i] != nil {
			failed = append(failed, failures[i])
			continue
		}
		for _, row := range rowsByScenario[i] {
			if err := table.Append(row); err != nil {
				return nil, nil, err
			}
		}
	}
	table.Round(e.config.Precision)

	logger.Info("Evaluated %d scenarios into %d rows (%d failed) in %v",
		len(catalog), len(table.Rows), len(failed), time.Since(startTime))
	return table, failed, nil
}

// EvaluateScenario loads one scenario and builds its rows for the configured mode.
func (e *Evaluator) EvaluateScenario(ctx context.Context, sc models.Scenario) ([]models.Row, error) {
	if err := sc.Validate(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	opts := e.config.Load
	opts.Cutoff = sc.Cutoff

	s, err := e.loader.Load(ctx, sc.Source, opts)
	if err != nil {
		return nil, err
	}
	logger.Debug("Scenario %s: %d rows in the evaluated window", sc.Key, s.Len())

	switch e.config.Mode {
	case ModeRegistry:
		row, err := e.RegistryRow(s, sc)
		if err != nil {
			return nil, err
		}
		return []models.Row{row}, nil
	case ModeBinned:
		return e.BinnedRows(s, sc)
	default:
		row, err := e.SummaryRow(s, sc)
		if err != nil {
			return nil, err
		}
		return []models.Row{row}, nil
	}
}

func (e *Evaluator) statsValues(st BandStats) []float64 {
	values := []float64{
		st.AvgUncertainty, st.MaxUncertainty, st.Coverage,
		st.MAEMedian, st.MAELow, st.MAEHigh,
		st.MAPEMedian, st.MAPELow, st.MAPEHigh,
	}
	if e.config.IncludeRawErrors {
		values = append(values, st.RawMAEMedian, st.RawMAELow, st.RawMAEHigh)
	}
	return values
}

// SummaryRow builds the band statistics row of one scenario.
func (e *Evaluator) SummaryRow(s *models.Series, sc models.Scenario) (models.Row, error) {
	st, err := ComputeBandStats(s, sc.Normalization)
	if err != nil {
		return models.Row{}, err
	}
	return models.Row{
		Label:  sc.Label(),
		Values: append(e.statsValues(st), sc.Normalization),
		Tags:   e.tags(sc),
	}, nil
}

// RegistryRow scores the configured band with every registry metric,
// after truncating to the first NDays rows.
func (e *Evaluator) RegistryRow(s *models.Series, sc models.Scenario) (models.Row, error) {
	if e.config.NDays > 0 {
		s = s.Head(e.config.NDays)
	}
	if s.Len() == 0 {
		return models.Row{}, fmt.Errorf("no rows to score for band %s: %w", e.config.Band, ErrInsufficientData)
	}
	results, err := metrics.Score(s, e.registry, e.config.Band, sc.Normalization)
	if err != nil {
		return models.Row{}, err
	}
	values := results.Values()

	if e.hasMAPEColumn() {
		reality, _ := s.Column(models.ColumnReality)
		band, _ := s.Column(e.config.Band)
		values = append(values, metrics.MeanAbsolutePercentageError(reality, band))
	}
	for _, name := range e.config.BedMetrics {
		for _, r := range results {
			if r.Metric == name {
				values = append(values, r.Value*sc.Normalization)
				break
			}
		}
	}

	return models.Row{
		Label:  sc.Label(),
		Values: values,
		Tags:   e.tags(sc),
	}, nil
}

// Bin is a half-open row range [Start, End) of the evaluated window.
type Bin struct {
	Start int
	End   int
}

// Bins splits n rows into consecutive bins of length size. The last bin is
// clamped to n and may be shorter.
func Bins(n, size int) []Bin {
	var bins []Bin
	for start := 0; start < n; start += size {
		end := start + size
		if end > n {
			end = n
		}
		bins = append(bins, Bin{Start: start, End: end})
	}
	return bins
}

// BinnedRows computes band statistics independently per bin.
func (e *Evaluator) BinnedRows(s *models.Series, sc models.Scenario) ([]models.Row, error) {
	if s.Len() == 0 {
		return nil, ErrInsufficientData
	}
	var rows []models.Row
	for _, bin := range Bins(s.Len(), e.config.BinLength) {
		st, err := ComputeBandStats(s.Slice(bin.Start, bin.End), sc.Normalization)
		if err != nil {
			return nil, fmt.Errorf("bin [%d, %d): %w", bin.Start, bin.End, err)
		}
		values := append([]float64{float64(bin.Start), float64(bin.End), float64(st.Samples)}, e.statsValues(st)...)
		rows = append(rows, models.Row{
			Label:  sc.Label() + " [" + strconv.Itoa(bin.Start) + ", " + strconv.Itoa(bin.End) + ")",
			Values: values,
			Tags:   e.tags(sc),
		})
	}
	return rows, nil
}
