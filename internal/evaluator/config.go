package evaluator

import (
	"fmt"

	"github.com/rewired-gh/retroeval/internal/series"
)

// Mode selects the row shape of the results table.
type Mode string

const (
	// ModeSummary emits one row of band statistics per scenario.
	ModeSummary Mode = "summary"
	// ModeRegistry emits one row of registry metrics for a single band per scenario.
	ModeRegistry Mode = "registry"
	// ModeBinned emits band statistics per fixed-length period per scenario.
	ModeBinned Mode = "binned"
)

// FailurePolicy decides what a scenario failure does to the batch.
type FailurePolicy string

const (
	FailSkip  FailurePolicy = "skip"
	FailAbort FailurePolicy = "abort"
)

type Config struct {
	Mode Mode
	// Band is the scored column in registry mode: min, med, max, any alias,
	// or a baseline column.
	Band string
	// NDays truncates the evaluated window to its first NDays rows before
	// scoring in registry mode. Zero keeps the whole window.
	NDays     int
	BinLength int
	// IncludeMAPE appends a MAPE column for the band in registry mode.
	IncludeMAPE bool
	// IncludeRawErrors adds unnormalized MAE columns in summary and binned modes.
	IncludeRawErrors bool
	// BedMetrics lists registry metrics to repeat as "<name> (beds)", scaled
	// back by the scenario normalization.
	BedMetrics []string
	// BedColumnNames overrides the column name of a bed metric, keyed by metric.
	BedColumnNames map[string]string
	// AnnotationColumns are scenario annotations emitted as tag columns.
	AnnotationColumns []string
	FailurePolicy     FailurePolicy
	Parallelism       int
	Precision         int
	Load              series.LoadOptions
}

func DefaultConfig() Config {
	return Config{
		Mode:          ModeSummary,
		Band:          "med",
		BinLength:     14,
		IncludeMAPE:   true,
		FailurePolicy: FailSkip,
		Parallelism:   1,
		Precision:     1,
		Load:          series.DefaultLoadOptions(),
	}
}

// Validate checks that all configuration values are valid
func (c Config) Validate() error {
	switch c.Mode {
	case ModeSummary, ModeRegistry, ModeBinned:
	default:
		return fmt.Errorf("mode must be one of: summary, registry, binned")
	}
	if c.Mode == ModeRegistry && c.Band == "" {
		return fmt.Errorf("band is required in registry mode")
	}
	if c.NDays < 0 {
		return fmt.Errorf("n_days must not be negative")
	}
	if c.Mode == ModeBinned && c.BinLength < 1 {
		return fmt.Errorf("bin_length must be at least 1")
	}
	switch c.FailurePolicy {
	case FailSkip, FailAbort:
	default:
		return fmt.Errorf("failure_policy must be one of: skip, abort")
	}
	if c.Parallelism < 1 {
		return fmt.Errorf("parallelism must be at least 1")
	}
	if c.Precision < 0 {
		return fmt.Errorf("precision must not be negative")
	}
	return nil
}
