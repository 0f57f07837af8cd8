package series

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/rewired-gh/retroeval/internal/baseline"
	"github.com/rewired-gh/retroeval/internal/logger"
	"github.com/rewired-gh/retroeval/internal/models"
)

// Opener resolves a source locator to a readable stream.
type Opener interface {
	Open(ctx context.Context, locator string) (io.ReadCloser, error)
}

// LoadOptions controls how a series is prepared after decoding.
type LoadOptions struct {
	// Cutoff is the first date of the forecast window. Zero disables both
	// baselines and truncation.
	Cutoff         time.Time
	BuildBaselines bool
	DropIncomplete bool
	Window         int
	Read           ReadOptions
}

func DefaultLoadOptions() LoadOptions {
	return LoadOptions{
		BuildBaselines: true,
		DropIncomplete: true,
		Window:         baseline.DefaultWindow,
		Read:           DefaultReadOptions(),
	}
}

// Loader reads scenario series from an Opener.
type Loader struct {
	opener Opener
}

func NewLoader(opener Opener) *Loader {
	return &Loader{opener: opener}
}

// Load opens locator, decodes it, and prepares it per opts.
func (l *Loader) Load(ctx context.Context, locator string, opts LoadOptions) (*models.Series, error) {
	rc, err := l.opener.Open(ctx, locator)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", locator, err)
	}
	defer rc.Close()

	s, cellErrs, err := Read(rc, opts.Read)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", locator, err)
	}
	for _, ce := range cellErrs {
		logger.Warn("%s: keeping missing value for %v", locator, ce)
	}
	logger.Debug("Read %d rows and %d columns from %s", s.Len(), len(s.Columns()), locator)

	prepared, err := Prepare(s, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare %s: %w", locator, err)
	}
	return prepared, nil
}

// Prepare adds baseline columns and applies the cutoff and completeness
// filters.
//
// History for the baselines is every row strictly before the cutoff; the
// horizon is every row at or after it. The evaluated window then keeps only
// rows strictly after the cutoff, so the row dated exactly at the cutoff is
// dropped even though it received a baseline value.
func Prepare(s *models.Series, opts LoadOptions) (*models.Series, error) {
	reality, ok := s.Column(models.ColumnReality)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrMissingColumn, models.ColumnReality)
	}
	window := opts.Window
	if window == 0 {
		window = baseline.DefaultWindow
	}

	hasCutoff := !opts.Cutoff.IsZero()
	if hasCutoff && opts.BuildBaselines {
		known := 0
		for known < s.Len() && s.Dates[known].Before(opts.Cutoff) {
			known++
		}
		history := reality[:known]
		b, err := baseline.Extrapolate(history, s.Len()-known, window)
		if err != nil {
			return nil, fmt.Errorf("baselines before %s: %w", opts.Cutoff.Format("2006-01-02"), err)
		}
		for _, col := range b.Columns(history) {
			if err := s.SetColumn(col.Name, col.Values); err != nil {
				return nil, err
			}
		}
	}

	if hasCutoff && opts.DropIncomplete {
		src := s
		s = src.Filter(func(i int) bool { return src.Dates[i].After(opts.Cutoff) })
	}

	if opts.DropIncomplete {
		required := []string{models.ColumnReality, models.ColumnLow, models.ColumnMedian, models.ColumnHigh}
		for _, name := range required {
			if _, ok := s.Resolve(name); !ok {
				return nil, fmt.Errorf("%w: %q", ErrMissingColumn, name)
			}
		}
		src := s
		s = src.Filter(func(i int) bool { return src.Complete(i, required...) })
	}
	return s, nil
}
