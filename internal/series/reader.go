// Package series reads date-indexed forecast/reality tables and prepares
// them for scoring: numeric cleanup, baseline columns, cutoff truncation,
// and removal of incomplete rows.
package series

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/rewired-gh/retroeval/internal/models"
)

var (
	ErrMissingColumn = errors.New("missing column")
	ErrDuplicateDate = errors.New("duplicate date")
)

var dateLayouts = []string{
	"2006-01-02",
	"2006/01/02",
	"2006-01-02 15:04:05",
	time.RFC3339,
}

// ReadOptions controls CSV decoding.
type ReadOptions struct {
	DateColumn string
	Delimiter  rune
	// Policy applies to the reality and band columns. Other columns are
	// always parsed leniently.
	Policy ParsePolicy
}

func DefaultReadOptions() ReadOptions {
	return ReadOptions{DateColumn: "date", Delimiter: ',', Policy: Lenient}
}

func parseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", s)
}

func isCoreColumn(name string) bool {
	switch models.CanonicalColumn(name) {
	case models.ColumnReality, models.ColumnLow, models.ColumnMedian, models.ColumnHigh:
		return true
	}
	return false
}

// Read decodes a CSV table indexed by the date column. Rows are returned
// sorted by date; duplicate dates are rejected. Non-core columns whose every
// present cell fails to parse (free text) are skipped.
func Read(r io.Reader, opts ReadOptions) (*models.Series, []CellError, error) {
	if opts.DateColumn == "" {
		opts.DateColumn = "date"
	}
	cr := csv.NewReader(r)
	if opts.Delimiter != 0 {
		cr.Comma = opts.Delimiter
	}
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, nil, fmt.Errorf("read header: %w", err)
	}
	for i := range header {
		header[i] = strings.TrimPrefix(strings.TrimSpace(header[i]), "\ufeff")
	}
	dateIdx := -1
	for i, h := range header {
		if h == opts.DateColumn {
			dateIdx = i
			break
		}
	}
	if dateIdx < 0 {
		return nil, nil, fmt.Errorf("%w: %q", ErrMissingColumn, opts.DateColumn)
	}

	type record struct {
		date   time.Time
		fields []string
	}
	var records []record
	line := 1
	for {
		fields, err := cr.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return nil, nil, fmt.Errorf("read row %d: %w", line, err)
		}
		if len(fields) == 1 && fields[0] == "" {
			continue
		}
		if len(fields) != len(header) {
			return nil, nil, fmt.Errorf("row %d: expected %d columns, got %d", line, len(header), len(fields))
		}
		date, err := parseDate(fields[dateIdx])
		if err != nil {
			return nil, nil, fmt.Errorf("row %d: %w", line, err)
		}
		records = append(records, record{date: date, fields: fields})
	}

	sort.SliceStable(records, func(i, j int) bool {
		return records[i].date.Before(records[j].date)
	})
	dates := make([]time.Time, len(records))
	for i, rec := range records {
		if i > 0 && rec.date.Equal(records[i-1].date) {
			return nil, nil, fmt.Errorf("%w: %s", ErrDuplicateDate, rec.date.Format("2006-01-02"))
		}
		dates[i] = rec.date
	}

	s := models.NewSeries(dates)
	var cellErrs []CellError
	for j, name := range header {
		if j == dateIdx || name == "" || strings.HasPrefix(name, "Unnamed:") {
			continue
		}
		raw := make([]string, len(records))
		for i, rec := range records {
			raw[i] = rec.fields[j]
		}
		policy := Lenient
		if isCoreColumn(name) {
			policy = opts.Policy
		}
		values, errs, err := ParseColumn(name, raw, policy)
		if err != nil {
			return nil, nil, err
		}
		if !isCoreColumn(name) && len(errs) > 0 && allFailed(raw, errs) {
			continue
		}
		if err := s.SetColumn(name, values); err != nil {
			return nil, nil, err
		}
		cellErrs = append(cellErrs, errs...)
	}
	return s, cellErrs, nil
}

func allFailed(raw []string, errs []CellError) bool {
	present := 0
	for _, field := range raw {
		if !ParseCell(field).Missing {
			present++
		}
	}
	return present == len(errs)
}
