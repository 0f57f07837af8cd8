package series

import (
	"context"
	"errors"
	"io"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rewired-gh/retroeval/internal/baseline"
	"github.com/rewired-gh/retroeval/internal/models"
)

func TestParseCell(t *testing.T) {
	tests := []struct {
		raw     string
		want    float64
		missing bool
		ok      bool
	}{
		{"12.5", 12.5, false, true},
		{"12,5", 12.5, false, true},
		{" 7 ", 7, false, true},
		{"-0,25", -0.25, false, true},
		{"", math.NaN(), true, true},
		{"NaN", math.NaN(), true, true},
		{"NA", math.NaN(), true, true},
		{"abc", math.NaN(), false, false},
		{"1.234,5", math.NaN(), false, false},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			c := ParseCell(tt.raw)
			assert.Equal(t, tt.ok, c.OK())
			assert.Equal(t, tt.missing, c.Missing)
			if math.IsNaN(tt.want) {
				assert.True(t, math.IsNaN(c.Value))
			} else {
				assert.Equal(t, tt.want, c.Value)
			}
		})
	}
}

func TestParseColumnPolicies(t *testing.T) {
	raw := []string{"1,5", "oops", "3"}

	values, cellErrs, err := ParseColumn("median", raw, Lenient)
	require.NoError(t, err)
	require.Len(t, cellErrs, 1)
	assert.Equal(t, 3, cellErrs[0].Row)
	assert.Equal(t, "median", cellErrs[0].Column)
	assert.True(t, errors.Is(cellErrs[0], ErrParse))
	assert.Equal(t, 1.5, values[0])
	assert.True(t, math.IsNaN(values[1]))
	assert.Equal(t, 3.0, values[2])

	_, _, err = ParseColumn("median", raw, Strict)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrParse))
}

func TestParsePolicyFromString(t *testing.T) {
	p, err := ParsePolicyFromString("strict")
	require.NoError(t, err)
	assert.Equal(t, Strict, p)
	p, err = ParsePolicyFromString("")
	require.NoError(t, err)
	assert.Equal(t, Lenient, p)
	_, err = ParsePolicyFromString("loose")
	assert.Error(t, err)
}

const sampleCSV = `date,min,med,max,reality,comment
2021-01-03,"3,0","4,0","5,0","4,5",late
2021-01-01,,,,"10,0",start
2021-01-02,1,"2,5",3,11,x
`

func TestRead(t *testing.T) {
	s, cellErrs, err := Read(strings.NewReader(sampleCSV), DefaultReadOptions())
	require.NoError(t, err)
	assert.Empty(t, cellErrs)
	require.Equal(t, 3, s.Len())

	assert.True(t, s.Dates[0].Equal(time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC)), "rows must be sorted")
	assert.Equal(t, []string{"min", "med", "max", "reality"}, s.Columns(), "free-text column is skipped")

	reality, _ := s.Column(models.ColumnReality)
	assert.Equal(t, []float64{10, 11, 4.5}, reality)
	med, _ := s.Column(models.ColumnMedian)
	assert.True(t, math.IsNaN(med[0]))
	assert.Equal(t, 2.5, med[1])
}

func TestRead_Errors(t *testing.T) {
	_, _, err := Read(strings.NewReader("day,reality\n2021-01-01,1\n"), DefaultReadOptions())
	assert.True(t, errors.Is(err, ErrMissingColumn))

	_, _, err = Read(strings.NewReader("date,reality\n2021-01-01,1\n2021-01-01,2\n"), DefaultReadOptions())
	assert.True(t, errors.Is(err, ErrDuplicateDate))

	_, _, err = Read(strings.NewReader("date,reality\nyesterday,1\n"), DefaultReadOptions())
	assert.Error(t, err)

	opts := DefaultReadOptions()
	opts.Policy = Strict
	_, _, err = Read(strings.NewReader("date,reality\n2021-01-01,bad\n"), opts)
	assert.True(t, errors.Is(err, ErrParse))

	cells := "date,reality\n2021-01-01,bad\n2021-01-02,2\n"
	s, cellErrs, err := Read(strings.NewReader(cells), DefaultReadOptions())
	require.NoError(t, err)
	require.Len(t, cellErrs, 1)
	reality, _ := s.Column("reality")
	assert.True(t, math.IsNaN(reality[0]))
}

func TestRead_SemicolonDelimiter(t *testing.T) {
	opts := DefaultReadOptions()
	opts.Delimiter = ';'
	s, _, err := Read(strings.NewReader("date;reality\n2021/01/01;1,5\n"), opts)
	require.NoError(t, err)
	reality, _ := s.Column("reality")
	assert.Equal(t, []float64{1.5}, reality)
}

func day(i int) time.Time {
	return time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, i)
}

// tenDays has a flat history of 10 on days 0-6 and a forecast band from day 7.
func tenDays(t *testing.T) *models.Series {
	t.Helper()
	dates := make([]time.Time, 10)
	for i := range dates {
		dates[i] = day(i)
	}
	nan := math.NaN()
	s := models.NewSeries(dates)
	require.NoError(t, s.SetColumn("min", []float64{nan, nan, nan, nan, nan, nan, nan, 8, 8, 8}))
	require.NoError(t, s.SetColumn("med", []float64{nan, nan, nan, nan, nan, nan, nan, 10, 10, 10}))
	require.NoError(t, s.SetColumn("max", []float64{nan, nan, nan, nan, nan, nan, nan, 12, 12, 12}))
	require.NoError(t, s.SetColumn("reality", []float64{10, 10, 10, 10, 10, 10, 10, 11, 12, 13}))
	return s
}

func TestPrepare_BaselinesAndCutoff(t *testing.T) {
	opts := DefaultLoadOptions()
	opts.Cutoff = day(7)

	s, err := Prepare(tenDays(t), opts)
	require.NoError(t, err)

	// Cutoff row (day 7) is excluded from the evaluated window.
	require.Equal(t, 2, s.Len())
	assert.True(t, s.Dates[0].Equal(day(8)))

	for _, name := range []string{baseline.ColumnConstant, baseline.ColumnFirstOrder, baseline.ColumnSecondOrder} {
		col, ok := s.Column(name)
		require.True(t, ok, name)
		assert.Equal(t, []float64{10, 10}, col, name)
	}
}

func TestPrepare_BaselinesKeepFullLength(t *testing.T) {
	opts := DefaultLoadOptions()
	opts.Cutoff = day(7)
	opts.DropIncomplete = false

	s, err := Prepare(tenDays(t), opts)
	require.NoError(t, err)
	require.Equal(t, 10, s.Len())
	col, _ := s.Column(baseline.ColumnFirstOrder)
	assert.Equal(t, []float64{10, 10, 10, 10, 10, 10, 10, 10, 10, 10}, col)
}

func TestPrepare_InsufficientHistory(t *testing.T) {
	opts := DefaultLoadOptions()
	opts.Cutoff = day(3)

	_, err := Prepare(tenDays(t), opts)
	require.Error(t, err)
	assert.True(t, errors.Is(err, baseline.ErrInsufficientHistory))

	opts.BuildBaselines = false
	s, err := Prepare(tenDays(t), opts)
	require.NoError(t, err)
	// Days 4-6 follow the cutoff but have no forecast band yet.
	assert.Equal(t, 3, s.Len())
}

func TestPrepare_DropIncompleteWithoutCutoff(t *testing.T) {
	s, err := Prepare(tenDays(t), DefaultLoadOptions())
	require.NoError(t, err)
	assert.Equal(t, 3, s.Len())
	assert.False(t, s.Has(baseline.ColumnConstant))
}

func TestPrepare_MissingColumns(t *testing.T) {
	s := models.NewSeries([]time.Time{day(0)})
	require.NoError(t, s.SetColumn("med", []float64{1}))
	_, err := Prepare(s, DefaultLoadOptions())
	assert.True(t, errors.Is(err, ErrMissingColumn))

	require.NoError(t, s.SetColumn("reality", []float64{1}))
	_, err = Prepare(s, DefaultLoadOptions())
	assert.True(t, errors.Is(err, ErrMissingColumn), "band columns are required when dropping incomplete rows")
}

type stringOpener map[string]string

func (o stringOpener) Open(_ context.Context, locator string) (io.ReadCloser, error) {
	body, ok := o[locator]
	if !ok {
		return nil, errors.New("not found")
	}
	return io.NopCloser(strings.NewReader(body)), nil
}

func TestLoader_Load(t *testing.T) {
	l := NewLoader(stringOpener{"a.csv": sampleCSV})

	s, err := l.Load(context.Background(), "a.csv", DefaultLoadOptions())
	require.NoError(t, err)
	assert.Equal(t, 2, s.Len())

	_, err = l.Load(context.Background(), "missing.csv", DefaultLoadOptions())
	assert.Error(t, err)
}
