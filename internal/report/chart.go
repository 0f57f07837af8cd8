package report

import (
	"fmt"
	"io"
	"math"
	"sort"
	"strings"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
	"gonum.org/v1/gonum/stat"

	"github.com/rewired-gh/retroeval/internal/models"
)

// missingPoint leaves a gap in an echarts line.
const missingPoint = "-"

// RenderScenarioChart writes an HTML line chart of every column of s
// (reality, the band and any baselines) over the series dates.
func RenderScenarioChart(w io.Writer, sc models.Scenario, s *models.Series) error {
	if s.Len() == 0 {
		return fmt.Errorf("scenario %s: nothing to plot", sc.Key)
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{
			PageTitle: sc.Label(),
			Width:     "1000px",
			Height:    "500px",
		}),
		charts.WithTitleOpts(opts.Title{
			Title:    sc.Label(),
			Subtitle: fmt.Sprintf("normalization %g", sc.Normalization),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), Bottom: "0"}),
	)

	dates := make([]string, s.Len())
	for i, d := range s.Dates {
		dates[i] = d.Format("2006-01-02")
	}
	line.SetXAxis(dates)

	for _, name := range s.Columns() {
		values, _ := s.Column(name)
		points := make([]opts.LineData, len(values))
		for i, v := range values {
			if math.IsNaN(v) {
				points[i] = opts.LineData{Value: missingPoint}
				continue
			}
			points[i] = opts.LineData{Value: v}
		}
		line.AddSeries(name, points)
	}

	return line.Render(w)
}

// BoxGroup is one box of a box plot.
type BoxGroup struct {
	Name   string
	Values []float64
}

// GroupColumn splits the non-NaN values of column by the given tag columns.
// Groups are named by their tag values joined with " / " and appear in
// first-seen order.
func GroupColumn(t *models.Table, column string, by ...string) ([]BoxGroup, error) {
	col := t.ColumnIndex(column)
	if col < 0 {
		return nil, fmt.Errorf("no column %q", column)
	}
	tagIdx := make([]int, len(by))
	for i, name := range by {
		tagIdx[i] = t.TagIndex(name)
		if tagIdx[i] < 0 {
			return nil, fmt.Errorf("no tag column %q", name)
		}
	}

	var groups []BoxGroup
	index := make(map[string]int)
	for _, row := range t.Rows {
		v := row.Values[col]
		if math.IsNaN(v) {
			continue
		}
		parts := make([]string, len(tagIdx))
		for i, idx := range tagIdx {
			parts[i] = row.Tags[idx]
		}
		key := strings.Join(parts, " / ")
		gi, ok := index[key]
		if !ok {
			gi = len(groups)
			index[key] = gi
			groups = append(groups, BoxGroup{Name: key})
		}
		groups[gi].Values = append(groups[gi].Values, v)
	}
	return groups, nil
}

// FiveNumberSummary returns min, lower quartile, median, upper quartile and max.
func FiveNumberSummary(values []float64) [5]float64 {
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	return [5]float64{
		sorted[0],
		stat.Quantile(0.25, stat.Empirical, sorted, nil),
		stat.Quantile(0.5, stat.Empirical, sorted, nil),
		stat.Quantile(0.75, stat.Empirical, sorted, nil),
		sorted[len(sorted)-1],
	}
}

// RenderErrorBoxPlot writes an HTML box plot with one box per group.
// Empty groups are skipped.
func RenderErrorBoxPlot(w io.Writer, title string, groups []BoxGroup) error {
	var names []string
	var boxes []opts.BoxPlotData
	for _, g := range groups {
		if len(g.Values) == 0 {
			continue
		}
		summary := FiveNumberSummary(g.Values)
		names = append(names, g.Name)
		boxes = append(boxes, opts.BoxPlotData{Name: g.Name, Value: summary[:]})
	}
	if len(boxes) == 0 {
		return fmt.Errorf("%s: nothing to plot", title)
	}

	box := charts.NewBoxPlot()
	box.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{
			PageTitle: title,
			Width:     "900px",
			Height:    "500px",
		}),
		charts.WithTitleOpts(opts.Title{Title: title}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
	)
	box.SetXAxis(names).AddSeries(title, boxes)
	return box.Render(w)
}
