// Package report renders evaluation tables and charts to files.
package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"slices"
	"strconv"
	"strings"

	"github.com/rewired-gh/retroeval/internal/models"
)

const utf8BOM = "\ufeff"

func formatValue(v float64, precision int) string {
	if math.IsNaN(v) {
		return ""
	}
	return strconv.FormatFloat(v, 'f', precision, 64)
}

// WriteCSV writes t as UTF-8 CSV with a byte order mark. The first column
// holds row labels, then the value columns, then the tag columns.
func WriteCSV(w io.Writer, t *models.Table, precision int) error {
	if _, err := io.WriteString(w, utf8BOM); err != nil {
		return err
	}
	cw := csv.NewWriter(w)

	header := append([]string{""}, t.Columns...)
	header = append(header, t.TagColumns...)
	if err := cw.Write(header); err != nil {
		return err
	}
	for _, row := range t.Rows {
		record := make([]string, 0, len(header))
		record = append(record, row.Label)
		for _, v := range row.Values {
			record = append(record, formatValue(v, precision))
		}
		record = append(record, row.Tags...)
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

var latexEscaper = strings.NewReplacer(
	`\`, `\textbackslash{}`,
	"&", `\&`,
	"%", `\%`,
	"$", `\$`,
	"#", `\#`,
	"_", `\_`,
	"{", `\{`,
	"}", `\}`,
)

// WriteLaTeX writes t as a LaTeX tabular environment.
func WriteLaTeX(w io.Writer, t *models.Table, precision int) error {
	var b strings.Builder

	colSpec := "l" + strings.Repeat("r", len(t.Columns)) + strings.Repeat("l", len(t.TagColumns))
	fmt.Fprintf(&b, "\\begin{tabular}{%s}\n\\toprule\n", colSpec)

	cells := []string{""}
	for _, c := range append(append([]string{}, t.Columns...), t.TagColumns...) {
		cells = append(cells, latexEscaper.Replace(c))
	}
	b.WriteString(strings.Join(cells, " & ") + " \\\\\n\\midrule\n")

	for _, row := range t.Rows {
		cells = cells[:0]
		cells = append(cells, latexEscaper.Replace(row.Label))
		for _, v := range row.Values {
			if math.IsNaN(v) {
				cells = append(cells, "--")
				continue
			}
			cells = append(cells, formatValue(v, precision))
		}
		for _, tag := range row.Tags {
			cells = append(cells, latexEscaper.Replace(tag))
		}
		b.WriteString(strings.Join(cells, " & ") + " \\\\\n")
	}
	b.WriteString("\\bottomrule\n\\end{tabular}\n")

	_, err := io.WriteString(w, b.String())
	return err
}

// Stack concatenates tables sharing one schema and prepends a tag column
// whose value for every row of tables[i] is tags[i].
func Stack(tagColumn string, tags []string, tables []*models.Table) (*models.Table, error) {
	if len(tags) != len(tables) {
		return nil, fmt.Errorf("got %d tags for %d tables", len(tags), len(tables))
	}
	if len(tables) == 0 {
		return nil, fmt.Errorf("nothing to stack")
	}
	first := tables[0]
	out := models.NewTable(first.Columns, append([]string{tagColumn}, first.TagColumns...))
	for i, t := range tables {
		if !slices.Equal(t.Columns, first.Columns) || !slices.Equal(t.TagColumns, first.TagColumns) {
			return nil, fmt.Errorf("table %d (%s) has a different schema", i, tags[i])
		}
		for _, row := range t.Rows {
			stacked := models.Row{
				Label:  row.Label,
				Values: row.Values,
				Tags:   append([]string{tags[i]}, row.Tags...),
			}
			if err := out.Append(stacked); err != nil {
				return nil, err
			}
		}
	}
	return out, nil
}
