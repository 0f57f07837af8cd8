package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/rewired-gh/retroeval/internal/models"
	"github.com/rewired-gh/retroeval/internal/report"
	"github.com/rewired-gh/retroeval/internal/series"
	"github.com/rewired-gh/retroeval/internal/source"
)

func newBaselineCmd(root *rootOptions) *cobra.Command {
	var cutoff string
	var window int

	cmd := &cobra.Command{
		Use:   "baseline <source>",
		Short: "Print a series with its Taylor baselines from a cutoff date",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.loadConfig(false)
			if err != nil {
				return err
			}
			at, err := time.Parse(models.ScenarioDateLayout, cutoff)
			if err != nil {
				return fmt.Errorf("invalid --cutoff %q, want YYYY/MM/DD: %w", cutoff, err)
			}
			opts, err := cfg.LoadOptions()
			if err != nil {
				return err
			}
			opts.Cutoff = at
			opts.BuildBaselines = true
			opts.DropIncomplete = false
			if window > 0 {
				opts.Window = window
			}

			loader := series.NewLoader(source.NewClient(cfg.SourceClientConfig()))
			s, err := loader.Load(cmd.Context(), args[0], opts)
			if err != nil {
				return err
			}
			return report.WriteCSV(cmd.OutOrStdout(), seriesTable(s), cfg.Evaluation.Precision)
		},
	}
	cmd.Flags().StringVar(&cutoff, "cutoff", "", "Cutoff date (YYYY/MM/DD)")
	cmd.Flags().IntVar(&window, "window", 0, "Smoothing window (default loader.window)")
	_ = cmd.MarkFlagRequired("cutoff")
	return cmd
}

// seriesTable lays a series out as a table with one row per date.
func seriesTable(s *models.Series) *models.Table {
	columns := s.Columns()
	table := models.NewTable(columns, nil)
	for i, d := range s.Dates {
		values := make([]float64, len(columns))
		for j, name := range columns {
			col, _ := s.Column(name)
			values[j] = col[i]
		}
		// Schema matches by construction.
		_ = table.Append(models.Row{Label: d.Format("2006-01-02"), Values: values})
	}
	return table
}
