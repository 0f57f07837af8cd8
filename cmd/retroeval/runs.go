package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/rewired-gh/retroeval/internal/config"
	"github.com/rewired-gh/retroeval/internal/report"
	"github.com/rewired-gh/retroeval/internal/storage"
)

func newRunsCmd(root *rootOptions) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recorded evaluation runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, _, err := openStore(root)
			if err != nil {
				return err
			}
			defer store.Close()

			runs, err := store.ListRuns(limit)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tSTARTED\tMODE\tBAND\tSCENARIOS\tFAILED\tDURATION")
			for _, r := range runs {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d\t%v\n",
					r.ID, r.StartedAt.Format("2006-01-02 15:04:05"), r.Mode, r.Band,
					r.Scenarios, r.Failures, r.Duration())
			}
			return w.Flush()
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of runs to list")

	show := &cobra.Command{
		Use:   "show <run-id>",
		Short: "Print the result table of a recorded run as CSV",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, cfg, err := openStore(root)
			if err != nil {
				return err
			}
			defer store.Close()

			table, err := store.LoadTable(args[0])
			if err != nil {
				return err
			}
			return report.WriteCSV(cmd.OutOrStdout(), table, cfg.Evaluation.Precision)
		},
	}
	cmd.AddCommand(show)
	return cmd
}

func openStore(root *rootOptions) (*storage.Storage, *config.Config, error) {
	cfg, err := root.loadConfig(false)
	if err != nil {
		return nil, nil, err
	}
	store, err := storage.New(cfg.Storage.MaxRuns, cfg.Storage.DBPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	return store, cfg, nil
}
