package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/rewired-gh/retroeval/internal/config"
	"github.com/rewired-gh/retroeval/internal/evaluator"
	"github.com/rewired-gh/retroeval/internal/logger"
	"github.com/rewired-gh/retroeval/internal/metrics"
	"github.com/rewired-gh/retroeval/internal/models"
	"github.com/rewired-gh/retroeval/internal/report"
	"github.com/rewired-gh/retroeval/internal/series"
	"github.com/rewired-gh/retroeval/internal/source"
	"github.com/rewired-gh/retroeval/internal/storage"
	"github.com/rewired-gh/retroeval/internal/telegram"
)

// Scenario types of the stratified table, from the low band to the high band.
var strata = []struct {
	Band string
	Tag  string
}{
	{"min", "Optimist"},
	{"med", "Median"},
	{"max", "Pessimist"},
}

const strataTagColumn = "scenario"

func newRunCmd(root *rootOptions) *cobra.Command {
	var mode, band string
	var stratify bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Evaluate the configured scenario catalog",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(root.configPath)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			if cmd.Flags().Changed("mode") {
				cfg.Evaluation.Mode = mode
			}
			if cmd.Flags().Changed("band") {
				cfg.Evaluation.Band = band
			}
			if cmd.Flags().Changed("stratify") {
				cfg.Evaluation.Stratify = stratify
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			logger.Init(cfg.Logging.Level, cfg.Logging.Format)
			defer logger.Sync()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			var notifier summaryNotifier
			telegramClient := newNotifier(cfg)
			if telegramClient != nil {
				notifier = telegramClient
			}
			run, err := runEvaluation(ctx, cfg, cmd.OutOrStdout(), notifier)
			if errors.Is(err, context.Canceled) {
				logger.Warn("Evaluation cancelled, no results written")
				return err
			}
			if err != nil {
				logger.Error("Evaluation failed: %v", err)
				if telegramClient != nil {
					if sendErr := telegramClient.SendError(ctx, err); sendErr != nil {
						logger.Warn("Failed to send error notification to Telegram: %v", sendErr)
					}
				}
				return err
			}
			logger.Info("Run %s finished in %v", run.ID, run.Duration())
			return nil
		},
	}
	cmd.Flags().StringVar(&mode, "mode", "", "Override evaluation.mode (summary, registry, binned)")
	cmd.Flags().StringVar(&band, "band", "", "Override evaluation.band for registry mode")
	cmd.Flags().BoolVar(&stratify, "stratify", false, "Stack min, med and max registry tables")
	return cmd
}

func newNotifier(cfg *config.Config) *telegram.Client {
	if !cfg.Telegram.Enabled {
		logger.Debug("Telegram notifications disabled")
		return nil
	}
	client, err := telegram.NewClient(cfg.Telegram.BotToken, cfg.Telegram.ChatID, cfg.Telegram.MaxRetries, cfg.Telegram.RetryDelayBase)
	if err != nil {
		logger.Warn("Failed to initialize Telegram client: %v", err)
		return nil
	}
	logger.Info("Telegram client initialized successfully")
	return client
}

// pipeline holds the components of one evaluation run.
type pipeline struct {
	cfg      *config.Config
	catalog  []models.Scenario
	registry *metrics.Registry
	loader   *series.Loader
	eval     *evaluator.Evaluator
	writer   *report.Writer
}

func newPipeline(cfg *config.Config) (*pipeline, error) {
	catalog, err := cfg.Catalog()
	if err != nil {
		return nil, err
	}
	registry, err := cfg.Registry()
	if err != nil {
		return nil, err
	}
	evalCfg, err := cfg.EvaluatorConfig()
	if err != nil {
		return nil, err
	}
	loader := series.NewLoader(source.NewClient(cfg.SourceClientConfig()))
	return &pipeline{
		cfg:      cfg,
		catalog:  catalog,
		registry: registry,
		loader:   loader,
		eval:     evaluator.New(loader, registry, evalCfg),
		writer: report.NewWriter(report.Options{
			OutputDir: cfg.Report.OutputDir,
			CSV:       cfg.Report.CSV,
			LaTeX:     cfg.Report.LaTeX,
			Plots:     cfg.Report.Plots,
			Precision: evalCfg.Precision,
		}),
	}, nil
}

// evaluate builds the results table, stacking the three bands when stratified.
func (p *pipeline) evaluate(ctx context.Context) (*models.Table, []string, error) {
	if !p.cfg.Evaluation.Stratify {
		table, failed, err := p.eval.Evaluate(ctx, p.catalog)
		if err != nil {
			return nil, nil, err
		}
		return table, failureKeys(failed), nil
	}

	var tables []*models.Table
	var tags []string
	var failed []*evaluator.ScenarioError
	for _, s := range strata {
		table, f, err := p.eval.WithBand(s.Band).Evaluate(ctx, p.catalog)
		if err != nil {
			return nil, nil, fmt.Errorf("band %s: %w", s.Band, err)
		}
		tables = append(tables, table)
		tags = append(tags, s.Tag)
		failed = append(failed, f...)
	}
	table, err := report.Stack(strataTagColumn, tags, tables)
	if err != nil {
		return nil, nil, err
	}
	return table, failureKeys(failed), nil
}

// failureKeys lists distinct failed scenario keys in first-seen order.
func failureKeys(failed []*evaluator.ScenarioError) []string {
	seen := make(map[string]bool)
	var keys []string
	for _, f := range failed {
		if !seen[f.Key] {
			seen[f.Key] = true
			keys = append(keys, f.Key)
		}
	}
	return keys
}

func (p *pipeline) tableName() string {
	ec := p.eval.Config()
	switch {
	case p.cfg.Evaluation.Stratify:
		return "registry_stratified"
	case ec.Mode == evaluator.ModeRegistry:
		return "registry_" + ec.Band
	default:
		return string(ec.Mode)
	}
}

// writeCharts renders one chart per scenario plus an ME box plot when the
// table carries an ME column.
func (p *pipeline) writeCharts(ctx context.Context, table *models.Table, failed []string) {
	skip := make(map[string]bool, len(failed))
	for _, key := range failed {
		skip[key] = true
	}
	loadOpts := p.eval.Config().Load
	loadOpts.DropIncomplete = false

	for _, sc := range p.catalog {
		if skip[sc.Key] {
			continue
		}
		opts := loadOpts
		opts.Cutoff = sc.Cutoff
		s, err := p.loader.Load(ctx, sc.Source, opts)
		if err != nil {
			logger.Warn("Skipping chart for %s: %v", sc.Key, err)
			continue
		}
		if _, err := p.writer.WriteChart("chart_"+sc.Key, func(w io.Writer) error {
			return report.RenderScenarioChart(w, sc, s)
		}); err != nil {
			logger.Warn("Failed to write chart for %s: %v", sc.Key, err)
		}
	}

	if table.ColumnIndex(metrics.NameME) < 0 {
		return
	}
	by := []string{evaluator.TagIncreasing}
	if p.cfg.Evaluation.Stratify {
		by = []string{strataTagColumn, evaluator.TagIncreasing}
	}
	groups, err := report.GroupColumn(table, metrics.NameME, by...)
	if err != nil {
		logger.Warn("Failed to group errors: %v", err)
		return
	}
	if _, err := p.writer.WriteChart("boxplot_ME", func(w io.Writer) error {
		return report.RenderErrorBoxPlot(w, "Mean error by scenario type", groups)
	}); err != nil {
		logger.Warn("Failed to write box plot: %v", err)
	}
}

type summaryNotifier interface {
	SendSummary(ctx context.Context, run *models.Run, table *models.Table, failed []string) error
}

// runEvaluation evaluates the catalog, writes reports, records the run and
// sends the summary. notifier may be nil.
func runEvaluation(ctx context.Context, cfg *config.Config, out io.Writer, notifier summaryNotifier) (*models.Run, error) {
	p, err := newPipeline(cfg)
	if err != nil {
		return nil, err
	}
	ec := p.eval.Config()
	run := &models.Run{
		ID:        uuid.NewString(),
		Mode:      string(ec.Mode),
		Band:      ec.Band,
		StartedAt: time.Now(),
		Scenarios: len(p.catalog),
	}
	if cfg.Evaluation.Stratify {
		run.Band = "stratified"
	}
	logger.Info("Starting run %s (%d scenarios)", run.ID, len(p.catalog))

	table, failed, err := p.evaluate(ctx)
	if err != nil {
		return nil, err
	}
	run.FinishedAt = time.Now()
	run.Failures = len(failed)

	paths, err := p.writer.WriteTable(p.tableName(), table)
	if err != nil {
		return nil, fmt.Errorf("failed to write report: %w", err)
	}
	for _, path := range paths {
		fmt.Fprintln(out, path)
	}
	if p.writer.PlotsEnabled() {
		p.writeCharts(ctx, table, failed)
	}

	if cfg.Storage.Enabled {
		if err := saveRun(cfg, run, table); err != nil {
			logger.Warn("Failed to record run: %v", err)
		}
	}

	if notifier != nil {
		if err := notifier.SendSummary(ctx, run, table, failed); err != nil {
			logger.Warn("Failed to send summary to Telegram: %v", err)
		}
	}

	if len(failed) > 0 {
		logger.Warn("%d of %d scenarios failed", len(failed), len(p.catalog))
	}
	return run, nil
}

func saveRun(cfg *config.Config, run *models.Run, table *models.Table) error {
	store, err := storage.New(cfg.Storage.MaxRuns, cfg.Storage.DBPath)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("Failed to close storage: %v", err)
		}
	}()
	return store.SaveRun(run, table)
}

var _ summaryNotifier = (*telegram.Client)(nil)
