package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rewired-gh/retroeval/internal/config"
	"github.com/rewired-gh/retroeval/internal/logger"
)

type rootOptions struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "retroeval",
		Short:         "Retrospective evaluation of epidemic forecast scenarios",
		Long:          `Scores archived forecast scenarios against observed reality and naive Taylor baselines.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "configs/config.yaml", "Path to configuration file")

	cmd.AddCommand(newRunCmd(opts))
	cmd.AddCommand(newBaselineCmd(opts))
	cmd.AddCommand(newRunsCmd(opts))
	return cmd
}

// loadConfig reads the configuration and initializes logging. Commands that
// do not evaluate a catalog skip validation.
func (o *rootOptions) loadConfig(validate bool) (*config.Config, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if validate {
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("invalid configuration: %w", err)
		}
	}
	logger.Init(cfg.Logging.Level, cfg.Logging.Format)
	logger.Debug("Configuration loaded from %s", o.configPath)
	return cfg, nil
}
