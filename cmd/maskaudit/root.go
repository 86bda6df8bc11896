package main

import (
	"fmt"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"maskaudit/pkg/config"
	"maskaudit/pkg/logging"
)

// app carries state shared by every subcommand after PersistentPreRunE
type app struct {
	configPath string
	logLevel   string
	logFormat  string

	cfg    *config.Config
	logger zerolog.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}

	cmd := &cobra.Command{
		Use:   "maskaudit",
		Short: "Validate segmentation masks and reconcile them with a reference workbook",
		Long: `maskaudit audits a collection of medical image volumes and their segmentation masks.

For every case it checks which masks contain signal and whether each mask matches the
image geometry, compares the result with a reference spreadsheet, writes a patched copy
of that spreadsheet and a multi-sheet report.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Load .env file if present (ignore errors)
			_ = godotenv.Load()
			if err := a.load(); err != nil {
				return err
			}
			cmd.SetContext(logging.WithLogger(cmd.Context(), a.logger))
			return nil
		},
	}

	cmd.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "config file (default $"+config.EnvConfigPath+" or "+config.DefaultPath+")")
	cmd.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "log level: debug, info, warn, error")
	cmd.PersistentFlags().StringVar(&a.logFormat, "log-format", "", "log format: auto, console, json")

	cmd.AddCommand(newRunCmd(a))
	cmd.AddCommand(newInspectCmd(a))
	cmd.AddCommand(newHistoryCmd(a))
	cmd.AddCommand(newConfigCmd(a))

	return cmd
}

func (a *app) load() error {
	path := config.ResolvePath(a.configPath)
	cfg, err := config.LoadConfig(path)
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		cfg.Logging.Level = a.logLevel
	}
	if a.logFormat != "" {
		cfg.Logging.Format = a.logFormat
	}

	a.cfg = cfg
	a.logger = logging.New(cfg.Logging)
	a.logger.Debug().Str("config", path).Msg("Configuration loaded")
	return nil
}

func (a *app) validate() error {
	if err := a.cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}
