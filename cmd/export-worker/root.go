package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/sethvargo/go-envconfig"
	"github.com/spf13/cobra"

	"github.com/cuongbtq/traffic-export/internal/config"
	"github.com/cuongbtq/traffic-export/shared/logger"
)

// app carries what every subcommand needs once the root has bootstrapped
type app struct {
	configPath string
	verbose    int
	promptKey  bool

	cfg    *config.Config
	logger *logger.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}

	defaultConfigPath := os.Getenv("EXPORT_WORKER_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/export-worker/config.yaml"
	}

	root := &cobra.Command{
		Use:           "export-worker",
		Short:         "Export traffic readings from the remote export service into Parquet files",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init(cmd.Context(), cmd.Flags().Changed("verbose"))
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if a.logger != nil {
				return a.logger.Close()
			}
			return nil
		},
	}

	root.PersistentFlags().StringVar(&a.configPath, "config", defaultConfigPath, "Path to configuration file")
	root.PersistentFlags().CountVarP(&a.verbose, "verbose", "v", "Verbosity (-v info, -vv debug); overrides logging.level")
	root.PersistentFlags().BoolVar(&a.promptKey, "prompt-key", false, "Prompt for the API key when none is configured")

	root.AddCommand(
		newDailyCmd(a),
		newSingleCmd(a),
		newSeedCmd(a),
		newPendingCmd(a),
	)

	return root
}

// init loads configuration and the logger
func (a *app) init(ctx context.Context, verbosityChanged bool) error {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables or flags")
	}

	cfg, err := config.Load(a.configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ApplyEnv(ctx, envconfig.OsLookuper()); err != nil {
		return err
	}

	if err := cfg.ValidateWorkerConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	if verbosityChanged {
		cfg.Logging.Level = logger.LevelFromVerbosity(a.verbose)
	}

	appLogger, err := initLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	appLogger.Debug("Configuration loaded",
		slog.String("app", cfg.App.Name),
		slog.String("environment", cfg.App.Environment),
		slog.String("config", a.configPath),
	)

	a.cfg = cfg
	a.logger = appLogger
	return nil
}

// initLogger initializes and configures the application logger
func initLogger(cfg *config.LoggingConfig) (*logger.Logger, error) {
	timeFormat := cfg.TimeFormat
	if timeFormat == "" {
		timeFormat = time.RFC3339
	}

	return logger.New(&logger.Config{
		Level:        cfg.Level,
		Format:       cfg.Format,
		Output:       cfg.Output,
		EnableSource: cfg.EnableSource,
		TimeFormat:   timeFormat,
	})
}
