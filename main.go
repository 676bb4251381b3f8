package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"wacrm/database"
	"wacrm/state"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	cfgFile string
	envFile string
	cfg     = &state.Config{}
	logger  *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:           "wacrm",
	Short:         "WhatsApp CRM chat store",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg.SetDefaults()
		cfg.Path = cfgFile

		if _, err := os.Stat(cfg.Path); err == nil {
			if err = cfg.LoadConfig(); err != nil {
				return fmt.Errorf("failed to load config file: %w", err)
			}
		} else if cmd.Flags().Changed("config") {
			return fmt.Errorf("failed to load config file: %w", err)
		}

		var envFiles []string
		if envFile != "" {
			envFiles = append(envFiles, envFile)
		}
		if err := cfg.ApplyEnvOverrides(envFiles...); err != nil {
			return err
		}

		var err error
		logger, err = newLogger(cfg.DebugMode)
		if err != nil {
			return err
		}

		logger.Debug("loaded config file and started logger",
			zap.String("config_path", cfg.Path),
			zap.Bool("development_mode", cfg.DebugMode),
		)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "config.yaml", "path to the YAML config file")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "dotenv file with WACRM_* overrides (default .env)")
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	err := rootCmd.ExecuteContext(ctx)
	if err == nil {
		return
	}
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		os.Exit(130)
	}
	fmt.Fprintln(os.Stderr, "error:", err)
	os.Exit(1)
}

func newLogger(debugMode bool) (*zap.Logger, error) {
	if debugMode {
		developmentConfig := zap.NewDevelopmentConfig()
		developmentConfig.OutputPaths = append(developmentConfig.OutputPaths, "debug.log")
		l, err := developmentConfig.Build()
		if err != nil {
			return nil, fmt.Errorf("failed to initialize development logger: %w", err)
		}
		return l.Named("wacrm_dev"), nil
	}

	l, err := zap.NewProductionConfig().Build()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize production logger: %w", err)
	}
	return l.Named("wacrm"), nil
}

// openStore connects to the configured database, applies pending migrations
// and wraps the connection in a ChatStore.
func openStore() (*database.ChatStore, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, fmt.Errorf("failed to set time zone %q: %w", cfg.TimeZone, err)
	}

	db, err := database.Connect(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("could not connect to database: %w", err)
	}
	if err = database.MigrateDatabase(db); err != nil {
		if sqlDb, dbErr := db.DB(); dbErr == nil {
			sqlDb.Close()
		}
		return nil, fmt.Errorf("could not migrate database tables: %w", err)
	}

	return database.NewChatStore(db, logger, database.WithLocation(loc)), nil
}
