package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/ethpandaops/scopeoor/pkg/config"
	"github.com/ethpandaops/scopeoor/pkg/store"
)

var (
	// Version information set at build time.
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var (
	cfgFile     string
	logLevel    string
	databaseURL string
	log         *logrus.Logger
)

func main() {
	log = logrus.New()
	log.SetOutput(os.Stderr)
	log.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	if err := rootCmd.Execute(); err != nil {
		log.WithError(err).Fatal("Failed to execute command")
	}
}

var rootCmd = &cobra.Command{
	Use:   "scopeoor",
	Short: "Test measurement recorder and validator",
	Long: `Scopeoor records test runs, suites, test cases, keyword failures and
validated measurements into a relational store (sqlite or postgres), and
serves or exports the stored runs for offline inspection.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level, err := logrus.ParseLevel(logLevel)
		if err != nil {
			return fmt.Errorf("invalid log level %q: %w", logLevel, err)
		}

		log.SetLevel(level)

		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("scopeoor %s\n", version)
		fmt.Printf("  commit: %s\n", commit)
		fmt.Printf("  built:  %s\n", date)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file path")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info",
		"log level ("+strings.Join(logLevels(), ", ")+")")
	rootCmd.PersistentFlags().StringVar(&databaseURL, "database-url", "",
		"results store, <driver>://<path-or-dsn> (overrides config)")

	rootCmd.AddCommand(versionCmd)
}

func logLevels() []string {
	levels := make([]string, 0, len(logrus.AllLevels))
	for _, level := range logrus.AllLevels {
		levels = append(levels, level.String())
	}

	return levels
}

// loadConfig loads and validates the configuration, applying CLI overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	if databaseURL != "" {
		cfg.Database.URL = databaseURL
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	// The configured log level applies unless --log-level was given.
	if !rootCmd.PersistentFlags().Changed("log-level") {
		if level, err := logrus.ParseLevel(cfg.Global.LogLevel); err == nil {
			log.SetLevel(level)
		}
	}

	return cfg, nil
}

// openEngine connects a storage engine to the configured database. The
// caller must Disconnect it.
func openEngine(ctx context.Context, cfg *config.Config) (store.Engine, error) {
	engine := store.NewEngine(log)

	if err := engine.Connect(ctx, cfg.Database.URL); err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	return engine, nil
}

func disconnect(engine store.Engine) {
	if err := engine.Disconnect(); err != nil {
		log.WithError(err).Warn("Failed to disconnect from database")
	}
}
