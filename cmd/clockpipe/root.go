package main

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/clockpipe/clockpipe/internal/config"
)

var (
	cfg        *config.Config
	logger     zerolog.Logger
	logOutput  io.Writer
	configFile string
	logLevel   string
	logFormat  string
)

var rootCmd = &cobra.Command{
	Use:   "clockpipe",
	Short: "Change-data-capture pipe into ClickHouse",
	Long: `clockpipe streams row-level changes from a PostgreSQL or MongoDB source
into a ClickHouse destination: it bulk-copies existing data, then follows
the source's change stream (logical replication or a change stream/oplog
equivalent) to keep the destination current.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		resolvedLevel := logLevel
		if resolvedLevel == "" {
			resolvedLevel = os.Getenv("CLOCKPIPE_LOG_LEVEL")
		}
		if resolvedLevel == "" {
			resolvedLevel = "info"
		}
		resolvedFormat := logFormat
		if resolvedFormat == "" {
			resolvedFormat = "console"
		}

		// status reads a persisted snapshot directly and must work without
		// any live source/sink configured, so config loading is skipped for it.
		if cmd.Name() != "status" {
			if configFile == "" {
				configFile = os.Getenv("CLOCKPIPE_CONFIG_FILE")
			}
			if configFile == "" {
				configFile = "clockpipe.json"
			}

			loaded, err := config.Load(configFile)
			if err != nil {
				return err
			}
			cfg = loaded

			if logLevel != "" {
				cfg.LogLevel = logLevel
			} else if v := os.Getenv("CLOCKPIPE_LOG_LEVEL"); v != "" {
				cfg.LogLevel = v
			}
			if logFormat != "" {
				cfg.LogFormat = logFormat
			}
			resolvedLevel = cfg.LogLevel
			resolvedFormat = cfg.LogFormat
		}

		switch resolvedFormat {
		case "json":
			logOutput = os.Stdout
		default:
			logOutput = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
		}
		logger = zerolog.New(logOutput).With().Timestamp().Logger()

		level, err := zerolog.ParseLevel(resolvedLevel)
		if err != nil {
			level = zerolog.InfoLevel
		}
		logger = logger.Level(level)

		return nil
	},
}

func init() {
	f := rootCmd.PersistentFlags()

	f.StringVar(&configFile, "config-file", "", `Path to the JSON config file (default "clockpipe.json", or $CLOCKPIPE_CONFIG_FILE)`)
	f.StringVar(&logLevel, "log-level", "", "Log level override (debug, info, warn, error)")
	f.StringVar(&logFormat, "log-format", "", "Log format override (console, json)")
}
