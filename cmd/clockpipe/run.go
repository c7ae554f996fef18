package main

import (
	"github.com/spf13/cobra"

	"github.com/clockpipe/clockpipe/internal/pipeline"
	"github.com/clockpipe/clockpipe/internal/server"
	"github.com/clockpipe/clockpipe/internal/tui"
)

var (
	runAPIPort int
	runTUI     bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the CDC pipe: ping, initialize, bulk-copy, then stream",
	Long: `Run connects to the configured source and ClickHouse destination,
reconciles the destination schema, bulk-copies every table not already
populated, then streams changes until interrupted.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate(); err != nil {
			return err
		}

		apiPort := cfg.APIPort
		if runAPIPort != 0 {
			apiPort = runAPIPort
		}
		runTUIFlag := cfg.TUI || runTUI

		p := pipeline.New(cfg, logger)
		defer p.Close()

		if apiPort > 0 {
			srv := server.New(p.Metrics, cfg, logger)
			srv.StartBackground(cmd.Context(), apiPort)
		}

		if runTUIFlag {
			errCh := make(chan error, 1)
			go func() {
				errCh <- p.Run(cmd.Context())
			}()

			if err := tui.Run(p.Metrics); err != nil {
				return err
			}
			return <-errCh
		}

		return p.Run(cmd.Context())
	},
}

func init() {
	runCmd.Flags().IntVar(&runAPIPort, "api-port", 0, "Enable HTTP API on this port (0 = disabled, overrides config)")
	runCmd.Flags().BoolVar(&runTUI, "tui", false, "Show terminal dashboard while running")
	rootCmd.AddCommand(runCmd)
}
