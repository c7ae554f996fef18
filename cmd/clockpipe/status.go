package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/clockpipe/clockpipe/internal/metrics"
)

var statusStateFile string

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show pipe progress and replication lag",
	Long:  `Status reports the current phase, applied LSN, and replication lag of the last-known running pipe.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		var snap *metrics.Snapshot
		var err error
		if statusStateFile != "" {
			snap, err = metrics.ReadStateFileAt(statusStateFile)
		} else {
			snap, err = metrics.ReadStateFile()
		}
		if err != nil {
			fmt.Println("No pipe state found. Is clockpipe running?")
			fmt.Printf("  (error: %v)\n", err)
			return nil
		}

		age := time.Since(snap.Timestamp)
		stale := ""
		if age > 10*time.Second {
			stale = fmt.Sprintf(" (stale — %s ago)", age.Truncate(time.Second))
		}

		fmt.Printf("Phase:        %s%s\n", snap.Phase, stale)
		fmt.Printf("Elapsed:      %.0fs\n", snap.ElapsedSec)
		if snap.AppliedLSN != "" {
			fmt.Printf("Applied LSN:  %s\n", snap.AppliedLSN)
			fmt.Printf("Lag:          %s\n", snap.LagFormatted)
		}
		fmt.Printf("Throughput:   %.0f rows/s\n", snap.RowsPerSec)
		fmt.Printf("Total:        %d rows\n", snap.TotalRows)

		if snap.ErrorCount > 0 {
			fmt.Printf("Errors:       %d (last: %s)\n", snap.ErrorCount, snap.LastError)
		}

		if len(snap.Tables) > 0 {
			fmt.Println("\nTables:")
			for _, t := range snap.Tables {
				fmt.Printf("  %-35s %-10s copied=%-8d inserted=%-8d deleted=%-8d\n",
					t.Table, t.Status, t.RowsCopied, t.RowsInserted, t.RowsDeleted)
			}
		}

		return nil
	},
}

func init() {
	statusCmd.Flags().StringVar(&statusStateFile, "state-file", "", "Path to a metrics state file (default ~/.clockpipe/state.json)")
	rootCmd.AddCommand(statusCmd)
}
