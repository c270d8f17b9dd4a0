package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"txfs/internal/daemon"
)

var undoCmd = &cobra.Command{
	Use:   "undo",
	Short: "Undo the last operation",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runHistoryRequest((*daemon.Client).Undo)
	},
}

var redoCmd = &cobra.Command{
	Use:   "redo",
	Short: "Redo the last undone operation",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runHistoryRequest((*daemon.Client).Redo)
	},
}

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Forget all undo and redo entries",
	Long:  `Drops both history stacks. Files already moved to the backup area stay there until swept.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runHistoryRequest((*daemon.Client).Clear)
	},
}

var historyCmd = &cobra.Command{
	Use:     "history",
	Aliases: []string{"log"},
	Short:   "List undo and redo entries",
	Args:    cobra.NoArgs,
	RunE:    runHistory,
}

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Remove stale backups now",
	Long: `Removes backup containers older than --max-age, or older than the
daemon's backup_max_age setting when the flag is not given.`,
	Args: cobra.NoArgs,
	RunE: runSweep,
}

var sweepMaxAge string

func init() {
	sweepCmd.Flags().StringVar(&sweepMaxAge, "max-age", "", "Override backup_max_age, e.g. 24h")
	rootCmd.AddCommand(undoCmd)
	rootCmd.AddCommand(redoCmd)
	rootCmd.AddCommand(clearCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(sweepCmd)
}

func runHistoryRequest(send func(*daemon.Client) (*daemon.Response, error)) error {
	resp, err := withDaemon(send)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	return printResponse(resp)
}

func runHistory(cmd *cobra.Command, args []string) error {
	resp, err := withDaemon((*daemon.Client).Status)
	if err != nil {
		return fmt.Errorf("status request failed: %w", err)
	}
	if err := responseError(resp); err != nil {
		return err
	}
	printHistory(resp.History)
	return nil
}

// printHistory lists the newest entries first.
func printHistory(h *daemon.HistoryStatus) {
	if h == nil || (len(h.Undo) == 0 && len(h.Redo) == 0) {
		fmt.Println("History is empty")
		return
	}
	if len(h.Redo) > 0 {
		fmt.Println("Redo:")
		for i := len(h.Redo) - 1; i >= 0; i-- {
			fmt.Printf("  %s\n", h.Redo[i])
		}
	}
	if len(h.Undo) > 0 {
		fmt.Println("Undo:")
		for i := len(h.Undo) - 1; i >= 0; i-- {
			fmt.Printf("  %s\n", h.Undo[i])
		}
	}
}

func runSweep(cmd *cobra.Command, args []string) error {
	stats, err := withDaemon(func(c *daemon.Client) (*daemon.SweepStats, error) {
		return c.Sweep(sweepMaxAge)
	})
	if err != nil {
		return err
	}
	fmt.Printf("Removed %d backup(s), kept %d\n", stats.Removed, stats.Kept)
	for _, e := range stats.Errors {
		fmt.Printf("  error: %s\n", e)
	}
	if len(stats.Errors) > 0 {
		return fmt.Errorf("sweep finished with %d error(s)", len(stats.Errors))
	}
	return nil
}
