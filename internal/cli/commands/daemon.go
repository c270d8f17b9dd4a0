package commands

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"txfs/internal/daemon"
	"txfs/internal/util"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Daemon management commands",
	Long:  `Commands for controlling the txfs history daemon.`,
}

var daemonStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the daemon",
	Long:  `Starts the txfs daemon in the background.`,
	Args:  cobra.NoArgs,
	RunE:  runDaemonStart,
}

var daemonStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the daemon",
	Long: `Stops the running txfs daemon.

History lives in daemon memory and is lost when the daemon stops.`,
	Args: cobra.NoArgs,
	RunE: runDaemonStop,
}

var daemonStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon status",
	Args:  cobra.NoArgs,
	RunE:  runDaemonStatus,
}

var daemonConfigCmd = &cobra.Command{
	Use:   "config",
	Short: "Configure daemon settings",
	Long: `Configure persistent daemon settings.

Settings are stored in ~/.txfs/settings.yaml and take effect on next daemon start.

Examples:
  # Enable debug logging
  txfs daemon config --logging debug

  # Keep backups for two days
  txfs daemon config --backup-max-age 48h

  # Show current configuration
  txfs daemon config`,
	Args: cobra.NoArgs,
	RunE: runDaemonConfig,
}

var daemonForeground bool
var daemonLogLevel string
var daemonRestart bool
var configLogLevel string
var configCapacity int
var configBackupDir string
var configMaxAge string
var configInterval string

func init() {
	daemonStartCmd.Flags().BoolVarP(&daemonForeground, "foreground", "f", false, "Run in foreground")
	daemonStartCmd.Flags().StringVar(&daemonLogLevel, "logging", "", "Log level override for this run")
	daemonStartCmd.Flags().MarkHidden("logging")
	daemonStartCmd.Flags().BoolVar(&daemonRestart, "restart", false, "Restart daemon if already running (no confirmation)")
	daemonConfigCmd.Flags().StringVar(&configLogLevel, "logging", "", "Log level: trace, debug, info, warn, none")
	daemonConfigCmd.Flags().IntVar(&configCapacity, "history-capacity", 0, "Entries kept per undo/redo stack")
	daemonConfigCmd.Flags().StringVar(&configBackupDir, "backup-dir", "", "Backup root directory")
	daemonConfigCmd.Flags().StringVar(&configMaxAge, "backup-max-age", "", "Age after which backups are swept, e.g. 168h")
	daemonConfigCmd.Flags().StringVar(&configInterval, "sweep-interval", "", "Time between background sweeps, e.g. 1h")
	daemonCmd.AddCommand(daemonStartCmd)
	daemonCmd.AddCommand(daemonStopCmd)
	daemonCmd.AddCommand(daemonStatusCmd)
	daemonCmd.AddCommand(daemonConfigCmd)
	rootCmd.AddCommand(daemonCmd)
}

func runDaemonStart(cmd *cobra.Command, args []string) error {
	if daemon.IsDaemonRunning() {
		pid, _ := daemon.GetPID()

		if !daemonRestart {
			fmt.Printf("Daemon already running (PID %d)\n", pid)
			fmt.Println("Use --restart to restart the daemon")
			return nil
		}
		fmt.Printf("Daemon already running (PID %d), restarting...\n", pid)
		if err := stopDaemonAndWait(); err != nil {
			return fmt.Errorf("failed to stop daemon for restart: %w", err)
		}
	}

	if daemonForeground {
		d := daemon.New()
		d.LogLevel = daemonLogLevel
		return d.Run()
	}

	exe, err := util.GetExecutablePath()
	if err != nil {
		return err
	}
	cmdArgs := []string{"daemon", "start", "--foreground"}
	if daemonLogLevel != "" {
		cmdArgs = append(cmdArgs, "--logging", daemonLogLevel)
	}
	if _, err := util.StartBackgroundProcess(exe, cmdArgs, nil); err != nil {
		return fmt.Errorf("failed to start daemon: %w", err)
	}

	if err := util.PollUntil(context.Background(), util.StartupPollConfig(), daemon.IsDaemonRunning); err == nil {
		pid, _ := daemon.GetPID()
		fmt.Printf("Daemon started (PID %d)\n", pid)
		return nil
	}

	return fmt.Errorf("daemon did not start")
}

func runDaemonStop(cmd *cobra.Command, args []string) error {
	if !daemon.IsDaemonRunning() {
		fmt.Println("Daemon not running")
		// Still clean up stale artifacts
		if result := daemon.CleanupStaleFiles(); result.CleanedPidFile || result.CleanedSocket {
			fmt.Print(daemon.FormatCleanupResult(result))
		}
		return nil
	}

	if err := stopDaemonAndWait(); err != nil {
		return err
	}

	fmt.Println("Daemon stopped")
	return nil
}

// stopDaemonAndWait asks the daemon to stop and kills it if it does not
// exit in time.
func stopDaemonAndWait() error {
	pid, err := daemon.GetPID()
	if err != nil {
		return fmt.Errorf("daemon pid unknown: %w", err)
	}

	graceful := func() error {
		client, err := daemon.Connect()
		if err != nil {
			return err
		}
		defer client.Close()
		resp, err := client.Stop()
		if err != nil {
			return err
		}
		return responseError(resp)
	}

	err = util.StopProcess(context.Background(), pid, util.ProcessConfig{}, graceful, func() bool {
		return daemon.IsDaemonRunning() || util.IsProcessRunning(pid)
	})
	daemon.CleanupStaleFiles()
	if err != nil {
		return fmt.Errorf("failed to stop daemon (PID %d): %w", pid, err)
	}
	return nil
}

func runDaemonStatus(cmd *cobra.Command, args []string) error {
	settings, err := daemon.LoadGlobalSettings()
	if err != nil {
		return fmt.Errorf("failed to load settings: %w", err)
	}

	if !daemon.IsDaemonRunning() {
		fmt.Println("Daemon: not running")
		printSettings(settings)
		return nil
	}

	resp, err := withDaemon((*daemon.Client).Status)
	if err != nil {
		return fmt.Errorf("status request failed: %w", err)
	}
	if err := responseError(resp); err != nil {
		return err
	}

	fmt.Printf("Daemon: running (PID %d)\n", resp.PID)
	if resp.History != nil {
		fmt.Printf("Undo entries: %d\n", len(resp.History.Undo))
		fmt.Printf("Redo entries: %d\n", len(resp.History.Redo))
	}
	if resp.BackupRoot != "" {
		fmt.Printf("Backup root: %s\n", resp.BackupRoot)
	}
	printSettings(settings)
	return nil
}

func printSettings(settings *daemon.GlobalSettings) {
	logLevel := settings.LogLevel
	if logLevel == "" {
		logLevel = "none"
	}
	fmt.Printf("Log level: %s\n", logLevel)
	fmt.Printf("History capacity: %d\n", settings.HistoryCapacity)
	fmt.Printf("Backup max age: %s\n", settings.BackupMaxAge)
	fmt.Printf("Sweep interval: %s\n", settings.SweepInterval)
}

func runDaemonConfig(cmd *cobra.Command, args []string) error {
	settings, err := daemon.LoadGlobalSettings()
	if err != nil {
		return fmt.Errorf("failed to load settings: %w", err)
	}

	flags := cmd.Flags()
	if flags.NFlag() == 0 {
		fmt.Println("Current daemon configuration:")
		printSettings(settings)
		fmt.Printf("Backup root: %s\n", settings.BackupRoot())
		return nil
	}

	if flags.Changed("logging") {
		level, err := normalizeLogLevel(configLogLevel)
		if err != nil {
			return err
		}
		settings.LogLevel = level
	}
	if flags.Changed("history-capacity") {
		if configCapacity <= 0 {
			return fmt.Errorf("invalid --history-capacity %d: must be positive", configCapacity)
		}
		settings.HistoryCapacity = configCapacity
	}
	if flags.Changed("backup-dir") {
		settings.BackupDir = configBackupDir
	}
	if flags.Changed("backup-max-age") {
		settings.BackupMaxAge = configMaxAge
		if _, err := settings.MaxAge(); err != nil {
			return err
		}
	}
	if flags.Changed("sweep-interval") {
		settings.SweepInterval = configInterval
		if _, err := settings.Interval(); err != nil {
			return err
		}
	}

	if err := daemon.SaveGlobalSettings(settings); err != nil {
		return fmt.Errorf("failed to save settings: %w", err)
	}
	fmt.Println("Settings saved")
	if daemon.IsDaemonRunning() {
		fmt.Println("Restart the daemon for the new settings to take effect:")
		fmt.Println("  txfs daemon start --restart")
	}
	return nil
}

func normalizeLogLevel(value string) (string, error) {
	level := strings.ToLower(value)
	switch level {
	case "off", "none":
		return "", nil
	case "trace", "debug", "info", "warn":
		return level, nil
	}
	return "", fmt.Errorf("invalid log level %q: must be one of trace, debug, info, warn, none", value)
}
