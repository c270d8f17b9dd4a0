package daemon

import (
	"fmt"
	"os"
	"strings"

	"txfs/internal/util"
)

// CleanupResult contains the result of a startup cleanup
type CleanupResult struct {
	CleanedPidFile bool    // Whether PID file was cleaned
	CleanedSocket  bool    // Whether socket file was cleaned
	Errors         []error // Any errors encountered
}

// CleanupStaleFiles removes the PID and socket files a crashed daemon left
// behind. It does nothing while a daemon answers on the socket.
func CleanupStaleFiles() *CleanupResult {
	result := &CleanupResult{}
	if IsDaemonRunning() {
		return result
	}

	cleaned, err := cleanupStalePidFile()
	if err != nil {
		result.Errors = append(result.Errors, err)
	}
	result.CleanedPidFile = cleaned

	cleaned, err = cleanupStaleSocket()
	if err != nil {
		result.Errors = append(result.Errors, err)
	}
	result.CleanedSocket = cleaned
	return result
}

// cleanupStalePidFile removes the PID file if its process is gone
func cleanupStalePidFile() (bool, error) {
	pid, err := GetPID()
	if err != nil {
		if _, statErr := os.Stat(PidPath()); os.IsNotExist(statErr) {
			return false, nil
		}
		// Unreadable or garbage PID file
	} else if pid == os.Getpid() || util.IsProcessRunning(pid) {
		return false, nil
	}
	if err := os.Remove(PidPath()); err != nil && !os.IsNotExist(err) {
		return false, fmt.Errorf("failed to remove stale PID file: %w", err)
	}
	return true, nil
}

// cleanupStaleSocket removes the socket file if nobody listens on it
func cleanupStaleSocket() (bool, error) {
	if _, err := os.Lstat(SocketPath()); os.IsNotExist(err) {
		return false, nil
	}
	if IsDaemonRunning() {
		return false, nil
	}
	if err := os.Remove(SocketPath()); err != nil && !os.IsNotExist(err) {
		return false, fmt.Errorf("failed to remove stale socket: %w", err)
	}
	return true, nil
}

// FormatCleanupResult formats a cleanup result for display
func FormatCleanupResult(result *CleanupResult) string {
	var parts []string

	if result.CleanedPidFile {
		parts = append(parts, "Cleaned up stale PID file")
	}

	if result.CleanedSocket {
		parts = append(parts, "Cleaned up stale socket file")
	}

	if len(result.Errors) > 0 {
		parts = append(parts, fmt.Sprintf("Encountered %d error(s):", len(result.Errors)))
		for _, e := range result.Errors {
			parts = append(parts, fmt.Sprintf("  - %s", e.Error()))
		}
	}

	if len(parts) == 0 {
		return "No cleanup needed"
	}

	return strings.Join(parts, "\n")
}
