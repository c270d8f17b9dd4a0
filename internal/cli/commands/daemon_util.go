package commands

import (
	"context"
	"fmt"
	"path/filepath"

	"txfs/internal/daemon"
	"txfs/internal/util"
)

// StartDaemonIfNeeded starts the daemon in the background if not running.
// If notify is true, progress is printed to stderr.
func StartDaemonIfNeeded(notify bool) error {
	cfg := util.DefaultDaemonStartConfig("daemon", "start")
	if !notify {
		cfg.Out = nil
	}
	return util.StartDaemonIfNeeded(context.Background(), cfg, daemon.IsDaemonRunning)
}

// requireDaemon connects to the daemon, retrying while a freshly started
// daemon is still binding its socket.
func requireDaemon() (*daemon.Client, error) {
	client, err := util.RetryWithResult(context.Background(), daemon.Connect)
	if err != nil {
		return nil, fmt.Errorf("daemon is not running: %w", err)
	}
	return client, nil
}

// withDaemon runs one request on a fresh connection; the daemon answers a
// single request per connection.
func withDaemon[T any](fn func(*daemon.Client) (T, error)) (T, error) {
	client, err := requireDaemon()
	if err != nil {
		var zero T
		return zero, err
	}
	defer client.Close()
	return fn(client)
}

// absPaths resolves every argument against the working directory.
func absPaths(args []string) ([]string, error) {
	out := make([]string, 0, len(args))
	for _, arg := range args {
		p, err := filepath.Abs(arg)
		if err != nil {
			return nil, fmt.Errorf("invalid path %q: %w", arg, err)
		}
		out = append(out, p)
	}
	return out, nil
}

// responseError turns a failed response into an error.
func responseError(resp *daemon.Response) error {
	if resp.Success {
		return nil
	}
	if resp.ErrorKind != "" {
		return fmt.Errorf("%s [%s]", resp.Error, resp.ErrorKind)
	}
	return fmt.Errorf("%s", resp.Error)
}
