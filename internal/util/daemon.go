// Copyright 2024 TxFS Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package util

import (
	"context"
	"fmt"
	"io"
	"os"
)

// DaemonStartConfig configures daemon auto-start.
type DaemonStartConfig struct {
	Args       []string   // Subcommand that starts the daemon, e.g. daemon start
	Out        io.Writer  // Progress messages; nil stays quiet
	PollConfig PollConfig // How long to wait for the daemon to answer
}

// DefaultDaemonStartConfig reports progress on stderr and polls fast.
func DefaultDaemonStartConfig(args ...string) DaemonStartConfig {
	return DaemonStartConfig{
		Args:       args,
		Out:        os.Stderr,
		PollConfig: FastPollConfig(),
	}
}

// StartDaemonIfNeeded re-executes the current binary with cfg.Args in the
// background unless isRunning already reports true, then waits until it does.
func StartDaemonIfNeeded(ctx context.Context, cfg DaemonStartConfig, isRunning func() bool) error {
	if isRunning() {
		return nil
	}

	say := func(msg string) {
		if cfg.Out != nil {
			fmt.Fprint(cfg.Out, msg)
		}
	}

	say("Starting daemon...")
	exe, err := GetExecutablePath()
	if err != nil {
		say(" failed\n")
		return err
	}
	if _, err := StartBackgroundProcess(exe, cfg.Args, nil); err != nil {
		say(" failed\n")
		return err
	}

	if err := PollUntil(ctx, cfg.PollConfig, isRunning); err != nil {
		say(" timeout\n")
		return fmt.Errorf("daemon did not start in time: %w", err)
	}
	say(" done\n")
	return nil
}
