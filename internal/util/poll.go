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
	"time"
)

// PollConfig bounds a wait on a condition such as the daemon answering
// on its socket or a stopped daemon releasing its PID.
type PollConfig struct {
	Timeout  time.Duration // Zero means DefaultPollConfig().Timeout
	Interval time.Duration // Zero means DefaultPollConfig().Interval
}

// DefaultPollConfig waits 5s, checking every 50ms.
func DefaultPollConfig() PollConfig {
	return PollConfig{Timeout: 5 * time.Second, Interval: 50 * time.Millisecond}
}

// FastPollConfig checks every 25ms, for waits a user sits through.
func FastPollConfig() PollConfig {
	return PollConfig{Timeout: 5 * time.Second, Interval: 25 * time.Millisecond}
}

// StartupPollConfig allows a daemon 10s to sweep stale backups and bind
// its socket.
func StartupPollConfig() PollConfig {
	return PollConfig{Timeout: 10 * time.Second, Interval: 25 * time.Millisecond}
}

func (c PollConfig) withDefaults() PollConfig {
	def := DefaultPollConfig()
	if c.Timeout <= 0 {
		c.Timeout = def.Timeout
	}
	if c.Interval <= 0 {
		c.Interval = def.Interval
	}
	return c
}

// PollUntil checks condition immediately and then every interval until it
// holds. It returns ctx's error, context.DeadlineExceeded after the
// timeout.
func PollUntil(ctx context.Context, cfg PollConfig, condition func() bool) error {
	cfg = cfg.withDefaults()
	ctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()
	for !condition() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}
