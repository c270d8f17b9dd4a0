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

// Package backup manages the private directory that holds soft-deleted
// and not-yet-materialized payloads.
package backup

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/gofrs/flock"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"txfs/internal/common"
	"txfs/internal/util"
)

const sweepLockName = ".sweep.lock"

// EnvBackupDir overrides the default backup root.
const EnvBackupDir = "TXFS_BACKUP_DIR"

// DefaultRoot returns $TXFS_BACKUP_DIR, else $XDG_DATA_HOME/txfs/backups.
func DefaultRoot() string {
	if dir := os.Getenv(EnvBackupDir); dir != "" {
		return dir
	}
	return filepath.Join(xdg.DataHome, "txfs", "backups")
}

// Store hands out backup paths below one root. Each path lives in its own
// container directory named <unix-nanos>-<uuid>, so the container name
// alone gives its age and keeps paths unique.
type Store struct {
	root string
}

// NewStore opens the store at root, creating it if needed.
func NewStore(root string) (*Store, error) {
	clean, err := common.CleanAbs(root)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(clean, 0700); err != nil {
		return nil, fmt.Errorf("failed to create backup root: %w", err)
	}
	return &Store{root: clean}, nil
}

// Root returns the store directory
func (s *Store) Root() string {
	return s.root
}

// NewPath creates a fresh container and returns a path inside it named
// after original. Nothing exists at the returned path yet.
func (s *Store) NewPath(original string) (string, error) {
	name := common.BaseName(original)
	if name == "." || name == string(filepath.Separator) || name == "" {
		name = "entry"
	}
	container := filepath.Join(s.root, fmt.Sprintf("%d-%s", time.Now().UnixNano(), uuid.NewString()))
	if err := os.Mkdir(container, 0700); err != nil {
		return "", common.Wrap("backup", container, err)
	}
	log.Debugf("[Backup] new container %s for %s", filepath.Base(container), original)
	return filepath.Join(container, name), nil
}

// Owns reports whether path is inside one of the store's containers.
func (s *Store) Owns(path string) bool {
	rel, err := filepath.Rel(s.root, filepath.Clean(path))
	if err != nil {
		return false
	}
	first, _, _ := strings.Cut(rel, string(filepath.Separator))
	_, ok := parseContainer(first)
	return ok
}

// SweepResult summarizes one sweep.
type SweepResult struct {
	Removed int
	Kept    int
	Errors  []error
}

// Err joins the per-container failures.
func (r SweepResult) Err() error {
	return errors.Join(r.Errors...)
}

// Sweep removes containers older than maxAge. Entries that are not
// containers are left alone. Concurrent sweeps, also from other
// processes, are serialized by a lock file in the root.
func (s *Store) Sweep(ctx context.Context, maxAge time.Duration) (SweepResult, error) {
	var res SweepResult

	lock := flock.New(filepath.Join(s.root, sweepLockName))
	locked, err := lock.TryLockContext(ctx, 50*time.Millisecond)
	if err != nil {
		return res, fmt.Errorf("failed to acquire sweep lock: %w", err)
	}
	if !locked {
		return res, fmt.Errorf("sweep lock held by another process")
	}
	defer lock.Unlock()

	entries, err := os.ReadDir(s.root)
	if err != nil {
		return res, fmt.Errorf("failed to read backup root: %w", err)
	}

	cutoff := time.Now().Add(-maxAge)
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		created, ok := parseContainer(entry.Name())
		if !ok || !entry.IsDir() {
			continue
		}
		if created.After(cutoff) {
			res.Kept++
			continue
		}
		path := filepath.Join(s.root, entry.Name())
		err := util.Retry(ctx, func() error {
			return os.RemoveAll(path)
		}, util.TransientRetryOptions(ctx)...)
		if err != nil {
			log.Warnf("[Backup] failed to remove %s: %v", path, err)
			res.Errors = append(res.Errors, fmt.Errorf("remove %s: %w", path, err))
			continue
		}
		res.Removed++
	}

	if res.Removed > 0 || len(res.Errors) > 0 {
		log.Infof("[Backup] sweep removed %d, kept %d, failed %d", res.Removed, res.Kept, len(res.Errors))
	}
	return res, nil
}

// parseContainer returns the creation time encoded in a container name.
func parseContainer(name string) (time.Time, bool) {
	stamp, id, ok := strings.Cut(name, "-")
	if !ok {
		return time.Time{}, false
	}
	nanos, err := strconv.ParseInt(stamp, 10, 64)
	if err != nil || nanos <= 0 {
		return time.Time{}, false
	}
	if _, err := uuid.Parse(id); err != nil {
		return time.Time{}, false
	}
	return time.Unix(0, nanos), true
}
