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

// Package billyfs exposes a directory as a billy.Filesystem whose
// structural mutations go through the undo history.
package billyfs

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"

	"txfs/internal/action"
	"txfs/internal/backup"
	"txfs/internal/common"
	"txfs/internal/history"
	"txfs/internal/nofollow"
	"txfs/internal/security"
)

// HistoryAdapter adapts a directory tree to the Billy filesystem interface.
// Reads and file writes go straight to osfs. Rename, Remove and MkdirAll
// become Actions applied through the history manager, so they can be
// undone like any other engine operation.
type HistoryAdapter struct {
	billy.Filesystem
	history *history.Manager
	store   *backup.Store
}

var (
	_ billy.Filesystem = (*HistoryAdapter)(nil)
	_ billy.Change     = (*HistoryAdapter)(nil)
)

// NewHistoryAdapter creates a Billy adapter rooted at root.
func NewHistoryAdapter(root string, m *history.Manager, store *backup.Store) (*HistoryAdapter, error) {
	clean, err := common.CleanAbs(root)
	if err != nil {
		return nil, err
	}
	return &HistoryAdapter{
		Filesystem: osfs.New(clean),
		history:    m,
		store:      store,
	}, nil
}

// abs maps a Billy path onto the host path below the root.
func (b *HistoryAdapter) abs(name string) string {
	return filepath.Join(b.Root(), filepath.FromSlash(filepath.Join("/", name)))
}

func (b *HistoryAdapter) Rename(oldpath, newpath string) error {
	return b.history.Apply(action.NewRename(b.abs(oldpath), b.abs(newpath)))
}

// Remove soft-deletes name into the backup store. Unlike os.Remove it
// also accepts a non-empty directory, since the whole tree stays
// restorable.
func (b *HistoryAdapter) Remove(filename string) error {
	path := b.abs(filename)
	if _, err := os.Lstat(path); err != nil {
		return common.Wrap("remove", path, err)
	}
	backupPath, err := b.store.NewPath(path)
	if err != nil {
		return err
	}
	return b.history.Apply(action.NewDelete(path, backupPath))
}

// MkdirAll creates every missing directory of filename as one undoable
// batch. perm is ignored; directories are created with fsops.DirPerm.
func (b *HistoryAdapter) MkdirAll(filename string, perm os.FileMode) error {
	missing, err := b.PlanMkdirAll(filename)
	if err != nil {
		return err
	}
	switch len(missing) {
	case 0:
		return nil
	case 1:
		return b.history.Apply(missing[0])
	}
	return b.history.Apply(action.NewBatch(missing...))
}

// PlanMkdirAll returns the CreateFolder steps MkdirAll would apply,
// outermost first. A non-directory on the way is ErrExists.
func (b *HistoryAdapter) PlanMkdirAll(filename string) ([]action.Action, error) {
	var missing []action.Action
	path := b.abs(filename)
	for p := path; p != b.Root() && p != filepath.Dir(p); p = filepath.Dir(p) {
		info, err := os.Lstat(p)
		if err == nil {
			if !info.IsDir() {
				return nil, common.NewPathError("mkdir", p, common.ErrExists, nil)
			}
			break
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, common.Wrap("mkdir", p, err)
		}
		missing = append([]action.Action{action.NewCreateFolder(p)}, missing...)
	}
	return missing, nil
}

// Symlink is refused: the engine never creates or follows symlinks.
func (b *HistoryAdapter) Symlink(target, link string) error {
	return common.NewPathError("symlink", b.abs(link), common.ErrSymlink, nil)
}

func (b *HistoryAdapter) Chroot(path string) (billy.Filesystem, error) {
	return NewHistoryAdapter(b.abs(path), b.history, b.store)
}

// billy.Change interface. Permission updates go through the no-follow
// security layer and are not recorded in history.
func (b *HistoryAdapter) Chmod(name string, mode os.FileMode) error {
	path := b.abs(name)
	before, err := security.CapturePermissions(path)
	if err != nil {
		return err
	}
	return security.ApplyPermissions(path, before.WithMode(mode))
}

func (b *HistoryAdapter) Lchown(name string, uid, gid int) error {
	return security.ApplyOwnership(b.abs(name), security.Ownership{UID: uid, GID: gid})
}

func (b *HistoryAdapter) Chown(name string, uid, gid int) error {
	return b.Lchown(name, uid, gid)
}

func (b *HistoryAdapter) Chtimes(name string, atime, mtime time.Time) error {
	path := b.abs(name)
	if _, err := nofollow.LstatRegular(path); err != nil {
		return err
	}
	return common.Wrap("chtimes", path, os.Chtimes(path, atime, mtime))
}
