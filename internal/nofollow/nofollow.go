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

// Package nofollow provides filesystem primitives that never traverse a
// symbolic link at any path component.
//
// On linux and darwin every operation resolves its path by opening each
// leading component as a directory descriptor with O_NOFOLLOW and then acts
// relative to the final parent descriptor, so a concurrent swap of a
// component for a symlink cannot redirect it. Other platforms emulate the
// contract by checking metadata of every leading component first, which
// leaves a narrower but non-zero race window.
package nofollow

import (
	"io/fs"
	"os"
	"path/filepath"

	"txfs/internal/common"
)

// Filesystem is the capability set the engine depends on. One
// implementation per platform family is selected at build time.
type Filesystem interface {
	// RenameNoReplace atomically renames src to dst and fails with
	// common.ErrExists if dst exists. Platforms or filesystems without an
	// atomic no-replace rename fail with common.ErrUnsupported.
	RenameNoReplace(src, dst string) error
	// DeleteRecursive removes path and, for directories, everything below
	// it. It refuses before removing anything if any entry is a symlink.
	DeleteRecursive(path string) error
	SetOwner(path string, uid, gid int) error
	SetMode(path string, mode fs.FileMode) error

	// Mkdir creates a single directory, failing with common.ErrExists.
	Mkdir(path string, perm fs.FileMode) error
	// Open opens an existing regular file for reading.
	Open(path string) (*os.File, error)
	// Create exclusively creates a file for writing.
	Create(path string, perm fs.FileMode) (*os.File, error)
	ReadDirNames(path string) ([]string, error)
}

// New returns the implementation for the running platform.
func New() Filesystem {
	return newPlatform()
}

// EnsureNoSymlinkAncestors checks every leading component of path via
// metadata. The final component is not inspected.
func EnsureNoSymlinkAncestors(path string) error {
	clean, err := common.CleanAbs(path)
	if err != nil {
		return err
	}
	root, parts := common.SplitPath(clean)
	cur := root
	for i := 0; i+1 < len(parts); i++ {
		cur = filepath.Join(cur, parts[i])
		info, err := os.Lstat(cur)
		if err != nil {
			return common.Wrap("lstat", cur, err)
		}
		if info.Mode()&fs.ModeSymlink != 0 {
			return common.NewPathError("lstat", cur, common.ErrSymlink, nil)
		}
		if !info.IsDir() {
			return common.Errorf("lstat", cur, common.ErrNotFound, "not a directory")
		}
	}
	return nil
}

// Lstat returns metadata for path after checking its leading components.
// A final symlink is reported, not refused; callers decide.
func Lstat(path string) (fs.FileInfo, error) {
	if err := EnsureNoSymlinkAncestors(path); err != nil {
		return nil, err
	}
	info, err := os.Lstat(path)
	if err != nil {
		return nil, common.Wrap("lstat", path, err)
	}
	return info, nil
}

// LstatRegular is Lstat that refuses a final symlink.
func LstatRegular(path string) (fs.FileInfo, error) {
	info, err := Lstat(path)
	if err != nil {
		return nil, err
	}
	if info.Mode()&fs.ModeSymlink != 0 {
		return nil, common.NewPathError("lstat", path, common.ErrSymlink, nil)
	}
	return info, nil
}
