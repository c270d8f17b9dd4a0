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

//go:build !linux && !darwin

package nofollow

import (
	"io/fs"
	"os"
	"path/filepath"
	"runtime"

	"txfs/internal/common"
)

// emulatedFS checks every leading component via metadata and then issues
// the plain operation.
type emulatedFS struct{}

func newPlatform() Filesystem {
	return emulatedFS{}
}

func (emulatedFS) RenameNoReplace(src, dst string) error {
	if _, err := LstatRegular(src); err != nil {
		return err
	}
	if err := EnsureNoSymlinkAncestors(dst); err != nil {
		return err
	}
	if err := renameNoReplace(src, dst); err != nil {
		return common.Wrap("rename", src+" -> "+dst, err)
	}
	return nil
}

func (emulatedFS) DeleteRecursive(path string) error {
	info, err := LstatRegular(path)
	if err != nil {
		return err
	}
	if info.IsDir() {
		err := filepath.WalkDir(path, func(p string, d fs.DirEntry, walkErr error) error {
			if walkErr != nil {
				return common.Wrap("delete", p, walkErr)
			}
			if d.Type()&fs.ModeSymlink != 0 {
				return common.NewPathError("delete", p, common.ErrSymlink, nil)
			}
			return nil
		})
		if err != nil {
			return err
		}
	}
	if err := os.RemoveAll(path); err != nil {
		return common.Wrap("delete", path, err)
	}
	return nil
}

func (emulatedFS) SetOwner(path string, uid, gid int) error {
	if runtime.GOOS == "windows" {
		return common.NewPathError("chown", path, common.ErrUnsupported, nil)
	}
	if _, err := LstatRegular(path); err != nil {
		return err
	}
	if err := os.Lchown(path, uid, gid); err != nil {
		return common.Wrap("chown", path, err)
	}
	return nil
}

func (emulatedFS) SetMode(path string, mode fs.FileMode) error {
	if _, err := LstatRegular(path); err != nil {
		return err
	}
	if err := os.Chmod(path, mode); err != nil {
		return common.Wrap("chmod", path, err)
	}
	return nil
}

func (emulatedFS) Mkdir(path string, perm fs.FileMode) error {
	if err := EnsureNoSymlinkAncestors(path); err != nil {
		return err
	}
	if err := os.Mkdir(path, perm); err != nil {
		return common.Wrap("mkdir", path, err)
	}
	return nil
}

func (emulatedFS) Open(path string) (*os.File, error) {
	if _, err := LstatRegular(path); err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, common.Wrap("open", path, err)
	}
	return f, nil
}

func (emulatedFS) Create(path string, perm fs.FileMode) (*os.File, error) {
	if err := EnsureNoSymlinkAncestors(path); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, perm)
	if err != nil {
		return nil, common.Wrap("create", path, err)
	}
	return f, nil
}

func (emulatedFS) ReadDirNames(path string) ([]string, error) {
	if _, err := LstatRegular(path); err != nil {
		return nil, err
	}
	dir, err := os.Open(path)
	if err != nil {
		return nil, common.Wrap("readdir", path, err)
	}
	defer dir.Close()
	names, err := dir.Readdirnames(-1)
	if err != nil {
		return nil, common.Wrap("readdir", path, err)
	}
	return names, nil
}
