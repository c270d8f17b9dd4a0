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

//go:build linux || darwin

package nofollow

import (
	"io/fs"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"

	"txfs/internal/common"
)

const dirFlags = unix.O_RDONLY | unix.O_DIRECTORY | unix.O_NOFOLLOW | unix.O_CLOEXEC

type descriptorFS struct{}

func newPlatform() Filesystem {
	return descriptorFS{}
}

// parentHandle is an open descriptor for the directory that holds name.
type parentHandle struct {
	fd   int
	name string
	path string
}

func (h parentHandle) close() {
	unix.Close(h.fd)
}

// openParent walks every leading component of path with O_NOFOLLOW and
// returns the descriptor of the final parent directory.
func openParent(op, path string) (parentHandle, error) {
	clean, err := common.CleanAbs(path)
	if err != nil {
		return parentHandle{}, err
	}
	root, parts := common.SplitPath(clean)
	if len(parts) == 0 {
		return parentHandle{}, common.Errorf(op, path, common.ErrInvalidInput, "refusing to operate on the filesystem root")
	}

	fd, err := openRetry(func() (int, error) { return unix.Open(root, dirFlags, 0) })
	if err != nil {
		return parentHandle{}, common.Wrap(op, root, err)
	}
	walked := root
	for _, name := range parts[:len(parts)-1] {
		walked = filepath.Join(walked, name)
		next, err := openDirAt(fd, name)
		unix.Close(fd)
		if err != nil {
			return parentHandle{}, common.Wrap(op, walked, err)
		}
		fd = next
	}
	return parentHandle{fd: fd, name: parts[len(parts)-1], path: clean}, nil
}

func openRetry(open func() (int, error)) (int, error) {
	for {
		fd, err := open()
		if err == unix.EINTR {
			continue
		}
		return fd, err
	}
}

func openDirAt(dirfd int, name string) (int, error) {
	fd, err := openRetry(func() (int, error) { return unix.Openat(dirfd, name, dirFlags, 0) })
	if err != nil {
		return -1, symlinkOr(dirfd, name, err)
	}
	return fd, nil
}

// symlinkOr turns the errors O_NOFOLLOW produces on a symlink into
// common.ErrSymlink. ENOTDIR shows up when O_DIRECTORY is checked first.
func symlinkOr(dirfd int, name string, err error) error {
	if err != unix.ELOOP && err != unix.ENOTDIR && err != unix.EMLINK {
		return err
	}
	if isSymlinkAt(dirfd, name) {
		return common.ErrSymlink
	}
	return err
}

func lstatAt(dirfd int, name string) (unix.Stat_t, error) {
	var st unix.Stat_t
	err := unix.Fstatat(dirfd, name, &st, unix.AT_SYMLINK_NOFOLLOW)
	return st, err
}

func isSymlinkAt(dirfd int, name string) bool {
	st, err := lstatAt(dirfd, name)
	return err == nil && st.Mode&unix.S_IFMT == unix.S_IFLNK
}

// statTarget stats the final component and refuses a symlink.
func statTarget(op string, h parentHandle) (unix.Stat_t, error) {
	st, err := lstatAt(h.fd, h.name)
	if err != nil {
		return st, common.Wrap(op, h.path, err)
	}
	if st.Mode&unix.S_IFMT == unix.S_IFLNK {
		return st, common.NewPathError(op, h.path, common.ErrSymlink, nil)
	}
	return st, nil
}

func (descriptorFS) RenameNoReplace(src, dst string) error {
	sp, err := openParent("rename", src)
	if err != nil {
		return err
	}
	defer sp.close()
	dp, err := openParent("rename", dst)
	if err != nil {
		return err
	}
	defer dp.close()

	if _, err := statTarget("rename", sp); err != nil {
		return err
	}
	if err := renameNoReplaceAt(sp.fd, sp.name, dp.fd, dp.name); err != nil {
		return common.Wrap("rename", src+" -> "+dst, err)
	}
	return nil
}

func (descriptorFS) DeleteRecursive(path string) error {
	h, err := openParent("delete", path)
	if err != nil {
		return err
	}
	defer h.close()

	if err := checkTreeAt(h.fd, h.name, h.path); err != nil {
		return err
	}
	return removeAt(h.fd, h.name, h.path)
}

// checkTreeAt refuses the whole delete if any entry below name is a
// symlink, so a refused delete leaves the tree intact.
func checkTreeAt(dirfd int, name, display string) error {
	st, err := lstatAt(dirfd, name)
	if err != nil {
		return common.Wrap("delete", display, err)
	}
	switch st.Mode & unix.S_IFMT {
	case unix.S_IFLNK:
		return common.NewPathError("delete", display, common.ErrSymlink, nil)
	case unix.S_IFDIR:
		dir, names, err := readNamesAt(dirfd, name)
		if err != nil {
			return common.Wrap("delete", display, err)
		}
		defer dir.Close()
		for _, child := range names {
			if err := checkTreeAt(int(dir.Fd()), child, filepath.Join(display, child)); err != nil {
				return err
			}
		}
	}
	return nil
}

func removeAt(dirfd int, name, display string) error {
	st, err := lstatAt(dirfd, name)
	if err != nil {
		return common.Wrap("delete", display, err)
	}
	switch st.Mode & unix.S_IFMT {
	case unix.S_IFLNK:
		return common.NewPathError("delete", display, common.ErrSymlink, nil)
	case unix.S_IFDIR:
		dir, names, err := readNamesAt(dirfd, name)
		if err != nil {
			return common.Wrap("delete", display, err)
		}
		for _, child := range names {
			if err := removeAt(int(dir.Fd()), child, filepath.Join(display, child)); err != nil {
				dir.Close()
				return err
			}
		}
		dir.Close()
		if err := unix.Unlinkat(dirfd, name, unix.AT_REMOVEDIR); err != nil {
			return common.Wrap("rmdir", display, err)
		}
	default:
		if err := unix.Unlinkat(dirfd, name, 0); err != nil {
			return common.Wrap("unlink", display, err)
		}
	}
	return nil
}

// readNamesAt opens the directory name below dirfd without following a
// symlink. The returned file owns the descriptor.
func readNamesAt(dirfd int, name string) (*os.File, []string, error) {
	fd, err := openDirAt(dirfd, name)
	if err != nil {
		return nil, nil, err
	}
	dir := os.NewFile(uintptr(fd), name)
	names, err := dir.Readdirnames(-1)
	if err != nil {
		dir.Close()
		return nil, nil, err
	}
	return dir, names, nil
}

func (descriptorFS) SetOwner(path string, uid, gid int) error {
	h, err := openParent("chown", path)
	if err != nil {
		return err
	}
	defer h.close()

	if _, err := statTarget("chown", h); err != nil {
		return err
	}
	if err := unix.Fchownat(h.fd, h.name, uid, gid, unix.AT_SYMLINK_NOFOLLOW); err != nil {
		return common.Wrap("chown", h.path, err)
	}
	return nil
}

func (descriptorFS) SetMode(path string, mode fs.FileMode) error {
	h, err := openParent("chmod", path)
	if err != nil {
		return err
	}
	defer h.close()

	if _, err := statTarget("chmod", h); err != nil {
		return err
	}
	// linux fchmodat ignores AT_SYMLINK_NOFOLLOW; the target was just
	// checked relative to the same parent descriptor.
	if err := unix.Fchmodat(h.fd, h.name, ModeBits(mode), 0); err != nil {
		return common.Wrap("chmod", h.path, err)
	}
	return nil
}

func (descriptorFS) Mkdir(path string, perm fs.FileMode) error {
	h, err := openParent("mkdir", path)
	if err != nil {
		return err
	}
	defer h.close()

	if err := unix.Mkdirat(h.fd, h.name, ModeBits(perm)); err != nil {
		return common.Wrap("mkdir", h.path, err)
	}
	return nil
}

func (descriptorFS) Open(path string) (*os.File, error) {
	h, err := openParent("open", path)
	if err != nil {
		return nil, err
	}
	defer h.close()

	fd, err := openRetry(func() (int, error) {
		return unix.Openat(h.fd, h.name, unix.O_RDONLY|unix.O_NOFOLLOW|unix.O_CLOEXEC, 0)
	})
	if err != nil {
		return nil, common.Wrap("open", h.path, symlinkOr(h.fd, h.name, err))
	}
	return os.NewFile(uintptr(fd), h.path), nil
}

func (descriptorFS) Create(path string, perm fs.FileMode) (*os.File, error) {
	h, err := openParent("create", path)
	if err != nil {
		return nil, err
	}
	defer h.close()

	fd, err := openRetry(func() (int, error) {
		return unix.Openat(h.fd, h.name, unix.O_WRONLY|unix.O_CREAT|unix.O_EXCL|unix.O_NOFOLLOW|unix.O_CLOEXEC, ModeBits(perm))
	})
	if err != nil {
		return nil, common.Wrap("create", h.path, err)
	}
	return os.NewFile(uintptr(fd), h.path), nil
}

func (descriptorFS) ReadDirNames(path string) ([]string, error) {
	h, err := openParent("readdir", path)
	if err != nil {
		return nil, err
	}
	defer h.close()

	dir, names, err := readNamesAt(h.fd, h.name)
	if err != nil {
		return nil, common.Wrap("readdir", h.path, err)
	}
	dir.Close()
	return names, nil
}

// ModeBits converts an fs.FileMode into the st_mode permission bits,
// including setuid, setgid and sticky.
func ModeBits(mode fs.FileMode) uint32 {
	bits := uint32(mode.Perm())
	if mode&fs.ModeSetuid != 0 {
		bits |= unix.S_ISUID
	}
	if mode&fs.ModeSetgid != 0 {
		bits |= unix.S_ISGID
	}
	if mode&fs.ModeSticky != 0 {
		bits |= unix.S_ISVTX
	}
	return bits
}
