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

//go:build unix

package fsops

import (
	"os"
	"path/filepath"
	"runtime"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"txfs/internal/common"
	"txfs/internal/nofollow"
)

func tempDir(t *testing.T) string {
	t.Helper()
	dir, err := filepath.EvalSymlinks(t.TempDir())
	require.NoError(t, err)
	return dir
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

// crossDeviceFS forces every rename down the copy fallback.
type crossDeviceFS struct {
	nofollow.Filesystem
}

func (crossDeviceFS) RenameNoReplace(src, dst string) error {
	return common.NewPathError("rename", src, common.ErrCrossDevice, syscall.EXDEV)
}

// stuckSourceFS refuses deleting one path.
type stuckSourceFS struct {
	crossDeviceFS
	stuck string
}

func (s stuckSourceFS) DeleteRecursive(path string) error {
	if path == s.stuck {
		return common.NewPathError("unlink", path, common.ErrPermission, syscall.EACCES)
	}
	return s.crossDeviceFS.DeleteRecursive(path)
}

// halfDeleteFS removes one entry of a tree, then fails the delete.
type halfDeleteFS struct {
	crossDeviceFS
	victim string
}

func (h halfDeleteFS) DeleteRecursive(path string) error {
	if path == filepath.Dir(h.victim) {
		if err := os.Remove(h.victim); err != nil {
			return err
		}
		return common.NewPathError("unlink", path, common.ErrPermission, syscall.EACCES)
	}
	return h.crossDeviceFS.DeleteRecursive(path)
}

func TestMoveWithFallback(t *testing.T) {
	t.Parallel()

	t.Run("atomic rename", func(t *testing.T) {
		t.Parallel()
		dir := tempDir(t)
		src := filepath.Join(dir, "a.txt")
		dst := filepath.Join(dir, "b.txt")
		writeFile(t, src, "data")

		require.NoError(t, New(nofollow.New()).MoveWithFallback(src, dst))
		assert.NoFileExists(t, src)
		assert.Equal(t, "data", readFile(t, dst))
	})

	t.Run("refuses existing destination", func(t *testing.T) {
		t.Parallel()
		dir := tempDir(t)
		src := filepath.Join(dir, "a.txt")
		dst := filepath.Join(dir, "b.txt")
		writeFile(t, src, "a")
		writeFile(t, dst, "b")

		err := New(nofollow.New()).MoveWithFallback(src, dst)
		assert.ErrorIs(t, err, common.ErrExists)
		assert.Equal(t, "a", readFile(t, src))
		assert.Equal(t, "b", readFile(t, dst))
	})

	t.Run("refuses symlink source", func(t *testing.T) {
		t.Parallel()
		dir := tempDir(t)
		writeFile(t, filepath.Join(dir, "target"), "x")
		link := filepath.Join(dir, "link")
		require.NoError(t, os.Symlink(filepath.Join(dir, "target"), link))

		err := New(nofollow.New()).MoveWithFallback(link, filepath.Join(dir, "moved"))
		assert.ErrorIs(t, err, common.ErrSymlink)
		assert.NoFileExists(t, filepath.Join(dir, "moved"))
	})

	t.Run("refuses destination inside source", func(t *testing.T) {
		t.Parallel()
		dir := tempDir(t)
		src := filepath.Join(dir, "tree")
		writeFile(t, filepath.Join(src, "f"), "x")

		err := New(crossDeviceFS{nofollow.New()}).MoveWithFallback(src, filepath.Join(src, "sub"))
		assert.ErrorIs(t, err, common.ErrInvalidInput)
		assert.Equal(t, "x", readFile(t, filepath.Join(src, "f")))
	})

	t.Run("copies across devices", func(t *testing.T) {
		t.Parallel()
		dir := tempDir(t)
		src := filepath.Join(dir, "tree")
		writeFile(t, filepath.Join(src, "top.txt"), "top")
		writeFile(t, filepath.Join(src, "nested", "deep.txt"), "deep")
		require.NoError(t, os.Chmod(filepath.Join(src, "top.txt"), 0600))
		dst := filepath.Join(dir, "moved")

		require.NoError(t, New(crossDeviceFS{nofollow.New()}).MoveWithFallback(src, dst))
		assert.NoDirExists(t, src)
		assert.Equal(t, "top", readFile(t, filepath.Join(dst, "top.txt")))
		assert.Equal(t, "deep", readFile(t, filepath.Join(dst, "nested", "deep.txt")))

		info, err := os.Stat(filepath.Join(dst, "top.txt"))
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
	})

	t.Run("file kept when source cannot be deleted", func(t *testing.T) {
		t.Parallel()
		dir := tempDir(t)
		src := filepath.Join(dir, "a.txt")
		dst := filepath.Join(dir, "b.txt")
		writeFile(t, src, "a")

		ops := New(stuckSourceFS{crossDeviceFS{nofollow.New()}, src})
		err := ops.MoveWithFallback(src, dst)
		assert.ErrorIs(t, err, common.ErrPermission)
		assert.Contains(t, err.Error(), "source not deleted")
		assert.Equal(t, "a", readFile(t, src))
		assert.NoFileExists(t, dst)
	})

	t.Run("directory copy removed when source is untouched", func(t *testing.T) {
		t.Parallel()
		dir := tempDir(t)
		src := filepath.Join(dir, "tree")
		dst := filepath.Join(dir, "moved")
		writeFile(t, filepath.Join(src, "f"), "x")
		writeFile(t, filepath.Join(src, "sub", "g"), "y")

		ops := New(stuckSourceFS{crossDeviceFS{nofollow.New()}, src})
		err := ops.MoveWithFallback(src, dst)
		assert.ErrorIs(t, err, common.ErrPermission)
		assert.Contains(t, err.Error(), "copy removed")
		assert.Equal(t, "x", readFile(t, filepath.Join(src, "f")))
		assert.Equal(t, "y", readFile(t, filepath.Join(src, "sub", "g")))
		assert.NoDirExists(t, dst)
	})

	t.Run("directory copy kept when source is partly deleted", func(t *testing.T) {
		t.Parallel()
		dir := tempDir(t)
		src := filepath.Join(dir, "tree")
		dst := filepath.Join(dir, "moved")
		writeFile(t, filepath.Join(src, "f"), "x")
		writeFile(t, filepath.Join(src, "g"), "y")

		ops := New(halfDeleteFS{crossDeviceFS{nofollow.New()}, filepath.Join(src, "f")})
		err := ops.MoveWithFallback(src, dst)
		assert.ErrorIs(t, err, common.ErrPermission)
		assert.Contains(t, err.Error(), src)
		assert.Contains(t, err.Error(), dst)
		assert.NoFileExists(t, filepath.Join(src, "f"))
		assert.Equal(t, "x", readFile(t, filepath.Join(dst, "f")))
		assert.Equal(t, "y", readFile(t, filepath.Join(dst, "g")))
	})
}

func TestCopyEntry(t *testing.T) {
	t.Parallel()
	ops := New(nofollow.New())

	t.Run("copies file", func(t *testing.T) {
		t.Parallel()
		dir := tempDir(t)
		src := filepath.Join(dir, "a")
		dst := filepath.Join(dir, "b")
		writeFile(t, src, "payload")

		require.NoError(t, ops.CopyEntry(src, dst))
		assert.Equal(t, "payload", readFile(t, src))
		assert.Equal(t, "payload", readFile(t, dst))
	})

	t.Run("refuses existing destination", func(t *testing.T) {
		t.Parallel()
		dir := tempDir(t)
		src := filepath.Join(dir, "a")
		dst := filepath.Join(dir, "b")
		writeFile(t, src, "a")
		writeFile(t, dst, "b")

		assert.ErrorIs(t, ops.CopyEntry(src, dst), common.ErrExists)
		assert.Equal(t, "b", readFile(t, dst))
	})

	t.Run("symlink inside tree aborts and cleans up", func(t *testing.T) {
		t.Parallel()
		dir := tempDir(t)
		src := filepath.Join(dir, "tree")
		writeFile(t, filepath.Join(src, "a"), "a")
		require.NoError(t, os.Symlink("/etc/passwd", filepath.Join(src, "z-link")))
		dst := filepath.Join(dir, "copy")

		err := ops.CopyEntry(src, dst)
		assert.ErrorIs(t, err, common.ErrSymlink)
		assert.NoDirExists(t, dst)
	})

	t.Run("special file unsupported", func(t *testing.T) {
		t.Parallel()
		dir := tempDir(t)
		fifo := filepath.Join(dir, "fifo")
		if err := syscall.Mkfifo(fifo, 0644); err != nil {
			t.Skipf("mkfifo: %v", err)
		}
		err := ops.CopyEntry(fifo, filepath.Join(dir, "copy"))
		assert.ErrorIs(t, err, common.ErrUnsupported)
		assert.NoFileExists(t, filepath.Join(dir, "copy"))
	})
}

func TestCreateAndRemove(t *testing.T) {
	t.Parallel()
	ops := New(nofollow.New())
	dir := tempDir(t)
	path := filepath.Join(dir, "folder")

	require.NoError(t, ops.CreateDir(path))
	assert.DirExists(t, path)
	assert.ErrorIs(t, ops.CreateDir(path), common.ErrExists)

	require.NoError(t, ops.Remove(path))
	assert.NoDirExists(t, path)
	assert.ErrorIs(t, ops.Remove(path), common.ErrNotFound)
	assert.NoError(t, ops.RemoveIfExists(path))
}

func TestSetHidden(t *testing.T) {
	dir := tempDir(t)
	file := filepath.Join(dir, "f")
	writeFile(t, file, "x")
	ops := New(nofollow.New())

	if runtime.GOOS != "darwin" {
		assert.ErrorIs(t, ops.SetHidden(file, true), common.ErrUnsupported)
		return
	}

	require.NoError(t, ops.SetHidden(file, true))
	require.NoError(t, ops.SetHidden(file, true))
	require.NoError(t, ops.SetHidden(file, false))

	link := filepath.Join(dir, "link")
	require.NoError(t, os.Symlink(file, link))
	assert.ErrorIs(t, ops.SetHidden(link, true), common.ErrSymlink)
}
