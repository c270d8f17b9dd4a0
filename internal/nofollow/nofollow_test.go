//go:build unix

package nofollow

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"txfs/internal/common"
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

func TestRenameNoReplace(t *testing.T) {
	t.Parallel()
	nf := New()

	t.Run("renames into free destination", func(t *testing.T) {
		t.Parallel()
		dir := tempDir(t)
		src := filepath.Join(dir, "a")
		dst := filepath.Join(dir, "b")
		writeFile(t, src, "hello")

		err := nf.RenameNoReplace(src, dst)
		if errors.Is(err, common.ErrUnsupported) {
			t.Skip("filesystem has no atomic no-replace rename")
		}
		require.NoError(t, err)
		assert.NoFileExists(t, src)
		data, err := os.ReadFile(dst)
		require.NoError(t, err)
		assert.Equal(t, "hello", string(data))
	})

	t.Run("refuses existing destination", func(t *testing.T) {
		t.Parallel()
		dir := tempDir(t)
		src := filepath.Join(dir, "a")
		dst := filepath.Join(dir, "b")
		writeFile(t, src, "src")
		writeFile(t, dst, "dst")

		err := nf.RenameNoReplace(src, dst)
		if errors.Is(err, common.ErrUnsupported) {
			t.Skip("filesystem has no atomic no-replace rename")
		}
		assert.ErrorIs(t, err, common.ErrExists)

		data, _ := os.ReadFile(dst)
		assert.Equal(t, "dst", string(data))
		assert.FileExists(t, src)
	})

	t.Run("refuses symlink in a leading component", func(t *testing.T) {
		t.Parallel()
		dir := tempDir(t)
		real := filepath.Join(dir, "real")
		writeFile(t, filepath.Join(real, "a"), "x")
		require.NoError(t, os.Symlink(real, filepath.Join(dir, "link")))

		err := nf.RenameNoReplace(filepath.Join(dir, "link", "a"), filepath.Join(dir, "b"))
		assert.ErrorIs(t, err, common.ErrSymlink)
		assert.FileExists(t, filepath.Join(real, "a"))
	})

	t.Run("refuses symlink source", func(t *testing.T) {
		t.Parallel()
		dir := tempDir(t)
		writeFile(t, filepath.Join(dir, "target"), "x")
		require.NoError(t, os.Symlink(filepath.Join(dir, "target"), filepath.Join(dir, "link")))

		err := nf.RenameNoReplace(filepath.Join(dir, "link"), filepath.Join(dir, "b"))
		assert.ErrorIs(t, err, common.ErrSymlink)
	})

	t.Run("missing source", func(t *testing.T) {
		t.Parallel()
		dir := tempDir(t)
		err := nf.RenameNoReplace(filepath.Join(dir, "nope"), filepath.Join(dir, "b"))
		assert.ErrorIs(t, err, common.ErrNotFound)
	})
}

func TestDeleteRecursive(t *testing.T) {
	t.Parallel()
	nf := New()

	t.Run("removes a tree", func(t *testing.T) {
		t.Parallel()
		dir := tempDir(t)
		root := filepath.Join(dir, "tree")
		writeFile(t, filepath.Join(root, "a.txt"), "a")
		writeFile(t, filepath.Join(root, "sub", "b.txt"), "b")
		require.NoError(t, os.MkdirAll(filepath.Join(root, "sub", "empty"), 0755))

		require.NoError(t, nf.DeleteRecursive(root))
		assert.NoDirExists(t, root)
	})

	t.Run("removes a single file", func(t *testing.T) {
		t.Parallel()
		dir := tempDir(t)
		file := filepath.Join(dir, "f")
		writeFile(t, file, "x")

		require.NoError(t, nf.DeleteRecursive(file))
		assert.NoFileExists(t, file)
	})

	t.Run("refuses descendant symlink and leaves tree intact", func(t *testing.T) {
		t.Parallel()
		dir := tempDir(t)
		root := filepath.Join(dir, "tree")
		outside := filepath.Join(dir, "outside.txt")
		writeFile(t, filepath.Join(root, "a.txt"), "a")
		writeFile(t, outside, "keep")
		require.NoError(t, os.Symlink(outside, filepath.Join(root, "zz-link")))

		err := nf.DeleteRecursive(root)
		assert.ErrorIs(t, err, common.ErrSymlink)
		assert.FileExists(t, filepath.Join(root, "a.txt"))
		assert.FileExists(t, outside)
	})

	t.Run("refuses the root", func(t *testing.T) {
		t.Parallel()
		assert.ErrorIs(t, nf.DeleteRecursive("/"), common.ErrInvalidInput)
	})

	t.Run("relative path is invalid", func(t *testing.T) {
		t.Parallel()
		assert.ErrorIs(t, nf.DeleteRecursive("relative/path"), common.ErrInvalidInput)
	})
}

func TestSetModeAndOwner(t *testing.T) {
	t.Parallel()
	nf := New()
	dir := tempDir(t)
	file := filepath.Join(dir, "f")
	writeFile(t, file, "x")

	require.NoError(t, nf.SetMode(file, 0600))
	info, err := os.Stat(file)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	require.NoError(t, nf.SetOwner(file, os.Getuid(), os.Getgid()))

	link := filepath.Join(dir, "link")
	require.NoError(t, os.Symlink(file, link))
	assert.ErrorIs(t, nf.SetMode(link, 0644), common.ErrSymlink)
	assert.ErrorIs(t, nf.SetOwner(link, os.Getuid(), os.Getgid()), common.ErrSymlink)
}

func TestCreateOpenMkdir(t *testing.T) {
	t.Parallel()
	nf := New()
	dir := tempDir(t)

	sub := filepath.Join(dir, "sub")
	require.NoError(t, nf.Mkdir(sub, 0755))
	assert.ErrorIs(t, nf.Mkdir(sub, 0755), common.ErrExists)

	file := filepath.Join(sub, "f")
	f, err := nf.Create(file, 0644)
	require.NoError(t, err)
	_, err = f.WriteString("payload")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	_, err = nf.Create(file, 0644)
	assert.ErrorIs(t, err, common.ErrExists)

	r, err := nf.Open(file)
	require.NoError(t, err)
	defer r.Close()
	buf := make([]byte, 7)
	_, err = r.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(buf))

	names, err := nf.ReadDirNames(sub)
	require.NoError(t, err)
	assert.Equal(t, []string{"f"}, names)

	link := filepath.Join(dir, "link")
	require.NoError(t, os.Symlink(file, link))
	_, err = nf.Open(link)
	assert.ErrorIs(t, err, common.ErrSymlink)
}

func TestEnsureNoSymlinkAncestors(t *testing.T) {
	t.Parallel()
	dir := tempDir(t)
	real := filepath.Join(dir, "real")
	require.NoError(t, os.MkdirAll(real, 0755))
	require.NoError(t, os.Symlink(real, filepath.Join(dir, "link")))

	assert.NoError(t, EnsureNoSymlinkAncestors(filepath.Join(real, "child")))
	assert.NoError(t, EnsureNoSymlinkAncestors(filepath.Join(dir, "link")), "final component is not inspected")
	assert.ErrorIs(t, EnsureNoSymlinkAncestors(filepath.Join(dir, "link", "child")), common.ErrSymlink)
	assert.ErrorIs(t, EnsureNoSymlinkAncestors(filepath.Join(dir, "missing", "child")), common.ErrNotFound)

	_, err := LstatRegular(filepath.Join(dir, "link"))
	assert.ErrorIs(t, err, common.ErrSymlink)
}
