//go:build unix

package security

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"txfs/internal/common"
)

func tempFile(t *testing.T, name string, mode os.FileMode) string {
	t.Helper()
	dir, err := filepath.EvalSymlinks(t.TempDir())
	require.NoError(t, err)
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("x"), 0644))
	require.NoError(t, os.Chmod(path, mode))
	return path
}

func modeOf(t *testing.T, path string) os.FileMode {
	t.Helper()
	info, err := os.Lstat(path)
	require.NoError(t, err)
	return info.Mode().Perm()
}

func TestPermissionsRoundTrip(t *testing.T) {
	t.Parallel()
	path := tempFile(t, "f", 0640)

	before, err := CapturePermissions(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0640), before.Mode)
	assert.False(t, before.ReadOnly)

	after := before.WithReadOnly(true)
	assert.Equal(t, os.FileMode(0440), after.Mode)
	require.NoError(t, ApplyPermissions(path, after))
	assert.Equal(t, os.FileMode(0440), modeOf(t, path))

	require.NoError(t, ApplyPermissions(path, before))
	assert.Equal(t, os.FileMode(0640), modeOf(t, path))
}

func TestWithMode(t *testing.T) {
	t.Parallel()
	p := Permissions{}.WithMode(0555)
	assert.True(t, p.ReadOnly)
	assert.Equal(t, os.FileMode(0555), p.Mode)
	assert.False(t, p.WithReadOnly(false).ReadOnly)
	assert.Equal(t, os.FileMode(0755), p.WithReadOnly(false).Mode)
}

func TestWithReadOnly(t *testing.T) {
	t.Parallel()

	t.Run("owner write only", func(t *testing.T) {
		p := Permissions{Mode: 0644}.WithReadOnly(true)
		assert.Equal(t, os.FileMode(0444), p.Mode)
		p = p.WithReadOnly(false)
		assert.False(t, p.ReadOnly)
		assert.Equal(t, os.FileMode(0644), p.Mode)
	})

	t.Run("mode zero", func(t *testing.T) {
		p := Permissions{ReadOnly: true}.WithReadOnly(false)
		assert.False(t, p.ReadOnly)
		assert.Equal(t, os.FileMode(0200), p.Mode)
	})

	t.Run("dacl leaves mode alone", func(t *testing.T) {
		p := Permissions{DACL: "D:(A;;FA;;;WD)"}.WithReadOnly(true)
		assert.True(t, p.ReadOnly)
		assert.Zero(t, p.Mode)
	})
}

func TestRefusesSymlink(t *testing.T) {
	t.Parallel()
	target := tempFile(t, "target", 0644)
	link := filepath.Join(filepath.Dir(target), "link")
	require.NoError(t, os.Symlink(target, link))

	_, err := CapturePermissions(link)
	assert.ErrorIs(t, err, common.ErrSymlink)
	assert.ErrorIs(t, ApplyPermissions(link, Permissions{Mode: 0600}), common.ErrSymlink)
	assert.Equal(t, os.FileMode(0644), modeOf(t, target))
}

func TestOwnershipRoundTrip(t *testing.T) {
	t.Parallel()
	path := tempFile(t, "f", 0644)

	o, err := CaptureOwnership(path)
	require.NoError(t, err)
	assert.Equal(t, os.Getuid(), o.UID)
	require.NoError(t, ApplyOwnership(path, o))

	c := OwnershipChange{Path: path, Before: o, After: o}
	require.NoError(t, c.Apply())
	require.NoError(t, c.Revert())
}

func TestApplyChangesRollsBack(t *testing.T) {
	t.Parallel()
	a := tempFile(t, "a", 0644)
	b := tempFile(t, "b", 0644)
	missing := filepath.Join(filepath.Dir(a), "missing")

	changes := []Change{
		PermissionChange{Path: a, Before: Permissions{Mode: 0644}, After: Permissions{Mode: 0600}},
		PermissionChange{Path: b, Before: Permissions{Mode: 0644}, After: Permissions{Mode: 0600}},
		PermissionChange{Path: missing, Before: Permissions{Mode: 0644}, After: Permissions{Mode: 0600}},
	}
	err := ApplyChanges(changes)
	assert.ErrorIs(t, err, common.ErrNotFound)
	assert.Contains(t, err.Error(), "change 3 of 3")
	assert.Equal(t, os.FileMode(0644), modeOf(t, a))
	assert.Equal(t, os.FileMode(0644), modeOf(t, b))

	require.NoError(t, ApplyChanges(changes[:2]))
	assert.Equal(t, os.FileMode(0600), modeOf(t, a))
	assert.Equal(t, os.FileMode(0600), modeOf(t, b))
}
