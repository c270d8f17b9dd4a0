package common

import (
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCleanAbs(t *testing.T) {
	t.Parallel()
	if runtime.GOOS == "windows" {
		t.Skip("posix paths")
	}

	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{"empty", "", "", true},
		{"relative", "foo/bar", "", true},
		{"nul byte", "/foo\x00bar", "", true},
		{"root", "/", "/", false},
		{"simple", "/foo", "/foo", false},
		{"trailing_slash", "/foo/", "/foo", false},
		{"dot_middle", "/foo/./bar", "/foo/bar", false},
		{"dotdot_middle", "/foo/../bar", "/bar", false},
		{"double_slash", "/foo//bar", "/foo/bar", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := CleanAbs(tt.input)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidInput)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSplitPath(t *testing.T) {
	t.Parallel()
	if runtime.GOOS == "windows" {
		t.Skip("posix paths")
	}

	tests := []struct {
		name  string
		input string
		parts []string
	}{
		{"root", "/", nil},
		{"single", "/foo", []string{"foo"}},
		{"nested", "/foo/bar/baz", []string{"foo", "bar", "baz"}},
		{"unclean", "//foo//bar/", []string{"foo", "bar"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			root, parts := SplitPath(tt.input)
			assert.Equal(t, "/", root)
			assert.Equal(t, tt.parts, parts)
			assert.Equal(t, filepath.Clean(tt.input), JoinPath(root, parts...))
		})
	}
}

func TestParentAndBase(t *testing.T) {
	t.Parallel()
	if runtime.GOOS == "windows" {
		t.Skip("posix paths")
	}

	assert.Equal(t, "/foo", ParentPath("/foo/bar"))
	assert.Equal(t, "/", ParentPath("/foo"))
	assert.Equal(t, "bar", BaseName("/foo/bar/"))
	assert.True(t, IsRoot("/"))
	assert.False(t, IsRoot("/foo"))
}
