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

package common

import (
	"path/filepath"
	"strings"
)

// CleanAbs cleans path and requires it to be absolute.
// The engine never resolves relative paths against a working directory.
func CleanAbs(path string) (string, error) {
	if path == "" {
		return "", NewPathError("validate", path, ErrInvalidInput, nil)
	}
	if strings.ContainsRune(path, 0) {
		return "", NewPathError("validate", path, ErrInvalidInput, nil)
	}
	if !filepath.IsAbs(path) {
		return "", NewPathError("validate", path, ErrInvalidInput, nil)
	}
	return filepath.Clean(path), nil
}

// SplitPath splits an absolute path into its root (volume plus separator)
// and the components below it.
func SplitPath(path string) (root string, parts []string) {
	path = filepath.Clean(path)
	vol := filepath.VolumeName(path)
	rest := path[len(vol):]
	root = vol + string(filepath.Separator)
	rest = strings.TrimLeft(rest, string(filepath.Separator))
	if rest == "" {
		return root, nil
	}
	return root, strings.Split(rest, string(filepath.Separator))
}

// JoinPath joins a root and components produced by SplitPath
func JoinPath(root string, parts ...string) string {
	return filepath.Join(append([]string{root}, parts...)...)
}

// ParentPath returns the parent directory of a path
func ParentPath(path string) string {
	return filepath.Dir(filepath.Clean(path))
}

// BaseName returns the base name of a path
func BaseName(path string) string {
	return filepath.Base(filepath.Clean(path))
}

// IsRoot reports whether path has no components below its root
func IsRoot(path string) bool {
	_, parts := SplitPath(path)
	return len(parts) == 0
}
