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

// Package fsops builds the move and copy steps the engine needs on top of
// the no-follow primitives: an atomic no-replace rename with a
// copy-then-delete fallback, and a symlink-refusing recursive copy.
package fsops

import (
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	log "github.com/sirupsen/logrus"

	"txfs/internal/common"
	"txfs/internal/nofollow"
	"txfs/internal/snapshot"
)

const permMask = fs.ModePerm | fs.ModeSetuid | fs.ModeSetgid | fs.ModeSticky

// DirPerm is the mode given to directories created by CreateDir.
const DirPerm fs.FileMode = 0755

// Ops performs compound filesystem steps through a nofollow.Filesystem.
type Ops struct {
	fs nofollow.Filesystem
}

// New creates Ops over the given primitives
func New(nf nofollow.Filesystem) *Ops {
	return &Ops{fs: nf}
}

// Filesystem returns the underlying primitives
func (o *Ops) Filesystem() nofollow.Filesystem {
	return o.fs
}

// MoveWithFallback moves src to dst without ever replacing dst. It tries
// an atomic no-replace rename first and falls back to copy-then-delete
// when the rename is cross-device or unsupported.
func (o *Ops) MoveWithFallback(src, dst string) error {
	if err := checkDistinct("move", src, dst); err != nil {
		return err
	}
	info, err := nofollow.LstatRegular(src)
	if err != nil {
		return err
	}
	if err := ensureFree("move", dst); err != nil {
		return err
	}

	parent := common.ParentPath(dst)
	srcSnap := snapshot.FromInfo(src, info)
	parentSnap, err := snapshot.Capture(parent)
	if err != nil {
		return err
	}
	if err := snapshot.AssertUnchanged(src, srcSnap); err != nil {
		return err
	}
	if err := snapshot.AssertUnchanged(parent, parentSnap); err != nil {
		return err
	}

	err = o.fs.RenameNoReplace(src, dst)
	if err == nil {
		log.Debugf("[Move] renamed %s -> %s", src, dst)
		return nil
	}
	if !common.IsFallback(err) {
		return err
	}
	log.Debugf("[Move] atomic rename unavailable (%v), copying %s -> %s", err, src, dst)
	return o.copyThenDelete(src, dst, srcSnap)
}

func (o *Ops) copyThenDelete(src, dst string, srcSnap snapshot.PathSnapshot) error {
	if err := o.CopyEntry(src, dst); err != nil {
		return err
	}
	if err := snapshot.AssertUnchanged(src, srcSnap); err != nil {
		o.discard(dst)
		return err
	}
	var before map[string]snapshot.PathSnapshot
	if srcSnap.Kind == snapshot.KindDirectory {
		tree, err := o.captureTree(src)
		if err != nil {
			o.discard(dst)
			return err
		}
		before = tree
	}

	err := o.fs.DeleteRecursive(src)
	if err == nil {
		log.Debugf("[Move] copied %s -> %s and removed source", src, dst)
		return nil
	}

	// The duplicate may only go when the source is provably whole; a failed
	// recursive delete can leave a directory partly removed.
	if before != nil && !o.treeIntact(src, before) {
		log.Warnf("[Move] source %s partly deleted after copy, keeping %s: %v", src, dst, err)
		return common.Errorf("move", src, common.Classify(err),
			"copied to %s but source only partly deleted, both kept: %w", dst, err)
	}
	o.discard(dst)
	return common.Errorf("move", src, common.Classify(err),
		"copied to %s but source not deleted, copy removed: %w", dst, err)
}

// captureTree snapshots every entry below root, keyed by relative path.
func (o *Ops) captureTree(root string) (map[string]snapshot.PathSnapshot, error) {
	tree := make(map[string]snapshot.PathSnapshot)
	var walk func(rel string) error
	walk = func(rel string) error {
		path := filepath.Join(root, rel)
		snap, err := snapshot.Capture(path)
		if err != nil {
			return err
		}
		tree[rel] = snap
		if snap.Kind != snapshot.KindDirectory {
			return nil
		}
		names, err := o.fs.ReadDirNames(path)
		if err != nil {
			return err
		}
		for _, name := range names {
			if err := walk(filepath.Join(rel, name)); err != nil {
				return err
			}
		}
		return nil
	}
	if err := walk(""); err != nil {
		return nil, err
	}
	return tree, nil
}

// treeIntact reports whether root still holds exactly the entries in before.
func (o *Ops) treeIntact(root string, before map[string]snapshot.PathSnapshot) bool {
	after, err := o.captureTree(root)
	if err != nil || len(after) != len(before) {
		return false
	}
	for rel, snap := range before {
		cur, ok := after[rel]
		if !ok || cur.Kind != snap.Kind || !cur.Identity.Equal(snap.Identity) {
			return false
		}
	}
	return true
}

// CopyEntry copies src to dst. Directories are copied recursively; any
// symlink, special file or existing destination aborts the copy and the
// partial destination is removed.
func (o *Ops) CopyEntry(src, dst string) error {
	if err := checkDistinct("copy", src, dst); err != nil {
		return err
	}
	return o.copyEntry(src, dst)
}

func (o *Ops) copyEntry(src, dst string) error {
	info, err := nofollow.LstatRegular(src)
	if err != nil {
		return err
	}
	switch {
	case info.IsDir():
		return o.copyDir(src, dst, info.Mode())
	case info.Mode().IsRegular():
		return o.copyFile(src, dst, info.Mode())
	}
	return common.Errorf("copy", src, common.ErrUnsupported, "unsupported file type %s", info.Mode().Type())
}

func (o *Ops) copyDir(src, dst string, mode fs.FileMode) error {
	// Owner-writable until the children are in place.
	if err := o.fs.Mkdir(dst, 0700); err != nil {
		return err
	}
	err := o.copyChildren(src, dst)
	if err == nil {
		err = o.fs.SetMode(dst, mode&permMask)
	}
	if err != nil {
		o.discard(dst)
		return err
	}
	return nil
}

func (o *Ops) copyChildren(src, dst string) error {
	names, err := o.fs.ReadDirNames(src)
	if err != nil {
		return err
	}
	for _, name := range names {
		if err := o.copyEntry(filepath.Join(src, name), filepath.Join(dst, name)); err != nil {
			return err
		}
	}
	return nil
}

func (o *Ops) copyFile(src, dst string, mode fs.FileMode) error {
	in, err := o.fs.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := o.fs.Create(dst, 0600)
	if err != nil {
		return err
	}
	_, err = io.Copy(out, in)
	if err == nil {
		err = out.Sync()
	}
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err == nil {
		err = o.fs.SetMode(dst, mode&permMask)
	}
	if err != nil {
		o.discard(dst)
		return common.Wrap("copy", dst, err)
	}
	return nil
}

// CreateDir creates an empty directory, failing if anything exists at path.
func (o *Ops) CreateDir(path string) error {
	return o.fs.Mkdir(path, DirPerm)
}

// Remove deletes path recursively through the no-follow primitive.
func (o *Ops) Remove(path string) error {
	return o.fs.DeleteRecursive(path)
}

// RemoveIfExists is Remove that treats an already absent path as success.
func (o *Ops) RemoveIfExists(path string) error {
	err := o.fs.DeleteRecursive(path)
	if errors.Is(err, common.ErrNotFound) {
		log.Debugf("[Move] %s already absent", path)
		return nil
	}
	return err
}

// SetHidden sets or clears the platform hidden attribute on path.
func (o *Ops) SetHidden(path string, hidden bool) error {
	return setHidden(path, hidden)
}

// discard removes a partial or orphaned destination, best effort.
func (o *Ops) discard(path string) {
	if err := o.fs.DeleteRecursive(path); err != nil && !errors.Is(err, common.ErrNotFound) {
		log.Warnf("[Move] failed to remove %s: %v", path, err)
	}
}

// ensureFree fails with ErrExists if anything, including a dangling
// symlink, exists at path.
func ensureFree(op, path string) error {
	if err := nofollow.EnsureNoSymlinkAncestors(path); err != nil {
		return err
	}
	_, err := os.Lstat(path)
	if err == nil {
		return common.NewPathError(op, path, common.ErrExists, nil)
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return common.Wrap(op, path, err)
	}
	return nil
}

// checkDistinct refuses placing an entry inside itself, which would make
// the copy fallback recurse forever.
func checkDistinct(op, src, dst string) error {
	cleanSrc, err := common.CleanAbs(src)
	if err != nil {
		return err
	}
	cleanDst, err := common.CleanAbs(dst)
	if err != nil {
		return err
	}
	rel, err := filepath.Rel(cleanSrc, cleanDst)
	if err != nil {
		return nil
	}
	if rel != "." && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return common.Errorf(op, dst, common.ErrInvalidInput, "destination is inside %s", cleanSrc)
	}
	return nil
}
