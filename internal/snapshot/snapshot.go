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

// Package snapshot fingerprints a path's identity so that a slow or
// privileged step can detect that the path was swapped underneath it.
package snapshot

import (
	"fmt"
	"io/fs"
	"os"
	"time"

	"txfs/internal/common"
)

// Kind is the coarse type of the entry at a path.
type Kind int

const (
	KindFile Kind = iota
	KindDirectory
	KindOther
)

func (k Kind) String() string {
	switch k {
	case KindFile:
		return "file"
	case KindDirectory:
		return "directory"
	default:
		return "other"
	}
}

// Identity identifies the underlying object. HasInode is true when the
// platform exposed (Dev, Ino); otherwise Size and ModTime stand in.
type Identity struct {
	HasInode bool
	Dev      uint64
	Ino      uint64
	Size     int64
	ModTime  time.Time
}

// Equal compares identities using the strongest fields both sides carry.
func (id Identity) Equal(other Identity) bool {
	if id.HasInode != other.HasInode {
		return false
	}
	if id.HasInode {
		return id.Dev == other.Dev && id.Ino == other.Ino
	}
	return id.Size == other.Size && id.ModTime.Equal(other.ModTime)
}

func (id Identity) String() string {
	if id.HasInode {
		return fmt.Sprintf("dev=%d ino=%d", id.Dev, id.Ino)
	}
	return fmt.Sprintf("size=%d mtime=%s", id.Size, id.ModTime.Format(time.RFC3339Nano))
}

// PathSnapshot is created and consumed within one operation.
type PathSnapshot struct {
	Path     string
	Kind     Kind
	Identity Identity
}

// Capture inspects path without following a final symlink.
func Capture(path string) (PathSnapshot, error) {
	info, err := os.Lstat(path)
	if err != nil {
		return PathSnapshot{}, common.Wrap("snapshot", path, err)
	}
	return FromInfo(path, info), nil
}

// FromInfo builds a snapshot from metadata the caller already holds.
func FromInfo(path string, info fs.FileInfo) PathSnapshot {
	return PathSnapshot{
		Path:     path,
		Kind:     kindOf(info.Mode()),
		Identity: identityOf(info),
	}
}

// AssertUnchanged re-inspects path and fails with ErrConcurrentModification
// if it no longer refers to the object captured in snap.
func AssertUnchanged(path string, snap PathSnapshot) error {
	current, err := Capture(path)
	if err != nil {
		if common.Classify(err) == common.ErrNotFound {
			return common.NewPathError("verify", path, common.ErrConcurrentModification, err)
		}
		return err
	}
	if current.Kind != snap.Kind || !current.Identity.Equal(snap.Identity) {
		return common.Errorf("verify", path, common.ErrConcurrentModification,
			"%s %s became %s %s", snap.Kind, snap.Identity, current.Kind, current.Identity)
	}
	return nil
}

func kindOf(mode fs.FileMode) Kind {
	switch {
	case mode.IsRegular():
		return KindFile
	case mode.IsDir():
		return KindDirectory
	default:
		return KindOther
	}
}
