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

// Package security captures and restores permissions and ownership so
// permission-changing callers can roll back.
package security

import (
	"errors"
	"fmt"
	"io/fs"

	log "github.com/sirupsen/logrus"
)

const permMask = fs.ModePerm | fs.ModeSetuid | fs.ModeSetgid | fs.ModeSticky

// Permissions is a platform-neutral permission snapshot. Mode is set on
// POSIX systems, DACL (SDDL text) on windows.
type Permissions struct {
	ReadOnly bool        `json:"readonly"`
	Mode     fs.FileMode `json:"mode,omitempty"`
	DACL     string      `json:"dacl,omitempty"`
}

// WithReadOnly returns p with the read-only flag set or cleared. On POSIX
// snapshots (no DACL) setting it drops every write bit and clearing it
// grants the owner write bit only, including from mode 0000.
func (p Permissions) WithReadOnly(readOnly bool) Permissions {
	p.ReadOnly = readOnly
	if p.DACL != "" {
		return p
	}
	if readOnly {
		p.Mode &^= 0222
	} else {
		p.Mode |= 0200
	}
	return p
}

// WithMode returns p with POSIX mode bits replaced.
func (p Permissions) WithMode(mode fs.FileMode) Permissions {
	p.Mode = mode & permMask
	p.ReadOnly = p.Mode&0222 == 0
	return p
}

// Ownership is a POSIX owner and group.
type Ownership struct {
	UID int `json:"uid"`
	GID int `json:"gid"`
}

// PermissionChange is a reversible permission update of one path.
type PermissionChange struct {
	Path   string
	Before Permissions
	After  Permissions
}

// Apply writes After.
func (c PermissionChange) Apply() error {
	return ApplyPermissions(c.Path, c.After)
}

// Revert writes Before.
func (c PermissionChange) Revert() error {
	return ApplyPermissions(c.Path, c.Before)
}

// OwnershipChange is a reversible owner update of one path.
type OwnershipChange struct {
	Path   string
	Before Ownership
	After  Ownership
}

// Apply writes After.
func (c OwnershipChange) Apply() error {
	return ApplyOwnership(c.Path, c.After)
}

// Revert writes Before.
func (c OwnershipChange) Revert() error {
	return ApplyOwnership(c.Path, c.Before)
}

// Change is a reversible metadata update.
type Change interface {
	Apply() error
	Revert() error
}

// ApplyChanges applies changes in order. When one fails, those already
// applied are reverted newest first and the returned error carries the
// failure together with every revert failure.
func ApplyChanges(changes []Change) error {
	for i, c := range changes {
		err := c.Apply()
		if err == nil {
			continue
		}
		errs := []error{fmt.Errorf("change %d of %d: %w", i+1, len(changes), err)}
		for j := i - 1; j >= 0; j-- {
			if rerr := changes[j].Revert(); rerr != nil {
				log.Warnf("[Security] revert of change %d failed: %v", j+1, rerr)
				errs = append(errs, fmt.Errorf("revert change %d: %w", j+1, rerr))
			}
		}
		return errors.Join(errs...)
	}
	return nil
}
