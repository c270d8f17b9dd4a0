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

package security

import (
	"syscall"

	"txfs/internal/common"
	"txfs/internal/nofollow"
)

// CapturePermissions reads the mode bits of path without following a
// final symlink.
func CapturePermissions(path string) (Permissions, error) {
	info, err := nofollow.LstatRegular(path)
	if err != nil {
		return Permissions{}, err
	}
	mode := info.Mode() & permMask
	return Permissions{ReadOnly: mode&0222 == 0, Mode: mode}, nil
}

// ApplyPermissions writes p.Mode through the no-follow primitive.
func ApplyPermissions(path string, p Permissions) error {
	if p.DACL != "" {
		return common.Errorf("chmod", path, common.ErrUnsupported, "access control lists are windows only")
	}
	return nofollow.New().SetMode(path, p.Mode)
}

// CaptureOwnership reads the owner and group of path.
func CaptureOwnership(path string) (Ownership, error) {
	info, err := nofollow.LstatRegular(path)
	if err != nil {
		return Ownership{}, err
	}
	st, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return Ownership{}, common.NewPathError("stat", path, common.ErrUnsupported, nil)
	}
	return Ownership{UID: int(st.Uid), GID: int(st.Gid)}, nil
}

// ApplyOwnership resets owner and group through the no-follow primitive.
func ApplyOwnership(path string, o Ownership) error {
	return nofollow.New().SetOwner(path, o.UID, o.GID)
}
