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

package security

import (
	"golang.org/x/sys/windows"

	"txfs/internal/common"
	"txfs/internal/nofollow"
)

// CapturePermissions reads the DACL of path as SDDL plus its read-only
// attribute.
func CapturePermissions(path string) (Permissions, error) {
	if _, err := nofollow.LstatRegular(path); err != nil {
		return Permissions{}, err
	}
	sd, err := windows.GetNamedSecurityInfo(path, windows.SE_FILE_OBJECT, windows.DACL_SECURITY_INFORMATION)
	if err != nil {
		return Permissions{}, common.Wrap("getacl", path, err)
	}
	attrs, err := attributes(path)
	if err != nil {
		return Permissions{}, err
	}
	return Permissions{
		ReadOnly: attrs&windows.FILE_ATTRIBUTE_READONLY != 0,
		DACL:     sd.String(),
	}, nil
}

// ApplyPermissions restores the DACL, keeping its protected state, then
// the read-only attribute.
func ApplyPermissions(path string, p Permissions) error {
	if _, err := nofollow.LstatRegular(path); err != nil {
		return err
	}
	if p.DACL != "" {
		if err := applyDACL(path, p.DACL); err != nil {
			return err
		}
	}

	attrs, err := attributes(path)
	if err != nil {
		return err
	}
	next := attrs &^ windows.FILE_ATTRIBUTE_READONLY
	if p.ReadOnly {
		next |= windows.FILE_ATTRIBUTE_READONLY
	}
	if next == attrs {
		return nil
	}
	ptr, err := windows.UTF16PtrFromString(path)
	if err != nil {
		return common.NewPathError("attrib", path, common.ErrInvalidInput, err)
	}
	if err := windows.SetFileAttributes(ptr, next); err != nil {
		return common.Wrap("attrib", path, err)
	}
	return nil
}

func applyDACL(path, sddl string) error {
	sd, err := windows.SecurityDescriptorFromString(sddl)
	if err != nil {
		return common.NewPathError("setacl", path, common.ErrInvalidInput, err)
	}
	dacl, _, err := sd.DACL()
	if err != nil {
		return common.Wrap("setacl", path, err)
	}
	control, _, err := sd.Control()
	if err != nil {
		return common.Wrap("setacl", path, err)
	}
	info := windows.SECURITY_INFORMATION(windows.DACL_SECURITY_INFORMATION)
	if control&windows.SE_DACL_PROTECTED != 0 {
		info |= windows.PROTECTED_DACL_SECURITY_INFORMATION
	} else {
		info |= windows.UNPROTECTED_DACL_SECURITY_INFORMATION
	}
	if err := windows.SetNamedSecurityInfo(path, windows.SE_FILE_OBJECT, info, nil, nil, dacl, nil); err != nil {
		return common.Wrap("setacl", path, err)
	}
	return nil
}

func attributes(path string) (uint32, error) {
	ptr, err := windows.UTF16PtrFromString(path)
	if err != nil {
		return 0, common.NewPathError("attrib", path, common.ErrInvalidInput, err)
	}
	attrs, err := windows.GetFileAttributes(ptr)
	if err != nil {
		return 0, common.Wrap("attrib", path, err)
	}
	return attrs, nil
}

// CaptureOwnership is POSIX only.
func CaptureOwnership(path string) (Ownership, error) {
	return Ownership{}, common.NewPathError("chown", path, common.ErrUnsupported, nil)
}

// ApplyOwnership is POSIX only.
func ApplyOwnership(path string, o Ownership) error {
	return common.NewPathError("chown", path, common.ErrUnsupported, nil)
}
