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

package fsops

import (
	"golang.org/x/sys/windows"

	"txfs/internal/common"
	"txfs/internal/nofollow"
)

func setHidden(path string, hidden bool) error {
	if _, err := nofollow.LstatRegular(path); err != nil {
		return err
	}
	p, err := windows.UTF16PtrFromString(path)
	if err != nil {
		return common.NewPathError("attrib", path, common.ErrInvalidInput, err)
	}
	attrs, err := windows.GetFileAttributes(p)
	if err != nil {
		return common.Wrap("attrib", path, err)
	}
	if attrs&windows.FILE_ATTRIBUTE_REPARSE_POINT != 0 {
		return common.NewPathError("attrib", path, common.ErrSymlink, nil)
	}
	next := attrs
	if hidden {
		next |= windows.FILE_ATTRIBUTE_HIDDEN
	} else {
		next &^= windows.FILE_ATTRIBUTE_HIDDEN
	}
	if next == attrs {
		return nil
	}
	if err := windows.SetFileAttributes(p, next); err != nil {
		return common.Wrap("attrib", path, err)
	}
	return nil
}
