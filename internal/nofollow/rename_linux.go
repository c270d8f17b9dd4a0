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

package nofollow

import (
	"fmt"

	"golang.org/x/sys/unix"

	"txfs/internal/common"
)

func renameNoReplaceAt(olddirfd int, oldname string, newdirfd int, newname string) error {
	err := unix.Renameat2(olddirfd, oldname, newdirfd, newname, unix.RENAME_NOREPLACE)
	switch err {
	case nil:
		return nil
	case unix.ENOSYS, unix.EOPNOTSUPP:
		return fmt.Errorf("%w: %w", common.ErrUnsupported, err)
	case unix.EINVAL:
		// Filesystems without RENAME_NOREPLACE support report EINVAL.
		return fmt.Errorf("%w: %w", common.ErrUnsupported, err)
	}
	return err
}
