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
	"golang.org/x/sys/unix"

	"txfs/internal/common"
	"txfs/internal/nofollow"
)

// UF_HIDDEN from <sys/stat.h>.
const ufHidden = 0x00008000

func setHidden(path string, hidden bool) error {
	if err := nofollow.EnsureNoSymlinkAncestors(path); err != nil {
		return err
	}
	fd, err := unix.Open(path, unix.O_RDONLY|unix.O_NOFOLLOW|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
	if err != nil {
		if err == unix.ELOOP {
			return common.NewPathError("chflags", path, common.ErrSymlink, err)
		}
		return common.Wrap("chflags", path, err)
	}
	defer unix.Close(fd)

	var st unix.Stat_t
	if err := unix.Fstat(fd, &st); err != nil {
		return common.Wrap("chflags", path, err)
	}
	flags := st.Flags
	if hidden {
		flags |= ufHidden
	} else {
		flags &^= ufHidden
	}
	if flags == st.Flags {
		return nil
	}
	if err := unix.Fchflags(fd, int(flags)); err != nil {
		return common.Wrap("chflags", path, err)
	}
	return nil
}
