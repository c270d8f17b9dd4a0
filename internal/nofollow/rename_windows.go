package nofollow

import (
	"errors"
	"fmt"

	"golang.org/x/sys/windows"

	"txfs/internal/common"
)

// renameNoReplace uses MoveFileEx without MOVEFILE_REPLACE_EXISTING or
// MOVEFILE_COPY_ALLOWED, which is atomic and refuses an existing target.
func renameNoReplace(src, dst string) error {
	from, err := windows.UTF16PtrFromString(src)
	if err != nil {
		return fmt.Errorf("%w: %w", common.ErrInvalidInput, err)
	}
	to, err := windows.UTF16PtrFromString(dst)
	if err != nil {
		return fmt.Errorf("%w: %w", common.ErrInvalidInput, err)
	}
	err = windows.MoveFileEx(from, to, 0)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, windows.ERROR_NOT_SAME_DEVICE):
		return fmt.Errorf("%w: %w", common.ErrCrossDevice, err)
	case errors.Is(err, windows.ERROR_ALREADY_EXISTS), errors.Is(err, windows.ERROR_FILE_EXISTS):
		return fmt.Errorf("%w: %w", common.ErrExists, err)
	}
	return err
}
