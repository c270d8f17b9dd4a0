//go:build !linux && !darwin && !windows

package nofollow

import (
	"fmt"
	"runtime"

	"txfs/internal/common"
)

func renameNoReplace(src, dst string) error {
	return fmt.Errorf("%w: no atomic no-replace rename on %s", common.ErrUnsupported, runtime.GOOS)
}
