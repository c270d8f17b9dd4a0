//go:build !darwin && !windows

package fsops

import "txfs/internal/common"

// setHidden has no attribute to flip here; dot-prefix hiding is a rename
// and callers express it as one.
func setHidden(path string, hidden bool) error {
	return common.NewPathError("set hidden", path, common.ErrUnsupported, nil)
}
