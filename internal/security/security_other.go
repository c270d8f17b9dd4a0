//go:build !unix && !windows

package security

import (
	"os"

	"txfs/internal/common"
	"txfs/internal/nofollow"
)

func CapturePermissions(path string) (Permissions, error) {
	info, err := nofollow.LstatRegular(path)
	if err != nil {
		return Permissions{}, err
	}
	mode := info.Mode() & permMask
	return Permissions{ReadOnly: mode&0222 == 0, Mode: mode}, nil
}

func ApplyPermissions(path string, p Permissions) error {
	if _, err := nofollow.LstatRegular(path); err != nil {
		return err
	}
	return common.Wrap("chmod", path, os.Chmod(path, p.Mode))
}

func CaptureOwnership(path string) (Ownership, error) {
	return Ownership{}, common.NewPathError("chown", path, common.ErrUnsupported, nil)
}

func ApplyOwnership(path string, o Ownership) error {
	return common.NewPathError("chown", path, common.ErrUnsupported, nil)
}
