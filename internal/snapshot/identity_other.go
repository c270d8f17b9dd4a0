//go:build !unix

package snapshot

import "io/fs"

func identityOf(info fs.FileInfo) Identity {
	return Identity{Size: info.Size(), ModTime: info.ModTime()}
}
