//go:build !linux && !darwin

package manifest

import "io/fs"

// sysStat is unsupported here; callers fall back to mtime and empty owners.
func sysStat(fs.FileInfo) (uid, gid uint32, ctime int64, ok bool) {
	return 0, 0, 0, false
}
