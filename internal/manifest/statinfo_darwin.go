//go:build darwin

package manifest

import (
	"io/fs"
	"syscall"
)

// sysStat extracts ownership and change time from a Darwin stat result.
func sysStat(info fs.FileInfo) (uid, gid uint32, ctime int64, ok bool) {
	st, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return 0, 0, 0, false
	}
	return st.Uid, st.Gid, int64(st.Ctimespec.Sec), true
}
