package manifest

import (
	"fmt"
	"io/fs"
	"os"
	"os/user"
	"strconv"
	"sync"
)

// StatInfo is an immutable snapshot of the metadata of one regular file.
// Ownership is recorded by name rather than numeric id so snapshots stay
// meaningful on systems with different id maps. Mode holds permission bits
// only. Two StatInfo values are equal iff every field is equal.
type StatInfo struct {
	Owner string
	Group string
	Mode  uint32
	Ctime int64
	Mtime int64
	Size  uint64
}

// StatFile captures the StatInfo of the regular file at path.
func StatFile(path string) (StatInfo, error) {
	if path == "" {
		return StatInfo{}, fmt.Errorf("%w: empty path", ErrInvalidPath)
	}

	info, err := os.Stat(path)
	if err != nil {
		return StatInfo{}, fmt.Errorf("%w: %s: %w", ErrInvalidPath, path, err)
	}
	if !info.Mode().IsRegular() {
		return StatInfo{}, fmt.Errorf("%w: %s", ErrNotAFile, path)
	}

	return statInfoFromFileInfo(info), nil
}

// statInfoFromFileInfo converts a FileInfo for a regular file into a StatInfo.
func statInfoFromFileInfo(info fs.FileInfo) StatInfo {
	s := StatInfo{
		Mode:  uint32(info.Mode().Perm()),
		Ctime: info.ModTime().Unix(),
		Mtime: info.ModTime().Unix(),
		Size:  uint64(info.Size()),
	}

	if uid, gid, ctime, ok := sysStat(info); ok {
		s.Owner = userName(uid)
		s.Group = groupName(gid)
		s.Ctime = ctime
	}
	return s
}

// Owner and group name lookups hit NSS, so results are memoized per process.
var (
	namesMu    sync.Mutex
	userNames  = map[uint32]string{}
	groupNames = map[uint32]string{}
)

func userName(uid uint32) string {
	namesMu.Lock()
	defer namesMu.Unlock()

	if name, ok := userNames[uid]; ok {
		return name
	}
	name := strconv.FormatUint(uint64(uid), 10)
	if u, err := user.LookupId(name); err == nil {
		name = u.Username
	}
	userNames[uid] = name
	return name
}

func groupName(gid uint32) string {
	namesMu.Lock()
	defer namesMu.Unlock()

	if name, ok := groupNames[gid]; ok {
		return name
	}
	name := strconv.FormatUint(uint64(gid), 10)
	if g, err := user.LookupGroupId(name); err == nil {
		name = g.Name
	}
	groupNames[gid] = name
	return name
}

// checkRegular validates that path names an existing regular file.
func checkRegular(path string) error {
	if path == "" {
		return fmt.Errorf("%w: empty path", ErrInvalidPath)
	}
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrInvalidPath, path, err)
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("%w: %s", ErrNotAFile, path)
	}
	return nil
}
