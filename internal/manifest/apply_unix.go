//go:build unix

package manifest

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/user"
	"strconv"
	"time"
)

// ApplyTo sets the permission bits, modification time and ownership of the
// regular file at path to match s. The access time is set to now.
// Every step is attempted; failures are joined in the returned error.
func (s StatInfo) ApplyTo(path string) error {
	if err := checkRegular(path); err != nil {
		return err
	}

	var errs []error
	if err := os.Chmod(path, fs.FileMode(s.Mode).Perm()); err != nil {
		errs = append(errs, fmt.Errorf("setting permissions: %w", err))
	}
	if err := os.Chtimes(path, time.Now(), time.Unix(s.Mtime, 0)); err != nil {
		errs = append(errs, fmt.Errorf("setting file times: %w", err))
	}

	uid, gid, err := lookupIDs(s.Owner, s.Group)
	if err != nil {
		errs = append(errs, err)
	} else if err := os.Chown(path, uid, gid); err != nil {
		errs = append(errs, fmt.Errorf("setting ownership: %w", err))
	}

	return errors.Join(errs...)
}

// lookupIDs resolves owner and group names, accepting numeric ids as-is.
func lookupIDs(owner, group string) (int, int, error) {
	uid, err := strconv.Atoi(owner)
	if err != nil {
		u, lerr := user.Lookup(owner)
		if lerr != nil {
			return 0, 0, fmt.Errorf("looking up owner %q: %w", owner, lerr)
		}
		if uid, err = strconv.Atoi(u.Uid); err != nil {
			return 0, 0, fmt.Errorf("parsing uid for %q: %w", owner, err)
		}
	}

	gid, err := strconv.Atoi(group)
	if err != nil {
		g, lerr := user.LookupGroup(group)
		if lerr != nil {
			return 0, 0, fmt.Errorf("looking up group %q: %w", group, lerr)
		}
		if gid, err = strconv.Atoi(g.Gid); err != nil {
			return 0, 0, fmt.Errorf("parsing gid for %q: %w", group, err)
		}
	}

	return uid, gid, nil
}
