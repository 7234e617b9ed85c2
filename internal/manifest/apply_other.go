//go:build !unix

package manifest

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"
)

// ApplyTo sets the permission bits and modification time of the regular
// file at path. Ownership is not supported on this platform.
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
	return errors.Join(errs...)
}
