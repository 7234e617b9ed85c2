package vault

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"treebak/internal/backup"
)

// FileSystemVault is a filesystem-based implementation of the Vault interface.
// Each key maps to a file at the same relative path below root:
//
//	<root>/
//	  data/<sha1(name)>/<sha1(content)>
//	  manifest/<host>/<user>/<timestamp>
type FileSystemVault struct {
	name string
	root string
}

var _ backup.Vault = (*FileSystemVault)(nil)

// NewFileSystemVault creates a new filesystem vault rooted at the given path.
func NewFileSystemVault(name, root string) (*FileSystemVault, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create vault root: %w", err)
	}
	return &FileSystemVault{name: name, root: root}, nil
}

func (v *FileSystemVault) pathFor(key string) string {
	return filepath.Join(v.root, filepath.FromSlash(key))
}

// Put copies localPath to the file for key using an atomic write.
func (v *FileSystemVault) Put(_ context.Context, key, localPath string) error {
	if err := checkKey(key); err != nil {
		return err
	}
	return copyFileAtomic(v.pathFor(key), localPath)
}

// Get copies the file for key to localPath.
func (v *FileSystemVault) Get(_ context.Context, key, localPath string) error {
	if err := checkKey(key); err != nil {
		return err
	}
	src := v.pathFor(key)
	if _, err := os.Stat(src); errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return copyFileAtomic(localPath, src)
}

// Exists reports whether a regular file exists for key.
func (v *FileSystemVault) Exists(_ context.Context, key string) (bool, error) {
	if err := checkKey(key); err != nil {
		return false, err
	}
	info, err := os.Stat(v.pathFor(key))
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("stat %s: %w", key, err)
	}
	return info.Mode().IsRegular(), nil
}

// List walks the directory holding prefix and returns every matching key.
// In-flight temp files are never listed.
func (v *FileSystemVault) List(_ context.Context, prefix string) ([]string, error) {
	start := v.root
	if i := strings.LastIndex(prefix, "/"); i >= 0 {
		start = v.pathFor(prefix[:i])
	}

	var keys []string
	err := filepath.WalkDir(start, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == start && errors.Is(err, fs.ErrNotExist) {
				return filepath.SkipDir
			}
			return err
		}
		if !d.Type().IsRegular() || strings.HasPrefix(d.Name(), ".tmp-") {
			return nil
		}
		rel, err := filepath.Rel(v.root, p)
		if err != nil {
			return err
		}
		if key := filepath.ToSlash(rel); strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing %q: %w", prefix, err)
	}

	slices.Sort(keys)
	return keys, nil
}

// ValidateSetup verifies that the vault root is an accessible directory.
func (v *FileSystemVault) ValidateSetup(context.Context) error {
	info, err := os.Stat(v.root)
	if err != nil {
		return fmt.Errorf("vault root not accessible: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("vault root is not a directory: %s", v.root)
	}
	return nil
}
