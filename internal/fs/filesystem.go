// Package fs resolves user-supplied backup roots and decides which
// subdirectories a walk skips.
package fs

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
)

// ResolveDirectory validates a raw root path and returns it absolute and
// cleaned. Symlinked roots are refused; the walk never follows links.
func ResolveDirectory(rawPath string) (string, error) {
	absPath, err := filepath.Abs(rawPath)
	if err != nil {
		return "", fmt.Errorf("resolving absolute path: %w", err)
	}

	info, err := os.Lstat(absPath)
	if err != nil {
		return "", fmt.Errorf("stat path: %w", err)
	}

	mode := info.Mode()
	switch {
	case mode&os.ModeSymlink != 0:
		return "", fmt.Errorf("symlinks not supported: %s", absPath)
	case !mode.IsDir():
		return "", fmt.Errorf("not a directory: %s", absPath)
	}
	return absPath, nil
}

// ResolveDirectories resolves every root, drops duplicates and returns them
// sorted.
func ResolveDirectories(rawPaths []string) ([]string, error) {
	out := make([]string, 0, len(rawPaths))
	for _, raw := range rawPaths {
		p, err := ResolveDirectory(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	slices.Sort(out)
	return slices.Compact(out), nil
}
