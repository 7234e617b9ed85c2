package manifest

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"treebak/internal/tree"
)

// DirectoryFilter decides whether a subdirectory found under root is pruned
// from the walk. Hidden directories and ignored directories are always
// pruned before the filter is consulted.
type DirectoryFilter interface {
	SkipDirectory(root, dir string) bool
}

// Builder walks backup roots and produces Manifests.
type Builder struct {
	scanner *Scanner
	filter  DirectoryFilter
	logger  Logger
	clock   Clock
}

// NewBuilder creates a Builder. filter may be nil.
func NewBuilder(scanner *Scanner, filter DirectoryFilter, logger Logger, clock Clock) *Builder {
	return &Builder{
		scanner: scanner,
		filter:  filter,
		logger:  logger,
		clock:   clock,
	}
}

// FromFilesystem scans every directory under roots, refreshing each
// directory's cache as it goes, and flattens the results into one Manifest
// named for host/user at the current time. A subdirectory that cannot be
// listed or scanned is logged and skipped.
func (b *Builder) FromFilesystem(host, user string, roots, ignored []string) (*Manifest, error) {
	return b.build(host, user, roots, ignored, func(dir string) (*DirectoryEntry, error) {
		d, err := b.scanner.ScanDirectory(dir)
		if err != nil {
			b.logger.Warn("skipping directory", "dir", dir, "error", err)
			return nil, nil
		}
		if err := d.WriteCache(b.scanner.Cache()); err != nil {
			b.logger.Warn("could not write directory cache", "dir", dir, "error", err)
		}
		return d, nil
	})
}

// FromCache rebuilds a Manifest from persisted directory caches only.
// Every directory in the walk must have a cache.
func (b *Builder) FromCache(host, user string, roots, ignored []string) (*Manifest, error) {
	return b.build(host, user, roots, ignored, func(dir string) (*DirectoryEntry, error) {
		d, err := LoadDirectoryEntry(b.scanner.Cache(), dir)
		if err != nil {
			return nil, fmt.Errorf("loading cache for %s: %w", dir, err)
		}
		return d, nil
	})
}

func (b *Builder) build(host, user string, roots, ignored []string, load func(string) (*DirectoryEntry, error)) (*Manifest, error) {
	if host == "" {
		return nil, fmt.Errorf("%w: host is required", ErrInvalidArgument)
	}
	if user == "" {
		return nil, fmt.Errorf("%w: user is required", ErrInvalidArgument)
	}
	if len(roots) == 0 {
		return nil, fmt.Errorf("%w: at least one backup root is required", ErrInvalidArgument)
	}

	absRoots := make([]string, 0, len(roots))
	for _, root := range roots {
		if root == "" {
			return nil, fmt.Errorf("%w: empty backup root", ErrInvalidArgument)
		}
		abs, err := filepath.Abs(root)
		if err != nil {
			return nil, fmt.Errorf("resolving %s: %w", root, err)
		}
		info, err := os.Stat(abs)
		if err != nil || !info.IsDir() {
			return nil, fmt.Errorf("%w: %s", ErrNotADirectory, abs)
		}
		absRoots = append(absRoots, abs)
	}

	skip := make(map[string]bool, len(ignored))
	for _, dir := range ignored {
		if abs, err := filepath.Abs(dir); err == nil {
			skip[abs] = true
		}
	}

	entries := make(map[string]FileEntry)
	for _, root := range absRoots {
		dirs := tree.Build(root, b.subdirectories(root, skip))

		scanned, err := tree.TryMap(dirs, load)
		if err != nil {
			return nil, err
		}

		for d := range scanned.All() {
			if d == nil {
				continue
			}
			for _, e := range d.entries {
				if _, dup := entries[e.path]; dup {
					return nil, fmt.Errorf("%w: %s", ErrDuplicatePath, e.path)
				}
				entries[e.path] = e
			}
		}
		b.logger.Debug("root walked", "root", root, "directories", dirs.Len())
	}

	return &Manifest{name: NameFor(host, user, b.clock.Now()), entries: entries}, nil
}

// subdirectories returns the expansion rule for a walk under root: real
// (non-symlink) subdirectories in name order that are not hidden, not
// ignored, and not rejected by the filter.
func (b *Builder) subdirectories(root string, ignored map[string]bool) func(string) []string {
	return func(dir string) []string {
		children, err := os.ReadDir(dir)
		if err != nil {
			b.logger.Warn("cannot list directory", "dir", dir, "error", err)
			return nil
		}

		var subdirs []string
		for _, child := range children {
			if !child.IsDir() || strings.HasPrefix(child.Name(), ".") {
				continue
			}
			p := filepath.Join(dir, child.Name())
			if ignored[p] {
				b.logger.Debug("ignored directory", "dir", p)
				continue
			}
			if b.filter != nil && b.filter.SkipDirectory(root, p) {
				b.logger.Debug("filtered directory", "dir", p)
				continue
			}
			subdirs = append(subdirs, p)
		}
		return subdirs
	}
}
