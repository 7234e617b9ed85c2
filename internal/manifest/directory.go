package manifest

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

// CacheThreshold is the size in bytes above which a file whose StatInfo
// matches its cached entry is trusted without re-reading its content.
const CacheThreshold uint64 = 64 * 1024

// DirectoryEntry holds the FileEntry records for the direct regular-file
// children of one directory, in scan order.
type DirectoryEntry struct {
	path    string
	entries []FileEntry
}

// NewDirectoryEntry creates a DirectoryEntry. The entries slice is copied.
func NewDirectoryEntry(path string, entries []FileEntry) *DirectoryEntry {
	return &DirectoryEntry{path: path, entries: slices.Clone(entries)}
}

// Path returns the directory's absolute path.
func (d *DirectoryEntry) Path() string { return d.path }

// Entries returns a copy of the entries in scan order.
func (d *DirectoryEntry) Entries() []FileEntry { return slices.Clone(d.entries) }

// Len returns the number of entries.
func (d *DirectoryEntry) Len() int { return len(d.entries) }

// Equal reports whether d and other have the same path and entries.
func (d *DirectoryEntry) Equal(other *DirectoryEntry) bool {
	if d == nil || other == nil {
		return d == other
	}
	return d.path == other.path && slices.Equal(d.entries, other.entries)
}

// WriteCache persists exactly this scan's entries as dir's cache.
func (d *DirectoryEntry) WriteCache(store CacheStore) error {
	return store.Store(d.path, d.entries)
}

// LoadDirectoryEntry rebuilds a DirectoryEntry purely from its cache without
// touching file content. It fails with ErrNoCache when none is present.
func LoadDirectoryEntry(store CacheStore, dir string) (*DirectoryEntry, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolving %s: %w", dir, err)
	}
	entries, err := store.Load(abs)
	if err != nil {
		return nil, err
	}
	return &DirectoryEntry{path: abs, entries: entries}, nil
}

// Opener opens a file's content for hashing.
type Opener func(path string) (io.ReadCloser, error)

func openFile(path string) (io.ReadCloser, error) {
	return os.Open(path)
}

// Scanner produces DirectoryEntry values, consulting a CacheStore to avoid
// re-hashing large files whose metadata has not moved.
type Scanner struct {
	cache     CacheStore
	logger    Logger
	threshold uint64
	open      Opener
}

// ScannerOption configures a Scanner.
type ScannerOption func(*Scanner)

// WithThreshold overrides CacheThreshold.
func WithThreshold(threshold uint64) ScannerOption {
	return func(s *Scanner) { s.threshold = threshold }
}

// WithOpener replaces the function used to read file content.
func WithOpener(open Opener) ScannerOption {
	return func(s *Scanner) { s.open = open }
}

// NewScanner creates a Scanner backed by cache.
func NewScanner(cache CacheStore, logger Logger, opts ...ScannerOption) *Scanner {
	s := &Scanner{
		cache:     cache,
		logger:    logger,
		threshold: CacheThreshold,
		open:      openFile,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Cache returns the scanner's cache store.
func (s *Scanner) Cache() CacheStore { return s.cache }

// ScanDirectory lists dir's regular files in name order and builds a
// FileEntry for each. A missing, unreadable or malformed cache is treated
// as empty.
func (s *Scanner) ScanDirectory(dir string) (*DirectoryEntry, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrNotADirectory, dir, err)
	}
	info, err := os.Stat(abs)
	if err != nil || !info.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrNotADirectory, abs)
	}

	cached := s.loadCache(abs)

	children, err := os.ReadDir(abs)
	if err != nil {
		return nil, fmt.Errorf("reading directory %s: %w", abs, err)
	}

	entries := make([]FileEntry, 0, len(children))
	for _, child := range children {
		if !child.Type().IsRegular() || isCacheFile(child.Name()) {
			continue
		}

		entry, err := s.scanFile(filepath.Join(abs, child.Name()), cached)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				s.logger.Debug("file vanished during scan", "path", filepath.Join(abs, child.Name()))
				continue
			}
			return nil, err
		}
		entries = append(entries, entry)
	}

	return &DirectoryEntry{path: abs, entries: entries}, nil
}

// scanFile reuses the cached entry for a large file with identical
// StatInfo, and otherwise hashes the file.
func (s *Scanner) scanFile(path string, cached map[string]FileEntry) (FileEntry, error) {
	info, err := os.Stat(path)
	if err != nil {
		return FileEntry{}, fmt.Errorf("stat %s: %w", path, err)
	}
	stat := statInfoFromFileInfo(info)

	if stat.Size > s.threshold {
		if prev, ok := cached[path]; ok && prev.stat == stat {
			s.logger.Debug("cache hit", "path", path)
			return prev, nil
		}
	}

	r, err := s.open(path)
	if err != nil {
		return FileEntry{}, fmt.Errorf("opening %s: %w", path, err)
	}
	defer r.Close()

	objectID, err := ObjectID(path, r)
	if err != nil {
		return FileEntry{}, err
	}
	s.logger.Debug("hashed", "path", path, "object_id", objectID)

	return NewFileEntry(path, objectID, stat)
}

func (s *Scanner) loadCache(dir string) map[string]FileEntry {
	entries, err := s.cache.Load(dir)
	if err != nil {
		if !errors.Is(err, ErrNoCache) {
			s.logger.Debug("ignoring unusable cache", "dir", dir, "error", err)
		}
		return nil
	}

	cached := make(map[string]FileEntry, len(entries))
	for _, e := range entries {
		cached[e.path] = e
	}
	return cached
}

// isCacheFile reports whether name is the directory cache or one of the
// temp files DotfileCache.Store renames into place.
func isCacheFile(name string) bool {
	return name == CacheFileName || strings.HasPrefix(name, cacheTempPrefix)
}
