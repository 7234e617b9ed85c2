package manifest

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// CacheFileName is the hidden file each scanned directory's cache is kept in.
const CacheFileName = ".treebak-cache"

const cacheTempPrefix = CacheFileName + ".tmp-"

// CacheStore persists the entries observed by a directory scan so the next
// scan can skip hashing unchanged large files. Each directory's cache is
// owned by the scan of that directory alone.
type CacheStore interface {
	// Load returns the cached entries for dir. It returns an error wrapping
	// ErrNoCache when dir has never been cached.
	Load(dir string) ([]FileEntry, error)

	// Store replaces the cached entries for dir.
	Store(dir string, entries []FileEntry) error
}

// DotfileCache keeps each directory's cache in a hidden record file inside
// the directory itself: one colon-delimited record per regular file, no
// header, absolute paths.
type DotfileCache struct{}

var _ CacheStore = DotfileCache{}

// NewDotfileCache creates a DotfileCache.
func NewDotfileCache() DotfileCache {
	return DotfileCache{}
}

// Load reads dir's cache file.
func (DotfileCache) Load(dir string) ([]FileEntry, error) {
	f, err := os.Open(filepath.Join(dir, CacheFileName))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNoCache, dir)
		}
		return nil, fmt.Errorf("opening cache: %w", err)
	}
	defer f.Close()

	entries, err := readEntries(newRecordReader(f))
	if err != nil {
		return nil, fmt.Errorf("reading cache for %s: %w", dir, err)
	}
	return entries, nil
}

// Store overwrites dir's cache file. The file is written to a temporary
// name and renamed into place so readers never see a partial cache.
func (DotfileCache) Store(dir string, entries []FileEntry) error {
	tmp, err := os.CreateTemp(dir, cacheTempPrefix+"*")
	if err != nil {
		return fmt.Errorf("creating cache temp file: %w", err)
	}
	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if err := writeEntries(newRecordWriter(tmp), entries); err != nil {
		tmp.Close()
		return fmt.Errorf("writing cache for %s: %w", dir, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing cache temp file: %w", err)
	}
	if err := os.Rename(tmpPath, filepath.Join(dir, CacheFileName)); err != nil {
		return fmt.Errorf("renaming cache file: %w", err)
	}

	success = true
	return nil
}
