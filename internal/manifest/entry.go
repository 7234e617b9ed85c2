package manifest

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"io"
	"path"
	"path/filepath"
)

const (
	// ObjectPrefix is the key prefix of every content object.
	ObjectPrefix = "data/"

	// hashChunkSize is the read size used when hashing file content.
	hashChunkSize = 32 * 1024
)

// FileEntry binds a file's absolute path to its content-addressed object id
// and the StatInfo observed when the id was computed. FileEntry values are
// immutable; a changed file gets a new entry.
type FileEntry struct {
	path     string
	objectID string
	stat     StatInfo
}

// NewFileEntry creates a FileEntry. path and objectID are mandatory.
func NewFileEntry(path, objectID string, stat StatInfo) (FileEntry, error) {
	if path == "" {
		return FileEntry{}, ErrMissingPath
	}
	if objectID == "" {
		return FileEntry{}, fmt.Errorf("%w: %s", ErrMissingObjectID, path)
	}
	return FileEntry{path: path, objectID: objectID, stat: stat}, nil
}

// NewFileEntryForFile creates a FileEntry whose StatInfo is read from the
// file at path.
func NewFileEntryForFile(path, objectID string) (FileEntry, error) {
	if path == "" {
		return FileEntry{}, ErrMissingPath
	}
	if objectID == "" {
		return FileEntry{}, fmt.Errorf("%w: %s", ErrMissingObjectID, path)
	}
	stat, err := StatFile(path)
	if err != nil {
		return FileEntry{}, err
	}
	return FileEntry{path: path, objectID: objectID, stat: stat}, nil
}

// Path returns the file's absolute path.
func (e FileEntry) Path() string { return e.path }

// ObjectID returns the key the file's content is stored under.
func (e FileEntry) ObjectID() string { return e.objectID }

// StatInfo returns the metadata snapshot.
func (e FileEntry) StatInfo() StatInfo { return e.stat }

// Checksum returns the content fingerprint: the last segment of the object id.
func (e FileEntry) Checksum() string {
	return path.Base(e.objectID)
}

// ChecksumDiffers reports whether e and other have different content.
func (e FileEntry) ChecksumDiffers(other FileEntry) bool {
	return e.Checksum() != other.Checksum()
}

func (e FileEntry) String() string {
	return fmt.Sprintf("%s -> %s", e.path, e.objectID)
}

// Lookup is the result of looking a path up in a Manifest. It is either
// present, holding a FileEntry, or absent. An absent Lookup differs in
// content from everything, including another absent Lookup.
type Lookup struct {
	entry FileEntry
	found bool
}

// Present wraps an entry in a present Lookup.
func Present(e FileEntry) Lookup { return Lookup{entry: e, found: true} }

// Absent returns the absent Lookup.
func Absent() Lookup { return Lookup{} }

// Found reports whether the lookup holds an entry.
func (l Lookup) Found() bool { return l.found }

// Entry returns the entry and whether it is present.
func (l Lookup) Entry() (FileEntry, bool) { return l.entry, l.found }

// ChecksumDiffers reports whether l and other have different content.
// It is true whenever either side is absent.
func (l Lookup) ChecksumDiffers(other Lookup) bool {
	if !l.found || !other.found {
		return true
	}
	return l.entry.ChecksumDiffers(other.entry)
}

// ObjectID computes the object id for content read from r that lives at
// filePath: data/{sha1(basename)}/{sha1(content)}.
func ObjectID(filePath string, r io.Reader) (string, error) {
	h := sha1.New()
	if _, err := io.CopyBuffer(h, r, make([]byte, hashChunkSize)); err != nil {
		return "", fmt.Errorf("hashing %s: %w", filePath, err)
	}
	return ObjectPrefix + sha1Hex([]byte(filepath.Base(filePath))) + "/" + hex.EncodeToString(h.Sum(nil)), nil
}

func sha1Hex(b []byte) string {
	sum := sha1.Sum(b)
	return hex.EncodeToString(sum[:])
}
