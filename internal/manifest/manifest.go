// Package manifest describes a backed-up file tree as a flat, named mapping
// from absolute file path to content-addressed FileEntry, and builds such
// manifests by scanning directories through a per-directory cache.
package manifest

import (
	"fmt"
	"io"
	"iter"
	"maps"
	"slices"
	"time"
)

const (
	// NamePrefix is the key prefix of every persisted manifest.
	NamePrefix = "manifest/"

	// nameTimeFormat is a fixed-width UTC timestamp so names sort
	// chronologically as strings.
	nameTimeFormat = "2006-01-02T15:04:05.000000Z"
)

// Manifest is an immutable snapshot of every tracked file, keyed by absolute
// path. Its name doubles as its storage key.
type Manifest struct {
	name    string
	entries map[string]FileEntry
}

// New creates a Manifest. The entries map is copied.
func New(name string, entries map[string]FileEntry) *Manifest {
	return &Manifest{name: name, entries: maps.Clone(entries)}
}

// Empty returns an unnamed manifest with no entries. It stands in for the
// latest manifest when none has been persisted yet.
func Empty() *Manifest {
	return &Manifest{}
}

// NamePrefixFor returns the key prefix under which host/user manifests live.
func NamePrefixFor(host, user string) string {
	return NamePrefix + host + "/" + user + "/"
}

// NameFor returns the manifest name for host/user at time t.
func NameFor(host, user string, t time.Time) string {
	return NamePrefixFor(host, user) + t.UTC().Format(nameTimeFormat)
}

// Name returns the manifest's name.
func (m *Manifest) Name() string { return m.name }

// Len returns the number of entries.
func (m *Manifest) Len() int { return len(m.entries) }

// Get looks up path. Paths not in the manifest yield the absent Lookup.
func (m *Manifest) Get(path string) Lookup {
	e, ok := m.entries[path]
	if !ok {
		return Absent()
	}
	return Present(e)
}

// Paths returns every path in lexical order.
func (m *Manifest) Paths() []string {
	return slices.Sorted(maps.Keys(m.entries))
}

// All yields every entry in lexical path order.
func (m *Manifest) All() iter.Seq2[string, FileEntry] {
	return func(yield func(string, FileEntry) bool) {
		for _, p := range m.Paths() {
			if !yield(p, m.entries[p]) {
				return
			}
		}
	}
}

// Equal reports whether m and other have the same name and entries.
func (m *Manifest) Equal(other *Manifest) bool {
	return m.name == other.name && m.SameEntries(other)
}

// SameEntries reports whether m and other map the same paths to the same
// entries, ignoring names.
func (m *Manifest) SameEntries(other *Manifest) bool {
	return maps.Equal(m.entries, other.entries)
}

// WriteRecords writes the manifest in record form: the bare name, then one
// colon-delimited record per entry in lexical path order.
func (m *Manifest) WriteRecords(w io.Writer) error {
	if m.name == "" {
		return fmt.Errorf("%w: manifest has no name", ErrInvalidArgument)
	}

	cw := newRecordWriter(w)
	if err := cw.Write([]string{m.name}); err != nil {
		return fmt.Errorf("writing manifest name: %w", err)
	}

	entries := make([]FileEntry, 0, len(m.entries))
	for _, e := range m.All() {
		entries = append(entries, e)
	}
	if err := writeEntries(cw, entries); err != nil {
		return fmt.Errorf("writing manifest %s: %w", m.name, err)
	}
	return nil
}

// ReadRecords parses a manifest written by WriteRecords. When a path
// appears more than once the last record wins.
func ReadRecords(r io.Reader) (*Manifest, error) {
	cr := newRecordReader(r)

	header, err := cr.Read()
	if err == io.EOF {
		return nil, fmt.Errorf("%w: missing manifest name", ErrMalformedRecord)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedRecord, err)
	}
	if len(header) != 1 || header[0] == "" {
		return nil, fmt.Errorf("%w: header must hold only the manifest name", ErrMalformedRecord)
	}

	entries, err := readEntries(cr)
	if err != nil {
		return nil, fmt.Errorf("reading manifest %s: %w", header[0], err)
	}

	m := &Manifest{name: header[0], entries: make(map[string]FileEntry, len(entries))}
	for _, e := range entries {
		m.entries[e.path] = e
	}
	return m, nil
}
