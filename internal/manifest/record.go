package manifest

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
)

// Records are colon-delimited and newline-terminated. Fields that contain
// the delimiter, quotes or newlines are quoted, so any path round-trips.
const (
	recordDelimiter = ':'
	entryFieldCount = 8
)

func newRecordWriter(w io.Writer) *csv.Writer {
	cw := csv.NewWriter(w)
	cw.Comma = recordDelimiter
	return cw
}

func newRecordReader(r io.Reader) *csv.Reader {
	cr := csv.NewReader(r)
	cr.Comma = recordDelimiter
	cr.FieldsPerRecord = -1
	return cr
}

// entryFields lays out path, object id, then the StatInfo fields in
// declaration order.
func entryFields(e FileEntry) []string {
	return []string{
		e.path,
		e.objectID,
		e.stat.Owner,
		e.stat.Group,
		strconv.FormatUint(uint64(e.stat.Mode), 10),
		strconv.FormatInt(e.stat.Ctime, 10),
		strconv.FormatInt(e.stat.Mtime, 10),
		strconv.FormatUint(e.stat.Size, 10),
	}
}

func entryFromFields(fields []string) (FileEntry, error) {
	if len(fields) != entryFieldCount {
		return FileEntry{}, fmt.Errorf("%w: want %d fields, got %d", ErrMalformedRecord, entryFieldCount, len(fields))
	}

	mode, err := strconv.ParseUint(fields[4], 10, 32)
	if err != nil {
		return FileEntry{}, fmt.Errorf("%w: mode %q: %w", ErrMalformedRecord, fields[4], err)
	}
	ctime, err := strconv.ParseInt(fields[5], 10, 64)
	if err != nil {
		return FileEntry{}, fmt.Errorf("%w: ctime %q: %w", ErrMalformedRecord, fields[5], err)
	}
	mtime, err := strconv.ParseInt(fields[6], 10, 64)
	if err != nil {
		return FileEntry{}, fmt.Errorf("%w: mtime %q: %w", ErrMalformedRecord, fields[6], err)
	}
	size, err := strconv.ParseUint(fields[7], 10, 64)
	if err != nil {
		return FileEntry{}, fmt.Errorf("%w: size %q: %w", ErrMalformedRecord, fields[7], err)
	}

	return NewFileEntry(fields[0], fields[1], StatInfo{
		Owner: fields[2],
		Group: fields[3],
		Mode:  uint32(mode),
		Ctime: ctime,
		Mtime: mtime,
		Size:  size,
	})
}

// writeEntries writes one record per entry and flushes.
func writeEntries(cw *csv.Writer, entries []FileEntry) error {
	for _, e := range entries {
		if err := cw.Write(entryFields(e)); err != nil {
			return fmt.Errorf("writing record for %s: %w", e.path, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// readEntries reads every remaining record as a FileEntry.
func readEntries(cr *csv.Reader) ([]FileEntry, error) {
	var entries []FileEntry
	for {
		fields, err := cr.Read()
		if err == io.EOF {
			return entries, nil
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrMalformedRecord, err)
		}
		e, err := entryFromFields(fields)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
}
