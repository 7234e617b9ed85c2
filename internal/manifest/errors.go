package manifest

import "errors"

var (
	// ErrInvalidArgument reports an empty or missing required argument
	// such as a host, user or root list.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrInvalidPath reports a path that is empty or does not resolve.
	ErrInvalidPath = errors.New("invalid path")

	// ErrNotADirectory reports a path that was expected to be a directory.
	ErrNotADirectory = errors.New("not a directory")

	// ErrNotAFile reports a path that was expected to be a regular file.
	ErrNotAFile = errors.New("not a regular file")

	// ErrMissingPath reports a FileEntry constructed without a path.
	ErrMissingPath = errors.New("missing path")

	// ErrMissingObjectID reports a FileEntry constructed without an object id.
	ErrMissingObjectID = errors.New("missing object id")

	// ErrNoCache reports that a directory has no persisted cache.
	ErrNoCache = errors.New("no directory cache")

	// ErrDuplicatePath reports the same file path produced by two backup roots.
	ErrDuplicatePath = errors.New("duplicate path across backup roots")

	// ErrMalformedRecord reports a manifest or cache record that cannot be parsed.
	ErrMalformedRecord = errors.New("malformed record")
)
