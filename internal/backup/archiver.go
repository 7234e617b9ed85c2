package backup

// Archiver transforms file content on its way to and from the vault.
type Archiver interface {
	// Compress reads srcPath and writes the archived form to dstPath.
	Compress(srcPath, dstPath string) error

	// Decompress reads an archived blob at srcPath and writes the original
	// content to dstPath, replacing it if it exists.
	Decompress(srcPath, dstPath string) error
}

// Scratch hands out temporary files scoped to a single operation.
type Scratch interface {
	// TempFile creates an empty temporary file whose name matches pattern
	// (as in os.CreateTemp) and returns its path together with a release
	// function that removes it. release is safe to call more than once.
	TempFile(pattern string) (path string, release func(), err error)
}
