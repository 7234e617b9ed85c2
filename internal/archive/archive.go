// Package archive implements the transforms applied to file content before
// it is stored in a vault.
package archive

import (
	"compress/gzip"
	"fmt"
	"io"
	"os"

	"treebak/internal/backup"
	"treebak/internal/config"
)

// Gzip compresses blobs with gzip.
type Gzip struct {
	level int
}

var _ backup.Archiver = (*Gzip)(nil)

// NewGzip creates a Gzip archiver. Level 0 selects gzip.DefaultCompression.
func NewGzip(level int) (*Gzip, error) {
	if level == 0 {
		level = gzip.DefaultCompression
	}
	if level < gzip.HuffmanOnly || level > gzip.BestCompression {
		return nil, fmt.Errorf("invalid gzip level %d", level)
	}
	return &Gzip{level: level}, nil
}

func (g *Gzip) Compress(srcPath, dstPath string) error {
	return pipe(srcPath, dstPath, func(r io.Reader, w io.Writer) error {
		zw, err := gzip.NewWriterLevel(w, g.level)
		if err != nil {
			return err
		}
		if _, err := io.Copy(zw, r); err != nil {
			zw.Close()
			return err
		}
		return zw.Close()
	})
}

func (g *Gzip) Decompress(srcPath, dstPath string) error {
	return pipe(srcPath, dstPath, func(r io.Reader, w io.Writer) error {
		zr, err := gzip.NewReader(r)
		if err != nil {
			return err
		}
		defer zr.Close()
		_, err = io.Copy(w, zr)
		return err
	})
}

// None stores content unchanged.
type None struct{}

var _ backup.Archiver = None{}

func (None) Compress(srcPath, dstPath string) error {
	return pipe(srcPath, dstPath, copyAll)
}

func (None) Decompress(srcPath, dstPath string) error {
	return pipe(srcPath, dstPath, copyAll)
}

func copyAll(r io.Reader, w io.Writer) error {
	_, err := io.Copy(w, r)
	return err
}

// pipe streams srcPath through fn into dstPath, truncating dstPath.
func pipe(srcPath, dstPath string, fn func(io.Reader, io.Writer) error) error {
	in, err := os.Open(srcPath)
	if err != nil {
		return fmt.Errorf("opening %s: %w", srcPath, err)
	}
	defer in.Close()

	out, err := os.OpenFile(dstPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("creating %s: %w", dstPath, err)
	}
	if err := fn(in, out); err != nil {
		out.Close()
		return fmt.Errorf("transforming %s: %w", srcPath, err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("closing %s: %w", dstPath, err)
	}
	return nil
}

// NewArchiverFromConfig creates an Archiver based on the config type.
func NewArchiverFromConfig(cfg config.ArchiveConfig) (backup.Archiver, error) {
	switch cfg.Type {
	case "gzip", "":
		g, err := NewGzip(cfg.Level)
		if err != nil {
			return nil, err
		}
		return g, nil
	case "none":
		return None{}, nil
	default:
		return nil, fmt.Errorf("unknown archive type: %q", cfg.Type)
	}
}
