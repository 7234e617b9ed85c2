package archive

import (
	"bytes"
	"compress/gzip"
	"os"
	"path/filepath"
	"testing"

	"treebak/internal/backup"
	"treebak/internal/config"
)

func writeTemp(t *testing.T, name string, data []byte) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, data, 0o644); err != nil {
		t.Fatalf("writing %s: %v", p, err)
	}
	return p
}

func roundTrip(t *testing.T, a backup.Archiver, data []byte) (archived, restored []byte) {
	t.Helper()
	dir := t.TempDir()
	src := writeTemp(t, "src", data)
	blob := filepath.Join(dir, "blob")
	dst := filepath.Join(dir, "dst")

	if err := a.Compress(src, blob); err != nil {
		t.Fatalf("Compress() error = %v", err)
	}
	if err := a.Decompress(blob, dst); err != nil {
		t.Fatalf("Decompress() error = %v", err)
	}

	archived, _ = os.ReadFile(blob)
	restored, _ = os.ReadFile(dst)
	return archived, restored
}

func TestGzip_RoundTrip(t *testing.T) {
	g, err := NewGzip(0)
	if err != nil {
		t.Fatalf("NewGzip() error = %v", err)
	}

	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"text", []byte("This is content number 0")},
		{"compressible", bytes.Repeat([]byte("abc"), 100000)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			archived, restored := roundTrip(t, g, tt.data)
			if !bytes.Equal(restored, tt.data) {
				t.Errorf("restored %d bytes, want %d", len(restored), len(tt.data))
			}
			if _, err := gzip.NewReader(bytes.NewReader(archived)); err != nil {
				t.Errorf("archived blob is not gzip: %v", err)
			}
		})
	}

	archived, _ := roundTrip(t, g, bytes.Repeat([]byte("abc"), 100000))
	if len(archived) >= 300000 {
		t.Errorf("compressed size = %d, want smaller than input", len(archived))
	}
}

func TestGzip_InvalidLevel(t *testing.T) {
	if _, err := NewGzip(42); err == nil {
		t.Error("NewGzip(42) expected error")
	}
}

func TestGzip_DecompressRejectsGarbage(t *testing.T) {
	g, _ := NewGzip(gzip.BestSpeed)
	src := writeTemp(t, "blob", []byte("not gzip"))
	if err := g.Decompress(src, filepath.Join(t.TempDir(), "out")); err == nil {
		t.Error("Decompress() of non-gzip data expected error")
	}
}

func TestNone_RoundTrip(t *testing.T) {
	data := []byte("stored as is")
	archived, restored := roundTrip(t, None{}, data)
	if !bytes.Equal(archived, data) || !bytes.Equal(restored, data) {
		t.Errorf("None changed content: archived %q restored %q", archived, restored)
	}
}

func TestDecompress_OverwritesDestination(t *testing.T) {
	dst := writeTemp(t, "dst", []byte("old content that is longer"))
	src := writeTemp(t, "src", []byte("new"))

	if err := (None{}).Decompress(src, dst); err != nil {
		t.Fatalf("Decompress() error = %v", err)
	}
	got, _ := os.ReadFile(dst)
	if string(got) != "new" {
		t.Errorf("destination = %q, want %q", got, "new")
	}
}

func TestNewArchiverFromConfig(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.ArchiveConfig
		wantErr bool
	}{
		{"default", config.ArchiveConfig{}, false},
		{"gzip", config.ArchiveConfig{Type: "gzip", Level: 9}, false},
		{"gzip bad level", config.ArchiveConfig{Type: "gzip", Level: 99}, true},
		{"none", config.ArchiveConfig{Type: "none"}, false},
		{"unknown", config.ArchiveConfig{Type: "zstd"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NewArchiverFromConfig(tt.cfg)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewArchiverFromConfig() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && got == nil {
				t.Error("NewArchiverFromConfig() returned nil archiver")
			}
		})
	}
}
