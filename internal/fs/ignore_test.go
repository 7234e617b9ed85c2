package fs

import (
	"os"
	"path/filepath"
	"testing"

	"treebak/internal/manifest"
)

func TestNewIgnoreMatcher(t *testing.T) {
	m := NewIgnoreMatcher([]string{"", "  ", "# comment", "node_modules", `build\out`}, manifest.NewNopLogger())
	got := m.Patterns()
	if len(got) != 2 {
		t.Fatalf("expected 2 patterns, got %d: %v", len(got), got)
	}
	if got[1] != "build/out" {
		t.Errorf("expected backslashes normalized, got %s", got[1])
	}
}

func TestIgnoreMatcher_SkipDirectory(t *testing.T) {
	root := "/backup/root"

	tests := []struct {
		name     string
		patterns []string
		dir      string
		want     bool
	}{
		{
			name:     "name matches directly under root",
			patterns: []string{"node_modules"},
			dir:      "/backup/root/node_modules",
			want:     true,
		},
		{
			name:     "name matches at depth",
			patterns: []string{"node_modules"},
			dir:      "/backup/root/web/app/node_modules",
			want:     true,
		},
		{
			name:     "anchored pattern matches at root",
			patterns: []string{"/build"},
			dir:      "/backup/root/build",
			want:     true,
		},
		{
			name:     "anchored pattern does not match at depth",
			patterns: []string{"/build"},
			dir:      "/backup/root/src/build",
			want:     false,
		},
		{
			name:     "path pattern",
			patterns: []string{"src/generated"},
			dir:      "/backup/root/src/generated",
			want:     true,
		},
		{
			name:     "glob",
			patterns: []string{"*.cache"},
			dir:      "/backup/root/thumbs.cache",
			want:     true,
		},
		{
			name:     "directory-only pattern",
			patterns: []string{"tmp/"},
			dir:      "/backup/root/tmp",
			want:     true,
		},
		{
			name:     "negation re-includes",
			patterns: []string{"logs*", "!logs-keep"},
			dir:      "/backup/root/logs-keep",
			want:     false,
		},
		{
			name:     "no patterns",
			patterns: nil,
			dir:      "/backup/root/anything",
			want:     false,
		},
		{
			name:     "root itself is never skipped",
			patterns: []string{"root"},
			dir:      "/backup/root",
			want:     false,
		},
		{
			name:     "outside root",
			patterns: []string{"other"},
			dir:      "/backup/other",
			want:     false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			m := NewIgnoreMatcher(tt.patterns, manifest.NewNopLogger())
			if got := m.SkipDirectory(root, tt.dir); got != tt.want {
				t.Errorf("SkipDirectory(%q) = %v, want %v", tt.dir, got, tt.want)
			}
		})
	}
}

func TestIgnoreMatcher_IgnoreFile(t *testing.T) {
	root := t.TempDir()
	content := "# local rules\nvendor\n\n/cache\n"
	if err := os.WriteFile(filepath.Join(root, IgnoreFileName), []byte(content), 0o644); err != nil {
		t.Fatalf("writing ignore file: %v", err)
	}

	m := NewIgnoreMatcher([]string{"node_modules"}, manifest.NewNopLogger())

	for dir, want := range map[string]bool{
		filepath.Join(root, "vendor"):       true,
		filepath.Join(root, "cache"):        true,
		filepath.Join(root, "node_modules"): true,
		filepath.Join(root, "a", "cache"):   false,
		filepath.Join(root, "src"):          false,
	} {
		if got := m.SkipDirectory(root, dir); got != want {
			t.Errorf("SkipDirectory(%q) = %v, want %v", dir, got, want)
		}
	}

	other := t.TempDir()
	if m.SkipDirectory(other, filepath.Join(other, "vendor")) {
		t.Error("ignore file rules leaked into another root")
	}
}

func TestParseIgnoreFile(t *testing.T) {
	t.Run("reads raw lines", func(t *testing.T) {
		t.Parallel()
		path := filepath.Join(t.TempDir(), IgnoreFileName)
		if err := os.WriteFile(path, []byte("*.log\n# comment\n\n*.tmp\nbuild/output\n"), 0o644); err != nil {
			t.Fatalf("writing test file: %v", err)
		}

		patterns, err := ParseIgnoreFile(path)
		if err != nil {
			t.Fatalf("ParseIgnoreFile() error = %v", err)
		}
		if len(patterns) != 5 {
			t.Fatalf("expected 5 raw lines, got %d", len(patterns))
		}
		if got := cleanPatterns(patterns); len(got) != 3 {
			t.Errorf("expected 3 cleaned patterns, got %d", len(got))
		}
	})

	t.Run("returns nil for missing file", func(t *testing.T) {
		t.Parallel()
		patterns, err := ParseIgnoreFile("/nonexistent/" + IgnoreFileName)
		if err != nil {
			t.Fatalf("ParseIgnoreFile() error = %v", err)
		}
		if patterns != nil {
			t.Errorf("expected nil patterns, got %v", patterns)
		}
	})
}
