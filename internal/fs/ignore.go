package fs

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	gitignore "github.com/denormal/go-gitignore"

	"treebak/internal/manifest"
)

// IgnoreFileName is the per-root file of extra ignore patterns.
const IgnoreFileName = ".treebakignore"

// IgnoreMatcher prunes subdirectories matching gitignore-style patterns.
// Patterns from config apply under every root; each root may add its own
// in <root>/.treebakignore. Patterns are matched against the directory's
// path relative to its root, so "build" matches at any depth and "/build"
// only directly under the root.
type IgnoreMatcher struct {
	patterns []string
	logger   manifest.Logger

	mu    sync.Mutex
	roots map[string]gitignore.GitIgnore
}

var _ manifest.DirectoryFilter = (*IgnoreMatcher)(nil)

// NewIgnoreMatcher creates an IgnoreMatcher from raw pattern strings.
// Blank lines and lines starting with '#' are skipped.
func NewIgnoreMatcher(rawPatterns []string, logger manifest.Logger) *IgnoreMatcher {
	return &IgnoreMatcher{
		patterns: cleanPatterns(rawPatterns),
		logger:   logger,
		roots:    make(map[string]gitignore.GitIgnore),
	}
}

// Patterns returns the cleaned config patterns.
func (m *IgnoreMatcher) Patterns() []string {
	return append([]string(nil), m.patterns...)
}

// SkipDirectory reports whether dir, found while walking root, is ignored.
func (m *IgnoreMatcher) SkipDirectory(root, dir string) bool {
	rel, err := filepath.Rel(root, dir)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return false
	}

	match := m.forRoot(root).Relative(filepath.ToSlash(rel), true)
	return match != nil && match.Ignore()
}

// forRoot compiles and caches the matcher for root.
func (m *IgnoreMatcher) forRoot(root string) gitignore.GitIgnore {
	m.mu.Lock()
	defer m.mu.Unlock()

	if g, ok := m.roots[root]; ok {
		return g
	}

	patterns := m.patterns
	extra, err := ParseIgnoreFile(filepath.Join(root, IgnoreFileName))
	if err != nil {
		m.logger.Warn("cannot read ignore file", "root", root, "error", err)
	}
	patterns = append(append([]string(nil), patterns...), cleanPatterns(extra)...)

	g := gitignore.New(strings.NewReader(strings.Join(patterns, "\n")), root, func(e gitignore.Error) bool {
		m.logger.Warn("skipping invalid ignore pattern", "root", root, "error", e.Error())
		return true
	})
	if g == nil {
		g = gitignore.New(strings.NewReader(""), root, nil)
	}
	m.roots[root] = g
	return g
}

func cleanPatterns(raw []string) []string {
	var out []string
	for _, p := range raw {
		p = strings.TrimSpace(p)
		if p == "" || strings.HasPrefix(p, "#") {
			continue
		}
		out = append(out, strings.ReplaceAll(p, "\\", "/"))
	}
	return out
}

// ParseIgnoreFile reads an ignore file and returns its raw lines.
// Returns nil and no error if the file does not exist.
func ParseIgnoreFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("opening ignore file: %w", err)
	}
	defer f.Close()

	var patterns []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		patterns = append(patterns, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading ignore file: %w", err)
	}
	return patterns, nil
}
