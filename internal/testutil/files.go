package testutil

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
)

// NumberedContent returns the fixture content for file number i.
func NumberedContent(i int) []byte {
	return []byte(fmt.Sprintf("This is content number %d", i))
}

// WriteNumberedFiles writes files named "0".."n-1" into dir, each holding
// NumberedContent(i), and returns their absolute paths.
func WriteNumberedFiles(t *testing.T, dir string, n int) []string {
	t.Helper()

	paths := make([]string, n)
	for i := range n {
		paths[i] = WriteFile(t, filepath.Join(dir, fmt.Sprint(i)), NumberedContent(i))
	}
	return paths
}

// WriteFile writes content to path, creating parent directories, and
// returns the absolute path.
func WriteFile(t *testing.T, path string, content []byte) string {
	t.Helper()

	abs, err := filepath.Abs(path)
	if err != nil {
		t.Fatalf("resolving %s: %v", path, err)
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		t.Fatalf("creating parent of %s: %v", abs, err)
	}
	if err := os.WriteFile(abs, content, 0o644); err != nil {
		t.Fatalf("writing %s: %v", abs, err)
	}
	return abs
}

// MkdirAll creates dir and its parents and returns the absolute path.
func MkdirAll(t *testing.T, dir string) string {
	t.Helper()

	abs, err := filepath.Abs(dir)
	if err != nil {
		t.Fatalf("resolving %s: %v", dir, err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		t.Fatalf("creating %s: %v", abs, err)
	}
	return abs
}

// CountingOpener opens files like os.Open and counts the opens per path,
// so tests can observe which files had their content read.
type CountingOpener struct {
	mu     sync.Mutex
	counts map[string]int
}

func NewCountingOpener() *CountingOpener {
	return &CountingOpener{counts: map[string]int{}}
}

// Open satisfies the scanner's opener signature.
func (c *CountingOpener) Open(path string) (io.ReadCloser, error) {
	c.mu.Lock()
	c.counts[path]++
	c.mu.Unlock()
	return os.Open(path)
}

// Count returns how many times path was opened.
func (c *CountingOpener) Count(path string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts[path]
}

// Total returns the number of opens across all paths.
func (c *CountingOpener) Total() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, v := range c.counts {
		n += v
	}
	return n
}

// Reset clears all counts.
func (c *CountingOpener) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counts = map[string]int{}
}
