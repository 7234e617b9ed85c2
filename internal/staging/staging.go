// Package staging hands out temporary files scoped to one operation, used
// to hold archived or downloaded blobs between the filesystem and a vault.
package staging

import (
	"fmt"
	"os"
	"sync"

	"treebak/internal/backup"
)

// Area creates temporary files inside a private directory. Each file is
// removed by its release function; Close removes anything left over along
// with the directory itself. Area is safe for concurrent use.
type Area struct {
	dir  string
	mu   sync.Mutex
	live map[string]struct{}
}

var _ backup.Scratch = (*Area)(nil)

// NewArea creates an Area in a fresh subdirectory of parent. An empty parent
// means the OS temp directory.
func NewArea(parent string) (*Area, error) {
	if parent != "" {
		if err := os.MkdirAll(parent, 0o700); err != nil {
			return nil, fmt.Errorf("failed to create staging directory: %w", err)
		}
	}
	dir, err := os.MkdirTemp(parent, "treebak-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create staging area: %w", err)
	}
	return &Area{dir: dir, live: make(map[string]struct{})}, nil
}

// Dir returns the directory temp files are created in.
func (a *Area) Dir() string { return a.dir }

// TempFile creates an empty file named after pattern and returns its path
// and a release function that deletes it.
func (a *Area) TempFile(pattern string) (string, func(), error) {
	f, err := os.CreateTemp(a.dir, pattern)
	if err != nil {
		return "", nil, fmt.Errorf("creating staged file: %w", err)
	}
	path := f.Name()
	if err := f.Close(); err != nil {
		os.Remove(path)
		return "", nil, fmt.Errorf("closing staged file: %w", err)
	}

	a.mu.Lock()
	a.live[path] = struct{}{}
	a.mu.Unlock()

	var once sync.Once
	release := func() {
		once.Do(func() {
			os.Remove(path)
			a.mu.Lock()
			delete(a.live, path)
			a.mu.Unlock()
		})
	}
	return path, release, nil
}

// Count returns the number of files handed out and not yet released.
func (a *Area) Count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.live)
}

// Close removes every remaining file and the area's directory.
func (a *Area) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.live = make(map[string]struct{})
	if err := os.RemoveAll(a.dir); err != nil {
		return fmt.Errorf("removing staging area: %w", err)
	}
	return nil
}
