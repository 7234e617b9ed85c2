package manifest

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"treebak/internal/testutil"
)

type suffixFilter string

func (s suffixFilter) SkipDirectory(_, dir string) bool {
	return strings.HasSuffix(dir, string(s))
}

func newTestBuilder(filter DirectoryFilter) *Builder {
	return NewBuilder(newTestScanner(testutil.NewCountingOpener()), filter, NewNopLogger(), testutil.FixedClock())
}

// buildFixtureTree lays out:
//
//	root/a, root/sub/b, root/sub/deep/c, root/.hidden/h, root/skip/s,
//	root/build/o, root/link -> root/sub
func buildFixtureTree(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	testutil.WriteFile(t, filepath.Join(root, "a"), []byte("a"))
	testutil.WriteFile(t, filepath.Join(root, "sub", "b"), []byte("b"))
	testutil.WriteFile(t, filepath.Join(root, "sub", "deep", "c"), []byte("c"))
	testutil.WriteFile(t, filepath.Join(root, ".hidden", "h"), []byte("h"))
	testutil.WriteFile(t, filepath.Join(root, "skip", "s"), []byte("s"))
	testutil.WriteFile(t, filepath.Join(root, "build", "o"), []byte("o"))
	require.NoError(t, os.Symlink(filepath.Join(root, "sub"), filepath.Join(root, "link")))
	return root
}

func TestBuilder_FromFilesystem(t *testing.T) {
	root := buildFixtureTree(t)

	m, err := newTestBuilder(suffixFilter("/build")).FromFilesystem("host", "user", []string{root}, []string{filepath.Join(root, "skip")})
	require.NoError(t, err)

	assert.Equal(t, "manifest/host/user/2024-01-15T10:30:00.000000Z", m.Name())
	assert.Equal(t, []string{
		filepath.Join(root, "a"),
		filepath.Join(root, "sub", "b"),
		filepath.Join(root, "sub", "deep", "c"),
	}, m.Paths())

	for _, dir := range []string{root, filepath.Join(root, "sub"), filepath.Join(root, "sub", "deep")} {
		assert.FileExists(t, filepath.Join(dir, CacheFileName))
	}
	assert.NoFileExists(t, filepath.Join(root, "skip", CacheFileName))
}

func TestBuilder_FromFilesystem_Validation(t *testing.T) {
	root := t.TempDir()
	file := testutil.WriteFile(t, filepath.Join(root, "f"), []byte("f"))
	b := newTestBuilder(nil)

	tests := []struct {
		name    string
		host    string
		user    string
		roots   []string
		wantErr error
	}{
		{"missing host", "", "user", []string{root}, ErrInvalidArgument},
		{"missing user", "host", "", []string{root}, ErrInvalidArgument},
		{"no roots", "host", "user", nil, ErrInvalidArgument},
		{"missing root", "host", "user", []string{filepath.Join(root, "nope")}, ErrNotADirectory},
		{"file root", "host", "user", []string{file}, ErrNotADirectory},
		{"duplicate roots", "host", "user", []string{root, root}, ErrDuplicatePath},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := b.FromFilesystem(tt.host, tt.user, tt.roots, nil)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestBuilder_FromFilesystem_SkipsFailingDirectory(t *testing.T) {
	root := buildFixtureTree(t)
	broken := filepath.Join(root, "sub", "b")

	counting := testutil.NewCountingOpener()
	open := func(path string) (io.ReadCloser, error) {
		if path == broken {
			return nil, errors.New("input/output error")
		}
		return counting.Open(path)
	}
	scanner := NewScanner(NewDotfileCache(), NewNopLogger(), WithOpener(open))
	b := NewBuilder(scanner, nil, NewNopLogger(), testutil.FixedClock())

	m, err := b.FromFilesystem("host", "user", []string{root}, nil)
	require.NoError(t, err)

	assert.False(t, m.Get(broken).Found())
	assert.True(t, m.Get(filepath.Join(root, "a")).Found())
	assert.True(t, m.Get(filepath.Join(root, "sub", "deep", "c")).Found(), "subdirectories of a failed directory are still walked")
	assert.True(t, m.Get(filepath.Join(root, "skip", "s")).Found())
	assert.NoFileExists(t, filepath.Join(root, "sub", CacheFileName))
}

func TestBuilder_MultipleRoots(t *testing.T) {
	one := t.TempDir()
	two := t.TempDir()
	testutil.WriteNumberedFiles(t, one, 2)
	testutil.WriteNumberedFiles(t, two, 3)

	m, err := newTestBuilder(nil).FromFilesystem("host", "user", []string{one, two}, nil)
	require.NoError(t, err)
	assert.Equal(t, 5, m.Len())
	assert.True(t, m.Get(filepath.Join(two, "2")).Found())
}

func TestBuilder_FromCache(t *testing.T) {
	root := buildFixtureTree(t)
	b := newTestBuilder(nil)

	t.Run("fails without caches", func(t *testing.T) {
		_, err := b.FromCache("host", "user", []string{root}, nil)
		assert.ErrorIs(t, err, ErrNoCache)
	})

	t.Run("matches the scan that wrote the caches", func(t *testing.T) {
		scanned, err := b.FromFilesystem("host", "user", []string{root}, nil)
		require.NoError(t, err)

		cached, err := b.FromCache("host", "user", []string{root}, nil)
		require.NoError(t, err)
		assert.True(t, scanned.Equal(cached))
	})
}

func TestBuilder_UnchangedTreeHasSameEntries(t *testing.T) {
	root := buildFixtureTree(t)
	clock := testutil.FixedClock()
	b := NewBuilder(newTestScanner(testutil.NewCountingOpener()), nil, NewNopLogger(), clock)

	first, err := b.FromFilesystem("host", "user", []string{root}, nil)
	require.NoError(t, err)
	clock.Advance(time.Second)
	second, err := b.FromFilesystem("host", "user", []string{root}, nil)
	require.NoError(t, err)

	assert.NotEqual(t, first.Name(), second.Name())
	assert.True(t, first.SameEntries(second))
}
