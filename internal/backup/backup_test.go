package backup_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"treebak/internal/archive"
	"treebak/internal/backup"
	"treebak/internal/manifest"
	"treebak/internal/staging"
	"treebak/internal/testutil"
	"treebak/internal/vault"
)

type harness struct {
	service *backup.Service
	vault   *vault.MemoryVault
	clock   *testutil.StubClock
	opener  *testutil.CountingOpener
}

func newHarness(t *testing.T, v backup.Vault) *harness {
	t.Helper()

	mem := vault.NewMemoryVault("test")
	if v == nil {
		v = mem
	}

	area, err := staging.NewArea(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { area.Close() })

	gz, err := archive.NewGzip(0)
	require.NoError(t, err)

	clock := testutil.FixedClock()
	opener := testutil.NewCountingOpener()
	logger := manifest.NewNopLogger()
	scanner := manifest.NewScanner(manifest.NewDotfileCache(), logger, manifest.WithOpener(opener.Open))
	builder := manifest.NewBuilder(scanner, nil, logger, clock)

	return &harness{
		service: backup.NewService(builder, v, gz, area, logger, backup.WithConcurrency(4)),
		vault:   mem,
		clock:   clock,
		opener:  opener,
	}
}

func TestContentChanged(t *testing.T) {
	a, err := manifest.NewFileEntry("/r/a", "data/x/1", manifest.StatInfo{Size: 1})
	require.NoError(t, err)
	b, err := manifest.NewFileEntry("/r/a", "data/x/2", manifest.StatInfo{Size: 1})
	require.NoError(t, err)
	aMoved, err := manifest.NewFileEntry("/r/a", "data/x/1", manifest.StatInfo{Size: 1, Mtime: 99})
	require.NoError(t, err)

	tests := []struct {
		name     string
		old, new manifest.Lookup
		want     bool
	}{
		{"both absent", manifest.Absent(), manifest.Absent(), true},
		{"added", manifest.Absent(), manifest.Present(a), true},
		{"removed", manifest.Present(a), manifest.Absent(), true},
		{"same object", manifest.Present(a), manifest.Present(a), false},
		{"metadata only", manifest.Present(a), manifest.Present(aMoved), false},
		{"new content", manifest.Present(a), manifest.Present(b), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, backup.ContentChanged(tt.old, tt.new))
		})
	}
}

func TestBackup_FirstRunUploadsEverything(t *testing.T) {
	h := newHarness(t, nil)
	root := t.TempDir()
	paths := testutil.WriteNumberedFiles(t, root, 3)

	res, err := h.service.Backup(context.Background(), "host", "user", []string{root}, nil)
	require.NoError(t, err)

	assert.False(t, res.Unchanged)
	assert.Empty(t, res.Previous)
	assert.Equal(t, 3, res.Changed)
	assert.Len(t, res.Uploaded, 3)
	assert.Equal(t, 0, res.AlreadyStored)

	for i, p := range paths {
		id := testutil.ObjectID(filepath.Base(p), testutil.NumberedContent(i))
		_, ok := h.vault.Blob(id)
		assert.True(t, ok, "object for %s stored", p)
	}

	names, err := h.service.ListManifests(context.Background(), "host", "user")
	require.NoError(t, err)
	assert.Equal(t, []string{"manifest/host/user/2024-01-15T10:30:00.000000Z"}, names)

	stored, err := h.service.ReadManifest(context.Background(), names[0])
	require.NoError(t, err)
	assert.True(t, stored.Equal(res.Manifest))
}

func TestBackup_UnchangedShortCircuits(t *testing.T) {
	h := newHarness(t, nil)
	root := t.TempDir()
	testutil.WriteNumberedFiles(t, root, 2)
	ctx := context.Background()

	first, err := h.service.Backup(ctx, "host", "user", []string{root}, nil)
	require.NoError(t, err)
	puts := h.vault.Puts()

	h.clock.Advance(time.Hour)
	second, err := h.service.Backup(ctx, "host", "user", []string{root}, nil)
	require.NoError(t, err)

	assert.True(t, second.Unchanged)
	assert.Equal(t, first.Manifest.Name(), second.Previous)
	assert.Equal(t, puts, h.vault.Puts(), "nothing uploaded or persisted")

	names, err := h.service.ListManifests(ctx, "host", "user")
	require.NoError(t, err)
	assert.Len(t, names, 1)
}

func TestBackup_OnlyChangedContentUploaded(t *testing.T) {
	h := newHarness(t, nil)
	root := t.TempDir()
	paths := testutil.WriteNumberedFiles(t, root, 3)
	ctx := context.Background()

	_, err := h.service.Backup(ctx, "host", "user", []string{root}, nil)
	require.NoError(t, err)

	testutil.WriteFile(t, paths[1], []byte("edited"))
	h.clock.Advance(time.Minute)

	res, err := h.service.Backup(ctx, "host", "user", []string{root}, nil)
	require.NoError(t, err)

	assert.Equal(t, 1, res.Changed)
	assert.Equal(t, []string{testutil.ObjectID("1", []byte("edited"))}, res.Uploaded)

	names, err := h.service.ListManifests(ctx, "host", "user")
	require.NoError(t, err)
	require.Len(t, names, 2)
	assert.Equal(t, res.Manifest.Name(), names[1])

	latest, err := h.service.LatestManifest(ctx, "host", "user")
	require.NoError(t, err)
	assert.Equal(t, res.Manifest.Name(), latest.Name())
}

func TestBackup_RemovalPersistsManifestWithoutUploads(t *testing.T) {
	h := newHarness(t, nil)
	root := t.TempDir()
	paths := testutil.WriteNumberedFiles(t, root, 2)
	ctx := context.Background()

	_, err := h.service.Backup(ctx, "host", "user", []string{root}, nil)
	require.NoError(t, err)
	require.NoError(t, os.Remove(paths[0]))
	h.clock.Advance(time.Minute)

	res, err := h.service.Backup(ctx, "host", "user", []string{root}, nil)
	require.NoError(t, err)

	assert.False(t, res.Unchanged)
	assert.Empty(t, res.Uploaded)
	assert.Equal(t, []string{paths[1]}, res.Manifest.Paths())
}

func TestBackup_DeduplicatesObjects(t *testing.T) {
	h := newHarness(t, nil)
	root := t.TempDir()
	testutil.WriteFile(t, filepath.Join(root, "one", "notes.txt"), []byte("same"))
	testutil.WriteFile(t, filepath.Join(root, "two", "notes.txt"), []byte("same"))

	res, err := h.service.Backup(context.Background(), "host", "user", []string{root}, nil)
	require.NoError(t, err)

	assert.Equal(t, 2, res.Changed)
	assert.Equal(t, []string{testutil.ObjectID("notes.txt", []byte("same"))}, res.Uploaded)
}

func TestBackup_ObjectAlreadyStored(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	first := t.TempDir()
	testutil.WriteFile(t, filepath.Join(first, "f"), []byte("shared"))
	_, err := h.service.Backup(ctx, "host", "user", []string{first}, nil)
	require.NoError(t, err)

	second := t.TempDir()
	testutil.WriteFile(t, filepath.Join(second, "f"), []byte("shared"))
	h.clock.Advance(time.Minute)

	res, err := h.service.Backup(ctx, "host", "user", []string{second}, nil)
	require.NoError(t, err)

	assert.Equal(t, 1, res.Changed)
	assert.Empty(t, res.Uploaded)
	assert.Equal(t, 1, res.AlreadyStored)
}

// failingVault rejects content uploads.
type failingVault struct {
	*vault.MemoryVault
}

var errUpload = errors.New("upload refused")

func (f failingVault) Put(ctx context.Context, key, localPath string) error {
	if strings.HasPrefix(key, manifest.ObjectPrefix) {
		return errUpload
	}
	return f.MemoryVault.Put(ctx, key, localPath)
}

func TestBackup_UploadFailureLeavesNoManifest(t *testing.T) {
	mem := vault.NewMemoryVault("failing")
	h := newHarness(t, failingVault{mem})
	root := t.TempDir()
	testutil.WriteNumberedFiles(t, root, 2)

	_, err := h.service.Backup(context.Background(), "host", "user", []string{root}, nil)
	require.ErrorIs(t, err, errUpload)

	keys, err := mem.List(context.Background(), manifest.NamePrefix)
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestListManifests(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	for _, key := range []string{
		"manifest/host/user/2024-01-02T00:00:00.000000Z",
		"manifest/host/user/2024-01-01T00:00:00.000000Z",
		"manifest/host/other/2024-01-03T00:00:00.000000Z",
		"manifest/hostname/user/2024-01-04T00:00:00.000000Z",
	} {
		require.NoError(t, h.vault.Put(ctx, key, testutil.WriteFile(t, filepath.Join(t.TempDir(), "m"), nil)))
	}

	names, err := h.service.ListManifests(ctx, "host", "user")
	require.NoError(t, err)
	assert.Equal(t, []string{
		"manifest/host/user/2024-01-01T00:00:00.000000Z",
		"manifest/host/user/2024-01-02T00:00:00.000000Z",
	}, names)

	_, err = h.service.ListManifests(ctx, "", "user")
	assert.ErrorIs(t, err, manifest.ErrInvalidArgument)
}

func TestLatestManifest_Empty(t *testing.T) {
	h := newHarness(t, nil)
	m, err := h.service.LatestManifest(context.Background(), "host", "user")
	require.NoError(t, err)
	assert.Equal(t, "", m.Name())
	assert.Equal(t, 0, m.Len())
}
