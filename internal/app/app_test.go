package app

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"treebak/internal/backup"
	"treebak/internal/config"
	"treebak/internal/database"
	"treebak/internal/manifest"
	"treebak/internal/testutil"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.NewConfig("host", "user", t.TempDir())
	cfg.Encryption.Type = "test"
	return cfg
}

func newTestApp(t *testing.T, cfg *config.Config, operation string) *App {
	t.Helper()
	a, err := NewApp(context.Background(), cfg, operation, Options{
		IDs:   testutil.NewStubIDGenerator(),
		Clock: testutil.FixedClock(),
	})
	if err != nil {
		t.Fatalf("NewApp() error = %v", err)
	}
	return a
}

func closeApp(t *testing.T, a *App) {
	t.Helper()
	if err := a.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
}

func TestApp_BackupAndRestore(t *testing.T) {
	cfg := testConfig(t)
	root := t.TempDir()
	file := testutil.WriteFile(t, filepath.Join(root, "docs", "letter.txt"), []byte("dear reader"))
	cfg.Roots = []string{root}
	ctx := context.Background()

	a := newTestApp(t, cfg, "backup")
	res, err := a.Backup(ctx, nil)
	if err != nil {
		t.Fatalf("Backup() error = %v", err)
	}
	closeApp(t, a)

	if len(res.Uploaded) != 1 {
		t.Fatalf("Backup() uploaded %d objects, want 1", len(res.Uploaded))
	}
	stored, err := os.ReadFile(filepath.Join(cfg.Vaults[0].FSVaultRoot, res.Uploaded[0]))
	if err != nil {
		t.Fatalf("reading stored object: %v", err)
	}
	if !bytes.HasPrefix(stored, []byte("TBENC")) {
		t.Error("stored object is not encrypted at rest")
	}
	if _, err := os.Stat(filepath.Join(cfg.Vaults[0].FSVaultRoot, MetadataKey("host", "user"))); err != nil {
		t.Errorf("metadata snapshot not uploaded: %v", err)
	}

	r := newTestApp(t, cfg, "restore")
	defer r.Close()
	if !r.NeedsPassphrase() {
		t.Fatal("NeedsPassphrase() = false, want true")
	}
	if err := r.Unlock("secret"); err != nil {
		t.Fatalf("Unlock() error = %v", err)
	}

	target := t.TempDir()
	restored, err := r.Restore(ctx, nil, backup.RestoreOptions{Target: target})
	if err != nil {
		t.Fatalf("Restore() error = %v", err)
	}
	if restored.Manifest != res.Manifest.Name() {
		t.Errorf("Restore() manifest = %q, want %q", restored.Manifest, res.Manifest.Name())
	}

	got, err := os.ReadFile(filepath.Join(target, file))
	if err != nil {
		t.Fatalf("reading restored file: %v", err)
	}
	if string(got) != "dear reader" {
		t.Errorf("restored content = %q, want %q", got, "dear reader")
	}
}

func TestApp_RestoreLocked(t *testing.T) {
	cfg := testConfig(t)
	root := t.TempDir()
	testutil.WriteFile(t, filepath.Join(root, "f"), []byte("x"))
	ctx := context.Background()

	a := newTestApp(t, cfg, "backup")
	if _, err := a.Backup(ctx, []string{root}); err != nil {
		t.Fatalf("Backup() error = %v", err)
	}
	closeApp(t, a)

	r := newTestApp(t, cfg, "restore")
	defer r.Close()
	if _, err := r.Restore(ctx, []string{root}, backup.RestoreOptions{Target: t.TempDir()}); err == nil {
		t.Error("Restore() without Unlock should fail")
	}
}

func TestApp_History(t *testing.T) {
	cfg := testConfig(t)
	root := t.TempDir()
	testutil.WriteNumberedFiles(t, root, 2)
	ctx := context.Background()

	a := newTestApp(t, cfg, "backup")
	if _, err := a.Backup(ctx, []string{root}); err != nil {
		t.Fatalf("Backup() error = %v", err)
	}
	closeApp(t, a)

	failed := newTestApp(t, cfg, "backup")
	if _, err := failed.Backup(ctx, []string{filepath.Join(root, "missing")}); err == nil {
		t.Fatal("Backup() of a missing root should fail")
	}
	closeApp(t, failed)

	h := newTestApp(t, cfg, "history")
	defer h.Close()
	runs, err := h.History(10)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	// Unresolvable roots never start a run.
	if len(runs) != 1 {
		t.Fatalf("History() returned %d runs, want 1", len(runs))
	}

	run := runs[0]
	if run.RunID != "run-1" || run.Operation != "backup" {
		t.Errorf("run = %q/%q, want run-1/backup", run.RunID, run.Operation)
	}
	if run.Status != database.StatusSucceeded {
		t.Errorf("Status = %q, want %q", run.Status, database.StatusSucceeded)
	}
	if run.Uploaded != 2 {
		t.Errorf("Uploaded = %d, want 2", run.Uploaded)
	}
	if want := "manifest/host/user/2024-01-15T10:30:00.000000Z"; run.Manifest != want {
		t.Errorf("Manifest = %q, want %q", run.Manifest, want)
	}
	if !run.FinishedAt.Valid {
		t.Error("FinishedAt not set")
	}
}

func TestApp_ScanAndManifests(t *testing.T) {
	cfg := testConfig(t)
	root := t.TempDir()
	testutil.WriteNumberedFiles(t, root, 3)
	ctx := context.Background()

	a := newTestApp(t, cfg, "scan")
	defer a.Close()

	if _, err := a.Scan([]string{root}, true); !errors.Is(err, manifest.ErrNoCache) {
		t.Errorf("Scan(fromCache) error = %v, want ErrNoCache", err)
	}
	if _, err := a.ShowManifest(ctx, ""); !errors.Is(err, backup.ErrNoManifest) {
		t.Errorf("ShowManifest() error = %v, want ErrNoManifest", err)
	}

	scanned, err := a.Scan([]string{root}, false)
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	cached, err := a.Scan([]string{root}, true)
	if err != nil {
		t.Fatalf("Scan(fromCache) error = %v", err)
	}
	if !scanned.Equal(cached) {
		t.Error("cache scan differs from filesystem scan")
	}

	res, err := a.Backup(ctx, []string{root})
	if err != nil {
		t.Fatalf("Backup() error = %v", err)
	}

	names, err := a.ListManifests(ctx)
	if err != nil {
		t.Fatalf("ListManifests() error = %v", err)
	}
	if !slices.Equal(names, []string{res.Manifest.Name()}) {
		t.Fatalf("ListManifests() = %v, want [%s]", names, res.Manifest.Name())
	}

	latest, err := a.ShowManifest(ctx, "")
	if err != nil {
		t.Fatalf("ShowManifest() error = %v", err)
	}
	if !latest.Equal(res.Manifest) {
		t.Error("latest manifest differs from the one just backed up")
	}

	named, err := a.ShowManifest(ctx, names[0])
	if err != nil {
		t.Fatalf("ShowManifest(%q) error = %v", names[0], err)
	}
	if !named.Equal(latest) {
		t.Error("named manifest differs from latest")
	}
}

func TestApp_SQLiteCache(t *testing.T) {
	cfg := testConfig(t)
	cfg.Cache.Type = "sqlite"
	root := t.TempDir()
	testutil.WriteNumberedFiles(t, root, 1)

	a := newTestApp(t, cfg, "scan")
	defer a.Close()

	if _, err := a.Scan([]string{root}, false); err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	if _, err := os.Stat(filepath.Join(root, manifest.CacheFileName)); !os.IsNotExist(err) {
		t.Errorf("dotfile cache written with sqlite cache configured: %v", err)
	}
	if _, err := a.Scan([]string{root}, true); err != nil {
		t.Errorf("Scan(fromCache) error = %v", err)
	}
}

func TestApp_KeysInit(t *testing.T) {
	cfg := testConfig(t)
	a := newTestApp(t, cfg, "keys")
	defer a.Close()
	if err := a.KeysInit("pw"); err != nil {
		t.Fatalf("KeysInit() error = %v", err)
	}
	if err := a.Unlock("pw"); err != nil {
		t.Errorf("Unlock() error = %v", err)
	}
	if err := a.Unlock("wrong"); err == nil {
		t.Error("Unlock() with the wrong passphrase should fail")
	}

	cfg = testConfig(t)
	cfg.Encryption.Type = "none"
	plain := newTestApp(t, cfg, "keys")
	defer plain.Close()
	if err := plain.KeysInit("pw"); !errors.Is(err, ErrEncryptionDisabled) {
		t.Errorf("KeysInit() error = %v, want ErrEncryptionDisabled", err)
	}
	if plain.NeedsPassphrase() {
		t.Error("NeedsPassphrase() = true without encryption")
	}
	if err := plain.Unlock(""); err != nil {
		t.Errorf("Unlock() error = %v", err)
	}
}

func TestNewApp_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"no vaults", func(c *config.Config) { c.Vaults = nil }},
		{"unknown vault", func(c *config.Config) { c.Vaults[0].Type = "tape" }},
		{"unknown cache", func(c *config.Config) { c.Cache.Type = "redis" }},
		{"unknown archive", func(c *config.Config) { c.Archive.Type = "zstd" }},
		{"unknown encryption", func(c *config.Config) { c.Encryption.Type = "rot13" }},
		{"unknown database", func(c *config.Config) { c.Database.Type = "postgres" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(t)
			tt.mutate(cfg)
			a, err := NewApp(context.Background(), cfg, "backup", Options{})
			if err == nil {
				t.Error("NewApp() error = nil, want error")
			}
			if a != nil {
				t.Errorf("NewApp() = %v, want nil", a)
			}
		})
	}
}

func TestNewApp_UnreachableVault(t *testing.T) {
	cfg := testConfig(t)
	cfg.Vaults = []config.VaultConfig{{
		Type:              "s3",
		Name:              "offline",
		S3Bucket:          "bucket",
		S3Region:          "us-east-1",
		S3Endpoint:        "http://127.0.0.1:1",
		S3AccessKeyID:     "access",
		S3SecretAccessKey: "secret",
		S3UsePathStyle:    true,
	}}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	a, err := NewApp(ctx, cfg, "backup", Options{})
	if err == nil {
		a.Close()
		t.Fatal("NewApp() with an unreachable vault should fail")
	}
}
