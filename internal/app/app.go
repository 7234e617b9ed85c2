// Package app is the application layer between the CLI and the backup
// service. It builds every component from config, resolves raw paths, and
// records each vault-changing command as a run in the side database.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"treebak/internal/archive"
	"treebak/internal/backup"
	"treebak/internal/config"
	"treebak/internal/database"
	"treebak/internal/encryption"
	"treebak/internal/fs"
	"treebak/internal/manifest"
	"treebak/internal/staging"
	"treebak/internal/vault"
)

// ErrEncryptionDisabled is returned by key operations when no encryptor is
// configured.
var ErrEncryptionDisabled = errors.New("encryption is not enabled in config")

// MetadataKey is the vault key the side database snapshot is uploaded to.
func MetadataKey(host, user string) string {
	return "metadata/" + host + "/" + user + "/treebak.db"
}

// Options tune how an App is built.
type Options struct {
	// Stderr receives log records alongside the log file. Nil disables it.
	Stderr io.Writer

	// Verbose includes debug records.
	Verbose bool

	// IDs overrides run id generation.
	IDs backup.IDGenerator

	// Clock overrides the time manifests are named after.
	Clock manifest.Clock
}

// App wires config into a backup.Service and owns the resources it uses.
// The caller must call Close when done.
type App struct {
	cfg  *config.Config
	host string
	user string

	db        *database.SQLiteDatabase
	store     backup.Vault
	vault     backup.Vault
	encryptor backup.Encryptor
	scratch   *staging.Area
	archiver  backup.Archiver
	builder   *manifest.Builder
	service   *backup.Service
	logger    manifest.Logger

	op      *Operation
	logFile *os.File
}

// NewApp creates a fully wired App from cfg. operation names the CLI
// command being run (e.g. "backup", "restore").
func NewApp(ctx context.Context, cfg *config.Config, operation string, opts Options) (*App, error) {
	host, user, err := Identity(cfg.Hostname, cfg.User)
	if err != nil {
		return nil, err
	}
	if len(cfg.Vaults) == 0 {
		return nil, fmt.Errorf("no vaults configured")
	}
	if opts.IDs == nil {
		opts.IDs = backup.UUIDGenerator{}
	}
	if opts.Clock == nil {
		opts.Clock = manifest.RealClock{}
	}

	a := &App{cfg: cfg, host: host, user: user}
	ok := false
	defer func() {
		if !ok {
			a.release()
		}
	}()

	runID := opts.IDs.New()
	level := slog.LevelInfo
	if opts.Verbose {
		level = slog.LevelDebug
	}
	logger, logFile, err := newLogger(cfg.LogDir, runID, level, opts.Stderr)
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}
	a.logFile = logFile
	a.logger = &slogAdapter{l: logger}

	if a.store, err = vault.NewVaultFromConfig(ctx, cfg.Vaults[0]); err != nil {
		return nil, fmt.Errorf("creating vault: %w", err)
	}
	if err := a.store.ValidateSetup(ctx); err != nil {
		return nil, fmt.Errorf("validating vault: %w", err)
	}
	if a.scratch, err = staging.NewAreaFromConfig(cfg.Staging); err != nil {
		return nil, fmt.Errorf("creating staging area: %w", err)
	}
	if a.archiver, err = archive.NewArchiverFromConfig(cfg.Archive); err != nil {
		return nil, fmt.Errorf("creating archiver: %w", err)
	}
	if a.encryptor, err = encryption.NewEncryptorFromConfig(cfg.Encryption); err != nil {
		return nil, fmt.Errorf("creating encryptor: %w", err)
	}

	if a.db, err = database.NewDatabaseFromConfig(cfg.Database, host); err != nil {
		return nil, fmt.Errorf("creating database: %w", err)
	}
	if err := a.db.CheckMigrations(); err != nil {
		return nil, fmt.Errorf("database schema out of date: %w", err)
	}

	cache, err := a.cacheStore()
	if err != nil {
		return nil, err
	}
	threshold := cfg.Cache.Threshold
	if threshold == 0 {
		threshold = config.DefaultCacheThreshold
	}
	scanner := manifest.NewScanner(cache, a.logger, manifest.WithThreshold(threshold))
	a.builder = manifest.NewBuilder(scanner, fs.NewIgnoreMatcher(cfg.Filesystem.Ignore, a.logger), a.logger, opts.Clock)

	a.setVault(nil)
	a.op = NewOperation(runID, operation, "")

	ok = true
	return a, nil
}

func (a *App) cacheStore() (manifest.CacheStore, error) {
	switch a.cfg.Cache.Type {
	case "dotfile", "":
		return manifest.NewDotfileCache(), nil
	case "sqlite":
		return a.db.Cache(), nil
	default:
		return nil, fmt.Errorf("unknown cache type: %q", a.cfg.Cache.Type)
	}
}

// setVault (re)builds the service over the configured vault, wrapped for
// encryption when an encryptor is set. dec may be nil for write-only use.
func (a *App) setVault(dec backup.DecryptionContext) {
	a.vault = a.store
	if a.encryptor != nil {
		a.vault = vault.NewEncryptedVault(a.store, a.encryptor, dec, a.scratch)
	}

	concurrency := a.cfg.UploadConcurrency
	if concurrency == 0 {
		concurrency = 1
	}
	a.service = backup.NewService(a.builder, a.vault, a.archiver, a.scratch, a.logger, backup.WithConcurrency(concurrency))
}

// Host returns the host name manifests are filed under.
func (a *App) Host() string { return a.host }

// User returns the user name manifests are filed under.
func (a *App) User() string { return a.user }

// RunID returns the id this invocation logs and records under.
func (a *App) RunID() string { return a.op.RunID }

// persistOperation records the run in the database. Only commands that
// write to the vault call it.
func (a *App) persistOperation(parameters string) error {
	if a.op.Persisted() {
		return nil
	}
	a.op.Parameters = parameters
	run, err := a.db.CreateRun(a.op.RunID, a.op.Name, parameters)
	if err != nil {
		return fmt.Errorf("persisting run: %w", err)
	}
	a.op.ID = run.ID
	return nil
}

// roots returns the given raw roots, or the configured ones if none are given.
func (a *App) roots(raw []string) []string {
	if len(raw) > 0 {
		return raw
	}
	return a.cfg.Roots
}

// Backup scans roots (the configured roots when empty) and pushes what
// changed since the latest manifest.
func (a *App) Backup(ctx context.Context, rawRoots []string) (*backup.Result, error) {
	roots, err := fs.ResolveDirectories(a.roots(rawRoots))
	if err != nil {
		return nil, fmt.Errorf("resolving roots: %w", err)
	}
	if len(roots) == 0 {
		return nil, fmt.Errorf("%w: no roots given or configured", manifest.ErrInvalidArgument)
	}
	if a.encryptor != nil && !a.encryptor.IsConfigured() {
		return nil, fmt.Errorf("encryption keys missing: run 'treebak keys init' first")
	}

	if err := a.persistOperation("roots=" + strings.Join(roots, ",")); err != nil {
		return nil, err
	}

	res, err := a.service.Backup(ctx, a.host, a.user, roots, a.cfg.IgnoredDirectories)
	if err != nil {
		a.op.Fail()
		return nil, err
	}
	if !res.Unchanged {
		a.op.Manifest = res.Manifest.Name()
	}
	a.op.Uploaded = len(res.Uploaded)
	return res, nil
}

// Unlock decrypts the private key so Restore can read encrypted content.
// It is a no-op when encryption is disabled.
func (a *App) Unlock(passphrase string) error {
	if a.encryptor == nil {
		return nil
	}
	dec, err := a.encryptor.Unlock(passphrase)
	if err != nil {
		return err
	}
	a.setVault(dec)
	return nil
}

// NeedsPassphrase reports whether Restore requires Unlock first.
func (a *App) NeedsPassphrase() bool {
	return a.encryptor != nil
}

// Restore writes the files of a manifest under roots (the configured roots
// when empty) back to disk. Roots need not exist.
func (a *App) Restore(ctx context.Context, rawRoots []string, opts backup.RestoreOptions) (*backup.RestoreResult, error) {
	raw := a.roots(rawRoots)
	roots := make([]string, 0, len(raw))
	for _, r := range raw {
		abs, err := filepath.Abs(r)
		if err != nil {
			return nil, fmt.Errorf("resolving %s: %w", r, err)
		}
		roots = append(roots, abs)
	}
	if opts.Target != "" {
		target, err := filepath.Abs(opts.Target)
		if err != nil {
			return nil, fmt.Errorf("resolving target: %w", err)
		}
		opts.Target = target
	}

	params := "roots=" + strings.Join(roots, ",")
	if opts.Manifest != "" {
		params += " manifest=" + opts.Manifest
	}
	if err := a.persistOperation(params); err != nil {
		return nil, err
	}

	res, err := a.service.Restore(ctx, a.host, a.user, roots, opts)
	if err != nil {
		a.op.Fail()
		return nil, err
	}
	a.op.Manifest = res.Manifest
	return res, nil
}

// Scan builds a manifest of roots without uploading anything. With
// fromCache set, it is assembled from directory caches alone.
func (a *App) Scan(rawRoots []string, fromCache bool) (*manifest.Manifest, error) {
	roots, err := fs.ResolveDirectories(a.roots(rawRoots))
	if err != nil {
		return nil, fmt.Errorf("resolving roots: %w", err)
	}
	if fromCache {
		return a.builder.FromCache(a.host, a.user, roots, a.cfg.IgnoredDirectories)
	}
	return a.builder.FromFilesystem(a.host, a.user, roots, a.cfg.IgnoredDirectories)
}

// ListManifests returns this host/user's manifest names, oldest first.
func (a *App) ListManifests(ctx context.Context) ([]string, error) {
	return a.service.ListManifests(ctx, a.host, a.user)
}

// ShowManifest reads the named manifest, or the latest one when name is
// empty.
func (a *App) ShowManifest(ctx context.Context, name string) (*manifest.Manifest, error) {
	if name != "" {
		return a.service.ReadManifest(ctx, name)
	}
	m, err := a.service.LatestManifest(ctx, a.host, a.user)
	if err != nil {
		return nil, err
	}
	if m.Name() == "" {
		return nil, fmt.Errorf("%w for %s/%s", backup.ErrNoManifest, a.host, a.user)
	}
	return m, nil
}

// History returns the most recent recorded runs, newest first.
func (a *App) History(limit int) ([]database.Run, error) {
	return a.db.ListRuns(limit)
}

// KeysInit generates the encryption key pair protected by passphrase.
func (a *App) KeysInit(passphrase string) error {
	if a.encryptor == nil {
		return ErrEncryptionDisabled
	}
	return a.encryptor.Setup(passphrase)
}

// Close finalizes the run record and releases every resource. Persisted
// runs also upload a snapshot of the side database to the vault.
func (a *App) Close() error {
	var errs []error

	if a.op != nil && a.op.Persisted() {
		if err := a.db.FinishRun(a.op.ID, a.op.Status, a.op.Manifest, a.op.Uploaded); err != nil {
			errs = append(errs, fmt.Errorf("finishing run: %w", err))
		}
		if err := a.uploadMetadata(); err != nil {
			errs = append(errs, err)
		}
	}

	errs = append(errs, a.release())
	return errors.Join(errs...)
}

// uploadMetadata snapshots the database into scratch space and puts it
// under MetadataKey.
func (a *App) uploadMetadata() error {
	tmp, release, err := a.scratch.TempFile("db-*.db")
	if err != nil {
		return fmt.Errorf("creating temp file for db backup: %w", err)
	}
	defer release()

	// VACUUM INTO refuses to overwrite an existing file.
	if err := os.Remove(tmp); err != nil {
		return fmt.Errorf("preparing db backup: %w", err)
	}
	if err := a.db.BackupTo(tmp); err != nil {
		return err
	}
	if err := a.store.Put(context.Background(), MetadataKey(a.host, a.user), tmp); err != nil {
		return fmt.Errorf("uploading db backup: %w", err)
	}
	return nil
}

func (a *App) release() error {
	var errs []error
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing database: %w", err))
		}
		a.db = nil
	}
	if a.scratch != nil {
		if err := a.scratch.Close(); err != nil {
			errs = append(errs, fmt.Errorf("removing staging area: %w", err))
		}
		a.scratch = nil
	}
	if a.logFile != nil {
		a.logFile.Close()
		a.logFile = nil
	}
	return errors.Join(errs...)
}
