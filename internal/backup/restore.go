package backup

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"treebak/internal/manifest"
)

// RestoreOptions selects what a restore reads and where it writes.
type RestoreOptions struct {
	// Manifest names the manifest to restore from. Empty means the latest.
	Manifest string

	// Target, when set, is prepended to every restored path instead of
	// writing files back to their original location.
	Target string
}

// RestoreResult summarizes a restore.
type RestoreResult struct {
	Manifest string
	Restored []string
}

// Restore writes every file of the selected manifest that lies under one of
// roots back to disk, creating parent directories as needed. Metadata is
// reapplied on a best-effort basis.
func (s *Service) Restore(ctx context.Context, host, user string, roots []string, opts RestoreOptions) (*RestoreResult, error) {
	if len(roots) == 0 {
		return nil, fmt.Errorf("%w: at least one root is required", manifest.ErrInvalidArgument)
	}

	absRoots := make([]string, 0, len(roots))
	for _, r := range roots {
		abs, err := filepath.Abs(r)
		if err != nil {
			return nil, fmt.Errorf("resolving %s: %w", r, err)
		}
		absRoots = append(absRoots, abs)
	}

	m, err := s.selectManifest(ctx, host, user, opts.Manifest)
	if err != nil {
		return nil, err
	}
	s.logger.Info("restore started", "manifest", m.Name(), "roots", strings.Join(absRoots, ","))

	res := &RestoreResult{Manifest: m.Name()}
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for p, e := range m.All() {
		if !underAnyRoot(p, absRoots) {
			continue
		}
		dest := p
		if opts.Target != "" {
			dest = filepath.Join(opts.Target, p)
		}
		g.Go(func() error {
			if err := s.restoreEntry(gctx, e, dest); err != nil {
				return err
			}
			mu.Lock()
			res.Restored = append(res.Restored, dest)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	slices.Sort(res.Restored)
	s.logger.Info("restore complete", "manifest", m.Name(), "files", len(res.Restored))
	return res, nil
}

func (s *Service) selectManifest(ctx context.Context, host, user, name string) (*manifest.Manifest, error) {
	if name != "" {
		return s.ReadManifest(ctx, name)
	}
	m, err := s.LatestManifest(ctx, host, user)
	if err != nil {
		return nil, err
	}
	if m.Name() == "" {
		return nil, fmt.Errorf("%w for %s/%s", ErrNoManifest, host, user)
	}
	return m, nil
}

func (s *Service) restoreEntry(ctx context.Context, e manifest.FileEntry, dest string) error {
	tmp, release, err := s.scratch.TempFile("object-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	defer release()

	if err := s.vault.Get(ctx, e.ObjectID(), tmp); err != nil {
		return fmt.Errorf("downloading %s: %w", e.Path(), err)
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("creating parent of %s: %w", dest, err)
	}
	if err := s.archiver.Decompress(tmp, dest); err != nil {
		return fmt.Errorf("extracting %s: %w", dest, err)
	}
	if err := e.StatInfo().ApplyTo(dest); err != nil {
		s.logger.Warn("could not restore file metadata", "path", dest, "error", err)
	}

	s.logger.Debug("file restored", "path", dest, "object_id", e.ObjectID())
	return nil
}

// underAnyRoot reports whether p is one of roots or lies beneath one.
func underAnyRoot(p string, roots []string) bool {
	for _, root := range roots {
		if p == root {
			return true
		}
		prefix := root
		if !strings.HasSuffix(prefix, string(filepath.Separator)) {
			prefix += string(filepath.Separator)
		}
		if strings.HasPrefix(p, prefix) {
			return true
		}
	}
	return false
}
