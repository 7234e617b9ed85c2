package backup

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"golang.org/x/sync/errgroup"

	"treebak/internal/manifest"
)

// Result summarizes a backup run.
type Result struct {
	// Manifest is the freshly built manifest. It was persisted unless
	// Unchanged is set.
	Manifest *manifest.Manifest

	// Previous is the name of the manifest the run was compared against,
	// empty if there was none.
	Previous string

	// Unchanged is set when the fresh manifest matched the previous one and
	// nothing was uploaded or persisted.
	Unchanged bool

	// Changed counts paths whose content differs from the previous manifest.
	Changed int

	// Uploaded lists the object ids pushed to the vault, sorted.
	Uploaded []string

	// AlreadyStored counts changed objects the vault already held.
	AlreadyStored int
}

// ContentChanged reports whether a path's content differs between two
// lookups. An absent lookup on either side always counts as a change.
func ContentChanged(old, new manifest.Lookup) bool {
	return old.ChecksumDiffers(new) || new.ChecksumDiffers(old)
}

// Backup builds a manifest of roots for host/user, uploads the content that
// changed since the latest persisted manifest, and persists the new manifest.
func (s *Service) Backup(ctx context.Context, host, user string, roots, ignored []string) (*Result, error) {
	latest, err := s.LatestManifest(ctx, host, user)
	if err != nil {
		return nil, fmt.Errorf("loading latest manifest: %w", err)
	}

	fresh, err := s.builder.FromFilesystem(host, user, roots, ignored)
	if err != nil {
		return nil, fmt.Errorf("building manifest: %w", err)
	}
	s.logger.Info("manifest built", "manifest", fresh.Name(), "files", fresh.Len())

	return s.Push(ctx, latest, fresh)
}

type upload struct {
	objectID string
	path     string
}

// Push uploads every object of fresh whose content differs from latest and
// is not already in the vault, then persists fresh. The manifest is only
// persisted once every upload has succeeded.
func (s *Service) Push(ctx context.Context, latest, fresh *manifest.Manifest) (*Result, error) {
	res := &Result{Manifest: fresh, Previous: latest.Name()}

	if fresh.SameEntries(latest) {
		res.Unchanged = true
		s.logger.Info("no changes since latest manifest", "manifest", latest.Name())
		return res, nil
	}

	var pending []upload
	queued := make(map[string]bool)
	for p, e := range fresh.All() {
		if !ContentChanged(latest.Get(p), manifest.Present(e)) {
			continue
		}
		res.Changed++
		if queued[e.ObjectID()] {
			s.logger.Debug("object already queued", "path", p, "object_id", e.ObjectID())
			continue
		}
		queued[e.ObjectID()] = true
		pending = append(pending, upload{objectID: e.ObjectID(), path: p})
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for _, u := range pending {
		g.Go(func() error {
			uploaded, err := s.uploadObject(gctx, u)
			if err != nil {
				return err
			}
			mu.Lock()
			defer mu.Unlock()
			if uploaded {
				res.Uploaded = append(res.Uploaded, u.objectID)
			} else {
				res.AlreadyStored++
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	slices.Sort(res.Uploaded)

	if err := s.PutManifest(ctx, fresh); err != nil {
		return nil, err
	}
	s.logger.Info("manifest persisted", "manifest", fresh.Name(), "changed", res.Changed, "uploaded", len(res.Uploaded))
	return res, nil
}

// uploadObject archives and uploads one object unless the vault already
// has it. It reports whether an upload happened.
func (s *Service) uploadObject(ctx context.Context, u upload) (bool, error) {
	exists, err := s.vault.Exists(ctx, u.objectID)
	if err != nil {
		return false, fmt.Errorf("checking %s: %w", u.objectID, err)
	}
	if exists {
		s.logger.Debug("object already stored", "path", u.path, "object_id", u.objectID)
		return false, nil
	}

	tmp, release, err := s.scratch.TempFile("object-*")
	if err != nil {
		return false, fmt.Errorf("creating temp file: %w", err)
	}
	defer release()

	if err := s.archiver.Compress(u.path, tmp); err != nil {
		return false, fmt.Errorf("archiving %s: %w", u.path, err)
	}
	if err := s.vault.Put(ctx, u.objectID, tmp); err != nil {
		return false, fmt.Errorf("uploading %s: %w", u.path, err)
	}

	s.logger.Info("object uploaded", "path", u.path, "object_id", u.objectID)
	return true, nil
}
