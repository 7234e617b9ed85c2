// Package backup decides which files of a freshly built manifest must be
// uploaded, pushes their content and the manifest to a Vault, and restores
// files from persisted manifests.
package backup

import (
	"context"
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"

	"treebak/internal/manifest"
)

// ErrNoManifest is returned when a restore finds no persisted manifest.
var ErrNoManifest = errors.New("no manifest found")

// Service coordinates the manifest builder, archiver and vault to perform
// backups and restores.
type Service struct {
	builder     *manifest.Builder
	vault       Vault
	archiver    Archiver
	scratch     Scratch
	logger      manifest.Logger
	concurrency int
}

// Option configures a Service.
type Option func(*Service)

// WithConcurrency bounds the number of blobs transferred at once.
// Values below 1 are treated as 1.
func WithConcurrency(n int) Option {
	return func(s *Service) { s.concurrency = max(n, 1) }
}

// NewService creates a Service with the provided dependencies.
func NewService(builder *manifest.Builder, vault Vault, archiver Archiver, scratch Scratch, logger manifest.Logger, opts ...Option) *Service {
	s := &Service{
		builder:     builder,
		vault:       vault,
		archiver:    archiver,
		scratch:     scratch,
		logger:      logger,
		concurrency: 1,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ListManifests returns the names of every manifest persisted for
// host/user, oldest first.
func (s *Service) ListManifests(ctx context.Context, host, user string) ([]string, error) {
	if host == "" || user == "" {
		return nil, fmt.Errorf("%w: host and user are required", manifest.ErrInvalidArgument)
	}

	prefix := manifest.NamePrefixFor(host, user)
	keys, err := s.vault.List(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("listing manifests: %w", err)
	}

	names := make([]string, 0, len(keys))
	for _, k := range keys {
		if k == prefix || !strings.HasPrefix(k, prefix) {
			continue
		}
		names = append(names, k)
	}
	slices.Sort(names)
	return names, nil
}

// LatestManifest returns the most recent manifest persisted for host/user,
// or an empty manifest if there is none.
func (s *Service) LatestManifest(ctx context.Context, host, user string) (*manifest.Manifest, error) {
	names, err := s.ListManifests(ctx, host, user)
	if err != nil {
		return nil, err
	}
	if len(names) == 0 {
		return manifest.Empty(), nil
	}
	return s.ReadManifest(ctx, names[len(names)-1])
}

// ReadManifest downloads and parses the manifest stored under name.
func (s *Service) ReadManifest(ctx context.Context, name string) (*manifest.Manifest, error) {
	tmp, release, err := s.scratch.TempFile("manifest-*")
	if err != nil {
		return nil, fmt.Errorf("creating temp file: %w", err)
	}
	defer release()

	if err := s.vault.Get(ctx, name, tmp); err != nil {
		return nil, fmt.Errorf("downloading manifest %s: %w", name, err)
	}

	f, err := os.Open(tmp)
	if err != nil {
		return nil, fmt.Errorf("opening manifest %s: %w", name, err)
	}
	defer f.Close()

	m, err := manifest.ReadRecords(f)
	if err != nil {
		return nil, fmt.Errorf("parsing manifest %s: %w", name, err)
	}
	return m, nil
}

// PutManifest serializes m and stores it in the vault under its own name.
func (s *Service) PutManifest(ctx context.Context, m *manifest.Manifest) error {
	tmp, release, err := s.scratch.TempFile("manifest-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	defer release()

	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("opening temp file: %w", err)
	}
	if err := m.WriteRecords(f); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}

	if err := s.vault.Put(ctx, m.Name(), tmp); err != nil {
		return fmt.Errorf("uploading manifest %s: %w", m.Name(), err)
	}
	return nil
}
