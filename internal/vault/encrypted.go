package vault

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"treebak/internal/backup"
	"treebak/internal/manifest"
)

// ErrLocked is returned when an encrypted blob is read without a
// DecryptionContext.
var ErrLocked = errors.New("vault is locked: passphrase required to decrypt content")

// EncryptedVault encrypts content blobs (keys under manifest.ObjectPrefix)
// on their way into an inner vault and decrypts them on the way out.
// Manifests pass through in plaintext so backups need only the public key.
type EncryptedVault struct {
	inner     backup.Vault
	encryptor backup.Encryptor
	decryptor backup.DecryptionContext
	scratch   backup.Scratch
}

var _ backup.Vault = (*EncryptedVault)(nil)

// NewEncryptedVault wraps inner. decryptor may be nil for write-only use;
// reading an encrypted blob then fails with ErrLocked.
func NewEncryptedVault(inner backup.Vault, enc backup.Encryptor, dec backup.DecryptionContext, scratch backup.Scratch) *EncryptedVault {
	return &EncryptedVault{inner: inner, encryptor: enc, decryptor: dec, scratch: scratch}
}

func encrypts(key string) bool {
	return strings.HasPrefix(key, manifest.ObjectPrefix)
}

// Put encrypts content blobs into a scratch file before uploading them.
func (v *EncryptedVault) Put(ctx context.Context, key, localPath string) error {
	if !encrypts(key) {
		return v.inner.Put(ctx, key, localPath)
	}

	tmp, release, err := v.scratch.TempFile("encrypted-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	defer release()

	if err := transform(localPath, tmp, v.encryptor.Encrypt); err != nil {
		return fmt.Errorf("encrypting %s: %w", key, err)
	}
	return v.inner.Put(ctx, key, tmp)
}

// Get downloads content blobs to a scratch file and decrypts them into
// localPath.
func (v *EncryptedVault) Get(ctx context.Context, key, localPath string) error {
	if !encrypts(key) {
		return v.inner.Get(ctx, key, localPath)
	}
	if v.decryptor == nil {
		return ErrLocked
	}

	tmp, release, err := v.scratch.TempFile("encrypted-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	defer release()

	if err := v.inner.Get(ctx, key, tmp); err != nil {
		return err
	}
	if err := transform(tmp, localPath, v.decryptor.Decrypt); err != nil {
		return fmt.Errorf("decrypting %s: %w", key, err)
	}
	return nil
}

func (v *EncryptedVault) Exists(ctx context.Context, key string) (bool, error) {
	return v.inner.Exists(ctx, key)
}

func (v *EncryptedVault) List(ctx context.Context, prefix string) ([]string, error) {
	return v.inner.List(ctx, prefix)
}

func (v *EncryptedVault) ValidateSetup(ctx context.Context) error {
	return v.inner.ValidateSetup(ctx)
}

// transform streams src through fn into dst, truncating dst.
func transform(src, dst string, fn func(r io.Reader, w io.Writer) error) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if err := fn(in, out); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
