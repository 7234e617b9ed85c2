package backup

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Vault.Get for keys the vault does not hold.
var ErrNotFound = errors.New("key not found in vault")

// Vault is the remote key/blob store backups are written to. Keys are
// slash-separated ("data/...", "manifest/..."). Put and Get operate on local
// files so large blobs are streamed rather than held in memory.
//
// Put and Get either succeed or fail without leaving a partial blob or a
// partial local file visible under the target name.
type Vault interface {
	// Put uploads the file at localPath under key, replacing any existing blob.
	Put(ctx context.Context, key, localPath string) error

	// Get downloads key into localPath. Returns an error wrapping
	// ErrNotFound if the key does not exist.
	Get(ctx context.Context, key, localPath string) error

	// Exists reports whether key holds a blob.
	Exists(ctx context.Context, key string) (bool, error)

	// List returns every key starting with prefix, in lexical order.
	List(ctx context.Context, prefix string) ([]string, error)

	// ValidateSetup verifies that the vault is reachable and usable.
	ValidateSetup(ctx context.Context) error
}
