package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// DefaultCacheThreshold is the file size above which an unchanged cached
// entry is trusted without re-hashing.
const DefaultCacheThreshold uint64 = 64 * 1024

// Config represents the main configuration for treebak.
type Config struct {
	Hostname           string           `toml:"hostname"`
	User               string           `toml:"user"`
	BaseDir            string           `toml:"base_dir"`
	LogDir             string           `toml:"log_dir"`
	Roots              []string         `toml:"roots"`
	IgnoredDirectories []string         `toml:"ignored_directories"`
	UploadConcurrency  int              `toml:"upload_concurrency"`
	Vaults             []VaultConfig    `toml:"vaults"`
	Encryption         EncryptionConfig `toml:"encryption"`
	Cache              CacheConfig      `toml:"cache"`
	Database           DatabaseConfig   `toml:"database"`
	Staging            StagingConfig    `toml:"staging"`
	Archive            ArchiveConfig    `toml:"archive"`
	Filesystem         FilesystemConfig `toml:"filesystem"`
}

// EncryptionConfig holds paths to the age key pair used for client-side
// encryption of content blobs.
type EncryptionConfig struct {
	Type           string `toml:"type"` // "none" (default), "age" or "test"
	PublicKeyPath  string `toml:"public_key_path"`
	PrivateKeyPath string `toml:"private_key_path"`
}

// FilesystemConfig holds filesystem-related settings.
type FilesystemConfig struct {
	// Ignore holds gitignore-style patterns; matching directories are not
	// walked.
	Ignore []string `toml:"ignore"`
}

// VaultConfig represents configuration for a vault backend.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type VaultConfig struct {
	Type string `toml:"type"` // "memory", "s3", or "filesystem"
	Name string `toml:"name"`

	// S3-specific fields (only used when Type == "s3")
	S3Bucket               string `toml:"s3_bucket,omitempty"`
	S3Prefix               string `toml:"s3_prefix,omitempty"`
	S3Region               string `toml:"s3_region,omitempty"`
	S3Endpoint             string `toml:"s3_endpoint,omitempty"`
	S3AccessKeyID          string `toml:"s3_access_key_id,omitempty"`
	S3SecretAccessKey      string `toml:"s3_secret_access_key,omitempty"`
	S3ServerSideEncryption string `toml:"s3_server_side_encryption,omitempty"` // e.g. "AES256"
	S3UsePathStyle         bool   `toml:"s3_use_path_style,omitempty"`

	// FileSystem-specific fields (only used when Type == "filesystem")
	FSVaultRoot string `toml:"fs_vault_root,omitempty"`
}

// CacheConfig selects where per-directory scan caches are kept.
type CacheConfig struct {
	Type      string `toml:"type"`      // "dotfile" (default) or "sqlite"
	Threshold uint64 `toml:"threshold"` // bytes; 0 means DefaultCacheThreshold
}

// DatabaseConfig represents configuration for the local side database.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type DatabaseConfig struct {
	Type    string `toml:"type"`               // "sqlite" or "memory"
	DataDir string `toml:"data_dir,omitempty"` // only used for type=sqlite
}

// StagingConfig controls where scoped temporary files are created.
type StagingConfig struct {
	StagingDir string `toml:"staging_dir,omitempty"` // empty means the OS temp dir
}

// ArchiveConfig selects how content is transformed before upload.
type ArchiveConfig struct {
	Type  string `toml:"type"`            // "gzip" (default) or "none"
	Level int    `toml:"level,omitempty"` // gzip level; 0 means default
}

// NewConfig creates a new Config with the provided values and default paths.
func NewConfig(hostname, user, baseDir string) *Config {
	return &Config{
		Hostname:          hostname,
		User:              user,
		BaseDir:           baseDir,
		LogDir:            filepath.Join(baseDir, "log"),
		UploadConcurrency: 4,
		Vaults: []VaultConfig{
			{Type: "filesystem", Name: "local", FSVaultRoot: filepath.Join(baseDir, "vault")},
		},
		Encryption: EncryptionConfig{
			Type:           "none",
			PublicKeyPath:  filepath.Join(baseDir, "keys", "treebak.pub"),
			PrivateKeyPath: filepath.Join(baseDir, "keys", "treebak.key"),
		},
		Cache:    CacheConfig{Type: "dotfile", Threshold: DefaultCacheThreshold},
		Database: DatabaseConfig{Type: "sqlite", DataDir: filepath.Join(baseDir, "db")},
		Staging:  StagingConfig{StagingDir: filepath.Join(baseDir, "staging")},
		Archive:  ArchiveConfig{Type: "gzip"},
	}
}

// Validate checks the settings every backup and restore depends on.
func (c *Config) Validate() error {
	var errs []error
	if c.Hostname == "" {
		errs = append(errs, errors.New("hostname is not set"))
	}
	if c.User == "" {
		errs = append(errs, errors.New("user is not set"))
	}
	if len(c.Vaults) == 0 {
		errs = append(errs, errors.New("no vaults configured"))
	}
	for _, r := range c.Roots {
		if !filepath.IsAbs(r) {
			errs = append(errs, fmt.Errorf("root %q is not an absolute path", r))
		}
	}
	if c.UploadConcurrency < 0 {
		errs = append(errs, fmt.Errorf("upload_concurrency must not be negative, got %d", c.UploadConcurrency))
	}
	return errors.Join(errs...)
}

// Manager handles reading and writing configuration.
type Manager struct{}

// Read decodes a Config from the provided reader.
func (m *Manager) Read(r io.Reader) (*Config, error) {
	var cfg Config
	if _, err := toml.NewDecoder(r).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}

// Write encodes a Config to the provided writer.
func (m *Manager) Write(w io.Writer, cfg *Config) error {
	if err := toml.NewEncoder(w).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// ReadFromFile reads a Config from the specified file path.
func ReadFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	cfg, err := m.Read(f)
	if err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	return cfg, nil
}

// writeToFile writes a Config to the specified file path.
func writeToFile(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	if err := m.Write(f, cfg); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

// Init initializes a new config file at the specified path with the provided Config.
func Init(path string, cfg *Config) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := writeToFile(path, cfg); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	return nil
}
