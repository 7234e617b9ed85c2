package app

import (
	"fmt"
	"os"
	"os/user"
	"path/filepath"
)

// GetDefaults returns application default paths, checking environment variables first.
// Environment variables:
//   - TREEBAK_CONFIG_PATH: config file location (default: ~/.config/treebak.toml)
//   - TREEBAK_HOME: base directory for treebak data (default: ~/.local/share/treebak)
func GetDefaults() (map[string]string, error) {
	configPath, err := getConfigPath()
	if err != nil {
		return nil, err
	}

	baseDir, err := getBaseDir()
	if err != nil {
		return nil, err
	}

	return map[string]string{
		"config_path": configPath,
		"base_dir":    baseDir,
		"log_dir":     filepath.Join(baseDir, "log"),
	}, nil
}

func getConfigPath() (string, error) {
	if path := os.Getenv("TREEBAK_CONFIG_PATH"); path != "" {
		return path, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(homeDir, ".config", "treebak.toml"), nil
}

func getBaseDir() (string, error) {
	if path := os.Getenv("TREEBAK_HOME"); path != "" {
		return path, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(homeDir, ".local", "share", "treebak"), nil
}

// Identity returns the host and user names manifests are filed under:
// the configured values, or the machine's hostname and the current login.
func Identity(hostname, username string) (string, string, error) {
	if hostname == "" {
		h, err := os.Hostname()
		if err != nil {
			return "", "", fmt.Errorf("determining hostname: %w", err)
		}
		hostname = h
	}
	if username == "" {
		u, err := user.Current()
		if err != nil {
			return "", "", fmt.Errorf("determining current user: %w", err)
		}
		username = u.Username
	}
	return hostname, username, nil
}
