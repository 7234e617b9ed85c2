package database

import (
	"fmt"
	"os"
	"path/filepath"

	"treebak/internal/config"
)

// NewDatabaseFromConfig opens the side database selected by cfg. sqlite
// databases live at <data_dir>/<host>.db.
func NewDatabaseFromConfig(cfg config.DatabaseConfig, host string) (*SQLiteDatabase, error) {
	switch cfg.Type {
	case "sqlite":
		if cfg.DataDir == "" {
			return nil, fmt.Errorf("data_dir required for sqlite database")
		}
		if host == "" {
			return nil, fmt.Errorf("host required for sqlite database")
		}
		if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
			return nil, fmt.Errorf("creating data dir: %w", err)
		}
		return NewSQLiteDatabase(filepath.Join(cfg.DataDir, host+".db"))
	case "memory":
		return NewSQLiteDatabase(":memory:")
	default:
		return nil, fmt.Errorf("unknown database type: %s", cfg.Type)
	}
}
