package staging

import "treebak/internal/config"

// NewAreaFromConfig creates an Area below the configured staging directory.
func NewAreaFromConfig(cfg config.StagingConfig) (*Area, error) {
	return NewArea(cfg.StagingDir)
}
