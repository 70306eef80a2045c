// Package export streams validated datasets to CSV files with a JSON
// manifest that can regenerate the exact dataset SQL.
package export

import (
	"errors"
	"time"
)

// Static errors for configuration validation
var (
	ErrDirectoryRequired = errors.New("directory is required")
)

// Config contains export directory and retention settings
type Config struct {
	Directory       string        `yaml:"directory" default:"./exports"`
	Retention       time.Duration `yaml:"retention" default:"72h"`
	CleanupSchedule string        `yaml:"cleanupSchedule" default:"0 3 * * *"`
	DefaultRowLimit int           `yaml:"defaultRowLimit"`
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Directory == "" {
		return ErrDirectoryRequired
	}

	return nil
}
