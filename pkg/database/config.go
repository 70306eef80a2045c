// Package database provides the PostgreSQL client used by all pipeline stages
package database

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Static errors for configuration validation
var (
	ErrHostRequired     = errors.New("host is required")
	ErrDatabaseRequired = errors.New("database is required")
	ErrUsernameRequired = errors.New("username is required")
	ErrInvalidSSLMode   = errors.New("invalid sslMode")
)

var validSSLModes = map[string]bool{
	"disable":     true,
	"allow":       true,
	"prefer":      true,
	"require":     true,
	"verify-ca":   true,
	"verify-full": true,
}

// Config contains PostgreSQL connection settings
type Config struct {
	Host         string        `yaml:"host" default:"localhost"`
	Port         int           `yaml:"port" default:"5432"`
	Database     string        `yaml:"database"`
	Username     string        `yaml:"username"`
	Password     string        `yaml:"password"`
	SSLMode      string        `yaml:"sslMode" default:"prefer"`
	Schema       string        `yaml:"schema" default:"public"`
	QueryTimeout time.Duration `yaml:"queryTimeout" default:"30s"`
	MaxOpenConns int           `yaml:"maxOpenConns" default:"10"`
	MaxIdleConns int           `yaml:"maxIdleConns" default:"5"`
	Debug        bool          `yaml:"debug"`
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Host == "" {
		return ErrHostRequired
	}

	if c.Database == "" {
		return ErrDatabaseRequired
	}

	if c.Username == "" {
		return ErrUsernameRequired
	}

	if c.SSLMode != "" && !validSSLModes[c.SSLMode] {
		return fmt.Errorf("%w: %s", ErrInvalidSSLMode, c.SSLMode)
	}

	return nil
}

// DSN builds a key=value connection string for the pgx stdlib driver
func (c *Config) DSN() string {
	parts := []string{
		fmt.Sprintf("host=%s", c.Host),
		fmt.Sprintf("port=%d", c.Port),
		fmt.Sprintf("dbname=%s", c.Database),
		fmt.Sprintf("user=%s", c.Username),
	}

	if c.Password != "" {
		parts = append(parts, fmt.Sprintf("password=%s", c.Password))
	}

	if c.SSLMode != "" {
		parts = append(parts, fmt.Sprintf("sslmode=%s", c.SSLMode))
	}

	return strings.Join(parts, " ")
}
