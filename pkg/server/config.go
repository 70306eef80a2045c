// Package server wires the pipeline services together and runs them as
// one application.
package server

import (
	"fmt"
	"time"

	"github.com/granaryml/granary/pkg/api"
	"github.com/granaryml/granary/pkg/database"
	"github.com/granaryml/granary/pkg/export"
	"github.com/granaryml/granary/pkg/redis"
)

// Config represents the complete application configuration
type Config struct {
	// Core settings
	Logging         string `yaml:"logging" default:"info"`
	MetricsAddr     string `yaml:"metricsAddr" default:":9090"`
	HealthCheckAddr string `yaml:"healthCheckAddr"`
	PProfAddr       string `yaml:"pprofAddr"`

	// Dependencies
	Database database.Config `yaml:"database"`
	Redis    redis.Config    `yaml:"redis"`

	// Services
	API     api.Config    `yaml:"api"`
	Export  export.Config `yaml:"export"`
	Session SessionConfig `yaml:"session"`
}

// SessionConfig controls session persistence
type SessionConfig struct {
	TTL time.Duration `yaml:"ttl" default:"24h"`
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if err := c.Database.Validate(); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	if err := c.Redis.Validate(); err != nil {
		return fmt.Errorf("redis: %w", err)
	}

	if err := c.API.Validate(); err != nil {
		return fmt.Errorf("api: %w", err)
	}

	if err := c.Export.Validate(); err != nil {
		return fmt.Errorf("export: %w", err)
	}

	return nil
}
