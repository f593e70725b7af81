package database

import (
	"errors"
	"time"
)

// Config holds chat log database configuration
type Config struct {
	DatabasePath    string        `json:"database_path"`
	MaxConnections  int           `json:"max_connections"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `json:"conn_max_idle_time"`
}

// DefaultConfig returns production-ready database configuration.
// SQLite performs well with a small pool for classroom-scale concurrent
// access (20-50 users per room, a handful of rooms per process).
func DefaultConfig() *Config {
	return &Config{
		DatabasePath:    "./data/lobby.db",
		MaxConnections:  10,
		ConnMaxLifetime: time.Hour,
		ConnMaxIdleTime: 10 * time.Minute,
	}
}

// Validate ensures the configuration is valid
func (c *Config) Validate() error {
	if c.DatabasePath == "" {
		return errors.New("database path cannot be empty")
	}
	if c.MaxConnections <= 0 {
		return errors.New("max connections must be positive")
	}
	if c.ConnMaxLifetime <= 0 {
		return errors.New("connection max lifetime must be positive")
	}
	if c.ConnMaxIdleTime <= 0 {
		return errors.New("connection max idle time must be positive")
	}
	return nil
}
