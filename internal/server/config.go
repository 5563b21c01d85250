package server

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"

	"github.com/Zereker/vectorstore/pkg/genkit"
	"github.com/Zereker/vectorstore/pkg/log"
	"github.com/Zereker/vectorstore/pkg/mq"
	"github.com/Zereker/vectorstore/pkg/redis"
	"github.com/Zereker/vectorstore/pkg/snapshot"
	"github.com/Zereker/vectorstore/pkg/vector"
)

// Server modes
const (
	ModeHTTP = "http"
	ModeMCP  = "mcp"
	ModeBoth = "both"
)

// Config holds all configuration values
type Config struct {
	Server   ServerConfig    `toml:"server"`
	Log      log.Config      `toml:"log"`
	Models   genkit.Config   `toml:"genkit"`
	Storage  vector.Config   `toml:"storage"`
	Kafka    mq.KafkaConfig  `toml:"kafka"`
	Redis    redis.Config    `toml:"redis"`
	Snapshot snapshot.Config `toml:"snapshot"`
}

// ServerConfig contains server configuration
type ServerConfig struct {
	Mode string `toml:"mode"` // http, mcp, or both
	Host string `toml:"host"`
	Port int    `toml:"port"`
	// MaxBodyMB caps HTTP request bodies, 32 when zero.
	MaxBodyMB int `toml:"max_body_mb"`
}

// Validate checks server configuration
func (s *ServerConfig) Validate() error {
	if s.Mode == "" {
		s.Mode = ModeHTTP
	}
	switch s.Mode {
	case ModeHTTP, ModeMCP, ModeBoth:
		// valid
	default:
		return fmt.Errorf("invalid mode: %s, must be http, mcp, or both", s.Mode)
	}
	if s.Mode != ModeMCP && (s.Port <= 0 || s.Port > 65535) {
		return fmt.Errorf("port is required and must be between 1 and 65535")
	}
	if s.MaxBodyMB < 0 {
		return fmt.Errorf("max_body_mb must not be negative")
	}
	return nil
}

// Validate checks all configuration fields
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server: %w", err)
	}

	if err := c.Log.Validate(); err != nil {
		return fmt.Errorf("log: %w", err)
	}

	if err := c.Models.Validate(); err != nil {
		return fmt.Errorf("genkit: %w", err)
	}

	if err := c.Storage.Validate(); err != nil {
		return fmt.Errorf("storage: %w", err)
	}

	if err := c.Kafka.Validate(); err != nil {
		return fmt.Errorf("kafka: %w", err)
	}

	if err := c.Redis.Validate(); err != nil {
		return fmt.Errorf("redis: %w", err)
	}

	if err := c.Snapshot.Validate(); err != nil {
		return fmt.Errorf("snapshot: %w", err)
	}

	return nil
}

// LoadConfig reads and parses the configuration file
func LoadConfig(filename string) (Config, error) {
	var cfg Config

	data, err := os.ReadFile(filename)
	if err != nil {
		return cfg, fmt.Errorf("read config file: %w", err)
	}

	if err := toml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}
