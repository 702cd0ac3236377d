// Copyright (c) 2024 OData MCP Contributors
// SPDX-License-Identifier: MIT

package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/zmcp/odata-codec/internal/constants"
	"github.com/zmcp/odata-codec/internal/payload"
)

// EnvPrefix prefixes every environment variable the codec reads
const EnvPrefix = "ODATA"

// Config holds all configuration options for the codec CLI
type Config struct {
	// Service configuration
	ServiceRoot  string `mapstructure:"service_root"`
	MetadataFile string `mapstructure:"metadata"` // file path, or http(s) URL of the service root

	// Basic authentication for fetching metadata
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`

	// Response metadata policy
	Level  string `mapstructure:"level"`  // none, minimal or full
	Format string `mapstructure:"format"` // response media type, overrides Level when set

	// Request processing limits
	MaxDepth   int `mapstructure:"max_depth"`   // Maximum payload and expansion nesting
	MaxObjects int `mapstructure:"max_objects"` // Maximum resources created or fetched per request

	Operation string `mapstructure:"op"`        // insert, replace or merge
	IfMatch   string `mapstructure:"if_match"`  // ETag checked on replace
	PageSize  int    `mapstructure:"page_size"` // Feed page size, 0 writes everything

	// Storage
	RedisURL    string `mapstructure:"redis"`
	RedisPrefix string `mapstructure:"redis_prefix"`

	// Output and debugging
	Verbose bool `mapstructure:"verbose"`
	Trace   bool `mapstructure:"trace"`
}

// SetDefaults registers every key with its default so that environment
// variables are picked up by Unmarshal
func SetDefaults(v *viper.Viper) {
	v.SetDefault("service_root", "http://localhost/service/")
	v.SetDefault("metadata", "")
	v.SetDefault("username", "")
	v.SetDefault("password", "")
	v.SetDefault("level", constants.MetadataMinimal)
	v.SetDefault("format", "")
	v.SetDefault("max_depth", constants.DefaultMaxRecursionDepth)
	v.SetDefault("max_objects", constants.DefaultMaxObjectCount)
	v.SetDefault("op", "insert")
	v.SetDefault("if_match", "")
	v.SetDefault("page_size", 0)
	v.SetDefault("redis", "")
	v.SetDefault("redis_prefix", "odata:")
	v.SetDefault("verbose", false)
	v.SetDefault("trace", false)
}

// BindEnv makes v read ODATA_* environment variables, with dashes in key
// names mapped to underscores
func BindEnv(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
}

// Load reads the configuration out of v and validates it
func Load(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks limits and the metadata policy
func (c *Config) Validate() error {
	if c.MaxDepth <= 0 {
		return fmt.Errorf("max depth must be positive, got %d", c.MaxDepth)
	}
	if c.MaxObjects <= 0 {
		return fmt.Errorf("max objects must be positive, got %d", c.MaxObjects)
	}
	if c.PageSize < 0 {
		return fmt.Errorf("page size cannot be negative, got %d", c.PageSize)
	}
	if !strings.HasSuffix(c.ServiceRoot, "/") {
		c.ServiceRoot += "/"
	}
	if _, err := c.Interpreter(); err != nil {
		return err
	}
	return nil
}

// UsesRedis returns true if entities are kept in Redis
func (c *Config) UsesRedis() bool {
	return c.RedisURL != ""
}

// Interpreter returns the response metadata policy. A response media type
// in Format wins over Level.
func (c *Config) Interpreter() (*payload.Interpreter, error) {
	if c.Format != "" {
		return payload.InterpreterFromContentType(c.Format)
	}
	return payload.NewInterpreter(payload.FormatJSON, c.Level)
}
