// Copyright 2025 Arion Yau
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package relay

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// RelayConfig represents the complete relay configuration
type RelayConfig struct {
	Server   ServerConfig   `yaml:"server"`
	Store    StoreConfig    `yaml:"store"`
	Logging  LoggingConfig  `yaml:"logging"`
	Security SecurityConfig `yaml:"security"`
}

// ServerConfig contains listener settings
type ServerConfig struct {
	Address string    `yaml:"address"`
	WSPath  string    `yaml:"ws_path"`
	Timeout string    `yaml:"timeout"`
	TLS     TLSConfig `yaml:"tls"`
}

// TLSConfig contains TLS/SSL settings
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// StoreConfig contains audit store settings
type StoreConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// SecurityConfig contains security-related settings
type SecurityConfig struct {
	AdminAuth AdminAuthConfig `yaml:"admin_auth"`
}

// AdminAuthConfig protects the REST API; the command channel itself stays
// open, sandboxed clients cannot carry credentials.
type AdminAuthConfig struct {
	Enabled      bool      `yaml:"enabled"`
	AdminKeyHash string    `yaml:"admin_key_hash"`
	JWT          JWTConfig `yaml:"jwt"`
}

// JWTConfig contains JWT token settings
type JWTConfig struct {
	SecretKey   string `yaml:"secret_key"`
	Issuer      string `yaml:"issuer"`
	ExpiryHours int    `yaml:"expiry_hours"`
}

// LoadRelayConfig loads configuration from a YAML file
func LoadRelayConfig(filepath string) (*RelayConfig, error) {
	data, err := os.ReadFile(filepath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config RelayConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.setDefaults()

	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// SaveRelayConfig saves configuration to a YAML file
func SaveRelayConfig(config *RelayConfig, filepath string) error {
	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filepath, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// NewDefaultRelayConfig creates a default configuration
func NewDefaultRelayConfig() *RelayConfig {
	return &RelayConfig{
		Server: ServerConfig{
			Address: ":8080",
			WSPath:  "/ws",
			Timeout: "15s",
			TLS: TLSConfig{
				Enabled:  false,
				CertFile: "",
				KeyFile:  "",
			},
		},
		Store: StoreConfig{
			Enabled: true,
			Path:    "relay.db",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Security: SecurityConfig{
			AdminAuth: AdminAuthConfig{
				Enabled:      false,
				AdminKeyHash: "",
				JWT: JWTConfig{
					SecretKey:   "your-super-secret-jwt-key-change-this-in-production",
					Issuer:      "drawbridge-relay",
					ExpiryHours: 24,
				},
			},
		},
	}
}

// setDefaults ensures all required fields have default values
func (c *RelayConfig) setDefaults() {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}
	if c.Server.WSPath == "" {
		c.Server.WSPath = "/ws"
	}
	if c.Server.Timeout == "" {
		c.Server.Timeout = "15s"
	}

	if c.Store.Path == "" {
		c.Store.Path = "relay.db"
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}

	if c.Security.AdminAuth.JWT.SecretKey == "" {
		c.Security.AdminAuth.JWT.SecretKey = "your-super-secret-jwt-key-change-this-in-production"
	}
	if c.Security.AdminAuth.JWT.Issuer == "" {
		c.Security.AdminAuth.JWT.Issuer = "drawbridge-relay"
	}
	if c.Security.AdminAuth.JWT.ExpiryHours == 0 {
		c.Security.AdminAuth.JWT.ExpiryHours = 24
	}
}

// validate checks if the configuration values are valid
func (c *RelayConfig) validate() error {
	if _, err := time.ParseDuration(c.Server.Timeout); err != nil {
		return fmt.Errorf("invalid server timeout format: %w", err)
	}

	if !strings.HasPrefix(c.Server.WSPath, "/") {
		return fmt.Errorf("ws_path must start with '/'")
	}

	if c.Server.TLS.Enabled {
		if c.Server.TLS.CertFile == "" {
			return fmt.Errorf("TLS cert_file is required when TLS is enabled")
		}
		if c.Server.TLS.KeyFile == "" {
			return fmt.Errorf("TLS key_file is required when TLS is enabled")
		}
	}

	validLevels := []string{"debug", "info", "warn", "error", "fatal", "panic"}
	levelValid := false
	for _, level := range validLevels {
		if c.Logging.Level == level {
			levelValid = true
			break
		}
	}
	if !levelValid {
		return fmt.Errorf("invalid logging level: %s (must be one of: %v)", c.Logging.Level, validLevels)
	}

	if c.Logging.Format != "json" && c.Logging.Format != "text" {
		return fmt.Errorf("logging format must be 'json' or 'text'")
	}

	if c.Security.AdminAuth.Enabled {
		if c.Security.AdminAuth.AdminKeyHash == "" {
			return fmt.Errorf("admin_key_hash is required when admin auth is enabled")
		}
		if !strings.HasPrefix(c.Security.AdminAuth.AdminKeyHash, "$argon2id$") {
			return fmt.Errorf("admin_key_hash must be an argon2id hash (generate one with 'drawbridge relay token')")
		}
		if len(c.Security.AdminAuth.JWT.SecretKey) < 32 {
			return fmt.Errorf("JWT secret_key must be at least 32 characters long for security")
		}
		if c.Security.AdminAuth.JWT.ExpiryHours <= 0 {
			return fmt.Errorf("JWT expiry_hours must be greater than 0")
		}
	}

	return nil
}

// GetTimeout returns the server timeout as a time.Duration
func (c *RelayConfig) GetTimeout() time.Duration {
	duration, _ := time.ParseDuration(c.Server.Timeout)
	return duration
}
