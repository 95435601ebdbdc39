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

package agent

import (
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// Config represents the agent configuration structure
type Config struct {
	Relay    RelayConfig    `yaml:"relay"`
	Agent    AgentConfig    `yaml:"agent"`
	Document DocumentConfig `yaml:"document"`
}

// RelayConfig contains relay connection settings
type RelayConfig struct {
	URL     string `yaml:"url"`     // WebSocket endpoint (required)
	Channel string `yaml:"channel"` // Channel name to serve (required)
}

// AgentConfig contains agent identity and tuning
type AgentConfig struct {
	Identity         string `yaml:"identity"`
	ReconnectSeconds int    `yaml:"reconnect_seconds"`
	ReplayCacheSize  int    `yaml:"replay_cache_size"`
}

// DocumentConfig describes the document the agent hosts
type DocumentConfig struct {
	Name string `yaml:"name"`
}

// LoadConfig loads configuration from a YAML file
func LoadConfig(filepath string) (*Config, error) {
	data, err := os.ReadFile(filepath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Relay.URL == "" {
		return fmt.Errorf("relay.url is required")
	}
	if !strings.HasPrefix(c.Relay.URL, "ws://") && !strings.HasPrefix(c.Relay.URL, "wss://") {
		return fmt.Errorf("relay.url must use ws:// or wss://")
	}
	if c.Relay.Channel == "" {
		return fmt.Errorf("relay.channel is required")
	}
	if c.Agent.ReconnectSeconds < 0 {
		return fmt.Errorf("agent.reconnect_seconds must not be negative")
	}
	if c.Agent.ReplayCacheSize < 0 {
		return fmt.Errorf("agent.replay_cache_size must not be negative")
	}

	return nil
}

// Save saves the configuration to a YAML file
func (c *Config) Save(filepath string) error {
	return SaveConfig(c, filepath)
}

// SaveConfig saves configuration to a YAML file
func SaveConfig(config *Config, filepath string) error {
	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filepath, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// NewDefaultConfig creates a default configuration template
func NewDefaultConfig() *Config {
	return &Config{
		Relay: RelayConfig{
			URL:     "ws://localhost:8080/ws",
			Channel: "studio",
		},
		Agent: AgentConfig{
			Identity:         generateIdentity(),
			ReconnectSeconds: 5,
			ReplayCacheSize:  512,
		},
		Document: DocumentConfig{
			Name: "untitled",
		},
	}
}

// generateIdentity creates a short unique agent identity
func generateIdentity() string {
	return fmt.Sprintf("agent_%s", uuid.New().String()[:8])
}
