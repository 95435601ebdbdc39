package agent_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"drawbridge/internal/agent"
)

func createValidAgentConfig() *agent.Config {
	return &agent.Config{
		Relay: agent.RelayConfig{
			URL:     "ws://localhost:8080/ws",
			Channel: "studio",
		},
		Agent: agent.AgentConfig{
			Identity:         "agent_test1234",
			ReconnectSeconds: 5,
			ReplayCacheSize:  128,
		},
		Document: agent.DocumentConfig{
			Name: "test-document",
		},
	}
}

func TestNewDefaultConfig(t *testing.T) {
	config := agent.NewDefaultConfig()

	if err := config.Validate(); err != nil {
		t.Errorf("Expected default config to validate, got %v", err)
	}
	if config.Relay.URL == "" {
		t.Error("Expected default relay URL to be set")
	}
	if !strings.HasPrefix(config.Agent.Identity, "agent_") {
		t.Errorf("Expected generated identity with agent_ prefix, got %s", config.Agent.Identity)
	}

	t.Run("generates unique identities", func(t *testing.T) {
		other := agent.NewDefaultConfig()
		if other.Agent.Identity == config.Agent.Identity {
			t.Error("Expected unique agent identities, got identical ones")
		}
	})
}

func TestConfigSaveAndLoad(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "agent.yml")

	config := createValidAgentConfig()
	if err := config.Save(configPath); err != nil {
		t.Fatalf("Failed to save config: %v", err)
	}

	// Verify file exists
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		t.Error("Expected config file to exist after save")
	}

	loaded, err := agent.LoadConfig(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if loaded.Relay.URL != config.Relay.URL {
		t.Errorf("Expected relay URL %s, got %s", config.Relay.URL, loaded.Relay.URL)
	}
	if loaded.Relay.Channel != config.Relay.Channel {
		t.Errorf("Expected channel %s, got %s", config.Relay.Channel, loaded.Relay.Channel)
	}
	if loaded.Agent.Identity != config.Agent.Identity {
		t.Errorf("Expected identity %s, got %s", config.Agent.Identity, loaded.Agent.Identity)
	}
	if loaded.Agent.ReplayCacheSize != config.Agent.ReplayCacheSize {
		t.Errorf("Expected replay cache size %d, got %d", config.Agent.ReplayCacheSize, loaded.Agent.ReplayCacheSize)
	}
	if loaded.Document.Name != config.Document.Name {
		t.Errorf("Expected document name %s, got %s", config.Document.Name, loaded.Document.Name)
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := agent.LoadConfig(filepath.Join(t.TempDir(), "absent.yml"))
	if err == nil {
		t.Error("Expected error loading nonexistent config file")
	}
}

func TestLoadConfigInvalidYAML(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "broken.yml")
	if err := os.WriteFile(configPath, []byte("relay: [not a mapping"), 0600); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	_, err := agent.LoadConfig(configPath)
	if err == nil {
		t.Error("Expected error parsing malformed config file")
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*agent.Config)
		wantErr string
	}{
		{
			name:    "valid config",
			modify:  func(c *agent.Config) {},
			wantErr: "",
		},
		{
			name:    "missing relay URL",
			modify:  func(c *agent.Config) { c.Relay.URL = "" },
			wantErr: "relay.url is required",
		},
		{
			name:    "relay URL with wrong scheme",
			modify:  func(c *agent.Config) { c.Relay.URL = "http://localhost:8080/ws" },
			wantErr: "relay.url must use ws:// or wss://",
		},
		{
			name:    "missing channel",
			modify:  func(c *agent.Config) { c.Relay.Channel = "" },
			wantErr: "relay.channel is required",
		},
		{
			name:    "negative reconnect seconds",
			modify:  func(c *agent.Config) { c.Agent.ReconnectSeconds = -1 },
			wantErr: "agent.reconnect_seconds must not be negative",
		},
		{
			name:    "negative replay cache size",
			modify:  func(c *agent.Config) { c.Agent.ReplayCacheSize = -10 },
			wantErr: "agent.replay_cache_size must not be negative",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := createValidAgentConfig()
			tt.modify(config)

			err := config.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Expected config to validate, got %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Expected validation error %q, got nil", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Expected error containing %q, got %q", tt.wantErr, err.Error())
			}
		})
	}
}

func TestConfigSecureFilePermissions(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "agent.yml")

	if err := createValidAgentConfig().Save(configPath); err != nil {
		t.Fatalf("Failed to save config: %v", err)
	}

	info, err := os.Stat(configPath)
	if err != nil {
		t.Fatalf("Failed to stat config file: %v", err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("Expected config file mode 0600, got %v", info.Mode().Perm())
	}
}
