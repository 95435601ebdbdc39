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

package cmd

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"drawbridge/internal/logger"
	"drawbridge/internal/relay"
)

var (
	relayConfigPath    string
	relayAddress       string
	relayWSPath        string
	relayStorePath     string
	relayDebugFlag     bool
	relayVerboseStatus bool
)

var relayCmd = &cobra.Command{
	Use:   "relay",
	Short: "Start the Drawbridge relay daemon",
	Long: `The relay accepts websocket connections from issuers and agents, pairs them
up by channel name, and forwards command and response frames between them.
It keeps an audit trail of relayed commands and exposes a REST API for
inspecting channel activity.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		config, err := loadRelayConfiguration()
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}

		setupRelayLogging(config)

		log := logger.New()
		log.Info().
			Str("config_file", relayConfigPath).
			Str("address", config.Server.Address).
			Str("ws_path", config.Server.WSPath).
			Bool("store_enabled", config.Store.Enabled).
			Bool("admin_auth", config.Security.AdminAuth.Enabled).
			Str("log_level", config.Logging.Level).
			Msg("Starting Drawbridge relay daemon")

		server, err := relay.NewServer(config)
		if err != nil {
			log.Error().Err(err).Msg("Failed to initialize relay server")
			return fmt.Errorf("failed to initialize relay server: %w", err)
		}

		errChan := make(chan error, 1)
		go func() {
			if err := server.Start(); err != nil {
				errChan <- fmt.Errorf("relay server error: %w", err)
			}
		}()

		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

		select {
		case sig := <-sigChan:
			log.Info().
				Str("signal", sig.String()).
				Msg("Received shutdown signal")
		case err := <-errChan:
			log.Error().Err(err).Msg("Relay server error")
			return err
		}

		log.Info().Msg("Shutting down relay")

		if err := server.Stop(); err != nil {
			log.Error().Err(err).Msg("Error stopping relay server")
		}

		log.Info().Msg("Relay daemon stopped")
		return nil
	},
}

var relayStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Check relay daemon status",
	Long:  `Check the status of the running relay daemon via its REST API.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return checkRelayStatus(cmd)
	},
}

var relayConfigCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage relay configuration",
	Long:  `Generate or validate relay configuration files.`,
}

var relayConfigGenerateCmd = &cobra.Command{
	Use:   "generate [config-file]",
	Short: "Generate default configuration file",
	Long:  `Generate a default relay configuration file with example settings.`,
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath := relayConfigPath
		if len(args) > 0 {
			configPath = args[0]
		}

		defaultConfig := relay.NewDefaultRelayConfig()
		if err := relay.SaveRelayConfig(defaultConfig, configPath); err != nil {
			return fmt.Errorf("failed to save default config: %w", err)
		}

		cmd.Printf("Default configuration saved to: %s\n", configPath)
		cmd.Println("Edit the file to enable TLS, the audit store, or admin authentication.")
		return nil
	},
}

var relayConfigValidateCmd = &cobra.Command{
	Use:   "validate [config-file]",
	Short: "Validate configuration file",
	Long:  `Validate a relay configuration file for syntax and required fields.`,
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath := relayConfigPath
		if len(args) > 0 {
			configPath = args[0]
		}

		config, err := relay.LoadRelayConfig(configPath)
		if err != nil {
			return fmt.Errorf("configuration validation failed: %w", err)
		}

		cmd.Printf("Configuration file is valid: %s\n", configPath)
		cmd.Printf("Listen address: %s\n", config.Server.Address)
		cmd.Printf("Websocket path: %s\n", config.Server.WSPath)
		cmd.Printf("Audit store: %s\n", storeDescription(config))
		cmd.Printf("Admin auth: %t\n", config.Security.AdminAuth.Enabled)

		return nil
	},
}

var relayTokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Generate a relay admin key",
	Long: `Generate a new admin key and its argon2id hash. The hash goes into the relay
configuration under security.admin_auth.admin_key_hash; the key itself is
exchanged for a bearer token via POST /api/v1/auth/token.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		adminKey := uuid.New().String()

		keyService := relay.NewKeyService()
		hash, err := keyService.HashKey(adminKey)
		if err != nil {
			return fmt.Errorf("failed to hash admin key: %w", err)
		}

		cmd.Printf("Admin key:  %s\n", adminKey)
		cmd.Printf("Key hash:   %s\n", hash)
		cmd.Println()
		cmd.Println("Add the hash to your relay configuration:")
		cmd.Println("  security:")
		cmd.Println("    admin_auth:")
		cmd.Println("      enabled: true")
		cmd.Printf("      admin_key_hash: \"%s\"\n", hash)
		cmd.Println()
		cmd.Println("IMPORTANT: Store the admin key securely. It cannot be recovered from the hash.")

		return nil
	},
}

// loadRelayConfiguration loads configuration from file and applies CLI flag overrides
func loadRelayConfiguration() (*relay.RelayConfig, error) {
	var config *relay.RelayConfig
	var err error

	configPath := relayConfigPath
	if configPath == "" {
		configPath = "relay.yml"
	}

	if _, statErr := os.Stat(configPath); statErr == nil {
		config, err = relay.LoadRelayConfig(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	} else if !os.IsNotExist(statErr) {
		return nil, fmt.Errorf("failed to check config file: %w", statErr)
	}

	// No config file means defaults
	if config == nil {
		config = relay.NewDefaultRelayConfig()
	}

	// Apply CLI flag overrides
	if relayAddress != "" {
		config.Server.Address = relayAddress
	}
	if relayWSPath != "" {
		config.Server.WSPath = relayWSPath
	}
	if relayStorePath != "" {
		config.Store.Enabled = true
		config.Store.Path = relayStorePath
	}
	if relayDebugFlag {
		config.Logging.Level = "debug"
	}

	return config, nil
}

// setupRelayLogging configures the logger based on configuration
func setupRelayLogging(config *relay.RelayConfig) {
	logger.SetSilentMode(false)
	logger.SetFormat(config.Logging.Format)
	logger.SetLevel(config.Logging.Level)
}

func storeDescription(config *relay.RelayConfig) string {
	if !config.Store.Enabled {
		return "disabled"
	}
	return config.Store.Path
}

// checkRelayStatus checks the status of the running relay daemon
func checkRelayStatus(cmd *cobra.Command) error {
	config, err := loadRelayConfiguration()
	if err != nil {
		cmd.Printf("⚠ Warning: Could not load configuration: %v\n", err)
		config = relay.NewDefaultRelayConfig()
	}

	apiAddr := config.Server.Address
	if !strings.HasPrefix(apiAddr, "http://") && !strings.HasPrefix(apiAddr, "https://") {
		apiAddr = "http://localhost" + apiAddr
	}

	client := &http.Client{
		Timeout: 5 * time.Second,
	}

	healthResp, healthErr := fetchRelayJSON(client, apiAddr+"/api/v1/health")
	statusResp, statusErr := fetchRelayJSON(client, apiAddr+"/api/v1/status")

	if relayVerboseStatus {
		result := map[string]interface{}{
			"online":    healthErr == nil,
			"address":   config.Server.Address,
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		}
		if healthErr != nil {
			result["health_error"] = healthErr.Error()
		} else {
			result["health"] = healthResp
		}
		if statusErr != nil {
			result["status_error"] = statusErr.Error()
		} else {
			result["status"] = statusResp
		}

		encoder := json.NewEncoder(cmd.OutOrStdout())
		encoder.SetIndent("", "  ")
		return encoder.Encode(result)
	}

	if healthErr != nil {
		cmd.Printf("Relay Status: ✗ OFFLINE\n")
		cmd.Printf("Connection Error: %v\n", healthErr)
		return nil
	}

	cmd.Printf("Relay Status: ✓ RUNNING\n")
	cmd.Printf("API Address: %s\n", apiAddr)
	cmd.Printf("Websocket: %s\n", config.Server.WSPath)

	if statusErr != nil {
		// The status endpoint sits behind admin auth when enabled
		cmd.Printf("Status details: %v\n", statusErr)
		return nil
	}

	if uptime, ok := statusResp["uptime"].(string); ok {
		cmd.Printf("Uptime: %s\n", uptime)
	}
	if version, ok := statusResp["version"].(string); ok {
		cmd.Printf("Version: %s\n", version)
	}
	if stats, ok := statusResp["stats"].(map[string]interface{}); ok {
		if channels, ok := stats["active_channels"].(float64); ok {
			cmd.Printf("Active Channels: %.0f\n", channels)
		}
		if members, ok := stats["active_members"].(float64); ok {
			cmd.Printf("Active Members: %.0f\n", members)
		}
		if relayed, ok := stats["frames_relayed"].(float64); ok {
			cmd.Printf("Frames Relayed: %.0f\n", relayed)
		}
	}

	return nil
}

// fetchRelayJSON makes an HTTP GET request and returns the decoded response body
func fetchRelayJSON(client *http.Client, url string) (map[string]interface{}, error) {
	resp, err := client.Get(url)
	if err != nil {
		return nil, fmt.Errorf("connection failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, resp.Status)
	}

	var result map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	return result, nil
}

func init() {
	relayCmd.Flags().StringVarP(&relayConfigPath, "config", "c", "relay.yml", "Path to relay configuration file")
	relayCmd.Flags().StringVarP(&relayAddress, "address", "a", "", "Listen address override (e.g. :8080)")
	relayCmd.Flags().StringVar(&relayWSPath, "ws-path", "", "Websocket path override")
	relayCmd.Flags().StringVar(&relayStorePath, "store", "", "Enable the audit store at the given sqlite path")
	relayCmd.Flags().BoolVarP(&relayDebugFlag, "debug", "d", false, "Enable debug logging")

	relayStatusCmd.Flags().BoolVarP(&relayVerboseStatus, "verbose-status", "V", false, "Show full status as JSON")

	relayCmd.AddCommand(relayStatusCmd)
	relayCmd.AddCommand(relayConfigCmd)
	relayCmd.AddCommand(relayTokenCmd)
	relayConfigCmd.AddCommand(relayConfigGenerateCmd)
	relayConfigCmd.AddCommand(relayConfigValidateCmd)

	relayConfigGenerateCmd.Flags().StringVarP(&relayConfigPath, "config", "c", "relay.yml", "Path for generated configuration file")
	relayConfigValidateCmd.Flags().StringVarP(&relayConfigPath, "config", "c", "relay.yml", "Path to configuration file to validate")
}
