package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"drawbridge/internal/agent"
	"drawbridge/internal/canvas"
	"drawbridge/internal/logger"
)

var (
	agentConfigPath string
	agentDebugFlag  bool
)

var agentCmd = &cobra.Command{
	Use:   "agent",
	Short: "Start the Drawbridge canvas agent",
	Long: `The agent joins a relay channel and executes canvas commands on behalf of
issuers. It holds the authoritative document state, answers duplicate command
deliveries from a replay cache, and reconnects to the relay whenever the
connection drops.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		logger.SetSilentMode(false)
		if agentDebugFlag {
			logger.SetLevel("debug")
		} else {
			logger.SetLevel("info")
		}

		log := logger.New()
		log.Info().
			Str("config_path", agentConfigPath).
			Bool("debug", agentDebugFlag).
			Msg("Starting Drawbridge agent")

		// Check if config file exists
		if _, err := os.Stat(agentConfigPath); os.IsNotExist(err) {
			defaultConfig := agent.NewDefaultConfig()
			if err := agent.SaveConfig(defaultConfig, agentConfigPath); err != nil {
				log.Error().Err(err).Msg("Failed to create default config file")
				return fmt.Errorf("failed to create default config file: %w", err)
			}
			log.Info().
				Str("config_path", agentConfigPath).
				Msg("Created default configuration file. Please edit it with your settings.")
			return nil
		}

		config, err := agent.LoadConfig(agentConfigPath)
		if err != nil {
			log.Error().Err(err).Msg("Failed to load configuration")
			return fmt.Errorf("failed to load configuration: %w", err)
		}

		document := canvas.NewDocument(config.Document.Name)
		host := canvas.NewHost(document)

		a := agent.New(config.Relay.URL, config.Relay.Channel, config.Agent.Identity, host)
		if config.Agent.ReconnectSeconds > 0 {
			a.SetReconnectInterval(time.Duration(config.Agent.ReconnectSeconds) * time.Second)
		}
		if config.Agent.ReplayCacheSize > 0 {
			a.SetReplayCacheSize(config.Agent.ReplayCacheSize)
		}

		if err := a.Start(); err != nil {
			log.Error().Err(err).Msg("Failed to start agent")
			return fmt.Errorf("failed to start agent: %w", err)
		}

		log.Info().
			Str("relay_url", config.Relay.URL).
			Str("channel", config.Relay.Channel).
			Str("identity", config.Agent.Identity).
			Str("document", config.Document.Name).
			Msg("Agent connected and serving commands")

		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigChan

		log.Info().
			Str("signal", sig.String()).
			Msg("Received shutdown signal")

		if err := a.Stop(); err != nil {
			log.Error().Err(err).Msg("Error stopping agent")
		}

		stats := a.GetStats()
		log.Info().
			Int("commands_handled", stats.CommandsHandled).
			Int("commands_failed", stats.CommandsFailed).
			Int("duplicates_served", stats.DuplicatesServed).
			Int("reconnections", stats.Reconnections).
			Msg("Agent stopped")

		return nil
	},
}

var agentConfigCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage agent configuration",
	Long:  `Generate or validate agent configuration files.`,
}

var agentConfigGenerateCmd = &cobra.Command{
	Use:   "generate [config-file]",
	Short: "Generate default configuration file",
	Long:  `Generate a default agent configuration file with example settings.`,
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath := agentConfigPath
		if len(args) > 0 {
			configPath = args[0]
		}

		defaultConfig := agent.NewDefaultConfig()
		if err := agent.SaveConfig(defaultConfig, configPath); err != nil {
			return fmt.Errorf("failed to save default config: %w", err)
		}

		cmd.Printf("Default configuration saved to: %s\n", configPath)
		cmd.Println("Please edit the file with your relay URL and channel name.")
		return nil
	},
}

var agentConfigValidateCmd = &cobra.Command{
	Use:   "validate [config-file]",
	Short: "Validate configuration file",
	Long:  `Validate an agent configuration file for syntax and required fields.`,
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath := agentConfigPath
		if len(args) > 0 {
			configPath = args[0]
		}

		config, err := agent.LoadConfig(configPath)
		if err != nil {
			return fmt.Errorf("configuration validation failed: %w", err)
		}

		cmd.Printf("Configuration file is valid: %s\n", configPath)
		cmd.Printf("Relay URL: %s\n", config.Relay.URL)
		cmd.Printf("Channel: %s\n", config.Relay.Channel)
		cmd.Printf("Identity: %s\n", config.Agent.Identity)
		cmd.Printf("Document: %s\n", config.Document.Name)

		return nil
	},
}

func init() {
	agentCmd.Flags().StringVarP(&agentConfigPath, "config", "c", "agent.yml", "Path to agent configuration file")
	agentCmd.Flags().BoolVarP(&agentDebugFlag, "debug", "d", false, "Enable debug logging")

	agentCmd.AddCommand(agentConfigCmd)
	agentConfigCmd.AddCommand(agentConfigGenerateCmd)
	agentConfigCmd.AddCommand(agentConfigValidateCmd)

	agentConfigGenerateCmd.Flags().StringVarP(&agentConfigPath, "config", "c", "agent.yml", "Path for generated configuration file")
	agentConfigValidateCmd.Flags().StringVarP(&agentConfigPath, "config", "c", "agent.yml", "Path to configuration file to validate")
}
