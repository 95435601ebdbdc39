package cmd

import (
	"github.com/spf13/cobra"
	"drawbridge/cmd/cli"
	"drawbridge/internal/logger"
)

var (
	consoleURL       string
	consoleChannel   string
	consoleDebugFlag bool
)

var consoleCmd = &cobra.Command{
	Use:   "console",
	Short: "Start the interactive channel console",
	Long: `Launch the interactive Terminal User Interface (TUI) for Drawbridge.
The console connects to a relay channel and provides a command line for
driving the canvas agent, with live connection state and command history.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		// The TUI owns the terminal; logging stays silent unless debugging
		if consoleDebugFlag {
			logger.SetSilentMode(false)
			logger.SetLevel("debug")
		} else {
			logger.SetSilentMode(true)
		}

		log := logger.New()
		log.Info().
			Str("url", consoleURL).
			Str("channel", consoleChannel).
			Msg("Starting Drawbridge console")

		if err := cli.StartConsole(consoleURL, consoleChannel, consoleDebugFlag); err != nil {
			log.Error().Err(err).Msg("Failed to start console")
			return err
		}

		return nil
	},
}

func init() {
	consoleCmd.Flags().StringVarP(&consoleURL, "url", "u", "ws://localhost:8080/ws", "Relay websocket URL")
	consoleCmd.Flags().StringVar(&consoleChannel, "channel", "studio", "Channel name to join")
	consoleCmd.Flags().BoolVarP(&consoleDebugFlag, "debug", "d", false, "Enable debug logging")
}
