package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"drawbridge/internal/logger"
)

var verbose bool

var rootCmd = &cobra.Command{
	Use:   "drawbridge",
	Short: "Drawbridge - a resilient command channel for design tool automation",
	Long: `Drawbridge connects automation clients to a design tool host over an unreliable
relay hop. It ships the relay server, the canvas agent that executes commands,
and issuer-side tools for sending commands, applying recipes, and driving the
channel interactively or over MCP.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if verbose {
			logger.SetLevel("debug")
		}
	},
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	// Add subcommands
	rootCmd.AddCommand(relayCmd)
	rootCmd.AddCommand(agentCmd)
	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(applyCmd)
	rootCmd.AddCommand(consoleCmd)
	rootCmd.AddCommand(mcpCmd)
}

func exitWithError(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
