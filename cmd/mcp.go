package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"drawbridge/internal/channel"
	"drawbridge/internal/logger"
	"drawbridge/internal/mcpserver"
)

var mcpDebugFlag bool

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve channel tools over the Model Context Protocol",
	Long: `Run an MCP server on stdin/stdout exposing the command channel as tools:
connect to a relay channel, send canvas commands, apply recipes, and inspect
channel health. Intended to be launched by an MCP-capable client.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		// stdout belongs to the MCP transport; logs go to stderr when enabled
		if mcpDebugFlag || verbose {
			logger.SetSilentMode(false)
			logger.SetLevel("debug")
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		bridge := mcpserver.NewBridge(channel.Options{})
		return mcpserver.Run(ctx, bridge)
	},
}

func init() {
	mcpCmd.Flags().BoolVarP(&mcpDebugFlag, "debug", "d", false, "Enable debug logging on stderr")
}
