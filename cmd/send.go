package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"drawbridge/internal/channel"
	"drawbridge/internal/logger"
)

var (
	sendURL     string
	sendChannel string
	sendTimeout string
)

var sendCmd = &cobra.Command{
	Use:   "send <action> [params-json]",
	Short: "Send a single command over the channel",
	Long: `Connect to the relay, send one command to the agent on the channel, print the
response as JSON, and disconnect. Parameters are passed as a JSON object, for
example:

  drawbridge send create_rectangle '{"name": "box", "x": 10, "y": 10}'
  drawbridge send get_document_info`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if verbose {
			logger.SetSilentMode(false)
		}

		action := args[0]
		var params interface{}
		if len(args) > 1 {
			var decoded map[string]interface{}
			if err := json.Unmarshal([]byte(args[1]), &decoded); err != nil {
				return fmt.Errorf("invalid params JSON: %w", err)
			}
			params = decoded
		}

		timeout, err := time.ParseDuration(sendTimeout)
		if err != nil {
			return fmt.Errorf("invalid timeout: %w", err)
		}

		client := channel.New(channel.Options{})
		if err := client.Connect(context.Background(), sendURL, sendChannel); err != nil {
			return fmt.Errorf("failed to connect: %w", err)
		}
		defer client.Disconnect()

		response, err := client.Send(action, params, timeout)
		if err != nil {
			return fmt.Errorf("command failed: %w", err)
		}

		out := map[string]interface{}{
			"success": response.Success,
		}
		if len(response.Data) > 0 {
			out["data"] = json.RawMessage(response.Data)
		}
		if response.Error != "" {
			out["error"] = response.Error
		}

		encoder := json.NewEncoder(cmd.OutOrStdout())
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(out); err != nil {
			return err
		}

		if !response.Success {
			return fmt.Errorf("command rejected: %s", response.Error)
		}
		return nil
	},
}

func init() {
	sendCmd.Flags().StringVarP(&sendURL, "url", "u", "ws://localhost:8080/ws", "Relay websocket URL")
	sendCmd.Flags().StringVar(&sendChannel, "channel", "studio", "Channel name to join")
	sendCmd.Flags().StringVarP(&sendTimeout, "timeout", "t", "30s", "Command timeout")
}
