package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"drawbridge/internal/channel"
	"drawbridge/internal/recipe"
)

// ConnectInput represents the MCP tool input for opening a channel.
type ConnectInput struct {
	URL     string `json:"url" jsonschema:"relay websocket URL (ws:// or wss://)"`
	Channel string `json:"channel" jsonschema:"channel name shared with the executor"`
}

// ConnectResult represents the MCP tool output for opening a channel.
type ConnectResult struct {
	State   string `json:"state" jsonschema:"channel state after connecting"`
	URL     string `json:"url" jsonschema:"relay websocket URL"`
	Channel string `json:"channel" jsonschema:"channel name"`
}

// DisconnectInput represents the MCP tool input for closing the channel.
type DisconnectInput struct{}

// DisconnectResult represents the MCP tool output for closing the channel.
type DisconnectResult struct {
	State string `json:"state" jsonschema:"channel state after disconnecting"`
}

// StatusInput represents the MCP tool input for reading channel status.
type StatusInput struct{}

// StatusResult represents the MCP tool output for reading channel status.
type StatusResult struct {
	State     string        `json:"state" jsonschema:"current channel state"`
	Connected bool          `json:"connected" jsonschema:"whether the channel is usable"`
	Pending   int           `json:"pending" jsonschema:"commands awaiting a response"`
	Stats     channel.Stats `json:"stats" jsonschema:"channel statistics"`
}

// SendCommandInput represents the MCP tool input for issuing one command.
type SendCommandInput struct {
	Action    string                 `json:"action" jsonschema:"action name understood by the executor"`
	Params    map[string]interface{} `json:"params,omitempty" jsonschema:"action parameters"`
	TimeoutMS int                    `json:"timeout_ms,omitempty" jsonschema:"response deadline in milliseconds (default 30000)"`
}

// SendCommandResult represents the MCP tool output for one command.
type SendCommandResult struct {
	Success bool   `json:"success" jsonschema:"whether the executor reported success"`
	Data    any    `json:"data,omitempty" jsonschema:"result payload from the executor"`
	Error   string `json:"error,omitempty" jsonschema:"executor error message"`
}

// ApplyRecipeInput represents the MCP tool input for running a recipe file.
type ApplyRecipeInput struct {
	Path string            `json:"path" jsonschema:"path to the recipe YAML file"`
	Vars map[string]string `json:"vars,omitempty" jsonschema:"variable overrides for the recipe"`
}

// RecipeStepOutcome represents one executed recipe step.
type RecipeStepOutcome struct {
	Step       int    `json:"step" jsonschema:"1-based step number"`
	Action     string `json:"action" jsonschema:"action name"`
	Success    bool   `json:"success" jsonschema:"whether the step succeeded"`
	Error      string `json:"error,omitempty" jsonschema:"step error message"`
	DurationMS int64  `json:"duration_ms" jsonschema:"step duration in milliseconds"`
}

// ApplyRecipeResult represents the MCP tool output for a recipe run.
type ApplyRecipeResult struct {
	Recipe    string              `json:"recipe" jsonschema:"recipe name"`
	Completed bool                `json:"completed" jsonschema:"whether every step ran to completion"`
	Steps     []RecipeStepOutcome `json:"steps" jsonschema:"outcomes of executed steps"`
	Error     string              `json:"error,omitempty" jsonschema:"reason the run stopped early"`
}

// ChannelConnectTool defines the MCP tool schema for opening a channel.
func ChannelConnectTool() *mcp.Tool {
	return &mcp.Tool{
		Name:        "channel_connect",
		Description: "Connects to a relay and joins a command channel",
	}
}

// ChannelDisconnectTool defines the MCP tool schema for closing the channel.
func ChannelDisconnectTool() *mcp.Tool {
	return &mcp.Tool{
		Name:        "channel_disconnect",
		Description: "Closes the command channel and rejects pending commands",
	}
}

// ChannelStatusTool defines the MCP tool schema for reading channel status.
func ChannelStatusTool() *mcp.Tool {
	return &mcp.Tool{
		Name:        "channel_status",
		Description: "Reports channel state, pending commands and statistics",
	}
}

// SendCommandTool defines the MCP tool schema for issuing one command.
func SendCommandTool() *mcp.Tool {
	return &mcp.Tool{
		Name:        "send_command",
		Description: "Sends one command over the channel and waits for the executor's response",
	}
}

// ApplyRecipeTool defines the MCP tool schema for running a recipe file.
func ApplyRecipeTool() *mcp.Tool {
	return &mcp.Tool{
		Name:        "apply_recipe",
		Description: "Loads a recipe YAML file and executes its steps over the channel",
	}
}

// ChannelConnectHandler opens the channel for the bridge's client.
func ChannelConnectHandler(bridge *Bridge) mcp.ToolHandlerFor[ConnectInput, ConnectResult] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input ConnectInput) (*mcp.CallToolResult, ConnectResult, error) {
		if input.URL == "" {
			return nil, ConnectResult{}, fmt.Errorf("url is required")
		}
		if input.Channel == "" {
			return nil, ConnectResult{}, fmt.Errorf("channel is required")
		}

		if err := bridge.Client().Connect(ctx, input.URL, input.Channel); err != nil {
			return nil, ConnectResult{}, fmt.Errorf("connect failed: %w", err)
		}

		result := ConnectResult{
			State:   bridge.Client().State().String(),
			URL:     input.URL,
			Channel: input.Channel,
		}
		return nil, result, nil
	}
}

// ChannelDisconnectHandler closes the channel.
func ChannelDisconnectHandler(bridge *Bridge) mcp.ToolHandlerFor[DisconnectInput, DisconnectResult] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, _ DisconnectInput) (*mcp.CallToolResult, DisconnectResult, error) {
		bridge.Client().Disconnect()
		return nil, DisconnectResult{State: bridge.Client().State().String()}, nil
	}
}

// ChannelStatusHandler reports the channel's current state.
func ChannelStatusHandler(bridge *Bridge) mcp.ToolHandlerFor[StatusInput, StatusResult] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, _ StatusInput) (*mcp.CallToolResult, StatusResult, error) {
		client := bridge.Client()
		result := StatusResult{
			State:     client.State().String(),
			Connected: client.IsConnected(),
			Pending:   client.Pending(),
			Stats:     client.Stats(),
		}
		return nil, result, nil
	}
}

// SendCommandHandler issues one command and waits for its outcome.
func SendCommandHandler(bridge *Bridge) mcp.ToolHandlerFor[SendCommandInput, SendCommandResult] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input SendCommandInput) (*mcp.CallToolResult, SendCommandResult, error) {
		if input.Action == "" {
			return nil, SendCommandResult{}, fmt.Errorf("action is required")
		}

		timeout := time.Duration(input.TimeoutMS) * time.Millisecond
		response, err := bridge.Client().Send(input.Action, input.Params, timeout)
		if err != nil {
			return nil, SendCommandResult{}, fmt.Errorf("send failed: %w", err)
		}

		result := SendCommandResult{
			Success: response.Success,
			Error:   response.Error,
		}
		if len(response.Data) > 0 {
			var data any
			if err := json.Unmarshal(response.Data, &data); err == nil {
				result.Data = data
			}
		}
		return nil, result, nil
	}
}

// ApplyRecipeHandler loads and runs a recipe file over the channel.
func ApplyRecipeHandler(bridge *Bridge) mcp.ToolHandlerFor[ApplyRecipeInput, ApplyRecipeResult] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input ApplyRecipeInput) (*mcp.CallToolResult, ApplyRecipeResult, error) {
		if input.Path == "" {
			return nil, ApplyRecipeResult{}, fmt.Errorf("path is required")
		}

		loaded, err := recipe.Load(input.Path)
		if err != nil {
			return nil, ApplyRecipeResult{}, err
		}

		resolved, err := loaded.Resolve(input.Vars)
		if err != nil {
			return nil, ApplyRecipeResult{}, err
		}

		runner := recipe.NewRunner(bridge.Client())
		outcomes, runErr := runner.Run(resolved)

		result := ApplyRecipeResult{
			Recipe:    resolved.Name,
			Completed: runErr == nil,
			Steps:     make([]RecipeStepOutcome, 0, len(outcomes)),
		}
		if runErr != nil {
			result.Error = runErr.Error()
		}
		for _, outcome := range outcomes {
			result.Steps = append(result.Steps, RecipeStepOutcome{
				Step:       outcome.Step,
				Action:     outcome.Action,
				Success:    outcome.Success,
				Error:      outcome.Error,
				DurationMS: outcome.Duration.Milliseconds(),
			})
		}

		// Partial results are still results; the failure is captured in
		// the payload rather than aborting the tool call.
		return nil, result, nil
	}
}
