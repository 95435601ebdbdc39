package mcpserver

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"drawbridge/internal/channel"
)

const (
	serverName    = "drawbridge"
	serverVersion = "1.0.0"
)

// Bridge owns the channel client shared by every MCP tool invocation. The
// MCP session and the channel have independent lifetimes: tools connect and
// disconnect the channel without tearing down the MCP server.
type Bridge struct {
	client *channel.Client
}

// NewBridge creates a bridge around a fresh channel client
func NewBridge(opts channel.Options) *Bridge {
	return &Bridge{client: channel.New(opts)}
}

// Client returns the shared channel client
func (b *Bridge) Client() *channel.Client {
	return b.client
}

// NewServer builds an MCP server exposing the channel tools
func NewServer(bridge *Bridge) *mcp.Server {
	server := mcp.NewServer(&mcp.Implementation{Name: serverName, Version: serverVersion}, nil)

	mcp.AddTool(server, ChannelConnectTool(), ChannelConnectHandler(bridge))
	mcp.AddTool(server, ChannelDisconnectTool(), ChannelDisconnectHandler(bridge))
	mcp.AddTool(server, ChannelStatusTool(), ChannelStatusHandler(bridge))
	mcp.AddTool(server, SendCommandTool(), SendCommandHandler(bridge))
	mcp.AddTool(server, ApplyRecipeTool(), ApplyRecipeHandler(bridge))

	return server
}

// Run serves MCP over stdio until the context is cancelled. The channel is
// closed on the way out so pending commands are rejected rather than leaked.
func Run(ctx context.Context, bridge *Bridge) error {
	server := NewServer(bridge)
	defer bridge.Client().Disconnect()

	return server.Run(ctx, &mcp.StdioTransport{})
}
