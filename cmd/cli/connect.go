package cli

import (
	"context"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"drawbridge/internal/channel"
	"drawbridge/internal/logger"
)

// Connect screen input fields
type connectField int

const (
	connectFieldURL connectField = iota
	connectFieldChannel
	connectFieldConnect
)

// connectResultMsg carries the outcome of an async connection attempt
type connectResultMsg struct {
	client *channel.Client
	err    error
}

// ConnectModel handles the relay connection screen
type ConnectModel struct {
	// Navigation
	focusedField connectField

	// Input fields
	urlInput     textinput.Model
	channelInput textinput.Model
	spin         spinner.Model

	// Connection state
	connecting      bool
	connectionError string

	// Connected client (when setup complete)
	client *channel.Client

	// Flags
	debugMode bool
}

// NewConnectModel creates a new connection screen model
func NewConnectModel(url, channelName string, debug bool) ConnectModel {
	urlInput := textinput.New()
	urlInput.Placeholder = "ws://localhost:8080/ws"
	urlInput.SetValue(url)
	urlInput.Width = 50
	urlInput.Focus()

	channelInput := textinput.New()
	channelInput.Placeholder = "studio"
	channelInput.SetValue(channelName)
	channelInput.Width = 50

	spin := spinner.New()
	spin.Spinner = spinner.MiniDot
	spin.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF79C6"))

	return ConnectModel{
		focusedField: connectFieldURL,
		urlInput:     urlInput,
		channelInput: channelInput,
		spin:         spin,
		debugMode:    debug,
	}
}

// Update handles connect screen messages
func (m ConnectModel) Update(msg tea.Msg) (ConnectModel, tea.Cmd) {
	switch msg := msg.(type) {
	case connectResultMsg:
		m.connecting = false
		if msg.err != nil {
			m.connectionError = msg.err.Error()
			return m, nil
		}
		m.client = msg.client
		return m, nil

	case spinner.TickMsg:
		if !m.connecting {
			return m, nil
		}
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd

	case tea.KeyMsg:
		switch msg.String() {
		case "tab", "shift+tab":
			return m.handleTabNavigation(msg.String() == "shift+tab"), nil

		case "enter":
			if m.focusedField == connectFieldURL {
				return m.handleTabNavigation(false), nil
			}
			return m.handleConnect()
		}
	}

	return m.updateInputs(msg)
}

// View renders the connect screen
func (m ConnectModel) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("Drawbridge Console - Connect"))
	b.WriteString("\n\n")

	// Relay URL Input
	b.WriteString(subtitleStyle.Render("Relay URL:"))
	b.WriteString("\n")
	urlStyle := inputStyle
	if m.focusedField == connectFieldURL {
		urlStyle = inputFocusedStyle
	}
	b.WriteString(urlStyle.Render(m.urlInput.View()))
	b.WriteString("\n\n")

	// Channel Input
	b.WriteString(subtitleStyle.Render("Channel:"))
	b.WriteString("\n")
	channelStyle := inputStyle
	if m.focusedField == connectFieldChannel {
		channelStyle = inputFocusedStyle
	}
	b.WriteString(channelStyle.Render(m.channelInput.View()))
	b.WriteString("\n\n")

	// Connect Button
	connectStyle := buttonStyle
	if m.focusedField == connectFieldConnect {
		connectStyle = buttonActiveStyle
	}

	connectText := "Connect"
	if m.connecting {
		connectText = m.spin.View() + " Connecting..."
	}
	b.WriteString(connectStyle.Render(connectText))
	b.WriteString("\n\n")

	// Connection Error
	if m.connectionError != "" {
		b.WriteString(errorStyle.Render("Error: " + m.connectionError))
		b.WriteString("\n\n")
	}

	// Help
	b.WriteString(helpStyle.Render("Tab: Next field • Enter: Connect • Ctrl+C: Quit"))

	return b.String()
}

// handleTabNavigation moves between input fields
func (m ConnectModel) handleTabNavigation(reverse bool) ConnectModel {
	fields := []connectField{connectFieldURL, connectFieldChannel, connectFieldConnect}

	currentIndex := -1
	for i, field := range fields {
		if field == m.focusedField {
			currentIndex = i
			break
		}
	}

	if reverse {
		currentIndex--
		if currentIndex < 0 {
			currentIndex = len(fields) - 1
		}
	} else {
		currentIndex++
		if currentIndex >= len(fields) {
			currentIndex = 0
		}
	}

	m.focusedField = fields[currentIndex]

	m.urlInput.Blur()
	m.channelInput.Blur()
	switch m.focusedField {
	case connectFieldURL:
		m.urlInput.Focus()
	case connectFieldChannel:
		m.channelInput.Focus()
	}

	return m
}

// handleConnect validates the form and dials the relay
func (m ConnectModel) handleConnect() (ConnectModel, tea.Cmd) {
	if m.connecting {
		return m, nil
	}

	url := strings.TrimSpace(m.urlInput.Value())
	channelName := strings.TrimSpace(m.channelInput.Value())

	if url == "" {
		m.connectionError = "Relay URL is required"
		return m, nil
	}
	if !strings.HasPrefix(url, "ws://") && !strings.HasPrefix(url, "wss://") {
		m.connectionError = "Relay URL must start with ws:// or wss://"
		return m, nil
	}
	if channelName == "" {
		m.connectionError = "Channel name is required"
		return m, nil
	}

	m.connecting = true
	m.connectionError = ""

	return m, tea.Batch(m.spin.Tick, connectToRelay(url, channelName))
}

// connectToRelay dials off the UI loop; the handshake can take seconds
func connectToRelay(url, channelName string) tea.Cmd {
	return func() tea.Msg {
		client := channel.New(channel.Options{})
		if err := client.Connect(context.Background(), url, channelName); err != nil {
			return connectResultMsg{err: err}
		}

		log := logger.New()
		log.Info().
			Str("url", url).
			Str("channel", channelName).
			Msg("Channel connected")

		return connectResultMsg{client: client}
	}
}

// updateInputs routes remaining messages to the focused text input
func (m ConnectModel) updateInputs(msg tea.Msg) (ConnectModel, tea.Cmd) {
	var cmd tea.Cmd
	switch m.focusedField {
	case connectFieldURL:
		m.urlInput, cmd = m.urlInput.Update(msg)
	case connectFieldChannel:
		m.channelInput, cmd = m.channelInput.Update(msg)
	}
	return m, cmd
}

// IsConnected returns true once a channel session is established
func (m ConnectModel) IsConnected() bool {
	return m.client != nil
}

// Client returns the connected channel client
func (m ConnectModel) Client() *channel.Client {
	return m.client
}

// URL returns the relay URL from the form
func (m ConnectModel) URL() string {
	return strings.TrimSpace(m.urlInput.Value())
}

// ChannelName returns the channel name from the form
func (m ConnectModel) ChannelName() string {
	return strings.TrimSpace(m.channelInput.Value())
}

// GetDebugMode returns the debug mode flag
func (m ConnectModel) GetDebugMode() bool {
	return m.debugMode
}
