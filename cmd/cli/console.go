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

package cli

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"drawbridge/internal/channel"
)

const (
	maxConsoleHistory = 100
	maxInputHistory   = 100
)

const consoleHelpText = `commands are an action plus an optional JSON object, e.g. ` +
	`create_frame {"name": "hero", "width": 800, "height": 600} · ` +
	`create_rectangle {"name": "box", "parent_id": "node_1", "x": 20, "y": 20} · ` +
	`set_fill_color {"node_id": "node_2", "r": 0.9, "g": 0.2, "b": 0.2} · ` +
	`get_document_info · export_summary · meta: /status /clear /help /quit`

// commandResultMsg carries the outcome of an async command dispatch
type commandResultMsg struct {
	command  string
	response channel.Response
	err      error
	duration time.Duration
}

// statusTickMsg refreshes the connection status bar
type statusTickMsg time.Time

// ConsoleModel handles the interactive command screen
type ConsoleModel struct {
	// Connected channel
	client      *channel.Client
	url         string
	channelName string

	// Command line
	input textinput.Model
	spin  spinner.Model

	// Response history
	history           []historyEntry
	inputHistory      []string
	inputHistoryIndex int

	// Commands awaiting a response
	inflight int

	// Screen dimensions for responsive layout
	width  int
	height int

	// Flags
	debugMode bool
}

// NewConsoleModel creates a new console screen model
func NewConsoleModel(client *channel.Client, url, channelName string, debug bool) ConsoleModel {
	input := textinput.New()
	input.Prompt = promptStyle.Render("❯ ")
	input.Placeholder = `action {"param": "value"}`
	input.CharLimit = 512
	input.Width = 70
	input.Focus()

	spin := spinner.New()
	spin.Spinner = spinner.MiniDot
	spin.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF79C6"))

	return ConsoleModel{
		client:            client,
		url:               url,
		channelName:       channelName,
		input:             input,
		spin:              spin,
		history:           []historyEntry{},
		inputHistory:      []string{},
		inputHistoryIndex: -1,
		debugMode:         debug,
	}
}

// Init arms the cursor blink and the status ticker
func (m ConsoleModel) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, statusTick())
}

// statusTick keeps the status bar tracking reconnect progress while idle
func statusTick() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return statusTickMsg(t)
	})
}

// Update handles console screen messages
func (m ConsoleModel) Update(msg tea.Msg) (ConsoleModel, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		if msg.Width > 20 && msg.Width < 140 {
			m.input.Width = msg.Width - 10
		}
		return m, nil

	case statusTickMsg:
		return m, statusTick()

	case spinner.TickMsg:
		if m.inflight == 0 {
			return m, nil
		}
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd

	case commandResultMsg:
		if m.inflight > 0 {
			m.inflight--
		}
		m.appendHistory(resultToEntry(msg))
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "enter":
			return m.handleSubmit()
		case "up":
			return m.recallInput(-1), nil
		case "down":
			return m.recallInput(1), nil
		case "ctrl+l":
			m.history = nil
			return m, nil
		}
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// View renders the console screen
func (m ConsoleModel) View() string {
	var sections []string

	sections = append(sections, titleStyle.Render("Drawbridge Console"))
	sections = append(sections, m.renderStatusBar())
	sections = append(sections, m.renderHistory())
	sections = append(sections, m.input.View())
	sections = append(sections, helpStyle.Render("Enter: Send • ↑/↓: Input history • Ctrl+L: Clear • Esc: Disconnect • Ctrl+C: Quit"))

	return strings.Join(sections, "\n\n")
}

// renderStatusBar shows the channel state, the endpoint and queue pressure
func (m ConsoleModel) renderStatusBar() string {
	state := m.client.State()

	var stateView string
	switch state {
	case channel.StateConnected:
		stateView = successStyle.Render("● " + state.String())
	case channel.StateReconnecting:
		stateView = warnStyle.Render("◌ " + state.String())
	case channel.StateGivenUp:
		stateView = errorStyle.Render("✗ " + state.String())
	default:
		stateView = helpStyle.Render("○ " + state.String())
	}

	parts := []string{
		stateView,
		fmt.Sprintf("%s@%s", m.channelName, m.url),
		fmt.Sprintf("pending: %d", m.client.Pending()),
	}
	if m.inflight > 0 {
		parts = append(parts, fmt.Sprintf("%s %d in flight", m.spin.View(), m.inflight))
	}

	return strings.Join(parts, "  ")
}

// renderHistory shows the most recent commands and their results
func (m ConsoleModel) renderHistory() string {
	if len(m.history) == 0 {
		return helpStyle.Render("No commands sent yet. Try /help.")
	}

	// Two display lines per entry; leave room for the surrounding chrome
	maxEntries := 8
	if m.height > 0 {
		if available := (m.height - 12) / 2; available > 0 {
			maxEntries = available
		}
	}

	start := 0
	if len(m.history) > maxEntries {
		start = len(m.history) - maxEntries
	}

	width := m.width
	if width <= 0 {
		width = 100
	}

	var lines []string
	for _, entry := range m.history[start:] {
		ts := timestampStyle.Render(entry.Timestamp.Format("15:04:05"))
		lines = append(lines, fmt.Sprintf("%s %s", ts, truncate(entry.Command, width-12)))

		var result string
		switch {
		case entry.Error != "":
			result = errorStyle.Render("✗") + " " + truncate(entry.Error, width-8)
		case entry.Response != "":
			result = successStyle.Render("✓") + " " + truncate(entry.Response, width-8)
		default:
			result = successStyle.Render("✓") + " ok"
		}
		if !entry.Meta && entry.Duration > 0 {
			result += timestampStyle.Render(fmt.Sprintf(" (%s)", entry.Duration.Round(time.Millisecond)))
		}
		lines = append(lines, "  "+result)
	}

	return strings.Join(lines, "\n")
}

// handleSubmit parses the command line and dispatches it
func (m ConsoleModel) handleSubmit() (ConsoleModel, tea.Cmd) {
	line := strings.TrimSpace(m.input.Value())
	if line == "" {
		return m, nil
	}

	m.input.SetValue("")
	m.rememberInput(line)

	if strings.HasPrefix(line, "/") {
		return m.handleMetaCommand(line)
	}

	action, params, err := parseCommandLine(line)
	if err != nil {
		m.appendHistory(historyEntry{
			Timestamp: time.Now(),
			Command:   line,
			Error:     err.Error(),
		})
		return m, nil
	}

	m.inflight++
	return m, tea.Batch(m.spin.Tick, dispatchCommand(m.client, line, action, params))
}

// handleMetaCommand processes console-local commands
func (m ConsoleModel) handleMetaCommand(line string) (ConsoleModel, tea.Cmd) {
	entry := historyEntry{
		Timestamp: time.Now(),
		Command:   line,
		Success:   true,
		Meta:      true,
	}

	switch strings.ToLower(line) {
	case "/quit", "/exit":
		return m, tea.Quit

	case "/clear":
		m.history = nil
		return m, nil

	case "/status":
		stats := m.client.Stats()
		entry.Response = fmt.Sprintf(
			"state=%s pending=%d sent=%d completed=%d timeouts=%d replayed=%d reconnects=%d",
			m.client.State(), m.client.Pending(),
			stats.Sent, stats.Completed, stats.Timeouts, stats.Replayed, stats.Reconnects)

	case "/help":
		entry.Response = consoleHelpText

	default:
		entry.Success = false
		entry.Error = fmt.Sprintf("unknown command %s (try /help)", line)
	}

	m.appendHistory(entry)
	return m, nil
}

// parseCommandLine splits "action {json}" into an action and its parameters
func parseCommandLine(line string) (string, interface{}, error) {
	action, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimSpace(rest)
	if rest == "" {
		return action, nil, nil
	}

	var params map[string]interface{}
	if err := json.Unmarshal([]byte(rest), &params); err != nil {
		return "", nil, fmt.Errorf("invalid params JSON: %v", err)
	}
	return action, params, nil
}

// dispatchCommand sends one command off the UI loop. The zero timeout picks
// the client default.
func dispatchCommand(client *channel.Client, line, action string, params interface{}) tea.Cmd {
	return func() tea.Msg {
		start := time.Now()
		response, err := client.Send(action, params, 0)
		return commandResultMsg{
			command:  line,
			response: response,
			err:      err,
			duration: time.Since(start),
		}
	}
}

// resultToEntry converts a dispatch outcome into a history entry
func resultToEntry(msg commandResultMsg) historyEntry {
	entry := historyEntry{
		Timestamp: time.Now(),
		Command:   msg.command,
		Duration:  msg.duration,
	}

	if msg.err != nil {
		entry.Error = msg.err.Error()
		return entry
	}

	entry.Success = msg.response.Success
	if msg.response.Success {
		entry.Response = compactJSON(msg.response.Data)
	} else {
		entry.Error = msg.response.Error
	}
	return entry
}

// appendHistory adds an entry, keeping the buffer bounded
func (m *ConsoleModel) appendHistory(entry historyEntry) {
	m.history = append(m.history, entry)
	if len(m.history) > maxConsoleHistory {
		m.history = m.history[1:]
	}
}

// rememberInput records a submitted line for up-arrow recall
func (m *ConsoleModel) rememberInput(line string) {
	m.inputHistory = append(m.inputHistory, line)
	if len(m.inputHistory) > maxInputHistory {
		m.inputHistory = m.inputHistory[1:]
	}
	m.inputHistoryIndex = -1
}

// recallInput walks the input history; past the newest entry the line clears
func (m ConsoleModel) recallInput(delta int) ConsoleModel {
	if len(m.inputHistory) == 0 {
		return m
	}

	index := m.inputHistoryIndex
	if index == -1 {
		if delta > 0 {
			return m
		}
		index = len(m.inputHistory)
	}

	index += delta
	if index < 0 {
		index = 0
	}
	if index >= len(m.inputHistory) {
		m.inputHistoryIndex = -1
		m.input.SetValue("")
		return m
	}

	m.inputHistoryIndex = index
	m.input.SetValue(m.inputHistory[index])
	m.input.CursorEnd()
	return m
}
