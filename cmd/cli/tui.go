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
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbletea"
)

// Main TUI model that routes between screens
type model struct {
	currentScreen screen
	width         int
	height        int
	quitting      bool

	// Connect form defaults for the Esc path
	url         string
	channelName string
	debugMode   bool

	// Screen models
	connectModel ConnectModel
	consoleModel ConsoleModel
}

func initialModel(url, channelName string, debug bool) model {
	return model{
		currentScreen: screenConnect,
		url:           url,
		channelName:   channelName,
		debugMode:     debug,
		connectModel:  NewConnectModel(url, channelName, debug),
	}
}

func (m model) Init() tea.Cmd {
	return textinput.Blink
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case tea.KeyMsg:
		// Global quit handling
		switch msg.String() {
		case "ctrl+c":
			m.shutdown()
			m.quitting = true
			return m, tea.Quit

		case "esc":
			if m.currentScreen == screenConsole {
				// Drop the session and return to the connect screen
				m.shutdown()
				m.connectModel = NewConnectModel(m.url, m.channelName, m.debugMode)
				m.currentScreen = screenConnect
				return m, textinput.Blink
			}
			return m, nil
		}
	}

	// Route messages to the appropriate screen. Async results (connects,
	// command responses, ticks) arrive here too, not only key presses.
	switch m.currentScreen {
	case screenConnect:
		var cmd tea.Cmd
		m.connectModel, cmd = m.connectModel.Update(msg)

		// Check if connection was successful
		if m.connectModel.IsConnected() {
			m.consoleModel = NewConsoleModel(
				m.connectModel.Client(),
				m.connectModel.URL(),
				m.connectModel.ChannelName(),
				m.connectModel.GetDebugMode(),
			)
			m.consoleModel.width = m.width
			m.consoleModel.height = m.height
			m.currentScreen = screenConsole
			return m, tea.Batch(cmd, m.consoleModel.Init())
		}

		return m, cmd

	case screenConsole:
		var cmd tea.Cmd
		m.consoleModel, cmd = m.consoleModel.Update(msg)
		return m, cmd
	}

	return m, nil
}

func (m model) View() string {
	if m.quitting {
		return successStyle.Render("Thanks for using Drawbridge!") + "\n"
	}

	// Route view rendering to appropriate screen
	switch m.currentScreen {
	case screenConnect:
		return m.connectModel.View()
	case screenConsole:
		return m.consoleModel.View()
	default:
		return "Unknown screen"
	}
}

// shutdown drops whichever channel session is live
func (m *model) shutdown() {
	if m.currentScreen == screenConsole && m.consoleModel.client != nil {
		m.consoleModel.client.Disconnect()
		return
	}
	if m.connectModel.client != nil {
		m.connectModel.client.Disconnect()
	}
}

func StartConsole(url, channelName string, debug bool) error {
	p := tea.NewProgram(
		initialModel(url, channelName, debug),
		tea.WithAltScreen(),
		tea.WithMouseCellMotion(),
	)

	// Ensure proper cleanup on panic or interrupt
	defer func() {
		if r := recover(); r != nil {
			p.Kill()
		}
	}()

	final, err := p.Run()
	if m, ok := final.(model); ok {
		// The /quit path exits without passing through Update
		m.shutdown()
	}
	return err
}
