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

package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"drawbridge/internal/channel"
	"drawbridge/internal/logger"
)

const (
	defaultReconnectInterval = 5 * time.Second
	execTimeout              = 30 * time.Second
	writeTimeout             = 10 * time.Second
	pingInterval             = 15 * time.Second
	pongWait                 = 20 * time.Second
)

// State represents the state of an agent
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateReady
	StateWorking
	StateReconnecting
)

// String returns the string representation of an agent state
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateReady:
		return "ready"
	case StateWorking:
		return "working"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// Handler executes one command action and returns its result
type Handler interface {
	Handle(ctx context.Context, action string, params json.RawMessage) (interface{}, error)
}

// Stats represents agent statistics
type Stats struct {
	CommandsHandled  int       `json:"commands_handled"`
	CommandsFailed   int       `json:"commands_failed"`
	DuplicatesServed int       `json:"duplicates_served"`
	Reconnections    int       `json:"reconnections"`
	LastCommand      time.Time `json:"last_command"`
	StartTime        time.Time `json:"start_time"`
	State            string    `json:"state"`
}

// Agent is the executor end of a command channel. It joins a channel on the
// relay, runs every command frame through its handler and answers with a
// response frame carrying the original command ID.
type Agent struct {
	url       string
	channel   string
	identity  string
	handler   Handler
	reconnect time.Duration
	conn      *websocket.Conn
	state     State
	ctx       context.Context
	cancel    context.CancelFunc
	logger    zerolog.Logger
	stats     Stats
	replay    *ReplayCache
	mutex     sync.RWMutex
}

// New creates an agent for the given relay URL and channel name
func New(url, channelName, identity string, handler Handler) *Agent {
	ctx, cancel := context.WithCancel(context.Background())

	return &Agent{
		url:       url,
		channel:   channelName,
		identity:  identity,
		handler:   handler,
		reconnect: defaultReconnectInterval,
		state:     StateDisconnected,
		ctx:       ctx,
		cancel:    cancel,
		logger:    logger.Component("agent"),
		stats: Stats{
			StartTime: time.Now(),
		},
		replay: NewReplayCache(0, 0),
	}
}

// SetReconnectInterval sets the delay between reconnection attempts
func (a *Agent) SetReconnectInterval(interval time.Duration) {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	if interval > 0 {
		a.reconnect = interval
	}
}

// SetReplayCacheSize adjusts how many command outcomes are kept for
// duplicate detection
func (a *Agent) SetReplayCacheSize(size int) {
	a.replay.Resize(size)
}

// Start connects to the relay and begins serving commands
func (a *Agent) Start() error {
	a.logger.Info().
		Str("relay", a.url).
		Str("channel", a.channel).
		Str("identity", a.identity).
		Msg("Starting agent")

	if err := a.connect(); err != nil {
		return fmt.Errorf("failed to connect to relay: %w", err)
	}

	go a.serveLoop()
	go a.keepaliveLoop()

	return nil
}

// Stop disconnects from the relay and stops serving
func (a *Agent) Stop() error {
	a.logger.Info().Msg("Stopping agent")

	a.cancel()

	a.mutex.Lock()
	a.state = StateDisconnected
	conn := a.conn
	a.conn = nil
	a.mutex.Unlock()

	if conn != nil {
		if err := conn.Close(); err != nil {
			a.logger.Error().Err(err).Msg("Error closing relay connection")
		}
	}

	a.logger.Info().Msg("Agent stopped")
	return nil
}

// IsConnected returns whether the agent currently serves a channel
func (a *Agent) IsConnected() bool {
	a.mutex.RLock()
	defer a.mutex.RUnlock()
	return a.state == StateReady || a.state == StateWorking
}

// Channel returns the channel name this agent serves
func (a *Agent) Channel() string {
	return a.channel
}

// GetStats returns a snapshot of agent statistics
func (a *Agent) GetStats() Stats {
	a.mutex.RLock()
	defer a.mutex.RUnlock()

	stats := a.stats
	stats.State = a.state.String()
	return stats
}

// connect dials the relay and completes the join handshake
func (a *Agent) connect() error {
	a.setState(StateConnecting)

	a.logger.Info().Str("relay", a.url).Msg("Connecting to relay")

	dialer := websocket.Dialer{HandshakeTimeout: channel.DefaultHandshakeTimeout}
	dialCtx, cancel := context.WithTimeout(a.ctx, channel.DefaultHandshakeTimeout)
	defer cancel()

	conn, _, err := dialer.DialContext(dialCtx, a.url, nil)
	if err != nil {
		a.setState(StateDisconnected)
		return fmt.Errorf("failed to dial relay: %w", err)
	}

	join, err := channel.EncodeFrame(channel.NewJoinFrame(a.channel))
	if err != nil {
		conn.Close()
		a.setState(StateDisconnected)
		return fmt.Errorf("failed to encode join frame: %w", err)
	}

	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, join); err != nil {
		conn.Close()
		a.setState(StateDisconnected)
		return fmt.Errorf("failed to send join frame: %w", err)
	}

	if err := a.awaitJoined(conn); err != nil {
		conn.Close()
		a.setState(StateDisconnected)
		return err
	}

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	a.mutex.Lock()
	a.conn = conn
	a.state = StateReady
	a.mutex.Unlock()

	a.logger.Info().Str("channel", a.channel).Msg("Joined channel, ready for commands")
	return nil
}

// awaitJoined reads frames until the relay confirms the join
func (a *Agent) awaitJoined(conn *websocket.Conn) error {
	conn.SetReadDeadline(time.Now().Add(channel.DefaultHandshakeTimeout))

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("join handshake failed: %w", err)
		}

		frameType, err := channel.DecodeFrameType(data)
		if err != nil {
			continue
		}

		switch frameType {
		case channel.FRAME_JOINED:
			return nil
		case channel.FRAME_ERROR:
			frame, err := channel.DecodeErrorFrame(data)
			if err != nil {
				return fmt.Errorf("relay rejected join")
			}
			return fmt.Errorf("relay rejected join: %s", frame.Error)
		default:
			// Frames predating our join are not for us
		}
	}
}

// serveLoop processes incoming frames until the agent stops
func (a *Agent) serveLoop() {
	a.logger.Info().Msg("Starting agent serve loop")

	for {
		select {
		case <-a.ctx.Done():
			a.logger.Info().Msg("Agent serve loop stopping")
			return
		default:
			conn := a.currentConn()
			if conn == nil {
				time.Sleep(a.reconnectInterval())
				continue
			}

			_, data, err := conn.ReadMessage()
			if err != nil {
				if a.ctx.Err() != nil {
					return
				}
				a.logger.Warn().Err(err).Msg("Lost connection to relay")
				a.reconnectToRelay()
				continue
			}

			a.dispatch(conn, data)
		}
	}
}

// dispatch routes one inbound frame
func (a *Agent) dispatch(conn *websocket.Conn, data []byte) {
	frameType, err := channel.DecodeFrameType(data)
	if err != nil {
		a.logger.Debug().Err(err).Msg("Ignoring malformed frame")
		return
	}

	switch frameType {
	case channel.FRAME_COMMAND:
		frame, err := channel.DecodeCommandFrame(data)
		if err != nil {
			a.logger.Debug().Err(err).Msg("Ignoring undecodable command frame")
			return
		}
		a.handleCommand(conn, frame)
	case channel.FRAME_ERROR:
		frame, err := channel.DecodeErrorFrame(data)
		if err == nil {
			a.logger.Warn().Str("error", frame.Error).Msg("Relay reported an error")
		}
	default:
		a.logger.Debug().Str("type", frameType).Msg("Ignoring unrecognized frame")
	}
}

// handleCommand executes a command frame and answers it
func (a *Agent) handleCommand(conn *websocket.Conn, frame *channel.CommandFrame) {
	if frame.ID == "" {
		// Nothing to correlate a response with
		a.logger.Debug().Str("action", frame.Action).Msg("Dropping command without ID")
		return
	}

	a.mutex.Lock()
	a.state = StateWorking
	a.stats.LastCommand = time.Now()
	a.mutex.Unlock()

	defer a.setState(StateReady)

	// Re-delivered commands are answered from the replay cache so the
	// document is never mutated twice for one command.
	if cached, found := a.replay.Check(frame.ID); found {
		a.mutex.Lock()
		a.stats.DuplicatesServed++
		a.mutex.Unlock()

		a.logger.Info().
			Str("command_id", frame.ID).
			Str("action", frame.Action).
			Msg("Answering duplicate command from replay cache")

		a.sendResponse(conn, channel.NewResponseFrame(cached.CommandID, frame.Channel, cached.Success, cached.Data, cached.Error))
		return
	}

	a.logger.Info().
		Str("command_id", frame.ID).
		Str("action", frame.Action).
		Msg("Executing command")

	success, data, errMsg := a.execute(frame)

	a.mutex.Lock()
	if success {
		a.stats.CommandsHandled++
	} else {
		a.stats.CommandsFailed++
	}
	a.mutex.Unlock()

	a.replay.Store(frame.ID, success, data, errMsg)
	a.sendResponse(conn, channel.NewResponseFrame(frame.ID, frame.Channel, success, data, errMsg))
}

// execute runs a command through the handler and shapes the outcome
func (a *Agent) execute(frame *channel.CommandFrame) (bool, json.RawMessage, string) {
	if frame.Action == "" {
		return false, nil, "action required"
	}
	if a.handler == nil {
		return false, nil, "no command handler configured"
	}

	execCtx, cancel := context.WithTimeout(a.ctx, execTimeout)
	defer cancel()

	result, err := a.handler.Handle(execCtx, frame.Action, frame.Params)
	if err != nil {
		a.logger.Warn().
			Str("command_id", frame.ID).
			Str("action", frame.Action).
			Err(err).
			Msg("Command failed")
		return false, nil, err.Error()
	}

	data, err := json.Marshal(result)
	if err != nil {
		a.logger.Error().
			Str("command_id", frame.ID).
			Err(err).
			Msg("Failed to encode command result")
		return false, nil, fmt.Sprintf("failed to encode result: %v", err)
	}

	return true, data, ""
}

// sendResponse writes a response frame back through the relay
func (a *Agent) sendResponse(conn *websocket.Conn, frame *channel.ResponseFrame) {
	data, err := channel.EncodeFrame(frame)
	if err != nil {
		a.logger.Error().Err(err).Msg("Failed to encode response frame")
		return
	}

	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		a.logger.Error().
			Str("command_id", frame.ID).
			Err(err).
			Msg("Failed to send response")
		conn.Close()
		return
	}

	a.logger.Debug().
		Str("command_id", frame.ID).
		Bool("success", frame.Success).
		Msg("Sent response")
}

// keepaliveLoop pings the relay so dead connections surface as read errors
func (a *Agent) keepaliveLoop() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			conn := a.currentConn()
			if conn == nil {
				continue
			}
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				a.logger.Warn().Err(err).Msg("Failed to ping relay")
				conn.Close()
			}
		case <-a.ctx.Done():
			return
		}
	}
}

// reconnectToRelay retries the relay connection until it succeeds or the
// agent stops. The executor side never gives up; the issuer owns bounded
// retry behavior.
func (a *Agent) reconnectToRelay() {
	a.mutex.Lock()
	if a.state == StateReconnecting {
		a.mutex.Unlock()
		return
	}
	a.state = StateReconnecting
	a.stats.Reconnections++
	conn := a.conn
	a.conn = nil
	a.mutex.Unlock()

	if conn != nil {
		conn.Close()
	}

	for {
		select {
		case <-a.ctx.Done():
			return
		case <-time.After(a.reconnectInterval()):
		}

		if err := a.connect(); err != nil {
			a.logger.Warn().Err(err).Msg("Reconnect attempt failed")
			a.setState(StateReconnecting)
			continue
		}

		a.logger.Info().Msg("Reconnected to relay")
		return
	}
}

func (a *Agent) currentConn() *websocket.Conn {
	a.mutex.RLock()
	defer a.mutex.RUnlock()
	return a.conn
}

func (a *Agent) reconnectInterval() time.Duration {
	a.mutex.RLock()
	defer a.mutex.RUnlock()
	return a.reconnect
}

func (a *Agent) setState(state State) {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	if a.ctx.Err() != nil && state != StateDisconnected {
		return
	}
	a.state = state
}
