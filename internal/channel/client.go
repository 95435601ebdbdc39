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

package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"drawbridge/internal/logger"
)

// Default timing and capacity settings for a channel client
const (
	DefaultHandshakeTimeout  = 10 * time.Second
	DefaultHeartbeatInterval = 15 * time.Second
	DefaultHeartbeatTimeout  = 5 * time.Second
	DefaultBackoffBase       = 1 * time.Second
	DefaultBackoffCap        = 30 * time.Second
	DefaultMaxReconnects     = 10
	DefaultQueueLimit        = 50
	DefaultCommandTimeout    = 30 * time.Second
)

// Terminal errors surfaced to callers
var (
	ErrNotConnected     = errors.New("not connected")
	ErrAlreadyConnected = errors.New("already connected")
	ErrQueueFull        = errors.New("command queue full")
	ErrCommandTimeout   = errors.New("command timed out")
	ErrClosed           = errors.New("channel closed")
	ErrMaxReconnect     = errors.New("max reconnection attempts exceeded")
	ErrHandshakeTimeout = errors.New("join handshake timed out")
)

// State represents the lifecycle state of a channel client
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateGivenUp
)

// String returns a human-readable state name
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateGivenUp:
		return "given_up"
	default:
		return "unknown"
	}
}

// Options configures a channel client. Zero values fall back to the defaults
// above, so tests can shrink individual timings without restating the rest.
type Options struct {
	HandshakeTimeout  time.Duration
	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration
	BackoffBase       time.Duration
	BackoffCap        time.Duration
	MaxReconnects     int
	QueueLimit        int
	CommandTimeout    time.Duration
	Dialer            Dialer
	Logger            *zerolog.Logger
}

func (o Options) withDefaults() Options {
	if o.HandshakeTimeout <= 0 {
		o.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if o.HeartbeatInterval <= 0 {
		o.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if o.HeartbeatTimeout <= 0 {
		o.HeartbeatTimeout = DefaultHeartbeatTimeout
	}
	if o.BackoffBase <= 0 {
		o.BackoffBase = DefaultBackoffBase
	}
	if o.BackoffCap <= 0 {
		o.BackoffCap = DefaultBackoffCap
	}
	if o.MaxReconnects <= 0 {
		o.MaxReconnects = DefaultMaxReconnects
	}
	if o.QueueLimit <= 0 {
		o.QueueLimit = DefaultQueueLimit
	}
	if o.CommandTimeout <= 0 {
		o.CommandTimeout = DefaultCommandTimeout
	}
	if o.Dialer == nil {
		o.Dialer = WebsocketDialer{}
	}
	return o
}

// session holds the logical session a client is (re)connecting to
type session struct {
	url         string
	channel     string
	connected   bool
	intentional bool
}

// commandState tracks where a command record sits in its lifecycle
type commandState int

const (
	commandQueued   commandState = iota // waiting for (re)transmission
	commandInflight                     // transmitted, awaiting response
)

// command is the single authoritative record for one issued command. It
// serves both correlation (id -> waiting caller) and replay (unacknowledged
// work that must survive a disconnect); a record is removed exactly once, on
// response, timeout or terminal rejection.
type command struct {
	id       string
	action   string
	params   json.RawMessage
	timeout  time.Duration
	state    commandState
	epoch    int // invalidates stale deadline callbacks
	deadline *time.Timer
	response chan Response
	errc     chan error
}

func (cmd *command) resolve(resp Response) {
	select {
	case cmd.response <- resp:
	default:
	}
}

func (cmd *command) reject(err error) {
	select {
	case cmd.errc <- err:
	default:
	}
}

// Stats represents channel client statistics
type Stats struct {
	Sent            int       `json:"sent"`
	Completed       int       `json:"completed"`
	Timeouts        int       `json:"timeouts"`
	Replayed        int       `json:"replayed"`
	QueueRejections int       `json:"queue_rejections"`
	Reconnects      int       `json:"reconnects"`
	HeartbeatKills  int       `json:"heartbeat_kills"`
	RelayErrors     int       `json:"relay_errors"`
	LastSend        time.Time `json:"last_send"`
	LastResponse    time.Time `json:"last_response"`
}

// Client is the resilient command channel exposed to issuers. One mutex
// serializes every mutation of the session, the command records and the
// backoff state; the physical connection is only touched through it.
type Client struct {
	opts     Options
	instance string
	logger   zerolog.Logger

	mutex          sync.Mutex
	state          State
	session        *session
	conn           Conn
	connEpoch      int // invalidates callbacks from replaced connections
	joinWait       chan error
	commands       map[string]*command
	order          []string
	seq            uint64
	attempts       int
	reconnectTimer *time.Timer
	hbCancel       context.CancelFunc
	hbPong         chan struct{}
	stats          Stats
}

// New creates a channel client with the given options
func New(opts Options) *Client {
	opts = opts.withDefaults()
	log := logger.Component("channel")
	if opts.Logger != nil {
		log = *opts.Logger
	}
	return &Client{
		opts:     opts,
		instance: uuid.NewString()[:8],
		logger:   log,
		state:    StateIdle,
		commands: make(map[string]*command),
	}
}

// Connect opens the duplex connection and joins the named channel. It blocks
// until the join is confirmed, the handshake timeout fires, or the transport
// reports an error.
func (c *Client) Connect(ctx context.Context, url, channelName string) error {
	c.mutex.Lock()
	if c.state == StateConnected || c.state == StateConnecting || c.state == StateReconnecting {
		c.mutex.Unlock()
		return ErrAlreadyConnected
	}
	c.state = StateConnecting
	c.session = &session{url: url, channel: channelName}
	c.attempts = 0
	c.mutex.Unlock()

	if err := c.open(ctx, url, channelName); err != nil {
		c.mutex.Lock()
		c.state = StateIdle
		c.session = nil
		c.mutex.Unlock()
		return err
	}

	c.mutex.Lock()
	c.state = StateConnected
	c.session.connected = true
	c.session.intentional = false
	c.startHeartbeatLocked()
	c.mutex.Unlock()

	c.logger.Info().
		Str("url", url).
		Str("channel", channelName).
		Msg("channel connected")
	return nil
}

// Disconnect tears the session down for good: it cancels any scheduled
// reconnection, stops the heartbeat, closes the connection and rejects every
// outstanding command. It never triggers reconnection.
func (c *Client) Disconnect() {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.session == nil {
		return
	}
	c.session.intentional = true
	c.session.connected = false

	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
	c.stopHeartbeatLocked()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.connEpoch++
	c.joinWait = nil
	c.state = StateIdle
	c.rejectAllLocked(ErrClosed)

	c.logger.Info().Msg("channel closed")
}

// Send issues a command and blocks until it resolves, times out or is
// terminally rejected. A non-positive timeout selects the default. The
// returned Response carries the executor's success flag and payload; a
// Response with Success=false is not a Go error.
func (c *Client) Send(action string, params interface{}, timeout time.Duration) (Response, error) {
	if timeout <= 0 {
		timeout = c.opts.CommandTimeout
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return Response{}, fmt.Errorf("failed to encode params: %w", err)
	}

	c.mutex.Lock()
	switch c.state {
	case StateConnected, StateReconnecting:
	default:
		c.mutex.Unlock()
		return Response{}, ErrNotConnected
	}
	if len(c.commands) >= c.opts.QueueLimit {
		c.stats.QueueRejections++
		c.mutex.Unlock()
		return Response{}, ErrQueueFull
	}

	cmd := &command{
		id:       c.nextIDLocked(),
		action:   action,
		params:   raw,
		timeout:  timeout,
		state:    commandQueued,
		response: make(chan Response, 1),
		errc:     make(chan error, 1),
	}
	c.commands[cmd.id] = cmd
	c.order = append(c.order, cmd.id)
	c.stats.Sent++
	c.stats.LastSend = time.Now()

	if c.state == StateConnected {
		c.transmitLocked(cmd)
	} else {
		c.logger.Debug().
			Str("id", cmd.id).
			Str("action", action).
			Msg("session recovering, command queued")
	}
	c.mutex.Unlock()

	select {
	case resp := <-cmd.response:
		return resp, nil
	case err := <-cmd.errc:
		return Response{}, err
	}
}

// IsConnected reports whether the physical connection is open and the join
// handshake has completed.
func (c *Client) IsConnected() bool {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.state == StateConnected
}

// State returns the current lifecycle state
func (c *Client) State() State {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.state
}

// Pending returns the number of commands awaiting a response or replay
func (c *Client) Pending() int {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return len(c.commands)
}

// Stats returns a snapshot of the client statistics
func (c *Client) Stats() Stats {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.stats
}

// nextIDLocked generates a command identifier: unique across client
// instances, monotonic within one.
func (c *Client) nextIDLocked() string {
	c.seq++
	return fmt.Sprintf("cmd_%s_%d", c.instance, c.seq)
}

// transmitLocked writes a queued command to the live connection and arms its
// deadline. A write failure keeps the record queued and lets the read loop
// drive the usual connection-loss path.
func (c *Client) transmitLocked(cmd *command) {
	frame := NewCommandFrame(cmd.id, c.session.channel, cmd.action, cmd.params)
	data, err := EncodeFrame(frame)
	if err != nil {
		c.removeLocked(cmd.id)
		cmd.reject(fmt.Errorf("failed to encode command: %w", err))
		return
	}

	cmd.state = commandInflight
	c.armDeadlineLocked(cmd)

	if err := c.conn.WriteMessage(data); err != nil {
		c.clearDeadlineLocked(cmd)
		cmd.state = commandQueued
		c.logger.Warn().
			Err(err).
			Str("id", cmd.id).
			Msg("transmit failed, command kept for replay")
		c.conn.Close()
		return
	}

	c.logger.Debug().
		Str("id", cmd.id).
		Str("action", cmd.action).
		Msg("command transmitted")
}

// armDeadlineLocked starts a fresh deadline timer for an in-flight command
func (c *Client) armDeadlineLocked(cmd *command) {
	cmd.epoch++
	epoch := cmd.epoch
	id := cmd.id
	cmd.deadline = time.AfterFunc(cmd.timeout, func() {
		c.expireCommand(id, epoch)
	})
}

// clearDeadlineLocked stops the deadline timer and invalidates callbacks
// already in flight.
func (c *Client) clearDeadlineLocked(cmd *command) {
	cmd.epoch++
	if cmd.deadline != nil {
		cmd.deadline.Stop()
		cmd.deadline = nil
	}
}

// expireCommand fires when a command's deadline elapses. Per-command timeouts
// are independent of connection health: the remote side hanging on one
// command must not affect the rest of the session.
func (c *Client) expireCommand(id string, epoch int) {
	c.mutex.Lock()
	cmd, ok := c.commands[id]
	if !ok || cmd.epoch != epoch || cmd.state != commandInflight {
		c.mutex.Unlock()
		return
	}
	c.removeLocked(id)
	c.stats.Timeouts++
	c.mutex.Unlock()

	c.logger.Warn().
		Str("id", id).
		Str("action", cmd.action).
		Dur("timeout", cmd.timeout).
		Msg("command timed out")
	cmd.reject(ErrCommandTimeout)
}

// handleResponse resolves the waiting caller for a correlated response.
// Responses are matched purely by id; a response for an id that was already
// resolved (or timed out) is a no-op.
func (c *Client) handleResponse(frame *ResponseFrame) {
	c.mutex.Lock()
	cmd, ok := c.commands[frame.ID]
	if !ok {
		c.mutex.Unlock()
		c.logger.Debug().
			Str("id", frame.ID).
			Msg("response for unknown command, ignoring")
		return
	}
	c.clearDeadlineLocked(cmd)
	c.removeLocked(frame.ID)
	c.stats.Completed++
	c.stats.LastResponse = time.Now()
	c.mutex.Unlock()

	cmd.resolve(Response{
		Success: frame.Success,
		Data:    frame.Data,
		Error:   frame.Error,
	})
}

// resendQueuedLocked is the replay sweep, run once per successful
// reconnection. Every surviving record is retransmitted under its original id
// with a fresh deadline; records resolved out of band while the session was
// down are gone from the table already and are never resent. If the
// connection drops mid-sweep the sweep stops and the untouched tail stays
// queued for the next reconnection.
func (c *Client) resendQueuedLocked() {
	if len(c.order) == 0 {
		return
	}
	c.logger.Info().
		Int("count", len(c.order)).
		Msg("replaying unacknowledged commands")

	ids := append([]string(nil), c.order...)
	for _, id := range ids {
		cmd, ok := c.commands[id]
		if !ok || cmd.state != commandQueued {
			continue
		}
		if c.conn == nil {
			return
		}
		c.transmitLocked(cmd)
		if cmd.state != commandInflight {
			// Write failed; the read loop takes over from here.
			return
		}
		c.stats.Replayed++
	}
}

// removeLocked drops a command record from the table and the replay order
func (c *Client) removeLocked(id string) {
	delete(c.commands, id)
	for i, queued := range c.order {
		if queued == id {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}

// rejectAllLocked terminally rejects every outstanding command
func (c *Client) rejectAllLocked(err error) {
	for id, cmd := range c.commands {
		c.clearDeadlineLocked(cmd)
		cmd.reject(err)
		delete(c.commands, id)
	}
	c.order = c.order[:0]
}
