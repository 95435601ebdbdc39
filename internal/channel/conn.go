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
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// writeTimeout bounds a single frame write so a stalled peer cannot wedge the
// client behind its own mutex.
const writeTimeout = 10 * time.Second

// Conn is the minimal duplex connection surface the client needs. Exactly one
// read loop consumes ReadMessage; writes may come from any goroutine.
type Conn interface {
	ReadMessage() ([]byte, error)
	WriteMessage(data []byte) error
	Ping(deadline time.Time) error
	SetPongHandler(fn func())
	Close() error
}

// Dialer opens duplex connections. Tests substitute their own.
type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// WebsocketDialer is the default dialer
type WebsocketDialer struct{}

// Dial opens a websocket connection to the relay
func (WebsocketDialer) Dial(ctx context.Context, url string) (Conn, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	return &wsConn{conn: conn}, nil
}

// wsConn adapts a gorilla websocket connection. The write mutex serializes
// data frames; control frames go through WriteControl which gorilla allows
// concurrently.
type wsConn struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func (w *wsConn) ReadMessage() ([]byte, error) {
	_, data, err := w.conn.ReadMessage()
	return data, err
}

func (w *wsConn) WriteMessage(data []byte) error {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	if err := w.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return w.conn.WriteMessage(websocket.TextMessage, data)
}

func (w *wsConn) Ping(deadline time.Time) error {
	return w.conn.WriteControl(websocket.PingMessage, nil, deadline)
}

func (w *wsConn) SetPongHandler(fn func()) {
	w.conn.SetPongHandler(func(string) error {
		fn()
		return nil
	})
}

func (w *wsConn) Close() error {
	return w.conn.Close()
}

// open dials the relay, starts the read loop and performs the join handshake.
// It fails if the transport cannot be created, a transport error occurs
// before confirmation, or no confirmation arrives within the handshake
// timeout. It does not mutate the lifecycle state; callers own that.
func (c *Client) open(ctx context.Context, url, channelName string) error {
	dialCtx, cancel := context.WithTimeout(ctx, c.opts.HandshakeTimeout)
	defer cancel()

	conn, err := c.opts.Dialer.Dial(dialCtx, url)
	if err != nil {
		return fmt.Errorf("failed to open channel transport: %w", err)
	}

	ready := make(chan error, 1)

	c.mutex.Lock()
	if c.session == nil || c.session.intentional {
		c.mutex.Unlock()
		conn.Close()
		return ErrClosed
	}
	c.connEpoch++
	epoch := c.connEpoch
	c.conn = conn
	c.joinWait = ready
	c.mutex.Unlock()

	conn.SetPongHandler(func() { c.noteHeartbeatPong(epoch) })
	go c.readLoop(conn, epoch)

	join, err := EncodeFrame(NewJoinFrame(channelName))
	if err != nil {
		c.abortHandshake(epoch)
		return fmt.Errorf("failed to encode join request: %w", err)
	}
	if err := conn.WriteMessage(join); err != nil {
		c.abortHandshake(epoch)
		return fmt.Errorf("failed to send join request: %w", err)
	}

	select {
	case err := <-ready:
		return err
	case <-time.After(c.opts.HandshakeTimeout):
		c.abortHandshake(epoch)
		return ErrHandshakeTimeout
	case <-ctx.Done():
		c.abortHandshake(epoch)
		return ctx.Err()
	}
}

// abortHandshake cleans up a connection whose join never completed
func (c *Client) abortHandshake(epoch int) {
	c.mutex.Lock()
	if epoch == c.connEpoch {
		c.joinWait = nil
		if c.conn != nil {
			c.conn.Close()
			c.conn = nil
		}
	}
	c.mutex.Unlock()
}

// readLoop is the single consumer of inbound frames for one connection. It
// exits when the connection reports an error, which is also how intentional
// closes and heartbeat terminations surface here.
func (c *Client) readLoop(conn Conn, epoch int) {
	for {
		data, err := conn.ReadMessage()
		if err != nil {
			c.connClosed(epoch, err)
			return
		}
		c.dispatch(epoch, data)
	}
}

// dispatch routes one inbound frame. Malformed or unrecognized payloads are
// noise: one bad frame must not cancel unrelated in-flight commands.
func (c *Client) dispatch(epoch int, data []byte) {
	frameType, err := DecodeFrameType(data)
	if err != nil {
		c.logger.Debug().Err(err).Msg("ignoring malformed frame")
		return
	}

	switch frameType {
	case FRAME_JOINED:
		c.handshakeDone(epoch)
	case FRAME_RESPONSE:
		frame, err := DecodeResponseFrame(data)
		if err != nil || frame.ID == "" {
			c.logger.Debug().Msg("ignoring malformed response frame")
			return
		}
		c.handleResponse(frame)
	case FRAME_ERROR:
		frame, err := DecodeErrorFrame(data)
		if err != nil {
			return
		}
		c.mutex.Lock()
		c.stats.RelayErrors++
		c.mutex.Unlock()
		c.logger.Warn().Str("error", frame.Error).Msg("relay reported an error")
	default:
		c.logger.Debug().Str("type", frameType).Msg("ignoring unrecognized frame")
	}
}

// handshakeDone completes a pending open call for the current connection
func (c *Client) handshakeDone(epoch int) {
	c.mutex.Lock()
	if epoch != c.connEpoch || c.joinWait == nil {
		c.mutex.Unlock()
		return
	}
	wait := c.joinWait
	c.joinWait = nil
	c.mutex.Unlock()
	wait <- nil
}

// connClosed handles the end of a connection, however it died. Stale
// callbacks from already-replaced connections are dropped by the epoch guard.
func (c *Client) connClosed(epoch int, cause error) {
	c.mutex.Lock()
	if epoch != c.connEpoch {
		c.mutex.Unlock()
		return
	}

	// A transport error during the handshake fails the pending open call.
	if c.joinWait != nil {
		wait := c.joinWait
		c.joinWait = nil
		if c.conn != nil {
			c.conn.Close()
			c.conn = nil
		}
		c.mutex.Unlock()
		wait <- fmt.Errorf("connection lost during handshake: %w", cause)
		return
	}

	if c.state != StateConnected {
		// open() already gave up on this connection, or teardown is underway.
		if c.conn != nil {
			c.conn.Close()
			c.conn = nil
		}
		c.mutex.Unlock()
		return
	}

	// An established session died without disconnect() being called.
	c.stopHeartbeatLocked()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.session.connected = false

	// In-flight commands go back to the queue with their deadlines cleared:
	// they must not time out while the session heals, and replay may still
	// deliver a real response.
	for _, cmd := range c.commands {
		if cmd.state == commandInflight {
			c.clearDeadlineLocked(cmd)
			cmd.state = commandQueued
		}
	}

	c.logger.Warn().
		Err(cause).
		Int("pending", len(c.commands)).
		Msg("channel connection lost")

	c.scheduleReconnectLocked()
	c.mutex.Unlock()
}
