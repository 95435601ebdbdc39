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

package channel_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"drawbridge/internal/channel"
)

var upgrader = websocket.Upgrader{}

// startTestRelay runs a scripted relay; session drives one websocket
// connection and returns when the connection is done.
func startTestRelay(t *testing.T, session func(conn *websocket.Conn)) (*httptest.Server, string) {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		session(conn)
	}))
	return server, "ws" + strings.TrimPrefix(server.URL, "http")
}

// acceptJoin performs the relay side of the join handshake
func acceptJoin(conn *websocket.Conn) (*channel.JoinFrame, error) {
	_, data, err := conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	frame, err := channel.DecodeJoinFrame(data)
	if err != nil {
		return nil, err
	}
	reply, err := channel.EncodeFrame(channel.NewJoinedFrame(frame.Channel))
	if err != nil {
		return nil, err
	}
	return frame, conn.WriteMessage(websocket.TextMessage, reply)
}

// echoSession accepts the join and answers every command with a successful
// response echoing the action name.
func echoSession(conn *websocket.Conn) {
	if _, err := acceptJoin(conn); err != nil {
		return
	}
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		frameType, err := channel.DecodeFrameType(data)
		if err != nil || frameType != channel.FRAME_COMMAND {
			continue
		}
		frame, err := channel.DecodeCommandFrame(data)
		if err != nil {
			continue
		}
		payload, _ := json.Marshal(map[string]string{"action": frame.Action})
		reply, _ := channel.EncodeFrame(channel.NewResponseFrame(frame.ID, frame.Channel, true, payload, ""))
		if err := conn.WriteMessage(websocket.TextMessage, reply); err != nil {
			return
		}
	}
}

func testClientOptions() channel.Options {
	return channel.Options{
		HandshakeTimeout: time.Second,
		BackoffBase:      20 * time.Millisecond,
		BackoffCap:       50 * time.Millisecond,
		CommandTimeout:   2 * time.Second,
	}
}

func waitForStat(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("Timed out waiting for %s", what)
}

func TestConnectOverWebsocket(t *testing.T) {
	t.Run("joins the named channel", func(t *testing.T) {
		joins := make(chan string, 1)
		server, url := startTestRelay(t, func(conn *websocket.Conn) {
			frame, err := acceptJoin(conn)
			if err != nil {
				return
			}
			joins <- frame.Channel
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		})
		defer server.Close()

		client := channel.New(testClientOptions())
		err := client.Connect(context.Background(), url, "studio")
		require.NoError(t, err)

		assert.True(t, client.IsConnected())
		assert.Equal(t, channel.StateConnected, client.State())

		select {
		case joined := <-joins:
			assert.Equal(t, "studio", joined)
		case <-time.After(time.Second):
			t.Fatal("Relay never saw the join request")
		}

		client.Disconnect()
		assert.False(t, client.IsConnected())
		assert.Equal(t, channel.StateIdle, client.State())
	})

	t.Run("rejects a second connect", func(t *testing.T) {
		server, url := startTestRelay(t, echoSession)
		defer server.Close()

		client := channel.New(testClientOptions())
		require.NoError(t, client.Connect(context.Background(), url, "studio"))
		defer client.Disconnect()

		err := client.Connect(context.Background(), url, "studio")
		assert.ErrorIs(t, err, channel.ErrAlreadyConnected)
	})

	t.Run("disconnect is safe to repeat", func(t *testing.T) {
		server, url := startTestRelay(t, echoSession)
		defer server.Close()

		client := channel.New(testClientOptions())
		require.NoError(t, client.Connect(context.Background(), url, "studio"))

		client.Disconnect()
		client.Disconnect()
		assert.Equal(t, channel.StateIdle, client.State())
	})
}

func TestConnectFailuresOverWebsocket(t *testing.T) {
	t.Run("fails when the relay is unreachable", func(t *testing.T) {
		server, url := startTestRelay(t, echoSession)
		server.Close()

		client := channel.New(testClientOptions())
		err := client.Connect(context.Background(), url, "studio")
		assert.Error(t, err)
		assert.Equal(t, channel.StateIdle, client.State())
	})

	t.Run("times out when the join is never confirmed", func(t *testing.T) {
		server, url := startTestRelay(t, func(conn *websocket.Conn) {
			// Swallow the join request and go silent.
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		})
		defer server.Close()

		opts := testClientOptions()
		opts.HandshakeTimeout = 150 * time.Millisecond
		client := channel.New(opts)

		err := client.Connect(context.Background(), url, "studio")
		assert.ErrorIs(t, err, channel.ErrHandshakeTimeout)
		assert.Equal(t, channel.StateIdle, client.State())
	})

	t.Run("fails when the relay closes during the handshake", func(t *testing.T) {
		server, url := startTestRelay(t, func(conn *websocket.Conn) {
			conn.ReadMessage()
		})
		defer server.Close()

		client := channel.New(testClientOptions())
		err := client.Connect(context.Background(), url, "studio")
		assert.Error(t, err)
		assert.Equal(t, channel.StateIdle, client.State())
	})
}

func TestSendOverWebsocket(t *testing.T) {
	received := make(chan *channel.CommandFrame, 8)
	server, url := startTestRelay(t, func(conn *websocket.Conn) {
		if _, err := acceptJoin(conn); err != nil {
			return
		}
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			frame, err := channel.DecodeCommandFrame(data)
			if err != nil {
				continue
			}
			received <- frame
			payload, _ := json.Marshal(map[string]string{"action": frame.Action})
			reply, _ := channel.EncodeFrame(channel.NewResponseFrame(frame.ID, frame.Channel, true, payload, ""))
			if err := conn.WriteMessage(websocket.TextMessage, reply); err != nil {
				return
			}
		}
	})
	defer server.Close()

	client := channel.New(testClientOptions())
	require.NoError(t, client.Connect(context.Background(), url, "studio"))
	defer client.Disconnect()

	resp, err := client.Send("create_frame", map[string]interface{}{"name": "hero", "width": 800}, 0)
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.JSONEq(t, `{"action":"create_frame"}`, string(resp.Data))

	select {
	case frame := <-received:
		assert.NotEmpty(t, frame.ID)
		assert.Equal(t, "studio", frame.Channel)
		assert.Equal(t, "create_frame", frame.Action)

		var params map[string]interface{}
		require.NoError(t, json.Unmarshal(frame.Params, &params))
		assert.Equal(t, "hero", params["name"])
		assert.Equal(t, float64(800), params["width"])
	case <-time.After(time.Second):
		t.Fatal("Relay never saw the command frame")
	}

	stats := client.Stats()
	assert.Equal(t, 1, stats.Sent)
	assert.Equal(t, 1, stats.Completed)
	assert.False(t, stats.LastResponse.IsZero())
	assert.Equal(t, 0, client.Pending())
}

func TestSendFailureResponseOverWebsocket(t *testing.T) {
	server, url := startTestRelay(t, func(conn *websocket.Conn) {
		if _, err := acceptJoin(conn); err != nil {
			return
		}
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			frame, err := channel.DecodeCommandFrame(data)
			if err != nil {
				continue
			}
			reply, _ := channel.EncodeFrame(channel.NewResponseFrame(frame.ID, frame.Channel, false, nil, "node not found: node_9"))
			if err := conn.WriteMessage(websocket.TextMessage, reply); err != nil {
				return
			}
		}
	})
	defer server.Close()

	client := channel.New(testClientOptions())
	require.NoError(t, client.Connect(context.Background(), url, "studio"))
	defer client.Disconnect()

	// An executor failure is a payload, not a transport error.
	resp, err := client.Send("delete_node", map[string]string{"node_id": "node_9"}, 0)
	require.NoError(t, err)
	assert.False(t, resp.Success)
	assert.Contains(t, resp.Error, "node not found")
}

func TestNoiseIgnoredOverWebsocket(t *testing.T) {
	server, url := startTestRelay(t, func(conn *websocket.Conn) {
		if _, err := acceptJoin(conn); err != nil {
			return
		}
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		frame, err := channel.DecodeCommandFrame(data)
		if err != nil {
			return
		}

		// Everything before the real response should be swallowed without
		// disturbing the in-flight command.
		noise := [][]byte{
			[]byte(`{not json`),
			[]byte(`{"type":"presence","member":"watcher_1"}`),
			[]byte(`{"type":"response","id":"cmd_unknown_99","success":true}`),
			[]byte(`{"type":"error","error":"member left the channel"}`),
		}
		for _, payload := range noise {
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		}

		reply, _ := channel.EncodeFrame(channel.NewResponseFrame(frame.ID, frame.Channel, true, json.RawMessage(`{"ok":true}`), ""))
		conn.WriteMessage(websocket.TextMessage, reply)

		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	defer server.Close()

	client := channel.New(testClientOptions())
	require.NoError(t, client.Connect(context.Background(), url, "studio"))
	defer client.Disconnect()

	resp, err := client.Send("get_document_info", nil, 0)
	require.NoError(t, err)
	assert.True(t, resp.Success)

	stats := client.Stats()
	assert.Equal(t, 1, stats.Completed)
	assert.Equal(t, 1, stats.RelayErrors)
}

func TestCommandTimeoutOverWebsocket(t *testing.T) {
	server, url := startTestRelay(t, func(conn *websocket.Conn) {
		if _, err := acceptJoin(conn); err != nil {
			return
		}
		// Read commands but never answer them.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	defer server.Close()

	client := channel.New(testClientOptions())
	require.NoError(t, client.Connect(context.Background(), url, "studio"))
	defer client.Disconnect()

	_, err := client.Send("export_summary", nil, 120*time.Millisecond)
	assert.ErrorIs(t, err, channel.ErrCommandTimeout)

	stats := client.Stats()
	assert.Equal(t, 1, stats.Timeouts)
	assert.Equal(t, 0, client.Pending())
}

func TestReplayAfterReconnectOverWebsocket(t *testing.T) {
	var connCount int32
	firstDelivery := make(chan string, 1)
	secondDelivery := make(chan string, 1)

	server, url := startTestRelay(t, func(conn *websocket.Conn) {
		if atomic.AddInt32(&connCount, 1) == 1 {
			// First connection: take delivery of the command, then drop the
			// link without answering.
			if _, err := acceptJoin(conn); err != nil {
				return
			}
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if frame, err := channel.DecodeCommandFrame(data); err == nil {
				firstDelivery <- frame.ID
			}
			return
		}

		if _, err := acceptJoin(conn); err != nil {
			return
		}
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			frame, err := channel.DecodeCommandFrame(data)
			if err != nil {
				continue
			}
			secondDelivery <- frame.ID
			reply, _ := channel.EncodeFrame(channel.NewResponseFrame(frame.ID, frame.Channel, true, json.RawMessage(`{"replayed":true}`), ""))
			if err := conn.WriteMessage(websocket.TextMessage, reply); err != nil {
				return
			}
		}
	})
	defer server.Close()

	client := channel.New(testClientOptions())
	require.NoError(t, client.Connect(context.Background(), url, "studio"))
	defer client.Disconnect()

	// Send blocks across the connection loss and resolves once the replayed
	// delivery is answered on the next connection.
	resp, err := client.Send("create_rectangle", map[string]string{"name": "box"}, 0)
	require.NoError(t, err)
	assert.True(t, resp.Success)

	var firstID, secondID string
	select {
	case firstID = <-firstDelivery:
	case <-time.After(time.Second):
		t.Fatal("First connection never saw the command")
	}
	select {
	case secondID = <-secondDelivery:
	case <-time.After(time.Second):
		t.Fatal("Second connection never saw the replay")
	}
	assert.Equal(t, firstID, secondID, "replay must reuse the original command id")

	stats := client.Stats()
	assert.Equal(t, 1, stats.Replayed)
	assert.Equal(t, 1, stats.Reconnects)
	assert.Equal(t, 1, stats.Completed)
}

func TestHeartbeatOverWebsocket(t *testing.T) {
	server, url := startTestRelay(t, func(conn *websocket.Conn) {
		// Receive liveness probes but never answer them.
		conn.SetPingHandler(func(string) error { return nil })
		if _, err := acceptJoin(conn); err != nil {
			return
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	defer server.Close()

	opts := testClientOptions()
	opts.HeartbeatInterval = 100 * time.Millisecond
	opts.HeartbeatTimeout = 80 * time.Millisecond
	client := channel.New(opts)

	require.NoError(t, client.Connect(context.Background(), url, "studio"))
	defer client.Disconnect()

	waitForStat(t, 2*time.Second, "heartbeat to terminate the silent connection", func() bool {
		return client.Stats().HeartbeatKills >= 1
	})
	waitForStat(t, 2*time.Second, "session to recover on a fresh connection", func() bool {
		return client.Stats().Reconnects >= 1
	})
}
