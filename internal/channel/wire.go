package channel

import (
	"encoding/json"
	"fmt"
)

// Frame type tags exchanged between issuer, relay and executor
const (
	FRAME_JOIN     = "join"
	FRAME_JOINED   = "joined"
	FRAME_COMMAND  = "command"
	FRAME_RESPONSE = "response"
	FRAME_ERROR    = "error"
)

// frameHeader carries just enough of a payload to route it
type frameHeader struct {
	Type string `json:"type"`
}

// JoinFrame asks the relay to register the sender into a named channel
type JoinFrame struct {
	Type    string `json:"type"`
	Channel string `json:"channel"`
}

// JoinedFrame confirms a join request and completes the handshake
type JoinedFrame struct {
	Type    string `json:"type"`
	Channel string `json:"channel,omitempty"`
}

// CommandFrame is an identified request travelling issuer -> executor
type CommandFrame struct {
	Type    string          `json:"type"`
	ID      string          `json:"id"`
	Channel string          `json:"channel"`
	Action  string          `json:"action"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// ResponseFrame is the executor's result for a command, correlated by ID
type ResponseFrame struct {
	Type    string          `json:"type"`
	ID      string          `json:"id"`
	Channel string          `json:"channel,omitempty"`
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// ErrorFrame is a relay-level notification; it never tears down the session
type ErrorFrame struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

// Response is what a command caller receives once the executor has answered.
// Success/Error describe the command outcome; interpreting them is the
// caller's business.
type Response struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// NewJoinFrame creates a join request for the named channel
func NewJoinFrame(channel string) *JoinFrame {
	return &JoinFrame{Type: FRAME_JOIN, Channel: channel}
}

// NewJoinedFrame creates a join confirmation
func NewJoinedFrame(channel string) *JoinedFrame {
	return &JoinedFrame{Type: FRAME_JOINED, Channel: channel}
}

// NewCommandFrame creates an outbound command frame
func NewCommandFrame(id, channel, action string, params json.RawMessage) *CommandFrame {
	return &CommandFrame{
		Type:    FRAME_COMMAND,
		ID:      id,
		Channel: channel,
		Action:  action,
		Params:  params,
	}
}

// NewResponseFrame creates a response frame for a handled command
func NewResponseFrame(id, channel string, success bool, data json.RawMessage, errMsg string) *ResponseFrame {
	return &ResponseFrame{
		Type:    FRAME_RESPONSE,
		ID:      id,
		Channel: channel,
		Success: success,
		Data:    data,
		Error:   errMsg,
	}
}

// NewErrorFrame creates a relay-level error notification
func NewErrorFrame(errMsg string) *ErrorFrame {
	return &ErrorFrame{Type: FRAME_ERROR, Error: errMsg}
}

// EncodeFrame serializes a frame to JSON bytes
func EncodeFrame(frame interface{}) ([]byte, error) {
	return json.Marshal(frame)
}

// DecodeFrameType extracts the type tag from a raw payload
func DecodeFrameType(data []byte) (string, error) {
	var header frameHeader
	if err := json.Unmarshal(data, &header); err != nil {
		return "", fmt.Errorf("failed to decode frame: %w", err)
	}
	if header.Type == "" {
		return "", fmt.Errorf("frame has no type tag")
	}
	return header.Type, nil
}

// DecodeJoinFrame deserializes a join request
func DecodeJoinFrame(data []byte) (*JoinFrame, error) {
	var frame JoinFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		return nil, fmt.Errorf("failed to decode join frame: %w", err)
	}
	return &frame, nil
}

// DecodeCommandFrame deserializes a command frame
func DecodeCommandFrame(data []byte) (*CommandFrame, error) {
	var frame CommandFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		return nil, fmt.Errorf("failed to decode command frame: %w", err)
	}
	return &frame, nil
}

// DecodeResponseFrame deserializes a response frame
func DecodeResponseFrame(data []byte) (*ResponseFrame, error) {
	var frame ResponseFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		return nil, fmt.Errorf("failed to decode response frame: %w", err)
	}
	return &frame, nil
}

// DecodeErrorFrame deserializes a relay error notification
func DecodeErrorFrame(data []byte) (*ErrorFrame, error) {
	var frame ErrorFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		return nil, fmt.Errorf("failed to decode error frame: %w", err)
	}
	return &frame, nil
}

// ValidateFrame checks the structural requirements of a decoded frame
func ValidateFrame(frame interface{}) error {
	switch f := frame.(type) {
	case *JoinFrame:
		if f.Channel == "" {
			return fmt.Errorf("channel required for join frame")
		}
	case *CommandFrame:
		if f.ID == "" {
			return fmt.Errorf("id required for command frame")
		}
		if f.Action == "" {
			return fmt.Errorf("action required for command frame")
		}
	case *ResponseFrame:
		if f.ID == "" {
			return fmt.Errorf("id required for response frame")
		}
	case *JoinedFrame, *ErrorFrame:
		// No structural requirements
	default:
		return fmt.Errorf("unknown frame type")
	}
	return nil
}
