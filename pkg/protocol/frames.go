// Package protocol defines the wire format shared between the bridge, the
// pager device link, and dashboard observers.
package protocol

import "encoding/json"

// Frame types on the device link.
const (
	FrameTypeCall  = "call"
	FrameTypeState = "state"
)

// CallFrame invokes a service on the pager (bridge → device).
type CallFrame struct {
	Type    string            `json:"type"` // always "call"
	Service string            `json:"service"`
	Args    map[string]string `json:"args,omitempty"`
}

// StateFrame reports an entity state change (device → bridge).
// Button presses surface here as display_mode changes.
type StateFrame struct {
	Type  string `json:"type"` // always "state"
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Device services the bridge calls.
const (
	ServiceSetDisplay = "set_display"
	ServiceAlert      = "alert"
)

// StateKeyDisplayMode is the entity key carrying the pager's own display mode.
const StateKeyDisplayMode = "display_mode"

// Observer stream message types.
const (
	StreamTypeState = "state"
	StreamTypeEvent = "event"
	StreamTypePong  = "pong"
)

// StreamMessage is pushed to dashboard observers over the WebSocket.
// On connect an observer receives one "state" message, then a replay of
// recent "event" messages, then live traffic.
type StreamMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// NewCall builds a service call frame.
func NewCall(service string, args map[string]string) CallFrame {
	return CallFrame{Type: FrameTypeCall, Service: service, Args: args}
}

// ParseFrameType extracts the frame type from raw JSON bytes.
func ParseFrameType(data []byte) (string, error) {
	var raw struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return "", err
	}
	return raw.Type, nil
}
