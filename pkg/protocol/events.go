package protocol

import "encoding/json"

// EventSource identifies where an event originated.
type EventSource string

const (
	SourceDevice    EventSource = "device"
	SourceBridge    EventSource = "bridge"
	SourceUser      EventSource = "user"
	SourceDashboard EventSource = "dashboard"
)

// ValidSource reports whether s is a known event source.
func ValidSource(s EventSource) bool {
	switch s {
	case SourceDevice, SourceBridge, SourceUser, SourceDashboard:
		return true
	}
	return false
}

// Event types observed across the system. The set is open on the wire;
// these are the ones the bridge itself emits or reacts to.
const (
	EventButtonPress   = "BUTTON_PRESS"
	EventButtonRelease = "BUTTON_RELEASE"
	EventModeChange    = "MODE_CHANGE"
	EventDisplayUpdate = "DISPLAY_UPDATE"
	EventBatteryUpdate = "BATTERY_UPDATE"
	EventConnect       = "CONNECT"
	EventDisconnect    = "DISCONNECT"
	EventError         = "ERROR"
	EventAgentWorking  = "AGENT_WORKING"
	EventAgentWaiting  = "AGENT_WAITING"
	EventPermRequested = "PERMISSION_REQUEST"
	EventPermResolved  = "PERMISSION_RESOLVED"
	EventSessionStart  = "SESSION_START"
	EventSessionEnd    = "SESSION_END"
	EventNote          = "NOTE"
)

// Event is a single timestamped observation broadcast to dashboards.
type Event struct {
	Timestamp string         `json:"timestamp"`
	SessionID string         `json:"session_id,omitempty"`
	Source    EventSource    `json:"source"`
	Type      string         `json:"event_type"`
	Data      map[string]any `json:"data,omitempty"`
	Sequence  int64          `json:"sequence,omitempty"`
}

// StateSnapshot is the device-state document sent to a new observer and on
// every state change.
type StateSnapshot struct {
	Connected    bool   `json:"connected"`
	DisplayMode  string `json:"display_mode"`
	DisplayText  string `json:"display_text"`
	BatteryLevel int    `json:"battery_level"`
	LastUpdate   string `json:"last_update,omitempty"`
}

// NewStateMessage wraps a snapshot in a stream message.
func NewStateMessage(s StateSnapshot) (StreamMessage, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return StreamMessage{}, err
	}
	return StreamMessage{Type: StreamTypeState, Data: data}, nil
}

// NewEventMessage wraps an event in a stream message.
func NewEventMessage(e Event) (StreamMessage, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return StreamMessage{}, err
	}
	return StreamMessage{Type: StreamTypeEvent, Data: data}, nil
}
