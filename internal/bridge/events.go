package bridge

import "strings"

// AgentEventKind is the closed set of agent lifecycle notifications the
// bridge understands. Anything else parses to KindUnknown and is ignored
// (but still acked — hook clients are fire-and-forget).
type AgentEventKind int

const (
	KindUnknown AgentEventKind = iota
	KindToolStart
	KindToolEnd
	KindWaiting
)

// ParseAgentEventKind maps a wire event_type to its kind.
func ParseAgentEventKind(s string) AgentEventKind {
	switch strings.ToUpper(s) {
	case "TOOL_START":
		return KindToolStart
	case "TOOL_END":
		return KindToolEnd
	case "WAITING":
		return KindWaiting
	default:
		return KindUnknown
	}
}

func (k AgentEventKind) String() string {
	switch k {
	case KindToolStart:
		return "TOOL_START"
	case KindToolEnd:
		return "TOOL_END"
	case KindWaiting:
		return "WAITING"
	default:
		return "UNKNOWN"
	}
}

// AgentEvent is a single notification from a hook client.
type AgentEvent struct {
	Kind        AgentEventKind
	Tool        string
	DisplayMode string // defaults to AGENT for tool starts
	DisplayText string // defaults to the tool name
	DisplaySub  string // optional detail line
	CodePreview string // optional content preview line
}
