package bridge

import "testing"

func TestParseAgentEventKind(t *testing.T) {
	cases := []struct {
		in   string
		want AgentEventKind
	}{
		{"TOOL_START", KindToolStart},
		{"tool_start", KindToolStart},
		{"TOOL_END", KindToolEnd},
		{"WAITING", KindWaiting},
		{"waiting", KindWaiting},
		{"", KindUnknown},
		{"TOOL_BEGIN", KindUnknown},
	}
	for _, tc := range cases {
		if got := ParseAgentEventKind(tc.in); got != tc.want {
			t.Errorf("ParseAgentEventKind(%q) = %s, want %s", tc.in, got, tc.want)
		}
	}
}
