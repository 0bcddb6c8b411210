package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/clawdbot/pagerbridge/internal/config"
	"github.com/clawdbot/pagerbridge/internal/hook"
)

func hookCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "hook <event> [tool]",
		Short: "Report an agent lifecycle event to the bridge",
		Long: `Report an agent lifecycle event to the bridge.

Wired into the agent's hook system (PreToolUse, PostToolUse, Stop):

    pagerbridge hook tool_start Bash
    pagerbridge hook tool_end Bash
    pagerbridge hook waiting

Tool input JSON is read from stdin when present and used to compose the
pager display lines. Failures are silent: a dead bridge must never break
the agent.`,
		Args: cobra.RangeArgs(1, 2),
		Run: func(cmd *cobra.Command, args []string) {
			runHook(args)
		},
	}
	return cmd
}

func runHook(args []string) {
	event := strings.ToUpper(args[0])
	tool := ""
	if len(args) > 1 {
		tool = args[1]
	}

	client := hook.NewClient(bridgeURL())

	// Tool input arrives on stdin from the hook runner (optional).
	input := readStdinJSON()

	switch event {
	case "TOOL_START":
		client.EmitToolStart(tool, input)
		client.LogEvent("user", "AGENT_WORKING", map[string]any{"tool": tool, "status": "start"})
	case "TOOL_END":
		client.EmitToolEnd(tool)
		client.LogEvent("user", "AGENT_WORKING", map[string]any{"tool": tool, "status": "end"})
	case "WAITING":
		client.EmitWaiting()
		client.LogEvent("user", "AGENT_WAITING", nil)
	default:
		fmt.Fprintf(os.Stderr, "unknown hook event: %s\n", event)
		os.Exit(1)
	}
}

// readStdinJSON decodes tool input piped by the hook runner. Returns nil
// when stdin is a terminal or not JSON.
func readStdinJSON() map[string]any {
	stat, err := os.Stdin.Stat()
	if err != nil || stat.Mode()&os.ModeCharDevice != 0 {
		return nil
	}

	var payload struct {
		ToolInput map[string]any `json:"tool_input"`
	}
	if err := json.NewDecoder(os.Stdin).Decode(&payload); err != nil {
		return nil
	}
	return payload.ToolInput
}

func bridgeURL() string {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		cfg = config.Default()
	}
	return config.BridgeURL(cfg)
}
