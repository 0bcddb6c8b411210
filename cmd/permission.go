package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/clawdbot/pagerbridge/internal/config"
	"github.com/clawdbot/pagerbridge/internal/hook"
)

func permissionCmd() *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "permission",
		Short: "Request a remote permission decision from the pager",
		Long: `Request a remote permission decision from the pager.

Reads the agent's tool-use payload from stdin, shows an approval prompt
on the pager, and polls the bridge until the operator presses a button
or the timeout elapses.

Emits a hook decision on stdout when the operator answered. Exits
silently otherwise, which lets the agent fall back to its local prompt.`,
		Run: func(cmd *cobra.Command, args []string) {
			runPermission(cmd, timeout)
		},
	}

	cmd.Flags().DurationVar(&timeout, "timeout", 0, "how long to wait for an answer (default from config)")
	return cmd
}

func runPermission(cmd *cobra.Command, timeout time.Duration) {
	var payload struct {
		ToolName  string         `json:"tool_name"`
		ToolInput map[string]any `json:"tool_input"`
	}
	if err := json.NewDecoder(os.Stdin).Decode(&payload); err != nil {
		// No payload means nothing to decide.
		return
	}
	if payload.ToolName == "" {
		return
	}

	cfg, err := config.Load(flagConfig)
	if err != nil {
		cfg = config.Default()
	}
	if timeout <= 0 {
		timeout = time.Duration(cfg.Permissions.DefaultTimeoutSeconds) * time.Second
	}

	command, _ := payload.ToolInput["command"].(string)
	description := hook.PermissionPreview(payload.ToolName, payload.ToolInput)

	client := hook.NewClient(config.BridgeURL(cfg))
	decision, err := client.RequestPermission(cmd.Context(), payload.ToolName, command, description, timeout)
	if err != nil || decision == hook.DecisionNone {
		// Timed out or bridge unreachable: stay quiet so the agent asks
		// at the terminal instead.
		return
	}

	out := map[string]any{
		"hookSpecificOutput": map[string]any{
			"hookEventName":            "PreToolUse",
			"permissionDecision":       string(decision),
			"permissionDecisionReason": fmt.Sprintf("Decided on pager (%s)", decision),
		},
	}
	json.NewEncoder(os.Stdout).Encode(out)
}
