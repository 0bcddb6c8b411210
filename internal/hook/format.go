// Package hook is the short-lived client side of the bridge: it formats
// tool-call payloads into pager-sized display fields and reports them over
// HTTP. Invoked by the agent's hook system, once per event.
package hook

import (
	"fmt"
	"path/filepath"
	"unicode/utf8"

	shellwords "github.com/mattn/go-shellwords"
)

const previewLimit = 100

// DisplayFields are the composed lines a TOOL_START event carries: the
// primary text, an optional detail line, and an optional content preview.
type DisplayFields struct {
	Text    string
	Sub     string
	Preview string
}

// FieldsFor composes display fields for a tool invocation. The pager
// screen is tiny; every line earns its place.
func FieldsFor(tool string, input map[string]any) DisplayFields {
	f := DisplayFields{Text: tool}

	switch tool {
	case "Bash":
		cmd, _ := input["command"].(string)
		f.Sub = commandVerb(cmd)
		f.Preview = "$ " + clip(cmd, previewLimit)
	case "Edit", "Write", "Read":
		path, _ := input["file_path"].(string)
		if path != "" {
			f.Sub = filepath.Base(path)
		}
	default:
		if desc, ok := input["description"].(string); ok {
			f.Sub = clip(desc, previewLimit)
		}
	}
	return f
}

// PermissionPreview formats a human-readable preview of what the tool
// will do, shown next to the APPROVE? prompt.
func PermissionPreview(tool string, input map[string]any) string {
	switch tool {
	case "Bash":
		cmd, _ := input["command"].(string)
		if desc, ok := input["description"].(string); ok && desc != "" {
			return fmt.Sprintf("%s\n$ %s", desc, clip(cmd, previewLimit))
		}
		return "$ " + clip(cmd, previewLimit)
	case "Edit":
		return "Edit: " + baseOr(input, "file")
	case "Write":
		return "Create: " + baseOr(input, "file")
	case "Read":
		return "Read: " + baseOr(input, "file")
	default:
		return tool
	}
}

// commandVerb extracts the leading program name from a shell command for
// the detail line. Falls back to the raw prefix when the command does not
// tokenize (unbalanced quotes and the like).
func commandVerb(cmd string) string {
	args, err := shellwords.Parse(cmd)
	if err != nil || len(args) == 0 {
		return clip(cmd, 20)
	}
	return filepath.Base(args[0])
}

func baseOr(input map[string]any, fallback string) string {
	path, _ := input["file_path"].(string)
	if path == "" {
		return fallback
	}
	return filepath.Base(path)
}

// clip bounds s to at most n bytes without splitting a rune.
func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
