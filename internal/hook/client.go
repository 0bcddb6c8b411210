package hook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Decision is the outcome of a remote permission request.
type Decision string

const (
	DecisionAllow Decision = "allow"
	DecisionDeny  Decision = "deny"
	// DecisionNone means timeout or bridge error; the agent falls back to
	// its local terminal prompt.
	DecisionNone Decision = ""
)

const pollInterval = 500 * time.Millisecond

// Client talks to a running bridge. Hook invocations are short-lived, so
// all calls carry tight timeouts: a dead bridge must never stall the
// agent.
type Client struct {
	baseURL string
	httpc   *http.Client
}

// NewClient creates a hook client for the bridge at baseURL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpc:   &http.Client{Timeout: 2 * time.Second},
	}
}

// EmitToolStart reports a tool start with composed display fields.
func (c *Client) EmitToolStart(tool string, input map[string]any) error {
	f := FieldsFor(tool, input)
	return c.post("/agent", map[string]any{
		"event_type":   "TOOL_START",
		"tool":         tool,
		"display_text": f.Text,
		"display_sub":  f.Sub,
		"code_preview": f.Preview,
	})
}

// EmitToolEnd reports a tool end.
func (c *Client) EmitToolEnd(tool string) error {
	return c.post("/agent", map[string]any{
		"event_type": "TOOL_END",
		"tool":       tool,
	})
}

// EmitWaiting reports that the agent is idle, waiting on the user.
func (c *Client) EmitWaiting() error {
	return c.post("/agent", map[string]any{"event_type": "WAITING"})
}

// LogEvent reports an event to the bridge's event log without touching
// the pager display.
func (c *Client) LogEvent(source, eventType string, data map[string]any) error {
	return c.post("/api/log", map[string]any{
		"source":     source,
		"event_type": eventType,
		"data":       data,
	})
}

// RequestPermission shows an approval prompt on the pager and polls until
// the operator answers or the timeout elapses. DecisionNone means the
// caller should fall back to a local prompt.
func (c *Client) RequestPermission(ctx context.Context, tool, command, description string, timeout time.Duration) (Decision, error) {
	body := map[string]any{
		"tool":        tool,
		"command":     command,
		"description": description,
		"timeout":     int(timeout.Seconds()),
	}

	var created struct {
		RequestID string `json:"request_id"`
	}
	if err := c.postJSON("/permission", body, &created); err != nil {
		return DecisionNone, fmt.Errorf("create permission request: %w", err)
	}
	if created.RequestID == "" {
		return DecisionNone, fmt.Errorf("bridge returned no request_id")
	}

	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return DecisionNone, ctx.Err()
		case <-ticker.C:
		}

		status, err := c.pollStatus(created.RequestID)
		if err != nil {
			// Transient poll errors are retried until the deadline.
			continue
		}

		switch status {
		case "approved":
			return DecisionAllow, nil
		case "denied":
			return DecisionDeny, nil
		case "pending":
			// keep polling
		default:
			// expired (or a status this client doesn't know)
			return DecisionNone, nil
		}
	}

	return DecisionNone, nil
}

func (c *Client) pollStatus(id string) (string, error) {
	resp, err := c.httpc.Get(c.baseURL + "/permission/" + id)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		// Swept away: treat like expiry.
		return "expired", nil
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("poll status %d", resp.StatusCode)
	}

	var out struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	return out.Status, nil
}

func (c *Client) post(path string, body map[string]any) error {
	return c.postJSON(path, body, nil)
}

func (c *Client) postJSON(path string, body map[string]any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}

	resp, err := c.httpc.Post(c.baseURL+path, "application/json", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s: status %d", path, resp.StatusCode)
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}
