// Package bridge is the control-plane core: it receives hook-client
// notifications, drives the pager display and the permission tracker, and
// fans everything out to dashboard observers.
package bridge

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/clawdbot/pagerbridge/internal/broadcast"
	"github.com/clawdbot/pagerbridge/internal/permission"
	"github.com/clawdbot/pagerbridge/pkg/protocol"
)

// DisplayLink is the slice of the device link the mediator drives. The
// mediator is the only component that issues device calls.
type DisplayLink interface {
	SetDisplay(text, mode string)
	Alert(text string)
	Connected() bool
	ReportedMode() string
	CommandedDisplay() (text, mode string)
}

// EventRecorder is the external event-log collaborator. The mediator
// notifies it but never owns its storage. A nil recorder is valid.
type EventRecorder interface {
	Log(source protocol.EventSource, eventType string, data map[string]any) (protocol.Event, error)
}

// Options are the tunable mediator settings. IdleDelay and IdleText may be
// updated at runtime via ApplyDisplay (config hot reload).
type Options struct {
	IdleDelay     time.Duration // revert-to-idle delay after the last tool ends
	IdleText      string
	SweepInterval time.Duration // permission retention sweep cadence
}

func (o *Options) normalize() {
	if o.IdleDelay <= 0 {
		o.IdleDelay = 3 * time.Second
	}
	if o.IdleText == "" {
		o.IdleText = "CLAWDBOT READY"
	}
	if o.SweepInterval <= 0 {
		o.SweepInterval = 30 * time.Second
	}
}

// Status is the bridge status document.
type Status struct {
	Connected       bool   `json:"connected"`
	ReportedMode    string `json:"display_mode"`
	ActiveRequestID string `json:"active_permission,omitempty"`
	Observers       int    `json:"observers"`
}

// Mediator ties the device link, permission tracker, and broadcaster
// together. It owns all time-based behavior: the idle-revert timer and the
// housekeeping sweep.
type Mediator struct {
	link   DisplayLink
	perms  *permission.Tracker
	caster *broadcast.Broadcaster
	rec    EventRecorder

	mu        sync.Mutex
	opts      Options
	idleTimer *time.Timer

	// last state observed from the device, for the observer snapshot and
	// the from/to fields of mode-change events
	battery  int
	lastMode string
}

// New wires a mediator. link, perms, and caster are required; rec may be
// nil when no event log is attached.
func New(link DisplayLink, perms *permission.Tracker, caster *broadcast.Broadcaster, rec EventRecorder, opts Options) *Mediator {
	opts.normalize()
	return &Mediator{
		link:     link,
		perms:    perms,
		caster:   caster,
		rec:      rec,
		opts:     opts,
		lastMode: link.ReportedMode(),
	}
}

// ApplyDisplay updates the hot-reloadable display settings.
func (m *Mediator) ApplyDisplay(idleDelay time.Duration, idleText string) {
	m.mu.Lock()
	if idleDelay > 0 {
		m.opts.IdleDelay = idleDelay
	}
	if idleText != "" {
		m.opts.IdleText = idleText
	}
	m.mu.Unlock()
}

// OnAgentEvent handles a tool lifecycle notification from a hook client.
// Device I/O failures are absorbed by the link; this always succeeds from
// the caller's point of view.
func (m *Mediator) OnAgentEvent(ev AgentEvent) {
	switch ev.Kind {
	case KindToolStart:
		m.onToolStart(ev)
	case KindToolEnd:
		m.onToolEnd(ev)
	case KindWaiting:
		m.onWaiting()
	case KindUnknown:
		slog.Warn("unknown agent event dropped", "tool", ev.Tool)
	}
}

func (m *Mediator) onToolStart(ev AgentEvent) {
	mode := ev.DisplayMode
	if mode == "" {
		mode = protocol.ModeAgent
	}
	text := ev.DisplayText
	if text == "" {
		text = ev.Tool
	}

	lines := []string{text}
	if ev.DisplaySub != "" {
		lines = append(lines, ev.DisplaySub)
	}
	if ev.CodePreview != "" {
		lines = append(lines, ev.CodePreview)
	}

	// Cancel any pending idle revert before the new write, never after:
	// a stale timer firing between the write and the cancel would clobber
	// fresh activity with an idle message.
	m.mu.Lock()
	m.cancelIdleLocked()
	m.mu.Unlock()

	m.link.SetDisplay(strings.Join(lines, "\n"), protocol.SilentPrefix+mode)

	slog.Info("tool start", "tool", ev.Tool, "mode", mode)
	m.publishEvent(protocol.SourceBridge, protocol.EventAgentWorking, map[string]any{
		"tool":   ev.Tool,
		"status": "start",
	})
}

func (m *Mediator) onToolEnd(ev AgentEvent) {
	m.mu.Lock()
	m.cancelIdleLocked()
	m.idleTimer = time.AfterFunc(m.opts.IdleDelay, m.idleRevert)
	m.mu.Unlock()

	m.publishEvent(protocol.SourceBridge, protocol.EventAgentWorking, map[string]any{
		"tool":   ev.Tool,
		"status": "end",
	})
}

func (m *Mediator) onWaiting() {
	m.mu.Lock()
	m.cancelIdleLocked()
	m.mu.Unlock()

	m.link.SetDisplay("READY", protocol.SilentPrefix+protocol.ModeIdle)

	slog.Info("session idle")
	m.publishEvent(protocol.SourceBridge, protocol.EventAgentWaiting, nil)
}

// idleRevert fires from the idle timer: no tool started within the delay,
// so the display goes back to the idle message.
func (m *Mediator) idleRevert() {
	m.mu.Lock()
	m.idleTimer = nil
	text := m.opts.IdleText
	m.mu.Unlock()

	m.link.SetDisplay(text, protocol.SilentPrefix+protocol.ModeIdle)
	m.publishEvent(protocol.SourceBridge, protocol.EventDisplayUpdate, map[string]any{
		"text": text,
		"mode": protocol.ModeIdle,
	})
}

// cancelIdleLocked stops and clears the idle timer. Caller holds m.mu.
// Two timers must never be live for the one display slot.
func (m *Mediator) cancelIdleLocked() {
	if m.idleTimer != nil {
		m.idleTimer.Stop()
		m.idleTimer = nil
	}
}

// IdleTimerArmed reports whether an idle revert is currently scheduled.
func (m *Mediator) IdleTimerArmed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.idleTimer != nil
}

// OnPermissionRequest creates a tracked approval request, prompts the
// pager, and returns the request ID the hook client polls.
func (m *Mediator) OnPermissionRequest(tool, command, description string, timeout time.Duration) string {
	id := m.perms.Create(tool, command, timeout)

	// PERMISSION mode (not SILENT_) so the pager beeps: this one needs a
	// button press, not a glance.
	m.link.SetDisplay("APPROVE?\n"+tool+"\n"+command, protocol.ModePermission)

	slog.Info("permission requested", "id", id, "tool", tool, "command", truncate(command, 50))
	m.publishEvent(protocol.SourceBridge, protocol.EventPermRequested, map[string]any{
		"request_id":  id,
		"tool":        tool,
		"command":     command,
		"description": description,
	})
	return id
}

// OnPermissionPoll reconciles the pager's reported mode into the tracker,
// then returns the request's post-reconciliation status. The tracker never
// observes the device directly; this is where a button press becomes a
// resolution. The bool is false for unknown IDs.
func (m *Mediator) OnPermissionPoll(id string) (permission.Status, bool) {
	switch m.link.ReportedMode() {
	case protocol.ModeApproved:
		m.resolveFromDevice(id, true)
	case protocol.ModeDenied:
		m.resolveFromDevice(id, false)
	}

	return m.perms.StatusOf(id)
}

func (m *Mediator) resolveFromDevice(id string, approved bool) {
	before, ok := m.perms.StatusOf(id)
	m.perms.Resolve(id, approved)
	after, _ := m.perms.StatusOf(id)
	if ok && before == permission.StatusPending && after != before {
		m.publishEvent(protocol.SourceDevice, protocol.EventPermResolved, map[string]any{
			"request_id": id,
			"status":     string(after),
		})
	}
}

// DisplayNow writes straight through to the pager with no bridge state.
func (m *Mediator) DisplayNow(text, mode string) {
	m.link.SetDisplay(text, mode)
	m.publishEvent(protocol.SourceUser, protocol.EventDisplayUpdate, map[string]any{
		"text": truncate(text, 100),
		"mode": mode,
	})
}

// AlertNow triggers the pager alert with no bridge state.
func (m *Mediator) AlertNow(text string) {
	m.link.Alert(text)
	m.publishEvent(protocol.SourceUser, "ALERT", map[string]any{
		"text": truncate(text, 100),
	})
}

// Status returns the bridge status snapshot.
func (m *Mediator) Status() Status {
	s := Status{
		Connected:    m.link.Connected(),
		ReportedMode: m.link.ReportedMode(),
		Observers:    m.caster.Count(),
	}
	if id, ok := m.perms.ActiveID(); ok {
		s.ActiveRequestID = id
	}
	return s
}

// Snapshot builds the device-state document for observers.
func (m *Mediator) Snapshot() protocol.StateSnapshot {
	text, _ := m.link.CommandedDisplay()
	m.mu.Lock()
	battery := m.battery
	m.mu.Unlock()
	return protocol.StateSnapshot{
		Connected:    m.link.Connected(),
		DisplayMode:  m.link.ReportedMode(),
		DisplayText:  text,
		BatteryLevel: battery,
		LastUpdate:   time.Now().Format(time.RFC3339),
	}
}

// HandleDeviceState is wired as the link's inbound state handler. Mode
// changes and battery updates refresh the observer snapshot and are
// recorded as device events.
func (m *Mediator) HandleDeviceState(key, value string) {
	switch key {
	case protocol.StateKeyDisplayMode:
		m.mu.Lock()
		from := m.lastMode
		m.lastMode = value
		m.mu.Unlock()
		m.publishEvent(protocol.SourceDevice, protocol.EventModeChange, map[string]any{
			"from_mode": from,
			"to_mode":   value,
		})
	case "battery_level":
		m.mu.Lock()
		m.battery = parseBattery(value, m.battery)
		m.mu.Unlock()
		m.publishEvent(protocol.SourceDevice, protocol.EventBatteryUpdate, map[string]any{
			"level": value,
		})
	default:
		// Entity states the bridge has no use for.
		return
	}
	m.publishState()
}

// IngestExternal records an event reported by a dev script or dashboard
// and folds recognized types into the observer snapshot.
func (m *Mediator) IngestExternal(source protocol.EventSource, eventType string, data map[string]any) protocol.Event {
	if eventType == protocol.EventBatteryUpdate {
		if level, ok := data["level"].(float64); ok {
			m.mu.Lock()
			m.battery = int(level)
			m.mu.Unlock()
			defer m.publishState()
		}
	}
	return m.publishEvent(source, eventType, data)
}

// RunHousekeeping sweeps the permission tracker on a fixed interval until
// ctx is cancelled. Independent of client activity.
func (m *Mediator) RunHousekeeping(ctx context.Context) {
	m.mu.Lock()
	interval := m.opts.SweepInterval
	m.mu.Unlock()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.perms.Sweep()
		case <-ctx.Done():
			return
		}
	}
}

// Shutdown cancels any armed timer.
func (m *Mediator) Shutdown() {
	m.mu.Lock()
	m.cancelIdleLocked()
	m.mu.Unlock()
}

// publishEvent records the event (when a recorder is attached) and
// broadcasts it to observers. Recorder failures are logged and absorbed.
func (m *Mediator) publishEvent(source protocol.EventSource, eventType string, data map[string]any) protocol.Event {
	var ev protocol.Event
	if m.rec != nil {
		logged, err := m.rec.Log(source, eventType, data)
		if err != nil {
			slog.Error("event log write failed", "type", eventType, "error", err)
			ev = newEvent(source, eventType, data)
		} else {
			ev = logged
		}
	} else {
		ev = newEvent(source, eventType, data)
	}

	if msg, err := protocol.NewEventMessage(ev); err == nil {
		m.caster.Publish(msg)
	}
	return ev
}

func (m *Mediator) publishState() {
	if msg, err := protocol.NewStateMessage(m.Snapshot()); err == nil {
		m.caster.Publish(msg)
	}
}

func newEvent(source protocol.EventSource, eventType string, data map[string]any) protocol.Event {
	return protocol.Event{
		Timestamp: time.Now().Format("2006-01-02T15:04:05.000"),
		Source:    source,
		Type:      eventType,
		Data:      data,
	}
}

func parseBattery(value string, fallback int) int {
	var level int
	for _, c := range value {
		if c < '0' || c > '9' {
			return fallback
		}
		level = level*10 + int(c-'0')
	}
	if value == "" {
		return fallback
	}
	return level
}

// truncate bounds s to roughly n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
