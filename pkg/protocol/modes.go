package protocol

// Display modes the pager reports through its state stream. Unrecognized
// tokens are ignored by the bridge.
const (
	ModeIdle       = "IDLE"
	ModeDocked     = "DOCKED"
	ModeListening  = "LISTENING"
	ModeProcessing = "PROCESSING"
	ModeApproved   = "PERM_APPROVED"
	ModeDenied     = "PERM_DENIED"
)

// Modes the bridge commands but the pager never reports back verbatim.
const (
	ModeAgent      = "AGENT"
	ModePermission = "PERMISSION"
	ModeResponse   = "RESPONSE"
)

// SilentPrefix suppresses the pager beep for routine display updates.
// The pager strips it before applying the mode.
const SilentPrefix = "SILENT_"

// KnownReportedMode reports whether the pager state token is one the
// bridge tracks.
func KnownReportedMode(mode string) bool {
	switch mode {
	case ModeIdle, ModeDocked, ModeListening, ModeProcessing, ModeApproved, ModeDenied:
		return true
	}
	return false
}
