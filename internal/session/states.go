package session

import "time"

// State of one device session's lifecycle.
type State string

const (
	StateDisconnected  State = "disconnected"
	StateConnecting    State = "connecting"
	StateModeHandshake State = "mode_handshake"
	StateActive        State = "active"
	StateClosing       State = "closing"
)

// Status is a snapshot of one session's soft state, served to the status
// API and host lookups.
type Status struct {
	State         State     `json:"state"`
	Mode          int       `json:"mode,omitempty"`
	ActiveSince   time.Time `json:"active_since,omitempty"`
	LastKeepalive time.Time `json:"last_keepalive,omitempty"`
	IgnoredFrames uint64    `json:"ignored_frames"`
}
