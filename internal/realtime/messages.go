package realtime

import "github.com/pulseboardhq/pulseboard/internal/updates"

// ClientEnvelope is the tagged client-to-server message: exactly one
// field is set per message.
type ClientEnvelope struct {
	Join  *JoinRoom  `json:"join,omitempty"`
	Leave *LeaveRoom `json:"leave,omitempty"`
}

// JoinRoom subscribes the session to a team's room.
type JoinRoom struct {
	TeamID string `json:"team_id"`
}

// LeaveRoom removes the session from a team's room.
type LeaveRoom struct {
	TeamID string `json:"team_id"`
}

// ServerEnvelope is the tagged server-to-client message.
type ServerEnvelope struct {
	UpdateCreated *UpdateCreated `json:"update_created,omitempty"`
}

// UpdateCreated announces that a canonical update was accepted for a
// team the session has joined.
type UpdateCreated struct {
	TeamID string         `json:"team_id"`
	Update updates.Update `json:"update"`
}
