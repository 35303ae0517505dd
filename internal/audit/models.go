package audit

import "time"

// Action names a change to identity data.
type Action string

const (
	ActionIdentityCreated   Action = "identity.created"
	ActionIdentityUpdated   Action = "identity.updated"
	ActionIdentityDeleted   Action = "identity.deleted"
	ActionIdentityForgotten Action = "identity.forgotten"
	ActionOptOutCreated     Action = "optout.created"
)

// Event is emitted from domain logic to capture key actions. Keep it
// transport-agnostic so sinks can fan out.
type Event struct {
	Timestamp  time.Time `json:"timestamp"`
	Action     Action    `json:"action"`
	IdentityID string    `json:"identity_id,omitempty"`
	OptOutID   string    `json:"optout_id,omitempty"`
	ActorID    string    `json:"actor_id,omitempty"`
	RequestID  string    `json:"request_id,omitempty"`
	Reason     string    `json:"reason,omitempty"`
}
