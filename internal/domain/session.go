package domain

import "time"

// CollaboratorStatus mirrors the active/idle flags as a single enum for clients.
type CollaboratorStatus string

const (
	StatusActive CollaboratorStatus = "ACTIVE"
	StatusIdle   CollaboratorStatus = "IDLE"
)

// CollaboratorSession is one connected user's live presence state within one
// diagram. A user may hold several sessions across tabs or devices; each is
// tracked independently by its SessionID.
type CollaboratorSession struct {
	SessionID    string `json:"sessionId"`
	DiagramID    string `json:"diagramId"`
	UserID       string `json:"userId"`
	ConnectionID string `json:"-"`

	// Denormalized user display data so broadcasts never need an identity lookup.
	DisplayName string `json:"displayName"`
	AvatarURL   string `json:"avatarUrl,omitempty"`
	CursorColor string `json:"cursorColor"`

	CursorX            float64 `json:"cursorX"`
	CursorY            float64 `json:"cursorY"`
	SelectedResourceID *string `json:"selectedResourceId,omitempty"`

	Active bool `json:"active"`
	Idle   bool `json:"idle"`

	ConnectedAt  time.Time `json:"connectedAt"`
	LastSeen     time.Time `json:"lastSeen"`
	LastActivity time.Time `json:"lastActivity"`
}

// Status derives the client-facing enum from the idle flag.
func (s *CollaboratorSession) Status() CollaboratorStatus {
	if s.Idle {
		return StatusIdle
	}
	return StatusActive
}

// Clone returns a copy safe to hand out of the registry's critical section.
func (s *CollaboratorSession) Clone() *CollaboratorSession {
	c := *s
	if s.SelectedResourceID != nil {
		id := *s.SelectedResourceID
		c.SelectedResourceID = &id
	}
	return &c
}
