package domain

import (
	"encoding/json"
	"time"
)

// Broadcast topics, scoped per diagram. Cursor and selection traffic is kept
// on separate topics from presence/lock traffic so a slow presence consumer
// cannot hold up cursor-rate fan-out.
const (
	TopicPresence      = "presence"
	TopicCursors       = "cursors"
	TopicSelections    = "selections"
	TopicLockEvents    = "lock-events"
	TopicDiagramEvents = "diagram-events"
)

// Presence event types.
const (
	PresenceJoin   = "JOIN"
	PresenceLeave  = "LEAVE"
	PresenceUpdate = "UPDATE"
)

// Lock event actions.
const (
	LockActionLocked   = "locked"
	LockActionUnlocked = "unlocked"
)

// Inbound message kinds handled by the gateway.
const (
	MsgJoin               = "join"
	MsgLeave              = "leave"
	MsgCursorMove         = "cursor-move"
	MsgSelection          = "selection"
	MsgIdle               = "idle"
	MsgLockRequest        = "lock-request"
	MsgUnlockRequest      = "unlock-request"
	MsgPing               = "ping"
	MsgTableMove          = "table-move"
	MsgTableCreate        = "table-create"
	MsgTableUpdate        = "table-update"
	MsgTableDelete        = "table-delete"
	MsgColumnChange       = "column-change"
	MsgRelationshipChange = "relationship-change"
	MsgDiagramUpdate      = "diagram-update"
	MsgEvent              = "event"
)

// ClientMessage is the single inbound frame shape; which fields are
// meaningful depends on Type.
type ClientMessage struct {
	Type       string          `json:"type"`
	X          float64         `json:"x,omitempty"`
	Y          float64         `json:"y,omitempty"`
	ResourceID *string         `json:"resourceId,omitempty"`
	Idle       bool            `json:"idle,omitempty"`
	PingID     string          `json:"pingId,omitempty"`
	Action     string          `json:"action,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

// ServerEvent is the outbound frame: a topic plus its payload. Point-to-point
// replies (lock-result, pong, collaborators snapshot) use the same envelope
// with a reply topic so clients have one decode path.
type ServerEvent struct {
	Topic string `json:"topic"`
	Data  any    `json:"data"`
}

// Point-to-point reply topics.
const (
	ReplyLockResult    = "lock-result"
	ReplyPong          = "pong"
	ReplyCollaborators = "collaborators"
)

type PresenceEvent struct {
	Type        string             `json:"type"`
	UserID      string             `json:"userId"`
	DisplayName string             `json:"displayName"`
	AvatarURL   string             `json:"avatarUrl,omitempty"`
	Status      CollaboratorStatus `json:"status"`
	Timestamp   time.Time          `json:"timestamp"`
}

type CursorBroadcast struct {
	UserID      string  `json:"userId"`
	DisplayName string  `json:"displayName"`
	CursorColor string  `json:"cursorColor"`
	X           float64 `json:"x"`
	Y           float64 `json:"y"`
}

type SelectionBroadcast struct {
	UserID      string  `json:"userId"`
	CursorColor string  `json:"cursorColor"`
	ResourceID  *string `json:"resourceId"`
}

type LockEvent struct {
	Action      string    `json:"action"`
	ResourceID  string    `json:"resourceId"`
	UserID      string    `json:"userId"`
	DisplayName string    `json:"displayName"`
	ExpiresAt   time.Time `json:"expiresAt,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// LockResult is the point-to-point answer to a lock-request. On a denial the
// holder fields identify who owns the lock so the client can say so.
type LockResult struct {
	Granted           bool      `json:"granted"`
	ResourceID        string    `json:"resourceId"`
	HolderUserID      string    `json:"holderUserId,omitempty"`
	HolderDisplayName string    `json:"holderDisplayName,omitempty"`
	ExpiresAt         time.Time `json:"expiresAt,omitempty"`
	Message           string    `json:"message,omitempty"`
}

type Pong struct {
	PingID string `json:"pingId"`
}

// DiagramEvent is the relay envelope for structural edit messages
// (table-move, column-change, ...). The core stamps sender identity and
// rebroadcasts the payload verbatim; it never interprets it.
type DiagramEvent struct {
	Type        string          `json:"type"`
	Action      string          `json:"action,omitempty"`
	DiagramID   string          `json:"diagramId"`
	UserID      string          `json:"userId"`
	DisplayName string          `json:"displayName"`
	ResourceID  string          `json:"resourceId,omitempty"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	Timestamp   time.Time       `json:"timestamp"`
}
