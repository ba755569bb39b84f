package websocket

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/chartdb/collab-backend/internal/broadcast"
	"github.com/chartdb/collab-backend/internal/domain"
	"github.com/chartdb/collab-backend/internal/identity"
	"github.com/chartdb/collab-backend/internal/lock"
	"github.com/chartdb/collab-backend/internal/registry"
)

// Handler is the session gateway: the per-connection entry point that routes
// inbound frames to the registry and arbiter and republishes results through
// the broadcaster.
type Handler struct {
	Registry *registry.Registry
	Arbiter  *lock.Arbiter
	Bcast    broadcast.Broadcaster
	Hub      *broadcast.Hub
	Resolver identity.Resolver
	Upgrader websocket.Upgrader

	log *zap.Logger
}

func NewHandler(reg *registry.Registry, arb *lock.Arbiter, bcast broadcast.Broadcaster, hub *broadcast.Hub, resolver identity.Resolver, log *zap.Logger) *Handler {
	return &Handler{
		Registry: reg,
		Arbiter:  arb,
		Bcast:    bcast,
		Hub:      hub,
		Resolver: resolver,
		log:      log,
		Upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// HandleWebSocket upgrades the connection. One connection is scoped to one
// diagram, named by the diagramId query parameter.
func (h *Handler) HandleWebSocket(c *gin.Context) {
	diagramID := c.Query("diagramId")
	if diagramID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "diagramId is required"})
		return
	}

	conn, err := h.Upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	h.handleConnection(conn, diagramID, credentialFrom(c))
}

// credentialFrom pulls the bearer token from the Authorization header or the
// token query parameter (browser websocket clients cannot set headers).
func credentialFrom(c *gin.Context) string {
	if auth := c.GetHeader("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return c.Query("token")
}

// handleConnection manages the lifecycle of a single websocket connection.
func (h *Handler) handleConnection(conn *websocket.Conn, diagramID, credential string) {
	connID := uuid.NewString()

	// Auth failures are handled upstream; this core just stops listening to
	// a connection it cannot attribute. The connection stays open.
	ident, err := h.Resolver.Resolve(credential)
	if err != nil {
		h.log.Warn("unresolvable connection identity, frames will be dropped",
			zap.String("conn_id", connID),
			zap.String("diagram_id", diagramID),
			zap.Error(err))
		ident = nil
	}

	cl := &client{
		connID:    connID,
		diagramID: diagramID,
		ident:     ident,
		conn:      conn,
		send:      make(chan domain.ServerEvent, sendBuffer),
		log:       h.log,
	}

	// Only attributable connections get the diagram's broadcast feed; an
	// unresolved credential must not be enough to watch a diagram.
	if ident != nil {
		cl.sub = h.Hub.Subscribe(diagramID, connID)
		h.log.Info("connection established",
			zap.String("conn_id", connID),
			zap.String("diagram_id", diagramID),
			zap.String("user_id", ident.UserID))
	}
	go cl.writePump()

	defer func() {
		h.Registry.LeaveByConnection(connID)
		h.Hub.Unsubscribe(diagramID, connID)
		conn.Close()
		h.log.Info("connection closed", zap.String("conn_id", connID))
	}()

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				h.log.Warn("unexpected close", zap.String("conn_id", connID), zap.Error(err))
			}
			return
		}

		var msg domain.ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			h.log.Warn("invalid message format", zap.String("conn_id", connID), zap.Error(err))
			continue
		}

		// Ping bypasses every other component, identity included.
		if msg.Type == domain.MsgPing {
			cl.reply(domain.ReplyPong, domain.Pong{PingID: msg.PingID})
			continue
		}

		if cl.ident == nil {
			continue
		}

		// Any attributable inbound frame counts as a heartbeat.
		h.Registry.Touch(diagramID, cl.ident.UserID)

		h.processMessage(cl, msg)
	}
}

// processMessage routes one inbound frame. No path here may panic or block
// indefinitely; unknown types and frames referencing missing state degrade to
// no visible effect plus a log record.
func (h *Handler) processMessage(c *client, msg domain.ClientMessage) {
	ident := c.ident

	switch msg.Type {
	case domain.MsgJoin:
		h.Registry.Join(c.diagramID, ident.UserID, c.connID, ident.DisplayName, ident.AvatarURL)
		// Seed the joining client with everyone already here.
		c.reply(domain.ReplyCollaborators, h.Registry.ListActive(c.diagramID))

	case domain.MsgLeave:
		h.Registry.Leave(c.diagramID, ident.UserID)

	case domain.MsgCursorMove:
		// A cursor frame from a user who has not joined yet still fans out,
		// with the default color; the canonical position is only recorded for
		// sessions the registry knows about.
		color := domain.DefaultCursorColor
		if session := h.Registry.UpdateCursor(c.diagramID, ident.UserID, msg.X, msg.Y); session != nil {
			color = session.CursorColor
		}
		h.Bcast.PublishExcept(c.diagramID, domain.TopicCursors, c.connID, domain.CursorBroadcast{
			UserID:      ident.UserID,
			DisplayName: ident.DisplayName,
			CursorColor: color,
			X:           msg.X,
			Y:           msg.Y,
		})

	case domain.MsgSelection:
		session := h.Registry.UpdateSelection(c.diagramID, ident.UserID, msg.ResourceID)
		if session == nil {
			return
		}
		h.Bcast.PublishExcept(c.diagramID, domain.TopicSelections, c.connID, domain.SelectionBroadcast{
			UserID:      session.UserID,
			CursorColor: session.CursorColor,
			ResourceID:  msg.ResourceID,
		})

	case domain.MsgIdle:
		h.Registry.SetIdle(c.diagramID, ident.UserID, msg.Idle)

	case domain.MsgLockRequest:
		if msg.ResourceID == nil {
			h.log.Warn("lock-request without resourceId", zap.String("conn_id", c.connID))
			return
		}
		result := h.Arbiter.TryAcquire(c.diagramID, *msg.ResourceID, ident.UserID, ident.DisplayName)
		c.reply(domain.ReplyLockResult, result)

	case domain.MsgUnlockRequest:
		if msg.ResourceID == nil {
			h.log.Warn("unlock-request without resourceId", zap.String("conn_id", c.connID))
			return
		}
		h.Arbiter.Release(c.diagramID, *msg.ResourceID, ident.UserID)

	case domain.MsgTableDelete:
		if msg.ResourceID == nil {
			return
		}
		// A deleted table cannot stay locked.
		h.Arbiter.ForceRelease(c.diagramID, *msg.ResourceID)
		h.relayEvent(c, msg)

	case domain.MsgTableMove, domain.MsgTableCreate, domain.MsgTableUpdate,
		domain.MsgColumnChange, domain.MsgRelationshipChange,
		domain.MsgDiagramUpdate, domain.MsgEvent:
		h.relayEvent(c, msg)

	default:
		h.log.Warn("unknown message type",
			zap.String("conn_id", c.connID),
			zap.String("type", msg.Type))
	}
}

// relayEvent stamps a structural edit message with the sender's identity and
// rebroadcasts it verbatim. The core never interprets edit payloads; merging
// concurrent edits is the clients' problem, conflicts are prevented by locks.
func (h *Handler) relayEvent(c *client, msg domain.ClientMessage) {
	event := domain.DiagramEvent{
		Type:        msg.Type,
		Action:      msg.Action,
		DiagramID:   c.diagramID,
		UserID:      c.ident.UserID,
		DisplayName: c.ident.DisplayName,
		Payload:     msg.Payload,
		Timestamp:   time.Now(),
	}
	if msg.ResourceID != nil {
		event.ResourceID = *msg.ResourceID
	}
	h.Bcast.Publish(c.diagramID, domain.TopicDiagramEvents, event)
}
