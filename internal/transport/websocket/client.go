package websocket

import (
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/chartdb/collab-backend/internal/broadcast"
	"github.com/chartdb/collab-backend/internal/domain"
	"github.com/chartdb/collab-backend/internal/identity"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second

	// Point-to-point replies queued per connection.
	sendBuffer = 32
)

// client is one websocket connection scoped to one diagram. ident and sub are
// nil when the credential did not resolve; such a connection stays open but
// its frames are dropped and it is never subscribed to broadcasts.
type client struct {
	connID    string
	diagramID string
	ident     *identity.Identity

	conn *websocket.Conn
	send chan domain.ServerEvent
	sub  *broadcast.Subscription
	log  *zap.Logger
}

// reply queues a point-to-point event; drops if the client cannot keep up.
func (c *client) reply(topic string, data any) {
	select {
	case c.send <- domain.ServerEvent{Topic: topic, Data: data}:
	default:
		c.log.Warn("dropping reply for slow client",
			zap.String("conn_id", c.connID),
			zap.String("topic", topic))
	}
}

// writePump is the single writer for the connection: it merges point-to-point
// replies with the two broadcast channels and runs the keepalive pinger.
// conn.WriteJSON is not safe for concurrent use, so every write goes through
// here.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	// Nil channels for unsubscribed connections; a nil case never fires.
	var events, cursors chan domain.ServerEvent
	if c.sub != nil {
		events = c.sub.Events
		cursors = c.sub.Cursors
	}

	for {
		select {
		case event, ok := <-c.send:
			if !ok {
				return
			}
			if !c.write(event) {
				return
			}
		case event, ok := <-events:
			if !ok {
				return
			}
			if !c.write(event) {
				return
			}
		case event, ok := <-cursors:
			if !ok {
				return
			}
			if !c.write(event) {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *client) write(event domain.ServerEvent) bool {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteJSON(event); err != nil {
		c.log.Debug("write failed", zap.String("conn_id", c.connID), zap.Error(err))
		return false
	}
	return true
}
