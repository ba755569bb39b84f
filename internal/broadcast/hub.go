package broadcast

import (
	"sync"

	"go.uber.org/zap"

	"github.com/chartdb/collab-backend/internal/domain"
)

// Broadcaster fans an event out to every session subscribed to a diagram's
// topics. Delivery is fire-and-forget per recipient: a disconnected or slow
// recipient simply misses the event, no error surfaces to the sender.
type Broadcaster interface {
	Publish(diagramID, topic string, data any)
	// PublishExcept skips one connection, used so cursor and selection
	// broadcasts are not echoed back to their sender.
	PublishExcept(diagramID, topic, exceptConnID string, data any)
}

const (
	eventBuffer  = 64
	cursorBuffer = 256
)

// Subscription is one connection's view of a diagram's topics. Presence, lock
// and diagram-edit events arrive on Events; cursor and selection traffic on
// Cursors, so a backlog on one never stalls the other.
type Subscription struct {
	ConnID  string
	Events  chan domain.ServerEvent
	Cursors chan domain.ServerEvent
}

// Hub is the in-process Broadcaster: subscribers per diagram, keyed by
// connection ID.
type Hub struct {
	mu       sync.RWMutex
	diagrams map[string]map[string]*Subscription
	log      *zap.Logger
}

func NewHub(log *zap.Logger) *Hub {
	return &Hub{
		diagrams: make(map[string]map[string]*Subscription),
		log:      log,
	}
}

// Subscribe registers a connection on a diagram's topics. Subscribing the
// same connection twice replaces the previous subscription.
func (h *Hub) Subscribe(diagramID, connID string) *Subscription {
	sub := &Subscription{
		ConnID:  connID,
		Events:  make(chan domain.ServerEvent, eventBuffer),
		Cursors: make(chan domain.ServerEvent, cursorBuffer),
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.diagrams[diagramID] == nil {
		h.diagrams[diagramID] = make(map[string]*Subscription)
	}
	if old, ok := h.diagrams[diagramID][connID]; ok {
		close(old.Events)
		close(old.Cursors)
	}
	h.diagrams[diagramID][connID] = sub
	return sub
}

// Unsubscribe removes a connection and closes its channels. No-op if the
// connection was never subscribed.
func (h *Hub) Unsubscribe(diagramID, connID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	subs, ok := h.diagrams[diagramID]
	if !ok {
		return
	}
	sub, ok := subs[connID]
	if !ok {
		return
	}
	delete(subs, connID)
	if len(subs) == 0 {
		delete(h.diagrams, diagramID)
	}
	close(sub.Events)
	close(sub.Cursors)
}

// SubscriberCount reports how many connections are subscribed to a diagram.
func (h *Hub) SubscriberCount(diagramID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.diagrams[diagramID])
}

func (h *Hub) Publish(diagramID, topic string, data any) {
	h.PublishExcept(diagramID, topic, "", data)
}

func (h *Hub) PublishExcept(diagramID, topic, exceptConnID string, data any) {
	event := domain.ServerEvent{Topic: topic, Data: data}
	cursorRate := topic == domain.TopicCursors || topic == domain.TopicSelections

	// Sends happen under the read lock so Unsubscribe cannot close a channel
	// mid-send; every send is non-blocking, full buffers drop.
	h.mu.RLock()
	defer h.mu.RUnlock()

	for connID, sub := range h.diagrams[diagramID] {
		if connID == exceptConnID {
			continue
		}
		ch := sub.Events
		if cursorRate {
			ch = sub.Cursors
		}
		select {
		case ch <- event:
		default:
			if !cursorRate {
				h.log.Warn("dropping broadcast for slow subscriber",
					zap.String("diagram_id", diagramID),
					zap.String("conn_id", connID),
					zap.String("topic", topic))
			}
		}
	}
}
