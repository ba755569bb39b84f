package registry

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/chartdb/collab-backend/internal/broadcast"
	"github.com/chartdb/collab-backend/internal/domain"
)

// Clock lets tests drive staleness without sleeping.
type Clock func() time.Time

// LockReleaser frees every lock a user holds in a diagram. Satisfied by the
// lock arbiter; the registry calls it before a session is removed so a lock
// never outlives its owning session.
type LockReleaser interface {
	ReleaseAllFor(diagramID, userID string)
}

// Registry is the single source of truth for who is present in which
// diagram. Sessions are mutated only through its API so the one-active-
// session-per-(diagram,user) invariant is enforced in one place.
type Registry struct {
	mu       sync.RWMutex
	diagrams map[string]*diagramState
	byConn   map[string]connRef

	bcast broadcast.Broadcaster
	locks LockReleaser
	now   Clock
	log   *zap.Logger
}

// diagramState carries its own mutex so traffic on unrelated diagrams never
// serializes.
type diagramState struct {
	mu       sync.Mutex
	sessions map[string]*domain.CollaboratorSession // userID -> session
}

type connRef struct {
	diagramID string
	userID    string
}

func New(bcast broadcast.Broadcaster, locks LockReleaser, now Clock, log *zap.Logger) *Registry {
	if now == nil {
		now = time.Now
	}
	return &Registry{
		diagrams: make(map[string]*diagramState),
		byConn:   make(map[string]connRef),
		bcast:    bcast,
		locks:    locks,
		now:      now,
		log:      log,
	}
}

func (r *Registry) diagram(diagramID string) *diagramState {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.diagrams[diagramID]
	if !ok {
		d = &diagramState{sessions: make(map[string]*domain.CollaboratorSession)}
		r.diagrams[diagramID] = d
	}
	return d
}

func (r *Registry) lookupDiagram(diagramID string) *diagramState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.diagrams[diagramID]
}

// Join creates a session for (diagram, user), or reactivates the existing one
// when the user is already present (second tab, reconnect). Re-joins reuse
// the session ID and refresh the connection; only a genuinely new or
// previously inactive session broadcasts JOIN.
func (r *Registry) Join(diagramID, userID, connectionID, displayName, avatarURL string) *domain.CollaboratorSession {
	d := r.diagram(diagramID)
	now := r.now()

	d.mu.Lock()
	session, exists := d.sessions[userID]
	var announce bool
	if exists {
		announce = !session.Active
		oldConn := session.ConnectionID
		session.ConnectionID = connectionID
		session.Active = true
		session.LastSeen = now
		if oldConn != connectionID {
			r.remapConnection(oldConn, connectionID, diagramID, userID)
		}
	} else {
		announce = true
		colorIdx := 0
		for _, s := range d.sessions {
			if s.Active {
				colorIdx++
			}
		}
		session = &domain.CollaboratorSession{
			SessionID:    uuid.NewString(),
			DiagramID:    diagramID,
			UserID:       userID,
			ConnectionID: connectionID,
			DisplayName:  displayName,
			AvatarURL:    avatarURL,
			CursorColor:  domain.CursorColorAt(colorIdx),
			Active:       true,
			ConnectedAt:  now,
			LastSeen:     now,
			LastActivity: now,
		}
		d.sessions[userID] = session
		r.mapConnection(connectionID, diagramID, userID)
	}
	out := session.Clone()
	d.mu.Unlock()

	r.log.Info("collaborator joined",
		zap.String("diagram_id", diagramID),
		zap.String("user_id", userID),
		zap.String("cursor_color", out.CursorColor),
		zap.Bool("reactivated", exists))

	if announce {
		r.broadcastPresence(diagramID, domain.PresenceJoin, out)
	}
	return out
}

// Leave removes the user's session, releasing their locks first. Idempotent:
// leaving a diagram you are not in is a no-op.
func (r *Registry) Leave(diagramID, userID string) {
	d := r.lookupDiagram(diagramID)
	if d == nil {
		return
	}

	d.mu.Lock()
	session, ok := d.sessions[userID]
	if !ok {
		d.mu.Unlock()
		return
	}
	delete(d.sessions, userID)
	r.unmapConnection(session.ConnectionID)
	out := session.Clone()
	d.mu.Unlock()

	r.removed(out)
}

// LeaveByConnection is the disconnect path: the transport hands us the
// connection ID and we resolve which session it carried.
func (r *Registry) LeaveByConnection(connectionID string) {
	r.mu.RLock()
	ref, ok := r.byConn[connectionID]
	r.mu.RUnlock()
	if !ok {
		return
	}

	d := r.lookupDiagram(ref.diagramID)
	if d == nil {
		return
	}

	d.mu.Lock()
	session, ok := d.sessions[ref.userID]
	// A reconnect may have replaced the connection already; only remove the
	// session if it still belongs to this connection.
	if !ok || session.ConnectionID != connectionID {
		d.mu.Unlock()
		r.unmapConnection(connectionID)
		return
	}
	delete(d.sessions, ref.userID)
	r.unmapConnection(connectionID)
	out := session.Clone()
	d.mu.Unlock()

	r.removed(out)
}

// removed releases the departing user's locks and broadcasts LEAVE, in that
// order, so clients see the unlocks before the departure.
func (r *Registry) removed(session *domain.CollaboratorSession) {
	if r.locks != nil {
		r.locks.ReleaseAllFor(session.DiagramID, session.UserID)
	}
	r.log.Info("collaborator left",
		zap.String("diagram_id", session.DiagramID),
		zap.String("user_id", session.UserID))
	r.broadcastPresence(session.DiagramID, domain.PresenceLeave, session)
}

// UpdateCursor records the canonical cursor position so late joiners get an
// accurate snapshot, and returns the updated session. It does not broadcast;
// the gateway fans cursor frames out directly to keep latency down.
func (r *Registry) UpdateCursor(diagramID, userID string, x, y float64) *domain.CollaboratorSession {
	var out *domain.CollaboratorSession
	r.mutate(diagramID, userID, func(s *domain.CollaboratorSession, now time.Time) {
		s.CursorX = x
		s.CursorY = y
		s.LastSeen = now
		s.LastActivity = now
		out = s.Clone()
	})
	return out
}

// UpdateSelection sets or clears the selected table and returns the updated
// session.
func (r *Registry) UpdateSelection(diagramID, userID string, resourceID *string) *domain.CollaboratorSession {
	var out *domain.CollaboratorSession
	r.mutate(diagramID, userID, func(s *domain.CollaboratorSession, now time.Time) {
		s.SelectedResourceID = resourceID
		s.LastSeen = now
		s.LastActivity = now
		out = s.Clone()
	})
	return out
}

// Touch refreshes lastSeen only, for keepalives that carry no semantic
// activity.
func (r *Registry) Touch(diagramID, userID string) bool {
	return r.mutate(diagramID, userID, func(s *domain.CollaboratorSession, now time.Time) {
		s.LastSeen = now
	})
}

// SetIdle flips the idle flag and announces the status change.
func (r *Registry) SetIdle(diagramID, userID string, idle bool) {
	var out *domain.CollaboratorSession
	changed := r.mutate(diagramID, userID, func(s *domain.CollaboratorSession, now time.Time) {
		s.Idle = idle
		s.LastSeen = now
		out = s.Clone()
	})
	if changed {
		r.broadcastPresence(diagramID, domain.PresenceUpdate, out)
	}
}

func (r *Registry) mutate(diagramID, userID string, fn func(*domain.CollaboratorSession, time.Time)) bool {
	d := r.lookupDiagram(diagramID)
	if d == nil {
		return false
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	session, ok := d.sessions[userID]
	if !ok {
		return false
	}
	fn(session, r.now())
	return true
}

// Get returns a copy of the user's session in the diagram, or nil.
func (r *Registry) Get(diagramID, userID string) *domain.CollaboratorSession {
	d := r.lookupDiagram(diagramID)
	if d == nil {
		return nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	session, ok := d.sessions[userID]
	if !ok {
		return nil
	}
	return session.Clone()
}

// ListActive snapshots every active session in a diagram, oldest joiner
// first, used to answer "who is here" and to seed newly joined clients.
func (r *Registry) ListActive(diagramID string) []*domain.CollaboratorSession {
	d := r.lookupDiagram(diagramID)
	if d == nil {
		return nil
	}
	d.mu.Lock()
	out := make([]*domain.CollaboratorSession, 0, len(d.sessions))
	for _, s := range d.sessions {
		if s.Active {
			out = append(out, s.Clone())
		}
	}
	d.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].ConnectedAt.Equal(out[j].ConnectedAt) {
			return out[i].UserID < out[j].UserID
		}
		return out[i].ConnectedAt.Before(out[j].ConnectedAt)
	})
	return out
}

// CountActive reports the number of active sessions in a diagram.
func (r *Registry) CountActive(diagramID string) int {
	d := r.lookupDiagram(diagramID)
	if d == nil {
		return 0
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, s := range d.sessions {
		if s.Active {
			n++
		}
	}
	return n
}

// SweepStale evicts sessions whose lastSeen is older than the timeout,
// releasing their locks and broadcasting LEAVE for each. Staleness is
// re-checked under the same per-diagram mutex live updates use, so a
// heartbeat racing the sweep keeps its session.
func (r *Registry) SweepStale(timeout time.Duration) int {
	cutoff := r.now().Add(-timeout)

	r.mu.RLock()
	diagrams := make(map[string]*diagramState, len(r.diagrams))
	for id, d := range r.diagrams {
		diagrams[id] = d
	}
	r.mu.RUnlock()

	removed := 0
	for _, d := range diagrams {
		var stale []*domain.CollaboratorSession
		d.mu.Lock()
		for userID, s := range d.sessions {
			if s.LastSeen.Before(cutoff) {
				delete(d.sessions, userID)
				r.unmapConnection(s.ConnectionID)
				stale = append(stale, s.Clone())
			}
		}
		d.mu.Unlock()

		for _, s := range stale {
			r.log.Info("evicting stale session",
				zap.String("diagram_id", s.DiagramID),
				zap.String("user_id", s.UserID),
				zap.Time("last_seen", s.LastSeen))
			r.removed(s)
			removed++
		}
	}
	return removed
}

func (r *Registry) broadcastPresence(diagramID, eventType string, s *domain.CollaboratorSession) {
	r.bcast.Publish(diagramID, domain.TopicPresence, domain.PresenceEvent{
		Type:        eventType,
		UserID:      s.UserID,
		DisplayName: s.DisplayName,
		AvatarURL:   s.AvatarURL,
		Status:      s.Status(),
		Timestamp:   r.now(),
	})
}

func (r *Registry) mapConnection(connectionID, diagramID, userID string) {
	r.mu.Lock()
	r.byConn[connectionID] = connRef{diagramID: diagramID, userID: userID}
	r.mu.Unlock()
}

func (r *Registry) remapConnection(oldConn, newConn, diagramID, userID string) {
	r.mu.Lock()
	delete(r.byConn, oldConn)
	r.byConn[newConn] = connRef{diagramID: diagramID, userID: userID}
	r.mu.Unlock()
}

func (r *Registry) unmapConnection(connectionID string) {
	r.mu.Lock()
	delete(r.byConn, connectionID)
	r.mu.Unlock()
}
