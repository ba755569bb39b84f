package registry

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/chartdb/collab-backend/internal/domain"
)

type fakeClock struct {
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

type published struct {
	diagramID string
	topic     string
	data      any
}

type recordingBroadcaster struct {
	mu     sync.Mutex
	events []published
}

func (b *recordingBroadcaster) Publish(diagramID, topic string, data any) {
	b.PublishExcept(diagramID, topic, "", data)
}

func (b *recordingBroadcaster) PublishExcept(diagramID, topic, _ string, data any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, published{diagramID: diagramID, topic: topic, data: data})
}

func (b *recordingBroadcaster) presence() []domain.PresenceEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []domain.PresenceEvent
	for _, e := range b.events {
		if e.topic == domain.TopicPresence {
			out = append(out, e.data.(domain.PresenceEvent))
		}
	}
	return out
}

type recordingReleaser struct {
	mu    sync.Mutex
	calls [][2]string
}

func (r *recordingReleaser) ReleaseAllFor(diagramID, userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, [2]string{diagramID, userID})
}

func newTestRegistry(clock *fakeClock) (*Registry, *recordingBroadcaster, *recordingReleaser) {
	bcast := &recordingBroadcaster{}
	releaser := &recordingReleaser{}
	return New(bcast, releaser, clock.Now, zap.NewNop()), bcast, releaser
}

func TestJoinCreatesSessionAndBroadcasts(t *testing.T) {
	reg, bcast, _ := newTestRegistry(newFakeClock())

	session := reg.Join("d1", "alice", "c1", "Alice", "https://img/a.png")
	require.NotNil(t, session)
	assert.NotEmpty(t, session.SessionID)
	assert.True(t, session.Active)
	assert.False(t, session.Idle)
	assert.Equal(t, domain.StatusActive, session.Status())
	assert.Equal(t, domain.CursorPalette[0], session.CursorColor)

	events := bcast.presence()
	require.Len(t, events, 1)
	assert.Equal(t, domain.PresenceJoin, events[0].Type)
	assert.Equal(t, "alice", events[0].UserID)
	assert.Equal(t, "Alice", events[0].DisplayName)
}

func TestJoinIsIdempotentPerDiagramUser(t *testing.T) {
	reg, bcast, _ := newTestRegistry(newFakeClock())

	first := reg.Join("d1", "alice", "c1", "Alice", "")
	second := reg.Join("d1", "alice", "c2", "Alice", "")

	assert.Equal(t, first.SessionID, second.SessionID, "re-join reuses the session")
	assert.Equal(t, "c2", second.ConnectionID)
	assert.Len(t, reg.ListActive("d1"), 1)
	assert.Len(t, bcast.presence(), 1, "reactivating an active session is silent")

	// The session now belongs to c2; the old connection dropping must not
	// tear it down.
	reg.LeaveByConnection("c1")
	assert.Len(t, reg.ListActive("d1"), 1)

	reg.LeaveByConnection("c2")
	assert.Empty(t, reg.ListActive("d1"))
}

func TestCursorColorsFollowPaletteOrder(t *testing.T) {
	reg, _, _ := newTestRegistry(newFakeClock())

	alice := reg.Join("d1", "alice", "c1", "Alice", "")
	bob := reg.Join("d1", "bob", "c2", "Bob", "")

	assert.Equal(t, domain.CursorPalette[0], alice.CursorColor)
	assert.Equal(t, domain.CursorPalette[1], bob.CursorColor)

	// Another diagram starts from the beginning of the palette again.
	carol := reg.Join("d2", "carol", "c3", "Carol", "")
	assert.Equal(t, domain.CursorPalette[0], carol.CursorColor)
}

func TestLeaveReleasesLocksThenBroadcasts(t *testing.T) {
	reg, bcast, releaser := newTestRegistry(newFakeClock())

	reg.Join("d1", "alice", "c1", "Alice", "")
	reg.Leave("d1", "alice")

	require.Len(t, releaser.calls, 1)
	assert.Equal(t, [2]string{"d1", "alice"}, releaser.calls[0])

	events := bcast.presence()
	require.Len(t, events, 2)
	assert.Equal(t, domain.PresenceLeave, events[1].Type)
	assert.Empty(t, reg.ListActive("d1"))

	// Leave is idempotent.
	reg.Leave("d1", "alice")
	assert.Len(t, releaser.calls, 1)
	assert.Len(t, bcast.presence(), 2)
}

func TestLeaveByConnection(t *testing.T) {
	reg, _, releaser := newTestRegistry(newFakeClock())

	reg.Join("d1", "alice", "c1", "Alice", "")
	reg.LeaveByConnection("c1")

	assert.Empty(t, reg.ListActive("d1"))
	require.Len(t, releaser.calls, 1)

	// Unknown connection is a no-op.
	reg.LeaveByConnection("nope")
	assert.Len(t, releaser.calls, 1)
}

func TestUpdateCursorRecordsCanonicalPosition(t *testing.T) {
	clock := newFakeClock()
	reg, bcast, _ := newTestRegistry(clock)

	reg.Join("d1", "alice", "c1", "Alice", "")
	joinEvents := len(bcast.events)

	clock.Advance(5 * time.Second)
	session := reg.UpdateCursor("d1", "alice", 120.5, 80.0)
	require.NotNil(t, session)
	assert.Equal(t, 120.5, session.CursorX)
	assert.Equal(t, 80.0, session.CursorY)
	assert.Equal(t, clock.Now(), session.LastSeen)
	assert.Equal(t, clock.Now(), session.LastActivity)
	assert.Len(t, bcast.events, joinEvents, "cursor updates do not broadcast from the registry")

	// Late joiners see the recorded position in the snapshot.
	listed := reg.ListActive("d1")
	require.Len(t, listed, 1)
	assert.Equal(t, 120.5, listed[0].CursorX)

	// Unknown user is a no-op.
	assert.Nil(t, reg.UpdateCursor("d1", "ghost", 1, 2))
}

func TestUpdateSelection(t *testing.T) {
	reg, _, _ := newTestRegistry(newFakeClock())

	reg.Join("d1", "alice", "c1", "Alice", "")

	tableID := "t1"
	session := reg.UpdateSelection("d1", "alice", &tableID)
	require.NotNil(t, session)
	require.NotNil(t, session.SelectedResourceID)
	assert.Equal(t, "t1", *session.SelectedResourceID)

	session = reg.UpdateSelection("d1", "alice", nil)
	require.NotNil(t, session)
	assert.Nil(t, session.SelectedResourceID)
}

func TestSetIdleBroadcastsUpdate(t *testing.T) {
	reg, bcast, _ := newTestRegistry(newFakeClock())

	reg.Join("d1", "alice", "c1", "Alice", "")
	reg.SetIdle("d1", "alice", true)

	events := bcast.presence()
	require.Len(t, events, 2)
	assert.Equal(t, domain.PresenceUpdate, events[1].Type)
	assert.Equal(t, domain.StatusIdle, events[1].Status)

	// SetIdle for an absent user is silent.
	reg.SetIdle("d1", "ghost", true)
	assert.Len(t, bcast.presence(), 2)
}

func TestListActiveOrderedByJoinTime(t *testing.T) {
	clock := newFakeClock()
	reg, _, _ := newTestRegistry(clock)

	reg.Join("d1", "alice", "c1", "Alice", "")
	clock.Advance(time.Second)
	reg.Join("d1", "bob", "c2", "Bob", "")

	listed := reg.ListActive("d1")
	require.Len(t, listed, 2)
	assert.Equal(t, "alice", listed[0].UserID)
	assert.Equal(t, "bob", listed[1].UserID)
	assert.Equal(t, 2, reg.CountActive("d1"))
	assert.Equal(t, 0, reg.CountActive("unknown"))
}

func TestSweepStaleEvictsAndReleasesLocks(t *testing.T) {
	clock := newFakeClock()
	reg, bcast, releaser := newTestRegistry(clock)

	reg.Join("d1", "alice", "c1", "Alice", "")
	clock.Advance(30 * time.Second)
	reg.Join("d1", "bob", "c2", "Bob", "")

	// Bob heartbeats, Alice goes quiet.
	clock.Advance(40 * time.Second)
	require.True(t, reg.Touch("d1", "bob"))

	removed := reg.SweepStale(60 * time.Second)
	assert.Equal(t, 1, removed)

	listed := reg.ListActive("d1")
	require.Len(t, listed, 1)
	assert.Equal(t, "bob", listed[0].UserID)

	require.Len(t, releaser.calls, 1)
	assert.Equal(t, [2]string{"d1", "alice"}, releaser.calls[0])

	events := bcast.presence()
	last := events[len(events)-1]
	assert.Equal(t, domain.PresenceLeave, last.Type)
	assert.Equal(t, "alice", last.UserID)
}
