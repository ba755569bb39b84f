package lock

import (
	"hash/fnv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/chartdb/collab-backend/internal/domain"
)

// Clock lets tests drive lock expiry without sleeping.
type Clock func() time.Time

const shardCount = 16

// Table holds at most one edit lock per resource. Each resource maps to one
// shard, so acquire/release/expire transitions for a single resource are
// totally ordered through that shard's mutex; unrelated resources never
// serialize against each other.
type Table struct {
	shards [shardCount]lockShard
	ttl    time.Duration
	now    Clock
}

type lockShard struct {
	mu    sync.Mutex
	locks map[string]*domain.TableLock
}

func NewTable(ttl time.Duration, now Clock) *Table {
	if now == nil {
		now = time.Now
	}
	t := &Table{ttl: ttl, now: now}
	for i := range t.shards {
		t.shards[i].locks = make(map[string]*domain.TableLock)
	}
	return t
}

func (t *Table) shard(resourceID string) *lockShard {
	h := fnv.New32a()
	h.Write([]byte(resourceID))
	return &t.shards[h.Sum32()%shardCount]
}

// TryAcquire attempts to take or renew the lock on a resource. The check
// order matters: same-holder renewal before expiry steal, expiry steal before
// rejection, so a crashed holder's lock self-heals on the next request
// instead of waiting for the janitor.
func (t *Table) TryAcquire(diagramID, resourceID, userID, displayName string) (granted bool, lock *domain.TableLock, holder *domain.TableLock) {
	s := t.shard(resourceID)
	s.mu.Lock()
	defer s.mu.Unlock()

	now := t.now()

	if existing, ok := s.locks[resourceID]; ok {
		if existing.UserID == userID {
			// Renewal by the current holder.
			existing.ExpiresAt = now.Add(t.ttl)
			return true, clone(existing), nil
		}
		if !existing.Expired(now) {
			return false, nil, clone(existing)
		}
		// Stale lock from another user: steal it.
		delete(s.locks, resourceID)
	}

	fresh := &domain.TableLock{
		LockID:      uuid.NewString(),
		ResourceID:  resourceID,
		DiagramID:   diagramID,
		UserID:      userID,
		DisplayName: displayName,
		AcquiredAt:  now,
		ExpiresAt:   now.Add(t.ttl),
	}
	s.locks[resourceID] = fresh
	return true, clone(fresh), nil
}

// Release removes the lock only if the caller holds it. A stale unlock
// request from a non-holder must never revoke someone else's valid lock.
func (t *Table) Release(resourceID, userID string) (*domain.TableLock, bool) {
	s := t.shard(resourceID)
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.locks[resourceID]
	if !ok || existing.UserID != userID {
		return nil, false
	}
	delete(s.locks, resourceID)
	return clone(existing), true
}

// ForceRelease unconditionally removes a resource's lock, used when the
// underlying table is deleted.
func (t *Table) ForceRelease(resourceID string) (*domain.TableLock, bool) {
	s := t.shard(resourceID)
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.locks[resourceID]
	if !ok {
		return nil, false
	}
	delete(s.locks, resourceID)
	return clone(existing), true
}

// IsLocked reports whether a non-expired lock exists for the resource.
func (t *Table) IsLocked(resourceID string) bool {
	return t.Holder(resourceID) != nil
}

// Holder returns the current non-expired lock for a resource, or nil.
func (t *Table) Holder(resourceID string) *domain.TableLock {
	s := t.shard(resourceID)
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.locks[resourceID]
	if !ok || existing.Expired(t.now()) {
		return nil
	}
	return clone(existing)
}

// ReleaseAllFor drops every lock a user holds within a diagram and returns
// them, so callers can broadcast the unlocks. Used on leave and disconnect.
func (t *Table) ReleaseAllFor(diagramID, userID string) []*domain.TableLock {
	var released []*domain.TableLock
	for i := range t.shards {
		s := &t.shards[i]
		s.mu.Lock()
		for id, l := range s.locks {
			if l.DiagramID == diagramID && l.UserID == userID {
				delete(s.locks, id)
				released = append(released, clone(l))
			}
		}
		s.mu.Unlock()
	}
	return released
}

// SweepExpired removes every expired lock and returns them. Expiry is
// re-checked under the same shard mutex live acquires use, so a renewal that
// lands concurrently keeps its fresh lock.
func (t *Table) SweepExpired() []*domain.TableLock {
	now := t.now()
	var swept []*domain.TableLock
	for i := range t.shards {
		s := &t.shards[i]
		s.mu.Lock()
		for id, l := range s.locks {
			if l.Expired(now) {
				delete(s.locks, id)
				swept = append(swept, clone(l))
			}
		}
		s.mu.Unlock()
	}
	return swept
}

// clone copies a lock so callers never see later mutations made under the
// shard mutex.
func clone(l *domain.TableLock) *domain.TableLock {
	c := *l
	return &c
}
