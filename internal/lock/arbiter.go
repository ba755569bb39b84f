package lock

import (
	"go.uber.org/zap"

	"github.com/chartdb/collab-backend/internal/broadcast"
	"github.com/chartdb/collab-backend/internal/domain"
)

// Arbiter evaluates lock requests against the table and publishes lock-events
// to the owning diagram on every successful transition. A denied acquire is
// answered point-to-point by the gateway and broadcasts nothing.
type Arbiter struct {
	table *Table
	bcast broadcast.Broadcaster
	log   *zap.Logger
}

func NewArbiter(table *Table, bcast broadcast.Broadcaster, log *zap.Logger) *Arbiter {
	return &Arbiter{table: table, bcast: bcast, log: log}
}

func (a *Arbiter) TryAcquire(diagramID, resourceID, userID, displayName string) domain.LockResult {
	granted, acquired, holder := a.table.TryAcquire(diagramID, resourceID, userID, displayName)
	if !granted {
		a.log.Info("lock denied",
			zap.String("resource_id", resourceID),
			zap.String("user_id", userID),
			zap.String("held_by", holder.UserID))
		return domain.LockResult{
			Granted:           false,
			ResourceID:        resourceID,
			HolderUserID:      holder.UserID,
			HolderDisplayName: holder.DisplayName,
			ExpiresAt:         holder.ExpiresAt,
			Message:           domain.ErrLockHeld.Error(),
		}
	}

	a.log.Info("lock acquired",
		zap.String("resource_id", resourceID),
		zap.String("user_id", userID))
	a.bcast.Publish(diagramID, domain.TopicLockEvents, domain.LockEvent{
		Action:      domain.LockActionLocked,
		ResourceID:  resourceID,
		UserID:      acquired.UserID,
		DisplayName: acquired.DisplayName,
		ExpiresAt:   acquired.ExpiresAt,
		Timestamp:   a.table.now(),
	})
	return domain.LockResult{
		Granted:    true,
		ResourceID: resourceID,
		ExpiresAt:  acquired.ExpiresAt,
	}
}

func (a *Arbiter) Release(diagramID, resourceID, userID string) {
	released, ok := a.table.Release(resourceID, userID)
	if !ok {
		return
	}
	a.log.Info("lock released",
		zap.String("resource_id", resourceID),
		zap.String("user_id", userID))
	a.broadcastUnlock(diagramID, released)
}

// ForceRelease drops a resource's lock regardless of holder, used when the
// table itself is deleted.
func (a *Arbiter) ForceRelease(diagramID, resourceID string) {
	released, ok := a.table.ForceRelease(resourceID)
	if !ok {
		return
	}
	a.log.Info("lock force-released", zap.String("resource_id", resourceID))
	a.broadcastUnlock(diagramID, released)
}

// ReleaseAllFor drops every lock the user holds in the diagram, broadcasting
// each unlock. Called from the registry on leave and disconnect so a lock
// never outlives its owning session.
func (a *Arbiter) ReleaseAllFor(diagramID, userID string) {
	for _, released := range a.table.ReleaseAllFor(diagramID, userID) {
		a.log.Info("lock released on leave",
			zap.String("resource_id", released.ResourceID),
			zap.String("user_id", userID))
		a.broadcastUnlock(diagramID, released)
	}
}

// SweepExpired reclaims expired locks, broadcasting each unlock so clients
// clear stale lock indicators.
func (a *Arbiter) SweepExpired() int {
	swept := a.table.SweepExpired()
	for _, l := range swept {
		a.broadcastUnlock(l.DiagramID, l)
	}
	return len(swept)
}

func (a *Arbiter) IsLocked(resourceID string) bool {
	return a.table.IsLocked(resourceID)
}

func (a *Arbiter) Holder(resourceID string) *domain.TableLock {
	return a.table.Holder(resourceID)
}

func (a *Arbiter) broadcastUnlock(diagramID string, l *domain.TableLock) {
	a.bcast.Publish(diagramID, domain.TopicLockEvents, domain.LockEvent{
		Action:      domain.LockActionUnlocked,
		ResourceID:  l.ResourceID,
		UserID:      l.UserID,
		DisplayName: l.DisplayName,
		Timestamp:   a.table.now(),
	})
}
