package domain

import "time"

// TableLock is an exclusive, time-bounded claim on a table. At most one lock
// exists per resource; an expired lock is logically absent even if it has not
// been physically removed yet.
type TableLock struct {
	LockID     string    `json:"lockId"`
	ResourceID string    `json:"resourceId"`
	DiagramID  string    `json:"diagramId"`
	UserID     string    `json:"userId"`

	// Holder display name, denormalized for lock-event broadcasts.
	DisplayName string `json:"displayName"`

	AcquiredAt time.Time `json:"acquiredAt"`
	ExpiresAt  time.Time `json:"expiresAt"`
}

// Expired reports whether the lock has passed its TTL at the given instant.
func (l *TableLock) Expired(now time.Time) bool {
	return !l.ExpiresAt.After(now)
}
