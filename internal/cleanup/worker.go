package cleanup

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// SessionSweeper evicts sessions not seen within the timeout.
type SessionSweeper interface {
	SweepStale(timeout time.Duration) int
}

// LockSweeper reclaims expired locks.
type LockSweeper interface {
	SweepExpired() int
}

// Worker is the janitor: a fixed-period sweep that evicts stale sessions and
// expired locks. It runs concurrently with live traffic; the sweeps re-check
// freshness under the same critical sections live operations use.
type Worker struct {
	sessions SessionSweeper
	locks    LockSweeper
	interval time.Duration
	timeout  time.Duration
	log      *zap.Logger
}

func NewWorker(sessions SessionSweeper, locks LockSweeper, interval, sessionTimeout time.Duration, log *zap.Logger) *Worker {
	return &Worker{
		sessions: sessions,
		locks:    locks,
		interval: interval,
		timeout:  sessionTimeout,
		log:      log,
	}
}

// Start runs one sweep immediately, then on every tick until ctx is
// cancelled.
func (w *Worker) Start(ctx context.Context) {
	w.log.Info("janitor started",
		zap.Duration("interval", w.interval),
		zap.Duration("session_timeout", w.timeout))

	w.run()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			w.log.Info("janitor stopped")
			return
		case <-ticker.C:
			w.run()
		}
	}
}

func (w *Worker) run() {
	sessions := w.sessions.SweepStale(w.timeout)
	locks := w.locks.SweepExpired()
	if sessions > 0 || locks > 0 {
		w.log.Info("janitor sweep",
			zap.Int("stale_sessions", sessions),
			zap.Int("expired_locks", locks))
	}
}
