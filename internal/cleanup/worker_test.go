package cleanup

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

type countingSessionSweeper struct {
	calls atomic.Int32
}

func (s *countingSessionSweeper) SweepStale(time.Duration) int {
	s.calls.Add(1)
	return 1
}

type countingLockSweeper struct {
	calls atomic.Int32
}

func (s *countingLockSweeper) SweepExpired() int {
	s.calls.Add(1)
	return 0
}

func TestWorkerSweepsOnStartAndOnTick(t *testing.T) {
	sessions := &countingSessionSweeper{}
	locks := &countingLockSweeper{}
	worker := NewWorker(sessions, locks, 20*time.Millisecond, time.Minute, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		worker.Start(ctx)
		close(done)
	}()

	// One immediate sweep plus at least one tick.
	time.Sleep(70 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop on context cancel")
	}

	assert.GreaterOrEqual(t, sessions.calls.Load(), int32(2))
	assert.Equal(t, sessions.calls.Load(), locks.calls.Load(), "both sweeps run together")
}
