package gate

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/core-tools/hsu-renderer/pkg/errors"
	"github.com/core-tools/hsu-renderer/pkg/logging"
	"github.com/core-tools/hsu-renderer/pkg/metrics"
)

// Slot is an admission ticket for one conversion. Every acquired slot must
// be released exactly once; the gate detects double releases.
type Slot struct {
	acquiredAt time.Time
	waited     time.Duration
	released   atomic.Bool
}

// AcquiredAt returns when the slot was granted.
func (s *Slot) AcquiredAt() time.Time {
	return s.acquiredAt
}

// Waited returns how long the caller queued before the slot was granted.
func (s *Slot) Waited() time.Duration {
	return s.waited
}

// Gate bounds the number of conversions in flight. Waiters blocked on the
// token channel are woken in FIFO order by the runtime, which gives the
// required first-come-first-served fairness without a priority scheme.
type Gate struct {
	limit    int
	tokens   chan struct{}
	recorder *metrics.Recorder
	logger   logging.Logger

	mu      sync.Mutex
	waiting int
	active  int
}

// New creates a gate admitting at most limit concurrent conversions.
func New(limit int, recorder *metrics.Recorder, logger logging.Logger) *Gate {
	if limit < 1 {
		limit = 1
	}

	tokens := make(chan struct{}, limit)
	for i := 0; i < limit; i++ {
		tokens <- struct{}{}
	}

	return &Gate{
		limit:    limit,
		tokens:   tokens,
		recorder: recorder,
		logger:   logger,
	}
}

// Limit returns the configured concurrency bound.
func (g *Gate) Limit() int {
	return g.limit
}

// Acquire blocks until a slot is free, the timeout elapses, or ctx is
// cancelled. The wait duration is recorded in all three outcomes.
func (g *Gate) Acquire(ctx context.Context, timeout time.Duration) (*Slot, error) {
	start := time.Now()

	g.mu.Lock()
	g.waiting++
	g.publishLocked()
	g.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-g.tokens:
		waited := time.Since(start)
		g.recorder.RecordQueueWait(waited)

		g.mu.Lock()
		g.waiting--
		g.active++
		g.publishLocked()
		g.mu.Unlock()

		return &Slot{acquiredAt: time.Now(), waited: waited}, nil

	case <-timer.C:
		g.recorder.RecordQueueWait(time.Since(start))
		g.leaveQueue()
		return nil, errors.NewQueueTimeoutError("timed out waiting for a conversion slot", nil).
			WithContext("timeout", timeout.String()).
			WithContext("limit", g.limit)

	case <-ctx.Done():
		g.recorder.RecordQueueWait(time.Since(start))
		g.leaveQueue()
		return nil, errors.NewCancelledError("cancelled while waiting for a conversion slot", ctx.Err())
	}
}

// Release returns the slot's capacity to the gate. Releasing the same slot
// twice is a programming error; it is logged and otherwise ignored.
func (g *Gate) Release(slot *Slot) {
	if slot == nil {
		return
	}
	if !slot.released.CompareAndSwap(false, true) {
		g.logger.Errorf("Conversion slot released twice, acquired at %v", slot.acquiredAt)
		return
	}

	g.tokens <- struct{}{}

	g.mu.Lock()
	g.active--
	g.publishLocked()
	g.mu.Unlock()
}

// Snapshot returns the current queue depth and active count without blocking.
func (g *Gate) Snapshot() (queueDepth, active int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.waiting, g.active
}

func (g *Gate) leaveQueue() {
	g.mu.Lock()
	g.waiting--
	g.publishLocked()
	g.mu.Unlock()
}

func (g *Gate) publishLocked() {
	g.recorder.SetQueueState(g.waiting, g.active)
}
