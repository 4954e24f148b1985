// Package timer measures sprint reps.
package timer

import (
	"time"

	"github.com/claude/sprintcoach/internal/loop"
)

// DefaultTick is the display sampling interval while running.
const DefaultTick = 16 * time.Millisecond

// Timer is a pausable monotonic stopwatch. It is not safe for concurrent use;
// all calls and tick callbacks happen on the scheduler's owning thread.
type Timer struct {
	sched    loop.Scheduler
	interval time.Duration
	onTick   func(time.Duration)

	running     bool
	startedAt   time.Time
	accumulated time.Duration
	sampled     time.Duration

	gen      uint64
	stopTick func()
}

// New creates a stopped Timer sampling every interval while running.
// onTick may be nil.
func New(sched loop.Scheduler, interval time.Duration, onTick func(time.Duration)) *Timer {
	if interval <= 0 {
		interval = DefaultTick
	}
	return &Timer{sched: sched, interval: interval, onTick: onTick}
}

// Start begins or resumes accumulation. No-op while already running.
func (t *Timer) Start() {
	if t.running {
		return
	}
	t.running = true
	t.startedAt = t.sched.Now()
	t.gen++
	t.scheduleTick(t.gen)
}

// Pause freezes the elapsed value. No-op while paused or reset.
func (t *Timer) Pause() {
	if !t.running {
		return
	}
	t.accumulated += t.sched.Now().Sub(t.startedAt)
	t.sampled = t.accumulated
	t.running = false
	t.cancelTick()
}

// Reset stops the timer and zeroes the elapsed value.
func (t *Timer) Reset() {
	t.running = false
	t.accumulated = 0
	t.sampled = 0
	t.cancelTick()
}

// Running reports whether the timer is accumulating.
func (t *Timer) Running() bool {
	return t.running
}

// Elapsed returns the exact accumulated time.
func (t *Timer) Elapsed() time.Duration {
	if !t.running {
		return t.accumulated
	}
	return t.accumulated + t.sched.Now().Sub(t.startedAt)
}

// Sampled returns the value captured at the last display tick.
func (t *Timer) Sampled() time.Duration {
	return t.sampled
}

func (t *Timer) scheduleTick(gen uint64) {
	t.stopTick = t.sched.AfterFunc(t.interval, func() { t.tick(gen) })
}

func (t *Timer) tick(gen uint64) {
	// A tick from before the last pause/reset is stale.
	if gen != t.gen || !t.running {
		return
	}
	t.sampled = t.Elapsed()
	if t.onTick != nil {
		t.onTick(t.sampled)
	}
	t.scheduleTick(gen)
}

func (t *Timer) cancelTick() {
	t.gen++
	if t.stopTick != nil {
		t.stopTick()
		t.stopTick = nil
	}
}
