// Package loop provides the single logical thread that owns workout state.
//
// Every mutation of a session happens inside a function run by Loop.Run.
// Scheduled wake-ups (timer ticks, rest countdowns) and inbound companion
// messages are posted back onto the loop rather than touching state from the
// goroutine they arrive on.
package loop

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// ErrStopped is returned by Do once the loop has exited.
var ErrStopped = errors.New("loop stopped")

// Scheduler schedules callbacks on the owning thread.
type Scheduler interface {
	Now() time.Time
	// AfterFunc arranges for fn to run on the owning thread after d.
	// The returned func cancels it if it has not started yet.
	AfterFunc(d time.Duration, fn func()) (stop func())
}

// Loop runs posted functions one at a time on a single goroutine.
type Loop struct {
	tasks chan func()
	done  chan struct{}
	log   *slog.Logger
}

var _ Scheduler = (*Loop)(nil)

// New creates a Loop with a task buffer of the given size.
func New(buffer int, log *slog.Logger) *Loop {
	if buffer <= 0 {
		buffer = 64
	}
	return &Loop{
		tasks: make(chan func(), buffer),
		done:  make(chan struct{}),
		log:   log,
	}
}

// Run processes posted functions until ctx is canceled.
func (l *Loop) Run(ctx context.Context) error {
	defer close(l.done)
	l.log.Info("session loop started")
	for {
		select {
		case <-ctx.Done():
			l.log.Info("session loop stopped")
			return nil
		case fn := <-l.tasks:
			fn()
		}
	}
}

// Post queues fn to run on the loop. It blocks only while the buffer is full
// and silently drops fn once the loop has exited.
func (l *Loop) Post(fn func()) {
	select {
	case l.tasks <- fn:
	case <-l.done:
	}
}

// Do runs fn on the loop and waits for it to finish. It must not be called
// from inside a function already running on the loop.
func (l *Loop) Do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	task := func() {
		defer close(finished)
		fn()
	}
	select {
	case l.tasks <- task:
	case <-l.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-finished:
		return nil
	case <-l.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Now returns the wall-clock time, including the monotonic reading.
func (l *Loop) Now() time.Time {
	return time.Now()
}

// AfterFunc implements Scheduler using a runtime timer that posts fn back onto the loop.
func (l *Loop) AfterFunc(d time.Duration, fn func()) func() {
	t := time.AfterFunc(d, func() { l.Post(fn) })
	return func() { t.Stop() }
}
