// Package history hands finished sessions to the training history store
// without blocking the session thread.
package history

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/claude/sprintcoach/internal/models"
)

// ErrQueueFull is logged when a finished session cannot be queued.
var ErrQueueFull = errors.New("history queue full")

// Saver is the write side of storage.Store.
type Saver interface {
	SaveSession(ctx context.Context, rec models.SessionRecord) (bool, error)
}

// Recorder implements session.Persister. PersistSession only enqueues; Run
// performs the writes.
type Recorder struct {
	store   Saver
	queue   chan models.SessionRecord
	timeout time.Duration
	log     *slog.Logger

	mu      sync.Mutex
	saved   int
	failed  int
	lastErr error
}

// NewRecorder creates a Recorder with room for size pending sessions.
func NewRecorder(store Saver, size int, log *slog.Logger) *Recorder {
	if size <= 0 {
		size = 16
	}
	return &Recorder{
		store:   store,
		queue:   make(chan models.SessionRecord, size),
		timeout: 10 * time.Second,
		log:     log,
	}
}

// PersistSession queues rec for writing. It never blocks.
func (r *Recorder) PersistSession(rec models.SessionRecord) {
	select {
	case r.queue <- rec:
	default:
		r.log.Error("session not recorded", "session_id", rec.ID, "error", ErrQueueFull)
		r.mu.Lock()
		r.failed++
		r.lastErr = ErrQueueFull
		r.mu.Unlock()
	}
}

// Run writes queued sessions until ctx is canceled, then drains what is left.
func (r *Recorder) Run(ctx context.Context) error {
	for {
		select {
		case rec := <-r.queue:
			r.save(rec)
		case <-ctx.Done():
			r.drain()
			return nil
		}
	}
}

func (r *Recorder) drain() {
	for {
		select {
		case rec := <-r.queue:
			r.save(rec)
		default:
			return
		}
	}
}

// save outlives Run's context so a session finished during shutdown still lands.
func (r *Recorder) save(rec models.SessionRecord) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	inserted, err := r.store.SaveSession(ctx, rec)
	r.mu.Lock()
	defer r.mu.Unlock()
	if err != nil {
		r.failed++
		r.lastErr = err
		r.log.Error("saving session", "session_id", rec.ID, "error", err)
		return
	}
	r.saved++
	r.log.Info("session recorded", "session_id", rec.ID, "reps", len(rec.RepResults),
		"best", rec.Best(), "duplicate", !inserted)
}

// Stats reports how many sessions were written and how many failed.
func (r *Recorder) Stats() (saved, failed int, lastErr error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.saved, r.failed, r.lastErr
}
