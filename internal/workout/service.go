// Package workout owns the live sprint session and serializes every call to
// it onto the session loop.
package workout

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/claude/sprintcoach/internal/companion"
	"github.com/claude/sprintcoach/internal/loop"
	"github.com/claude/sprintcoach/internal/models"
	"github.com/claude/sprintcoach/internal/progress"
	"github.com/claude/sprintcoach/internal/session"
)

// Options tunes a Service.
type Options struct {
	TickInterval     time.Duration
	DefaultUserID    int
	ProgressInterval time.Duration
}

// Service is the single live workout of this process.
type Service struct {
	loop    *loop.Loop
	machine *session.Machine
	coord   *companion.Coordinator
	agg     *progress.Aggregator
	log     *slog.Logger

	mu   sync.RWMutex
	last session.State
}

// New wires a state machine and a companion coordinator onto l. persist and
// ch may be nil; a nil channel keeps the service phone-only.
func New(l *loop.Loop, persist session.Persister, ch companion.Channel, agg *progress.Aggregator, opts Options, log *slog.Logger) *Service {
	if agg == nil {
		agg = progress.New()
	}
	if ch == nil {
		ch = discard{}
	}
	s := &Service{loop: l, agg: agg, log: log}
	s.machine = session.New(l, persist, session.Options{TickInterval: opts.TickInterval, UserID: opts.DefaultUserID}, log)
	s.coord = companion.NewCoordinator(ch, s.machine, l.Post, agg,
		companion.Options{ProgressInterval: opts.ProgressInterval}, log)

	// The loop is not running yet, so subscribing here cannot race.
	s.machine.Subscribe(s.coord.Observe)
	s.machine.Subscribe(s.publish)
	s.last = s.machine.Snapshot()
	return s
}

// Coordinator returns the companion coordinator.
func (s *Service) Coordinator() *companion.Coordinator { return s.coord }

// Progress returns the shared progress aggregator.
func (s *Service) Progress() *progress.Aggregator { return s.agg }

// Begin starts a workout owned by userID.
func (s *Service) Begin(ctx context.Context, userID int, cfg models.SessionConfiguration) (session.State, error) {
	return s.do(ctx, func() error {
		if err := cfg.Validate(); err != nil {
			return err
		}
		if err := s.machine.SetUserID(userID); err != nil {
			return err
		}
		return s.machine.Begin(cfg)
	})
}

// Advance moves the workout to its next phase.
func (s *Service) Advance(ctx context.Context) (session.State, error) {
	return s.do(ctx, s.machine.AdvancePhase)
}

// Complete finishes the workout from cooldown and returns the recorded session.
func (s *Service) Complete(ctx context.Context) (models.SessionRecord, error) {
	var rec models.SessionRecord
	_, err := s.do(ctx, func() error {
		var err error
		rec, err = s.machine.CompleteSession()
		return err
	})
	return rec, err
}

// Cancel abandons the workout without recording it.
func (s *Service) Cancel(ctx context.Context) (session.State, error) {
	return s.do(ctx, s.machine.Cancel)
}

// Pause freezes the workout.
func (s *Service) Pause(ctx context.Context) (session.State, error) {
	return s.do(ctx, s.machine.Pause)
}

// Resume continues a paused workout.
func (s *Service) Resume(ctx context.Context) (session.State, error) {
	return s.do(ctx, s.machine.Resume)
}

// Snapshot reads the current state on the loop, so the elapsed time is exact.
func (s *Service) Snapshot(ctx context.Context) (session.State, error) {
	return s.do(ctx, func() error { return nil })
}

// Last returns the state published with the most recent event without
// touching the loop. Elapsed time lags by at most one tick.
func (s *Service) Last() session.State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.last
}

// LaunchOnCompanion mirrors the active workout to the companion. It reports
// false when the companion is unreachable.
func (s *Service) LaunchOnCompanion(ctx context.Context) (bool, error) {
	state, err := s.Snapshot(ctx)
	if err != nil {
		return false, err
	}
	if !state.Active() {
		return false, session.ErrNoSession
	}
	return s.coord.LaunchOnCompanion(state), nil
}

func (s *Service) do(ctx context.Context, fn func() error) (session.State, error) {
	var state session.State
	var opErr error
	err := s.loop.Do(ctx, func() {
		opErr = fn()
		state = s.machine.Snapshot()
	})
	if err != nil {
		return session.State{}, err
	}
	return state, opErr
}

func (s *Service) publish(ev session.Event) {
	s.mu.Lock()
	s.last = ev.State
	s.mu.Unlock()
	if ev.Type != session.EventTick {
		s.log.Debug("workout event", "type", ev.Type, "phase", ev.State.Phase, "rep", ev.State.CurrentRep)
	}
}

// discard is the channel used when no companion is configured.
type discard struct{}

func (discard) Send(companion.Message) error { return nil }
