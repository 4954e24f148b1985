// Package session drives a single sprint workout through its phases.
package session

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/claude/sprintcoach/internal/loop"
	"github.com/claude/sprintcoach/internal/models"
	"github.com/claude/sprintcoach/internal/timer"
	"github.com/google/uuid"
)

var (
	ErrInvalidTransition = errors.New("invalid phase transition")
	ErrNoSession         = errors.New("no active session")
)

// Persister receives finished sessions. Implementations must not block the caller.
type Persister interface {
	PersistSession(rec models.SessionRecord)
}

// Options tunes a Machine.
type Options struct {
	TickInterval time.Duration
	UserID       int
}

// Machine is the sprint session state machine. It is not safe for concurrent
// use: every method and every scheduled callback runs on the scheduler's
// owning thread (see package loop).
type Machine struct {
	sched   loop.Scheduler
	timer   *timer.Timer
	persist Persister
	userID  int
	log     *slog.Logger

	listeners    []listener
	nextListener int

	id          uuid.UUID
	cfg         models.SessionConfiguration
	phase       models.Phase
	currentRep  int
	results     []float64
	resultsAt   time.Time
	source      string
	startedAt   time.Time
	completedAt time.Time
	paused      bool

	// gen changes whenever a session begins or ends; seq changes on every
	// transition. Scheduled callbacks carry both and are dropped on mismatch.
	gen        uint64
	seq        uint64
	restEndsAt time.Time
	restLeft   time.Duration
	stopRest   func()
}

type listener struct {
	id int
	fn func(Event)
}

// New creates an idle Machine. persist may be nil.
func New(sched loop.Scheduler, persist Persister, opts Options, log *slog.Logger) *Machine {
	if opts.UserID == 0 {
		opts.UserID = 1
	}
	m := &Machine{
		sched:   sched,
		persist: persist,
		userID:  opts.UserID,
		log:     log,
		phase:   models.PhaseIdle,
	}
	m.timer = timer.New(sched, opts.TickInterval, m.onTick)
	return m
}

// Subscribe registers fn for every event. The returned func unsubscribes.
func (m *Machine) Subscribe(fn func(Event)) func() {
	m.nextListener++
	id := m.nextListener
	m.listeners = append(m.listeners, listener{id: id, fn: fn})
	return func() {
		for i, l := range m.listeners {
			if l.id == id {
				m.listeners = append(m.listeners[:i:i], m.listeners[i+1:]...)
				return
			}
		}
	}
}

// SetUserID sets the owner of the next session. It fails while a session is
// in progress.
func (m *Machine) SetUserID(id int) error {
	if m.active() {
		return fmt.Errorf("%w: session in progress", ErrInvalidTransition)
	}
	if id > 0 {
		m.userID = id
	}
	return nil
}

// Begin starts a new session from cfg. The configuration is validated before
// anything changes.
func (m *Machine) Begin(cfg models.SessionConfiguration) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if m.active() {
		return fmt.Errorf("%w: a session is already in progress", ErrInvalidTransition)
	}

	m.invalidate()
	m.timer.Reset()
	m.id = uuid.New()
	m.cfg = cfg
	m.currentRep = 1
	m.results = nil
	m.resultsAt = time.Time{}
	m.source = models.SourcePhone
	m.startedAt = m.sched.Now()
	m.completedAt = time.Time{}
	m.paused = false

	first := m.nextPreparatory(models.PhaseIdle)
	m.log.Info("workout started", "session_id", m.id, "name", cfg.Name,
		"reps", cfg.RepCount, "distance", cfg.DistanceUnits, "first_phase", first)
	m.enter(first, EventBegan)
	return nil
}

// AdvancePhase moves to the next phase. Leaving a sprint rep records its time.
// Advancing a paused session resumes it.
func (m *Machine) AdvancePhase() error {
	if err := m.requireActive(); err != nil {
		return err
	}
	m.paused = false

	switch m.phase {
	case models.PhaseWarmup, models.PhaseStretch, models.PhaseDrill, models.PhaseStrides:
		m.enter(m.nextPreparatory(m.phase), EventPhaseChanged)
	case models.PhaseSprintRep:
		m.completeRep()
		m.afterRep()
	case models.PhaseResting:
		m.cancelRest()
		m.afterRest()
	case models.PhaseCooldown:
		m.finish()
	}
	return nil
}

// CompleteSession finishes the workout from cooldown and hands the record to
// the persister.
func (m *Machine) CompleteSession() (models.SessionRecord, error) {
	if m.phase == models.PhaseIdle {
		return models.SessionRecord{}, ErrNoSession
	}
	if m.phase != models.PhaseCooldown {
		return models.SessionRecord{}, fmt.Errorf("%w: complete from %s", ErrInvalidTransition, m.phase)
	}
	return m.finish(), nil
}

// Cancel abandons the session without writing history. The in-progress rep is
// discarded; completed rep results stay visible in the final snapshot.
func (m *Machine) Cancel() error {
	if err := m.requireActive(); err != nil {
		return err
	}
	m.invalidate()
	m.timer.Reset()
	m.paused = false
	m.phase = models.PhaseCancelled
	m.log.Info("workout cancelled", "session_id", m.id, "reps_done", len(m.results))
	m.emit(EventCancelled, cue(models.PhaseCancelled, m.cfg, m.currentRep))
	return nil
}

// Pause freezes the rep timer and the rest countdown.
func (m *Machine) Pause() error {
	if err := m.requireActive(); err != nil {
		return err
	}
	if m.paused {
		return fmt.Errorf("%w: already paused", ErrInvalidTransition)
	}
	m.paused = true
	m.timer.Pause()
	if m.phase == models.PhaseResting {
		m.restLeft = m.restEndsAt.Sub(m.sched.Now())
		if m.restLeft < 0 {
			m.restLeft = 0
		}
		m.cancelRest()
		m.seq++
	}
	m.emit(EventPaused, "")
	return nil
}

// Resume continues a paused session.
func (m *Machine) Resume() error {
	if err := m.requireActive(); err != nil {
		return err
	}
	if !m.paused {
		return fmt.Errorf("%w: not paused", ErrInvalidTransition)
	}
	m.paused = false
	switch m.phase {
	case models.PhaseSprintRep:
		m.timer.Start()
	case models.PhaseResting:
		m.startRest(m.restLeft)
	}
	m.emit(EventResumed, "")
	return nil
}

// MergeCompanionResults replaces the local rep results with times reported by
// the companion when at is newer than the last local update (last writer
// wins). A partial result arriving in cooldown reopens the rep block. It
// reports whether the merge was applied.
func (m *Machine) MergeCompanionResults(times []float64, at time.Time) (bool, error) {
	if m.phase == models.PhaseIdle {
		return false, ErrNoSession
	}
	if m.phase.Terminal() {
		return false, nil
	}
	if !at.After(m.resultsAt) {
		m.log.Debug("companion results older than local, keeping local",
			"session_id", m.id, "companion_at", at, "local_at", m.resultsAt)
		return false, nil
	}

	n := min(len(times), m.cfg.RepCount)
	m.results = append([]float64(nil), times[:n]...)
	m.resultsAt = at
	m.source = models.SourceCompanion
	m.currentRep = n + 1
	m.log.Info("merged companion results", "session_id", m.id, "reps", n)
	m.emit(EventResultsMerged, "")

	switch {
	case n >= m.cfg.RepCount && m.phase != models.PhaseCooldown:
		m.timer.Reset()
		m.cancelRest()
		m.paused = false
		m.finishReps()
	case n < m.cfg.RepCount && m.phase == models.PhaseCooldown:
		// Reps are missing again; cooldown only follows a full rep block.
		m.paused = false
		m.enter(models.PhaseSprintRep, EventPhaseChanged)
	}
	return true, nil
}

// Snapshot returns the current state.
func (m *Machine) Snapshot() State {
	s := State{
		ID:               m.id,
		UserID:           m.userID,
		Config:           m.cfg,
		Phase:            m.phase,
		PhaseName:        m.phase.DisplayName(),
		CurrentRep:       m.currentRep,
		RepResults:       append([]float64{}, m.results...),
		ElapsedSeconds:   m.timer.Elapsed().Seconds(),
		Paused:           m.paused,
		ResultsUpdatedAt: m.resultsAt,
		Generation:       m.gen,
	}
	if !m.startedAt.IsZero() {
		t := m.startedAt
		s.StartedAt = &t
	}
	if !m.completedAt.IsZero() {
		t := m.completedAt
		s.CompletedAt = &t
	}
	if m.phase == models.PhaseResting {
		left := m.restLeft
		if !m.paused {
			left = m.restEndsAt.Sub(m.sched.Now())
		}
		s.RestRemaining = max(left, 0).Seconds()
	}
	return s
}

func (m *Machine) active() bool {
	return m.phase != models.PhaseIdle && !m.phase.Terminal()
}

func (m *Machine) requireActive() error {
	if m.phase == models.PhaseIdle {
		return ErrNoSession
	}
	if m.phase.Terminal() {
		return fmt.Errorf("%w: session already %s", ErrInvalidTransition, m.phase)
	}
	return nil
}

// nextPreparatory returns the first enabled preparatory phase after from, or
// the first sprint rep when none remain.
func (m *Machine) nextPreparatory(from models.Phase) models.Phase {
	passed := from == models.PhaseIdle
	for _, p := range models.PreparatoryPhases {
		if !passed {
			passed = p == from
			continue
		}
		if m.cfg.PhasesEnabled.Has(p) {
			return p
		}
	}
	return models.PhaseSprintRep
}

func (m *Machine) enter(p models.Phase, ev EventType) {
	m.seq++
	m.phase = p
	switch p {
	case models.PhaseSprintRep:
		m.timer.Start()
	case models.PhaseResting:
		m.startRest(m.cfg.Rest())
	}
	m.emit(ev, cue(p, m.cfg, m.currentRep))
}

func (m *Machine) completeRep() {
	elapsed := m.timer.Elapsed().Seconds()
	m.results = append(m.results, elapsed)
	m.resultsAt = m.sched.Now()
	m.timer.Reset()
	m.currentRep++
	m.log.Info("rep completed", "session_id", m.id, "rep", len(m.results), "seconds", elapsed)
	m.emit(EventRepCompleted, "")
}

func (m *Machine) afterRep() {
	switch {
	case len(m.results) >= m.cfg.RepCount:
		m.finishReps()
	case m.cfg.RestSeconds == 0:
		m.enter(models.PhaseSprintRep, EventPhaseChanged)
	default:
		m.enter(models.PhaseResting, EventPhaseChanged)
	}
}

func (m *Machine) afterRest() {
	if len(m.results) >= m.cfg.RepCount {
		m.finishReps()
		return
	}
	m.enter(models.PhaseSprintRep, EventPhaseChanged)
}

// finishReps leaves the rep block: into cooldown when enabled, otherwise
// straight to completion.
func (m *Machine) finishReps() {
	if m.cfg.PhasesEnabled.Has(models.PhaseCooldown) {
		m.enter(models.PhaseCooldown, EventPhaseChanged)
		return
	}
	m.finish()
}

func (m *Machine) startRest(d time.Duration) {
	m.restEndsAt = m.sched.Now().Add(d)
	m.restLeft = d
	gen, seq := m.gen, m.seq
	m.stopRest = m.sched.AfterFunc(d, func() { m.restDone(gen, seq) })
}

func (m *Machine) restDone(gen, seq uint64) {
	if gen != m.gen || seq != m.seq || m.phase != models.PhaseResting || m.paused {
		m.log.Debug("stale rest countdown discarded", "gen", gen, "current_gen", m.gen)
		return
	}
	m.stopRest = nil
	m.afterRest()
}

func (m *Machine) cancelRest() {
	if m.stopRest != nil {
		m.stopRest()
		m.stopRest = nil
	}
}

// invalidate orphans every callback scheduled for the current session.
func (m *Machine) invalidate() {
	m.gen++
	m.seq++
	m.cancelRest()
}

func (m *Machine) finish() models.SessionRecord {
	m.invalidate()
	m.timer.Reset()
	m.paused = false
	m.phase = models.PhaseCompleted
	m.completedAt = m.sched.Now()

	rec := models.SessionRecord{
		ID:          m.id,
		UserID:      m.userID,
		Config:      m.cfg,
		RepResults:  append([]float64(nil), m.results...),
		StartedAt:   m.startedAt,
		CompletedAt: m.completedAt,
		Source:      m.source,
	}
	m.log.Info("workout completed", "session_id", m.id, "reps", len(rec.RepResults), "best", rec.Best())
	if m.persist != nil {
		m.persist.PersistSession(rec)
	}
	m.emit(EventCompleted, cue(models.PhaseCompleted, m.cfg, m.currentRep))
	return rec
}

func (m *Machine) onTick(time.Duration) {
	if len(m.listeners) == 0 {
		return
	}
	m.emit(EventTick, "")
}

func (m *Machine) emit(t EventType, cueText string) {
	if len(m.listeners) == 0 {
		return
	}
	ev := Event{Type: t, State: m.Snapshot(), Cue: cueText}
	for _, l := range append([]listener(nil), m.listeners...) {
		l.fn(ev)
	}
}
