package companion

import (
	"errors"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/claude/sprintcoach/internal/models"
	"github.com/claude/sprintcoach/internal/progress"
	"github.com/claude/sprintcoach/internal/session"
	"golang.org/x/time/rate"
)

// ErrOutboxFull is returned by a Channel that has no room for another message.
var ErrOutboxFull = errors.New("companion outbox full")

// Status text shown by compact indicators.
const (
	StatusNotPaired    = "companion not paired"
	StatusNotReachable = "companion not reachable"
	StatusReady        = "companion connected and ready"
)

// SyncStatus describes the pairing. Syncing implies Reachable.
type SyncStatus struct {
	Paired     bool       `json:"is_paired"`
	Reachable  bool       `json:"is_reachable"`
	Syncing    bool       `json:"is_syncing"`
	Progress   float64    `json:"sync_progress"`
	LastSyncAt *time.Time `json:"last_sync_at,omitempty"`
	Text       string     `json:"status"`
}

// Session is the part of the state machine the coordinator needs. Its methods
// are only ever called from functions passed to post.
type Session interface {
	MergeCompanionResults(times []float64, at time.Time) (bool, error)
	Snapshot() session.State
}

// Options tunes a Coordinator.
type Options struct {
	// ProgressInterval is the minimum gap between progress messages.
	ProgressInterval time.Duration
	Now              func() time.Time
}

// Coordinator tracks the companion's SyncStatus and mirrors session events to
// it. Status methods are safe for concurrent use. Anything that touches the
// session is marshaled onto the session's thread through post.
type Coordinator struct {
	ch      Channel
	sess    Session
	post    func(func())
	agg     *progress.Aggregator
	limiter *rate.Limiter
	now     func() time.Time
	log     *slog.Logger

	mu     sync.Mutex
	status SyncStatus
}

// NewCoordinator creates a Coordinator for an unpaired companion. agg may be nil.
func NewCoordinator(ch Channel, sess Session, post func(func()), agg *progress.Aggregator, opts Options, log *slog.Logger) *Coordinator {
	if opts.ProgressInterval <= 0 {
		opts.ProgressInterval = 500 * time.Millisecond
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Coordinator{
		ch:      ch,
		sess:    sess,
		post:    post,
		agg:     agg,
		limiter: rate.NewLimiter(rate.Every(opts.ProgressInterval), 1),
		now:     opts.Now,
		log:     log,
	}
}

// Status returns a copy of the current SyncStatus.
func (c *Coordinator) Status() SyncStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.status
	s.Text = statusText(s)
	return s
}

// StatusText is the one-line status for indicators.
func (c *Coordinator) StatusText() string {
	return c.Status().Text
}

// SetPaired records whether a companion is paired. Unpairing also makes it
// unreachable.
func (c *Coordinator) SetPaired(paired bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.status.Paired = paired
	if !paired {
		c.setReachableLocked(false)
	}
}

// SetReachable records the companion's reachability. Losing it ends any sync
// in progress.
func (c *Coordinator) SetReachable(reachable bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if reachable {
		c.status.Paired = true
	}
	c.setReachableLocked(reachable)
}

func (c *Coordinator) setReachableLocked(reachable bool) {
	if c.status.Reachable != reachable {
		c.log.Info("companion reachability changed", "reachable", reachable)
	}
	c.status.Reachable = reachable
	if !reachable && c.status.Syncing {
		c.status.Syncing = false
		c.setAggregate(false, 0)
	}
}

// LaunchOnCompanion asks the companion to start state's workout. It is a
// best-effort request: when the companion is unreachable nothing is sent and
// false is returned.
func (c *Coordinator) LaunchOnCompanion(state session.State) bool {
	c.mu.Lock()
	if !c.status.Reachable {
		c.mu.Unlock()
		c.log.Info("companion not reachable, workout stays on phone", "session_id", state.ID)
		return false
	}
	c.status.Syncing = true
	c.status.Progress = 0
	c.setAggregate(true, 0)
	if c.agg != nil {
		c.agg.SetLabel(progress.OpWatchSync, "Syncing workout to companion")
	}
	c.mu.Unlock()

	cfg := state.Config
	msg := Message{
		Type:          MsgLaunchWorkout,
		SessionID:     state.ID.String(),
		SessionConfig: &cfg,
		Phase:         state.Phase,
		CurrentRep:    state.CurrentRep,
		Timestamp:     UnixSeconds(c.now()),
	}
	if err := c.ch.Send(msg); err != nil {
		c.log.Warn("companion launch not sent", "session_id", state.ID, "error", err)
		c.mu.Lock()
		c.status.Syncing = false
		c.setAggregate(false, 0)
		c.mu.Unlock()
		return false
	}
	c.log.Info("workout launched on companion", "session_id", state.ID, "name", cfg.Name)
	c.ReportProgress(0.5)
	return true
}

// ReportProgress updates the local sync progress, clamped to [0,1]. Progress
// messages to the companion are rate limited; reaching 1 ends the sync. It
// reports false, changing nothing, when no sync is in progress.
func (c *Coordinator) ReportProgress(fraction float64) bool {
	fraction = clamp(fraction)

	c.mu.Lock()
	if !c.status.Syncing {
		c.mu.Unlock()
		return false
	}
	c.status.Progress = fraction
	done := fraction >= 1
	if done {
		c.status.Syncing = false
		t := c.now()
		c.status.LastSyncAt = &t
		c.setAggregate(false, 1)
	} else {
		c.setAggregate(true, fraction)
	}
	c.mu.Unlock()

	if done || c.limiter.Allow() {
		c.send(Message{Type: MsgProgress, Progress: fraction, Timestamp: UnixSeconds(c.now())})
	}
	return true
}

// Delivered is called by the channel once msg reached the companion.
func (c *Coordinator) Delivered(msg Message) {
	if msg.Type == MsgLaunchWorkout {
		c.ReportProgress(1)
	}
}

// Failed is called by the channel when msg could not be delivered. A lost
// launch ends the sync.
func (c *Coordinator) Failed(msg Message) {
	if msg.Type != MsgLaunchWorkout {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.status.Syncing {
		return
	}
	c.log.Warn("companion launch not delivered, sync abandoned", "session_id", msg.SessionID)
	c.status.Syncing = false
	c.status.Progress = 0
	c.setAggregate(false, 0)
}

// OnCompanionResult merges rep times reported by the companion into the
// session, last writer wins. The merge runs on the session's thread.
func (c *Coordinator) OnCompanionResult(times []float64, at time.Time) {
	times = append([]float64(nil), times...)
	c.post(func() {
		applied, err := c.sess.MergeCompanionResults(times, at)
		if err != nil {
			c.log.Warn("companion results not merged", "error", err)
			return
		}
		c.log.Debug("companion results", "reps", len(times), "applied", applied)
	})
}

// HandleMessage processes one inbound message from the companion. Any message
// proves the companion is reachable.
func (c *Coordinator) HandleMessage(msg Message) {
	c.SetReachable(true)

	switch msg.Type {
	case MsgWorkoutCompleted, MsgPhaseUpdate:
		if len(msg.RepTimes) > 0 {
			c.OnCompanionResult(msg.RepTimes, msg.Time())
		}
	case MsgSyncRequest:
		c.post(func() {
			state := c.sess.Snapshot()
			c.send(c.stateMessage(MsgStatusUpdate, state))
		})
	case MsgProgress:
		c.ReportProgress(msg.Progress)
	case MsgStatusUpdate, MsgLaunchWorkout:
	default:
		c.log.Warn("unknown companion message", "type", msg.Type)
	}
}

// Observe mirrors a session event to the companion. It is meant to be
// subscribed to the state machine and runs on the session's thread.
func (c *Coordinator) Observe(ev session.Event) {
	var t MessageType
	switch ev.Type {
	case session.EventBegan, session.EventPhaseChanged, session.EventRepCompleted,
		session.EventPaused, session.EventResumed, session.EventCancelled:
		t = MsgPhaseUpdate
	case session.EventCompleted:
		t = MsgWorkoutCompleted
	default:
		return
	}
	c.mu.Lock()
	reachable := c.status.Reachable
	c.mu.Unlock()
	if !reachable {
		return
	}
	c.send(c.stateMessage(t, ev.State))
}

func (c *Coordinator) stateMessage(t MessageType, state session.State) Message {
	msg := Message{
		Type:       t,
		Phase:      state.Phase,
		CurrentRep: state.CurrentRep,
		RepTimes:   state.RepResults,
		Status:     c.StatusText(),
		Timestamp:  UnixSeconds(c.now()),
	}
	if state.Phase != "" && state.Phase != models.PhaseIdle {
		msg.SessionID = state.ID.String()
	}
	return msg
}

func (c *Coordinator) send(msg Message) {
	if err := c.ch.Send(msg); err != nil {
		c.log.Debug("companion message dropped", "type", msg.Type, "error", err)
	}
}

// setAggregate mirrors the sync into the shared progress aggregator.
func (c *Coordinator) setAggregate(active bool, value float64) {
	if c.agg == nil {
		return
	}
	c.agg.SetActive(progress.OpWatchSync, active)
	c.agg.SetProgress(progress.OpWatchSync, value)
}

func statusText(s SyncStatus) string {
	switch {
	case !s.Paired:
		return StatusNotPaired
	case !s.Reachable:
		return StatusNotReachable
	}
	return StatusReady
}

func clamp(v float64) float64 {
	switch {
	case math.IsNaN(v) || v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
