package session

import (
	"fmt"
	"time"

	"github.com/claude/sprintcoach/internal/models"
	"github.com/google/uuid"
)

// EventType identifies what changed in a session.
type EventType string

const (
	EventBegan         EventType = "began"
	EventPhaseChanged  EventType = "phase_changed"
	EventRepCompleted  EventType = "rep_completed"
	EventTick          EventType = "tick"
	EventPaused        EventType = "paused"
	EventResumed       EventType = "resumed"
	EventResultsMerged EventType = "results_merged"
	EventCompleted     EventType = "completed"
	EventCancelled     EventType = "cancelled"
)

// Event is delivered to subscribers after every state change.
type Event struct {
	Type  EventType `json:"type"`
	State State     `json:"state"`
	Cue   string    `json:"cue,omitempty"`
}

// State is an immutable snapshot of a session.
type State struct {
	ID               uuid.UUID                   `json:"id"`
	UserID           int                         `json:"user_id"`
	Config           models.SessionConfiguration `json:"config"`
	Phase            models.Phase                `json:"phase"`
	PhaseName        string                      `json:"phase_name"`
	CurrentRep       int                         `json:"current_rep"`
	RepResults       []float64                   `json:"rep_results"`
	ElapsedSeconds   float64                     `json:"elapsed_seconds"`
	RestRemaining    float64                     `json:"rest_remaining_seconds,omitempty"`
	Paused           bool                        `json:"paused"`
	StartedAt        *time.Time                  `json:"started_at,omitempty"`
	CompletedAt      *time.Time                  `json:"completed_at,omitempty"`
	ResultsUpdatedAt time.Time                   `json:"results_updated_at"`
	Generation       uint64                      `json:"generation"`
}

// Active reports whether the snapshot describes a running (not idle, not terminal) session.
func (s State) Active() bool {
	return s.Phase != models.PhaseIdle && s.Phase != "" && !s.Phase.Terminal()
}

// cue returns the coaching line spoken when entering phase to.
func cue(to models.Phase, cfg models.SessionConfiguration, rep int) string {
	switch to {
	case models.PhaseWarmup:
		return "Let's get warm. Easy jog and build up."
	case models.PhaseStretch:
		return "Great warm-up! Time to stretch those muscles."
	case models.PhaseDrill:
		return "Let's move to activation drills."
	case models.PhaseStrides:
		return "Excellent form! Ready for build-up strides?"
	case models.PhaseSprintRep:
		if rep <= 1 {
			return fmt.Sprintf("Time for your %dyd sprints. Go!", cfg.DistanceUnits)
		}
		return fmt.Sprintf("Rep %d of %d. Go!", rep, cfg.RepCount)
	case models.PhaseResting:
		return "Incredible speed! Walk back and recover."
	case models.PhaseCooldown:
		return "Perfect! Time to cool down."
	case models.PhaseCompleted:
		return fmt.Sprintf("Workout complete! You crushed those %dyd sprints!", cfg.DistanceUnits)
	case models.PhaseCancelled:
		return "Workout ended."
	}
	return ""
}
