// Package companion mirrors a sprint session to a paired companion device.
//
// Messaging is best-effort: sends never block, nothing is retried, and a
// missing or unreachable companion only changes the reported SyncStatus.
package companion

import (
	"math"
	"time"

	"github.com/claude/sprintcoach/internal/models"
)

// MessageType is the "type" key of a companion message.
type MessageType string

const (
	MsgLaunchWorkout    MessageType = "launch_workout"
	MsgPhaseUpdate      MessageType = "phase_update"
	MsgProgress         MessageType = "progress"
	MsgWorkoutCompleted MessageType = "workout_completed"
	MsgSyncRequest      MessageType = "sync_request"
	MsgStatusUpdate     MessageType = "status_update"
)

// Message is the logical payload exchanged with the companion. Timestamp is
// unix seconds with a fractional part.
type Message struct {
	Type          MessageType                  `json:"type"`
	SessionID     string                       `json:"session_id,omitempty"`
	SessionConfig *models.SessionConfiguration `json:"session_config,omitempty"`
	RepTimes      []float64                    `json:"rep_times,omitempty"`
	Phase         models.Phase                 `json:"phase,omitempty"`
	CurrentRep    int                          `json:"current_rep,omitempty"`
	Progress      float64                      `json:"progress,omitempty"`
	Status        string                       `json:"status,omitempty"`
	Timestamp     float64                      `json:"timestamp"`
}

// Time converts Timestamp to a time.Time.
func (m Message) Time() time.Time {
	sec, frac := math.Modf(m.Timestamp)
	return time.Unix(int64(sec), int64(frac*1e9))
}

// UnixSeconds formats t the way Message.Timestamp expects.
func UnixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}

// Channel is the transport to the companion.
type Channel interface {
	// Send queues msg for delivery without blocking. Delivery is not guaranteed.
	Send(msg Message) error
}
