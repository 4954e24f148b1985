package models

import (
	"time"

	"github.com/google/uuid"
)

// Record sources.
const (
	SourcePhone     = "phone"
	SourceCompanion = "companion"
)

// SessionRecord is a finished workout handed to history persistence.
type SessionRecord struct {
	ID          uuid.UUID            `json:"id"`
	UserID      int                  `json:"user_id"`
	Config      SessionConfiguration `json:"config"`
	RepResults  []float64            `json:"rep_results"`
	StartedAt   time.Time            `json:"started_at"`
	CompletedAt time.Time            `json:"completed_at"`
	Source      string               `json:"source"`
}

// Best returns the fastest rep time, or 0 when there are no reps.
func (r SessionRecord) Best() float64 {
	var best float64
	for i, t := range r.RepResults {
		if i == 0 || t < best {
			best = t
		}
	}
	return best
}

// Average returns the mean rep time, or 0 when there are no reps.
func (r SessionRecord) Average() float64 {
	if len(r.RepResults) == 0 {
		return 0
	}
	var sum float64
	for _, t := range r.RepResults {
		sum += t
	}
	return sum / float64(len(r.RepResults))
}

// RepRow is one rep in the sprint_reps table.
type RepRow struct {
	SessionID uuid.UUID
	UserID    int
	RepNumber int
	Seconds   float64
}

// RepRows flattens the record's results for insertion. Rep numbers are 1-indexed.
func (r SessionRecord) RepRows() []RepRow {
	rows := make([]RepRow, 0, len(r.RepResults))
	for i, t := range r.RepResults {
		rows = append(rows, RepRow{SessionID: r.ID, UserID: r.UserID, RepNumber: i + 1, Seconds: t})
	}
	return rows
}

// PersonalBest is the leaderboard entry for one sprint distance.
type PersonalBest struct {
	DistanceUnits int       `json:"distance_units"`
	BestSeconds   float64   `json:"best_seconds"`
	AvgSeconds    float64   `json:"avg_seconds"`
	Reps          int       `json:"reps"`
	Sessions      int       `json:"sessions"`
	AchievedAt    time.Time `json:"achieved_at"`
}
