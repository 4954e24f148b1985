// Package storage persists finished sprint sessions.
//
// Two backends share the Store interface: DB on PostgreSQL for the shared
// service, and LocalDB on SQLite for a single device.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/claude/sprintcoach/internal/models"
	"github.com/google/uuid"
)

// ErrNotFound is returned when a requested session does not exist for the user.
var ErrNotFound = errors.New("not found")

// Store is the training history.
type Store interface {
	// SaveSession writes rec and its reps. It reports false when a session
	// with the same ID already exists.
	SaveSession(ctx context.Context, rec models.SessionRecord) (bool, error)
	ListSessions(ctx context.Context, f SessionFilter) ([]models.SessionRecord, error)
	GetSession(ctx context.Context, id uuid.UUID, userID int) (*models.SessionRecord, error)
	PersonalBests(ctx context.Context, userID int) ([]models.PersonalBest, error)
	Stats(ctx context.Context, userID int) (*HistoryStats, error)
	GetOrCreateUser(ctx context.Context, login, displayName string) (int, error)
	Close() error
}

// SessionFilter selects sessions completed in [Start, End) for a user.
// An empty Variation matches all variations.
type SessionFilter struct {
	UserID    int
	Start     time.Time
	End       time.Time
	Variation models.Variation
}
