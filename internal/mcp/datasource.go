package mcp

import (
	"context"

	"github.com/claude/sprintcoach/internal/companion"
	"github.com/claude/sprintcoach/internal/models"
	"github.com/claude/sprintcoach/internal/session"
	"github.com/claude/sprintcoach/internal/storage"
	"github.com/claude/sprintcoach/internal/workout"
	"github.com/google/uuid"
)

// DataSource abstracts the data layer for MCP tools. Both Local (in-process)
// and HTTPClient (remote via REST API) satisfy this interface.
type DataSource interface {
	ListSessions(ctx context.Context, f storage.SessionFilter) ([]models.SessionRecord, error)
	GetSession(ctx context.Context, id uuid.UUID, userID int) (*models.SessionRecord, error)
	PersonalBests(ctx context.Context, userID int) ([]models.PersonalBest, error)
	Stats(ctx context.Context, userID int) (*storage.HistoryStats, error)
	Workout(ctx context.Context) (session.State, error)
	SyncStatus(ctx context.Context) (companion.SyncStatus, error)
}

// Local serves MCP from the history store and the live workout of this process.
type Local struct {
	storage.Store
	Service *workout.Service
}

// Compile-time checks.
var (
	_ DataSource = Local{}
	_ DataSource = (*HTTPClient)(nil)
)

// Workout returns the live workout snapshot.
func (l Local) Workout(ctx context.Context) (session.State, error) {
	return l.Service.Snapshot(ctx)
}

// SyncStatus returns the companion pairing state.
func (l Local) SyncStatus(context.Context) (companion.SyncStatus, error) {
	return l.Service.Coordinator().Status(), nil
}
