package mcp

import (
	"context"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

type contextKey int

const userIDKey contextKey = iota

// UserIDFromContext extracts the user ID injected by the transport layer.
func UserIDFromContext(ctx context.Context) int {
	if id, ok := ctx.Value(userIDKey).(int); ok {
		return id
	}
	return 1
}

// WithUserID returns a context with the given user ID.
func WithUserID(ctx context.Context, userID int) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

// New creates an MCP server with all tools and resources registered.
func New(ds DataSource, version string, log *slog.Logger) *server.MCPServer {
	s := server.NewMCPServer("SprintCoach", version,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
		server.WithInstructions("SprintCoach sprint training server. Query completed sprint sessions, personal bests per distance, the preset library, and the live workout. All history is scoped to the authenticated user."),
	)

	h := &handlers{ds: ds, log: log}

	// Tools
	s.AddTools(
		server.ServerTool{Tool: toolListSessions, Handler: h.listSessions},
		server.ServerTool{Tool: toolGetSession, Handler: h.getSession},
		server.ServerTool{Tool: toolGetPersonalBests, Handler: h.getPersonalBests},
		server.ServerTool{Tool: toolGetHistoryStats, Handler: h.getHistoryStats},
		server.ServerTool{Tool: toolComparePeriods, Handler: h.comparePeriods},
		server.ServerTool{Tool: toolListPresets, Handler: h.listPresets},
		server.ServerTool{Tool: toolGetWorkoutStatus, Handler: h.getWorkoutStatus},
	)

	// Resources
	s.AddResources(
		server.ServerResource{Resource: resRecentSessions, Handler: h.recentSessions},
		server.ServerResource{Resource: resLeaderboard, Handler: h.leaderboard},
		server.ServerResource{Resource: resPresetLibrary, Handler: h.presetLibrary},
	)

	return s
}

// handlers holds dependencies for MCP tool/resource handlers.
type handlers struct {
	ds  DataSource
	log *slog.Logger
}

// --- Resource definitions ---

var resRecentSessions = mcp.NewResource(
	"sprintcoach://recent_sessions",
	"Recent Sessions",
	mcp.WithResourceDescription("Completed sprint sessions from the last 14 days with rep times"),
	mcp.WithMIMEType("application/json"),
)

var resLeaderboard = mcp.NewResource(
	"sprintcoach://leaderboard",
	"Leaderboard",
	mcp.WithResourceDescription("Personal best rep time for every sprint distance"),
	mcp.WithMIMEType("application/json"),
)

var resPresetLibrary = mcp.NewResource(
	"sprintcoach://presets",
	"Preset Library",
	mcp.WithResourceDescription("Built-in workouts with distance, reps, rest, variation, and enabled phases"),
	mcp.WithMIMEType("application/json"),
)
