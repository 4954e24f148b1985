package mcp

import (
	"context"
	"time"

	"github.com/claude/sprintcoach/internal/models"
	"github.com/claude/sprintcoach/internal/storage"
	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
)

// defaultTimeRange returns start/end defaulting to the last 7 days.
func defaultTimeRange(startStr, endStr string) (time.Time, time.Time, error) {
	var start, end time.Time
	var err error

	if endStr != "" {
		end, err = parseFlexTime(endStr)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
	} else {
		end = time.Now()
	}

	if startStr != "" {
		start, err = parseFlexTime(startStr)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
	} else {
		start = end.AddDate(0, 0, -7)
	}

	return start, end, nil
}

func parseFlexTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, s)
	if err == nil {
		return t, nil
	}
	t, err = time.Parse("2006-01-02", s)
	if err == nil {
		return t, nil
	}
	return time.Time{}, err
}

// sessionSummary is a stored session with its derived figures.
type sessionSummary struct {
	models.SessionRecord
	BestSeconds    float64 `json:"best_seconds"`
	AverageSeconds float64 `json:"average_seconds"`
}

func summarize(rec models.SessionRecord) sessionSummary {
	return sessionSummary{SessionRecord: rec, BestSeconds: rec.Best(), AverageSeconds: rec.Average()}
}

// periodStats aggregates rep times across the sessions of one period.
type periodStats struct {
	Sessions       int      `json:"sessions"`
	Reps           int      `json:"reps"`
	BestSeconds    *float64 `json:"best_seconds"`
	AverageSeconds *float64 `json:"average_seconds"`
}

func statsFor(recs []models.SessionRecord, distance int) periodStats {
	var st periodStats
	var sum, best float64
	for _, rec := range recs {
		if distance > 0 && rec.Config.DistanceUnits != distance {
			continue
		}
		st.Sessions++
		for _, t := range rec.RepResults {
			if st.Reps == 0 || t < best {
				best = t
			}
			sum += t
			st.Reps++
		}
	}
	if st.Reps > 0 {
		avg := sum / float64(st.Reps)
		st.BestSeconds = &best
		st.AverageSeconds = &avg
	}
	return st
}

// --- Tool definitions ---

var toolListSessions = mcp.NewTool("list_sessions",
	mcp.WithDescription("List completed sprint sessions with their configuration, per-rep times in seconds, best and average rep."),
	mcp.WithString("start", mcp.Description("Start date (ISO 8601 or YYYY-MM-DD). Defaults to 7 days ago.")),
	mcp.WithString("end", mcp.Description("End date (ISO 8601 or YYYY-MM-DD). Defaults to now.")),
	mcp.WithString("variation", mcp.Description("Filter by workout variation."),
		mcp.Enum("standard", "intervals", "flying", "acceleration", "endurance")),
)

var toolGetSession = mcp.NewTool("get_session",
	mcp.WithDescription("Fetch one completed sprint session by ID."),
	mcp.WithString("id", mcp.Required(), mcp.Description("Session UUID")),
)

var toolGetPersonalBests = mcp.NewTool("get_personal_bests",
	mcp.WithDescription("Personal best rep time per sprint distance, with average rep time, total reps and sessions."),
)

var toolGetHistoryStats = mcp.NewTool("get_history_stats",
	mcp.WithDescription("Totals across all stored sprint sessions: session and rep counts, distance covered, date range, and per-variation breakdown with best rep."),
)

var toolComparePeriods = mcp.NewTool("compare_periods",
	mcp.WithDescription("Compare sprint performance (sessions, reps, best and average rep time) between two time periods (e.g. this month vs last month)."),
	mcp.WithString("period_a_start", mcp.Required(), mcp.Description("Period A start date")),
	mcp.WithString("period_a_end", mcp.Required(), mcp.Description("Period A end date")),
	mcp.WithString("period_b_start", mcp.Required(), mcp.Description("Period B start date")),
	mcp.WithString("period_b_end", mcp.Required(), mcp.Description("Period B end date")),
	mcp.WithNumber("distance", mcp.Description("Only count sessions at this distance (yards). Defaults to all distances.")),
)

var toolListPresets = mcp.NewTool("list_presets",
	mcp.WithDescription("List the built-in workout presets with estimated duration in minutes."),
)

var toolGetWorkoutStatus = mcp.NewTool("get_workout_status",
	mcp.WithDescription("Current live workout (phase, rep, rep times, rest remaining) and companion sync status."),
)

// --- Tool handlers ---

func (h *handlers) listSessions(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	start, end, err := defaultTimeRange(req.GetString("start", ""), req.GetString("end", ""))
	if err != nil {
		return mcp.NewToolResultError("invalid date format: " + err.Error()), nil
	}
	variation := models.Variation(req.GetString("variation", ""))
	if variation != "" && !variation.Valid() {
		return mcp.NewToolResultError("unknown variation: " + string(variation)), nil
	}

	recs, err := h.ds.ListSessions(ctx, storage.SessionFilter{
		UserID:    UserIDFromContext(ctx),
		Start:     start,
		End:       end,
		Variation: variation,
	})
	if err != nil {
		h.log.Error("mcp list_sessions", "error", err)
		return mcp.NewToolResultError("query failed: " + err.Error()), nil
	}

	out := make([]sessionSummary, 0, len(recs))
	for _, rec := range recs {
		out = append(out, summarize(rec))
	}
	result, err := mcp.NewToolResultJSON(out)
	if err != nil {
		return mcp.NewToolResultError("serialization failed"), nil
	}
	return result, nil
}

func (h *handlers) getSession(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	idStr, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError("id parameter is required"), nil
	}
	id, err := uuid.Parse(idStr)
	if err != nil {
		return mcp.NewToolResultError("invalid session ID: " + err.Error()), nil
	}

	rec, err := h.ds.GetSession(ctx, id, UserIDFromContext(ctx))
	if IsNotFound(err) {
		return mcp.NewToolResultError("session not found: " + idStr), nil
	}
	if err != nil {
		h.log.Error("mcp get_session", "error", err)
		return mcp.NewToolResultError("query failed: " + err.Error()), nil
	}

	result, err := mcp.NewToolResultJSON(summarize(*rec))
	if err != nil {
		return mcp.NewToolResultError("serialization failed"), nil
	}
	return result, nil
}

func (h *handlers) getPersonalBests(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	bests, err := h.ds.PersonalBests(ctx, UserIDFromContext(ctx))
	if err != nil {
		h.log.Error("mcp get_personal_bests", "error", err)
		return mcp.NewToolResultError("query failed: " + err.Error()), nil
	}
	if bests == nil {
		bests = []models.PersonalBest{}
	}

	result, err := mcp.NewToolResultJSON(bests)
	if err != nil {
		return mcp.NewToolResultError("serialization failed"), nil
	}
	return result, nil
}

func (h *handlers) getHistoryStats(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	stats, err := h.ds.Stats(ctx, UserIDFromContext(ctx))
	if err != nil {
		h.log.Error("mcp get_history_stats", "error", err)
		return mcp.NewToolResultError("query failed: " + err.Error()), nil
	}

	result, err := mcp.NewToolResultJSON(stats)
	if err != nil {
		return mcp.NewToolResultError("serialization failed"), nil
	}
	return result, nil
}

func (h *handlers) comparePeriods(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	aStartStr, err := req.RequireString("period_a_start")
	if err != nil {
		return mcp.NewToolResultError("period_a_start is required"), nil
	}
	aEndStr, err := req.RequireString("period_a_end")
	if err != nil {
		return mcp.NewToolResultError("period_a_end is required"), nil
	}
	bStartStr, err := req.RequireString("period_b_start")
	if err != nil {
		return mcp.NewToolResultError("period_b_start is required"), nil
	}
	bEndStr, err := req.RequireString("period_b_end")
	if err != nil {
		return mcp.NewToolResultError("period_b_end is required"), nil
	}

	aStart, err := parseFlexTime(aStartStr)
	if err != nil {
		return mcp.NewToolResultError("invalid period_a_start: " + err.Error()), nil
	}
	aEnd, err := parseFlexTime(aEndStr)
	if err != nil {
		return mcp.NewToolResultError("invalid period_a_end: " + err.Error()), nil
	}
	bStart, err := parseFlexTime(bStartStr)
	if err != nil {
		return mcp.NewToolResultError("invalid period_b_start: " + err.Error()), nil
	}
	bEnd, err := parseFlexTime(bEndStr)
	if err != nil {
		return mcp.NewToolResultError("invalid period_b_end: " + err.Error()), nil
	}

	uid := UserIDFromContext(ctx)
	distance := req.GetInt("distance", 0)

	recsA, err := h.ds.ListSessions(ctx, storage.SessionFilter{UserID: uid, Start: aStart, End: aEnd})
	if err != nil {
		h.log.Error("mcp compare_periods A", "error", err)
		return mcp.NewToolResultError("query failed for period A: " + err.Error()), nil
	}

	recsB, err := h.ds.ListSessions(ctx, storage.SessionFilter{UserID: uid, Start: bStart, End: bEnd})
	if err != nil {
		h.log.Error("mcp compare_periods B", "error", err)
		return mcp.NewToolResultError("query failed for period B: " + err.Error()), nil
	}

	out := map[string]any{
		"period_a": statsFor(recsA, distance),
		"period_b": statsFor(recsB, distance),
	}
	if distance > 0 {
		out["distance_units"] = distance
	}
	result, err := mcp.NewToolResultJSON(out)
	if err != nil {
		return mcp.NewToolResultError("serialization failed"), nil
	}
	return result, nil
}

func (h *handlers) listPresets(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	type preset struct {
		models.Preset
		EstimatedMinutes int `json:"estimated_minutes"`
	}
	out := make([]preset, 0, len(models.Presets))
	for _, p := range models.Presets {
		out = append(out, preset{Preset: p, EstimatedMinutes: p.Config.EstimatedMinutes()})
	}

	result, err := mcp.NewToolResultJSON(out)
	if err != nil {
		return mcp.NewToolResultError("serialization failed"), nil
	}
	return result, nil
}

func (h *handlers) getWorkoutStatus(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	state, err := h.ds.Workout(ctx)
	if err != nil {
		h.log.Error("mcp get_workout_status", "error", err)
		return mcp.NewToolResultError("query failed: " + err.Error()), nil
	}
	sync, err := h.ds.SyncStatus(ctx)
	if err != nil {
		h.log.Error("mcp get_workout_status sync", "error", err)
		return mcp.NewToolResultError("query failed: " + err.Error()), nil
	}

	result, err := mcp.NewToolResultJSON(map[string]any{
		"workout":   state,
		"companion": sync,
	})
	if err != nil {
		return mcp.NewToolResultError("serialization failed"), nil
	}
	return result, nil
}
