package mcp

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/claude/sprintcoach/internal/companion"
	"github.com/claude/sprintcoach/internal/models"
	"github.com/claude/sprintcoach/internal/session"
	"github.com/claude/sprintcoach/internal/storage"
	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
)

// TestUserIDFromContextDefault verifies the default user ID (1) when no value
// is set in the context.
func TestUserIDFromContextDefault(t *testing.T) {
	ctx := context.Background()
	if id := UserIDFromContext(ctx); id != 1 {
		t.Errorf("UserIDFromContext(empty) = %d, want 1", id)
	}
}

// TestUserIDFromContextSet verifies the user ID is extracted from context
// after being set by WithUserID.
func TestUserIDFromContextSet(t *testing.T) {
	ctx := WithUserID(context.Background(), 42)
	if id := UserIDFromContext(ctx); id != 42 {
		t.Errorf("UserIDFromContext = %d, want 42", id)
	}
}

// TestDefaultTimeRange verifies time range defaults (last 7 days) and parsing.
func TestDefaultTimeRange(t *testing.T) {
	// Both empty → defaults to last 7 days
	start, end, err := defaultTimeRange("", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	diff := end.Sub(start)
	if diff.Hours() < 167 || diff.Hours() > 169 { // ~168 hours = 7 days
		t.Errorf("default range = %.0f hours, want ~168", diff.Hours())
	}

	// Explicit dates
	start, end, err = defaultTimeRange("2024-01-01", "2024-01-31")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if start.Year() != 2024 || start.Month() != 1 || start.Day() != 1 {
		t.Errorf("start = %v, want 2024-01-01", start)
	}
	if end.Year() != 2024 || end.Month() != 1 || end.Day() != 31 {
		t.Errorf("end = %v, want 2024-01-31", end)
	}

	// RFC3339
	start, _, err = defaultTimeRange("2024-06-15T10:30:00Z", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if start.Hour() != 10 || start.Minute() != 30 {
		t.Errorf("start = %v, want 10:30", start)
	}

	// Invalid
	_, _, err = defaultTimeRange("not-a-date", "")
	if err == nil {
		t.Error("expected error for invalid date")
	}
}

type fakeSource struct {
	recs    []models.SessionRecord
	bests   []models.PersonalBest
	state   session.State
	filters []storage.SessionFilter
}

func (f *fakeSource) ListSessions(_ context.Context, filter storage.SessionFilter) ([]models.SessionRecord, error) {
	f.filters = append(f.filters, filter)
	var out []models.SessionRecord
	for _, r := range f.recs {
		if r.CompletedAt.Before(filter.Start) || r.CompletedAt.After(filter.End) {
			continue
		}
		if filter.Variation != "" && r.Config.Variation != filter.Variation {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

func (f *fakeSource) GetSession(_ context.Context, id uuid.UUID, _ int) (*models.SessionRecord, error) {
	for _, r := range f.recs {
		if r.ID == id {
			return &r, nil
		}
	}
	return nil, storage.ErrNotFound
}

func (f *fakeSource) PersonalBests(context.Context, int) ([]models.PersonalBest, error) {
	return f.bests, nil
}

func (f *fakeSource) Stats(context.Context, int) (*storage.HistoryStats, error) {
	return &storage.HistoryStats{TotalSessions: int64(len(f.recs))}, nil
}

func (f *fakeSource) Workout(context.Context) (session.State, error) { return f.state, nil }

func (f *fakeSource) SyncStatus(context.Context) (companion.SyncStatus, error) {
	return companion.SyncStatus{Text: companion.StatusNotPaired}, nil
}

func record(distance int, v models.Variation, at time.Time, reps ...float64) models.SessionRecord {
	return models.SessionRecord{
		ID:          uuid.New(),
		UserID:      1,
		Config:      models.NewConfiguration("", distance, len(reps), 60, v),
		RepResults:  reps,
		StartedAt:   at.Add(-20 * time.Minute),
		CompletedAt: at,
		Source:      models.SourcePhone,
	}
}

func callTool(t *testing.T, fn func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error), args map[string]any) (*mcp.CallToolResult, string) {
	t.Helper()
	var req mcp.CallToolRequest
	req.Params.Arguments = args
	res, err := fn(WithUserID(context.Background(), 7), req)
	if err != nil {
		t.Fatalf("tool returned error: %v", err)
	}
	if len(res.Content) == 0 {
		t.Fatal("tool returned no content")
	}
	text, ok := res.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("content type = %T, want TextContent", res.Content[0])
	}
	return res, text.Text
}

func newTestHandlers(ds DataSource) *handlers {
	return &handlers{ds: ds, log: slog.New(slog.NewTextHandler(io.Discard, nil))}
}

// TestStatsFor verifies per-period aggregation and the distance filter.
func TestStatsFor(t *testing.T) {
	now := time.Now()
	recs := []models.SessionRecord{
		record(40, models.VariationStandard, now, 5.2, 4.9),
		record(40, models.VariationStandard, now, 5.0),
		record(60, models.VariationFlying, now, 7.1),
	}

	all := statsFor(recs, 0)
	if all.Sessions != 3 || all.Reps != 4 {
		t.Errorf("all = %d sessions / %d reps, want 3 / 4", all.Sessions, all.Reps)
	}
	if all.BestSeconds == nil || *all.BestSeconds != 4.9 {
		t.Errorf("best = %v, want 4.9", all.BestSeconds)
	}

	forty := statsFor(recs, 40)
	if forty.Sessions != 2 || forty.Reps != 3 {
		t.Errorf("40yd = %d sessions / %d reps, want 2 / 3", forty.Sessions, forty.Reps)
	}
	if forty.AverageSeconds == nil || math.Abs(*forty.AverageSeconds-5.0333) > 0.001 {
		t.Errorf("40yd avg = %v, want ~5.033", forty.AverageSeconds)
	}

	none := statsFor(recs, 100)
	if none.Sessions != 0 || none.BestSeconds != nil || none.AverageSeconds != nil {
		t.Errorf("100yd = %+v, want empty", none)
	}
}

// TestListSessionsTool verifies the filter passed to the data source and the
// derived figures in the result.
func TestListSessionsTool(t *testing.T) {
	now := time.Now()
	ds := &fakeSource{recs: []models.SessionRecord{
		record(40, models.VariationStandard, now.Add(-time.Hour), 5.2, 4.9),
		record(60, models.VariationFlying, now.Add(-2*time.Hour), 7.0),
	}}
	h := newTestHandlers(ds)

	_, text := callTool(t, h.listSessions, map[string]any{"variation": "standard"})
	var got []sessionSummary
	if err := json.Unmarshal([]byte(text), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got) != 1 || got[0].BestSeconds != 4.9 {
		t.Fatalf("sessions = %+v", got)
	}
	if f := ds.filters[0]; f.UserID != 7 || f.Variation != models.VariationStandard {
		t.Errorf("filter = %+v", f)
	}

	res, _ := callTool(t, h.listSessions, map[string]any{"variation": "jogging"})
	if !res.IsError {
		t.Error("unknown variation should be a tool error")
	}
}

// TestGetSessionTool verifies lookup, not-found and malformed ID handling.
func TestGetSessionTool(t *testing.T) {
	rec := record(40, models.VariationStandard, time.Now(), 5.0)
	h := newTestHandlers(&fakeSource{recs: []models.SessionRecord{rec}})

	res, text := callTool(t, h.getSession, map[string]any{"id": rec.ID.String()})
	if res.IsError {
		t.Fatalf("get_session error: %s", text)
	}

	res, text = callTool(t, h.getSession, map[string]any{"id": uuid.NewString()})
	if !res.IsError || !strings.Contains(text, "not found") {
		t.Errorf("unknown id = %q, want not found error", text)
	}

	res, _ = callTool(t, h.getSession, map[string]any{"id": "nope"})
	if !res.IsError {
		t.Error("malformed id should be a tool error")
	}
}

// TestComparePeriodsTool verifies both periods are queried and filtered by distance.
func TestComparePeriodsTool(t *testing.T) {
	ds := &fakeSource{recs: []models.SessionRecord{
		record(40, models.VariationStandard, time.Date(2026, 1, 10, 9, 0, 0, 0, time.UTC), 5.4),
		record(40, models.VariationStandard, time.Date(2026, 2, 10, 9, 0, 0, 0, time.UTC), 5.0, 5.2),
		record(60, models.VariationFlying, time.Date(2026, 2, 11, 9, 0, 0, 0, time.UTC), 7.0),
	}}
	h := newTestHandlers(ds)

	res, text := callTool(t, h.comparePeriods, map[string]any{
		"period_a_start": "2026-01-01", "period_a_end": "2026-01-31",
		"period_b_start": "2026-02-01", "period_b_end": "2026-02-28",
		"distance": 40,
	})
	if res.IsError {
		t.Fatalf("compare_periods error: %s", text)
	}
	var got struct {
		A periodStats `json:"period_a"`
		B periodStats `json:"period_b"`
	}
	if err := json.Unmarshal([]byte(text), &got); err != nil {
		t.Fatal(err)
	}
	if got.A.Sessions != 1 || got.B.Sessions != 1 || got.B.Reps != 2 {
		t.Errorf("periods = %+v / %+v", got.A, got.B)
	}
	if got.B.BestSeconds == nil || *got.B.BestSeconds != 5.0 {
		t.Errorf("period B best = %v, want 5.0", got.B.BestSeconds)
	}

	res, _ = callTool(t, h.comparePeriods, map[string]any{"period_a_start": "2026-01-01"})
	if !res.IsError {
		t.Error("missing periods should be a tool error")
	}
}

// TestWorkoutStatusTool verifies the live snapshot and sync status are combined.
func TestWorkoutStatusTool(t *testing.T) {
	h := newTestHandlers(&fakeSource{state: session.State{Phase: models.PhaseResting, CurrentRep: 2}})

	_, text := callTool(t, h.getWorkoutStatus, nil)
	var got struct {
		Workout   session.State         `json:"workout"`
		Companion companion.SyncStatus `json:"companion"`
	}
	if err := json.Unmarshal([]byte(text), &got); err != nil {
		t.Fatal(err)
	}
	if got.Workout.Phase != models.PhaseResting || got.Companion.Text != companion.StatusNotPaired {
		t.Errorf("status = %+v", got)
	}
}

// TestListPresetsTool verifies every preset is listed with its duration estimate.
func TestListPresetsTool(t *testing.T) {
	h := newTestHandlers(&fakeSource{})
	_, text := callTool(t, h.listPresets, nil)

	var got []struct {
		EstimatedMinutes int `json:"estimated_minutes"`
	}
	if err := json.Unmarshal([]byte(text), &got); err != nil {
		t.Fatal(err)
	}
	if len(got) != len(models.Presets) {
		t.Fatalf("presets = %d, want %d", len(got), len(models.Presets))
	}
	for i, p := range got {
		if p.EstimatedMinutes != models.Presets[i].Config.EstimatedMinutes() {
			t.Errorf("preset %d minutes = %d", i, p.EstimatedMinutes)
		}
	}
}
