package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/claude/sprintcoach/internal/companion"
	"github.com/claude/sprintcoach/internal/history"
	"github.com/claude/sprintcoach/internal/loop"
	"github.com/claude/sprintcoach/internal/models"
	"github.com/claude/sprintcoach/internal/progress"
	"github.com/claude/sprintcoach/internal/session"
	"github.com/claude/sprintcoach/internal/storage"
	"github.com/claude/sprintcoach/internal/workout"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// TestHandleMeDefault verifies the /api/v1/me endpoint returns the dev user
// identity when no Tailscale middleware is active.
func TestHandleMeDefault(t *testing.T) {
	s := &Server{}
	req := httptest.NewRequest(http.MethodGet, "/api/v1/me", nil)
	ctx := context.WithValue(req.Context(), userInfoKey, UserInfo{Login: "local", DisplayName: "Local Dev User"})
	req = req.WithContext(ctx)
	rec := httptest.NewRecorder()

	s.handleMe(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var info UserInfo
	if err := json.NewDecoder(rec.Body).Decode(&info); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if info.Login != "local" {
		t.Errorf("login = %q, want %q", info.Login, "local")
	}
	if info.DisplayName != "Local Dev User" {
		t.Errorf("display_name = %q, want %q", info.DisplayName, "Local Dev User")
	}
}

// TestHandleMeTailscaleUser verifies the /api/v1/me endpoint returns the
// Tailscale user identity when set in context.
func TestHandleMeTailscaleUser(t *testing.T) {
	s := &Server{}
	req := httptest.NewRequest(http.MethodGet, "/api/v1/me", nil)
	ctx := context.WithValue(req.Context(), userInfoKey, UserInfo{Login: "alice@example.com", DisplayName: "Alice"})
	req = req.WithContext(ctx)
	rec := httptest.NewRecorder()

	s.handleMe(rec, req)

	var info UserInfo
	if err := json.NewDecoder(rec.Body).Decode(&info); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if info.Login != "alice@example.com" {
		t.Errorf("login = %q, want %q", info.Login, "alice@example.com")
	}
	if info.DisplayName != "Alice" {
		t.Errorf("display_name = %q, want %q", info.DisplayName, "Alice")
	}
}

const testKey = "test-key"

type testEnv struct {
	srv   *httptest.Server
	store *storage.LocalDB
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	store, err := storage.OpenLocal(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("OpenLocal: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	l := loop.New(16, log)
	rec := history.NewRecorder(store, 4, log)
	svc := workout.New(l, rec, nil, nil, workout.Options{TickInterval: 10 * time.Millisecond}, log)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return l.Run(gctx) })
	g.Go(func() error { return rec.Run(gctx) })

	srv := httptest.NewServer(New(store, svc, testKey, log))
	t.Cleanup(func() {
		srv.Close()
		cancel()
		_ = g.Wait()
		store.Close()
	})
	return &testEnv{srv: srv, store: store}
}

func (e *testEnv) do(t *testing.T, method, path string, body any, auth bool) (*http.Response, []byte) {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, e.srv.URL+path, rd)
	if err != nil {
		t.Fatal(err)
	}
	if auth {
		req.Header.Set("X-API-Key", testKey)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	return resp, data
}

// TestWorkoutLifecycle drives a workout through the API and reads it back
// from history.
func TestWorkoutLifecycle(t *testing.T) {
	e := newTestEnv(t)

	resp, _ := e.do(t, http.MethodPost, "/api/v1/workout", map[string]any{"rep_count": 2}, false)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("begin without key = %d, want 401", resp.StatusCode)
	}

	resp, _ = e.do(t, http.MethodPost, "/api/v1/workout", map[string]any{"rep_count": 0, "distance_units": 40}, true)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("begin with 0 reps = %d, want 400", resp.StatusCode)
	}

	resp, body := e.do(t, http.MethodPost, "/api/v1/workout", map[string]any{
		"distance_units": 40, "rep_count": 2, "rest_seconds": 0, "variation": "standard",
		"phases_enabled": []string{"cooldown"},
	}, true)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("begin = %d: %s", resp.StatusCode, body)
	}
	var state session.State
	if err := json.Unmarshal(body, &state); err != nil {
		t.Fatal(err)
	}
	if state.Phase != models.PhaseSprintRep || state.Config.Name != "Pro-40yd-2reps" {
		t.Errorf("state = %s %q", state.Phase, state.Config.Name)
	}

	resp, _ = e.do(t, http.MethodPost, "/api/v1/workout/complete", nil, true)
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("complete from sprint = %d, want 409", resp.StatusCode)
	}

	for i := 0; i < 2; i++ {
		time.Sleep(20 * time.Millisecond)
		if resp, body = e.do(t, http.MethodPost, "/api/v1/workout/advance", nil, true); resp.StatusCode != http.StatusOK {
			t.Fatalf("advance = %d: %s", resp.StatusCode, body)
		}
	}
	if err := json.Unmarshal(body, &state); err != nil {
		t.Fatal(err)
	}
	if state.Phase != models.PhaseCooldown || len(state.RepResults) != 2 {
		t.Errorf("after reps: phase=%s reps=%v", state.Phase, state.RepResults)
	}

	resp, body = e.do(t, http.MethodPost, "/api/v1/workout/complete", nil, true)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("complete = %d: %s", resp.StatusCode, body)
	}
	var done struct {
		ID          string  `json:"id"`
		BestSeconds float64 `json:"best_seconds"`
	}
	if err := json.Unmarshal(body, &done); err != nil {
		t.Fatal(err)
	}
	if done.BestSeconds <= 0 {
		t.Errorf("best_seconds = %v, want > 0", done.BestSeconds)
	}

	// History is written asynchronously.
	deadline := time.Now().Add(2 * time.Second)
	var got []map[string]any
	for time.Now().Before(deadline) {
		_, body = e.do(t, http.MethodGet, "/api/v1/sessions", nil, false)
		if err := json.Unmarshal(body, &got); err == nil && len(got) == 1 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if len(got) != 1 || got[0]["id"] != done.ID {
		t.Fatalf("sessions = %s", body)
	}

	resp, _ = e.do(t, http.MethodGet, "/api/v1/sessions/"+done.ID, nil, false)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("get session = %d", resp.StatusCode)
	}
	resp, _ = e.do(t, http.MethodGet, "/api/v1/sessions/"+uuid.NewString(), nil, false)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("get unknown session = %d, want 404", resp.StatusCode)
	}

	var stats storage.HistoryStats
	_, body = e.do(t, http.MethodGet, "/api/v1/stats", nil, false)
	if err := json.Unmarshal(body, &stats); err != nil || stats.TotalSessions != 1 || stats.TotalReps != 2 {
		t.Errorf("stats = %s", body)
	}

	var board []models.PersonalBest
	_, body = e.do(t, http.MethodGet, "/api/v1/leaderboard", nil, false)
	if err := json.Unmarshal(body, &board); err != nil || len(board) != 1 || board[0].DistanceUnits != 40 {
		t.Errorf("leaderboard = %s", body)
	}
}

// TestBeginFromPreset verifies presets are listed and startable by name.
func TestBeginFromPreset(t *testing.T) {
	e := newTestEnv(t)

	_, body := e.do(t, http.MethodGet, "/api/v1/presets", nil, false)
	var presets []map[string]any
	if err := json.Unmarshal(body, &presets); err != nil || len(presets) != len(models.Presets) {
		t.Fatalf("presets = %s", body)
	}

	resp, _ := e.do(t, http.MethodPost, "/api/v1/workout", map[string]string{"preset": "no such preset"}, true)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown preset = %d, want 404", resp.StatusCode)
	}

	resp, body = e.do(t, http.MethodPost, "/api/v1/workout", map[string]string{"preset": "60 yard flying sprints"}, true)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("begin preset = %d: %s", resp.StatusCode, body)
	}
	var state session.State
	if err := json.Unmarshal(body, &state); err != nil {
		t.Fatal(err)
	}
	if state.Phase != models.PhaseWarmup || state.Config.RepCount != 4 {
		t.Errorf("state = %s reps=%d", state.Phase, state.Config.RepCount)
	}

	resp, _ = e.do(t, http.MethodPost, "/api/v1/workout", map[string]string{"preset": "60 yard flying sprints"}, true)
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("second begin = %d, want 409", resp.StatusCode)
	}

	resp, body = e.do(t, http.MethodPost, "/api/v1/workout/cancel", nil, true)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("cancel = %d: %s", resp.StatusCode, body)
	}
	if err := json.Unmarshal(body, &state); err != nil || state.Phase != models.PhaseCancelled {
		t.Errorf("after cancel: %s", body)
	}
}

// TestSyncAndProgressEndpoints covers the companion and progress routes.
func TestSyncAndProgressEndpoints(t *testing.T) {
	e := newTestEnv(t)

	var status companion.SyncStatus
	_, body := e.do(t, http.MethodGet, "/api/v1/sync", nil, false)
	if err := json.Unmarshal(body, &status); err != nil || status.Text != companion.StatusNotPaired {
		t.Errorf("initial sync = %s", body)
	}

	resp, _ := e.do(t, http.MethodPost, "/api/v1/sync/launch", nil, true)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("launch without workout = %d, want 404", resp.StatusCode)
	}

	resp, _ = e.do(t, http.MethodPost, "/api/v1/companion/messages", map[string]any{"type": "status_update"}, true)
	if resp.StatusCode != http.StatusAccepted {
		t.Errorf("companion message = %d, want 202", resp.StatusCode)
	}
	_, body = e.do(t, http.MethodGet, "/api/v1/sync", nil, false)
	if err := json.Unmarshal(body, &status); err != nil || !status.Reachable {
		t.Errorf("sync after message = %s", body)
	}

	resp, _ = e.do(t, http.MethodPost, "/api/v1/companion/messages", map[string]any{}, true)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("message without type = %d, want 400", resp.StatusCode)
	}

	resp, _ = e.do(t, http.MethodPost, "/api/v1/sync/progress", map[string]any{"fraction": 0.3}, true)
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("sync progress without launch = %d, want 409", resp.StatusCode)
	}

	e.do(t, http.MethodPost, "/api/v1/progress/onboarding", map[string]any{"active": true, "progress": 0.4}, true)
	_, body = e.do(t, http.MethodPost, "/api/v1/progress/training_load", map[string]any{"active": true, "progress": 0.8, "label": "Loading"}, true)
	var snap progress.Snapshot
	if err := json.Unmarshal(body, &snap); err != nil {
		t.Fatal(err)
	}
	if snap.Overall < 0.599 || snap.Overall > 0.601 || snap.CurrentOperation != "Loading" {
		t.Errorf("progress = %+v", snap)
	}

	_, body = e.do(t, http.MethodDelete, "/api/v1/progress", nil, true)
	if err := json.Unmarshal(body, &snap); err != nil || snap.Overall != 1 || snap.AnyActive {
		t.Errorf("after reset = %s", body)
	}
}

// TestHealthz verifies the unauthenticated liveness probe used by companions.
func TestHealthz(t *testing.T) {
	e := newTestEnv(t)
	resp, _ := e.do(t, http.MethodGet, "/healthz", nil, false)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("healthz = %d, want 200", resp.StatusCode)
	}
}
