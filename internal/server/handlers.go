package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/claude/sprintcoach/internal/companion"
	"github.com/claude/sprintcoach/internal/loop"
	"github.com/claude/sprintcoach/internal/models"
	"github.com/claude/sprintcoach/internal/progress"
	"github.com/claude/sprintcoach/internal/session"
	"github.com/claude/sprintcoach/internal/storage"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, userInfoFromContext(r))
}

// presetView adds the derived figures shown in the preset picker.
type presetView struct {
	models.Preset
	SessionID        string `json:"session_id"`
	EstimatedMinutes int    `json:"estimated_minutes"`
}

func (s *Server) handlePresets(w http.ResponseWriter, r *http.Request) {
	out := make([]presetView, 0, len(models.Presets))
	for _, p := range models.Presets {
		out = append(out, presetView{
			Preset:           p,
			SessionID:        p.Config.SessionID(),
			EstimatedMinutes: p.Config.EstimatedMinutes(),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleWorkoutSnapshot(w http.ResponseWriter, r *http.Request) {
	state, err := s.workout.Snapshot(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

// beginRequest starts a workout from a preset name or an explicit
// configuration. Omitted phases fall back to the variation's defaults.
type beginRequest struct {
	Preset        string           `json:"preset"`
	Name          string           `json:"name"`
	DistanceUnits int              `json:"distance_units"`
	RepCount      int              `json:"rep_count"`
	RestSeconds   int              `json:"rest_seconds"`
	Variation     models.Variation `json:"variation"`
	PhasesEnabled *models.PhaseSet `json:"phases_enabled"`
}

func (req beginRequest) configuration() (models.SessionConfiguration, error) {
	if req.Preset != "" {
		p, ok := models.FindPreset(req.Preset)
		if !ok {
			return models.SessionConfiguration{}, errors.New("unknown preset: " + req.Preset)
		}
		return p.Config, nil
	}
	v := req.Variation
	if v == "" {
		v = models.VariationStandard
	}
	cfg := models.NewConfiguration(req.Name, req.DistanceUnits, req.RepCount, req.RestSeconds, v)
	if cfg.Name == "" {
		cfg.Name = cfg.SessionID()
	}
	if req.PhasesEnabled != nil {
		cfg.PhasesEnabled = *req.PhasesEnabled
	}
	return cfg, nil
}

func (s *Server) handleBegin(w http.ResponseWriter, r *http.Request) {
	var req beginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON: " + err.Error()})
		return
	}
	cfg, err := req.configuration()
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
		return
	}

	state, err := s.workout.Begin(r.Context(), userIDFromContext(r), cfg)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, state)
}

func (s *Server) handleWorkoutAction(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var (
		state session.State
		err   error
	)
	switch chi.URLParam(r, "action") {
	case "advance":
		state, err = s.workout.Advance(ctx)
	case "cancel":
		state, err = s.workout.Cancel(ctx)
	case "pause":
		state, err = s.workout.Pause(ctx)
	case "resume":
		state, err = s.workout.Resume(ctx)
	case "complete":
		rec, err := s.workout.Complete(ctx)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, newSessionView(rec))
		return
	default:
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown workout action"})
		return
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (s *Server) handleSyncStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.workout.Coordinator().Status())
}

func (s *Server) handleLaunch(w http.ResponseWriter, r *http.Request) {
	launched, err := s.workout.LaunchOnCompanion(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"launched": launched,
		"sync":     s.workout.Coordinator().Status(),
	})
}

func (s *Server) handleSyncProgress(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Fraction float64 `json:"fraction"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON: " + err.Error()})
		return
	}
	coord := s.workout.Coordinator()
	if !coord.ReportProgress(req.Fraction) {
		writeJSON(w, http.StatusConflict, map[string]string{"error": "no companion sync in progress"})
		return
	}
	writeJSON(w, http.StatusOK, coord.Status())
}

func (s *Server) handleCompanionMessage(w http.ResponseWriter, r *http.Request) {
	var msg companion.Message
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON: " + err.Error()})
		return
	}
	if msg.Type == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "type is required"})
		return
	}
	if msg.Timestamp == 0 {
		msg.Timestamp = companion.UnixSeconds(time.Now())
	}
	s.workout.Coordinator().HandleMessage(msg)
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.workout.Progress().Snapshot())
}

func (s *Server) handleSetProgress(w http.ResponseWriter, r *http.Request) {
	op := progress.Operation(strings.ToLower(chi.URLParam(r, "operation")))
	var req struct {
		Active   *bool    `json:"active"`
		Progress *float64 `json:"progress"`
		Label    string   `json:"label"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON: " + err.Error()})
		return
	}

	agg := s.workout.Progress()
	if req.Active != nil {
		agg.SetActive(op, *req.Active)
	}
	if req.Progress != nil {
		agg.SetProgress(op, *req.Progress)
	}
	if req.Label != "" {
		agg.SetLabel(op, req.Label)
	}
	writeJSON(w, http.StatusOK, agg.Snapshot())
}

func (s *Server) handleResetProgress(w http.ResponseWriter, r *http.Request) {
	agg := s.workout.Progress()
	agg.Reset()
	writeJSON(w, http.StatusOK, agg.Snapshot())
}

// sessionView is a stored session with its summary figures.
type sessionView struct {
	models.SessionRecord
	BestSeconds    float64 `json:"best_seconds"`
	AverageSeconds float64 `json:"average_seconds"`
}

func newSessionView(rec models.SessionRecord) sessionView {
	return sessionView{SessionRecord: rec, BestSeconds: rec.Best(), AverageSeconds: rec.Average()}
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	start, end, err := parseTimeRange(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	variation := models.Variation(r.URL.Query().Get("variation"))
	if variation != "" && !variation.Valid() {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unknown variation"})
		return
	}

	recs, err := s.store.ListSessions(r.Context(), storage.SessionFilter{
		UserID:    userIDFromContext(r),
		Start:     start,
		End:       end,
		Variation: variation,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]sessionView, 0, len(recs))
	for _, rec := range recs {
		out = append(out, newSessionView(rec))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid session ID"})
		return
	}
	rec, err := s.store.GetSession(r.Context(), id, userIDFromContext(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newSessionView(*rec))
}

func (s *Server) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	bests, err := s.store.PersonalBests(r.Context(), userIDFromContext(r))
	if err != nil {
		writeError(w, err)
		return
	}
	if bests == nil {
		bests = []models.PersonalBest{}
	}
	writeJSON(w, http.StatusOK, bests)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.Stats(r.Context(), userIDFromContext(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps domain errors to HTTP status codes.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, models.ErrInvalidConfiguration):
		status = http.StatusBadRequest
	case errors.Is(err, session.ErrNoSession), errors.Is(err, storage.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, session.ErrInvalidTransition):
		status = http.StatusConflict
	case errors.Is(err, loop.ErrStopped):
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func parseTimeRange(r *http.Request) (start, end time.Time, err error) {
	startStr := r.URL.Query().Get("start")
	endStr := r.URL.Query().Get("end")

	if startStr == "" {
		// Default: last 30 days
		end = time.Now()
		start = end.AddDate(0, 0, -30)
		return
	}

	start, err = parseDate(startStr)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	if endStr == "" {
		end = time.Now()
		return
	}
	end, err = parseDate(endStr)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	return
}

func parseDate(v string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, v)
	if err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", v)
}
