package wearable

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/claude/sprintcoach/internal/companion"
	"github.com/claude/sprintcoach/internal/server"
	"github.com/go-chi/chi/v5"
)

// Handler serves the endpoints the phone's companion channel talks to:
// GET /healthz and POST /api/v1/companion/messages. GET /api/v1/companion/workout
// shows the latest workout received.
func Handler(state *StateDB, apiKey string, log *slog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(server.RequestLogging(log))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Get("/api/v1/companion/workout", func(w http.ResponseWriter, r *http.Request) {
		wo, err := state.Latest()
		if err == ErrNoWorkout {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
			return
		}
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, wo)
	})

	r.With(server.APIKeyAuth(apiKey)).Post("/api/v1/companion/messages", func(w http.ResponseWriter, r *http.Request) {
		var msg companion.Message
		if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON: " + err.Error()})
			return
		}
		if err := state.Record(msg); err != nil {
			log.Error("recording companion message", "type", msg.Type, "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		switch msg.Type {
		case companion.MsgLaunchWorkout:
			name := ""
			if msg.SessionConfig != nil {
				name = msg.SessionConfig.Name
			}
			log.Info("workout launched", "session_id", msg.SessionID, "name", name)
		case companion.MsgProgress:
			log.Debug("sync progress", "fraction", msg.Progress)
		default:
			log.Info("phone update", "type", msg.Type, "phase", msg.Phase, "rep", msg.CurrentRep)
		}
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
