package server

import (
	"log/slog"
	"net/http"

	"github.com/claude/sprintcoach/internal/storage"
	"github.com/claude/sprintcoach/internal/workout"
	"github.com/go-chi/chi/v5"
)

// Server holds dependencies for HTTP handlers.
type Server struct {
	store   storage.Store
	workout *workout.Service
	log     *slog.Logger
	apiKey  string
	router  chi.Router
	whois   WhoIser
}

// New creates a new Server with all routes configured.
func New(store storage.Store, svc *workout.Service, apiKey string, log *slog.Logger) *Server {
	s := &Server{
		store:   store,
		workout: svc,
		log:     log,
		apiKey:  apiKey,
		router:  chi.NewRouter(),
	}
	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// SetTailscale switches request identity from the dev user to tailnet WhoIs.
// It must be called before serving.
func (s *Server) SetTailscale(lc WhoIser) {
	s.whois = lc
}

// MountMCP serves the MCP streamable HTTP endpoint at /mcp. Requests carry
// the caller's identity; see UserID.
func (s *Server) MountMCP(h http.Handler) {
	s.router.With(APIKeyAuth(s.apiKey), s.identify).Handle("/mcp", h)
}

func (s *Server) identify(next http.Handler) http.Handler {
	dev := DevIdentity(next)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.whois == nil {
			dev.ServeHTTP(w, r)
			return
		}
		TailscaleIdentity(s.whois, s.store, s.log)(next).ServeHTTP(w, r)
	})
}

func (s *Server) routes() {
	s.router.Use(RequestLogging(s.log))
	s.router.Use(CORS)

	s.router.Get("/healthz", s.handleHealth)

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Use(s.identify)

		r.Get("/me", s.handleMe)
		r.Get("/presets", s.handlePresets)

		// Read-only views (no auth; tsnet handles access)
		r.Get("/workout", s.handleWorkoutSnapshot)
		r.Get("/sync", s.handleSyncStatus)
		r.Get("/progress", s.handleProgress)
		r.Get("/sessions", s.handleListSessions)
		r.Get("/sessions/{id}", s.handleGetSession)
		r.Get("/leaderboard", s.handleLeaderboard)
		r.Get("/stats", s.handleStats)

		// Controls (API key required)
		r.Group(func(r chi.Router) {
			r.Use(APIKeyAuth(s.apiKey))
			r.Post("/workout", s.handleBegin)
			r.Post("/workout/{action}", s.handleWorkoutAction)
			r.Post("/sync/launch", s.handleLaunch)
			r.Post("/sync/progress", s.handleSyncProgress)
			r.Post("/companion/messages", s.handleCompanionMessage)
			r.Post("/progress/{operation}", s.handleSetProgress)
			r.Delete("/progress", s.handleResetProgress)
		})
	})
}
