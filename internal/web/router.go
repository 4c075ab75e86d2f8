package web

import (
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"

	"storyforge/server/internal/engine"
)

// CORS middleware
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "*")
		w.Header().Set("Access-Control-Max-Age", "300")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log.Printf("REQUEST: %s %s", r.Method, r.URL.Path)
		next.ServeHTTP(w, r)
	})
}

// NewRouter builds the full route tree around an engine and a running
// hub.
func NewRouter(eng *engine.Engine, hub *TurnHub) *chi.Mux {
	h := NewHandlers(eng, hub)

	r := chi.NewRouter()
	r.Use(requestLogger)
	r.Use(corsMiddleware)

	r.Get("/health", h.HealthCheck)

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/stories/{storyID}", func(r chi.Router) {
			r.Post("/start", h.StartStory)
		})

		r.Route("/sessions", func(r chi.Router) {
			r.Post("/", h.CreateSession)
			r.Get("/", h.ListSessions)

			r.Route("/{sessionID}", func(r chi.Router) {
				r.Get("/", h.GetSession)
				r.Post("/start", h.StartSession)
				r.Post("/pause", h.PauseSession)
				r.Post("/resume", h.ResumeSession)
				r.Post("/end", h.EndSession)
				r.Post("/archive", h.ArchiveSession)
				r.Post("/join", h.JoinSession)
				r.Post("/leave", h.LeaveSession)
				r.Post("/action", h.SubmitAction)
				r.Get("/events", h.ListEvents)
				r.Get("/ws", h.WatchSession)
			})
		})
	})

	return r
}
