package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"
)

// NewRouter mounts the patient and clinician APIs.
func NewRouter(s *Server, corsOrigins []string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(requestLogger(s.Logger))
	r.Use(middleware.Recoverer)

	// CORS must run before routing so pre-flight OPTIONS requests are answered
	r.Use(cors.New(cors.Options{
		AllowedOrigins: corsOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Origin", "Content-Type", "Accept", "Last-Event-ID"},
	}).Handler)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(r chi.Router) {
		r.Post("/sessions", s.handleCreateSession)
		r.Post("/sessions/{id}/messages", s.handlePostMessage)
		r.Post("/sessions/{id}/reset", s.handleReset)

		r.Route("/doctor", func(r chi.Router) {
			r.Get("/inbox/{destination}", s.handleInbox)
			r.Get("/inbox/{destination}/stream", s.handleInboxStream)
			r.Get("/intakes/{id}", s.handleIntake)
			r.Get("/intakes/{id}/report.pdf", s.handleReport)
		})
	})
	return r
}

// requestLogger logs method, path, status and latency.  Bodies carry
// patient text and are never logged.
func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			defer func() {
				logger.Info("http request",
					"request_id", middleware.GetReqID(r.Context()),
					"method", r.Method,
					"path", r.URL.Path,
					"status", ww.Status(),
					"bytes", ww.BytesWritten(),
					"duration", time.Since(start),
				)
			}()
			next.ServeHTTP(ww, r)
		})
	}
}
