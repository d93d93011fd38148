package handlers

import (
	"net/http"
	"net/netip"

	"github.com/gluk-w/claworc/sshdeck/internal/middleware"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
)

// NewRouter builds the HTTP API. An empty apiToken disables authentication
// and an empty allowList admits every caller.
func NewRouter(apiToken string, allowList []netip.Prefix) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)

	r.Get("/health", HealthCheck)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.AllowIPs(allowList))
		r.Use(middleware.RequireToken(apiToken))

		r.Post("/sessions", CreateSession)
		r.Get("/sessions", ListSessions)
		r.Route("/sessions/{id}", func(r chi.Router) {
			r.Get("/", GetSession)
			r.Delete("/", DeleteSession)
			r.Get("/events", GetSessionEvents)
			r.Get("/transitions", GetSessionTransitions)
			r.Post("/write", WriteSession)
			r.Post("/resize", ResizeSession)
			r.Post("/exec", ExecSession)
			r.Get("/terminal", TerminalWS)

			r.Get("/files", BrowseFiles)
			r.Get("/files/read", ReadFileContent)
			r.Put("/files/write", WriteFileContent)
			r.Post("/files/mkdir", CreateDirectory)
			r.Post("/files/upload", UploadFile)
			r.Post("/files/download", DownloadFile)
		})

		r.Post("/broadcast", Broadcast)
		r.Post("/connections/test", TestConnection)
		r.Get("/events", EventsWS)

		r.Get("/audit", GetAuditLogs)
		r.Delete("/audit", PurgeAuditLogs)
		r.Get("/logs", GetServerLogs)
		r.Delete("/logs", ClearServerLogs)
	})

	return r
}
