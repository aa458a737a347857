package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/V4T54L/msgtap/internal/adapter/api/handler"
	"github.com/V4T54L/msgtap/internal/adapter/api/middleware"
	"github.com/V4T54L/msgtap/internal/domain"
)

// DefaultMaxBodySize bounds mutation request bodies.
const DefaultMaxBodySize = 1 << 20

// RouterDeps are the handlers' collaborators. A nil APIKeys disables
// authentication.
type RouterDeps struct {
	Logger      *slog.Logger
	APIKeys     domain.APIKeyRepository
	Logs        handler.LogService
	Settings    domain.SettingsRepository
	Diagnostics handler.Diagnostics
	Host        handler.HostClient
	Mutations   handler.MutationIngester
	Stream      http.Handler
	MaxBodySize int64
}

// NewRouter creates and configures the consumer HTTP router.
func NewRouter(deps RouterDeps) http.Handler {
	if deps.MaxBodySize <= 0 {
		deps.MaxBodySize = DefaultMaxBodySize
	}
	logger := deps.Logger

	logs := handler.NewLogHandler(deps.Logs, logger)
	admin := handler.NewAdminHandler(deps.Settings, deps.Diagnostics, logger)
	host := handler.NewHostHandler(deps.Host, logger)
	mutations := handler.NewMutationHandler(deps.Mutations, logger, deps.MaxBodySize)

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(middleware.Logging(logger))

	r.Get("/health", admin.HealthCheck)

	r.Route("/v1", func(r chi.Router) {
		if deps.APIKeys != nil {
			r.Use(middleware.Auth(deps.APIKeys, logger))
		}

		r.Get("/status", logs.GetStatus)
		r.Get("/stats", logs.GetStats)

		r.Route("/logs", func(r chi.Router) {
			r.Get("/", logs.GetLogs)
			r.Delete("/", logs.ClearLogs)
			r.Get("/export", logs.ExportLogs)
			r.Get("/search", logs.SearchLogs)
			r.Get("/recent", logs.RecentLogs)
			r.Put("/capacity", logs.PutCapacity)
			if deps.Stream != nil {
				r.Method(http.MethodGet, "/stream", deps.Stream)
			}
		})

		r.Get("/settings", admin.GetSettings)
		r.Put("/settings/{key}", admin.PutSetting)
		r.Get("/diagnostics", admin.GetDiagnostics)
		r.Post("/diagnostics/reset", admin.ResetDiagnostics)

		r.Route("/host", func(r chi.Router) {
			r.Get("/conversations", host.Conversations)
			r.Method(http.MethodPost, "/mutations", mutations)
			r.Post("/send", host.Send)
			r.Post("/update", host.Update)
			r.Post("/delete", host.Delete)
		})
	})

	return r
}
