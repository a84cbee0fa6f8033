package httpx

import (
	"net/http"

	"log/slog"

	"github.com/rbignon/er-fog-vizu/internal/app"
	"github.com/rbignon/er-fog-vizu/internal/store"
	"github.com/rbignon/er-fog-vizu/internal/ws"
	"github.com/rbignon/er-fog-vizu/pkg/metrics"
)

// NewRouter wires up all HTTP routes, middleware, and handlers
func NewRouter(cfg app.Config, logger *slog.Logger, hub *ws.Hub, db *store.Postgres) http.Handler {
	mw := NewMiddleware(cfg)
	api := &SessionsAPI{DB: db, MaxPerUser: cfg.MaxSessionsPerUser}

	mux := http.NewServeMux()

	// Health / readiness / metrics
	mux.Handle("/healthz", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(200) }))
	mux.Handle("/readyz", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := db.Ping(r.Context()); err != nil {
			logger.Warn("readyz", "err", err)
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(200)
	}))
	mux.Handle("/metrics", metrics.Handler())

	// WebSocket endpoints, one per role
	mux.Handle("/ws/mod/{id}", http.HandlerFunc(hub.ServeMod))
	mux.Handle("/ws/host/{id}", http.HandlerFunc(hub.ServeHost))
	mux.Handle("/ws/viewer/{id}", http.HandlerFunc(hub.ServeViewer))

	// Session API. Reads of a single session are public (viewers use them);
	// everything else needs a token.
	mux.Handle("POST /api/sessions", mw.Auth(http.HandlerFunc(api.Create)))
	mux.Handle("GET /api/sessions", mw.Auth(http.HandlerFunc(api.List)))
	mux.Handle("GET /api/sessions/{id}", http.HandlerFunc(api.Get))
	mux.Handle("PATCH /api/sessions/{id}", mw.Auth(http.HandlerFunc(api.Rename)))
	mux.Handle("DELETE /api/sessions/{id}", mw.Auth(http.HandlerFunc(api.Delete)))

	// CORS + rate limit applied globally
	return mw.Wrap(mux)
}
