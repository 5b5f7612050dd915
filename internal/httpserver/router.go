package httpserver

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"portalchat/internal/config"
	"portalchat/internal/domain"
	"portalchat/internal/presence"
	"portalchat/internal/service"
	"portalchat/internal/ws"
)

// NewRouter constructs the main HTTP router and wires routes, services, and middleware.
func NewRouter(
	cfg *config.Config,
	logger *zap.SugaredLogger,
	reg *presence.Registry,
	hub *ws.Hub,
	chatSvc *service.ChatService,
	reactionSvc *service.ReactionService,
	moderationSvc *service.ModerationService,
) http.Handler {
	r := chi.NewRouter()

	// Middlewares
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Admin-Token", "X-Admin-User"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"message":"Portal Chat API","version":"1.0.0"}`))
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	})

	r.Handle("/metrics", promhttp.Handler())

	// API routes
	r.Route("/api", func(r chi.Router) {
		// Public read-only endpoints used for the initial page render.
		r.Get("/messages", handleListMessages(chatSvc))
		r.Get("/messages/{messageID}/reactions", handleMessageReactions(reactionSvc))

		// Admin moderation API; the caller's identity was already
		// verified by the portal's admin auth service.
		r.Route("/admin", func(r chi.Router) {
			r.Use(AdminAuth(cfg.AdminToken))

			r.Get("/sessions", handleListSessions(moderationSvc))
			r.Post("/messages/clear", handleClearMessages(chatSvc))

			r.Get("/bans", handleListBans(moderationSvc))
			r.Post("/bans", handleBanDevice(moderationSvc))
			r.Delete("/bans/{deviceID}", handleUnbanDevice(moderationSvc))

			r.Get("/search", handleSearchUsername(moderationSvc))

			r.Get("/reports", handleListReports(moderationSvc))
			r.Patch("/reports/{reportID}", handleSetReportStatus(moderationSvc))
		})
	})

	// Chat socket
	r.Get("/ws", ws.MakeHandler(
		logger,
		hub,
		reg,
		chatSvc,
		reactionSvc,
		moderationSvc,
		cfg.CORSOrigins,
		cfg.HeartbeatInterval,
		cfg.MaxMessageRunes,
	))

	return r
}

// writeJSON is a small helper to send JSON responses.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

// writeError maps domain errors onto HTTP status codes.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrUnauthorized):
		status = http.StatusUnauthorized
	case errors.Is(err, domain.ErrBanned),
		errors.Is(err, domain.ErrSelfAction):
		status = http.StatusForbidden
	case errors.Is(err, domain.ErrDuplicateReport):
		status = http.StatusConflict
	case errors.Is(err, domain.ErrEmptyText),
		errors.Is(err, domain.ErrInvalidTransition),
		errors.Is(err, domain.ErrInvalidInput):
		status = http.StatusBadRequest
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
