package api

import (
	"net/http"

	"github.com/dom/league-match-engine/internal/api/handlers"
	"github.com/dom/league-match-engine/internal/api/middleware"
	"github.com/dom/league-match-engine/internal/balancer"
	"github.com/dom/league-match-engine/internal/monitor"
	"github.com/dom/league-match-engine/internal/registry"
	"github.com/dom/league-match-engine/internal/room"
	"github.com/dom/league-match-engine/internal/service"
	"github.com/dom/league-match-engine/internal/websocket"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
)

func NewRouter(services *service.Services, hub *websocket.Hub, rooms *room.Manager, lb *balancer.Balancer, reg *registry.Registry, mon *monitor.Monitor) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.RequestID)
	r.Use(middleware.CORS)

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("OK"))
	})

	// Initialize handlers
	matchHandler := handlers.NewMatchHandler(services.Match)
	adminHandler := handlers.NewAdminHandler(lb, reg, mon, rooms)
	wsHandler := handlers.NewWebSocketHandler(hub, services, rooms)

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(middleware.Auth(services.Token))

			// Match routes
			r.Route("/matches/{matchId}", func(r chi.Router) {
				r.Get("/state", matchHandler.GetState)
				r.Get("/events", matchHandler.GetEvents)
			})

			// Operations routes
			r.Route("/admin", func(r chi.Router) {
				r.Use(middleware.RequireSuperAdmin)

				r.Get("/cluster", adminHandler.GetCluster)
				r.Get("/servers", adminHandler.GetServers)
				r.Get("/rooms", adminHandler.GetRooms)

				r.Get("/metrics", adminHandler.GetMetrics)
				r.Get("/metrics/matches/{matchId}", adminHandler.GetMatchMetrics)

				r.Get("/alerts", adminHandler.GetAlerts)
				r.Post("/alerts/{alertId}/resolve", adminHandler.ResolveAlert)
				r.Get("/thresholds", adminHandler.GetThresholds)
				r.Put("/thresholds", adminHandler.SetThresholds)

				r.Put("/balancer/strategy", adminHandler.SetStrategy)
				r.Put("/balancer/weights", adminHandler.SetWeight)
			})
		})

		// WebSocket endpoint authenticates via query token inside the
		// handler since browsers cannot set headers on upgrade requests.
		r.Get("/ws", wsHandler.Handle)
	})

	return r
}
