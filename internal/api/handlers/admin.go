package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/dom/league-match-engine/internal/balancer"
	"github.com/dom/league-match-engine/internal/domain"
	"github.com/dom/league-match-engine/internal/monitor"
	"github.com/dom/league-match-engine/internal/registry"
	"github.com/dom/league-match-engine/internal/room"
	"github.com/go-chi/chi/v5"
)

// AdminHandler exposes the fleet, load, and health surface for operators.
type AdminHandler struct {
	balancer *balancer.Balancer
	registry *registry.Registry
	monitor  *monitor.Monitor
	rooms    *room.Manager
}

func NewAdminHandler(lb *balancer.Balancer, reg *registry.Registry, mon *monitor.Monitor, rooms *room.Manager) *AdminHandler {
	return &AdminHandler{balancer: lb, registry: reg, monitor: mon, rooms: rooms}
}

// GetCluster returns the load distribution report.
func (h *AdminHandler) GetCluster(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.balancer.Stats())
}

type serverEntry struct {
	registry.ServerInfo
	Healthy bool `json:"healthy"`
}

// GetServers lists every known server with its health flag.
func (h *AdminHandler) GetServers(w http.ResponseWriter, r *http.Request) {
	servers := h.registry.Servers()
	out := make([]serverEntry, 0, len(servers))
	for _, info := range servers {
		out = append(out, serverEntry{
			ServerInfo: info,
			Healthy:    !h.registry.IsStale(info.LastHeartbeat),
		})
	}
	writeJSON(w, out)
}

// GetMetrics returns this instance's sample window, freshest reading first.
func (h *AdminHandler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	latest, ok := h.monitor.Latest()
	writeJSON(w, map[string]interface{}{
		"hasLatest": ok,
		"latest":    latest,
		"samples":   h.monitor.Samples(),
	})
}

// GetMatchMetrics returns the per-match activity samples.
func (h *AdminHandler) GetMatchMetrics(w http.ResponseWriter, r *http.Request) {
	matchID := chi.URLParam(r, "matchId")
	writeJSON(w, h.monitor.MatchSamples(matchID))
}

// GetAlerts lists alerts; pass ?includeResolved=true for history.
func (h *AdminHandler) GetAlerts(w http.ResponseWriter, r *http.Request) {
	includeResolved := r.URL.Query().Get("includeResolved") == "true"
	writeJSON(w, h.monitor.Alerts(includeResolved))
}

// ResolveAlert marks an alert handled.
func (h *AdminHandler) ResolveAlert(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "alertId")
	if err := h.monitor.ResolveAlert(id); err != nil {
		if errors.Is(err, domain.ErrAlertNotFound) {
			http.Error(w, "Alert not found", http.StatusNotFound)
			return
		}
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type strategyRequest struct {
	Strategy balancer.Strategy `json:"strategy"`
}

// SetStrategy switches the balancer policy at runtime.
func (h *AdminHandler) SetStrategy(w http.ResponseWriter, r *http.Request) {
	var req strategyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if err := h.balancer.SetStrategy(req.Strategy); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, map[string]interface{}{"strategy": req.Strategy})
}

type weightRequest struct {
	ServerID string  `json:"serverId"`
	Weight   float64 `json:"weight"`
}

// SetWeight assigns a server weight for the weighted strategy.
func (h *AdminHandler) SetWeight(w http.ResponseWriter, r *http.Request) {
	var req weightRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.ServerID == "" {
		http.Error(w, "serverId is required", http.StatusBadRequest)
		return
	}
	if err := h.balancer.SetServerWeight(req.ServerID, req.Weight); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, h.balancer.Weights())
}

// SetThresholds replaces the alerting thresholds.
func (h *AdminHandler) SetThresholds(w http.ResponseWriter, r *http.Request) {
	var thresholds monitor.Thresholds
	if err := json.NewDecoder(r.Body).Decode(&thresholds); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	h.monitor.SetThresholds(thresholds)
	writeJSON(w, h.monitor.Thresholds())
}

// GetThresholds returns the active alerting thresholds.
func (h *AdminHandler) GetThresholds(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.monitor.Thresholds())
}

// GetRooms lists the live rooms on this instance with their counters.
func (h *AdminHandler) GetRooms(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.rooms.AllAnalytics())
}

func writeJSON(w http.ResponseWriter, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(payload)
}
