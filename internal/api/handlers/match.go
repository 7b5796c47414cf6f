package handlers

import (
	"errors"
	"net/http"

	"github.com/dom/league-match-engine/internal/domain"
	"github.com/dom/league-match-engine/internal/service"
	"github.com/go-chi/chi/v5"
)

// MatchHandler serves read access to live and recorded match data.
type MatchHandler struct {
	matches *service.MatchService
}

func NewMatchHandler(matches *service.MatchService) *MatchHandler {
	return &MatchHandler{matches: matches}
}

// GetState returns the live replicated state for a match.
func (h *MatchHandler) GetState(w http.ResponseWriter, r *http.Request) {
	matchID := chi.URLParam(r, "matchId")

	state, err := h.matches.MatchState(r.Context(), matchID)
	if err != nil {
		if errors.Is(err, domain.ErrMatchNotFound) {
			http.Error(w, "Match not found", http.StatusNotFound)
			return
		}
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, state)
}

// GetEvents returns the persisted events for a match, oldest first.
func (h *MatchHandler) GetEvents(w http.ResponseWriter, r *http.Request) {
	matchID := chi.URLParam(r, "matchId")

	events, err := h.matches.MatchEvents(r.Context(), matchID)
	if err != nil {
		if errors.Is(err, domain.ErrMatchNotFound) {
			http.Error(w, "Match not found", http.StatusNotFound)
			return
		}
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	if events == nil {
		events = []*domain.MatchEvent{}
	}
	writeJSON(w, events)
}
