package service

import (
	"github.com/dom/league-match-engine/internal/config"
	"github.com/dom/league-match-engine/internal/engine"
	"github.com/dom/league-match-engine/internal/entry"
	"github.com/dom/league-match-engine/internal/monitor"
	"github.com/dom/league-match-engine/internal/replication"
	"github.com/dom/league-match-engine/internal/repository"
	"github.com/dom/league-match-engine/internal/room"
)

type Services struct {
	Token *TokenService
	Match *MatchService
}

// NewServices wires the orchestration layer over the live-state components.
// The broadcaster is attached afterwards, once the websocket hub exists.
func NewServices(
	repos *repository.Repositories,
	cfg *config.Config,
	replicator *replication.Replicator,
	eng *engine.Engine,
	rooms *room.Manager,
	sessions *entry.Sessions,
	validator *entry.Validator,
	notifier StatsNotifier,
	perf *monitor.Monitor,
) *Services {
	if notifier == nil {
		notifier = LogStatsNotifier{}
	}
	return &Services{
		Token: NewTokenService(cfg),
		Match: NewMatchService(repos, replicator, eng, rooms, sessions, validator, notifier, perf),
	}
}
