package service

import (
	"context"
	"log"

	"github.com/dom/league-match-engine/internal/domain"
)

// StatsNotifier tells the league's statistics pipeline about a recorded
// event. Notification is fire-and-forget: a failure never blocks or fails
// the event submission itself.
type StatsNotifier interface {
	NotifyEventRecorded(ctx context.Context, event *domain.MatchEvent)
}

// LogStatsNotifier is the default notifier when no stats pipeline is wired.
type LogStatsNotifier struct{}

func (LogStatsNotifier) NotifyEventRecorded(_ context.Context, event *domain.MatchEvent) {
	log.Printf("stats: event %s (%s) recorded for match %s at minute %d",
		event.ID, event.EventType, event.MatchID, event.Minute)
}
