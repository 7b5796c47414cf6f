package replication

import (
	"time"

	"github.com/dom/league-match-engine/internal/domain"
)

// MatchState is the live, replicated snapshot of one match. The durable
// Match record is the source of truth; this is the working copy every
// instance keeps in sync through the coordination store.
//
// Version increases by exactly one on every accepted write and never
// decreases once adopted. Only the instance performing a write increments
// it; everyone else adopts wholesale.
type MatchState struct {
	MatchID       string             `json:"matchId"`
	Status        domain.MatchStatus `json:"status"`
	CurrentPeriod domain.MatchPeriod `json:"currentPeriod"`
	CurrentMinute int                `json:"currentMinute"`
	HomeScore     int                `json:"homeScore"`
	AwayScore     int                `json:"awayScore"`
	Events        []EventRecord      `json:"events"`
	LastEventTime *time.Time         `json:"lastEventTime,omitempty"`
	TimerRunning  bool               `json:"isTimerRunning"`
	InjuryTime    int                `json:"injuryTime"`
	ServerID      string             `json:"serverId"`
	Version       int64              `json:"version"`
	LastUpdated   time.Time          `json:"lastUpdated"`
}

// EventRecord is the lightweight event entry carried inside the replicated
// snapshot. The full MatchEvent row lives in the durable store.
type EventRecord struct {
	ID        string                `json:"id"`
	EventType domain.MatchEventType `json:"eventType"`
	TeamID    string                `json:"teamId"`
	Minute    int                   `json:"minute"`
	PlayerID  string                `json:"playerId,omitempty"`
	Timestamp time.Time             `json:"timestamp"`
}

// Clone returns a deep copy so callers can hand states across goroutines.
func (s *MatchState) Clone() *MatchState {
	if s == nil {
		return nil
	}
	copied := *s
	if s.Events != nil {
		copied.Events = make([]EventRecord, len(s.Events))
		copy(copied.Events, s.Events)
	}
	if s.LastEventTime != nil {
		t := *s.LastEventTime
		copied.LastEventTime = &t
	}
	return &copied
}
