package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// MatchStatus is the lifecycle state of a match. Completion lives here, not
// in MatchPeriod: a completed match has no current period.
type MatchStatus string

const (
	MatchStatusScheduled  MatchStatus = "scheduled"
	MatchStatusInProgress MatchStatus = "in_progress"
	MatchStatusPaused     MatchStatus = "paused"
	MatchStatusCompleted  MatchStatus = "completed"
	MatchStatusCancelled  MatchStatus = "cancelled"
)

// MatchPeriod is a named phase of match time.
type MatchPeriod string

const (
	PeriodFirstHalf  MatchPeriod = "first_half"
	PeriodHalftime   MatchPeriod = "halftime"
	PeriodSecondHalf MatchPeriod = "second_half"
	PeriodExtraTime  MatchPeriod = "extra_time"
	PeriodPenalties  MatchPeriod = "penalties"
)

type MatchEventType string

const (
	EventTypeGoal         MatchEventType = "goal"
	EventTypeAssist       MatchEventType = "assist"
	EventTypeYellowCard   MatchEventType = "yellow_card"
	EventTypeRedCard      MatchEventType = "red_card"
	EventTypeSubstitution MatchEventType = "substitution"
	EventTypeInjury       MatchEventType = "injury"
	EventTypeOffside      MatchEventType = "offside"
	EventTypeCorner       MatchEventType = "corner"
	EventTypeFoul         MatchEventType = "foul"
)

// Match is the durable record, the source of truth the live engine state
// must be rebuildable from.
type Match struct {
	ID           uuid.UUID   `json:"id" gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	TournamentID *uuid.UUID  `json:"tournamentId" gorm:"type:uuid;index"`
	HomeTeamID   uuid.UUID   `json:"homeTeamId" gorm:"type:uuid;not null"`
	AwayTeamID   uuid.UUID   `json:"awayTeamId" gorm:"type:uuid;not null"`
	Status       MatchStatus `json:"status" gorm:"type:varchar(20);not null;default:'scheduled'"`
	HomeScore    int         `json:"homeScore" gorm:"not null;default:0"`
	AwayScore    int         `json:"awayScore" gorm:"not null;default:0"`
	Venue        string      `json:"venue"`
	ScheduledAt  time.Time   `json:"scheduledAt"`
	StartedAt    *time.Time  `json:"startedAt"`
	CompletedAt  *time.Time  `json:"completedAt"`
	CreatedAt    time.Time   `json:"createdAt"`
	UpdatedAt    time.Time   `json:"updatedAt"`

	// Relations
	HomeTeam   *Team        `json:"homeTeam,omitempty" gorm:"foreignKey:HomeTeamID"`
	AwayTeam   *Team        `json:"awayTeam,omitempty" gorm:"foreignKey:AwayTeamID"`
	Tournament *Tournament  `json:"tournament,omitempty" gorm:"foreignKey:TournamentID"`
	Events     []MatchEvent `json:"events,omitempty" gorm:"foreignKey:MatchID"`
}

// MatchEvent is an operator-entered event (goal, card, substitution, ...).
type MatchEvent struct {
	ID          uuid.UUID      `json:"id" gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	MatchID     uuid.UUID      `json:"matchId" gorm:"type:uuid;index;not null"`
	TeamID      uuid.UUID      `json:"teamId" gorm:"type:uuid;not null"`
	EventType   MatchEventType `json:"eventType" gorm:"type:varchar(20);not null"`
	Minute      int            `json:"minute" gorm:"not null"`
	PlayerID    *uuid.UUID     `json:"playerId" gorm:"type:uuid"`
	PlayerInID  *uuid.UUID     `json:"playerInId" gorm:"type:uuid"`
	PlayerOutID *uuid.UUID     `json:"playerOutId" gorm:"type:uuid"`
	EnteredBy   uuid.UUID      `json:"enteredBy" gorm:"type:uuid;not null"`
	Details     datatypes.JSON `json:"details" gorm:"type:jsonb"`
	CreatedAt   time.Time      `json:"createdAt"`
}
