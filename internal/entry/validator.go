// Package entry validates operator-entered match events and tracks the
// drafting sessions they are composed in.
package entry

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/dom/league-match-engine/internal/domain"
	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Draft is an event as the operator is composing it. Pointer fields
// distinguish "absent" from zero values.
type Draft struct {
	MatchID     string                 `json:"matchId"`
	EventType   string                 `json:"eventType"`
	TeamID      string                 `json:"teamId"`
	Minute      *int                   `json:"minute"`
	PlayerID    *string                `json:"playerId,omitempty"`
	ScorerID    *string                `json:"scorerId,omitempty"`
	PlayerInID  *string                `json:"playerInId,omitempty"`
	PlayerOutID *string                `json:"playerOutId,omitempty"`
	Details     map[string]interface{} `json:"details,omitempty"`
}

// Result is the outcome of validating a draft. Errors block submission;
// warnings and suggestions do not.
type Result struct {
	IsValid     bool     `json:"isValid"`
	Errors      []string `json:"errors"`
	Warnings    []string `json:"warnings"`
	Suggestions []string `json:"suggestions"`
}

const (
	// How far an entered minute may run ahead of the live clock before we
	// warn the operator.
	minuteAheadTolerance = 5
	// How far it may lag behind.
	minuteBehindTolerance = 10

	maxMatchMinute = 120
)

var knownEventTypes = map[domain.MatchEventType]bool{
	domain.EventTypeGoal:         true,
	domain.EventTypeAssist:       true,
	domain.EventTypeYellowCard:   true,
	domain.EventTypeRedCard:      true,
	domain.EventTypeSubstitution: true,
	domain.EventTypeInjury:       true,
	domain.EventTypeOffside:      true,
	domain.EventTypeCorner:       true,
	domain.EventTypeFoul:         true,
}

// Validator checks drafts structurally and against the live clock. The
// minute provider returns the current match minute, or false when this
// instance is not running the match clock.
type Validator struct {
	currentMinute func(matchID string) (int, bool)
}

func NewValidator(currentMinute func(matchID string) (int, bool)) *Validator {
	return &Validator{currentMinute: currentMinute}
}

// Validate runs every check and never short-circuits, so the operator sees
// the full list of problems at once.
func (v *Validator) Validate(d Draft) Result {
	res := Result{
		Errors:      []string{},
		Warnings:    []string{},
		Suggestions: []string{},
	}

	if d.MatchID == "" {
		res.Errors = append(res.Errors, "matchId is required")
	} else if _, err := uuid.Parse(d.MatchID); err != nil {
		res.Errors = append(res.Errors, "matchId is not a valid id")
	}

	eventType := domain.MatchEventType(d.EventType)
	switch {
	case d.EventType == "":
		res.Errors = append(res.Errors, "eventType is required")
	case !knownEventTypes[eventType]:
		res.Errors = append(res.Errors, fmt.Sprintf("unknown eventType %q", d.EventType))
		res.Suggestions = append(res.Suggestions, "valid event types: "+strings.Join(eventTypeNames(), ", "))
	}

	if d.TeamID == "" {
		res.Errors = append(res.Errors, "teamId is required")
	} else if _, err := uuid.Parse(d.TeamID); err != nil {
		res.Errors = append(res.Errors, "teamId is not a valid id")
	}

	switch {
	case d.Minute == nil:
		res.Errors = append(res.Errors, "minute is required")
	case *d.Minute < 0 || *d.Minute > maxMatchMinute:
		res.Errors = append(res.Errors, fmt.Sprintf("minute must be between 0 and %d", maxMatchMinute))
	}

	v.checkEventFields(eventType, d, &res)

	if d.Minute != nil && d.MatchID != "" && v.currentMinute != nil {
		if live, ok := v.currentMinute(d.MatchID); ok {
			switch {
			case *d.Minute > live+minuteAheadTolerance:
				res.Warnings = append(res.Warnings,
					fmt.Sprintf("minute %d is ahead of the live clock (%d')", *d.Minute, live))
			case *d.Minute < live-minuteBehindTolerance:
				res.Warnings = append(res.Warnings,
					fmt.Sprintf("minute %d is well behind the live clock (%d')", *d.Minute, live))
				res.Suggestions = append(res.Suggestions,
					"confirm this is a late entry for an earlier incident")
			}
		}
	}

	res.IsValid = len(res.Errors) == 0
	return res
}

// checkEventFields enforces the per-type required player references.
func (v *Validator) checkEventFields(eventType domain.MatchEventType, d Draft, res *Result) {
	requirePlayer := func(field string, id *string) {
		if id == nil || *id == "" {
			res.Errors = append(res.Errors, fmt.Sprintf("%s is required for %s events", field, eventType))
			return
		}
		if _, err := uuid.Parse(*id); err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("%s is not a valid id", field))
		}
	}

	switch eventType {
	case domain.EventTypeGoal:
		requirePlayer("playerId", d.PlayerID)
	case domain.EventTypeAssist:
		requirePlayer("playerId", d.PlayerID)
		requirePlayer("scorerId", d.ScorerID)
		if d.PlayerID != nil && d.ScorerID != nil && *d.PlayerID == *d.ScorerID && *d.PlayerID != "" {
			res.Errors = append(res.Errors, "playerId and scorerId must differ")
		}
	case domain.EventTypeYellowCard, domain.EventTypeRedCard:
		requirePlayer("playerId", d.PlayerID)
	case domain.EventTypeInjury:
		requirePlayer("playerId", d.PlayerID)
	case domain.EventTypeSubstitution:
		requirePlayer("playerInId", d.PlayerInID)
		requirePlayer("playerOutId", d.PlayerOutID)
		if d.PlayerInID != nil && d.PlayerOutID != nil && *d.PlayerInID == *d.PlayerOutID && *d.PlayerInID != "" {
			res.Errors = append(res.Errors, "playerInId and playerOutId must differ")
		}
	}
}

// ToEvent converts a validated draft into the durable record. Callers must
// only pass drafts whose Validate result was IsValid.
func (d Draft) ToEvent(enteredBy uuid.UUID) (*domain.MatchEvent, error) {
	matchID, err := uuid.Parse(d.MatchID)
	if err != nil {
		return nil, fmt.Errorf("parse matchId: %w", err)
	}
	teamID, err := uuid.Parse(d.TeamID)
	if err != nil {
		return nil, fmt.Errorf("parse teamId: %w", err)
	}
	if d.Minute == nil {
		return nil, fmt.Errorf("minute is missing")
	}

	event := &domain.MatchEvent{
		ID:        uuid.New(),
		MatchID:   matchID,
		TeamID:    teamID,
		EventType: domain.MatchEventType(d.EventType),
		Minute:    *d.Minute,
		EnteredBy: enteredBy,
	}
	if event.PlayerID, err = parseOptionalID(d.PlayerID); err != nil {
		return nil, fmt.Errorf("parse playerId: %w", err)
	}
	if event.PlayerInID, err = parseOptionalID(d.PlayerInID); err != nil {
		return nil, fmt.Errorf("parse playerInId: %w", err)
	}
	if event.PlayerOutID, err = parseOptionalID(d.PlayerOutID); err != nil {
		return nil, fmt.Errorf("parse playerOutId: %w", err)
	}

	details := make(map[string]interface{}, len(d.Details)+1)
	for k, v := range d.Details {
		details[k] = v
	}
	if d.ScorerID != nil && *d.ScorerID != "" {
		if _, err := uuid.Parse(*d.ScorerID); err != nil {
			return nil, fmt.Errorf("parse scorerId: %w", err)
		}
		details["scorerId"] = *d.ScorerID
	}
	if len(details) > 0 {
		raw, err := json.Marshal(details)
		if err != nil {
			return nil, fmt.Errorf("marshal details: %w", err)
		}
		event.Details = datatypes.JSON(raw)
	}
	return event, nil
}

func parseOptionalID(s *string) (*uuid.UUID, error) {
	if s == nil || *s == "" {
		return nil, nil
	}
	id, err := uuid.Parse(*s)
	if err != nil {
		return nil, err
	}
	return &id, nil
}

func eventTypeNames() []string {
	names := make([]string, 0, len(knownEventTypes))
	for t := range knownEventTypes {
		names = append(names, string(t))
	}
	sort.Strings(names)
	return names
}
