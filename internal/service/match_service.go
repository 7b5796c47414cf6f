package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/dom/league-match-engine/internal/domain"
	"github.com/dom/league-match-engine/internal/engine"
	"github.com/dom/league-match-engine/internal/entry"
	"github.com/dom/league-match-engine/internal/monitor"
	"github.com/dom/league-match-engine/internal/replication"
	"github.com/dom/league-match-engine/internal/repository"
	"github.com/dom/league-match-engine/internal/room"
	"github.com/google/uuid"
)

// Server→client event names pushed through the broadcaster.
const (
	EventMatchState       = "match-state"
	EventMatchStateUpdate = "match-state-update"
	EventMatchEvent       = "match-event"
	EventTimerUpdate      = "timer-update"
	EventPeriodTransition = "period-transition"
	EventMatchCompleted   = "match-completed"
	EventStatusChange     = "match-status-change"
)

// Broadcaster pushes events to the realtime channels. The websocket hub
// implements it; a nil-safe noop is used in tests.
type Broadcaster interface {
	BroadcastToMatch(matchID, event string, payload interface{})
	BroadcastToTournament(tournamentID, event string, payload interface{})
}

type noopBroadcaster struct{}

func (noopBroadcaster) BroadcastToMatch(string, string, interface{})      {}
func (noopBroadcaster) BroadcastToTournament(string, string, interface{}) {}

// TimerAction names a timer control operation.
type TimerAction string

const (
	TimerStart         TimerAction = "start"
	TimerPause         TimerAction = "pause"
	TimerResume        TimerAction = "resume"
	TimerStop          TimerAction = "stop"
	TimerAddInjury     TimerAction = "add_injury_time"
	TimerEndInjury     TimerAction = "end_injury_time"
	TimerSkipPeriod    TimerAction = "skip_period"
	TimerSetPeriodFull TimerAction = "set_period_duration"
)

// TimerControl is the payload for a timer action. Only the fields the
// action needs are read.
type TimerControl struct {
	Action         TimerAction        `json:"action"`
	Minutes        int                `json:"minutes,omitempty"`
	Period         domain.MatchPeriod `json:"period,omitempty"`
	Reason         string             `json:"reason,omitempty"`
	PeriodDuration time.Duration      `json:"periodDuration,omitempty"`
}

// MatchService orchestrates the live-match data flow: clock control, event
// submission, replication, and fan-out.
type MatchService struct {
	repos      *repository.Repositories
	replicator *replication.Replicator
	engine     *engine.Engine
	rooms      *room.Manager
	sessions   *entry.Sessions
	validator  *entry.Validator
	notifier   StatsNotifier
	perf       *monitor.Monitor
	broadcast  Broadcaster
}

func NewMatchService(
	repos *repository.Repositories,
	replicator *replication.Replicator,
	eng *engine.Engine,
	rooms *room.Manager,
	sessions *entry.Sessions,
	validator *entry.Validator,
	notifier StatsNotifier,
	perf *monitor.Monitor,
) *MatchService {
	s := &MatchService{
		repos:      repos,
		replicator: replicator,
		engine:     eng,
		rooms:      rooms,
		sessions:   sessions,
		validator:  validator,
		notifier:   notifier,
		perf:       perf,
		broadcast:  noopBroadcaster{},
	}

	eng.SetOnTimerUpdate(s.onTimerUpdate)
	eng.SetOnPeriodTransition(s.onPeriodTransition)
	eng.SetOnMatchCompleted(s.onMatchCompleted)
	replicator.SetOnAdopt(s.onRemoteState)
	replicator.SetOnRemove(func(matchID string) {
		s.broadcast.BroadcastToMatch(matchID, EventMatchCompleted, map[string]interface{}{
			"matchId": matchID,
		})
	})
	return s
}

// SetBroadcaster installs the realtime fan-out. Wired after the hub exists
// because the hub needs the services first.
func (s *MatchService) SetBroadcaster(b Broadcaster) {
	if b != nil {
		s.broadcast = b
	}
}

// MatchState returns the live replicated state for a match, regardless of
// which instance runs its clock. Falls back to a snapshot built from the
// durable record when nothing live exists.
func (s *MatchService) MatchState(ctx context.Context, matchID string) (*replication.MatchState, error) {
	if state := s.replicator.Get(ctx, matchID); state != nil {
		return state, nil
	}

	id, err := uuid.Parse(matchID)
	if err != nil {
		return nil, domain.ErrMatchNotFound
	}
	match, err := s.getMatch(ctx, id)
	if err != nil {
		return nil, err
	}
	return &replication.MatchState{
		MatchID:     matchID,
		Status:      match.Status,
		HomeScore:   match.HomeScore,
		AwayScore:   match.AwayScore,
		LastUpdated: match.UpdatedAt,
	}, nil
}

// ControlTimer applies a clock action for a match running on this instance.
func (s *MatchService) ControlTimer(ctx context.Context, matchID string, control TimerControl) (engine.Snapshot, error) {
	switch control.Action {
	case TimerStart:
		return s.startMatch(ctx, matchID)
	case TimerPause:
		snap, err := s.engine.Pause(matchID)
		if err != nil {
			return snap, err
		}
		s.pushClockState(ctx, snap)
		return snap, nil
	case TimerResume:
		snap, err := s.engine.Resume(matchID)
		if err != nil {
			return snap, err
		}
		s.pushClockState(ctx, snap)
		return snap, nil
	case TimerStop:
		// Completion flows through the engine callback.
		return s.engine.StopMatch(matchID)
	case TimerAddInjury:
		if control.Minutes <= 0 {
			return engine.Snapshot{}, fmt.Errorf("injury time minutes must be positive")
		}
		snap, err := s.engine.AddInjuryTime(matchID, control.Minutes)
		if err != nil {
			return snap, err
		}
		s.pushClockState(ctx, snap)
		return snap, nil
	case TimerEndInjury:
		snap, err := s.engine.EndInjuryTime(matchID)
		if err != nil {
			return snap, err
		}
		s.pushClockState(ctx, snap)
		return snap, nil
	case TimerSkipPeriod:
		if control.Reason == "" {
			return engine.Snapshot{}, fmt.Errorf("a reason is required to skip periods")
		}
		return s.engine.SkipToPeriod(matchID, control.Period, control.Reason)
	case TimerSetPeriodFull:
		if control.PeriodDuration <= 0 {
			return engine.Snapshot{}, fmt.Errorf("period duration must be positive")
		}
		if err := s.engine.SetPeriodDuration(matchID, control.PeriodDuration); err != nil {
			return engine.Snapshot{}, err
		}
		return s.engine.Snapshot(matchID)
	default:
		return engine.Snapshot{}, fmt.Errorf("unknown timer action %q", control.Action)
	}
}

// startMatch brings a scheduled match live: durable status first, then the
// clock, then replication.
func (s *MatchService) startMatch(ctx context.Context, matchID string) (engine.Snapshot, error) {
	id, err := uuid.Parse(matchID)
	if err != nil {
		return engine.Snapshot{}, domain.ErrMatchNotFound
	}
	match, err := s.getMatch(ctx, id)
	if err != nil {
		return engine.Snapshot{}, err
	}
	if match.Status == domain.MatchStatusCompleted || match.Status == domain.MatchStatusCancelled {
		return engine.Snapshot{}, domain.ErrMatchCompleted
	}

	snap, err := s.engine.StartMatch(matchID, match.HomeScore, match.AwayScore)
	if err != nil {
		return snap, err
	}
	if err := s.updateStatus(ctx, id, domain.MatchStatusInProgress); err != nil {
		log.Printf("service: match %s status update failed: %v", matchID, err)
	}

	s.pushClockState(ctx, snap)
	s.broadcast.BroadcastToMatch(matchID, EventStatusChange, map[string]interface{}{
		"matchId": matchID,
		"status":  domain.MatchStatusInProgress,
	})
	return snap, nil
}

// ChangeStatus is the operator override for the durable lifecycle state.
func (s *MatchService) ChangeStatus(ctx context.Context, matchID string, status domain.MatchStatus) error {
	switch status {
	case domain.MatchStatusScheduled, domain.MatchStatusInProgress,
		domain.MatchStatusPaused, domain.MatchStatusCompleted, domain.MatchStatusCancelled:
	default:
		return fmt.Errorf("unknown match status %q", status)
	}

	id, err := uuid.Parse(matchID)
	if err != nil {
		return domain.ErrMatchNotFound
	}
	if err := s.updateStatus(ctx, id, status); err != nil {
		return err
	}

	if status == domain.MatchStatusCompleted || status == domain.MatchStatusCancelled {
		if _, err := s.engine.StopMatch(matchID); err == nil {
			// Completion fan-out already handled by the engine callback.
			return nil
		}
		if err := s.replicator.Remove(ctx, matchID); err != nil {
			log.Printf("service: removing state for %s failed: %v", matchID, err)
		}
	} else {
		if _, err := s.replicator.Update(ctx, matchID, func(state *replication.MatchState) {
			state.Status = status
		}); err != nil {
			log.Printf("service: replicating status for %s failed: %v", matchID, err)
		}
	}

	s.broadcast.BroadcastToMatch(matchID, EventStatusChange, map[string]interface{}{
		"matchId": matchID,
		"status":  status,
	})
	return nil
}

// StartEntrySession opens an event drafting session for an operator, tagged
// with the room role they hold at the time.
func (s *MatchService) StartEntrySession(userID, matchID string, role domain.RoomRole) *entry.Session {
	return s.sessions.Start(userID, matchID, role)
}

// UpdateEntryDraft stores the draft and returns live validation feedback.
func (s *MatchService) UpdateEntryDraft(sessionID string, draft entry.Draft) (entry.Result, error) {
	return s.sessions.UpdateDraft(sessionID, draft)
}

// EndEntrySession closes the session and returns its summary.
func (s *MatchService) EndEntrySession(sessionID string) (*entry.Session, error) {
	return s.sessions.End(sessionID)
}

// ValidateDraft checks a draft without touching any session.
func (s *MatchService) ValidateDraft(draft entry.Draft) entry.Result {
	return s.validator.Validate(draft)
}

// SubmitEvent runs the full submission pipeline: validate, persist, update
// the live state, replicate, and fan out. A validation failure stops the
// pipeline before any side effect.
func (s *MatchService) SubmitEvent(ctx context.Context, actor *Identity, sessionID string, draft entry.Draft) (*domain.MatchEvent, entry.Result, error) {
	started := time.Now()

	res := s.validator.Validate(draft)
	if !res.IsValid {
		if sessionID != "" {
			if _, err := s.sessions.UpdateDraft(sessionID, draft); err != nil {
				log.Printf("service: draft update for session %s failed: %v", sessionID, err)
			}
		}
		return nil, res, domain.ErrValidationFailed
	}

	enteredBy, err := uuid.Parse(actor.UserID)
	if err != nil {
		return nil, res, fmt.Errorf("parse actor id: %w", err)
	}
	event, err := draft.ToEvent(enteredBy)
	if err != nil {
		return nil, res, err
	}

	match, err := s.getMatch(ctx, event.MatchID)
	if err != nil {
		return nil, res, err
	}

	dbStart := time.Now()
	if err := s.repos.MatchEvent.Create(ctx, event); err != nil {
		return nil, res, fmt.Errorf("persist event: %w", err)
	}
	s.perf.RecordDBLatency(time.Since(dbStart))

	homeScore, awayScore := match.HomeScore, match.AwayScore
	if event.EventType == domain.EventTypeGoal {
		homeGoal := event.TeamID == match.HomeTeamID
		if snap, err := s.engine.RecordGoal(event.MatchID.String(), homeGoal); err == nil {
			homeScore, awayScore = snap.HomeScore, snap.AwayScore
		} else {
			// Clock runs elsewhere or not at all; score from the record.
			if homeGoal {
				homeScore++
			} else {
				awayScore++
			}
		}
		if err := s.repos.Match.UpdateScore(ctx, event.MatchID, homeScore, awayScore); err != nil {
			log.Printf("service: score update for %s failed: %v", event.MatchID, err)
		}
	}

	matchID := event.MatchID.String()
	now := time.Now()
	if _, err := s.replicator.Update(ctx, matchID, func(state *replication.MatchState) {
		state.HomeScore = homeScore
		state.AwayScore = awayScore
		state.LastEventTime = &now
		state.Events = append(state.Events, replication.EventRecord{
			ID:        event.ID.String(),
			EventType: event.EventType,
			TeamID:    event.TeamID.String(),
			Minute:    event.Minute,
			PlayerID:  optionalIDString(event.PlayerID),
			Timestamp: now,
		})
	}); err != nil {
		log.Printf("service: replicating event for %s failed: %v", matchID, err)
	}

	if sessionID != "" {
		s.sessions.RecordSubmission(sessionID)
	}
	s.rooms.RecordEvent(matchID)

	go s.notifier.NotifyEventRecorded(context.WithoutCancel(ctx), event)

	payload := map[string]interface{}{
		"matchId":   matchID,
		"event":     event,
		"homeScore": homeScore,
		"awayScore": awayScore,
	}
	s.broadcast.BroadcastToMatch(matchID, EventMatchEvent, payload)
	if match.TournamentID != nil {
		s.broadcast.BroadcastToTournament(match.TournamentID.String(), EventMatchEvent, payload)
	}

	s.perf.RecordEvent()
	s.perf.RecordResponseTime(time.Since(started))
	return event, res, nil
}

// MatchEvents lists the persisted events for a match, oldest first.
func (s *MatchService) MatchEvents(ctx context.Context, matchID string) ([]*domain.MatchEvent, error) {
	id, err := uuid.Parse(matchID)
	if err != nil {
		return nil, domain.ErrMatchNotFound
	}
	return s.repos.MatchEvent.GetByMatchID(ctx, id)
}

// CurrentMinute exposes the live clock minute for validation, when this
// instance runs the match clock.
func (s *MatchService) CurrentMinute(matchID string) (int, bool) {
	snap, err := s.engine.Snapshot(matchID)
	if err != nil {
		return 0, false
	}
	return snap.CurrentMinute, true
}

// onTimerUpdate fans out every tick and replicates when the displayed
// minute moves, so followers track minutes without per-second store writes.
func (s *MatchService) onTimerUpdate(snap engine.Snapshot) {
	s.broadcast.BroadcastToMatch(snap.MatchID, EventTimerUpdate, snap)

	ctx := context.Background()
	if state := s.replicator.Get(ctx, snap.MatchID); state != nil && state.CurrentMinute == snap.CurrentMinute {
		return
	}
	s.pushClockState(ctx, snap)
}

func (s *MatchService) onPeriodTransition(snap engine.Snapshot, from domain.MatchPeriod) {
	s.pushClockState(context.Background(), snap)
	s.broadcast.BroadcastToMatch(snap.MatchID, EventPeriodTransition, map[string]interface{}{
		"matchId": snap.MatchID,
		"from":    from,
		"to":      snap.Period,
		"minute":  snap.CurrentMinute,
	})
}

// onMatchCompleted finalizes the durable record and retires the live state.
func (s *MatchService) onMatchCompleted(snap engine.Snapshot) {
	ctx := context.Background()

	id, err := uuid.Parse(snap.MatchID)
	if err == nil {
		if err := s.updateStatus(ctx, id, domain.MatchStatusCompleted); err != nil {
			log.Printf("service: completing match %s failed: %v", snap.MatchID, err)
		}
		if err := s.repos.Match.UpdateScore(ctx, id, snap.HomeScore, snap.AwayScore); err != nil {
			log.Printf("service: final score for %s failed: %v", snap.MatchID, err)
		}
	}

	if err := s.replicator.Remove(ctx, snap.MatchID); err != nil {
		log.Printf("service: removing state for %s failed: %v", snap.MatchID, err)
	}
	s.perf.DropMatch(snap.MatchID)

	s.broadcast.BroadcastToMatch(snap.MatchID, EventMatchCompleted, map[string]interface{}{
		"matchId":   snap.MatchID,
		"homeScore": snap.HomeScore,
		"awayScore": snap.AwayScore,
	})
}

// onRemoteState fans out states adopted from other instances, so followers
// connected here see matches running elsewhere. When this instance runs the
// match clock, the adopted score is folded into it; otherwise the next clock
// push would overwrite a goal accepted elsewhere.
func (s *MatchService) onRemoteState(state *replication.MatchState) {
	if err := s.engine.SetScore(state.MatchID, state.HomeScore, state.AwayScore); err != nil && !errors.Is(err, domain.ErrClockNotFound) {
		log.Printf("service: folding remote score for %s failed: %v", state.MatchID, err)
	}
	s.broadcast.BroadcastToMatch(state.MatchID, EventMatchStateUpdate, state)
}

// pushClockState folds an engine snapshot into the replicated state.
func (s *MatchService) pushClockState(ctx context.Context, snap engine.Snapshot) {
	if _, err := s.replicator.Update(ctx, snap.MatchID, func(state *replication.MatchState) {
		state.Status = snap.Status
		state.CurrentPeriod = snap.Period
		state.CurrentMinute = snap.CurrentMinute
		state.HomeScore = snap.HomeScore
		state.AwayScore = snap.AwayScore
		state.TimerRunning = snap.TimerRunning
		state.InjuryTime = snap.InjuryTime
	}); err != nil {
		log.Printf("service: replicating clock for %s failed: %v", snap.MatchID, err)
	}
}

func (s *MatchService) getMatch(ctx context.Context, id uuid.UUID) (*domain.Match, error) {
	dbStart := time.Now()
	match, err := s.repos.Match.GetByID(ctx, id)
	s.perf.RecordDBLatency(time.Since(dbStart))
	return match, err
}

func (s *MatchService) updateStatus(ctx context.Context, id uuid.UUID, status domain.MatchStatus) error {
	dbStart := time.Now()
	err := s.repos.Match.UpdateStatus(ctx, id, status)
	s.perf.RecordDBLatency(time.Since(dbStart))
	return err
}

func optionalIDString(id *uuid.UUID) string {
	if id == nil {
		return ""
	}
	return id.String()
}
