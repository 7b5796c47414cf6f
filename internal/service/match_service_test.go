package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/dom/league-match-engine/internal/coordination"
	"github.com/dom/league-match-engine/internal/domain"
	"github.com/dom/league-match-engine/internal/engine"
	"github.com/dom/league-match-engine/internal/entry"
	"github.com/dom/league-match-engine/internal/monitor"
	"github.com/dom/league-match-engine/internal/replication"
	"github.com/dom/league-match-engine/internal/repository"
	"github.com/dom/league-match-engine/internal/room"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubMatchRepo struct {
	mu       sync.Mutex
	match    *domain.Match
	statuses []domain.MatchStatus
	scores   [][2]int
}

func (f *stubMatchRepo) GetByID(_ context.Context, id uuid.UUID) (*domain.Match, error) {
	if f.match == nil || f.match.ID != id {
		return nil, domain.ErrMatchNotFound
	}
	copied := *f.match
	return &copied, nil
}

func (f *stubMatchRepo) GetWithDetails(ctx context.Context, id uuid.UUID) (*domain.Match, error) {
	return f.GetByID(ctx, id)
}

func (f *stubMatchRepo) UpdateStatus(_ context.Context, _ uuid.UUID, status domain.MatchStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses = append(f.statuses, status)
	f.match.Status = status
	return nil
}

func (f *stubMatchRepo) UpdateScore(_ context.Context, _ uuid.UUID, home, away int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scores = append(f.scores, [2]int{home, away})
	f.match.HomeScore, f.match.AwayScore = home, away
	return nil
}

type stubEventRepo struct {
	mu     sync.Mutex
	events []*domain.MatchEvent
}

func (f *stubEventRepo) Create(_ context.Context, event *domain.MatchEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
	return nil
}

func (f *stubEventRepo) GetByMatchID(_ context.Context, matchID uuid.UUID) ([]*domain.MatchEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*domain.MatchEvent
	for _, e := range f.events {
		if e.MatchID == matchID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *stubEventRepo) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.events)
}

type recordingBroadcaster struct {
	mu         sync.Mutex
	match      []string
	tournament []string
}

func (b *recordingBroadcaster) BroadcastToMatch(_, event string, _ interface{}) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.match = append(b.match, event)
}

func (b *recordingBroadcaster) BroadcastToTournament(_, event string, _ interface{}) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tournament = append(b.tournament, event)
}

func (b *recordingBroadcaster) matchEvents() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.match...)
}

type fixture struct {
	svc        *MatchService
	matchRepo  *stubMatchRepo
	eventRepo  *stubEventRepo
	broadcast  *recordingBroadcaster
	replicator *replication.Replicator
	match      *domain.Match
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	tournamentID := uuid.New()
	match := &domain.Match{
		ID:           uuid.New(),
		TournamentID: &tournamentID,
		HomeTeamID:   uuid.New(),
		AwayTeamID:   uuid.New(),
		Status:       domain.MatchStatusScheduled,
	}
	matchRepo := &stubMatchRepo{match: match}
	eventRepo := &stubEventRepo{}
	repos := &repository.Repositories{Match: matchRepo, MatchEvent: eventRepo}

	replicator := replication.NewReplicator(coordination.NewMemoryStore(), "server-a", time.Hour)
	eng := engine.New(45*time.Minute, 15*time.Minute)
	rooms := room.NewManager(matchRepo)
	validator := entry.NewValidator(nil)
	sessions := entry.NewSessions(validator)
	perf := monitor.New(10*time.Second, time.Hour, 100)

	svc := NewMatchService(repos, replicator, eng, rooms, sessions, validator, LogStatsNotifier{}, perf)
	broadcast := &recordingBroadcaster{}
	svc.SetBroadcaster(broadcast)

	return &fixture{
		svc:        svc,
		matchRepo:  matchRepo,
		eventRepo:  eventRepo,
		broadcast:  broadcast,
		replicator: replicator,
		match:      match,
	}
}

func goalDraft(f *fixture) entry.Draft {
	minute := 12
	player := uuid.NewString()
	teamID := f.match.HomeTeamID.String()
	return entry.Draft{
		MatchID:   f.match.ID.String(),
		EventType: "goal",
		TeamID:    teamID,
		Minute:    &minute,
		PlayerID:  &player,
	}
}

func TestMatchService_SubmitGoalPipeline(t *testing.T) {
	f := newFixture(t)
	actor := &Identity{UserID: uuid.NewString()}

	event, res, err := f.svc.SubmitEvent(context.Background(), actor, "", goalDraft(f))
	require.NoError(t, err)
	assert.True(t, res.IsValid)
	require.NotNil(t, event)

	// Persisted once, score bumped, state replicated, fan-out happened.
	assert.Equal(t, 1, f.eventRepo.count())
	require.Len(t, f.matchRepo.scores, 1)
	assert.Equal(t, [2]int{1, 0}, f.matchRepo.scores[0])

	state := f.replicator.Get(context.Background(), f.match.ID.String())
	require.NotNil(t, state)
	assert.Equal(t, 1, state.HomeScore)
	require.Len(t, state.Events, 1)
	assert.Equal(t, domain.EventTypeGoal, state.Events[0].EventType)
	require.NotNil(t, state.LastEventTime)

	assert.Contains(t, f.broadcast.matchEvents(), EventMatchEvent)
	assert.Contains(t, f.broadcast.tournament, EventMatchEvent)
}

func TestMatchService_InvalidEventStopsPipeline(t *testing.T) {
	f := newFixture(t)
	actor := &Identity{UserID: uuid.NewString()}

	// Goal without a scorer: blocked before any side effect.
	draft := goalDraft(f)
	draft.PlayerID = nil

	event, res, err := f.svc.SubmitEvent(context.Background(), actor, "", draft)
	assert.ErrorIs(t, err, domain.ErrValidationFailed)
	assert.Nil(t, event)
	assert.False(t, res.IsValid)
	assert.NotEmpty(t, res.Errors)

	assert.Equal(t, 0, f.eventRepo.count())
	assert.Empty(t, f.matchRepo.scores)
	assert.Nil(t, f.replicator.Get(context.Background(), f.match.ID.String()))
	assert.Empty(t, f.broadcast.matchEvents())
}

func TestMatchService_SubmitCountsSessionWork(t *testing.T) {
	f := newFixture(t)
	actor := &Identity{UserID: uuid.NewString()}

	session := f.svc.StartEntrySession(actor.UserID, f.match.ID.String(), domain.RoleReferee)
	assert.Equal(t, domain.RoleReferee, session.Role)

	_, _, err := f.svc.SubmitEvent(context.Background(), actor, session.ID, goalDraft(f))
	require.NoError(t, err)

	// An invalid attempt under the same session counts an error.
	bad := goalDraft(f)
	bad.PlayerID = nil
	_, _, err = f.svc.SubmitEvent(context.Background(), actor, session.ID, bad)
	assert.ErrorIs(t, err, domain.ErrValidationFailed)

	final, err := f.svc.EndEntrySession(session.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, final.EventsSubmitted)
	assert.Equal(t, 1, final.ValidationErrors)
}

func TestMatchService_TimerStartFlow(t *testing.T) {
	f := newFixture(t)
	matchID := f.match.ID.String()

	snap, err := f.svc.ControlTimer(context.Background(), matchID, TimerControl{Action: TimerStart})
	require.NoError(t, err)
	assert.Equal(t, domain.PeriodFirstHalf, snap.Period)
	assert.True(t, snap.TimerRunning)

	assert.Equal(t, []domain.MatchStatus{domain.MatchStatusInProgress}, f.matchRepo.statuses)

	state := f.replicator.Get(context.Background(), matchID)
	require.NotNil(t, state)
	assert.True(t, state.TimerRunning)
	assert.Equal(t, domain.PeriodFirstHalf, state.CurrentPeriod)
	assert.Contains(t, f.broadcast.matchEvents(), EventStatusChange)
}

func TestMatchService_TimerStartRejectsCompletedMatch(t *testing.T) {
	f := newFixture(t)
	f.match.Status = domain.MatchStatusCompleted

	_, err := f.svc.ControlTimer(context.Background(), f.match.ID.String(), TimerControl{Action: TimerStart})
	assert.ErrorIs(t, err, domain.ErrMatchCompleted)
}

func TestMatchService_TimerPauseResume(t *testing.T) {
	f := newFixture(t)
	matchID := f.match.ID.String()

	_, err := f.svc.ControlTimer(context.Background(), matchID, TimerControl{Action: TimerStart})
	require.NoError(t, err)

	snap, err := f.svc.ControlTimer(context.Background(), matchID, TimerControl{Action: TimerPause})
	require.NoError(t, err)
	assert.False(t, snap.TimerRunning)
	assert.Equal(t, domain.MatchStatusPaused, snap.Status)

	state := f.replicator.Get(context.Background(), matchID)
	require.NotNil(t, state)
	assert.False(t, state.TimerRunning)

	snap, err = f.svc.ControlTimer(context.Background(), matchID, TimerControl{Action: TimerResume})
	require.NoError(t, err)
	assert.True(t, snap.TimerRunning)
}

func TestMatchService_AdoptedGoalSurvivesClockPush(t *testing.T) {
	// The clock runs here, but a goal for this match was accepted on a
	// peer instance. Adopting the peer's state must land the score in the
	// local clock, or the next clock push would revert it.
	f := newFixture(t)
	matchID := f.match.ID.String()

	_, err := f.svc.ControlTimer(context.Background(), matchID, TimerControl{Action: TimerStart})
	require.NoError(t, err)

	local := f.replicator.Get(context.Background(), matchID)
	require.NotNil(t, local)

	remote := local.Clone()
	remote.ServerID = "server-b"
	remote.Version = local.Version + 1
	remote.HomeScore = 1
	remote.LastUpdated = time.Now()
	require.True(t, f.replicator.ApplyRemote(remote))

	snap, err := f.svc.ControlTimer(context.Background(), matchID, TimerControl{Action: TimerPause})
	require.NoError(t, err)
	assert.Equal(t, 1, snap.HomeScore)

	state := f.replicator.Get(context.Background(), matchID)
	require.NotNil(t, state)
	assert.Equal(t, 1, state.HomeScore)
	assert.Equal(t, 0, state.AwayScore)
}

func TestMatchService_TimerGuards(t *testing.T) {
	f := newFixture(t)
	matchID := f.match.ID.String()

	_, err := f.svc.ControlTimer(context.Background(), matchID, TimerControl{Action: "explode"})
	assert.Error(t, err)

	_, err = f.svc.ControlTimer(context.Background(), matchID, TimerControl{Action: TimerSkipPeriod, Period: domain.PeriodSecondHalf})
	assert.Error(t, err, "skip without reason must fail")

	_, err = f.svc.ControlTimer(context.Background(), matchID, TimerControl{Action: TimerAddInjury, Minutes: 0})
	assert.Error(t, err)
}

func TestMatchService_StopFinalizesMatch(t *testing.T) {
	f := newFixture(t)
	matchID := f.match.ID.String()

	_, err := f.svc.ControlTimer(context.Background(), matchID, TimerControl{Action: TimerStart})
	require.NoError(t, err)

	snap, err := f.svc.ControlTimer(context.Background(), matchID, TimerControl{Action: TimerStop})
	require.NoError(t, err)
	assert.Equal(t, domain.MatchStatusCompleted, snap.Status)

	// Completion callback finalized the durable record and retired the
	// live state.
	assert.Contains(t, f.matchRepo.statuses, domain.MatchStatusCompleted)
	assert.Nil(t, f.replicator.Get(context.Background(), matchID))
	assert.Contains(t, f.broadcast.matchEvents(), EventMatchCompleted)
}

func TestMatchService_MatchStateFallsBackToDurable(t *testing.T) {
	f := newFixture(t)
	f.match.HomeScore = 2
	f.match.AwayScore = 1

	state, err := f.svc.MatchState(context.Background(), f.match.ID.String())
	require.NoError(t, err)
	assert.Equal(t, 2, state.HomeScore)
	assert.Equal(t, 1, state.AwayScore)
	assert.Equal(t, int64(0), state.Version)

	_, err = f.svc.MatchState(context.Background(), uuid.NewString())
	assert.ErrorIs(t, err, domain.ErrMatchNotFound)
}

func TestMatchService_ChangeStatusReplicates(t *testing.T) {
	f := newFixture(t)
	matchID := f.match.ID.String()

	require.NoError(t, f.svc.ChangeStatus(context.Background(), matchID, domain.MatchStatusInProgress))

	state := f.replicator.Get(context.Background(), matchID)
	require.NotNil(t, state)
	assert.Equal(t, domain.MatchStatusInProgress, state.Status)

	assert.Error(t, f.svc.ChangeStatus(context.Background(), matchID, "warming_up"))
}
