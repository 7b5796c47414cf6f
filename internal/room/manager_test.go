package room

import (
	"context"
	"testing"
	"time"

	"github.com/dom/league-match-engine/internal/domain"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeMatchRepo struct {
	match *domain.Match
	err   error
}

func (f *fakeMatchRepo) GetByID(_ context.Context, _ uuid.UUID) (*domain.Match, error) {
	return f.match, f.err
}

func (f *fakeMatchRepo) GetWithDetails(_ context.Context, _ uuid.UUID) (*domain.Match, error) {
	return f.match, f.err
}

func (f *fakeMatchRepo) UpdateStatus(_ context.Context, _ uuid.UUID, _ domain.MatchStatus) error {
	return nil
}

func (f *fakeMatchRepo) UpdateScore(_ context.Context, _ uuid.UUID, _, _ int) error {
	return nil
}

type fakeConn struct {
	events []string
	closed bool
}

func (f *fakeConn) SendEvent(event string, _ interface{}) { f.events = append(f.events, event) }
func (f *fakeConn) Close()                                { f.closed = true }

func (f *fakeConn) received(event string) bool {
	for _, e := range f.events {
		if e == event {
			return true
		}
	}
	return false
}

func newTestManager(t *testing.T) (*Manager, string) {
	t.Helper()

	tournamentID := uuid.New()
	matchID := uuid.New()
	repo := &fakeMatchRepo{
		match: &domain.Match{
			ID:           matchID,
			TournamentID: &tournamentID,
			HomeTeam:     &domain.Team{Name: "North FC"},
			AwayTeam:     &domain.Team{Name: "South United"},
			Tournament:   &domain.Tournament{ID: tournamentID, Name: "Spring Cup"},
			Venue:        "City Arena",
		},
	}
	return NewManager(repo), matchID.String()
}

func join(t *testing.T, m *Manager, matchID, userID string, role domain.RoomRole) *fakeConn {
	t.Helper()

	conn := &fakeConn{}
	_, err := m.Join(context.Background(), matchID, JoinRequest{
		UserID:      userID,
		SocketID:    "sock-" + userID,
		DisplayName: userID,
		Role:        role,
		Conn:        conn,
	})
	require.NoError(t, err)
	return conn
}

func TestManager_JoinCreatesRoomLazily(t *testing.T) {
	m, matchID := newTestManager(t)

	assert.Equal(t, 0, m.RoomCount())
	conn := join(t, m, matchID, "u1", domain.RoleParticipant)
	assert.Equal(t, 1, m.RoomCount())

	// Joiner gets the ack with loaded metadata; the room broadcast follows.
	assert.True(t, conn.received(EventRoomJoined))
	assert.True(t, conn.received(EventParticipantJoined))

	analytics, err := m.Analytics(matchID)
	require.NoError(t, err)
	assert.Equal(t, 1, analytics.TotalParticipants)
	assert.Equal(t, 1, analytics.ActiveParticipants)
}

func TestManager_JoinNotifiesParentTournamentRoom(t *testing.T) {
	m, matchID := newTestManager(t)

	var joinedTournament string
	m.SetTournamentJoinFunc(func(userID, tournamentID string) error {
		joinedTournament = tournamentID
		return nil
	})

	join(t, m, matchID, "u1", domain.RoleSpectator)
	assert.NotEmpty(t, joinedTournament)
}

func TestManager_ExclusiveMembership(t *testing.T) {
	m, matchID := newTestManager(t)

	join(t, m, matchID, "u1", domain.RoleSpectator)
	// Rejoining with another role moves the user, never duplicates them.
	join(t, m, matchID, "u1", domain.RoleCoach)

	participants, err := m.Participants(matchID)
	require.NoError(t, err)
	require.Len(t, participants, 1)
	assert.Equal(t, domain.RoleCoach, participants[0].Role)
	assert.Equal(t, domain.RoleCoach, m.Role(matchID, "u1"))
}

func TestManager_SpectatorCapacity(t *testing.T) {
	m, matchID := newTestManager(t)

	join(t, m, matchID, "admin", domain.RoleAdmin)
	settings := DefaultSettings()
	settings.MaxSpectators = 2
	require.NoError(t, m.UpdateSettings(matchID, Actor{UserID: "admin"}, settings))

	join(t, m, matchID, "s1", domain.RoleSpectator)
	join(t, m, matchID, "s2", domain.RoleSpectator)

	_, err := m.Join(context.Background(), matchID, JoinRequest{
		UserID: "s3", Role: domain.RoleSpectator, Conn: &fakeConn{},
	})
	assert.ErrorIs(t, err, domain.ErrSpectatorsFull)

	// Room state is unchanged by the rejection.
	participants, _ := m.Participants(matchID)
	spectators := 0
	for _, p := range participants {
		if p.Role == domain.RoleSpectator {
			spectators++
		}
	}
	assert.Equal(t, 2, spectators)
	assert.Equal(t, "", string(m.Role(matchID, "s3")))
}

func TestManager_SpectatorsDisabled(t *testing.T) {
	m, matchID := newTestManager(t)

	join(t, m, matchID, "admin", domain.RoleAdmin)
	settings := DefaultSettings()
	settings.AllowSpectators = false
	require.NoError(t, m.UpdateSettings(matchID, Actor{UserID: "admin"}, settings))

	_, err := m.Join(context.Background(), matchID, JoinRequest{
		UserID: "s1", Role: domain.RoleSpectator, Conn: &fakeConn{},
	})
	assert.ErrorIs(t, err, domain.ErrSpectatorsDisabled)
}

func TestManager_LeaveIsIdempotent(t *testing.T) {
	m, matchID := newTestManager(t)

	join(t, m, matchID, "u1", domain.RoleParticipant)
	m.Leave(matchID, "u1")
	m.Leave(matchID, "u1")
	m.Leave(matchID, "never-joined")

	participants, err := m.Participants(matchID)
	require.NoError(t, err)
	assert.Empty(t, participants)
}

func TestManager_ModerationRequiresPrivilege(t *testing.T) {
	m, matchID := newTestManager(t)

	join(t, m, matchID, "admin", domain.RoleAdmin)
	join(t, m, matchID, "ref", domain.RoleReferee)
	join(t, m, matchID, "player", domain.RoleParticipant)
	join(t, m, matchID, "fan", domain.RoleSpectator)

	// A spectator cannot moderate.
	err := m.Kick(matchID, Actor{UserID: "fan"}, "player")
	assert.ErrorIs(t, err, domain.ErrPermissionDenied)

	// A non-member cannot moderate unless super-admin.
	err = m.Mute(matchID, Actor{UserID: "stranger"}, "player")
	assert.ErrorIs(t, err, domain.ErrPermissionDenied)
	err = m.Mute(matchID, Actor{UserID: "stranger", SuperAdmin: true}, "player")
	assert.NoError(t, err)

	// Referees can moderate.
	err = m.Unmute(matchID, Actor{UserID: "ref"}, "player")
	assert.NoError(t, err)
}

func TestManager_KickDisconnects(t *testing.T) {
	m, matchID := newTestManager(t)

	join(t, m, matchID, "admin", domain.RoleAdmin)
	conn := join(t, m, matchID, "troll", domain.RoleSpectator)

	require.NoError(t, m.Kick(matchID, Actor{UserID: "admin"}, "troll"))
	assert.True(t, conn.closed)
	assert.Equal(t, "", string(m.Role(matchID, "troll")))

	err := m.Kick(matchID, Actor{UserID: "admin"}, "troll")
	assert.ErrorIs(t, err, domain.ErrParticipantNotFound)
}

func TestManager_MutedCannotChatOrType(t *testing.T) {
	m, matchID := newTestManager(t)

	join(t, m, matchID, "admin", domain.RoleAdmin)
	join(t, m, matchID, "loud", domain.RoleParticipant)

	require.NoError(t, m.Chat(matchID, "loud", "hello"))
	require.NoError(t, m.Mute(matchID, Actor{UserID: "admin"}, "loud"))

	assert.ErrorIs(t, m.Chat(matchID, "loud", "hello again"), domain.ErrParticipantMuted)
	assert.ErrorIs(t, m.SetTyping(matchID, "loud", true), domain.ErrParticipantMuted)

	require.NoError(t, m.Unmute(matchID, Actor{UserID: "admin"}, "loud"))
	assert.NoError(t, m.Chat(matchID, "loud", "back"))
}

func TestManager_PromoteDemoteMoveBuckets(t *testing.T) {
	m, matchID := newTestManager(t)

	join(t, m, matchID, "admin", domain.RoleAdmin)
	join(t, m, matchID, "fan", domain.RoleSpectator)

	require.NoError(t, m.Promote(matchID, Actor{UserID: "admin"}, "fan", domain.RoleCoach))
	assert.Equal(t, domain.RoleCoach, m.Role(matchID, "fan"))

	require.NoError(t, m.Demote(matchID, Actor{UserID: "admin"}, "fan", domain.RoleSpectator))
	assert.Equal(t, domain.RoleSpectator, m.Role(matchID, "fan"))

	// Still exactly one membership after the round trip.
	participants, _ := m.Participants(matchID)
	count := 0
	for _, p := range participants {
		if p.UserID == "fan" {
			count++
		}
	}
	assert.Equal(t, 1, count)
}

func TestManager_ChatDisabledBySettings(t *testing.T) {
	m, matchID := newTestManager(t)

	join(t, m, matchID, "admin", domain.RoleAdmin)
	settings := DefaultSettings()
	settings.AllowChat = false
	require.NoError(t, m.UpdateSettings(matchID, Actor{UserID: "admin"}, settings))

	assert.ErrorIs(t, m.Chat(matchID, "admin", "anyone?"), domain.ErrPermissionDenied)
}

func TestManager_ReadReceiptsFollowSettings(t *testing.T) {
	m, matchID := newTestManager(t)

	join(t, m, matchID, "admin", domain.RoleAdmin)
	sender := join(t, m, matchID, "sender", domain.RoleParticipant)
	reader := join(t, m, matchID, "reader", domain.RoleParticipant)

	require.NoError(t, m.MarkRead(matchID, "reader", "msg-1"))
	assert.True(t, sender.received(EventChatMessageRead))
	assert.True(t, reader.received(EventChatMessageRead))

	settings := DefaultSettings()
	settings.ReadReceipts = false
	require.NoError(t, m.UpdateSettings(matchID, Actor{UserID: "admin"}, settings))

	// With the toggle off, receipts are dropped without error.
	sender.events = nil
	require.NoError(t, m.MarkRead(matchID, "reader", "msg-2"))
	assert.False(t, sender.received(EventChatMessageRead))

	assert.ErrorIs(t, m.MarkRead(matchID, "stranger", "msg-3"), domain.ErrParticipantNotFound)
}

func TestManager_CleanupRequiresEmptyAndIdle(t *testing.T) {
	m, matchID := newTestManager(t)

	join(t, m, matchID, "u1", domain.RoleParticipant)
	m.Leave(matchID, "u1")

	// Empty but recently active: survives the sweep.
	m.sweepEmptyRooms()
	assert.Equal(t, 1, m.RoomCount())

	// Age the room past the idle window.
	m.mu.Lock()
	m.rooms[matchID].LastActivity = time.Now().Add(-2 * time.Hour)
	m.mu.Unlock()

	m.sweepEmptyRooms()
	assert.Equal(t, 0, m.RoomCount())
}

func TestManager_InactivityEviction(t *testing.T) {
	m, matchID := newTestManager(t)

	join(t, m, matchID, "admin", domain.RoleAdmin)
	settings := DefaultSettings()
	settings.AutoKickInactive = true
	settings.InactivityTimeout = 10 * time.Minute
	require.NoError(t, m.UpdateSettings(matchID, Actor{UserID: "admin"}, settings))

	conn := join(t, m, matchID, "idler", domain.RoleSpectator)

	m.mu.Lock()
	p, _ := m.rooms[matchID].find("idler")
	p.LastActivity = time.Now().Add(-time.Hour)
	m.mu.Unlock()

	m.sweepInactiveParticipants()

	assert.Equal(t, "", string(m.Role(matchID, "idler")))
	assert.True(t, conn.closed)
	// The active admin is untouched.
	assert.Equal(t, domain.RoleAdmin, m.Role(matchID, "admin"))
}

func TestManager_AnalyticsCounters(t *testing.T) {
	m, matchID := newTestManager(t)

	join(t, m, matchID, "admin", domain.RoleAdmin)
	join(t, m, matchID, "fan", domain.RoleSpectator)

	require.NoError(t, m.Chat(matchID, "fan", "goal incoming"))
	m.RecordEvent(matchID)
	m.RecordEvent(matchID)

	analytics, err := m.Analytics(matchID)
	require.NoError(t, err)
	assert.Equal(t, 2, analytics.TotalParticipants)
	assert.Equal(t, 1, analytics.MessagesSent)
	assert.Equal(t, 2, analytics.EventsRecorded)
}
