// Package room manages real-time match room membership: role buckets,
// spectator admission, moderation, chat gating, and lifecycle sweeps.
package room

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/dom/league-match-engine/internal/domain"
	"github.com/dom/league-match-engine/internal/repository"
	"github.com/google/uuid"
)

const (
	cleanupInterval    = 5 * time.Minute
	cleanupIdleWindow  = 60 * time.Minute
	inactivitySweepGap = time.Minute
)

// JoinRequest carries everything needed to place a user into a room.
type JoinRequest struct {
	UserID      string
	SocketID    string
	DisplayName string
	Role        domain.RoomRole
	TeamID      string
	Permissions []domain.Permission
	Conn        Conn
}

// Actor identifies who is performing a moderation action. SuperAdmin is a
// credential-level privilege that does not require room membership.
type Actor struct {
	UserID     string
	SuperAdmin bool
}

// Manager owns every live room on this instance.
type Manager struct {
	rooms   map[string]*Room
	matches repository.MatchRepository

	// onTournamentJoin subscribes a user to the parent tournament's channel.
	// Failures there are logged, never surfaced to the joining user.
	onTournamentJoin func(userID, tournamentID string) error

	stop chan struct{}
	done chan struct{}
	once sync.Once

	mu sync.RWMutex
}

func NewManager(matches repository.MatchRepository) *Manager {
	return &Manager{
		rooms:   make(map[string]*Room),
		matches: matches,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// SetTournamentJoinFunc installs the best-effort parent tournament join hook.
func (m *Manager) SetTournamentJoinFunc(fn func(userID, tournamentID string) error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onTournamentJoin = fn
}

// RoomCount reports how many rooms are live.
func (m *Manager) RoomCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.rooms)
}

// Join places the user into exactly one role bucket, creating the room
// lazily on first join. Spectator admission is gated by room settings;
// rejections leave the room unchanged.
func (m *Manager) Join(ctx context.Context, matchID string, req JoinRequest) (*Participant, error) {
	if !domain.ValidRoomRole(req.Role) {
		return nil, domain.ErrInvalidRole
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.rooms[matchID]
	if !ok {
		loaded, err := m.createRoomLocked(ctx, matchID)
		if err != nil {
			return nil, err
		}
		r = loaded
	}

	if req.Role == domain.RoleSpectator {
		if !r.Settings.AllowSpectators {
			return nil, domain.ErrSpectatorsDisabled
		}
		// Re-joining spectators keep their slot; only new ones count
		// against capacity.
		if _, current := r.find(req.UserID); current != domain.RoleSpectator &&
			r.spectatorCount() >= r.Settings.MaxSpectators {
			return nil, domain.ErrSpectatorsFull
		}
	}

	now := time.Now()
	p := &Participant{
		UserID:       req.UserID,
		SocketID:     req.SocketID,
		Role:         req.Role,
		DisplayName:  req.DisplayName,
		TeamID:       req.TeamID,
		JoinedAt:     now,
		LastActivity: now,
		Permissions:  append([]domain.Permission(nil), req.Permissions...),
		IsOnline:     true,
		conn:         req.Conn,
	}
	r.place(p)
	r.totalJoined++
	r.touch()

	if p.conn != nil {
		p.conn.SendEvent(EventRoomJoined, RoomSnapshot(r))
	}
	r.broadcast(EventParticipantJoined, map[string]interface{}{
		"matchId":     matchID,
		"userId":      p.UserID,
		"displayName": p.DisplayName,
		"role":        p.Role,
	})

	if tid := r.Metadata.TournamentID; tid != "" && m.onTournamentJoin != nil {
		if err := m.onTournamentJoin(p.UserID, tid); err != nil {
			log.Printf("room: tournament room join for user %s failed: %v", p.UserID, err)
		}
	}

	return p, nil
}

// Leave removes the user from every bucket. Idempotent: leaving a room the
// user is not in is a no-op. Evaluates cleanup afterwards.
func (m *Manager) Leave(matchID, userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.rooms[matchID]
	if !ok {
		return
	}

	if removed := r.removeFromAll(userID); removed != nil {
		r.touch()
		r.broadcast(EventParticipantLeft, map[string]interface{}{
			"matchId":     matchID,
			"userId":      userID,
			"displayName": removed.DisplayName,
		})
	}

	m.maybeCleanupLocked(matchID, r)
}

// MarkOffline flags a participant as disconnected without removing them,
// so a reconnect can restore the same membership.
func (m *Manager) MarkOffline(matchID, userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.rooms[matchID]
	if !ok {
		return
	}
	p, _ := r.find(userID)
	if p == nil {
		return
	}
	p.IsOnline = false
	p.conn = nil
	r.broadcast(EventParticipantOffline, map[string]interface{}{
		"matchId": matchID,
		"userId":  userID,
	})
}

// Kick removes the target from all buckets and disconnects them. Requires
// admin, referee, or super-admin privilege.
func (m *Manager) Kick(matchID string, actor Actor, targetID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.rooms[matchID]
	if !ok {
		return domain.ErrRoomNotFound
	}
	if err := m.requireModeratorLocked(r, actor); err != nil {
		return err
	}

	target := r.removeFromAll(targetID)
	if target == nil {
		return domain.ErrParticipantNotFound
	}
	r.touch()

	r.broadcast(EventParticipantKicked, map[string]interface{}{
		"matchId":  matchID,
		"userId":   targetID,
		"kickedBy": actor.UserID,
	})
	if target.conn != nil {
		target.conn.SendEvent(EventParticipantKicked, map[string]interface{}{
			"matchId": matchID,
			"userId":  targetID,
		})
		target.conn.Close()
	}

	log.Printf("room: %s kicked from match %s by %s", targetID, matchID, actor.UserID)
	m.maybeCleanupLocked(matchID, r)
	return nil
}

// Mute appends the MUTED permission; chat and typing are gated on it.
func (m *Manager) Mute(matchID string, actor Actor, targetID string) error {
	return m.moderate(matchID, actor, targetID, func(r *Room, target *Participant) {
		if !target.Muted() {
			target.Permissions = append(target.Permissions, domain.PermissionMuted)
		}
		r.broadcast(EventParticipantMuted, map[string]interface{}{
			"matchId": matchID,
			"userId":  targetID,
			"mutedBy": actor.UserID,
		})
	})
}

// Unmute removes the MUTED permission.
func (m *Manager) Unmute(matchID string, actor Actor, targetID string) error {
	return m.moderate(matchID, actor, targetID, func(r *Room, target *Participant) {
		kept := target.Permissions[:0]
		for _, perm := range target.Permissions {
			if perm != domain.PermissionMuted {
				kept = append(kept, perm)
			}
		}
		target.Permissions = kept
		r.broadcast(EventParticipantMuted, map[string]interface{}{
			"matchId": matchID,
			"userId":  targetID,
			"muted":   false,
		})
	})
}

// Promote reclassifies the target into a higher role bucket.
func (m *Manager) Promote(matchID string, actor Actor, targetID string, to domain.RoomRole) error {
	if !domain.ValidRoomRole(to) {
		return domain.ErrInvalidRole
	}
	return m.moderate(matchID, actor, targetID, func(r *Room, target *Participant) {
		target.Role = to
		r.place(target)
		r.broadcast(EventParticipantPromoted, map[string]interface{}{
			"matchId": matchID,
			"userId":  targetID,
			"role":    to,
		})
	})
}

// Demote reclassifies the target into a lower role bucket.
func (m *Manager) Demote(matchID string, actor Actor, targetID string, to domain.RoomRole) error {
	if !domain.ValidRoomRole(to) {
		return domain.ErrInvalidRole
	}
	return m.moderate(matchID, actor, targetID, func(r *Room, target *Participant) {
		target.Role = to
		r.place(target)
		r.broadcast(EventParticipantDemoted, map[string]interface{}{
			"matchId": matchID,
			"userId":  targetID,
			"role":    to,
		})
	})
}

// Chat broadcasts a chat message if chat is enabled and the sender is not
// muted. Bumps the room's message counter.
func (m *Manager) Chat(matchID, userID, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.rooms[matchID]
	if !ok {
		return domain.ErrRoomNotFound
	}
	if !r.Settings.AllowChat {
		return domain.ErrPermissionDenied
	}
	p, _ := r.find(userID)
	if p == nil {
		return domain.ErrParticipantNotFound
	}
	if p.Muted() {
		return domain.ErrParticipantMuted
	}

	p.LastActivity = time.Now()
	r.messagesSent++
	r.touch()
	r.broadcast(EventChatMessage, map[string]interface{}{
		"matchId":     matchID,
		"messageId":   uuid.NewString(),
		"userId":      userID,
		"displayName": p.DisplayName,
		"message":     text,
		"timestamp":   time.Now().UnixMilli(),
	})
	return nil
}

// MarkRead broadcasts a read receipt for a chat message. Like typing
// indicators, receipts are dropped silently when the room toggle is off.
func (m *Manager) MarkRead(matchID, userID, messageID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.rooms[matchID]
	if !ok {
		return domain.ErrRoomNotFound
	}
	p, _ := r.find(userID)
	if p == nil {
		return domain.ErrParticipantNotFound
	}
	p.LastActivity = time.Now()
	if !r.Settings.ReadReceipts {
		return nil
	}

	r.broadcast(EventChatMessageRead, map[string]interface{}{
		"matchId":   matchID,
		"messageId": messageID,
		"userId":    userID,
	})
	return nil
}

// SetTyping broadcasts a typing indicator, subject to the room toggle and
// the sender's mute state.
func (m *Manager) SetTyping(matchID, userID string, typing bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.rooms[matchID]
	if !ok {
		return domain.ErrRoomNotFound
	}
	if !r.Settings.TypingIndicators {
		return nil
	}
	p, _ := r.find(userID)
	if p == nil {
		return domain.ErrParticipantNotFound
	}
	if p.Muted() {
		return domain.ErrParticipantMuted
	}

	p.IsTyping = typing
	p.LastActivity = time.Now()

	event := EventTypingStart
	if !typing {
		event = EventTypingStop
	}
	r.broadcast(event, map[string]interface{}{
		"matchId": matchID,
		"userId":  userID,
	})
	return nil
}

// UpdateSettings replaces the room settings. Requires moderator privilege.
func (m *Manager) UpdateSettings(matchID string, actor Actor, settings Settings) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.rooms[matchID]
	if !ok {
		return domain.ErrRoomNotFound
	}
	if err := m.requireModeratorLocked(r, actor); err != nil {
		return err
	}

	r.Settings = settings
	r.touch()
	r.broadcast(EventRoomSettingsUpdated, map[string]interface{}{
		"matchId":  matchID,
		"settings": settings,
	})
	return nil
}

// Broadcast sends an event to everyone in the match room, bumping the
// activity stamp. Unknown rooms are ignored (the match may live elsewhere).
func (m *Manager) Broadcast(matchID, event string, payload interface{}) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if r, ok := m.rooms[matchID]; ok {
		r.broadcast(event, payload)
	}
}

// RecordEvent bumps the room's entered-events counter.
func (m *Manager) RecordEvent(matchID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if r, ok := m.rooms[matchID]; ok {
		r.eventsRecorded++
		r.touch()
	}
}

// Touch refreshes a participant's activity stamp.
func (m *Manager) Touch(matchID, userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if r, ok := m.rooms[matchID]; ok {
		if p, _ := r.find(userID); p != nil {
			p.LastActivity = time.Now()
		}
	}
}

// Analytics returns the room's counters.
func (m *Manager) Analytics(matchID string) (Analytics, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.rooms[matchID]
	if !ok {
		return Analytics{}, domain.ErrRoomNotFound
	}
	return r.analytics(), nil
}

// AllAnalytics returns counters for every live room, for the admin surface.
func (m *Manager) AllAnalytics() []Analytics {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Analytics, 0, len(m.rooms))
	for _, r := range m.rooms {
		out = append(out, r.analytics())
	}
	return out
}

// Participants returns a snapshot of everyone in the room.
func (m *Manager) Participants(matchID string) ([]Participant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.rooms[matchID]
	if !ok {
		return nil, domain.ErrRoomNotFound
	}
	return r.participants(), nil
}

// Role returns the bucket currently holding the user, or "" if absent.
func (m *Manager) Role(matchID, userID string) domain.RoomRole {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.rooms[matchID]
	if !ok {
		return ""
	}
	_, role := r.find(userID)
	return role
}

// Run drives the cleanup and inactivity sweeps until Stop.
func (m *Manager) Run() {
	defer close(m.done)

	cleanup := time.NewTicker(cleanupInterval)
	defer cleanup.Stop()

	inactivity := time.NewTicker(inactivitySweepGap)
	defer inactivity.Stop()

	for {
		select {
		case <-m.stop:
			return
		case <-cleanup.C:
			m.sweepEmptyRooms()
		case <-inactivity.C:
			m.sweepInactiveParticipants()
		}
	}
}

// Stop terminates Run. Safe to call more than once.
func (m *Manager) Stop() {
	m.once.Do(func() { close(m.stop) })
	<-m.done
}

// sweepEmptyRooms removes rooms that are empty and idle beyond the window.
func (m *Manager) sweepEmptyRooms() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for matchID, r := range m.rooms {
		m.maybeCleanupLocked(matchID, r)
	}
}

// sweepInactiveParticipants force-kicks participants idle beyond the room's
// configured timeout, where the room opted in.
func (m *Manager) sweepInactiveParticipants() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	for matchID, r := range m.rooms {
		if !r.Settings.AutoKickInactive || r.Settings.InactivityTimeout <= 0 {
			continue
		}
		cutoff := now.Add(-r.Settings.InactivityTimeout)
		for _, p := range r.participants() {
			if p.LastActivity.After(cutoff) {
				continue
			}
			target := r.removeFromAll(p.UserID)
			if target == nil {
				continue
			}
			log.Printf("room: evicting inactive participant %s from match %s", p.UserID, matchID)
			r.broadcast(EventParticipantKicked, map[string]interface{}{
				"matchId": matchID,
				"userId":  p.UserID,
				"reason":  "inactivity",
			})
			if target.conn != nil {
				target.conn.Close()
			}
		}
		m.maybeCleanupLocked(matchID, r)
	}
}

// maybeCleanupLocked removes the room when every bucket is empty and no
// activity occurred within the idle window.
func (m *Manager) maybeCleanupLocked(matchID string, r *Room) {
	if r.participantCount() > 0 {
		return
	}
	if time.Since(r.LastActivity) < cleanupIdleWindow {
		return
	}
	r.IsActive = false
	delete(m.rooms, matchID)
	log.Printf("room: cleaned up idle room for match %s", matchID)
}

// createRoomLocked lazily builds the room, loading match, team, and
// tournament metadata from the persistence collaborator.
func (m *Manager) createRoomLocked(ctx context.Context, matchID string) (*Room, error) {
	id, err := uuid.Parse(matchID)
	if err != nil {
		return nil, fmt.Errorf("%w: bad match id %q", domain.ErrMatchNotFound, matchID)
	}

	match, err := m.matches.GetWithDetails(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load match %s: %w", matchID, err)
	}

	meta := Metadata{Venue: match.Venue}
	if !match.ScheduledAt.IsZero() {
		scheduled := match.ScheduledAt
		meta.ScheduledAt = &scheduled
	}
	if match.HomeTeam != nil {
		meta.HomeTeamName = match.HomeTeam.Name
	}
	if match.AwayTeam != nil {
		meta.AwayTeamName = match.AwayTeam.Name
	}
	if match.Tournament != nil {
		meta.TournamentID = match.Tournament.ID.String()
		meta.TournamentName = match.Tournament.Name
	} else if match.TournamentID != nil {
		meta.TournamentID = match.TournamentID.String()
	}

	r := newRoom(matchID, meta)
	m.rooms[matchID] = r
	log.Printf("room: created room for match %s (%s vs %s)", matchID, meta.HomeTeamName, meta.AwayTeamName)
	return r, nil
}

// moderate runs a moderation mutation after the shared privilege checks.
func (m *Manager) moderate(matchID string, actor Actor, targetID string, apply func(r *Room, target *Participant)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.rooms[matchID]
	if !ok {
		return domain.ErrRoomNotFound
	}
	if err := m.requireModeratorLocked(r, actor); err != nil {
		return err
	}
	target, _ := r.find(targetID)
	if target == nil {
		return domain.ErrParticipantNotFound
	}

	apply(r, target)
	r.touch()
	return nil
}

// requireModeratorLocked enforces the admin/referee/super-admin rule for
// moderation and settings changes.
func (m *Manager) requireModeratorLocked(r *Room, actor Actor) error {
	if actor.SuperAdmin {
		return nil
	}
	p, role := r.find(actor.UserID)
	if p == nil {
		return domain.ErrPermissionDenied
	}
	if role != domain.RoleAdmin && role != domain.RoleReferee {
		return domain.ErrPermissionDenied
	}
	return nil
}

// RoomSnapshot is the payload sent to a joining client.
func RoomSnapshot(r *Room) map[string]interface{} {
	return map[string]interface{}{
		"matchId":      r.MatchID,
		"settings":     r.Settings,
		"metadata":     r.Metadata,
		"isActive":     r.IsActive,
		"createdAt":    r.CreatedAt,
		"lastActivity": r.LastActivity,
		"version":      r.Version,
		"participants": r.participants(),
	}
}
