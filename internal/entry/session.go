package entry

import (
	"log"
	"sync"
	"time"

	"github.com/dom/league-match-engine/internal/domain"
	"github.com/google/uuid"
)

const (
	sessionIdleTimeout = 30 * time.Minute
	reapInterval       = time.Minute
)

// Session is one operator's drafting context for one match. A user holds at
// most one session per match; starting a new one supersedes the old.
type Session struct {
	ID               string          `json:"id"`
	UserID           string          `json:"userId"`
	MatchID          string          `json:"matchId"`
	Role             domain.RoomRole `json:"role"`
	StartedAt        time.Time       `json:"startedAt"`
	LastActivity     time.Time       `json:"lastActivity"`
	Draft            Draft           `json:"draft"`
	EventsSubmitted  int             `json:"eventsSubmitted"`
	ValidationErrors int             `json:"validationErrors"`
}

// Sessions tracks live drafting sessions and reaps the abandoned ones.
type Sessions struct {
	validator *Validator

	sessions map[string]*Session
	// owner key (userID|matchID) to session ID, enforcing one session per
	// user per match.
	byOwner map[string]string

	stop chan struct{}
	done chan struct{}
	once sync.Once

	mu sync.RWMutex

	nowFn func() time.Time
}

func NewSessions(validator *Validator) *Sessions {
	return &Sessions{
		validator: validator,
		sessions:  make(map[string]*Session),
		byOwner:   make(map[string]string),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
		nowFn:     time.Now,
	}
}

func ownerKey(userID, matchID string) string {
	return userID + "|" + matchID
}

// Start opens a drafting session carrying the operator's room role. An
// existing session for the same user and match is superseded, so a client
// reconnecting after a crash starts clean.
func (s *Sessions) Start(userID, matchID string, role domain.RoomRole) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := ownerKey(userID, matchID)
	if oldID, ok := s.byOwner[key]; ok {
		delete(s.sessions, oldID)
		log.Printf("entry: superseding session %s for user %s on match %s", oldID, userID, matchID)
	}

	now := s.nowFn()
	session := &Session{
		ID:           uuid.NewString(),
		UserID:       userID,
		MatchID:      matchID,
		Role:         role,
		StartedAt:    now,
		LastActivity: now,
		Draft:        Draft{MatchID: matchID},
	}
	s.sessions[session.ID] = session
	s.byOwner[key] = session.ID
	return session
}

// UpdateDraft replaces the session's draft and returns live validation
// feedback. Invalid drafts are kept; only submission is blocked on them.
func (s *Sessions) UpdateDraft(sessionID string, draft Draft) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[sessionID]
	if !ok {
		return Result{}, domain.ErrSessionNotFound
	}

	if draft.MatchID == "" {
		draft.MatchID = session.MatchID
	}
	session.Draft = draft
	session.LastActivity = s.nowFn()

	res := s.validator.Validate(draft)
	if !res.IsValid {
		session.ValidationErrors++
	}
	return res, nil
}

// Get returns the session, or ErrSessionNotFound.
func (s *Sessions) Get(sessionID string) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, ok := s.sessions[sessionID]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	copied := *session
	return &copied, nil
}

// Lookup finds the live session for a user and match, if any.
func (s *Sessions) Lookup(userID, matchID string) (*Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byOwner[ownerKey(userID, matchID)]
	if !ok {
		return nil, false
	}
	session, ok := s.sessions[id]
	if !ok {
		return nil, false
	}
	copied := *session
	return &copied, true
}

// RecordSubmission bumps the session's submitted counter and refreshes its
// activity stamp.
func (s *Sessions) RecordSubmission(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if session, ok := s.sessions[sessionID]; ok {
		session.EventsSubmitted++
		session.LastActivity = s.nowFn()
	}
}

// End closes the session and returns its final state for the summary event.
func (s *Sessions) End(sessionID string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[sessionID]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	delete(s.sessions, sessionID)
	key := ownerKey(session.UserID, session.MatchID)
	if s.byOwner[key] == sessionID {
		delete(s.byOwner, key)
	}
	copied := *session
	return &copied, nil
}

// Count reports how many sessions are live.
func (s *Sessions) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Run reaps idle sessions until Stop.
func (s *Sessions) Run() {
	defer close(s.done)

	ticker := time.NewTicker(reapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.reapIdle()
		}
	}
}

// Stop terminates Run. Safe to call more than once.
func (s *Sessions) Stop() {
	s.once.Do(func() { close(s.stop) })
	<-s.done
}

// reapIdle drops sessions with no activity inside the idle window.
func (s *Sessions) reapIdle() {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.nowFn().Add(-sessionIdleTimeout)
	for id, session := range s.sessions {
		if session.LastActivity.After(cutoff) {
			continue
		}
		delete(s.sessions, id)
		key := ownerKey(session.UserID, session.MatchID)
		if s.byOwner[key] == id {
			delete(s.byOwner, key)
		}
		log.Printf("entry: reaped idle session %s (user %s, match %s)", id, session.UserID, session.MatchID)
	}
}
