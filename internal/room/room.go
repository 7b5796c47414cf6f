package room

import (
	"time"

	"github.com/dom/league-match-engine/internal/domain"
)

// Conn is the transport-side handle for one participant. The websocket
// client implements it; tests use fakes.
type Conn interface {
	SendEvent(event string, payload interface{})
	Close()
}

// Server→client event names emitted by the room layer.
const (
	EventRoomJoined          = "room-joined"
	EventParticipantJoined   = "participant-joined"
	EventParticipantLeft     = "participant-left"
	EventParticipantOffline  = "participant-offline"
	EventParticipantKicked   = "participant-kicked"
	EventParticipantMuted    = "participant-muted"
	EventParticipantPromoted = "participant-promoted"
	EventParticipantDemoted  = "participant-demoted"
	EventChatMessage         = "chat-message"
	EventChatMessageRead     = "chat-message-read"
	EventTypingStart         = "typing-start"
	EventTypingStop          = "typing-stop"
	EventRoomSettingsUpdated = "room-settings-updated"
)

// Settings controls room behaviour. A copy is seeded with defaults when the
// room is lazily created and can be mutated by privileged participants.
type Settings struct {
	AllowChat         bool          `json:"allowChat"`
	AllowSpectators   bool          `json:"allowSpectators"`
	MaxSpectators     int           `json:"maxSpectators"`
	RequireApproval   bool          `json:"requireApproval"`
	AutoKickInactive  bool          `json:"autoKickInactive"`
	InactivityTimeout time.Duration `json:"inactivityTimeout"`
	TypingIndicators  bool          `json:"typingIndicators"`
	ReadReceipts      bool          `json:"readReceipts"`
}

func DefaultSettings() Settings {
	return Settings{
		AllowChat:         true,
		AllowSpectators:   true,
		MaxSpectators:     100,
		RequireApproval:   false,
		AutoKickInactive:  false,
		InactivityTimeout: 30 * time.Minute,
		TypingIndicators:  true,
		ReadReceipts:      true,
	}
}

// Metadata is the display context loaded from the persistence collaborator
// when the room is created.
type Metadata struct {
	HomeTeamName   string     `json:"homeTeamName"`
	AwayTeamName   string     `json:"awayTeamName"`
	TournamentID   string     `json:"tournamentId,omitempty"`
	TournamentName string     `json:"tournamentName,omitempty"`
	Venue          string     `json:"venue,omitempty"`
	ScheduledAt    *time.Time `json:"scheduledAt,omitempty"`
}

// Participant is one user's presence in a room. A user occupies exactly one
// role bucket at a time.
type Participant struct {
	UserID       string              `json:"userId"`
	SocketID     string              `json:"socketId"`
	Role         domain.RoomRole     `json:"role"`
	DisplayName  string              `json:"displayName"`
	TeamID       string              `json:"teamId,omitempty"`
	JoinedAt     time.Time           `json:"joinedAt"`
	LastActivity time.Time           `json:"lastActivity"`
	Permissions  []domain.Permission `json:"permissions"`
	IsTyping     bool                `json:"isTyping"`
	IsOnline     bool                `json:"isOnline"`

	conn Conn
}

// HasPermission reports whether the participant carries the given flag.
func (p *Participant) HasPermission(perm domain.Permission) bool {
	for _, have := range p.Permissions {
		if have == perm {
			return true
		}
	}
	return false
}

// Muted is shorthand for the MUTED permission flag.
func (p *Participant) Muted() bool {
	return p.HasPermission(domain.PermissionMuted)
}

// Analytics are the opportunistic per-room counters.
type Analytics struct {
	MatchID            string        `json:"matchId"`
	TotalParticipants  int           `json:"totalParticipants"`
	ActiveParticipants int           `json:"activeParticipants"`
	MessagesSent       int           `json:"messagesSent"`
	EventsRecorded     int           `json:"eventsRecorded"`
	Uptime             time.Duration `json:"uptime"`
	CreatedAt          time.Time     `json:"createdAt"`
	LastActivity       time.Time     `json:"lastActivity"`
}

// Room is the live membership state for one match. All access goes through
// the Manager, which holds the lock.
type Room struct {
	MatchID      string
	Settings     Settings
	Metadata     Metadata
	IsActive     bool
	CreatedAt    time.Time
	LastActivity time.Time
	Version      int64

	// Mutually exclusive role buckets, each keyed by userID.
	buckets map[domain.RoomRole]map[string]*Participant

	totalJoined    int
	messagesSent   int
	eventsRecorded int
}

func newRoom(matchID string, meta Metadata) *Room {
	now := time.Now()
	r := &Room{
		MatchID:      matchID,
		Settings:     DefaultSettings(),
		Metadata:     meta,
		IsActive:     true,
		CreatedAt:    now,
		LastActivity: now,
		Version:      1,
		buckets:      make(map[domain.RoomRole]map[string]*Participant),
	}
	for _, role := range []domain.RoomRole{
		domain.RoleParticipant, domain.RoleSpectator, domain.RoleReferee,
		domain.RoleCoach, domain.RoleAdmin,
	} {
		r.buckets[role] = make(map[string]*Participant)
	}
	return r
}

// find returns the participant and the bucket currently holding them.
func (r *Room) find(userID string) (*Participant, domain.RoomRole) {
	for role, bucket := range r.buckets {
		if p, ok := bucket[userID]; ok {
			return p, role
		}
	}
	return nil, ""
}

// removeFromAll deletes the user from every bucket. Idempotent.
func (r *Room) removeFromAll(userID string) *Participant {
	var removed *Participant
	for _, bucket := range r.buckets {
		if p, ok := bucket[userID]; ok {
			removed = p
			delete(bucket, userID)
		}
	}
	return removed
}

// place puts the participant into exactly one bucket.
func (r *Room) place(p *Participant) {
	r.removeFromAll(p.UserID)
	r.buckets[p.Role][p.UserID] = p
}

func (r *Room) spectatorCount() int {
	return len(r.buckets[domain.RoleSpectator])
}

func (r *Room) participantCount() int {
	total := 0
	for _, bucket := range r.buckets {
		total += len(bucket)
	}
	return total
}

func (r *Room) activeCount() int {
	active := 0
	for _, bucket := range r.buckets {
		for _, p := range bucket {
			if p.IsOnline {
				active++
			}
		}
	}
	return active
}

// broadcast sends an event to every participant in the room.
func (r *Room) broadcast(event string, payload interface{}) {
	for _, bucket := range r.buckets {
		for _, p := range bucket {
			if p.conn != nil {
				p.conn.SendEvent(event, payload)
			}
		}
	}
}

func (r *Room) touch() {
	r.LastActivity = time.Now()
	r.Version++
}

func (r *Room) analytics() Analytics {
	return Analytics{
		MatchID:            r.MatchID,
		TotalParticipants:  r.totalJoined,
		ActiveParticipants: r.activeCount(),
		MessagesSent:       r.messagesSent,
		EventsRecorded:     r.eventsRecorded,
		Uptime:             time.Since(r.CreatedAt),
		CreatedAt:          r.CreatedAt,
		LastActivity:       r.LastActivity,
	}
}

// participants returns a flat snapshot of everyone in the room.
func (r *Room) participants() []Participant {
	out := make([]Participant, 0, r.participantCount())
	for _, bucket := range r.buckets {
		for _, p := range bucket {
			out = append(out, *p)
		}
	}
	return out
}
