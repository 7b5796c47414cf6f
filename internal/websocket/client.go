package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/dom/league-match-engine/internal/domain"
	"github.com/dom/league-match-engine/internal/room"
	"github.com/dom/league-match-engine/internal/service"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512 * 1024
)

type Client struct {
	hub      *Hub
	conn     *websocket.Conn
	send     chan []byte
	closed   chan struct{}
	identity *service.Identity
	socketID string

	services *service.Services
	rooms    *room.Manager

	// matches this connection joined a room for, marked offline on drop
	joined map[string]bool

	closeOnce sync.Once
	mu        sync.Mutex
}

func NewClient(hub *Hub, conn *websocket.Conn, identity *service.Identity, services *service.Services, rooms *room.Manager) *Client {
	return &Client{
		hub:      hub,
		conn:     conn,
		send:     make(chan []byte, 256),
		closed:   make(chan struct{}),
		identity: identity,
		socketID: uuid.NewString(),
		services: services,
		rooms:    rooms,
		joined:   make(map[string]bool),
	}
}

func (c *Client) UserID() string { return c.identity.UserID }

// SendEvent implements room.Conn.
func (c *Client) SendEvent(event string, payload interface{}) {
	msg, err := NewMessage(MessageType(event), payload)
	if err != nil {
		log.Printf("websocket: marshal %s failed: %v", event, err)
		return
	}
	c.Send(msg)
}

// Close implements room.Conn. Safe to call more than once; the read pump
// observes the closed socket and unwinds.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.closed)
		if c.conn != nil {
			c.conn.Close()
		}
	})
}

func (c *Client) Send(msg *Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Printf("websocket: failed to marshal message: %v", err)
		return
	}

	select {
	case <-c.closed:
	case c.send <- data:
	default:
		// Slow consumer; drop rather than block the broadcaster.
		log.Printf("websocket: dropping %s for slow client %s", msg.Type, c.UserID())
	}
}

func (c *Client) ReadPump() {
	defer func() {
		c.markOffline()
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("websocket error: %v", err)
			}
			break
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			log.Printf("websocket: failed to unmarshal message: %v", err)
			continue
		}

		c.handleMessage(&msg)
	}
}

func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.closed:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case data := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(data)
			if err := w.Close(); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) handleMessage(msg *Message) {
	ctx := context.Background()

	switch msg.Type {
	case MessageTypeJoinRoom:
		var p JoinRoomPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			c.sendError("INVALID_PAYLOAD", "invalid join room payload")
			return
		}
		c.joinRoom(ctx, p)

	case MessageTypeLeaveRoom:
		var p MatchRefPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			c.sendError("INVALID_PAYLOAD", "invalid leave room payload")
			return
		}
		c.rooms.Leave(p.MatchID, c.UserID())
		c.untrackMatch(p.MatchID)
		c.hub.Unsubscribe(c, ChannelMatch(p.MatchID))

	case MessageTypeJoinMatch:
		var p MatchRefPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			c.sendError("INVALID_PAYLOAD", "invalid join match payload")
			return
		}
		c.hub.Subscribe(c, ChannelMatch(p.MatchID))
		c.sendMatchState(ctx, p.MatchID)

	case MessageTypeLeaveMatch:
		var p MatchRefPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			c.sendError("INVALID_PAYLOAD", "invalid leave match payload")
			return
		}
		c.hub.Unsubscribe(c, ChannelMatch(p.MatchID))

	case MessageTypeMatchEvent:
		var p MatchEventPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			c.sendError("INVALID_PAYLOAD", "invalid match event payload")
			return
		}
		_, res, err := c.services.Match.SubmitEvent(ctx, c.identity, p.SessionID, p.Draft)
		// The operator always gets the validation outcome, pass or fail.
		c.SendEvent(string(MessageTypeEventEntryValidation), res)
		if err != nil && !errors.Is(err, domain.ErrValidationFailed) {
			c.sendDomainError(err)
		}

	case MessageTypeStartEventEntry:
		var p MatchRefPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			c.sendError("INVALID_PAYLOAD", "invalid start entry payload")
			return
		}
		session := c.services.Match.StartEntrySession(c.UserID(), p.MatchID, c.rooms.Role(p.MatchID, c.UserID()))
		c.SendEvent(string(MessageTypeEventEntryStarted), session)

	case MessageTypeUpdateEventEntry:
		var p EventEntryPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			c.sendError("INVALID_PAYLOAD", "invalid entry update payload")
			return
		}
		res, err := c.services.Match.UpdateEntryDraft(p.SessionID, p.Draft)
		if err != nil {
			c.sendDomainError(err)
			return
		}
		c.SendEvent(string(MessageTypeEventEntryValidation), res)

	case MessageTypeValidateEventEntry:
		var p EventEntryPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			c.sendError("INVALID_PAYLOAD", "invalid validate payload")
			return
		}
		c.SendEvent(string(MessageTypeEventEntryValidation), c.services.Match.ValidateDraft(p.Draft))

	case MessageTypeEndEventEntry:
		var p EventEntryPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			c.sendError("INVALID_PAYLOAD", "invalid end entry payload")
			return
		}
		summary, err := c.services.Match.EndEntrySession(p.SessionID)
		if err != nil {
			c.sendDomainError(err)
			return
		}
		c.SendEvent(string(MessageTypeEventEntryEnded), summary)

	case MessageTypeTimerControl:
		var p TimerControlPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			c.sendError("INVALID_PAYLOAD", "invalid timer control payload")
			return
		}
		if !c.canOfficiate(p.MatchID) {
			c.sendError("PERMISSION_DENIED", "timer control requires a referee or admin role")
			return
		}
		snap, err := c.services.Match.ControlTimer(ctx, p.MatchID, p.Control)
		if err != nil {
			c.sendDomainError(err)
			return
		}
		c.SendEvent(service.EventTimerUpdate, snap)

	case MessageTypeStatusChange:
		var p StatusChangePayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			c.sendError("INVALID_PAYLOAD", "invalid status change payload")
			return
		}
		if !c.canOfficiate(p.MatchID) {
			c.sendError("PERMISSION_DENIED", "status change requires a referee or admin role")
			return
		}
		if err := c.services.Match.ChangeStatus(ctx, p.MatchID, p.Status); err != nil {
			c.sendDomainError(err)
		}

	case MessageTypeUpdateRoomSettings:
		var p RoomSettingsPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			c.sendError("INVALID_PAYLOAD", "invalid settings payload")
			return
		}
		if err := c.rooms.UpdateSettings(p.MatchID, c.actor(), p.Settings); err != nil {
			c.sendDomainError(err)
		}

	case MessageTypeManageParticipant:
		var p ManageParticipantPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			c.sendError("INVALID_PAYLOAD", "invalid manage participant payload")
			return
		}
		if err := c.manageParticipant(p); err != nil {
			c.sendDomainError(err)
		}

	case MessageTypeChatMessage:
		var p ChatPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			c.sendError("INVALID_PAYLOAD", "invalid chat payload")
			return
		}
		if err := c.rooms.Chat(p.MatchID, c.UserID(), p.Message); err != nil {
			c.sendDomainError(err)
		}

	case MessageTypeChatRead:
		var p ChatReadPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			c.sendError("INVALID_PAYLOAD", "invalid read receipt payload")
			return
		}
		if err := c.rooms.MarkRead(p.MatchID, c.UserID(), p.MessageID); err != nil {
			c.sendDomainError(err)
		}

	case MessageTypeTypingStart, MessageTypeTypingStop:
		var p MatchRefPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			c.sendError("INVALID_PAYLOAD", "invalid typing payload")
			return
		}
		if err := c.rooms.SetTyping(p.MatchID, c.UserID(), msg.Type == MessageTypeTypingStart); err != nil {
			c.sendDomainError(err)
		}

	case MessageTypeGetRoomAnalytics:
		var p MatchRefPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			c.sendError("INVALID_PAYLOAD", "invalid analytics payload")
			return
		}
		analytics, err := c.rooms.Analytics(p.MatchID)
		if err != nil {
			c.sendDomainError(err)
			return
		}
		c.SendEvent(string(MessageTypeRoomAnalytics), analytics)

	case MessageTypeGetRoomParticipants:
		var p MatchRefPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			c.sendError("INVALID_PAYLOAD", "invalid participants payload")
			return
		}
		participants, err := c.rooms.Participants(p.MatchID)
		if err != nil {
			c.sendDomainError(err)
			return
		}
		c.SendEvent(string(MessageTypeRoomParticipants), participants)

	default:
		c.sendError("UNKNOWN_MESSAGE", "unknown message type")
	}
}

func (c *Client) joinRoom(ctx context.Context, p JoinRoomPayload) {
	role := p.Role
	if role == "" {
		role = domain.RoleSpectator
	}

	_, err := c.rooms.Join(ctx, p.MatchID, room.JoinRequest{
		UserID:      c.UserID(),
		SocketID:    c.socketID,
		DisplayName: c.identity.DisplayName,
		Role:        role,
		TeamID:      p.TeamID,
		Conn:        c,
	})
	if err != nil {
		c.sendDomainError(err)
		return
	}

	c.trackMatch(p.MatchID)
	c.hub.Subscribe(c, ChannelMatch(p.MatchID))
	c.sendMatchState(ctx, p.MatchID)
}

func (c *Client) manageParticipant(p ManageParticipantPayload) error {
	actor := c.actor()
	switch p.Action {
	case ActionKick:
		return c.rooms.Kick(p.MatchID, actor, p.TargetUserID)
	case ActionMute:
		return c.rooms.Mute(p.MatchID, actor, p.TargetUserID)
	case ActionUnmute:
		return c.rooms.Unmute(p.MatchID, actor, p.TargetUserID)
	case ActionPromote:
		return c.rooms.Promote(p.MatchID, actor, p.TargetUserID, p.Role)
	case ActionDemote:
		return c.rooms.Demote(p.MatchID, actor, p.TargetUserID, p.Role)
	default:
		return domain.ErrPermissionDenied
	}
}

// sendMatchState delivers the current live state so a joining client renders
// the match immediately, wherever its clock runs.
func (c *Client) sendMatchState(ctx context.Context, matchID string) {
	state, err := c.services.Match.MatchState(ctx, matchID)
	if err != nil {
		c.sendDomainError(err)
		return
	}
	c.SendEvent(service.EventMatchState, state)
}

// canOfficiate gates clock and lifecycle control to referees, room admins,
// and super-admins.
func (c *Client) canOfficiate(matchID string) bool {
	if c.identity.SuperAdmin {
		return true
	}
	role := c.rooms.Role(matchID, c.UserID())
	return role == domain.RoleReferee || role == domain.RoleAdmin
}

func (c *Client) actor() room.Actor {
	return room.Actor{UserID: c.UserID(), SuperAdmin: c.identity.SuperAdmin}
}

func (c *Client) trackMatch(matchID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.joined[matchID] = true
}

func (c *Client) untrackMatch(matchID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.joined, matchID)
}

// markOffline flags this connection's room memberships as offline so a
// reconnect can restore them.
func (c *Client) markOffline() {
	c.mu.Lock()
	matches := make([]string, 0, len(c.joined))
	for matchID := range c.joined {
		matches = append(matches, matchID)
	}
	c.mu.Unlock()

	for _, matchID := range matches {
		c.rooms.MarkOffline(matchID, c.UserID())
	}
}

func (c *Client) sendDomainError(err error) {
	code := "INTERNAL_ERROR"
	message := "something went wrong"

	switch {
	case errors.Is(err, domain.ErrMatchNotFound), errors.Is(err, domain.ErrRoomNotFound):
		code, message = "NOT_FOUND", "match or room not found"
	case errors.Is(err, domain.ErrPermissionDenied):
		code, message = "PERMISSION_DENIED", "insufficient permissions"
	case errors.Is(err, domain.ErrSpectatorsFull):
		code, message = "SPECTATORS_FULL", "spectator capacity reached"
	case errors.Is(err, domain.ErrSpectatorsDisabled):
		code, message = "SPECTATORS_DISABLED", "spectators are not allowed"
	case errors.Is(err, domain.ErrParticipantMuted):
		code, message = "MUTED", "you are muted in this room"
	case errors.Is(err, domain.ErrParticipantNotFound):
		code, message = "PARTICIPANT_NOT_FOUND", "participant is not in the room"
	case errors.Is(err, domain.ErrInvalidRole):
		code, message = "INVALID_ROLE", "invalid room role"
	case errors.Is(err, domain.ErrSessionNotFound):
		code, message = "SESSION_NOT_FOUND", "event entry session not found"
	case errors.Is(err, domain.ErrClockNotFound):
		code, message = "NO_LIVE_CLOCK", "no live clock for this match"
	case errors.Is(err, domain.ErrTimerRunning):
		code, message = "TIMER_RUNNING", "timer is already running"
	case errors.Is(err, domain.ErrTimerNotRunning):
		code, message = "TIMER_NOT_RUNNING", "timer is not running"
	case errors.Is(err, domain.ErrMatchCompleted):
		code, message = "MATCH_COMPLETED", "match is already completed"
	case errors.Is(err, domain.ErrInvalidPeriod):
		code, message = "INVALID_PERIOD", "invalid match period"
	default:
		log.Printf("websocket: internal error for user %s: %v", c.UserID(), err)
	}
	c.sendError(code, message)
}

func (c *Client) sendError(code, message string) {
	msg, _ := NewMessage(MessageTypeError, ErrorPayload{Code: code, Message: message})
	c.Send(msg)
}
