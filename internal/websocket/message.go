package websocket

import (
	"encoding/json"
	"time"

	"github.com/dom/league-match-engine/internal/domain"
	"github.com/dom/league-match-engine/internal/entry"
	"github.com/dom/league-match-engine/internal/room"
	"github.com/dom/league-match-engine/internal/service"
)

type MessageType string

const (
	// Client to Server
	MessageTypeJoinRoom            MessageType = "join-room"
	MessageTypeLeaveRoom           MessageType = "leave-room"
	MessageTypeJoinMatch           MessageType = "join-match"
	MessageTypeLeaveMatch          MessageType = "leave-match"
	MessageTypeMatchEvent          MessageType = "match-event"
	MessageTypeStartEventEntry     MessageType = "start-event-entry"
	MessageTypeUpdateEventEntry    MessageType = "update-event-entry"
	MessageTypeValidateEventEntry  MessageType = "validate-event-entry"
	MessageTypeEndEventEntry       MessageType = "end-event-entry"
	MessageTypeTimerControl        MessageType = "match-timer-control"
	MessageTypeStatusChange        MessageType = "match-status-change"
	MessageTypeUpdateRoomSettings  MessageType = "update-room-settings"
	MessageTypeManageParticipant   MessageType = "manage-participant"
	MessageTypeChatMessage         MessageType = "chat-message"
	MessageTypeChatRead            MessageType = "chat-message-read"
	MessageTypeTypingStart         MessageType = "typing-start"
	MessageTypeTypingStop          MessageType = "typing-stop"
	MessageTypeGetRoomAnalytics    MessageType = "get-room-analytics"
	MessageTypeGetRoomParticipants MessageType = "get-room-participants"

	// Server to Client (in addition to the room and match service events)
	MessageTypeEventEntryStarted    MessageType = "event-entry-started"
	MessageTypeEventEntryValidation MessageType = "event-entry-validation"
	MessageTypeEventEntryEnded      MessageType = "event-entry-ended"
	MessageTypeRoomAnalytics        MessageType = "room-analytics"
	MessageTypeRoomParticipants     MessageType = "room-participants"
	MessageTypeError                MessageType = "error"
)

type Message struct {
	Type      MessageType     `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp int64           `json:"timestamp"`
}

func NewMessage(msgType MessageType, payload interface{}) (*Message, error) {
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Message{
		Type:      msgType,
		Payload:   payloadBytes,
		Timestamp: time.Now().UnixMilli(),
	}, nil
}

// Client to Server payloads

type JoinRoomPayload struct {
	MatchID string          `json:"matchId"`
	Role    domain.RoomRole `json:"role"`
	TeamID  string          `json:"teamId,omitempty"`
}

type MatchRefPayload struct {
	MatchID string `json:"matchId"`
}

type MatchEventPayload struct {
	SessionID string      `json:"sessionId,omitempty"`
	Draft     entry.Draft `json:"draft"`
}

type EventEntryPayload struct {
	SessionID string      `json:"sessionId"`
	Draft     entry.Draft `json:"draft"`
}

type TimerControlPayload struct {
	MatchID string               `json:"matchId"`
	Control service.TimerControl `json:"control"`
}

type StatusChangePayload struct {
	MatchID string             `json:"matchId"`
	Status  domain.MatchStatus `json:"status"`
}

type RoomSettingsPayload struct {
	MatchID  string        `json:"matchId"`
	Settings room.Settings `json:"settings"`
}

// ParticipantAction names a moderation operation.
type ParticipantAction string

const (
	ActionKick    ParticipantAction = "kick"
	ActionMute    ParticipantAction = "mute"
	ActionUnmute  ParticipantAction = "unmute"
	ActionPromote ParticipantAction = "promote"
	ActionDemote  ParticipantAction = "demote"
)

type ManageParticipantPayload struct {
	MatchID      string            `json:"matchId"`
	Action       ParticipantAction `json:"action"`
	TargetUserID string            `json:"targetUserId"`
	Role         domain.RoomRole   `json:"role,omitempty"`
}

type ChatPayload struct {
	MatchID string `json:"matchId"`
	Message string `json:"message"`
}

type ChatReadPayload struct {
	MatchID   string `json:"matchId"`
	MessageID string `json:"messageId"`
}

// Server to Client payloads

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
