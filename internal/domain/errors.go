package domain

import "errors"

// Lookup errors
var (
	ErrMatchNotFound      = errors.New("match not found")
	ErrRoomNotFound       = errors.New("room not found")
	ErrTeamNotFound       = errors.New("team not found")
	ErrTournamentNotFound = errors.New("tournament not found")
	ErrSessionNotFound    = errors.New("event entry session not found")
	ErrAlertNotFound      = errors.New("alert not found")
)

// Room errors
var (
	ErrSpectatorsFull      = errors.New("spectator capacity reached")
	ErrSpectatorsDisabled  = errors.New("spectators are not allowed in this room")
	ErrInvalidRole         = errors.New("invalid room role")
	ErrPermissionDenied    = errors.New("insufficient permissions for this action")
	ErrParticipantNotFound = errors.New("participant is not in the room")
	ErrParticipantMuted    = errors.New("participant is muted")
)

// Clock errors
var (
	ErrClockNotFound   = errors.New("no live clock for match")
	ErrTimerNotRunning = errors.New("match timer is not running")
	ErrTimerRunning    = errors.New("match timer is already running")
	ErrInvalidPeriod   = errors.New("invalid match period")
	ErrMatchCompleted  = errors.New("match is already completed")
)

// Coordination errors
var (
	ErrStoreUnavailable = errors.New("shared coordination store unavailable")
	ErrStaleVersion     = errors.New("state version is stale")
)

// Validation errors
var ErrValidationFailed = errors.New("event validation failed")
