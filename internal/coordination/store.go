// Package coordination wraps the shared key/value + pub/sub store the fleet
// uses to replicate live match state. Delivery is at-least-once with no
// ordering guarantee; consumers must tolerate duplicates.
package coordination

import (
	"context"
	"encoding/json"
	"time"
)

// Store is the shared coordination store boundary. Production uses Redis;
// tests and single-node deployments use the in-memory implementation.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error

	HSet(ctx context.Context, key, field string, value []byte) error
	HGetAll(ctx context.Context, key string) (map[string][]byte, error)
	HDel(ctx context.Context, key string, fields ...string) error

	SAdd(ctx context.Context, key string, members ...string) error
	SRem(ctx context.Context, key string, members ...string) error
	SMembers(ctx context.Context, key string) ([]string, error)

	Publish(ctx context.Context, channel string, env *Envelope) error
	PSubscribe(ctx context.Context, pattern string) (Subscription, error)

	Close() error
}

// ErrNotFound is returned by Get when the key does not exist or has expired.
// It is distinct from a store failure: absence is a normal answer.
type notFoundError struct{}

func (notFoundError) Error() string { return "coordination: key not found" }

var ErrNotFound error = notFoundError{}

// Subscription is a live pattern subscription. Close releases it; the
// message channel is closed afterwards.
type Subscription interface {
	Messages() <-chan *Envelope
	Close() error
}

// Envelope is the wire format for every cross-instance message. Data carries
// a payload whose shape is determined by Type; receivers switch on Type and
// decode exactly one payload kind.
type Envelope struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data"`
	Timestamp int64           `json:"timestamp"`
	Source    string          `json:"source"`
	Target    string          `json:"target,omitempty"`
	Channel   string          `json:"-"`
}

// NewEnvelope wraps payload for publication from the given source instance.
func NewEnvelope(msgType, source string, payload interface{}) (*Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Envelope{
		Type:      msgType,
		Data:      data,
		Timestamp: time.Now().UnixMilli(),
		Source:    source,
	}, nil
}

// Envelope types understood across the fleet.
const (
	MsgMatchStateUpdated = "match_state_updated"
	MsgMatchRemoved      = "match_removed"
	MsgServerHeartbeat   = "server_heartbeat"
	MsgServerShutdown    = "server_shutdown"
)

// Key and channel layout. Channels double as keys for pattern subscriptions.
const (
	KeyActiveMatches = "matches:active"
	KeyActiveServers = "servers:active"

	PatternMatchState = "coord:match:*"
	ChannelServers    = "coord:servers"
)

func KeyMatchState(matchID string) string     { return "match:state:" + matchID }
func KeyServerInfo(serverID string) string    { return "server:info:" + serverID }
func ChannelMatchState(matchID string) string { return "coord:match:" + matchID }
