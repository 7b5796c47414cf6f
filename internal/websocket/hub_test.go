package websocket

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/dom/league-match-engine/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newHubClient(hub *Hub, userID string, superAdmin bool) *Client {
	return NewClient(hub, nil, &service.Identity{UserID: userID, SuperAdmin: superAdmin}, nil, nil)
}

func receive(t *testing.T, c *Client) *Message {
	t.Helper()

	select {
	case data := <-c.send:
		var msg Message
		require.NoError(t, json.Unmarshal(data, &msg))
		return &msg
	case <-time.After(time.Second):
		t.Fatal("no message received")
		return nil
	}
}

func startHub(t *testing.T) *Hub {
	t.Helper()

	hub := NewHub()
	go hub.Run()
	t.Cleanup(hub.Stop)
	return hub
}

func TestHub_ChannelFanOut(t *testing.T) {
	hub := startHub(t)

	a := newHubClient(hub, "user-a", false)
	b := newHubClient(hub, "user-b", false)
	hub.Register(a)
	hub.Register(b)

	hub.Subscribe(a, ChannelMatch("m1"))
	hub.Subscribe(b, ChannelMatch("m1"))

	hub.BroadcastToMatch("m1", "timer-update", map[string]int{"minute": 12})

	for _, c := range []*Client{a, b} {
		msg := receive(t, c)
		assert.Equal(t, MessageType("timer-update"), msg.Type)
	}
}

func TestHub_UnsubscribedClientGetsNothing(t *testing.T) {
	hub := startHub(t)

	a := newHubClient(hub, "user-a", false)
	hub.Register(a)
	hub.Subscribe(a, ChannelMatch("m1"))
	hub.Unsubscribe(a, ChannelMatch("m1"))

	hub.BroadcastToMatch("m1", "timer-update", nil)

	select {
	case <-a.send:
		t.Fatal("unsubscribed client received a broadcast")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHub_UserChannelIsImplicit(t *testing.T) {
	hub := startHub(t)

	a := newHubClient(hub, "user-a", false)
	hub.Register(a)

	// Registration can race the broadcast; wait for the hub to settle.
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	hub.BroadcastToUser("user-a", "event-entry-ended", nil)
	msg := receive(t, a)
	assert.Equal(t, MessageTypeEventEntryEnded, msg.Type)
}

func TestHub_SubscribeUserJoinsAllConnections(t *testing.T) {
	hub := startHub(t)

	first := newHubClient(hub, "user-a", false)
	second := newHubClient(hub, "user-a", false)
	hub.Register(first)
	hub.Register(second)
	require.Eventually(t, func() bool { return hub.ClientCount() == 2 }, time.Second, 5*time.Millisecond)

	hub.SubscribeUser("user-a", ChannelTournament("t1"))
	hub.BroadcastToTournament("t1", "match-event", nil)

	for _, c := range []*Client{first, second} {
		msg := receive(t, c)
		assert.Equal(t, MessageTypeMatchEvent, msg.Type)
	}
}

func TestHub_UnregisterDropsSubscriptions(t *testing.T) {
	hub := startHub(t)

	a := newHubClient(hub, "user-a", false)
	hub.Register(a)
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	hub.Subscribe(a, ChannelMatch("m1"))
	hub.Unregister(a)
	require.Eventually(t, func() bool { return hub.ClientCount() == 0 }, time.Second, 5*time.Millisecond)

	hub.BroadcastToMatch("m1", "timer-update", nil)
	select {
	case data := <-a.send:
		var msg Message
		require.NoError(t, json.Unmarshal(data, &msg))
		t.Fatalf("unregistered client received %s", msg.Type)
	case <-time.After(50 * time.Millisecond):
	}
}
