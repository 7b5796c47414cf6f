// Package websocket is the realtime transport: one hub fans server events
// out to named channels, and one client per connection dispatches inbound
// operations to the service layer.
package websocket

import (
	"log"
	"sync"
)

// Channel name builders. Every client is implicitly subscribed to its user
// channel; the rest are joined explicitly.
func ChannelMatch(matchID string) string           { return "match:" + matchID }
func ChannelTournament(tournamentID string) string { return "tournament:" + tournamentID }
func ChannelUser(userID string) string             { return "user:" + userID }
func ChannelRole(role string) string               { return "role:" + role }

type Hub struct {
	clients  map[*Client]bool
	channels map[string]map[*Client]bool

	register   chan *Client
	unregister chan *Client
	stop       chan struct{}
	done       chan struct{} // closed when Run() exits
	stopped    bool

	mu sync.RWMutex
}

func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		channels:   make(map[string]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
}

func (h *Hub) Run() {
	defer close(h.done)

	for {
		select {
		case <-h.stop:
			h.mu.Lock()
			h.stopped = true
			for client := range h.clients {
				client.Close()
			}
			h.clients = make(map[*Client]bool)
			h.channels = make(map[string]map[*Client]bool)
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			if !h.stopped {
				h.clients[client] = true
				h.subscribeLocked(client, ChannelUser(client.UserID()))
				if client.identity != nil && client.identity.SuperAdmin {
					h.subscribeLocked(client, ChannelRole("super_admin"))
				}
			}
			h.mu.Unlock()

		case client := <-h.unregister:
			h.mu.Lock()
			if !h.stopped {
				if _, ok := h.clients[client]; ok {
					delete(h.clients, client)
					h.dropFromChannelsLocked(client)
					client.Close()
				}
			}
			h.mu.Unlock()
		}
	}
}

// Stop gracefully shuts down the hub and disconnects every client. Blocks
// until Run has exited.
func (h *Hub) Stop() {
	h.mu.Lock()
	if h.stopped {
		h.mu.Unlock()
		return
	}
	h.mu.Unlock()

	close(h.stop)
	<-h.done
}

func (h *Hub) Register(client *Client) {
	h.register <- client
}

// Unregister safely detaches a client, tolerating a hub that is stopping.
func (h *Hub) Unregister(client *Client) {
	h.mu.RLock()
	stopped := h.stopped
	h.mu.RUnlock()
	if stopped {
		return
	}

	select {
	case h.unregister <- client:
	default:
		// Hub stopped between check and send - that's ok
	}
}

// ClientCount reports live connections, for the registry and the monitor.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Subscribe adds the client to a named channel.
func (h *Hub) Subscribe(client *Client, channel string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stopped {
		return
	}
	h.subscribeLocked(client, channel)
}

// Unsubscribe removes the client from a named channel.
func (h *Hub) Unsubscribe(client *Client, channel string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if members, ok := h.channels[channel]; ok {
		delete(members, client)
		if len(members) == 0 {
			delete(h.channels, channel)
		}
	}
}

// SubscribeUser joins every live connection of a user to a channel. Used to
// pull a match room's members into the parent tournament channel.
func (h *Hub) SubscribeUser(userID, channel string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stopped {
		return
	}

	for client := range h.channels[ChannelUser(userID)] {
		h.subscribeLocked(client, channel)
	}
}

// BroadcastToChannel pushes an event to every subscriber of a channel.
func (h *Hub) BroadcastToChannel(channel, event string, payload interface{}) {
	msg, err := NewMessage(MessageType(event), payload)
	if err != nil {
		log.Printf("websocket: marshal for channel %s failed: %v", channel, err)
		return
	}

	h.mu.RLock()
	members := make([]*Client, 0, len(h.channels[channel]))
	for client := range h.channels[channel] {
		members = append(members, client)
	}
	h.mu.RUnlock()

	for _, client := range members {
		client.Send(msg)
	}
}

// BroadcastToMatch implements service.Broadcaster.
func (h *Hub) BroadcastToMatch(matchID, event string, payload interface{}) {
	h.BroadcastToChannel(ChannelMatch(matchID), event, payload)
}

// BroadcastToTournament implements service.Broadcaster.
func (h *Hub) BroadcastToTournament(tournamentID, event string, payload interface{}) {
	h.BroadcastToChannel(ChannelTournament(tournamentID), event, payload)
}

// BroadcastToUser pushes an event to every connection of one user.
func (h *Hub) BroadcastToUser(userID, event string, payload interface{}) {
	h.BroadcastToChannel(ChannelUser(userID), event, payload)
}

func (h *Hub) subscribeLocked(client *Client, channel string) {
	members, ok := h.channels[channel]
	if !ok {
		members = make(map[*Client]bool)
		h.channels[channel] = members
	}
	members[client] = true
}

func (h *Hub) dropFromChannelsLocked(client *Client) {
	for channel, members := range h.channels {
		delete(members, client)
		if len(members) == 0 {
			delete(h.channels, channel)
		}
	}
}
