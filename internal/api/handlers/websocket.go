package handlers

import (
	"log"
	"net/http"

	"github.com/dom/league-match-engine/internal/room"
	"github.com/dom/league-match-engine/internal/service"
	"github.com/dom/league-match-engine/internal/websocket"
	ws "github.com/gorilla/websocket"
)

var upgrader = ws.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for development
	},
}

type WebSocketHandler struct {
	hub      *websocket.Hub
	services *service.Services
	rooms    *room.Manager
}

func NewWebSocketHandler(hub *websocket.Hub, services *service.Services, rooms *room.Manager) *WebSocketHandler {
	return &WebSocketHandler{
		hub:      hub,
		services: services,
		rooms:    rooms,
	}
}

func (h *WebSocketHandler) Handle(w http.ResponseWriter, r *http.Request) {
	// Get token from query parameter
	token := r.URL.Query().Get("token")
	if token == "" {
		http.Error(w, "Token required", http.StatusUnauthorized)
		return
	}

	identity, err := h.services.Token.ValidateToken(token)
	if err != nil {
		http.Error(w, "Invalid token", http.StatusUnauthorized)
		return
	}

	// Upgrade to WebSocket
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade error: %v", err)
		return
	}

	client := websocket.NewClient(h.hub, conn, identity, h.services, h.rooms)
	h.hub.Register(client)

	go client.WritePump()
	go client.ReadPump()
}
