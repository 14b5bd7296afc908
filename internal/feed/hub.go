package feed

import (
	"log"
	"sync"

	"workchat-service/internal/models"
)

// Client is one live feed connection known to the hub.
type Client struct {
	sink   EventSink
	userID int
	info   ConnInfo
}

// NewClient wraps a sink for hub registration.
func NewClient(sink EventSink, userID int, info ConnInfo) *Client {
	return &Client{sink: sink, userID: userID, info: info}
}

// Hub tracks open feed connections per room and fans out ephemeral presence
// events. Presence is best effort: nothing is persisted and a crashed client
// that never disconnected cleanly is simply never marked offline.
type Hub struct {
	rooms map[int]map[*Client]bool
	mu    sync.RWMutex
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{rooms: make(map[int]map[*Client]bool)}
}

// Join registers the client in each room and announces it online to the other
// connections already there.
func (h *Hub) Join(roomIDs []int, client *Client) {
	h.mu.Lock()
	for _, roomID := range roomIDs {
		if _, ok := h.rooms[roomID]; !ok {
			h.rooms[roomID] = make(map[*Client]bool)
		}
		h.rooms[roomID][client] = true
	}
	h.mu.Unlock()

	h.broadcast(roomIDs, client, models.PresenceEvent(client.userID, true))
}

// Leave removes the client and announces it offline.
func (h *Hub) Leave(roomIDs []int, client *Client) {
	h.mu.Lock()
	for _, roomID := range roomIDs {
		if conns, ok := h.rooms[roomID]; ok {
			delete(conns, client)
			if len(conns) == 0 {
				delete(h.rooms, roomID)
			}
		}
	}
	h.mu.Unlock()

	h.broadcast(roomIDs, client, models.PresenceEvent(client.userID, false))
}

// broadcast delivers an event to every connection in the rooms except the
// originator. Connections of the same user elsewhere still receive it.
func (h *Hub) broadcast(roomIDs []int, except *Client, event models.FeedEvent) {
	h.mu.RLock()
	var targets []*Client
	seen := make(map[*Client]bool)
	for _, roomID := range roomIDs {
		for client := range h.rooms[roomID] {
			if client == except || seen[client] {
				continue
			}
			seen[client] = true
			targets = append(targets, client)
		}
	}
	h.mu.RUnlock()

	for _, client := range targets {
		if err := client.sink.Send(event); err != nil {
			log.Printf("presence write error: %v", err)
		}
	}
}
