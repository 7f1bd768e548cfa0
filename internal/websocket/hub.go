package websocket

import "sync"

// Hub indexes live clients by user so notifications reach every device.
type Hub struct {
	mu    sync.RWMutex
	users map[string]map[string]*Client
}

func NewHub() *Hub {
	return &Hub{users: make(map[string]map[string]*Client)}
}

func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	clients, ok := h.users[client.UserID]
	if !ok {
		clients = make(map[string]*Client)
		h.users[client.UserID] = clients
	}
	clients[client.ID] = client
}

func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	clients, ok := h.users[client.UserID]
	if !ok {
		return
	}
	delete(clients, client.ID)
	if len(clients) == 0 {
		delete(h.users, client.UserID)
	}
}

// BroadcastToUser queues payload on every connection of userID and reports
// how many connections received it.
func (h *Hub) BroadcastToUser(userID string, payload []byte) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	clients := h.users[userID]
	for _, c := range clients {
		c.SendMessage(payload)
	}
	return len(clients)
}

func (h *Hub) GetClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, clients := range h.users {
		n += len(clients)
	}
	return n
}

func (h *Hub) GetUserClientCount(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.users[userID])
}

// CloseAll disconnects every client.
func (h *Hub) CloseAll() {
	h.mu.RLock()
	var all []*Client
	for _, clients := range h.users {
		for _, c := range clients {
			all = append(all, c)
		}
	}
	h.mu.RUnlock()
	for _, c := range all {
		c.Close()
	}
}
