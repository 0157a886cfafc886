package websocket

import (
	"context"
	"sync/atomic"

	"github.com/satriahrh/gemini-chat/utils/log"
	"go.uber.org/zap"
)

type delivery struct {
	sessionID string
	payload   []byte
}

// Hub tracks connected clients per session. All map access happens on the
// run goroutine.
type Hub struct {
	sessions   map[string]map[*Client]bool
	register   chan *Client
	unregister chan *Client
	deliver    chan delivery
	done       chan struct{}
	count      atomic.Int64
}

// NewHub creates a new WebSocket hub
func NewHub() *Hub {
	return &Hub{
		sessions:   make(map[string]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		deliver:    make(chan delivery, 64),
		done:       make(chan struct{}),
	}
}

// Run processes hub events until ctx is done.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case client := <-h.register:
			clients, ok := h.sessions[client.sessionID]
			if !ok {
				clients = make(map[*Client]bool)
				h.sessions[client.sessionID] = clients
			}
			clients[client] = true
			h.count.Add(1)
			log.WithCtx(client.ctx).Debug("New client registered")

		case client := <-h.unregister:
			if clients, ok := h.sessions[client.sessionID]; ok && clients[client] {
				delete(clients, client)
				if len(clients) == 0 {
					delete(h.sessions, client.sessionID)
				}
				h.count.Add(-1)
				client.Close()
				log.WithCtx(client.ctx).Debug("Client unregistered")
			}

		case d := <-h.deliver:
			for client := range h.sessions[d.sessionID] {
				if err := client.SendMessage(d.payload); err != nil {
					log.WithCtx(client.ctx).Warn("Dropping frame for client", zap.Error(err))
				}
			}

		case <-ctx.Done():
			for _, clients := range h.sessions {
				for client := range clients {
					client.Close()
				}
			}
			h.sessions = make(map[string]map[*Client]bool)
			h.count.Store(0)
			return
		}
	}
}

// Register adds a client to the hub
func (h *Hub) Register(client *Client) {
	select {
	case h.register <- client:
	case <-h.done:
		client.Close()
	}
}

// Unregister removes a client from the hub
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// SendToSession queues a frame for every client of the session.
func (h *Hub) SendToSession(sessionID string, payload []byte) {
	select {
	case h.deliver <- delivery{sessionID: sessionID, payload: payload}:
	case <-h.done:
	}
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	return int(h.count.Load())
}
