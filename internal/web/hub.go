package web

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
)

// Client is one WebSocket subscriber watching a session.
type Client struct {
	ID        string
	SessionID string
	Conn      *websocket.Conn
	Send      chan []byte
	Hub       *TurnHub
}

// TurnHub fans turn updates out to WebSocket subscribers, grouped by
// session.
type TurnHub struct {
	sessions   map[string]map[*Client]bool
	register   chan *Client
	unregister chan *Client
	mu         sync.RWMutex
}

// NewTurnHub creates an empty hub.
func NewTurnHub() *TurnHub {
	return &TurnHub{
		sessions:   make(map[string]map[*Client]bool),
		register:   make(chan *Client, 100),
		unregister: make(chan *Client, 100),
	}
}

// Run drives the hub's event loop until the process exits.
func (h *TurnHub) Run() {
	for {
		select {
		case client := <-h.register:
			h.registerClient(client)
		case client := <-h.unregister:
			h.unregisterClient(client)
		}
	}
}

func (h *TurnHub) registerClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	subs, ok := h.sessions[client.SessionID]
	if !ok {
		subs = make(map[*Client]bool)
		h.sessions[client.SessionID] = subs
	}
	subs[client] = true
	log.Printf("[Hub] client %s watching session %s (%d watchers)", client.ID, client.SessionID, len(subs))

	go client.writePump()
	go client.readPump()
}

func (h *TurnHub) unregisterClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	subs, ok := h.sessions[client.SessionID]
	if !ok {
		return
	}
	if _, ok := subs[client]; ok {
		delete(subs, client)
		close(client.Send)
		if len(subs) == 0 {
			delete(h.sessions, client.SessionID)
		}
		log.Printf("[Hub] client %s left session %s (%d watchers)", client.ID, client.SessionID, len(subs))
	}
}

// Broadcast sends a typed payload to every watcher of a session. Slow
// clients are dropped rather than blocking the turn pipeline.
func (h *TurnHub) Broadcast(sessionID, msgType string, payload interface{}) {
	data, err := json.Marshal(map[string]interface{}{
		"type": msgType,
		"data": payload,
		"time": time.Now().Unix(),
	})
	if err != nil {
		log.Printf("[Hub] marshal %s message: %v", msgType, err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.sessions[sessionID] {
		select {
		case client.Send <- data:
		default:
			log.Printf("[Hub] dropping slow client %s", client.ID)
			go func(c *Client) { h.unregister <- c }(client)
		}
	}
}

// Watchers reports how many clients are subscribed to a session.
func (h *TurnHub) Watchers(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions[sessionID])
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump drains the connection so pings and close frames are
// processed; watchers never send application messages.
func (c *Client) readPump() {
	defer func() {
		c.Hub.unregister <- c
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(maxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.Conn.ReadMessage(); err != nil {
			return
		}
	}
}
