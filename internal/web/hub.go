package web

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/atomic"

	"safe-by-design/server/internal/interfaces"
	"safe-by-design/server/internal/logger"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	maxMessageSize = 8192
	sendBuffer     = 256
)

func GameRoom(gameID string) string        { return "game-" + gameID }
func FacilitatorRoom(gameID string) string { return "facilitator-" + gameID }

// RoomFor maps an event audience to the room that receives it.
func RoomFor(e interfaces.OutboundEvent) string {
	if e.Audience == interfaces.AudienceFacilitator {
		return FacilitatorRoom(e.GameID)
	}
	return GameRoom(e.GameID)
}

// Client is one websocket connection. A client joins a game either as a team
// or as the facilitator.
type Client struct {
	ID   string
	Conn *websocket.Conn
	Send chan []byte
	Hub  *Hub

	// sendMu guards Send against a close racing a delivery.
	sendMu     sync.Mutex
	sendClosed bool

	mu          sync.Mutex
	closed      bool
	gameID      string
	teamID      string
	facilitator bool
}

func NewClient(conn *websocket.Conn, hub *Hub) *Client {
	return &Client{
		ID:   uuid.NewString(),
		Conn: conn,
		Send: make(chan []byte, sendBuffer),
		Hub:  hub,
	}
}

func (c *Client) bindTeam(gameID, teamID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gameID, c.teamID, c.facilitator = gameID, teamID, false
}

func (c *Client) bindFacilitator(gameID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gameID, c.teamID, c.facilitator = gameID, "", true
}

func (c *Client) binding() (gameID, teamID string, facilitator bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gameID, c.teamID, c.facilitator
}

// deliver queues data without blocking. It reports false once Send has been
// closed or while the buffer is full.
func (c *Client) deliver(data []byte) bool {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.sendClosed {
		return false
	}
	select {
	case c.Send <- data:
		return true
	default:
		return false
	}
}

// closeSend closes Send once; later calls are no-ops.
func (c *Client) closeSend() {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.sendClosed {
		return
	}
	c.sendClosed = true
	close(c.Send)
}

func (c *Client) deliverEvent(e interfaces.OutboundEvent) {
	data, err := json.Marshal(e)
	if err != nil {
		c.Hub.log.Error("failed to marshal event", "client_id", c.ID, "event", e.Name, "error", err)
		return
	}
	if !c.deliver(data) {
		c.Hub.dropped.Inc()
		c.Hub.log.Warn("client send buffer full", "client_id", c.ID, "event", e.Name)
	}
}

type roomMessage struct {
	room string
	data []byte
}

type HubStats struct {
	Clients int64 `json:"clients"`
	Rooms   int   `json:"rooms"`
	Sent    int64 `json:"sent"`
	Dropped int64 `json:"dropped"`
}

// Hub fans events out to the rooms of each game.
type Hub struct {
	clients    map[string]*Client
	rooms      map[string]map[string]*Client
	register   chan *Client
	unregister chan *Client
	broadcast  chan roomMessage
	done       chan struct{}
	mu         sync.RWMutex
	log        *logger.Logger

	connected *atomic.Int64
	sent      *atomic.Int64
	dropped   *atomic.Int64
}

func NewHub(log *logger.Logger) *Hub {
	if log == nil {
		log = logger.Nop()
	}
	return &Hub{
		clients:    make(map[string]*Client),
		rooms:      make(map[string]map[string]*Client),
		register:   make(chan *Client, 100),
		unregister: make(chan *Client, 100),
		broadcast:  make(chan roomMessage, 1000),
		done:       make(chan struct{}),
		log:        log.With("component", "hub"),
		connected:  atomic.NewInt64(0),
		sent:       atomic.NewInt64(0),
		dropped:    atomic.NewInt64(0),
	}
}

// Run processes registrations and broadcasts until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return

		case client := <-h.register:
			h.registerClient(client)

		case client := <-h.unregister:
			h.unregisterClient(client)

		case msg := <-h.broadcast:
			h.broadcastRoom(msg)
		}
	}
}

func (h *Hub) Register(client *Client) {
	select {
	case h.register <- client:
	case <-h.done:
		client.closeSend()
	}
}

func (h *Hub) registerClient(client *Client) {
	h.mu.Lock()
	h.clients[client.ID] = client
	h.mu.Unlock()

	n := h.connected.Inc()
	h.log.Info("client connected", "client_id", client.ID, "total", n)

	go client.writePump()
}

func (h *Hub) unregisterClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[client.ID]; !ok {
		return
	}
	delete(h.clients, client.ID)
	for name, members := range h.rooms {
		delete(members, client.ID)
		if len(members) == 0 {
			delete(h.rooms, name)
		}
	}
	client.closeSend()
	n := h.connected.Dec()
	h.log.Info("client disconnected", "client_id", client.ID, "total", n)
}

func (h *Hub) shutdown() {
	close(h.done)
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, client := range h.clients {
		client.closeSend()
		delete(h.clients, id)
	}
	h.rooms = make(map[string]map[string]*Client)
	h.connected.Store(0)
	h.log.Info("hub stopped")
}

// Join adds a client to a room. A client may sit in several rooms.
func (h *Hub) Join(client *Client, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	members, ok := h.rooms[room]
	if !ok {
		members = make(map[string]*Client)
		h.rooms[room] = members
	}
	members[client.ID] = client
}

// Leave removes a client from every room it joined.
func (h *Hub) Leave(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for name, members := range h.rooms {
		delete(members, client.ID)
		if len(members) == 0 {
			delete(h.rooms, name)
		}
	}
}

func (h *Hub) broadcastRoom(msg roomMessage) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	sentCount := 0
	for _, client := range h.rooms[msg.room] {
		if client.deliver(msg.data) {
			sentCount++
			continue
		}
		h.dropped.Inc()
		h.log.Warn("client send buffer full", "client_id", client.ID, "room", msg.room)
	}
	h.sent.Add(int64(sentCount))
	h.log.Debug("broadcast", "room", msg.room, "clients", sentCount)
}

// Broadcast queues data for every client in room.
func (h *Hub) Broadcast(room string, data []byte) {
	select {
	case h.broadcast <- roomMessage{room: room, data: data}:
	default:
		h.dropped.Inc()
		h.log.Warn("broadcast channel full, dropping message", "room", room)
	}
}

func (h *Hub) RoomSize(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

func (h *Hub) Stats() HubStats {
	h.mu.RLock()
	rooms := len(h.rooms)
	h.mu.RUnlock()
	return HubStats{
		Clients: h.connected.Load(),
		Rooms:   rooms,
		Sent:    h.sent.Load(),
		Dropped: h.dropped.Load(),
	}
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
			c.mu.Lock()
			_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.closed = true
				_ = c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				c.mu.Unlock()
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.Hub.log.Debug("write failed", "client_id", c.ID, "error", err)
				c.closed = true
				c.mu.Unlock()
				return
			}
			c.mu.Unlock()

		case <-ticker.C:
			c.mu.Lock()
			if c.closed {
				c.mu.Unlock()
				return
			}
			_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Hub.log.Debug("ping failed", "client_id", c.ID, "error", err)
				c.closed = true
				c.mu.Unlock()
				return
			}
			c.mu.Unlock()
		}
	}
}

func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.Conn.Close()
}

// readPump hands every inbound frame to handle until the connection drops.
func (c *Client) readPump(handle func(*Client, []byte)) {
	defer func() {
		select {
		case c.Hub.unregister <- c:
		case <-c.Hub.done:
		}
		c.Close()
	}()

	c.Conn.SetReadLimit(maxMessageSize)
	_ = c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		return c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.Hub.log.Warn("unexpected close", "client_id", c.ID, "error", err)
			}
			return
		}
		handle(c, message)
	}
}
