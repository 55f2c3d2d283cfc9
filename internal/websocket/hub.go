// Package websocket streams desk snapshots to browser clients.
package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/rzzdr/options-risk-desk/config"
	"github.com/rzzdr/options-risk-desk/pkg/metrics"
	"github.com/rzzdr/options-risk-desk/pkg/models"
	"github.com/rzzdr/options-risk-desk/pkg/utils/logger"
)

// Outbound message types
const (
	TypeSnapshot = "snapshot"
	TypePong     = "pong"
	TypeError    = "error"
)

// SnapshotSource builds an on-demand snapshot for a refresh request
type SnapshotSource interface {
	Snapshot(spot float64) (*models.DeskSnapshot, error)
}

// Hub maintains the set of active clients and broadcasts snapshots to them
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client
	reply      chan reply
	done       chan struct{}

	source   SnapshotSource
	recorder *metrics.Recorder
	settings config.WebsocketConfig
	log      *logger.Logger

	mu   sync.RWMutex
	last *models.DeskSnapshot
	// lastFrame is last, encoded, for replay to new clients
	lastFrame []byte
}

// Client is a middleman between the websocket connection and the hub
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	id   string
}

type reply struct {
	client *Client
	data   []byte
}

// Message is the envelope for everything written to a client
type Message struct {
	Type  string      `json:"type"`
	Data  interface{} `json:"data,omitempty"`
	Error string      `json:"error,omitempty"`
	ID    string      `json:"id,omitempty"`
}

// Request is a message read from a client
type Request struct {
	Type string   `json:"type"`
	Spot *float64 `json:"spot,omitempty"`
	ID   string   `json:"id,omitempty"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// NewHub creates a new WebSocket hub
func NewHub(source SnapshotSource, settings config.WebsocketConfig, recorder *metrics.Recorder) *Hub {
	if settings.WriteWait <= 0 {
		settings.WriteWait = 10 * time.Second
	}
	if settings.PongWait <= 0 {
		settings.PongWait = 60 * time.Second
	}
	if settings.MaxMessageSize <= 0 {
		settings.MaxMessageSize = 512
	}
	if settings.SendBuffer <= 0 {
		settings.SendBuffer = 16
	}

	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		reply:      make(chan reply, 64),
		done:       make(chan struct{}),
		source:     source,
		recorder:   recorder,
		settings:   settings,
		log:        logger.GetLogger("websocket.hub"),
	}
}

// Run serves register, unregister and broadcast until ctx is cancelled
func (h *Hub) Run(ctx context.Context) {
	h.log.Info("Starting WebSocket hub")
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			for client := range h.clients {
				h.drop(client)
			}
			h.log.Info("WebSocket hub shutting down")
			return

		case client := <-h.register:
			h.clients[client] = true
			h.mu.RLock()
			frame := h.lastFrame
			h.mu.RUnlock()
			if frame != nil {
				h.deliver(client, frame)
			}
			h.recorder.RecordWebsocketClients(len(h.clients))
			h.log.Infof("Client %s registered", client.id)

		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				h.drop(client)
				h.log.Infof("Client %s unregistered", client.id)
			}

		case r := <-h.reply:
			if h.clients[r.client] {
				h.deliver(r.client, r.data)
			}

		case message := <-h.broadcast:
			for client := range h.clients {
				h.deliver(client, message)
			}
		}
	}
}

// deliver queues data for client, dropping clients that cannot keep up
func (h *Hub) deliver(client *Client, data []byte) {
	select {
	case client.send <- data:
	default:
		h.log.Warnf("Client %s is too slow, disconnecting", client.id)
		h.drop(client)
	}
}

func (h *Hub) drop(client *Client) {
	if _, ok := h.clients[client]; !ok {
		return
	}
	delete(h.clients, client)
	close(client.send)
	h.recorder.RecordWebsocketClients(len(h.clients))
}

// Name identifies the hub as a snapshot sink
func (h *Hub) Name() string {
	return "websocket"
}

// Publish broadcasts a snapshot and keeps it for replay to clients that
// connect later. Older sequences never replace a newer replay snapshot.
func (h *Hub) Publish(ctx context.Context, snapshot *models.DeskSnapshot) error {
	data, err := json.Marshal(Message{Type: TypeSnapshot, Data: snapshot})
	if err != nil {
		return err
	}

	h.mu.Lock()
	if h.last == nil || snapshot.Sequence >= h.last.Sequence {
		h.last = snapshot
		h.lastFrame = data
	}
	h.mu.Unlock()

	select {
	case h.broadcast <- data:
		return nil
	case <-h.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Last returns the most recent snapshot published, or nil
func (h *Hub) Last() *models.DeskSnapshot {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.last
}

// HandleWebSocket upgrades the request and attaches a client to the hub
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Errorf("WebSocket upgrade failed: %v", err)
		return
	}

	client := &Client{
		hub:  h,
		conn: conn,
		send: make(chan []byte, h.settings.SendBuffer),
		id:   uuid.NewString(),
	}

	select {
	case h.register <- client:
	case <-h.done:
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

// readPump pumps requests from the websocket connection to the hub
func (c *Client) readPump() {
	s := c.hub.settings
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(s.MaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(s.PongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(s.PongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.log.Errorf("WebSocket error: %v", err)
			}
			break
		}

		c.handleRequest(data)
	}
}

// writePump pumps messages from the hub to the websocket connection
func (c *Client) writePump() {
	s := c.hub.settings
	ticker := time.NewTicker(s.PongWait * 9 / 10)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(s.WriteWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(s.WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) handleRequest(data []byte) {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		c.respond(Message{Type: TypeError, Error: "Invalid message format"})
		return
	}

	switch req.Type {
	case "ping":
		c.respond(Message{Type: TypePong, ID: req.ID})
	case "refresh":
		c.refresh(req)
	default:
		c.respond(Message{Type: TypeError, Error: "Unknown message type", ID: req.ID})
	}
}

// refresh revalues the book at the requested spot, or at the spot of the
// last published snapshot when none is given.
func (c *Client) refresh(req Request) {
	var spot float64
	switch {
	case req.Spot != nil:
		spot = *req.Spot
	case c.hub.Last() != nil:
		spot = c.hub.Last().Spot
	default:
		c.respond(Message{Type: TypeError, Error: "spot is required before the first trade", ID: req.ID})
		return
	}

	snapshot, err := c.hub.source.Snapshot(spot)
	if err != nil {
		c.respond(Message{Type: TypeError, Error: err.Error(), ID: req.ID})
		return
	}
	c.respond(Message{Type: TypeSnapshot, Data: snapshot, ID: req.ID})
}

func (c *Client) respond(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		c.hub.log.Errorf("Failed to marshal message: %v", err)
		return
	}

	select {
	case c.hub.reply <- reply{client: c, data: data}:
	case <-c.hub.done:
	}
}
