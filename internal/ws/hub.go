// Package ws streams terminal output to WebSocket clients and routes
// their input back into the terminal manager.
package ws

import (
	"encoding/json"
	"sync"

	"github.com/gorilla/websocket"
)

// MessageType identifies a WebSocket message.
type MessageType string

const (
	// Client -> server
	MessageTypeStdin  MessageType = "stdin"
	MessageTypeResize MessageType = "resize"
	MessageTypePing   MessageType = "ping"

	// Server -> client
	MessageTypeStdout  MessageType = "stdout"
	MessageTypeHistory MessageType = "history"
	MessageTypeExit    MessageType = "exit"
	MessageTypePong    MessageType = "pong"
	MessageTypeError   MessageType = "error"
)

// Message is the wire format exchanged with terminal clients. Terminal
// data is opaque bytes carried in Data; this layer never interprets it.
type Message struct {
	Type  MessageType `json:"type"`
	Data  string      `json:"data,omitempty"`
	Cols  uint16      `json:"cols,omitempty"`
	Rows  uint16      `json:"rows,omitempty"`
	Code  *int        `json:"code,omitempty"`
	Error string      `json:"error,omitempty"`
}

// Client is one WebSocket connection attached to a terminal.
type Client struct {
	conn       *websocket.Conn
	terminalID string
	send       chan []byte

	mu     sync.Mutex
	closed bool
}

// NewClient creates a client for the given connection and terminal.
func NewClient(conn *websocket.Conn, terminalID string) *Client {
	return &Client{
		conn:       conn,
		terminalID: terminalID,
		send:       make(chan []byte, 256),
	}
}

// Send queues data for delivery. A client whose buffer is full is
// dropped rather than allowed to stall the terminal's output fan-out.
func (c *Client) Send(data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}

	select {
	case c.send <- data:
	default:
		c.closeLocked()
	}
}

// Close closes the client's send channel.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeLocked()
}

func (c *Client) closeLocked() {
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// IsClosed reports whether the client has been closed.
func (c *Client) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Hub fans terminal output out to every client attached to one terminal.
type Hub struct {
	terminalID string

	mu      sync.RWMutex
	clients map[*Client]bool
}

// NewHub creates a hub for the given terminal.
func NewHub(terminalID string) *Hub {
	return &Hub{
		terminalID: terminalID,
		clients:    make(map[*Client]bool),
	}
}

// Register attaches a client to the hub.
func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[client] = true
}

// Unregister detaches and closes a client.
func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	delete(h.clients, client)
	h.mu.Unlock()

	client.Close()
}

// Broadcast queues data on every attached client.
func (h *Hub) Broadcast(data []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.clients {
		client.Send(data)
	}
}

// BroadcastMessage marshals msg and broadcasts it.
func (h *Hub) BroadcastMessage(msg *Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	h.Broadcast(data)
	return nil
}

// ClientCount returns the number of attached clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close detaches and closes every client.
func (h *Hub) Close() {
	h.mu.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.clients = make(map[*Client]bool)
	h.mu.Unlock()

	for _, client := range clients {
		client.Close()
	}
}

// HubManager holds one hub per live terminal.
type HubManager struct {
	mu   sync.RWMutex
	hubs map[string]*Hub
}

// NewHubManager creates an empty HubManager.
func NewHubManager() *HubManager {
	return &HubManager{hubs: make(map[string]*Hub)}
}

// GetOrCreate returns the hub for a terminal, creating it on first use.
func (m *HubManager) GetOrCreate(terminalID string) *Hub {
	m.mu.Lock()
	defer m.mu.Unlock()

	if hub, ok := m.hubs[terminalID]; ok {
		return hub
	}
	hub := NewHub(terminalID)
	m.hubs[terminalID] = hub
	return hub
}

// Get returns the hub for a terminal, or nil.
func (m *HubManager) Get(terminalID string) *Hub {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.hubs[terminalID]
}

// Remove closes and discards the hub for a terminal.
func (m *HubManager) Remove(terminalID string) {
	m.mu.Lock()
	hub, ok := m.hubs[terminalID]
	delete(m.hubs, terminalID)
	m.mu.Unlock()

	if ok {
		hub.Close()
	}
}

// Close closes all hubs.
func (m *HubManager) Close() {
	m.mu.Lock()
	hubs := make([]*Hub, 0, len(m.hubs))
	for _, hub := range m.hubs {
		hubs = append(hubs, hub)
	}
	m.hubs = make(map[string]*Hub)
	m.mu.Unlock()

	for _, hub := range hubs {
		hub.Close()
	}
}
