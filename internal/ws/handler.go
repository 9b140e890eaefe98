package ws

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/shellpane/backend/internal/term"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 64 * 1024
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// TODO: restrict origins once the desktop client ships a fixed one
		return true
	},
}

// Handler upgrades HTTP connections and bridges them to terminals.
type Handler struct {
	hubs    *HubManager
	manager *term.Manager
	log     *zap.Logger
}

// NewHandler creates a WebSocket handler.
func NewHandler(hubs *HubManager, manager *term.Manager, log *zap.Logger) *Handler {
	return &Handler{
		hubs:    hubs,
		manager: manager,
		log:     log.Named("ws"),
	}
}

// HandleConnection upgrades the request and attaches the client to the
// terminal's hub. New clients receive the buffered scrollback first so
// a reconnecting view can restore its screen.
func (h *Handler) HandleConnection(w http.ResponseWriter, r *http.Request, terminalID string) error {
	if !h.manager.Exists(terminalID) {
		http.Error(w, "terminal not found", http.StatusNotFound)
		return nil
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}

	hub := h.hubs.GetOrCreate(terminalID)
	client := NewClient(conn, terminalID)
	hub.Register(client)

	h.sendHistory(client, terminalID)

	go h.writePump(client)
	go h.readPump(client, hub)

	return nil
}

// sendHistory replays the terminal's ring buffer to a new client.
func (h *Handler) sendHistory(client *Client, terminalID string) {
	history, ok := h.manager.History(terminalID)
	if !ok || len(history) == 0 {
		return
	}

	msg := &Message{
		Type: MessageTypeHistory,
		Data: string(history),
	}
	data, err := json.Marshal(msg)
	if err != nil {
		h.log.Warn("marshal history message", zap.Error(err))
		return
	}
	client.Send(data)
}

// handleMessage routes a single client message.
func (h *Handler) handleMessage(client *Client, msg *Message) {
	switch msg.Type {
	case MessageTypeStdin:
		if msg.Data == "" {
			return
		}
		if !h.manager.Write(client.terminalID, []byte(msg.Data)) {
			h.sendError(client, "terminal not found")
		}
	case MessageTypeResize:
		if msg.Cols == 0 || msg.Rows == 0 {
			return
		}
		h.manager.Resize(client.terminalID, msg.Cols, msg.Rows)
	case MessageTypePing:
		h.sendPong(client)
	}
}

func (h *Handler) sendPong(client *Client) {
	data, err := json.Marshal(&Message{Type: MessageTypePong})
	if err != nil {
		return
	}
	client.Send(data)
}

func (h *Handler) sendError(client *Client, text string) {
	data, err := json.Marshal(&Message{Type: MessageTypeError, Error: text})
	if err != nil {
		return
	}
	client.Send(data)
}

// readPump pumps messages from the WebSocket connection into the manager.
func (h *Handler) readPump(client *Client, hub *Hub) {
	defer func() {
		hub.Unregister(client)
		client.conn.Close()
	}()

	client.conn.SetReadLimit(maxMessageSize)
	client.conn.SetReadDeadline(time.Now().Add(pongWait))
	client.conn.SetPongHandler(func(string) error {
		client.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := client.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.log.Debug("websocket read", zap.String("terminal_id", client.terminalID), zap.Error(err))
			}
			break
		}

		var msg Message
		if err := json.Unmarshal(raw, &msg); err != nil {
			h.log.Warn("unmarshal client message", zap.Error(err))
			continue
		}
		h.handleMessage(client, &msg)
	}
}

// writePump pumps queued messages out to the WebSocket connection.
// Each message goes out in its own text frame so clients can parse
// frames independently.
func (h *Handler) writePump(client *Client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		client.conn.Close()
	}()

	for {
		select {
		case message, ok := <-client.send:
			client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				client.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := client.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

			n := len(client.send)
			for i := 0; i < n; i++ {
				queued := <-client.send
				client.conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := client.conn.WriteMessage(websocket.TextMessage, queued); err != nil {
					return
				}
			}
		case <-ticker.C:
			client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
