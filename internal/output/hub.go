package output

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Message is the envelope host pages send over the WebSocket.
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// MessageTypeConfig carries a configuration update from the host.
const MessageTypeConfig = "config"

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Hub is a Sink that broadcasts updates to every connected host page and
// forwards configuration messages from them.
type Hub struct {
	logger   *slog.Logger
	onConfig func(json.RawMessage) error

	mu      sync.Mutex
	clients map[*websocket.Conn]bool

	// writeMu serializes broadcasts; a connection allows one writer.
	writeMu sync.Mutex
}

// Compile-time interface satisfaction check.
var _ Sink = (*Hub)(nil)

// NewHub creates a hub. onConfig, if non-nil, receives the payload of every
// config message.
func NewHub(logger *slog.Logger, onConfig func(json.RawMessage) error) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		logger:   logger,
		onConfig: onConfig,
		clients:  make(map[*websocket.Conn]bool),
	}
}

// ServeHTTP upgrades the request and serves the connection until it closes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("[OUTPUT] websocket upgrade failed", "error", err)
		return
	}
	h.addClient(conn)
	h.logger.Info("[OUTPUT] host connected", "remote", r.RemoteAddr)
	defer h.removeClient(conn)

	for {
		var msg Message
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Warn("[OUTPUT] websocket read failed", "error", err)
			}
			return
		}
		switch msg.Type {
		case MessageTypeConfig:
			if h.onConfig == nil {
				continue
			}
			if err := h.onConfig(msg.Payload); err != nil {
				h.logger.Warn("[OUTPUT] rejected host config", "error", err)
			}
		default:
			h.logger.Debug("[OUTPUT] ignoring host message", "type", msg.Type)
		}
	}
}

// Publish broadcasts {key: value} to every client.
func (h *Hub) Publish(key string, value any) error {
	data, err := EncodeUpdate(key, value)
	if err != nil {
		return err
	}
	h.Broadcast(data)
	return nil
}

// Broadcast writes data to every client, dropping clients that fail.
func (h *Hub) Broadcast(data []byte) {
	h.writeMu.Lock()
	defer h.writeMu.Unlock()

	h.mu.Lock()
	clients := make([]*websocket.Conn, 0, len(h.clients))
	for conn := range h.clients {
		clients = append(clients, conn)
	}
	h.mu.Unlock()

	var wg sync.WaitGroup
	var failedMu sync.Mutex
	var failed []*websocket.Conn
	for _, conn := range clients {
		wg.Add(1)
		go func(c *websocket.Conn) {
			defer wg.Done()
			// Slow clients must not stall notifications.
			c.SetWriteDeadline(time.Now().Add(100 * time.Millisecond))
			if err := c.WriteMessage(websocket.TextMessage, data); err != nil {
				failedMu.Lock()
				failed = append(failed, c)
				failedMu.Unlock()
			}
		}(conn)
	}
	wg.Wait()

	for _, conn := range failed {
		h.removeClient(conn)
	}
}

// Clients returns the number of connected host pages.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.clients {
		conn.Close()
		delete(h.clients, conn)
	}
}

func (h *Hub) addClient(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[conn] = true
}

func (h *Hub) removeClient(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[conn]; ok {
		delete(h.clients, conn)
		conn.Close()
	}
}
