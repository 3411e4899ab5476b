package server

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// wsClient pairs a connection with a write lock. Handlers broadcast from
// their own goroutines and gorilla/websocket forbids concurrent writers, so
// every write to one connection is serialized here.
type wsClient struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *wsClient) write(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// hub is the broadcast transport: a table of live websocket connections
// keyed by an opaque client id. It holds no game state and knows nothing
// about room membership; room-scoped events carry roomId in their payload
// and clients filter on it. Delivery is best-effort, at most once per
// connection.
type hub struct {
	mu    sync.Mutex
	conns map[string]*wsClient
}

func newHub() *hub {
	return &hub{
		conns: make(map[string]*wsClient),
	}
}

// Register stores the connection and acknowledges with the assigned id.
func (h *hub) Register(conn *websocket.Conn) string {
	id := uuid.NewString()
	client := &wsClient{conn: conn}
	h.mu.Lock()
	h.conns[id] = client
	h.mu.Unlock()
	h.send(client, map[string]any{
		"type":     "connected",
		"clientId": id,
		"message":  "connected to buzzmaster",
	})
	return id
}

func (h *hub) Unregister(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if client, ok := h.conns[id]; ok {
		delete(h.conns, id)
		_ = client.conn.Close()
	}
}

func (h *hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

func (h *hub) send(client *wsClient, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	_ = client.write(data)
}

// BroadcastAll serializes once and writes to every live connection. A failed
// write counts as a disconnect and never surfaces to the caller.
func (h *hub) BroadcastAll(payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	h.mu.Lock()
	ids := make([]string, 0, len(h.conns))
	clients := make([]*wsClient, 0, len(h.conns))
	for id, client := range h.conns {
		ids = append(ids, id)
		clients = append(clients, client)
	}
	h.mu.Unlock()
	for i, client := range clients {
		if err := client.write(data); err != nil {
			h.Unregister(ids[i])
		}
	}
}

// BroadcastRoom degrades to BroadcastAll with roomId embedded in the payload.
// The transport deliberately tracks no server-side room membership.
func (h *hub) BroadcastRoom(roomID uint, envelope map[string]any) {
	if data, ok := envelope["data"].(map[string]any); ok {
		data["roomId"] = roomID
	}
	h.BroadcastAll(envelope)
}

func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	id := s.hub.Register(conn)
	log.Printf("ws connected client_id=%s remote=%s", id, r.RemoteAddr)
	go s.readWS(id, conn)
}

// readWS relays any parsed client frame verbatim to every connection. The
// server performs no validation here; clients never mutate game state over
// this channel.
func (s *Server) readWS(id string, conn *websocket.Conn) {
	defer s.hub.Unregister(id)
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			log.Printf("ws disconnected client_id=%s error=%v", id, err)
			return
		}
		var payload any
		if err := json.Unmarshal(raw, &payload); err != nil {
			continue
		}
		s.hub.BroadcastAll(payload)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"clients":   s.hub.ClientCount(),
		"timestamp": time.Now().UTC(),
	})
}
