package httpapi

import (
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/nextlevelbuilder/climpire/internal/bus"
)

// wsFrame is the wire shape of every WebSocket frame: {type, payload, ts}.
type wsFrame struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
	TS      int64  `json:"ts"`
}

type wsClient struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *wsClient) send(frame wsFrame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(frame)
}

// handleWebSocket upgrades the connection, sends the connected
// handshake, and fans bus events out until the client goes away. A
// failed send drops the subscriber, per spec.md §4.3.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	id := uuid.NewString()
	client := &wsClient{conn: conn}

	s.wsMu.Lock()
	s.wsConns[id] = client
	s.wsMu.Unlock()

	if err := client.send(wsFrame{
		Type:    "connected",
		Payload: map[string]string{"version": s.version, "app": appName},
		TS:      nowMillis(),
	}); err != nil {
		s.dropClient(id)
		return
	}

	s.bus.Subscribe(id, func(ev bus.Event) {
		if err := client.send(wsFrame{Type: ev.Type, Payload: ev.Payload, TS: ev.TimestampMs}); err != nil {
			s.dropClient(id)
		}
	})

	// Reader loop: the client sends nothing we act on, but reads detect
	// disconnects and service control frames.
	go func() {
		defer s.dropClient(id)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (s *Server) dropClient(id string) {
	s.bus.Unsubscribe(id)
	s.wsMu.Lock()
	client, ok := s.wsConns[id]
	delete(s.wsConns, id)
	s.wsMu.Unlock()
	if ok {
		_ = client.conn.Close()
	}
}

func (s *Server) closeAllWebSockets(code int, reason string) {
	s.wsMu.Lock()
	clients := make(map[string]*wsClient, len(s.wsConns))
	for id, c := range s.wsConns {
		clients[id] = c
	}
	s.wsConns = make(map[string]*wsClient)
	s.wsMu.Unlock()

	msg := websocket.FormatCloseMessage(code, reason)
	for id, c := range clients {
		s.bus.Unsubscribe(id)
		c.mu.Lock()
		_ = c.conn.WriteMessage(websocket.CloseMessage, msg)
		c.mu.Unlock()
		_ = c.conn.Close()
	}
}
