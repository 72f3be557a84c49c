package server

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	msgSyncPlayback    = "sync_playback"
	msgPlaybackChanged = "playback_changed"
	msgPing            = "ping"
	msgPong            = "pong"
	msgError           = "error"

	wsWriteTimeout = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Callers are authenticated by JWT before the upgrade.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsIncoming is a message from the client.
type wsIncoming struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// wsOutgoing is a message to the client.
type wsOutgoing struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
	Source  string `json:"source,omitempty"`
	Message string `json:"message,omitempty"`
}

// wsConn is one websocket connection. gorilla connections allow a single
// concurrent writer, so writes go through mu.
type wsConn struct {
	id     string
	userID string
	conn   *websocket.Conn
	mu     sync.Mutex
}

func (c *wsConn) write(msg wsOutgoing) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return c.conn.WriteJSON(msg)
}

// Hub tracks websocket connections grouped into one room per user.
type Hub struct {
	mu    sync.RWMutex
	rooms map[string]map[string]*wsConn
}

func NewHub() *Hub {
	return &Hub{rooms: make(map[string]map[string]*wsConn)}
}

func (h *Hub) join(c *wsConn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	room, ok := h.rooms[c.userID]
	if !ok {
		room = make(map[string]*wsConn)
		h.rooms[c.userID] = room
	}
	room[c.id] = c
}

func (h *Hub) leave(c *wsConn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	room := h.rooms[c.userID]
	delete(room, c.id)
	if len(room) == 0 {
		delete(h.rooms, c.userID)
	}
}

// Connections returns the number of open connections for userID.
func (h *Hub) Connections(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[userID])
}

// Publish sends msg to every connection of userID except the one with id
// exceptID. It returns the number of connections written to.
func (h *Hub) Publish(userID, exceptID string, msg wsOutgoing) int {
	h.mu.RLock()
	targets := make([]*wsConn, 0, len(h.rooms[userID]))
	for id, c := range h.rooms[userID] {
		if id != exceptID {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	sent := 0
	for _, c := range targets {
		if err := c.write(msg); err != nil {
			log.Debug().Err(err).Str("conn", c.id).Msg("websocket publish failed")
			continue
		}
		sent++
	}
	return sent
}

// PlaybackChanged notifies all of a user's connections that playback moved.
func (h *Hub) PlaybackChanged(userID, source string, payload any) {
	h.Publish(userID, "", wsOutgoing{Type: msgPlaybackChanged, Source: source, Payload: payload})
}

// CloseAll closes every connection; their read loops then exit.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for userID, room := range h.rooms {
		for _, c := range room {
			c.mu.Lock()
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
				time.Now().Add(time.Second))
			c.conn.Close()
			c.mu.Unlock()
		}
		delete(h.rooms, userID)
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	id, _ := identityFrom(r.Context())

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	c := &wsConn{id: uuid.NewString(), userID: id.UserID, conn: conn}
	s.hub.join(c)
	defer s.hub.leave(c)

	log.Debug().Str("user", id.UserID).Str("conn", c.id).Msg("websocket connected")

	// Read loop
	for {
		var msg wsIncoming
		if err := conn.ReadJSON(&msg); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Debug().Err(err).Str("conn", c.id).Msg("websocket read ended")
			}
			return
		}

		switch msg.Type {
		case msgSyncPlayback:
			s.hub.Publish(c.userID, c.id, wsOutgoing{Type: msgSyncPlayback, Source: c.id, Payload: msg.Payload})
		case msgPing:
			_ = c.write(wsOutgoing{Type: msgPong})
		default:
			_ = c.write(wsOutgoing{Type: msgError, Message: "unknown message type"})
		}
	}
}
