package server

import (
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/websocket"

	"github.com/smtaidev/outbound/logger"
	"github.com/smtaidev/outbound/pulse/schedule"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Clients only send pongs and close frames
	maxMessageSize = 4096

	// Per-client outbound queue
	sendBufferSize = 32
)

// Message types pushed over /ws
const (
	MsgWindowEnded     = "window_ended"
	MsgScheduleUpdated = "schedule_updated"
	MsgBatchSubmitted  = "batch_submitted"
)

// WindowEndedMessage announces that the armed calling window has ended
type WindowEndedMessage struct {
	Type       string `json:"type"`
	Generation uint64 `json:"generation"`
	WindowEnd  int64  `json:"window_end"`
	FiredAt    int64  `json:"fired_at"`
}

// ScheduleUpdatedMessage carries the projection after a schedule edit
type ScheduleUpdatedMessage struct {
	Type       string              `json:"type"`
	Projection schedule.Projection `json:"projection"`
}

// BatchSubmittedMessage announces an accepted submission
type BatchSubmittedMessage struct {
	Type          string  `json:"type"`
	JobID         string  `json:"job_id"`
	TotalCalls    int64   `json:"total_calls"`
	EstimatedCost float64 `json:"estimated_cost"`
	WindowEnd     int64   `json:"window_end"`
}

// wsClient is one connected WebSocket peer
type wsClient struct {
	server *Server
	conn   *websocket.Conn
	send   chan interface{}
	id     string
}

func (s *Server) upgrader() websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}
			if s.originAllowed(origin) {
				return true
			}
			// same-host pages are always allowed
			u, err := url.Parse(origin)
			return err == nil && u.Host == r.Host
		},
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	up := s.upgrader()
	conn, err := up.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warnw("WebSocket upgrade failed", logger.FieldError, err)
		return
	}

	c := &wsClient{
		server: s,
		conn:   conn,
		send:   make(chan interface{}, sendBufferSize),
		id:     r.RemoteAddr,
	}
	if !s.register(c) {
		conn.Close()
		return
	}

	go c.writePump()
	go c.readPump()
}

// register adds a client unless the server is shutting down
func (s *Server) register(c *wsClient) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx.Err() != nil {
		return false
	}
	s.clients[c] = struct{}{}
	s.wg.Add(2)
	s.logger.Debugw("WebSocket client connected", "client", c.id, "clients", len(s.clients))
	return true
}

// unregister removes a client and closes its send channel exactly once
func (s *Server) unregister(c *wsClient) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.clients[c]; !ok {
		return
	}
	delete(s.clients, c)
	close(c.send)
	s.logger.Debugw("WebSocket client disconnected", "client", c.id, "clients", len(s.clients))
}

func (s *Server) closeClients() {
	s.mu.Lock()
	clients := make([]*wsClient, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()

	for _, c := range clients {
		s.unregister(c)
	}
}

func (s *Server) clientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

// broadcast queues msg for every client and returns how many accepted it.
// A client whose queue is full misses the message.
func (s *Server) broadcast(msg interface{}) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sent := 0
	for c := range s.clients {
		select {
		case c.send <- msg:
			sent++
		default:
			s.logger.Warnw("WebSocket send queue full, dropping message", "client", c.id)
		}
	}
	return sent
}

// readPump discards client input and detects disconnects
func (c *wsClient) readPump() {
	defer func() {
		c.server.unregister(c)
		c.conn.Close()
		c.server.wg.Done()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.server.logger.Debugw("WebSocket read error", "client", c.id, logger.FieldError, err)
			}
			return
		}
	}
}

// writePump writes queued messages and keeps the connection alive with pings
func (c *wsClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		c.server.wg.Done()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(msg); err != nil {
				c.server.logger.Debugw("WebSocket write error", "client", c.id, logger.FieldError, err)
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
