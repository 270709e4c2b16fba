package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/michaelbrown/playground/internal/playground"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// wsIncoming is a message from the client.
type wsIncoming struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

// wsOutgoing is a message to the client. Reset and append messages carry
// log text in Content; status messages carry Status.
type wsOutgoing struct {
	Type       string          `json:"type"`
	Content    string          `json:"content,omitempty"`
	Generation uint64          `json:"generation,omitempty"`
	RunID      string          `json:"run_id,omitempty"`
	Status     *statusResponse `json:"status,omitempty"`
}

// wsConn serialises writes; gorilla connections allow one writer at a time.
type wsConn struct {
	conn   *websocket.Conn
	mu     sync.Mutex
	logger *zap.Logger
}

func (c *wsConn) writeJSON(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		c.logger.Warn("websocket marshal error", zap.Error(err))
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		c.logger.Debug("websocket write error", zap.Error(err))
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade error", zap.Error(err))
		return
	}
	defer conn.Close()

	s.metrics.WSConnected()
	defer s.metrics.WSDisconnected()

	ws := &wsConn{conn: conn, logger: s.logger}
	st := s.status()
	ws.writeJSON(wsOutgoing{Type: "status", Status: &st})

	events, unsubscribe := s.log.Subscribe()
	defer unsubscribe()

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		s.readLoop(ws)
	}()

	booted := s.session.Done()
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			ws.writeJSON(wsOutgoing{Type: string(ev.Type), Content: ev.Text, Generation: ev.Generation})
		case <-booted:
			booted = nil
			st := s.status()
			ws.writeJSON(wsOutgoing{Type: "status", Status: &st})
		case <-closed:
			return
		case <-s.ctx.Done():
			ws.mu.Lock()
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
			ws.mu.Unlock()
			return
		}
	}
}

// readLoop handles client requests until the connection closes.
func (s *Server) readLoop(ws *wsConn) {
	for {
		var msg wsIncoming
		if err := ws.conn.ReadJSON(&msg); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug("websocket read error", zap.Error(err))
			}
			return
		}

		if msg.Type != "run" {
			ws.writeJSON(wsOutgoing{Type: "error", Content: "invalid message"})
			continue
		}

		// Output reaches the client through the log subscription.
		run, err := s.startRun(msg.Content)
		switch {
		case errors.Is(err, playground.ErrNotReady):
			ws.writeJSON(wsOutgoing{Type: "error", Content: err.Error()})
		case err != nil:
			// The log already reads "Error: ..." and was pushed as a reset.
		default:
			ws.writeJSON(wsOutgoing{Type: "started", RunID: run.ID, Generation: run.Generation})
		}
	}
}
