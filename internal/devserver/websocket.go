package devserver

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/pulseboardhq/pulseboard/internal/realtime"
	"go.uber.org/zap"
)

const (
	wsWriteWait      = 10 * time.Second
	wsPongWait       = 60 * time.Second
	wsPingInterval   = (wsPongWait * 9) / 10
	wsMaxMessageSize = 1024
	wsSendBuffer     = 64
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

func (h *httpHandler) handleWebsocket(c *gin.Context) {
	conn, err := wsUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	session := &wsSession{
		conn:   conn,
		hub:    h.hub,
		logger: h.logger,
		send:   make(chan realtime.ServerEnvelope, wsSendBuffer),
		stop:   make(chan struct{}),
		rooms:  make(map[string]func()),
	}
	go session.writeLoop()
	session.readLoop()
}

// wsSession is one connected push client. The read loop handles room
// membership; one forwarding goroutine per joined room funnels hub
// events into the single writer.
type wsSession struct {
	conn   *websocket.Conn
	hub    *Hub
	logger *zap.Logger
	send   chan realtime.ServerEnvelope
	stop   chan struct{}

	mu    sync.Mutex
	rooms map[string]func()
	once  sync.Once
}

func (s *wsSession) readLoop() {
	defer s.teardown()

	s.conn.SetReadLimit(wsMaxMessageSize)
	s.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(wsPongWait))
		return nil
	})

	for {
		var envelope realtime.ClientEnvelope
		if err := s.conn.ReadJSON(&envelope); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway,
				websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				s.logger.Warn("websocket read failed", zap.Error(err))
			}
			return
		}

		switch {
		case envelope.Join != nil:
			s.joinRoom(envelope.Join.TeamID)
		case envelope.Leave != nil:
			s.leaveRoom(envelope.Leave.TeamID)
		}
	}
}

func (s *wsSession) writeLoop() {
	ticker := time.NewTicker(wsPingInterval)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()

	for {
		select {
		case envelope := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := s.conn.WriteJSON(envelope); err != nil {
				return
			}
		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-s.stop:
			return
		}
	}
}

func (s *wsSession) joinRoom(teamID string) {
	if teamID == "" {
		return
	}
	s.mu.Lock()
	if _, joined := s.rooms[teamID]; joined {
		s.mu.Unlock()
		return
	}
	stream, cleanup := s.hub.Subscribe(context.Background(), teamID)
	s.rooms[teamID] = cleanup
	s.mu.Unlock()

	go s.forward(stream)
}

func (s *wsSession) leaveRoom(teamID string) {
	s.mu.Lock()
	cleanup, joined := s.rooms[teamID]
	if joined {
		delete(s.rooms, teamID)
	}
	s.mu.Unlock()

	if joined {
		cleanup()
	}
}

func (s *wsSession) forward(stream <-chan realtime.UpdateCreated) {
	for {
		select {
		case message, ok := <-stream:
			if !ok {
				return
			}
			event := message
			select {
			case s.send <- realtime.ServerEnvelope{UpdateCreated: &event}:
			default:
				s.logger.Warn("push send buffer full, dropping event",
					zap.String("team_id", message.TeamID))
			}
		case <-s.stop:
			return
		}
	}
}

func (s *wsSession) teardown() {
	s.once.Do(func() {
		s.mu.Lock()
		cleanups := make([]func(), 0, len(s.rooms))
		for teamID, cleanup := range s.rooms {
			cleanups = append(cleanups, cleanup)
			delete(s.rooms, teamID)
		}
		s.mu.Unlock()

		for _, cleanup := range cleanups {
			cleanup()
		}
		close(s.stop)
		s.conn.Close()
	})
}
