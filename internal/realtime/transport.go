package realtime

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const transportWriteWait = 10 * time.Second

// ErrMissingServerURL indicates the websocket transport was built
// without an endpoint.
var ErrMissingServerURL = errors.New("realtime: server url is required")

// Transport establishes push-channel sessions. The Connection owns
// lifecycle and reconnection; a Transport only knows how to dial once.
type Transport interface {
	Dial(ctx context.Context) (Session, error)
}

// Session is one established push-channel connection.
type Session interface {
	JoinRoom(teamID string) error
	LeaveRoom(teamID string) error
	// ReadEnvelope blocks until the next server message arrives or the
	// session drops, in which case it returns the transport error.
	ReadEnvelope() (ServerEnvelope, error)
	Close() error
}

// WebsocketTransport dials a Pulseboard push endpoint over websocket.
type WebsocketTransport struct {
	url    string
	dialer *websocket.Dialer
}

// NewWebsocketTransport constructs a transport for the given ws:// or
// wss:// endpoint URL.
func NewWebsocketTransport(url string) (*WebsocketTransport, error) {
	trimmed := strings.TrimSpace(url)
	if trimmed == "" {
		return nil, ErrMissingServerURL
	}
	return &WebsocketTransport{url: trimmed, dialer: websocket.DefaultDialer}, nil
}

// Dial performs the websocket handshake and returns the session.
func (t *WebsocketTransport) Dial(ctx context.Context) (Session, error) {
	conn, _, err := t.dialer.DialContext(ctx, t.url, nil)
	if err != nil {
		return nil, fmt.Errorf("realtime: dial %s: %w", t.url, err)
	}
	return &websocketSession{conn: conn}, nil
}

type websocketSession struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func (s *websocketSession) JoinRoom(teamID string) error {
	return s.writeEnvelope(ClientEnvelope{Join: &JoinRoom{TeamID: teamID}})
}

func (s *websocketSession) LeaveRoom(teamID string) error {
	return s.writeEnvelope(ClientEnvelope{Leave: &LeaveRoom{TeamID: teamID}})
}

func (s *websocketSession) writeEnvelope(envelope ClientEnvelope) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.conn.SetWriteDeadline(time.Now().Add(transportWriteWait))
	return s.conn.WriteJSON(envelope)
}

func (s *websocketSession) ReadEnvelope() (ServerEnvelope, error) {
	var envelope ServerEnvelope
	if err := s.conn.ReadJSON(&envelope); err != nil {
		return ServerEnvelope{}, err
	}
	return envelope, nil
}

func (s *websocketSession) Close() error {
	return s.conn.Close()
}
