package realtime

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// State describes the push channel lifecycle.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateReconnecting State = "reconnecting"
)

// ErrMissingTransport indicates a Connection was configured without a
// transport.
var ErrMissingTransport = errors.New("realtime: transport is required")

// ConnectionConfig bundles the dependencies of the push channel state
// machine.
type ConnectionConfig struct {
	Transport       Transport
	Logger          *zap.Logger
	MaxAttempts     int
	DelayForAttempt func(int) time.Duration
	// OnDown fires once when the retry budget is exhausted so the
	// terminal failure is observable; delivery degrades to manual
	// refresh, it is not fatal.
	OnDown func(error)
}

// Connection manages the lifetime of the push channel: handshake,
// bounded reconnection with backoff, room membership and message
// dispatch. It is constructed explicitly and passed to its consumers;
// the application root owns the single instance per process.
type Connection struct {
	transport       Transport
	logger          *zap.Logger
	maxAttempts     int
	delayForAttempt func(int) time.Duration
	onDown          func(error)

	mu               sync.Mutex
	state            State
	session          Session
	attempt          *connectAttempt
	reconnectAttempt int
	intentional      bool
	reconnectTimer   *time.Timer
	rooms            map[string]struct{}
	subscribers      map[string]*subscriberEntry
}

type connectAttempt struct {
	done chan struct{}
	err  error
}

type subscriberEntry struct {
	handler func(UpdateCreated)
}

// NewConnection constructs the state machine around the provided
// transport.
func NewConnection(cfg ConnectionConfig) (*Connection, error) {
	if cfg.Transport == nil {
		return nil, ErrMissingTransport
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = MaxReconnectAttempts
	}
	delayForAttempt := cfg.DelayForAttempt
	if delayForAttempt == nil {
		delayForAttempt = DelayForAttempt
	}
	return &Connection{
		transport:       cfg.Transport,
		logger:          logger,
		maxAttempts:     maxAttempts,
		delayForAttempt: delayForAttempt,
		onDown:          cfg.OnDown,
		state:           StateDisconnected,
		rooms:           make(map[string]struct{}),
		subscribers:     make(map[string]*subscriberEntry),
	}, nil
}

// State reports the current lifecycle state.
func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// ReconnectAttempt reports the current attempt counter; it resets to
// zero on any successful connect.
func (c *Connection) ReconnectAttempt() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reconnectAttempt
}

// Connect establishes the push channel. Concurrent callers share one
// in-flight handshake instead of racing; calling while already
// connected is a no-op.
func (c *Connection) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.state == StateConnected {
		c.mu.Unlock()
		return nil
	}
	if c.attempt != nil {
		attempt := c.attempt
		c.mu.Unlock()
		return waitForAttempt(ctx, attempt)
	}

	c.cancelReconnectTimerLocked()
	c.intentional = false
	attempt := &connectAttempt{done: make(chan struct{})}
	c.attempt = attempt
	if c.reconnectAttempt > 0 {
		c.state = StateReconnecting
	} else {
		c.state = StateConnecting
	}
	c.mu.Unlock()

	session, err := c.transport.Dial(ctx)

	c.mu.Lock()
	c.attempt = nil
	attempt.err = err
	if err != nil {
		c.logger.Warn("push channel connect failed", zap.Error(err))
		c.scheduleReconnectLocked(err)
		c.mu.Unlock()
		close(attempt.done)
		return err
	}
	if c.intentional {
		// Disconnect raced the handshake; drop the fresh session.
		c.state = StateDisconnected
		c.mu.Unlock()
		close(attempt.done)
		session.Close()
		return nil
	}
	c.session = session
	c.state = StateConnected
	c.reconnectAttempt = 0
	roomsToRejoin := make([]string, 0, len(c.rooms))
	for teamID := range c.rooms {
		roomsToRejoin = append(roomsToRejoin, teamID)
	}
	c.mu.Unlock()
	close(attempt.done)

	go c.readLoop(session)

	for _, teamID := range roomsToRejoin {
		if joinErr := session.JoinRoom(teamID); joinErr != nil {
			c.logger.Warn("room rejoin failed", zap.String("team_id", teamID), zap.Error(joinErr))
		}
	}

	c.logger.Info("push channel connected")
	return nil
}

// Disconnect is the deliberate teardown: it cancels any pending
// reconnect, closes the session and settles in StateDisconnected. A
// transport drop observed afterwards does not schedule a reconnect.
func (c *Connection) Disconnect() {
	c.mu.Lock()
	c.intentional = true
	c.cancelReconnectTimerLocked()
	c.reconnectAttempt = 0
	session := c.session
	c.session = nil
	c.state = StateDisconnected
	c.mu.Unlock()

	if session != nil {
		session.Close()
	}
	c.logger.Info("push channel disconnected")
}

// JoinRoom subscribes to a team's room. When the channel is not
// connected this is a logged no-op: callers connect first and retry
// the join, the state machine does not queue joins. Rooms joined while
// connected are re-joined automatically after a reconnect.
func (c *Connection) JoinRoom(teamID string) error {
	c.mu.Lock()
	if c.state != StateConnected || c.session == nil {
		c.mu.Unlock()
		c.logger.Info("join skipped, push channel not connected", zap.String("team_id", teamID))
		return nil
	}
	c.rooms[teamID] = struct{}{}
	session := c.session
	c.mu.Unlock()

	if err := session.JoinRoom(teamID); err != nil {
		c.logger.Warn("room join failed", zap.String("team_id", teamID), zap.Error(err))
		return fmt.Errorf("realtime: join room %s: %w", teamID, err)
	}
	return nil
}

// LeaveRoom drops the room from the rejoin set and, when connected,
// tells the transport to leave it.
func (c *Connection) LeaveRoom(teamID string) error {
	c.mu.Lock()
	delete(c.rooms, teamID)
	session := c.session
	connected := c.state == StateConnected
	c.mu.Unlock()

	if !connected || session == nil {
		return nil
	}
	if err := session.LeaveRoom(teamID); err != nil {
		c.logger.Warn("room leave failed", zap.String("team_id", teamID), zap.Error(err))
		return fmt.Errorf("realtime: leave room %s: %w", teamID, err)
	}
	return nil
}

// Subscribe registers a handler for update-created push messages under
// the caller's key. Registering the same key again replaces the
// previous handler, so a double-mounted view still receives each
// message once. The returned unsubscribe removes exactly this
// registration, synchronously, and is safe to call repeatedly.
func (c *Connection) Subscribe(key string, handler func(UpdateCreated)) func() {
	if key == "" || handler == nil {
		return func() {}
	}
	entry := &subscriberEntry{handler: handler}
	c.mu.Lock()
	c.subscribers[key] = entry
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		if current, ok := c.subscribers[key]; ok && current == entry {
			delete(c.subscribers, key)
		}
		c.mu.Unlock()
	}
}

func (c *Connection) readLoop(session Session) {
	for {
		envelope, err := session.ReadEnvelope()
		if err != nil {
			c.handleSessionDrop(session, err)
			return
		}
		if envelope.UpdateCreated != nil {
			c.dispatch(*envelope.UpdateCreated)
		}
	}
}

func (c *Connection) dispatch(message UpdateCreated) {
	c.mu.Lock()
	handlers := make([]func(UpdateCreated), 0, len(c.subscribers))
	for _, entry := range c.subscribers {
		handlers = append(handlers, entry.handler)
	}
	c.mu.Unlock()

	for _, handler := range handlers {
		handler(message)
	}
}

func (c *Connection) handleSessionDrop(session Session, cause error) {
	session.Close()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session != session {
		// A stale read loop from a session that was already replaced
		// or torn down; nothing to do.
		return
	}
	c.session = nil
	if c.intentional {
		c.state = StateDisconnected
		return
	}
	c.logger.Warn("push channel dropped", zap.Error(cause))
	c.scheduleReconnectLocked(cause)
}

// scheduleReconnectLocked advances the attempt counter and arms the
// backoff timer, cancelling any timer already pending so attempts
// never overlap. Callers hold c.mu.
func (c *Connection) scheduleReconnectLocked(cause error) {
	if c.intentional {
		c.state = StateDisconnected
		return
	}
	c.reconnectAttempt++
	if c.reconnectAttempt > c.maxAttempts {
		c.state = StateDisconnected
		c.logger.Error("push channel retry budget exhausted", zap.Error(cause),
			zap.Int("attempts", c.maxAttempts))
		if c.onDown != nil {
			go c.onDown(cause)
		}
		return
	}
	c.state = StateReconnecting
	delay := c.delayForAttempt(c.reconnectAttempt)
	c.cancelReconnectTimerLocked()
	c.reconnectTimer = time.AfterFunc(delay, func() {
		if err := c.Connect(context.Background()); err != nil {
			c.logger.Warn("scheduled reconnect failed", zap.Error(err))
		}
	})
}

func (c *Connection) cancelReconnectTimerLocked() {
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
}

func waitForAttempt(ctx context.Context, attempt *connectAttempt) error {
	select {
	case <-attempt.done:
		return attempt.err
	case <-ctx.Done():
		return ctx.Err()
	}
}
