package devserver

import (
	"context"
	"sync"

	"github.com/pulseboardhq/pulseboard/internal/realtime"
)

// Hub fans update-created events out to the websocket sessions joined
// to each team room. Sends never block: a session that cannot keep up
// misses the event and recovers via refetch.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[string]map[int64]*hubSubscriber
	nextID      int64
	bufferSize  int
}

type hubSubscriber struct {
	id     int64
	stream chan realtime.UpdateCreated
}

// NewHub constructs an empty hub.
func NewHub() *Hub {
	return &Hub{
		subscribers: make(map[string]map[int64]*hubSubscriber),
		bufferSize:  16,
	}
}

// Subscribe registers interest in one team's room. The returned
// cleanup is idempotent and also runs when the context is cancelled.
func (h *Hub) Subscribe(ctx context.Context, teamID string) (<-chan realtime.UpdateCreated, func()) {
	if teamID == "" {
		ch := make(chan realtime.UpdateCreated)
		close(ch)
		return ch, func() {}
	}
	subscriber := &hubSubscriber{
		id:     h.nextSequence(),
		stream: make(chan realtime.UpdateCreated, h.bufferSize),
	}
	h.registerSubscriber(teamID, subscriber)
	var once sync.Once
	cleanup := func() {
		once.Do(func() {
			h.unregisterSubscriber(teamID, subscriber.id)
		})
	}
	// A background context can never be done; spawning a watcher for it
	// would leak one goroutine per join.
	if done := ctx.Done(); done != nil {
		go func() {
			<-done
			cleanup()
		}()
	}
	return subscriber.stream, cleanup
}

// Publish delivers the event to every session joined to the team room.
func (h *Hub) Publish(message realtime.UpdateCreated) {
	if message.TeamID == "" {
		return
	}
	h.mu.RLock()
	subscribers := h.subscribers[message.TeamID]
	if len(subscribers) == 0 {
		h.mu.RUnlock()
		return
	}
	copies := make([]*hubSubscriber, 0, len(subscribers))
	for _, subscriber := range subscribers {
		copies = append(copies, subscriber)
	}
	h.mu.RUnlock()
	for _, subscriber := range copies {
		select {
		case subscriber.stream <- message:
		default:
		}
	}
}

func (h *Hub) nextSequence() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextID++
	return h.nextID
}

func (h *Hub) registerSubscriber(teamID string, subscriber *hubSubscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subscribers[teamID]; !ok {
		h.subscribers[teamID] = make(map[int64]*hubSubscriber)
	}
	h.subscribers[teamID][subscriber.id] = subscriber
}

func (h *Hub) unregisterSubscriber(teamID string, subscriberID int64) {
	h.mu.Lock()
	subscribers := h.subscribers[teamID]
	if subscribers != nil {
		delete(subscribers, subscriberID)
		if len(subscribers) == 0 {
			delete(h.subscribers, teamID)
		}
	}
	h.mu.Unlock()
}
