package devserver

import (
	"context"
	"runtime"
	"testing"
	"time"

	"github.com/pulseboardhq/pulseboard/internal/realtime"
	"github.com/pulseboardhq/pulseboard/internal/updates"
)

func hubEvent(teamID, updateID string) realtime.UpdateCreated {
	return realtime.UpdateCreated{
		TeamID: teamID,
		Update: updates.Update{ID: updateID, TeamID: teamID},
	}
}

func TestHubDeliversToEveryRoomSubscriber(t *testing.T) {
	hub := NewHub()

	first, cleanupFirst := hub.Subscribe(context.Background(), "team-1")
	defer cleanupFirst()
	second, cleanupSecond := hub.Subscribe(context.Background(), "team-1")
	defer cleanupSecond()
	other, cleanupOther := hub.Subscribe(context.Background(), "team-2")
	defer cleanupOther()

	hub.Publish(hubEvent("team-1", "update-1"))

	for name, stream := range map[string]<-chan realtime.UpdateCreated{"first": first, "second": second} {
		select {
		case message := <-stream:
			if message.Update.ID != "update-1" {
				t.Fatalf("%s subscriber received wrong event: %#v", name, message)
			}
		case <-time.After(time.Second):
			t.Fatalf("%s subscriber never received the event", name)
		}
	}

	select {
	case message := <-other:
		t.Fatalf("team-2 subscriber must not receive team-1 events, got %#v", message)
	default:
	}
}

func TestHubCleanupStopsDelivery(t *testing.T) {
	hub := NewHub()

	stream, cleanup := hub.Subscribe(context.Background(), "team-1")
	cleanup()
	cleanup() // idempotent

	hub.Publish(hubEvent("team-1", "update-1"))

	select {
	case message := <-stream:
		t.Fatalf("unsubscribed stream must not receive events, got %#v", message)
	default:
	}
}

func TestHubContextCancellationUnsubscribes(t *testing.T) {
	hub := NewHub()

	ctx, cancel := context.WithCancel(context.Background())
	stream, _ := hub.Subscribe(ctx, "team-1")
	cancel()

	deadline := time.After(time.Second)
	for {
		hub.mu.RLock()
		_, registered := hub.subscribers["team-1"]
		hub.mu.RUnlock()
		if !registered {
			break
		}
		select {
		case <-deadline:
			t.Fatal("subscriber not removed after context cancellation")
		case <-time.After(5 * time.Millisecond):
		}
	}

	hub.Publish(hubEvent("team-1", "update-1"))
	select {
	case message := <-stream:
		t.Fatalf("cancelled stream must not receive events, got %#v", message)
	default:
	}
}

func TestHubSubscribeWithBackgroundContextLeaksNoGoroutines(t *testing.T) {
	hub := NewHub()

	before := runtime.NumGoroutine()
	for i := 0; i < 100; i++ {
		_, cleanup := hub.Subscribe(context.Background(), "team-1")
		cleanup()
	}

	deadline := time.After(time.Second)
	for {
		if runtime.NumGoroutine() <= before+2 {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("join/leave cycles leaked goroutines: %d before, %d after",
				before, runtime.NumGoroutine())
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestHubPublishNeverBlocksOnSlowSubscriber(t *testing.T) {
	hub := NewHub()

	_, cleanup := hub.Subscribe(context.Background(), "team-1")
	defer cleanup()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 100; i++ {
			hub.Publish(hubEvent("team-1", "update"))
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a subscriber that never drains")
	}
}
