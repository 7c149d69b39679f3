package app

import (
	"context"
	"testing"

	"examroom-service/internal/domain"
)

func TestHubDeliversPerRoom(t *testing.T) {
	hub := NewHub()
	ctx := context.Background()
	a, cancelA, _ := hub.Subscribe(ctx, "room-a")
	defer cancelA()
	b, cancelB, _ := hub.Subscribe(ctx, "room-b")
	defer cancelB()

	ev, _ := domain.NewEvent(domain.EventRoomEnded, "room-a", domain.EndTimeUpdate{})
	if err := hub.Publish(ctx, ev); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if got := <-a; got.Type != domain.EventRoomEnded {
		t.Fatalf("unexpected event %+v", got)
	}
	select {
	case got := <-b:
		t.Fatalf("room-b should not see room-a events, got %+v", got)
	default:
	}
}

func TestHubDisconnectsSlowSubscriber(t *testing.T) {
	hub := NewHub()
	ctx := context.Background()
	ch, cancel, _ := hub.Subscribe(ctx, "room-1")

	ev, _ := domain.NewEvent(domain.EventTimeUpdated, "room-1", domain.EndTimeUpdate{})
	for i := 0; i < subscriberBuffer+1; i++ {
		_ = hub.Publish(ctx, ev)
	}
	if hub.Subscribers("room-1") != 0 {
		t.Fatalf("slow subscriber should have been dropped")
	}

	received := 0
	for range ch {
		received++
	}
	if received != subscriberBuffer {
		t.Fatalf("expected buffered events before close, got %d", received)
	}
	cancel() // no double close
}
