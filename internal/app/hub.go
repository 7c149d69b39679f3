package app

import (
	"context"
	"sync"

	"examroom-service/internal/domain"
)

const subscriberBuffer = 32

// Hub is the in-process Broadcaster: one channel set per room.
type Hub struct {
	mu    sync.RWMutex
	rooms map[string]map[chan domain.Event]struct{}
}

func NewHub() *Hub {
	return &Hub{rooms: make(map[string]map[chan domain.Event]struct{})}
}

// Publish delivers ev to every subscriber of its room. A subscriber whose buffer
// is full is disconnected instead of silently losing events; it resyncs by reading
// the room after reconnecting.
func (h *Hub) Publish(_ context.Context, ev domain.Event) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.rooms[ev.RoomID] {
		select {
		case ch <- ev:
		default:
			h.dropLocked(ev.RoomID, ch)
		}
	}
	return nil
}

// Subscribe returns a channel that receives events for a room.
// The caller must invoke the returned cancel function to avoid leaks.
func (h *Hub) Subscribe(_ context.Context, roomID string) (<-chan domain.Event, func(), error) {
	ch := make(chan domain.Event, subscriberBuffer)

	h.mu.Lock()
	subs, ok := h.rooms[roomID]
	if !ok {
		subs = make(map[chan domain.Event]struct{})
		h.rooms[roomID] = subs
	}
	subs[ch] = struct{}{}
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		h.dropLocked(roomID, ch)
		h.mu.Unlock()
	}
	return ch, cancel, nil
}

// Subscribers reports how many channels are attached to a room.
func (h *Hub) Subscribers(roomID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[roomID])
}

func (h *Hub) dropLocked(roomID string, ch chan domain.Event) {
	subs := h.rooms[roomID]
	if _, ok := subs[ch]; !ok {
		return
	}
	delete(subs, ch)
	close(ch)
	if len(subs) == 0 {
		delete(h.rooms, roomID)
	}
}
