package memory

import (
	"context"
	"sync"

	"examroom-service/internal/app"
)

// Presence tracks connected participants per room in process memory.
type Presence struct {
	mu    sync.RWMutex
	rooms map[string]map[string]struct{}
}

var _ app.PresenceTracker = (*Presence)(nil)

func NewPresence() *Presence {
	return &Presence{rooms: make(map[string]map[string]struct{})}
}

func (p *Presence) Mark(_ context.Context, roomID, participantID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	set, ok := p.rooms[roomID]
	if !ok {
		set = make(map[string]struct{})
		p.rooms[roomID] = set
	}
	set[participantID] = struct{}{}
	return nil
}

func (p *Presence) Clear(_ context.Context, roomID, participantID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	set, ok := p.rooms[roomID]
	if !ok {
		return nil
	}
	delete(set, participantID)
	if len(set) == 0 {
		delete(p.rooms, roomID)
	}
	return nil
}

func (p *Presence) ClearRoom(_ context.Context, roomID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.rooms, roomID)
	return nil
}

func (p *Presence) Online(_ context.Context, roomID string) (map[string]bool, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make(map[string]bool, len(p.rooms[roomID]))
	for id := range p.rooms[roomID] {
		out[id] = true
	}
	return out, nil
}
