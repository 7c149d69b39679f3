package redis

import (
	"context"
	"time"

	"examroom-service/internal/app"
	"github.com/redis/go-redis/v9"
)

// Presence keeps one set of connected participant IDs per room so every
// instance sees the same online flags. The set expires after ttl of inactivity.
type Presence struct {
	client *redis.Client
	ttl    time.Duration
}

var _ app.PresenceTracker = (*Presence)(nil)

func NewPresence(client *redis.Client, ttl time.Duration) *Presence {
	return &Presence{client: client, ttl: ttl}
}

func (p *Presence) Mark(ctx context.Context, roomID, participantID string) error {
	key := presenceKey(roomID)
	pipe := p.client.TxPipeline()
	pipe.SAdd(ctx, key, participantID)
	if p.ttl > 0 {
		pipe.Expire(ctx, key, p.ttl)
	}
	_, err := pipe.Exec(ctx)
	return err
}

func (p *Presence) Clear(ctx context.Context, roomID, participantID string) error {
	return p.client.SRem(ctx, presenceKey(roomID), participantID).Err()
}

func (p *Presence) ClearRoom(ctx context.Context, roomID string) error {
	return p.client.Del(ctx, presenceKey(roomID)).Err()
}

func (p *Presence) Online(ctx context.Context, roomID string) (map[string]bool, error) {
	members, err := p.client.SMembers(ctx, presenceKey(roomID)).Result()
	if err != nil {
		return nil, err
	}
	out := make(map[string]bool, len(members))
	for _, id := range members {
		out[id] = true
	}
	return out, nil
}

func presenceKey(roomID string) string {
	return "room:" + roomID + ":online"
}
