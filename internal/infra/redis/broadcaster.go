package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"examroom-service/internal/app"
	"examroom-service/internal/domain"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// Broadcaster fans room events across instances with Redis pub/sub on
// room:{roomID}:events. Delivery is at most once.
type Broadcaster struct {
	client *redis.Client
	log    logrus.FieldLogger
	buffer int
}

var _ app.Broadcaster = (*Broadcaster)(nil)

func NewBroadcaster(client *redis.Client, log logrus.FieldLogger) *Broadcaster {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Broadcaster{client: client, log: log, buffer: 32}
}

func (b *Broadcaster) Publish(ctx context.Context, ev domain.Event) error {
	raw, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	return b.client.Publish(ctx, eventsChannel(ev.RoomID), raw).Err()
}

// Subscribe waits for the subscription to be confirmed so events published after
// it returns are not missed. The returned channel closes on cancel or ctx done.
func (b *Broadcaster) Subscribe(ctx context.Context, roomID string) (<-chan domain.Event, func(), error) {
	sub := b.client.Subscribe(ctx, eventsChannel(roomID))
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, nil, fmt.Errorf("subscribe room %s: %w", roomID, err)
	}

	ctx, cancel := context.WithCancel(ctx)
	out := make(chan domain.Event, b.buffer)
	msgs := sub.Channel()
	go func() {
		defer close(out)
		defer sub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var ev domain.Event
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					b.log.WithError(err).WithField("room_id", roomID).Warn("drop malformed event")
					continue
				}
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, cancel, nil
}

func eventsChannel(roomID string) string {
	return "room:" + roomID + ":events"
}
