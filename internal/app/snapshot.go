package app

import (
	"context"

	"examroom-service/internal/domain"
	"github.com/sirupsen/logrus"
)

// snapshotter assembles the room read model: the room, then its participants,
// then presence, each as a separate bounded query.
type snapshotter struct {
	store    Store
	presence PresenceTracker
	log      logrus.FieldLogger
}

func (s snapshotter) snapshot(ctx context.Context, room domain.Room) (domain.RoomSnapshot, error) {
	participants, err := s.store.ListParticipants(ctx, room.ID)
	if err != nil {
		return domain.RoomSnapshot{}, err
	}

	online := map[string]bool{}
	if s.presence != nil {
		online, err = s.presence.Online(ctx, room.ID)
		if err != nil {
			// Presence is advisory; a snapshot without it is still correct.
			s.log.WithError(err).WithField("room_id", room.ID).Warn("presence lookup failed")
			online = map[string]bool{}
		}
	}

	views := make([]domain.ParticipantView, 0, len(participants))
	for _, p := range participants {
		views = append(views, domain.ParticipantView{Participant: p, Online: online[p.ID]})
	}
	return domain.RoomSnapshot{Room: room, Participants: views}, nil
}
