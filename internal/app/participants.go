package app

import (
	"context"
	"strings"

	"examroom-service/internal/domain"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const anonymousName = "Anonymous"

// ParticipantRegistry handles join/leave bookkeeping for rooms.
type ParticipantRegistry struct {
	store    Store
	presence PresenceTracker
	events   Broadcaster
	snap     snapshotter
	opts     options
}

func NewParticipantRegistry(store Store, presence PresenceTracker, events Broadcaster, opts ...Option) *ParticipantRegistry {
	o := newOptions(opts)
	return &ParticipantRegistry{
		store:    store,
		presence: presence,
		events:   events,
		snap:     snapshotter{store: store, presence: presence, log: o.log},
		opts:     o,
	}
}

// Join registers or refreshes a participant. A logged-in user has at most one
// participant per room and keeps their score across rejoins; every anonymous join
// creates a new participant.
func (r *ParticipantRegistry) Join(ctx context.Context, roomID string, id domain.Identity) (domain.Participant, domain.RoomSnapshot, error) {
	id.UserID = strings.TrimSpace(id.UserID)
	id.DisplayName = strings.TrimSpace(id.DisplayName)
	if err := validateStruct(id); err != nil {
		return domain.Participant{}, domain.RoomSnapshot{}, err
	}

	room, err := r.store.GetRoom(ctx, roomID)
	if err != nil {
		return domain.Participant{}, domain.RoomSnapshot{}, err
	}
	now := r.opts.now()
	if room.Status.Terminal() {
		return domain.Participant{}, domain.RoomSnapshot{}, domain.Conflictf("room has already ended")
	}
	if room.Expired(now) {
		return domain.Participant{}, domain.RoomSnapshot{}, domain.Conflictf("room time is over")
	}

	p := domain.Participant{
		ID:          uuid.NewString(),
		RoomID:      room.ID,
		DisplayName: id.DisplayName,
		JoinedAt:    now,
		LastSeenAt:  now,
	}
	if id.Anonymous() {
		p.AnonymousToken = uuid.NewString()
		if p.DisplayName == "" {
			p.DisplayName = anonymousName
		}
	} else {
		p.UserID = id.UserID
		p.IsLoggedIn = true
	}

	stored, err := r.store.JoinParticipant(ctx, p)
	if err != nil {
		return domain.Participant{}, domain.RoomSnapshot{}, err
	}
	r.markPresence(ctx, room.ID, stored.ID, true)

	snap, err := r.snap.snapshot(ctx, room)
	if err != nil {
		return domain.Participant{}, domain.RoomSnapshot{}, err
	}
	r.opts.log.WithFields(logrus.Fields{"room_id": room.ID, "participant_id": stored.ID, "anonymous": id.Anonymous()}).Debug("participant joined")
	emit(ctx, r.events, r.opts.log, domain.EventParticipantJoined, room.ID, snap)
	return stored, snap, nil
}

// Resume reattaches an existing participant after a reconnect without creating a
// new record. The score and submissions are untouched.
func (r *ParticipantRegistry) Resume(ctx context.Context, roomID, participantID string) (domain.Participant, domain.RoomSnapshot, error) {
	p, err := r.store.GetParticipant(ctx, participantID)
	if err != nil {
		return domain.Participant{}, domain.RoomSnapshot{}, err
	}
	if p.RoomID != roomID {
		return domain.Participant{}, domain.RoomSnapshot{}, domain.ErrParticipantNotFound
	}
	room, err := r.store.GetRoom(ctx, roomID)
	if err != nil {
		return domain.Participant{}, domain.RoomSnapshot{}, err
	}
	if room.Status.Terminal() {
		return domain.Participant{}, domain.RoomSnapshot{}, domain.Conflictf("room has already ended")
	}
	r.markPresence(ctx, roomID, p.ID, true)

	snap, err := r.snap.snapshot(ctx, room)
	if err != nil {
		return domain.Participant{}, domain.RoomSnapshot{}, err
	}
	emit(ctx, r.events, r.opts.log, domain.EventParticipantJoined, roomID, snap)
	return p, snap, nil
}

// Leave removes presence only; the participant and its submissions are kept.
func (r *ParticipantRegistry) Leave(ctx context.Context, roomID, participantID string) (domain.RoomSnapshot, error) {
	p, err := r.store.GetParticipant(ctx, participantID)
	if err != nil {
		return domain.RoomSnapshot{}, err
	}
	if p.RoomID != roomID {
		return domain.RoomSnapshot{}, domain.ErrParticipantNotFound
	}
	room, err := r.store.GetRoom(ctx, roomID)
	if err != nil {
		return domain.RoomSnapshot{}, err
	}
	r.markPresence(ctx, roomID, participantID, false)

	snap, err := r.snap.snapshot(ctx, room)
	if err != nil {
		return domain.RoomSnapshot{}, err
	}
	r.opts.log.WithFields(logrus.Fields{"room_id": roomID, "participant_id": participantID}).Debug("participant left")
	emit(ctx, r.events, r.opts.log, domain.EventParticipantLeft, roomID, snap)
	return snap, nil
}

func (r *ParticipantRegistry) markPresence(ctx context.Context, roomID, participantID string, online bool) {
	if r.presence == nil {
		return
	}
	var err error
	if online {
		err = r.presence.Mark(ctx, roomID, participantID)
	} else {
		err = r.presence.Clear(ctx, roomID, participantID)
	}
	if err != nil {
		r.opts.log.WithError(err).WithFields(logrus.Fields{"room_id": roomID, "participant_id": participantID}).Warn("presence update failed")
	}
}
