package app

import (
	"context"
	"time"

	"examroom-service/internal/domain"
)

// Store is the entity store for rooms and the participants and submissions they own.
// Room status changes go through CompareAndSwapRoom, never a blind write.
type Store interface {
	// InsertRoom persists a new room. Returns domain.ErrCodeTaken when a live room
	// already uses the join code.
	InsertRoom(ctx context.Context, room domain.Room) error
	GetRoom(ctx context.Context, id string) (domain.Room, error)
	// GetRoomByCode prefers a live room; otherwise the most recently created one.
	GetRoomByCode(ctx context.Context, code string) (domain.Room, error)
	ListRoomsByHost(ctx context.Context, hostID string, q domain.RoomQuery) ([]domain.Room, int, error)
	// ListDueRooms returns scheduled auto-start rooms whose start time is at or before now.
	ListDueRooms(ctx context.Context, now time.Time) ([]domain.Room, error)
	// ListExpiredRooms returns active rooms whose end time is at or before now.
	ListExpiredRooms(ctx context.Context, now time.Time) ([]domain.Room, error)
	// CompareAndSwapRoom writes room only if the stored status still equals expected.
	// A lost race is reported as a state conflict.
	CompareAndSwapRoom(ctx context.Context, expected domain.RoomStatus, room domain.Room) error

	// JoinParticipant inserts p, or for a logged-in user already in the room
	// refreshes presence fields and returns the stored record unchanged otherwise.
	JoinParticipant(ctx context.Context, p domain.Participant) (domain.Participant, error)
	GetParticipant(ctx context.Context, id string) (domain.Participant, error)
	ListParticipants(ctx context.Context, roomID string) ([]domain.Participant, error)
	// ListParticipationsByUser returns logged-in participations, newest first.
	ListParticipationsByUser(ctx context.Context, userID string) ([]domain.Participant, error)

	ListSubmissionsByRoom(ctx context.Context, roomID string) ([]domain.Submission, error)
	ListSubmissionsByParticipant(ctx context.Context, participantID string) ([]domain.Submission, error)

	// RunInTx runs fn as one unit of work. It commits when fn returns nil and
	// aborts on any error, leaving no partial state.
	RunInTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// Tx is the unit-of-work view of the store.
type Tx interface {
	GetRoomForUpdate(ctx context.Context, id string) (domain.Room, error)
	CompareAndSwapRoom(ctx context.Context, expected domain.RoomStatus, room domain.Room) error
	// DeleteRoom removes the room with its participants and submissions.
	DeleteRoom(ctx context.Context, id string) error

	GetParticipantForUpdate(ctx context.Context, id string) (domain.Participant, error)
	SetParticipantScore(ctx context.Context, participantID string, score int) error
	// LatestSubmission returns domain.ErrSubmissionNotFound when nothing was submitted yet.
	LatestSubmission(ctx context.Context, participantID, questionID string) (domain.Submission, error)
	InsertSubmission(ctx context.Context, sub domain.Submission) error
}

// QuizRepository loads quiz content (from cache/backing store).
type QuizRepository interface {
	GetQuiz(ctx context.Context, quizID string) (domain.Quiz, error)
	GetPool(ctx context.Context, pool string) ([]domain.Question, error)
}

// PresenceTracker records which participants are currently connected.
type PresenceTracker interface {
	Mark(ctx context.Context, roomID, participantID string) error
	Clear(ctx context.Context, roomID, participantID string) error
	ClearRoom(ctx context.Context, roomID string) error
	Online(ctx context.Context, roomID string) (map[string]bool, error)
}

// Broadcaster fans events out to clients connected to a room's channel.
type Broadcaster interface {
	Publish(ctx context.Context, ev domain.Event) error
	// Subscribe returns a channel of events for roomID. The caller must invoke
	// the returned cancel function to avoid leaks.
	Subscribe(ctx context.Context, roomID string) (<-chan domain.Event, func(), error)
}
