package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"examroom-service/internal/app"
	"examroom-service/internal/domain"
)

var t0 = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

func newRoom(id, code string, status domain.RoomStatus) domain.Room {
	return domain.Room{
		ID:              id,
		Code:            code,
		Name:            "Room " + id,
		QuizID:          "quiz-1",
		HostID:          "host-1",
		Status:          status,
		DurationMinutes: 10,
		CreatedAt:       t0,
	}
}

func TestStoreRejectsDuplicateLiveCode(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	if err := store.InsertRoom(ctx, newRoom("r1", "ABC234", domain.RoomScheduled)); err != nil {
		t.Fatalf("insert: %v", err)
	}
	err := store.InsertRoom(ctx, newRoom("r2", "ABC234", domain.RoomScheduled))
	if !errors.Is(err, domain.ErrCodeTaken) {
		t.Fatalf("expected code taken, got %v", err)
	}

	ended := newRoom("r3", "XYZ789", domain.RoomCompleted)
	if err := store.InsertRoom(ctx, ended); err != nil {
		t.Fatalf("insert ended: %v", err)
	}
	if err := store.InsertRoom(ctx, newRoom("r4", "XYZ789", domain.RoomScheduled)); err != nil {
		t.Fatalf("code of an ended room should be reusable: %v", err)
	}
	got, err := store.GetRoomByCode(ctx, "XYZ789")
	if err != nil {
		t.Fatalf("get by code: %v", err)
	}
	if got.ID != "r4" {
		t.Fatalf("expected live room r4, got %s", got.ID)
	}
}

func TestStoreCompareAndSwap(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	room := newRoom("r1", "ABC234", domain.RoomScheduled)
	_ = store.InsertRoom(ctx, room)

	room.Status = domain.RoomActive
	room.QuestionOrder = []string{"q1", "q2"}
	if err := store.CompareAndSwapRoom(ctx, domain.RoomScheduled, room); err != nil {
		t.Fatalf("cas: %v", err)
	}

	err := store.CompareAndSwapRoom(ctx, domain.RoomScheduled, room)
	if !errors.Is(err, domain.ErrStateConflict) {
		t.Fatalf("expected state conflict on stale status, got %v", err)
	}

	room.QuestionOrder = []string{"q9"}
	if err := store.CompareAndSwapRoom(ctx, domain.RoomActive, room); err != nil {
		t.Fatalf("cas active: %v", err)
	}
	got, _ := store.GetRoom(ctx, "r1")
	if len(got.QuestionOrder) != 2 || got.QuestionOrder[0] != "q1" {
		t.Fatalf("question order must stay frozen, got %v", got.QuestionOrder)
	}
}

func TestStoreConcurrentSwapHasOneWinner(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	room := newRoom("r1", "ABC234", domain.RoomScheduled)
	_ = store.InsertRoom(ctx, room)

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			next := room
			next.Status = domain.RoomActive
			if err := store.CompareAndSwapRoom(ctx, domain.RoomScheduled, next); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if wins != 1 {
		t.Fatalf("expected exactly one winner, got %d", wins)
	}
}

func TestStoreJoinUpsertsLoggedInUser(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	_ = store.InsertRoom(ctx, newRoom("r1", "ABC234", domain.RoomScheduled))

	first, err := store.JoinParticipant(ctx, domain.Participant{ID: "p1", RoomID: "r1", UserID: "u1", DisplayName: "Ann", IsLoggedIn: true, JoinedAt: t0, LastSeenAt: t0})
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	again, err := store.JoinParticipant(ctx, domain.Participant{ID: "p2", RoomID: "r1", UserID: "u1", IsLoggedIn: true, JoinedAt: t0.Add(time.Minute), LastSeenAt: t0.Add(time.Minute)})
	if err != nil {
		t.Fatalf("rejoin: %v", err)
	}
	if again.ID != first.ID || !again.JoinedAt.Equal(t0) || again.DisplayName != "Ann" {
		t.Fatalf("expected existing participant returned, got %+v", again)
	}
	if !again.LastSeenAt.Equal(t0.Add(time.Minute)) {
		t.Fatalf("expected last seen refreshed, got %v", again.LastSeenAt)
	}

	_, _ = store.JoinParticipant(ctx, domain.Participant{ID: "p3", RoomID: "r1", AnonymousToken: "tok", JoinedAt: t0})
	list, _ := store.ListParticipants(ctx, "r1")
	if len(list) != 2 {
		t.Fatalf("expected 2 participants, got %d", len(list))
	}
}

func TestStoreTxRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	_ = store.InsertRoom(ctx, newRoom("r1", "ABC234", domain.RoomActive))
	_, _ = store.JoinParticipant(ctx, domain.Participant{ID: "p1", RoomID: "r1", JoinedAt: t0})

	boom := errors.New("boom")
	err := store.RunInTx(ctx, func(ctx context.Context, tx app.Tx) error {
		if err := tx.InsertSubmission(ctx, domain.Submission{ID: "s1", ParticipantID: "p1", RoomID: "r1", QuestionID: "q1", Sequence: 1, Points: 1}); err != nil {
			return err
		}
		if err := tx.SetParticipantScore(ctx, "p1", 1); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	subs, _ := store.ListSubmissionsByParticipant(ctx, "p1")
	p, _ := store.GetParticipant(ctx, "p1")
	if len(subs) != 0 || p.Score != 0 {
		t.Fatalf("expected no partial state, subs=%d score=%d", len(subs), p.Score)
	}
}

func TestStoreTxRollbackRestoresRoomsAndCascades(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	_ = store.InsertRoom(ctx, newRoom("r1", "ABC234", domain.RoomActive))
	_ = store.InsertRoom(ctx, newRoom("r2", "XYZ789", domain.RoomActive))
	_, _ = store.JoinParticipant(ctx, domain.Participant{ID: "p1", RoomID: "r1", JoinedAt: t0})
	_ = store.RunInTx(ctx, func(ctx context.Context, tx app.Tx) error {
		if err := tx.InsertSubmission(ctx, domain.Submission{ID: "s1", ParticipantID: "p1", RoomID: "r1", QuestionID: "q1", Sequence: 1, Points: 1}); err != nil {
			return err
		}
		return tx.SetParticipantScore(ctx, "p1", 1)
	})

	boom := errors.New("boom")
	err := store.RunInTx(ctx, func(ctx context.Context, tx app.Tx) error {
		room, err := tx.GetRoomForUpdate(ctx, "r2")
		if err != nil {
			return err
		}
		room.Status = domain.RoomCompleted
		if err := tx.CompareAndSwapRoom(ctx, domain.RoomActive, room); err != nil {
			return err
		}
		if err := tx.InsertSubmission(ctx, domain.Submission{ID: "s2", ParticipantID: "p1", RoomID: "r1", QuestionID: "q1", Sequence: 2}); err != nil {
			return err
		}
		if err := tx.SetParticipantScore(ctx, "p1", 0); err != nil {
			return err
		}
		if err := tx.DeleteRoom(ctx, "r1"); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	if r2, _ := store.GetRoom(ctx, "r2"); r2.Status != domain.RoomActive {
		t.Fatalf("room status should be restored, got %s", r2.Status)
	}
	if _, err := store.GetRoom(ctx, "r1"); err != nil {
		t.Fatalf("deleted room should be restored: %v", err)
	}
	p, err := store.GetParticipant(ctx, "p1")
	if err != nil || p.Score != 1 {
		t.Fatalf("participant should be restored with score 1, got %+v %v", p, err)
	}
	subs, _ := store.ListSubmissionsByParticipant(ctx, "p1")
	if len(subs) != 1 || subs[0].ID != "s1" {
		t.Fatalf("only the committed submission should remain, got %+v", subs)
	}
}

func TestStoreDeleteCascades(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	_ = store.InsertRoom(ctx, newRoom("r1", "ABC234", domain.RoomActive))
	_, _ = store.JoinParticipant(ctx, domain.Participant{ID: "p1", RoomID: "r1", JoinedAt: t0})
	_ = store.RunInTx(ctx, func(ctx context.Context, tx app.Tx) error {
		return tx.InsertSubmission(ctx, domain.Submission{ID: "s1", ParticipantID: "p1", RoomID: "r1", QuestionID: "q1", Sequence: 1})
	})

	if err := store.RunInTx(ctx, func(ctx context.Context, tx app.Tx) error {
		return tx.DeleteRoom(ctx, "r1")
	}); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := store.GetRoom(ctx, "r1"); !errors.Is(err, domain.ErrRoomNotFound) {
		t.Fatalf("expected room gone, got %v", err)
	}
	if _, err := store.GetParticipant(ctx, "p1"); !errors.Is(err, domain.ErrParticipantNotFound) {
		t.Fatalf("expected participant gone, got %v", err)
	}
	if subs, _ := store.ListSubmissionsByRoom(ctx, "r1"); len(subs) != 0 {
		t.Fatalf("expected submissions gone, got %d", len(subs))
	}
}

func TestStoreListsDueAndExpiredRooms(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	start := t0.Add(-time.Minute)
	end := t0.Add(-time.Second)

	due := newRoom("due", "AAA222", domain.RoomScheduled)
	due.AutoStart, due.StartTime = true, &start
	manual := newRoom("manual", "BBB333", domain.RoomScheduled)
	manual.StartTime = &start
	expired := newRoom("expired", "CCC444", domain.RoomActive)
	expired.StartTime, expired.EndTime = &start, &end
	for _, r := range []domain.Room{due, manual, expired} {
		if err := store.InsertRoom(ctx, r); err != nil {
			t.Fatalf("insert %s: %v", r.ID, err)
		}
	}

	dueRooms, _ := store.ListDueRooms(ctx, t0)
	if len(dueRooms) != 1 || dueRooms[0].ID != "due" {
		t.Fatalf("unexpected due rooms %+v", dueRooms)
	}
	expiredRooms, _ := store.ListExpiredRooms(ctx, t0)
	if len(expiredRooms) != 1 || expiredRooms[0].ID != "expired" {
		t.Fatalf("unexpected expired rooms %+v", expiredRooms)
	}
}

func TestStoreListRoomsByHostPaginates(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	for i, code := range []string{"AAA222", "BBB333", "CCC444"} {
		r := newRoom(code, code, domain.RoomScheduled)
		r.CreatedAt = t0.Add(time.Duration(i) * time.Minute)
		_ = store.InsertRoom(ctx, r)
	}

	rooms, total, err := store.ListRoomsByHost(ctx, "host-1", domain.RoomQuery{Page: 1, Limit: 2})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if total != 3 || len(rooms) != 2 || rooms[0].ID != "CCC444" {
		t.Fatalf("unexpected first page total=%d rooms=%+v", total, rooms)
	}
	rooms, _, _ = store.ListRoomsByHost(ctx, "host-1", domain.RoomQuery{Page: 2, Limit: 2})
	if len(rooms) != 1 || rooms[0].ID != "AAA222" {
		t.Fatalf("unexpected second page %+v", rooms)
	}
}
