package app_test

import (
	"context"
	"testing"
	"time"

	"examroom-service/internal/app"
	"examroom-service/internal/domain"
)

func TestSchedulerStartsDueRoomsAndEndsExpiredOnes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	startAt := f.clock.Now().Add(time.Minute)

	room, err := f.rooms.Create(ctx, app.CreateRoomInput{
		HostID: hostID, QuizID: "quiz-1", Name: "Auto", DurationMinutes: intPtr(5), StartTime: &startAt,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if !room.AutoStart {
		t.Fatalf("a room with a start time should auto-start")
	}

	started, _ := f.scheduler.Sweep(ctx, f.clock.Now())
	if started.Due != 0 {
		t.Fatalf("room is not due yet, got %+v", started)
	}

	f.clock.Advance(90 * time.Second)
	started, _ = f.scheduler.Sweep(ctx, f.clock.Now())
	if started.Due != 1 || started.Transitioned != 1 {
		t.Fatalf("expected one started room, got %+v", started)
	}
	active, err := f.store.GetRoom(ctx, room.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if active.Status != domain.RoomActive || !active.StartTime.Equal(startAt) || !active.EndTime.Equal(startAt.Add(5*time.Minute)) {
		t.Fatalf("late start should keep the scheduled times, got %+v", active)
	}
	if len(active.QuestionOrder) == 0 {
		t.Fatalf("forced start should freeze the question order")
	}

	started, ended := f.scheduler.Sweep(ctx, f.clock.Now())
	if started.Due != 0 || ended.Due != 0 {
		t.Fatalf("second sweep should be a no-op, got %+v %+v", started, ended)
	}

	f.clock.Advance(5 * time.Minute)
	_, ended = f.scheduler.Sweep(ctx, f.clock.Now())
	if ended.Due != 1 || ended.Transitioned != 1 {
		t.Fatalf("expected one ended room, got %+v", ended)
	}
	done, _ := f.store.GetRoom(ctx, room.ID)
	if done.Status != domain.RoomCompleted || !done.EndTime.Equal(startAt.Add(5*time.Minute)) {
		t.Fatalf("sweep completion should keep the original end time, got %+v", done)
	}
}

// staleStore replays a listing taken before another path moved the rooms.
type staleStore struct {
	app.Store
	due, expired []domain.Room
}

func (s staleStore) ListDueRooms(context.Context, time.Time) ([]domain.Room, error) {
	return s.due, nil
}

func (s staleStore) ListExpiredRooms(context.Context, time.Time) ([]domain.Room, error) {
	return s.expired, nil
}

func TestSweepCountsLostRacesAsConflicts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.activeRoom(t, 5)
	b := f.activeRoom(t, 5)
	if _, err := f.rooms.Complete(ctx, b.ID, hostID); err != nil {
		t.Fatalf("complete: %v", err)
	}

	stale := staleStore{Store: f.store, due: []domain.Room{a}, expired: []domain.Room{b}}
	scheduler := app.NewScheduler(f.rooms, stale, time.Second, 2, app.WithClock(f.clock.Now))
	started, ended := scheduler.Sweep(ctx, f.clock.Now())
	if started.Conflicts != 1 || started.Transitioned != 0 || started.Failed != 0 {
		t.Fatalf("start of an active room should be a conflict, got %+v", started)
	}
	if ended.Conflicts != 1 || ended.Transitioned != 0 || ended.Failed != 0 {
		t.Fatalf("end of a completed room should be a conflict, got %+v", ended)
	}
}

func TestSweepManyRoomsInParallel(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	startAt := f.clock.Now().Add(time.Minute)
	for i := 0; i < 12; i++ {
		if _, err := f.rooms.Create(ctx, app.CreateRoomInput{
			HostID: hostID, QuizID: "quiz-1", Name: "Batch", DurationMinutes: intPtr(1), StartTime: &startAt,
		}); err != nil {
			t.Fatalf("create %d: %v", i, err)
		}
	}

	f.clock.Advance(time.Minute)
	started, _ := f.scheduler.Sweep(ctx, f.clock.Now())
	if started.Transitioned != 12 {
		t.Fatalf("expected 12 started rooms, got %+v", started)
	}
	f.clock.Advance(time.Minute)
	_, ended := f.scheduler.Sweep(ctx, f.clock.Now())
	if ended.Transitioned != 12 {
		t.Fatalf("expected 12 ended rooms, got %+v", ended)
	}
}

func TestSchedulerStartStop(t *testing.T) {
	f := newFixture(t)
	if err := f.scheduler.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := f.scheduler.Start(); err == nil {
		t.Fatalf("second start should fail")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := f.scheduler.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if err := f.scheduler.Stop(ctx); err != nil {
		t.Fatalf("stop is idempotent: %v", err)
	}
}
