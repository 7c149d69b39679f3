package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"examroom-service/internal/domain"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const (
	defaultSweepInterval = 5 * time.Second
	defaultSweepWorkers  = 8
	sweepTimeout         = time.Minute
)

// SweepResult counts what one sweep action did.
type SweepResult struct {
	Due          int
	Transitioned int
	Conflicts    int
	Failed       int
}

// Scheduler periodically force-starts due rooms and force-ends expired ones.
// It holds no locks of its own: every transition is the RoomService's guarded
// compare-and-set, so it can overlap with host actions and with itself.
type Scheduler struct {
	rooms    *RoomService
	store    Store
	interval time.Duration
	workers  int
	opts     options

	mu      sync.Mutex
	cron    *cron.Cron
	baseCtx context.Context
	cancel  context.CancelFunc
}

func NewScheduler(rooms *RoomService, store Store, interval time.Duration, workers int, opts ...Option) *Scheduler {
	if interval <= 0 {
		interval = defaultSweepInterval
	}
	if workers <= 0 {
		workers = defaultSweepWorkers
	}
	return &Scheduler{
		rooms:    rooms,
		store:    store,
		interval: interval,
		workers:  workers,
		opts:     newOptions(opts),
	}
}

// Start begins sweeping every interval. Overlapping ticks are skipped.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil {
		return errors.New("scheduler already started")
	}

	logger := cron.PrintfLogger(s.opts.log)
	c := cron.New(cron.WithLogger(logger), cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)))
	s.baseCtx, s.cancel = context.WithCancel(context.Background())
	if _, err := c.AddFunc(fmt.Sprintf("@every %s", s.interval), s.tick); err != nil {
		s.cancel()
		return fmt.Errorf("schedule sweep: %w", err)
	}
	c.Start()
	s.cron = c
	s.opts.log.WithFields(logrus.Fields{"interval": s.interval, "workers": s.workers}).Info("room scheduler started")
	return nil
}

// Stop prevents new ticks and waits for the running one. If ctx expires first the
// running sweep is cancelled; in-flight units of work abort rather than half-commit.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	c, cancel := s.cron, s.cancel
	s.cron = nil
	s.mu.Unlock()
	if c == nil {
		return nil
	}
	defer cancel()

	select {
	case <-c.Stop().Done():
		s.opts.log.Info("room scheduler stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) tick() {
	ctx, cancel := context.WithTimeout(s.baseCtx, sweepTimeout)
	defer cancel()
	s.Sweep(ctx, s.opts.now())
}

// Sweep runs both actions once.
func (s *Scheduler) Sweep(ctx context.Context, now time.Time) (started, ended SweepResult) {
	var err error
	if started, err = s.ForceStartDueRooms(ctx, now); err != nil {
		s.opts.log.WithError(err).Warn("list due rooms")
	}
	if ended, err = s.ForceEndExpiredRooms(ctx, now); err != nil {
		s.opts.log.WithError(err).Warn("list expired rooms")
	}
	if started.Transitioned+ended.Transitioned+started.Failed+ended.Failed > 0 {
		s.opts.log.WithFields(logrus.Fields{
			"started":       started.Transitioned,
			"ended":         ended.Transitioned,
			"start_failed":  started.Failed,
			"end_failed":    ended.Failed,
			"lost_conflict": started.Conflicts + ended.Conflicts,
		}).Info("sweep finished")
	}
	return started, ended
}

// ForceStartDueRooms starts scheduled auto-start rooms whose start time has come.
func (s *Scheduler) ForceStartDueRooms(ctx context.Context, now time.Time) (SweepResult, error) {
	rooms, err := s.store.ListDueRooms(ctx, now)
	if err != nil {
		return SweepResult{}, err
	}
	return s.dispatch(ctx, rooms, "start", func(ctx context.Context, id string) error {
		_, err := s.rooms.ForceStart(ctx, id)
		return err
	}), nil
}

// ForceEndExpiredRooms completes active rooms whose end time has passed.
func (s *Scheduler) ForceEndExpiredRooms(ctx context.Context, now time.Time) (SweepResult, error) {
	rooms, err := s.store.ListExpiredRooms(ctx, now)
	if err != nil {
		return SweepResult{}, err
	}
	return s.dispatch(ctx, rooms, "complete", func(ctx context.Context, id string) error {
		_, err := s.rooms.ForceComplete(ctx, id)
		return err
	}), nil
}

// dispatch runs fn per room on a bounded pool. A state conflict means another
// path already moved the room and counts as a no-op.
func (s *Scheduler) dispatch(ctx context.Context, rooms []domain.Room, op string, fn func(context.Context, string) error) SweepResult {
	var transitioned, conflicts, failed atomic.Int64
	g := new(errgroup.Group)
	g.SetLimit(s.workers)
	for _, room := range rooms {
		id := room.ID
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			err := fn(ctx, id)
			switch {
			case err == nil:
				transitioned.Add(1)
			case errors.Is(err, domain.ErrStateConflict):
				conflicts.Add(1)
			default:
				failed.Add(1)
				s.opts.log.WithError(err).WithFields(logrus.Fields{"room_id": id, "op": op}).Warn("sweep transition failed")
			}
			return nil
		})
	}
	_ = g.Wait()
	return SweepResult{
		Due:          len(rooms),
		Transitioned: int(transitioned.Load()),
		Conflicts:    int(conflicts.Load()),
		Failed:       int(failed.Load()),
	}
}
