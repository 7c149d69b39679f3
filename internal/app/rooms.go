package app

import (
	"context"
	"errors"
	"strings"
	"time"

	"examroom-service/internal/domain"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const (
	defaultPageSize = 10
	maxPageSize     = 100
	topParticipants = 3

	maxDurationMinutes = 24 * 60
	maxPerQuestionTime = 60 * 60 // seconds
)

// CreateRoomInput is a host's request to schedule a room.
type CreateRoomInput struct {
	HostID          string     `json:"hostId" validate:"required"`
	QuizID          string     `json:"quizId" validate:"required"`
	Name            string     `json:"roomName" validate:"required,max=120"`
	DurationMinutes *int       `json:"durationMinutes" validate:"omitempty,min=1,max=1440"`
	PerQuestionTime *int       `json:"perQuestionTime" validate:"omitempty,min=1,max=3600"`
	StartTime       *time.Time `json:"startTime"`
}

// ScheduledUpdate changes a room that has not started yet. Nil fields are left as they are.
type ScheduledUpdate struct {
	QuizID          *string    `json:"quizId" validate:"omitempty,min=1"`
	StartTime       *time.Time `json:"startTime"`
	DurationMinutes *int       `json:"durationMinutes" validate:"omitempty,min=1,max=1440"`
}

// RoomService owns room status transitions. Every transition is a compare-and-set
// on the previously read status, so a manual host action and the sweep cannot
// both win.
type RoomService struct {
	store    Store
	quizzes  QuizRepository
	resolver *QuestionSetResolver
	presence PresenceTracker
	events   Broadcaster
	snap     snapshotter
	opts     options
}

func NewRoomService(store Store, quizzes QuizRepository, presence PresenceTracker, events Broadcaster, opts ...Option) *RoomService {
	o := newOptions(opts)
	return &RoomService{
		store:    store,
		quizzes:  quizzes,
		resolver: NewQuestionSetResolver(quizzes),
		presence: presence,
		events:   events,
		snap:     snapshotter{store: store, presence: presence, log: o.log},
		opts:     o,
	}
}

// Create schedules a new room for a quiz the host owns.
func (s *RoomService) Create(ctx context.Context, in CreateRoomInput) (domain.Room, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.QuizID = strings.TrimSpace(in.QuizID)
	if err := validateStruct(in); err != nil {
		return domain.Room{}, err
	}

	quiz, err := s.ownedQuiz(ctx, in.QuizID, in.HostID)
	if err != nil {
		return domain.Room{}, err
	}

	perQuestion := 0
	if in.PerQuestionTime != nil {
		perQuestion = *in.PerQuestionTime
	}
	duration, err := s.resolveDuration(quiz, in.DurationMinutes, perQuestion)
	if err != nil {
		return domain.Room{}, err
	}

	now := s.opts.now()
	room := domain.Room{
		ID:              uuid.NewString(),
		Name:            in.Name,
		QuizID:          quiz.ID,
		HostID:          in.HostID,
		Status:          domain.RoomScheduled,
		DurationMinutes: duration,
		PerQuestionTime: perQuestion,
		QuestionOrder:   []string{},
		CreatedAt:       now,
	}
	if in.StartTime != nil {
		if !in.StartTime.After(now) {
			return domain.Room{}, domain.Validationf("startTime must be in the future")
		}
		if err := setSchedule(&room, in.StartTime.UTC()); err != nil {
			return domain.Room{}, err
		}
		room.AutoStart = true
	}

	if err := s.insertWithCode(ctx, &room); err != nil {
		return domain.Room{}, err
	}
	s.opts.log.WithFields(logrus.Fields{"room_id": room.ID, "code": room.Code, "auto_start": room.AutoStart}).Info("room created")

	// Creation can be slow enough for the start time to pass; do not wait for the sweep.
	if room.AutoStart && !room.StartTime.After(s.opts.now()) {
		started, err := s.ForceStart(ctx, room.ID)
		if err == nil {
			return started, nil
		}
		if !errors.Is(err, domain.ErrStateConflict) {
			return domain.Room{}, err
		}
		return s.store.GetRoom(ctx, room.ID)
	}
	return room, nil
}

// Start opens a scheduled room on the host's request.
func (s *RoomService) Start(ctx context.Context, roomID, callerID string) (domain.Room, error) {
	return s.start(ctx, roomID, callerID, true)
}

// ForceStart opens a scheduled room on behalf of the trusted scheduler.
func (s *RoomService) ForceStart(ctx context.Context, roomID string) (domain.Room, error) {
	return s.start(ctx, roomID, "", false)
}

func (s *RoomService) start(ctx context.Context, roomID, callerID string, checkHost bool) (domain.Room, error) {
	room, err := s.update(ctx, roomID, func(ctx context.Context, room *domain.Room) error {
		if checkHost && room.HostID != callerID {
			return domain.ErrNotHost
		}
		if room.Status != domain.RoomScheduled {
			return domain.Conflictf("cannot start room while it is %s", room.Status)
		}

		if len(room.QuestionOrder) == 0 {
			quiz, err := s.quizzes.GetQuiz(ctx, room.QuizID)
			if err != nil {
				return err
			}
			order, err := s.resolver.Freeze(ctx, room.ID, quiz)
			if err != nil {
				return err
			}
			room.QuestionOrder = order
		}

		now := s.opts.now()
		start := now
		if room.StartTime != nil && !room.StartTime.After(now) {
			start = *room.StartTime
		}
		if err := setSchedule(room, start); err != nil {
			return err
		}
		room.Status = domain.RoomActive
		return nil
	})
	if err != nil {
		return domain.Room{}, err
	}
	s.opts.log.WithFields(logrus.Fields{"room_id": room.ID, "questions": len(room.QuestionOrder), "forced": !checkHost}).Info("room started")
	s.publishStatus(ctx, room)
	return room, nil
}

// Complete ends an active room on the host's request.
func (s *RoomService) Complete(ctx context.Context, roomID, callerID string) (domain.Room, error) {
	return s.complete(ctx, roomID, callerID, true)
}

// ForceComplete ends an active room on behalf of the trusted scheduler.
func (s *RoomService) ForceComplete(ctx context.Context, roomID string) (domain.Room, error) {
	return s.complete(ctx, roomID, "", false)
}

func (s *RoomService) complete(ctx context.Context, roomID, callerID string, checkHost bool) (domain.Room, error) {
	room, err := s.update(ctx, roomID, func(_ context.Context, room *domain.Room) error {
		if checkHost && room.HostID != callerID {
			return domain.ErrNotHost
		}
		if room.Status != domain.RoomActive {
			return domain.Conflictf("only an active room can be completed, room is %s", room.Status)
		}

		end := s.opts.now()
		if room.EndTime != nil && room.EndTime.Before(end) {
			// An expired room keeps the moment it actually ran out.
			end = *room.EndTime
		}
		if room.StartTime != nil && !end.After(*room.StartTime) {
			end = room.StartTime.Add(time.Second)
		}
		room.EndTime = &end
		room.Status = domain.RoomCompleted
		return nil
	})
	if err != nil {
		return domain.Room{}, err
	}
	s.opts.log.WithFields(logrus.Fields{"room_id": room.ID, "forced": !checkHost}).Info("room completed")
	s.publishStatus(ctx, room)
	emit(ctx, s.events, s.opts.log, domain.EventRoomEnded, room.ID, domain.EndTimeUpdate{EndTime: room.EndTime})
	return room, nil
}

// Cancel stops a scheduled or active room without results being final.
func (s *RoomService) Cancel(ctx context.Context, roomID, callerID string) (domain.Room, error) {
	var previous domain.RoomStatus
	room, err := s.update(ctx, roomID, func(_ context.Context, room *domain.Room) error {
		if room.HostID != callerID {
			return domain.ErrNotHost
		}
		if !room.Status.CanTransitionTo(domain.RoomCancelled) {
			return domain.Conflictf("cannot cancel room while it is %s", room.Status)
		}
		previous = room.Status
		room.Status = domain.RoomCancelled
		return nil
	})
	if err != nil {
		return domain.Room{}, err
	}
	s.opts.log.WithField("room_id", room.ID).Info("room cancelled")
	s.publishStatus(ctx, room)
	if previous == domain.RoomActive {
		emit(ctx, s.events, s.opts.log, domain.EventRoomEnded, room.ID, domain.EndTimeUpdate{EndTime: room.EndTime})
	}
	return room, nil
}

// UpdateScheduled changes quiz, start time or duration of a room that has not started.
func (s *RoomService) UpdateScheduled(ctx context.Context, roomID, callerID string, upd ScheduledUpdate) (domain.Room, error) {
	if err := validateStruct(upd); err != nil {
		return domain.Room{}, err
	}
	return s.update(ctx, roomID, func(ctx context.Context, room *domain.Room) error {
		if room.HostID != callerID {
			return domain.ErrNotHost
		}
		switch room.Status {
		case domain.RoomScheduled:
		case domain.RoomActive:
			return domain.Conflictf("cannot reschedule a room that is already active")
		default:
			return domain.Conflictf("cannot update a room that is %s", room.Status)
		}

		if upd.QuizID != nil {
			quiz, err := s.ownedQuiz(ctx, strings.TrimSpace(*upd.QuizID), callerID)
			if err != nil {
				return err
			}
			room.QuizID = quiz.ID
			if upd.DurationMinutes == nil && room.PerQuestionTime > 0 {
				if room.DurationMinutes, err = s.resolveDuration(quiz, nil, room.PerQuestionTime); err != nil {
					return err
				}
			}
		}
		if upd.DurationMinutes != nil {
			room.DurationMinutes = *upd.DurationMinutes
		}
		if upd.StartTime != nil {
			if !upd.StartTime.After(s.opts.now()) {
				return domain.Validationf("startTime must be in the future")
			}
			room.AutoStart = true
			return setSchedule(room, upd.StartTime.UTC())
		}
		if room.StartTime != nil {
			return setSchedule(room, *room.StartTime)
		}
		return nil
	})
}

// UpdateActiveDuration moves the end time of a running room. A concurrent
// completion makes it fail with a state conflict.
func (s *RoomService) UpdateActiveDuration(ctx context.Context, roomID, callerID string, minutes int) (domain.Room, error) {
	if minutes < 1 || minutes > maxDurationMinutes {
		return domain.Room{}, domain.Validationf("durationMinutes must be between 1 and %d", maxDurationMinutes)
	}

	updated, err := s.update(ctx, roomID, func(_ context.Context, room *domain.Room) error {
		if room.HostID != callerID {
			return domain.ErrNotHost
		}
		if room.Status != domain.RoomActive || room.StartTime == nil {
			return domain.Conflictf("room is not active")
		}
		end := room.StartTime.Add(time.Duration(minutes) * time.Minute)
		if !end.After(s.opts.now()) {
			return domain.Validationf("new end time must be in the future")
		}
		room.DurationMinutes = minutes
		room.EndTime = &end
		return nil
	})
	if err != nil {
		return domain.Room{}, err
	}

	s.opts.log.WithFields(logrus.Fields{"room_id": roomID, "duration_minutes": minutes}).Info("room duration updated")
	emit(ctx, s.events, s.opts.log, domain.EventTimeUpdated, updated.ID, domain.EndTimeUpdate{EndTime: updated.EndTime})
	return updated, nil
}

// Delete removes a room with its participants and submissions in one unit of work.
func (s *RoomService) Delete(ctx context.Context, roomID, callerID string) error {
	err := s.store.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
		room, err := tx.GetRoomForUpdate(ctx, roomID)
		if err != nil {
			return err
		}
		if room.HostID != callerID {
			return domain.ErrNotHost
		}
		return tx.DeleteRoom(ctx, roomID)
	})
	if err != nil {
		return err
	}
	if s.presence != nil {
		if err := s.presence.ClearRoom(ctx, roomID); err != nil {
			s.opts.log.WithError(err).WithField("room_id", roomID).Warn("clear presence")
		}
	}
	s.opts.log.WithField("room_id", roomID).Info("room deleted")
	return nil
}

// Get returns the room snapshot by id.
func (s *RoomService) Get(ctx context.Context, roomID string) (domain.RoomSnapshot, error) {
	room, err := s.store.GetRoom(ctx, roomID)
	if err != nil {
		return domain.RoomSnapshot{}, err
	}
	return s.snap.snapshot(ctx, room)
}

// GetByCode returns the snapshot of a room participants can still enter.
func (s *RoomService) GetByCode(ctx context.Context, code string) (domain.RoomSnapshot, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return domain.RoomSnapshot{}, domain.Validationf("roomCode is required")
	}
	room, err := s.store.GetRoomByCode(ctx, code)
	if err != nil {
		return domain.RoomSnapshot{}, err
	}
	if room.Status.Terminal() {
		return domain.RoomSnapshot{}, domain.Conflictf("room has already ended")
	}
	if room.Expired(s.opts.now()) {
		return domain.RoomSnapshot{}, domain.Conflictf("room time is over")
	}
	return s.snap.snapshot(ctx, room)
}

// ListByHost pages through a host's rooms, newest first, with each room's top scorers.
func (s *RoomService) ListByHost(ctx context.Context, hostID string, q domain.RoomQuery) (domain.RoomPage, error) {
	if q.Status != "" && !q.Status.Valid() {
		return domain.RoomPage{}, domain.Validationf("unknown status %q", q.Status)
	}
	if q.Page < 1 {
		q.Page = 1
	}
	if q.Limit < 1 {
		q.Limit = defaultPageSize
	}
	if q.Limit > maxPageSize {
		q.Limit = maxPageSize
	}

	rooms, total, err := s.store.ListRoomsByHost(ctx, hostID, q)
	if err != nil {
		return domain.RoomPage{}, err
	}
	page := domain.RoomPage{Rooms: make([]domain.RoomSummary, 0, len(rooms)), Total: total, Page: q.Page, Limit: q.Limit}
	for _, room := range rooms {
		participants, err := s.store.ListParticipants(ctx, room.ID)
		if err != nil {
			return domain.RoomPage{}, err
		}
		top := rankParticipants(participants)
		if len(top) > topParticipants {
			top = top[:topParticipants]
		}
		page.Rooms = append(page.Rooms, domain.RoomSummary{Room: room, TopParticipants: top})
	}
	return page, nil
}

// EndTime lets reconnecting clients reload their countdown.
func (s *RoomService) EndTime(ctx context.Context, roomID string) (*time.Time, error) {
	room, err := s.store.GetRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	return room.EndTime, nil
}

func (s *RoomService) ownedQuiz(ctx context.Context, quizID, hostID string) (domain.Quiz, error) {
	if quizID == "" {
		return domain.Quiz{}, domain.Validationf("quizId is required")
	}
	quiz, err := s.quizzes.GetQuiz(ctx, quizID)
	if err != nil {
		return domain.Quiz{}, err
	}
	if quiz.CreatorID != hostID {
		return domain.Quiz{}, domain.Forbiddenf("quiz %s is not owned by the caller", quizID)
	}
	if s.resolver.Count(quiz) == 0 {
		return domain.Quiz{}, domain.Validationf("quiz %s has no questions", quiz.ID)
	}
	return quiz, nil
}

func (s *RoomService) resolveDuration(quiz domain.Quiz, explicit *int, perQuestion int) (int, error) {
	if explicit != nil {
		return *explicit, nil
	}
	if perQuestion <= 0 {
		return 0, domain.Validationf("durationMinutes or perQuestionTime is required")
	}
	if perQuestion > maxPerQuestionTime {
		return 0, domain.Validationf("perQuestionTime must be at most %d", maxPerQuestionTime)
	}
	count := s.resolver.Count(quiz)
	if count == 0 {
		return 0, domain.Validationf("quiz %s has no questions", quiz.ID)
	}
	if count > maxDurationMinutes*60/perQuestion {
		return 0, domain.Validationf("perQuestionTime x %d questions exceeds %d minutes", count, maxDurationMinutes)
	}
	return durationForQuestions(perQuestion, count), nil
}

func (s *RoomService) insertWithCode(ctx context.Context, room *domain.Room) error {
	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		code, err := newJoinCode(s.opts.codeLength)
		if err != nil {
			return domain.Internal("generate room code", err)
		}
		room.Code = code
		err = s.store.InsertRoom(ctx, *room)
		if errors.Is(err, domain.ErrCodeTaken) {
			continue
		}
		return err
	}
	return domain.Internal("could not allocate a unique room code", nil)
}

func (s *RoomService) publishStatus(ctx context.Context, room domain.Room) {
	emit(ctx, s.events, s.opts.log, domain.EventRoomStatusChanged, room.ID, domain.StatusChange{
		RoomID:        room.ID,
		Status:        room.Status,
		EndTime:       room.EndTime,
		QuestionCount: len(room.QuestionOrder),
	})
}

// update locks the room, applies change and writes it back guarded by the status
// it was read with. Nothing is written when change fails.
func (s *RoomService) update(ctx context.Context, roomID string, change func(ctx context.Context, room *domain.Room) error) (domain.Room, error) {
	var updated domain.Room
	err := s.store.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
		room, err := tx.GetRoomForUpdate(ctx, roomID)
		if err != nil {
			return err
		}
		expected := room.Status
		if err := change(ctx, &room); err != nil {
			return err
		}
		if err := tx.CompareAndSwapRoom(ctx, expected, room); err != nil {
			return err
		}
		updated = room
		return nil
	})
	if err != nil {
		return domain.Room{}, err
	}
	return updated, nil
}

// setSchedule sets the start time and keeps endTime = startTime + duration.
func setSchedule(room *domain.Room, start time.Time) error {
	if room.DurationMinutes < 1 || room.DurationMinutes > maxDurationMinutes {
		return domain.Validationf("durationMinutes must be between 1 and %d", maxDurationMinutes)
	}
	end := start.Add(room.Duration())
	if !end.After(start) {
		return domain.Validationf("room must end after it starts")
	}
	room.StartTime = &start
	room.EndTime = &end
	return nil
}
