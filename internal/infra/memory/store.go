package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"examroom-service/internal/app"
	"examroom-service/internal/domain"
)

// Store is an in-memory implementation of app.Store for development and tests.
// A single RWMutex guards all tables. RunInTx writes in place and keeps an undo
// log, so a unit of work costs only the rows it touches.
type Store struct {
	mu   sync.RWMutex
	data tables
}

type tables struct {
	rooms        map[string]domain.Room
	participants map[string]domain.Participant
	submissions  map[string][]domain.Submission // by participant ID
}

var _ app.Store = (*Store)(nil)

func NewStore() *Store {
	return &Store{data: tables{
		rooms:        make(map[string]domain.Room),
		participants: make(map[string]domain.Participant),
		submissions:  make(map[string][]domain.Submission),
	}}
}

func copyRoom(r domain.Room) domain.Room {
	r.QuestionOrder = append([]string(nil), r.QuestionOrder...)
	if r.StartTime != nil {
		t := *r.StartTime
		r.StartTime = &t
	}
	if r.EndTime != nil {
		t := *r.EndTime
		r.EndTime = &t
	}
	return r
}

func (s *Store) InsertRoom(_ context.Context, room domain.Room) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.data.rooms[room.ID]; ok {
		return domain.Conflictf("room %s already exists", room.ID)
	}
	for _, existing := range s.data.rooms {
		if existing.Code == room.Code && !existing.Status.Terminal() {
			return domain.ErrCodeTaken
		}
	}
	s.data.rooms[room.ID] = copyRoom(room)
	return nil
}

func (s *Store) GetRoom(_ context.Context, id string) (domain.Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data.getRoom(id)
}

func (t tables) getRoom(id string) (domain.Room, error) {
	room, ok := t.rooms[id]
	if !ok {
		return domain.Room{}, domain.ErrRoomNotFound
	}
	return copyRoom(room), nil
}

func (s *Store) GetRoomByCode(_ context.Context, code string) (domain.Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var (
		found domain.Room
		ok    bool
	)
	for _, room := range s.data.rooms {
		if room.Code != code {
			continue
		}
		if !room.Status.Terminal() {
			return copyRoom(room), nil
		}
		if !ok || room.CreatedAt.After(found.CreatedAt) {
			found, ok = room, true
		}
	}
	if !ok {
		return domain.Room{}, domain.ErrRoomNotFound
	}
	return copyRoom(found), nil
}

func (s *Store) ListRoomsByHost(_ context.Context, hostID string, q domain.RoomQuery) ([]domain.Room, int, error) {
	s.mu.RLock()
	var rooms []domain.Room
	for _, room := range s.data.rooms {
		if room.HostID != hostID {
			continue
		}
		if q.Status != "" && room.Status != q.Status {
			continue
		}
		rooms = append(rooms, copyRoom(room))
	}
	s.mu.RUnlock()

	sort.Slice(rooms, func(i, j int) bool {
		if !rooms[i].CreatedAt.Equal(rooms[j].CreatedAt) {
			return rooms[i].CreatedAt.After(rooms[j].CreatedAt)
		}
		return rooms[i].ID > rooms[j].ID
	})
	total := len(rooms)
	offset := (q.Page - 1) * q.Limit
	if q.Limit <= 0 || offset >= total || offset < 0 {
		return []domain.Room{}, total, nil
	}
	end := offset + q.Limit
	if end > total {
		end = total
	}
	return rooms[offset:end], total, nil
}

func (s *Store) ListDueRooms(_ context.Context, now time.Time) ([]domain.Room, error) {
	return s.filterRooms(func(r domain.Room) bool {
		return r.Status == domain.RoomScheduled && r.AutoStart && r.StartTime != nil && !r.StartTime.After(now)
	}), nil
}

func (s *Store) ListExpiredRooms(_ context.Context, now time.Time) ([]domain.Room, error) {
	return s.filterRooms(func(r domain.Room) bool {
		return r.Status == domain.RoomActive && r.Expired(now)
	}), nil
}

func (s *Store) filterRooms(keep func(domain.Room) bool) []domain.Room {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Room
	for _, room := range s.data.rooms {
		if keep(room) {
			out = append(out, copyRoom(room))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *Store) CompareAndSwapRoom(_ context.Context, expected domain.RoomStatus, room domain.Room) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.casRoom(expected, room)
}

func (t tables) casRoom(expected domain.RoomStatus, room domain.Room) error {
	current, ok := t.rooms[room.ID]
	if !ok {
		return domain.ErrRoomNotFound
	}
	if current.Status != expected {
		return domain.Conflictf("room status changed from %s to %s", expected, current.Status)
	}
	next := copyRoom(room)
	// the frozen question order never changes once set
	if len(current.QuestionOrder) > 0 {
		next.QuestionOrder = current.QuestionOrder
	}
	next.Code, next.HostID, next.CreatedAt = current.Code, current.HostID, current.CreatedAt
	t.rooms[room.ID] = next
	return nil
}

func (s *Store) JoinParticipant(_ context.Context, p domain.Participant) (domain.Participant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.data.rooms[p.RoomID]; !ok {
		return domain.Participant{}, domain.ErrRoomNotFound
	}
	if p.UserID != "" {
		for id, existing := range s.data.participants {
			if existing.RoomID != p.RoomID || existing.UserID != p.UserID {
				continue
			}
			existing.LastSeenAt = p.LastSeenAt
			if p.DisplayName != "" {
				existing.DisplayName = p.DisplayName
			}
			s.data.participants[id] = existing
			return existing, nil
		}
	}
	s.data.participants[p.ID] = p
	return p, nil
}

func (s *Store) GetParticipant(_ context.Context, id string) (domain.Participant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data.getParticipant(id)
}

func (t tables) getParticipant(id string) (domain.Participant, error) {
	p, ok := t.participants[id]
	if !ok {
		return domain.Participant{}, domain.ErrParticipantNotFound
	}
	return p, nil
}

func (s *Store) ListParticipants(_ context.Context, roomID string) ([]domain.Participant, error) {
	s.mu.RLock()
	var out []domain.Participant
	for _, p := range s.data.participants {
		if p.RoomID == roomID {
			out = append(out, p)
		}
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if !out[i].JoinedAt.Equal(out[j].JoinedAt) {
			return out[i].JoinedAt.Before(out[j].JoinedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *Store) ListParticipationsByUser(_ context.Context, userID string) ([]domain.Participant, error) {
	s.mu.RLock()
	var out []domain.Participant
	for _, p := range s.data.participants {
		if p.UserID == userID && p.IsLoggedIn {
			out = append(out, p)
		}
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if !out[i].JoinedAt.Equal(out[j].JoinedAt) {
			return out[i].JoinedAt.After(out[j].JoinedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

func (s *Store) ListSubmissionsByRoom(_ context.Context, roomID string) ([]domain.Submission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Submission
	for _, subs := range s.data.submissions {
		for _, sub := range subs {
			if sub.RoomID == roomID {
				out = append(out, sub)
			}
		}
	}
	sortSubmissions(out)
	return out, nil
}

func (s *Store) ListSubmissionsByParticipant(_ context.Context, participantID string) ([]domain.Submission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := append([]domain.Submission(nil), s.data.submissions[participantID]...)
	sortSubmissions(out)
	return out, nil
}

func sortSubmissions(subs []domain.Submission) {
	sort.Slice(subs, func(i, j int) bool {
		if !subs[i].SubmittedAt.Equal(subs[j].SubmittedAt) {
			return subs[i].SubmittedAt.Before(subs[j].SubmittedAt)
		}
		return subs[i].Sequence < subs[j].Sequence
	})
}

// RunInTx serializes units of work behind the write lock and undoes their writes
// when fn fails.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context, tx app.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	work := &tx{data: s.data}
	committed := false
	defer func() {
		if !committed {
			work.rollback()
		}
	}()
	if err := fn(ctx, work); err != nil {
		return err
	}
	committed = true
	return nil
}

type tx struct {
	data tables
	undo []func()
}

func (t *tx) rollback() {
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.undo = nil
}

func (t *tx) saveRoom(id string) {
	prev, ok := t.data.rooms[id]
	t.undo = append(t.undo, func() {
		if ok {
			t.data.rooms[id] = prev
		} else {
			delete(t.data.rooms, id)
		}
	})
}

func (t *tx) saveParticipant(id string) {
	prev, ok := t.data.participants[id]
	t.undo = append(t.undo, func() {
		if ok {
			t.data.participants[id] = prev
		} else {
			delete(t.data.participants, id)
		}
	})
}

func (t *tx) saveSubmissions(participantID string) {
	prev, ok := t.data.submissions[participantID]
	t.undo = append(t.undo, func() {
		if ok {
			t.data.submissions[participantID] = prev
		} else {
			delete(t.data.submissions, participantID)
		}
	})
}

func (t *tx) GetRoomForUpdate(_ context.Context, id string) (domain.Room, error) {
	return t.data.getRoom(id)
}

func (t *tx) CompareAndSwapRoom(_ context.Context, expected domain.RoomStatus, room domain.Room) error {
	t.saveRoom(room.ID)
	return t.data.casRoom(expected, room)
}

func (t *tx) DeleteRoom(_ context.Context, id string) error {
	if _, ok := t.data.rooms[id]; !ok {
		return domain.ErrRoomNotFound
	}
	t.saveRoom(id)
	delete(t.data.rooms, id)
	for pid, p := range t.data.participants {
		if p.RoomID == id {
			t.saveParticipant(pid)
			t.saveSubmissions(pid)
			delete(t.data.participants, pid)
			delete(t.data.submissions, pid)
		}
	}
	return nil
}

func (t *tx) GetParticipantForUpdate(_ context.Context, id string) (domain.Participant, error) {
	return t.data.getParticipant(id)
}

func (t *tx) SetParticipantScore(_ context.Context, participantID string, score int) error {
	p, ok := t.data.participants[participantID]
	if !ok {
		return domain.ErrParticipantNotFound
	}
	t.saveParticipant(participantID)
	p.Score = score
	t.data.participants[participantID] = p
	return nil
}

func (t *tx) LatestSubmission(_ context.Context, participantID, questionID string) (domain.Submission, error) {
	var (
		latest domain.Submission
		found  bool
	)
	for _, sub := range t.data.submissions[participantID] {
		if sub.QuestionID == questionID && (!found || sub.Sequence > latest.Sequence) {
			latest, found = sub, true
		}
	}
	if !found {
		return domain.Submission{}, domain.ErrSubmissionNotFound
	}
	return latest, nil
}

func (t *tx) InsertSubmission(_ context.Context, sub domain.Submission) error {
	if _, ok := t.data.participants[sub.ParticipantID]; !ok {
		return domain.ErrParticipantNotFound
	}
	for _, existing := range t.data.submissions[sub.ParticipantID] {
		if existing.QuestionID == sub.QuestionID && existing.Sequence == sub.Sequence {
			return domain.Conflictf("submission sequence %d already recorded", sub.Sequence)
		}
	}
	t.saveSubmissions(sub.ParticipantID)
	t.data.submissions[sub.ParticipantID] = append(t.data.submissions[sub.ParticipantID], sub)
	return nil
}
