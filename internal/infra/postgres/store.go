package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"examroom-service/internal/app"
	"examroom-service/internal/domain"
	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

// Store is the Postgres entity store. Status transitions are conditional updates
// on the expected status; units of work run in a single transaction.
type Store struct {
	pool  *pgxpool.Pool
	retry RetryPolicy
}

var _ app.Store = (*Store)(nil)

func NewStore(pool *pgxpool.Pool, retry RetryPolicy) *Store {
	return &Store{pool: pool, retry: retry}
}

const roomColumns = `id, code, name, quiz_id, host_id, status, duration_minutes, per_question_time,
	start_time, end_time, auto_start, question_order, created_at`

const participantColumns = `id, room_id, user_id, anonymous_token, display_name, score, is_logged_in,
	joined_at, last_seen_at`

const submissionColumns = `id, participant_id, room_id, question_id, answer_option_id, answer_text,
	is_correct, points, sequence, client_timestamp, submitted_at`

func (s *Store) InsertRoom(ctx context.Context, room domain.Room) error {
	return s.retry.do(ctx, func() error {
		_, err := s.pool.Exec(ctx, `INSERT INTO rooms (`+roomColumns+`)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
			room.ID, room.Code, room.Name, room.QuizID, room.HostID, string(room.Status),
			room.DurationMinutes, room.PerQuestionTime, room.StartTime, room.EndTime,
			room.AutoStart, questionOrder(room.QuestionOrder), room.CreatedAt)
		if code, constraint := pgCode(err); code == sqlstateUniqueViolation {
			if constraint == "rooms_live_code_idx" {
				return domain.ErrCodeTaken
			}
			return domain.Conflictf("room %s already exists", room.ID)
		}
		return err
	})
}

func (s *Store) GetRoom(ctx context.Context, id string) (domain.Room, error) {
	var room domain.Room
	err := s.retry.do(ctx, func() error {
		var err error
		room, err = getRoom(ctx, s.pool, id, false)
		return err
	})
	return room, err
}

func getRoom(ctx context.Context, q querier, id string, forUpdate bool) (domain.Room, error) {
	query := `SELECT ` + roomColumns + ` FROM rooms WHERE id=$1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	room, err := scanRoom(q.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Room{}, domain.ErrRoomNotFound
	}
	return room, err
}

func (s *Store) GetRoomByCode(ctx context.Context, code string) (domain.Room, error) {
	var room domain.Room
	err := s.retry.do(ctx, func() error {
		var err error
		room, err = scanRoom(s.pool.QueryRow(ctx, `SELECT `+roomColumns+` FROM rooms WHERE code=$1
			ORDER BY (status IN ('scheduled','active')) DESC, created_at DESC LIMIT 1`, code))
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ErrRoomNotFound
		}
		return err
	})
	return room, err
}

func (s *Store) ListRoomsByHost(ctx context.Context, hostID string, q domain.RoomQuery) ([]domain.Room, int, error) {
	var (
		rooms []domain.Room
		total int
	)
	err := s.retry.do(ctx, func() error {
		if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM rooms WHERE host_id=$1 AND ($2 = '' OR status = $2)`,
			hostID, string(q.Status)).Scan(&total); err != nil {
			return err
		}
		var err error
		rooms, err = queryRooms(ctx, s.pool, `SELECT `+roomColumns+` FROM rooms
			WHERE host_id=$1 AND ($2 = '' OR status = $2)
			ORDER BY created_at DESC, id DESC LIMIT $3 OFFSET $4`,
			hostID, string(q.Status), q.Limit, (q.Page-1)*q.Limit)
		return err
	})
	return rooms, total, err
}

func (s *Store) ListDueRooms(ctx context.Context, now time.Time) ([]domain.Room, error) {
	var rooms []domain.Room
	err := s.retry.do(ctx, func() error {
		var err error
		rooms, err = queryRooms(ctx, s.pool, `SELECT `+roomColumns+` FROM rooms
			WHERE status='scheduled' AND auto_start AND start_time <= $1 ORDER BY id`, now)
		return err
	})
	return rooms, err
}

func (s *Store) ListExpiredRooms(ctx context.Context, now time.Time) ([]domain.Room, error) {
	var rooms []domain.Room
	err := s.retry.do(ctx, func() error {
		var err error
		rooms, err = queryRooms(ctx, s.pool, `SELECT `+roomColumns+` FROM rooms
			WHERE status='active' AND end_time <= $1 ORDER BY id`, now)
		return err
	})
	return rooms, err
}

func (s *Store) CompareAndSwapRoom(ctx context.Context, expected domain.RoomStatus, room domain.Room) error {
	return s.retry.do(ctx, func() error {
		return casRoom(ctx, s.pool, expected, room)
	})
}

// casRoom keeps an already frozen question order.
func casRoom(ctx context.Context, q querier, expected domain.RoomStatus, room domain.Room) error {
	tag, err := q.Exec(ctx, `UPDATE rooms SET
			name=$3, quiz_id=$4, status=$5, duration_minutes=$6, per_question_time=$7,
			start_time=$8, end_time=$9, auto_start=$10,
			question_order = CASE WHEN cardinality(question_order) > 0 THEN question_order ELSE $11::text[] END
		WHERE id=$1 AND status=$2`,
		room.ID, string(expected), room.Name, room.QuizID, string(room.Status),
		room.DurationMinutes, room.PerQuestionTime, room.StartTime, room.EndTime,
		room.AutoStart, questionOrder(room.QuestionOrder))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	var current string
	err = q.QueryRow(ctx, `SELECT status FROM rooms WHERE id=$1`, room.ID).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ErrRoomNotFound
	}
	if err != nil {
		return err
	}
	return domain.Conflictf("room status changed from %s to %s", expected, current)
}

func (s *Store) JoinParticipant(ctx context.Context, p domain.Participant) (domain.Participant, error) {
	var stored domain.Participant
	err := s.retry.do(ctx, func() error {
		var err error
		stored, err = scanParticipant(s.pool.QueryRow(ctx, `INSERT INTO participants (`+participantColumns+`)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
			ON CONFLICT (room_id, user_id) WHERE user_id IS NOT NULL DO UPDATE SET
				last_seen_at = EXCLUDED.last_seen_at,
				display_name = CASE WHEN EXCLUDED.display_name <> '' THEN EXCLUDED.display_name ELSE participants.display_name END
			RETURNING `+participantColumns,
			p.ID, p.RoomID, nullable(p.UserID), nullable(p.AnonymousToken), p.DisplayName, p.Score,
			p.IsLoggedIn, p.JoinedAt, p.LastSeenAt))
		if code, _ := pgCode(err); code == sqlstateForeignKeyViolation {
			return domain.ErrRoomNotFound
		}
		return err
	})
	return stored, err
}

func (s *Store) GetParticipant(ctx context.Context, id string) (domain.Participant, error) {
	var p domain.Participant
	err := s.retry.do(ctx, func() error {
		var err error
		p, err = getParticipant(ctx, s.pool, id, false)
		return err
	})
	return p, err
}

func getParticipant(ctx context.Context, q querier, id string, forUpdate bool) (domain.Participant, error) {
	query := `SELECT ` + participantColumns + ` FROM participants WHERE id=$1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	p, err := scanParticipant(q.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Participant{}, domain.ErrParticipantNotFound
	}
	return p, err
}

func (s *Store) ListParticipants(ctx context.Context, roomID string) ([]domain.Participant, error) {
	var out []domain.Participant
	err := s.retry.do(ctx, func() error {
		var err error
		out, err = queryParticipants(ctx, s.pool, `SELECT `+participantColumns+` FROM participants
			WHERE room_id=$1 ORDER BY joined_at, id`, roomID)
		return err
	})
	return out, err
}

func (s *Store) ListParticipationsByUser(ctx context.Context, userID string) ([]domain.Participant, error) {
	var out []domain.Participant
	err := s.retry.do(ctx, func() error {
		var err error
		out, err = queryParticipants(ctx, s.pool, `SELECT `+participantColumns+` FROM participants
			WHERE user_id=$1 AND is_logged_in ORDER BY joined_at DESC, id DESC`, userID)
		return err
	})
	return out, err
}

func (s *Store) ListSubmissionsByRoom(ctx context.Context, roomID string) ([]domain.Submission, error) {
	var out []domain.Submission
	err := s.retry.do(ctx, func() error {
		var err error
		out, err = querySubmissions(ctx, s.pool, `SELECT `+submissionColumns+` FROM submissions
			WHERE room_id=$1 ORDER BY submitted_at, sequence`, roomID)
		return err
	})
	return out, err
}

func (s *Store) ListSubmissionsByParticipant(ctx context.Context, participantID string) ([]domain.Submission, error) {
	var out []domain.Submission
	err := s.retry.do(ctx, func() error {
		var err error
		out, err = querySubmissions(ctx, s.pool, `SELECT `+submissionColumns+` FROM submissions
			WHERE participant_id=$1 ORDER BY submitted_at, sequence`, participantID)
		return err
	})
	return out, err
}

// RunInTx retries the whole unit of work on serialization failures and deadlocks.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context, tx app.Tx) error) error {
	return s.retry.do(ctx, func() error {
		return s.pool.BeginTxFunc(ctx, pgx.TxOptions{}, func(tx pgx.Tx) error {
			return fn(ctx, &pgTx{q: tx})
		})
	})
}

type pgTx struct {
	q querier
}

func (t *pgTx) GetRoomForUpdate(ctx context.Context, id string) (domain.Room, error) {
	return getRoom(ctx, t.q, id, true)
}

func (t *pgTx) CompareAndSwapRoom(ctx context.Context, expected domain.RoomStatus, room domain.Room) error {
	return casRoom(ctx, t.q, expected, room)
}

// DeleteRoom relies on ON DELETE CASCADE for participants and submissions.
func (t *pgTx) DeleteRoom(ctx context.Context, id string) error {
	tag, err := t.q.Exec(ctx, `DELETE FROM rooms WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrRoomNotFound
	}
	return nil
}

func (t *pgTx) GetParticipantForUpdate(ctx context.Context, id string) (domain.Participant, error) {
	return getParticipant(ctx, t.q, id, true)
}

func (t *pgTx) SetParticipantScore(ctx context.Context, participantID string, score int) error {
	tag, err := t.q.Exec(ctx, `UPDATE participants SET score=$2 WHERE id=$1`, participantID, score)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrParticipantNotFound
	}
	return nil
}

func (t *pgTx) LatestSubmission(ctx context.Context, participantID, questionID string) (domain.Submission, error) {
	sub, err := scanSubmission(t.q.QueryRow(ctx, `SELECT `+submissionColumns+` FROM submissions
		WHERE participant_id=$1 AND question_id=$2 ORDER BY sequence DESC LIMIT 1`, participantID, questionID))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Submission{}, domain.ErrSubmissionNotFound
	}
	return sub, err
}

func (t *pgTx) InsertSubmission(ctx context.Context, sub domain.Submission) error {
	_, err := t.q.Exec(ctx, `INSERT INTO submissions (`+submissionColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		sub.ID, sub.ParticipantID, sub.RoomID, sub.QuestionID, sub.Answer.OptionID, sub.Answer.Text,
		sub.IsCorrect, sub.Points, sub.Sequence, sub.ClientTimestamp, sub.SubmittedAt)
	switch code, _ := pgCode(err); code {
	case sqlstateUniqueViolation:
		return domain.Conflictf("submission sequence %d already recorded", sub.Sequence)
	case sqlstateForeignKeyViolation:
		return domain.ErrParticipantNotFound
	}
	return err
}

func queryRooms(ctx context.Context, q querier, sql string, args ...interface{}) ([]domain.Room, error) {
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Room
	for rows.Next() {
		room, err := scanRoom(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, room)
	}
	return out, rows.Err()
}

func queryParticipants(ctx context.Context, q querier, sql string, args ...interface{}) ([]domain.Participant, error) {
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Participant
	for rows.Next() {
		p, err := scanParticipant(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func querySubmissions(ctx context.Context, q querier, sql string, args ...interface{}) ([]domain.Submission, error) {
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Submission
	for rows.Next() {
		sub, err := scanSubmission(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sub)
	}
	return out, rows.Err()
}

func scanRoom(row pgx.Row) (domain.Room, error) {
	var (
		room   domain.Room
		status string
	)
	err := row.Scan(&room.ID, &room.Code, &room.Name, &room.QuizID, &room.HostID, &status,
		&room.DurationMinutes, &room.PerQuestionTime, &room.StartTime, &room.EndTime,
		&room.AutoStart, &room.QuestionOrder, &room.CreatedAt)
	if err != nil {
		return domain.Room{}, err
	}
	room.Status = domain.RoomStatus(status)
	if len(room.QuestionOrder) == 0 {
		room.QuestionOrder = nil
	}
	return room, nil
}

func scanParticipant(row pgx.Row) (domain.Participant, error) {
	var (
		p               domain.Participant
		userID, anonTok *string
	)
	err := row.Scan(&p.ID, &p.RoomID, &userID, &anonTok, &p.DisplayName, &p.Score, &p.IsLoggedIn,
		&p.JoinedAt, &p.LastSeenAt)
	if err != nil {
		return domain.Participant{}, err
	}
	if userID != nil {
		p.UserID = *userID
	}
	if anonTok != nil {
		p.AnonymousToken = *anonTok
	}
	return p, nil
}

func scanSubmission(row pgx.Row) (domain.Submission, error) {
	var sub domain.Submission
	err := row.Scan(&sub.ID, &sub.ParticipantID, &sub.RoomID, &sub.QuestionID, &sub.Answer.OptionID,
		&sub.Answer.Text, &sub.IsCorrect, &sub.Points, &sub.Sequence, &sub.ClientTimestamp, &sub.SubmittedAt)
	return sub, err
}

func questionOrder(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Ping reports whether the pool can reach the database.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}
