package app

import (
	"context"
	"errors"
	"sort"
	"time"

	"examroom-service/internal/domain"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const reasonDeadlineElapsed = "deadline_elapsed"

// AnswerInput is one answer as sent by a client.
type AnswerInput struct {
	QuestionID      string        `json:"questionId" validate:"required"`
	Answer          domain.Answer `json:"answer"`
	ClientTimestamp time.Time     `json:"clientTimestamp"`
}

// SubmissionIntake validates, scores and records answers.
type SubmissionIntake struct {
	store    Store
	quizzes  QuizRepository
	resolver *QuestionSetResolver
	opts     options
}

func NewSubmissionIntake(store Store, quizzes QuizRepository, opts ...Option) *SubmissionIntake {
	return &SubmissionIntake{
		store:    store,
		quizzes:  quizzes,
		resolver: NewQuestionSetResolver(quizzes),
		opts:     newOptions(opts),
	}
}

// Submit records an answer and rescores the participant by replacing the
// question's previous contribution, so resubmitting never double-counts.
func (s *SubmissionIntake) Submit(ctx context.Context, participantID string, in AnswerInput) (domain.SubmitResult, error) {
	p, room, err := s.load(ctx, participantID)
	if err != nil {
		return domain.SubmitResult{}, err
	}
	return s.submit(ctx, p, room, in)
}

// SyncBatch replays answers produced while disconnected in client-timestamp order.
// Entries whose question deadline has already passed are skipped without being
// recorded; other per-entry failures are reported and do not stop the batch.
func (s *SubmissionIntake) SyncBatch(ctx context.Context, participantID string, entries []AnswerInput) (domain.SyncResult, error) {
	p, room, err := s.load(ctx, participantID)
	if err != nil {
		return domain.SyncResult{}, err
	}

	ordered := make([]AnswerInput, len(entries))
	copy(ordered, entries)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].ClientTimestamp.Before(ordered[j].ClientTimestamp)
	})

	result := domain.SyncResult{Entries: make([]domain.SyncEntryResult, 0, len(ordered))}
	for _, entry := range ordered {
		if idx := room.QuestionIndex(entry.QuestionID); idx >= 0 {
			if deadline, ok := room.QuestionDeadline(idx); ok && s.opts.now().After(deadline) {
				result.Entries = append(result.Entries, domain.SyncEntryResult{
					QuestionID: entry.QuestionID,
					Outcome:    domain.SyncSkipped,
					Reason:     reasonDeadlineElapsed,
				})
				result.Skipped++
				continue
			}
		}

		res, err := s.submit(ctx, p, room, entry)
		if err != nil {
			switch domain.KindOf(err) {
			case domain.KindInternal, domain.KindTransientStore:
				return result, err
			}
			result.Entries = append(result.Entries, domain.SyncEntryResult{
				QuestionID: entry.QuestionID,
				Outcome:    domain.SyncRejected,
				Reason:     string(domain.KindOf(err)) + ": " + domain.Message(err),
			})
			result.Rejected++
			continue
		}
		result.Entries = append(result.Entries, domain.SyncEntryResult{
			QuestionID: entry.QuestionID,
			Outcome:    domain.SyncAccepted,
			Result:     &res,
		})
		result.Accepted++
	}

	s.opts.log.WithFields(logrus.Fields{
		"participant_id": participantID,
		"accepted":       result.Accepted,
		"skipped":        result.Skipped,
		"rejected":       result.Rejected,
	}).Info("submissions synced")
	return result, nil
}

func (s *SubmissionIntake) load(ctx context.Context, participantID string) (domain.Participant, domain.Room, error) {
	if participantID == "" {
		return domain.Participant{}, domain.Room{}, domain.Validationf("participantId is required")
	}
	p, err := s.store.GetParticipant(ctx, participantID)
	if err != nil {
		return domain.Participant{}, domain.Room{}, err
	}
	room, err := s.store.GetRoom(ctx, p.RoomID)
	if err != nil {
		return domain.Participant{}, domain.Room{}, err
	}
	return p, room, nil
}

// submit checks the room status at validation time only; a sweep may complete
// the room right after, which the deadline check in SyncBatch backstops.
func (s *SubmissionIntake) submit(ctx context.Context, p domain.Participant, room domain.Room, in AnswerInput) (domain.SubmitResult, error) {
	if err := validateStruct(in); err != nil {
		return domain.SubmitResult{}, err
	}
	now := s.opts.now()
	if room.Status != domain.RoomActive {
		return domain.SubmitResult{}, domain.Conflictf("room is %s, answers are not accepted", room.Status)
	}
	if room.Expired(now) {
		return domain.SubmitResult{}, domain.Conflictf("room time is over")
	}
	if room.QuestionIndex(in.QuestionID) < 0 {
		return domain.SubmitResult{}, domain.ErrQuestionNotFound
	}

	quiz, err := s.quizzes.GetQuiz(ctx, room.QuizID)
	if err != nil {
		return domain.SubmitResult{}, err
	}
	question, err := s.resolver.Question(ctx, quiz, in.QuestionID)
	if err != nil {
		return domain.SubmitResult{}, err
	}
	correct, points, err := scoreAnswer(question, in.Answer)
	if err != nil {
		return domain.SubmitResult{}, err
	}

	sub := domain.Submission{
		ID:              uuid.NewString(),
		ParticipantID:   p.ID,
		RoomID:          room.ID,
		QuestionID:      question.ID,
		Answer:          in.Answer,
		IsCorrect:       correct,
		Points:          points,
		ClientTimestamp: in.ClientTimestamp,
		SubmittedAt:     now,
	}
	if sub.ClientTimestamp.IsZero() {
		sub.ClientTimestamp = now
	}

	var total int
	err = s.store.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
		current, err := tx.GetParticipantForUpdate(ctx, p.ID)
		if err != nil {
			return err
		}
		prior := 0
		prev, err := tx.LatestSubmission(ctx, p.ID, question.ID)
		switch {
		case err == nil:
			sub.Sequence = prev.Sequence + 1
			prior = prev.Points
		case errors.Is(err, domain.ErrSubmissionNotFound):
			sub.Sequence = 1
		default:
			return err
		}
		if err := tx.InsertSubmission(ctx, sub); err != nil {
			return err
		}
		total = current.Score - prior + sub.Points
		return tx.SetParticipantScore(ctx, p.ID, total)
	})
	if err != nil {
		return domain.SubmitResult{}, err
	}

	return domain.SubmitResult{
		SubmissionID: sub.ID,
		QuestionID:   sub.QuestionID,
		Correct:      correct,
		Awarded:      sub.Points,
		TotalScore:   total,
		Sequence:     sub.Sequence,
	}, nil
}
