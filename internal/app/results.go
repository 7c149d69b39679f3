package app

import (
	"context"
	"math"
	"sort"

	"examroom-service/internal/domain"
)

// ResultsAggregator computes leaderboards and question statistics on demand.
type ResultsAggregator struct {
	store    Store
	quizzes  QuizRepository
	resolver *QuestionSetResolver
	opts     options
}

func NewResultsAggregator(store Store, quizzes QuizRepository, opts ...Option) *ResultsAggregator {
	return &ResultsAggregator{
		store:    store,
		quizzes:  quizzes,
		resolver: NewQuestionSetResolver(quizzes),
		opts:     newOptions(opts),
	}
}

// RoomResults returns the host-only results view of a room.
func (a *ResultsAggregator) RoomResults(ctx context.Context, roomID, callerID string) (domain.RoomResults, error) {
	room, err := a.store.GetRoom(ctx, roomID)
	if err != nil {
		return domain.RoomResults{}, err
	}
	if room.HostID != callerID {
		return domain.RoomResults{}, domain.ErrNotHost
	}
	quiz, err := a.quizzes.GetQuiz(ctx, room.QuizID)
	if err != nil {
		return domain.RoomResults{}, err
	}
	participants, err := a.store.ListParticipants(ctx, roomID)
	if err != nil {
		return domain.RoomResults{}, err
	}
	submissions, err := a.store.ListSubmissionsByRoom(ctx, roomID)
	if err != nil {
		return domain.RoomResults{}, err
	}
	questions, err := a.resolver.RoomQuestions(ctx, room, quiz)
	if err != nil {
		return domain.RoomResults{}, err
	}

	return domain.RoomResults{
		RoomInfo: domain.RoomInfo{
			RoomCode:          room.Code,
			RoomName:          room.Name,
			QuizID:            quiz.ID,
			QuizName:          quiz.Name,
			TotalParticipants: len(participants),
			StartTime:         room.StartTime,
			EndTime:           room.EndTime,
			DurationMinutes:   room.DurationMinutes,
		},
		Leaderboard:   rankParticipants(participants),
		QuestionStats: questionStats(questions, submissions),
	}, nil
}

// Leaderboard ranks a room's participants.
func (a *ResultsAggregator) Leaderboard(ctx context.Context, roomID string) ([]domain.LeaderboardEntry, error) {
	if _, err := a.store.GetRoom(ctx, roomID); err != nil {
		return nil, err
	}
	participants, err := a.store.ListParticipants(ctx, roomID)
	if err != nil {
		return nil, err
	}
	return rankParticipants(participants), nil
}

// UserHistory lists a logged-in user's past participations, newest first.
func (a *ResultsAggregator) UserHistory(ctx context.Context, userID string) ([]domain.HistoryEntry, error) {
	if userID == "" {
		return nil, domain.Validationf("userId is required")
	}
	participations, err := a.store.ListParticipationsByUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	history := make([]domain.HistoryEntry, 0, len(participations))
	for _, p := range participations {
		room, err := a.store.GetRoom(ctx, p.RoomID)
		if err != nil {
			if domain.KindOf(err) == domain.KindNotFound {
				continue
			}
			return nil, err
		}
		subs, err := a.store.ListSubmissionsByParticipant(ctx, p.ID)
		if err != nil {
			return nil, err
		}
		history = append(history, domain.HistoryEntry{
			ParticipationID: p.ID,
			Room:            room,
			Score:           p.Score,
			JoinedAt:        p.JoinedAt,
			Stats:           answerStats(domain.LatestSubmissions(subs)),
		})
	}
	return history, nil
}

// rankParticipants sorts by score descending; ties go to the earlier joiner,
// then to the lower participant ID.
func rankParticipants(participants []domain.Participant) []domain.LeaderboardEntry {
	sorted := make([]domain.Participant, len(participants))
	copy(sorted, participants)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Score != sorted[j].Score {
			return sorted[i].Score > sorted[j].Score
		}
		if !sorted[i].JoinedAt.Equal(sorted[j].JoinedAt) {
			return sorted[i].JoinedAt.Before(sorted[j].JoinedAt)
		}
		return sorted[i].ID < sorted[j].ID
	})

	entries := make([]domain.LeaderboardEntry, 0, len(sorted))
	for i, p := range sorted {
		entries = append(entries, domain.LeaderboardEntry{
			Rank:          i + 1,
			ParticipantID: p.ID,
			UserID:        p.UserID,
			DisplayName:   p.DisplayName,
			Score:         p.Score,
			IsLoggedIn:    p.IsLoggedIn,
			JoinedAt:      p.JoinedAt,
		})
	}
	return entries
}

// questionStats counts only each participant's latest submission per question.
func questionStats(questions []domain.Question, submissions []domain.Submission) []domain.QuestionStat {
	stats := make([]domain.QuestionStat, 0, len(questions))
	index := make(map[string]int, len(questions))
	for _, q := range questions {
		if _, dup := index[q.ID]; dup {
			continue
		}
		index[q.ID] = len(stats)
		stats = append(stats, domain.QuestionStat{QuestionID: q.ID, Prompt: q.Prompt})
	}

	for _, sub := range domain.LatestSubmissions(submissions) {
		i, ok := index[sub.QuestionID]
		if !ok {
			continue
		}
		stats[i].TotalAnswers++
		if sub.IsCorrect {
			stats[i].CorrectAnswers++
		}
	}
	for i := range stats {
		stats[i].CorrectRate = percentage(stats[i].CorrectAnswers, stats[i].TotalAnswers)
	}
	return stats
}

func answerStats(latest []domain.Submission) domain.AnswerStats {
	stats := domain.AnswerStats{TotalQuestions: len(latest)}
	for _, sub := range latest {
		if sub.IsCorrect {
			stats.CorrectAnswers++
		}
	}
	stats.IncorrectAnswers = stats.TotalQuestions - stats.CorrectAnswers
	stats.CorrectPercentage = percentage(stats.CorrectAnswers, stats.TotalQuestions)
	return stats
}

func percentage(part, total int) int {
	if total == 0 {
		return 0
	}
	return int(math.Round(float64(part) * 100 / float64(total)))
}
