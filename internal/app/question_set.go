package app

import (
	"context"
	"hash/fnv"
	"math"
	"math/rand"

	"examroom-service/internal/domain"
)

// QuestionSetResolver computes a quiz's question count and the frozen order a room presents.
type QuestionSetResolver struct {
	quizzes QuizRepository
}

func NewQuestionSetResolver(quizzes QuizRepository) *QuestionSetResolver {
	return &QuestionSetResolver{quizzes: quizzes}
}

// Count is the number of static questions plus the sum of bank-query limits,
// saturating at math.MaxInt.
func (r *QuestionSetResolver) Count(quiz domain.Quiz) int {
	total := len(quiz.Questions)
	for _, q := range quiz.BankQueries {
		if q.Limit <= 0 {
			continue
		}
		if q.Limit > math.MaxInt-total {
			return math.MaxInt
		}
		total += q.Limit
	}
	return total
}

// Freeze draws the ordered question IDs for a room: static questions in authored
// order, then each bank query's sample. Sampling is seeded from the room ID so a
// retried freeze for the same room yields the same order.
func (r *QuestionSetResolver) Freeze(ctx context.Context, roomID string, quiz domain.Quiz) ([]string, error) {
	order := make([]string, 0, len(quiz.Questions))
	seen := make(map[string]struct{}, len(quiz.Questions))
	for _, q := range quiz.Questions {
		if _, dup := seen[q.ID]; dup {
			continue
		}
		seen[q.ID] = struct{}{}
		order = append(order, q.ID)
	}

	rnd := rand.New(rand.NewSource(roomSeed(roomID)))
	for _, query := range quiz.BankQueries {
		if query.Limit <= 0 {
			continue
		}
		pool, err := r.quizzes.GetPool(ctx, query.Pool)
		if err != nil {
			return nil, err
		}
		candidates := make([]string, 0, len(pool))
		for _, q := range pool {
			if _, dup := seen[q.ID]; !dup {
				candidates = append(candidates, q.ID)
			}
		}
		rnd.Shuffle(len(candidates), func(i, j int) {
			candidates[i], candidates[j] = candidates[j], candidates[i]
		})
		if len(candidates) > query.Limit {
			candidates = candidates[:query.Limit]
		}
		for _, id := range candidates {
			seen[id] = struct{}{}
			order = append(order, id)
		}
	}

	if len(order) == 0 {
		return nil, domain.Validationf("quiz %s has no questions", quiz.ID)
	}
	return order, nil
}

// Question finds a question among the quiz's static questions and bank pools.
func (r *QuestionSetResolver) Question(ctx context.Context, quiz domain.Quiz, questionID string) (domain.Question, error) {
	for _, q := range quiz.Questions {
		if q.ID == questionID {
			return q, nil
		}
	}
	for _, query := range quiz.BankQueries {
		pool, err := r.quizzes.GetPool(ctx, query.Pool)
		if err != nil {
			return domain.Question{}, err
		}
		for _, q := range pool {
			if q.ID == questionID {
				return q, nil
			}
		}
	}
	return domain.Question{}, domain.ErrQuestionNotFound
}

// RoomQuestions returns the definitions a room is scored against: the frozen
// order once started, the quiz's static questions before that.
func (r *QuestionSetResolver) RoomQuestions(ctx context.Context, room domain.Room, quiz domain.Quiz) ([]domain.Question, error) {
	if len(room.QuestionOrder) == 0 {
		return quiz.Questions, nil
	}
	out := make([]domain.Question, 0, len(room.QuestionOrder))
	for _, id := range room.QuestionOrder {
		q, err := r.Question(ctx, quiz, id)
		if err != nil {
			if domain.KindOf(err) != domain.KindNotFound {
				return nil, err
			}
			q = domain.Question{ID: id}
		}
		out = append(out, q)
	}
	return out, nil
}

func roomSeed(roomID string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(roomID))
	return int64(h.Sum64())
}

// durationForQuestions rounds perQuestionTime*count seconds up to whole minutes.
func durationForQuestions(perQuestionTime, count int) int {
	seconds := perQuestionTime * count
	return (seconds + 59) / 60
}
