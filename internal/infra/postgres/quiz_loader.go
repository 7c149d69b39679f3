package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"examroom-service/internal/domain"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
)

// QuizLoader loads quiz and question pool JSONB documents from Postgres.
type QuizLoader struct {
	pool *pgxpool.Pool
}

func NewQuizLoader(pool *pgxpool.Pool) *QuizLoader {
	return &QuizLoader{pool: pool}
}

func (l *QuizLoader) LoadQuiz(ctx context.Context, quizID string) (domain.Quiz, error) {
	var quiz domain.Quiz
	if err := l.load(ctx, `SELECT data FROM quizzes WHERE id=$1`, quizID, &quiz); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Quiz{}, domain.ErrQuizNotFound
		}
		return domain.Quiz{}, fmt.Errorf("load quiz: %w", err)
	}
	if quiz.ID == "" {
		quiz.ID = quizID
	}
	return quiz, nil
}

func (l *QuizLoader) LoadPool(ctx context.Context, pool string) ([]domain.Question, error) {
	var questions []domain.Question
	if err := l.load(ctx, `SELECT data FROM question_pools WHERE name=$1`, pool, &questions); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrPoolNotFound
		}
		return nil, fmt.Errorf("load pool: %w", err)
	}
	return questions, nil
}

func (l *QuizLoader) load(ctx context.Context, query, key string, dst any) error {
	var raw []byte
	if err := l.pool.QueryRow(ctx, query, key).Scan(&raw); err != nil {
		return err
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("unmarshal %s: %w", key, err)
	}
	return nil
}
