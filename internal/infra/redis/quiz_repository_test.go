package redis

import (
	"context"
	"testing"
	"time"

	"examroom-service/internal/domain"
	"examroom-service/internal/infra/memory"
	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestQuizRepositoryCachesInRedis(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	loader := &countingLoader{QuizLoader: memory.NewStaticQuizLoader(map[string]domain.Quiz{"quiz-1": sampleQuiz()}, nil)}
	repo := NewQuizRepository(newClient(mr), loader, time.Minute)

	quiz, err := repo.GetQuiz(context.Background(), "quiz-1")
	if err != nil {
		t.Fatalf("get quiz: %v", err)
	}
	if !mr.Exists("quiz:quiz-1:doc") {
		t.Fatalf("expected quiz document cached")
	}

	// second call is served from redis with full content
	quiz, err = repo.GetQuiz(context.Background(), "quiz-1")
	if err != nil {
		t.Fatalf("get quiz 2: %v", err)
	}
	if loader.calls != 1 {
		t.Fatalf("expected cache hit, loader calls=%d", loader.calls)
	}
	if quiz.Questions[0].Prompt != "What is 2 + 2?" || len(quiz.Questions[0].Options) != 2 {
		t.Fatalf("cached quiz lost content: %+v", quiz.Questions[0])
	}

	if err := repo.Invalidate(context.Background(), "quiz-1"); err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	_, _ = repo.GetQuiz(context.Background(), "quiz-1")
	if loader.calls != 2 {
		t.Fatalf("expected reload after invalidate, loader calls=%d", loader.calls)
	}
}

func TestQuizRepositoryCachesPools(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	pools := map[string][]domain.Question{"geo": {{ID: "g1", Prompt: "Capital of France?", AcceptedAnswers: []string{"Paris"}}}}
	loader := &countingLoader{QuizLoader: memory.NewStaticQuizLoader(nil, pools)}
	repo := NewQuizRepository(newClient(mr), loader, time.Minute)

	for i := 0; i < 2; i++ {
		got, err := repo.GetPool(context.Background(), "geo")
		if err != nil {
			t.Fatalf("get pool: %v", err)
		}
		if len(got) != 1 || got[0].AcceptedAnswers[0] != "Paris" {
			t.Fatalf("unexpected pool %+v", got)
		}
	}
	if loader.poolCalls != 1 {
		t.Fatalf("expected one pool load, got %d", loader.poolCalls)
	}
	if ttl := mr.TTL("pool:geo:doc"); ttl < time.Minute || ttl > time.Minute+6*time.Second {
		t.Fatalf("unexpected ttl %v", ttl)
	}
}

func TestQuizRepositoryReloadsCorruptEntry(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	_ = mr.Set("quiz:quiz-1:doc", "{not json")
	loader := &countingLoader{QuizLoader: memory.NewStaticQuizLoader(map[string]domain.Quiz{"quiz-1": sampleQuiz()}, nil)}
	repo := NewQuizRepository(newClient(mr), loader, time.Minute)

	if _, err := repo.GetQuiz(context.Background(), "quiz-1"); err != nil {
		t.Fatalf("get quiz: %v", err)
	}
	if loader.calls != 1 {
		t.Fatalf("expected loader fallback, calls=%d", loader.calls)
	}
}

type countingLoader struct {
	memory.QuizLoader
	calls     int
	poolCalls int
}

func (l *countingLoader) LoadQuiz(ctx context.Context, quizID string) (domain.Quiz, error) {
	l.calls++
	return l.QuizLoader.LoadQuiz(ctx, quizID)
}

func (l *countingLoader) LoadPool(ctx context.Context, pool string) ([]domain.Question, error) {
	l.poolCalls++
	return l.QuizLoader.LoadPool(ctx, pool)
}

func sampleQuiz() domain.Quiz {
	return domain.Quiz{
		ID:        "quiz-1",
		CreatorID: "host-1",
		Questions: []domain.Question{
			{
				ID:     "q1",
				Prompt: "What is 2 + 2?",
				Options: []domain.Option{
					{ID: "o1", Text: "3", Correct: false},
					{ID: "o2", Text: "4", Correct: true},
				},
				Points: 1,
			},
		},
	}
}

func newClient(mr *miniredis.Miniredis) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})
}
