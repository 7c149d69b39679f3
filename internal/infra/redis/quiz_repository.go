package redis

import (
	"context"
	"encoding/json"
	"math/rand"
	"sync"
	"time"

	"examroom-service/internal/app"
	"examroom-service/internal/domain"
	"examroom-service/internal/infra/memory"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

// QuizRepository caches quiz documents and question pools in Redis as JSON and
// falls back to the loader on a miss.
//
//	quiz:{quizID}:doc  -> domain.Quiz
//	pool:{pool}:doc    -> []domain.Question
//
// A cache read or write failure degrades to the loader; it never fails the call.
type QuizRepository struct {
	client *redis.Client
	loader memory.QuizLoader
	ttl    time.Duration
	sf     singleflight.Group

	mu  sync.Mutex
	rnd *rand.Rand
}

var _ app.QuizRepository = (*QuizRepository)(nil)

func NewQuizRepository(client *redis.Client, loader memory.QuizLoader, ttl time.Duration) *QuizRepository {
	return &QuizRepository{
		client: client,
		loader: loader,
		ttl:    ttl,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (r *QuizRepository) GetQuiz(ctx context.Context, quizID string) (domain.Quiz, error) {
	var quiz domain.Quiz
	err := r.get(ctx, quizKey(quizID), &quiz, func(ctx context.Context) (any, error) {
		return r.loader.LoadQuiz(ctx, quizID)
	})
	return quiz, err
}

func (r *QuizRepository) GetPool(ctx context.Context, pool string) ([]domain.Question, error) {
	var questions []domain.Question
	err := r.get(ctx, poolKey(pool), &questions, func(ctx context.Context) (any, error) {
		return r.loader.LoadPool(ctx, pool)
	})
	return questions, err
}

func (r *QuizRepository) get(ctx context.Context, key string, dst any, load func(context.Context) (any, error)) error {
	if r.cached(ctx, key, dst) {
		return nil
	}

	raw, err, _ := r.sf.Do(key, func() (interface{}, error) {
		// another caller may have filled it while we waited
		if raw, err := r.client.Get(ctx, key).Bytes(); err == nil {
			return raw, nil
		}
		v, err := load(ctx)
		if err != nil {
			return nil, err
		}
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		_ = r.client.Set(ctx, key, raw, r.ttlWithJitter()).Err()
		return raw, nil
	})
	if err != nil {
		return err
	}
	return json.Unmarshal(raw.([]byte), dst)
}

func (r *QuizRepository) cached(ctx context.Context, key string, dst any) bool {
	raw, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		return false
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		// drop the corrupt entry and reload
		_ = r.client.Del(ctx, key).Err()
		return false
	}
	return true
}

// Invalidate drops the cached quiz document, e.g. after the author edits it.
func (r *QuizRepository) Invalidate(ctx context.Context, quizID string) error {
	return r.client.Del(ctx, quizKey(quizID)).Err()
}

func quizKey(quizID string) string {
	return "quiz:" + quizID + ":doc"
}

func poolKey(pool string) string {
	return "pool:" + pool + ":doc"
}

func (r *QuizRepository) ttlWithJitter() time.Duration {
	if r.ttl <= 0 {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	jitterMax := int64(r.ttl) / 10
	return r.ttl + time.Duration(r.rnd.Int63n(jitterMax+1))
}
