package memory

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"examroom-service/internal/app"
	"examroom-service/internal/domain"
	"golang.org/x/sync/singleflight"
)

// QuizLoader fetches quiz content and question pools from a backing store.
type QuizLoader interface {
	LoadQuiz(ctx context.Context, quizID string) (domain.Quiz, error)
	LoadPool(ctx context.Context, pool string) ([]domain.Question, error)
}

// QuizRepository caches quizzes and pools with a jittered TTL. Concurrent misses
// for the same key share one load.
type QuizRepository struct {
	loader QuizLoader
	ttl    time.Duration
	clock  func() time.Time
	sf     singleflight.Group

	mu    sync.RWMutex
	rnd   *rand.Rand
	cache map[string]cachedEntry
}

var _ app.QuizRepository = (*QuizRepository)(nil)

type cachedEntry struct {
	value     any
	expiresAt time.Time
}

func NewQuizRepository(loader QuizLoader, ttl time.Duration) *QuizRepository {
	return &QuizRepository{
		loader: loader,
		ttl:    ttl,
		clock:  time.Now,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
		cache:  make(map[string]cachedEntry),
	}
}

func (r *QuizRepository) GetQuiz(ctx context.Context, quizID string) (domain.Quiz, error) {
	v, err := r.get(ctx, "quiz:"+quizID, func(ctx context.Context) (any, error) {
		return r.loader.LoadQuiz(ctx, quizID)
	})
	if err != nil {
		return domain.Quiz{}, err
	}
	return v.(domain.Quiz), nil
}

func (r *QuizRepository) GetPool(ctx context.Context, pool string) ([]domain.Question, error) {
	v, err := r.get(ctx, "pool:"+pool, func(ctx context.Context) (any, error) {
		return r.loader.LoadPool(ctx, pool)
	})
	if err != nil {
		return nil, err
	}
	return v.([]domain.Question), nil
}

func (r *QuizRepository) get(ctx context.Context, key string, load func(context.Context) (any, error)) (any, error) {
	if v, ok := r.lookup(key); ok {
		return v, nil
	}
	v, err, _ := r.sf.Do(key, func() (interface{}, error) {
		if v, ok := r.lookup(key); ok {
			return v, nil
		}
		v, err := load(ctx)
		if err != nil {
			return nil, err
		}
		r.mu.Lock()
		r.cache[key] = cachedEntry{value: v, expiresAt: r.clock().Add(r.ttlWithJitter())}
		r.mu.Unlock()
		return v, nil
	})
	return v, err
}

func (r *QuizRepository) lookup(key string) (any, bool) {
	now := r.clock()
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.cache[key]
	if !ok || !entry.expiresAt.After(now) {
		return nil, false
	}
	return entry.value, true
}

// caller holds r.mu
func (r *QuizRepository) ttlWithJitter() time.Duration {
	if r.ttl <= 0 {
		return 0
	}
	// up to 10% extra so entries loaded together do not expire together
	jitterMax := int64(r.ttl) / 10
	return r.ttl + time.Duration(r.rnd.Int63n(jitterMax+1))
}

// StaticQuizLoader serves fixed quizzes and pools, for tests and local runs.
type StaticQuizLoader struct {
	quizzes map[string]domain.Quiz
	pools   map[string][]domain.Question
}

func NewStaticQuizLoader(quizzes map[string]domain.Quiz, pools map[string][]domain.Question) *StaticQuizLoader {
	return &StaticQuizLoader{quizzes: quizzes, pools: pools}
}

func (l *StaticQuizLoader) LoadQuiz(_ context.Context, quizID string) (domain.Quiz, error) {
	if quiz, ok := l.quizzes[quizID]; ok {
		return quiz, nil
	}
	return domain.Quiz{}, domain.ErrQuizNotFound
}

func (l *StaticQuizLoader) LoadPool(_ context.Context, pool string) ([]domain.Question, error) {
	if questions, ok := l.pools[pool]; ok {
		return questions, nil
	}
	return nil, domain.ErrPoolNotFound
}
