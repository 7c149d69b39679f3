package app_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"examroom-service/internal/app"
	"examroom-service/internal/domain"
	"examroom-service/internal/infra/memory"
	"github.com/sirupsen/logrus/hooks/test"
)

const hostID = "host-1"

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fixture struct {
	store        *memory.Store
	hub          *app.Hub
	presence     *memory.Presence
	clock        *fakeClock
	quizzes      *gatedQuizzes
	rooms        *app.RoomService
	participants *app.ParticipantRegistry
	submissions  *app.SubmissionIntake
	results      *app.ResultsAggregator
	scheduler    *app.Scheduler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger, _ := test.NewNullLogger()
	f := &fixture{
		store:    memory.NewStore(),
		hub:      app.NewHub(),
		presence: memory.NewPresence(),
		clock:    &fakeClock{now: time.Date(2024, 11, 22, 9, 0, 0, 0, time.UTC)},
	}
	f.quizzes = &gatedQuizzes{
		QuizRepository: memory.NewQuizRepository(memory.NewStaticQuizLoader(testQuizzes(), testPools()), time.Minute),
	}
	opts := []app.Option{app.WithClock(f.clock.Now), app.WithLogger(logger)}
	f.rooms = app.NewRoomService(f.store, f.quizzes, f.presence, f.hub, opts...)
	f.participants = app.NewParticipantRegistry(f.store, f.presence, f.hub, opts...)
	f.submissions = app.NewSubmissionIntake(f.store, f.quizzes, opts...)
	f.results = app.NewResultsAggregator(f.store, f.quizzes, opts...)
	f.scheduler = app.NewScheduler(f.rooms, f.store, time.Second, 4, opts...)
	return f
}

// gatedQuizzes holds the next GetQuiz call until the test releases it.
type gatedQuizzes struct {
	app.QuizRepository

	mu      sync.Mutex
	entered chan struct{}
	release chan struct{}
}

func (g *gatedQuizzes) arm() (entered <-chan struct{}, release func()) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.entered = make(chan struct{})
	g.release = make(chan struct{})
	rel := g.release
	return g.entered, func() { close(rel) }
}

func (g *gatedQuizzes) GetQuiz(ctx context.Context, quizID string) (domain.Quiz, error) {
	g.mu.Lock()
	entered, release := g.entered, g.release
	g.entered, g.release = nil, nil
	g.mu.Unlock()
	if entered != nil {
		close(entered)
		<-release
	}
	return g.QuizRepository.GetQuiz(ctx, quizID)
}

// createRoom schedules a manual-start room on quiz-1 lasting the given minutes.
func (f *fixture) createRoom(t *testing.T, minutes int) domain.Room {
	t.Helper()
	room, err := f.rooms.Create(context.Background(), app.CreateRoomInput{
		HostID:          hostID,
		QuizID:          "quiz-1",
		Name:            "Friday quiz",
		DurationMinutes: &minutes,
	})
	if err != nil {
		t.Fatalf("create room: %v", err)
	}
	return room
}

func (f *fixture) activeRoom(t *testing.T, minutes int) domain.Room {
	t.Helper()
	room := f.createRoom(t, minutes)
	started, err := f.rooms.Start(context.Background(), room.ID, hostID)
	if err != nil {
		t.Fatalf("start room: %v", err)
	}
	return started
}

func (f *fixture) join(t *testing.T, roomID, userID, name string) domain.Participant {
	t.Helper()
	p, _, err := f.participants.Join(context.Background(), roomID, domain.Identity{UserID: userID, DisplayName: name})
	if err != nil {
		t.Fatalf("join %s: %v", name, err)
	}
	return p
}

func (f *fixture) answer(t *testing.T, participantID, questionID string, answer domain.Answer) domain.SubmitResult {
	t.Helper()
	res, err := f.submissions.Submit(context.Background(), participantID, app.AnswerInput{QuestionID: questionID, Answer: answer})
	if err != nil {
		t.Fatalf("submit %s: %v", questionID, err)
	}
	return res
}

func expectKind(t *testing.T, err error, kind domain.Kind) {
	t.Helper()
	if got := domain.KindOf(err); got != kind {
		t.Fatalf("expected %s error, got %v (%s)", kind, err, got)
	}
}

func intPtr(v int) *int { return &v }

func testQuizzes() map[string]domain.Quiz {
	ten := make([]domain.Question, 0, 10)
	for i := 1; i <= 10; i++ {
		ten = append(ten, domain.Question{ID: fmt.Sprintf("t%d", i), Prompt: "?", AcceptedAnswers: []string{"yes"}})
	}
	return map[string]domain.Quiz{
		"quiz-1": {
			ID:        "quiz-1",
			Name:      "Warm-up",
			CreatorID: hostID,
			Questions: []domain.Question{
				{
					ID:     "q1",
					Prompt: "What is 2 + 2?",
					Options: []domain.Option{
						{ID: "o1", Text: "3"},
						{ID: "o2", Text: "4", Correct: true},
					},
					Points: 1,
				},
				{ID: "q2", Prompt: "Largest planet?", AcceptedAnswers: []string{"Jupiter"}, Points: 2},
			},
			BankQueries: []domain.BankQuery{{Pool: "capitals", Limit: 1}},
		},
		"quiz-10":    {ID: "quiz-10", Name: "Ten", CreatorID: hostID, Questions: ten},
		"quiz-empty": {ID: "quiz-empty", Name: "Draft", CreatorID: hostID},
		"quiz-other": {
			ID:        "quiz-other",
			CreatorID: "someone-else",
			Questions: []domain.Question{{ID: "x1", AcceptedAnswers: []string{"x"}}},
		},
	}
}

func testPools() map[string][]domain.Question {
	return map[string][]domain.Question{
		"capitals": {
			{ID: "c1", Prompt: "Capital of France?", AcceptedAnswers: []string{"Paris"}},
			{ID: "c2", Prompt: "Capital of Japan?", AcceptedAnswers: []string{"Tokyo"}},
		},
	}
}
