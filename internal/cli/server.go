package cli

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"examroom-service/internal/app"
	"examroom-service/internal/config"
	"examroom-service/internal/domain"
	"examroom-service/internal/infra/memory"
	"examroom-service/internal/infra/postgres"
	infraredis "examroom-service/internal/infra/redis"
	transport "examroom-service/internal/transport/http"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the HTTP/WebSocket server and the room scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

// backends are the collaborators chosen from config; nil fields fall back to memory.
type backends struct {
	store    app.Store
	quizzes  app.QuizRepository
	presence app.PresenceTracker
	events   app.Broadcaster
	ping     func(context.Context) error
	close    func()
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger := cfg.NewLogger()

	if cfg.Postgres.URL != "" {
		if err := runMigrationsWithConfig(ctx, cfg, logger); err != nil {
			return err
		}
	}

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}
	if finalPort == "" {
		finalPort = "8080"
	}

	b, err := openBackends(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer b.close()

	opts := []app.Option{app.WithLogger(logger), app.WithCodeLength(cfg.Room.CodeLength)}
	rooms := app.NewRoomService(b.store, b.quizzes, b.presence, b.events, opts...)
	svc := transport.Services{
		Rooms:        rooms,
		Participants: app.NewParticipantRegistry(b.store, b.presence, b.events, opts...),
		Submissions:  app.NewSubmissionIntake(b.store, b.quizzes, opts...),
		Results:      app.NewResultsAggregator(b.store, b.quizzes, opts...),
		Events:       b.events,
	}
	scheduler := app.NewScheduler(rooms, b.store,
		config.TTLDuration(cfg.Scheduler.Interval, 5*time.Second),
		config.IntOr(cfg.Scheduler.Workers, 8),
		opts...)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := b.ping(r.Context()); err != nil {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte("ok"))
	})
	transport.NewRESTHandler(svc, logger).Register(mux)
	transport.NewWSHandler(svc, logger).Register(mux)

	server := &http.Server{
		Addr:        ":" + finalPort,
		Handler:     mux,
		ReadTimeout: 15 * time.Second,
		// no WriteTimeout: it would cut long-lived websocket connections
	}

	if err := scheduler.Start(); err != nil {
		return err
	}
	go func() {
		logger.WithField("port", finalPort).Info("starting examroom service")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Error("http server stopped")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		logger.Info("shutting down server...")
	case <-ctx.Done():
		logger.Info("context canceled, shutting down server...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := scheduler.Stop(shutdownCtx); err != nil {
		logger.WithError(err).Warn("scheduler did not stop in time")
	}
	return server.Shutdown(shutdownCtx)
}

func openBackends(ctx context.Context, cfg config.Config, logger logrus.FieldLogger) (backends, error) {
	var closers []func()
	b := backends{
		ping: func(context.Context) error { return nil },
		close: func() {
			for i := len(closers) - 1; i >= 0; i-- {
				closers[i]()
			}
		},
	}

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		closers = append(closers, func() { _ = redisClient.Close() })
	}
	redisTTL := config.TTLDuration(cfg.Redis.TTL, 10*time.Minute)

	var loader memory.QuizLoader = memory.NewStaticQuizLoader(sampleQuizzes(), samplePools())
	if cfg.Postgres.URL != "" {
		pool, err := pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			b.close()
			return backends{}, err
		}
		closers = append(closers, pool.Close)
		store := postgres.NewStore(pool, postgres.RetryPolicy{
			Retries: config.IntOr(cfg.Store.Retries, postgres.DefaultRetryPolicy.Retries),
			Backoff: config.TTLDuration(cfg.Store.Backoff, postgres.DefaultRetryPolicy.Backoff),
		})
		b.store, b.ping = store, store.Ping
		loader = postgres.NewQuizLoader(pool)
	} else {
		logger.Warn("postgres not configured, rooms are kept in memory")
		b.store = memory.NewStore()
	}

	quizTTL := config.TTLDuration(cfg.Quiz.TTL, 10*time.Minute)
	if redisClient != nil {
		b.quizzes = infraredis.NewQuizRepository(redisClient, loader, quizTTL)
		b.presence = infraredis.NewPresence(redisClient, redisTTL)
		b.events = infraredis.NewBroadcaster(redisClient, logger)
	} else {
		b.quizzes = memory.NewQuizRepository(loader, quizTTL)
		b.presence = memory.NewPresence()
		b.events = app.NewHub()
	}
	return b, nil
}

// sampleQuizzes seeds the in-memory loader when no database is configured.
func sampleQuizzes() map[string]domain.Quiz {
	return map[string]domain.Quiz{
		"quiz-1": {
			ID:        "quiz-1",
			Name:      "Warm-up",
			CreatorID: "demo-host",
			Questions: []domain.Question{
				{
					ID:     "q1",
					Prompt: "What is 2 + 2?",
					Options: []domain.Option{
						{ID: "o1", Text: "3", Correct: false},
						{ID: "o2", Text: "4", Correct: true},
						{ID: "o3", Text: "5", Correct: false},
					},
					Points: 1,
				},
				{
					ID:              "q2",
					Prompt:          "Name the largest planet in the solar system.",
					AcceptedAnswers: []string{"Jupiter"},
					Points:          2,
				},
			},
			BankQueries: []domain.BankQuery{{Pool: "capitals", Limit: 2}},
		},
	}
}

func samplePools() map[string][]domain.Question {
	return map[string][]domain.Question{
		"capitals": {
			{ID: "c1", Prompt: "Capital of France?", AcceptedAnswers: []string{"Paris"}},
			{ID: "c2", Prompt: "Capital of Japan?", AcceptedAnswers: []string{"Tokyo"}},
			{ID: "c3", Prompt: "Capital of Kenya?", AcceptedAnswers: []string{"Nairobi"}},
		},
	}
}
