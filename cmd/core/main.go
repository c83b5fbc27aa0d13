// Package main wires the sync core: local store, outbox drain engine,
// background scheduler, and the optional Redis cache layer. Everything is
// constructed here and injected; no package carries ambient global state.
package main

import (
	"context"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/HelyeFab/moshimoshi-sub008/internal/cache"
	"github.com/HelyeFab/moshimoshi-sub008/internal/cache/warmer"
	"github.com/HelyeFab/moshimoshi-sub008/internal/cleanup"
	"github.com/HelyeFab/moshimoshi-sub008/internal/db"
	"github.com/HelyeFab/moshimoshi-sub008/internal/events"
	"github.com/HelyeFab/moshimoshi-sub008/internal/logging"
	"github.com/HelyeFab/moshimoshi-sub008/internal/models"
	"github.com/HelyeFab/moshimoshi-sub008/internal/store"
	syncpkg "github.com/HelyeFab/moshimoshi-sub008/internal/sync"
	"github.com/HelyeFab/moshimoshi-sub008/internal/sync/conflict"
	"github.com/HelyeFab/moshimoshi-sub008/internal/sync/outbox"
	"github.com/HelyeFab/moshimoshi-sub008/internal/sync/scheduler"
	"github.com/HelyeFab/moshimoshi-sub008/internal/transport"
)

// Version is set at build time.
var Version = "0.1.0"

// Config holds process configuration, read from the environment.
type Config struct {
	DataDir      string
	SyncBaseURL  string
	SyncToken    string
	UserID       string // cache namespace for this account
	RedisAddr    string // empty disables the cache layer
	RedisDB      int
	LogLevel     logging.LogLevel
	SyncInterval time.Duration
}

// ConfigFromEnv reads configuration with local-development defaults.
func ConfigFromEnv() *Config {
	cfg := &Config{
		DataDir:      envOr("DATA_DIR", "./data"),
		SyncBaseURL:  envOr("SYNC_BASE_URL", "http://localhost:8090"),
		SyncToken:    os.Getenv("SYNC_TOKEN"),
		UserID:       envOr("SYNC_USER_ID", "local"),
		RedisAddr:    os.Getenv("REDIS_ADDR"),
		LogLevel:     logging.LevelInfo,
		SyncInterval: 15 * time.Minute,
	}
	if v := os.Getenv("REDIS_DB"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RedisDB = n
		}
	}
	if os.Getenv("LOG_DEBUG") != "" {
		cfg.LogLevel = logging.LevelDebug
	}
	if v := os.Getenv("SYNC_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.SyncInterval = d
		}
	}
	return cfg
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	cfg := ConfigFromEnv()

	logging.Init(os.Stdout, cfg.LogLevel)
	logger := logging.Get()
	logger.Info("Sync core starting",
		map[string]interface{}{"version": Version, "data_dir": cfg.DataDir})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		logger.Error("Failed to create data directory", err, nil)
		os.Exit(1)
	}

	database, err := db.Open(cfg.DataDir)
	if err != nil {
		logger.Error("Failed to open database", err, nil)
		os.Exit(1)
	}
	defer database.Close()

	if err := database.InitSchema(); err != nil {
		logger.Error("Failed to initialize schema", err, nil)
		os.Exit(1)
	}

	bus := events.NewBus()
	st := store.New(database, bus, logger)

	token := func(ctx context.Context) (string, error) { return cfg.SyncToken, nil }
	client := transport.NewClient(cfg.SyncBaseURL, token, nil)

	engine := syncpkg.NewEngine(
		st,
		outbox.NewManager(st, logger),
		client,
		conflict.NewResolver(logger),
		outbox.NewCircuitBreaker(),
		bus,
		logger,
	)

	var queueCache *cache.QueueCache
	var statsCache *cache.StatsCache
	var backend cache.Backend
	if cfg.RedisAddr != "" {
		redisBackend, err := cache.NewRedisBackendFromConfig(ctx, &cache.RedisConfig{
			Addr: cfg.RedisAddr,
			DB:   cfg.RedisDB,
		})
		if err != nil {
			logger.Error("Redis unreachable, continuing without cache", err,
				map[string]interface{}{"addr": cfg.RedisAddr})
			backend = cache.NewNoopBackend(logger)
		} else {
			defer redisBackend.Close()
			backend = redisBackend
		}
	} else {
		backend = cache.NewNoopBackend(logger)
	}
	queueCache = cache.NewQueueCache(backend, logger)
	statsCache = cache.NewStatsCache(backend, logger)

	cleaner := cleanup.NewCleaner(st, queueCache, statsCache, logger)
	_ = cleaner // exposed to the host API layer

	warm := warmer.NewWarmer(queueCache, statsCache, &storeSource{store: st}, logger)
	go warm.WarmUserCache(ctx, cfg.UserID)

	bus.Subscribe(events.TopicAuthRequired, func(ev events.Event) {
		logger.Warn("Re-authentication required; sync paused", nil)
	})

	sched := scheduler.NewScheduler(engine, logger, &scheduler.SchedulerConfig{
		SyncInterval:  cfg.SyncInterval,
		DrainInterval: time.Minute,
	})
	sched.Start(ctx)

	<-ctx.Done()
	logger.Info("Shutting down", nil)
	sched.Stop()
}

// storeSource feeds the cache warmer from the local store. The core holds
// one account's data, so the userID only selects the cache namespace.
type storeSource struct {
	store *store.Store
}

func (s *storeSource) ReviewQueue(ctx context.Context, userID string) ([]models.ReviewQueueItem, error) {
	return s.store.ListReviewQueue(ctx)
}

func (s *storeSource) Stats(ctx context.Context, userID string) (*models.UserStats, error) {
	queue, err := s.store.ListReviewQueue(ctx)
	if err != nil {
		return nil, err
	}

	stats := &models.UserStats{TotalItems: int64(len(queue))}
	for _, item := range queue {
		stats.TotalReviews += int64(len(item.History))
		for _, outcome := range item.History {
			if outcome.Outcome == "good" || outcome.Outcome == "easy" {
				stats.CorrectReviews++
			}
			if outcome.Timestamp > stats.LastActivityAt {
				stats.LastActivityAt = outcome.Timestamp
			}
		}
	}

	if streak, err := s.store.GetStreak(ctx); err == nil {
		stats.StreakCurrent = int64(streak.Current)
		stats.StreakBest = int64(streak.Best)
	}
	return stats, nil
}

func (s *storeSource) Streak(ctx context.Context, userID string) (*models.Streak, error) {
	return s.store.GetStreak(ctx)
}
