package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/campusfix/backend/internal/config"
	"github.com/campusfix/backend/internal/db"
	httpapi "github.com/campusfix/backend/internal/http"
	"github.com/campusfix/backend/internal/memstore"
	"github.com/campusfix/backend/internal/mongodb"
	"github.com/campusfix/backend/internal/notify"
	"github.com/campusfix/backend/internal/seen"
	"github.com/campusfix/backend/internal/service"
	"github.com/campusfix/backend/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	zerolog.TimeFieldFormat = time.RFC3339
	level, _ := zerolog.ParseLevel(cfg.LogLevel)
	logger := log.Level(level).With().Str("service", "campusfix-backend").Logger()

	loc, err := cfg.Location()
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid timezone")
	}

	ctx := context.Background()
	st, err := openStore(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Str("driver", cfg.StoreDriver).Msg("failed to open store")
	}
	defer func() {
		if err := st.Close(context.Background()); err != nil {
			logger.Error().Err(err).Msg("store close error")
		}
	}()

	var tracked seen.Store = seen.NewMemory()
	if cfg.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       0,
		})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Fatal().Err(err).Msg("failed to connect redis")
		}
		defer redisClient.Close()
		tracked = seen.NewRedis(redisClient, cfg.RedisSeenKey)
		logger.Info().Str("key", cfg.RedisSeenKey).Msg("delayed request tracking persisted in redis")
	}

	var publisher notify.Publisher = notify.NopPublisher{}
	if brokers := cfg.KafkaBrokers(); len(brokers) > 0 {
		publisher = notify.NewKafkaPublisher(brokers, cfg.KafkaTopic)
		logger.Info().Strs("brokers", brokers).Str("topic", cfg.KafkaTopic).Msg("publishing notifications to kafka")
	}
	defer publisher.Close()

	dispatcher := &notify.Dispatcher{Store: st, Publisher: publisher, Logger: logger}
	assigner := &service.AssignmentService{
		Store:        st,
		Notifier:     dispatcher,
		Logger:       logger,
		Location:     loc,
		StoreTimeout: cfg.StoreTimeout,
		DeclineLimit: cfg.DeclineLimit,
	}
	delayed := &service.DelayedService{
		Store:         st,
		Seen:          tracked,
		Notifier:      dispatcher,
		Logger:        logger,
		ThresholdDays: cfg.DelayThresholdDays,
		StoreTimeout:  cfg.StoreTimeout,
	}
	workload := &service.WorkloadService{
		Store:        st,
		Logger:       logger,
		Window:       cfg.TOTWWindow,
		StoreTimeout: cfg.StoreTimeout,
	}
	services := httpapi.Services{
		Assigner:  assigner,
		Processor: &service.ProcessingService{Assigner: assigner, Logger: logger},
		Delayed:   delayed,
		Workload:  workload,
	}

	watchCtx, stopWatch := context.WithCancel(ctx)
	watcher := &service.Watcher{
		Store:        st,
		Assigner:     assigner,
		Delayed:      delayed,
		Workload:     workload,
		Logger:       logger,
		AutoAssign:   cfg.AutoAssign,
		ScanInterval: cfg.DelayedScanInterval,
	}
	watchDone := make(chan struct{})
	go func() {
		defer close(watchDone)
		if err := watcher.Run(watchCtx); err != nil {
			logger.Error().Err(err).Msg("watcher stopped")
		}
	}()

	router := httpapi.Router(cfg, st, services, tracked, logger)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  cfg.RequestTimeout,
		WriteTimeout: cfg.RequestTimeout,
	}

	go func() {
		logger.Info().Str("port", cfg.Port).Str("driver", cfg.StoreDriver).Msg("server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	stopWatch()
	ctxShutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctxShutdown)
	select {
	case <-watchDone:
	case <-ctxShutdown.Done():
		logger.Warn().Msg("watcher did not stop in time")
	}
	logger.Info().Msg("server stopped")
}

func openStore(ctx context.Context, cfg config.Config, logger zerolog.Logger) (store.Store, error) {
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	switch cfg.StoreDriver {
	case config.DriverPostgres:
		pg, err := db.New(connectCtx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		if err := pg.Migrate(connectCtx); err != nil {
			pg.Pool.Close()
			return nil, err
		}
		return pg, nil
	case config.DriverMongo:
		m, err := mongodb.New(connectCtx, cfg.MongoURI, cfg.MongoDatabase)
		if err != nil {
			return nil, err
		}
		if err := m.Ping(connectCtx); err != nil {
			_ = m.Close(context.Background())
			return nil, err
		}
		return m, nil
	default:
		logger.Warn().Msg("using in-memory store; data is lost on restart")
		return memstore.New(), nil
	}
}
