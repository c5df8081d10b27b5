package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cleanquest/progression/internal/achievement"
	"github.com/cleanquest/progression/internal/config"
	"github.com/cleanquest/progression/internal/handler"
	"github.com/cleanquest/progression/internal/kafka"
	"github.com/cleanquest/progression/internal/ledger"
	"github.com/cleanquest/progression/internal/memory"
	"github.com/cleanquest/progression/internal/points"
	"github.com/cleanquest/progression/internal/postgres"
	"github.com/cleanquest/progression/internal/rank"
	"github.com/cleanquest/progression/internal/redis"
	"github.com/cleanquest/progression/internal/service"
	"github.com/cleanquest/progression/internal/store"
	"github.com/cleanquest/progression/internal/websocket"
	"github.com/cleanquest/progression/internal/worker"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Warn("failed to load config file, using defaults", "error", err)
		cfg = config.DefaultConfig()
	}

	loc, err := cfg.Scheduler.Location()
	if err != nil {
		logger.Error("invalid scheduler timezone", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, err := openStore(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to open store", "driver", cfg.Storage.Driver, "error", err)
		os.Exit(1)
	}
	defer st.Close()

	// Award pipeline
	opts := points.Options{
		ComboWindow:         cfg.Points.ComboWindow,
		ComboThreshold:      cfg.Points.ComboThreshold,
		ComboBonus:          cfg.Points.ComboBonus,
		FirstTimeRadius:     cfg.Points.FirstTimeRadius,
		FirstTimeBonus:      cfg.Points.FirstTimeBonus,
		MaxVisitedLocations: cfg.Points.MaxVisitedLocations,
	}
	combo := points.NewComboTracker(st, st, opts, logger)
	calculator := points.NewCalculator(st, st, combo, opts, logger)
	progression := rank.NewProgression(st, rank.DefaultTable(), logger)
	pointLedger := ledger.New(st, st, progression, loc, logger)
	unlocker := achievement.NewUnlocker(st, st, pointLedger, logger)
	engine := service.NewEngine(st, st, calculator, pointLedger, unlocker, progression, logger)

	if err := engine.SeedCatalog(ctx); err != nil {
		logger.Error("failed to seed achievement catalog", "error", err)
		os.Exit(1)
	}

	leaderboardService := service.NewLeaderboardService(st, &cfg.Leaderboard, cfg.Scheduler.CacheSize, logger)

	// Optional Redis mirror of the leaderboard snapshot
	if cfg.Redis.Enabled {
		logger.Info("connecting to Redis", "addr", cfg.Redis.Addr)
		mirror, err := redis.NewSnapshotCache(&cfg.Redis, logger)
		if err != nil {
			logger.Warn("failed to connect to Redis, serving leaderboards from the store", "error", err)
		} else {
			defer mirror.Close()
			leaderboardService.SetMirror(mirror)
			logger.Info("connected to Redis")
		}
	}

	// Live notifications
	wsHub := websocket.NewHub(logger)
	go wsHub.Run()
	engine.SetNotifier(wsHub)
	leaderboardService.SetNotifier(wsHub)

	// Scheduled maintenance
	scheduler := worker.NewScheduler(loc, logger)
	jobs := worker.NewJobs(st, st, leaderboardService, &cfg.Scheduler, loc, logger)
	if err := jobs.Register(scheduler); err != nil {
		logger.Error("failed to register scheduler jobs", "error", err)
		os.Exit(1)
	}
	if cfg.Scheduler.Enabled {
		if err := scheduler.Start(ctx); err != nil {
			logger.Error("failed to start scheduler", "error", err)
			os.Exit(1)
		}
	}

	// Kafka ingestion of upstream report and cleanup actions
	var kafkaConsumer *kafka.Consumer
	if cfg.Kafka.Enabled {
		logger.Info("initializing kafka consumer",
			"brokers", cfg.Kafka.Brokers,
			"topic", cfg.Kafka.Topic,
		)
		kafkaConsumer, err = kafka.NewConsumer(&cfg.Kafka, engine, logger)
		if err != nil {
			logger.Warn("failed to create kafka consumer, continuing without kafka", "error", err)
		} else if err := kafkaConsumer.Start(); err != nil {
			logger.Warn("failed to start kafka consumer, continuing without kafka", "error", err)
			kafkaConsumer = nil
		}
	}

	httpHandler := handler.NewHandler(engine, leaderboardService, scheduler, st, wsHub, logger)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      httpHandler.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		logger.Info("starting HTTP server", "port", cfg.Server.Port, "storage", cfg.Storage.Driver)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown server", "error", err)
	}

	if kafkaConsumer != nil {
		if err := kafkaConsumer.Stop(); err != nil {
			logger.Error("failed to stop kafka consumer", "error", err)
		}
	}

	if scheduler.IsRunning() {
		if err := scheduler.Stop(); err != nil {
			logger.Error("failed to stop scheduler", "error", err)
		}
	}

	wsHub.Stop()

	logger.Info("server stopped")
}

// openStore connects the configured backend and prepares its schema
func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (store.Store, error) {
	switch cfg.Storage.Driver {
	case config.DriverMemory:
		logger.Warn("using in-memory store, state is lost on restart")
		return memory.NewStore(), nil

	case config.DriverPostgres:
		logger.Info("connecting to PostgreSQL", "host", cfg.Postgres.Host, "database", cfg.Postgres.Database)
		repo, err := postgres.NewRepository(&cfg.Postgres, logger)
		if err != nil {
			return nil, err
		}
		if err := repo.RunMigrations(ctx); err != nil {
			repo.Close()
			return nil, err
		}
		logger.Info("connected to PostgreSQL")
		return repo, nil
	}
	return nil, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
}
