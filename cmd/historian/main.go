// cmd/historian/main.go drains lobby events from the Redis queue into PostgreSQL.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Discord-InterChat/InterChat-sub001/internal/cache"
	"github.com/Discord-InterChat/InterChat-sub001/internal/config"
	"github.com/Discord-InterChat/InterChat-sub001/internal/database"
	"github.com/Discord-InterChat/InterChat-sub001/internal/historian"
	_ "github.com/joho/godotenv/autoload"
	"github.com/sirupsen/logrus"
)

func main() {
	logger := logrus.New()
	logger.SetLevel(logrus.InfoLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := config.Load()
	rdb, err := cache.ConnectRedis(cfg)
	if err != nil {
		logger.Fatalf("redis: %v", err)
	}
	defer rdb.Close()

	pool, err := database.ConnectDB(ctx)
	if err != nil {
		logger.Fatalf("postgres: %v", err)
	}
	defer pool.Close()

	store := database.NewLobbyEventStore(pool)
	if err := store.EnsureSchema(ctx); err != nil {
		logger.Fatalf("schema: %v", err)
	}

	svc := historian.NewService(rdb, store, historian.Options{
		Queue:      cfg.EventsQueue,
		BatchSize:  config.GetEnvInt("HISTORIAN_BATCH_SIZE", 20),
		FlushDelay: time.Duration(config.GetEnvInt("HISTORIAN_FLUSH_MS", 500)) * time.Millisecond,
		Inactivity: time.Duration(config.GetEnvInt("LOBBY_SESSION_INACTIVITY_TIMEOUT_SEC", 3600)) * time.Second,
	}, logger)

	if err := svc.Run(ctx); err != nil {
		logger.Errorf("historian exited: %v", err)
	}
	logger.Info("Historian shutdown complete.")
}
