// internal/cache/redis.go
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Discord-InterChat/InterChat-sub001/internal/config"
	"github.com/Discord-InterChat/InterChat-sub001/internal/models"
	"github.com/redis/go-redis/v9"
)

// ConnectRedis creates a Redis client from the config (REDIS_ADDR, REDIS_DB, REDIS_PASSWORD)
// and verifies the connection with a PING before returning it.
func ConnectRedis(cfg config.Config) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", cfg.RedisAddr, err)
	}
	return rdb, nil
}

// PublishLobbyEvent serializes the event to JSON and pushes it onto the named Redis list,
// where the historian picks it up.
func PublishLobbyEvent(ctx context.Context, rdb redis.Cmdable, queue string, event models.LobbyEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal LobbyEvent: %w", err)
	}
	if err := rdb.RPush(ctx, queue, data).Err(); err != nil {
		return fmt.Errorf("failed to RPush to Redis list '%s': %w", queue, err)
	}
	return nil
}
