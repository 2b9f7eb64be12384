// internal/config/config.go
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds every tunable of the lobby matchmaking engine and the processes around it.
// Values come from the environment; see Load for the variable names and defaults.
type Config struct {
	// IdleTimeout is how long a lobby or connection may go without activity before it is
	// considered inactive.
	IdleTimeout time.Duration
	// QueueCheckInterval is the period of the background pool matcher.
	QueueCheckInterval time.Duration
	// ActivityCheckInterval is the period of the idle reaper.
	ActivityCheckInterval time.Duration

	MaxLobbySize     int
	MatchThreshold   float64
	HighCutoff       int // priority >= HighCutoff lands in the high tier
	MediumCutoff     int // priority >= MediumCutoff lands in the medium tier
	DefaultMaxWait   time.Duration
	MaxActivityLevel int

	// BaseWaitHigh, BaseWaitMedium and BaseWaitLow seed the per-tier wait estimate.
	BaseWaitHigh    time.Duration
	BaseWaitMedium  time.Duration
	BaseWaitLow     time.Duration
	WaitHistorySize int

	// UpdateRetries bounds the optimistic retries of a lobby-list read-modify-write.
	UpdateRetries int

	RedisAddr     string
	RedisDB       int
	RedisPassword string
	KeyPrefix     string
	EventsQueue   string

	Port string

	DiscordToken    string
	DiscordSendRate float64
}

// Default returns the configuration used when no environment overrides are present.
func Default() Config {
	return Config{
		IdleTimeout:           5 * time.Minute,
		QueueCheckInterval:    5 * time.Second,
		ActivityCheckInterval: time.Minute,

		MaxLobbySize:     3,
		MatchThreshold:   0.7,
		HighCutoff:       8,
		MediumCutoff:     4,
		DefaultMaxWait:   5 * time.Minute,
		MaxActivityLevel: 10,

		BaseWaitHigh:    15 * time.Second,
		BaseWaitMedium:  30 * time.Second,
		BaseWaitLow:     60 * time.Second,
		WaitHistorySize: 10,

		UpdateRetries: 5,

		RedisAddr:   "localhost:6379",
		KeyPrefix:   "interchat",
		EventsQueue: "interchat_lobby_events",

		Port: "8080",

		DiscordSendRate: 5,
	}
}

// Load reads the configuration from environment variables, falling back to Default for
// anything unset or malformed:
//   - LOBBY_IDLE_TIMEOUT, LOBBY_QUEUE_CHECK_INTERVAL, LOBBY_ACTIVITY_CHECK_INTERVAL,
//     LOBBY_DEFAULT_MAX_WAIT (Go durations, e.g. "5m")
//   - LOBBY_MAX_SIZE, LOBBY_MATCH_THRESHOLD, LOBBY_HIGH_PRIORITY_CUTOFF,
//     LOBBY_MEDIUM_PRIORITY_CUTOFF, LOBBY_MAX_ACTIVITY_LEVEL, LOBBY_WAIT_HISTORY_SIZE,
//     LOBBY_UPDATE_RETRIES
//   - REDIS_ADDR, REDIS_DB, REDIS_PASSWORD, REDIS_KEY_PREFIX, LOBBY_EVENTS_QUEUE
//   - PORT, DISCORD_BOT_TOKEN, DISCORD_SEND_RATE
func Load() Config {
	d := Default()
	return Config{
		IdleTimeout:           getEnvDuration("LOBBY_IDLE_TIMEOUT", d.IdleTimeout),
		QueueCheckInterval:    getEnvDuration("LOBBY_QUEUE_CHECK_INTERVAL", d.QueueCheckInterval),
		ActivityCheckInterval: getEnvDuration("LOBBY_ACTIVITY_CHECK_INTERVAL", d.ActivityCheckInterval),

		MaxLobbySize:     getEnvInt("LOBBY_MAX_SIZE", d.MaxLobbySize),
		MatchThreshold:   getEnvFloat("LOBBY_MATCH_THRESHOLD", d.MatchThreshold),
		HighCutoff:       getEnvInt("LOBBY_HIGH_PRIORITY_CUTOFF", d.HighCutoff),
		MediumCutoff:     getEnvInt("LOBBY_MEDIUM_PRIORITY_CUTOFF", d.MediumCutoff),
		DefaultMaxWait:   getEnvDuration("LOBBY_DEFAULT_MAX_WAIT", d.DefaultMaxWait),
		MaxActivityLevel: getEnvInt("LOBBY_MAX_ACTIVITY_LEVEL", d.MaxActivityLevel),

		BaseWaitHigh:    getEnvDuration("LOBBY_BASE_WAIT_HIGH", d.BaseWaitHigh),
		BaseWaitMedium:  getEnvDuration("LOBBY_BASE_WAIT_MEDIUM", d.BaseWaitMedium),
		BaseWaitLow:     getEnvDuration("LOBBY_BASE_WAIT_LOW", d.BaseWaitLow),
		WaitHistorySize: getEnvInt("LOBBY_WAIT_HISTORY_SIZE", d.WaitHistorySize),

		UpdateRetries: getEnvInt("LOBBY_UPDATE_RETRIES", d.UpdateRetries),

		RedisAddr:     getEnv("REDIS_ADDR", d.RedisAddr),
		RedisDB:       getEnvInt("REDIS_DB", d.RedisDB),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		KeyPrefix:     getEnv("REDIS_KEY_PREFIX", d.KeyPrefix),
		EventsQueue:   getEnv("LOBBY_EVENTS_QUEUE", d.EventsQueue),

		Port: getEnv("PORT", d.Port),

		DiscordToken:    getEnv("DISCORD_BOT_TOKEN", ""),
		DiscordSendRate: getEnvFloat("DISCORD_SEND_RATE", d.DiscordSendRate),
	}
}

// getEnv is a helper to read an environment variable or return a default value.
func getEnv(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

// GetEnv exposes getEnv to the cmd packages that read their own process-specific settings.
func GetEnv(key, def string) string { return getEnv(key, def) }

// GetEnvInt exposes getEnvInt to the cmd packages.
func GetEnvInt(key string, def int) int { return getEnvInt(key, def) }

// getEnvInt is a helper to parse an environment variable as integer, else a default value.
func getEnvInt(key string, def int) int {
	s := os.Getenv(key)
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return v
}

func getEnvFloat(key string, def float64) float64 {
	s := os.Getenv(key)
	if s == "" {
		return def
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return def
	}
	return v
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	s := os.Getenv(key)
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
