package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	Port        string
	RedisURL    string
	DatabaseURL string

	SyncInterval time.Duration
	SyncDebounce time.Duration
	SyncSettle   time.Duration

	AvgServiceMinutes int

	TrackerPollInterval time.Duration
	TrackerBatchSize    int

	RateLimitPerMinute int
	RateLimitBurst     int
}

func Load() Config {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	return Config{
		Port:                port,
		RedisURL:            os.Getenv("REDIS_URL"),
		DatabaseURL:         os.Getenv("DB_DSN"),
		SyncInterval:        readDurationSeconds("SYNC_INTERVAL_SECONDS", 30),
		SyncDebounce:        readDurationMillis("SYNC_DEBOUNCE_MS", 250),
		SyncSettle:          readDurationMillis("SYNC_SETTLE_MS", 150),
		AvgServiceMinutes:   readInt("AVG_SERVICE_MINUTES", 5),
		TrackerPollInterval: readDurationSeconds("TRACKER_POLL_SECONDS", 2),
		TrackerBatchSize:    readInt("TRACKER_BATCH_SIZE", 100),
		RateLimitPerMinute:  readInt("RATE_LIMIT_PER_MIN", 120),
		RateLimitBurst:      readInt("RATE_LIMIT_BURST", 30),
	}
}

func readDurationSeconds(key string, fallback int) time.Duration {
	value := readInt(key, fallback)
	if value <= 0 {
		return 0
	}
	return time.Duration(value) * time.Second
}

func readDurationMillis(key string, fallback int) time.Duration {
	value := readInt(key, fallback)
	if value <= 0 {
		return 0
	}
	return time.Duration(value) * time.Millisecond
}

func readInt(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}
