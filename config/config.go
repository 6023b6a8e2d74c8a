// Package config reads settings from the environment, optionally seeded from a .env file.
package config

import (
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	TransportAbly = "ably"
	TransportNATS = "nats"
)

type Config struct {
	Transport    string
	AblyAPIKey   string
	AblyClientID string
	NATSURL      string

	// RedisURL enables the room claim. Empty means no claim is taken.
	RedisURL string

	AblyQueueName string
	AblyQueueHost string

	BoardAddr       string
	JoinBaseURL     string
	PlayerIDFile    string
	SnapshotReports bool

	LogLevel zerolog.Level
}

// Load reads .env if present, then the environment.
func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Warn().Err(err).Msg("could not load .env file")
	}

	return &Config{
		Transport:       getEnv("TRANSPORT", TransportAbly),
		AblyAPIKey:      os.Getenv("ABLY_API_KEY"),
		AblyClientID:    os.Getenv("ABLY_CLIENT_ID"),
		NATSURL:         getEnv("NATS_URL", "nats://127.0.0.1:4222"),
		RedisURL:        os.Getenv("REDIS_URL"),
		AblyQueueName:   os.Getenv("ABLY_QUEUE_NAME"),
		AblyQueueHost:   getEnv("ABLY_QUEUE_HOST", "us-east-1-a-queue.ably.io:5671"),
		BoardAddr:       getEnv("BOARD_ADDR", ":8080"),
		JoinBaseURL:     getEnv("JOIN_BASE_URL", "http://localhost:5173"),
		PlayerIDFile:    getEnv("PLAYER_ID_FILE", defaultPlayerIDFile()),
		SnapshotReports: getEnvAsBool("SNAPSHOT_REPORTS", true),
		LogLevel:        getEnvAsLevel("LOG_LEVEL", zerolog.InfoLevel),
	}
}

func defaultPlayerIDFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".queryhoot", "player_id")
	}
	return filepath.Join(home, ".queryhoot", "player_id")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
		log.Warn().Str("key", key).Str("value", value).Msg("invalid boolean, using default")
	}
	return defaultValue
}

func getEnvAsLevel(key string, defaultValue zerolog.Level) zerolog.Level {
	if value := os.Getenv(key); value != "" {
		if l, err := zerolog.ParseLevel(value); err == nil {
			return l
		}
		log.Warn().Str("key", key).Str("value", value).Msg("invalid log level, using default")
	}
	return defaultValue
}
