package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"civicpulse-be/logger"

	"github.com/joho/godotenv"
)

const (
	StoreMemory = "memory"
	StoreMongo  = "mongo"
)

// Settings is the process configuration, read once at startup.
type Settings struct {
	Port string
	Env  string

	StoreMode     string
	MongoURI      string
	MongoDatabase string

	RedisAddress  string
	RedisPassword string

	IssueLimitPrefix string
	IssueDailyLimit  int

	JWTSecret  string
	Domain     string
	CORSOrigin string

	BackendTimeout       time.Duration
	OutboxReplayInterval time.Duration
}

// Production reports whether cookies should be marked secure.
func (s Settings) Production() bool {
	return s.Env == "production"
}

// RedisEnabled reports whether a Redis address was configured.
func (s Settings) RedisEnabled() bool {
	return s.RedisAddress != ""
}

// Load reads .env when present, then the process environment.
func Load() (Settings, error) {
	if err := godotenv.Load(); err != nil {
		logger.WithComponent("config").Debug("No .env file found, reading from environment")
	}
	return FromEnv()
}

// FromEnv builds Settings from the environment without touching .env.
func FromEnv() (Settings, error) {
	s := Settings{
		Port:             getenv("PORT", "8080"),
		Env:              os.Getenv("GO_ENV"),
		StoreMode:        getenv("STORE_MODE", StoreMemory),
		MongoURI:         os.Getenv("MONGODB_URI"),
		MongoDatabase:    getenv("MONGODB_DATABASE", "civicpulse"),
		RedisAddress:     os.Getenv("REDIS_ADDRESS"),
		RedisPassword:    os.Getenv("REDIS_PASSWORD"),
		IssueLimitPrefix: getenv("REDIS_QUEUE_FOR_ISSUE_LIMIT", "issue-limit"),
		JWTSecret:        os.Getenv("JWT_SECRET"),
		Domain:           os.Getenv("DOMAIN"),
		CORSOrigin:       getenv("CORS_ORIGIN", "*"),
	}

	var err error
	if s.IssueDailyLimit, err = strconv.Atoi(getenv("ISSUE_DAILY_LIMIT", "20")); err != nil {
		return Settings{}, fmt.Errorf("invalid ISSUE_DAILY_LIMIT: %w", err)
	}
	if s.BackendTimeout, err = time.ParseDuration(getenv("BACKEND_TIMEOUT", "8s")); err != nil {
		return Settings{}, fmt.Errorf("invalid BACKEND_TIMEOUT: %w", err)
	}
	if s.OutboxReplayInterval, err = time.ParseDuration(getenv("OUTBOX_REPLAY_INTERVAL", "1m")); err != nil {
		return Settings{}, fmt.Errorf("invalid OUTBOX_REPLAY_INTERVAL: %w", err)
	}

	switch s.StoreMode {
	case StoreMemory:
	case StoreMongo:
		if s.MongoURI == "" {
			return Settings{}, fmt.Errorf("please define the MONGODB_URI environment variable")
		}
	default:
		return Settings{}, fmt.Errorf("unknown STORE_MODE %q", s.StoreMode)
	}
	if s.JWTSecret == "" {
		return Settings{}, fmt.Errorf("JWT_SECRET environment variable is not set")
	}
	return s, nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
