package config

import (
	"context"
	"fmt"

	"civicpulse-be/logger"

	"github.com/redis/go-redis/v9"
)

// ConnectRedis returns a client after a successful ping.
func ConnectRedis(ctx context.Context, s Settings) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     s.RedisAddress,
		Password: s.RedisPassword,
		DB:       0,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.WithComponent("config").WithField("address", s.RedisAddress).Info("Connected to Redis")
	return client, nil
}
