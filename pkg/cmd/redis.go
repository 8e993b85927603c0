package cmd

import (
	"fmt"

	"github.com/dukex/rentflow/pkg/lock"
	"github.com/redis/go-redis/v9"
)

// NewRedisClient parses a redis:// URL. An empty URL returns nil.
func NewRedisClient(redisURL string) (redis.UniversalClient, error) {
	if redisURL == "" {
		return nil, nil
	}

	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	return redis.NewClient(opts), nil
}

// NewLocker returns a Redis locker when a client is configured, otherwise an in-process one.
func NewLocker(client redis.UniversalClient) lock.Locker {
	if client == nil {
		return lock.NewMemory()
	}

	return lock.NewRedis(client)
}
