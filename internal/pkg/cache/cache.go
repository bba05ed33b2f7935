package cache

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ManuelReschke/StudioDesk/internal/pkg/env"
)

var client *redis.Client

// SetupCache connects to the Redis cache that holds tick statistics and
// rate limit counters. A failed ping is logged; callers degrade gracefully.
func SetupCache() {
	client = redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", Host(), Port()),
		Password: env.GetEnv("CACHE_PASSWORD", ""),
		DB:       env.GetInt("CACHE_DB", 0),
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		log.Printf("Warning: Could not connect to cache at %s: %v", client.Options().Addr, err)
	} else {
		log.Printf("Connected to cache at %s", client.Options().Addr)
	}
}

// Host returns the configured cache host.
func Host() string {
	return env.GetEnv("CACHE_HOST", "localhost")
}

// Port returns the configured cache port.
func Port() int {
	return env.GetInt("CACHE_PORT", 6379)
}

// GetClient returns the Redis client, connecting on first use.
func GetClient() *redis.Client {
	if client == nil {
		SetupCache()
	}
	return client
}

// Close releases the connection pool.
func Close() error {
	if client == nil {
		return nil
	}
	err := client.Close()
	client = nil
	return err
}
