package router

import (
	"net"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/storage/redis"

	"github.com/ManuelReschke/StudioDesk/internal/pkg/cache"
	"github.com/ManuelReschke/StudioDesk/internal/pkg/env"
)

// NewLimiterStorage builds the Redis storage for rate limit counters from the
// cache connection settings, so all replicas share one budget.
func NewLimiterStorage() fiber.Storage {
	host := cache.Host()
	port := cache.Port()
	password := env.GetEnv("CACHE_PASSWORD", "")
	if client := cache.GetClient(); client != nil {
		if h, p, err := net.SplitHostPort(client.Options().Addr); err == nil {
			host = h
			if v, err := strconv.Atoi(p); err == nil {
				port = v
			}
		}
		if p := client.Options().Password; p != "" {
			password = p
		}
	}

	return redis.New(redis.Config{
		Host:     host,
		Port:     port,
		Password: password,
		Database: env.GetInt("LIMITER_CACHE_DB", 2),
		Reset:    false,
	})
}
