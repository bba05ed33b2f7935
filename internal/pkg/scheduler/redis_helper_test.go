package scheduler

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ManuelReschke/StudioDesk/internal/pkg/env"
)

const isolatedSchedulerTestRedisDB = 13

// newIsolatedRedisClient connects to the first reachable test Redis and
// flushes a dedicated DB. The test is skipped when no Redis is reachable.
func newIsolatedRedisClient(t *testing.T) *redis.Client {
	t.Helper()

	addrs := uniqueValues(
		env.GetEnv("CACHE_HOST", ""),
		"cache",
		"studiodesk-cache",
		"localhost",
	)
	port := env.GetEnv("CACHE_PORT", "6379")
	passwords := []string{env.GetEnv("CACHE_PASSWORD", "")}
	if passwords[0] != "" {
		passwords = append(passwords, "")
	}

	var lastErr error
	for _, host := range addrs {
		for _, password := range passwords {
			client := redis.NewClient(&redis.Options{
				Addr:     fmt.Sprintf("%s:%s", host, port),
				Password: password,
				DB:       isolatedSchedulerTestRedisDB,
			})
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			err := client.Ping(ctx).Err()
			cancel()
			if err != nil {
				lastErr = err
				_ = client.Close()
				continue
			}

			if err := client.FlushDB(context.Background()).Err(); err != nil {
				_ = client.Close()
				t.Fatalf("failed to flush isolated redis db %d: %v", isolatedSchedulerTestRedisDB, err)
			}
			t.Cleanup(func() {
				_ = client.FlushDB(context.Background()).Err()
				_ = client.Close()
			})
			return client
		}
	}

	t.Skipf("Skipping Redis-dependent test: no reachable Redis endpoint (%v)", lastErr)
	return nil
}

func uniqueValues(values ...string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
