package health

import (
	"context"
	"runtime"

	"github.com/go-faster/errors"
	"github.com/redis/go-redis/v9"
)

// Pinger is the connectivity slice of pgxpool.Pool and friends.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingCheck returns a readiness check that pings a connection pool.
func PingCheck(p Pinger) CheckFunc {
	return func(ctx context.Context) error {
		return p.Ping(ctx)
	}
}

// RedisCheck returns a readiness check that pings a Redis client.
func RedisCheck(client *redis.Client) CheckFunc {
	return func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	}
}

// GoroutineCountCheck returns a liveness check that fails once the goroutine
// count exceeds the threshold, to catch leaks before the scheduler does.
func GoroutineCountCheck(threshold int) CheckFunc {
	return func(_ context.Context) error {
		if count := runtime.NumGoroutine(); count > threshold {
			return errors.Errorf("goroutine count %d exceeds threshold %d", count, threshold)
		}
		return nil
	}
}
