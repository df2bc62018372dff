// Package redis holds the optional Redis integrations: the donation total
// state store and the event mirror published to other processes.
package redis

import (
	"context"
	"fmt"

	"github.com/phixarhasse/musikhjaelpen-alert/internal/adapter/metrics"
	goredis "github.com/redis/go-redis/v9"
)

// NewClient parses redisURL (e.g. "redis://localhost:6379/0"), installs the
// circuit breaker hook and verifies the connection.
func NewClient(ctx context.Context, redisURL string, breakerMetrics *metrics.CircuitBreakerMetrics) (*goredis.Client, error) {
	opts, err := goredis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	rdb := goredis.NewClient(opts)
	rdb.AddHook(NewCircuitBreakerHook(breakerMetrics))

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return rdb, nil
}
