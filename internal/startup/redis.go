package startup

import (
	"context"
	"os"
	"time"

	"github.com/pulse/internal/logger"
	"github.com/pulse/internal/storage"
	"github.com/pulse/internal/storage/memory"
	redisstorage "github.com/pulse/internal/storage/redis"
)

// ConnectRedisWithRetry connects to Redis, retrying with backoff until maxWait has passed.
func ConnectRedisWithRetry(redisURL string, maxWait time.Duration, logPrefix string) *redisstorage.Client {
	deadline := time.Now().Add(maxWait)
	backoff := 2 * time.Second
	for {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		client, err := redisstorage.New(ctx, redisURL)
		cancel()
		if err != nil {
			if time.Now().After(deadline) {
				logger.Errorf("%sredis (gave up after %v): %v", logPrefix, maxWait, err)
				os.Exit(1)
			}
			logger.Errorf("%sredis connect failed, retry in %v: %v", logPrefix, backoff, err)
			time.Sleep(backoff)
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		return client
	}
}

// RateLimiter returns a Redis-backed limiter when redisURL is set, so limits
// hold across api replicas, and an in-process one otherwise.
func RateLimiter(redisURL string, maxWait time.Duration, logPrefix string) storage.RateLimiter {
	if redisURL == "" {
		logger.Infof("%sREDIS_URL not set, using in-process rate limiter", logPrefix)
		return memory.NewLimiter()
	}
	return ConnectRedisWithRetry(redisURL, maxWait, logPrefix)
}
