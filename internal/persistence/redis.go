package persistence

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/spec-kit/issue-service/internal/config"
)

// Redis wraps the go-redis client used by the leaderboard cache.
type Redis struct {
	Client *redis.Client
}

// NewRedis connects to cfg.Addr. With no address configured it returns a Redis
// whose Client is nil, and caching is disabled.
func NewRedis(ctx context.Context, cfg config.RedisConfig, logger *zap.Logger) *Redis {
	if cfg.Addr == "" {
		logger.Info("REDIS_ADDR not set; leaderboard cache disabled")
		return &Redis{}
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		// The cache degrades to direct loads while redis is down.
		logger.Warn("unable to reach redis", zap.String("addr", cfg.Addr), zap.Error(err))
	} else {
		logger.Info("connected to redis", zap.String("addr", cfg.Addr))
	}
	return &Redis{Client: client}
}

// Enabled reports whether a client was configured.
func (r *Redis) Enabled() bool {
	return r != nil && r.Client != nil
}

// Ping verifies Redis connectivity. It is a no-op when caching is disabled.
func (r *Redis) Ping(ctx context.Context) error {
	if !r.Enabled() {
		return nil
	}
	if err := r.Client.Ping(ctx).Err(); err != nil {
		return errors.Join(errors.New("redis unreachable"), err)
	}
	return nil
}

// Close closes the client.
func (r *Redis) Close() {
	if r.Enabled() {
		_ = r.Client.Close()
	}
}
