package redis

import (
	"context"
	"fmt"

	"github.com/andrewmcl6081/cloudchat/internal/config"
	"github.com/andrewmcl6081/cloudchat/internal/core/domain"

	"github.com/redis/go-redis/v9"
)

// NewRedisClient dials the shared store and verifies connectivity.
// A failed ping is fatal to the caller: the realtime subsystem must
// not start with split-brain presence.
func NewRedisClient(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, err
	}
	opts.DialTimeout = cfg.DialTimeout
	opts.ReadTimeout = cfg.ReadTimeout
	opts.WriteTimeout = cfg.WriteTimeout
	opts.PoolSize = cfg.PoolSize
	opts.MinIdleConns = cfg.MinIdleConns
	rdb := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, cfg.PingTimeout)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("%w: %v", domain.ErrPresenceUnavailable, err)
	}
	return rdb, nil
}
