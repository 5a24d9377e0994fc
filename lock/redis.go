package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/warp/fulfillment-engine/core"
)

// RedisGate is a Gate backed by a redislock key, shared by every process
// pointing at the same Redis.
type RedisGate struct {
	locker *redislock.Client
	key    string
	ttl    time.Duration
	wait   time.Duration
	logger *zap.Logger
}

type RedisConfig struct {
	Addr string
	Key  string
	TTL  time.Duration
	// Wait bounds how long Acquire retries while another process holds the key.
	Wait time.Duration
}

// NewRedisGate connects to cfg.Addr and pings it.
func NewRedisGate(ctx context.Context, cfg RedisConfig, logger *zap.Logger) (*RedisGate, *redis.Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	rdb := redis.NewClient(&redis.Options{Addr: cfg.Addr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, nil, fmt.Errorf("connect redis %s: %w", cfg.Addr, err)
	}
	return NewRedisGateFromClient(rdb, cfg, logger), rdb, nil
}

func NewRedisGateFromClient(client redislock.RedisClient, cfg RedisConfig, logger *zap.Logger) *RedisGate {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Key == "" {
		cfg.Key = "lock:fulfillment:replay"
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 10 * time.Minute
	}
	return &RedisGate{
		locker: redislock.New(client),
		key:    cfg.Key,
		ttl:    cfg.TTL,
		wait:   cfg.Wait,
		logger: logger,
	}
}

func (g *RedisGate) Acquire(ctx context.Context) (func(), error) {
	opts := &redislock.Options{}
	if g.wait > 0 {
		opts.RetryStrategy = redislock.LimitRetry(redislock.LinearBackoff(100*time.Millisecond), int(g.wait/(100*time.Millisecond)))
	}

	l, err := g.locker.Obtain(ctx, g.key, g.ttl, opts)
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, fmt.Errorf("%w: %s is held by another process", core.ErrConflict, g.key)
	}
	if err != nil {
		return nil, &core.CollaboratorError{Service: "redis", Op: "obtainLock", Err: err}
	}

	return func() {
		// Background context: the caller's may already be cancelled.
		if err := l.Release(context.Background()); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
			g.logger.Warn("redis lock release failed", zap.String("key", g.key), zap.Error(err))
		}
	}, nil
}
