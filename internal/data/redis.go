package data

import (
	"context"
	"fmt"
	"time"

	"github.com/go-kratos/kratos/v2/log"
	redis "github.com/redis/go-redis/v9"

	"reelguard/internal/conf"
	pkgredis "reelguard/internal/pkg/redis"
)

// NewRedisCache connects to Redis. It returns a nil cache when no address is
// configured, which disables the verdict and frame-label caches.
func NewRedisCache(c *conf.Data, logger log.Logger) (pkgredis.Cache, func(), error) {
	helper := log.NewHelper(logger)

	rc := c.GetRedis()
	if rc == nil || rc.Addr == "" {
		helper.Info("no redis configured, caches disabled")
		return nil, func() {}, nil
	}

	opts := &redis.Options{
		Addr:     rc.Addr,
		Network:  rc.Network,
		Password: rc.Password,
		DB:       rc.DB,
	}
	if rc.ReadTimeout != nil {
		opts.ReadTimeout = rc.ReadTimeout.AsDuration()
	}
	if rc.WriteTimeout != nil {
		opts.WriteTimeout = rc.WriteTimeout.AsDuration()
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		helper.Errorf("failed to connect to Redis at %s: %v", rc.Addr, err)
		client.Close()
		return nil, nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	helper.Infof("connected to Redis at %s", rc.Addr)

	cleanup := func() {
		helper.Info("closing Redis connection")
		client.Close()
	}

	return NewRedisWrapper(client), cleanup, nil
}

// RedisWrapper wraps redis.Client to implement pkgredis.Cache.
type RedisWrapper struct {
	client *redis.Client
}

// NewRedisWrapper creates a new RedisWrapper.
func NewRedisWrapper(client *redis.Client) *RedisWrapper {
	return &RedisWrapper{client: client}
}

func (r *RedisWrapper) SetString(ctx context.Context, key, value string, exp time.Duration) error {
	return r.client.Set(ctx, key, value, exp).Err()
}

func (r *RedisWrapper) GetString(ctx context.Context, key string) (string, error) {
	return r.client.Get(ctx, key).Result()
}

func (r *RedisWrapper) ScriptRun(ctx context.Context, script *redis.Script, keys []string, args ...any) (any, error) {
	return script.Run(ctx, r.client, keys, args...).Result()
}

func (r *RedisWrapper) Del(ctx context.Context, keys ...string) (int64, error) {
	return r.client.Del(ctx, keys...).Result()
}

func (r *RedisWrapper) Expire(ctx context.Context, key string, seconds int) (bool, error) {
	return r.client.Expire(ctx, key, time.Duration(seconds)*time.Second).Result()
}
