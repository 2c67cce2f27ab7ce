// Package redis is the narrow cache surface the caches and bloom filter use.
package redis

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Nil is returned for missing keys and for Lua scripts returning false.
const Nil = redis.Nil

type Cache interface {
	SetString(ctx context.Context, key, value string, exp time.Duration) error
	GetString(ctx context.Context, key string) (string, error)

	ScriptRun(ctx context.Context, script *redis.Script, keys []string,
		args ...any) (any, error)

	Del(ctx context.Context, keys ...string) (int64, error)

	Expire(ctx context.Context, key string, seconds int) (bool, error)
}

// NewScript wraps a Lua script for ScriptRun.
func NewScript(script string) *redis.Script {
	return redis.NewScript(script)
}
