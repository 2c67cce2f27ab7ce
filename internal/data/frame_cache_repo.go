package data

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-kratos/kratos/v2/log"

	"reelguard/internal/conf"
	"reelguard/internal/pkg/bloom"
	"reelguard/internal/pkg/hash"
	"reelguard/internal/pkg/moderator"
	pkgredis "reelguard/internal/pkg/redis"
)

const (
	defaultFrameTTL = 7 * 24 * time.Hour
	// sized for a million distinct frames per member at 0.1% false positives
	frameBloomEntries = 1_000_000
	frameBloomFPRate  = 0.001
)

// prefilter answers "definitely absent" before a cache read.
type prefilter interface {
	Add(ctx context.Context, data []byte) error
	Exists(ctx context.Context, data []byte) (bool, error)
}

type frameLabelCache struct {
	cache     pkgredis.Cache
	ttl       time.Duration
	newFilter func(member string) prefilter

	mu      sync.Mutex
	filters map[string]prefilter

	log *log.Helper
}

// NewFrameLabelCache creates the per-member frame verdict cache, or nil when
// Redis is not configured.
func NewFrameLabelCache(cache pkgredis.Cache, mc *conf.Moderation, logger log.Logger) moderator.FrameLabelCache {
	if cache == nil {
		return nil
	}
	ttl := mc.GetNSFW().GetCacheTTL().AsDuration()
	if ttl <= 0 {
		ttl = defaultFrameTTL
	}
	bits, k := bloom.Size(frameBloomEntries, frameBloomFPRate)
	return newFrameLabelCache(cache, ttl, func(member string) prefilter {
		return bloom.New(cache, "reelguard:frame:bloom:"+member, bits, k, ttl)
	}, logger)
}

func newFrameLabelCache(cache pkgredis.Cache, ttl time.Duration, newFilter func(string) prefilter, logger log.Logger) *frameLabelCache {
	return &frameLabelCache{
		cache:     cache,
		ttl:       ttl,
		newFilter: newFilter,
		filters:   make(map[string]prefilter),
		log:       log.NewHelper(logger),
	}
}

func frameKey(member string, key hash.FrameKey) string {
	return fmt.Sprintf("reelguard:frame:%s:%s", member, key)
}

func (c *frameLabelCache) filter(member string) prefilter {
	c.mu.Lock()
	defer c.mu.Unlock()
	f, ok := c.filters[member]
	if !ok {
		f = c.newFilter(member)
		c.filters[member] = f
	}
	return f
}

func (c *frameLabelCache) Lookup(ctx context.Context, member string, key hash.FrameKey) (unsafe, found bool, err error) {
	maybe, err := c.filter(member).Exists(ctx, key.Bytes())
	if err != nil {
		return false, false, err
	}
	if !maybe {
		return false, false, nil
	}

	v, err := c.cache.GetString(ctx, frameKey(member, key))
	if err != nil {
		if errors.Is(err, pkgredis.Nil) {
			return false, false, nil
		}
		return false, false, err
	}
	switch v {
	case "1":
		return true, true, nil
	case "0":
		return false, true, nil
	}
	c.log.Warnf("ignoring malformed frame label %q for %s", v, member)
	return false, false, nil
}

func (c *frameLabelCache) Store(ctx context.Context, member string, key hash.FrameKey, unsafe bool) error {
	v := "0"
	if unsafe {
		v = "1"
	}
	if err := c.cache.SetString(ctx, frameKey(member, key), v, c.ttl); err != nil {
		return err
	}
	return c.filter(member).Add(ctx, key.Bytes())
}
