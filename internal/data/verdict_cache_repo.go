package data

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-kratos/kratos/v2/log"

	"reelguard/internal/conf"
	"reelguard/internal/pkg/moderator"
	pkgredis "reelguard/internal/pkg/redis"
)

const defaultVerdictTTL = 24 * time.Hour

type verdictCache struct {
	cache pkgredis.Cache
	ttl   time.Duration
	log   *log.Helper
}

// NewVerdictCache creates the Redis-backed verdict cache, or nil when Redis
// is not configured.
func NewVerdictCache(cache pkgredis.Cache, mc *conf.Moderation, logger log.Logger) moderator.VerdictCache {
	if cache == nil {
		return nil
	}
	ttl := mc.GetText().GetCacheTTL().AsDuration()
	if ttl <= 0 {
		ttl = defaultVerdictTTL
	}
	return &verdictCache{
		cache: cache,
		ttl:   ttl,
		log:   log.NewHelper(logger),
	}
}

func verdictKey(category moderator.Category, model, transcriptKey string) string {
	return fmt.Sprintf("reelguard:verdict:%s:%s:%s", category, model, transcriptKey)
}

func (r *verdictCache) Get(ctx context.Context, category moderator.Category, model, transcriptKey string) (*moderator.CachedCompletion, error) {
	raw, err := r.cache.GetString(ctx, verdictKey(category, model, transcriptKey))
	if err != nil {
		if errors.Is(err, pkgredis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	var c moderator.CachedCompletion
	if err := json.Unmarshal([]byte(raw), &c); err != nil {
		// a corrupt entry is a miss; the next store overwrites it
		r.log.Warnf("discarding corrupt verdict cache entry for %s: %v", category, err)
		return nil, nil
	}
	return &c, nil
}

func (r *verdictCache) Set(ctx context.Context, category moderator.Category, model, transcriptKey string, c *moderator.CachedCompletion) error {
	raw, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to encode verdict: %w", err)
	}
	return r.cache.SetString(ctx, verdictKey(category, model, transcriptKey), string(raw), r.ttl)
}
