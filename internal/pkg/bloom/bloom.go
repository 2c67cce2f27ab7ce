// Package bloom is a Redis-backed Bloom filter used as a negative prefilter
// in front of cache lookups.
package bloom

import (
	"context"
	_ "embed"
	"errors"
	"math"
	"time"

	"reelguard/internal/pkg/hash"
	"reelguard/internal/pkg/redis"
)

var (
	// ErrTooLargeOffset indicates the offset is too large in bitset.
	ErrTooLargeOffset = errors.New("too large offset")

	//go:embed set_script.lua
	setLuaScript string
	setScript    = redis.NewScript(setLuaScript)

	//go:embed get_script.lua
	getLuaScript string
	getScript    = redis.NewScript(getLuaScript)
)

type bitSetProvider interface {
	check(ctx context.Context, offsets []uint) (bool, error)
	set(ctx context.Context, offsets []uint) error
	del(ctx context.Context) error
	expire(ctx context.Context, seconds int) (bool, error)
}

// Filter represents a Bloom filter data structure.
type Filter struct {
	bitSet         bitSetProvider
	bits           uint
	kHashFunctions uint
	ttl            time.Duration
}

// New creates a filter over key. A positive ttl is refreshed on every Add so
// the bitset never outlives the entries it summarizes.
func New(store redis.Cache, key string, bits, kHashFunctions uint, ttl time.Duration) *Filter {
	return &Filter{
		bitSet:         newRedisBitSet(store, key, bits),
		bits:           bits,
		kHashFunctions: kHashFunctions,
		ttl:            ttl,
	}
}

// Size returns the bit count and hash function count for n expected
// entries at false-positive rate p.
func Size(n uint, p float64) (bits, kHashFunctions uint) {
	if n == 0 {
		n = 1
	}
	if p <= 0 || p >= 1 {
		p = 0.01
	}
	m := math.Ceil(-float64(n) * math.Log(p) / (math.Ln2 * math.Ln2))
	k := math.Round(m / float64(n) * math.Ln2)
	return uint(m), uint(max(k, 1))
}

func (f *Filter) getLocations(data []byte) []uint {
	buf := make([]byte, len(data)+1)
	copy(buf, data)

	locations := make([]uint, f.kHashFunctions)
	for i := uint(0); i < f.kHashFunctions; i++ {
		buf[len(data)] = byte(i)
		locations[i] = uint(hash.Hash(buf) % uint64(f.bits))
	}
	return locations
}

// Add adds the given data to the Bloom filter.
func (f *Filter) Add(ctx context.Context, data []byte) error {
	if err := f.bitSet.set(ctx, f.getLocations(data)); err != nil {
		return err
	}
	if f.ttl > 0 {
		if _, err := f.bitSet.expire(ctx, int(f.ttl/time.Second)); err != nil {
			return err
		}
	}
	return nil
}

// Exists reports whether data may be in the filter. false is definitive.
func (f *Filter) Exists(ctx context.Context, data []byte) (bool, error) {
	return f.bitSet.check(ctx, f.getLocations(data))
}

// Reset drops every bit.
func (f *Filter) Reset(ctx context.Context) error {
	return f.bitSet.del(ctx)
}
