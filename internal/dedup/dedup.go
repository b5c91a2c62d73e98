// Package dedup remembers inbound message IDs so a redelivered message is
// handled only once.
package dedup

import (
	"context"
	"fmt"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/redis/go-redis/v9"
)

const (
	// DefaultTTL is how long a seen message ID is remembered.
	DefaultTTL = 24 * time.Hour

	keyPrefix = "pdfrelay:seen:"
)

// Filter reports whether an ID is seen for the first time. A true result
// marks the ID as seen.
type Filter interface {
	IsNew(ctx context.Context, id string) (bool, error)
}

// MemoryFilter keeps seen IDs in process memory.
type MemoryFilter struct {
	c   *cache.Cache
	ttl time.Duration
}

// NewMemoryFilter returns an in-process filter remembering ids for ttl.
func NewMemoryFilter(ttl time.Duration) *MemoryFilter {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryFilter{c: cache.New(ttl, ttl/2), ttl: ttl}
}

// IsNew records id and reports whether it was unseen.
func (f *MemoryFilter) IsNew(_ context.Context, id string) (bool, error) {
	// Add fails when the key already exists and has not expired.
	return f.c.Add(id, struct{}{}, f.ttl) == nil, nil
}

// RedisFilter shares seen IDs across processes with SET NX.
type RedisFilter struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedisFilter returns a filter shared through Redis.
func NewRedisFilter(rdb *redis.Client, ttl time.Duration) *RedisFilter {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisFilter{rdb: rdb, ttl: ttl}
}

// IsNew claims id with SETNX and reports whether the claim succeeded.
func (f *RedisFilter) IsNew(ctx context.Context, id string) (bool, error) {
	set, err := f.rdb.SetNX(ctx, keyPrefix+id, 1, f.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("dedup SETNX: %w", err)
	}
	return set, nil
}

// Nop treats every ID as new.
type Nop struct{}

func (Nop) IsNew(context.Context, string) (bool, error) { return true, nil }

// Options selects a backend.
type Options struct {
	Backend       string // "memory" | "redis" | "none"
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	TTL           time.Duration
}

// New builds the configured filter. For redis it pings the server first.
func New(ctx context.Context, opts Options) (Filter, func() error, error) {
	noClose := func() error { return nil }
	switch opts.Backend {
	case "", "memory":
		return NewMemoryFilter(opts.TTL), noClose, nil
	case "none":
		return Nop{}, noClose, nil
	case "redis":
		rdb := redis.NewClient(&redis.Options{
			Addr:     opts.RedisAddr,
			Password: opts.RedisPassword,
			DB:       opts.RedisDB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			rdb.Close()
			return nil, noClose, fmt.Errorf("redis ping %s: %w", opts.RedisAddr, err)
		}
		return NewRedisFilter(rdb, opts.TTL), rdb.Close, nil
	default:
		return nil, noClose, fmt.Errorf("unknown dedup backend %q", opts.Backend)
	}
}
