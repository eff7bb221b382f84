package redom

import (
	"context"
	"time"

	"github.com/patrickmn/go-cache"
	pkgerrors "github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Client is the entry point for redom: the store connection, the key
// prefix, and the process-wide mutation policies. Repositories are built
// on top of it with NewRepo.
type Client struct {
	rdb      redis.UniversalClient
	prefix   string
	log      *zap.Logger
	executor *Executor
	ensured  *cache.Cache

	defaultIdempotencyTTL int64
	strictVersions        bool
}

// Option customizes a Client.
type Option func(*Client)

// WithLogger attaches a zap logger. The default is a nop logger.
func WithLogger(log *zap.Logger) Option {
	return func(c *Client) { c.log = log }
}

// WithIdempotencyTTL overrides the default idempotency record retention
// in seconds.
func WithIdempotencyTTL(seconds int64) Option {
	return func(c *Client) { c.defaultIdempotencyTTL = seconds }
}

// WithStrictVersionConflicts reports patch version conflicts even when an
// idempotency key is present, instead of masking them as benign replays.
func WithStrictVersionConflicts(strict bool) Option {
	return func(c *Client) { c.strictVersions = strict }
}

// NewClient wraps an existing connection.
func NewClient(rdb redis.UniversalClient, prefix string, opts ...Option) *Client {
	c := &Client{
		rdb:                   rdb,
		prefix:                prefix,
		log:                   zap.NewNop(),
		ensured:               cache.New(cache.NoExpiration, 10*time.Minute),
		defaultIdempotencyTTL: DefaultIdempotencyTTLSeconds,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.executor = NewExecutor(c.rdb, c.log)
	return c
}

// Open connects according to a Config.
func Open(config Config, opts ...Option) *Client {
	rdb := NewRedis(config.RedisAddr, config.RedisPassword, config.RedisDB)
	base := []Option{WithStrictVersionConflicts(config.StrictVersionConflicts)}
	if config.IdempotencyTTL != 0 {
		base = append(base, WithIdempotencyTTL(int64(config.IdempotencyTTL)))
	}
	return NewClient(rdb, config.KeyPrefix, append(base, opts...)...)
}

// Prefix returns the key prefix used by this client.
func (c *Client) Prefix() string {
	return c.prefix
}

// Redis exposes the underlying connection for advanced operations.
func (c *Client) Redis() redis.UniversalClient {
	return c.rdb
}

// Executor exposes the script dispatcher, mainly for executing hand-built
// plans.
func (c *Client) Executor() *Executor {
	return c.executor
}

// idempotencyTTL resolves a per-op TTL against the client default.
// A nil override selects the default; zero means "never expire". Without
// an idempotency key there is nothing to retain.
func (c *Client) idempotencyTTL(key string, override *int64) *int64 {
	if override != nil {
		return override
	}
	if key == "" {
		return nil
	}
	ttl := c.defaultIdempotencyTTL
	return &ttl
}

func (c *Client) strictVersionCheck(override *bool) bool {
	if override != nil {
		return *override
	}
	return c.strictVersions
}

// CleanupPattern deletes all keys matching a glob via SCAN, without
// blocking the store. Intended for test cleanup and operational sweeps.
func (c *Client) CleanupPattern(ctx context.Context, pattern string) (int64, error) {
	var cursor uint64
	var deleted int64
	for {
		keys, next, err := c.rdb.Scan(ctx, cursor, pattern, 1000).Result()
		if err != nil {
			return deleted, pkgerrors.Wrap(err, "cleanup scan")
		}
		if len(keys) > 0 {
			n, err := c.rdb.Del(ctx, keys...).Result()
			if err != nil {
				return deleted, pkgerrors.Wrap(err, "cleanup delete")
			}
			deleted += n
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return deleted, nil
}
