// Package cache stores finished research results in redis, keyed by the
// hash of the task text, so an identical task submitted later is answered
// without running the team again.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ShayCichocki/roundtable/internal/logging"
	"github.com/ShayCichocki/roundtable/internal/state"
)

const (
	// KeyPrefix prefixes every cache key.
	KeyPrefix = "research:task:"
	// DefaultTTL is how long a result stays cached.
	DefaultTTL = time.Hour

	scanCount = 100
)

// Entry is a cached research result.
type Entry struct {
	TaskID   string                `json:"task_id"`
	Messages []state.MessageRecord `json:"messages"`
	Metrics  *state.TaskMetrics    `json:"metrics"`
}

// Cache is a redis-backed result cache.
type Cache struct {
	client redis.UniversalClient
	ttl    time.Duration
	logger *zap.SugaredLogger
	once   sync.Once
}

// Option configures a Cache.
type Option func(*Cache)

// WithTTL sets the expiry of new entries. Non-positive values keep the
// default.
func WithTTL(ttl time.Duration) Option {
	return func(c *Cache) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithLogger sets the cache logger.
func WithLogger(l *zap.SugaredLogger) Option {
	return func(c *Cache) {
		c.logger = logging.OrDefault(l)
	}
}

// New connects to the redis server at url.
// scheme: redis://<user>:<password>@<host>:<port>/<db>
func New(url string, opts ...Option) (*Cache, error) {
	if url == "" {
		return nil, errors.New("cache: redis url is empty")
	}
	ropts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("cache: parse url %s: %w", url, err)
	}
	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:        []string{ropts.Addr},
		DB:           ropts.DB,
		Username:     ropts.Username,
		Password:     ropts.Password,
		TLSConfig:    ropts.TLSConfig,
		DialTimeout:  ropts.DialTimeout,
		ReadTimeout:  ropts.ReadTimeout,
		WriteTimeout: ropts.WriteTimeout,
	})
	return NewWithClient(client, opts...), nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client redis.UniversalClient, opts ...Option) *Cache {
	c := &Cache{
		client: client,
		ttl:    DefaultTTL,
		logger: logging.Default,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Key returns the cache key of task.
func Key(task string) string {
	sum := sha256.Sum256([]byte(task))
	return KeyPrefix + hex.EncodeToString(sum[:])
}

// TTL returns the expiry applied by Set.
func (c *Cache) TTL() time.Duration {
	return c.ttl
}

// Get returns the cached result of task. Any redis or decode failure is
// reported as a miss.
func (c *Cache) Get(ctx context.Context, task string) (*Entry, bool) {
	key := Key(task)
	b, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false
	}
	if err != nil {
		c.logger.Warnw("cache read failed", "key", key, "error", err)
		return nil, false
	}

	var e Entry
	if err := json.Unmarshal(b, &e); err != nil {
		c.logger.Warnw("cache entry undecodable", "key", key, "error", err)
		return nil, false
	}
	return &e, true
}

// Set caches the result of task.
func (c *Cache) Set(ctx context.Context, task string, e *Entry) error {
	b, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode cache entry: %w", err)
	}
	if err := c.client.Set(ctx, Key(task), b, c.ttl).Err(); err != nil {
		return fmt.Errorf("cache set: %w", err)
	}
	return nil
}

// Delete drops the cached result of task.
func (c *Cache) Delete(ctx context.Context, task string) error {
	if err := c.client.Del(ctx, Key(task)).Err(); err != nil {
		return fmt.Errorf("cache delete: %w", err)
	}
	return nil
}

// Clear removes every cached result and returns how many were removed.
func (c *Cache) Clear(ctx context.Context) (int, error) {
	var n int
	iter := c.client.Scan(ctx, 0, KeyPrefix+"*", scanCount).Iterator()
	for iter.Next(ctx) {
		deleted, err := c.client.Del(ctx, iter.Val()).Result()
		if err != nil {
			return n, fmt.Errorf("cache clear: %w", err)
		}
		n += int(deleted)
	}
	if err := iter.Err(); err != nil {
		return n, fmt.Errorf("scan cache keys: %w", err)
	}
	return n, nil
}

// Ping checks the redis connection.
func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close releases the client. It is safe to call more than once.
func (c *Cache) Close() error {
	var err error
	c.once.Do(func() {
		err = c.client.Close()
	})
	return err
}
