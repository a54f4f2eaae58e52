package events

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

const keyPrefix = "social:event:"

// CachedDirectory remembers positive answers from next in Redis. Only hits
// are cached; removed events are dropped through Invalidate.
// Redis failures fall through to next; the breaker stops calling Redis
// while it is down.
type CachedDirectory struct {
	next   Directory
	client *redis.Client
	ttl    time.Duration
	cb     *gobreaker.CircuitBreaker
	log    *zap.Logger
}

// Option configures a CachedDirectory.
type Option func(*CachedDirectory)

func WithCircuitBreaker(cb *gobreaker.CircuitBreaker) Option {
	return func(d *CachedDirectory) { d.cb = cb }
}

func WithLogger(log *zap.Logger) Option {
	return func(d *CachedDirectory) { d.log = log }
}

func NewCachedDirectory(next Directory, client *redis.Client, ttl time.Duration, opts ...Option) *CachedDirectory {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	d := &CachedDirectory{next: next, client: client, ttl: ttl, log: zap.NewNop()}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// NewRedisClient parses a redis:// URL.
func NewRedisClient(url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return redis.NewClient(opt), nil
}

// Invalidate forgets the cached answer for eventID.
func (d *CachedDirectory) Invalidate(ctx context.Context, eventID int64) error {
	_, err := d.guard(func() (bool, error) {
		return true, d.client.Del(ctx, cacheKey(eventID)).Err()
	})
	return err
}

func (d *CachedDirectory) Exists(ctx context.Context, eventID int64) (bool, error) {
	key := cacheKey(eventID)

	hit, err := d.guard(func() (bool, error) {
		n, err := d.client.Exists(ctx, key).Result()
		return n > 0, err
	})
	if err != nil {
		d.log.Debug("event cache read skipped", zap.Int64("event_id", eventID), zap.Error(err))
	}
	if hit {
		return true, nil
	}

	exists, err := d.next.Exists(ctx, eventID)
	if err != nil || !exists {
		return exists, err
	}

	if _, err := d.guard(func() (bool, error) {
		return true, d.client.Set(ctx, key, 1, d.ttl).Err()
	}); err != nil {
		d.log.Debug("event cache write skipped", zap.Int64("event_id", eventID), zap.Error(err))
	}
	return true, nil
}

func (d *CachedDirectory) guard(fn func() (bool, error)) (bool, error) {
	if d.cb == nil {
		return fn()
	}
	res, err := d.cb.Execute(func() (interface{}, error) {
		return fn()
	})
	if err != nil {
		return false, err
	}
	return res.(bool), nil
}

func cacheKey(eventID int64) string {
	return keyPrefix + strconv.FormatInt(eventID, 10)
}
