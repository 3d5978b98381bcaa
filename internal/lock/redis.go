package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// Default timings for the Redis locker.
const (
	DefaultTTL     = 30 * time.Second
	DefaultBackoff = 50 * time.Millisecond
)

// Redis is a distributed Locker built on bsm/redislock.
type Redis struct {
	client  *redislock.Client
	prefix  string
	ttl     time.Duration
	backoff time.Duration
	log     logrus.FieldLogger
}

// RedisOptions configures the Redis locker.
type RedisOptions struct {
	// Prefix is prepended to every key ("tether:pair:" when empty).
	Prefix string
	// TTL bounds how long a crashed holder can block a pair.
	TTL time.Duration
	// Backoff is the delay between acquisition attempts.
	Backoff time.Duration
	Logger  logrus.FieldLogger
}

// NewRedis creates a distributed locker on top of an existing go-redis client.
func NewRedis(rdb redis.UniversalClient, opts RedisOptions) *Redis {
	if opts.Prefix == "" {
		opts.Prefix = "tether:pair:"
	}
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.Backoff <= 0 {
		opts.Backoff = DefaultBackoff
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	return &Redis{
		client:  redislock.New(rdb),
		prefix:  opts.Prefix,
		ttl:     opts.TTL,
		backoff: opts.Backoff,
		log:     opts.Logger,
	}
}

// Dial parses a redis:// URL, pings the server and returns a locker over it.
func Dial(ctx context.Context, url string, opts RedisOptions) (*Redis, *redis.Client, error) {
	ropts, err := redis.ParseURL(url)
	if err != nil {
		return nil, nil, fmt.Errorf("parsing redis url: %w", err)
	}
	rdb := redis.NewClient(ropts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, nil, fmt.Errorf("connecting to redis: %w", err)
	}
	return NewRedis(rdb, opts), rdb, nil
}

// Lock obtains every key in sorted order, retrying with linear backoff until
// the TTL elapses or ctx is done.
func (r *Redis) Lock(ctx context.Context, keys ...string) (func(), error) {
	sorted := sortedKeys(keys)
	held := make([]*redislock.Lock, 0, len(sorted))
	unlock := func() {
		for i := len(held) - 1; i >= 0; i-- {
			err := held[i].Release(context.Background())
			if err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
				r.log.WithFields(logrus.Fields{
					"key":   held[i].Key(),
					"error": err,
				}).Warn("failed to release pair lock")
			}
		}
	}

	for _, k := range sorted {
		lk, err := r.client.Obtain(ctx, r.prefix+k, r.ttl, &redislock.Options{
			RetryStrategy: redislock.LinearBackoff(r.backoff),
		})
		if errors.Is(err, redislock.ErrNotObtained) {
			unlock()
			return nil, fmt.Errorf("%w: %s", ErrNotObtained, k)
		}
		if err != nil {
			unlock()
			return nil, fmt.Errorf("obtaining lock %s: %w", k, err)
		}
		held = append(held, lk)
	}
	return sync.OnceFunc(unlock), nil
}

var _ Locker = (*Redis)(nil)
