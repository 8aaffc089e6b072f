package usage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

const (
	// DefaultPrefix namespaces the daily counter keys.
	DefaultPrefix = "rate_limit"
	// DefaultRevokedPrefix namespaces superseded-credential markers.
	DefaultRevokedPrefix = "revoked_jti"
	// DefaultTTL is re-applied to the counter key on every increment.
	DefaultTTL = 24 * time.Hour
)

// ErrStorageUnavailable wraps any Redis failure.
var ErrStorageUnavailable = errors.New("usage storage unavailable")

// Decision is the outcome of a quota check.
type Decision struct {
	Admitted  bool
	Used      int64
	Remaining int64
	Limit     int64
	ResetIn   time.Duration
}

// ResetSeconds returns ResetIn truncated to whole seconds.
func (d Decision) ResetSeconds() int64 {
	return int64(d.ResetIn / time.Second)
}

// admitScript takes the whole check-then-increment decision inside Redis.
// Returns {admitted (0|1), count}.
var admitScript = redis.NewScript(`
local current = tonumber(redis.call('GET', KEYS[1]) or '0')
if current >= tonumber(ARGV[1]) then
	return {0, current}
end
local n = redis.call('INCR', KEYS[1])
redis.call('EXPIRE', KEYS[1], ARGV[2])
return {1, n}
`)

// Counter tracks per-credential daily request counts in Redis. Keys are
// "{prefix}:{jti}:{YYYY-MM-DD}" in the configured location and expire on their
// own; there is no explicit reset job.
//
// In the default mode the read and the increment are separate round trips, so
// concurrent requests at the boundary can over-admit by at most the number in
// flight. WithAtomic moves the decision into a Lua script.
type Counter struct {
	rdb           redis.Cmdable
	prefix        string
	revokedPrefix string
	ttl           time.Duration
	loc           *time.Location
	now           func() time.Time
	atomic        bool
}

// Option configures a Counter.
type Option func(*Counter)

// WithPrefix sets the counter key prefix.
func WithPrefix(prefix string) Option {
	return func(c *Counter) {
		if prefix != "" {
			c.prefix = prefix
		}
	}
}

// WithTTL sets the expiry re-applied on every increment.
func WithTTL(ttl time.Duration) Option {
	return func(c *Counter) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithLocation sets the time zone that defines "today".
func WithLocation(loc *time.Location) Option {
	return func(c *Counter) {
		if loc != nil {
			c.loc = loc
		}
	}
}

// WithClock replaces the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Counter) { c.now = now }
}

// WithAtomic enables the single-script check-and-increment.
func WithAtomic(enabled bool) Option {
	return func(c *Counter) { c.atomic = enabled }
}

// NewCounter creates a Counter over rdb.
func NewCounter(rdb redis.Cmdable, opts ...Option) *Counter {
	c := &Counter{
		rdb:           rdb,
		prefix:        DefaultPrefix,
		revokedPrefix: DefaultRevokedPrefix,
		ttl:           DefaultTTL,
		loc:           time.Local,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Key returns today's counter key for jti.
func (c *Counter) Key(jti string) string {
	return fmt.Sprintf("%s:%s:%s", c.prefix, jti, c.now().In(c.loc).Format("2006-01-02"))
}

// ResetIn returns the time until the next local midnight.
func (c *Counter) ResetIn() time.Duration {
	now := c.now().In(c.loc)
	y, m, d := now.Date()
	return time.Date(y, m, d+1, 0, 0, 0, 0, c.loc).Sub(now)
}

// CheckAndIncrement admits the request if today's count for jti is below
// quota, and counts it. Denied requests are not counted.
func (c *Counter) CheckAndIncrement(ctx context.Context, jti string, quota int) (Decision, error) {
	if c.atomic {
		return c.checkAndIncrementAtomic(ctx, jti, quota)
	}

	key := c.Key(jti)
	limit := int64(quota)

	count, err := c.current(ctx, key)
	if err != nil {
		return Decision{}, err
	}
	if count >= limit {
		return c.denied(count, limit), nil
	}

	pipe := c.rdb.Pipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, c.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return Decision{}, fmt.Errorf("%w: increment %s: %v", ErrStorageUnavailable, key, err)
	}

	return c.admitted(incr.Val(), limit), nil
}

func (c *Counter) checkAndIncrementAtomic(ctx context.Context, jti string, quota int) (Decision, error) {
	key := c.Key(jti)
	limit := int64(quota)

	res, err := admitScript.Run(ctx, c.rdb, []string{key}, limit, int64(c.ttl/time.Second)).Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("%w: admit script %s: %v", ErrStorageUnavailable, key, err)
	}
	if len(res) != 2 {
		return Decision{}, fmt.Errorf("%w: admit script returned %d values", ErrStorageUnavailable, len(res))
	}
	ok, _ := res[0].(int64)
	count, _ := res[1].(int64)

	if ok == 0 {
		return c.denied(count, limit), nil
	}
	return c.admitted(count, limit), nil
}

// Peek reports today's usage for jti without counting a request.
func (c *Counter) Peek(ctx context.Context, jti string, quota int) (Decision, error) {
	limit := int64(quota)
	count, err := c.current(ctx, c.Key(jti))
	if err != nil {
		return Decision{}, err
	}
	if count >= limit {
		return c.denied(count, limit), nil
	}
	return c.admitted(count, limit), nil
}

// Reset deletes today's counter for jti.
func (c *Counter) Reset(ctx context.Context, jti string) error {
	key := c.Key(jti)
	if err := c.rdb.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("%w: delete %s: %v", ErrStorageUnavailable, key, err)
	}
	return nil
}

// Revoke marks jti as superseded until the given time, normally the
// credential's own expiry. A time in the past is a no-op.
func (c *Counter) Revoke(ctx context.Context, jti string, until time.Time) error {
	ttl := until.Sub(c.now())
	if ttl <= 0 {
		return nil
	}
	key := c.revokedPrefix + ":" + jti
	if err := c.rdb.Set(ctx, key, 1, ttl).Err(); err != nil {
		return fmt.Errorf("%w: revoke %s: %v", ErrStorageUnavailable, jti, err)
	}
	return nil
}

// IsRevoked reports whether jti has been superseded.
func (c *Counter) IsRevoked(ctx context.Context, jti string) (bool, error) {
	n, err := c.rdb.Exists(ctx, c.revokedPrefix+":"+jti).Result()
	if err != nil {
		return false, fmt.Errorf("%w: exists %s: %v", ErrStorageUnavailable, jti, err)
	}
	return n > 0, nil
}

func (c *Counter) current(ctx context.Context, key string) (int64, error) {
	count, err := c.rdb.Get(ctx, key).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("%w: get %s: %v", ErrStorageUnavailable, key, err)
	}
	return count, nil
}

func (c *Counter) denied(count, limit int64) Decision {
	return Decision{
		Admitted:  false,
		Used:      count,
		Remaining: 0,
		Limit:     limit,
		ResetIn:   c.ResetIn(),
	}
}

func (c *Counter) admitted(count, limit int64) Decision {
	remaining := limit - count
	if remaining < 0 {
		remaining = 0
	}
	return Decision{
		Admitted:  true,
		Used:      count,
		Remaining: remaining,
		Limit:     limit,
		ResetIn:   c.ResetIn(),
	}
}
