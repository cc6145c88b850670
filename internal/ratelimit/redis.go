package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/unclebandit/zapdispatch/internal/model"
)

const rateKeyPrefix = "rate"

// reserveScript checks minute, hour and day in that order and only
// increments when all three have room. It returns 0 when the send is
// allowed, otherwise the 1-based index of the first full window.
var reserveScript = redis.NewScript(`
for i = 1, 3 do
  local limit = tonumber(ARGV[i])
  if limit > 0 then
    local used = tonumber(redis.call("GET", KEYS[i]) or "0")
    if used >= limit then return i end
  end
end
for i = 1, 3 do
  redis.call("INCR", KEYS[i])
  redis.call("PEXPIRE", KEYS[i], ARGV[i + 3])
end
return 0
`)

// seedScript raises each counter to at least the seeded value. Every
// process seeds from the same store, so seeds must not add up.
var seedScript = redis.NewScript(`
for i = 1, 3 do
  local seed = tonumber(ARGV[i])
  local used = tonumber(redis.call("GET", KEYS[i]) or "0")
  if seed > used then
    redis.call("SET", KEYS[i], seed, "PX", ARGV[i + 3])
  end
end
return 0
`)

// RedisGovernor keeps the rate windows in Redis so every process that sends
// to a provider reserves against the same counters. Windows are calendar
// buckets: the minute, hour and day containing now.
type RedisGovernor struct {
	client    *redis.Client
	Namespace string
	limits    map[model.Provider]Limits
	now       func() time.Time
}

func NewRedisGovernor(client *redis.Client, namespace string, limits map[model.Provider]Limits) *RedisGovernor {
	cp := make(map[model.Provider]Limits, len(limits))
	for p, l := range limits {
		cp[p] = l
	}
	return &RedisGovernor{client: client, Namespace: namespace, limits: cp, now: time.Now}
}

// WithClock replaces the wall clock, for tests.
func (g *RedisGovernor) WithClock(now func() time.Time) *RedisGovernor {
	g.now = now
	return g
}

// keys returns the minute, hour and day counter keys for p at now.
func (g *RedisGovernor) keys(p model.Provider, now time.Time) []string {
	base := strings.Join([]string{g.Namespace, rateKeyPrefix, string(p)}, ":")
	return []string{
		base + ":m:" + now.Format("200601021504"),
		base + ":h:" + now.Format("2006010215"),
		base + ":d:" + now.Format("20060102"),
	}
}

// expiries outlive each bucket so a key never vanishes while it is current.
func expiries() []interface{} {
	return []interface{}{
		(2 * time.Minute).Milliseconds(),
		(2 * time.Hour).Milliseconds(),
		(48 * time.Hour).Milliseconds(),
	}
}

func (g *RedisGovernor) Reserve(ctx context.Context, p model.Provider) (Decision, error) {
	lim := g.limits[p]
	args := append([]interface{}{lim.PerMinute, lim.PerHour, lim.PerDay}, expiries()...)
	code, err := reserveScript.Run(ctx, g.client, g.keys(p, g.now()), args...).Int()
	if err != nil {
		return Decision{}, fmt.Errorf("reserve %s rate slot: %w", p, err)
	}
	return decisionFor(code), nil
}

func decisionFor(code int) Decision {
	switch code {
	case 0:
		return Decision{Allowed: true}
	case 1:
		return Decision{RetryAfter: RetryNextMinute}
	case 2:
		return Decision{RetryAfter: RetryNextHour}
	}
	return Decision{RetryAfter: RetryTomorrow}
}

// Warm raises the shared counters to the counts found in the durable store.
// MinuteFrom is not used: the minute bucket is fixed.
func (g *RedisGovernor) Warm(ctx context.Context, p model.Provider, c Counts) error {
	args := append([]interface{}{c.Minute, c.Hour, c.Day}, expiries()...)
	if err := seedScript.Run(ctx, g.client, g.keys(p, g.now()), args...).Err(); err != nil {
		return fmt.Errorf("seed %s rate windows: %w", p, err)
	}
	return nil
}

// used returns the current minute, hour and day counts of p.
func (g *RedisGovernor) used(ctx context.Context, p model.Provider) (Counts, error) {
	vals, err := g.client.MGet(ctx, g.keys(p, g.now())...).Result()
	if err != nil {
		return Counts{}, err
	}
	n := make([]int, len(vals))
	for i, v := range vals {
		if s, ok := v.(string); ok {
			n[i], _ = strconv.Atoi(s)
		}
	}
	return Counts{Minute: n[0], Hour: n[1], Day: n[2]}, nil
}
