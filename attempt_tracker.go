package adminauth

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// recordFailureScript applies the decay window, bumps the counter, and
// decides the lockout duration in one round trip. The decay is measured
// from the first failure in the window, so a slow drip of failures still
// resets once it stretches past the window. KEYS[1] is the attempt hash,
// KEYS[2] the lockout key. ARGV: now, decay seconds, then
// (threshold, lock-seconds) pairs in ascending order.
const recordFailureScript = `
local attempt_key = KEYS[1]
local lock_key = KEYS[2]
local now = tonumber(ARGV[1])
local decay = tonumber(ARGV[2])

local first = tonumber(redis.call("HGET", attempt_key, "first") or "0")
if first > 0 and now - first > decay then
  redis.call("DEL", attempt_key)
end

local count = redis.call("HINCRBY", attempt_key, "count", 1)
if count == 1 then
  redis.call("HSET", attempt_key, "first", now)
end
redis.call("HSET", attempt_key, "last", now)
redis.call("EXPIRE", attempt_key, decay)

local lock_seconds = 0
for i = 3, #ARGV - 1, 2 do
  local threshold = tonumber(ARGV[i])
  if count >= threshold then
    lock_seconds = tonumber(ARGV[i + 1])
  end
end

if lock_seconds > 0 then
  redis.call("SET", lock_key, now + lock_seconds, "EX", lock_seconds)
end

return {count, lock_seconds}
`

var recordFailureLua = redis.NewScript(recordFailureScript)

// attemptTracker keeps failed-attempt counters per identifier+IP and
// lockout state per identifier. Counters reset once the decay window has
// passed since the first recorded failure; lockouts expire through the
// key TTL, so a lock that ran out simply reads as absent.
type attemptTracker struct {
	redis  redis.UniversalClient
	config AttemptConfig
	prefix string
}

func newAttemptTracker(redisClient redis.UniversalClient, cfg AttemptConfig, keyPrefix string) *attemptTracker {
	return &attemptTracker{
		redis:  redisClient,
		config: cfg,
		prefix: keyPrefix,
	}
}

func (t *attemptTracker) attemptKey(identifier, ip string) string {
	return t.prefix + ":aat:" + identifier + ":" + ip
}

func (t *attemptTracker) lockKey(identifier string) string {
	return t.prefix + ":alk:" + identifier
}

// FailureOutcome reports the state after one recorded failure.
type FailureOutcome struct {
	Attempts    int
	Locked      bool
	LockedUntil time.Time
	NextDelay   time.Duration
}

// RecordFailure counts one failed attempt for the identifier+IP pair,
// applying the decay reset and the lockout escalation table atomically.
func (t *attemptTracker) RecordFailure(ctx context.Context, identifier, ip string, now time.Time) (*FailureOutcome, error) {
	args := make([]interface{}, 0, 2+2*len(t.config.Escalation))
	args = append(args, now.Unix(), int64(t.config.DecayWindow.Seconds()))
	for _, step := range t.config.Escalation {
		args = append(args, step.Threshold, int64(step.Duration.Seconds()))
	}

	res, err := recordFailureLua.Run(ctx, t.redis,
		[]string{t.attemptKey(identifier, ip), t.lockKey(identifier)}, args...).Int64Slice()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTrackerUnavailable, err)
	}
	if len(res) != 2 {
		return nil, fmt.Errorf("%w: unexpected script reply", ErrTrackerUnavailable)
	}

	outcome := &FailureOutcome{
		Attempts:  int(res[0]),
		NextDelay: t.DelayFor(int(res[0])),
	}
	if res[1] > 0 {
		outcome.Locked = true
		outcome.LockedUntil = now.Add(time.Duration(res[1]) * time.Second)
	}
	return outcome, nil
}

// IsLocked reports whether the identifier is currently locked out and,
// if so, when the lock lifts. Expired locks read as absent.
func (t *attemptTracker) IsLocked(ctx context.Context, identifier string, now time.Time) (bool, time.Time, error) {
	until, err := t.redis.Get(ctx, t.lockKey(identifier)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, time.Time{}, nil
		}
		return false, time.Time{}, fmt.Errorf("%w: %v", ErrTrackerUnavailable, err)
	}

	if until <= now.Unix() {
		_, _ = t.redis.Del(ctx, t.lockKey(identifier)).Result()
		return false, time.Time{}, nil
	}
	return true, time.Unix(until, 0), nil
}

// Attempts returns the live failure count for the pair, zero once the
// decay window has passed.
func (t *attemptTracker) Attempts(ctx context.Context, identifier, ip string, now time.Time) (int, error) {
	fields, err := t.redis.HGetAll(ctx, t.attemptKey(identifier, ip)).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrTrackerUnavailable, err)
	}
	if len(fields) == 0 {
		return 0, nil
	}

	first, _ := strconv.ParseInt(fields["first"], 10, 64)
	if first > 0 && now.Unix()-first > int64(t.config.DecayWindow.Seconds()) {
		return 0, nil
	}

	count, _ := strconv.Atoi(fields["count"])
	return count, nil
}

// Clear wipes both the pair's counters and the identifier's lockout.
// Called after a fully successful authentication.
func (t *attemptTracker) Clear(ctx context.Context, identifier, ip string) error {
	if err := t.redis.Del(ctx, t.attemptKey(identifier, ip), t.lockKey(identifier)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrTrackerUnavailable, err)
	}
	return nil
}

// DelayFor computes the progressive delay owed before the next attempt:
// base * 2^(attempts-1), capped at the configured maximum.
func (t *attemptTracker) DelayFor(attempts int) time.Duration {
	if attempts <= 0 {
		return 0
	}
	delay := t.config.BaseDelay
	for i := 1; i < attempts; i++ {
		delay *= 2
		if delay >= t.config.MaxDelay {
			return t.config.MaxDelay
		}
	}
	if delay > t.config.MaxDelay {
		return t.config.MaxDelay
	}
	return delay
}
