package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "ratelimit:"

// slidingWindow trims the sorted set to the window, then adds the hit if the
// count is under the limit. Returns {allowed, count, oldest score in ms}.
var slidingWindow = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)
local count = redis.call('ZCARD', key)
local allowed = 0
if count < limit then
	redis.call('ZADD', key, now, ARGV[4])
	count = count + 1
	allowed = 1
end
redis.call('PEXPIRE', key, window)
local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
local first = now
if #oldest > 0 then
	first = tonumber(oldest[2])
end
return {allowed, count, first}
`)

// RedisStore shares windows between service instances.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Allow(ctx context.Context, key string, limit int, window time.Duration, now time.Time) (Result, error) {
	nowMS := now.UnixMilli()
	member := strconv.FormatInt(nowMS, 10) + "-" + uuid.NewString()
	out, err := slidingWindow.Run(ctx, s.client, []string{redisKeyPrefix + key},
		nowMS, window.Milliseconds(), limit, member).Int64Slice()
	if err != nil {
		return Result{}, fmt.Errorf("rate limit window %s: %w", key, err)
	}
	if len(out) != 3 {
		return Result{}, fmt.Errorf("rate limit window %s: unexpected reply %v", key, out)
	}
	res := Result{
		Allowed: out[0] == 1,
		Limit:   limit,
		ResetAt: time.UnixMilli(out[2]).Add(window),
	}
	if res.Allowed {
		res.Remaining = limit - int(out[1])
	}
	return res, nil
}
