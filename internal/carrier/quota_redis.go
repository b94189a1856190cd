package carrier

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	shiperrors "github.com/matt-hans/shipagent/internal/errors"
)

// redisDailyQuotaScript atomically increments a per-operation, per-day
// counter and sets its expiry on first write, returning the post-increment
// count. The load, decision and write happen in one script round trip;
// the counter is a plain daily count since the quota is a hard cap, not a
// refillable rate.
const redisDailyQuotaScript = `
local key = KEYS[1]
local limit = tonumber(ARGV[1])
local ttl = tonumber(ARGV[2])

local count = redis.call("INCR", key)
if count == 1 then
  redis.call("EXPIRE", key, ttl)
end

if limit > 0 and count > limit then
  return 0
end
return 1
`

// RedisDailyQuota enforces a cross-process per-day call quota per carrier
// operation. Multiple batch processes sharing one carrier account (spec
// notes this is a future multi-process concern; this type just implements
// the limiter, it doesn't imply the rest of the process is multi-process
// safe) consult the same Redis instance, so the cap holds account-wide
// rather than per-process.
type RedisDailyQuota struct {
	redis       *redis.Client
	script      *redis.Script
	perDayLimit int64
}

// NewRedisDailyQuota constructs a quota limiter. perDayLimit <= 0 disables
// the cap (Reserve always succeeds without touching Redis).
func NewRedisDailyQuota(rdb *redis.Client, perDayLimit int64) *RedisDailyQuota {
	return &RedisDailyQuota{redis: rdb, script: redis.NewScript(redisDailyQuotaScript), perDayLimit: perDayLimit}
}

// Reserve increments today's counter for operation and fails the call once
// the configured daily limit is exceeded. A Redis error fails the call
// closed for quota purposes but never panics — it is surfaced as a
// retryable rate-limit error, matching the retry-class table's treatment
// of carrier-side throttling.
func (q *RedisDailyQuota) Reserve(ctx context.Context, operation string) error {
	if q == nil || q.redis == nil || q.perDayLimit <= 0 {
		return nil
	}
	key := fmt.Sprintf("carrier_quota:%s:%s", operation, time.Now().UTC().Format("2006-01-02"))
	res, err := q.script.Run(ctx, q.redis, []string{key}, q.perDayLimit, 48*60*60).Result()
	if err != nil {
		slog.Error("carrier quota script error", slog.String("operation", operation), slog.Any("error", err))
		return shiperrors.New(shiperrors.ECodeCarrierRateLimited, "quota check unavailable", err)
	}
	allowed, _ := res.(int64)
	if allowed != 1 {
		return shiperrors.New(shiperrors.ECodeCarrierRateLimited, fmt.Sprintf("daily quota exceeded for %s", operation), nil)
	}
	return nil
}
