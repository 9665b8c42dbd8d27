package middleware

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	apperrors "github.com/lk2023060901/nanami/internal/pkg/errors"
	"github.com/lk2023060901/nanami/internal/pkg/logger"
	"github.com/lk2023060901/nanami/internal/pkg/redis"
	"github.com/lk2023060901/nanami/internal/pkg/response"
	"github.com/lk2023060901/nanami/internal/pkg/validator"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const keyPrefix = "nanami:ratelimit"

// Strategy 限流维度
const (
	StrategyIP     = "ip"
	StrategyGlobal = "global"
)

// RateLimiterConfig 限流配置
type RateLimiterConfig struct {
	// 时间窗口内允许的最大请求数
	MaxRequests int
	// 时间窗口
	Window time.Duration
	// 限流策略：ip（默认）, global
	Strategy string
}

// 滑动窗口：成员为唯一请求 id，分值为毫秒时间戳
var slidingWindow = goredis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
local member = ARGV[4]

redis.call('ZREMRANGEBYSCORE', key, 0, now - window)

local current = redis.call('ZCARD', key)
if current < limit then
	redis.call('ZADD', key, now, member)
	redis.call('PEXPIRE', key, window)
	return {1, limit - current - 1, now + window}
end

local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')[2]
return {0, 0, tonumber(oldest) + window}
`)

// RateLimiter 基于 Redis 的滑动窗口限流中间件，超限时返回 S3 SlowDown
func RateLimiter(client *redis.Client, cfg RateLimiterConfig, log *logger.Logger) gin.HandlerFunc {
	if cfg.MaxRequests <= 0 {
		cfg.MaxRequests = 100
	}
	if cfg.Window <= 0 {
		cfg.Window = time.Second
	}
	if cfg.Strategy == "" {
		cfg.Strategy = StrategyIP
	}

	return func(c *gin.Context) {
		key := rateLimitKey(c, cfg.Strategy)

		allowed, remaining, resetAt, err := check(c.Request.Context(), client, key, cfg)
		if err != nil {
			// 限流器故障时放行
			log.Error("rate limiter error", zap.Error(err), zap.String("key", key))
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(cfg.MaxRequests))
		c.Header("X-RateLimit-Remaining", strconv.FormatInt(remaining, 10))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(resetAt/1000, 10))

		if !allowed {
			retry := time.Until(time.UnixMilli(resetAt))
			c.Header("Retry-After", strconv.Itoa(max(1, int((retry+time.Second-1)/time.Second))))
			response.ErrorWithCode(c, apperrors.ErrSlowDown, c.Request.URL.Path)
			c.Abort()
			return
		}
		c.Next()
	}
}

func rateLimitKey(c *gin.Context, strategy string) string {
	if strategy == StrategyGlobal {
		return keyPrefix + ":global"
	}
	return fmt.Sprintf("%s:ip:%s", keyPrefix, validator.IPOrDefault(c.ClientIP(), "unknown"))
}

func check(ctx context.Context, client *redis.Client, key string, cfg RateLimiterConfig) (allowed bool, remaining, resetAt int64, err error) {
	now := time.Now().UnixMilli()
	result, err := client.RunScript(ctx, slidingWindow, []string{key},
		now, cfg.Window.Milliseconds(), cfg.MaxRequests, uuid.NewString())
	if err != nil {
		return false, 0, 0, err
	}

	values, ok := result.([]any)
	if !ok || len(values) != 3 {
		return false, 0, 0, fmt.Errorf("invalid rate limit result: %v", result)
	}
	flag, _ := values[0].(int64)
	remaining, _ = values[1].(int64)
	resetAt, _ = values[2].(int64)
	return flag == 1, remaining, resetAt, nil
}
