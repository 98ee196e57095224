package middleware

import (
	"net/http"
	"sync"
	"time"

	"leadhub/internal/common"
	"leadhub/internal/tenant"

	"github.com/benbjohnson/clock"
	"github.com/gin-gonic/gin"
)

// RateLimiterConfig 限流配置
type RateLimiterConfig struct {
	RequestsPerSecond int           // 每秒请求数
	RequestsPerMinute int           // 每分钟请求数
	BurstSize         int           // 突发容量
	CleanupInterval   time.Duration // 清理间隔
	IdleTimeout       time.Duration // 客户端状态空闲多久后清理
}

// DefaultRateLimiterConfig 默认配置
func DefaultRateLimiterConfig() *RateLimiterConfig {
	return &RateLimiterConfig{
		RequestsPerSecond: 10,
		RequestsPerMinute: 300,
		BurstSize:         20,
		CleanupInterval:   5 * time.Minute,
		IdleTimeout:       10 * time.Minute,
	}
}

// clientState 客户端状态
type clientState struct {
	tokens      float64
	lastUpdate  time.Time
	requests    int64     // 分钟内请求数
	minuteStart time.Time // 分钟计数开始时间
}

// RateLimiter 令牌桶限流器，公开组件入口按来源 IP 与租户分别限流
type RateLimiter struct {
	config  *RateLimiterConfig
	clock   clock.Clock
	clients map[string]*clientState
	mu      sync.Mutex
	stopCh  chan struct{}
	stopped sync.Once
}

// NewRateLimiter 创建限流器并启动清理协程，使用完毕需调用 Stop
func NewRateLimiter(config *RateLimiterConfig, clk clock.Clock) *RateLimiter {
	if config == nil {
		config = DefaultRateLimiterConfig()
	}
	if clk == nil {
		clk = clock.New()
	}

	rl := &RateLimiter{
		config:  config,
		clock:   clk,
		clients: make(map[string]*clientState),
		stopCh:  make(chan struct{}),
	}
	go rl.cleanup()
	return rl
}

// Allow 检查是否允许请求
func (rl *RateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.clock.Now()
	state, exists := rl.clients[key]
	if !exists {
		rl.clients[key] = &clientState{
			tokens:      float64(rl.config.BurstSize - 1),
			lastUpdate:  now,
			requests:    1,
			minuteStart: now,
		}
		return true
	}

	// 令牌桶算法：计算新增令牌
	elapsed := now.Sub(state.lastUpdate).Seconds()
	state.tokens += elapsed * float64(rl.config.RequestsPerSecond)
	if state.tokens > float64(rl.config.BurstSize) {
		state.tokens = float64(rl.config.BurstSize)
	}
	state.lastUpdate = now

	if now.Sub(state.minuteStart) > time.Minute {
		state.requests = 0
		state.minuteStart = now
	}
	if rl.config.RequestsPerMinute > 0 && state.requests >= int64(rl.config.RequestsPerMinute) {
		return false
	}
	if state.tokens < 1 {
		return false
	}

	state.tokens--
	state.requests++
	return true
}

// cleanup 定期清理过期状态
func (rl *RateLimiter) cleanup() {
	ticker := rl.clock.Ticker(rl.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.evictIdle()
		case <-rl.stopCh:
			return
		}
	}
}

func (rl *RateLimiter) evictIdle() {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	now := rl.clock.Now()
	for key, state := range rl.clients {
		if now.Sub(state.lastUpdate) > rl.config.IdleTimeout {
			delete(rl.clients, key)
		}
	}
}

// Stop 停止限流器
func (rl *RateLimiter) Stop() {
	rl.stopped.Do(func() { close(rl.stopCh) })
}

// ActiveClients 返回当前跟踪的客户端数
func (rl *RateLimiter) ActiveClients() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.clients)
}

// ============================================================================
// Gin 中间件
// ============================================================================

// RateLimitByIP 按来源 IP 限流，在租户解析之前执行
func RateLimitByIP(limiter *RateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !limiter.Allow("ip:" + c.ClientIP()) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests,
				common.ErrorResponse(common.CodeRateLimited, common.GetErrorMessage(common.CodeRateLimited)))
			return
		}
		c.Next()
	}
}

// RateLimitByTenant 按租户限流，在租户上下文安装之后执行
func RateLimitByTenant(limiter *RateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := "ip:" + c.ClientIP()
		if s, ok := tenant.FromContext(c.Request.Context()); ok && s.HasTenant() {
			key = "tenant:" + s.TenantID
		}

		if !limiter.Allow(key) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests,
				common.ErrorResponse(common.CodeRateLimited, common.GetErrorMessage(common.CodeRateLimited)))
			return
		}
		c.Next()
	}
}
