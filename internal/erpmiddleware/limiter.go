// Package erpmiddleware 提供 HTTP 层的速率限制与登录失败锁定。
package erpmiddleware

import (
	"ERPAdmin/internal/core/port"
	"ERPAdmin/internal/service/auth"
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"
)

// Config 速率限制配置
type Config struct {
	GlobalRPS   float64 `mapstructure:"global_rps"`
	GlobalBurst int     `mapstructure:"global_burst"`
	IPPerMinute float64 `mapstructure:"ip_per_minute"`
	IPBurst     int     `mapstructure:"ip_burst"`
	UserRPS     float64 `mapstructure:"user_rps"`
	UserBurst   int     `mapstructure:"user_burst"`
	SourceRPS   float64 `mapstructure:"source_rps"`
	SourceBurst int     `mapstructure:"source_burst"`
}

// DefaultConfig 返回默认限制
func DefaultConfig() Config {
	return Config{
		GlobalRPS:   200,
		GlobalBurst: 400,
		IPPerMinute: 600,
		IPBurst:     60,
		UserRPS:     10,
		UserBurst:   30,
		SourceRPS:   20,
		SourceBurst: 40,
	}
}

const (
	idleTTL         = 15 * time.Minute
	cleanupInterval = 10 * time.Minute

	// maxLoginBody 登录请求体上限
	maxLoginBody = 64 << 10
)

// limiterEntry 存储限制器和最后访问时间
type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// keyedLimiters 是按 key 懒创建的一组限制器
type keyedLimiters[K comparable] struct {
	mu      sync.Mutex
	entries map[K]*limiterEntry
	rate    rate.Limit
	burst   int
}

func newKeyed[K comparable](r rate.Limit, burst int) *keyedLimiters[K] {
	return &keyedLimiters[K]{entries: make(map[K]*limiterEntry), rate: r, burst: burst}
}

func (k *keyedLimiters[K]) allow(key K, now time.Time) bool {
	k.mu.Lock()
	entry, ok := k.entries[key]
	if !ok {
		entry = &limiterEntry{limiter: rate.NewLimiter(k.rate, k.burst)}
		k.entries[key] = entry
	}
	entry.lastSeen = now
	k.mu.Unlock()
	return entry.limiter.AllowN(now, 1)
}

func (k *keyedLimiters[K]) sweep(now time.Time) int {
	k.mu.Lock()
	defer k.mu.Unlock()
	removed := 0
	for key, entry := range k.entries {
		if now.Sub(entry.lastSeen) > idleTTL {
			delete(k.entries, key)
			removed++
		}
	}
	return removed
}

func (k *keyedLimiters[K]) size() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.entries)
}

// RateLimiter 管理全局、IP、用户、数据源四层限制
type RateLimiter struct {
	global  *rate.Limiter
	ips     *keyedLimiters[string]
	users   *keyedLimiters[int64]
	sources *keyedLimiters[string]
	now     func() time.Time
	stop    chan struct{}
	once    sync.Once
}

// NewRateLimiter 创建限制器并启动后台清理
func NewRateLimiter(cfg Config) *RateLimiter {
	def := DefaultConfig()
	if cfg.GlobalRPS <= 0 {
		cfg.GlobalRPS, cfg.GlobalBurst = def.GlobalRPS, def.GlobalBurst
	}
	if cfg.IPPerMinute <= 0 {
		cfg.IPPerMinute, cfg.IPBurst = def.IPPerMinute, def.IPBurst
	}
	if cfg.UserRPS <= 0 {
		cfg.UserRPS, cfg.UserBurst = def.UserRPS, def.UserBurst
	}
	if cfg.SourceRPS <= 0 {
		cfg.SourceRPS, cfg.SourceBurst = def.SourceRPS, def.SourceBurst
	}
	rl := &RateLimiter{
		global:  rate.NewLimiter(rate.Limit(cfg.GlobalRPS), max(cfg.GlobalBurst, 1)),
		ips:     newKeyed[string](rate.Limit(cfg.IPPerMinute/60.0), max(cfg.IPBurst, 1)),
		users:   newKeyed[int64](rate.Limit(cfg.UserRPS), max(cfg.UserBurst, 1)),
		sources: newKeyed[string](rate.Limit(cfg.SourceRPS), max(cfg.SourceBurst, 1)),
		now:     time.Now,
		stop:    make(chan struct{}),
	}
	go rl.cleanupDaemon()

	log.Printf(
		"信息: [Rate Limiter] 初始化完成。全局: %.2f req/s (峰值 %d)，IP: %.0f req/min (峰值 %d)，用户: %.2f req/s，数据源: %.2f req/s",
		cfg.GlobalRPS, cfg.GlobalBurst, cfg.IPPerMinute, cfg.IPBurst, cfg.UserRPS, cfg.SourceRPS,
	)
	return rl
}

// Stop 结束后台清理
func (rl *RateLimiter) Stop() {
	rl.once.Do(func() { close(rl.stop) })
}

func (rl *RateLimiter) cleanupDaemon() {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-rl.stop:
			return
		case <-ticker.C:
			rl.sweep()
		}
	}
}

// sweep 清理不活跃的条目
func (rl *RateLimiter) sweep() {
	now := rl.now()
	n := rl.ips.sweep(now) + rl.users.sweep(now) + rl.sources.sweep(now)
	if n > 0 {
		log.Printf("调试: [Rate Limiter] 清理了 %d 个不活跃的限制器条目", n)
	}
}

// Global 返回全局限制中间件
func (rl *RateLimiter) Global() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !rl.global.AllowN(rl.now(), 1) {
			tooMany(c, "系统繁忙，请稍后再试 (global limit)")
			return
		}
		c.Next()
	}
}

// PerIP 返回 IP 限制中间件
func (rl *RateLimiter) PerIP() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !rl.ips.allow(c.ClientIP(), rl.now()) {
			tooMany(c, "您的请求过于频繁，请稍后再试 (per-ip limit)")
			return
		}
		c.Next()
	}
}

// PerUser 返回用户限制中间件，未认证请求直接放行
func (rl *RateLimiter) PerUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		claim := auth.ClaimFrom(c.Request.Context())
		if claim == nil {
			c.Next()
			return
		}
		if !rl.users.allow(claim.ID, rl.now()) {
			tooMany(c, "您的账户请求过于频繁，请稍后再试 (per-user limit)")
			return
		}
		c.Next()
	}
}

// PerSource 按路由参数 :source 限制对单个 POS 数据源的访问
func (rl *RateLimiter) PerSource() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("source")
		if id == "" {
			c.Next()
			return
		}
		if !rl.sources.allow(id, rl.now()) {
			tooMany(c, "此数据源请求过于频繁，请稍后再试 (per-source limit)")
			return
		}
		c.Next()
	}
}

// ============================================================================
//  登录失败计数与临时锁定
// ============================================================================

// LoginFailureLock 同一 IP + 用户名连续失败达到阈值后临时锁定
type LoginFailureLock struct {
	failureCache    *cache.Cache
	maxFailures     int
	lockoutDuration time.Duration
}

// NewLoginFailureLock 创建登录失败锁定器
func NewLoginFailureLock(maxFailures int, lockoutDuration time.Duration) *LoginFailureLock {
	if maxFailures <= 0 {
		maxFailures = 5
	}
	if lockoutDuration <= 0 {
		lockoutDuration = 15 * time.Minute
	}
	return &LoginFailureLock{
		failureCache:    cache.New(lockoutDuration, 10*time.Minute),
		maxFailures:     maxFailures,
		lockoutDuration: lockoutDuration,
	}
}

// Middleware 包裹登录处理器。请求体被读取后会原样放回。
func (l *LoginFailureLock) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		username, err := peekUsername(c.Writer, c.Request)
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, gin.H{"success": false, "error": "请求体过大"})
			return
		}
		ip := c.ClientIP()
		lockKey := "lock:" + ip + ":" + username
		failureKey := "failures:" + ip + ":" + username

		if _, found := l.failureCache.Get(lockKey); found {
			log.Printf("警告: [Login Lock] 已锁定的账户 '%s' (来自IP: %s) 再次尝试登录。", username, ip)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "error": port.ErrInvalidCredentials.Error()})
			return
		}

		c.Next()

		// 错误处理中间件在链尾才写响应，这里同时检查 c.Errors
		failed := c.Writer.Status() == http.StatusUnauthorized
		if last := c.Errors.Last(); last != nil && errors.Is(last.Err, port.ErrInvalidCredentials) {
			failed = true
		}

		switch {
		case failed:
			count, err := l.failureCache.IncrementInt64(failureKey, 1)
			if err != nil {
				count = 1
				l.failureCache.Set(failureKey, count, l.lockoutDuration)
			}
			log.Printf("信息: [Login Failure] 账户 '%s' (来自IP: %s) 登录失败，当前失败次数: %d", username, ip, count)
			if count >= int64(l.maxFailures) {
				l.failureCache.Set(lockKey, true, l.lockoutDuration)
				l.failureCache.Delete(failureKey)
				log.Printf("警告: [Login Lock] 账户 '%s' (来自IP: %s) 已被临时锁定 %v。", username, ip, l.lockoutDuration)
			}
		case len(c.Errors) == 0 && c.Writer.Status() < http.StatusBadRequest:
			l.failureCache.Delete(failureKey)
		}
	}
}

// Unlock 手动解除锁定
func (l *LoginFailureLock) Unlock(ip, username string) {
	l.failureCache.Delete("lock:" + ip + ":" + username)
	l.failureCache.Delete("failures:" + ip + ":" + username)
}

// peekUsername 从 JSON 请求体读取 username，并把请求体放回。请求体最多读取 maxLoginBody 字节。
func peekUsername(w http.ResponseWriter, r *http.Request) (string, error) {
	if r.Body == nil || !strings.Contains(r.Header.Get("Content-Type"), "application/json") {
		return "", nil
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxLoginBody))
	_ = r.Body.Close()
	r.Body = io.NopCloser(bytes.NewReader(body))
	if err != nil {
		log.Printf("WARN: [Login Lock] 读取请求体失败: %v", err)
		return "", err
	}
	var extractor struct {
		Username string `json:"username"`
	}
	if err := json.Unmarshal(body, &extractor); err != nil {
		return "", nil
	}
	return strings.ToLower(strings.TrimSpace(extractor.Username)), nil
}

// tooMany 的本地信封，避免依赖 transport 包
func tooMany(c *gin.Context, msg string) {
	c.Header("Retry-After", "1")
	c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"success": false, "error": msg})
}
