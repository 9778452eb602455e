package security

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ArchismanDutta/OmazingPWA-sub001/internal/config"
	"github.com/ArchismanDutta/OmazingPWA-sub001/internal/util"
	"github.com/ArchismanDutta/OmazingPWA-sub001/pkg/logger"
	"github.com/ArchismanDutta/OmazingPWA-sub001/pkg/monitoring"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	defaultMaxRequests = 1000
	defaultWindow      = time.Minute
	defaultCleanup     = time.Minute
)

var defaultMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}

// Middlewares 按配置组装安全相关中间件
func Middlewares(cfg *config.Config) []gin.HandlerFunc {
	return []gin.HandlerFunc{
		CORS(cfg.CORS),
		Secure(),
		RateLimiter(cfg.RateLimit),
	}
}

// CORS 中间件 仅允许白名单中的Origin，支持Credentials
func CORS(cfg config.CORSConfig) gin.HandlerFunc {
	originSet := make(map[string]bool, len(cfg.AllowedOrigins))
	for _, o := range cfg.AllowedOrigins {
		originSet[o] = true
	}
	methods := cfg.AllowedMethods
	if len(methods) == 0 {
		methods = defaultMethods
	}
	allowMethods := strings.Join(methods, ", ")

	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")

		if origin != "" && originSet[origin] {
			c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
			c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
			c.Writer.Header().Add("Vary", "Origin")
		}

		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Authorization, Accept, Origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", allowMethods)

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// Secure 中间件
func Secure() gin.HandlerFunc {
	return func(c *gin.Context) {
		// 防止MIME嗅探
		c.Header("X-Content-Type-Options", "nosniff")
		// 防止点击劫持
		c.Header("X-Frame-Options", "DENY")
		c.Header("Referrer-Policy", "no-referrer")
		if c.Request.TLS != nil {
			c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		c.Next()
	}
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// limiterStore 每个客户端一个令牌桶，超过 expiry 未访问的条目由 sweep 清理
type limiterStore struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	interval time.Duration
	burst    int
	expiry   time.Duration
}

func newLimiterStore(cfg config.RateLimitConfig) *limiterStore {
	maxRequests := cfg.MaxRequests
	if maxRequests <= 0 {
		maxRequests = defaultMaxRequests
	}
	window := time.Duration(cfg.WindowMinutes) * time.Minute
	if window <= 0 {
		window = defaultWindow
	}
	burst := cfg.Burst
	if burst <= 0 || burst > maxRequests {
		burst = maxRequests
	}
	// 窗口内令牌恢复完毕后条目才可回收
	expiry := window
	if cleanup := cleanupInterval(cfg); cleanup > expiry {
		expiry = cleanup
	}

	return &limiterStore{
		visitors: make(map[string]*visitor),
		interval: window / time.Duration(maxRequests),
		burst:    burst,
		expiry:   expiry,
	}
}

func cleanupInterval(cfg config.RateLimitConfig) time.Duration {
	if cfg.CleanupMinutes <= 0 {
		return defaultCleanup
	}
	return time.Duration(cfg.CleanupMinutes) * time.Minute
}

func (s *limiterStore) allow(key string, now time.Time) bool {
	s.mu.Lock()
	v, ok := s.visitors[key]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(rate.Every(s.interval), s.burst)}
		s.visitors[key] = v
	}
	v.lastSeen = now
	s.mu.Unlock()

	return v.limiter.AllowN(now, 1)
}

// sweep 删除过期条目，返回删除数量
func (s *limiterStore) sweep(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key, v := range s.visitors {
		if now.Sub(v.lastSeen) > s.expiry {
			delete(s.visitors, key)
			removed++
		}
	}
	return removed
}

func (s *limiterStore) size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.visitors)
}

// retryAfter 取得一个令牌所需的秒数，至少 1 秒
func (s *limiterStore) retryAfter() int {
	secs := int((s.interval + time.Second - 1) / time.Second)
	if secs < 1 {
		return 1
	}
	return secs
}

// RateLimiter 限流中间件 按IP限流，豁免路径不计数，后台按 cleanup_minutes 清理过期条目
func RateLimiter(cfg config.RateLimitConfig) gin.HandlerFunc {
	store := newLimiterStore(cfg)
	exempt := make(map[string]bool, len(cfg.ExemptPaths))
	for _, p := range cfg.ExemptPaths {
		exempt[p] = true
	}

	go func() {
		ticker := time.NewTicker(cleanupInterval(cfg))
		defer ticker.Stop()
		for now := range ticker.C {
			if n := store.sweep(now); n > 0 {
				logger.Log.Debug("清理限流条目", zap.Int("removed", n), zap.Int("remaining", store.size()))
			}
		}
	}()

	return func(c *gin.Context) {
		if exempt[c.Request.URL.Path] {
			c.Next()
			return
		}

		if !store.allow(c.ClientIP(), time.Now()) {
			monitoring.IncRateLimited(c.Request.Method)
			c.Header("Retry-After", strconv.Itoa(store.retryAfter()))
			util.Error(c, http.StatusTooManyRequests, "请求过于频繁，请稍后再试")
			c.Abort()
			return
		}

		c.Next()
	}
}
