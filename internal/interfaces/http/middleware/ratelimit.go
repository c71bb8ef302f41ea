package middleware

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/profitledger/backend/internal/infrastructure/logger"
	"github.com/profitledger/backend/internal/interfaces/http/dto"
)

// RateLimiter is a fixed-window request limiter keyed by caller
type RateLimiter struct {
	mu      sync.Mutex
	windows map[string]*window
	limit   int
	period  time.Duration
	now     func() time.Time
	stop    chan struct{}
	once    sync.Once
}

type window struct {
	remaining int
	start     time.Time
}

// NewRateLimiter creates a limiter allowing limit requests per period for
// each key. Idle keys are swept every two periods until Stop is called.
func NewRateLimiter(limit int, period time.Duration) *RateLimiter {
	rl := &RateLimiter{
		windows: make(map[string]*window),
		limit:   limit,
		period:  period,
		now:     time.Now,
		stop:    make(chan struct{}),
	}
	go rl.sweep()
	return rl
}

// Stop ends the sweep goroutine
func (rl *RateLimiter) Stop() {
	rl.once.Do(func() { close(rl.stop) })
}

func (rl *RateLimiter) sweep() {
	ticker := time.NewTicker(rl.period * 2)
	defer ticker.Stop()

	for {
		select {
		case <-rl.stop:
			return
		case <-ticker.C:
			rl.mu.Lock()
			now := rl.now()
			for key, w := range rl.windows {
				if now.Sub(w.start) > rl.period*2 {
					delete(rl.windows, key)
				}
			}
			rl.mu.Unlock()
		}
	}
}

// Allow consumes one request for key and returns the requests left in the
// window, or false when the window is exhausted.
func (rl *RateLimiter) Allow(key string) (int, bool) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	w, ok := rl.windows[key]
	if !ok || now.Sub(w.start) >= rl.period {
		rl.windows[key] = &window{remaining: rl.limit - 1, start: now}
		return rl.limit - 1, true
	}
	if w.remaining <= 0 {
		return 0, false
	}
	w.remaining--
	return w.remaining, true
}

// RateLimit limits requests per shop for authenticated calls and per
// client IP otherwise.
func RateLimit(limiter *RateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := "ip:" + c.ClientIP()
		if shopID, ok := GetJWTShopID(c); ok {
			key = "shop:" + shopID.String()
		}

		remaining, ok := limiter.Allow(key)
		c.Header("X-RateLimit-Limit", strconv.Itoa(limiter.limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(remaining))
		if !ok {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, dto.NewErrorResponseWithRequestID(
				dto.ErrCodeRateLimited,
				"Too many requests. Please try again later.",
				logger.GetRequestID(c.Request.Context()),
			))
			return
		}
		c.Next()
	}
}
