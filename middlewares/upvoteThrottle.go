package middlewares

import (
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// UserRateLimiter hands out one token bucket per user.
type UserRateLimiter struct {
	users map[string]*rate.Limiter
	mu    sync.Mutex
	rps   rate.Limit
	burst int
}

func NewUserRateLimiter(r rate.Limit, b int) *UserRateLimiter {
	return &UserRateLimiter{
		users: make(map[string]*rate.Limiter),
		rps:   r,
		burst: b,
	}
}

func (rl *UserRateLimiter) GetLimiter(userID string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	limiter, exists := rl.users[userID]
	if !exists {
		limiter = rate.NewLimiter(rl.rps, rl.burst)
		rl.users[userID] = limiter
	}
	return limiter
}

// Throttle rejects bursts from one user. Falls back to the client IP
// when the route is unauthenticated.
func Throttle(limiter *UserRateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		key, ok := CurrentUserID(c)
		if !ok {
			key = c.ClientIP()
		}
		if !limiter.GetLimiter(key).Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "Too many requests. Please wait."})
			return
		}
		c.Next()
	}
}
