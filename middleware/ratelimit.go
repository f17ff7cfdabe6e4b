package middleware

import (
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"go-chat/roomsync/utils"
)

// SendLimiter 為每位使用者維護一個 token bucket，限制發送訊息的頻率
type SendLimiter struct {
	limit rate.Limit
	burst int
	idle  time.Duration

	mu       sync.Mutex
	limiters map[string]*userLimiter
}

type userLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func NewSendLimiter(perSecond float64, burst int) *SendLimiter {
	return &SendLimiter{
		limit:    rate.Limit(perSecond),
		burst:    burst,
		idle:     10 * time.Minute,
		limiters: make(map[string]*userLimiter),
	}
}

// Allow 回傳這位使用者此刻是否還能發送
func (l *SendLimiter) Allow(userID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := time.Now()
	u, ok := l.limiters[userID]
	if !ok {
		u = &userLimiter{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.limiters[userID] = u
	}
	u.lastSeen = now
	return u.limiter.AllowN(now, 1)
}

// Sweep 移除閒置超過 idle 的使用者
func (l *SendLimiter) Sweep() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	cutoff := time.Now().Add(-l.idle)
	n := 0
	for id, u := range l.limiters {
		if u.lastSeen.Before(cutoff) {
			delete(l.limiters, id)
			n++
		}
	}
	return n
}

// Middleware 在超過頻率時回傳 429；必須放在 JWTMiddleware 之後
func (l *SendLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, err := utils.GetUserIDFromContext(r.Context())
		if err != nil {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		if !l.Allow(userID) {
			w.Header().Set("Retry-After", "1")
			http.Error(w, "Too many messages", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}
