package middleware

import (
	"context"
	"math"
	"net"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/mmeshcher/elixr-referral/internal/ratelimit"
)

// Limiter описывает ограничитель частоты запросов.
type Limiter interface {
	Allow(ctx context.Context, key string, rate float64, burst int) (*ratelimit.Result, error)
}

// RateLimit ограничивает частоту запросов с одного адреса.
// Без ограничителя пропускает все запросы; при сбое ограничителя запрос тоже пропускается.
func RateLimit(limiter Limiter, rate float64, burst int, logger *zap.Logger, onLimited func()) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if limiter == nil {
			return next
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			res, err := limiter.Allow(r.Context(), clientIP(r), rate, burst)
			if err != nil {
				logger.Warn("rate limiter error", zap.Error(err))
				next.ServeHTTP(w, r)
				return
			}

			if !res.Allowed {
				if onLimited != nil {
					onLimited()
				}
				seconds := int(math.Ceil(res.RetryAfter.Seconds()))
				if seconds < 1 {
					seconds = 1
				}
				w.Header().Set("Retry-After", strconv.Itoa(seconds))
				http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
