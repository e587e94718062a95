package ratelimiter

import (
	"math"
	"net/http"
	"strconv"
)

// Middleware rejects requests over the limit. onLimit writes the rejection;
// nil means a plain 429.
func Middleware(l *Limiter, key KeyFunc, onLimit func(w http.ResponseWriter, r *http.Request, res Result)) func(http.Handler) http.Handler {
	if onLimit == nil {
		onLimit = func(w http.ResponseWriter, _ *http.Request, _ Result) {
			http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
		}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			res := l.Allow(key(r))

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(res.Limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))

			if !res.Allowed {
				w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(res.RetryAfter.Seconds()))))
				onLimit(w, r, res)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
