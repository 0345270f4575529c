package ratelimit

import (
	"net/http"
	"strconv"
	"time"
)

// RejectFunc writes the response for a request that was not admitted.
type RejectFunc func(w http.ResponseWriter, r *http.Request, res Result)

// Middleware admits requests through l under policy p. Rejected requests
// are answered by onReject; admitted ones carry X-RateLimit-Remaining.
func Middleware(l *Limiter, p Policy, unidentified UnidentifiedPolicy, onReject RejectFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, known := Identify(r)
			var res Result
			if !known && unidentified == UnidentifiedReject {
				res = Result{Allowed: false, ResetTime: l.now().Add(p.Window)}
			} else {
				res = l.Allow(id, p)
			}

			SetHeaders(w, res, l.now())
			if !res.Allowed {
				onReject(w, r, res)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// SetHeaders writes the rate-limit response headers for res.
func SetHeaders(w http.ResponseWriter, res Result, now time.Time) {
	h := w.Header()
	h.Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
	if !res.Allowed {
		h.Set("X-RateLimit-Reset", res.ResetTime.UTC().Format(time.RFC3339))
		h.Set("Retry-After", strconv.Itoa(res.RetryAfter(now)))
	}
}
