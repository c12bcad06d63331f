package middleware

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/httprate"
	"github.com/innovasure/settlement-orchestrator/internal/api/problem"
)

const rateWindow = time.Second

// PublicRateLimiter limits callbacks and token issuance per client IP.
func PublicRateLimiter(rps int) func(http.Handler) http.Handler {
	return limiter(rps, "IP", httprate.KeyByIP)
}

// AuthRateLimiter limits console traffic per operator, falling back to IP.
func AuthRateLimiter(rps int) func(http.Handler) http.Handler {
	return limiter(rps, "operator", func(r *http.Request) (string, error) {
		if userID := UserIDFromContext(r.Context()); userID != "" {
			return "user:" + userID, nil
		}
		return httprate.KeyByIP(r)
	})
}

func limiter(rps int, scope string, key httprate.KeyFunc) func(http.Handler) http.Handler {
	if rps <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	detail := fmt.Sprintf("Rate limit of %d req/s exceeded for this %s", rps, scope)
	return httprate.Limit(rps, rateWindow,
		httprate.WithKeyFuncs(key),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Retry-After", strconv.Itoa(int(rateWindow/time.Second)))
			problem.Write(w, r, http.StatusTooManyRequests, problem.Type("rate-limit-exceeded"),
				http.StatusText(http.StatusTooManyRequests), detail)
		}),
	)
}
