package middleware

import (
	"net/http"
	"time"

	"github.com/go-chi/httprate"

	"github.com/mcoot/turntimer/internal/api/apierr"
)

// RateLimitByIP limits each client address to limit requests per window
func RateLimitByIP(limit int, window time.Duration) func(http.Handler) http.Handler {
	return httprate.Limit(limit, window,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			apierr.WriteError(w, apierr.NewRateLimitedError())
		}),
	)
}
