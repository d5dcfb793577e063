package server

import (
	"math"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/jacksonlee411/loanportal/internal/routing"
	"github.com/jacksonlee411/loanportal/pkg/ratelimit"
)

// rateLimits pairs each policy with the limiter enforcing it.
type rateLimits struct {
	policies map[string]ratelimit.Policy
	limiters map[string]ratelimit.Limiter
}

func policyForRouteClass(rc routing.RouteClass) (string, bool) {
	switch rc {
	case routing.RouteClassOps, routing.RouteClassStatic, routing.RouteClassUI:
		return "", false
	case routing.RouteClassAuthn:
		return "auth", true
	case routing.RouteClassRPC:
		return "rpc", true
	default:
		return "api", true
	}
}

// withRateLimit runs ahead of authentication, so principal-keyed policies
// read the verified token subject themselves. A limiter error lets the
// request through.
func withRateLimit(classifier *routing.Classifier, limits rateLimits, subject func(*http.Request) string, logger *zap.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rc := classifier.Classify(r.URL.Path)
		name, ok := policyForRouteClass(rc)
		if !ok {
			next.ServeHTTP(w, r)
			return
		}
		policy, ok := limits.policies[name]
		limiter := limits.limiters[name]
		if !ok || limiter == nil {
			next.ServeHTTP(w, r)
			return
		}

		principalID := ""
		if policy.By == ratelimit.ByPrincipal && subject != nil {
			principalID = subject(r)
		}
		key := policy.Key(ratelimit.ClientIP(r), principalID)

		d, err := limiter.Allow(r.Context(), key)
		if err != nil {
			logger.Warn("rate limiter unavailable", zap.String("policy", name), zap.Error(err))
			next.ServeHTTP(w, r)
			return
		}

		h := w.Header()
		h.Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
		h.Set("X-RateLimit-Remaining", strconv.Itoa(max(d.Remaining, 0)))
		if !d.Allowed {
			secs := int(math.Ceil(d.RetryAfter.Seconds()))
			h.Set("Retry-After", strconv.Itoa(max(secs, 1)))
			routing.WriteError(w, r, rc, http.StatusTooManyRequests, "rate_limited", "too many requests")
			return
		}
		next.ServeHTTP(w, r)
	})
}
