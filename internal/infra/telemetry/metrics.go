package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics aggregates the Prometheus collectors exposed by the service.
type Metrics struct {
	LoginAttempts    *prometheus.CounterVec
	AccountLockouts  prometheus.Counter
	RateLimitRejects prometheus.Counter
	TokensIssued     *prometheus.CounterVec
	TokenRotations   *prometheus.CounterVec
	TwoFactorChecks  *prometheus.CounterVec
	PasswordHashTime prometheus.Histogram
}

// NewMetrics registers the service collectors on the supplied registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		LoginAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "authcore",
			Name:      "login_attempts_total",
			Help:      "Login attempts by outcome.",
		}, []string{"outcome"}),
		AccountLockouts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "authcore",
			Name:      "account_lockouts_total",
			Help:      "Accounts transitioned into the locked state.",
		}),
		RateLimitRejects: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "authcore",
			Name:      "rate_limit_rejections_total",
			Help:      "Requests rejected by the login guard.",
		}),
		TokensIssued: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "authcore",
			Name:      "tokens_issued_total",
			Help:      "Tokens issued by kind (access, refresh).",
		}, []string{"kind"}),
		TokenRotations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "authcore",
			Name:      "token_rotations_total",
			Help:      "Refresh token rotations by outcome.",
		}, []string{"outcome"}),
		TwoFactorChecks: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "authcore",
			Name:      "two_factor_checks_total",
			Help:      "Two-factor verifications by outcome.",
		}, []string{"outcome"}),
		PasswordHashTime: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "authcore",
			Name:      "password_hash_seconds",
			Help:      "Time spent deriving password hashes.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 8),
		}),
	}
}
