// Package metrics holds the Prometheus counters recorded by the auth service.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome label values.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeReuse   = "reuse"
)

// Auth holds all auth-related Prometheus metrics.
type Auth struct {
	LoginsTotal         *prometheus.CounterVec
	RefreshesTotal      *prometheus.CounterVec
	TokenReuseTotal     prometheus.Counter
	PasswordResetsTotal *prometheus.CounterVec
	RevokedTokensTotal  prometheus.Counter
	SweptTokensTotal    prometheus.Counter
	RateLimitedTotal    *prometheus.CounterVec

	registry *prometheus.Registry
}

// New creates the metrics and registers them on registry. A nil registry
// gets a fresh private one, which is what tests use.
func New(registry *prometheus.Registry) *Auth {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	m := &Auth{
		LoginsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bm_auth_logins_total",
				Help: "Login attempts by outcome",
			},
			[]string{"outcome"},
		),
		RefreshesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bm_auth_refreshes_total",
				Help: "Refresh token rotations by outcome",
			},
			[]string{"outcome"},
		),
		TokenReuseTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bm_auth_token_reuse_total",
			Help: "Presentations of an already revoked refresh token",
		}),
		PasswordResetsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bm_auth_password_resets_total",
				Help: "Password reset steps",
			},
			[]string{"step"},
		),
		RevokedTokensTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bm_auth_revoked_tokens_total",
			Help: "Refresh tokens revoked by logout, reuse detection or password change",
		}),
		SweptTokensTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bm_auth_swept_tokens_total",
			Help: "Expired refresh tokens deleted",
		}),
		RateLimitedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bm_http_rate_limited_total",
				Help: "Requests rejected by the rate limiter",
			},
			[]string{"path"},
		),
		registry: registry,
	}
	registry.MustRegister(
		m.LoginsTotal,
		m.RefreshesTotal,
		m.TokenReuseTotal,
		m.PasswordResetsTotal,
		m.RevokedTokensTotal,
		m.SweptTokensTotal,
		m.RateLimitedTotal,
	)
	return m
}

// Handler exposes the registry in the Prometheus text format.
func (m *Auth) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
