package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	ResultSuccess = "success"
	ResultFailure = "failure"
	ResultError   = "error"
)

// Metrics holds the auth counters. A nil *Metrics is valid and records nothing.
type Metrics struct {
	LoginTotal         *prometheus.CounterVec
	AuthenticateTotal  *prometheus.CounterVec
	AuthorizeTotal     *prometheus.CounterVec
	LogoutTotal        prometheus.Counter
	PasswordResetTotal *prometheus.CounterVec
}

// New creates and registers all auth metrics on registry.
func New(registry prometheus.Registerer) *Metrics {
	m := &Metrics{
		LoginTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "railbook_auth_login_total",
				Help: "Login attempts by result",
			},
			[]string{"result"},
		),
		AuthenticateTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "railbook_auth_authenticate_total",
				Help: "Bearer token checks by result and rejection reason",
			},
			[]string{"result", "reason"},
		),
		AuthorizeTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "railbook_auth_authorize_total",
				Help: "Role checks by result",
			},
			[]string{"result"},
		),
		LogoutTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "railbook_auth_logout_total",
				Help: "Completed logouts",
			},
		),
		PasswordResetTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "railbook_auth_password_reset_total",
				Help: "Password recovery operations by stage and result",
			},
			[]string{"stage", "result"},
		),
	}

	registry.MustRegister(
		m.LoginTotal,
		m.AuthenticateTotal,
		m.AuthorizeTotal,
		m.LogoutTotal,
		m.PasswordResetTotal,
	)

	return m
}

func (m *Metrics) ObserveLogin(result string) {
	if m == nil {
		return
	}
	m.LoginTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveAuthenticate(result, reason string) {
	if m == nil {
		return
	}
	m.AuthenticateTotal.WithLabelValues(result, reason).Inc()
}

func (m *Metrics) ObserveAuthorize(result string) {
	if m == nil {
		return
	}
	m.AuthorizeTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveLogout() {
	if m == nil {
		return
	}
	m.LogoutTotal.Inc()
}

func (m *Metrics) ObservePasswordReset(stage, result string) {
	if m == nil {
		return
	}
	m.PasswordResetTotal.WithLabelValues(stage, result).Inc()
}

// Handler exposes the registry in the Prometheus text format.
func Handler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
