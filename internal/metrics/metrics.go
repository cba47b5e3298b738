// Package metrics holds the service's Prometheus counters. A nil *Metrics
// is valid and records nothing.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	signups          *prometheus.CounterVec
	otpIssued        *prometheus.CounterVec
	otpVerifications *prometheus.CounterVec
	compensations    *prometheus.CounterVec
	logins           *prometheus.CounterVec
	adminSessions    *prometheus.CounterVec
	httpRequests     *prometheus.CounterVec

	gatherer prometheus.Gatherer
}

// New registers every counter on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		signups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "accountd_signups_total",
			Help: "Signup attempts by result",
		}, []string{"result"}),
		otpIssued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "accountd_otp_issued_total",
			Help: "Verification codes issued by delivery outcome",
		}, []string{"delivery"}),
		otpVerifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "accountd_otp_verifications_total",
			Help: "Verification attempts by result",
		}, []string{"result"}),
		compensations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "accountd_compensations_total",
			Help: "Rollback steps by step and result",
		}, []string{"step", "result"}),
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "accountd_logins_total",
			Help: "Login attempts by result",
		}, []string{"result"}),
		adminSessions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "accountd_admin_sessions_total",
			Help: "Admin session lifecycle events",
		}, []string{"event"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "accountd_http_requests_total",
			Help: "HTTP requests by method and status code",
		}, []string{"method", "status"}),
		gatherer: reg,
	}

	reg.MustRegister(
		m.signups,
		m.otpIssued,
		m.otpVerifications,
		m.compensations,
		m.logins,
		m.adminSessions,
		m.httpRequests,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

func (m *Metrics) Signup(result string) {
	if m != nil {
		m.signups.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) OTPIssued(delivery string) {
	if m != nil {
		m.otpIssued.WithLabelValues(delivery).Inc()
	}
}

func (m *Metrics) OTPVerification(result string) {
	if m != nil {
		m.otpVerifications.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) Compensation(step, result string) {
	if m != nil {
		m.compensations.WithLabelValues(step, result).Inc()
	}
}

func (m *Metrics) Login(result string) {
	if m != nil {
		m.logins.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) AdminSession(event string) {
	if m != nil {
		m.adminSessions.WithLabelValues(event).Inc()
	}
}

func (m *Metrics) HTTPRequest(method, status string) {
	if m != nil {
		m.httpRequests.WithLabelValues(method, status).Inc()
	}
}
