package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounters(t *testing.T) {
	m := New()

	m.Signup("ok")
	m.Signup("ok")
	m.Signup("duplicate")
	m.Compensation("delete_identity", "ok")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.signups.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.signups.WithLabelValues("duplicate")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.compensations.WithLabelValues("delete_identity", "ok")))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.Signup("ok")
		m.Login("ok")
		m.HTTPRequest("GET", "200")
	})
}

func TestHandlerExposesCounters(t *testing.T) {
	m := New()
	m.Login("ok")

	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `accountd_logins_total{result="ok"} 1`)
}
