package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMetrics_RegistersAll(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewMetrics(registry)
	require.NotNil(t, m)

	// registering twice must panic on the same registry
	assert.Panics(t, func() { NewMetrics(registry) })
}

func TestRecorders(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordLogin(OutcomeSuccess)
	m.RecordLogin(OutcomeFailure)
	m.RecordLogin(OutcomeFailure)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.LoginsTotal.WithLabelValues(OutcomeSuccess)))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.LoginsTotal.WithLabelValues(OutcomeFailure)))

	m.RecordTokenIssued("password_reset")
	m.RecordTokenRedeemed("password_reset", OutcomeRejected)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TokensIssuedTotal.WithLabelValues("password_reset")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TokensRedeemedTotal.WithLabelValues("password_reset", OutcomeRejected)))

	m.RecordPurged(5)
	m.RecordPurged(0)
	assert.Equal(t, 5.0, testutil.ToFloat64(m.TokensPurgedTotal))

	m.RecordOAuthCallback("github", OutcomeSuccess)
	m.RecordDropped("touch_last_login")
	m.RecordRegistration(OutcomeSuccess)

	expected := `
		# HELP connect_async_tasks_dropped_total Total number of background tasks dropped because the runner was saturated
		# TYPE connect_async_tasks_dropped_total counter
		connect_async_tasks_dropped_total{task="touch_last_login"} 1
	`
	require.NoError(t, testutil.CollectAndCompare(m.AsyncTasksDroppedTotal, strings.NewReader(expected)))
}

func TestNilMetrics_NoPanic(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordLogin(OutcomeSuccess)
		m.RecordRegistration(OutcomeSuccess)
		m.RecordTokenIssued("x")
		m.RecordTokenRedeemed("x", OutcomeSuccess)
		m.RecordOAuthCallback("x", OutcomeSuccess)
		m.RecordPurged(3)
		m.RecordDropped("x")
	})
}

func TestHandler_ServesRegistry(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewMetrics(registry)
	m.RecordLogin(OutcomeSuccess)

	rec := httptest.NewRecorder()
	Handler(registry).ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Result().Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `connect_logins_total{outcome="success"} 1`)
}
