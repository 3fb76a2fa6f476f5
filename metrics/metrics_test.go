package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounters(t *testing.T) {
	m := New()
	m.SessionStarted()
	m.Step("click")
	m.Step("click")
	m.CandidateFallback()
	m.DecisionRetry()
	m.Verification("visible", true)
	m.Verification("visible", false)
	m.RecordedAction("type")
	m.SessionFinished("passed", 3*time.Second)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.steps.WithLabelValues("click")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.candidateFallbacks))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.decisionRetries))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.verifications.WithLabelValues("visible", "failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.sessions.WithLabelValues("passed")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.activeSessions))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.recordedActions.WithLabelValues("type")))
}

func TestNilMetricsIsSilent(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.SessionStarted()
		m.Step("click")
		m.SessionFinished("failed", time.Second)
	})
}

func TestHandlerExposesRegistry(t *testing.T) {
	m := New()
	m.Step("navigate")
	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rr.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `sentinel_steps_total{kind="navigate"} 1`)
}
