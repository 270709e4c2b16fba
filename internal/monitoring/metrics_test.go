package monitoring

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.RecordRun(RunStarted)
	m.RecordChunk()
	m.RecordBoot(time.Millisecond, true)
	m.WSConnected()
	assert.Nil(t, m.Registry())
}

func TestRecordBootSetsReadiness(t *testing.T) {
	m := NewMetrics()
	m.RecordBoot(10*time.Millisecond, true)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SandboxReady))

	m.RecordBoot(10*time.Millisecond, false)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.SandboxReady))
}

func TestHandlerExposesCounters(t *testing.T) {
	m := NewMetrics()
	m.RecordRun(RunStarted)
	m.RecordRun(RunStarted)
	m.RecordRun(RunFailed)
	m.RecordChunk()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.RunsTotal.WithLabelValues(RunStarted)))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `playground_runs_total{outcome="failed"} 1`)
	assert.Contains(t, string(body), "playground_output_chunks_total 1")
}

func TestSeparateInstancesDoNotCollide(t *testing.T) {
	assert.NotPanics(t, func() {
		NewMetrics()
		NewMetrics()
	})
}
