package telemetry

import (
	"io"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maxpert/binlogd/cfg"
)

func TestDisabledMetricsAreNoops(t *testing.T) {
	require.Nil(t, registry)
	assert.Nil(t, GetMetricsHandler())

	assert.Equal(t, NoopStat{}, NewCounter("c", "c"))
	assert.Equal(t, NoopStat{}, NewGauge("g", "g"))
	assert.Equal(t, NoopStat{}, NewHistogram("h", "h", nil))
	assert.Equal(t, NoopStat{}, NewCounterVec("cv", "cv", []string{"l"}).With("x"))
	assert.Equal(t, NoopStat{}, NewGaugeVec("gv", "gv", []string{"l"}).With("x"))
}

func TestEnabledMetricsAreServed(t *testing.T) {
	prev := cfg.Config.Prometheus.Enabled
	cfg.Config.Prometheus.Enabled = true
	t.Cleanup(func() {
		cfg.Config.Prometheus.Enabled = prev
		registry = nil
	})

	InitializeTelemetry()
	require.NotNil(t, registry)

	RotationsTotal.Inc()
	SinkLag.With("kafka").Set(7)
	UpdatePipelineStats(3, 2, 1)

	rec := httptest.NewRecorder()
	GetMetricsHandler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)

	assert.Contains(t, string(body), `binlogd_rotations_total{server_id=`)
	assert.Contains(t, string(body), `binlogd_sink_lag{server_id=`)
	assert.Contains(t, string(body), `sink="kafka"} 7`)
	assert.Contains(t, string(body), `stage="results"} 1`)
}
