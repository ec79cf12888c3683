package observability

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMetrics_RecordDecision(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	m := NewMetrics("test", reg)

	m.RecordDecision(true, "ok", time.Millisecond)
	m.RecordDecision(true, "ok", time.Millisecond)
	m.RecordDecision(false, "rate limit exceeded", time.Millisecond)

	assert.InDelta(t, 2, testutil.ToFloat64(m.decisionsTotal.WithLabelValues(OutcomeAllowed, "ok")), 1e-9)
	assert.InDelta(t, 1, testutil.ToFloat64(m.decisionsTotal.WithLabelValues(OutcomeDenied, "rate limit exceeded")), 1e-9)

	var metric dto.Metric
	require.NoError(t, m.decisionDuration.Write(&metric))
	assert.Equal(t, uint64(3), metric.GetHistogram().GetSampleCount())
}

func TestMetrics_Counters(t *testing.T) {
	t.Parallel()

	m := NewMetrics("", nil)
	m.Init()

	m.RecordAlert("high")
	m.RecordBlock(BlockSourceAnomaly)
	m.RecordBlock(BlockSourceAnomaly)
	m.RecordInternalFault()
	m.RecordReaped(ComponentMonitor, 4)
	m.RecordReaped(ComponentMonitor, 0)
	m.SetTrackedIdentities(ComponentRateLimiter, 7)
	m.RecordConfigReload(false)

	assert.InDelta(t, 1, testutil.ToFloat64(m.alertsTotal.WithLabelValues("high")), 1e-9)
	assert.InDelta(t, 0, testutil.ToFloat64(m.alertsTotal.WithLabelValues("low")), 1e-9)
	assert.InDelta(t, 2, testutil.ToFloat64(m.blocksTotal.WithLabelValues(BlockSourceAnomaly)), 1e-9)
	assert.InDelta(t, 1, testutil.ToFloat64(m.internalFaults), 1e-9)
	assert.InDelta(t, 4, testutil.ToFloat64(m.reapedTotal.WithLabelValues(ComponentMonitor)), 1e-9)
	assert.InDelta(t, 7, testutil.ToFloat64(m.trackedIdentities.WithLabelValues(ComponentRateLimiter)), 1e-9)
	assert.InDelta(t, 1, testutil.ToFloat64(m.configReloads.WithLabelValues("failure")), 1e-9)
}

func TestMetrics_Handler(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	m := NewMetrics("avaguard", reg)
	m.Init()
	m.SetBuildInfo("1.0.0", "abc", "now")
	require.NoError(t, RegisterRuntimeCollectors(reg))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, "avaguard_blocks_total"))
	assert.True(t, strings.Contains(body, "avaguard_build_info"))
	assert.True(t, strings.Contains(body, "go_goroutines"))
}

func TestNewMetrics_DuplicateRegistrationPanics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	NewMetrics("dup", reg)
	assert.Panics(t, func() { NewMetrics("dup", reg) })
}
