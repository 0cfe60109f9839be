package telemetry

import (
	"io"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/maxpert/headcount/cfg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAnnouncer struct {
	busy    atomic.Bool
	pending atomic.Bool
	calls   atomic.Int32
}

func (f *fakeAnnouncer) Busy() bool {
	f.calls.Add(1)
	return f.busy.Load()
}

func (f *fakeAnnouncer) Pending() bool { return f.pending.Load() }

func withPrometheus(t *testing.T, enabled bool) {
	t.Helper()
	prev := cfg.Config.Prometheus.Enabled
	cfg.Config.Prometheus.Enabled = enabled
	InitializeTelemetry()
	InitMetrics()
	t.Cleanup(func() {
		cfg.Config.Prometheus.Enabled = prev
		registry = nil
		InitMetrics()
	})
}

func TestDisabledTelemetryIsNoop(t *testing.T) {
	withPrometheus(t, false)

	assert.Nil(t, GetMetricsHandler())
	assert.IsType(t, NoopStat{}, LastEmittedValue)

	// Must not panic
	SamplesTotal.With("ok").Inc()
	LastObservedValue.With("people/count").Set(3)
	AnnouncementDurationSeconds.With("log").Observe(0.5)
}

func TestEnabledTelemetryServesMetrics(t *testing.T) {
	withPrometheus(t, true)

	PublishesTotal.With("published").Inc()
	LastEmittedValue.Set(7)
	AnnouncementDurationSeconds.With("command").Observe(1.5)
	PublishDurationSeconds.Observe(0.002)

	handler := GetMetricsHandler()
	require.NotNil(t, handler)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)

	text := string(body)
	assert.True(t, strings.Contains(text, `headcount_publishes_total{`), "missing publishes_total")
	assert.Contains(t, text, `result="published"`)
	assert.Contains(t, text, "headcount_last_emitted_value")
	assert.Contains(t, text, "instance_id=")
	assert.Contains(t, text, `headcount_announcement_duration_seconds_bucket{backend="command"`)
	assert.Contains(t, text, "headcount_publish_duration_seconds_count")
}

func TestMetricsCollector(t *testing.T) {
	withPrometheus(t, false)

	fake := &fakeAnnouncer{}
	fake.busy.Store(true)

	mc := NewMetricsCollector(fake, 5*time.Millisecond)
	mc.Start()

	require.Eventually(t, func() bool { return fake.calls.Load() >= 2 }, time.Second, time.Millisecond)

	mc.Stop()
	mc.Stop() // idempotent
}

func TestBoolGauge(t *testing.T) {
	assert.Equal(t, 1.0, boolGauge(true))
	assert.Equal(t, 0.0, boolGauge(false))
}
