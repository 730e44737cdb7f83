package metrics

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_Counters(t *testing.T) {
	registry := NewRegistry()

	registry.IncrementCounter("messages_sent_total", nil, "Messages sent")
	registry.IncrementCounter("messages_sent_total", map[string]string{"mode": "bulk"}, "Messages sent")
	registry.IncrementCounter("messages_sent_total", map[string]string{"mode": "bulk"}, "Messages sent")
	registry.AddToCounter("quota_reserved_total", 2.5, nil, "Quota reserved")
	registry.AddToCounter("quota_reserved_total", 1.5, nil, "Quota reserved")

	counters := registry.GetAllMetrics().Counters

	require.Contains(t, counters, "messages_sent_total")
	assert.Equal(t, 1.0, counters["messages_sent_total"].Value)
	assert.Equal(t, Counter, counters["messages_sent_total"].Type)

	require.Contains(t, counters, "messages_sent_total_mode:bulk")
	assert.Equal(t, 2.0, counters["messages_sent_total_mode:bulk"].Value)
	assert.Equal(t, map[string]string{"mode": "bulk"}, counters["messages_sent_total_mode:bulk"].Labels)

	assert.Equal(t, 4.0, counters["quota_reserved_total"].Value)
}

func TestRegistry_RecordTimer(t *testing.T) {
	registry := NewRegistry()

	registry.RecordTimer("provider_send_duration", 100*time.Millisecond, nil, "Provider send")
	registry.RecordTimer("provider_send_duration", 300*time.Millisecond, nil, "Provider send")

	timer, ok := registry.GetAllMetrics().Timers["provider_send_duration"]
	require.True(t, ok)
	assert.Equal(t, int64(2), timer.Count)
	assert.InDelta(t, 400.0, timer.Sum, 0.001)
	assert.InDelta(t, 100.0, timer.Min, 0.001)
	assert.InDelta(t, 300.0, timer.Max, 0.001)
	assert.InDelta(t, 200.0, timer.Average, 0.001)
	assert.Zero(t, timer.P95, "percentiles need at least ten samples")
}

func TestRegistry_Percentiles(t *testing.T) {
	registry := NewRegistry()
	for i := 1; i <= 100; i++ {
		registry.RecordTimer("http_request_duration", time.Duration(i)*time.Millisecond, nil, "HTTP")
	}

	timer := registry.GetAllMetrics().Timers["http_request_duration"]
	assert.InDelta(t, 96.0, timer.P95, 0.001)
	assert.InDelta(t, 100.0, timer.P99, 0.001)
	assert.GreaterOrEqual(t, timer.P99, timer.P95)
}

func TestRegistry_TimerSampleWindow(t *testing.T) {
	registry := NewRegistry()
	for i := 0; i < maxTimerSamples+50; i++ {
		registry.RecordTimer("dispatch_send_duration", time.Millisecond, nil, "Send")
	}

	registry.mu.RLock()
	samples := len(registry.timers["dispatch_send_duration"].samples)
	registry.mu.RUnlock()

	assert.Equal(t, maxTimerSamples, samples)
	assert.Equal(t, int64(maxTimerSamples+50), registry.GetAllMetrics().Timers["dispatch_send_duration"].Count)
}

func TestRegistry_SetGauge(t *testing.T) {
	registry := NewRegistry()

	registry.SetGauge("registry_sessions", 3, nil, "Sessions")
	registry.SetGauge("registry_sessions", 1, nil, "Sessions")

	gauge := registry.GetAllMetrics().Gauges["registry_sessions"]
	assert.Equal(t, 1.0, gauge.Value)
	assert.Equal(t, Gauge, gauge.Type)
}

func TestRegistry_MetricKeyOrdersLabels(t *testing.T) {
	registry := NewRegistry()

	assert.Equal(t, "test_metric", registry.metricKey("test_metric", nil))

	labels := map[string]string{"status": "sent", "mode": "bulk"}
	key := registry.metricKey("test_metric", labels)
	assert.Equal(t, "test_metric_mode:bulk_status:sent", key)
	for i := 0; i < 20; i++ {
		assert.Equal(t, key, registry.metricKey("test_metric", labels))
	}
}

func TestRegistry_SnapshotIsolation(t *testing.T) {
	registry := NewRegistry()
	labels := map[string]string{"status": "sent"}
	registry.IncrementCounter("messages_total", labels, "Messages")

	snap := registry.GetAllMetrics()
	counter := snap.Counters["messages_total_status:sent"]
	counter.Labels["status"] = "failed"
	labels["status"] = "mutated"

	registry.IncrementCounter("messages_total", map[string]string{"status": "sent"}, "Messages")

	current := registry.GetAllMetrics().Counters["messages_total_status:sent"]
	assert.Equal(t, 2.0, current.Value)
	assert.Equal(t, "sent", current.Labels["status"])
	assert.Equal(t, 1.0, snap.Counters["messages_total_status:sent"].Value)
}

func TestRegistry_ConcurrentUpdates(t *testing.T) {
	registry := NewRegistry()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				registry.IncrementCounter("bulk_items_total", nil, "Bulk items")
				registry.RecordTimer("bulk_item_duration", time.Millisecond, nil, "Bulk item")
				_ = registry.GetAllMetrics()
			}
		}()
	}
	wg.Wait()

	snap := registry.GetAllMetrics()
	assert.Equal(t, 1000.0, snap.Counters["bulk_items_total"].Value)
	assert.Equal(t, int64(1000), snap.Timers["bulk_item_duration"].Count)
}

func TestGlobalRegistry(t *testing.T) {
	IncrementCounter("global_test", nil, "Global test")
	AddToCounter("global_add", 5.0, nil, "Global add test")
	RecordTimer("global_timer", 50*time.Millisecond, nil, "Global timer test")
	SetGauge("global_gauge", 123.45, nil, "Global gauge test")

	snap := GetAllMetrics()
	assert.Contains(t, snap.Counters, "global_test")
	assert.Contains(t, snap.Counters, "global_add")
	assert.Contains(t, snap.Timers, "global_timer")
	assert.Contains(t, snap.Gauges, "global_gauge")
	assert.GreaterOrEqual(t, snap.UptimeMs, int64(0))
	assert.NotZero(t, snap.Timestamp)
	assert.Same(t, globalRegistry, GetRegistry())
}

func TestCopyLabels(t *testing.T) {
	assert.Nil(t, copyLabels(nil))

	original := map[string]string{"route": "/api/devices"}
	dup := copyLabels(original)
	dup["route"] = "/api/quota"
	assert.Equal(t, "/api/devices", original["route"])
}
