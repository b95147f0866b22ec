package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrometheusRecorder_Counters(t *testing.T) {
	reg := prometheus.NewRegistry()
	rec := NewPrometheusRecorder(reg)

	rec.IncCounter(PaymentAttempt, map[string]string{"network": "base"})
	rec.IncCounter(PaymentAttempt, map[string]string{"network": "base"})
	rec.IncCounter(PaymentFailure, map[string]string{"network": "base", "code": "SETTLEMENT_FAILED"})

	assert.Equal(t, 2.0, testutil.ToFloat64(rec.counters.WithLabelValues(PaymentAttempt, "base", "")))
	assert.Equal(t, 1.0, testutil.ToFloat64(rec.counters.WithLabelValues(PaymentFailure, "base", "SETTLEMENT_FAILED")))
}

func TestPrometheusRecorder_Latency(t *testing.T) {
	reg := prometheus.NewRegistry()
	rec := NewPrometheusRecorder(reg)

	rec.ObserveLatency(PayPerCall, 150*time.Millisecond, map[string]string{"network": "base"})
	rec.ObserveLatency(PayPerCall, 250*time.Millisecond, map[string]string{"network": "base"})

	count, err := testutil.GatherAndCount(reg, "x402_latency_seconds")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	families, err := reg.Gather()
	require.NoError(t, err)
	var samples uint64
	for _, mf := range families {
		if mf.GetName() == "x402_latency_seconds" {
			samples = mf.GetMetric()[0].GetHistogram().GetSampleCount()
		}
	}
	assert.Equal(t, uint64(2), samples)
}

func TestPrometheusRecorder_DuplicateRegistrationPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewPrometheusRecorder(reg)
	assert.Panics(t, func() { NewPrometheusRecorder(reg) })
}

func TestNoopRecorder(t *testing.T) {
	var rec Recorder = NoopRecorder{}
	rec.IncCounter(PaymentSuccess, nil)
	rec.ObserveLatency(PayPerCall, time.Second, nil)
}
