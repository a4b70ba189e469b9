package observability

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrometheusRecorderCountsOutcomes(t *testing.T) {
	reg := prometheus.NewRegistry()
	rec, err := NewPrometheusRecorder(reg, "test")
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, Track(ctx, rec, "withdrawal.register", func() error { return nil }))
	boom := errors.New("boom")
	require.ErrorIs(t, Track(ctx, rec, "withdrawal.register", func() error { return boom }), boom)
	rec.Observe(ctx, "", true, time.Second)
	rec.RollbackFailed("resource.create", "upload")

	assert.Equal(t, 1.0, testutil.ToFloat64(rec.results.WithLabelValues("withdrawal.register", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(rec.results.WithLabelValues("withdrawal.register", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(rec.rollbacks.WithLabelValues("resource.create", "upload")))

	families, err := reg.Gather()
	require.NoError(t, err)
	var hist *dto.MetricFamily
	for _, mf := range families {
		if mf.GetName() == "test_operation_duration_seconds" {
			hist = mf
		}
	}
	require.NotNil(t, hist)
	require.Len(t, hist.GetMetric(), 1)
	assert.EqualValues(t, 2, hist.GetMetric()[0].GetHistogram().GetSampleCount())
}

func TestNewPrometheusRecorderReusesRegisteredCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	first, err := NewPrometheusRecorder(reg, "")
	require.NoError(t, err)
	second, err := NewPrometheusRecorder(reg, "")
	require.NoError(t, err)

	second.RollbackFailed("tx", "step")
	assert.Equal(t, 1.0, testutil.ToFloat64(first.rollbacks.WithLabelValues("tx", "step")))
}

func TestTrackWithoutRecorder(t *testing.T) {
	called := false
	require.NoError(t, Track(context.Background(), nil, "op", func() error { called = true; return nil }))
	assert.True(t, called)
	NoopRecorder{}.Observe(context.Background(), "op", true, 0)
	NoopRecorder{}.RollbackFailed("tx", "step")
}
