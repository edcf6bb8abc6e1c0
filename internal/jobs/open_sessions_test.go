package jobs

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

type mockCounter struct {
	count atomic.Int64
	err   error
	calls atomic.Int32
}

func (m *mockCounter) CountOpen(ctx context.Context) (int64, error) {
	m.calls.Add(1)
	if m.err != nil {
		return 0, m.err
	}
	return m.count.Load(), nil
}

func newGauge() prometheus.Gauge {
	return prometheus.NewGauge(prometheus.GaugeOpts{Name: "open_sessions_test"})
}

func TestOpenSessionsJob_Refresh(t *testing.T) {
	counter := &mockCounter{}
	counter.count.Store(4)
	gauge := newGauge()

	job := NewOpenSessionsJob(counter, gauge, time.Hour)
	job.refresh()

	assert.Equal(t, float64(4), testutil.ToFloat64(gauge))
}

func TestOpenSessionsJob_RefreshErrorKeepsValue(t *testing.T) {
	gauge := newGauge()
	gauge.Set(2)

	job := NewOpenSessionsJob(&mockCounter{err: errors.New("db down")}, gauge, time.Hour)
	job.refresh()

	assert.Equal(t, float64(2), testutil.ToFloat64(gauge))
}

func TestOpenSessionsJob_StartStop(t *testing.T) {
	counter := &mockCounter{}
	counter.count.Store(1)
	gauge := newGauge()

	job := NewOpenSessionsJob(counter, gauge, 10*time.Millisecond)
	job.Start()

	assert.Eventually(t, func() bool {
		return counter.calls.Load() >= 2
	}, time.Second, 5*time.Millisecond)

	job.Stop()
	assert.Equal(t, float64(1), testutil.ToFloat64(gauge))
}
