package metrics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorder_ConversionCounters(t *testing.T) {
	r := NewRecorder()

	r.RecordSuccess(100 * time.Millisecond)
	r.RecordSuccess(300 * time.Millisecond)
	r.RecordFailure()
	r.RecordAttemptFailure()
	r.RecordAttemptFailure()
	r.RecordAttemptFailure()

	s := r.Snapshot()
	assert.Equal(t, uint64(2), s.TotalConversions)
	assert.Equal(t, uint64(1), s.FailedConversions)
	assert.Equal(t, uint64(3), s.FailedAttempts)
	assert.InDelta(t, 33.3, s.ErrorRatePercent, 0.1)
	assert.InDelta(t, 200.0, s.AvgConversionTimeMs, 0.1)
}

func TestRecorder_EmptySnapshot(t *testing.T) {
	r := NewRecorder()

	s := r.Snapshot()
	assert.Zero(t, s.TotalConversions)
	assert.Zero(t, s.ErrorRatePercent)
	assert.Zero(t, s.AvgConversionTimeMs)
	assert.Zero(t, s.AvgQueueWaitMs)
}

func TestRecorder_QueueState(t *testing.T) {
	r := NewRecorder()

	r.SetQueueState(3, 2)
	r.SetQueueState(7, 2)
	r.SetQueueState(1, 1)

	s := r.Snapshot()
	assert.Equal(t, 1, s.QueueDepth)
	assert.Equal(t, 7, s.MaxQueueDepth)
	assert.Equal(t, 1, s.ActiveConversions)
}

func TestRecorder_QueueWaitAverage(t *testing.T) {
	r := NewRecorder()

	r.RecordQueueWait(10 * time.Millisecond)
	r.RecordQueueWait(30 * time.Millisecond)

	s := r.Snapshot()
	assert.InDelta(t, 20.0, s.AvgQueueWaitMs, 0.1)
}

func TestRecorder_GenerationChangeResetsUptime(t *testing.T) {
	r := NewRecorder()

	r.SetGeneration(1)
	time.Sleep(20 * time.Millisecond)
	before := r.Snapshot().UptimeSeconds
	assert.Positive(t, before)

	r.SetGeneration(2)
	after := r.Snapshot()
	assert.Equal(t, int64(2), after.Generation)
	assert.Less(t, after.UptimeSeconds, before)
}

func TestRecorder_SameGenerationKeepsUptime(t *testing.T) {
	r := NewRecorder()

	r.SetGeneration(1)
	time.Sleep(20 * time.Millisecond)
	before := r.Snapshot().UptimeSeconds

	r.SetGeneration(1)
	assert.GreaterOrEqual(t, r.Snapshot().UptimeSeconds, before)
}

func TestRecorder_ResourceSampleWindow(t *testing.T) {
	r := NewRecorder()

	// Fill past the window so the early outlier falls off
	r.RecordResourceSample(1000.0, 1000)
	for i := 0; i < maxResourceSamples; i++ {
		r.RecordResourceSample(10.0, 100)
	}

	s := r.Snapshot()
	assert.InDelta(t, 10.0, s.AvgCPUPercent, 0.001)
	assert.Equal(t, uint64(100), s.AvgMemoryBytes)
	assert.InDelta(t, 10.0, s.CurrentCPUPercent, 0.001)
	assert.Equal(t, uint64(100), s.CurrentMemoryBytes)
}

func TestRecorder_Text(t *testing.T) {
	r := NewRecorder()

	r.RecordSuccess(50 * time.Millisecond)
	r.RecordRestart()
	r.RecordHealthCheck(true)
	r.RecordHealthCheck(false)
	r.SetGeneration(4)

	text, err := r.Text()
	require.NoError(t, err)

	assert.Contains(t, text, "renderer_conversions_total 1")
	assert.Contains(t, text, "renderer_browser_restarts_total 1")
	assert.Contains(t, text, `renderer_health_checks_total{result="success"} 1`)
	assert.Contains(t, text, `renderer_health_checks_total{result="failure"} 1`)
	assert.Contains(t, text, "renderer_browser_generation 4")
	assert.Contains(t, text, "renderer_conversion_duration_seconds")
}

func TestRecorder_ConcurrentUse(t *testing.T) {
	r := NewRecorder()

	done := make(chan struct{})
	for i := 0; i < 4; i++ {
		go func() {
			defer func() { done <- struct{}{} }()
			for j := 0; j < 100; j++ {
				r.RecordSuccess(time.Millisecond)
				r.RecordQueueWait(time.Millisecond)
				r.Snapshot()
			}
		}()
	}
	for i := 0; i < 4; i++ {
		<-done
	}

	assert.Equal(t, uint64(400), r.Snapshot().TotalConversions)
}
