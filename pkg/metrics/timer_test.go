package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestNewTimer(t *testing.T) {
	timer := NewTimer()
	if timer == nil {
		t.Fatal("NewTimer() returned nil")
	}
	if timer.start.IsZero() {
		t.Error("NewTimer() start time is zero")
	}
}

func TestTimerDuration(t *testing.T) {
	timer := NewTimer()
	sleepDuration := 20 * time.Millisecond
	time.Sleep(sleepDuration)

	duration := timer.Duration()
	if duration < sleepDuration {
		t.Errorf("Timer.Duration() = %v, want >= %v", duration, sleepDuration)
	}
}

func TestTimerZeroDuration(t *testing.T) {
	timer := NewTimer()
	if d := timer.Duration(); d < 0 {
		t.Errorf("Timer.Duration() = %v, want >= 0", d)
	}
}

func TestTimerConsistency(t *testing.T) {
	timer := NewTimer()
	var last time.Duration
	for i := 0; i < 3; i++ {
		time.Sleep(10 * time.Millisecond)
		d := timer.Duration()
		if d <= last {
			t.Errorf("Duration should be monotonically increasing: iteration %d, last=%v, current=%v", i, last, d)
		}
		last = d
	}
}

// sampleCount reads back a single, unlabelled histogram's observation
// count, used below to confirm ObserveDuration actually recorded.
func sampleCount(t *testing.T, h prometheus.Histogram) uint64 {
	t.Helper()
	var m dto.Metric
	if err := h.Write(&m); err != nil {
		t.Fatalf("Write returned error: %v", err)
	}
	return m.GetHistogram().GetSampleCount()
}

func TestTimerObserveDurationRecordsOneSample(t *testing.T) {
	h := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "test_embedding_duration_seconds",
		Help:    "scratch histogram shaped like EmbeddingDuration, not registered",
		Buckets: prometheus.DefBuckets,
	})

	timer := NewTimer()
	time.Sleep(10 * time.Millisecond)
	timer.ObserveDuration(h)

	if got := sampleCount(t, h); got != 1 {
		t.Fatalf("expected one observation after ObserveDuration, got %d", got)
	}
}

func TestTimerObserveDurationVecLabelsByProvider(t *testing.T) {
	vec := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "test_embedding_duration_by_provider_seconds",
			Help:    "scratch histogram vec shaped like EmbeddingDuration, not registered",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"provider"},
	)

	timer := NewTimer()
	time.Sleep(10 * time.Millisecond)
	timer.ObserveDurationVec(vec, "local-hash")

	observer, err := vec.GetMetricWithLabelValues("local-hash")
	if err != nil {
		t.Fatalf("GetMetricWithLabelValues returned error: %v", err)
	}
	if got := sampleCount(t, observer.(prometheus.Histogram)); got != 1 {
		t.Fatalf("expected one observation under label local-hash, got %d", got)
	}
}

func TestMultipleTimersRunIndependently(t *testing.T) {
	timer1 := NewTimer()
	time.Sleep(20 * time.Millisecond)
	timer2 := NewTimer()
	time.Sleep(20 * time.Millisecond)

	d1, d2 := timer1.Duration(), timer2.Duration()
	if d1 <= d2 {
		t.Errorf("timer1 should be running longer: timer1=%v, timer2=%v", d1, d2)
	}
}
