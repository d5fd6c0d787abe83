package guardian

import (
	"sync"
	"testing"
	"time"
)

func TestMetricsDisabledIsInert(t *testing.T) {
	m := NewMetrics(MetricsConfig{})
	m.Inc(MetricLoginSuccess)
	if got := m.Value(MetricLoginSuccess); got != 0 {
		t.Fatalf("disabled counter = %d, want 0", got)
	}
	snap := m.Snapshot()
	if len(snap.Counters) != 0 {
		t.Fatalf("disabled snapshot has %d counters", len(snap.Counters))
	}

	var nilMetrics *Metrics
	nilMetrics.Inc(MetricLoginSuccess)
	nilMetrics.Observe(MetricRPCLatency, time.Millisecond)
	if nilMetrics.Enabled() {
		t.Fatal("nil metrics reported enabled")
	}
}

func TestMetricsCountersConcurrent(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true})

	const workers, perWorker = 8, 1000
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				m.Inc(MetricCodeGenerated)
			}
		}()
	}
	wg.Wait()

	if got := m.Value(MetricCodeGenerated); got != workers*perWorker {
		t.Fatalf("counter = %d, want %d", got, workers*perWorker)
	}
	snap := m.Snapshot()
	if snap.Counters[MetricCodeGenerated] != workers*perWorker {
		t.Fatalf("snapshot counter = %d, want %d", snap.Counters[MetricCodeGenerated], workers*perWorker)
	}
}

func TestMetricsLatencyBuckets(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true, EnableLatencyHistograms: true})

	samples := []struct {
		d      time.Duration
		bucket int
	}{
		{time.Millisecond, 0},
		{5 * time.Millisecond, 0},
		{8 * time.Millisecond, 1},
		{20 * time.Millisecond, 2},
		{40 * time.Millisecond, 3},
		{90 * time.Millisecond, 4},
		{200 * time.Millisecond, 5},
		{400 * time.Millisecond, 6},
		{2 * time.Second, 7},
	}
	for _, s := range samples {
		m.Observe(MetricRPCLatency, s.d)
	}

	snap := m.Snapshot()
	buckets := snap.Histograms[MetricRPCLatency]
	if len(buckets) != 8 {
		t.Fatalf("histogram has %d buckets, want 8", len(buckets))
	}
	want := make([]uint64, 8)
	for _, s := range samples {
		want[s.bucket]++
	}
	for i := range want {
		if buckets[i] != want[i] {
			t.Fatalf("bucket %d = %d, want %d", i, buckets[i], want[i])
		}
	}
}

func TestMetricsObserveIgnoresOtherIDs(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true, EnableLatencyHistograms: true})
	m.Observe(MetricLoginSuccess, time.Millisecond)
	snap := m.Snapshot()
	if _, ok := snap.Histograms[MetricLoginSuccess]; ok {
		t.Fatal("non-latency id grew a histogram")
	}
	for _, b := range snap.Histograms[MetricRPCLatency] {
		if b != 0 {
			t.Fatal("stray sample landed in the latency histogram")
		}
	}
}
