package guardian

import (
	"sync/atomic"
	"time"
)

// MetricID identifies one engine counter.
type MetricID uint16

const (
	// MetricLoginSuccess counts completed logins.
	MetricLoginSuccess MetricID = iota
	// MetricLoginFailure counts rejected logins, including exhausted
	// challenge budgets.
	MetricLoginFailure
	// MetricChallengeRequired counts logins parked on a second factor.
	MetricChallengeRequired
	// MetricRefreshSuccess counts access-token refreshes.
	MetricRefreshSuccess
	// MetricRefreshFailure counts transport-level refresh failures.
	MetricRefreshFailure
	// MetricSessionExpired counts refresh tokens rejected by the platform.
	MetricSessionExpired
	// MetricCodeGenerated counts login codes produced.
	MetricCodeGenerated
	// MetricTimeResync counts forced clock resynchronizations.
	MetricTimeResync
	// MetricConfirmationFetch counts confirmation list polls.
	MetricConfirmationFetch
	// MetricConfirmationAccepted counts accepted confirmations.
	MetricConfirmationAccepted
	// MetricConfirmationDenied counts denied confirmations.
	MetricConfirmationDenied
	// MetricConfirmationFailed counts per-item confirmation failures.
	MetricConfirmationFailed
	// MetricAccountImported counts records added to the store.
	MetricAccountImported
	// MetricAccountRemoved counts records removed from the store.
	MetricAccountRemoved
	// MetricAuthenticatorLinked counts completed enrollments.
	MetricAuthenticatorLinked
	// MetricAuthenticatorRevoked counts removed authenticators.
	MetricAuthenticatorRevoked
	// MetricRPCRetry counts transport retries after transient failures.
	MetricRPCRetry
	// MetricRPCLatency is the histogram slot for round-trip RPC latency.
	MetricRPCLatency
	metricIDCount
)

const (
	histBucketCount = 8
	cacheLineSize   = 64
)

type metricHistogram struct {
	buckets [histBucketCount]uint64
}

type paddedCounter struct {
	value uint64
	_     [cacheLineSize - 8]byte
}

// Metrics holds lock-free in-process counters. Counters live in
// cache-line-padded slots; the write path never allocates.
type Metrics struct {
	enabled       bool
	enableLatency bool
	counters      [metricIDCount]paddedCounter
	histograms    [metricIDCount]metricHistogram
}

// MetricsSnapshot is a point-in-time copy of all counters.
type MetricsSnapshot struct {
	Counters   map[MetricID]uint64
	Histograms map[MetricID][]uint64
}

func NewMetrics(cfg MetricsConfig) *Metrics {
	return &Metrics{
		enabled:       cfg.Enabled,
		enableLatency: cfg.Enabled && cfg.EnableLatencyHistograms,
	}
}

func (m *Metrics) Enabled() bool {
	return m != nil && m.enabled
}

func (m *Metrics) Inc(id MetricID) {
	if m == nil || !m.enabled || id >= metricIDCount {
		return
	}
	atomic.AddUint64(&m.counters[id].value, 1)
}

// Observe records a latency sample. Only the RPC latency histogram is
// populated; other ids are ignored.
func (m *Metrics) Observe(id MetricID, d time.Duration) {
	if m == nil || !m.enabled || !m.enableLatency || id != MetricRPCLatency {
		return
	}
	b := bucketIndex(d)
	atomic.AddUint64(&m.histograms[id].buckets[b], 1)
}

func (m *Metrics) Value(id MetricID) uint64 {
	if m == nil || id >= metricIDCount {
		return 0
	}
	return atomic.LoadUint64(&m.counters[id].value)
}

func (m *Metrics) Snapshot() MetricsSnapshot {
	if m == nil || !m.enabled {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}

	s := MetricsSnapshot{
		Counters:   make(map[MetricID]uint64, int(metricIDCount)),
		Histograms: make(map[MetricID][]uint64, 1),
	}

	for id := MetricID(0); id < metricIDCount; id++ {
		s.Counters[id] = atomic.LoadUint64(&m.counters[id].value)
	}

	if m.enableLatency {
		buckets := make([]uint64, histBucketCount)
		for i := 0; i < histBucketCount; i++ {
			buckets[i] = atomic.LoadUint64(&m.histograms[MetricRPCLatency].buckets[i])
		}
		s.Histograms[MetricRPCLatency] = buckets
	}

	return s
}

func bucketIndex(d time.Duration) int {
	ms := d.Milliseconds()

	switch {
	case ms <= 5:
		return 0
	case ms <= 10:
		return 1
	case ms <= 25:
		return 2
	case ms <= 50:
		return 3
	case ms <= 100:
		return 4
	case ms <= 250:
		return 5
	case ms <= 500:
		return 6
	default:
		return 7
	}
}
