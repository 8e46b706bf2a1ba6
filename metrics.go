package goEnroll

import (
	"sync/atomic"
	"time"
)

// MetricID identifies one engine counter.
type MetricID uint16

const (
	MetricEmailOTPSent MetricID = iota
	MetricEmailOTPFailed
	MetricEmailVerified
	MetricEmailVerifyFailed
	MetricPhoneOTPSent
	// MetricPhoneOTPFailed counts delivery failures that did not block the flow.
	MetricPhoneOTPFailed
	MetricPhoneVerified
	MetricPhoneVerifyFailed
	MetricSecurityQuestionsSaved
	MetricSecurityQuestionsFailed
	MetricBiometricSucceeded
	MetricBiometricSkipped
	MetricBiometricFailed
	MetricCeremonyFailed
	MetricProfileCreated
	MetricProfileCreationFailed
	MetricRefreshSuccess
	MetricRefreshFailure
	MetricLogout
	MetricReset
	MetricBusyRejected
	MetricStaleCompletionDiscarded
	MetricReferrerRejected
	MetricCacheHit
	MetricCacheMiss
	MetricRateLimitFallback
	MetricRateLimitHit
	// MetricOperationLatency is the only histogram: wall time of guarded operations.
	MetricOperationLatency
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

// Metrics holds lock-free counters for every enrollment event. A nil or
// disabled *Metrics ignores all updates.
type Metrics struct {
	enabled       bool
	enableLatency bool
	counters      [metricIDCount]paddedCounter
	histograms    [metricIDCount]metricHistogram
}

// MetricsSnapshot is a point-in-time copy of all counters. Histogram
// buckets are non-cumulative, in the order of the exporters' bounds.
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

// Observe records d into the latency histogram.
func (m *Metrics) Observe(id MetricID, d time.Duration) {
	if m == nil || !m.enableLatency || id != MetricOperationLatency {
		return
	}
	atomic.AddUint64(&m.histograms[id].buckets[bucketIndex(d)], 1)
}

func (m *Metrics) Value(id MetricID) uint64 {
	if m == nil || id >= metricIDCount {
		return 0
	}
	return atomic.LoadUint64(&m.counters[id].value)
}

// Snapshot copies every counter. A disabled Metrics yields empty maps.
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
		if id == MetricOperationLatency {
			continue
		}
		s.Counters[id] = atomic.LoadUint64(&m.counters[id].value)
	}

	if m.enableLatency {
		buckets := make([]uint64, histBucketCount)
		for i := range buckets {
			buckets[i] = atomic.LoadUint64(&m.histograms[MetricOperationLatency].buckets[i])
		}
		s.Histograms[MetricOperationLatency] = buckets
	}
	return s
}

// Bounds are tuned for backend round-trips rather than in-process checks.
func bucketIndex(d time.Duration) int {
	ms := d.Milliseconds()

	switch {
	case ms <= 50:
		return 0
	case ms <= 100:
		return 1
	case ms <= 250:
		return 2
	case ms <= 500:
		return 3
	case ms <= 1000:
		return 4
	case ms <= 2500:
		return 5
	case ms <= 5000:
		return 6
	default:
		return 7
	}
}

// metricsObserver feeds transport cache and rate-limit events into Metrics.
type metricsObserver struct {
	m *Metrics
}

func (o metricsObserver) CacheHit(string)          { o.m.Inc(MetricCacheHit) }
func (o metricsObserver) CacheMiss(string)         { o.m.Inc(MetricCacheMiss) }
func (o metricsObserver) RateLimitFallback(string) { o.m.Inc(MetricRateLimitFallback) }
func (o metricsObserver) RateLimited(string)       { o.m.Inc(MetricRateLimitHit) }
