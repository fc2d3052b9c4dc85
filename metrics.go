package adminauth

import (
	"sync/atomic"
	"time"
)

// MetricID identifies one engine counter.
type MetricID uint16

const (
	MetricLoginSuccess MetricID = iota
	MetricLoginFailure
	MetricLoginRateLimited
	MetricLoginLocked
	MetricTwoFactorRequired
	MetricTwoFactorSuccess
	MetricTwoFactorFailure
	MetricTwoFactorReplay
	MetricTwoFactorEnabled
	MetricTwoFactorDisabled
	MetricBackupCodeUsed
	MetricBackupCodeFailed
	MetricBackupCodeRegenerated
	MetricSuspicionFlagged
	MetricSensitiveProofSuccess
	MetricSensitiveProofFailure
	MetricPasswordChangeSuccess
	MetricPasswordChangeInvalidOld
	MetricPasswordChangeReuseRejected
	MetricLoginLatency
	metricIDCount
)

var metricNames = [metricIDCount]string{
	MetricLoginSuccess:                "login_success",
	MetricLoginFailure:                "login_failure",
	MetricLoginRateLimited:            "login_rate_limited",
	MetricLoginLocked:                 "login_locked",
	MetricTwoFactorRequired:           "two_factor_required",
	MetricTwoFactorSuccess:            "two_factor_success",
	MetricTwoFactorFailure:            "two_factor_failure",
	MetricTwoFactorReplay:             "two_factor_replay",
	MetricTwoFactorEnabled:            "two_factor_enabled",
	MetricTwoFactorDisabled:           "two_factor_disabled",
	MetricBackupCodeUsed:              "backup_code_used",
	MetricBackupCodeFailed:            "backup_code_failed",
	MetricBackupCodeRegenerated:       "backup_code_regenerated",
	MetricSuspicionFlagged:            "suspicion_flagged",
	MetricSensitiveProofSuccess:       "sensitive_proof_success",
	MetricSensitiveProofFailure:       "sensitive_proof_failure",
	MetricPasswordChangeSuccess:       "password_change_success",
	MetricPasswordChangeInvalidOld:    "password_change_invalid_old",
	MetricPasswordChangeReuseRejected: "password_change_reuse_rejected",
	MetricLoginLatency:                "login_latency",
}

// Name returns the stable snake_case identifier used by exporters.
func (id MetricID) Name() string {
	if id >= metricIDCount {
		return "unknown"
	}
	return metricNames[id]
}

const (
	histBucketCount = 8
	cacheLineSize   = 64
)

type metricHistogram struct {
	buckets [histBucketCount]uint64
}

// Counters are padded to a cache line each so hot increments on
// different IDs do not false-share.
type paddedCounter struct {
	value uint64
	_     [cacheLineSize - 8]byte
}

// Metrics is the engine's in-process counter set. All methods are safe
// for concurrent use; a nil receiver is a no-op.
type Metrics struct {
	enabled       bool
	enableLatency bool
	counters      [metricIDCount]paddedCounter
	histograms    [metricIDCount]metricHistogram
}

// MetricsSnapshot is a point-in-time copy of every counter.
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

// Observe records a login round-trip latency sample.
func (m *Metrics) Observe(id MetricID, d time.Duration) {
	if m == nil || !m.enabled || !m.enableLatency || id != MetricLoginLatency {
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
			buckets[i] = atomic.LoadUint64(&m.histograms[MetricLoginLatency].buckets[i])
		}
		s.Histograms[MetricLoginLatency] = buckets
	}

	return s
}

// HistogramBounds returns the upper bounds, in milliseconds, of the
// latency buckets. The last bucket is unbounded.
func HistogramBounds() []int64 {
	return []int64{5, 10, 25, 50, 100, 250, 500}
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
