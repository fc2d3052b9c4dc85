package prometheus

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	adminauth "github.com/oakmont/adminauth"
)

type fakeSource struct {
	snapshot adminauth.MetricsSnapshot
	dropped  uint64
}

func (f *fakeSource) MetricsSnapshot() adminauth.MetricsSnapshot {
	return f.snapshot
}

func (f *fakeSource) AuditDropped() uint64 {
	return f.dropped
}

func newFakeSource() *fakeSource {
	counters := make(map[adminauth.MetricID]uint64)
	counters[adminauth.MetricLoginSuccess] = 42
	counters[adminauth.MetricLoginFailure] = 7
	counters[adminauth.MetricTwoFactorReplay] = 1

	histogram := make([]uint64, len(adminauth.HistogramBounds())+1)
	histogram[0] = 3
	histogram[2] = 1

	return &fakeSource{
		snapshot: adminauth.MetricsSnapshot{
			Counters: counters,
			Histograms: map[adminauth.MetricID][]uint64{
				adminauth.MetricLoginLatency: histogram,
			},
		},
		dropped: 5,
	}
}

func gather(t *testing.T, c *Collector) map[string]*dto.MetricFamily {
	t.Helper()
	registry := prometheus.NewRegistry()
	if err := registry.Register(c); err != nil {
		t.Fatalf("register failed: %v", err)
	}
	families, err := registry.Gather()
	if err != nil {
		t.Fatalf("gather failed: %v", err)
	}
	byName := make(map[string]*dto.MetricFamily, len(families))
	for _, family := range families {
		byName[family.GetName()] = family
	}
	return byName
}

func TestCollectorExportsCounters(t *testing.T) {
	families := gather(t, NewCollectorFromSource(newFakeSource()))

	successName := "adminauth_" + adminauth.MetricLoginSuccess.Name() + "_total"
	family, ok := families[successName]
	if !ok {
		t.Fatalf("%s missing; got %v", successName, familyNames(families))
	}
	if got := family.GetMetric()[0].GetCounter().GetValue(); got != 42 {
		t.Fatalf("%s = %v, want 42", successName, got)
	}

	replayName := "adminauth_" + adminauth.MetricTwoFactorReplay.Name() + "_total"
	if family, ok = families[replayName]; !ok {
		t.Fatalf("%s missing", replayName)
	} else if got := family.GetMetric()[0].GetCounter().GetValue(); got != 1 {
		t.Fatalf("%s = %v, want 1", replayName, got)
	}
}

func TestCollectorExportsLatencyHistogram(t *testing.T) {
	families := gather(t, NewCollectorFromSource(newFakeSource()))

	family, ok := families["adminauth_login_latency_ms"]
	if !ok {
		t.Fatalf("latency histogram missing; got %v", familyNames(families))
	}
	histogram := family.GetMetric()[0].GetHistogram()
	if histogram.GetSampleCount() != 4 {
		t.Fatalf("sample count = %d, want 4", histogram.GetSampleCount())
	}
	if len(histogram.GetBucket()) != len(adminauth.HistogramBounds()) {
		t.Fatalf("bucket count = %d", len(histogram.GetBucket()))
	}
	// Cumulative counts: 3 in the first bucket, all 4 by the third.
	if histogram.GetBucket()[0].GetCumulativeCount() != 3 {
		t.Fatalf("first bucket = %d, want 3", histogram.GetBucket()[0].GetCumulativeCount())
	}
	if histogram.GetBucket()[2].GetCumulativeCount() != 4 {
		t.Fatalf("third bucket = %d, want 4", histogram.GetBucket()[2].GetCumulativeCount())
	}
}

func TestCollectorExportsAuditDrops(t *testing.T) {
	families := gather(t, NewCollectorFromSource(newFakeSource()))

	family, ok := families["adminauth_audit_dropped_total"]
	if !ok {
		t.Fatal("audit_dropped_total missing")
	}
	if got := family.GetMetric()[0].GetCounter().GetValue(); got != 5 {
		t.Fatalf("audit_dropped_total = %v, want 5", got)
	}
}

func TestCollectorSkipsLatencyCounter(t *testing.T) {
	families := gather(t, NewCollectorFromSource(newFakeSource()))

	for name := range families {
		if strings.HasSuffix(name, adminauth.MetricLoginLatency.Name()+"_total") {
			t.Fatalf("latency exported as a counter: %s", name)
		}
	}
}

func familyNames(families map[string]*dto.MetricFamily) []string {
	names := make([]string, 0, len(families))
	for name := range families {
		names = append(names, name)
	}
	return names
}
