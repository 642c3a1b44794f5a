package otel

import (
	"context"
	"sync"
	"testing"

	rentAuth "github.com/MrEthical07/rentAuth"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

type fakeSource struct {
	mu       sync.RWMutex
	counters map[rentAuth.MetricID]uint64
	latency  []uint64
	dropped  uint64
}

func (f *fakeSource) MetricsSnapshot() rentAuth.MetricsSnapshot {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := rentAuth.MetricsSnapshot{
		Counters:   make(map[rentAuth.MetricID]uint64, len(f.counters)),
		Histograms: map[rentAuth.MetricID][]uint64{rentAuth.MetricAuthenticateLatency: append([]uint64(nil), f.latency...)},
	}
	for k, v := range f.counters {
		out.Counters[k] = v
	}
	return out
}

func (f *fakeSource) AuditDropped() uint64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.dropped
}

func newReader() (*sdkmetric.ManualReader, *sdkmetric.MeterProvider) {
	reader := sdkmetric.NewManualReader()
	return reader, sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
}

func findSum(t *testing.T, rm metricdata.ResourceMetrics, name string) int64 {
	t.Helper()
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			switch data := m.Data.(type) {
			case metricdata.Sum[int64]:
				return data.DataPoints[0].Value
			case metricdata.Gauge[int64]:
				return data.DataPoints[0].Value
			}
		}
	}
	t.Fatalf("metric %s not collected", name)
	return 0
}

func TestExporterCollectsValues(t *testing.T) {
	reader, provider := newReader()
	src := &fakeSource{
		counters: map[rentAuth.MetricID]uint64{rentAuth.MetricLoginSuccess: 3},
		latency:  []uint64{1, 1, 1, 1, 1, 1, 1, 1},
		dropped:  1,
	}

	exp, err := NewExporterFromSource(provider.Meter("rentauth-test"), src)
	if err != nil {
		t.Fatalf("NewExporterFromSource: %v", err)
	}
	defer func() {
		if err := exp.Close(); err != nil {
			t.Fatalf("Close: %v", err)
		}
	}()

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}

	if got := findSum(t, rm, "rentauth_login_success_total"); got != 3 {
		t.Fatalf("login success = %d", got)
	}
	if got := findSum(t, rm, "rentauth_audit_dropped_total"); got != 1 {
		t.Fatalf("audit dropped = %d", got)
	}
	if got := findSum(t, rm, "rentauth_authenticate_latency_seconds_bucket_le_0_025"); got != 3 {
		t.Fatalf("cumulative bucket = %d", got)
	}
	if got := findSum(t, rm, "rentauth_authenticate_latency_seconds_count"); got != 8 {
		t.Fatalf("sample count = %d", got)
	}
}

func TestExporterRejectsNilInputs(t *testing.T) {
	_, provider := newReader()
	if _, err := NewExporterFromSource(provider.Meter("rentauth-test"), nil); err != ErrNilSource {
		t.Fatalf("expected ErrNilSource, got %v", err)
	}
	if _, err := NewExporterFromSource(nil, &fakeSource{}); err != ErrNilMeter {
		t.Fatalf("expected ErrNilMeter, got %v", err)
	}
	if _, err := NewExporter(provider.Meter("rentauth-test"), nil); err != ErrNilSource {
		t.Fatalf("expected ErrNilSource for nil engine, got %v", err)
	}
}

func TestExporterConcurrentCollect(t *testing.T) {
	reader, provider := newReader()
	src := &fakeSource{counters: map[rentAuth.MetricID]uint64{}}

	exp, err := NewExporterFromSource(provider.Meter("rentauth-test"), src)
	if err != nil {
		t.Fatalf("NewExporterFromSource: %v", err)
	}
	defer exp.Close()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(v uint64) {
			defer wg.Done()
			src.mu.Lock()
			src.counters[rentAuth.MetricLoginSuccess] = v
			src.mu.Unlock()

			var rm metricdata.ResourceMetrics
			_ = reader.Collect(context.Background(), &rm)
		}(uint64(i + 1))
	}
	wg.Wait()
}
