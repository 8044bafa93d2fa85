package history

import (
	"errors"
	"testing"
	"time"

	"github.com/threadctl/threadctl/internal/telemetry"
)

func TestStore_AppendEvictsByCount(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxDataPoints = 3
	cfg.MaxHistoryAge = time.Hour
	s := New(cfg, nil)

	for i := 0; i < 5; i++ {
		s.Append(telemetry.Sample{Timestamp: time.Now(), CPUUsage: telemetry.Some(float64(i))})
	}

	all := s.All()
	if len(all) != 3 {
		t.Fatalf("len(All()) = %d, want 3", len(all))
	}
	v, _ := all[0].CPUUsage.Get()
	if v != 2 {
		t.Fatalf("oldest retained sample CPUUsage = %v, want 2 (first two evicted)", v)
	}
}

func TestStore_AppendEvictsByAge(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxDataPoints = 100
	cfg.MaxHistoryAge = 10 * time.Millisecond
	s := New(cfg, nil)

	s.Append(telemetry.Sample{Timestamp: time.Now()})
	time.Sleep(20 * time.Millisecond)
	s.Append(telemetry.Sample{Timestamp: time.Now()})

	all := s.All()
	if len(all) != 1 {
		t.Fatalf("len(All()) = %d, want 1 after age eviction", len(all))
	}
}

func TestStore_PerfRingBounded(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxPerformanceHistory = 2
	s := New(cfg, nil)

	for i := 0; i < 5; i++ {
		s.AppendPerf(PerfPoint{ThreadCount: i})
	}
	perf := s.AllPerf()
	if len(perf) != 2 {
		t.Fatalf("len(AllPerf()) = %d, want 2", len(perf))
	}
	if perf[len(perf)-1].ThreadCount != 4 {
		t.Fatalf("latest perf point ThreadCount = %d, want 4", perf[len(perf)-1].ThreadCount)
	}
}

func TestStore_Stats_ExcludesAbsent(t *testing.T) {
	s := New(DefaultConfig(), nil)
	s.Append(telemetry.Sample{Timestamp: time.Now(), CPUUsage: telemetry.Some(50)})
	s.Append(telemetry.Sample{Timestamp: time.Now()}) // CPUUsage absent
	s.Append(telemetry.Sample{Timestamp: time.Now(), CPUUsage: telemetry.Some(70)})

	stats := s.Stats()
	avg, ok := stats.Averages.CPUUsage.Get()
	if !ok {
		t.Fatal("expected CPU average to be present")
	}
	if avg != 60 {
		t.Fatalf("CPU average = %v, want 60 (mean of defined values only)", avg)
	}
	if stats.DataPoints != 3 {
		t.Fatalf("DataPoints = %d, want 3", stats.DataPoints)
	}
}

func TestStore_Stats_Empty(t *testing.T) {
	s := New(DefaultConfig(), nil)
	stats := s.Stats()
	if stats.DataPoints != 0 {
		t.Fatalf("DataPoints = %d, want 0", stats.DataPoints)
	}
	if stats.Averages.CPUUsage.Present() {
		t.Fatal("expected absent average over empty history")
	}
}

type fakeSink struct {
	fail    bool
	entries []ScalingDecision
}

func (f *fakeSink) PersistScaling(d ScalingDecision) error {
	if f.fail {
		return errors.New("sink unavailable")
	}
	f.entries = append(f.entries, d)
	return nil
}

func TestStore_PersistScaling_SinkSuccess(t *testing.T) {
	sink := &fakeSink{}
	s := New(DefaultConfig(), sink)
	err := s.PersistScaling(ScalingDecision{RecommendedThreads: 4})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(sink.entries) != 1 {
		t.Fatalf("expected sink to receive 1 entry, got %d", len(sink.entries))
	}
	if len(s.RecentScalingDecisions()) != 0 {
		t.Fatalf("expected in-memory fallback to stay empty when sink succeeds")
	}
}

func TestStore_PersistScaling_FallsBackOnSinkError(t *testing.T) {
	sink := &fakeSink{fail: true}
	s := New(DefaultConfig(), sink)
	err := s.PersistScaling(ScalingDecision{RecommendedThreads: 2})
	if err != nil {
		t.Fatalf("PersistScaling must not surface sink errors: %v", err)
	}
	if len(s.RecentScalingDecisions()) != 1 {
		t.Fatal("expected in-memory fallback to capture the decision")
	}
}
