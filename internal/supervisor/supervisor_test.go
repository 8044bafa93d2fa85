package supervisor

import (
	"context"
	"testing"
	"time"

	"github.com/threadctl/threadctl/internal/admission"
	"github.com/threadctl/threadctl/internal/controllercfg"
	"github.com/threadctl/threadctl/internal/decision"
	"github.com/threadctl/threadctl/internal/history"
	"github.com/threadctl/threadctl/internal/store"
	"github.com/threadctl/threadctl/internal/telemetry"
)

func testDecisionEngine() *decision.Engine {
	d := controllercfg.Default()
	return decision.New(decision.Config{
		Emergency:       d.EmergencyAbsoluteLimits,
		High:            d.HighThresholds,
		PID:             d.PID,
		ScaleCooldownMs: float64(d.ScaleCooldownMs),
		MinDataWindowMs: float64(d.MaxHistoryAgeMinutes) * 60000,
	})
}

func newTestSupervisor(t *testing.T, engine decisionEngine) (*Supervisor, *admission.Manager, *telemetry.SyntheticSource) {
	t.Helper()
	src := telemetry.NewSyntheticSource(40, 50, 30)
	adm := admission.New(admission.Config{InitialLimit: 2})
	hist := history.New(history.DefaultConfig(), nil)
	sup := New(Config{IntervalMs: 20}, Dependencies{
		Telemetry: src,
		Admission: adm,
		Engine:    engine,
		History:   hist,
	})
	return sup, adm, src
}

func TestStartStop_Idempotent(t *testing.T) {
	sup, _, _ := newTestSupervisor(t, testDecisionEngine())
	sup.Start()
	sup.Start() // no-op, must not deadlock or double-spawn
	time.Sleep(50 * time.Millisecond)
	sup.Stop()
	sup.Stop() // no-op
}

func TestTick_RunsThroughSampleRecordDecidePipeline(t *testing.T) {
	sup, adm, _ := newTestSupervisor(t, testDecisionEngine())
	sup.runTick()

	stats := adm.QueueStats()
	if stats.Limit < 1 {
		t.Fatalf("Limit = %d, want >= 1 after a tick", stats.Limit)
	}

	all := sup.deps.History.All()
	if len(all) != 1 {
		t.Fatalf("History.All() len = %d, want 1", len(all))
	}
	if len(sup.deps.History.AllPerf()) != 1 {
		t.Fatal("expected one PerfPoint appended")
	}
	if len(sup.deps.History.AllDemand()) != 1 {
		t.Fatal("expected one DemandPoint appended")
	}
}

type fakeEngine struct {
	rec decision.Recommendation
}

func (f *fakeEngine) Record(decision.RecordInput) {}
func (f *fakeEngine) Decide(decision.DecideInput) decision.Recommendation {
	return f.rec
}

func TestTick_SubstitutesFallbackSafetyOnInvalidRecommendation(t *testing.T) {
	sup, adm, _ := newTestSupervisor(t, &fakeEngine{rec: decision.Recommendation{Threads: 0, Reason: "broken"}})
	sup.runTick()

	stats := adm.QueueStats()
	if stats.Limit != 1 {
		t.Fatalf("Limit = %d, want 1 (fallback_safety)", stats.Limit)
	}
}

func TestTick_SkipsWhenPreviousTickStillInFlight(t *testing.T) {
	sup, _, _ := newTestSupervisor(t, testDecisionEngine())
	sup.inFlight.Store(true)
	defer sup.inFlight.Store(false)

	sup.tick()

	if len(sup.deps.History.All()) != 0 {
		t.Fatal("expected tick() to skip entirely while a tick is already in flight")
	}
}

type panicSource struct{}

func (panicSource) Sample() telemetry.Sample { panic("sensor exploded") }

func TestTick_SurvivesTelemetryPanic(t *testing.T) {
	adm := admission.New(admission.Config{InitialLimit: 2})
	hist := history.New(history.DefaultConfig(), nil)
	sup := New(Config{IntervalMs: 20}, Dependencies{
		Telemetry: panicSource{},
		Admission: adm,
		Engine:    testDecisionEngine(),
		History:   hist,
	})

	sup.tick() // must not panic out of the call

	if len(hist.All()) != 1 {
		t.Fatal("expected a recovered absent-fields sample to still be appended")
	}
}

// fakeStore is a store.Store that just counts calls, for asserting the
// persistence wiring without depending on a real backend's internals.
type fakeStore struct {
	usageRows     int
	upsertedTypes []string
	pruneCutoffs  []time.Time
}

func (f *fakeStore) PersistScaling(history.ScalingDecision) error { return nil }
func (f *fakeStore) PersistUsage(store.UsageRow) error {
	f.usageRows++
	return nil
}
func (f *fakeStore) UpsertOperationProfile(opType string, cpu, gpu, mem, temp, duration float64) error {
	f.upsertedTypes = append(f.upsertedTypes, opType)
	return nil
}
func (f *fakeStore) PruneOlderThan(cutoff time.Time) error {
	f.pruneCutoffs = append(f.pruneCutoffs, cutoff)
	return nil
}
func (f *fakeStore) Close() error { return nil }

func TestTick_PersistsUsageRowEachTick(t *testing.T) {
	fs := &fakeStore{}
	src := telemetry.NewSyntheticSource(40, 50, 30)
	adm := admission.New(admission.Config{InitialLimit: 2})
	hist := history.New(history.DefaultConfig(), nil)
	sup := New(Config{IntervalMs: 20}, Dependencies{
		Telemetry: src,
		Admission: adm,
		Engine:    testDecisionEngine(),
		History:   hist,
		Store:     fs,
	})

	sup.runTick()
	sup.runTick()

	if fs.usageRows != 2 {
		t.Fatalf("usageRows = %d, want 2 after two ticks", fs.usageRows)
	}
}

func TestTick_UpsertsOperationProfileForCompletedRequests(t *testing.T) {
	fs := &fakeStore{}
	src := telemetry.NewSyntheticSource(40, 50, 30)
	adm := admission.New(admission.Config{InitialLimit: 2})
	future, err := admission.Submit(adm, func(ctx context.Context) (int, error) { return 0, nil }, admission.SubmitOptions{OperationType: "inference"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := future.Wait(context.Background()); err != nil {
		t.Fatalf("future.Wait() error = %v", err)
	}
	hist := history.New(history.DefaultConfig(), nil)
	sup := New(Config{IntervalMs: 20}, Dependencies{
		Telemetry: src,
		Admission: adm,
		Engine:    testDecisionEngine(),
		History:   hist,
		Store:     fs,
	})

	sup.runTick()

	if len(fs.upsertedTypes) != 1 || fs.upsertedTypes[0] != "inference" {
		t.Fatalf("upsertedTypes = %v, want [inference]", fs.upsertedTypes)
	}

	// A second tick must not re-upsert the same already-scanned completion.
	sup.runTick()
	if len(fs.upsertedTypes) != 1 {
		t.Fatalf("upsertedTypes after second tick = %v, want still just [inference]", fs.upsertedTypes)
	}
}

func TestTick_PrunesStoreAfterPruneIntervalTicks(t *testing.T) {
	fs := &fakeStore{}
	src := telemetry.NewSyntheticSource(40, 50, 30)
	adm := admission.New(admission.Config{InitialLimit: 2})
	hist := history.New(history.DefaultConfig(), nil)
	sup := New(Config{IntervalMs: 20, MaxHistoryAgeMinutes: 5}, Dependencies{
		Telemetry: src,
		Admission: adm,
		Engine:    testDecisionEngine(),
		History:   hist,
		Store:     fs,
	})

	for i := 0; i < pruneIntervalTicks-1; i++ {
		sup.runTick()
	}
	if len(fs.pruneCutoffs) != 0 {
		t.Fatalf("pruneCutoffs = %v, want none before pruneIntervalTicks ticks", fs.pruneCutoffs)
	}

	sup.runTick()
	if len(fs.pruneCutoffs) != 1 {
		t.Fatalf("pruneCutoffs = %v, want exactly one at pruneIntervalTicks ticks", fs.pruneCutoffs)
	}
}

func TestTick_UpdatesLimitWhenRecommendationChanges(t *testing.T) {
	// Drive unmet demand hard enough that the engine recommends scaling up
	// from the initial limit of 1.
	src := telemetry.NewSyntheticSource(40, 50, 30)
	adm := admission.New(admission.Config{InitialLimit: 1})
	block := make(chan struct{})
	defer close(block)
	if _, err := admission.Submit(adm, func(ctx context.Context) (int, error) {
		<-block
		return 0, nil
	}, admission.SubmitOptions{}); err != nil {
		t.Fatal(err)
	}
	if _, err := admission.Submit(adm, func(ctx context.Context) (int, error) { return 0, nil }, admission.SubmitOptions{}); err != nil {
		t.Fatal(err)
	}

	hist := history.New(history.DefaultConfig(), nil)
	sup := New(Config{IntervalMs: 20}, Dependencies{
		Telemetry: src,
		Admission: adm,
		Engine:    testDecisionEngine(),
		History:   hist,
	})
	sup.runTick()

	if got := adm.QueueStats().Limit; got < 2 {
		t.Fatalf("Limit = %d, want >= 2 under sustained unmet demand", got)
	}
}
