// Package supervisor drives the periodic control loop: sample telemetry,
// feed the HistoryStore, ask the DecisionEngine for a recommendation, and
// push the result into the AdmissionManager (spec.md §4.9).
package supervisor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/threadctl/threadctl/internal/admission"
	"github.com/threadctl/threadctl/internal/decision"
	"github.com/threadctl/threadctl/internal/history"
	"github.com/threadctl/threadctl/internal/log"
	"github.com/threadctl/threadctl/internal/metrics"
	"github.com/threadctl/threadctl/internal/store"
	"github.com/threadctl/threadctl/internal/telemetry"
	"github.com/threadctl/threadctl/internal/trend"
)

// defaultIntervalMs is spec.md §4.9's documented tick period.
const defaultIntervalMs = 1000

// defaultMaxHistoryAgeMinutes mirrors controllercfg.Default()'s retention
// window, used to prune the durable store when the caller doesn't set one.
const defaultMaxHistoryAgeMinutes = 5

// pruneIntervalTicks bounds how often PruneOlderThan runs: once per this
// many ticks (60 ticks * the default 1s interval = once a minute), not
// every tick, since usage_history/scaling_history deletes are the one
// store call whose cost scales with table size rather than a single row.
const pruneIntervalTicks = 60

// cpuHistoryWindowSec bounds how far back into the telemetry ring the
// trend analyzer's CPU-usage series reaches each tick.
const cpuHistoryWindowSec = 120

// ErrTelemetryUnavailable marks a tick where the configured Source
// panicked instead of returning an absent-field Sample as its contract
// requires (spec.md §4.1, §7).
var ErrTelemetryUnavailable = errors.New("supervisor: telemetry source unavailable")

// ErrInvalidRecommendation marks a tick where the DecisionEngine produced
// a non-finite or non-positive recommendation, triggering the
// fallback_safety substitution (spec.md §4.9 step 4, §7).
var ErrInvalidRecommendation = errors.New("supervisor: invalid recommendation")

// Config configures the tick loop.
type Config struct {
	IntervalMs int // default 1000
	// MaxHistoryAgeMinutes bounds the durable store's retention window;
	// rows older than this are deleted every pruneIntervalTicks (spec.md
	// §6: "retention is enforced by age-based deletion"). Default 5,
	// mirroring controllercfg.Default().
	MaxHistoryAgeMinutes int
}

// decisionEngine is the slice of *decision.Engine the Supervisor drives.
// Declared here (consumer side) rather than accepting the concrete type
// so tests can substitute an engine that returns an invalid recommendation
// without fighting decision.Engine's own [1, demandCap] clamp.
type decisionEngine interface {
	Record(decision.RecordInput)
	Decide(decision.DecideInput) decision.Recommendation
}

// Dependencies are the collaborators a Supervisor drives each tick. All
// fields are required except Store and RichSink.
type Dependencies struct {
	Telemetry telemetry.Source
	Admission *admission.Manager
	Engine    decisionEngine
	History   *history.Store
	// Store, when non-nil, receives the usage_history and
	// operation_profiles writes and the age-based retention prune spec.md
	// §6 requires, in addition to the scaling_history write that also goes
	// through History.PersistScaling. Nil runs with the in-memory
	// history.Store only, same as before this field existed.
	Store store.Store
	// RichSink, when non-nil, receives full scaling_history fidelity
	// (pid/bayes/demand scores) in addition to history.Store's narrower
	// ScalingDecision (spec.md §6). Supervisor type-asserts the configured
	// store.Store for this at construction time if one isn't supplied
	// directly.
	RichSink store.RichScalingSink
}

// Supervisor owns the single-flight ticker described in spec.md §4.9. A
// zero Supervisor is not usable; construct with New.
type Supervisor struct {
	cfg  Config
	deps Dependencies

	logger zerolog.Logger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	inFlight atomic.Bool

	lastProfileScanAt time.Time
	ticksSincePrune   int
}

// New constructs a Supervisor. It does not start the tick loop.
func New(cfg Config, deps Dependencies) *Supervisor {
	if cfg.IntervalMs <= 0 {
		cfg.IntervalMs = defaultIntervalMs
	}
	if cfg.MaxHistoryAgeMinutes <= 0 {
		cfg.MaxHistoryAgeMinutes = defaultMaxHistoryAgeMinutes
	}
	if deps.RichSink == nil {
		if rs, ok := deps.Store.(store.RichScalingSink); ok {
			deps.RichSink = rs
		}
	}
	return &Supervisor{
		cfg:    cfg,
		deps:   deps,
		logger: log.WithComponent("supervisor"),
	}
}

// Start begins the tick loop in a background goroutine. Idempotent: a
// second call while already running is a no-op.
func (s *Supervisor) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.running = true
	s.wg.Add(1)
	go s.loop(ctx)
	s.logger.Info().Int("interval_ms", s.cfg.IntervalMs).Msg("supervisor started")
}

// Stop cancels the tick loop and waits for any in-flight tick to finish.
// Idempotent: stopping a Supervisor that isn't running is a no-op.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	cancel := s.cancel
	s.running = false
	s.mu.Unlock()

	cancel()
	s.wg.Wait()
	s.logger.Info().Msg("supervisor stopped")
}

func (s *Supervisor) loop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(time.Duration(s.cfg.IntervalMs) * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick()
		}
	}
}

// tick runs one iteration of spec.md §4.9's steps 1-5. It never panics out
// of the loop: a recover() guard logs and drops the tick instead (spec.md
// §2.2, §7's "control loop MUST NOT die").
func (s *Supervisor) tick() {
	if !s.inFlight.CompareAndSwap(false, true) {
		return // previous tick still running: single-flight (step 1)
	}
	defer s.inFlight.Store(false)

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().Interface("panic", r).Msg("supervisor tick recovered from panic")
		}
	}()

	s.runTick()
}

func (s *Supervisor) runTick() {
	now := time.Now()

	sample := s.sampleTelemetry(now)

	qs := s.deps.Admission.QueueStats()
	backlog := qs.QueueLength + qs.ActiveRequests
	utilization := float64(qs.ActiveRequests) / math.Max(float64(qs.Limit), 1)
	hasUnmetDemand := backlog >= qs.Limit || (qs.QueueLength > 0 && qs.ActiveRequests >= qs.Limit)

	mix := trend.MixSnapshot(s.deps.Admission.OperationMixSnapshot())
	var intensity float64
	for _, v := range mix {
		intensity += v
	}

	var throughput, latencyMs telemetry.Optional[float64]
	if tp, lat, ok := s.deps.Admission.RecentPerformance(time.Duration(s.cfg.IntervalMs) * time.Millisecond); ok {
		throughput, latencyMs = telemetry.Some(tp), telemetry.Some(lat)
	}

	s.deps.History.Append(sample)
	s.deps.History.AppendPerf(history.PerfPoint{
		Sample:        sample,
		ThreadCount:   qs.Limit,
		ActiveThreads: qs.ActiveRequests,
		QueuePressure: qs.QueueLength,
		Backlog:       backlog,
		Utilization:   utilization,
		Throughput:    throughput,
		AvgLatencyMs:  latencyMs,
		OperationMix:  mix,
		Intensity:     intensity,
	})
	s.deps.History.AppendDemand(history.DemandPoint{
		Timestamp:      now,
		QueuePressure:  qs.QueueLength,
		ActiveThreads:  qs.ActiveRequests,
		Utilization:    utilization,
		HasUnmetDemand: hasUnmetDemand,
		Backlog:        backlog,
	})

	cpuUsage := sample.CPUUsage.OrElse(0)
	cpuTemp := sample.CPUTemp.OrElse(0)
	memUsage := sample.MemUsage.OrElse(0)

	s.deps.Engine.Record(decision.RecordInput{
		Now:            now,
		ThreadCount:    qs.Limit,
		CPUUsage:       cpuUsage,
		CPUTemp:        cpuTemp,
		MemUsage:       memUsage,
		Throughput:     throughput,
		LatencyMs:      latencyMs,
		Backlog:        float64(backlog),
		OperationMix:   mix,
		QueuePressure:  qs.QueueLength,
		ActiveThreads:  qs.ActiveRequests,
		HasUnmetDemand: hasUnmetDemand,
	})

	rec := s.deps.Engine.Decide(decision.DecideInput{
		Now:              now,
		CPUUsage:         cpuUsage,
		CPUTemp:          cpuTemp,
		MemUsage:         memUsage,
		GPUUsage:         sample.GPUUsage,
		GPUTemp:          sample.GPUTemp,
		QueuePressure:    qs.QueueLength,
		ActiveThreads:    qs.ActiveRequests,
		Backlog:          float64(backlog),
		Throughput:       throughput,
		LatencyMs:        latencyMs,
		CurrentIntensity: intensity,
		Limit:            qs.Limit,
		CPUUsageHistory:  s.recentCPUUsage(),
	})

	if !validRecommendation(rec.Threads) {
		err := fmt.Errorf("%w: threads=%d reason=%s", ErrInvalidRecommendation, rec.Threads, rec.Reason)
		s.logger.Warn().Err(err).Msg("substituting fallback_safety recommendation")
		rec = decision.Recommendation{Threads: 1, Reason: "fallback_safety", Confidence: 0.5}
	}

	old := qs.Limit
	if rec.Threads != old {
		s.deps.Admission.UpdateLimit(rec.Threads)
	}

	metrics.RecommendedThreads.Set(float64(rec.Threads))
	metrics.ScalingDecisionsTotal.WithLabelValues(rec.Reason).Inc()

	if err := s.deps.History.PersistScaling(history.ScalingDecision{
		Timestamp:          now,
		RecommendedThreads: rec.Threads,
		PreviousThreads:    old,
		Reason:             rec.Reason,
		Confidence:         rec.Confidence,
	}); err != nil {
		s.logger.Warn().Err(fmt.Errorf("%w: %v", store.ErrPersistenceUnavailable, err)).Msg("scaling decision persisted to in-memory fallback only")
	}

	if s.deps.RichSink != nil {
		if err := s.deps.RichSink.PersistScalingRow(store.ScalingRow{
			Timestamp:        now,
			ThreadCount:      rec.Threads,
			CPUUsage:         cpuUsage,
			GPUUsage:         sample.GPUUsage.OrElse(0),
			MemoryUsage:      memUsage,
			Temperature:      cpuTemp,
			ActiveOperations: qs.ActiveRequests,
			QueueLength:      qs.QueueLength,
			ScalingDecision:  rec.Reason,
		}); err != nil {
			s.logger.Warn().Err(err).Msg("rich scaling row persistence failed")
		}
	}

	s.persistUsageAndProfiles(now, sample, qs, mix, intensity, cpuUsage, cpuTemp, memUsage)
}

// persistUsageAndProfiles writes this tick's usage_history row, upserts
// the operation_profiles row for every request that completed since the
// last tick, and prunes aged-out rows every pruneIntervalTicks (spec.md
// §6). A nil Store leaves the controller running on History alone, same
// as before usage/profile persistence existed.
func (s *Supervisor) persistUsageAndProfiles(now time.Time, sample telemetry.Sample, qs admission.QueueStats, mix trend.MixSnapshot, intensity, cpuUsage, cpuTemp, memUsage float64) {
	if s.deps.Store == nil {
		return
	}

	mixJSON, err := json.Marshal(mix)
	if err != nil {
		s.logger.Warn().Err(err).Msg("operation mix marshal failed, usage row persisted without it")
		mixJSON = []byte("{}")
	}
	if err := s.deps.Store.PersistUsage(store.UsageRow{
		Timestamp:          now,
		CPUUsage:           sample.CPUUsage,
		CPUTemp:            sample.CPUTemp,
		MemoryUsage:        sample.MemUsage,
		GPUUsage:           sample.GPUUsage,
		GPUTemp:            sample.GPUTemp,
		ConcurrentThreads:  qs.Limit,
		ActiveThreads:      qs.ActiveRequests,
		QueuePressure:      qs.QueueLength,
		OperationMix:       string(mixJSON),
		OperationIntensity: intensity,
	}); err != nil {
		s.logger.Warn().Err(fmt.Errorf("%w: %v", store.ErrPersistenceUnavailable, err)).Msg("usage row persistence failed")
	}

	for _, c := range s.deps.Admission.CompletedSince(s.lastProfileScanAt) {
		if err := s.deps.Store.UpsertOperationProfile(c.OperationType, cpuUsage, sample.GPUUsage.OrElse(0), memUsage, cpuTemp, c.DurationMs); err != nil {
			s.logger.Warn().Err(fmt.Errorf("%w: %v", store.ErrPersistenceUnavailable, err)).Msg("operation profile persistence failed")
		}
	}
	s.lastProfileScanAt = now

	s.ticksSincePrune++
	if s.ticksSincePrune >= pruneIntervalTicks {
		s.ticksSincePrune = 0
		cutoff := now.Add(-time.Duration(s.cfg.MaxHistoryAgeMinutes) * time.Minute)
		if err := s.deps.Store.PruneOlderThan(cutoff); err != nil {
			s.logger.Warn().Err(fmt.Errorf("%w: %v", store.ErrPersistenceUnavailable, err)).Msg("usage/scaling history prune failed")
		}
	}
}

// sampleTelemetry calls the configured Source, converting a panic into an
// absent-everything Sample rather than letting it escape the tick
// (spec.md §4.1's "must never throw" contract applies to third-party
// Source implementations too, which this controller does not control).
func (s *Supervisor) sampleTelemetry(now time.Time) (sample telemetry.Sample) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().Interface("panic", r).Err(ErrTelemetryUnavailable).Msg("telemetry source panicked")
			sample = telemetry.Sample{Timestamp: now}
		}
	}()
	return s.deps.Telemetry.Sample()
}

// recentCPUUsage extracts the present CPU-usage readings from the last
// cpuHistoryWindowSec seconds of telemetry, oldest first, for
// decision.DecideInput.CPUUsageHistory.
func (s *Supervisor) recentCPUUsage() []float64 {
	recent := s.deps.History.Recent(cpuHistoryWindowSec)
	out := make([]float64, 0, len(recent))
	for _, t := range recent {
		if v, ok := t.CPUUsage.Get(); ok {
			out = append(out, v)
		}
	}
	return out
}

func validRecommendation(threads int) bool {
	return threads >= 1
}
