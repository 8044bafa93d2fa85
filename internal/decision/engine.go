// Package decision implements the DecisionEngine: the ordered chain of
// emergency clamps, demand-driven rules, and a PID/Bayesian/trend model
// blend that produces a recommended concurrency limit each tick
// (spec.md §4.7).
package decision

import (
	"fmt"
	"math"
	"time"

	"github.com/threadctl/threadctl/internal/control/bayes"
	"github.com/threadctl/threadctl/internal/control/guardrails"
	"github.com/threadctl/threadctl/internal/control/loadpredict"
	"github.com/threadctl/threadctl/internal/control/perf"
	"github.com/threadctl/threadctl/internal/control/pid"
	"github.com/threadctl/threadctl/internal/control/reward"
	"github.com/threadctl/threadctl/internal/controllercfg"
	"github.com/threadctl/threadctl/internal/telemetry"
	"github.com/threadctl/threadctl/internal/trend"
)

const (
	thermalSamplesBound = 120
	mixHistoryBound      = 5
	demandHistoryBound   = 50
	loadHistoryBound     = 200

	consecutiveEmergencyResetWindow = 30 * time.Second
)

// Config bundles the engine's tunable thresholds, reusing controllercfg's
// already-validated types rather than redeclaring them.
type Config struct {
	MaxThreads      *int
	Emergency       controllercfg.EmergencyLimits
	High            controllercfg.HighThresholds
	PID             controllercfg.PIDKnobs
	ScaleCooldownMs float64
	// MinDataWindowMs bounds guardrails.validationWindowMs from above
	// (spec.md §4.7). The spec names "minDataWindow" without further
	// definition; this engine takes it to be the configured telemetry
	// retention window (maxHistoryAgeMinutes, in ms) — see DESIGN.md.
	MinDataWindowMs float64
}

// PendingValidation tracks an in-flight upward move awaiting enough
// samples at the new level to confirm it didn't regress (spec.md §3).
type PendingValidation struct {
	TargetThreads   int
	BaselineThreads int
	StartedAt       time.Time
	Guardrails      guardrails.Guardrails
}

// Recommendation is the engine's output for a single tick.
type Recommendation struct {
	Threads    int
	Reason     string
	Confidence float64
}

// RecordInput is what Engine.Record needs to update its internal windows.
// Supervisor calls Record once per tick, before Decide.
type RecordInput struct {
	Now            time.Time
	ThreadCount    int
	CPUUsage       float64
	CPUTemp        float64
	MemUsage       float64
	Throughput     telemetry.Optional[float64]
	LatencyMs      telemetry.Optional[float64]
	Backlog        float64
	OperationMix   trend.MixSnapshot
	QueuePressure  int
	ActiveThreads  int
	HasUnmetDemand bool
}

// DecideInput is what Engine.Decide needs to produce a recommendation.
type DecideInput struct {
	Now              time.Time
	CPUUsage         float64
	CPUTemp          float64
	MemUsage         float64
	GPUUsage         telemetry.Optional[float64]
	GPUTemp          telemetry.Optional[float64]
	QueuePressure    int
	ActiveThreads    int
	Backlog          float64
	Throughput       telemetry.Optional[float64]
	LatencyMs        telemetry.Optional[float64]
	CurrentIntensity float64
	Limit            int
	CPUUsageHistory  []float64// oldest-to-newest, for TrendAnalyzer
}

type demandSample struct {
	push  float64
	unmet bool
}

// Engine is the DecisionEngine. A single instance is owned and driven
// single-threaded by the Supervisor (spec.md §5): Record then Decide,
// once per tick, never concurrently.
type Engine struct {
	cfg Config

	perfByThread *perf.Store
	pidCtl       pid.Controller

	consecutiveEmergencies int
	stableSince            time.Time

	lastRecommended     int
	lastScalingDecision time.Time
	lastUtilization     float64
	pending             *PendingValidation

	thermalSamples      []guardrails.ThermalSample
	haveLastTick        bool
	lastTickAt          time.Time
	lastTickThreadCount int
	lastTickCPUTemp     float64

	observedMaxThreadCount int
	totalHistoryCount      int

	mixHistory    []trend.MixSnapshot
	demandHistory []demandSample
	loadHistory   []loadpredict.Point
}

// New constructs an Engine with the given configuration.
func New(cfg Config) *Engine {
	return &Engine{
		cfg:          cfg,
		perfByThread: perf.NewStore(),
		pidCtl: pid.Controller{
			Kp: cfg.PID.Kp, Ki: cfg.PID.Ki, Kd: cfg.PID.Kd, Setpoint: cfg.PID.Setpoint,
			OutputMin: 1, OutputMax: math.MaxInt32,
		},
		lastRecommended: 1,
	}
}

// Record folds one tick's measurements into the engine's internal
// windows: the per-thread-count performance store, the thermal-constant
// sample ring, the operation-mix history, the demand history, and the
// load-prediction history (spec.md §4.6, §4.7's guardrails derivation and
// predictLoadWithThreads).
func (e *Engine) Record(in RecordInput) {
	if tp, ok := in.Throughput.Get(); ok {
		if lm, ok2 := in.LatencyMs.Get(); ok2 {
			e.perfByThread.Record(in.ThreadCount, tp, lm, in.Backlog)
		}
	}
	e.totalHistoryCount++

	if e.haveLastTick {
		dt := in.Now.Sub(e.lastTickAt).Seconds()
		e.thermalSamples = append(e.thermalSamples, guardrails.ThermalSample{
			DtSeconds:     dt,
			ThreadCountUp: in.ThreadCount > e.lastTickThreadCount,
			CPUTempUp:     in.CPUTemp - e.lastTickCPUTemp,
		})
		if over := len(e.thermalSamples) - thermalSamplesBound; over > 0 {
			e.thermalSamples = e.thermalSamples[over:]
		}
	}
	e.lastTickAt = in.Now
	e.lastTickThreadCount = in.ThreadCount
	e.lastTickCPUTemp = in.CPUTemp
	e.haveLastTick = true

	if in.ThreadCount > e.observedMaxThreadCount {
		e.observedMaxThreadCount = in.ThreadCount
	}

	e.mixHistory = append(e.mixHistory, in.OperationMix)
	if over := len(e.mixHistory) - mixHistoryBound; over > 0 {
		e.mixHistory = e.mixHistory[over:]
	}

	e.demandHistory = append(e.demandHistory, demandSample{
		push:  float64(in.QueuePressure + in.ActiveThreads),
		unmet: in.HasUnmetDemand,
	})
	if over := len(e.demandHistory) - demandHistoryBound; over > 0 {
		e.demandHistory = e.demandHistory[over:]
	}

	e.loadHistory = append(e.loadHistory, loadpredict.Point{
		ThreadCount: in.ThreadCount,
		CPUUsage:    in.CPUUsage,
		CPUTemp:     in.CPUTemp,
		MemUsage:    in.MemUsage,
		Stable:      !in.HasUnmetDemand,
	})
	if over := len(e.loadHistory) - loadHistoryBound; over > 0 {
		e.loadHistory = e.loadHistory[over:]
	}

	e.perfByThread.UpdateOptimal(e.totalHistoryCount)
}

// Pending returns a copy of the live PendingValidation, if any.
func (e *Engine) Pending() *PendingValidation {
	if e.pending == nil {
		return nil
	}
	p := *e.pending
	return &p
}

// LastRecommended returns the engine's last returned recommendation.
func (e *Engine) LastRecommended() int { return e.lastRecommended }

// Decide runs the §4.7 step chain and returns a recommendation. Must be
// called after Record for the same tick.
func (e *Engine) Decide(in DecideInput) Recommendation {
	now := in.Now

	isEmergency := in.CPUTemp >= e.cfg.Emergency.CPUTemp ||
		in.CPUUsage >= e.cfg.Emergency.CPUUsage ||
		in.MemUsage >= e.cfg.Emergency.MemoryUsage ||
		optionalAtLeast(in.GPUUsage, e.cfg.Emergency.GPUUsage) ||
		optionalAtLeast(in.GPUTemp, e.cfg.Emergency.GPUTemp)

	isNearEmergency := !isEmergency && (
		in.CPUTemp >= e.cfg.High.CPUTemp ||
			in.CPUUsage >= e.cfg.High.CPUUsage ||
			in.MemUsage >= e.cfg.High.MemoryUsage ||
			optionalAtLeast(in.GPUUsage, e.cfg.High.GPUUsage) ||
			optionalAtLeast(in.GPUTemp, e.cfg.High.GPUTemp))

	// Step 1: hard emergency clamp.
	if isEmergency {
		return e.finish(1, "hard_emergency_clamp", 1.0, nil, now, in.Backlog)
	}

	// Step 2: near-emergency adaptation. Step 1 already returned for
	// isEmergency, so only isNearEmergency ever reaches here; the counter
	// and its threshold are both near-emergency-only.
	if isNearEmergency {
		e.consecutiveEmergencies++
		e.stableSince = time.Time{}
	} else {
		if e.stableSince.IsZero() {
			e.stableSince = now
		}
		if now.Sub(e.stableSince) >= consecutiveEmergencyResetWindow {
			e.consecutiveEmergencies = 0
		}
	}
	if isNearEmergency && e.consecutiveEmergencies > 10 {
		return e.finish(1, "emergency_override", 0.95, nil, now, in.Backlog)
	}

	// Step 3: scale-up validation rollback.
	if e.pending != nil && e.perfByThread.SampleCount(e.pending.TargetThreads) >= e.pending.Guardrails.SamplesRequired {
		targetAvg := e.perfByThread.AvgCumulativeTime(e.pending.TargetThreads)
		baselineAvg := e.perfByThread.AvgCumulativeTime(e.pending.BaselineThreads)
		tolerance := e.pending.Guardrails.DegradationTolerance
		if baselineAvg > 0 && targetAvg > baselineAvg*(1+tolerance) {
			rollbackTo := e.pending.BaselineThreads
			reason := fmt.Sprintf("validation_regression_target_%d", e.pending.TargetThreads)
			e.pending = nil
			return e.finish(rollbackTo, reason, 0.85, nil, now, in.Backlog)
		}
		e.pending = nil
	}

	limit := in.Limit
	if limit < 1 {
		limit = 1
	}
	utilization := float64(in.ActiveThreads) / math.Max(float64(limit), 1)
	e.lastUtilization = utilization
	hasUnmetDemand := in.Backlog >= float64(limit) || (in.QueuePressure > 0 && in.ActiveThreads >= limit)

	ceiling := e.explorationCeiling()
	adjustedMax := adjustedCeiling(ceiling, in.CurrentIntensity)

	// Step 4: demand-driven decision.
	if hasUnmetDemand || utilization > 0.8 {
		if limit < adjustedMax {
			g, ok, blockReason := e.canScaleUpGradually(now, limit, limit+1)
			if ok {
				return e.finish(limit+1, "demand_driven_scale_up", 0.75, &g, now, in.Backlog)
			}
			return e.finish(limit, blockReason, 0.5, nil, now, in.Backlog)
		}
		return e.finish(limit, "at_exploration_ceiling", 0.5, nil, now, in.Backlog)
	}
	if utilization < downThreshold(in.CurrentIntensity) && in.QueuePressure == 0 && !e.hasRecentHighDemand() && limit > 1 {
		return e.finish(limit-1, "demand_driven_scale_down", 0.7, nil, now, in.Backlog)
	}

	// Step 5: model blend.
	pidCtl := e.pidCtl
	pidCtl.OutputMin = 1
	pidCtl.OutputMax = adjustedMax
	pidTarget := pidCtl.Update(in.CPUUsage, now.UnixMilli())
	e.pidCtl = pidCtl

	searchMin := int(math.Max(1, float64(pidTarget-1)))
	searchMax := int(math.Max(float64(pidTarget), float64(adjustedMax)))
	if searchMax < searchMin {
		searchMax = searchMin
	}
	bayesResult := bayes.Search(searchMin, searchMax, func(threads int) float64 {
		return e.evaluateCandidate(threads, limit, in)
	})
	bayesThreads := bayes.RoundClamp(float64(bayesResult.Threads), searchMin, searchMax)

	trendThreads := e.trendThreads(in, adjustedMax)

	proposed := int(math.Round(0.2*float64(trendThreads) + 0.5*float64(bayesThreads) + 0.3*float64(pidTarget)))
	if proposed > e.lastRecommended {
		proposed = e.lastRecommended + 1
	}

	// Step 6: scale-up gating.
	if proposed > e.lastRecommended {
		g, ok, blockReason := e.canScaleUpGradually(now, e.lastRecommended, proposed)
		if !ok {
			return e.finish(e.lastRecommended, blockReason, 0.5, nil, now, in.Backlog)
		}
		return e.finish(proposed, "model_blend_scale_up", 0.6, &g, now, in.Backlog)
	}
	reason := "model_blend_maintain"
	if proposed < e.lastRecommended {
		reason = "model_blend_scale_down"
	}
	return e.finish(proposed, reason, 0.55, nil, now, in.Backlog)
}

// finish applies step 7 (demand cap) and step 8 (record and return): it
// clamps to [1, max(backlog,1)], updates lastScalingDecision when the
// output changes, opens a PendingValidation on upward moves, and records
// the new lastRecommended.
func (e *Engine) finish(threads int, reason string, confidence float64, g *guardrails.Guardrails, now time.Time, backlog float64) Recommendation {
	demandCap := int(math.Max(backlog, 1))
	if threads > demandCap {
		threads = demandCap
	}
	if threads < 1 {
		threads = 1
	}

	if threads != e.lastRecommended {
		e.lastScalingDecision = now
	}
	if threads > e.lastRecommended && g != nil {
		e.pending = &PendingValidation{
			TargetThreads:   threads,
			BaselineThreads: e.lastRecommended,
			StartedAt:       now,
			Guardrails:      *g,
		}
	}
	e.lastRecommended = threads
	return Recommendation{Threads: threads, Reason: reason, Confidence: confidence}
}

// canScaleUpGradually implements spec.md §4.7 step 6's gate: no live
// PendingValidation, no historical regression beyond guardrails'
// degradation tolerance, and the cooldown/validation window has elapsed.
func (e *Engine) canScaleUpGradually(now time.Time, prev, next int) (guardrails.Guardrails, bool, string) {
	if e.pending != nil {
		return guardrails.Guardrails{}, false, "awaiting_scale_up_validation_window"
	}

	prevStats := e.perfByThread.LevelStats(prev, e.lastUtilization)
	nextStats := e.perfByThread.LevelStats(next, e.lastUtilization)
	g := guardrails.Derive(guardrails.Inputs{
		Prev: prev, Next: next,
		PrevStats: prevStats, NextStats: nextStats,
		TotalHistory:    e.totalHistoryCount,
		ThermalSamples:  e.thermalSamples,
		ScaleCooldownMs: e.cfg.ScaleCooldownMs,
		MinDataWindowMs: e.cfg.MinDataWindowMs,
	})

	if prevStats.Samples > 0 && nextStats.Samples > 0 {
		if nextStats.AvgCumulativeTime > prevStats.AvgCumulativeTime*(1+g.DegradationTolerance) {
			return g, false, "historical_block_scale_up"
		}
	}

	required := time.Duration(math.Max(g.ValidationWindowMs, e.cfg.ScaleCooldownMs)) * time.Millisecond
	if !e.lastScalingDecision.IsZero() && now.Sub(e.lastScalingDecision) < required {
		return g, false, "historical_block_scale_up"
	}

	return g, true, ""
}

func (e *Engine) explorationCeiling() int {
	if e.cfg.MaxThreads != nil {
		return *e.cfg.MaxThreads
	}

	historyMax := float64(e.observedMaxThreadCount)
	if float64(e.lastRecommended) > historyMax {
		historyMax = float64(e.lastRecommended)
	}

	var optimalBias float64
	if e.perfByThread.HasOptimal() {
		optimalBias = float64(e.perfByThread.OptimalCeiling())
	}

	demandPush := e.maxRecentDemandPush()

	raw := math.Max(historyMax*2, optimalBias)
	raw = math.Max(raw, demandPush+historyMax+1)
	return int(math.Max(4, math.Ceil(raw)))
}

func adjustedCeiling(ceiling int, intensity float64) int {
	factor := clampFloat(1-0.3*intensity, 0.5, 1.5)
	v := int(math.Floor(float64(ceiling) * factor))
	if v < 1 {
		v = 1
	}
	return v
}

func (e *Engine) maxRecentDemandPush() float64 {
	var m float64
	for _, d := range e.demandHistory {
		if d.push > m {
			m = d.push
		}
	}
	return m
}

func (e *Engine) hasRecentHighDemand() bool {
	n := len(e.demandHistory)
	start := 0
	if n > 10 {
		start = n - 10
	}
	for _, d := range e.demandHistory[start:] {
		if d.unmet {
			return true
		}
	}
	return false
}

func (e *Engine) trendThreads(in DecideInput, adjustedMax int) int {
	rate := trend.RateOfChange(in.CPUUsageHistory)
	predictedSeconds := math.Inf(1)
	if secs, ok := trend.PredictTimeToThreshold(in.CPUUsage, rate, e.cfg.High.CPUUsage); ok {
		predictedSeconds = secs
	}

	rec := trend.Recommend(trend.Input{
		SampleCount:      len(in.CPUUsageHistory),
		CurrentCPUUsage:  in.CPUUsage,
		CurrentCPUTemp:   in.CPUTemp,
		CPUSlope:         trend.Slope(in.CPUUsageHistory),
		PredictedSeconds: predictedSeconds,
	}, trend.Thresholds{HighCPUUsage: e.cfg.High.CPUUsage, HighTemp: e.cfg.High.CPUTemp})

	threads := e.lastRecommended
	switch rec.Action {
	case trend.ActionScaleUp:
		threads++
	case trend.ActionScaleDown:
		threads--
	}

	if diffs := trend.OperationMixDiff(e.mixHistory); len(diffs) > 0 {
		last := diffs[len(diffs)-1]
		switch {
		case last.IntensityChange > 0:
			threads--
		case last.IntensityChange < 0:
			threads++
		}
	}

	return clampInt(threads, 1, adjustedMax)
}

func (e *Engine) evaluateCandidate(threads, limit int, in DecideInput) float64 {
	cur := loadpredict.Current{ThreadCount: limit, CPUUsage: in.CPUUsage, CPUTemp: in.CPUTemp, MemUsage: in.MemUsage}
	prediction := loadpredict.Predict(e.loadHistory, cur, threads)

	latencyMs := in.LatencyMs.OrElse(0)
	latencySec := math.Max(latencyMs, 1) / 1000.0

	var effThroughput float64
	if tp, ok := in.Throughput.Get(); ok && tp > 0 {
		base := e.lastRecommended
		if base < 1 {
			base = 1
		}
		effThroughput = tp * (float64(threads) / float64(base))
	} else {
		effThroughput = float64(threads) / latencySec
	}

	gpuUsage, _ := in.GPUUsage.Get()
	gpuTemp, _ := in.GPUTemp.Get()

	return reward.Calculate(reward.Metrics{
		Throughput:        effThroughput,
		LatencyMs:         latencyMs,
		Backlog:           in.Backlog,
		PredictedCPU:      prediction.CPUUsage,
		PredictedTemp:     prediction.CPUTemp,
		PredictedGPUUsage: gpuUsage,
		PredictedGPUTemp:  gpuTemp,
	}, reward.Limits{
		HighCPU: e.cfg.High.CPUUsage, EmergencyCPU: e.cfg.Emergency.CPUUsage,
		HighTemp: e.cfg.High.CPUTemp, EmergencyTemp: e.cfg.Emergency.CPUTemp,
		HighGPUUsage: e.cfg.High.GPUUsage, EmergencyGPU: e.cfg.Emergency.GPUUsage,
		HighGPUTemp: e.cfg.High.GPUTemp, EmergencyGPUTemp: e.cfg.Emergency.GPUTemp,
	})
}

func downThreshold(intensity float64) float64 {
	if intensity > 0.7 {
		return 0.4
	}
	return 0.3
}

func optionalAtLeast(o telemetry.Optional[float64], limit float64) bool {
	v, ok := o.Get()
	return ok && v >= limit
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
