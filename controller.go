// Package threadctl is the public entry point of the adaptive concurrency
// controller: it wires telemetry sampling, history tracking, the decision
// engine, and the admission gate behind the single `Controller` type
// described in spec.md §6.
package threadctl

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/threadctl/threadctl/internal/admission"
	"github.com/threadctl/threadctl/internal/controllercfg"
	"github.com/threadctl/threadctl/internal/decision"
	"github.com/threadctl/threadctl/internal/history"
	"github.com/threadctl/threadctl/internal/log"
	"github.com/threadctl/threadctl/internal/store"
	"github.com/threadctl/threadctl/internal/supervisor"
	"github.com/threadctl/threadctl/internal/telemetry"
	"github.com/threadctl/threadctl/internal/trend"

	"github.com/rs/zerolog"
)

// Options configures a Controller (spec.md §6's `new Controller(options)`).
// All fields are optional; zero values are replaced by controllercfg's
// documented defaults in resolved.
type Options struct {
	MaxThreads *int // nil = autotune, no hard cap

	MonitoringIntervalMs int

	MaxHistoryAgeMinutes int
	MaxDataPoints        int
	MaxHistorySize       int

	EmergencyAbsoluteLimits controllercfg.EmergencyLimits
	HighThresholds          controllercfg.HighThresholds
	PID                     controllercfg.PIDKnobs

	ScaleCooldownMs              int
	ScalingHistoryRetentionHours float64

	// Persistence selects an optional durable scaling/usage store. The
	// zero value ("") keeps everything in memory.
	Persistence controllercfg.PersistenceConfig

	// Telemetry overrides the telemetry.Source the Supervisor samples.
	// nil selects a real host sensor reader (telemetry.NewHostSource).
	Telemetry telemetry.Source

	// OnScalingUpdate is invoked whenever the admission limit actually
	// changes, excluding transient emergency-bypass raises (spec.md §4.8,
	// §4.9).
	OnScalingUpdate func(newLimit, oldLimit int)
}

// resolved merges Options on top of controllercfg.Default() and validates
// the result, reusing the same rules a YAML-loaded config must pass.
func (o Options) resolved() (controllercfg.Config, error) {
	cfg := controllercfg.Default()

	if o.MaxThreads != nil {
		cfg.MaxThreads = o.MaxThreads
	}
	if o.MonitoringIntervalMs > 0 {
		cfg.MonitoringIntervalMs = o.MonitoringIntervalMs
	}
	if o.MaxHistoryAgeMinutes > 0 {
		cfg.MaxHistoryAgeMinutes = o.MaxHistoryAgeMinutes
	}
	if o.MaxDataPoints > 0 {
		cfg.MaxDataPoints = o.MaxDataPoints
	}
	if o.MaxHistorySize > 0 {
		cfg.MaxHistorySize = o.MaxHistorySize
	}
	if o.EmergencyAbsoluteLimits != (controllercfg.EmergencyLimits{}) {
		cfg.EmergencyAbsoluteLimits = o.EmergencyAbsoluteLimits
	}
	if o.HighThresholds != (controllercfg.HighThresholds{}) {
		cfg.HighThresholds = o.HighThresholds
	}
	if o.PID != (controllercfg.PIDKnobs{}) {
		cfg.PID = o.PID
	}
	if o.ScaleCooldownMs > 0 {
		cfg.ScaleCooldownMs = o.ScaleCooldownMs
	}
	if o.ScalingHistoryRetentionHours > 0 {
		cfg.ScalingHistoryRetentionHours = o.ScalingHistoryRetentionHours
	}
	if o.Persistence.Backend != "" {
		cfg.Persistence = o.Persistence
	}

	if err := controllercfg.Validate(cfg); err != nil {
		return controllercfg.Config{}, err
	}
	return cfg, nil
}

// State is the snapshot returned by Controller.State (spec.md §6's
// `state() → {admission, scaling, queueStats}`).
type State struct {
	Admission  []admission.Snapshot
	Scaling    []history.ScalingDecision
	QueueStats admission.QueueStats
}

// Trends is the snapshot returned by Controller.UsageTrends: the coarse
// directional recommendation plus the raw slope/rate it was derived from.
type Trends struct {
	trend.Recommendation
	CPUSlope        float64
	CPURateOfChange float64
}

// trendWindowSec bounds how far back into the telemetry ring UsageTrends
// looks for its CPU-usage series.
const trendWindowSec = 120

// Controller is the adaptive concurrency controller's public façade
// (spec.md §6). A zero Controller is not usable; construct with New.
type Controller struct {
	cfg     controllercfg.Config
	logger  zerolog.Logger
	durable store.Store // nil only when the configured backend failed to open

	admission  *admission.Manager
	history    *history.Store
	engine     *decision.Engine
	telemetry  telemetry.Source
	supervisor *supervisor.Supervisor

	initialized bool
}

// New validates opts and wires a Controller's collaborators. It does not
// start the Supervisor; call Initialize for that (spec.md §6).
func New(opts Options) (*Controller, error) {
	cfg, err := opts.resolved()
	if err != nil {
		return nil, fmt.Errorf("threadctl: %w", err)
	}

	logger := log.WithComponent("controller")

	durable, err := store.Open(store.Config{Backend: cfg.Persistence.Backend, Path: cfg.Persistence.Path})
	if err != nil {
		logger.Warn().Err(err).Msg("durable store unavailable, falling back to in-memory history")
		durable = nil
	}

	var sink history.ScalingSink
	if durable != nil {
		sink = durable
	}

	hist := history.New(history.Config{
		MaxHistoryAge:           time.Duration(cfg.MaxHistoryAgeMinutes) * time.Minute,
		MaxDataPoints:           cfg.MaxDataPoints,
		ScalingHistoryRetention: time.Duration(cfg.ScalingHistoryRetentionHours * float64(time.Hour)),
	}, sink)

	initialLimit := 1
	if cfg.MaxThreads != nil && *cfg.MaxThreads < initialLimit {
		initialLimit = *cfg.MaxThreads
	}
	adm := admission.New(admission.Config{
		InitialLimit:    initialLimit,
		MaxHistorySize:  cfg.MaxHistorySize,
		OnScalingUpdate: opts.OnScalingUpdate,
	})

	engine := decision.New(decision.Config{
		MaxThreads:      cfg.MaxThreads,
		Emergency:       cfg.EmergencyAbsoluteLimits,
		High:            cfg.HighThresholds,
		PID:             cfg.PID,
		ScaleCooldownMs: float64(cfg.ScaleCooldownMs),
		MinDataWindowMs: float64(cfg.MaxHistoryAgeMinutes) * 60000,
	})

	src := opts.Telemetry
	if src == nil {
		src = telemetry.NewHostSource()
	}

	var richSink store.RichScalingSink
	if rs, ok := durable.(store.RichScalingSink); ok {
		richSink = rs
	}

	sup := supervisor.New(supervisor.Config{
		IntervalMs:           cfg.MonitoringIntervalMs,
		MaxHistoryAgeMinutes: cfg.MaxHistoryAgeMinutes,
	}, supervisor.Dependencies{
		Telemetry: src,
		Admission: adm,
		Engine:    engine,
		History:   hist,
		Store:     durable,
		RichSink:  richSink,
	})

	return &Controller{
		cfg:        cfg,
		logger:     logger,
		durable:    durable,
		admission:  adm,
		history:    hist,
		engine:     engine,
		telemetry:  src,
		supervisor: sup,
	}, nil
}

// Initialize starts the Supervisor's tick loop. Idempotent.
func (c *Controller) Initialize() error {
	if c.initialized {
		return nil
	}
	c.supervisor.Start()
	c.initialized = true
	c.logger.Info().Msg("controller initialized")
	return nil
}

// Shutdown stops the Supervisor, closes the admission manager to new
// submissions (in-flight requests are not waited for), and closes the
// durable store if one is open. Idempotent.
func (c *Controller) Shutdown() error {
	if !c.initialized {
		return nil
	}
	c.supervisor.Stop()
	c.admission.Shutdown()
	c.initialized = false
	if c.durable != nil {
		if err := c.durable.Close(); err != nil {
			c.logger.Warn().Err(err).Msg("durable store close failed")
			return err
		}
	}
	c.logger.Info().Msg("controller shut down")
	return nil
}

// Execute submits a typed operation through the admission gate (spec.md
// §6's `C.execute(op, opts) → Future<T>`).
func Execute[T any](c *Controller, op func(ctx context.Context) (T, error), opts admission.SubmitOptions) (admission.TypedFuture[T], error) {
	return admission.Submit(c.admission, op, opts)
}

// State returns a snapshot of the admission queue, recent in-memory
// scaling decisions, and the current queue stats (spec.md §6).
func (c *Controller) State() State {
	return State{
		Admission:  c.admission.State(),
		Scaling:    c.history.RecentScalingDecisions(),
		QueueStats: c.admission.QueueStats(),
	}
}

// UsageHistory returns every retained telemetry sample, oldest first.
func (c *Controller) UsageHistory() []telemetry.Sample {
	return c.history.All()
}

// UsageStatistics returns the telemetry ring's aggregate statistics.
func (c *Controller) UsageStatistics() history.Stats {
	return c.history.Stats()
}

// UsageTrends derives the coarse directional recommendation spec.md §4.3
// defines, using the CPU-usage series over the last trendWindowSec seconds.
func (c *Controller) UsageTrends() Trends {
	recent := c.history.Recent(trendWindowSec)
	values := make([]float64, 0, len(recent))
	for _, s := range recent {
		if v, ok := s.CPUUsage.Get(); ok {
			values = append(values, v)
		}
	}

	var current, predicted float64
	predicted = math.Inf(1)
	if len(values) > 0 {
		current = values[len(values)-1]
	}
	slope := trend.Slope(values)
	rate := trend.RateOfChange(values)
	if secs, ok := trend.PredictTimeToThreshold(current, rate, c.cfg.HighThresholds.CPUUsage); ok {
		predicted = secs
	}

	var currentTemp float64
	if len(recent) > 0 {
		currentTemp = recent[len(recent)-1].CPUTemp.OrElse(0)
	}

	rec := trend.Recommend(trend.Input{
		SampleCount:      len(values),
		CurrentCPUUsage:  current,
		CurrentCPUTemp:   currentTemp,
		CPUSlope:         slope,
		PredictedSeconds: predicted,
	}, trend.Thresholds{
		HighCPUUsage: c.cfg.HighThresholds.CPUUsage,
		HighTemp:     c.cfg.HighThresholds.CPUTemp,
	})

	return Trends{Recommendation: rec, CPUSlope: slope, CPURateOfChange: rate}
}
