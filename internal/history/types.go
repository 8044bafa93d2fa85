// Package history maintains bounded, time-windowed telemetry and
// performance rings plus an optional durable log of scaling decisions.
package history

import (
	"time"

	"github.com/threadctl/threadctl/internal/telemetry"
)

// PerfPoint is a telemetry sample enriched with queue/throughput context,
// appended once per Supervisor tick.
type PerfPoint struct {
	telemetry.Sample
	ThreadCount   int
	ActiveThreads int
	QueuePressure int
	Backlog       int
	Utilization   float64
	Throughput    telemetry.Optional[float64]
	AvgLatencyMs  telemetry.Optional[float64]
	P95LatencyMs  telemetry.Optional[float64]
	OperationMix  map[string]float64
	Intensity     float64
}

// DemandPoint is the narrower record used by the engine's exploration
// ceiling computation.
type DemandPoint struct {
	Timestamp       time.Time
	QueuePressure   int
	ActiveThreads   int
	Utilization     float64
	HasUnmetDemand  bool
	Backlog         int
}

// ScalingDecision is emitted whenever the recommended concurrency changes.
type ScalingDecision struct {
	Timestamp          time.Time
	RecommendedThreads int
	PreviousThreads    int
	Reason             string
	Confidence         float64
}

// Stats summarizes the telemetry ring for introspection (spec.md §4.2).
type Stats struct {
	DataPoints  int
	TimeSpanSec float64
	Averages    Averages
	Ranges      Ranges
}

// Averages holds mean values over defined samples only — absent readings
// are excluded, never treated as zero (spec.md §9).
type Averages struct {
	CPUUsage telemetry.Optional[float64]
	CPUTemp  telemetry.Optional[float64]
	MemUsage telemetry.Optional[float64]
	GPUUsage telemetry.Optional[float64]
	GPUTemp  telemetry.Optional[float64]
}

// Ranges holds min/max values over defined samples only.
type Ranges struct {
	CPUUsageMin, CPUUsageMax telemetry.Optional[float64]
	CPUTempMin, CPUTempMax   telemetry.Optional[float64]
}

// ScalingSink persists scaling decisions. The zero-value in-memory
// fallback (see Store.PersistScaling) is always safe to call even when no
// sink is configured.
type ScalingSink interface {
	PersistScaling(ScalingDecision) error
}
