package history

import (
	"sync"
	"time"

	"github.com/threadctl/threadctl/internal/telemetry"
)

// Config bounds every ring the Store maintains.
type Config struct {
	MaxHistoryAge            time.Duration // telemetry ring eviction by age
	MaxDataPoints             int           // telemetry ring eviction by count
	MaxPerformanceHistory     int           // perf ring bound (default 200)
	MaxDemandHistory          int           // demand ring bound (default 50)
	ScalingHistoryRetention   time.Duration // in-memory scaling log retention
}

// DefaultConfig returns spec.md §6's documented defaults.
func DefaultConfig() Config {
	return Config{
		MaxHistoryAge:           5 * time.Minute,
		MaxDataPoints:           300,
		MaxPerformanceHistory:   200,
		MaxDemandHistory:        50,
		ScalingHistoryRetention: 20 * time.Minute,
	}
}

// Store is the HistoryStore of spec.md §4.2: single-writer, multi-reader
// bounded rings plus an optional durable scaling log.
type Store struct {
	cfg Config

	mu        sync.RWMutex
	telemetry []telemetry.Sample
	perf      []PerfPoint
	demand    []DemandPoint
	scaling   []scalingEntry

	sink ScalingSink
}

type scalingEntry struct {
	decision ScalingDecision
	at       time.Time
}

// New constructs a Store. sink may be nil, in which case PersistScaling
// falls back to a bounded in-memory log (spec.md §4.2, §7
// PersistenceUnavailable).
func New(cfg Config, sink ScalingSink) *Store {
	if cfg.MaxDataPoints <= 0 {
		cfg.MaxDataPoints = 300
	}
	if cfg.MaxHistoryAge <= 0 {
		cfg.MaxHistoryAge = 5 * time.Minute
	}
	if cfg.MaxPerformanceHistory <= 0 {
		cfg.MaxPerformanceHistory = 200
	}
	if cfg.MaxDemandHistory <= 0 {
		cfg.MaxDemandHistory = 50
	}
	if cfg.ScalingHistoryRetention <= 0 {
		cfg.ScalingHistoryRetention = 20 * time.Minute
	}
	return &Store{cfg: cfg, sink: sink}
}

// Append adds a telemetry sample, evicting by age then count.
func (s *Store) Append(sample telemetry.Sample) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.telemetry = append(s.telemetry, sample)
	s.evictTelemetryLocked()
}

// AppendPerf adds a PerfPoint to the bounded performance ring.
func (s *Store) AppendPerf(p PerfPoint) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.perf = append(s.perf, p)
	if over := len(s.perf) - s.cfg.MaxPerformanceHistory; over > 0 {
		s.perf = s.perf[over:]
	}
}

// AppendDemand adds a DemandPoint to the bounded demand ring.
func (s *Store) AppendDemand(d DemandPoint) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.demand = append(s.demand, d)
	if over := len(s.demand) - s.cfg.MaxDemandHistory; over > 0 {
		s.demand = s.demand[over:]
	}
}

// evictTelemetryLocked evicts by age first, then by count. Caller holds mu.
func (s *Store) evictTelemetryLocked() {
	cutoff := time.Now().Add(-s.cfg.MaxHistoryAge)
	i := 0
	for i < len(s.telemetry) && s.telemetry[i].Timestamp.Before(cutoff) {
		i++
	}
	if i > 0 {
		s.telemetry = s.telemetry[i:]
	}
	if over := len(s.telemetry) - s.cfg.MaxDataPoints; over > 0 {
		s.telemetry = s.telemetry[over:]
	}
}

// Recent returns telemetry samples from the last windowSec seconds.
func (s *Store) Recent(windowSec int) []telemetry.Sample {
	s.mu.Lock()
	s.evictTelemetryLocked()
	s.mu.Unlock()

	s.mu.RLock()
	defer s.mu.RUnlock()
	cutoff := time.Now().Add(-time.Duration(windowSec) * time.Second)
	out := make([]telemetry.Sample, 0, len(s.telemetry))
	for _, t := range s.telemetry {
		if !t.Timestamp.Before(cutoff) {
			out = append(out, t)
		}
	}
	return out
}

// All returns every retained telemetry sample, performing lazy eviction first.
func (s *Store) All() []telemetry.Sample {
	s.mu.Lock()
	s.evictTelemetryLocked()
	out := make([]telemetry.Sample, len(s.telemetry))
	copy(out, s.telemetry)
	s.mu.Unlock()
	return out
}

// AllPerf returns a snapshot of the performance ring.
func (s *Store) AllPerf() []PerfPoint {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]PerfPoint, len(s.perf))
	copy(out, s.perf)
	return out
}

// RecentPerf returns up to the last n performance points.
func (s *Store) RecentPerf(n int) []PerfPoint {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if n <= 0 || n > len(s.perf) {
		n = len(s.perf)
	}
	out := make([]PerfPoint, n)
	copy(out, s.perf[len(s.perf)-n:])
	return out
}

// AllDemand returns a snapshot of the demand ring.
func (s *Store) AllDemand() []DemandPoint {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]DemandPoint, len(s.demand))
	copy(out, s.demand)
	return out
}

// Stats computes aggregate statistics over defined telemetry values only.
func (s *Store) Stats() Stats {
	all := s.All()
	if len(all) == 0 {
		return Stats{}
	}

	var sumCPU, sumTemp, sumMem, sumGPU, sumGPUTemp float64
	var nCPU, nTemp, nMem, nGPU, nGPUTemp int
	var minCPU, maxCPU, minTemp, maxTemp float64
	var haveMinMaxCPU, haveMinMaxTemp bool

	for _, t := range all {
		if v, ok := t.CPUUsage.Get(); ok {
			sumCPU += v
			nCPU++
			if !haveMinMaxCPU {
				minCPU, maxCPU = v, v
				haveMinMaxCPU = true
			} else {
				if v < minCPU {
					minCPU = v
				}
				if v > maxCPU {
					maxCPU = v
				}
			}
		}
		if v, ok := t.CPUTemp.Get(); ok {
			sumTemp += v
			nTemp++
			if !haveMinMaxTemp {
				minTemp, maxTemp = v, v
				haveMinMaxTemp = true
			} else {
				if v < minTemp {
					minTemp = v
				}
				if v > maxTemp {
					maxTemp = v
				}
			}
		}
		if v, ok := t.MemUsage.Get(); ok {
			sumMem += v
			nMem++
		}
		if v, ok := t.GPUUsage.Get(); ok {
			sumGPU += v
			nGPU++
		}
		if v, ok := t.GPUTemp.Get(); ok {
			sumGPUTemp += v
			nGPUTemp++
		}
	}

	avg := func(sum float64, n int) telemetry.Optional[float64] {
		if n == 0 {
			return telemetry.None[float64]()
		}
		return telemetry.Some(sum / float64(n))
	}

	st := Stats{
		DataPoints:  len(all),
		TimeSpanSec: all[len(all)-1].Timestamp.Sub(all[0].Timestamp).Seconds(),
		Averages: Averages{
			CPUUsage: avg(sumCPU, nCPU),
			CPUTemp:  avg(sumTemp, nTemp),
			MemUsage: avg(sumMem, nMem),
			GPUUsage: avg(sumGPU, nGPU),
			GPUTemp:  avg(sumGPUTemp, nGPUTemp),
		},
	}
	if haveMinMaxCPU {
		st.Ranges.CPUUsageMin = telemetry.Some(minCPU)
		st.Ranges.CPUUsageMax = telemetry.Some(maxCPU)
	}
	if haveMinMaxTemp {
		st.Ranges.CPUTempMin = telemetry.Some(minTemp)
		st.Ranges.CPUTempMax = telemetry.Some(maxTemp)
	}
	return st
}

// PersistScaling records a scaling decision via the configured sink, or an
// in-memory fallback bounded by ScalingHistoryRetention when no sink is
// configured or the sink returns an error (spec.md §7 PersistenceUnavailable).
func (s *Store) PersistScaling(d ScalingDecision) error {
	if s.sink != nil {
		if err := s.sink.PersistScaling(d); err == nil {
			return nil
		}
		// fall through to in-memory fallback; the sink error is not surfaced
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.scaling = append(s.scaling, scalingEntry{decision: d, at: time.Now()})
	s.evictScalingLocked()
	return nil
}

func (s *Store) evictScalingLocked() {
	cutoff := time.Now().Add(-s.cfg.ScalingHistoryRetention)
	i := 0
	for i < len(s.scaling) && s.scaling[i].at.Before(cutoff) {
		i++
	}
	if i > 0 {
		s.scaling = s.scaling[i:]
	}
}

// RecentScalingDecisions returns the in-memory fallback scaling log.
func (s *Store) RecentScalingDecisions() []ScalingDecision {
	s.mu.Lock()
	s.evictScalingLocked()
	out := make([]ScalingDecision, len(s.scaling))
	for i, e := range s.scaling {
		out[i] = e.decision
	}
	s.mu.Unlock()
	return out
}
