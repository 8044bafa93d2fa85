// Package perf tracks per-thread-count performance windows and the
// efficiency comparison used to lock in an "optimal" concurrency ceiling
// (spec.md §4.6).
package perf

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/threadctl/threadctl/internal/control/guardrails"
)

// WindowSize is the number of recent samples kept per thread-count level.
const WindowSize = 20

// NoCeiling is the sentinel used when no optimum is known yet: logically
// "no ceiling", represented as a very large number for arithmetic.
const NoCeiling = math.MaxInt32

// sample is one normalized observation at a given concurrency level.
type sample struct {
	throughput     float64
	latencySec     float64
	cumulativeTime float64
}

// Store records per-thread-count sample windows and the current optimum.
type Store struct {
	windows map[int][]sample

	optimal     int
	optimalEff  float64
	haveOptimal bool
}

// NewStore returns an empty Store.
func NewStore() *Store {
	return &Store{windows: make(map[int][]sample)}
}

// Record normalizes and appends a sample for the given thread count
// (spec.md §4.6's normalization rules). backlogArg is the queue-reported
// backlog; 0 or negative means "absent", and the level's own thread count
// is used instead.
func (s *Store) Record(threadCount int, measuredThroughput, latencyMs, backlogArg float64) {
	if threadCount <= 0 {
		return
	}
	latencySec := math.Max(latencyMs, 1) / 1000.0

	effectiveThroughput := measuredThroughput
	if effectiveThroughput <= 0 {
		effectiveThroughput = float64(threadCount) / latencySec
	}

	backlog := backlogArg
	if backlog <= 0 {
		backlog = float64(threadCount)
	}
	backlog = math.Max(backlog, 1)

	cumulativeTime := backlog / math.Max(effectiveThroughput, 1e-6)

	win := s.windows[threadCount]
	win = append(win, sample{throughput: effectiveThroughput, latencySec: latencySec, cumulativeTime: cumulativeTime})
	if over := len(win) - WindowSize; over > 0 {
		win = win[over:]
	}
	s.windows[threadCount] = win
}

// SampleCount returns how many samples are recorded at threadCount.
func (s *Store) SampleCount(threadCount int) int {
	return len(s.windows[threadCount])
}

func avg(vals []sample, pick func(sample) float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	var sum float64
	for _, v := range vals {
		sum += pick(v)
	}
	return sum / float64(len(vals))
}

func (s *Store) avgCumTime(t int) float64 { return avg(s.windows[t], func(x sample) float64 { return x.cumulativeTime }) }
func (s *Store) avgThroughput(t int) float64 {
	return avg(s.windows[t], func(x sample) float64 { return x.throughput })
}
func (s *Store) avgLatencySec(t int) float64 {
	return avg(s.windows[t], func(x sample) float64 { return x.latencySec })
}

// AvgCumulativeTime exposes avgCumTime(t) for callers (the decision
// engine's scale-up validation rollback) that need to compare cumulative
// time across levels without re-deriving it from raw samples.
func (s *Store) AvgCumulativeTime(t int) float64 { return s.avgCumTime(t) }

// nextLowerWithData returns the highest recorded level below t that has
// at least one sample, or (0, false) if none exists.
func (s *Store) nextLowerWithData(t int) (int, bool) {
	best := -1
	for level, win := range s.windows {
		if level < t && len(win) > 0 && level > best {
			best = level
		}
	}
	if best == -1 {
		return 0, false
	}
	return best, true
}

// LevelStats summarizes the window at threadCount into the shape
// guardrails.Derive needs, using gonum for the coefficient-of-variation
// term (spec.md §4.7's degradationTolerance references "CoV of
// cumulative time"). utilization is supplied by the caller since perf
// does not itself track CPU utilization.
func (s *Store) LevelStats(threadCount int, utilization float64) guardrails.PerLevelStats {
	win := s.windows[threadCount]
	if len(win) == 0 {
		return guardrails.PerLevelStats{}
	}

	cumTimes := make([]float64, len(win))
	latenciesMs := make([]float64, len(win))
	for i, w := range win {
		cumTimes[i] = w.cumulativeTime
		latenciesMs[i] = w.latencySec * 1000
	}

	mean, stddev := stat.MeanStdDev(cumTimes, nil)
	var cov float64
	if mean != 0 {
		cov = stddev / mean
	}

	return guardrails.PerLevelStats{
		Samples:           len(win),
		AvgCumulativeTime: mean,
		CumulativeTimeCoV: cov,
		AvgUtilization:    utilization,
		AvgLatencyMs:      stat.Mean(latenciesMs, nil),
	}
}

// Efficiency computes eff(t) per spec.md §4.6.
func (s *Store) Efficiency(t int) float64 {
	if len(s.windows[t]) == 0 {
		return math.Inf(-1)
	}
	cumTime := s.avgCumTime(t)
	throughput := s.avgThroughput(t)
	latencySec := s.avgLatencySec(t)

	eff := -cumTime + math.Log(throughput+1) - 0.1*math.Log(latencySec+1) - 0.02*math.Log(float64(t)+1)

	if prevLevel, ok := s.nextLowerWithData(t); ok {
		prevCumTime := s.avgCumTime(prevLevel)
		prevThroughput := s.avgThroughput(prevLevel)
		prevLatencySec := s.avgLatencySec(prevLevel)

		if cumTime > prevCumTime*1.03 {
			eff -= 5 * (cumTime - prevCumTime)
		}
		if throughput < prevThroughput*0.97 {
			eff -= 10 * (prevThroughput - throughput)
		}
		if latencySec*1000 > prevLatencySec*1000*1.05 {
			eff -= 5 * ((latencySec*1000 - prevLatencySec*1000) / 1000)
		}
	}
	return eff
}

// requiredSamples is max(5, ceil(totalHistory*0.05)).
func requiredSamples(totalHistory int) int {
	req := int(math.Ceil(float64(totalHistory) * 0.05))
	if req < 5 {
		req = 5
	}
	return req
}

// UpdateOptimal re-evaluates every level with sufficient samples and
// replaces the current optimum only if the margin test in spec.md §4.6
// passes. totalHistory is the overall performance-history length used to
// derive the minimum-samples-per-level requirement. Returns the current
// optimum (possibly unchanged) and whether it changed this call.
func (s *Store) UpdateOptimal(totalHistory int) (optimal int, changed bool) {
	required := requiredSamples(totalHistory)

	levels := make([]int, 0, len(s.windows))
	for t, win := range s.windows {
		if len(win) >= required {
			levels = append(levels, t)
		}
	}
	if len(levels) == 0 {
		return s.currentOptimal(), false
	}
	sort.Ints(levels)

	bestLevel := levels[0]
	bestEff := s.Efficiency(bestLevel)
	for _, t := range levels[1:] {
		e := s.Efficiency(t)
		if e > bestEff {
			bestEff, bestLevel = e, t
		}
	}

	if !s.haveOptimal {
		s.optimal, s.optimalEff, s.haveOptimal = bestLevel, bestEff, true
		return s.optimal, true
	}

	margin := math.Max(5, 0.02*maxAbs(s.optimalEff, bestEff, 1))
	if bestEff > s.optimalEff+margin {
		s.optimal, s.optimalEff = bestLevel, bestEff
		return s.optimal, true
	}
	return s.optimal, false
}

func maxAbs(a, b, c float64) float64 {
	m := math.Abs(a)
	if math.Abs(b) > m {
		m = math.Abs(b)
	}
	if math.Abs(c) > m {
		m = math.Abs(c)
	}
	return m
}

func (s *Store) currentOptimal() int {
	if s.haveOptimal {
		return s.optimal
	}
	return 0
}

// OptimalCeiling returns the current optimum plus the bias spec.md §4.7
// applies to the exploration ceiling (optimal+4), or NoCeiling when no
// optimum is known yet.
func (s *Store) OptimalCeiling() int {
	if !s.haveOptimal {
		return NoCeiling
	}
	return s.optimal + 4
}

// HasOptimal reports whether an optimum has been locked in.
func (s *Store) HasOptimal() bool { return s.haveOptimal }
