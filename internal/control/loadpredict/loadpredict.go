// Package loadpredict projects CPU/temperature/memory load at a candidate
// thread count from recent performance history (spec.md §4.7
// "Load prediction").
package loadpredict

import (
	"math"
	"sort"
)

// Point is one historical performance observation used as the basis for a
// similar-period projection.
type Point struct {
	ThreadCount int
	CPUUsage    float64
	CPUTemp     float64
	MemUsage    float64
	Stable      bool // systemStable: only stable points count as similar periods; the decision engine marks a tick stable when it had no unmet demand
}

// Current is the most recent observed reading the projection extrapolates
// from.
type Current struct {
	ThreadCount int
	CPUUsage    float64
	CPUTemp     float64
	MemUsage    float64
}

// Prediction is the projected load at a candidate thread count.
type Prediction struct {
	CPUUsage   float64
	CPUTemp    float64
	MemUsage   float64
	Confidence float64
}

// defaultCPUImpact, defaultTempImpact, defaultMemImpact are the per-extra-
// thread deltas the similar-period projection uses when none of the similar
// periods ran at a thread count different from the current one.
const (
	defaultCPUImpact  = 3.0
	defaultTempImpact = 1.0
	defaultMemImpact  = 2.0
)

// Predict implements predictLoadWithThreads(samples, t).
func Predict(history []Point, cur Current, threads int) Prediction {
	if threads <= 0 {
		threads = 1
	}

	if len(history) < 10 {
		return naive(cur, threads)
	}

	similar := filterSimilar(history, cur)
	if len(similar) >= 3 {
		return similarPeriodProjection(similar, cur, threads)
	}

	return powerLaw(cur, threads)
}

func naive(cur Current, t int) Prediction {
	last := cur.ThreadCount
	if last <= 0 {
		last = 1
	}
	ratio := float64(t) / float64(last)

	return Prediction{
		CPUUsage:   cur.CPUUsage * ratio,
		CPUTemp:    cur.CPUTemp + (ratio-1)*5,
		MemUsage:   cur.MemUsage * math.Sqrt(ratio),
		Confidence: 0.3,
	}
}

func filterSimilar(history []Point, cur Current) []Point {
	var out []Point
	for _, p := range history {
		if !p.Stable {
			continue
		}
		if math.Abs(p.CPUUsage-cur.CPUUsage) < 20 && math.Abs(p.CPUTemp-cur.CPUTemp) < 10 {
			out = append(out, p)
		}
	}
	return out
}

func similarPeriodProjection(similar []Point, cur Current, t int) Prediction {
	last := cur.ThreadCount
	if last <= 0 {
		last = 1
	}
	deltaThreads := float64(t - last)

	cpuImpact := medianPerThreadImpact(similar, cur, func(p Point) float64 { return p.CPUUsage }, cur.CPUUsage, defaultCPUImpact)
	tempImpact := medianPerThreadImpact(similar, cur, func(p Point) float64 { return p.CPUTemp }, cur.CPUTemp, defaultTempImpact)
	memImpact := medianPerThreadImpact(similar, cur, func(p Point) float64 { return p.MemUsage }, cur.MemUsage, defaultMemImpact)

	confidence := float64(len(similar)) / 10.0
	if confidence > 0.9 {
		confidence = 0.9
	}

	return Prediction{
		CPUUsage:   cur.CPUUsage + cpuImpact*deltaThreads,
		CPUTemp:    cur.CPUTemp + tempImpact*deltaThreads,
		MemUsage:   cur.MemUsage + memImpact*deltaThreads,
		Confidence: confidence,
	}
}

// medianPerThreadImpact returns the median of (metric(p)-baseline)/(p.ThreadCount-last)
// across similar periods with a non-zero thread-count delta, or the
// supplied default when no qualifying period exists.
func medianPerThreadImpact(similar []Point, cur Current, metric func(Point) float64, baseline, def float64) float64 {
	last := cur.ThreadCount
	if last <= 0 {
		last = 1
	}
	var impacts []float64
	for _, p := range similar {
		dt := p.ThreadCount - last
		if dt == 0 {
			continue
		}
		impacts = append(impacts, (metric(p)-baseline)/float64(dt))
	}
	if len(impacts) == 0 {
		return def
	}
	sort.Float64s(impacts)
	mid := len(impacts) / 2
	if len(impacts)%2 == 1 {
		return impacts[mid]
	}
	return (impacts[mid-1] + impacts[mid]) / 2
}

func powerLaw(cur Current, t int) Prediction {
	last := cur.ThreadCount
	if last <= 0 {
		last = 1
	}
	ratio := float64(t) / float64(last)

	return Prediction{
		CPUUsage:   cur.CPUUsage * math.Pow(ratio, 0.8),
		CPUTemp:    cur.CPUTemp * math.Pow(ratio, 0.6),
		MemUsage:   cur.MemUsage * math.Pow(ratio, 0.7),
		Confidence: 0.5,
	}
}
