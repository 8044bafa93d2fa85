// Package trend implements pure functions over telemetry history: slope,
// rate of change, time-to-threshold prediction, operation-mix diffing, and
// the coarse scale recommendation derived from them (spec.md §4.3).
package trend

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// Slope returns the least-squares slope over indices 0..n-1, or 0 when
// fewer than two points are given or the regression is degenerate.
func Slope(values []float64) float64 {
	n := len(values)
	if n < 2 {
		return 0
	}
	xs := make([]float64, n)
	for i := range xs {
		xs[i] = float64(i)
	}
	_, beta := stat.LinearRegression(xs, values, nil, false)
	if math.IsNaN(beta) || math.IsInf(beta, 0) {
		return 0
	}
	return beta
}

// RateOfChange is the mean of successive differences over the last 10
// values (or fewer, if the series is shorter).
func RateOfChange(values []float64) float64 {
	n := len(values)
	if n < 2 {
		return 0
	}
	window := values
	if n > 10 {
		window = values[n-10:]
	}
	var sum float64
	var count int
	for i := 1; i < len(window); i++ {
		sum += window[i] - window[i-1]
		count++
	}
	if count == 0 {
		return 0
	}
	return sum / float64(count)
}

// PredictTimeToThreshold returns the seconds until current reaches
// threshold at the given rate, or (0, false) if the rate is non-positive
// or current has already reached threshold.
func PredictTimeToThreshold(current, rate, threshold float64) (float64, bool) {
	if rate <= 0 || current >= threshold {
		return 0, false
	}
	return (threshold - current) / rate, true
}

// MixSnapshot is a single operation-mix observation: a weight per
// operation type. IntensityChange compares the sums of these weights.
type MixSnapshot map[string]float64

// MixDiff describes the change between two consecutive mix snapshots.
type MixDiff struct {
	NewTypes       []string
	RemovedTypes   []string
	IntensityChange float64
}

// OperationMixDiff reports per-step diffs over the last 5 mix snapshots.
func OperationMixDiff(mixes []MixSnapshot) []MixDiff {
	n := len(mixes)
	if n < 2 {
		return nil
	}
	start := 0
	if n > 5 {
		start = n - 5
	}
	window := mixes[start:]

	diffs := make([]MixDiff, 0, len(window)-1)
	for i := 1; i < len(window); i++ {
		prev, curr := window[i-1], window[i]
		diffs = append(diffs, diffMix(prev, curr))
	}
	return diffs
}

func diffMix(prev, curr MixSnapshot) MixDiff {
	var d MixDiff
	var sumPrev, sumCurr float64

	for k, v := range curr {
		sumCurr += v
		if _, ok := prev[k]; !ok {
			d.NewTypes = append(d.NewTypes, k)
		}
	}
	for k, v := range prev {
		sumPrev += v
		if _, ok := curr[k]; !ok {
			d.RemovedTypes = append(d.RemovedTypes, k)
		}
	}
	d.IntensityChange = sumCurr - sumPrev
	return d
}

// Action is the coarse direction Recommendation proposes.
type Action string

const (
	ActionScaleDown Action = "scale_down"
	ActionScaleUp   Action = "scale_up"
	ActionMaintain  Action = "maintain"
)

// Urgency further qualifies a scale_down Recommendation.
type Urgency string

const (
	UrgencyHigh   Urgency = "high"
	UrgencyMedium Urgency = "medium"
	UrgencyLow    Urgency = "low"
)

// Recommendation is TrendAnalyzer's coarse directional signal.
type Recommendation struct {
	Action     Action
	Urgency    Urgency
	Confidence float64
	Reason     string
}

// Thresholds parameterizes Recommendation's rule thresholds.
type Thresholds struct {
	HighCPUUsage float64 // percent
	HighTemp     float64 // celsius
}

// Input is the minimal telemetry context Recommendation needs.
type Input struct {
	SampleCount      int
	CurrentCPUUsage  float64
	CurrentCPUTemp   float64
	CPUSlope         float64
	PredictedSeconds float64 // time-to-threshold for CPU usage; +Inf if none
}

// Recommend implements spec.md §4.3's recommendation rule chain.
func Recommend(in Input, th Thresholds) Recommendation {
	if in.SampleCount < 10 {
		return Recommendation{Action: ActionMaintain, Confidence: 0.3, Reason: "insufficient_data"}
	}
	if in.CurrentCPUUsage > th.HighCPUUsage || in.CurrentCPUTemp > th.HighTemp {
		return Recommendation{Action: ActionScaleDown, Urgency: UrgencyHigh, Confidence: 0.9, Reason: "high_usage_or_temp"}
	}
	if in.PredictedSeconds < 30 {
		return Recommendation{Action: ActionScaleDown, Urgency: UrgencyMedium, Confidence: 0.7, Reason: "approaching_threshold"}
	}
	if in.CurrentCPUUsage < 50 && in.CurrentCPUTemp < 70 && in.CPUSlope < 0 {
		return Recommendation{Action: ActionScaleUp, Urgency: UrgencyLow, Confidence: 0.6, Reason: "headroom_available"}
	}
	return Recommendation{Action: ActionMaintain, Confidence: 0.5, Reason: "stable"}
}
