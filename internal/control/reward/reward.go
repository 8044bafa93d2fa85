// Package reward implements the closed-form reward function over
// predicted metrics and measured throughput/latency/backlog (spec.md §4.5).
package reward

import "math"

// Metrics is the input to Calculate.
type Metrics struct {
	Throughput        float64
	LatencyMs         float64
	Backlog           float64
	PredictedCPU      float64
	PredictedTemp     float64
	PredictedGPUUsage float64
	PredictedGPUTemp  float64
}

// Limits carries the "high" and "emergency" ceilings each penalized
// metric is compared against.
type Limits struct {
	HighCPU, EmergencyCPU         float64
	HighTemp, EmergencyTemp       float64
	HighGPUUsage, EmergencyGPU    float64
	HighGPUTemp, EmergencyGPUTemp float64
}

const (
	weightCPU     = 0.5
	weightTemp    = 0.7
	weightGPU     = 0.3
	weightGPUTemp = 0.5

	emergencyPenalty = -1e6
)

// Calculate computes the reward (spec.md §4.5).
func Calculate(m Metrics, lim Limits) float64 {
	latencySec := math.Max(m.LatencyMs, 1) / 1000.0
	r := m.Throughput - 0.2*latencySec - 0.1*math.Max(m.Backlog, 0)

	r += penalize(m.PredictedCPU, lim.HighCPU, lim.EmergencyCPU, weightCPU)
	r += penalize(m.PredictedTemp, lim.HighTemp, lim.EmergencyTemp, weightTemp)
	r += penalize(m.PredictedGPUUsage, lim.HighGPUUsage, lim.EmergencyGPU, weightGPU)
	r += penalize(m.PredictedGPUTemp, lim.HighGPUTemp, lim.EmergencyGPUTemp, weightGPUTemp)

	return r
}

// penalize implements spec.md §4.5's penal(v, hi, em, w).
func penalize(v, hi, em, w float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	if v <= hi {
		return 0
	}
	if v >= em {
		return emergencyPenalty
	}
	d := v - hi
	return -w * d * d
}
