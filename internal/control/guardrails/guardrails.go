// Package guardrails derives the sample-count and time-window gates that
// must be satisfied before the decision engine allows another upward
// scaling step (spec.md §4.7 "Guardrails derivation").
package guardrails

import "math"

// ThermalSample is one observed tick used to estimate the thermal time
// constant: how long it takes CPU temperature to respond to a thread-count
// increase.
type ThermalSample struct {
	DtSeconds     float64 // time since the previous tick
	ThreadCountUp bool    // threadCount increased this tick
	CPUTempUp     float64 // cpuTemp delta this tick (°C)
}

// EstimateThermalConstant returns the mean Δt between ticks where the
// thread count rose and CPU temperature rose by more than 2°C, clamped to
// [2s, 20s]. Falls back to the 5s default when no qualifying sample exists.
func EstimateThermalConstant(samples []ThermalSample) float64 {
	const def = 5.0
	var sum float64
	var n int
	for _, s := range samples {
		if s.ThreadCountUp && s.CPUTempUp > 2 {
			sum += s.DtSeconds
			n++
		}
	}
	if n == 0 {
		return def
	}
	mean := sum / float64(n)
	return clamp(mean, 2, 20)
}

// PerLevelStats is the subset of perf.Store information guardrails needs
// about a single thread-count level, kept decoupled from the perf package
// so guardrails can be tested and reasoned about independently.
type PerLevelStats struct {
	Samples            int
	AvgCumulativeTime  float64
	CumulativeTimeCoV  float64 // coefficient of variation (stddev/mean)
	AvgUtilization     float64
	AvgLatencyMs       float64
}

// Guardrails is the set of derived gates for a prev->next scaling step.
type Guardrails struct {
	ThermalConstant      float64
	SamplesRequired      int
	DegradationTolerance float64
	ValidationWindowMs   float64
}

// Inputs bundles everything Derive needs beyond the two endpoint levels.
type Inputs struct {
	Prev, Next        int
	PrevStats         PerLevelStats
	NextStats         PerLevelStats
	TotalHistory       int
	ThermalSamples     []ThermalSample
	ScaleCooldownMs    float64
	MinDataWindowMs    float64
}

// Derive computes getScaleUpGuardrails(prev, next) (spec.md §4.7).
func Derive(in Inputs) Guardrails {
	thermalConstant := EstimateThermalConstant(in.ThermalSamples)

	sampleDensity := math.Max(float64(in.PrevStats.Samples), float64(in.NextStats.Samples))
	sampleDensity = math.Max(sampleDensity, math.Ceil(float64(in.TotalHistory)*0.1))

	samplesRequired := int(clamp(math.Ceil(math.Sqrt(sampleDensity+float64(in.Next))), 2, 25))

	degradationTolerance := deriveDegradationTolerance(in)

	validationWindowMs := deriveValidationWindow(in, thermalConstant, float64(samplesRequired))

	return Guardrails{
		ThermalConstant:      thermalConstant,
		SamplesRequired:      samplesRequired,
		DegradationTolerance: degradationTolerance,
		ValidationWindowMs:   validationWindowMs,
	}
}

func deriveDegradationTolerance(in Inputs) float64 {
	denom := float64(in.Prev + in.Next)
	base := 1.0
	if denom > 0 {
		base = 1.0 / denom
	}

	stats := in.NextStats
	if stats.Samples == 0 {
		stats = in.PrevStats
	}
	next := in.Next
	if next <= 0 {
		next = 1
	}
	variant := stats.CumulativeTimeCoV + stats.AvgUtilization/float64(next)

	return math.Max(base, variant)
}

func deriveValidationWindow(in Inputs, thermalConstant, samplesRequired float64) float64 {
	avgLatency := in.NextStats.AvgLatencyMs
	if avgLatency <= 0 {
		avgLatency = in.PrevStats.AvgLatencyMs
	}

	candidate := math.Max(avgLatency*samplesRequired, in.ScaleCooldownMs*0.5)
	candidate = math.Max(candidate, thermalConstant*0.75)
	candidate = math.Max(candidate, 1000)

	upperBound := math.Max(in.MinDataWindowMs*0.5, 5000)
	if candidate > upperBound {
		candidate = upperBound
	}

	return math.Max(candidate, in.ScaleCooldownMs)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
