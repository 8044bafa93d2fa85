package reward

import (
	"math"
	"testing"
)

func defaultLimits() Limits {
	return Limits{
		HighCPU: 85, EmergencyCPU: 98,
		HighTemp: 85, EmergencyTemp: 95,
		HighGPUUsage: 85, EmergencyGPU: 98,
		HighGPUTemp: 85, EmergencyGPUTemp: 95,
	}
}

func TestCalculate_NoPenaltyBelowHigh(t *testing.T) {
	m := Metrics{Throughput: 10, LatencyMs: 100, Backlog: 2, PredictedCPU: 50, PredictedTemp: 60}
	got := Calculate(m, defaultLimits())
	want := 10 - 0.2*0.1 - 0.1*2
	if math.Abs(got-want) > 1e-9 {
		t.Fatalf("Calculate() = %v, want %v", got, want)
	}
}

func TestCalculate_QuadraticPenaltyAboveHigh(t *testing.T) {
	m := Metrics{Throughput: 10, LatencyMs: 1, Backlog: 0, PredictedCPU: 90} // 5 over high
	got := Calculate(m, defaultLimits())
	want := 10 - 0.2*0.001 - 0 + (-0.5 * 25)
	if math.Abs(got-want) > 1e-6 {
		t.Fatalf("Calculate() = %v, want %v", got, want)
	}
}

func TestCalculate_EmergencyFloor(t *testing.T) {
	m := Metrics{PredictedCPU: 99}
	got := Calculate(m, defaultLimits())
	if got > -1e5 {
		t.Fatalf("Calculate() = %v, expected large emergency penalty", got)
	}
}

func TestCalculate_NonFiniteIgnored(t *testing.T) {
	m := Metrics{Throughput: 5, PredictedCPU: math.NaN(), PredictedTemp: math.Inf(1)}
	got := Calculate(m, defaultLimits())
	if math.IsNaN(got) || math.IsInf(got, 0) {
		t.Fatalf("Calculate() = %v, expected finite result ignoring non-finite inputs", got)
	}
}

func TestCalculate_LatencyFloor(t *testing.T) {
	m1 := Metrics{Throughput: 1, LatencyMs: 0}
	m2 := Metrics{Throughput: 1, LatencyMs: 0.5}
	// both should floor latency to 1ms for the purpose of the penalty term
	if Calculate(m1, defaultLimits()) != Calculate(m2, defaultLimits()) {
		t.Fatal("expected latency below 1ms to be floored identically")
	}
}
