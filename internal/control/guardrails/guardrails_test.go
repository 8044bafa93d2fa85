package guardrails

import "testing"

func TestEstimateThermalConstant_Default(t *testing.T) {
	got := EstimateThermalConstant(nil)
	if got != 5 {
		t.Fatalf("EstimateThermalConstant(nil) = %v, want 5", got)
	}
}

func TestEstimateThermalConstant_ClampsLow(t *testing.T) {
	samples := []ThermalSample{{DtSeconds: 0.5, ThreadCountUp: true, CPUTempUp: 3}}
	if got := EstimateThermalConstant(samples); got != 2 {
		t.Fatalf("EstimateThermalConstant() = %v, want 2", got)
	}
}

func TestEstimateThermalConstant_ClampsHigh(t *testing.T) {
	samples := []ThermalSample{{DtSeconds: 30, ThreadCountUp: true, CPUTempUp: 3}}
	if got := EstimateThermalConstant(samples); got != 20 {
		t.Fatalf("EstimateThermalConstant() = %v, want 20", got)
	}
}

func TestEstimateThermalConstant_IgnoresNonQualifyingSamples(t *testing.T) {
	samples := []ThermalSample{
		{DtSeconds: 1, ThreadCountUp: false, CPUTempUp: 5},
		{DtSeconds: 9, ThreadCountUp: true, CPUTempUp: 1}, // temp rise too small
	}
	if got := EstimateThermalConstant(samples); got != 5 {
		t.Fatalf("EstimateThermalConstant() = %v, want default 5", got)
	}
}

func TestDerive_SamplesRequiredClampedToRange(t *testing.T) {
	in := Inputs{
		Prev: 2, Next: 3,
		PrevStats:       PerLevelStats{Samples: 1},
		NextStats:       PerLevelStats{Samples: 1},
		TotalHistory:    1,
		ScaleCooldownMs: 1000,
		MinDataWindowMs: 10000,
	}
	g := Derive(in)
	if g.SamplesRequired < 2 || g.SamplesRequired > 25 {
		t.Fatalf("SamplesRequired = %d, out of [2,25]", g.SamplesRequired)
	}
}

func TestDerive_DegradationToleranceUsesVariantWhenLarger(t *testing.T) {
	in := Inputs{
		Prev: 4, Next: 8,
		NextStats:       PerLevelStats{Samples: 5, CumulativeTimeCoV: 0.5, AvgUtilization: 0.4},
		TotalHistory:    50,
		ScaleCooldownMs: 1000,
		MinDataWindowMs: 10000,
	}
	g := Derive(in)
	want := 0.5 + 0.4/8.0
	if g.DegradationTolerance < want-1e-9 {
		t.Fatalf("DegradationTolerance = %v, want at least %v", g.DegradationTolerance, want)
	}
}

func TestDerive_DegradationToleranceFallsBackToInverseSum(t *testing.T) {
	in := Inputs{
		Prev: 4, Next: 8,
		ScaleCooldownMs: 1000,
		MinDataWindowMs: 10000,
	}
	g := Derive(in)
	want := 1.0 / 12.0
	if g.DegradationTolerance != want {
		t.Fatalf("DegradationTolerance = %v, want %v", g.DegradationTolerance, want)
	}
}

func TestDerive_ValidationWindowRespectsCooldownFloor(t *testing.T) {
	in := Inputs{
		Prev: 2, Next: 3,
		ScaleCooldownMs: 9000,
		MinDataWindowMs: 1000,
	}
	g := Derive(in)
	if g.ValidationWindowMs < in.ScaleCooldownMs {
		t.Fatalf("ValidationWindowMs = %v, want >= scaleCooldownMs %v", g.ValidationWindowMs, in.ScaleCooldownMs)
	}
}

func TestDerive_ValidationWindowHasAbsoluteFloor(t *testing.T) {
	in := Inputs{
		Prev: 1, Next: 2,
		ScaleCooldownMs: 0,
		MinDataWindowMs: 0,
	}
	g := Derive(in)
	if g.ValidationWindowMs < 1000 {
		t.Fatalf("ValidationWindowMs = %v, want >= 1000 floor", g.ValidationWindowMs)
	}
}
