package trend

import (
	"math"
	"testing"
)

func TestSlope_Increasing(t *testing.T) {
	got := Slope([]float64{1, 2, 3, 4, 5})
	if math.Abs(got-1) > 1e-9 {
		t.Fatalf("Slope = %v, want 1", got)
	}
}

func TestSlope_TooFewPoints(t *testing.T) {
	if got := Slope([]float64{5}); got != 0 {
		t.Fatalf("Slope(single point) = %v, want 0", got)
	}
	if got := Slope(nil); got != 0 {
		t.Fatalf("Slope(nil) = %v, want 0", got)
	}
}

func TestSlope_Flat(t *testing.T) {
	got := Slope([]float64{3, 3, 3, 3})
	if math.Abs(got) > 1e-9 {
		t.Fatalf("Slope(flat) = %v, want 0", got)
	}
}

func TestRateOfChange_LastTenOnly(t *testing.T) {
	values := make([]float64, 20)
	for i := range values {
		values[i] = float64(i)
	}
	// last 10 values increase by 1 each step -> mean diff 1
	got := RateOfChange(values)
	if math.Abs(got-1) > 1e-9 {
		t.Fatalf("RateOfChange = %v, want 1", got)
	}
}

func TestPredictTimeToThreshold(t *testing.T) {
	secs, ok := PredictTimeToThreshold(50, 2, 90)
	if !ok || math.Abs(secs-20) > 1e-9 {
		t.Fatalf("PredictTimeToThreshold = (%v, %v), want (20, true)", secs, ok)
	}

	if _, ok := PredictTimeToThreshold(50, 0, 90); ok {
		t.Fatal("expected false for non-positive rate")
	}
	if _, ok := PredictTimeToThreshold(95, 2, 90); ok {
		t.Fatal("expected false when current already exceeds threshold")
	}
}

func TestOperationMixDiff(t *testing.T) {
	mixes := []MixSnapshot{
		{"chat": 1, "embed": 0.5},
		{"chat": 1.5, "summarize": 0.2},
	}
	diffs := OperationMixDiff(mixes)
	if len(diffs) != 1 {
		t.Fatalf("len(diffs) = %d, want 1", len(diffs))
	}
	d := diffs[0]
	if len(d.NewTypes) != 1 || d.NewTypes[0] != "summarize" {
		t.Fatalf("NewTypes = %v, want [summarize]", d.NewTypes)
	}
	if len(d.RemovedTypes) != 1 || d.RemovedTypes[0] != "embed" {
		t.Fatalf("RemovedTypes = %v, want [embed]", d.RemovedTypes)
	}
}

func TestOperationMixDiff_TooFew(t *testing.T) {
	if got := OperationMixDiff([]MixSnapshot{{"a": 1}}); got != nil {
		t.Fatalf("expected nil for <2 snapshots, got %v", got)
	}
}

func TestRecommend_InsufficientData(t *testing.T) {
	r := Recommend(Input{SampleCount: 3}, Thresholds{HighCPUUsage: 85, HighTemp: 85})
	if r.Action != ActionMaintain || r.Reason != "insufficient_data" {
		t.Fatalf("got %+v", r)
	}
}

func TestRecommend_HighUsage(t *testing.T) {
	r := Recommend(Input{SampleCount: 20, CurrentCPUUsage: 95, CurrentCPUTemp: 60}, Thresholds{HighCPUUsage: 85, HighTemp: 85})
	if r.Action != ActionScaleDown || r.Urgency != UrgencyHigh || r.Confidence != 0.9 {
		t.Fatalf("got %+v", r)
	}
}

func TestRecommend_ApproachingThreshold(t *testing.T) {
	r := Recommend(Input{SampleCount: 20, CurrentCPUUsage: 60, CurrentCPUTemp: 60, PredictedSeconds: 10}, Thresholds{HighCPUUsage: 85, HighTemp: 85})
	if r.Action != ActionScaleDown || r.Urgency != UrgencyMedium {
		t.Fatalf("got %+v", r)
	}
}

func TestRecommend_ScaleUp(t *testing.T) {
	r := Recommend(Input{SampleCount: 20, CurrentCPUUsage: 40, CurrentCPUTemp: 60, CPUSlope: -0.5, PredictedSeconds: math.Inf(1)}, Thresholds{HighCPUUsage: 85, HighTemp: 85})
	if r.Action != ActionScaleUp {
		t.Fatalf("got %+v", r)
	}
}

func TestRecommend_Maintain(t *testing.T) {
	r := Recommend(Input{SampleCount: 20, CurrentCPUUsage: 60, CurrentCPUTemp: 60, CPUSlope: 0.1, PredictedSeconds: math.Inf(1)}, Thresholds{HighCPUUsage: 85, HighTemp: 85})
	if r.Action != ActionMaintain || r.Reason != "stable" {
		t.Fatalf("got %+v", r)
	}
}
