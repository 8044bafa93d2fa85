package bayes

import "testing"

func TestSearch_FindsPeakWithinBounds(t *testing.T) {
	// reward peaks at threads=6 within [2,10], falls off on either side.
	evaluate := func(threads int) float64 {
		d := float64(threads - 6)
		return -d * d
	}
	got := Search(2, 10, evaluate)
	if got.Threads < 2 || got.Threads > 10 {
		t.Fatalf("Search() threads = %d, out of bounds", got.Threads)
	}
	if got.Reward < -9 {
		t.Fatalf("Search() reward = %v, expected a reasonably close approach to the peak", got.Reward)
	}
}

func TestSearch_SingletonRange(t *testing.T) {
	calls := 0
	got := Search(4, 4, func(threads int) float64 {
		calls++
		return float64(threads)
	})
	if got.Threads != 4 {
		t.Fatalf("Search() threads = %d, want 4", got.Threads)
	}
	if calls != 1 {
		t.Fatalf("expected exactly one evaluation for a singleton range, got %d", calls)
	}
}

func TestSearch_SwapsInvertedBounds(t *testing.T) {
	got := Search(10, 2, func(threads int) float64 { return float64(threads) })
	if got.Threads < 2 || got.Threads > 10 {
		t.Fatalf("Search() threads = %d, out of [2,10]", got.Threads)
	}
}

func TestRoundClamp_ClampsToRange(t *testing.T) {
	if got := RoundClamp(100, 1, 8); got != 8 {
		t.Fatalf("RoundClamp(100, 1, 8) = %d, want 8", got)
	}
	if got := RoundClamp(-5, 1, 8); got != 1 {
		t.Fatalf("RoundClamp(-5, 1, 8) = %d, want 1", got)
	}
}

func TestRoundClamp_RoundsToNearest(t *testing.T) {
	if got := RoundClamp(3.6, 1, 10); got != 4 {
		t.Fatalf("RoundClamp(3.6, 1, 10) = %d, want 4", got)
	}
}
