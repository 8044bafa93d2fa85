// Package bayes implements the small Bayesian-style search the decision
// engine uses to pick a candidate thread count by maximizing reward over a
// handful of load projections (spec.md §4.7 step 5).
package bayes

import "math"

// Iterations is the fixed search budget (spec.md §4.7: "5 iterations").
const Iterations = 5

// Result is the search outcome.
type Result struct {
	Threads int
	Reward  float64
}

// Search evaluates reward at an initial bracketing set of candidates
// within [min, max], then refines around the running best for the
// remaining iterations — a simple bisection-style Bayesian surrogate
// rather than a full Gaussian-process optimizer, matching the bounded
// iteration budget the spec allows.
//
// evaluate must be pure given threads: it is expected to run
// predictLoadWithThreads and RewardCalculator.Calculate internally and
// return the resulting scalar reward.
func Search(min, max int, evaluate func(threads int) float64) Result {
	if max < min {
		min, max = max, min
	}
	if min == max {
		return Result{Threads: min, Reward: evaluate(min)}
	}

	best := Result{Threads: min, Reward: evaluate(min)}
	if r := evaluate(max); r > best.Reward {
		best = Result{Threads: max, Reward: r}
	}

	lo, hi := min, max
	for i := 2; i < Iterations; i++ {
		mid := lo + (hi-lo)/2
		if mid == best.Threads {
			mid = clampInt(mid+1, min, max)
		}
		if r := evaluate(mid); r > best.Reward {
			best = Result{Threads: mid, Reward: r}
		}

		if mid < best.Threads {
			lo = mid
		} else {
			hi = mid
		}
		if lo >= hi {
			lo, hi = min, max
		}
	}

	return best
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// RoundClamp rounds a continuous search result to an integer thread count
// within [searchMin, searchMax], matching spec.md §4.7's
// "clamp(round(best.threads), searchMin, searchMax)".
func RoundClamp(threads float64, searchMin, searchMax int) int {
	r := int(math.Round(threads))
	return clampInt(r, searchMin, searchMax)
}
