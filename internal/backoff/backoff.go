package backoff

import (
	"math"
	"math/rand"
	"time"
)

// Policy names accepted by Compute.
const (
	Fixed          = "fixed"
	Linear         = "linear"
	Exponential    = "exponential"
	ExpEqualJitter = "exp_equal_jitter"
	ExpFullJitter  = "exp_full_jitter"
)

// Compute returns the delay before the given attempt. attempts is expected
// to be >= 0; unknown policies behave like exp_full_jitter.
func Compute(policy string, base, max time.Duration, attempts int, rng *rand.Rand) time.Duration {
	if attempts < 0 {
		attempts = 0
	}
	if base <= 0 {
		base = time.Millisecond
	}
	if max <= 0 {
		max = base
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(1))
	}
	switch policy {
	case Fixed:
		return minDuration(base, max)
	case Linear:
		return minDuration(base*time.Duration(maxInt(1, attempts)), max)
	case Exponential:
		return exp(base, max, attempts)
	case ExpEqualJitter:
		d := exp(base, max, attempts)
		half := d / 2
		return half + time.Duration(rng.Int63n(int64(half)+1))
	default:
		d := exp(base, max, attempts)
		if d <= 0 {
			return 0
		}
		return time.Duration(rng.Int63n(int64(d) + 1))
	}
}

func exp(base, max time.Duration, attempts int) time.Duration {
	f := float64(base) * math.Pow(2, float64(attempts))
	if f >= float64(max) || math.IsInf(f, 0) {
		return max
	}
	return time.Duration(f)
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
