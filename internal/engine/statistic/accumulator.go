package statistic

import "math"

// Accumulator keeps running count, sum, min, max, mean and variance of a numeric
// stream. Every update and query is O(1). The variance is the population variance,
// which is what the reference dataset was produced with.
//
// An empty accumulator reports 0 for every statistic.
type Accumulator struct {
	count uint64
	sum   float64
	min   float64
	max   float64
	mean  float64
	m2    float64
}

// Update folds a new sample into the accumulator (Welford's method).
func (a *Accumulator) Update(v float64) {
	a.count++
	a.sum += v
	if a.count == 1 {
		a.min, a.max = v, v
	} else {
		if v < a.min {
			a.min = v
		}
		if v > a.max {
			a.max = v
		}
	}
	delta := v - a.mean
	a.mean += delta / float64(a.count)
	a.m2 += delta * (v - a.mean)
}

// Count returns the number of samples seen.
func (a *Accumulator) Count() uint64 { return a.count }

// Sum returns the sum of all samples.
func (a *Accumulator) Sum() float64 { return a.sum }

func (a *Accumulator) Min() float64 {
	if a.count == 0 {
		return 0
	}
	return a.min
}

func (a *Accumulator) Max() float64 {
	if a.count == 0 {
		return 0
	}
	return a.max
}

func (a *Accumulator) Mean() float64 {
	if a.count == 0 {
		return 0
	}
	return a.mean
}

// Variance returns the population variance, clamped at 0 against rounding drift.
func (a *Accumulator) Variance() float64 {
	if a.count == 0 {
		return 0
	}
	v := a.m2 / float64(a.count)
	if v < 0 {
		return 0
	}
	return v
}

// Stddev returns the square root of Variance.
func (a *Accumulator) Stddev() float64 {
	return math.Sqrt(a.Variance())
}
