// Package metrics tracks per-route delay distributions observed by the
// ingestion engine.
package metrics

import "math"

// DelayStats accumulates delay observations with Welford's online
// algorithm: mean and deviation update in O(1) without keeping samples.
type DelayStats struct {
	Count int64
	Mean  float64
	m2    float64
}

// Resume rebuilds a running state from persisted (count, mean, stddev)
// so accumulation can continue across process restarts.
func Resume(count int64, mean, stddev float64) DelayStats {
	if count == 0 {
		return DelayStats{}
	}
	return DelayStats{
		Count: count,
		Mean:  mean,
		m2:    stddev * stddev * float64(count),
	}
}

// Observe folds one delay sample (seconds) into the running state.
func (s *DelayStats) Observe(seconds float64) {
	s.Count++
	delta := seconds - s.Mean
	s.Mean += delta / float64(s.Count)
	s.m2 += delta * (seconds - s.Mean)
}

// StdDev returns the population standard deviation, 0 below two samples.
func (s *DelayStats) StdDev() float64 {
	if s.Count < 2 {
		return 0
	}
	return math.Sqrt(s.m2 / float64(s.Count))
}
