package metrics

import (
	"math"
	"testing"
)

func TestDelayStatsObserve(t *testing.T) {
	var s DelayStats
	for _, v := range []float64{60, 120, 180} {
		s.Observe(v)
	}
	if s.Count != 3 {
		t.Fatalf("Count = %d, want 3", s.Count)
	}
	if math.Abs(s.Mean-120) > 1e-9 {
		t.Errorf("Mean = %f, want 120", s.Mean)
	}
	// Population stddev of {60,120,180} is sqrt(2400).
	want := math.Sqrt(2400)
	if math.Abs(s.StdDev()-want) > 1e-9 {
		t.Errorf("StdDev = %f, want %f", s.StdDev(), want)
	}
}

func TestDelayStatsResume(t *testing.T) {
	var direct DelayStats
	for _, v := range []float64{30, 90, 90, 240} {
		direct.Observe(v)
	}

	resumed := Resume(2, 60, 30) // state after observing {30, 90}
	resumed.Observe(90)
	resumed.Observe(240)

	if resumed.Count != direct.Count {
		t.Fatalf("Count = %d, want %d", resumed.Count, direct.Count)
	}
	if math.Abs(resumed.Mean-direct.Mean) > 1e-6 {
		t.Errorf("Mean = %f, want %f", resumed.Mean, direct.Mean)
	}
	if math.Abs(resumed.StdDev()-direct.StdDev()) > 1e-6 {
		t.Errorf("StdDev = %f, want %f", resumed.StdDev(), direct.StdDev())
	}
}

func TestDelayStatsSingleSample(t *testing.T) {
	var s DelayStats
	s.Observe(42)
	if s.StdDev() != 0 {
		t.Errorf("StdDev of one sample = %f, want 0", s.StdDev())
	}
}
