package common

import (
	"math"
	"testing"
)

func TestMedianFilter(t *testing.T) {
	data := []float64{1, 100, 1, 1, 1, 50, 2}
	got := MedianFilter(data, 3)
	want := []float64{50.5, 1, 1, 1, 1, 2, 26}

	for i := range want {
		if got[i] != want[i] {
			t.Errorf("MedianFilter[%d] = %v, want %v", i, got[i], want[i])
		}
	}
	if data[1] != 100 {
		t.Error("MedianFilter modified its input")
	}
}

func TestRoundToEven(t *testing.T) {
	tests := []struct {
		in   float64
		want float64
	}{
		{0.1234, 0.123},
		{0.9996, 1.0},
		{-0.4567, -0.457},
		{0.0, 0.0},
	}

	for _, tt := range tests {
		if got := RoundToEven(tt.in, 3); math.Abs(got-tt.want) > 1e-12 {
			t.Errorf("RoundToEven(%v, 3) = %v, want %v", tt.in, got, tt.want)
		}
	}

	if !math.IsNaN(RoundToEven(math.NaN(), 3)) {
		t.Error("NaN should pass through")
	}
}

func TestParabolicPeak(t *testing.T) {
	// Samples of -(x-2.25)^2 at x = 1, 2, 3
	data := []float64{-1.5625, -0.0625, -0.5625}
	got := ParabolicPeak(data, 1)
	if math.Abs(got-1.25) > 1e-9 {
		t.Errorf("ParabolicPeak = %v, want 1.25", got)
	}

	if ParabolicPeak(data, 0) != 0 {
		t.Error("edge index should be returned unchanged")
	}
}

func TestStandardDeviation(t *testing.T) {
	if got := StandardDeviation([]float64{2, 4, 4, 4, 5, 5, 7, 9}); math.Abs(got-math.Sqrt(32.0/7)) > 1e-12 {
		t.Errorf("StandardDeviation = %v, want sample deviation %v", got, math.Sqrt(32.0/7))
	}
	if StandardDeviation([]float64{3}) != 0 {
		t.Error("single value should have zero deviation")
	}
}

func TestAllFinite(t *testing.T) {
	if !AllFinite([]float64{1, 2, 3}) {
		t.Error("finite values reported as non-finite")
	}
	if AllFinite([]float64{1, math.NaN()}) {
		t.Error("NaN not detected")
	}
	if AllFinite([]float64{math.Inf(-1)}) {
		t.Error("Inf not detected")
	}
}

func TestNextPowerOfTwo(t *testing.T) {
	cases := map[int]int{0: 1, 1: 1, 3: 4, 1024: 1024, 11508: 16384}
	for in, want := range cases {
		if got := NextPowerOfTwo(in); got != want {
			t.Errorf("NextPowerOfTwo(%d) = %d, want %d", in, got, want)
		}
	}
}
