package common

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// Variance calculates the sample variance of a slice using gonum
func Variance(data []float64) float64 {
	if len(data) < 2 {
		return 0.0
	}
	return stat.Variance(data, nil)
}

// StandardDeviation calculates the sample standard deviation
func StandardDeviation(data []float64) float64 {
	if len(data) < 2 {
		return 0.0
	}
	return math.Sqrt(Variance(data))
}

// AllFinite reports whether every value is neither NaN nor ±Inf
func AllFinite(data []float64) bool {
	for _, v := range data {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// Median returns the median of data without modifying it
func Median(data []float64) float64 {
	if len(data) == 0 {
		return 0.0
	}

	sorted := make([]float64, len(data))
	copy(sorted, data)
	return medianInPlace(sorted)
}

// medianInPlace sorts buf and returns its median
func medianInPlace(buf []float64) float64 {
	sort.Float64s(buf)

	mid := len(buf) / 2
	if len(buf)%2 == 0 {
		return (buf[mid-1] + buf[mid]) / 2.0
	}
	return buf[mid]
}

// MedianFilter applies median filtering with given window size.
// The window is truncated at the edges of the signal.
func MedianFilter(data []float64, windowSize int) []float64 {
	if len(data) == 0 || windowSize <= 0 {
		return data
	}

	if windowSize > len(data) {
		windowSize = len(data)
	}

	result := make([]float64, len(data))
	halfWindow := windowSize / 2
	window := make([]float64, 0, windowSize+1)

	for i := range data {
		start := max(i-halfWindow, 0)
		end := min(i+halfWindow+1, len(data))

		window = append(window[:0], data[start:end]...)
		result[i] = medianInPlace(window)
	}

	return result
}

// RoundToEven rounds x to the given number of decimals using
// round-half-to-even.
func RoundToEven(x float64, decimals int) float64 {
	if math.IsNaN(x) || math.IsInf(x, 0) {
		return x
	}
	scale := math.Pow(10, float64(decimals))
	return math.RoundToEven(x*scale) / scale
}

// ParabolicPeak refines the location of a peak at index i using the values at
// i-1, i and i+1. It returns i unchanged at the edges or on a flat top.
func ParabolicPeak(data []float64, i int) float64 {
	if i <= 0 || i >= len(data)-1 {
		return float64(i)
	}

	a, b, c := data[i-1], data[i], data[i+1]
	denom := a - 2*b + c
	if denom == 0 {
		return float64(i)
	}

	offset := 0.5 * (a - c) / denom
	if offset > 0.5 || offset < -0.5 {
		return float64(i)
	}
	return float64(i) + offset
}

// NextPowerOfTwo finds the next power of 2 >= n
func NextPowerOfTwo(n int) int {
	if n <= 0 {
		return 1
	}

	power := 1
	for power < n {
		power <<= 1
	}
	return power
}
