package windowing

import (
	"fmt"

	"github.com/mjibson/go-dsp/window"
)

// Hann represents a Hann window function.
//
// The periodic form (symmetric == false) is the one used for STFT analysis and
// resynthesis: copies shifted by size/2 sum to exactly one.
type Hann struct {
	size         int
	symmetric    bool
	coefficients []float64
}

// NewHann creates a new Hann window
func NewHann(size int, symmetric bool) *Hann {
	h := &Hann{
		size:      size,
		symmetric: symmetric,
	}
	h.generate()
	return h
}

// generate creates Hann window coefficients from go-dsp's symmetric window.
// A periodic window of length N is the first N points of a symmetric window
// of length N+1.
func (h *Hann) generate() {
	switch {
	case h.size <= 0:
		h.coefficients = []float64{}
	case h.size == 1:
		h.coefficients = []float64{1}
	case h.symmetric:
		h.coefficients = window.Hann(h.size)
	default:
		h.coefficients = window.Hann(h.size + 1)[:h.size]
	}
}

// ApplyInPlace applies the window to a signal in-place
func (h *Hann) ApplyInPlace(signal []float64) error {
	if len(signal) != h.size {
		return fmt.Errorf("signal length (%d) doesn't match window size (%d)", len(signal), h.size)
	}

	for i := range h.size {
		signal[i] *= h.coefficients[i]
	}

	return nil
}

// GetCoefficients returns a copy of the window coefficients
func (h *Hann) GetCoefficients() []float64 {
	coeffs := make([]float64, len(h.coefficients))
	copy(coeffs, h.coefficients)
	return coeffs
}

// Sum returns the sum of the coefficients (the window's L1 norm)
func (h *Hann) Sum() float64 {
	sum := 0.0
	for _, c := range h.coefficients {
		sum += c
	}
	return sum
}

// GetSize returns the window size
func (h *Hann) GetSize() int {
	return h.size
}
