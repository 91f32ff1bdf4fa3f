package harmonic

import (
	"context"
	"errors"
	"fmt"
	"math"
	"runtime"
	"sync"

	"github.com/RyanBlaney/sonido-key/algorithms/common"
	"github.com/RyanBlaney/sonido-key/algorithms/spectral"
	"github.com/RyanBlaney/sonido-key/algorithms/windowing"
	"github.com/RyanBlaney/sonido-key/logging"
)

// ErrEmptySignal is returned when there is nothing to separate
var ErrEmptySignal = errors.New("empty signal")

// HPSSParams configures harmonic/percussive source separation
type HPSSParams struct {
	WindowSize       int     `json:"window_size"`
	HopSize          int     `json:"hop_size"`
	HarmonicKernel   int     `json:"harmonic_kernel"`   // Median filter length across time, in frames
	PercussiveKernel int     `json:"percussive_kernel"` // Median filter length across frequency, in bins
	Power            float64 `json:"power"`             // Soft mask exponent
}

// HPSS separates a signal into harmonic and percussive components by median
// filtering its magnitude spectrogram (Fitzgerald 2010). Sustained tones
// form horizontal ridges that survive filtering across time; transients form
// vertical ridges that survive filtering across frequency.
type HPSS struct {
	params HPSSParams
	stft   *spectral.STFT
	logger logging.Logger
}

// DefaultHPSSParams returns a 2048/512 STFT with 31-tap median filters and
// Wiener-style masks
func DefaultHPSSParams() HPSSParams {
	return HPSSParams{
		WindowSize:       2048,
		HopSize:          512,
		HarmonicKernel:   31,
		PercussiveKernel: 31,
		Power:            2.0,
	}
}

// NewHPSS creates a separator with DefaultHPSSParams
func NewHPSS() *HPSS {
	return NewHPSSWithParams(DefaultHPSSParams())
}

// NewHPSSWithParams creates a separator with custom parameters
func NewHPSSWithParams(params HPSSParams) *HPSS {
	return &HPSS{
		params: params,
		stft:   spectral.NewSTFT(),
		logger: logging.WithFields(logging.Fields{
			"component": "hpss",
		}),
	}
}

// Separate returns the harmonic and percussive components of signal. Both
// have the length of the input and sum back to it.
func (h *HPSS) Separate(signal []float64) (harmonic, percussive []float64, err error) {
	return h.SeparateContext(context.Background(), signal)
}

// SeparateContext is Separate, abandoned with ctx's error between stages
// once ctx ends
func (h *HPSS) SeparateContext(ctx context.Context, signal []float64) (harmonic, percussive []float64, err error) {
	if len(signal) == 0 {
		return nil, nil, ErrEmptySignal
	}
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	hann := windowing.NewHann(h.params.WindowSize, false)
	result, err := h.stft.ComputeCentered(signal, h.params.WindowSize, h.params.HopSize, 0, hann)
	if err != nil {
		return nil, nil, fmt.Errorf("hpss STFT: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	harmEnv := h.filterAcrossTime(result.Magnitude)
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	percEnv := h.filterAcrossFrequency(result.Magnitude)
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	harmSpec := make([][]complex128, result.TimeFrames)
	percSpec := make([][]complex128, result.TimeFrames)
	for t := range result.TimeFrames {
		harmSpec[t] = make([]complex128, result.FreqBins)
		percSpec[t] = make([]complex128, result.FreqBins)
		for f := range result.FreqBins {
			mask := softMask(harmEnv[t][f], percEnv[t][f], h.params.Power)
			x := result.Complex[t][f]
			harmSpec[t][f] = x * complex(mask, 0)
			percSpec[t][f] = x * complex(1-mask, 0)
		}
	}

	window := hann.GetCoefficients()
	harmonic, err = spectral.InverseSTFT(harmSpec, h.params.WindowSize, h.params.HopSize, window, len(signal))
	if err != nil {
		return nil, nil, fmt.Errorf("harmonic resynthesis: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	percussive, err = spectral.InverseSTFT(percSpec, h.params.WindowSize, h.params.HopSize, window, len(signal))
	if err != nil {
		return nil, nil, fmt.Errorf("percussive resynthesis: %w", err)
	}

	h.logger.Debug("Separated harmonic and percussive components", logging.Fields{
		"samples": len(signal),
		"frames":  result.TimeFrames,
	})

	return harmonic, percussive, nil
}

// Harmonic returns only the harmonic component of signal
func (h *HPSS) Harmonic(signal []float64) ([]float64, error) {
	harmonic, _, err := h.Separate(signal)
	return harmonic, err
}

// filterAcrossTime median-filters every frequency bin over time
func (h *HPSS) filterAcrossTime(mag [][]float64) [][]float64 {
	frames, bins := len(mag), len(mag[0])
	out := make([][]float64, frames)
	for t := range out {
		out[t] = make([]float64, bins)
	}

	parallelFor(bins, func(f int) {
		column := make([]float64, frames)
		for t := range frames {
			column[t] = mag[t][f]
		}
		for t, v := range common.MedianFilter(column, h.params.HarmonicKernel) {
			out[t][f] = v
		}
	})
	return out
}

// filterAcrossFrequency median-filters every frame over frequency
func (h *HPSS) filterAcrossFrequency(mag [][]float64) [][]float64 {
	out := make([][]float64, len(mag))
	parallelFor(len(mag), func(t int) {
		out[t] = common.MedianFilter(mag[t], h.params.PercussiveKernel)
	})
	return out
}

// softMask returns x^p / (x^p + ref^p), or one half where both are zero
func softMask(x, ref, power float64) float64 {
	z := max(x, ref)
	if z <= 1e-300 {
		return 0.5
	}
	a := math.Pow(x/z, power)
	b := math.Pow(ref/z, power)
	return a / (a + b)
}

// parallelFor runs fn for 0..n-1 on a bounded set of goroutines
func parallelFor(n int, fn func(i int)) {
	workers := max(1, min(runtime.NumCPU(), n))
	jobs := make(chan int, n)
	for i := range n {
		jobs <- i
	}
	close(jobs)

	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				fn(i)
			}
		}()
	}
	wg.Wait()
}
