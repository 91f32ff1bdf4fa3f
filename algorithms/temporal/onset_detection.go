package temporal

import (
	"fmt"
	"math"

	"github.com/RyanBlaney/sonido-key/algorithms/spectral"
	"github.com/RyanBlaney/sonido-key/algorithms/windowing"
)

const (
	// DefaultWindowSize is the STFT size for onset detection
	DefaultWindowSize = 2048

	// DefaultHopSize is the onset envelope hop in samples
	DefaultHopSize = 512

	// logCompression is the gamma in log(1 + gamma*|X|)
	logCompression = 1000.0
)

// OnsetDetection computes onset strength envelopes from spectral flux
type OnsetDetection struct {
	stft         *spectral.STFT
	spectralFlux *spectral.SpectralFlux
	windowSize   int
	hopSize      int
}

// NewOnsetDetection creates an onset detector with a 2048-sample window and
// 512-sample hop
func NewOnsetDetection() *OnsetDetection {
	return NewOnsetDetectionWithParams(DefaultWindowSize, DefaultHopSize)
}

// NewOnsetDetectionWithParams creates an onset detector with custom STFT sizes.
// hopSize must not exceed windowSize/2.
func NewOnsetDetectionWithParams(windowSize, hopSize int) *OnsetDetection {
	return &OnsetDetection{
		stft:         spectral.NewSTFT(),
		spectralFlux: spectral.NewSpectralFlux(),
		windowSize:   windowSize,
		hopSize:      hopSize,
	}
}

// HopSize returns the envelope hop in samples
func (od *OnsetDetection) HopSize() int {
	return od.hopSize
}

// OnsetStrength returns one onset strength value per centered STFT frame:
// the half-wave rectified increase of log-compressed magnitude, averaged
// over frequency bins.
func (od *OnsetDetection) OnsetStrength(signal []float64, sampleRate int) ([]float64, error) {
	if len(signal) == 0 {
		return nil, ErrEmptySignal
	}

	hann := windowing.NewHann(od.windowSize, false)
	stftResult, err := od.stft.ComputeCentered(signal, od.windowSize, od.hopSize, sampleRate, hann)
	if err != nil {
		return nil, fmt.Errorf("onset STFT: %w", err)
	}

	compressed := make([][]float64, len(stftResult.Magnitude))
	for t, mags := range stftResult.Magnitude {
		compressed[t] = make([]float64, len(mags))
		for f, m := range mags {
			compressed[t][f] = math.Log1p(logCompression * m)
		}
	}

	return od.spectralFlux.ComputeRectifiedMean(compressed), nil
}

// OnsetStrength computes the onset strength envelope with the default
// window and hop sizes
func OnsetStrength(signal []float64, sampleRate int) ([]float64, error) {
	return NewOnsetDetection().OnsetStrength(signal, sampleRate)
}
