package chroma

import (
	"context"
	"fmt"
	"math"
	"math/cmplx"
	"runtime"
	"sync"

	"gonum.org/v1/gonum/dsp/fourier"

	"github.com/RyanBlaney/sonido-key/algorithms/common"
	"github.com/RyanBlaney/sonido-key/algorithms/windowing"
	"github.com/RyanBlaney/sonido-key/logging"
)

// ChromaCQT computes chromagrams using a Constant-Q Transform.
//
// CQT bins are logarithmically spaced, f_k = f_min * 2^(k/bins_per_octave), so
// every bin spans the same musical interval. With 24 bins per octave each bin
// is a quarter tone wide; pairs of adjacent bins are summed back into the 12
// pitch classes, which sharpens key discrimination compared to semitone bins.
//
// The transform uses the spectral-kernel method: each bin's time-domain
// kernel (a Hann-windowed complex exponential) is moved to the frequency
// domain once, trimmed to its significant coefficients, and then applied to
// the FFT of every frame. The kernel is immutable after construction so a
// ChromaCQT can be shared by concurrent analyses.
type ChromaCQT struct {
	config  CQTConfig
	qFactor float64
	fftSize int
	bins    []cqtBin
	logger  logging.Logger
}

// CQTConfig holds the constant-Q chroma parameters
type CQTConfig struct {
	SampleRate    int     `json:"sample_rate"`
	HopSize       int     `json:"hop_size"`
	MinFreq       float64 `json:"min_freq"`        // Lowest bin; 0 selects C2 relative to TuningFreq
	Octaves       int     `json:"octaves"`         // Number of octaves above MinFreq
	BinsPerOctave int     `json:"bins_per_octave"` // Multiple of 12
	TuningFreq    float64 `json:"tuning_freq"`     // A4 frequency
	Workers       int     `json:"workers"`         // Frame workers; 0 uses all CPUs
}

// cqtBin is one sparse spectral kernel. kernel[j] multiplies spectrum
// coefficient start+j and already carries the conjugation and 1/N scaling.
type cqtBin struct {
	freq   float64
	chroma int
	start  int
	kernel []complex128
}

// kernelThreshold drops spectral kernel coefficients below this fraction of
// the bin's peak magnitude
const kernelThreshold = 1e-3

// DefaultCQTConfig returns the standard settings: hop 512, C2 to C8,
// quarter-tone resolution, A4 = 440 Hz
func DefaultCQTConfig(sampleRate int) CQTConfig {
	return CQTConfig{
		SampleRate:    sampleRate,
		HopSize:       512,
		Octaves:       6,
		BinsPerOctave: 24,
		TuningFreq:    440.0,
	}
}

// NewChromaCQTDefault creates a CQT chromagram calculator with DefaultCQTConfig
func NewChromaCQTDefault(sampleRate int) (*ChromaCQT, error) {
	return NewChromaCQT(DefaultCQTConfig(sampleRate))
}

// NewChromaCQT validates the configuration and pre-computes the CQT kernel
func NewChromaCQT(config CQTConfig) (*ChromaCQT, error) {
	if config.SampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive: %d", config.SampleRate)
	}
	if config.HopSize <= 0 {
		return nil, fmt.Errorf("hop size must be positive: %d", config.HopSize)
	}
	if config.BinsPerOctave < NumPitchClasses || config.BinsPerOctave%NumPitchClasses != 0 {
		return nil, fmt.Errorf("bins per octave must be a positive multiple of 12: %d", config.BinsPerOctave)
	}
	if config.Octaves <= 0 {
		return nil, fmt.Errorf("octaves must be positive: %d", config.Octaves)
	}
	if config.TuningFreq <= 0 {
		return nil, fmt.Errorf("tuning frequency must be positive: %f", config.TuningFreq)
	}
	if config.MinFreq <= 0 {
		// C2 is MIDI note 36
		config.MinFreq = config.TuningFreq * math.Pow(2, (36.0-69.0)/12.0)
	}
	if config.MinFreq >= float64(config.SampleRate)/2 {
		return nil, fmt.Errorf("minimum frequency %.1f Hz is above Nyquist for %d Hz", config.MinFreq, config.SampleRate)
	}

	cqt := &ChromaCQT{
		config:  config,
		qFactor: 1.0 / (math.Pow(2, 1.0/float64(config.BinsPerOctave)) - 1),
		logger: logging.WithFields(logging.Fields{
			"component": "chroma_cqt",
		}),
	}
	cqt.computeKernel()

	cqt.logger.Debug("CQT kernel computed", logging.Fields{
		"sample_rate":     config.SampleRate,
		"bins":            len(cqt.bins),
		"bins_per_octave": config.BinsPerOctave,
		"fft_size":        cqt.fftSize,
		"q_factor":        cqt.qFactor,
	})

	return cqt, nil
}

// computeKernel builds the sparse spectral kernel for every bin below Nyquist
func (cqt *ChromaCQT) computeKernel() {
	sr := float64(cqt.config.SampleRate)
	totalBins := cqt.config.Octaves * cqt.config.BinsPerOctave

	freqs := make([]float64, 0, totalBins)
	for k := range totalBins {
		freq := cqt.config.MinFreq * math.Pow(2.0, float64(k)/float64(cqt.config.BinsPerOctave))
		if freq >= sr/2 {
			break
		}
		freqs = append(freqs, freq)
	}

	// The lowest frequency has the longest kernel
	cqt.fftSize = common.NextPowerOfTwo(cqt.kernelLength(freqs[0]))
	plan := fourier.NewCmplxFFT(cqt.fftSize)
	half := cqt.fftSize / 2

	cqt.bins = make([]cqtBin, 0, len(freqs))
	timeKernel := make([]complex128, cqt.fftSize)
	spectrum := make([]complex128, cqt.fftSize)

	for _, freq := range freqs {
		length := cqt.kernelLength(freq)
		hann := windowing.NewHann(length, false)
		coeffs := hann.GetCoefficients()
		norm := hann.Sum()

		clear(timeKernel)
		offset := (cqt.fftSize - length) / 2
		for j := range length {
			t := float64(j - length/2)
			phase := 2.0 * math.Pi * freq * t / sr
			timeKernel[offset+j] = complex(coeffs[j]/norm, 0) * cmplx.Exp(complex(0, phase))
		}

		spectrum = plan.Coefficients(spectrum, timeKernel)

		// Keep the contiguous run of significant positive-frequency coefficients
		peak := 0.0
		for m := 0; m <= half; m++ {
			peak = math.Max(peak, cmplx.Abs(spectrum[m]))
		}
		lo, hi := -1, -1
		for m := 0; m <= half; m++ {
			if cmplx.Abs(spectrum[m]) >= kernelThreshold*peak {
				if lo < 0 {
					lo = m
				}
				hi = m
			}
		}

		kernel := make([]complex128, hi-lo+1)
		scale := complex(1.0/float64(cqt.fftSize), 0)
		for j := range kernel {
			kernel[j] = cmplx.Conj(spectrum[lo+j]) * scale
		}

		cqt.bins = append(cqt.bins, cqtBin{
			freq:   freq,
			chroma: cqt.frequencyToChroma(freq),
			start:  lo,
			kernel: kernel,
		})
	}
}

// kernelLength returns ceil(Q * sr / f), bounded to at least one sample
func (cqt *ChromaCQT) kernelLength(frequency float64) int {
	return max(1, int(math.Ceil(cqt.qFactor*float64(cqt.config.SampleRate)/frequency)))
}

// frequencyToChroma maps a frequency to its nearest pitch class. Bins that sit
// exactly between two semitones (quarter tones) go to the upper one.
func (cqt *ChromaCQT) frequencyToChroma(frequency float64) int {
	midi := 69.0 + 12.0*math.Log2(frequency/cqt.config.TuningFreq)
	note := int(math.Floor(midi + 0.5 + 1e-9))
	return ((note % NumPitchClasses) + NumPitchClasses) % NumPitchClasses
}

// Compute computes the chromagram of signal. Frame t is centered on sample
// t*HopSize and the signal is treated as zero outside its bounds, so the
// result always has 1 + len(signal)/HopSize frames. Energies are CQT
// magnitudes summed per pitch class, without normalization.
func (cqt *ChromaCQT) Compute(signal []float64) (*Chromagram, error) {
	return cqt.ComputeContext(context.Background(), signal)
}

// ComputeContext is Compute, stopped between frames once ctx ends. The
// partial chromagram is discarded and ctx's error returned.
func (cqt *ChromaCQT) ComputeContext(ctx context.Context, signal []float64) (*Chromagram, error) {
	if len(signal) == 0 {
		return nil, ErrInsufficientData
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	numFrames := 1 + len(signal)/cqt.config.HopSize
	chromagram := NewChromagram(numFrames, cqt.config.SampleRate, cqt.config.HopSize)

	workers := cqt.config.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	workers = max(1, min(workers, numFrames))

	frames := make(chan int, numFrames)
	for t := range numFrames {
		frames <- t
	}
	close(frames)

	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()

			// FFT plans keep work buffers, so each worker owns one
			plan := fourier.NewFFT(cqt.fftSize)
			frame := make([]float64, cqt.fftSize)
			spectrum := make([]complex128, cqt.fftSize/2+1)

			for t := range frames {
				if ctx.Err() != nil {
					return
				}
				cqt.fillFrame(frame, signal, t*cqt.config.HopSize)
				spectrum = plan.Coefficients(spectrum, frame)

				for _, bin := range cqt.bins {
					var acc complex128
					for j, k := range bin.kernel {
						acc += spectrum[bin.start+j] * k
					}
					chromagram.Bins[bin.chroma][t] += cmplx.Abs(acc)
				}
			}
		}()
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return chromagram, nil
}

// fillFrame copies the fftSize samples centered on center into frame,
// zero-filling outside the signal
func (cqt *ChromaCQT) fillFrame(frame, signal []float64, center int) {
	clear(frame)

	start := center - cqt.fftSize/2
	lo := max(0, -start)
	hi := min(cqt.fftSize, len(signal)-start)
	if lo < hi {
		copy(frame[lo:hi], signal[start+lo:start+hi])
	}
}

// GetConfig returns the effective configuration, including the derived MinFreq
func (cqt *ChromaCQT) GetConfig() CQTConfig {
	return cqt.config
}

// GetQFactor returns the quality factor
func (cqt *ChromaCQT) GetQFactor() float64 {
	return cqt.qFactor
}

// GetCQTFrequencies returns the center frequency of every CQT bin
func (cqt *ChromaCQT) GetCQTFrequencies() []float64 {
	freqs := make([]float64, len(cqt.bins))
	for i, bin := range cqt.bins {
		freqs[i] = bin.freq
	}
	return freqs
}
