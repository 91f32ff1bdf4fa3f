package spectral

import (
	"fmt"
	"math/cmplx"
	"runtime"
	"sync"

	"gonum.org/v1/gonum/dsp/fourier"
)

// STFT provides Short-Time Fourier Transform functionality
type STFT struct {
	fft *FFT
}

// STFTResult holds the result of STFT analysis
type STFTResult struct {
	Magnitude      [][]float64    `json:"magnitude"`       // Time x Frequency magnitude matrix
	Phase          [][]float64    `json:"phase"`           // Time x Frequency phase matrix
	Complex        [][]complex128 `json:"-"`               // Raw complex spectrogram (not serialized)
	TimeFrames     int            `json:"time_frames"`     // Number of time frames
	FreqBins       int            `json:"freq_bins"`       // Number of frequency bins
	SampleRate     int            `json:"sample_rate"`     // Sample rate
	WindowSize     int            `json:"window_size"`     // FFT window size
	HopSize        int            `json:"hop_size"`        // Hop size between frames
	Centered       bool           `json:"centered"`        // Frame t is centered on sample t*HopSize
	FreqResolution float64        `json:"freq_resolution"` // Frequency resolution (Hz/bin)
	TimeResolution float64        `json:"time_resolution"` // Time resolution (seconds/frame)
}

// Window interface for windowing functions
type Window interface {
	ApplyInPlace(signal []float64) error
}

// NewSTFT creates a new STFT calculator
func NewSTFT() *STFT {
	return &STFT{
		fft: NewFFT(),
	}
}

// ComputeWithWindow computes STFT with parallel processing and custom window type.
// Frame t starts at sample t*hopSize; only frames that fit entirely inside the
// signal are produced.
func (s *STFT) ComputeWithWindow(signal []float64, windowSize int, hopSize int, sampleRate int, window Window) (*STFTResult, error) {
	if len(signal) == 0 {
		return nil, fmt.Errorf("empty signal")
	}

	if windowSize <= 0 {
		return nil, fmt.Errorf("window size must be positive")
	}

	if hopSize <= 0 {
		return nil, fmt.Errorf("hop size must be positive")
	}

	numFrames := (len(signal)-windowSize)/hopSize + 1
	if len(signal) < windowSize || numFrames <= 0 {
		return nil, fmt.Errorf("signal too short for given window size and hop size")
	}

	// Positive frequencies only
	freqBins := windowSize/2 + 1

	magnitude := make([][]float64, numFrames)
	phase := make([][]float64, numFrames)
	complexSpectrum := make([][]complex128, numFrames)

	for i := range numFrames {
		magnitude[i] = make([]float64, freqBins)
		phase[i] = make([]float64, freqBins)
		complexSpectrum[i] = make([]complex128, freqBins)
	}

	numWorkers := s.getOptimalWorkerCount(numFrames)

	jobs := make(chan int, numFrames)
	errs := make(chan error, numWorkers)

	var wg sync.WaitGroup

	for range numWorkers {
		wg.Add(1)
		go func() {
			defer wg.Done()

			// Reuse frame buffer for this worker
			frameBuffer := make([]float64, windowSize)

			for frameIdx := range jobs {
				startIdx := frameIdx * hopSize
				copy(frameBuffer, signal[startIdx:startIdx+windowSize])

				if window != nil {
					if err := window.ApplyInPlace(frameBuffer); err != nil {
						errs <- err
						return
					}
				}

				fftResult := s.fft.Compute(frameBuffer)

				for i := range freqBins {
					complexSpectrum[frameIdx][i] = fftResult[i]
					magnitude[frameIdx][i] = cmplx.Abs(fftResult[i])
					phase[frameIdx][i] = cmplx.Phase(fftResult[i])
				}
			}
		}()
	}

	for frameIdx := range numFrames {
		jobs <- frameIdx
	}
	close(jobs)

	wg.Wait()
	close(errs)

	if err := <-errs; err != nil {
		return nil, fmt.Errorf("failed to apply window: %w", err)
	}

	return &STFTResult{
		Magnitude:      magnitude,
		Phase:          phase,
		Complex:        complexSpectrum,
		TimeFrames:     numFrames,
		FreqBins:       freqBins,
		SampleRate:     sampleRate,
		WindowSize:     windowSize,
		HopSize:        hopSize,
		FreqResolution: float64(sampleRate) / float64(windowSize),
		TimeResolution: float64(hopSize) / float64(sampleRate),
	}, nil
}

// ComputeCentered computes an STFT whose frame t is centered on sample
// t*hopSize. The signal is zero-padded by windowSize/2 on the left and far
// enough on the right that every input sample is covered, giving
// 1 + len(signal)/hopSize frames.
func (s *STFT) ComputeCentered(signal []float64, windowSize int, hopSize int, sampleRate int, window Window) (*STFTResult, error) {
	if len(signal) == 0 {
		return nil, fmt.Errorf("empty signal")
	}
	if windowSize <= 0 || hopSize <= 0 {
		return nil, fmt.Errorf("window size and hop size must be positive")
	}
	if hopSize > windowSize/2 {
		return nil, fmt.Errorf("hop size (%d) must not exceed half the window size (%d)", hopSize, windowSize)
	}

	numFrames := 1 + len(signal)/hopSize
	paddedLen := max((numFrames-1)*hopSize+windowSize, len(signal)+windowSize/2)

	padded := make([]float64, paddedLen)
	copy(padded[windowSize/2:], signal)

	result, err := s.ComputeWithWindow(padded, windowSize, hopSize, sampleRate, window)
	if err != nil {
		return nil, err
	}
	result.Centered = true
	return result, nil
}

// InverseSTFT resynthesizes a signal of the given length from a centered
// STFT by weighted overlap-add. window must be the analysis window; each
// output sample is divided by the summed squared window covering it.
func InverseSTFT(spectrum [][]complex128, windowSize, hopSize int, window []float64, length int) ([]float64, error) {
	if len(spectrum) == 0 {
		return nil, fmt.Errorf("empty spectrum")
	}
	if len(window) != windowSize {
		return nil, fmt.Errorf("window length (%d) doesn't match window size (%d)", len(window), windowSize)
	}
	if len(spectrum[0]) != windowSize/2+1 {
		return nil, fmt.Errorf("expected %d frequency bins, got %d", windowSize/2+1, len(spectrum[0]))
	}

	outLen := (len(spectrum)-1)*hopSize + windowSize
	output := make([]float64, outLen)
	windowSum := make([]float64, outLen)

	plan := fourier.NewFFT(windowSize)
	frame := make([]float64, windowSize)
	scale := 1.0 / float64(windowSize)

	for t, coeffs := range spectrum {
		// gonum's inverse is unnormalized: the result is scaled by windowSize
		frame = plan.Sequence(frame, coeffs)

		start := t * hopSize
		for n := range windowSize {
			output[start+n] += frame[n] * scale * window[n]
			windowSum[start+n] += window[n] * window[n]
		}
	}

	for i := range output {
		if windowSum[i] > 1e-10 {
			output[i] /= windowSum[i]
		}
	}

	offset := windowSize / 2
	result := make([]float64, length)
	if offset < len(output) {
		copy(result, output[offset:])
	}
	return result, nil
}

// getOptimalWorkerCount determines the optimal number of workers based on workload
func (s *STFT) getOptimalWorkerCount(numFrames int) int {
	numCPU := runtime.NumCPU()

	// For small workloads, don't over-parallelize
	if numFrames < 100 {
		return max(1, min(numCPU/2, numFrames))
	}

	// For medium workloads, use most CPUs
	if numFrames < 1000 {
		return min(numCPU, 8)
	}

	return numCPU
}
