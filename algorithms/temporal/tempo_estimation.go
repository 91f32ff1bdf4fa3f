package temporal

import (
	"errors"
	"math"

	"github.com/RyanBlaney/sonido-key/algorithms/common"
	"github.com/RyanBlaney/sonido-key/logging"
)

// ErrEmptySignal is returned when there are no samples to analyze
var ErrEmptySignal = errors.New("empty signal")

const (
	// DefaultStartBPM centers the tempo prior
	DefaultStartBPM = 120.0

	// MinBPM and MaxBPM bound the tempo search
	MinBPM = 30.0
	MaxBPM = 300.0

	// maxLagSeconds is the longest autocorrelation lag considered
	maxLagSeconds = 8.0

	// priorOctaves is the standard deviation of the log-normal tempo prior
	priorOctaves = 1.0
)

// TempoResult holds a tempo estimate and the tracked beats
type TempoResult struct {
	BPM   float64   `json:"bpm"`
	Beats []float64 `json:"beats"` // Beat times in seconds
}

// TempoEstimation estimates tempo and beat positions from an audio signal
type TempoEstimation struct {
	onsetDetector *OnsetDetection
	startBPM      float64
	tightness     float64
	logger        logging.Logger
}

// NewTempoEstimation creates a tempo estimator with a 120 BPM prior and the
// default beat tracking tightness
func NewTempoEstimation() *TempoEstimation {
	return &TempoEstimation{
		onsetDetector: NewOnsetDetection(),
		startBPM:      DefaultStartBPM,
		tightness:     DefaultTightness,
		logger: logging.WithFields(logging.Fields{
			"component": "tempo_estimation",
		}),
	}
}

// Estimate computes the onset envelope of signal, estimates the tempo and
// tracks beats. A signal without onsets yields BPM 0 and no beats.
func (te *TempoEstimation) Estimate(signal []float64, sampleRate int) (*TempoResult, error) {
	if len(signal) == 0 {
		return nil, ErrEmptySignal
	}

	env, err := te.onsetDetector.OnsetStrength(signal, sampleRate)
	if err != nil {
		return nil, err
	}

	hop := te.onsetDetector.HopSize()
	bpm := estimateTempo(env, sampleRate, hop, te.startBPM)
	if bpm == 0 {
		te.logger.Debug("No onsets found", logging.Fields{
			"frames": len(env),
		})
		return &TempoResult{}, nil
	}

	beats := trackBeats(env, bpm, sampleRate, hop, te.tightness)

	te.logger.Debug("Tempo estimated", logging.Fields{
		"bpm":    bpm,
		"beats":  len(beats),
		"frames": len(env),
	})

	return &TempoResult{BPM: bpm, Beats: beats}, nil
}

// EstimateTempo estimates the tempo in BPM of an onset envelope sampled every
// hopSize samples. It returns 0 when the envelope has no periodic energy.
func EstimateTempo(onsetEnv []float64, sampleRate, hopSize int) float64 {
	return estimateTempo(onsetEnv, sampleRate, hopSize, DefaultStartBPM)
}

func estimateTempo(onsetEnv []float64, sampleRate, hopSize int, startBPM float64) float64 {
	if len(onsetEnv) < 3 || sampleRate <= 0 || hopSize <= 0 {
		return 0
	}

	framesPerMinute := 60.0 * float64(sampleRate) / float64(hopSize)
	maxLag := min(len(onsetEnv)-1, int(math.Round(maxLagSeconds*float64(sampleRate)/float64(hopSize))))
	autocorr := calculateAutocorrelation(onsetEnv, maxLag)

	// Weight every lag by a log-normal prior around startBPM
	scores := make([]float64, len(autocorr))
	for lag := 1; lag < len(autocorr); lag++ {
		bpm := framesPerMinute / float64(lag)
		z := math.Log2(bpm/startBPM) / priorOctaves
		scores[lag] = autocorr[lag] * math.Exp(-0.5*z*z)
	}

	bestLag := 0
	for lag := 1; lag < len(scores); lag++ {
		bpm := framesPerMinute / float64(lag)
		if bpm < MinBPM || bpm > MaxBPM {
			continue
		}
		if bestLag == 0 || scores[lag] > scores[bestLag] {
			bestLag = lag
		}
	}

	if bestLag == 0 || scores[bestLag] <= 0 {
		return 0
	}

	return framesPerMinute / common.ParabolicPeak(scores, bestLag)
}

// calculateAutocorrelation returns the unnormalized autocorrelation for lags
// 0..maxLag
func calculateAutocorrelation(signal []float64, maxLag int) []float64 {
	maxLag = min(maxLag, len(signal)-1)
	autocorr := make([]float64, maxLag+1)

	for lag := range autocorr {
		sum := 0.0
		for i := 0; i < len(signal)-lag; i++ {
			sum += signal[i] * signal[i+lag]
		}
		autocorr[lag] = sum
	}

	return autocorr
}
