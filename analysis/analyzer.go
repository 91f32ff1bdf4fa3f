package analysis

import (
	"context"
	"fmt"
	"time"

	"github.com/RyanBlaney/sonido-key/algorithms/chroma"
	"github.com/RyanBlaney/sonido-key/algorithms/temporal"
	"github.com/RyanBlaney/sonido-key/algorithms/tonal"
	"github.com/RyanBlaney/sonido-key/logging"
)

// Config holds the analysis parameters
type Config struct {
	SampleRate    int     `json:"sample_rate"`
	HopSize       int     `json:"hop_size"`
	BinsPerOctave int     `json:"bins_per_octave"`
	TuningFreq    float64 `json:"tuning_freq"`
	ChromaWorkers int     `json:"chroma_workers"` // 0 uses all CPUs
}

// DefaultConfig returns the standard analysis parameters at 22050 Hz
func DefaultConfig() Config {
	cqt := chroma.DefaultCQTConfig(22050)
	return Config{
		SampleRate:    cqt.SampleRate,
		HopSize:       cqt.HopSize,
		BinsPerOctave: cqt.BinsPerOctave,
		TuningFreq:    cqt.TuningFreq,
	}
}

// Result is the outcome of analyzing one waveform
type Result struct {
	BPM            float64   `json:"bpm"`
	Key            string    `json:"key"`
	Correlation    float64   `json:"correlation"`
	AltKey         string    `json:"alternate_key,omitempty"`
	AltCorrelation float64   `json:"alternate_correlation,omitempty"`
	Beats          []float64 `json:"beats,omitempty"`
	Duration       float64   `json:"duration"` // Seconds

	Profile    tonal.PitchClassProfile `json:"-"`
	Estimate   *tonal.KeyEstimate      `json:"-"`
	Chromagram *chroma.Chromagram      `json:"-"`
}

// Analyzer estimates key and tempo. It holds only immutable state and is
// safe for concurrent use.
type Analyzer struct {
	config Config
	loader *Loader
	cqt    *chroma.ChromaCQT
	logger logging.Logger
}

// NewAnalyzer builds the CQT kernel for config and wires it to decoder
func NewAnalyzer(config Config, decoder Decoder) (*Analyzer, error) {
	cqtConfig := chroma.DefaultCQTConfig(config.SampleRate)
	cqtConfig.HopSize = config.HopSize
	cqtConfig.BinsPerOctave = config.BinsPerOctave
	cqtConfig.TuningFreq = config.TuningFreq
	cqtConfig.Workers = config.ChromaWorkers

	cqt, err := chroma.NewChromaCQT(cqtConfig)
	if err != nil {
		return nil, fmt.Errorf("chroma: %w", err)
	}

	return &Analyzer{
		config: config,
		loader: NewLoader(decoder),
		cqt:    cqt,
		logger: logging.WithFields(logging.Fields{
			"component": "analyzer",
		}),
	}, nil
}

// Config returns the analysis parameters
func (a *Analyzer) Config() Config {
	return a.config
}

// AnalyzeFile decodes path, estimates the tempo of the whole mixture and the
// key of the harmonic component within seg
func (a *Analyzer) AnalyzeFile(ctx context.Context, path string, seg Segment) (*Result, error) {
	wave, err := a.loader.Load(ctx, path)
	if err != nil {
		return nil, err
	}
	return a.analyze(ctx, wave, seg)
}

// AnalyzeWaveform runs the same analysis as AnalyzeFile on decoded samples
func (a *Analyzer) AnalyzeWaveform(ctx context.Context, samples []float64, sampleRate int, seg Segment) (*Result, error) {
	if err := a.checkRate(sampleRate); err != nil {
		return nil, err
	}
	wave, err := a.loader.Separate(ctx, samples, sampleRate)
	if err != nil {
		return nil, err
	}
	return a.analyze(ctx, wave, seg)
}

// Chromagram decodes path and returns the chromagram of its harmonic
// component within seg
func (a *Analyzer) Chromagram(ctx context.Context, path string, seg Segment) (*chroma.Chromagram, error) {
	wave, err := a.loader.Load(ctx, path)
	if err != nil {
		return nil, err
	}
	return a.chromagram(ctx, wave, seg)
}

// EstimateKey runs key estimation directly on samples, without harmonic
// separation or tempo estimation
func (a *Analyzer) EstimateKey(ctx context.Context, samples []float64, sampleRate int, seg Segment) (*tonal.KeyEstimate, error) {
	if err := a.checkRate(sampleRate); err != nil {
		return nil, err
	}
	wave := &Waveform{Samples: samples, Harmonic: samples, SampleRate: sampleRate}

	c, err := a.chromagram(ctx, wave, seg)
	if err != nil {
		return nil, err
	}
	profile, err := tonal.ExtractProfile(c)
	if err != nil {
		return nil, err
	}
	return tonal.EstimateKey(profile)
}

func (a *Analyzer) analyze(ctx context.Context, wave *Waveform, seg Segment) (*Result, error) {
	if err := a.checkRate(wave.SampleRate); err != nil {
		return nil, err
	}
	start := time.Now()
	logger := logging.WithContext(ctx).WithFields(logging.Fields{
		"component": "analyzer",
		"samples":   len(wave.Samples),
	})

	tempo, err := temporal.NewTempoEstimation().Estimate(wave.Samples, wave.SampleRate)
	if err != nil {
		return nil, fmt.Errorf("tempo: %w", err)
	}

	c, err := a.chromagram(ctx, wave, seg)
	if err != nil {
		return nil, err
	}

	profile, err := tonal.ExtractProfile(c)
	if err != nil {
		return nil, err
	}
	estimate, err := tonal.EstimateKey(profile)
	if err != nil {
		return nil, err
	}

	result := &Result{
		BPM:         tempo.BPM,
		Key:         estimate.Key,
		Correlation: estimate.Correlation,
		Beats:       tempo.Beats,
		Duration:    float64(len(wave.Samples)) / float64(wave.SampleRate),
		Profile:     profile,
		Estimate:    estimate,
		Chromagram:  c,
	}
	if estimate.HasAlt {
		result.AltKey = estimate.AltKey
		result.AltCorrelation = estimate.AltCorrelation
	}

	logger.Info("Analysis complete", logging.Fields{
		"key":         result.Key,
		"correlation": result.Correlation,
		"bpm":         result.BPM,
		"elapsed_ms":  time.Since(start).Milliseconds(),
	})

	return result, nil
}

func (a *Analyzer) chromagram(ctx context.Context, wave *Waveform, seg Segment) (*chroma.Chromagram, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	segment, err := seg.Slice(wave.Harmonic, wave.SampleRate)
	if err != nil {
		return nil, err
	}
	return a.cqt.ComputeContext(ctx, segment)
}

func (a *Analyzer) checkRate(sampleRate int) error {
	if sampleRate != a.config.SampleRate {
		return fmt.Errorf("sample rate %d Hz does not match analyzer rate %d Hz", sampleRate, a.config.SampleRate)
	}
	return nil
}
