package analysis

import (
	"context"
	"fmt"

	"github.com/RyanBlaney/sonido-key/algorithms/harmonic"
	"github.com/RyanBlaney/sonido-key/transcode"
)

// Waveform is a decoded signal and its harmonic component
type Waveform struct {
	Samples    []float64
	Harmonic   []float64
	SampleRate int
}

// Decoder turns an audio file into mono PCM
type Decoder interface {
	DecodeFile(ctx context.Context, path string) (*transcode.AudioData, error)
}

// Loader decodes audio files and separates their harmonic component
type Loader struct {
	decoder Decoder
	hpss    *harmonic.HPSS
}

// NewLoader creates a loader around decoder
func NewLoader(decoder Decoder) *Loader {
	return &Loader{
		decoder: decoder,
		hpss:    harmonic.NewHPSS(),
	}
}

// Load decodes path and runs harmonic/percussive separation on the result
func (l *Loader) Load(ctx context.Context, path string) (*Waveform, error) {
	audio, err := l.decoder.DecodeFile(ctx, path)
	if err != nil {
		return nil, err
	}
	return l.Separate(ctx, audio.PCM, audio.SampleRate)
}

// Separate wraps already decoded samples in a Waveform
func (l *Loader) Separate(ctx context.Context, samples []float64, sampleRate int) (*Waveform, error) {
	harm, _, err := l.hpss.SeparateContext(ctx, samples)
	if err != nil {
		return nil, fmt.Errorf("harmonic separation: %w", err)
	}

	return &Waveform{
		Samples:    samples,
		Harmonic:   harm,
		SampleRate: sampleRate,
	}, nil
}
