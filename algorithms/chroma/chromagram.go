package chroma

import "errors"

// NumPitchClasses is the number of chroma rows
const NumPitchClasses = 12

// ErrInsufficientData is returned when a signal or chromagram has nothing to analyze
var ErrInsufficientData = errors.New("insufficient data for chroma analysis")

var pitchClassNames = [NumPitchClasses]string{"C", "C#", "D", "D#", "E", "F", "F#", "G", "G#", "A", "A#", "B"}

// PitchClassNames returns the chroma row labels, C first
func PitchClassNames() [NumPitchClasses]string {
	return pitchClassNames
}

// Chromagram is a 12 x T grid of non-negative pitch-class energies.
// Bins[p][t] is the energy of pitch class p (0 = C) in frame t.
type Chromagram struct {
	Bins       [NumPitchClasses][]float64 `json:"bins"`
	SampleRate int                        `json:"sample_rate"`
	HopSize    int                        `json:"hop_size"`
}

// NewChromagram allocates an all-zero chromagram with the given number of frames
func NewChromagram(frames, sampleRate, hopSize int) *Chromagram {
	c := &Chromagram{
		SampleRate: sampleRate,
		HopSize:    hopSize,
	}
	for p := range c.Bins {
		c.Bins[p] = make([]float64, frames)
	}
	return c
}

// Frames returns the number of time frames
func (c *Chromagram) Frames() int {
	if c == nil {
		return 0
	}
	return len(c.Bins[0])
}

// Frame returns the 12 energies of frame t
func (c *Chromagram) Frame(t int) [NumPitchClasses]float64 {
	var frame [NumPitchClasses]float64
	for p := range c.Bins {
		frame[p] = c.Bins[p][t]
	}
	return frame
}
