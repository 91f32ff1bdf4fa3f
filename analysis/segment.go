package analysis

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/RyanBlaney/sonido-key/algorithms/tonal"
)

// Segment selects the part of a waveform used for key estimation. A zero
// End means the end of the waveform.
type Segment struct {
	Start time.Duration `json:"start"`
	End   time.Duration `json:"end"`
}

// Full selects the whole waveform
var Full = Segment{}

// ErrInvalidTime is returned for segment times that are negative, not finite
// or too large for a time.Duration
var ErrInvalidTime = errors.New("invalid segment time")

// maxSeconds keeps seconds*1e9 well inside the int64 range of time.Duration
const maxSeconds = 1e9

// Seconds converts a segment time in seconds to a Duration
func Seconds(secs float64) (time.Duration, error) {
	if math.IsNaN(secs) || secs < 0 || secs > maxSeconds {
		return 0, fmt.Errorf("%w: %v", ErrInvalidTime, secs)
	}
	return time.Duration(secs * float64(time.Second)), nil
}

// Bounds converts the segment to sample indices [lo, hi) of a waveform with n
// samples. Times map to samples by floor(t*sampleRate) and are clamped to
// the waveform. An empty range is ErrInsufficientData.
func (s Segment) Bounds(n, sampleRate int) (lo, hi int, err error) {
	lo = clampSample(s.Start, n, sampleRate)
	hi = n
	if s.End > 0 {
		hi = clampSample(s.End, n, sampleRate)
	}
	if hi <= lo {
		return 0, 0, tonal.ErrInsufficientData
	}
	return lo, hi, nil
}

// Slice returns the samples selected by the segment
func (s Segment) Slice(samples []float64, sampleRate int) ([]float64, error) {
	lo, hi, err := s.Bounds(len(samples), sampleRate)
	if err != nil {
		return nil, err
	}
	return samples[lo:hi], nil
}

func clampSample(t time.Duration, n, sampleRate int) int {
	idx := int(math.Floor(t.Seconds() * float64(sampleRate)))
	return min(max(idx, 0), n)
}
