package tonal

import (
	"errors"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/RyanBlaney/sonido-key/algorithms/chroma"
	"github.com/RyanBlaney/sonido-key/algorithms/common"
)

// NumKeys is the number of candidate keys: 12 majors and 12 minors
const NumKeys = 2 * chroma.NumPitchClasses

// alternateRatio is the fraction of the best correlation an alternate key
// must exceed
const alternateRatio = 0.9

var (
	// ErrInsufficientData is returned when there are no chroma frames to profile
	ErrInsufficientData = chroma.ErrInsufficientData

	// ErrDegenerateProfile is returned when a pitch-class profile has no
	// variance or contains non-finite values, so correlation is undefined
	ErrDegenerateProfile = errors.New("degenerate pitch-class profile")
)

// KeyMode represents major or minor mode
type KeyMode int

const (
	KeyModeMajor KeyMode = iota
	KeyModeMinor
)

func (m KeyMode) String() string {
	if m == KeyModeMinor {
		return "minor"
	}
	return "major"
}

// Krumhansl-Kessler tone ratings, tonic first
var (
	majorProfile = [chroma.NumPitchClasses]float64{6.35, 2.23, 3.48, 2.33, 4.38, 4.09, 2.52, 5.19, 2.39, 3.66, 2.29, 2.88}
	minorProfile = [chroma.NumPitchClasses]float64{6.33, 2.68, 3.52, 5.38, 2.60, 3.53, 2.54, 4.75, 3.98, 2.69, 3.34, 3.17}
)

// MajorProfile returns the Krumhansl major key profile
func MajorProfile() [chroma.NumPitchClasses]float64 {
	return majorProfile
}

// MinorProfile returns the Krumhansl minor key profile
func MinorProfile() [chroma.NumPitchClasses]float64 {
	return minorProfile
}

// PitchClasses returns the pitch class names, C first
func PitchClasses() [chroma.NumPitchClasses]string {
	return chroma.PitchClassNames()
}

// KeyName returns a human-readable key name such as "A minor"
func KeyName(root int, mode KeyMode) string {
	names := chroma.PitchClassNames()
	return names[wrap(root)] + " " + mode.String()
}

// RelativeKey returns the relative major/minor key
func RelativeKey(root int, mode KeyMode) (int, KeyMode) {
	if mode == KeyModeMajor {
		// Relative minor is 3 semitones down
		return wrap(root - 3), KeyModeMinor
	}
	return wrap(root + 3), KeyModeMajor
}

func wrap(i int) int {
	return ((i % chroma.NumPitchClasses) + chroma.NumPitchClasses) % chroma.NumPitchClasses
}

// PitchClassProfile is the total chroma energy per pitch class over a
// passage, in order C, C#, ..., B
type PitchClassProfile [chroma.NumPitchClasses]float64

// ExtractProfile sums every chromagram row over time
func ExtractProfile(c *chroma.Chromagram) (PitchClassProfile, error) {
	var profile PitchClassProfile
	if c.Frames() == 0 {
		return profile, ErrInsufficientData
	}

	for p := range c.Bins {
		profile[p] = floats.Sum(c.Bins[p])
	}
	return profile, nil
}

// Rotate returns the profile rotated so that pitch class m comes first:
// out[i] = p[(i+m) mod 12]
func (p PitchClassProfile) Rotate(m int) PitchClassProfile {
	var out PitchClassProfile
	for i := range out {
		out[i] = p[wrap(i+m)]
	}
	return out
}

// Map returns the profile keyed by pitch class name
func (p PitchClassProfile) Map() map[string]float64 {
	names := chroma.PitchClassNames()
	m := make(map[string]float64, len(p))
	for i, v := range p {
		m[names[i]] = v
	}
	return m
}

// Relative returns the profile scaled so its largest value is 1. A profile
// with no positive values is returned unchanged.
func (p PitchClassProfile) Relative() PitchClassProfile {
	peak := floats.Max(p[:])
	if peak <= 0 {
		return p
	}
	out := p
	floats.Scale(1/peak, out[:])
	return out
}

// KeyCandidate is one of the 24 keys with its profile correlation
type KeyCandidate struct {
	Name        string  `json:"name"`
	Root        int     `json:"root"` // 0=C, 1=C#, ..., 11=B
	Mode        KeyMode `json:"mode"`
	Correlation float64 `json:"correlation"`
}

// KeyEstimate is the outcome of a key estimation
type KeyEstimate struct {
	Key         string  `json:"key"`
	Correlation float64 `json:"correlation"`

	// Set only when HasAlt is true
	AltKey         string  `json:"alternate_key,omitempty"`
	AltCorrelation float64 `json:"alternate_correlation,omitempty"`
	HasAlt         bool    `json:"-"`

	// All keys in enumeration order: C major .. B major, C minor .. B minor
	Candidates [NumKeys]KeyCandidate `json:"candidates"`
}

// Ranked returns the candidates by descending correlation. Equal
// correlations keep enumeration order.
func (k *KeyEstimate) Ranked() []KeyCandidate {
	ranked := make([]KeyCandidate, len(k.Candidates))
	copy(ranked, k.Candidates[:])
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Correlation > ranked[j].Correlation
	})
	return ranked
}

// EstimateKey correlates the profile against the Krumhansl major and minor
// profiles in all 12 rotations and picks the best key plus, when one is
// close enough, an alternate.
func EstimateKey(profile PitchClassProfile) (*KeyEstimate, error) {
	if !common.AllFinite(profile[:]) || floats.Max(profile[:]) == floats.Min(profile[:]) {
		return nil, ErrDegenerateProfile
	}

	estimate := &KeyEstimate{}
	for i := range estimate.Candidates {
		root := i % chroma.NumPitchClasses
		mode := KeyModeMajor
		reference := majorProfile
		if i >= chroma.NumPitchClasses {
			mode = KeyModeMinor
			reference = minorProfile
		}

		rotated := profile.Rotate(root)
		corr := stat.Correlation(rotated[:], reference[:], nil)
		if math.IsNaN(corr) || math.IsInf(corr, 0) {
			return nil, ErrDegenerateProfile
		}

		estimate.Candidates[i] = KeyCandidate{
			Name:        KeyName(root, mode),
			Root:        root,
			Mode:        mode,
			Correlation: common.RoundToEven(corr, 3),
		}
	}

	best, alt := selectKeys(estimate.Candidates[:])
	estimate.Key = estimate.Candidates[best].Name
	estimate.Correlation = estimate.Candidates[best].Correlation
	if alt >= 0 {
		estimate.HasAlt = true
		estimate.AltKey = estimate.Candidates[alt].Name
		estimate.AltCorrelation = estimate.Candidates[alt].Correlation
	}

	return estimate, nil
}

// selectKeys returns the index of the first maximum and of the first other
// candidate within alternateRatio of it, or -1 when there is none
func selectKeys(candidates []KeyCandidate) (best, alt int) {
	best = 0
	for i, c := range candidates {
		if c.Correlation > candidates[best].Correlation {
			best = i
		}
	}

	bestCorr := candidates[best].Correlation
	for i, c := range candidates {
		if i != best && c.Correlation > alternateRatio*bestCorr && c.Correlation < bestCorr {
			return best, i
		}
	}
	return best, -1
}
