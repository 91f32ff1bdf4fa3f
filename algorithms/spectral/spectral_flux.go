package spectral

// SpectralFlux computes spectral flux, the change between consecutive frames
// of a Time x Frequency spectrogram
type SpectralFlux struct{}

// NewSpectralFlux creates a new spectral flux calculator
func NewSpectralFlux() *SpectralFlux {
	return &SpectralFlux{}
}

// ComputeRectifiedMean calculates the half-wave rectified first difference
// averaged over frequency bins. The result is aligned with the spectrogram:
// value t describes the change into frame t, and value 0 is zero.
func (sf *SpectralFlux) ComputeRectifiedMean(spectrogram [][]float64) []float64 {
	flux := make([]float64, len(spectrogram))
	if len(spectrogram) < 2 {
		return flux
	}

	for t := 1; t < len(spectrogram); t++ {
		bins := len(spectrogram[t])
		if bins == 0 {
			continue
		}

		sum := 0.0
		for f := range bins {
			if diff := spectrogram[t][f] - spectrogram[t-1][f]; diff > 0 {
				sum += diff
			}
		}
		flux[t] = sum / float64(bins)
	}

	return flux
}
