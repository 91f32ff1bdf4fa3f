package chroma

import (
	"bytes"
	"context"
	"errors"
	"image/png"
	"math"
	"testing"
)

func sine(freq float64, seconds float64, sampleRate int) []float64 {
	n := int(seconds * float64(sampleRate))
	out := make([]float64, n)
	for i := range out {
		out[i] = 0.5 * math.Sin(2*math.Pi*freq*float64(i)/float64(sampleRate))
	}
	return out
}

func rowSums(c *Chromagram) [NumPitchClasses]float64 {
	var sums [NumPitchClasses]float64
	for p := range c.Bins {
		for _, v := range c.Bins[p] {
			sums[p] += v
		}
	}
	return sums
}

func argmax(values [NumPitchClasses]float64) int {
	best := 0
	for i, v := range values {
		if v > values[best] {
			best = i
		}
	}
	return best
}

func TestComputeSineDominantPitchClass(t *testing.T) {
	const sampleRate = 22050
	cqt, err := NewChromaCQTDefault(sampleRate)
	if err != nil {
		t.Fatalf("NewChromaCQTDefault: %v", err)
	}

	tests := []struct {
		name string
		freq float64
		want int
	}{
		{"A4", 440.0, 9},
		{"C4", 261.63, 0},
		{"E3", 164.81, 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := cqt.Compute(sine(tt.freq, 2, sampleRate))
			if err != nil {
				t.Fatalf("Compute: %v", err)
			}

			sums := rowSums(c)
			if got := argmax(sums); got != tt.want {
				t.Errorf("dominant pitch class = %s, want %s (sums %v)",
					pitchClassNames[got], pitchClassNames[tt.want], sums)
			}
		})
	}
}

func TestComputeFrameCountAndNonNegative(t *testing.T) {
	cqt, err := NewChromaCQTDefault(22050)
	if err != nil {
		t.Fatalf("NewChromaCQTDefault: %v", err)
	}

	signal := sine(330, 1, 22050)
	c, err := cqt.Compute(signal)
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}

	if want := 1 + len(signal)/512; c.Frames() != want {
		t.Errorf("Frames() = %d, want %d", c.Frames(), want)
	}
	for p := range c.Bins {
		if len(c.Bins[p]) != c.Frames() {
			t.Fatalf("row %d has %d frames, want %d", p, len(c.Bins[p]), c.Frames())
		}
		for tIdx, v := range c.Bins[p] {
			if v < 0 || math.IsNaN(v) {
				t.Fatalf("Bins[%d][%d] = %v, want non-negative", p, tIdx, v)
			}
		}
	}
}

func TestComputeShortAndEmptySignal(t *testing.T) {
	cqt, err := NewChromaCQTDefault(22050)
	if err != nil {
		t.Fatalf("NewChromaCQTDefault: %v", err)
	}

	c, err := cqt.Compute(sine(440, 0.01, 22050))
	if err != nil {
		t.Fatalf("Compute short signal: %v", err)
	}
	if c.Frames() != 1 {
		t.Errorf("short signal produced %d frames, want 1", c.Frames())
	}

	if _, err := cqt.Compute(nil); !errors.Is(err, ErrInsufficientData) {
		t.Errorf("empty signal error = %v, want ErrInsufficientData", err)
	}
}

func TestComputeDeterministic(t *testing.T) {
	cqt, err := NewChromaCQT(CQTConfig{
		SampleRate:    16000,
		HopSize:       256,
		Octaves:       5,
		BinsPerOctave: 24,
		TuningFreq:    440,
		Workers:       3,
	})
	if err != nil {
		t.Fatalf("NewChromaCQT: %v", err)
	}

	signal := sine(523.25, 0.5, 16000)
	a, err := cqt.Compute(signal)
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	b, err := cqt.Compute(signal)
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}

	for p := range a.Bins {
		for i := range a.Bins[p] {
			if a.Bins[p][i] != b.Bins[p][i] {
				t.Fatalf("Bins[%d][%d] differs between runs", p, i)
			}
		}
	}
}

func TestKernelLayout(t *testing.T) {
	cqt, err := NewChromaCQTDefault(22050)
	if err != nil {
		t.Fatalf("NewChromaCQTDefault: %v", err)
	}

	freqs := cqt.GetCQTFrequencies()
	if len(freqs) != 6*24 {
		t.Fatalf("got %d bins, want %d", len(freqs), 6*24)
	}
	if math.Abs(freqs[0]-65.406) > 0.01 {
		t.Errorf("lowest bin = %.3f Hz, want C2 (65.406 Hz)", freqs[0])
	}
	if got := cqt.GetConfig().MinFreq; got != freqs[0] {
		t.Errorf("effective MinFreq = %v, want %v", got, freqs[0])
	}

	// Bin 66 is A4 in a C2-based 24 bins-per-octave layout
	if math.Abs(freqs[66]-440) > 1e-6 {
		t.Errorf("bin 66 = %.6f Hz, want 440", freqs[66])
	}

	// Semitone bins and the quarter tones just below them share a pitch class
	if cqt.bins[66].chroma != 9 || cqt.bins[65].chroma != 9 || cqt.bins[67].chroma != 10 {
		t.Errorf("unexpected chroma folding around A4: 65->%d 66->%d 67->%d",
			cqt.bins[65].chroma, cqt.bins[66].chroma, cqt.bins[67].chroma)
	}

	wantQ := 1 / (math.Pow(2, 1.0/24) - 1)
	if math.Abs(cqt.GetQFactor()-wantQ) > 1e-12 {
		t.Errorf("Q = %v, want %v", cqt.GetQFactor(), wantQ)
	}
}

func TestKernelDropsBinsAboveNyquist(t *testing.T) {
	cqt, err := NewChromaCQTDefault(8000)
	if err != nil {
		t.Fatalf("NewChromaCQTDefault: %v", err)
	}

	for _, f := range cqt.GetCQTFrequencies() {
		if f >= 4000 {
			t.Errorf("bin at %.1f Hz is above Nyquist", f)
		}
	}
}

func TestNewChromaCQTValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*CQTConfig)
	}{
		{"zero sample rate", func(c *CQTConfig) { c.SampleRate = 0 }},
		{"zero hop", func(c *CQTConfig) { c.HopSize = 0 }},
		{"bins not multiple of 12", func(c *CQTConfig) { c.BinsPerOctave = 18 }},
		{"no octaves", func(c *CQTConfig) { c.Octaves = 0 }},
		{"min freq above nyquist", func(c *CQTConfig) { c.MinFreq = 20000 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultCQTConfig(22050)
			tt.mutate(&cfg)
			if _, err := NewChromaCQT(cfg); err == nil {
				t.Error("expected configuration error")
			}
		})
	}
}

func TestWritePNG(t *testing.T) {
	c := NewChromagram(3, 22050, 512)
	c.Bins[9][0] = 1
	c.Bins[0][1] = 2
	c.Bins[4][1] = 1

	var buf bytes.Buffer
	if err := c.WritePNG(&buf, 4, 2); err != nil {
		t.Fatalf("WritePNG: %v", err)
	}

	img, err := png.Decode(&buf)
	if err != nil {
		t.Fatalf("png.Decode: %v", err)
	}
	bounds := img.Bounds()
	if bounds.Dx() != 12 || bounds.Dy() != 24 {
		t.Fatalf("image is %dx%d, want 12x24", bounds.Dx(), bounds.Dy())
	}

	// A (row 9) in frame 0 is the frame maximum and renders white
	r, g, b, _ := img.At(0, (NumPitchClasses-1-9)*2).RGBA()
	if r>>8 != 255 || g>>8 != 255 || b>>8 != 255 {
		t.Errorf("peak cell colour = (%d,%d,%d), want white", r>>8, g>>8, b>>8)
	}

	// Silent frame renders black
	r, g, b, _ = img.At(2*4, 0).RGBA()
	if r != 0 || g != 0 || b != 0 {
		t.Errorf("silent cell colour = (%d,%d,%d), want black", r>>8, g>>8, b>>8)
	}

	if err := NewChromagram(0, 22050, 512).WritePNG(&buf, 1, 1); !errors.Is(err, ErrInsufficientData) {
		t.Errorf("empty chromagram error = %v, want ErrInsufficientData", err)
	}
}

func TestComputeContextCancelled(t *testing.T) {
	cqt, err := NewChromaCQTDefault(22050)
	if err != nil {
		t.Fatalf("NewChromaCQTDefault: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if c, err := cqt.ComputeContext(ctx, sine(440, 1, 22050)); !errors.Is(err, context.Canceled) || c != nil {
		t.Errorf("ComputeContext = %v, %v; want nil, context.Canceled", c, err)
	}

	c, err := cqt.ComputeContext(context.Background(), sine(440, 0.5, 22050))
	if err != nil {
		t.Fatalf("ComputeContext: %v", err)
	}
	if c.Frames() != 1+int(0.5*22050)/512 {
		t.Errorf("Frames() = %d", c.Frames())
	}
}
