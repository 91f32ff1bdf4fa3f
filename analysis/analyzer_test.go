package analysis

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/RyanBlaney/sonido-key/algorithms/tonal"
	"github.com/RyanBlaney/sonido-key/transcode"
)

type fakeDecoder struct {
	audio *transcode.AudioData
	err   error
}

func (f *fakeDecoder) DecodeFile(ctx context.Context, path string) (*transcode.AudioData, error) {
	if f.err != nil {
		return nil, &transcode.DecodeError{Path: path, Err: f.err}
	}
	return f.audio, nil
}

func sine(freq, seconds float64, sampleRate int) []float64 {
	out := make([]float64, int(seconds*float64(sampleRate)))
	for i := range out {
		out[i] = 0.5 * math.Sin(2*math.Pi*freq*float64(i)/float64(sampleRate))
	}
	return out
}

func newTestAnalyzer(t *testing.T, decoder Decoder) *Analyzer {
	t.Helper()
	a, err := NewAnalyzer(DefaultConfig(), decoder)
	if err != nil {
		t.Fatalf("NewAnalyzer: %v", err)
	}
	return a
}

func TestAnalyzeWaveformSine(t *testing.T) {
	a := newTestAnalyzer(t, &fakeDecoder{})
	signal := sine(440, 3, 22050)

	result, err := a.AnalyzeWaveform(context.Background(), signal, 22050, Full)
	if err != nil {
		t.Fatalf("AnalyzeWaveform: %v", err)
	}

	if result.Key != "A minor" && result.Key != "A major" {
		t.Errorf("Key = %q, want A minor or A major", result.Key)
	}
	if math.Abs(result.Duration-3) > 1e-9 {
		t.Errorf("Duration = %v, want 3", result.Duration)
	}

	best := 0
	for p, v := range result.Profile {
		if v > result.Profile[best] {
			best = p
		}
	}
	if best != 9 {
		t.Errorf("profile peak at pitch class %d, want 9 (A): %v", best, result.Profile)
	}
	if result.Chromagram.Frames() != 1+len(signal)/512 {
		t.Errorf("chromagram has %d frames", result.Chromagram.Frames())
	}

	again, err := a.AnalyzeWaveform(context.Background(), signal, 22050, Full)
	if err != nil {
		t.Fatalf("AnalyzeWaveform: %v", err)
	}
	if again.Key != result.Key || again.Correlation != result.Correlation || again.BPM != result.BPM {
		t.Errorf("analysis is not deterministic: %+v vs %+v", again, result)
	}
}

func TestAnalyzeFile(t *testing.T) {
	audio := &transcode.AudioData{PCM: sine(440, 2, 22050), SampleRate: 22050, Channels: 1}
	a := newTestAnalyzer(t, &fakeDecoder{audio: audio})

	result, err := a.AnalyzeFile(context.Background(), "a.wav", Segment{Start: 500 * time.Millisecond})
	if err != nil {
		t.Fatalf("AnalyzeFile: %v", err)
	}
	if result.Key != "A minor" && result.Key != "A major" {
		t.Errorf("Key = %q, want A minor or A major", result.Key)
	}
	// Tempo covers the whole file, key only the segment
	if want := 1 + int(1.5*22050)/512; result.Chromagram.Frames() != want {
		t.Errorf("chromagram has %d frames, want %d", result.Chromagram.Frames(), want)
	}
	if result.Duration != 2 {
		t.Errorf("Duration = %v, want 2", result.Duration)
	}
}

func TestAnalyzeFileDecodeError(t *testing.T) {
	cause := errors.New("bad header")
	a := newTestAnalyzer(t, &fakeDecoder{err: cause})

	_, err := a.AnalyzeFile(context.Background(), "broken.mp3", Full)

	var decodeErr *transcode.DecodeError
	if !errors.As(err, &decodeErr) || !errors.Is(err, cause) {
		t.Errorf("error = %v, want DecodeError wrapping the cause", err)
	}
}

func TestAnalyzeEmptySegment(t *testing.T) {
	a := newTestAnalyzer(t, &fakeDecoder{})

	_, err := a.AnalyzeWaveform(context.Background(), sine(440, 1, 22050), 22050,
		Segment{Start: 2 * time.Second, End: 3 * time.Second})
	if !errors.Is(err, tonal.ErrInsufficientData) {
		t.Errorf("error = %v, want ErrInsufficientData", err)
	}
}

func TestAnalyzeSilenceIsDegenerate(t *testing.T) {
	a := newTestAnalyzer(t, &fakeDecoder{})

	_, err := a.AnalyzeWaveform(context.Background(), make([]float64, 22050), 22050, Full)
	if !errors.Is(err, tonal.ErrDegenerateProfile) {
		t.Errorf("error = %v, want ErrDegenerateProfile", err)
	}
}

func TestAnalyzeWrongSampleRate(t *testing.T) {
	a := newTestAnalyzer(t, &fakeDecoder{})

	if _, err := a.AnalyzeWaveform(context.Background(), sine(440, 1, 44100), 44100, Full); err == nil {
		t.Error("expected sample rate mismatch error")
	}
}

func TestAnalyzeCancelled(t *testing.T) {
	a := newTestAnalyzer(t, &fakeDecoder{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := a.AnalyzeWaveform(ctx, sine(440, 1, 22050), 22050, Full); !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
}

func TestEstimateKeyWithoutSeparation(t *testing.T) {
	a := newTestAnalyzer(t, &fakeDecoder{})

	estimate, err := a.EstimateKey(context.Background(), sine(440, 2, 22050), 22050, Full)
	if err != nil {
		t.Fatalf("EstimateKey: %v", err)
	}
	if estimate.Key != "A minor" && estimate.Key != "A major" {
		t.Errorf("Key = %q, want A minor or A major", estimate.Key)
	}
}

func TestSegmentBounds(t *testing.T) {
	tests := []struct {
		name    string
		seg     Segment
		n       int
		wantLo  int
		wantHi  int
		wantErr bool
	}{
		{"full", Full, 100, 0, 100, false},
		{"start only", Segment{Start: time.Second}, 100, 10, 100, false},
		{"start and end", Segment{Start: time.Second, End: 5 * time.Second}, 100, 10, 50, false},
		{"floor", Segment{Start: 1550 * time.Millisecond}, 100, 15, 100, false},
		{"end past waveform", Segment{End: time.Minute}, 100, 0, 100, false},
		{"negative start", Segment{Start: -time.Second}, 100, 0, 100, false},
		{"start past waveform", Segment{Start: time.Minute}, 100, 0, 0, true},
		{"end before start", Segment{Start: 5 * time.Second, End: time.Second}, 100, 0, 0, true},
		{"empty waveform", Full, 0, 0, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lo, hi, err := tt.seg.Bounds(tt.n, 10)
			if tt.wantErr {
				if !errors.Is(err, tonal.ErrInsufficientData) {
					t.Errorf("error = %v, want ErrInsufficientData", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Bounds: %v", err)
			}
			if lo != tt.wantLo || hi != tt.wantHi {
				t.Errorf("Bounds = [%d, %d), want [%d, %d)", lo, hi, tt.wantLo, tt.wantHi)
			}
		})
	}
}

func TestSeconds(t *testing.T) {
	tests := []struct {
		name    string
		secs    float64
		want    time.Duration
		wantErr bool
	}{
		{"zero", 0, 0, false},
		{"fraction", 0.25, 250 * time.Millisecond, false},
		{"limit", 1e9, 1e9 * time.Second, false},
		{"negative", -0.5, 0, true},
		{"too large", 1e12, 0, true},
		{"huge", 1e300, 0, true},
		{"infinite", math.Inf(1), 0, true},
		{"negative infinite", math.Inf(-1), 0, true},
		{"nan", math.NaN(), 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Seconds(tt.secs)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidTime) {
					t.Errorf("Seconds(%v) = %v, %v; want ErrInvalidTime", tt.secs, got, err)
				}
				return
			}
			if err != nil || got != tt.want {
				t.Errorf("Seconds(%v) = %v, %v; want %v", tt.secs, got, err, tt.want)
			}
		})
	}
}

func TestLargestStartIsPastWaveform(t *testing.T) {
	start, err := Seconds(1e9)
	if err != nil {
		t.Fatalf("Seconds: %v", err)
	}

	a := newTestAnalyzer(t, &fakeDecoder{})
	if _, err := a.EstimateKey(context.Background(), sine(440, 1, 22050), 22050, Segment{Start: start}); !errors.Is(err, tonal.ErrInsufficientData) {
		t.Errorf("error = %v, want ErrInsufficientData", err)
	}
}

func TestAnalyzeDeadlineExceeded(t *testing.T) {
	a := newTestAnalyzer(t, &fakeDecoder{})
	ctx, cancel := context.WithTimeout(context.Background(), -time.Second)
	defer cancel()

	if _, err := a.EstimateKey(ctx, sine(440, 1, 22050), 22050, Full); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("EstimateKey error = %v, want context.DeadlineExceeded", err)
	}
	if _, err := a.AnalyzeWaveform(ctx, sine(440, 1, 22050), 22050, Full); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("AnalyzeWaveform error = %v, want context.DeadlineExceeded", err)
	}
}
