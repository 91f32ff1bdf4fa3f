package transcode

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/RyanBlaney/sonido-key/logging"
)

// ErrNoSamples is returned when ffmpeg produces no audio
var ErrNoSamples = errors.New("no audio samples decoded")

// DecodeError reports a failure to inspect or decode an audio file
type DecodeError struct {
	Path string
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s: %v", e.Path, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// AudioData represents decoded audio data
type AudioData struct {
	PCM        []float64      `json:"-"` // Mono samples in [-1, 1]
	SampleRate int            `json:"sample_rate"`
	Channels   int            `json:"channels"`
	Duration   time.Duration  `json:"duration"`
	Source     *AudioMetadata `json:"source,omitempty"`
}

// AudioMetadata holds detected audio properties from ffprobe
type AudioMetadata struct {
	SampleRate int     `json:"sample_rate"`
	Channels   int     `json:"channels"`
	Codec      string  `json:"codec"`
	Duration   float64 `json:"duration"`
	Bitrate    int     `json:"bitrate"`
	Format     string  `json:"format"`
}

// DecoderConfig holds decoder configuration
type DecoderConfig struct {
	TargetSampleRate int           `json:"target_sample_rate"`
	TargetChannels   int           `json:"target_channels"`
	MaxDuration      time.Duration `json:"max_duration"`     // 0 decodes everything
	ResampleQuality  string        `json:"resample_quality"` // "fast", "medium", "high"
	FFmpegPath       string        `json:"ffmpeg_path"`
	FFprobePath      string        `json:"ffprobe_path"`
	Timeout          time.Duration `json:"timeout"` // Per ffprobe/ffmpeg invocation
}

// DefaultDecoderConfig returns mono 22050 Hz output, the rate the analysis
// pipeline is tuned for
func DefaultDecoderConfig() *DecoderConfig {
	return &DecoderConfig{
		TargetSampleRate: 22050,
		TargetChannels:   1,
		ResampleQuality:  "medium",
		FFmpegPath:       "ffmpeg",
		FFprobePath:      "ffprobe",
		Timeout:          60 * time.Second,
	}
}

// Decoder decodes audio files to float64 PCM by running ffmpeg
type Decoder struct {
	config *DecoderConfig
}

// NewDecoder creates a new audio decoder
func NewDecoder(config *DecoderConfig) *Decoder {
	if config == nil {
		config = DefaultDecoderConfig()
	}
	return &Decoder{config: config}
}

// Config returns the decoder configuration
func (d *Decoder) Config() DecoderConfig {
	return *d.config
}

// DecodeFile probes path with ffprobe and decodes it to mono PCM at the
// target sample rate. All failures are returned as *DecodeError.
func (d *Decoder) DecodeFile(ctx context.Context, path string) (*AudioData, error) {
	logger := logging.WithContext(ctx).WithFields(logging.Fields{
		"component": "audio_decoder",
		"function":  "DecodeFile",
		"path":      path,
	})

	logger.Debug("Starting audio file decode")

	metadata, err := d.readMetadata(ctx, path)
	if err != nil {
		logger.Error(err, "Failed to read audio metadata")
		return nil, &DecodeError{Path: path, Err: err}
	}

	logger.Debug("Audio metadata detected", logging.Fields{
		"input_sample_rate": metadata.SampleRate,
		"input_channels":    metadata.Channels,
		"input_codec":       metadata.Codec,
		"input_duration":    metadata.Duration,
		"input_bitrate":     metadata.Bitrate,
	})

	audio, err := d.decodeFileWithFFmpeg(ctx, path, metadata, logger)
	if err != nil {
		return nil, &DecodeError{Path: path, Err: err}
	}
	return audio, nil
}

// withTimeout bounds a single external command by the configured timeout
func (d *Decoder) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if d.config.Timeout > 0 {
		return context.WithTimeout(ctx, d.config.Timeout)
	}
	return context.WithCancel(ctx)
}

// readMetadata uses ffprobe to get audio information from a file
func (d *Decoder) readMetadata(ctx context.Context, path string) (*AudioMetadata, error) {
	args := []string{
		"-v", "quiet",
		"-print_format", "json",
		"-show_streams",
		"-select_streams", "a:0", // First audio stream only
		path,
	}

	ctx, cancel := d.withTimeout(ctx)
	defer cancel()

	output, err := exec.CommandContext(ctx, d.config.FFprobePath, args...).Output()
	if err != nil {
		var exitError *exec.ExitError
		if errors.As(err, &exitError) {
			return nil, fmt.Errorf("ffprobe failed: %w, stderr: %s", err, string(exitError.Stderr))
		}
		return nil, fmt.Errorf("ffprobe failed: %w", err)
	}

	return parseFFprobeOutput(output)
}

// parseFFprobeOutput parses ffprobe JSON to extract audio metadata
func parseFFprobeOutput(jsonData []byte) (*AudioMetadata, error) {
	var info struct {
		Streams []struct {
			CodecType     string `json:"codec_type"`
			CodecName     string `json:"codec_name"`
			SampleRate    string `json:"sample_rate"`
			Channels      int    `json:"channels"`
			Duration      string `json:"duration"`
			BitRate       string `json:"bit_rate"`
			CodecLongName string `json:"codec_long_name"`
		} `json:"streams"`
	}

	if err := json.Unmarshal(jsonData, &info); err != nil {
		return nil, fmt.Errorf("failed to parse ffprobe output: %w", err)
	}

	if len(info.Streams) == 0 {
		return nil, fmt.Errorf("no audio streams found")
	}

	stream := info.Streams[0]
	if stream.CodecType != "audio" {
		return nil, fmt.Errorf("stream is not audio type: %s", stream.CodecType)
	}
	if stream.Channels <= 0 {
		return nil, fmt.Errorf("invalid channel count: %d", stream.Channels)
	}

	// Missing numeric fields are left at zero
	sampleRate, _ := strconv.Atoi(stream.SampleRate)
	duration, _ := strconv.ParseFloat(stream.Duration, 64)
	bitrate, _ := strconv.Atoi(stream.BitRate)

	return &AudioMetadata{
		SampleRate: sampleRate,
		Channels:   stream.Channels,
		Codec:      stream.CodecName,
		Duration:   duration,
		Bitrate:    bitrate,
		Format:     stream.CodecLongName,
	}, nil
}

// decodeFileWithFFmpeg runs ffmpeg with raw f64le output on stdout
func (d *Decoder) decodeFileWithFFmpeg(ctx context.Context, path string, metadata *AudioMetadata, logger logging.Logger) (*AudioData, error) {
	args := append([]string{"-i", path}, d.buildFFmpegArgs(metadata)...)
	args = append(args, "pipe:1")

	ctx, cancel := d.withTimeout(ctx)
	defer cancel()

	logger.Debug("Running ffmpeg command", logging.Fields{
		"args": strings.Join(args, " "),
	})

	output, err := exec.CommandContext(ctx, d.config.FFmpegPath, args...).Output()
	if err != nil {
		var exitError *exec.ExitError
		if errors.As(err, &exitError) {
			logger.Error(err, "FFmpeg decode failed", logging.Fields{
				"stderr": string(exitError.Stderr),
			})
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("ffmpeg decode interrupted: %w", ctxErr)
		}
		return nil, fmt.Errorf("ffmpeg decode failed: %w", err)
	}

	return d.processFFmpegOutput(output, metadata, logger)
}

// buildFFmpegArgs builds the ffmpeg output arguments
func (d *Decoder) buildFFmpegArgs(metadata *AudioMetadata) []string {
	args := []string{
		"-vn",
		"-f", "f64le",
		"-ac", strconv.Itoa(d.config.TargetChannels),
		"-ar", strconv.Itoa(d.config.TargetSampleRate),
	}

	if d.config.ResampleQuality != "" && metadata.SampleRate != d.config.TargetSampleRate {
		switch d.config.ResampleQuality {
		case "fast":
			args = append(args, "-af", "aresample=resampler=soxr:precision=16")
		case "medium":
			args = append(args, "-af", "aresample=resampler=soxr:precision=20")
		case "high":
			args = append(args, "-af", "aresample=resampler=soxr:precision=28")
		}
	}

	if d.config.MaxDuration > 0 {
		args = append(args, "-t", fmt.Sprintf("%.2f", d.config.MaxDuration.Seconds()))
	}

	return append(args, "-v", "error")
}

// processFFmpegOutput converts raw ffmpeg output into AudioData
func (d *Decoder) processFFmpegOutput(output []byte, inputMetadata *AudioMetadata, logger logging.Logger) (*AudioData, error) {
	samples := bytesToFloat64(output)
	if len(samples) == 0 {
		return nil, ErrNoSamples
	}

	samplesPerChannel := len(samples) / d.config.TargetChannels
	duration := time.Duration(samplesPerChannel) * time.Second / time.Duration(d.config.TargetSampleRate)

	logger.Debug("FFmpeg decode completed successfully", logging.Fields{
		"input_sample_rate":  inputMetadata.SampleRate,
		"input_channels":     inputMetadata.Channels,
		"output_samples":     len(samples),
		"output_sample_rate": d.config.TargetSampleRate,
		"output_duration":    duration.Seconds(),
	})

	return &AudioData{
		PCM:        samples,
		SampleRate: d.config.TargetSampleRate,
		Channels:   d.config.TargetChannels,
		Duration:   duration,
		Source:     inputMetadata,
	}, nil
}

// bytesToFloat64 converts raw little-endian float64 bytes, ignoring a
// trailing partial sample
func bytesToFloat64(data []byte) []float64 {
	sampleCount := len(data) / 8
	if sampleCount == 0 {
		return nil
	}

	samples := make([]float64, sampleCount)
	for i := range sampleCount {
		bits := binary.LittleEndian.Uint64(data[i*8 : i*8+8])
		samples[i] = math.Float64frombits(bits)
	}

	return samples
}

// ValidateConfig validates the decoder configuration and checks that the
// ffmpeg and ffprobe binaries run
func (d *Decoder) ValidateConfig(ctx context.Context) error {
	if d.config.TargetSampleRate <= 0 {
		return fmt.Errorf("target sample rate must be positive: %d", d.config.TargetSampleRate)
	}
	if d.config.TargetChannels != 1 {
		return fmt.Errorf("analysis requires mono output, got %d channels", d.config.TargetChannels)
	}

	for _, bin := range []string{d.config.FFmpegPath, d.config.FFprobePath} {
		if err := exec.CommandContext(ctx, bin, "-version").Run(); err != nil {
			return fmt.Errorf("%s not available: %w", bin, err)
		}
	}
	return nil
}
