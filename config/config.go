package config

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/RyanBlaney/sonido-key/logging"
)

// Config holds the service configuration
type Config struct {
	Addr            string
	UploadDir       string
	MaxUpload       string // echo body limit syntax, e.g. "64M"
	Workers         int
	SampleRate      int
	HopSize         int
	BinsPerOctave   int
	TuningFreq      float64
	AnalysisTimeout time.Duration
	DecodeTimeout   time.Duration
	FFmpegPath      string
	FFprobePath     string
	LogLevel        logging.Level

	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	BucketName     string
	MinioUseSSL    bool
}

// Load reads .env when present and then the environment. Unset variables
// take their defaults; malformed values are errors.
func Load() (*Config, error) {
	if err := godotenv.Load(".env"); err != nil {
		logging.Debug("No .env file loaded", logging.Fields{"error": err.Error()})
	}
	return FromEnv()
}

// FromEnv builds a Config from environment variables only
func FromEnv() (*Config, error) {
	cfg := &Config{
		Addr:           getString("KEYFINDER_ADDR", ":8000"),
		UploadDir:      getString("KEYFINDER_UPLOAD_DIR", "files"),
		MaxUpload:      getString("KEYFINDER_MAX_UPLOAD", "64M"),
		FFmpegPath:     getString("FFMPEG_PATH", "ffmpeg"),
		FFprobePath:    getString("FFPROBE_PATH", "ffprobe"),
		MinioEndpoint:  os.Getenv("MINIO_ENDPOINT"),
		MinioAccessKey: os.Getenv("MINIO_ACCESS_KEY"),
		MinioSecretKey: os.Getenv("MINIO_SECRET_KEY"),
		BucketName:     os.Getenv("MINIO_BUCKET"),
	}

	var errs []error
	collect := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	var err error
	cfg.Workers, err = getInt("KEYFINDER_WORKERS", runtime.NumCPU())
	collect(err)
	cfg.SampleRate, err = getInt("KEYFINDER_SAMPLE_RATE", 22050)
	collect(err)
	cfg.HopSize, err = getInt("KEYFINDER_HOP_SIZE", 512)
	collect(err)
	cfg.BinsPerOctave, err = getInt("KEYFINDER_BINS_PER_OCTAVE", 24)
	collect(err)
	cfg.TuningFreq, err = getFloat("KEYFINDER_TUNING", 440)
	collect(err)
	cfg.AnalysisTimeout, err = getDuration("KEYFINDER_ANALYSIS_TIMEOUT", 2*time.Minute)
	collect(err)
	cfg.DecodeTimeout, err = getDuration("KEYFINDER_DECODE_TIMEOUT", 60*time.Second)
	collect(err)
	cfg.MinioUseSSL, err = getBool("MINIO_USE_SSL", false)
	collect(err)

	cfg.LogLevel, err = logging.ParseLevel(getString("LOG_LEVEL", "info"))
	collect(err)

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return cfg, cfg.Validate()
}

// Validate rejects settings the service cannot run with
func (c *Config) Validate() error {
	switch {
	case c.Addr == "":
		return fmt.Errorf("KEYFINDER_ADDR must not be empty")
	case c.UploadDir == "":
		return fmt.Errorf("KEYFINDER_UPLOAD_DIR must not be empty")
	case c.Workers <= 0:
		return fmt.Errorf("KEYFINDER_WORKERS must be positive: %d", c.Workers)
	case c.SampleRate <= 0:
		return fmt.Errorf("KEYFINDER_SAMPLE_RATE must be positive: %d", c.SampleRate)
	case c.HopSize <= 0:
		return fmt.Errorf("KEYFINDER_HOP_SIZE must be positive: %d", c.HopSize)
	case c.BinsPerOctave <= 0 || c.BinsPerOctave%12 != 0:
		return fmt.Errorf("KEYFINDER_BINS_PER_OCTAVE must be a positive multiple of 12: %d", c.BinsPerOctave)
	case c.TuningFreq <= 0:
		return fmt.Errorf("KEYFINDER_TUNING must be positive: %g", c.TuningFreq)
	case c.AnalysisTimeout <= 0:
		return fmt.Errorf("KEYFINDER_ANALYSIS_TIMEOUT must be positive: %s", c.AnalysisTimeout)
	case c.DecodeTimeout <= 0:
		return fmt.Errorf("KEYFINDER_DECODE_TIMEOUT must be positive: %s", c.DecodeTimeout)
	case c.MinioEnabled() && c.BucketName == "":
		return fmt.Errorf("MINIO_BUCKET is required when MINIO_ENDPOINT is set")
	}
	return nil
}

// MinioEnabled reports whether object storage is configured
func (c *Config) MinioEnabled() bool {
	return c.MinioEndpoint != ""
}

func getString(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func getInt(key string, def int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func getFloat(key string, def float64) (float64, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return f, nil
}

func getDuration(key string, def time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

func getBool(key string, def bool) (bool, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s: %w", key, err)
	}
	return b, nil
}
