package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/RyanBlaney/sonido-key/analysis"
	"github.com/RyanBlaney/sonido-key/config"
	"github.com/RyanBlaney/sonido-key/internal/server"
	"github.com/RyanBlaney/sonido-key/internal/storage"
	"github.com/RyanBlaney/sonido-key/logging"
	"github.com/RyanBlaney/sonido-key/transcode"
)

const shutdownTimeout = 30 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal(err, "Invalid configuration")
	}
	logging.SetLevel(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	decoderConfig := transcode.DefaultDecoderConfig()
	decoderConfig.TargetSampleRate = cfg.SampleRate
	decoderConfig.FFmpegPath = cfg.FFmpegPath
	decoderConfig.FFprobePath = cfg.FFprobePath
	decoderConfig.Timeout = cfg.DecodeTimeout
	decoder := transcode.NewDecoder(decoderConfig)
	if err := decoder.ValidateConfig(ctx); err != nil {
		logging.Fatal(err, "Decoder unavailable")
	}

	analyzer, err := analysis.NewAnalyzer(analysis.Config{
		SampleRate:    cfg.SampleRate,
		HopSize:       cfg.HopSize,
		BinsPerOctave: cfg.BinsPerOctave,
		TuningFreq:    cfg.TuningFreq,
	}, decoder)
	if err != nil {
		logging.Fatal(err, "Failed to create analyzer")
	}

	store, err := storage.NewTransientStore(cfg.UploadDir)
	if err != nil {
		logging.Fatal(err, "Failed to prepare upload directory")
	}

	// A nil *MinioSource must not end up in the interface
	var objects server.ObjectSource
	if cfg.MinioEnabled() {
		source, err := storage.NewMinioSource(cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.BucketName, cfg.MinioUseSSL)
		if err != nil {
			logging.Fatal(err, "Failed to connect to object storage")
		}
		objects = source
		logging.Info("Object storage enabled", logging.Fields{
			"endpoint": cfg.MinioEndpoint,
			"bucket":   source.Bucket(),
		})
	}

	pool := analysis.NewPool(cfg.Workers)
	handler := server.NewHandler(analyzer, store, pool, objects, cfg.AnalysisTimeout)
	srv := server.New(server.Options{Addr: cfg.Addr, MaxUpload: cfg.MaxUpload}, handler)

	logging.Info("Starting key finder", logging.Fields{
		"addr":        cfg.Addr,
		"workers":     pool.Workers(),
		"upload_dir":  store.Dir(),
		"sample_rate": cfg.SampleRate,
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		if err != nil {
			logging.Error(err, "Server stopped")
		}
	case <-ctx.Done():
		logging.Info("Shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.Error(err, "Graceful shutdown failed")
	}
	pool.Close()
}
