package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cliptune/cliptune-server/internal/analysis"
	"github.com/cliptune/cliptune-server/internal/api"
	"github.com/cliptune/cliptune-server/internal/config"
	"github.com/cliptune/cliptune-server/internal/logging"
	"github.com/cliptune/cliptune-server/internal/media"
	"github.com/cliptune/cliptune-server/internal/pipeline"
	"github.com/cliptune/cliptune-server/internal/queue"
	"github.com/cliptune/cliptune-server/internal/storage"
	"github.com/cliptune/cliptune-server/internal/transcribe"
	"github.com/cliptune/cliptune-server/internal/webhook"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("fatal error: %v", err)
	}
}

func run() error {
	startTime := time.Now()

	cfg, err := config.New()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := os.MkdirAll(cfg.DataDir(), 0755); err != nil {
		return fmt.Errorf("failed to create data dir: %w", err)
	}

	logger := logging.NewLogger(cfg.LogLevel())
	logger.Info("starting cliptune server",
		"version", config.Version,
		"data_dir", cfg.DataDir(),
		"workers", cfg.Workers(),
	)

	reducer, err := media.NewReducer(media.Config{
		FFmpegPath:  cfg.FFmpegPath(),
		FFprobePath: cfg.FFprobePath(),
		Timeout:     cfg.ReduceTimeout(),
		Logger:      logger,
	})
	if err != nil {
		return fmt.Errorf("media tools unavailable: %w", err)
	}

	transcriber := transcribe.NewTranscriber(transcribe.Config{
		WhisperBin: cfg.WhisperBin(),
		ModelPath:  cfg.WhisperModel(),
		Language:   cfg.WhisperLanguage(),
		Timeout:    cfg.TranscribeTimeout(),
		Logger:     logger,
	})

	analyzer := analysis.NewClient(analysis.Config{
		APIKey:  cfg.GeminiAPIKey(),
		BaseURL: cfg.GeminiBaseURL(),
		Model:   cfg.GeminiModel(),
		Timeout: cfg.AnalysisTimeout(),
		Logger:  logger,
	})

	deliverer := webhook.NewClient(webhook.Config{
		URL:     cfg.WebhookURL(),
		Timeout: cfg.WebhookTimeout(),
		Logger:  logger,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var archiver pipeline.Archiver
	if cfg.ArchiveEnabled() {
		r2, err := storage.NewR2Archiver(ctx, storage.Config{
			AccountID:       cfg.R2AccountID(),
			AccessKeyID:     cfg.R2AccessKeyID(),
			SecretAccessKey: cfg.R2SecretAccessKey(),
			Bucket:          cfg.R2Bucket(),
			Logger:          logger,
		})
		if err != nil {
			logger.Warn("archiver unavailable, media links disabled", "error", err)
		} else {
			archiver = r2
		}
	}

	var jobQueue queue.Queue
	if addr := cfg.RedisAddr(); addr != "" {
		rq, err := queue.NewRedisQueue(ctx, addr, cfg.QueueSize(), logger)
		if err != nil {
			return fmt.Errorf("failed to connect job queue: %w", err)
		}
		jobQueue = rq
		logger.Info("using redis job queue", "addr", addr)
	} else {
		jobQueue = queue.NewInMemoryQueue(cfg.QueueSize())
		logger.Info("using in-memory job queue", "size", cfg.QueueSize())
	}

	doctor := media.NewDoctor(cfg.FFmpegPath(), cfg.FFprobePath(), cfg.WhisperBin(), cfg.WhisperModel(), logger)
	tools := doctor.Refresh()
	logger.Info("tool availability",
		"ffmpeg", tools.FFmpeg,
		"ffprobe", tools.FFprobe,
		"whisper", tools.Whisper,
	)

	orch := pipeline.NewOrchestrator(pipeline.Config{
		Workers:     cfg.Workers(),
		Reducer:     reducer,
		Transcriber: transcriber,
		Analyzer:    analyzer,
		Deliverer:   deliverer,
		Archiver:    archiver,
		Logger:      logger,
	})
	orch.Start(ctx, jobQueue.Jobs())

	apiServer := api.NewServer(api.ServerConfig{
		Port:           cfg.Port(),
		MaxUploadBytes: cfg.MaxUploadBytes(),
		DataDir:        cfg.DataDir(),
		Queue:          jobQueue,
		Active:         orch.Active,
		Doctor:         doctor,
		Logger:         logger,
		StartTime:      startTime,
	})

	go func() {
		if err := apiServer.Start(); err != nil {
			logger.Error("HTTP server error", "error", err)
		}
	}()

	fmt.Println()
	fmt.Printf("  cliptune server v%s\n", config.Version)
	fmt.Printf("  listening on http://localhost:%d\n", cfg.Port())
	fmt.Printf("  delivering results to %s\n", cfg.WebhookURL())
	fmt.Println()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("received shutdown signal", "signal", sig)

	// Stop accepting uploads first, then let the workers drain. Jobs
	// already started always run to a terminal state.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown HTTP server", "error", err)
	}

	if err := jobQueue.Close(); err != nil {
		logger.Error("failed to close job queue", "error", err)
	}

	orch.Wait()

	logger.Info("shutdown complete")
	return nil
}
