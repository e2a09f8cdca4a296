/**
 * Segmentation Worker - Main Entry Point
 *
 * Consumes document jobs from Redis, splits every page into rectangular
 * text segments (recursive whitespace cuts on the page raster) and stores
 * the segments with their text.
 *
 * Architecture:
 * - Redis LIST consumer (TypeScript producers) or asynq server (Go producers)
 * - poppler rasterization + PDF text layer, Tesseract for scans
 * - PostgreSQL persistence, Qdrant layout fingerprints (both optional)
 */

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/adverant/nexus/segmentation-worker/internal/config"
	"github.com/adverant/nexus/segmentation-worker/internal/logging"
	"github.com/adverant/nexus/segmentation-worker/internal/processor"
	"github.com/adverant/nexus/segmentation-worker/internal/queue"
	"github.com/adverant/nexus/segmentation-worker/internal/storage"
)

var logger = logging.NewLogger("Worker")

const statsInterval = time.Minute

type consumer interface {
	start() error
	stop() error
	stats(ctx context.Context) (map[string]int64, error)
}

type redisBackend struct{ c *queue.RedisConsumer }

func (b redisBackend) start() error { return b.c.Start() }
func (b redisBackend) stop() error  { return b.c.Stop() }
func (b redisBackend) stats(ctx context.Context) (map[string]int64, error) {
	return b.c.GetStats(ctx)
}

type asynqBackend struct{ c *queue.Consumer }

func (b asynqBackend) start() error { return b.c.Start(context.Background()) }
func (b asynqBackend) stop() error  { return b.c.Stop(context.Background()) }
func (b asynqBackend) stats(context.Context) (map[string]int64, error) {
	return b.c.GetStatistics()
}

func main() {
	if err := godotenv.Load(".env"); err != nil {
		logger.Debug(".env not found, using system environment variables")
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	if err := logging.Configure(cfg.LogLevel, cfg.LogFormat); err != nil {
		logger.Error("Invalid logging configuration", "error", err)
		os.Exit(1)
	}

	logger.Info("Segmentation worker starting",
		"backend", cfg.QueueBackend,
		"queue", cfg.QueueName,
		"workers", cfg.WorkerConcurrency,
		"pageConcurrency", cfg.PageConcurrency,
		"postgres", cfg.DatabaseURL != "",
		"qdrant", cfg.QdrantURL != "")

	storageManager, err := storage.NewStorageManager(cfg.DatabaseURL, cfg.QdrantURL, cfg.QdrantCollection)
	if err != nil {
		logger.Error("Failed to initialize storage manager", "error", err)
		os.Exit(1)
	}

	proc, err := processor.NewDocumentProcessor(processor.NewProcessorConfig(cfg, storageManager))
	if err != nil {
		logger.Error("Failed to initialize document processor", "error", err)
		os.Exit(1)
	}

	backend, err := newConsumer(cfg, proc)
	if err != nil {
		logger.Error("Failed to initialize queue consumer", "error", err)
		os.Exit(1)
	}

	if err := backend.start(); err != nil {
		logger.Error("Failed to start queue consumer", "error", err)
		os.Exit(1)
	}

	params := cfg.SegmentationParams()
	logger.Info("Worker ready, waiting for jobs",
		"whiteSpaceMaxRatio", params.WhiteSpaceMaxRatio,
		"minWhiteSpaceRun", params.MinWhiteSpaceRun,
		"minSize", params.MinSize,
		"renderDpi", params.RenderDPI())

	statsCtx, stopStats := context.WithCancel(context.Background())
	go reportStats(statsCtx, backend, storageManager)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	sig := <-sigChan
	logger.Info("Received signal, initiating graceful shutdown", "signal", sig.String())
	stopStats()

	if err := backend.stop(); err != nil {
		logger.Error("Error stopping queue consumer", "error", err)
	}

	if err := storageManager.Close(); err != nil {
		logger.Error("Error closing storage manager", "error", err)
	}

	logger.Info("Shutdown complete")
}

// reportStats logs queue and storage counters until ctx is cancelled.
func reportStats(ctx context.Context, backend consumer, sm *storage.StorageManager) {
	ticker := time.NewTicker(statsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if q, err := backend.stats(ctx); err != nil {
			logger.Warn("Failed to read queue stats", "error", err)
		} else {
			logger.Info("Queue stats",
				"waiting", q["waiting"],
				"processing", q["processing"],
				"completed", q["completed"],
				"failed", q["failed"])
		}

		if s, err := sm.GetStats(ctx); err != nil {
			logger.Warn("Failed to read storage stats", "error", err)
		} else if len(s) > 0 {
			logger.Debug("Storage stats", "postgres", s["postgres"], "qdrant", s["qdrant"])
		}
	}
}

func newConsumer(cfg *config.Config, proc processor.DocumentProcessorInterface) (consumer, error) {
	switch cfg.QueueBackend {
	case config.BackendAsynq:
		c, err := queue.NewConsumer(&queue.ConsumerConfig{
			RedisURL:          cfg.RedisURL,
			QueueName:         cfg.QueueName,
			Concurrency:       cfg.WorkerConcurrency,
			Processor:         proc,
			ProcessingTimeout: cfg.Timeout(),
		})
		if err != nil {
			return nil, err
		}
		return asynqBackend{c}, nil
	default:
		c, err := queue.NewRedisConsumer(&queue.RedisConsumerConfig{
			RedisURL:          cfg.RedisURL,
			QueueName:         cfg.QueueName,
			Concurrency:       cfg.WorkerConcurrency,
			Processor:         proc,
			ProcessingTimeout: cfg.Timeout(),
			JobRateLimit:      cfg.JobRateLimit,
		})
		if err != nil {
			return nil, err
		}
		return redisBackend{c}, nil
	}
}
