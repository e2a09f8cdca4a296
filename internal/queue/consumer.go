/**
 * Asynq Queue Consumer for the segmentation worker
 *
 * Alternative to the LIST-based RedisConsumer for producers written in Go:
 * jobs arrive as "segment-document" tasks and asynq owns retries.
 */

package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/adverant/nexus/segmentation-worker/internal/logging"
	"github.com/adverant/nexus/segmentation-worker/internal/processor"
)

// Consumer handles job consumption from an asynq queue
type Consumer struct {
	server    *asynq.Server
	mux       *asynq.ServeMux
	inspector *asynq.Inspector
	processor processor.DocumentProcessorInterface
	config    *ConsumerConfig
	logger    *logging.Logger
}

// ConsumerConfig holds consumer configuration
type ConsumerConfig struct {
	RedisURL          string
	QueueName         string
	Concurrency       int
	Processor         processor.DocumentProcessorInterface
	ProcessingTimeout time.Duration
}

// NewConsumer creates a new queue consumer
func NewConsumer(cfg *ConsumerConfig) (*Consumer, error) {
	if cfg.RedisURL == "" {
		return nil, fmt.Errorf("RedisURL is required")
	}

	if cfg.QueueName == "" {
		return nil, fmt.Errorf("QueueName is required")
	}

	if cfg.Processor == nil {
		return nil, fmt.Errorf("Processor is required")
	}

	redisOpt, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	logger := logging.NewLogger("AsynqConsumer")

	server := asynq.NewServer(
		redisOpt,
		asynq.Config{
			Concurrency: cfg.Concurrency,
			Queues: map[string]int{
				cfg.QueueName: 10,
				"default":     1,
			},
			RetryDelayFunc: retryDelay,
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				retried, _ := asynq.GetRetryCount(ctx)
				maxRetry, _ := asynq.GetMaxRetry(ctx)
				logger.Error("Task processing error", "type", task.Type(), "retry", retried, "maxRetry", maxRetry, "error", err)
			}),
			Logger: logger.Entry(),
		},
	)

	consumer := &Consumer{
		server:    server,
		mux:       asynq.NewServeMux(),
		inspector: asynq.NewInspector(redisOpt),
		processor: cfg.Processor,
		config:    cfg,
		logger:    logger,
	}
	consumer.mux.HandleFunc(TaskSegmentDocument, consumer.handleSegmentDocument)

	return consumer, nil
}

// retryDelay backs off exponentially: 5s, 10s, 20s, capped at one minute.
func retryDelay(n int, _ error, _ *asynq.Task) time.Duration {
	if n > 10 {
		return 60 * time.Second
	}
	delay := time.Duration(5*(1<<uint(n))) * time.Second
	if delay > 60*time.Second {
		delay = 60 * time.Second
	}
	return delay
}

// Start starts the queue consumer
func (c *Consumer) Start(ctx context.Context) error {
	c.logger.Info("Starting queue consumer", "concurrency", c.config.Concurrency, "queue", c.config.QueueName)
	if err := c.server.Start(c.mux); err != nil {
		return fmt.Errorf("failed to start asynq server: %w", err)
	}
	return nil
}

// Stop stops the queue consumer gracefully
func (c *Consumer) Stop(ctx context.Context) error {
	c.logger.Info("Stopping queue consumer")
	c.server.Shutdown()
	return c.inspector.Close()
}

// handleSegmentDocument processes one segment-document task
func (c *Consumer) handleSegmentDocument(ctx context.Context, task *asynq.Task) error {
	var payload JobPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal job data: %v: %w", err, asynq.SkipRetry)
	}

	logger := c.logger.With("jobId", payload.JobID)
	logger.Info("Processing document", "filename", payload.Filename, "size", payload.FileSize, "user", payload.UserID)

	if err := c.processor.UpdateJobStatus(ctx, payload.JobID, "processing", 0, nil); err != nil {
		logger.Warn("Failed to update status to processing", "error", err)
	}

	result, err := runJob(ctx, c.processor, &payload, c.config.ProcessingTimeout, logger)
	if err != nil {
		retried, _ := asynq.GetRetryCount(ctx)
		if updateErr := c.processor.UpdateJobStatus(ctx, payload.JobID, "failed", 100, failedMetadata(err, retried+1)); updateErr != nil {
			logger.Warn("Failed to update status to failed", "error", updateErr)
		}
		return fmt.Errorf("document segmentation failed: %w", err)
	}

	logger.Info("Processing completed",
		"pages", result.PagesProcessed,
		"failedPages", result.PagesFailed,
		"segments", result.SegmentsExtracted,
		"durationMs", result.ProcessingTimeMs)

	if err := c.processor.UpdateJobStatus(ctx, payload.JobID, "completed", 100, completedMetadata(result)); err != nil {
		logger.Warn("Failed to update status to completed", "error", err)
	}

	if rw := task.ResultWriter(); rw != nil {
		data, _ := json.Marshal(result)
		if _, err := rw.Write(data); err != nil {
			logger.Debug("Failed to write task result", "error", err)
		}
	}

	return nil
}

// GetStatistics reads the task counts of the consumer's queue.
func (c *Consumer) GetStatistics() (map[string]int64, error) {
	info, err := c.inspector.GetQueueInfo(c.config.QueueName)
	if err != nil {
		return nil, fmt.Errorf("failed to read queue info: %w", err)
	}
	return queueInfoStats(info), nil
}

func queueInfoStats(info *asynq.QueueInfo) map[string]int64 {
	return map[string]int64{
		"waiting":    int64(info.Pending + info.Scheduled + info.Retry),
		"processing": int64(info.Active),
		"completed":  int64(info.Completed),
		"failed":     int64(info.Archived),
	}
}
