/**
 * Direct Redis Queue Consumer for the segmentation worker
 *
 * Compatible with the TypeScript RedisQueue producer: job IDs are pushed on a
 * LIST, job bodies live in the "<queue>:data" hash. Status sets, the results
 * hash and the events channel follow the same naming.
 */

package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"github.com/adverant/nexus/segmentation-worker/internal/logging"
	"github.com/adverant/nexus/segmentation-worker/internal/processor"
)

var errNoJobs = errors.New("no jobs available")

// RedisJobData represents a job from the Redis queue
type RedisJobData struct {
	ID         string     `json:"id"`
	Type       string     `json:"type"`
	Payload    JobPayload `json:"payload"`
	CreatedAt  time.Time  `json:"createdAt"`
	Attempts   int        `json:"attempts"`
	MaxRetries int        `json:"maxRetries"`
}

// RedisConsumer handles job consumption from Redis queue
type RedisConsumer struct {
	client    *redis.Client
	processor processor.DocumentProcessorInterface
	config    *RedisConsumerConfig
	limiter   *rate.Limiter
	logger    *logging.Logger
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// RedisConsumerConfig holds consumer configuration
type RedisConsumerConfig struct {
	RedisURL          string
	QueueName         string
	Concurrency       int
	Processor         processor.DocumentProcessorInterface
	ProcessingTimeout time.Duration
	JobRateLimit      float64 // jobs started per second across workers, 0 = unlimited
}

// NewRedisConsumer creates a new Redis-based queue consumer
func NewRedisConsumer(cfg *RedisConsumerConfig) (*RedisConsumer, error) {
	if cfg.RedisURL == "" {
		return nil, fmt.Errorf("RedisURL is required")
	}

	if cfg.QueueName == "" {
		cfg.QueueName = "segmentation:jobs"
	}

	if cfg.Processor == nil {
		return nil, fmt.Errorf("Processor is required")
	}

	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}

	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := redis.NewClient(opt)

	if err := client.Ping(context.Background()).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	consumerCtx, cancel := context.WithCancel(context.Background())

	return &RedisConsumer{
		client:    client,
		processor: cfg.Processor,
		config:    cfg,
		limiter:   newJobLimiter(cfg.JobRateLimit, cfg.Concurrency),
		logger:    logging.NewLogger("RedisConsumer"),
		ctx:       consumerCtx,
		cancel:    cancel,
	}, nil
}

func newJobLimiter(perSecond float64, burst int) *rate.Limiter {
	if perSecond <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(perSecond), burst)
}

func (c *RedisConsumer) key(suffix string) string {
	return fmt.Sprintf("%s:%s", c.config.QueueName, suffix)
}

// Start begins processing jobs from the queue
func (c *RedisConsumer) Start() error {
	c.logger.Info("Starting Redis queue consumer",
		"concurrency", c.config.Concurrency,
		"queue", c.config.QueueName,
		"rateLimit", c.config.JobRateLimit)

	for i := 0; i < c.config.Concurrency; i++ {
		c.wg.Add(1)
		go c.worker(i)
	}
	return nil
}

// Stop gracefully stops the consumer
func (c *RedisConsumer) Stop() error {
	c.logger.Info("Stopping queue consumer")
	c.cancel()
	c.wg.Wait()
	return c.client.Close()
}

// worker is a goroutine that processes jobs
func (c *RedisConsumer) worker(id int) {
	defer c.wg.Done()
	logger := c.logger.With("worker", id)
	logger.Debug("Worker started")

	for {
		select {
		case <-c.ctx.Done():
			logger.Debug("Worker stopping")
			return
		default:
		}

		if err := c.limiter.Wait(c.ctx); err != nil {
			continue
		}

		if err := c.processNextJob(); err != nil {
			if errors.Is(err, errNoJobs) || c.ctx.Err() != nil {
				continue
			}
			logger.Error("Worker error", "error", err)
			select {
			case <-time.After(time.Second):
			case <-c.ctx.Done():
			}
		}
	}
}

// processNextJob fetches and processes the next job from the queue
func (c *RedisConsumer) processNextJob() error {
	result, err := c.client.BRPop(c.ctx, 5*time.Second, c.config.QueueName).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return errNoJobs
		}
		return fmt.Errorf("failed to fetch job: %w", err)
	}

	if len(result) < 2 {
		return fmt.Errorf("invalid job result")
	}

	jobID := result[1]

	jobData, err := c.client.HGet(c.ctx, c.key("data"), jobID).Result()
	if err != nil {
		return fmt.Errorf("failed to get job data: %w", err)
	}

	var job RedisJobData
	if err := json.Unmarshal([]byte(jobData), &job); err != nil {
		return fmt.Errorf("failed to unmarshal job: %w", err)
	}

	logger := c.logger.With("jobId", job.Payload.JobID)

	if err := c.processor.UpdateJobStatus(c.ctx, job.Payload.JobID, "processing", 0, map[string]interface{}{
		"filename": job.Payload.Filename,
		"mimeType": job.Payload.MimeType,
		"fileSize": job.Payload.FileSize,
		"userId":   job.Payload.UserID,
	}); err != nil {
		logger.Warn("Could not record processing status", "error", err)
	}
	c.markStatus(job.Payload.JobID, "processing", nil)

	logger.Info("Processing job", "filename", job.Payload.Filename, "attempt", job.Attempts+1)

	processResult, err := runJob(c.ctx, c.processor, &job.Payload, c.config.ProcessingTimeout, logger)
	if err != nil {
		logger.Error("Job failed", "error", err)

		job.Attempts++
		if job.Attempts < job.MaxRetries {
			c.requeue(&job)
			logger.Info("Job re-queued for retry", "attempt", job.Attempts, "maxRetries", job.MaxRetries)
			return nil
		}

		meta := failedMetadata(err, job.Attempts)
		if updateErr := c.processor.UpdateJobStatus(c.ctx, job.Payload.JobID, "failed", 100, meta); updateErr != nil {
			logger.Warn("Failed to record failed status", "error", updateErr)
		}
		c.markStatus(job.Payload.JobID, "failed", meta)
		return nil
	}

	if err := c.processor.UpdateJobStatus(c.ctx, job.Payload.JobID, "completed", 100, completedMetadata(processResult)); err != nil {
		logger.Warn("Failed to record completed status", "error", err)
	}
	c.markStatus(job.Payload.JobID, "completed", processResult)
	logger.Info("Job completed",
		"pages", processResult.PagesProcessed,
		"segments", processResult.SegmentsExtracted,
		"durationMs", processResult.ProcessingTimeMs)

	return nil
}

func (c *RedisConsumer) requeue(job *RedisJobData) {
	updatedData, err := json.Marshal(job)
	if err != nil {
		c.logger.Error("Failed to marshal job for retry", "jobId", job.Payload.JobID, "error", err)
		return
	}
	pipe := c.client.TxPipeline()
	pipe.HSet(c.ctx, c.key("data"), job.ID, updatedData)
	pipe.LPush(c.ctx, c.config.QueueName, job.ID)
	if _, err := pipe.Exec(c.ctx); err != nil {
		c.logger.Error("Failed to re-queue job", "jobId", job.Payload.JobID, "error", err)
	}
}

// markStatus moves the job between the Redis status sets, stores its result
// or error, and publishes a job event.
func (c *RedisConsumer) markStatus(jobID string, status string, result interface{}) {
	pipe := c.client.Pipeline()

	switch status {
	case "processing":
		pipe.SAdd(c.ctx, c.key("processing"), jobID)
	case "completed":
		pipe.SRem(c.ctx, c.key("processing"), jobID)
		pipe.SAdd(c.ctx, c.key("completed"), jobID)
		if result != nil {
			if data, err := json.Marshal(result); err == nil {
				pipe.HSet(c.ctx, c.key("results"), jobID, data)
			}
		}
	case "failed":
		pipe.SRem(c.ctx, c.key("processing"), jobID)
		pipe.SAdd(c.ctx, c.key("failed"), jobID)
		if result != nil {
			if data, err := json.Marshal(result); err == nil {
				pipe.HSet(c.ctx, c.key("errors"), jobID, data)
			}
		}
	}

	event := map[string]interface{}{
		"event":     fmt.Sprintf("job:%s", status),
		"jobId":     jobID,
		"timestamp": time.Now().Format(time.RFC3339),
	}
	if eventData, err := json.Marshal(event); err == nil {
		pipe.Publish(c.ctx, c.key("events"), eventData)
	}

	if _, err := pipe.Exec(c.ctx); err != nil {
		c.logger.Warn("Failed to update Redis job status", "jobId", jobID, "status", status, "error", err)
	}
}

// GetStats returns queue statistics
func (c *RedisConsumer) GetStats(ctx context.Context) (map[string]int64, error) {
	pipe := c.client.Pipeline()
	waiting := pipe.LLen(ctx, c.config.QueueName)
	processing := pipe.SCard(ctx, c.key("processing"))
	completed := pipe.SCard(ctx, c.key("completed"))
	failed := pipe.SCard(ctx, c.key("failed"))
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to read queue stats: %w", err)
	}

	return map[string]int64{
		"waiting":    waiting.Val(),
		"processing": processing.Val(),
		"completed":  completed.Val(),
		"failed":     failed.Val(),
	}, nil
}
