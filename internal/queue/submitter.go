package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

// Submitter enqueues segment-document tasks for a Consumer
type Submitter struct {
	client    *asynq.Client
	queueName string
}

// NewSubmitter connects an asynq client to redisURL.
func NewSubmitter(redisURL, queueName string) (*Submitter, error) {
	if queueName == "" {
		return nil, fmt.Errorf("QueueName is required")
	}
	redisOpt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	return &Submitter{
		client:    asynq.NewClient(redisOpt),
		queueName: queueName,
	}, nil
}

// NewSegmentTask builds the task for payload. The job ID doubles as the
// task ID so a job cannot be enqueued twice.
func NewSegmentTask(payload *JobPayload, maxRetry int, timeout time.Duration) (*asynq.Task, error) {
	if payload.JobID == "" {
		return nil, fmt.Errorf("job ID is required")
	}
	if len(payload.FileBuffer) == 0 && payload.FileURL == "" {
		return nil, fmt.Errorf("job %s has neither fileBuffer nor fileUrl", payload.JobID)
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal job payload: %w", err)
	}

	opts := []asynq.Option{asynq.TaskID(payload.JobID), asynq.MaxRetry(maxRetry)}
	if timeout > 0 {
		opts = append(opts, asynq.Timeout(timeout))
	}
	return asynq.NewTask(TaskSegmentDocument, data, opts...), nil
}

// Submit enqueues payload on the submitter's queue.
func (s *Submitter) Submit(ctx context.Context, payload *JobPayload, maxRetry int, timeout time.Duration) (*asynq.TaskInfo, error) {
	task, err := NewSegmentTask(payload, maxRetry, timeout)
	if err != nil {
		return nil, err
	}
	info, err := s.client.EnqueueContext(ctx, task, asynq.Queue(s.queueName))
	if err != nil {
		return nil, fmt.Errorf("failed to enqueue job %s: %w", payload.JobID, err)
	}
	return info, nil
}

// Close closes the underlying client
func (s *Submitter) Close() error {
	return s.client.Close()
}
