package queue

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	apperrors "github.com/adverant/nexus/segmentation-worker/internal/errors"
	"github.com/adverant/nexus/segmentation-worker/internal/logging"
	"github.com/adverant/nexus/segmentation-worker/internal/processor"
)

// TaskSegmentDocument is the asynq task type carrying a JobPayload
const TaskSegmentDocument = "segment-document"

const defaultProcessingTimeout = 5 * time.Minute

// JobPayload contains the actual job data
type JobPayload struct {
	JobID      string                 `json:"jobId"`
	UserID     string                 `json:"userId"`
	Filename   string                 `json:"filename"`
	MimeType   string                 `json:"mimeType,omitempty"`
	FileSize   int64                  `json:"fileSize,omitempty"`
	FileURL    string                 `json:"fileUrl,omitempty"`
	FileBuffer []byte                 `json:"fileBuffer,omitempty"` // base64 on the wire
	Pages      []int                  `json:"pages,omitempty"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
}

// UnmarshalJSON accepts fileBuffer either as a base64 string or as a
// serialized Node.js Buffer ({"type":"Buffer","data":[...]}).
func (p *JobPayload) UnmarshalJSON(data []byte) error {
	type Alias JobPayload
	aux := &struct {
		FileBuffer interface{} `json:"fileBuffer,omitempty"`
		*Alias
	}{
		Alias: (*Alias)(p),
	}

	if err := json.Unmarshal(data, &aux); err != nil {
		return fmt.Errorf("failed to unmarshal JobPayload: %w", err)
	}

	switch v := aux.FileBuffer.(type) {
	case nil:
	case string:
		decoded, err := base64.StdEncoding.DecodeString(v)
		if err != nil {
			return fmt.Errorf("failed to decode base64 fileBuffer: %w", err)
		}
		p.FileBuffer = decoded

	case map[string]interface{}:
		if bufferType, _ := v["type"].(string); bufferType != "Buffer" {
			return fmt.Errorf("invalid Buffer object format (missing or incorrect 'type' field)")
		}
		dataArray, ok := v["data"].([]interface{})
		if !ok {
			return fmt.Errorf("Buffer object missing 'data' array")
		}
		p.FileBuffer = make([]byte, len(dataArray))
		for i, val := range dataArray {
			byteVal, ok := val.(float64)
			if !ok || byteVal < 0 || byteVal > 255 {
				return fmt.Errorf("invalid byte value in Buffer data array at index %d", i)
			}
			p.FileBuffer[i] = byte(byteVal)
		}

	default:
		return fmt.Errorf("fileBuffer must be either base64 string or Buffer object, got %T", v)
	}

	return nil
}

func (p *JobPayload) request() *processor.ProcessRequest {
	return &processor.ProcessRequest{
		JobID:      p.JobID,
		UserID:     p.UserID,
		Filename:   p.Filename,
		MimeType:   p.MimeType,
		FileSize:   p.FileSize,
		FileURL:    p.FileURL,
		FileBuffer: p.FileBuffer,
		Pages:      p.Pages,
		Metadata:   p.Metadata,
	}
}

// runJob processes one payload under a timeout. A deadline overrun is
// reported as a PROCESSING_TIMEOUT error.
func runJob(ctx context.Context, proc processor.DocumentProcessorInterface, payload *JobPayload, timeout time.Duration, logger *logging.Logger) (*processor.ProcessResult, error) {
	if timeout <= 0 {
		timeout = defaultProcessingTimeout
	}

	processCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	result, err := proc.ProcessDocument(processCtx, payload.request())
	if err != nil {
		if processCtx.Err() == context.DeadlineExceeded {
			logger.Warn("Processing timed out", "jobId", payload.JobID, "elapsed", time.Since(start), "timeout", timeout)
			return nil, apperrors.NewProcessingTimeoutError(payload.JobID, timeout, err)
		}
		return nil, err
	}
	return result, nil
}

func completedMetadata(result *processor.ProcessResult) map[string]interface{} {
	return map[string]interface{}{
		"pagesProcessed":    result.PagesProcessed,
		"pagesFailed":       result.PagesFailed,
		"segmentsExtracted": result.SegmentsExtracted,
		"processingTime":    result.ProcessingTimeMs,
		"mimeType":          result.MimeType,
	}
}

func failedMetadata(err error, attempts int) map[string]interface{} {
	var meta map[string]interface{}
	var pe *apperrors.ProcessingError
	if errors.As(err, &pe) {
		meta = pe.ToMap()
		meta["errorCode"] = string(pe.Code)
	} else {
		meta = map[string]interface{}{}
	}
	meta["error"] = err.Error()
	if attempts > 0 {
		meta["attempts"] = attempts
	}
	return meta
}
