package queue

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	apperrors "github.com/adverant/nexus/segmentation-worker/internal/errors"
	"github.com/adverant/nexus/segmentation-worker/internal/logging"
	"github.com/adverant/nexus/segmentation-worker/internal/processor"
)

type fakeProcessor struct {
	result *processor.ProcessResult
	err    error
	block  bool
	req    *processor.ProcessRequest
}

func (f *fakeProcessor) ProcessDocument(ctx context.Context, req *processor.ProcessRequest) (*processor.ProcessResult, error) {
	f.req = req
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return f.result, f.err
}

func (f *fakeProcessor) UpdateJobStatus(context.Context, string, string, int, map[string]interface{}) error {
	return nil
}

func TestJobPayload_UnmarshalJSON(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    []byte
		wantErr bool
	}{
		{
			name:  "base64 string",
			input: `{"jobId":"j1","fileBuffer":"JVBERi0="}`,
			want:  []byte("%PDF-"),
		},
		{
			name:  "node buffer",
			input: `{"jobId":"j1","fileBuffer":{"type":"Buffer","data":[37,80,68,70]}}`,
			want:  []byte("%PDF"),
		},
		{
			name:  "absent",
			input: `{"jobId":"j1","fileUrl":"http://files/a.pdf"}`,
		},
		{
			name:    "bad base64",
			input:   `{"jobId":"j1","fileBuffer":"***"}`,
			wantErr: true,
		},
		{
			name:    "wrong buffer type",
			input:   `{"jobId":"j1","fileBuffer":{"type":"Blob","data":[1]}}`,
			wantErr: true,
		},
		{
			name:    "byte out of range",
			input:   `{"jobId":"j1","fileBuffer":{"type":"Buffer","data":[256]}}`,
			wantErr: true,
		},
		{
			name:    "number",
			input:   `{"jobId":"j1","fileBuffer":42}`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var p JobPayload
			err := json.Unmarshal([]byte(tt.input), &p)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "j1", p.JobID)
			assert.Equal(t, tt.want, p.FileBuffer)
		})
	}
}

func TestJobPayload_PagesAndBufferSurviveMarshal(t *testing.T) {
	in := JobPayload{JobID: "j2", FileBuffer: []byte{0x89, 'P', 'N', 'G'}, Pages: []int{0, 2}}
	data, err := json.Marshal(in)
	require.NoError(t, err)

	var out JobPayload
	require.NoError(t, json.Unmarshal(data, &out))
	assert.Equal(t, in.FileBuffer, out.FileBuffer)
	assert.Equal(t, []int{0, 2}, out.Pages)
	assert.Equal(t, []int{0, 2}, out.request().Pages)
}

func TestRunJob_Timeout(t *testing.T) {
	proc := &fakeProcessor{block: true}
	payload := &JobPayload{JobID: "slow"}

	_, err := runJob(context.Background(), proc, payload, 20*time.Millisecond, logging.NewLogger("test"))
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrorProcessingTimeout))
}

func TestRunJob_PassesThroughErrors(t *testing.T) {
	cause := apperrors.NewUnsupportedFormatError("j3", "text/plain")
	proc := &fakeProcessor{err: cause}

	_, err := runJob(context.Background(), proc, &JobPayload{JobID: "j3", Pages: []int{1}}, time.Second, logging.NewLogger("test"))
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, []int{1}, proc.req.Pages)

	meta := failedMetadata(err, 2)
	assert.Equal(t, "UNSUPPORTED_FORMAT", meta["errorCode"])
	assert.Equal(t, 2, meta["attempts"])
	assert.Equal(t, "text/plain", meta["mime_type"])
}

func TestFailedMetadata_PlainError(t *testing.T) {
	meta := failedMetadata(errors.New("boom"), 0)
	assert.Equal(t, "boom", meta["error"])
	assert.NotContains(t, meta, "attempts")
	assert.NotContains(t, meta, "errorCode")
}

func TestCompletedMetadata(t *testing.T) {
	meta := completedMetadata(&processor.ProcessResult{PagesProcessed: 3, PagesFailed: 1, SegmentsExtracted: 12, ProcessingTimeMs: 250})
	assert.Equal(t, 3, meta["pagesProcessed"])
	assert.Equal(t, 1, meta["pagesFailed"])
	assert.Equal(t, 12, meta["segmentsExtracted"])
	assert.Equal(t, int64(250), meta["processingTime"])
}

func TestNewSegmentTask(t *testing.T) {
	task, err := NewSegmentTask(&JobPayload{JobID: "j4", FileURL: "http://files/x.png"}, 3, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, TaskSegmentDocument, task.Type())

	var p JobPayload
	require.NoError(t, json.Unmarshal(task.Payload(), &p))
	assert.Equal(t, "j4", p.JobID)

	_, err = NewSegmentTask(&JobPayload{FileURL: "http://files/x.png"}, 3, 0)
	assert.Error(t, err)
	_, err = NewSegmentTask(&JobPayload{JobID: "j5"}, 3, 0)
	assert.Error(t, err)
}

func TestRetryDelay(t *testing.T) {
	task := asynq.NewTask(TaskSegmentDocument, nil)
	assert.Equal(t, 5*time.Second, retryDelay(0, nil, task))
	assert.Equal(t, 20*time.Second, retryDelay(2, nil, task))
	assert.Equal(t, 60*time.Second, retryDelay(4, nil, task))
	assert.Equal(t, 60*time.Second, retryDelay(100, nil, task))
}

func TestNewJobLimiter(t *testing.T) {
	assert.Equal(t, rate.Inf, newJobLimiter(0, 4).Limit())

	l := newJobLimiter(2, 0)
	assert.Equal(t, rate.Limit(2), l.Limit())
	assert.Equal(t, 1, l.Burst())
}

func TestQueueInfoStats(t *testing.T) {
	stats := queueInfoStats(&asynq.QueueInfo{
		Queue:     "segmentation:jobs",
		Pending:   3,
		Scheduled: 1,
		Retry:     2,
		Active:    4,
		Completed: 10,
		Archived:  1,
	})
	assert.Equal(t, map[string]int64{
		"waiting":    6,
		"processing": 4,
		"completed":  10,
		"failed":     1,
	}, stats)
}
