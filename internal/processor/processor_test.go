package processor

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/adverant/nexus/segmentation-worker/internal/errors"
	"github.com/adverant/nexus/segmentation-worker/internal/segmentation"
)

func newTestProcessor(t *testing.T, maxFileSize int64) *DocumentProcessor {
	t.Helper()
	p, err := NewDocumentProcessor(&ProcessorConfig{
		MaxFileSize:     maxFileSize,
		PageConcurrency: 1,
		Params:          testParams(),
		HTTPClient:      &http.Client{Timeout: 5 * time.Second},
	})
	require.NoError(t, err)
	return p
}

func TestDetectMimeTypeFromMagicBytes(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want string
	}{
		{"pdf", []byte("%PDF-1.7\n"), "application/pdf"},
		{"png", []byte{0x89, 'P', 'N', 'G', 0x0D, 0x0A, 0x1A, 0x0A, 0}, "image/png"},
		{"jpeg", []byte{0xFF, 0xD8, 0xFF, 0xE0}, "image/jpeg"},
		{"gif", []byte("GIF89a...."), "image/gif"},
		{"webp", []byte("RIFF\x00\x00\x00\x00WEBPVP8 "), "image/webp"},
		{"tiff little endian", []byte{'I', 'I', 0x2A, 0x00}, "image/tiff"},
		{"tiff big endian", []byte{'M', 'M', 0x00, 0x2A}, "image/tiff"},
		{"bmp", []byte("BM\x00\x00\x00"), "image/bmp"},
		{"zip", []byte{'P', 'K', 0x03, 0x04}, "application/zip"},
		{"riff without webp", []byte("RIFF\x00\x00\x00\x00WAVE"), ""},
		{"text", []byte("hello world"), ""},
		{"too short", []byte("%P"), ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, detectMimeTypeFromMagicBytes(tt.data))
		})
	}
}

func TestBackoffDelay(t *testing.T) {
	assert.Equal(t, time.Second, backoffDelay(1))
	assert.Equal(t, 2*time.Second, backoffDelay(2))
	assert.Equal(t, 16*time.Second, backoffDelay(5))
	assert.Equal(t, maxBackoff, backoffDelay(6))
	assert.Equal(t, maxBackoff, backoffDelay(80))
}

func TestNewDocumentProcessor_InvalidParams(t *testing.T) {
	_, err := NewDocumentProcessor(&ProcessorConfig{Params: segmentation.Params{}})
	assert.True(t, apperrors.IsCode(err, apperrors.ErrorConfiguration))

	_, err = NewDocumentProcessor(nil)
	assert.Error(t, err)
}

func TestProcessDocument_UnsupportedFormat(t *testing.T) {
	p := newTestProcessor(t, 0)
	_, err := p.ProcessDocument(context.Background(), &ProcessRequest{
		JobID:      "job-text",
		MimeType:   "application/octet-stream",
		FileBuffer: []byte("just some text, no magic"),
	})
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrorUnsupportedFormat))
}

func TestProcessDocument_NoFileSource(t *testing.T) {
	_, err := newTestProcessor(t, 0).ProcessDocument(context.Background(), &ProcessRequest{JobID: "job-empty"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no file source")
}

func TestProcessDocument_BufferTooLarge(t *testing.T) {
	_, err := newTestProcessor(t, 8).ProcessDocument(context.Background(), &ProcessRequest{
		JobID:      "job-big",
		FileBuffer: []byte("%PDF-1.7 and then some"),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeds maximum")
}

func TestDownloadFileFromURL(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		switch r.URL.Path {
		case "/doc.pdf":
			w.Write([]byte("%PDF-1.4 body"))
		case "/big":
			w.Write([]byte(strings.Repeat("x", 64)))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	p := newTestProcessor(t, 32)
	ctx := context.Background()

	data, err := p.downloadFileFromURL(ctx, "job-dl", srv.URL+"/doc.pdf", 0)
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.4 body", string(data))

	atomic.StoreInt32(&hits, 0)
	_, err = p.downloadFileFromURL(ctx, "job-dl", srv.URL+"/missing", 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP 404")
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits), "client errors are not retried")

	atomic.StoreInt32(&hits, 0)
	_, err = p.downloadFileFromURL(ctx, "job-dl", srv.URL+"/big", 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeds maximum")
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
}

func TestDownloadFileFromURL_RetriesServerErrors(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&hits, 1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	data, err := newTestProcessor(t, 0).downloadFileFromURL(context.Background(), "job-retry", srv.URL, 2)
	require.NoError(t, err)
	assert.Equal(t, "ok", string(data))
	assert.Equal(t, int32(2), atomic.LoadInt32(&hits))
}

func TestDownloadFileFromURL_CancelledDuringBackoff(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	_, err := newTestProcessor(t, 0).downloadFileFromURL(ctx, "job-cancel", srv.URL, 0)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestUpdateJobStatus_WithoutStorage(t *testing.T) {
	p := newTestProcessor(t, 0)
	err := p.UpdateJobStatus(context.Background(), "job-1", "completed", 100, map[string]interface{}{
		"pagesProcessed": 3,
		"error":          "boom",
	})
	assert.NoError(t, err)
}

func TestFirstFailedPage(t *testing.T) {
	errs := map[int]error{9: assert.AnError, 4: assert.AnError, 6: assert.AnError}
	assert.Equal(t, 4, firstFailedPage(errs))
}
