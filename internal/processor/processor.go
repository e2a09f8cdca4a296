/**
 * Document Processor for the segmentation worker
 *
 * Runs one job end to end:
 * - load the file (inline buffer or URL download with retry)
 * - detect the real MIME type from magic bytes
 * - open a page source (PDF via poppler + text layer, images via Tesseract)
 * - segment every requested page in parallel
 * - persist segments (PostgreSQL) and layout fingerprints (Qdrant)
 */

package processor

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sort"
	"time"

	"github.com/adverant/nexus/segmentation-worker/internal/config"
	apperrors "github.com/adverant/nexus/segmentation-worker/internal/errors"
	"github.com/adverant/nexus/segmentation-worker/internal/logging"
	"github.com/adverant/nexus/segmentation-worker/internal/segmentation"
	"github.com/adverant/nexus/segmentation-worker/internal/storage"
)

// DocumentProcessorInterface defines the interface for document processing
type DocumentProcessorInterface interface {
	ProcessDocument(ctx context.Context, req *ProcessRequest) (*ProcessResult, error)
	UpdateJobStatus(ctx context.Context, jobID string, status string, progress int, metadata map[string]interface{}) error
}

// ProcessorConfig holds processor configuration
type ProcessorConfig struct {
	MaxFileSize     int64
	Source          SourceConfig
	PageConcurrency int
	DebugImageDir   string
	Params          segmentation.Params
	StorageManager  *storage.StorageManager // nil runs without persistence
	HTTPClient      *http.Client
}

// ProcessRequest represents a document processing request
type ProcessRequest struct {
	JobID      string
	UserID     string
	Filename   string
	MimeType   string
	FileSize   int64
	FileURL    string
	FileBuffer []byte
	Pages      []int // zero-based; empty means every page
	Metadata   map[string]interface{}
}

// ProcessResult represents the processing result
type ProcessResult struct {
	PagesProcessed    int                     `json:"pagesProcessed"`
	PagesFailed       int                     `json:"pagesFailed"`
	SegmentsExtracted int                     `json:"segmentsExtracted"`
	Pages             segmentation.PageResult `json:"pages"`
	PageErrors        map[int]string          `json:"pageErrors,omitempty"`
	MimeType          string                  `json:"mimeType"`
	ProcessingTimeMs  int64                   `json:"processingTimeMs"`
}

// DocumentProcessor handles document processing
type DocumentProcessor struct {
	config         *ProcessorConfig
	storage        *storage.StorageManager
	layoutAnalyzer *LayoutAnalyzer
	httpClient     *http.Client
	logger         *logging.Logger
}

const (
	maxDownloadRetries = 5
	initialBackoff     = time.Second
	maxBackoff         = 32 * time.Second
	downloadTimeout    = 10 * time.Minute
	defaultMaxReadSize = 1 << 30
)

// NewProcessorConfig maps the environment configuration onto the processor.
func NewProcessorConfig(cfg *config.Config, sm *storage.StorageManager) *ProcessorConfig {
	return &ProcessorConfig{
		MaxFileSize: cfg.MaxFileSize,
		Source: SourceConfig{
			TempDir: cfg.TempDir,
			Poppler: PopplerConfig{
				PdftoppmPath: cfg.PdftoppmPath,
				PdfinfoPath:  cfg.PdfinfoPath,
			},
			Tesseract: TesseractConfig{
				Languages: cfg.TesseractLanguages(),
			},
			OCRFallback:    cfg.OCRFallback,
			ImageSourceDPI: cfg.ImageSourceDPI,
		},
		PageConcurrency: cfg.PageConcurrency,
		DebugImageDir:   cfg.DebugImageDir,
		Params:          cfg.SegmentationParams(),
		StorageManager:  sm,
	}
}

// NewDocumentProcessor creates a new document processor
func NewDocumentProcessor(cfg *ProcessorConfig) (*DocumentProcessor, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}

	segmenter, err := segmentation.New(cfg.Params)
	if err != nil {
		return nil, err
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: downloadTimeout}
	}

	logger := logging.NewLogger("DocumentProcessor")
	if !cfg.StorageManager.HasDatabase() {
		logger.Warn("PostgreSQL not configured, segments will not be persisted")
	}
	if !cfg.StorageManager.HasLayoutIndex() {
		logger.Warn("Qdrant not configured, layout fingerprints will not be indexed")
	}

	return &DocumentProcessor{
		config:         cfg,
		storage:        cfg.StorageManager,
		layoutAnalyzer: NewLayoutAnalyzer(segmenter, cfg.PageConcurrency, cfg.DebugImageDir),
		httpClient:     httpClient,
		logger:         logger,
	}, nil
}

// ProcessDocument processes a document through the complete pipeline
func (p *DocumentProcessor) ProcessDocument(ctx context.Context, req *ProcessRequest) (*ProcessResult, error) {
	start := time.Now()
	logger := p.logger.With("jobId", req.JobID)
	logger.Info("Starting segmentation pipeline", "filename", req.Filename, "mimeType", req.MimeType)

	// Step 1: Download/load file
	fileData, err := p.loadFile(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to load file: %w", err)
	}

	// Step 2: Correct generic MIME types from magic bytes
	detectedMime := detectMimeTypeFromMagicBytes(fileData)
	if detectedMime != "" && (req.MimeType == "" || req.MimeType == "application/octet-stream") {
		logger.Info("Corrected MIME type from magic bytes", "from", req.MimeType, "to", detectedMime)
		req.MimeType = detectedMime
	}
	if !IsSupportedMimeType(req.MimeType) {
		return nil, apperrors.NewUnsupportedFormatError(req.JobID, req.MimeType)
	}

	// Step 3: Open page source
	src, err := OpenSource(ctx, req.JobID, fileData, req.MimeType, p.config.Source)
	if err != nil {
		return nil, err
	}
	defer src.Close()
	logger.Debug("Page source opened", "kind", src.Kind, "pages", src.Pages)

	// Step 4: Segment pages
	doc, err := p.layoutAnalyzer.AnalyzeDocument(ctx, src, req.Pages)
	if err != nil {
		return nil, err
	}
	if doc.Stats.PagesSucceeded == 0 && doc.Stats.PagesFailed > 0 {
		page := firstFailedPage(doc.Errors)
		return nil, fmt.Errorf("all %d pages failed, page %d: %w", doc.Stats.PagesFailed, page, doc.Errors[page])
	}

	// Step 5: Persist
	stored, err := p.storage.StoreSegments(ctx, req.JobID, pageSegments(doc))
	if err != nil {
		return nil, apperrors.NewStorageFailedError(req.JobID, err)
	}

	result := &ProcessResult{
		PagesProcessed:    doc.Stats.PagesSucceeded,
		PagesFailed:       doc.Stats.PagesFailed,
		SegmentsExtracted: doc.Stats.Segments,
		Pages:             doc.Pages,
		MimeType:          req.MimeType,
		ProcessingTimeMs:  time.Since(start).Milliseconds(),
	}
	if len(doc.Errors) > 0 {
		result.PageErrors = make(map[int]string, len(doc.Errors))
		for page, err := range doc.Errors {
			result.PageErrors[page] = err.Error()
		}
	}

	logger.Info("Segmentation pipeline complete",
		"pages", result.PagesProcessed,
		"failed", result.PagesFailed,
		"segments", result.SegmentsExtracted,
		"stored", stored.SegmentsStored,
		"indexed", stored.PointsIndexed,
		"durationMs", result.ProcessingTimeMs)

	return result, nil
}

// UpdateJobStatus updates job status in database
func (p *DocumentProcessor) UpdateJobStatus(ctx context.Context, jobID string, status string, progress int, metadata map[string]interface{}) error {
	update := &storage.JobUpdate{
		JobID:    jobID,
		Status:   status,
		Metadata: metadata,
	}

	if metadata != nil {
		if v, ok := metadata["pagesProcessed"].(int); ok {
			update.PagesProcessed = v
		}
		if v, ok := metadata["pagesFailed"].(int); ok {
			update.PagesFailed = v
		}
		if v, ok := metadata["segmentsExtracted"].(int); ok {
			update.SegmentsExtracted = v
		}
		if v, ok := metadata["processingTime"].(int64); ok {
			update.ProcessingTimeMs = v
		}
		if errorMsg, ok := metadata["error"].(string); ok {
			update.ErrorCode = "PROCESSING_ERROR"
			update.ErrorMessage = errorMsg
		}
		if code, ok := metadata["errorCode"].(string); ok {
			update.ErrorCode = code
		}
	}

	return p.storage.UpdateJobStatus(ctx, update)
}

func pageSegments(doc *DocumentLayout) []storage.PageSegments {
	pages := doc.SortedPages()
	out := make([]storage.PageSegments, 0, len(pages))
	for _, page := range pages {
		layout := doc.Layouts[page]
		out = append(out, storage.PageSegments{
			Page:     page,
			Width:    layout.Width,
			Height:   layout.Height,
			Segments: layout.Segments,
		})
	}
	return out
}

func firstFailedPage(errs map[int]error) int {
	pages := make([]int, 0, len(errs))
	for p := range errs {
		pages = append(pages, p)
	}
	sort.Ints(pages)
	return pages[0]
}

// loadFile loads file from URL or buffer
func (p *DocumentProcessor) loadFile(ctx context.Context, req *ProcessRequest) ([]byte, error) {
	if len(req.FileBuffer) > 0 {
		if p.config.MaxFileSize > 0 && int64(len(req.FileBuffer)) > p.config.MaxFileSize {
			return nil, fmt.Errorf("file size exceeds maximum: %d > %d bytes", len(req.FileBuffer), p.config.MaxFileSize)
		}
		return req.FileBuffer, nil
	}

	if req.FileURL != "" {
		fileData, err := p.downloadFileFromURL(ctx, req.JobID, req.FileURL, req.FileSize)
		if err != nil {
			return nil, fmt.Errorf("failed to download file: %w", err)
		}
		return fileData, nil
	}

	return nil, fmt.Errorf("no file source provided (buffer or URL)")
}

// downloadFileFromURL downloads a file with exponential backoff between attempts
func (p *DocumentProcessor) downloadFileFromURL(ctx context.Context, jobID string, fileURL string, expectedSize int64) ([]byte, error) {
	logger := p.logger.With("jobId", jobID)
	var lastErr error

	for attempt := 1; attempt <= maxDownloadRetries; attempt++ {
		if attempt > 1 {
			delay := backoffDelay(attempt - 1)
			logger.Info("Retrying download", "attempt", attempt, "delayMs", delay.Milliseconds())
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, fmt.Errorf("context cancelled during retry backoff: %w", ctx.Err())
			}
		}

		data, retry, err := p.fetch(ctx, fileURL, expectedSize)
		if err == nil {
			logger.Debug("Download successful", "attempt", attempt, "bytes", len(data))
			return data, nil
		}
		if !retry {
			return nil, err
		}
		lastErr = err
		logger.Warn("Download attempt failed", "attempt", attempt, "error", err)
	}

	return nil, apperrors.NewDownloadError(jobID, maxDownloadRetries, lastErr)
}

// fetch performs one GET. retry reports whether the failure is transient.
func (p *DocumentProcessor) fetch(ctx context.Context, fileURL string, expectedSize int64) (data []byte, retry bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fileURL, nil)
	if err != nil {
		return nil, false, fmt.Errorf("invalid file URL: %w", err)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, ctx.Err() == nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests,
			fmt.Errorf("HTTP %d: %s", resp.StatusCode, resp.Status)
	}

	if resp.ContentLength > 0 && expectedSize > 0 && resp.ContentLength != expectedSize {
		p.logger.Warn("Content-Length mismatch", "expected", expectedSize, "got", resp.ContentLength)
	}

	maxRead := p.config.MaxFileSize
	if maxRead <= 0 {
		maxRead = defaultMaxReadSize
	}
	if resp.ContentLength > maxRead {
		return nil, false, fmt.Errorf("file size exceeds maximum: %d > %d bytes", resp.ContentLength, maxRead)
	}

	data, err = io.ReadAll(io.LimitReader(resp.Body, maxRead+1))
	if err != nil {
		return nil, true, fmt.Errorf("failed to read response body: %w", err)
	}
	if int64(len(data)) > maxRead {
		return nil, false, fmt.Errorf("file size exceeds maximum of %d bytes", maxRead)
	}
	return data, false, nil
}

func backoffDelay(retry int) time.Duration {
	d := initialBackoff << uint(retry-1)
	if d > maxBackoff || d <= 0 {
		return maxBackoff
	}
	return d
}

// detectMimeTypeFromMagicBytes detects the actual MIME type from file content magic bytes
// This is essential when sources like Google Drive return generic "application/octet-stream"
func detectMimeTypeFromMagicBytes(data []byte) string {
	if len(data) < 4 {
		return ""
	}

	switch {
	case bytes.HasPrefix(data, []byte("%PDF")):
		return "application/pdf"
	case bytes.HasPrefix(data, []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}):
		return "image/png"
	case bytes.HasPrefix(data, []byte{0xFF, 0xD8, 0xFF}):
		return "image/jpeg"
	case bytes.HasPrefix(data, []byte("GIF87a")), bytes.HasPrefix(data, []byte("GIF89a")):
		return "image/gif"
	case len(data) >= 12 && bytes.HasPrefix(data, []byte("RIFF")) && string(data[8:12]) == "WEBP":
		return "image/webp"
	case bytes.HasPrefix(data, []byte{0x49, 0x49, 0x2A, 0x00}), bytes.HasPrefix(data, []byte{0x4D, 0x4D, 0x00, 0x2A}):
		return "image/tiff"
	case bytes.HasPrefix(data, []byte("BM")):
		return "image/bmp"
	case bytes.HasPrefix(data, []byte{0x50, 0x4B, 0x03, 0x04}):
		return "application/zip"
	}

	return ""
}
