/**
 * PostgreSQL Client for the segmentation worker
 *
 * Handles job status persistence and the text segments produced per page.
 */

package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/adverant/nexus/segmentation-worker/internal/segmentation"
)

const schemaDDL = `
	CREATE SCHEMA IF NOT EXISTS segmentation;

	CREATE TABLE IF NOT EXISTS segmentation.processing_jobs (
		id                 UUID PRIMARY KEY,
		user_id            TEXT NOT NULL DEFAULT 'anonymous',
		filename           TEXT NOT NULL DEFAULT 'unknown',
		mime_type          TEXT,
		file_size          BIGINT,
		status             TEXT NOT NULL,
		pages_processed    INTEGER,
		pages_failed       INTEGER,
		segments_extracted INTEGER,
		processing_time_ms BIGINT,
		error_code         TEXT,
		error_message      TEXT,
		metadata           JSONB NOT NULL DEFAULT '{}'::jsonb,
		created_at         TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at         TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS segmentation.page_segments (
		job_id  UUID NOT NULL,
		page    INTEGER NOT NULL,
		ordinal INTEGER NOT NULL,
		x0      INTEGER NOT NULL,
		x1      INTEGER NOT NULL,
		y0      INTEGER NOT NULL,
		y1      INTEGER NOT NULL,
		text    TEXT NOT NULL,
		PRIMARY KEY (job_id, page, ordinal)
	);
`

// PostgresClient handles database operations
type PostgresClient struct {
	db *sql.DB
}

// JobUpdate represents a job status update
type JobUpdate struct {
	JobID             string
	Status            string
	PagesProcessed    int
	PagesFailed       int
	SegmentsExtracted int
	ProcessingTimeMs  int64
	ErrorCode         string
	ErrorMessage      string
	Metadata          map[string]interface{}
}

// NewPostgresClient creates a new PostgreSQL client
func NewPostgresClient(databaseURL string) (*PostgresClient, error) {
	if databaseURL == "" {
		return nil, fmt.Errorf("database URL is required")
	}

	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(2 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresClient{db: db}, nil
}

// EnsureSchema creates the segmentation schema and tables when missing.
func (p *PostgresClient) EnsureSchema(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, schemaDDL); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// UpdateJobStatus upserts the job row, so the worker can create it when the
// API has not yet done so.
func (p *PostgresClient) UpdateJobStatus(ctx context.Context, update *JobUpdate) error {
	if update.JobID == "" {
		return fmt.Errorf("job ID is required")
	}
	if update.Status == "" {
		return fmt.Errorf("status is required")
	}

	metadataJSON, err := metadataParam(update.Metadata)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO segmentation.processing_jobs (
			id, user_id, filename, mime_type, file_size,
			status, pages_processed, pages_failed, segments_extracted, processing_time_ms,
			error_code, error_message, metadata,
			created_at, updated_at
		) VALUES (
			$1::uuid, COALESCE(NULLIF($13, ''), 'anonymous'), COALESCE(NULLIF($10, ''), 'unknown'),
			NULLIF($11, ''), NULLIF($12, 0),
			$2, NULLIF($3, 0), NULLIF($4, 0), NULLIF($5, 0), NULLIF($6, 0),
			NULLIF($7, ''), NULLIF($8, ''),
			COALESCE(NULLIF($9::jsonb, 'null'::jsonb), '{}'::jsonb),
			NOW(), NOW()
		)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			pages_processed = COALESCE(EXCLUDED.pages_processed, segmentation.processing_jobs.pages_processed),
			pages_failed = COALESCE(EXCLUDED.pages_failed, segmentation.processing_jobs.pages_failed),
			segments_extracted = COALESCE(EXCLUDED.segments_extracted, segmentation.processing_jobs.segments_extracted),
			processing_time_ms = COALESCE(EXCLUDED.processing_time_ms, segmentation.processing_jobs.processing_time_ms),
			error_code = EXCLUDED.error_code,
			error_message = EXCLUDED.error_message,
			metadata = segmentation.processing_jobs.metadata || EXCLUDED.metadata,
			mime_type = COALESCE(EXCLUDED.mime_type, segmentation.processing_jobs.mime_type),
			file_size = COALESCE(EXCLUDED.file_size, segmentation.processing_jobs.file_size),
			updated_at = NOW()
		RETURNING id
	`

	var filename, mimeType, userID string
	var fileSize int64
	if update.Metadata != nil {
		if fn, ok := update.Metadata["filename"].(string); ok {
			filename = fn
		}
		if mt, ok := update.Metadata["mimeType"].(string); ok {
			mimeType = mt
		}
		if fs, ok := update.Metadata["fileSize"].(int64); ok {
			fileSize = fs
		} else if fs, ok := update.Metadata["fileSize"].(float64); ok {
			fileSize = int64(fs)
		}
		if uid, ok := update.Metadata["userId"].(string); ok {
			userID = uid
		}
	}

	errorMessage := sanitizeText(update.ErrorMessage)

	var returnedID string
	err = p.db.QueryRowContext(
		ctx,
		query,
		update.JobID,             // $1
		update.Status,            // $2
		update.PagesProcessed,    // $3
		update.PagesFailed,       // $4
		update.SegmentsExtracted, // $5
		update.ProcessingTimeMs,  // $6
		update.ErrorCode,         // $7
		errorMessage,             // $8
		metadataJSON,             // $9
		filename,                 // $10
		mimeType,                 // $11
		fileSize,                 // $12
		userID,                   // $13
	).Scan(&returnedID)

	if err != nil {
		return fmt.Errorf("failed to update job status (job=%s, status=%s): %w",
			update.JobID, update.Status, err)
	}
	return nil
}

// metadataParam encodes job metadata as a JSONB object. A nil map becomes {}
// so that the upsert's "metadata || EXCLUDED.metadata" merge keeps an object.
func metadataParam(metadata map[string]interface{}) ([]byte, error) {
	if metadata == nil {
		return []byte("{}"), nil
	}
	data, err := json.Marshal(metadata)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal metadata: %w", err)
	}
	return sanitizeJSONForPostgres(data), nil
}

// StorePageSegments replaces the stored segments of a job in one transaction.
func (p *PostgresClient) StorePageSegments(ctx context.Context, jobID string, pages segmentation.PageResult) (int, error) {
	if jobID == "" {
		return 0, fmt.Errorf("job ID is required")
	}

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM segmentation.page_segments WHERE job_id = $1::uuid`, jobID); err != nil {
		return 0, fmt.Errorf("failed to clear previous segments: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, pq.CopyInSchema("segmentation", "page_segments",
		"job_id", "page", "ordinal", "x0", "x1", "y0", "y1", "text"))
	if err != nil {
		return 0, fmt.Errorf("failed to prepare copy: %w", err)
	}

	rows := 0
	for _, page := range sortedPageKeys(pages) {
		for ordinal, seg := range pages[page] {
			if _, err := stmt.ExecContext(ctx, jobID, page, ordinal,
				seg.X.Start, seg.X.End, seg.Y.Start, seg.Y.End, sanitizeText(seg.Text)); err != nil {
				stmt.Close()
				return 0, fmt.Errorf("failed to copy segment (page=%d, ordinal=%d): %w", page, ordinal, err)
			}
			rows++
		}
	}
	if _, err := stmt.ExecContext(ctx); err != nil {
		stmt.Close()
		return 0, fmt.Errorf("failed to flush segments: %w", err)
	}
	if err := stmt.Close(); err != nil {
		return 0, fmt.Errorf("failed to close copy: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit segments: %w", err)
	}
	return rows, nil
}

// GetPageSegments reads back the segments of a job ordered by page and ordinal.
func (p *PostgresClient) GetPageSegments(ctx context.Context, jobID string) (segmentation.PageResult, error) {
	if jobID == "" {
		return nil, fmt.Errorf("job ID is required")
	}

	rows, err := p.db.QueryContext(ctx, `
		SELECT page, x0, x1, y0, y1, text
		FROM segmentation.page_segments
		WHERE job_id = $1::uuid
		ORDER BY page, ordinal
	`, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to query segments: %w", err)
	}
	defer rows.Close()

	return scanSegments(rows)
}

// segmentRows is the part of *sql.Rows that scanSegments reads.
type segmentRows interface {
	Next() bool
	Scan(dest ...interface{}) error
	Err() error
}

// scanSegments groups (page, x0, x1, y0, y1, text) rows by page. Rows must
// arrive ordered by page and ordinal.
func scanSegments(rows segmentRows) (segmentation.PageResult, error) {
	result := make(segmentation.PageResult)
	for rows.Next() {
		var page int
		var seg segmentation.TextSegment
		if err := rows.Scan(&page, &seg.X.Start, &seg.X.End, &seg.Y.Start, &seg.Y.End, &seg.Text); err != nil {
			return nil, fmt.Errorf("failed to scan segment: %w", err)
		}
		result[page] = append(result[page], seg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read segments: %w", err)
	}
	return result, nil
}

// GetJobByID retrieves a job by ID
func (p *PostgresClient) GetJobByID(ctx context.Context, jobID string) (map[string]interface{}, error) {
	if jobID == "" {
		return nil, fmt.Errorf("job ID is required")
	}

	query := `
		SELECT
			id, user_id, filename, mime_type, file_size, status,
			pages_processed, pages_failed, segments_extracted, processing_time_ms,
			error_code, error_message, metadata, created_at, updated_at
		FROM segmentation.processing_jobs
		WHERE id = $1::uuid
	`

	var (
		id, userID, filename, status              string
		mimeType, errorCode, errorMessage         sql.NullString
		fileSize, processingTimeMs                sql.NullInt64
		pagesProcessed, pagesFailed, segmentCount sql.NullInt64
		metadataJSON                              []byte
		createdAt, updatedAt                      time.Time
	)

	err := p.db.QueryRowContext(ctx, query, jobID).Scan(
		&id, &userID, &filename, &mimeType, &fileSize, &status,
		&pagesProcessed, &pagesFailed, &segmentCount, &processingTimeMs,
		&errorCode, &errorMessage, &metadataJSON, &createdAt, &updatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("job not found: %s", jobID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	var metadata map[string]interface{}
	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}

	result := map[string]interface{}{
		"id":        id,
		"userId":    userID,
		"filename":  filename,
		"status":    status,
		"createdAt": createdAt,
		"updatedAt": updatedAt,
		"metadata":  metadata,
	}

	optionalString := map[string]sql.NullString{
		"mimeType":     mimeType,
		"errorCode":    errorCode,
		"errorMessage": errorMessage,
	}
	for k, v := range optionalString {
		if v.Valid {
			result[k] = v.String
		}
	}
	optionalInt := map[string]sql.NullInt64{
		"fileSize":          fileSize,
		"processingTimeMs":  processingTimeMs,
		"pagesProcessed":    pagesProcessed,
		"pagesFailed":       pagesFailed,
		"segmentsExtracted": segmentCount,
	}
	for k, v := range optionalInt {
		if v.Valid {
			result[k] = v.Int64
		}
	}

	return result, nil
}

// Close closes the database connection
func (p *PostgresClient) Close() error {
	if p.db != nil {
		return p.db.Close()
	}
	return nil
}

// GetStats returns connection pool statistics
func (p *PostgresClient) GetStats() sql.DBStats {
	return p.db.Stats()
}

// sanitizeText drops NUL bytes and invalid UTF-8, both rejected by TEXT columns.
func sanitizeText(s string) string {
	s = strings.ToValidUTF8(s, "")
	return strings.ReplaceAll(s, "\x00", "")
}
