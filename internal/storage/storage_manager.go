/**
 * Storage Manager for the segmentation worker
 *
 * Coordinates PostgreSQL (jobs and text segments) and Qdrant (layout
 * fingerprints). Either backend may be absent; operations on a missing
 * backend are skipped.
 */

package storage

import (
	"context"
	"fmt"
	"regexp"
	"sort"

	apperrors "github.com/adverant/nexus/segmentation-worker/internal/errors"
	"github.com/adverant/nexus/segmentation-worker/internal/segmentation"
)

var (
	nullEscapePattern    = regexp.MustCompile(`\\u0000`)
	controlEscapePattern = regexp.MustCompile(`\\u00[01][0-9a-fA-F]`)
)

// StorageManager coordinates PostgreSQL and Qdrant operations
type StorageManager struct {
	postgres *PostgresClient
	qdrant   *QdrantClient
}

// PageSegments is the storage view of one analyzed page
type PageSegments struct {
	Page     int
	Width    int
	Height   int
	Segments []segmentation.TextSegment
}

// StoreResult reports what was written
type StoreResult struct {
	SegmentsStored int
	PointsIndexed  int
}

// NewStorageManager connects the configured backends. An empty URL disables
// that backend.
func NewStorageManager(postgresURL string, qdrantAddress string, qdrantCollection string) (*StorageManager, error) {
	sm := &StorageManager{}

	if postgresURL != "" {
		postgres, err := NewPostgresClient(postgresURL)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize PostgreSQL client: %w", err)
		}
		if err := postgres.EnsureSchema(context.Background()); err != nil {
			postgres.Close()
			return nil, err
		}
		sm.postgres = postgres
	}

	if qdrantAddress != "" && qdrantCollection != "" {
		qdrant, err := NewQdrantClient(qdrantAddress, qdrantCollection)
		if err != nil {
			sm.Close()
			return nil, fmt.Errorf("failed to initialize Qdrant client: %w", err)
		}
		sm.qdrant = qdrant
	}

	return sm, nil
}

// HasDatabase reports whether PostgreSQL is configured.
func (sm *StorageManager) HasDatabase() bool {
	return sm != nil && sm.postgres != nil
}

// HasLayoutIndex reports whether Qdrant is configured.
func (sm *StorageManager) HasLayoutIndex() bool {
	return sm != nil && sm.qdrant != nil
}

// StoreSegments writes the layout points first, then the segment rows. When
// the rows fail the job's points are removed again.
func (sm *StorageManager) StoreSegments(ctx context.Context, jobID string, pages []PageSegments) (*StoreResult, error) {
	result := &StoreResult{}
	if sm == nil {
		return result, nil
	}
	if jobID == "" {
		return nil, fmt.Errorf("job ID is required")
	}

	if sm.qdrant != nil {
		points := LayoutPoints(jobID, pages)
		if err := sm.qdrant.UpsertLayoutPoints(ctx, points); err != nil {
			return nil, fmt.Errorf("failed to index layout points: %w", err)
		}
		result.PointsIndexed = len(points)
	}

	if sm.postgres != nil {
		byPage := make(segmentation.PageResult, len(pages))
		for _, p := range pages {
			byPage[p.Page] = p.Segments
		}
		n, err := sm.postgres.StorePageSegments(ctx, jobID, byPage)
		if err != nil {
			if sm.qdrant != nil {
				sm.qdrant.DeleteJobPoints(ctx, jobID)
			}
			return nil, apperrors.NewDatabaseFailedError(jobID, err)
		}
		result.SegmentsStored = n
	}

	return result, nil
}

// LayoutPoints converts analyzed pages into index points.
func LayoutPoints(jobID string, pages []PageSegments) []*LayoutPoint {
	var points []*LayoutPoint
	for _, p := range pages {
		for ordinal, seg := range p.Segments {
			points = append(points, &LayoutPoint{
				ID:      LayoutPointID(jobID, p.Page, ordinal),
				JobID:   jobID,
				Page:    p.Page,
				Ordinal: ordinal,
				Text:    seg.Text,
				Vector:  LayoutVector(seg.BoundingRectangle, p.Width, p.Height),
			})
		}
	}
	return points
}

// GetPageSegments reads a job's segments back from PostgreSQL
func (sm *StorageManager) GetPageSegments(ctx context.Context, jobID string) (segmentation.PageResult, error) {
	if !sm.HasDatabase() {
		return nil, fmt.Errorf("database not configured")
	}
	return sm.postgres.GetPageSegments(ctx, jobID)
}

// SimilarSegments finds segments of other documents positioned like the
// stored segment (jobID, page, ordinal).
func (sm *StorageManager) SimilarSegments(ctx context.Context, jobID string, page, ordinal, limit int) ([]*LayoutMatch, error) {
	if !sm.HasLayoutIndex() {
		return nil, fmt.Errorf("layout index not configured")
	}
	point, err := sm.qdrant.GetLayoutPoint(ctx, LayoutPointID(jobID, page, ordinal))
	if err != nil {
		return nil, err
	}
	return sm.qdrant.SimilarLayouts(ctx, point.Vector, limit, jobID)
}

// UpdateJobStatus updates job status in PostgreSQL
func (sm *StorageManager) UpdateJobStatus(ctx context.Context, update *JobUpdate) error {
	if !sm.HasDatabase() {
		return nil
	}
	return sm.postgres.UpdateJobStatus(ctx, update)
}

// GetJobByID retrieves job by ID
func (sm *StorageManager) GetJobByID(ctx context.Context, jobID string) (map[string]interface{}, error) {
	if !sm.HasDatabase() {
		return nil, fmt.Errorf("database not configured")
	}
	return sm.postgres.GetJobByID(ctx, jobID)
}

// GetStats returns statistics from both systems
func (sm *StorageManager) GetStats(ctx context.Context) (map[string]interface{}, error) {
	stats := map[string]interface{}{}

	if sm.HasDatabase() {
		pgStats := sm.postgres.GetStats()
		stats["postgres"] = map[string]interface{}{
			"max_open_connections": pgStats.MaxOpenConnections,
			"open_connections":     pgStats.OpenConnections,
			"in_use":               pgStats.InUse,
			"idle":                 pgStats.Idle,
			"wait_count":           pgStats.WaitCount,
			"wait_duration":        pgStats.WaitDuration.String(),
		}
	}

	if sm.HasLayoutIndex() {
		qdrantStats, err := sm.qdrant.GetCollectionInfo(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to get Qdrant stats: %w", err)
		}
		stats["qdrant"] = qdrantStats
	}

	return stats, nil
}

// Close closes all connections. Closing twice is a no-op.
func (sm *StorageManager) Close() error {
	if sm == nil {
		return nil
	}
	var pgErr, qdErr error

	if sm.postgres != nil {
		pgErr = sm.postgres.Close()
		sm.postgres = nil
	}
	if sm.qdrant != nil {
		qdErr = sm.qdrant.Close()
		sm.qdrant = nil
	}

	if pgErr != nil {
		return fmt.Errorf("failed to close PostgreSQL: %w", pgErr)
	}
	if qdErr != nil {
		return fmt.Errorf("failed to close Qdrant: %w", qdErr)
	}
	return nil
}

func sortedPageKeys(pages segmentation.PageResult) []int {
	keys := make([]int, 0, len(pages))
	for p := range pages {
		keys = append(keys, p)
	}
	sort.Ints(keys)
	return keys
}

// sanitizeJSONForPostgres removes escape sequences that PostgreSQL JSONB
// rejects: \u0000 is dropped, other control escapes become a space.
func sanitizeJSONForPostgres(jsonBytes []byte) []byte {
	result := nullEscapePattern.ReplaceAll(jsonBytes, []byte{})
	return controlEscapePattern.ReplaceAll(result, []byte(" "))
}
