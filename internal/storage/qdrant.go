/**
 * Qdrant layout index for the segmentation worker
 *
 * Every text segment is stored as a 4-dim point [x0/W, y0/H, x1/W, y1/H]
 * so that documents with the same block arrangement (same sender, same form)
 * can be found by nearest-neighbour search. Uses Qdrant's native gRPC API.
 */

package storage

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	qdrant "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/adverant/nexus/segmentation-worker/internal/segmentation"
)

// LayoutVectorSize is the dimension of a layout fingerprint
const LayoutVectorSize = 4

var layoutPointNamespace = uuid.MustParse("6f1c5d1e-3b7a-4f59-9a55-2d2b8f0c7e41")

// QdrantClient handles vector database operations
type QdrantClient struct {
	client           qdrant.PointsClient
	collectionClient qdrant.CollectionsClient
	conn             *grpc.ClientConn
	collectionName   string
}

// LayoutPoint is one text segment positioned on its page
type LayoutPoint struct {
	ID      string    `json:"id"`
	JobID   string    `json:"jobId"`
	Page    int       `json:"page"`
	Ordinal int       `json:"ordinal"`
	Text    string    `json:"text"`
	Vector  []float32 `json:"vector,omitempty"`
}

// LayoutMatch is a search hit with its distance score
type LayoutMatch struct {
	LayoutPoint
	Score float32 `json:"score"`
}

// NewQdrantClient creates a new Qdrant client
func NewQdrantClient(address string, collectionName string) (*QdrantClient, error) {
	if address == "" {
		return nil, fmt.Errorf("qdrant address is required")
	}
	if collectionName == "" {
		return nil, fmt.Errorf("collection name is required")
	}

	conn, err := grpc.Dial(address, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Qdrant: %w", err)
	}

	qc := &QdrantClient{
		client:           qdrant.NewPointsClient(conn),
		collectionClient: qdrant.NewCollectionsClient(conn),
		conn:             conn,
		collectionName:   collectionName,
	}

	if err := qc.ensureCollection(context.Background()); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ensure collection: %w", err)
	}

	return qc, nil
}

// LayoutVector normalizes a segment rectangle by the page size.
func LayoutVector(seg segmentation.BoundingRectangle, width, height int) []float32 {
	if width <= 0 || height <= 0 {
		return make([]float32, LayoutVectorSize)
	}
	w, h := float32(width), float32(height)
	return []float32{
		float32(seg.X.Start) / w,
		float32(seg.Y.Start) / h,
		float32(seg.X.End) / w,
		float32(seg.Y.End) / h,
	}
}

// LayoutPointID derives a stable point ID so reprocessing a job overwrites
// its previous points.
func LayoutPointID(jobID string, page, ordinal int) string {
	return uuid.NewSHA1(layoutPointNamespace, []byte(fmt.Sprintf("%s/%d/%d", jobID, page, ordinal))).String()
}

// ensureCollection creates the collection if it doesn't exist
func (q *QdrantClient) ensureCollection(ctx context.Context) error {
	listResp, err := q.collectionClient.List(ctx, &qdrant.ListCollectionsRequest{})
	if err != nil {
		return fmt.Errorf("failed to list collections: %w", err)
	}

	for _, col := range listResp.Collections {
		if col.Name == q.collectionName {
			return nil
		}
	}

	_, err = q.collectionClient.Create(ctx, &qdrant.CreateCollection{
		CollectionName: q.collectionName,
		VectorsConfig: &qdrant.VectorsConfig{
			Config: &qdrant.VectorsConfig_Params{
				Params: &qdrant.VectorParams{
					Size:     LayoutVectorSize,
					Distance: qdrant.Distance_Euclid,
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}
	return nil
}

// UpsertLayoutPoints stores or updates points in one request.
func (q *QdrantClient) UpsertLayoutPoints(ctx context.Context, points []*LayoutPoint) error {
	if len(points) == 0 {
		return nil
	}

	structs := make([]*qdrant.PointStruct, 0, len(points))
	for _, p := range points {
		if len(p.Vector) != LayoutVectorSize {
			return fmt.Errorf("invalid vector dimensions: expected %d, got %d", LayoutVectorSize, len(p.Vector))
		}
		if p.ID == "" {
			p.ID = LayoutPointID(p.JobID, p.Page, p.Ordinal)
		}
		structs = append(structs, &qdrant.PointStruct{
			Id: pointID(p.ID),
			Vectors: &qdrant.Vectors{
				VectorsOptions: &qdrant.Vectors_Vector{
					Vector: &qdrant.Vector{Data: p.Vector},
				},
			},
			Payload: toPayload(map[string]interface{}{
				"job_id":  p.JobID,
				"page":    int64(p.Page),
				"ordinal": int64(p.Ordinal),
				"text":    p.Text,
			}),
		})
	}

	wait := true
	_, err := q.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: q.collectionName,
		Wait:           &wait,
		Points:         structs,
	})
	if err != nil {
		return fmt.Errorf("failed to upsert layout points: %w", err)
	}
	return nil
}

// SimilarLayouts returns the limit points closest to vector. Points of
// excludeJobID are left out so a document does not match itself.
func (q *QdrantClient) SimilarLayouts(ctx context.Context, vector []float32, limit int, excludeJobID string) ([]*LayoutMatch, error) {
	if len(vector) != LayoutVectorSize {
		return nil, fmt.Errorf("invalid query vector dimensions: expected %d, got %d", LayoutVectorSize, len(vector))
	}
	if limit <= 0 {
		limit = 10
	}

	req := &qdrant.SearchPoints{
		CollectionName: q.collectionName,
		Vector:         vector,
		Limit:          uint64(limit),
		WithPayload: &qdrant.WithPayloadSelector{
			SelectorOptions: &qdrant.WithPayloadSelector_Enable{Enable: true},
		},
	}
	if excludeJobID != "" {
		req.Filter = &qdrant.Filter{MustNot: []*qdrant.Condition{jobCondition(excludeJobID)}}
	}

	results, err := q.client.Search(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to search layouts: %w", err)
	}

	matches := make([]*LayoutMatch, 0, len(results.Result))
	for _, r := range results.Result {
		m := &LayoutMatch{Score: r.Score}
		m.ID = r.Id.GetUuid()
		fillLayoutPoint(&m.LayoutPoint, fromPayload(r.Payload))
		matches = append(matches, m)
	}
	return matches, nil
}

// GetLayoutPoint retrieves a point with its vector by ID
func (q *QdrantClient) GetLayoutPoint(ctx context.Context, id string) (*LayoutPoint, error) {
	if id == "" {
		return nil, fmt.Errorf("point ID is required")
	}

	results, err := q.client.Get(ctx, &qdrant.GetPoints{
		CollectionName: q.collectionName,
		Ids:            []*qdrant.PointId{pointID(id)},
		WithPayload: &qdrant.WithPayloadSelector{
			SelectorOptions: &qdrant.WithPayloadSelector_Enable{Enable: true},
		},
		WithVectors: &qdrant.WithVectorsSelector{
			SelectorOptions: &qdrant.WithVectorsSelector_Enable{Enable: true},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get point: %w", err)
	}
	if len(results.Result) == 0 {
		return nil, fmt.Errorf("point not found: %s", id)
	}

	r := results.Result[0]
	p := &LayoutPoint{ID: id}
	if r.Vectors != nil {
		if vec := r.Vectors.GetVector(); vec != nil {
			p.Vector = vec.Data
		}
	}
	fillLayoutPoint(p, fromPayload(r.Payload))
	return p, nil
}

// DeleteJobPoints removes every point of a job
func (q *QdrantClient) DeleteJobPoints(ctx context.Context, jobID string) error {
	if jobID == "" {
		return fmt.Errorf("job ID is required")
	}

	_, err := q.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: q.collectionName,
		Points: &qdrant.PointsSelector{
			PointsSelectorOneOf: &qdrant.PointsSelector_Filter{
				Filter: &qdrant.Filter{
					Must: []*qdrant.Condition{jobCondition(jobID)},
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to delete job points: %w", err)
	}
	return nil
}

// GetCollectionInfo returns collection statistics
func (q *QdrantClient) GetCollectionInfo(ctx context.Context) (map[string]interface{}, error) {
	info, err := q.collectionClient.Get(ctx, &qdrant.GetCollectionInfoRequest{
		CollectionName: q.collectionName,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get collection info: %w", err)
	}

	return map[string]interface{}{
		"collection_name": q.collectionName,
		"vectors_count":   info.Result.GetVectorsCount(),
		"points_count":    info.Result.GetPointsCount(),
		"indexed_vectors": info.Result.GetIndexedVectorsCount(),
		"status":          info.Result.GetStatus().String(),
	}, nil
}

// Close closes the Qdrant client connection
func (q *QdrantClient) Close() error {
	if q.conn != nil {
		return q.conn.Close()
	}
	return nil
}

func jobCondition(jobID string) *qdrant.Condition {
	return &qdrant.Condition{
		ConditionOneOf: &qdrant.Condition_Field{
			Field: &qdrant.FieldCondition{
				Key: "job_id",
				Match: &qdrant.Match{
					MatchValue: &qdrant.Match_Keyword{Keyword: jobID},
				},
			},
		},
	}
}

func pointID(id string) *qdrant.PointId {
	return &qdrant.PointId{PointIdOptions: &qdrant.PointId_Uuid{Uuid: id}}
}

func toPayload(m map[string]interface{}) map[string]*qdrant.Value {
	payload := make(map[string]*qdrant.Value, len(m))
	for k, v := range m {
		switch val := v.(type) {
		case string:
			payload[k] = &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: val}}
		case int64:
			payload[k] = &qdrant.Value{Kind: &qdrant.Value_IntegerValue{IntegerValue: val}}
		case int:
			payload[k] = &qdrant.Value{Kind: &qdrant.Value_IntegerValue{IntegerValue: int64(val)}}
		case float64:
			payload[k] = &qdrant.Value{Kind: &qdrant.Value_DoubleValue{DoubleValue: val}}
		case bool:
			payload[k] = &qdrant.Value{Kind: &qdrant.Value_BoolValue{BoolValue: val}}
		default:
			payload[k] = &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: fmt.Sprintf("%v", val)}}
		}
	}
	return payload
}

func fromPayload(payload map[string]*qdrant.Value) map[string]interface{} {
	m := make(map[string]interface{}, len(payload))
	for k, v := range payload {
		switch val := v.GetKind().(type) {
		case *qdrant.Value_StringValue:
			m[k] = val.StringValue
		case *qdrant.Value_IntegerValue:
			m[k] = val.IntegerValue
		case *qdrant.Value_DoubleValue:
			m[k] = val.DoubleValue
		case *qdrant.Value_BoolValue:
			m[k] = val.BoolValue
		}
	}
	return m
}

func fillLayoutPoint(p *LayoutPoint, m map[string]interface{}) {
	if v, ok := m["job_id"].(string); ok {
		p.JobID = v
	}
	if v, ok := m["page"].(int64); ok {
		p.Page = int(v)
	}
	if v, ok := m["ordinal"].(int64); ok {
		p.Ordinal = int(v)
	}
	if v, ok := m["text"].(string); ok {
		p.Text = v
	}
}
