package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adverant/nexus/segmentation-worker/internal/segmentation"
)

func rect(x0, y0, x1, y1 int) segmentation.BoundingRectangle {
	return segmentation.BoundingRectangle{
		X: segmentation.Interval{Start: x0, End: x1},
		Y: segmentation.Interval{Start: y0, End: y1},
	}
}

func TestLayoutVector(t *testing.T) {
	assert.Equal(t, []float32{0.25, 0.1, 0.75, 0.5}, LayoutVector(rect(50, 40, 150, 200), 200, 400))
	assert.Equal(t, make([]float32, LayoutVectorSize), LayoutVector(rect(1, 1, 2, 2), 0, 100))
}

func TestLayoutPointID(t *testing.T) {
	a := LayoutPointID("job-1", 0, 3)
	assert.Equal(t, a, LayoutPointID("job-1", 0, 3), "stable across runs")
	assert.NotEqual(t, a, LayoutPointID("job-1", 0, 4))
	assert.NotEqual(t, a, LayoutPointID("job-1", 3, 0))
	assert.NotEqual(t, a, LayoutPointID("job-2", 0, 3))
	assert.Len(t, a, 36)
}

func TestLayoutPoints(t *testing.T) {
	pages := []PageSegments{
		{Page: 0, Width: 100, Height: 100, Segments: []segmentation.TextSegment{
			{BoundingRectangle: rect(0, 0, 50, 50), Text: "title"},
			{BoundingRectangle: rect(0, 50, 100, 100), Text: "body"},
		}},
		{Page: 2, Width: 100, Height: 100},
		{Page: 5, Width: 10, Height: 10, Segments: []segmentation.TextSegment{
			{BoundingRectangle: rect(5, 5, 10, 10), Text: "footer"},
		}},
	}

	points := LayoutPoints("job-1", pages)
	require.Len(t, points, 3)

	assert.Equal(t, "body", points[1].Text)
	assert.Equal(t, 1, points[1].Ordinal)
	assert.Equal(t, []float32{0, 0.5, 1, 1}, points[1].Vector)

	assert.Equal(t, 5, points[2].Page)
	assert.Equal(t, 0, points[2].Ordinal)
	assert.Equal(t, LayoutPointID("job-1", 5, 0), points[2].ID)
}

func TestPayloadRoundTrip(t *testing.T) {
	m := fromPayload(toPayload(map[string]interface{}{
		"job_id":  "job-1",
		"page":    4,
		"ordinal": int64(2),
		"text":    "Hello",
		"ratio":   0.5,
		"ok":      true,
	}))

	assert.Equal(t, 0.5, m["ratio"])
	assert.Equal(t, true, m["ok"])

	var p LayoutPoint
	fillLayoutPoint(&p, m)
	assert.Equal(t, LayoutPoint{JobID: "job-1", Page: 4, Ordinal: 2, Text: "Hello"}, p)
}

func TestSanitizeText(t *testing.T) {
	assert.Equal(t, "abc", sanitizeText("a\x00b\xffc"))
	assert.Equal(t, "naïve", sanitizeText("naïve"))
}

func TestSanitizeJSONForPostgres(t *testing.T) {
	in := []byte(`{"text":"a\u0000b\u0007c\u001fdA"}`)
	assert.Equal(t, `{"text":"ab c dA"}`, string(sanitizeJSONForPostgres(in)))
}

func TestSortedPageKeys(t *testing.T) {
	pages := segmentation.PageResult{7: nil, 0: nil, 3: nil}
	assert.Equal(t, []int{0, 3, 7}, sortedPageKeys(pages))
}

func TestStorageManager_Unconfigured(t *testing.T) {
	ctx := context.Background()

	var nilManager *StorageManager
	res, err := nilManager.StoreSegments(ctx, "", nil)
	require.NoError(t, err)
	assert.Equal(t, &StoreResult{}, res)
	assert.False(t, nilManager.HasDatabase())
	assert.NoError(t, nilManager.Close())

	sm, err := NewStorageManager("", "", "")
	require.NoError(t, err)
	assert.False(t, sm.HasDatabase())
	assert.False(t, sm.HasLayoutIndex())

	_, err = sm.StoreSegments(ctx, "", nil)
	assert.Error(t, err)

	res, err = sm.StoreSegments(ctx, "job-1", []PageSegments{{Page: 0}})
	require.NoError(t, err)
	assert.Zero(t, res.SegmentsStored)

	assert.NoError(t, sm.UpdateJobStatus(ctx, &JobUpdate{JobID: "job-1", Status: "completed"}))
	_, err = sm.SimilarSegments(ctx, "job-1", 0, 0, 5)
	assert.Error(t, err)
	_, err = sm.GetJobByID(ctx, "job-1")
	assert.Error(t, err)
}
