/**
 * Layout Analyzer
 *
 * Runs page segmentation over a whole document:
 * - pages are independent and processed in parallel (bounded by PageConcurrency)
 * - a failing page is recorded and never aborts the others
 * - cancellation skips pages that have not started yet
 */

package processor

import (
	"context"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/adverant/nexus/segmentation-worker/internal/logging"
	"github.com/adverant/nexus/segmentation-worker/internal/segmentation"
)

// LayoutAnalyzer performs document layout analysis
type LayoutAnalyzer struct {
	segmenter   *segmentation.Segmenter
	concurrency int
	debugDir    string
	logger      *logging.Logger
}

// DocumentLayout is the outcome of analyzing every requested page
type DocumentLayout struct {
	Pages   segmentation.PageResult
	Layouts map[int]*segmentation.PageLayout
	Errors  map[int]error
	Stats   AnalysisStats
}

// AnalysisStats summarizes one AnalyzeDocument call
type AnalysisStats struct {
	PagesTotal       int
	PagesSucceeded   int
	PagesFailed      int
	Segments         int
	Leaves           int
	DegenerateLeaves int
	Duration         time.Duration
}

// NewLayoutAnalyzer creates a new layout analyzer. concurrency <= 0 means one
// page at a time. debugDir, when set, receives the diagnostic images of every page.
func NewLayoutAnalyzer(segmenter *segmentation.Segmenter, concurrency int, debugDir string) *LayoutAnalyzer {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &LayoutAnalyzer{
		segmenter:   segmenter,
		concurrency: concurrency,
		debugDir:    debugDir,
		logger:      logging.NewLogger("LayoutAnalyzer"),
	}
}

// AnalyzeDocument segments pages of src (all pages when pages is empty). The
// returned layout is always non-nil; the error is the context error when the
// run was cancelled.
func (l *LayoutAnalyzer) AnalyzeDocument(ctx context.Context, src *DocumentSource, pages []int) (*DocumentLayout, error) {
	start := time.Now()
	if len(pages) == 0 {
		pages = make([]int, src.Pages)
		for i := range pages {
			pages[i] = i
		}
	}

	doc := &DocumentLayout{
		Pages:   make(segmentation.PageResult, len(pages)),
		Layouts: make(map[int]*segmentation.PageLayout, len(pages)),
		Errors:  make(map[int]error),
	}

	var mu sync.Mutex
	g := new(errgroup.Group)
	g.SetLimit(l.concurrency)

	for _, page := range pages {
		page := page
		g.Go(func() error {
			layout, err := l.segmenter.SegmentPage(ctx, src.Renderer, src.Extractor, page)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				doc.Errors[page] = err
				return nil
			}
			doc.Pages[page] = layout.Segments
			doc.Layouts[page] = layout
			return nil
		})
	}
	_ = g.Wait()

	if l.debugDir != "" {
		l.writeDebugImages(doc)
	}

	doc.Stats = summarize(doc, len(pages), time.Since(start))
	l.logger.Info("Document analyzed",
		"pages", doc.Stats.PagesTotal,
		"succeeded", doc.Stats.PagesSucceeded,
		"failed", doc.Stats.PagesFailed,
		"segments", doc.Stats.Segments,
		"durationMs", doc.Stats.Duration.Milliseconds())

	for page, err := range doc.Errors {
		l.logger.Warn("Page failed", "page", page, "error", err)
	}

	return doc, ctx.Err()
}

// SortedPages returns the successfully analyzed page indexes in ascending order.
func (d *DocumentLayout) SortedPages() []int {
	pages := make([]int, 0, len(d.Pages))
	for p := range d.Pages {
		pages = append(pages, p)
	}
	sort.Ints(pages)
	return pages
}

func (l *LayoutAnalyzer) writeDebugImages(doc *DocumentLayout) {
	for _, page := range doc.SortedPages() {
		if err := segmentation.WriteDebugImages(l.debugDir, doc.Layouts[page]); err != nil {
			l.logger.Warn("Failed to write debug images", "page", page, "error", err)
		}
	}
}

func summarize(doc *DocumentLayout, total int, d time.Duration) AnalysisStats {
	s := AnalysisStats{
		PagesTotal:     total,
		PagesSucceeded: len(doc.Layouts),
		PagesFailed:    len(doc.Errors),
		Duration:       d,
	}
	for _, layout := range doc.Layouts {
		s.Segments += len(layout.Segments)
		s.Leaves += len(layout.Leaves)
		s.DegenerateLeaves += layout.Degenerate
	}
	return s
}
