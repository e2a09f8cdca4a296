/**
 * Poppler page renderer
 *
 * Rasterizes single PDF pages through the poppler-utils binaries:
 * - pdfinfo for the page count
 * - pdftoppm for 8-bit grayscale PNG output on stdout
 */

package processor

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"os/exec"
	"regexp"
	"strconv"

	apperrors "github.com/adverant/nexus/segmentation-worker/internal/errors"
	"github.com/adverant/nexus/segmentation-worker/internal/logging"
)

var pdfinfoPagesRe = regexp.MustCompile(`(?m)^Pages:\s+(\d+)\s*$`)

// PopplerConfig holds the locations of the poppler binaries
type PopplerConfig struct {
	PdftoppmPath string
	PdfinfoPath  string
}

func (c PopplerConfig) withDefaults() PopplerConfig {
	if c.PdftoppmPath == "" {
		c.PdftoppmPath = "pdftoppm"
	}
	if c.PdfinfoPath == "" {
		c.PdfinfoPath = "pdfinfo"
	}
	return c
}

// PopplerRenderer renders pages of one PDF file on disk
type PopplerRenderer struct {
	path   string
	cfg    PopplerConfig
	pages  int
	logger *logging.Logger
}

// NewPopplerRenderer opens pdfPath and reads its page count.
func NewPopplerRenderer(ctx context.Context, pdfPath string, cfg PopplerConfig) (*PopplerRenderer, error) {
	cfg = cfg.withDefaults()
	pages, err := PageCount(ctx, cfg.PdfinfoPath, pdfPath)
	if err != nil {
		return nil, err
	}
	return &PopplerRenderer{
		path:   pdfPath,
		cfg:    cfg,
		pages:  pages,
		logger: logging.NewLogger("PopplerRenderer"),
	}, nil
}

// PageCount runs pdfinfo on pdfPath and parses the "Pages:" line.
func PageCount(ctx context.Context, pdfinfo, pdfPath string) (int, error) {
	out, err := exec.CommandContext(ctx, pdfinfo, pdfPath).Output()
	if err != nil {
		return 0, fmt.Errorf("pdfinfo failed: %w", err)
	}
	return parsePageCount(out)
}

func parsePageCount(out []byte) (int, error) {
	m := pdfinfoPagesRe.FindSubmatch(out)
	if len(m) != 2 {
		return 0, fmt.Errorf("pdfinfo: pages not found")
	}
	return strconv.Atoi(string(m[1]))
}

// Pages returns the number of pages in the document.
func (r *PopplerRenderer) Pages() int {
	return r.pages
}

// RenderPage rasterizes the zero-based page at dpi.
func (r *PopplerRenderer) RenderPage(ctx context.Context, page int, dpi float64) (*image.Gray, error) {
	if page < 0 || page >= r.pages {
		return nil, apperrors.NewRenderError(page, fmt.Sprintf("page out of range (document has %d)", r.pages), nil)
	}

	n := strconv.Itoa(page + 1)
	args := []string{
		"-f", n,
		"-l", n,
		"-r", strconv.FormatFloat(dpi, 'f', -1, 64),
		"-gray",
		"-png",
		"-singlefile",
		r.path,
	}

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, r.cfg.PdftoppmPath, args...)
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return nil, apperrors.NewRenderError(page, fmt.Sprintf("pdftoppm: %s", bytes.TrimSpace(stderr.Bytes())), err)
	}

	img, err := png.Decode(bytes.NewReader(out))
	if err != nil {
		return nil, apperrors.NewRenderError(page, "cannot decode pdftoppm output", err)
	}

	gray := toGray(img)
	r.logger.Debug("Page rendered", "page", page, "dpi", dpi,
		"width", gray.Bounds().Dx(), "height", gray.Bounds().Dy())
	return gray, nil
}
