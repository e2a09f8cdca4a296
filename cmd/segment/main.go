package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/adverant/nexus/segmentation-worker/internal/config"
	"github.com/adverant/nexus/segmentation-worker/internal/logging"
	"github.com/adverant/nexus/segmentation-worker/internal/processor"
	"github.com/adverant/nexus/segmentation-worker/internal/queue"
	"github.com/adverant/nexus/segmentation-worker/internal/segmentation"
	"github.com/adverant/nexus/segmentation-worker/internal/storage"
)

type options struct {
	path     string
	pages    []int
	outPath  string
	debugDir string
	enqueue  bool
	mimeType string
	retries  int
	jobID    string
	similar  int // page to query the layout index for; -1 disables
	k        int
}

// storedJob is the output of -job.
type storedJob struct {
	Job     map[string]interface{}         `json:"job"`
	Pages   segmentation.PageResult        `json:"pages"`
	Similar map[int][]*storage.LayoutMatch `json:"similar,omitempty"`
}

func main() {
	opts, err := parseFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "segment: %v\n", err)
		os.Exit(2)
	}

	_ = godotenv.Load(".env")

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "segment: %v\n", err)
		os.Exit(2)
	}
	if err := logging.Configure(cfg.LogLevel, cfg.LogFormat); err != nil {
		fmt.Fprintf(os.Stderr, "segment: %v\n", err)
		os.Exit(2)
	}
	logging.SetOutput(os.Stderr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	switch {
	case opts.jobID != "":
		err = inspect(ctx, cfg, opts)
	case opts.enqueue:
		err = enqueue(ctx, cfg, opts)
	default:
		err = run(ctx, cfg, opts)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "segment: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags(args []string) (options, error) {
	var opts options
	fs := flag.NewFlagSet("segment", flag.ContinueOnError)
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: segment [flags] <pdf|image>\n       segment -job <id> [-similar <page> -k N]\n")
		fs.PrintDefaults()
	}
	pages := fs.String("pages", "", "Comma-separated zero-based page indexes (default: all)")
	out := fs.String("out", "", "Write the JSON result to this file instead of stdout")
	debugDir := fs.String("debug", "", "Directory for gray/normalize/segments PNGs")
	enqueue := fs.Bool("enqueue", false, "Submit the file as a segment-document task instead of processing it")
	mimeType := fs.String("mime", "", "MIME type (default: detected from content)")
	retries := fs.Int("retries", 3, "Max retries for enqueued tasks")
	jobID := fs.String("job", "", "Print the stored job and segments instead of processing a file")
	similar := fs.Int("similar", -1, "With -job: find segments of other documents laid out like this page's")
	k := fs.Int("k", 5, "Matches per segment for -similar")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}

	if *jobID == "" {
		if *similar >= 0 {
			return options{}, fmt.Errorf("-similar requires -job")
		}
		if fs.NArg() != 1 {
			fs.Usage()
			return options{}, fmt.Errorf("missing input path")
		}
	} else if fs.NArg() != 0 || *enqueue {
		return options{}, fmt.Errorf("-job takes no input file")
	}
	if *k < 1 {
		return options{}, fmt.Errorf("invalid -k %d", *k)
	}

	parsed, err := parsePages(*pages)
	if err != nil {
		return options{}, err
	}

	opts.path = fs.Arg(0)
	opts.pages = parsed
	opts.outPath = *out
	opts.debugDir = *debugDir
	opts.enqueue = *enqueue
	opts.mimeType = *mimeType
	opts.retries = *retries
	opts.jobID = *jobID
	opts.similar = *similar
	opts.k = *k
	return opts, nil
}

func parsePages(s string) ([]int, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	var pages []int
	for _, part := range strings.Split(s, ",") {
		n, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil || n < 0 {
			return nil, fmt.Errorf("invalid page %q", part)
		}
		pages = append(pages, n)
	}
	return pages, nil
}

// run segments the file locally without persistence.
func run(ctx context.Context, cfg *config.Config, opts options) error {
	data, err := os.ReadFile(opts.path)
	if err != nil {
		return err
	}

	pcfg := processor.NewProcessorConfig(cfg, nil)
	if opts.debugDir != "" {
		pcfg.DebugImageDir = opts.debugDir
	}
	proc, err := processor.NewDocumentProcessor(pcfg)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, cfg.Timeout())
	defer cancel()

	result, err := proc.ProcessDocument(ctx, &processor.ProcessRequest{
		JobID:      uuid.NewString(),
		Filename:   filepath.Base(opts.path),
		MimeType:   opts.mimeType,
		FileSize:   int64(len(data)),
		FileBuffer: data,
		Pages:      opts.pages,
	})
	if err != nil {
		return err
	}

	return writeJSON(opts.outPath, result)
}

// inspect reads a processed job back from storage.
func inspect(ctx context.Context, cfg *config.Config, opts options) error {
	sm, err := storage.NewStorageManager(cfg.DatabaseURL, cfg.QdrantURL, cfg.QdrantCollection)
	if err != nil {
		return err
	}
	defer sm.Close()

	job, err := sm.GetJobByID(ctx, opts.jobID)
	if err != nil {
		return err
	}
	pages, err := sm.GetPageSegments(ctx, opts.jobID)
	if err != nil {
		return err
	}
	out := &storedJob{Job: job, Pages: pages}

	if opts.similar >= 0 {
		segs, ok := pages[opts.similar]
		if !ok {
			return fmt.Errorf("job %s has no segments on page %d", opts.jobID, opts.similar)
		}
		out.Similar = make(map[int][]*storage.LayoutMatch, len(segs))
		for ordinal := range segs {
			matches, err := sm.SimilarSegments(ctx, opts.jobID, opts.similar, ordinal, opts.k)
			if err != nil {
				return err
			}
			out.Similar[ordinal] = matches
		}
	}

	return writeJSON(opts.outPath, out)
}

func writeJSON(path string, v interface{}) error {
	var w io.Writer = os.Stdout
	if path != "" {
		f, err := os.Create(path)
		if err != nil {
			return err
		}
		defer f.Close()
		w = f
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func enqueue(ctx context.Context, cfg *config.Config, opts options) error {
	data, err := os.ReadFile(opts.path)
	if err != nil {
		return err
	}

	submitter, err := queue.NewSubmitter(cfg.RedisURL, cfg.QueueName)
	if err != nil {
		return err
	}
	defer submitter.Close()

	payload := &queue.JobPayload{
		JobID:      uuid.NewString(),
		Filename:   filepath.Base(opts.path),
		MimeType:   opts.mimeType,
		FileSize:   int64(len(data)),
		FileBuffer: data,
		Pages:      opts.pages,
	}

	info, err := submitter.Submit(ctx, payload, opts.retries, cfg.Timeout()+time.Minute)
	if err != nil {
		return err
	}
	fmt.Printf("%s\t%s\t%s\n", payload.JobID, info.Queue, info.State)
	return nil
}
