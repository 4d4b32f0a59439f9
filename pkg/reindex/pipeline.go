package reindex

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jdziat/strand-jobs/pkg/core"
	"github.com/jdziat/strand-jobs/pkg/jobctx"
	"github.com/jdziat/strand-jobs/pkg/registry"
	"github.com/jdziat/strand-jobs/pkg/security"
)

// Progress checkpoints reported by a pipeline run.
const (
	ProgressMetadata   = 10
	ProgressBlocks     = 50
	ProgressEmbeddings = 75
	ProgressTags       = 90
)

var (
	ErrEmbedderUnavailable   = errors.New("embedding service unavailable")
	ErrTagBubblerUnavailable = errors.New("tag bubbler unavailable")
)

// Pipeline runs the reindex stages against its collaborators. The embedder
// and tag bubbler are optional.
type Pipeline struct {
	source   ContentSource
	metadata MetadataIndex
	blocks   BlockIndex
	embedder Embedder
	bubbler  TagBubbler
	logger   *slog.Logger
	now      func() time.Time
}

// PipelineOption configures a Pipeline.
type PipelineOption func(*Pipeline)

// WithEmbedder enables embedding refresh.
func WithEmbedder(e Embedder) PipelineOption {
	return func(p *Pipeline) { p.embedder = e }
}

// WithTagBubbler enables tag bubbling.
func WithTagBubbler(b TagBubbler) PipelineOption {
	return func(p *Pipeline) { p.bubbler = b }
}

// WithLogger sets the pipeline logger.
func WithLogger(l *slog.Logger) PipelineOption {
	return func(p *Pipeline) {
		if l != nil {
			p.logger = l
		}
	}
}

// NewPipeline creates a pipeline. source, metadata and blocks are required.
func NewPipeline(source ContentSource, metadata MetadataIndex, blocks BlockIndex, opts ...PipelineOption) *Pipeline {
	p := &Pipeline{
		source:   source,
		metadata: metadata,
		blocks:   blocks,
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// run carries the state of one pipeline execution.
type run struct {
	p        *Pipeline
	req      Request
	progress registry.ProgressFunc
	log      *slog.Logger
	res      *Result

	body   []byte
	loaded bool
	parsed []Block
}

// Run executes the stages requested by req. Only metadata and block index
// failures are returned as errors; enrichment failures become warnings.
// Cancellation is observed between stages.
func (p *Pipeline) Run(ctx context.Context, req Request, progress registry.ProgressFunc) (*Result, error) {
	start := p.now()
	clean, err := security.CleanStrandPath(req.StrandPath)
	if err != nil {
		return nil, fmt.Errorf("%w: strandPath: %v", core.ErrInvalidPayload, err)
	}
	req.StrandPath = clean
	if progress == nil {
		progress = func(int, string) {}
	}

	r := &run{
		p:        p,
		req:      req,
		progress: progress,
		log:      p.logger.With("strand", clean, "job_id", jobctx.JobIDFromContext(ctx)),
		res:      &Result{StrandPath: clean},
	}

	if err := r.updateMetadata(ctx); err != nil {
		return nil, err
	}
	if req.ReindexBlocks {
		if err := r.reindexBlocks(ctx); err != nil {
			return nil, err
		}
	}
	if req.UpdateEmbeddings {
		if err := r.refreshEmbeddings(ctx); err != nil {
			return nil, err
		}
	}
	if req.RunTagBubbling {
		if err := r.bubbleTags(ctx); err != nil {
			return nil, err
		}
	}

	r.res.Duration = p.now().Sub(start)
	r.log.Info("strand reindexed",
		"blocks", derefOr(r.res.BlocksReindexed, -1),
		"warnings", len(r.res.Warnings),
		"duration", r.res.Duration)
	return r.res, nil
}

// Handle is the reindex-strand processor.
func (p *Pipeline) Handle(ctx context.Context, req Request, progress registry.ProgressFunc) (*Result, error) {
	return p.Run(ctx, req, progress)
}

func (r *run) updateMetadata(ctx context.Context) error {
	if err := jobctx.Checkpoint(ctx); err != nil {
		return err
	}
	var md Metadata
	if r.req.Metadata != nil {
		md = *r.req.Metadata
		md.Tags = normalizeTags(md.Tags)
	} else {
		content, err := r.content(ctx)
		if err != nil {
			return err
		}
		if md, _, err = ParseMetadata(content); err != nil {
			return err
		}
	}

	if err := r.p.metadata.UpdateMetadata(ctx, r.req.StrandPath, md); err != nil {
		return fmt.Errorf("reindex: update metadata: %w", err)
	}
	r.res.MetadataUpdated = true
	r.progress(ProgressMetadata, "metadata updated")
	return nil
}

func (r *run) reindexBlocks(ctx context.Context) error {
	blocks, err := r.segments(ctx)
	if err != nil {
		return err
	}
	if err := r.p.blocks.ReplaceBlocks(ctx, r.req.StrandPath, blocks); err != nil {
		return fmt.Errorf("reindex: replace blocks: %w", err)
	}
	n := len(blocks)
	r.res.BlocksReindexed = &n
	r.progress(ProgressBlocks, "blocks reindexed")
	return nil
}

func (r *run) refreshEmbeddings(ctx context.Context) error {
	blocks, err := r.segments(ctx)
	if err != nil {
		return err
	}
	defer r.progress(ProgressEmbeddings, "embeddings refreshed")

	if r.p.embedder == nil {
		r.warn(core.Soft("embeddings", ErrEmbedderUnavailable))
		return nil
	}
	n, err := r.p.embedder.EmbedBlocks(ctx, r.req.StrandPath, blocks)
	if err != nil {
		if stopped(ctx, err) {
			return err
		}
		r.warn(core.Soft("embeddings", err))
		return nil
	}
	r.res.EmbeddingsUpdated = &n
	return nil
}

func (r *run) bubbleTags(ctx context.Context) error {
	blocks, err := r.segments(ctx)
	if err != nil {
		return err
	}
	defer r.progress(ProgressTags, "tags bubbled")

	if r.p.bubbler == nil {
		r.warn(core.Soft("tag bubbling", ErrTagBubblerUnavailable))
		return nil
	}
	tags, err := r.p.bubbler.BubbleTags(ctx, r.req.StrandPath, blocks)
	if err != nil {
		if stopped(ctx, err) {
			return err
		}
		r.warn(core.Soft("tag bubbling", err))
		return nil
	}
	if tags == nil {
		tags = []string{}
	}
	r.res.TagsBubbled = tags
	return nil
}

// segments checks for cancellation and returns the parsed blocks, reading
// the strand on first use.
func (r *run) segments(ctx context.Context) ([]Block, error) {
	if err := jobctx.Checkpoint(ctx); err != nil {
		return nil, err
	}
	if r.parsed != nil {
		return r.parsed, nil
	}
	content, err := r.content(ctx)
	if err != nil {
		return nil, err
	}
	_, body := SplitFrontmatter(content)
	r.parsed = Segment(r.req.StrandPath, body)
	if r.parsed == nil {
		r.parsed = []Block{}
	}
	return r.parsed, nil
}

func (r *run) content(ctx context.Context) ([]byte, error) {
	if r.loaded {
		return r.body, nil
	}
	body, err := r.p.source.ReadStrand(ctx, r.req.StrandPath)
	if err != nil {
		return nil, fmt.Errorf("reindex: read strand: %w", err)
	}
	r.body, r.loaded = body, true
	return body, nil
}

func (r *run) warn(err error) {
	r.res.Warnings = append(r.res.Warnings, err.Error())
	r.log.Warn("reindex stage degraded", "error", err)
}

// stopped reports whether err reflects a cancellation rather than a stage
// failure.
func stopped(ctx context.Context, err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, core.ErrCancelled) || jobctx.CancelRequested(ctx)
}

func derefOr(p *int, def int) int {
	if p == nil {
		return def
	}
	return *p
}
