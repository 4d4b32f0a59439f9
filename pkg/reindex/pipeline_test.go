package reindex

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jdziat/strand-jobs/pkg/core"
	intctx "github.com/jdziat/strand-jobs/pkg/internal/context"
)

const strand = `---
title: Channels
difficulty: beginner
tags: [go]
---
# Channels

Channels connect goroutines #concurrency.

- unbuffered
- buffered #performance
`

func newTestPipeline(opts ...PipelineOption) (*Pipeline, *memIndex) {
	idx := newMemIndex()
	src := mapSource{"go/channels.md": strand}
	return NewPipeline(src, idx, idx, opts...), idx
}

func TestPipeline_FastPathRunsOnlyMetadata(t *testing.T) {
	p, idx := newTestPipeline()
	var prog progressLog

	res, err := p.Run(context.Background(), Request{StrandPath: "go/channels.md", Priority: PriorityImmediate}, prog.fn)
	require.NoError(t, err)

	assert.True(t, res.MetadataUpdated)
	assert.Nil(t, res.BlocksReindexed)
	assert.Nil(t, res.EmbeddingsUpdated)
	assert.Nil(t, res.TagsBubbled)
	assert.Empty(t, res.Warnings)
	assert.Equal(t, []int{ProgressMetadata}, prog.steps)

	assert.Equal(t, Metadata{Title: "Channels", Difficulty: "beginner", Tags: []string{"go"}}, idx.metadata["go/channels.md"])
	assert.Empty(t, idx.blocks)

	raw, err := json.Marshal(res)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "blocksReindexed")
	assert.Contains(t, string(raw), `"metadataUpdated":true`)
}

func TestPipeline_ProvidedMetadataSkipsContent(t *testing.T) {
	idx := newMemIndex()
	p := NewPipeline(mapSource{}, idx, idx)

	md := &Metadata{Title: "Draft", Tags: []string{"#Go", "go"}}
	res, err := p.Run(context.Background(), Request{StrandPath: "new.md", Metadata: md}, nil)
	require.NoError(t, err)
	assert.True(t, res.MetadataUpdated)
	assert.Equal(t, []string{"go"}, idx.metadata["new.md"].Tags)
}

func TestPipeline_AllStages(t *testing.T) {
	emb := &fakeEmbedder{}
	p, idx := newTestPipeline(WithEmbedder(emb))
	p.bubbler = BlockTagBubbler{Store: idx}
	var prog progressLog

	res, err := p.Run(context.Background(), Request{
		StrandPath:       "go/channels.md",
		ReindexBlocks:    true,
		UpdateEmbeddings: true,
		RunTagBubbling:   true,
	}, prog.fn)
	require.NoError(t, err)

	require.NotNil(t, res.BlocksReindexed)
	assert.Equal(t, 3, *res.BlocksReindexed)
	require.NotNil(t, res.EmbeddingsUpdated)
	assert.Equal(t, 3, *res.EmbeddingsUpdated)
	assert.Equal(t, []string{"concurrency", "performance"}, res.TagsBubbled)
	assert.Empty(t, res.Warnings)

	assert.Equal(t, []int{10, 50, 75, 90}, prog.steps)
	assert.Len(t, idx.blocks["go/channels.md"], 3)
	assert.Equal(t, []string{"go", "concurrency", "performance"}, idx.tags["go/channels.md"])
	assert.Equal(t, 1, emb.calls)
}

func TestPipeline_EnrichmentFailuresAreWarnings(t *testing.T) {
	tests := []struct {
		name     string
		opts     []PipelineOption
		warnings []string
	}{
		{
			name:     "collaborators missing",
			warnings: []string{"embeddings skipped: embedding service unavailable", "tag bubbling skipped: tag bubbler unavailable"},
		},
		{
			name: "collaborators failing",
			opts: []PipelineOption{
				WithEmbedder(&fakeEmbedder{err: errors.New("model offline")}),
				WithTagBubbler(failingBubbler{err: errors.New("tag store locked")}),
			},
			warnings: []string{"embeddings skipped: model offline", "tag bubbling skipped: tag store locked"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, _ := newTestPipeline(tt.opts...)
			var prog progressLog

			res, err := p.Run(context.Background(), Request{
				StrandPath:       "go/channels.md",
				ReindexBlocks:    true,
				UpdateEmbeddings: true,
				RunTagBubbling:   true,
			}, prog.fn)
			require.NoError(t, err)

			assert.Equal(t, tt.warnings, res.Warnings)
			assert.Nil(t, res.EmbeddingsUpdated)
			assert.Nil(t, res.TagsBubbled)
			require.NotNil(t, res.BlocksReindexed)
			assert.Equal(t, 3, *res.BlocksReindexed)
			assert.Equal(t, []int{10, 50, 75, 90}, prog.steps)
		})
	}
}

func TestPipeline_HardFailures(t *testing.T) {
	ctx := context.Background()

	t.Run("metadata write", func(t *testing.T) {
		p, idx := newTestPipeline()
		idx.metadataErr = errors.New("database is locked")
		_, err := p.Run(ctx, Request{StrandPath: "go/channels.md"}, nil)
		assert.ErrorContains(t, err, "update metadata: database is locked")
	})

	t.Run("block write", func(t *testing.T) {
		p, idx := newTestPipeline()
		idx.blocksErr = errors.New("constraint failed")
		_, err := p.Run(ctx, Request{StrandPath: "go/channels.md", ReindexBlocks: true}, nil)
		assert.ErrorContains(t, err, "replace blocks: constraint failed")
		assert.True(t, idx.metadata["go/channels.md"].Title != "", "stage 1 completed before the failure")
	})

	t.Run("missing strand", func(t *testing.T) {
		p, _ := newTestPipeline()
		_, err := p.Run(ctx, Request{StrandPath: "go/missing.md"}, nil)
		assert.ErrorIs(t, err, ErrStrandNotFound)
	})

	t.Run("escaping path", func(t *testing.T) {
		p, _ := newTestPipeline()
		_, err := p.Run(ctx, Request{StrandPath: "../etc/passwd"}, nil)
		assert.ErrorIs(t, err, core.ErrInvalidPayload)
	})
}

// cancellingEmbedder raises the job's cancel flag while it runs.
type cancellingEmbedder struct{ jc *intctx.JobContext }

func (c cancellingEmbedder) EmbedBlocks(ctx context.Context, strandPath string, blocks []Block) (int, error) {
	c.jc.RequestCancel()
	return len(blocks), nil
}

func TestPipeline_CancellationBetweenStages(t *testing.T) {
	jc := &intctx.JobContext{Job: &core.Job{ID: "job-1", Type: core.TypeReindexStrand}}
	ctx := intctx.WithJobContext(context.Background(), jc)

	p, idx := newTestPipeline(WithEmbedder(cancellingEmbedder{jc: jc}))
	bubbled := false
	p.bubbler = bubblerFunc(func() { bubbled = true })
	var prog progressLog

	_, err := p.Run(ctx, Request{
		StrandPath:       "go/channels.md",
		ReindexBlocks:    true,
		UpdateEmbeddings: true,
		RunTagBubbling:   true,
	}, prog.fn)
	assert.ErrorIs(t, err, core.ErrCancelled)
	assert.False(t, bubbled)
	assert.Equal(t, []int{10, 50, 75}, prog.steps)
	assert.Len(t, idx.blocks["go/channels.md"], 3)
}

func TestPipeline_CancelledEnrichmentIsNotAWarning(t *testing.T) {
	p, _ := newTestPipeline(WithEmbedder(&fakeEmbedder{err: context.Canceled}))
	_, err := p.Run(context.Background(), Request{StrandPath: "go/channels.md", UpdateEmbeddings: true}, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

type bubblerFunc func()

func (f bubblerFunc) BubbleTags(context.Context, string, []Block) ([]string, error) {
	f()
	return nil, nil
}

func TestPipeline_HandleNormalizesNilTags(t *testing.T) {
	p, _ := newTestPipeline(WithTagBubbler(bubblerFunc(func() {})))
	res, err := p.Handle(context.Background(), Request{StrandPath: "go/channels.md", RunTagBubbling: true}, nil)
	require.NoError(t, err)
	assert.NotNil(t, res.TagsBubbled)
	assert.Empty(t, res.TagsBubbled)
	assert.Nil(t, res.BlocksReindexed)
}
