package reindex

import (
	"context"
	"time"
)

// Priority selects where the optional stages run.
type Priority string

const (
	// PriorityImmediate runs every requested stage in the caller's goroutine.
	PriorityImmediate Priority = "immediate"
	// PriorityDeferred submits a reindex-strand job and returns its id.
	PriorityDeferred Priority = "deferred"
)

// Metadata is the search-relevant header of a strand.
type Metadata struct {
	Title      string   `json:"title,omitempty" yaml:"title" validate:"max=512"`
	Difficulty string   `json:"difficulty,omitempty" yaml:"difficulty" validate:"omitempty,oneof=beginner intermediate advanced expert"`
	Status     string   `json:"status,omitempty" yaml:"status" validate:"omitempty,oneof=draft published archived"`
	Subjects   []string `json:"subjects,omitempty" yaml:"subjects" validate:"dive,max=128"`
	Topics     []string `json:"topics,omitempty" yaml:"topics" validate:"dive,max=128"`
	Tags       []string `json:"tags,omitempty" yaml:"tags" validate:"dive,max=128"`
}

// Request is the payload of a reindex-strand job.
type Request struct {
	StrandPath       string    `json:"strandPath" validate:"required,max=1024"`
	Metadata         *Metadata `json:"metadata,omitempty"`
	ReindexBlocks    bool      `json:"reindexBlocks"`
	UpdateEmbeddings bool      `json:"updateEmbeddings"`
	RunTagBubbling   bool      `json:"runTagBubbling"`
	Priority         Priority  `json:"priority,omitempty" validate:"omitempty,oneof=immediate deferred"`
}

// Identity drops Priority: where a request runs does not change what it
// does.
func (r Request) Identity() any {
	r.Priority = ""
	return r
}

// WantsEnrichment reports whether any optional stage was requested.
func (r Request) WantsEnrichment() bool {
	return r.ReindexBlocks || r.UpdateEmbeddings || r.RunTagBubbling
}

// EffectivePriority resolves an empty Priority: deferred when any optional
// stage is requested, immediate otherwise.
func (r Request) EffectivePriority() Priority {
	if r.Priority != "" {
		return r.Priority
	}
	if r.WantsEnrichment() {
		return PriorityDeferred
	}
	return PriorityImmediate
}

// Result is what the pipeline reports. Stage counters are nil when the stage
// did not run.
type Result struct {
	StrandPath        string        `json:"strandPath"`
	MetadataUpdated   bool          `json:"metadataUpdated"`
	BlocksReindexed   *int          `json:"blocksReindexed,omitempty"`
	EmbeddingsUpdated *int          `json:"embeddingsUpdated,omitempty"`
	TagsBubbled       []string      `json:"tagsBubbled,omitempty"`
	Warnings          []string      `json:"warnings,omitempty"`
	Duration          time.Duration `json:"durationNs"`
}

// BlockKind classifies a content block.
type BlockKind string

const (
	BlockHeading   BlockKind = "heading"
	BlockParagraph BlockKind = "paragraph"
	BlockList      BlockKind = "list"
	BlockCode      BlockKind = "code"
	BlockQuote     BlockKind = "quote"
)

// Block is one segment of a strand's body.
type Block struct {
	ID         string    `json:"id"`
	StrandPath string    `json:"strandPath"`
	Index      int       `json:"index"`
	Kind       BlockKind `json:"kind"`
	Level      int       `json:"level,omitempty"`
	Text       string    `json:"text"`
	Tags       []string  `json:"tags,omitempty"`
	WordCount  int       `json:"wordCount"`
}

// ContentSource reads a strand's raw markdown.
type ContentSource interface {
	ReadStrand(ctx context.Context, strandPath string) ([]byte, error)
}

// MetadataIndex persists search metadata. Errors are hard failures.
type MetadataIndex interface {
	UpdateMetadata(ctx context.Context, strandPath string, md Metadata) error
}

// BlockIndex replaces the stored blocks of a strand.
type BlockIndex interface {
	ReplaceBlocks(ctx context.Context, strandPath string, blocks []Block) error
}

// Embedder refreshes semantic-search vectors and returns how many were
// written.
type Embedder interface {
	EmbedBlocks(ctx context.Context, strandPath string, blocks []Block) (int, error)
}

// TagBubbler lifts block tags to the strand and returns the tags added.
type TagBubbler interface {
	BubbleTags(ctx context.Context, strandPath string, blocks []Block) ([]string, error)
}

// TagStore holds strand-level tags.
type TagStore interface {
	StrandTags(ctx context.Context, strandPath string) ([]string, error)
	SetStrandTags(ctx context.Context, strandPath string, tags []string) error
}
