package reindex

import (
	"context"
	"sync"
)

type mapSource map[string]string

func (m mapSource) ReadStrand(ctx context.Context, strandPath string) ([]byte, error) {
	content, ok := m[strandPath]
	if !ok {
		return nil, ErrStrandNotFound
	}
	return []byte(content), nil
}

// memIndex is an in-memory MetadataIndex, BlockIndex and TagStore.
type memIndex struct {
	mu          sync.Mutex
	metadata    map[string]Metadata
	blocks      map[string][]Block
	tags        map[string][]string
	metadataErr error
	blocksErr   error
}

func newMemIndex() *memIndex {
	return &memIndex{
		metadata: make(map[string]Metadata),
		blocks:   make(map[string][]Block),
		tags:     make(map[string][]string),
	}
}

func (m *memIndex) UpdateMetadata(ctx context.Context, strandPath string, md Metadata) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.metadataErr != nil {
		return m.metadataErr
	}
	m.metadata[strandPath] = md
	m.tags[strandPath] = md.Tags
	return nil
}

func (m *memIndex) ReplaceBlocks(ctx context.Context, strandPath string, blocks []Block) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.blocksErr != nil {
		return m.blocksErr
	}
	m.blocks[strandPath] = blocks
	return nil
}

func (m *memIndex) StrandTags(ctx context.Context, strandPath string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tags[strandPath], nil
}

func (m *memIndex) SetStrandTags(ctx context.Context, strandPath string, tags []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tags[strandPath] = tags
	return nil
}

type fakeEmbedder struct {
	err   error
	calls int
}

func (f *fakeEmbedder) EmbedBlocks(ctx context.Context, strandPath string, blocks []Block) (int, error) {
	f.calls++
	if f.err != nil {
		return 0, f.err
	}
	return len(blocks), nil
}

type failingBubbler struct{ err error }

func (f failingBubbler) BubbleTags(context.Context, string, []Block) ([]string, error) {
	return nil, f.err
}

type progressLog struct {
	mu    sync.Mutex
	steps []int
	msgs  []string
}

func (p *progressLog) fn(pct int, msg string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.steps = append(p.steps, pct)
	p.msgs = append(p.msgs, msg)
}
