package reindex

import (
	"context"
	"fmt"
	"sort"
)

// BlockTagBubbler lifts block-level #tags to the strand's tag list.
type BlockTagBubbler struct {
	Store TagStore
}

// BubbleTags merges the tags found in blocks into the strand's tags and
// returns the ones that were not already present, sorted.
func (b BlockTagBubbler) BubbleTags(ctx context.Context, strandPath string, blocks []Block) ([]string, error) {
	existing, err := b.Store.StrandTags(ctx, strandPath)
	if err != nil {
		return nil, fmt.Errorf("load strand tags: %w", err)
	}
	have := make(map[string]struct{}, len(existing))
	for _, t := range existing {
		have[t] = struct{}{}
	}

	added := []string{}
	for _, blk := range blocks {
		for _, t := range blk.Tags {
			if _, ok := have[t]; ok {
				continue
			}
			have[t] = struct{}{}
			added = append(added, t)
		}
	}
	if len(added) == 0 {
		return added, nil
	}
	sort.Strings(added)

	merged := append(append(make([]string, 0, len(existing)+len(added)), existing...), added...)
	if err := b.Store.SetStrandTags(ctx, strandPath, merged); err != nil {
		return nil, fmt.Errorf("save strand tags: %w", err)
	}
	return added, nil
}
