package pipeline

import (
	"context"
	"time"

	"github.com/shao3d/Experts-panel-sub000/pkg/model"
	"github.com/shao3d/Experts-panel-sub000/pkg/store"
)

// Resolve expands highPosts by one hop over Links in either direction,
// subject to cutoff. MEDIUM-selected posts never pass through here — they
// contribute themselves only.
func Resolve(ctx context.Context, s store.Store, expertID string, highPosts []model.Post, cutoff *time.Time) ([]model.SelectedSource, error) {
	if len(highPosts) == 0 {
		return nil, nil
	}
	highIDs := make([]int, len(highPosts))
	highSet := make(map[int]bool, len(highPosts))
	for i, p := range highPosts {
		highIDs[i] = p.ID
		highSet[p.ID] = true
	}

	expandedIDs, err := s.ExpandLinks1Hop(ctx, expertID, highIDs, cutoff)
	if err != nil {
		return nil, err
	}

	var linkedOnly []int
	for _, id := range expandedIDs {
		if !highSet[id] {
			linkedOnly = append(linkedOnly, id)
		}
	}
	linkedPosts, err := s.FetchPostsByIDs(ctx, expertID, linkedOnly, cutoff)
	if err != nil {
		return nil, err
	}

	out := make([]model.SelectedSource, 0, len(highPosts)+len(linkedPosts))
	for _, p := range highPosts {
		out = append(out, model.SelectedSource{PostID: p.ID, Tier: model.TierHigh, Post: p})
	}
	for _, p := range linkedPosts {
		out = append(out, model.SelectedSource{PostID: p.ID, Tier: model.TierLinkedContext, Post: p})
	}
	return out, nil
}
