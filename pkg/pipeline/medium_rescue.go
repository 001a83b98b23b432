package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/shao3d/Experts-panel-sub000/pkg/config"
	"github.com/shao3d/Experts-panel-sub000/pkg/llmgateway"
	"github.com/shao3d/Experts-panel-sub000/pkg/model"
)

const mediumRescueSchemaHint = `[{"post_id": int, "score": float in [0,1], "reason": string}, ...]`

// MediumRescue scores MEDIUM-verdict posts for usefulness and keeps those
// at or above cfg.Threshold, up to cfg.TopK. On LLM failure it degrades
// to an empty list rather than failing the expert.
func MediumRescue(ctx context.Context, gw *llmgateway.Gateway, logger *slog.Logger, expertID, question string, mediumPosts map[int]model.Post, cfg config.MediumRescueConfig, retryCfg config.RetryConfig) []model.ScoredPost {
	candidates := make([]model.Post, 0, len(mediumPosts))
	for _, p := range mediumPosts {
		candidates = append(candidates, p)
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].AuthoredAt.After(candidates[j].AuthoredAt) })
	if len(candidates) > cfg.MaxCandidates {
		candidates = candidates[:cfg.MaxCandidates]
	}
	if len(candidates) == 0 {
		return nil
	}

	var prompt strings.Builder
	fmt.Fprintf(&prompt, "Question: %s\n\nScore each post's usefulness to the question from 0.0 to 1.0.\n\n", question)
	for i, p := range candidates {
		fmt.Fprintf(&prompt, "%d. [post_id=%d] %s\n\n", i+1, p.ID, truncateBody(p.BodyMarkdown, 1500))
	}

	var scores []model.ScoredPost
	err := llmgateway.WithStageRetry(ctx, retryCfg, llmgateway.IsParseError, func() error {
		raw, err := gw.CompleteJSON(ctx, config.ModelTagMediumScoring,
			"You score post usefulness to a question. Return only a JSON array, one entry per input post.",
			prompt.String(), mediumRescueSchemaHint, 2048)
		if err != nil {
			return err
		}
		var parsed []model.ScoredPost
		if err := json.Unmarshal(raw, &parsed); err != nil {
			return llmgateway.NewParseError("medium-rescue score array", err)
		}
		scores = parsed
		return nil
	})
	if err != nil {
		logger.Warn("medium-rescue: degrading to empty list", "expert_id", expertID, "error", err)
		return nil
	}

	byID := make(map[int]model.Post, len(candidates))
	for _, p := range candidates {
		byID[p.ID] = p
	}
	kept := scores[:0:0]
	for _, s := range scores {
		if _, ok := byID[s.PostID]; !ok {
			continue
		}
		if s.Score >= cfg.Threshold {
			kept = append(kept, s)
		}
	}

	sort.SliceStable(kept, func(i, j int) bool {
		if kept[i].Score != kept[j].Score {
			return kept[i].Score > kept[j].Score
		}
		return byID[kept[i].PostID].AuthoredAt.After(byID[kept[j].PostID].AuthoredAt)
	})
	if len(kept) > cfg.TopK {
		kept = kept[:cfg.TopK]
	}
	return kept
}
