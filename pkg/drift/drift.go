// Package drift implements the offline Drift Pre-Analyzer: for each anchor
// post with comments and no completed analysis, it decides whether the
// thread drifted from the post's topic and persists structured drift
// topics. It runs outside the query path and is never invoked
// synchronously by the core.
package drift

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shao3d/Experts-panel-sub000/pkg/config"
	"github.com/shao3d/Experts-panel-sub000/pkg/llmgateway"
	"github.com/shao3d/Experts-panel-sub000/pkg/model"
	"github.com/shao3d/Experts-panel-sub000/pkg/store"
)

const driftSchemaHint = `{"has_drift": bool, "topics": [{"topic": string, "keywords": [string], "key_phrases": [string], "context": string}]}`

const analyzerTag = "drift-v1"

type driftResponse struct {
	HasDrift bool               `json:"has_drift"`
	Topics   []model.DriftTopic `json:"topics"`
}

// Analyzer runs the offline drift pass over one expert's anchor posts.
type Analyzer struct {
	Gateway *llmgateway.Gateway
	Store   store.DriftWriter
	Logger  *slog.Logger
	Retry   config.RetryConfig
}

// RunForExpert analyzes every drift candidate for expertID that has no
// completed record, or whose record predates its anchor's latest comment
// (the re-run rule: new comments invalidate a stale analysis; no new
// comments is a no-op, so a repeat run over an unchanged anchor never
// calls the Gateway again).
func (a *Analyzer) RunForExpert(ctx context.Context, expertID string) (analyzed, skipped int, err error) {
	candidates, err := a.Store.ListDriftCandidates(ctx, expertID)
	if err != nil {
		return 0, 0, fmt.Errorf("list drift candidates for expert %s: %w", expertID, err)
	}

	for _, post := range candidates {
		needsRun, err := a.needsAnalysis(ctx, post.ID)
		if err != nil {
			a.Logger.Error("drift: failed to check analysis state, skipping post", "post_id", post.ID, "error", err)
			skipped++
			continue
		}
		if !needsRun {
			skipped++
			continue
		}

		comments, err := a.Store.LoadCommentsForAnchor(ctx, post.ID)
		if err != nil {
			a.Logger.Error("drift: failed to load comments, skipping post", "post_id", post.ID, "error", err)
			skipped++
			continue
		}
		if len(comments) == 0 {
			skipped++
			continue
		}

		result, err := a.analyzeOne(ctx, post, comments)
		if err != nil {
			a.Logger.Error("drift: analysis failed for post, leaving record pending", "post_id", post.ID, "error", err)
			skipped++
			continue
		}

		rec := model.DriftRecord{
			PostID:     post.ID,
			ExpertID:   expertID,
			HasDrift:   result.HasDrift,
			Topics:     result.Topics,
			AnalyzedAt: time.Now().UTC(),
			AnalyzedBy: analyzerTag,
		}
		if err := a.Store.SaveDriftRecord(ctx, rec); err != nil {
			a.Logger.Error("drift: failed to save record", "post_id", post.ID, "error", err)
			skipped++
			continue
		}
		analyzed++
	}
	return analyzed, skipped, nil
}

// needsAnalysis implements the re-run rule without an external "mark
// pending" mutation: a record needs (re-)analysis if it's absent, still
// Pending(), or older than the anchor's latest comment.
func (a *Analyzer) needsAnalysis(ctx context.Context, postID int) (bool, error) {
	rec, found, err := a.Store.LoadDriftRecord(ctx, postID)
	if err != nil {
		return false, err
	}
	if !found || rec.Pending() {
		return true, nil
	}

	latest, hasComments, err := a.Store.LatestCommentTimestamp(ctx, postID)
	if err != nil {
		return false, err
	}
	if !hasComments {
		return false, nil
	}
	return latest.After(rec.AnalyzedAt), nil
}

func (a *Analyzer) analyzeOne(ctx context.Context, post model.Post, comments []model.Comment) (driftResponse, error) {
	var prompt strings.Builder
	fmt.Fprintf(&prompt, "Anchor post:\n%s\n\nComments:\n", post.BodyMarkdown)
	for _, c := range comments {
		fmt.Fprintf(&prompt, "- %s: %s\n", c.Author, c.BodyMarkdown)
	}
	prompt.WriteString("\nDecide whether the comment thread drifted away from the anchor's topic onto specific other products, tools, or concepts. ")
	prompt.WriteString("Name only concrete proper-noun-style items, never methodologies or umbrella categories. ")
	prompt.WriteString("Reject any topic the anchor post itself already names.")

	var result driftResponse
	err := llmgateway.WithStageRetry(ctx, a.Retry, llmgateway.IsParseError, func() error {
		raw, err := a.Gateway.CompleteJSON(ctx, config.ModelTagDrift,
			"You detect topic drift in comment threads and extract structured drift topics.",
			prompt.String(), driftSchemaHint, 2048)
		if err != nil {
			return err
		}
		var parsed driftResponse
		if err := json.Unmarshal(raw, &parsed); err != nil {
			return llmgateway.NewParseError("drift analysis object", err)
		}
		result = parsed
		return nil
	})
	return result, err
}
