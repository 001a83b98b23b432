package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/shao3d/Experts-panel-sub000/pkg/config"
	"github.com/shao3d/Experts-panel-sub000/pkg/llmgateway"
	"github.com/shao3d/Experts-panel-sub000/pkg/model"
	"github.com/shao3d/Experts-panel-sub000/pkg/store"
)

const commentGroupSchemaHint = `[{"post_id": int, "relevant": bool, "reason": string}, ...]`

// CommentGroup selects relevant comment discussions via three priority
// sources: author clarifications and community comments on main_sources
// (both bypass the LLM with relevance=HIGH), then drift groups (LLM-
// scored, kept only on a HIGH verdict). Anchors in mainSources are
// excluded from the drift pass so comment insights complement, not
// repeat, the main answer. mainSources are internal Post ids (the ids
// LoadCommentsForAnchor and the rest of the Store need); each result's
// AnchorPostID is reported back as the Post's per-channel id, matching
// the external main_sources id space.
func CommentGroup(ctx context.Context, gw *llmgateway.Gateway, s store.Store, logger *slog.Logger, expertID, channelHandle, expertAuthorHandle, question string, mainSources []int, cutoff *time.Time, cfg config.CommentGroupConfig, retryCfg config.RetryConfig) ([]model.CommentGroupResult, error) {
	var groups []model.CommentGroupResult

	anchorPosts, err := s.FetchPostsByIDs(ctx, expertID, mainSources, cutoff)
	if err != nil {
		return nil, err
	}

	for _, anchorID := range mainSources {
		anchor, ok := anchorPosts[anchorID]
		if !ok {
			continue
		}

		comments, err := s.LoadCommentsForAnchor(ctx, anchorID)
		if err != nil {
			return nil, err
		}
		if len(comments) == 0 {
			continue
		}

		var authorComments, communityComments []model.Comment
		for _, c := range comments {
			if c.Author == expertAuthorHandle {
				authorComments = append(authorComments, c)
			} else {
				communityComments = append(communityComments, c)
			}
		}
		if len(authorComments) > 0 {
			groups = append(groups, buildGroup(anchor, channelHandle, model.LevelHigh, "author clarification", authorComments))
		}
		if len(communityComments) > 0 {
			groups = append(groups, buildGroup(anchor, channelHandle, model.LevelHigh, "community discussion on a cited post", communityComments))
		}
	}

	driftGroups, err := runDriftGroups(ctx, gw, s, logger, expertID, channelHandle, question, mainSources, cutoff, cfg, retryCfg)
	if err != nil {
		logger.Warn("comment-group: drift pass degraded to empty", "expert_id", expertID, "error", err)
	} else {
		groups = append(groups, driftGroups...)
	}

	return groups, nil
}

func buildGroup(anchor model.Post, channelHandle string, relevance model.Level, reason string, comments []model.Comment) model.CommentGroupResult {
	return model.CommentGroupResult{
		AnchorPostID:   anchor.PerChannelMsgID,
		AnchorSnapshot: anchorSnapshot(anchor, channelHandle),
		TelegramLink:   telegramLink(channelHandle, anchor.PerChannelMsgID),
		CommentCount:   len(comments),
		Relevance:      relevance,
		Reason:         reason,
		Comments:       comments,
	}
}

func anchorSnapshot(p model.Post, channelHandle string) model.AnchorSnapshot {
	return model.AnchorSnapshot{
		ChannelUsername: channelHandle,
		BodyPreview:     truncateBody(p.BodyMarkdown, 200),
		Author:          p.Author,
		AuthoredAt:      p.AuthoredAt,
	}
}

func telegramLink(channelHandle string, perChannelMsgID int) string {
	if channelHandle == "" {
		return ""
	}
	return fmt.Sprintf("https://t.me/%s/%d", channelHandle, perChannelMsgID)
}

type driftVerdict struct {
	PostID    int    `json:"post_id"`
	Relevant  bool   `json:"relevant"`
	Reason    string `json:"reason"`
}

func runDriftGroups(ctx context.Context, gw *llmgateway.Gateway, s store.Store, logger *slog.Logger, expertID, channelHandle, question string, excludePostIDs []int, cutoff *time.Time, cfg config.CommentGroupConfig, retryCfg config.RetryConfig) ([]model.CommentGroupResult, error) {
	driftGroups, err := s.LoadDriftGroups(ctx, expertID, excludePostIDs, cutoff)
	if err != nil {
		return nil, err
	}
	if len(driftGroups) == 0 {
		return nil, nil
	}

	chunks := chunkDriftGroups(driftGroups, cfg.DriftChunkSize)
	results := make([][]model.CommentGroupResult, len(chunks))
	sem := make(chan struct{}, cfg.DriftConcurrency)
	var wg sync.WaitGroup
	for i, c := range chunks {
		wg.Add(1)
		go func(i int, c []store.DriftGroup) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			verdicts, err := classifyDriftChunk(ctx, gw, question, c, retryCfg)
			if err != nil {
				logger.Warn("comment-group: drift chunk failed, excluded", "expert_id", expertID, "chunk", i, "error", err)
				return
			}
			results[i] = materializeDriftGroups(ctx, s, channelHandle, c, verdicts)
		}(i, c)
	}
	wg.Wait()

	var out []model.CommentGroupResult
	for _, r := range results {
		out = append(out, r...)
	}
	return out, nil
}

func chunkDriftGroups(groups []store.DriftGroup, size int) [][]store.DriftGroup {
	if size <= 0 {
		size = 20
	}
	var chunks [][]store.DriftGroup
	for i := 0; i < len(groups); i += size {
		end := i + size
		if end > len(groups) {
			end = len(groups)
		}
		chunks = append(chunks, groups[i:end])
	}
	return chunks
}

func classifyDriftChunk(ctx context.Context, gw *llmgateway.Gateway, question string, chunk []store.DriftGroup, retryCfg config.RetryConfig) ([]driftVerdict, error) {
	var prompt strings.Builder
	fmt.Fprintf(&prompt, "Question: %s\n\nFor each anchor post's drift topics, decide whether the question is relevant to what the comment thread drifted onto.\n\n", question)
	for i, g := range chunk {
		fmt.Fprintf(&prompt, "%d. [post_id=%d] anchor: %s\n", i+1, g.Post.ID, truncateBody(g.Post.BodyMarkdown, 300))
		for _, t := range g.Topics {
			fmt.Fprintf(&prompt, "   - topic: %s (keywords: %s)\n", t.Topic, strings.Join(t.Keywords, ", "))
		}
		prompt.WriteString("\n")
	}

	var verdicts []driftVerdict
	err := llmgateway.WithStageRetry(ctx, retryCfg, llmgateway.IsParseError, func() error {
		raw, err := gw.CompleteJSON(ctx, config.ModelTagCommentGroups,
			"You decide whether drifted comment discussions are relevant to a question. Return only a JSON array, one entry per anchor post.",
			prompt.String(), commentGroupSchemaHint, 2048)
		if err != nil {
			return err
		}
		var parsed []driftVerdict
		if err := json.Unmarshal(raw, &parsed); err != nil {
			return llmgateway.NewParseError("drift verdict array", err)
		}
		verdicts = parsed
		return nil
	})
	return verdicts, err
}

func materializeDriftGroups(ctx context.Context, s store.Store, channelHandle string, chunk []store.DriftGroup, verdicts []driftVerdict) []model.CommentGroupResult {
	relevant := make(map[int]string, len(verdicts))
	for _, v := range verdicts {
		if v.Relevant {
			relevant[v.PostID] = v.Reason
		}
	}

	var out []model.CommentGroupResult
	for _, g := range chunk {
		reason, ok := relevant[g.Post.ID]
		if !ok {
			continue
		}
		comments, err := s.LoadCommentsForAnchor(ctx, g.Post.ID)
		if err != nil || len(comments) == 0 {
			continue
		}
		out = append(out, model.CommentGroupResult{
			AnchorPostID:   g.Post.PerChannelMsgID,
			AnchorSnapshot: anchorSnapshot(g.Post, channelHandle),
			TelegramLink:   telegramLink(channelHandle, g.Post.PerChannelMsgID),
			CommentCount:   len(comments),
			Relevance:      model.LevelHigh,
			Reason:         reason,
			Comments:       comments,
		})
	}
	return out
}
