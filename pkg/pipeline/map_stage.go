package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shao3d/Experts-panel-sub000/pkg/config"
	"github.com/shao3d/Experts-panel-sub000/pkg/llmgateway"
	"github.com/shao3d/Experts-panel-sub000/pkg/model"
)

const mapSchemaHint = `[{"post_id": int, "level": "HIGH"|"MEDIUM"|"LOW", "reason": string}, ...]`

// chunkState is the tagged variant the pipeline-layer retry moves a chunk
// through: queued -> in-flight -> (succeeded | client-retry... | pipeline-
// retry -> (succeeded | failed)).
type chunkState int

const (
	chunkQueued chunkState = iota
	chunkSucceeded
	chunkFailed
)

type chunkResult struct {
	index     int
	postIDs   []int
	verdicts  []model.RelevanceVerdict
	state     chunkState
	lastError error
}

// Map classifies every post in posts as HIGH/MEDIUM/LOW relevance to
// question, via chunked listwise LLM ranking. Chunk failures, including a
// missing model tag, never return an error: failed chunks are left out of
// the result. The only error returned is context cancellation during the
// pipeline-retry cooldown.
func Map(ctx context.Context, gw *llmgateway.Gateway, logger *slog.Logger, expertID, question string, posts []model.Post, cfg config.MapConfig, retryCfg config.RetryConfig) ([]model.RelevanceVerdict, error) {
	chunks := chunkPosts(posts, cfg.ChunkSize)
	results := make([]chunkResult, len(chunks))
	for i, c := range chunks {
		results[i] = chunkResult{index: i, postIDs: postIDs(c), state: chunkQueued}
	}

	runChunks(ctx, gw, logger, expertID, question, chunks, results, cfg, retryCfg)

	// pipeline-layer retry: any chunk still failed gets exactly one
	// re-queue after a fixed cooldown sized to cross a rate window.
	var retryIdx []int
	for i := range results {
		if results[i].state == chunkFailed {
			retryIdx = append(retryIdx, i)
		}
	}
	if len(retryIdx) > 0 {
		logger.Warn("map: pipeline-retry for failed chunks", "expert_id", expertID, "count", len(retryIdx), "cooldown", retryCfg.PipelineCooldown)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(retryCfg.PipelineCooldown):
		}
		retryChunks := make([]postChunk, len(retryIdx))
		retryResults := make([]chunkResult, len(retryIdx))
		for j, idx := range retryIdx {
			retryChunks[j] = chunks[idx]
			retryResults[j] = chunkResult{index: idx, postIDs: postIDs(chunks[idx]), state: chunkQueued}
		}
		runChunks(ctx, gw, logger, expertID, question, retryChunks, retryResults, cfg, retryCfg)
		for j, idx := range retryIdx {
			results[idx] = retryResults[j]
			results[idx].index = idx
		}
	}

	var verdicts []model.RelevanceVerdict
	for _, r := range results {
		if r.state == chunkFailed {
			logger.Error("map: chunk permanently failed, excluded", "expert_id", expertID, "chunk", r.index, "error", r.lastError)
			continue
		}
		verdicts = append(verdicts, r.verdicts...)
	}
	return verdicts, nil
}

type postChunk []model.Post

func chunkPosts(posts []model.Post, size int) []postChunk {
	if size <= 0 {
		size = 100
	}
	var chunks []postChunk
	for i := 0; i < len(posts); i += size {
		end := i + size
		if end > len(posts) {
			end = len(posts)
		}
		chunks = append(chunks, postChunk(posts[i:end]))
	}
	return chunks
}

func postIDs(c postChunk) []int {
	ids := make([]int, len(c))
	for i, p := range c {
		ids[i] = p.ID
	}
	return ids
}

// runChunks processes chunks concurrently under cfg.Concurrency, writing
// into results (same length/order as chunks).
func runChunks(ctx context.Context, gw *llmgateway.Gateway, logger *slog.Logger, expertID, question string, chunks []postChunk, results []chunkResult, cfg config.MapConfig, retryCfg config.RetryConfig) {
	sem := make(chan struct{}, cfg.Concurrency)
	var wg sync.WaitGroup
	for i, c := range chunks {
		wg.Add(1)
		go func(i int, c postChunk) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			verdicts, err := classifyChunk(ctx, gw, logger, expertID, question, c, retryCfg)
			if err != nil {
				results[i].state = chunkFailed
				results[i].lastError = err
				return
			}
			results[i].state = chunkSucceeded
			results[i].verdicts = verdicts
		}(i, c)
	}
	wg.Wait()
}

func classifyChunk(ctx context.Context, gw *llmgateway.Gateway, logger *slog.Logger, expertID, question string, chunk postChunk, retryCfg config.RetryConfig) ([]model.RelevanceVerdict, error) {
	ordered := make(postChunk, len(chunk))
	copy(ordered, chunk)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].AuthoredAt.After(ordered[j].AuthoredAt) })

	var prompt strings.Builder
	fmt.Fprintf(&prompt, "Question: %s\n\nClassify each post's relevance as HIGH, MEDIUM, or LOW.\n\n", question)
	for i, p := range ordered {
		fmt.Fprintf(&prompt, "%d. [post_id=%d] (%s) %s\n\n", i+1, p.ID, p.AuthoredAt.Format(time.RFC3339), truncateBody(p.BodyMarkdown, 1500))
	}

	var verdicts []model.RelevanceVerdict
	err := llmgateway.WithStageRetry(ctx, retryCfg, llmgateway.IsParseError, func() error {
		raw, err := gw.CompleteJSON(ctx, config.ModelTagMap,
			"You are a relevance classifier. Return only a JSON array, one entry per input post, in the same order.",
			prompt.String(), mapSchemaHint, 4096)
		if err != nil {
			return err
		}
		var parsed []model.RelevanceVerdict
		if err := json.Unmarshal(raw, &parsed); err != nil {
			return llmgateway.NewParseError("map verdict array", err)
		}
		verdicts = parsed
		return nil
	})
	if err != nil {
		return nil, err
	}

	return reconcileVerdicts(chunk, verdicts, expertID, logger), nil
}

// reconcileVerdicts applies the Map edge-case rules: missing posts default
// to LOW/"unclassified"; extras (ids not in the chunk) are dropped.
func reconcileVerdicts(chunk postChunk, verdicts []model.RelevanceVerdict, expertID string, logger *slog.Logger) []model.RelevanceVerdict {
	byID := make(map[int]model.RelevanceVerdict, len(verdicts))
	for _, v := range verdicts {
		byID[v.PostID] = v
	}

	out := make([]model.RelevanceVerdict, 0, len(chunk))
	for _, p := range chunk {
		if v, ok := byID[p.ID]; ok {
			out = append(out, v)
			continue
		}
		logger.Warn("map: post missing from verdicts, defaulting to LOW", "expert_id", expertID, "post_id", p.ID)
		out = append(out, model.RelevanceVerdict{PostID: p.ID, Level: model.LevelLow, Reason: "unclassified"})
	}
	return out
}

func truncateBody(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
