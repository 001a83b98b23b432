package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/shao3d/Experts-panel-sub000/pkg/config"
	"github.com/shao3d/Experts-panel-sub000/pkg/model"
)

func samplePosts(n int, expertID string) []model.Post {
	posts := make([]model.Post, n)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := range posts {
		posts[i] = model.Post{ID: i + 1, ExpertID: expertID, AuthoredAt: base.Add(time.Duration(i) * time.Hour), Author: "author", BodyMarkdown: "body"}
	}
	return posts
}

func TestMapDefaultsMissingPostsToLow(t *testing.T) {
	gw := newTestGateway(t, config.ModelTagMap, `[{"post_id":1,"level":"HIGH","reason":"matches"}]`)
	posts := samplePosts(2, "e1")
	cfg := config.MapConfig{ChunkSize: 100, Concurrency: 1}
	retryCfg := config.RetryConfig{}
	retryCfg.SetDefaults()
	retryCfg.StageMinDelay = time.Millisecond
	retryCfg.StageMaxDelay = time.Millisecond

	verdicts, err := Map(context.Background(), gw, testLogger(), "e1", "question", posts, cfg, retryCfg)
	require.NoError(t, err)
	require.Len(t, verdicts, 2)

	byID := make(map[int]model.RelevanceVerdict)
	for _, v := range verdicts {
		byID[v.PostID] = v
	}
	require.Equal(t, model.LevelHigh, byID[1].Level)
	require.Equal(t, model.LevelLow, byID[2].Level)
	require.Equal(t, "unclassified", byID[2].Reason)
}

func TestMapDropsExtraVerdicts(t *testing.T) {
	gw := newTestGateway(t, config.ModelTagMap, `[{"post_id":1,"level":"HIGH","reason":"x"},{"post_id":999,"level":"HIGH","reason":"extra"}]`)
	posts := samplePosts(1, "e1")
	cfg := config.MapConfig{ChunkSize: 100, Concurrency: 1}
	retryCfg := config.RetryConfig{}
	retryCfg.SetDefaults()

	verdicts, err := Map(context.Background(), gw, testLogger(), "e1", "q", posts, cfg, retryCfg)
	require.NoError(t, err)
	require.Len(t, verdicts, 1)
	require.Equal(t, 1, verdicts[0].PostID)
}

func TestMapPartialChunkFailureDoesNotFailWholeMap(t *testing.T) {
	gw := newTestGateway(t, config.ModelTagMap, `not json at all`)
	posts := samplePosts(1, "e1")
	cfg := config.MapConfig{ChunkSize: 100, Concurrency: 1}
	retryCfg := config.RetryConfig{}
	retryCfg.SetDefaults()
	retryCfg.StageMaxAttempts = 1
	retryCfg.PipelineCooldown = time.Millisecond

	verdicts, err := Map(context.Background(), gw, testLogger(), "e1", "q", posts, cfg, retryCfg)
	require.NoError(t, err)
	require.Empty(t, verdicts)
}
