package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/shao3d/Experts-panel-sub000/pkg/config"
	"github.com/shao3d/Experts-panel-sub000/pkg/model"
)

func TestReduceDropsUnknownCitationsAndFillsMainSources(t *testing.T) {
	resp := `{"answer_markdown":"Discussed in [post:11] and also [post:999].","main_sources":[],"confidence":"LOW"}`
	gw := newTestGateway(t, config.ModelTagSynthesis, resp)

	sources := []model.SelectedSource{
		{PostID: 11, Tier: model.TierHigh, Post: model.Post{ID: 11, AuthoredAt: time.Now(), Author: "a", BodyMarkdown: "vector databases"}},
	}
	retryCfg := config.RetryConfig{}
	retryCfg.SetDefaults()

	result, err := Reduce(context.Background(), gw, testLogger(), "e1", "q", sources, StylePersonal, retryCfg)
	require.NoError(t, err)
	require.Contains(t, result.AnswerMarkdown, "[post:11]")
	require.NotContains(t, result.AnswerMarkdown, "[post:999]")
	require.Equal(t, []int{11}, result.MainSources)
}

func TestRemapIDsRewritesCitationsAndMainSources(t *testing.T) {
	answer := "Discussed in [post:11] and [post:12]."
	idMap := map[int]int{11: 911, 12: 912}

	rewritten, mainSources := RemapIDs(answer, []int{11, 12}, idMap)
	require.Equal(t, "Discussed in [post:911] and [post:912].", rewritten)
	require.Equal(t, []int{911, 912}, mainSources)
}

func TestRemapIDsDropsUnmappedMainSource(t *testing.T) {
	rewritten, mainSources := RemapIDs("see [post:11]", []int{11, 13}, map[int]int{11: 911})
	require.Equal(t, "see [post:911]", rewritten)
	require.Equal(t, []int{911}, mainSources)
}

func TestComputeConfidenceRule(t *testing.T) {
	require.Equal(t, model.ConfidenceLow, computeConfidence(nil, true))
	require.Equal(t, model.ConfidenceMedium, computeConfidence([]int{1}, true))
	require.Equal(t, model.ConfidenceMedium, computeConfidence([]int{1, 2, 3}, false))
	require.Equal(t, model.ConfidenceHigh, computeConfidence([]int{1, 2, 3}, true))
}

func TestBuildContextOrdersByTierThenRecency(t *testing.T) {
	now := time.Now()
	sources := []model.SelectedSource{
		{PostID: 1, Tier: model.TierLinkedContext, Post: model.Post{ID: 1, AuthoredAt: now}},
		{PostID: 2, Tier: model.TierHigh, Post: model.Post{ID: 2, AuthoredAt: now.Add(-time.Hour)}},
		{PostID: 3, Tier: model.TierHigh, Post: model.Post{ID: 3, AuthoredAt: now}},
		{PostID: 4, Tier: model.TierMediumSelected, Post: model.Post{ID: 4, AuthoredAt: now}},
	}
	ordered := buildContext(sources)
	require.Equal(t, []int{3, 2, 4, 1}, []int{ordered[0].PostID, ordered[1].PostID, ordered[2].PostID, ordered[3].PostID})
}

func TestBuildContextCapsAt50(t *testing.T) {
	sources := make([]model.SelectedSource, 60)
	now := time.Now()
	for i := range sources {
		sources[i] = model.SelectedSource{PostID: i, Tier: model.TierLinkedContext, Post: model.Post{ID: i, AuthoredAt: now.Add(time.Duration(-i) * time.Hour)}}
	}
	ordered := buildContext(sources)
	require.Len(t, ordered, 50)
}
